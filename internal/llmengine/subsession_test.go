package llmengine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lokutor-ai/voxgateway/internal/semantic"
	"github.com/lokutor-ai/voxgateway/internal/upstream"
)

type fakeStreamer struct {
	mu      sync.Mutex
	calls   int
	tokens  []string
	failAll bool
	block   chan struct{} // when non-nil, Stream waits for a send before returning
}

func (f *fakeStreamer) Stream(ctx context.Context, req upstream.LLMRequest, onToken func(string) error) error {
	f.mu.Lock()
	f.calls++
	fail := f.failAll
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if fail {
		return errors.New("upstream unavailable")
	}
	for _, tok := range f.tokens {
		if err := onToken(tok); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeStreamer) Name() string { return "fake" }

type fakeSynth struct {
	mu     sync.Mutex
	chunks []string
}

func (f *fakeSynth) Synthesize(ctx context.Context, correlationID, text string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, text)
	return 0, nil
}

type failingSynth struct {
	mu       sync.Mutex
	chunks   []string
	failFrom int // Synthesize fails starting at this call index (0-based)
}

func (f *failingSynth) Synthesize(ctx context.Context, correlationID, text string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := len(f.chunks)
	f.chunks = append(f.chunks, text)
	if idx >= f.failFrom {
		return 0, errors.New("tts upstream unavailable")
	}
	return 0, nil
}

func testChunking() semantic.Config {
	return semantic.Config{
		BreakMarker:      "||BREAK||",
		MinWordsPerChunk: 2,
		MaxWordsPerChunk: 20,
		MaxCharsPerChunk: 200,
		SafetyByteBound:  400,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

func TestEnqueueAppendsHistoryOnSuccess(t *testing.T) {
	streamer := &fakeStreamer{tokens: []string{"Hi there.||BREAK||"}}
	synth := &fakeSynth{}
	s := New("sess-1", "be helpful", streamer, nil, Config{QueueBound: 3, Chunking: testChunking()}, synth, nil)

	if err := s.Enqueue("evt-1", "hello"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, func() bool { return len(s.History()) == 3 })

	hist := s.History()
	if hist[0].Role != "system" || hist[1].Role != "user" || hist[2].Role != "assistant" {
		t.Errorf("unexpected history roles: %+v", hist)
	}
}

func TestEnqueueRejectsWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	streamer := &fakeStreamer{tokens: []string{"ok"}, block: block}
	synth := &fakeSynth{}
	s := New("sess-2", "", streamer, nil, Config{QueueBound: 1, Chunking: testChunking()}, synth, nil)

	// First Enqueue starts the worker, which immediately blocks inside Stream.
	if err := s.Enqueue("evt-a", "first"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, func() bool {
		streamer.mu.Lock()
		defer streamer.mu.Unlock()
		return streamer.calls == 1
	})

	// Second Enqueue fills the bound-1 queue.
	if err := s.Enqueue("evt-b", "second"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	// Third Enqueue must be rejected: worker busy, queue full.
	if err := s.Enqueue("evt-c", "third"); err != upstream.ErrQueueOverflow {
		t.Errorf("expected ErrQueueOverflow, got %v", err)
	}

	close(block)
}

func TestProcessFallsBackOnFailure(t *testing.T) {
	streamer := &fakeStreamer{failAll: true}
	synth := &fakeSynth{}
	s := New("sess-3", "", streamer, nil, Config{QueueBound: 3, Chunking: testChunking()}, synth, nil)

	if err := s.Enqueue("evt-1", "hello"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, func() bool {
		synth.mu.Lock()
		defer synth.mu.Unlock()
		return len(synth.chunks) > 0
	})

	synth.mu.Lock()
	chunk0 := synth.chunks[0]
	synth.mu.Unlock()
	if chunk0 != FallbackTiers[0] {
		t.Errorf("expected first fallback tier, got %q", chunk0)
	}

	waitFor(t, func() bool { return len(s.History()) == 2 })
	hist := s.History()
	if hist[len(hist)-1].Role != "assistant" || hist[len(hist)-1].Content != FallbackTiers[0] {
		t.Errorf("expected fallback appended to history as assistant, got %+v", hist[len(hist)-1])
	}
}

func TestProcessDoesNotFallBackOnTTSFailure(t *testing.T) {
	streamer := &fakeStreamer{tokens: []string{"Hi there.||BREAK||"}}
	synth := &failingSynth{failFrom: 0}
	s := New("sess-4", "", streamer, nil, Config{QueueBound: 3, Chunking: testChunking()}, synth, nil)

	if err := s.Enqueue("evt-1", "hello"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, func() bool { return len(s.History()) == 2 })

	hist := s.History()
	last := hist[len(hist)-1]
	if last.Role != "assistant" || last.Content != "Hi there.||BREAK||" {
		t.Errorf("expected partial response appended as assistant, got %+v", last)
	}
	for _, fb := range FallbackTiers {
		if last.Content == fb {
			t.Errorf("TTS failure must not trigger a canned fallback tier, got %q", last.Content)
		}
	}

	s.mu.Lock()
	failures := s.consecutiveFailures
	s.mu.Unlock()
	if failures != 0 {
		t.Errorf("TTS failure must not bump the LLM consecutive-failure counter, got %d", failures)
	}
}

func TestFallbackForClampsToLastTier(t *testing.T) {
	if got := fallbackFor(100); got != FallbackTiers[len(FallbackTiers)-1] {
		t.Errorf("expected clamped fallback, got %q", got)
	}
	if got := fallbackFor(1); got != FallbackTiers[0] {
		t.Errorf("expected first tier, got %q", got)
	}
}
