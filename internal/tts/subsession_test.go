package tts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lokutor-ai/voxgateway/internal/upstream"
)

type fakeStream struct {
	events chan upstream.TTSEvent
	mu     sync.Mutex
	sent   []string
	aborts int
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan upstream.TTSEvent, 16)}
}

func (f *fakeStream) SendText(ctx context.Context, text string, opts upstream.SynthesizeOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeStream) Events() <-chan upstream.TTSEvent { return f.events }

func (f *fakeStream) Abort() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborts++
	return nil
}

func (f *fakeStream) Ping(ctx context.Context) error { return nil }

func (f *fakeStream) Close() error { return nil }

type fakeDialer struct{ stream *fakeStream }

func (d *fakeDialer) Dial(ctx context.Context) (upstream.TTSStream, error) { return d.stream, nil }
func (d *fakeDialer) Name() string                                        { return "fake" }

// seqDialer returns the streams in streams[] in order across successive
// Dial calls, one per (re)connect, used to test reconnection.
type seqDialer struct {
	mu      sync.Mutex
	streams []*fakeStream
	calls   int
}

func (d *seqDialer) Dial(ctx context.Context) (upstream.TTSStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx := d.calls
	d.calls++
	if idx >= len(d.streams) {
		idx = len(d.streams) - 1
	}
	return d.streams[idx], nil
}
func (d *seqDialer) Name() string { return "seq" }

type fakeSink struct {
	mu        sync.Mutex
	started   []string
	chunks    [][]byte
	completed []float64
	cancelled int
	errs      []error
}

func (s *fakeSink) OnStart(correlationID, utteranceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, utteranceID)
}
func (s *fakeSink) OnChunk(correlationID, utteranceID, chunkEventID string, pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, pcm)
}
func (s *fakeSink) OnComplete(correlationID, utteranceID string, playbackSeconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, playbackSeconds)
}
func (s *fakeSink) OnCancel(correlationID, utteranceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled++
}
func (s *fakeSink) OnError(correlationID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func testConfig() Config {
	return Config{UpstreamSampleRate: 16000, ClientSampleRate: 16000, Voice: "F1"}
}

func TestSynthesizeCompletesAndReturnsToIdle(t *testing.T) {
	stream := newFakeStream()
	sink := &fakeSink{}
	s := New("sess-1", &fakeDialer{stream: stream}, testConfig(), sink, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond) // let Synthesize claim the event stream first
		stream.events <- upstream.TTSEvent{Type: upstream.TTSEventAudio, Audio: make([]byte, 3200)} // 0.1s @16kHz/16-bit
		stream.events <- upstream.TTSEvent{Type: upstream.TTSEventClose}
	}()

	playback, err := s.Synthesize(context.Background(), "evt-1", "hello")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if playback <= 0 {
		t.Errorf("expected positive playback duration, got %v", playback)
	}
	if s.State() != StateIdle {
		t.Errorf("expected state to return to Idle, got %v", s.State())
	}
	if len(sink.completed) != 1 {
		t.Errorf("expected exactly one OnComplete call, got %d", len(sink.completed))
	}
}

func TestSynthesizeEmptyTextShortCircuits(t *testing.T) {
	stream := newFakeStream()
	sink := &fakeSink{}
	s := New("sess-empty", &fakeDialer{stream: stream}, testConfig(), sink, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	playback, err := s.Synthesize(context.Background(), "evt-1", "   ")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if playback != 0 {
		t.Errorf("expected duration 0 for empty text, got %v", playback)
	}
	if s.State() != StateIdle {
		t.Errorf("expected state to remain Idle, got %v", s.State())
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.started) != 0 || len(sink.chunks) != 0 || len(sink.completed) != 0 || sink.cancelled != 0 {
		t.Errorf("expected no audio.output.* sink calls for empty text, got started=%v chunks=%d completed=%v cancelled=%d", sink.started, len(sink.chunks), sink.completed, sink.cancelled)
	}

	stream.mu.Lock()
	defer stream.mu.Unlock()
	if len(stream.sent) != 0 {
		t.Errorf("expected no upstream SendText call for empty text, got %v", stream.sent)
	}
}

func TestSynthesizeRejectsConcurrentCall(t *testing.T) {
	stream := newFakeStream()
	sink := &fakeSink{}
	s := New("sess-2", &fakeDialer{stream: stream}, testConfig(), sink, nil)
	_ = s.Start(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Synthesize(context.Background(), "evt-1", "first")
	}()

	time.Sleep(20 * time.Millisecond) // let the first call take the state out of Idle
	_, err := s.Synthesize(context.Background(), "evt-2", "second")
	if err != upstream.ErrSynthesisBusy {
		t.Errorf("expected ErrSynthesisBusy, got %v", err)
	}

	stream.events <- upstream.TTSEvent{Type: upstream.TTSEventClose}
	<-done
}

func TestCancelAbortsInFlightSynthesis(t *testing.T) {
	stream := newFakeStream()
	sink := &fakeSink{}
	s := New("sess-3", &fakeDialer{stream: stream}, testConfig(), sink, nil)
	_ = s.Start(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Synthesize(context.Background(), "evt-1", "hello")
	}()

	time.Sleep(20 * time.Millisecond)
	s.Cancel()
	<-done

	if sink.cancelled != 1 {
		t.Errorf("expected OnCancel to fire once, got %d", sink.cancelled)
	}
	if stream.aborts != 1 {
		t.Errorf("expected Abort to be called once, got %d", stream.aborts)
	}
}

func TestReconnectsOnUnexpectedCloseAndResumesSynthesize(t *testing.T) {
	stream1 := newFakeStream()
	stream2 := newFakeStream()
	dialer := &seqDialer{streams: []*fakeStream{stream1, stream2}}
	sink := &fakeSink{}
	s := New("sess-4", dialer, testConfig(), sink, nil)
	s.cfg.ReconnectBackoff = time.Millisecond
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	close(stream1.events) // simulate the persistent connection dropping while idle

	deadline := time.Now().Add(2 * time.Second)
	for {
		dialer.mu.Lock()
		calls := dialer.calls
		dialer.mu.Unlock()
		if calls >= 2 && s.ConnState() == upstream.StateConnected {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("reconnect did not complete, state=%v", s.ConnState())
		}
		time.Sleep(time.Millisecond)
	}
	if dialer.calls < 2 {
		t.Fatalf("expected a reconnect dial, got %d calls", dialer.calls)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		stream2.events <- upstream.TTSEvent{Type: upstream.TTSEventClose}
	}()
	if _, err := s.Synthesize(context.Background(), "evt-1", "hello again"); err != nil {
		t.Fatalf("Synthesize after reconnect: %v", err)
	}
	stream2.mu.Lock()
	sent := stream2.sent
	stream2.mu.Unlock()
	if len(sent) != 1 || sent[0] != "hello again" {
		t.Errorf("expected the post-reconnect stream to carry the request, got %v", sent)
	}
}
