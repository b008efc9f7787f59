// Package llmengine implements the per-session LLM sub-session: bounded
// request queuing, a single in-flight completion at a time, streaming token
// hand-off to the semantic chunker, and tiered canned-response fallback on
// consecutive upstream failures (spec.md §4.5).
package llmengine

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/lokutor-ai/voxgateway/internal/logging"
	"github.com/lokutor-ai/voxgateway/internal/semantic"
	"github.com/lokutor-ai/voxgateway/internal/upstream"
)

// Config bundles the tunables spec.md §4.5/§6 call out for the LLM engine.
type Config struct {
	Model               string
	Temperature         float64
	MaxTokens           int
	TopP                float64
	FrequencyPenalty    float64
	PresencePenalty     float64
	QueueBound          int
	Chunking            semantic.Config
}

// FallbackTiers are the canned responses spoken back to the user as
// consecutive upstream failures escalate. Index 0 is used after the first
// failure, the last entry is used for every failure past the end of the
// slice.
var FallbackTiers = []string{
	"Sorry, could you say that again?",
	"I'm having trouble understanding right now, one moment.",
	"I'm unable to respond at the moment. Please try again shortly.",
}

type job struct {
	userText      string
	correlationID string
}

// SubSession is one session's LLM engine instance: conversation history,
// request queue, and the streaming/fallback machinery.
type SubSession struct {
	sessionID    string
	systemPrompt string
	streamer     upstream.LLMStreamer
	batch        upstream.LLMBatch
	cfg          Config
	synth        semantic.Synthesizer
	log          logging.Logger

	mu                 sync.Mutex
	history            []upstream.Message
	queue              chan job
	busy               bool
	consecutiveFailures int
	closed             bool

	workerStarted sync.Once
	wg            sync.WaitGroup
}

// New constructs an LLM sub-session with the system prompt seeded as the
// first history entry (spec.md §3, "conversation history").
func New(sessionID, systemPrompt string, streamer upstream.LLMStreamer, batch upstream.LLMBatch, cfg Config, synth semantic.Synthesizer, log logging.Logger) *SubSession {
	if log == nil {
		log = logging.NoOp{}
	}
	bound := cfg.QueueBound
	if bound <= 0 {
		bound = 3
	}
	s := &SubSession{
		sessionID:    sessionID,
		systemPrompt: systemPrompt,
		streamer:     streamer,
		batch:        batch,
		cfg:          cfg,
		synth:        synth,
		log:          log,
		queue:        make(chan job, bound),
	}
	if systemPrompt != "" {
		s.history = append(s.history, upstream.Message{Role: "system", Content: systemPrompt})
	}
	return s
}

// Enqueue submits a final user transcript for completion. correlationID is
// the event id the resulting response's audio frames will share. Returns
// upstream.ErrQueueOverflow if the bounded queue is already full (spec.md
// §4.5, "a queue depth beyond this bound is a defect, not a feature").
func (s *SubSession) Enqueue(correlationID, userText string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return upstream.ErrShuttingDown
	}
	s.mu.Unlock()

	s.workerStarted.Do(func() {
		s.wg.Add(1)
		go s.worker()
	})

	select {
	case s.queue <- job{userText: userText, correlationID: correlationID}:
		return nil
	default:
		return upstream.ErrQueueOverflow
	}
}

// Busy reports whether a completion is currently in flight (spec.md §4.5,
// "single in-flight request invariant").
func (s *SubSession) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// History returns a copy of the accumulated conversation.
func (s *SubSession) History() []upstream.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]upstream.Message, len(s.history))
	copy(out, s.history)
	return out
}

// Close stops accepting new requests and waits for the worker to drain.
func (s *SubSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *SubSession) worker() {
	defer s.wg.Done()
	for j := range s.queue {
		s.process(j)
	}
}

func (s *SubSession) process(j job) {
	s.mu.Lock()
	s.busy = true
	s.history = append(s.history, upstream.Message{Role: "user", Content: j.userText})
	req := upstream.LLMRequest{
		Messages:         append([]upstream.Message(nil), s.history...),
		Model:            s.cfg.Model,
		Temperature:      s.cfg.Temperature,
		MaxTokens:        s.cfg.MaxTokens,
		TopP:             s.cfg.TopP,
		FrequencyPenalty: s.cfg.FrequencyPenalty,
		PresencePenalty:  s.cfg.PresencePenalty,
	}
	s.mu.Unlock()

	ctx := context.Background()
	streamer := semantic.New(s.cfg.Chunking, s.synth)

	var full strings.Builder
	var ttsErr error
	err := s.streamer.Stream(ctx, req, func(delta string) error {
		full.WriteString(delta)
		if ferr := streamer.Feed(ctx, j.correlationID, delta); ferr != nil {
			var dispatchErr *semantic.TTSDispatchError
			if errors.As(ferr, &dispatchErr) {
				ttsErr = ferr
			}
			return ferr
		}
		return nil
	})

	if err != nil && ttsErr == nil {
		// The token source itself failed (not TTS): best-effort flush
		// whatever text was already buffered so it isn't silently dropped
		// (spec.md §4.6, "a single fallback flush of the remaining buffer").
		if ferr := streamer.FlushRemainder(ctx, j.correlationID); ferr != nil {
			var dispatchErr *semantic.TTSDispatchError
			if errors.As(ferr, &dispatchErr) {
				ttsErr = ferr
			}
		}
	} else if err == nil {
		if ferr := streamer.Finish(ctx, j.correlationID); ferr != nil {
			var dispatchErr *semantic.TTSDispatchError
			if errors.As(ferr, &dispatchErr) {
				ttsErr = ferr
			} else {
				err = ferr
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false

	if ttsErr != nil {
		// TTS dispatch failed, not the LLM: the response itself was
		// generated fine, only delivery was interrupted. No tiered
		// fallback and no failure-counter bump; record what was actually
		// produced so later turns stay coherent (spec.md §4.7, "already
		// sent chunks are not retracted").
		s.log.Warn("tts dispatch failed mid-response", "sessionID", s.sessionID, "error", ttsErr)
		if full.Len() > 0 {
			s.history = append(s.history, upstream.Message{Role: "assistant", Content: full.String()})
		}
		return
	}

	if err != nil {
		s.consecutiveFailures++
		s.log.Warn("llm completion failed", "sessionID", s.sessionID, "error", err, "consecutiveFailures", s.consecutiveFailures)
		fallback := fallbackFor(s.consecutiveFailures)
		fallbackStreamer := semantic.New(s.cfg.Chunking, s.synth)
		if ferr := fallbackStreamer.Feed(ctx, j.correlationID, fallback); ferr == nil {
			_ = fallbackStreamer.Finish(ctx, j.correlationID)
		}
		// A fallback still counts as the assistant's turn so later turns
		// stay coherent (spec.md §4.5 "also appended as assistant").
		s.history = append(s.history, upstream.Message{Role: "assistant", Content: fallback})
		return
	}

	s.consecutiveFailures = 0
	s.history = append(s.history, upstream.Message{Role: "assistant", Content: full.String()})
}

func fallbackFor(consecutiveFailures int) string {
	idx := consecutiveFailures - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(FallbackTiers) {
		idx = len(FallbackTiers) - 1
	}
	return FallbackTiers[idx]
}
