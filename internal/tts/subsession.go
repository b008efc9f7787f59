// Package tts implements the per-session text-to-speech sub-session: a
// persistent upstream synthesis connection driven through an explicit
// Idle -> Generating -> Streaming -> Completed/Cancelled/Error -> Idle state
// machine, one utterance at a time (spec.md §4.7).
package tts

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/lokutor-ai/voxgateway/internal/audio"
	"github.com/lokutor-ai/voxgateway/internal/ids"
	"github.com/lokutor-ai/voxgateway/internal/logging"
	"github.com/lokutor-ai/voxgateway/internal/upstream"
)

// State is the TTS synthesis state machine (spec.md §3/§4.7).
type State string

const (
	StateIdle       State = "idle"
	StateGenerating State = "generating"
	StateStreaming  State = "streaming"
	StateCompleted  State = "completed"
	StateCancelled  State = "cancelled"
	StateError      State = "error"
)

// Config bundles the tunables spec.md §4.7/§6 call out for the TTS engine.
type Config struct {
	UpstreamSampleRate int
	ClientSampleRate   int
	Voice              string
	Language           string
	Model              string
	ConnectTimeout     time.Duration
	KeepAliveInterval  time.Duration
	ReconnectBackoff   time.Duration
	MaxReconnectTries  int
	MaxPendingRequests int // bound on Synthesize calls parked during reconnect
}

// Metrics accumulates counters for one sub-session's lifetime, mirroring
// internal/stt's Metrics shape for the same concerns (spec.md §4.7
// "Reconnection and buffering").
type Metrics struct {
	mu          sync.Mutex
	Reconnects  int
	BufferDrops int
}

func (m *Metrics) recordReconnect() {
	m.mu.Lock()
	m.Reconnects++
	m.mu.Unlock()
}

func (m *Metrics) recordDrop() {
	m.mu.Lock()
	m.BufferDrops++
	m.mu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Metrics{Reconnects: m.Reconnects, BufferDrops: m.BufferDrops}
}

// AudioSink receives the audio lifecycle events one utterance produces, to
// be forwarded to the client as wire frames. correlationID is the outer
// LLM-response event id that start/complete share; chunkEventID is a fresh
// id generated per audio.output.chunk message (spec.md §4.1).
type AudioSink interface {
	OnStart(correlationID, utteranceID string)
	OnChunk(correlationID, utteranceID, chunkEventID string, pcm []byte)
	OnComplete(correlationID, utteranceID string, playbackSeconds float64)
	OnCancel(correlationID, utteranceID string)
	OnError(correlationID string, err error)
}

// SubSession is one session's TTS engine instance.
type SubSession struct {
	sessionID string
	dialer    upstream.TTSDialer
	cfg       Config
	sink      AudioSink
	log       logging.Logger

	connMu         sync.Mutex
	stream         upstream.TTSStream
	state          State
	connState      upstream.ConnState
	isReconnecting bool
	generation     int
	closed         bool
	waiters        []chan bool
	keepAliveStop  chan struct{}

	synthMu       sync.Mutex // serializes Synthesize calls (single in-flight invariant)
	mu            sync.Mutex // guards cancel/utteranceID/activeEvents below
	cancelCurrent context.CancelFunc
	utteranceID   string
	activeEvents  chan upstream.TTSEvent // set while a Synthesize call owns the event stream

	metrics Metrics
}

// New constructs a stopped TTS sub-session; call Start to dial upstream.
func New(sessionID string, dialer upstream.TTSDialer, cfg Config, sink AudioSink, log logging.Logger) *SubSession {
	if log == nil {
		log = logging.NoOp{}
	}
	return &SubSession{sessionID: sessionID, dialer: dialer, cfg: cfg, sink: sink, log: log, state: StateIdle, connState: upstream.StateConnecting}
}

// Start dials the persistent upstream synthesis connection and begins the
// connection-level event loop and keep-alive ping (spec.md §4.7).
func (s *SubSession) Start(ctx context.Context) error {
	stream, err := s.dialer.Dial(ctx)
	if err != nil {
		s.connMu.Lock()
		s.connState = upstream.StateError
		s.connMu.Unlock()
		return err
	}
	s.connMu.Lock()
	s.stream = stream
	s.connState = upstream.StateConnected
	s.generation++
	gen := s.generation
	s.connMu.Unlock()

	go s.connLoop(stream, gen)
	s.startKeepAlive()
	return nil
}

// Metrics returns a snapshot of this sub-session's reconnect/drop counters.
func (s *SubSession) Metrics() Metrics { return s.metrics.Snapshot() }

// State returns the current synthesis state.
func (s *SubSession) State() State {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.state
}

func (s *SubSession) setState(st State) {
	s.connMu.Lock()
	s.state = st
	s.connMu.Unlock()
}

// Synthesize implements semantic.Synthesizer: it drives one utterance
// through the upstream TTSStream and blocks until the stream reports
// completion, cancellation, or error, returning the measured client-rate
// playback duration in seconds.
func (s *SubSession) Synthesize(ctx context.Context, correlationID, text string) (float64, error) {
	if !s.synthMu.TryLock() {
		return 0, upstream.ErrSynthesisBusy
	}
	defer s.synthMu.Unlock() // guaranteed release regardless of exit path

	if strings.TrimSpace(text) == "" {
		// spec.md §8 "Empty text synthesize": resolves with duration 0, no
		// audio.output.* frames, before touching the upstream connection.
		return 0, nil
	}

	if s.State() != StateIdle {
		return 0, upstream.ErrSynthesisBusy
	}

	stream, err := s.waitForConnection(ctx)
	if err != nil {
		return 0, err
	}

	utteranceID := ids.New()
	synthCtx, cancel := context.WithCancel(ctx)
	events := make(chan upstream.TTSEvent, 8)
	s.mu.Lock()
	s.cancelCurrent = cancel
	s.utteranceID = utteranceID
	s.activeEvents = events
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cancelCurrent = nil
		s.utteranceID = ""
		s.activeEvents = nil
		s.mu.Unlock()
		cancel()
	}()

	s.setState(StateGenerating)
	s.sink.OnStart(correlationID, utteranceID)

	opts := upstream.SynthesizeOptions{
		Voice:      s.cfg.Voice,
		Language:   s.cfg.Language,
		Model:      s.cfg.Model,
		SampleRate: s.cfg.UpstreamSampleRate,
	}
	if err := stream.SendText(synthCtx, text, opts); err != nil {
		s.setState(StateError)
		s.sink.OnError(correlationID, err)
		s.setState(StateIdle)
		return 0, err
	}

	var totalBytes int
	firstChunk := true
	for {
		select {
		case <-synthCtx.Done():
			_ = stream.Abort()
			s.setState(StateCancelled)
			s.sink.OnCancel(correlationID, utteranceID)
			s.setState(StateIdle)
			return 0, synthCtx.Err()

		case ev, ok := <-events:
			if !ok {
				s.setState(StateError)
				s.sink.OnError(correlationID, upstream.Transient(errStreamClosed))
				s.setState(StateIdle)
				return 0, upstream.Transient(errStreamClosed)
			}
			switch ev.Type {
			case upstream.TTSEventAudio:
				if firstChunk {
					s.setState(StateStreaming)
					firstChunk = false
				}
				resampled := audio.Resample(ev.Audio, s.cfg.UpstreamSampleRate, s.cfg.ClientSampleRate)
				totalBytes += len(resampled)
				s.sink.OnChunk(correlationID, utteranceID, ids.New(), resampled)

			case upstream.TTSEventClose:
				playback := bytesToSeconds(totalBytes, s.cfg.ClientSampleRate)
				s.setState(StateCompleted)
				s.sink.OnComplete(correlationID, utteranceID, playback)
				s.setState(StateIdle)
				return playback, nil

			case upstream.TTSEventError:
				s.setState(StateError)
				s.sink.OnError(correlationID, ev.Err)
				s.setState(StateIdle)
				return 0, ev.Err
			}
		}
	}
}

// Cancel aborts the in-flight synthesis, if any (spec.md §4.7 "barge-in").
// Whether the upstream stops billing for audio already generated is
// unspecified (spec.md §9 Open Questions).
func (s *SubSession) Cancel() {
	s.mu.Lock()
	cancel := s.cancelCurrent
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close tears down the upstream connection permanently.
func (s *SubSession) Close() {
	s.connMu.Lock()
	if s.closed {
		s.connMu.Unlock()
		return
	}
	s.closed = true
	s.stopKeepAliveLocked()
	stream := s.stream
	s.stream = nil
	s.connState = upstream.StateDisconnected
	waiters := s.waiters
	s.waiters = nil
	s.connMu.Unlock()

	for _, w := range waiters {
		w <- false
	}
	if stream != nil {
		_ = stream.Close()
	}
}

// ConnState returns the current upstream connection state (spec.md §3).
func (s *SubSession) ConnState() upstream.ConnState {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.connState
}

func bytesToSeconds(n, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	const bytesPerSample = 2 // 16-bit mono PCM
	return float64(n) / float64(sampleRate*bytesPerSample)
}
