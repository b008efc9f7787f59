// Package stt implements the per-session speech-to-text sub-session: a
// persistent upstream streaming-recognition connection, chunk forwarding
// with reconnection buffering, transcript accumulation, and the
// finalization handshake (spec.md §4.4).
package stt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lokutor-ai/voxgateway/internal/audio"
	"github.com/lokutor-ai/voxgateway/internal/ids"
	"github.com/lokutor-ai/voxgateway/internal/logging"
	"github.com/lokutor-ai/voxgateway/internal/upstream"
)

// Config bundles the tunables the spec calls out for the STT engine.
type Config struct {
	UpstreamSampleRate int // e.g. 16000, native rate the upstream expects
	MaxBufferBytes     int // reconnection-buffer byte budget (~2s of audio)
	KeepAliveInterval  time.Duration
	FinalizeTimeout    time.Duration
	ReconnectBackoff   time.Duration
	MaxReconnectTries  int
}

// Metrics accumulates counters for one sub-session's lifetime.
type Metrics struct {
	mu                  sync.Mutex
	Reconnects          int
	BufferDrops         int
	FinalizationMethod  string // "event" or "timeout", set at each finalize
	FinalizationsTotal  int
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

func (m *Metrics) recordFinalization(method string) {
	m.mu.Lock()
	m.FinalizationMethod = method
	m.FinalizationsTotal++
	m.mu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Metrics{
		Reconnects:         m.Reconnects,
		BufferDrops:        m.BufferDrops,
		FinalizationMethod: m.FinalizationMethod,
		FinalizationsTotal: m.FinalizationsTotal,
	}
}

// TranscriptSink receives interim/final transcript notifications so the
// session layer can forward them to the client as wire frames.
type TranscriptSink interface {
	OnInterim(text string)
	OnFinal(text string)
	OnError(err error)
}

// SubSession is one session's STT engine instance.
type SubSession struct {
	sessionID    string
	clientRate   int
	lang         string
	dialer       upstream.STTDialer
	cfg          Config
	sink         TranscriptSink
	log          logging.Logger

	mu              sync.Mutex
	state           upstream.ConnState
	stream          upstream.STTStream
	segments        []string
	interim         string
	isFinalizing    bool
	isReconnecting  bool
	reconnectBuf    *dropOldestBuffer
	keepAliveStop   chan struct{}
	pendingMetadata chan struct{}
	closed          bool
	generation      int // bumped on every (re)connect to stop stale readLoops

	metrics Metrics
}

// New constructs a stopped STT sub-session; call Start to dial upstream.
func New(sessionID string, clientRate int, lang string, dialer upstream.STTDialer, cfg Config, sink TranscriptSink, log logging.Logger) *SubSession {
	if log == nil {
		log = logging.NoOp{}
	}
	return &SubSession{
		sessionID:    sessionID,
		clientRate:   clientRate,
		lang:         lang,
		dialer:       dialer,
		cfg:          cfg,
		sink:         sink,
		log:          log,
		state:        upstream.StateConnecting,
		reconnectBuf: newDropOldestBuffer(cfg.MaxBufferBytes),
	}
}

// Start dials the upstream connection and begins the event loop.
func (s *SubSession) Start(ctx context.Context) error {
	stream, err := s.dialWithState(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.stream = stream
	s.state = upstream.StateConnected
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	go s.readLoop(stream, gen)
	s.startKeepAlive()
	s.flushReconnectBuffer(ctx)
	return nil
}

// flushReconnectBuffer replays buffered audio accumulated while disconnected,
// in original order, oldest-first (spec.md §4.4).
func (s *SubSession) flushReconnectBuffer(ctx context.Context) {
	s.mu.Lock()
	stream := s.stream
	chunks := s.reconnectBuf.drain()
	s.mu.Unlock()

	if stream == nil {
		return
	}
	for _, c := range chunks {
		if err := stream.SendAudio(ctx, c); err != nil {
			s.log.Warn("stt buffer replay failed", "sessionID", s.sessionID, "error", err)
			return
		}
	}
}

func (s *SubSession) dialWithState(ctx context.Context) (upstream.STTStream, error) {
	s.mu.Lock()
	s.state = upstream.StateConnecting
	s.mu.Unlock()

	stream, err := s.dialer.Dial(ctx, s.lang)
	if err != nil {
		s.mu.Lock()
		s.state = upstream.StateError
		s.mu.Unlock()
		return nil, fmt.Errorf("stt dial failed: %w", err)
	}
	return stream, nil
}

// WriteAudio resamples one client-rate PCM chunk to the upstream's native
// rate and forwards it if connected, else buffers it (drop-oldest on
// overflow) for replay after reconnect (spec.md §4.4 "Chunk forwarding").
func (s *SubSession) WriteAudio(ctx context.Context, pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	resampled := audio.Resample(pcm, s.clientRate, s.cfg.UpstreamSampleRate)

	s.mu.Lock()
	ready := s.state == upstream.StateConnected && !s.isReconnecting
	stream := s.stream
	s.mu.Unlock()

	if !ready || stream == nil {
		s.bufferChunk(resampled)
		return nil
	}

	if err := stream.SendAudio(ctx, resampled); err != nil {
		s.bufferChunk(resampled)
		return nil
	}
	return nil
}

func (s *SubSession) bufferChunk(chunk []byte) {
	dropped := s.reconnectBuf.push(chunk)
	if dropped {
		s.metrics.recordDrop()
	}
}

// Finalize runs the finalization handshake of spec.md §4.4: it closes the
// upstream utterance stream (without tearing down the connection), races
// the metadata event against a timeout, computes the final transcript, and
// resets per-utterance state.
func (s *SubSession) Finalize(ctx context.Context) (string, error) {
	metadataCh := make(chan struct{}, 1)
	s.mu.Lock()
	s.isFinalizing = true
	s.stopKeepAliveLocked()
	s.pendingMetadata = metadataCh
	stream := s.stream
	state := s.state
	s.mu.Unlock()

	if state == upstream.StateConnected && stream != nil {
		if err := stream.CloseStream(ctx); err != nil {
			s.log.Warn("stt close-stream failed", "sessionID", s.sessionID, "error", err)
		}
	}

	method := "timeout"
	timeout := s.cfg.FinalizeTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	select {
	case <-metadataCh:
		method = "event"
	case <-time.After(timeout):
		method = "timeout"
	case <-ctx.Done():
		method = "timeout"
	}
	s.metrics.recordFinalization(method)

	s.mu.Lock()
	s.pendingMetadata = nil
	transcript := s.computeFinalTranscriptLocked()
	s.interim = ""
	s.segments = nil
	s.mu.Unlock()

	// Let any in-flight close event fire without triggering reconnection.
	time.AfterFunc(250*time.Millisecond, func() {
		s.mu.Lock()
		s.isFinalizing = false
		s.mu.Unlock()
	})

	return transcript, nil
}

func (s *SubSession) computeFinalTranscriptLocked() string {
	final := strings.Join(s.segments, " ")
	trailing := strings.TrimSpace(s.interim)
	if trailing == "" {
		return final
	}
	// Append a trailing interim that never finalized before stop, whether or
	// not earlier segments already finalized (spec.md §4.4 step 4).
	if final == "" {
		return trailing
	}
	return final + " " + trailing
}

func (s *SubSession) startKeepAlive() {
	interval := s.cfg.KeepAliveInterval
	if interval <= 0 {
		interval = 8 * time.Second
	}
	stop := make(chan struct{})
	s.mu.Lock()
	s.keepAliveStop = stop
	s.mu.Unlock()

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				s.mu.Lock()
				finalizing := s.isFinalizing
				state := s.state
				stream := s.stream
				s.mu.Unlock()
				if finalizing || state != upstream.StateConnected || stream == nil {
					continue
				}
				// Heartbeats piggyback on an empty audio send; providers
				// that need an explicit ping message implement it inside
				// their SendAudio/Dial adapter.
				_ = stream.SendAudio(context.Background(), nil)
			}
		}
	}()
}

func (s *SubSession) stopKeepAliveLocked() {
	if s.keepAliveStop != nil {
		close(s.keepAliveStop)
		s.keepAliveStop = nil
	}
}

// Close tears down the upstream connection permanently.
func (s *SubSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopKeepAliveLocked()
	stream := s.stream
	s.stream = nil
	s.state = upstream.StateDisconnected
	s.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
}

// State returns the current connection state.
func (s *SubSession) State() upstream.ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Metrics returns a snapshot of this sub-session's counters.
func (s *SubSession) Metrics() Metrics {
	return s.metrics.Snapshot()
}

// The blank reference keeps the ids import in use; nothing in this package
// calls ids.New.
var _ = ids.New
