// Package session implements the root per-connection aggregate (spec.md
// §3): one Session owns exactly one STT, one LLM, and one TTS sub-session,
// and bridges their domain events onto the wire.Frame protocol.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/lokutor-ai/voxgateway/internal/ids"
	"github.com/lokutor-ai/voxgateway/internal/llmengine"
	"github.com/lokutor-ai/voxgateway/internal/logging"
	"github.com/lokutor-ai/voxgateway/internal/stt"
	"github.com/lokutor-ai/voxgateway/internal/tts"
	"github.com/lokutor-ai/voxgateway/internal/upstream"
	"github.com/lokutor-ai/voxgateway/internal/wire"
)

// Emitter delivers a frame to the client connection owning this session.
type Emitter func(wire.Frame)

// Metrics is the minimal recording surface a session needs from the process-
// wide metrics aggregator; resource.Metrics implements it. Left nil, no
// metrics are recorded.
type Metrics interface {
	RecordQueueOverflow(ctx context.Context, stage string)
	RecordSynthesisError(ctx context.Context, provider string)
}

// Session is the root aggregate: one websocket connection's full voice
// pipeline state.
type Session struct {
	ID               string
	ConnectionID     string
	CreatedAt        time.Time
	ClientSampleRate int
	Metadata         map[string]string

	STT *stt.SubSession
	LLM *llmengine.SubSession
	TTS *tts.SubSession

	emit Emitter
	log  logging.Logger

	mu             sync.Mutex
	lastActivityAt time.Time
	generation     int
	metrics        Metrics
}

// SetMetrics wires a process-wide metrics aggregator into the session. Call
// it once after New, before the session starts handling traffic.
func (s *Session) SetMetrics(m Metrics) { s.metrics = m }

// New constructs a Session. The caller attaches STT/LLM/TTS sub-sessions by
// setting the STT, LLM and TTS fields.
func New(id, connectionID string, clientSampleRate int, emit Emitter, log logging.Logger) *Session {
	if log == nil {
		log = logging.NoOp{}
	}
	now := time.Now()
	return &Session{
		ID:               id,
		ConnectionID:     connectionID,
		CreatedAt:        now,
		ClientSampleRate: clientSampleRate,
		Metadata:         make(map[string]string),
		emit:             emit,
		log:              log,
		lastActivityAt:   now,
	}
}

// TranscriptSink exposes this session as an stt.TranscriptSink for wiring
// its STT sub-session at construction time.
func (s *Session) TranscriptSink() stt.TranscriptSink { return transcriptSink{s} }

// AudioSink exposes this session as a tts.AudioSink for wiring its TTS
// sub-session at construction time.
func (s *Session) AudioSink() tts.AudioSink { return audioSink{s} }

// Touch records client activity for the idle sweep.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivityAt = time.Now()
	s.mu.Unlock()
}

// IdleSince reports how long it has been since the last recorded activity.
func (s *Session) IdleSince() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivityAt)
}

// Disconnected reports whether either upstream sub-session has landed in
// upstream.StateDisconnected with no reconnect in flight — the resource
// sweeper's third eviction criterion (spec.md §4.8 "(c) connection is
// Disconnected and not Reconnecting").
func (s *Session) Disconnected() bool {
	if s.STT != nil && s.STT.State() == upstream.StateDisconnected {
		return true
	}
	if s.TTS != nil && s.TTS.ConnState() == upstream.StateDisconnected {
		return true
	}
	return false
}

// HandleClientAudio forwards one client PCM chunk to the STT sub-session.
// Barge-in is driven solely by the explicit user.action.interrupt event
// (spec.md §4.1/§5); there is no server-side echo suppression gating this
// path (spec.md §1 non-goals).
func (s *Session) HandleClientAudio(ctx context.Context, pcm []byte) error {
	s.Touch()

	if s.STT == nil {
		return upstream.ErrUnknownSession
	}
	return s.STT.WriteAudio(ctx, pcm)
}

// FinalizeTranscript runs the STT finalization handshake (spec.md §4.4) and
// forwards whatever transcript it produces to the client/LLM exactly as a
// normal final transcript would be, covering the case where the upstream
// never emitted its own final event before audio.input.stop arrived.
func (s *Session) FinalizeTranscript(ctx context.Context) error {
	if s.STT == nil {
		return upstream.ErrUnknownSession
	}
	text, err := s.STT.Finalize(ctx)
	if err != nil {
		return err
	}
	if text != "" {
		s.OnFinal(text)
	}
	return nil
}

// Interrupt cancels any in-flight TTS playback and bumps the generation
// counter (adapted from the teacher's internalInterrupt/sttGeneration idiom).
// No callback reads the counter, so callbacks from the interrupted turn are
// not filtered by it.
func (s *Session) Interrupt() {
	s.mu.Lock()
	s.generation++
	s.mu.Unlock()

	if s.TTS != nil {
		s.TTS.Cancel()
	}
	s.emitFrame(wire.EventAudioOutputCancel, ids.New(), wire.AudioOutputStartPayload{})
}

func (s *Session) emitFrame(eventType, eventID string, payload interface{}) {
	if s.emit == nil {
		return
	}
	f, err := wire.NewFrame(eventType, eventID, s.ID, payload)
	if err != nil {
		s.log.Error("failed to build frame", "sessionID", s.ID, "eventType", eventType, "error", err)
		return
	}
	s.emit(f)
}

// EmitError sends a domain-tagged error frame to the client, echoing the
// original event so it can correlate the failure (spec.md §4.1 error variant).
func (s *Session) EmitError(domain, originalEventType, eventID, message string) {
	s.emitError(domain, originalEventType, eventID, message)
}

func (s *Session) emitError(domain, originalEventType, eventID, message string) {
	if s.emit == nil {
		return
	}
	s.emit(wire.NewErrorFrame(domain, originalEventType, eventID, s.ID, message))
}

// --- stt.TranscriptSink -----------------------------------------------

func (s *Session) OnInterim(text string) {
	s.emitFrame(wire.EventTranscriptInterim, ids.New(), wire.TranscriptPayload{Text: text})
}

func (s *Session) OnFinal(text string) {
	s.Touch()
	eventID := ids.New()
	s.emitFrame(wire.EventTranscriptFinal, eventID, wire.TranscriptPayload{Text: text})
	if s.LLM == nil || text == "" {
		return
	}
	if err := s.LLM.Enqueue(eventID, text); err != nil {
		if s.metrics != nil && err == upstream.ErrQueueOverflow {
			s.metrics.RecordQueueOverflow(context.Background(), "llm")
		}
		s.emitError("llm", wire.EventTranscriptFinal, eventID, "could not queue your request")
	}
}

func (s *Session) OnError(err error) {
	s.emitError("stt", wire.EventAudioInputChunk, ids.New(), "speech recognition is temporarily unavailable")
}

// --- tts.AudioSink ------------------------------------------------------

func (s *Session) OnStart(correlationID, utteranceID string) {
	s.emitFrame(wire.EventAudioOutputStart, correlationID, wire.AudioOutputStartPayload{UtteranceID: utteranceID})
}

func (s *Session) OnChunk(correlationID, utteranceID, chunkEventID string, pcm []byte) {
	s.emitFrame(wire.EventAudioOutputChunk, chunkEventID, wire.AudioOutputChunkPayload{UtteranceID: utteranceID, Audio: pcm})
}

func (s *Session) OnComplete(correlationID, utteranceID string, playbackSeconds float64) {
	s.emitFrame(wire.EventAudioOutputComplete, correlationID, wire.AudioOutputCompletePayload{UtteranceID: utteranceID, PlaybackSeconds: playbackSeconds})
}

func (s *Session) OnCancel(correlationID, utteranceID string) {
	s.emitFrame(wire.EventAudioOutputCancel, correlationID, wire.AudioOutputStartPayload{UtteranceID: utteranceID})
}

func (s *Session) TTSError(correlationID string, err error) {
	if s.metrics != nil {
		s.metrics.RecordSynthesisError(context.Background(), "tts")
	}
	s.emitError("tts", wire.EventAudioOutputStart, correlationID, "speech synthesis is temporarily unavailable")
}

// transcriptSink adapts Session onto stt.TranscriptSink: a thin wrapper is
// needed because tts.AudioSink's OnError has a different signature and Go
// does not allow overloading a method name on one receiver type.
type transcriptSink struct{ s *Session }

func (t transcriptSink) OnInterim(text string) { t.s.OnInterim(text) }
func (t transcriptSink) OnFinal(text string)    { t.s.OnFinal(text) }
func (t transcriptSink) OnError(err error)      { t.s.OnError(err) }

// audioSink adapts Session onto tts.AudioSink.
type audioSink struct{ s *Session }

func (a audioSink) OnStart(correlationID, utteranceID string) { a.s.OnStart(correlationID, utteranceID) }
func (a audioSink) OnChunk(correlationID, utteranceID, chunkEventID string, pcm []byte) {
	a.s.OnChunk(correlationID, utteranceID, chunkEventID, pcm)
}
func (a audioSink) OnComplete(correlationID, utteranceID string, playbackSeconds float64) {
	a.s.OnComplete(correlationID, utteranceID, playbackSeconds)
}
func (a audioSink) OnCancel(correlationID, utteranceID string) { a.s.OnCancel(correlationID, utteranceID) }
func (a audioSink) OnError(correlationID string, err error)    { a.s.TTSError(correlationID, err) }

// Close tears down every sub-session.
func (s *Session) Close() {
	if s.STT != nil {
		s.STT.Close()
	}
	if s.LLM != nil {
		s.LLM.Close()
	}
	if s.TTS != nil {
		s.TTS.Close()
	}
}
