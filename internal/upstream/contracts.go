package upstream

import (
	"context"
	"time"
)

// ConnState is the shared connection-state domain for STT and TTS
// sub-sessions (spec.md §3).
type ConnState string

const (
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateDisconnected ConnState = "disconnected"
	StateReconnecting ConnState = "reconnecting"
	StateError        ConnState = "error"
)

// Message is one turn of conversation history (spec.md §3).
type Message struct {
	Role      string // "system", "user", "assistant"
	Content   string
	Timestamp time.Time
}

// --- STT upstream contract ---------------------------------------------

// TranscriptEvent carries one recognition result from the STT upstream.
type TranscriptEvent struct {
	Text       string
	Confidence float64
	IsFinal    bool
}

// STTEventType tags the kind of event flowing out of a live STTStream.
type STTEventType string

const (
	STTEventTranscript STTEventType = "transcript"
	STTEventMetadata   STTEventType = "metadata" // stream finalized/flushed
	STTEventError      STTEventType = "error"
	STTEventClosed     STTEventType = "closed"
)

// STTEvent is one item from STTStream.Events().
type STTEvent struct {
	Type       STTEventType
	Transcript TranscriptEvent
	Err        error
}

// STTStream is a persistent bidirectional streaming-recognition connection.
// SendAudio and CloseStream never close the underlying transport; only
// Close does. CloseStream sends the upstream's close-the-utterance control
// message but keeps the connection open for the next utterance (spec.md
// §4.4's "finalization handshake").
type STTStream interface {
	SendAudio(ctx context.Context, pcm []byte) error
	CloseStream(ctx context.Context) error
	Events() <-chan STTEvent
	Close() error
}

// STTDialer opens a fresh STTStream against the streaming-capable upstream.
type STTDialer interface {
	Dial(ctx context.Context, lang string) (STTStream, error)
	Name() string
}

// STTBatch is the non-streaming fallback contract used by providers that
// only expose request/response transcription.
type STTBatch interface {
	Transcribe(ctx context.Context, pcm []byte, lang string) (string, error)
	Name() string
}

// --- LLM upstream contract ----------------------------------------------

// LLMRequest bundles the ordered conversation plus sampling parameters
// (spec.md §6).
type LLMRequest struct {
	Messages         []Message
	Model            string
	Temperature      float64
	MaxTokens        int
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
}

// LLMStreamer streams token deltas from the upstream, invoking onToken for
// each content fragment in order. Returns once the stream ends or ctx is
// cancelled.
type LLMStreamer interface {
	Stream(ctx context.Context, req LLMRequest, onToken func(delta string) error) error
	Name() string
}

// LLMBatch is the non-streaming request/response fallback contract.
type LLMBatch interface {
	Complete(ctx context.Context, req LLMRequest) (string, error)
	Name() string
}

// --- TTS upstream contract ------------------------------------------------

// SynthesizeOptions configures one TTS generation cycle (spec.md §6).
type SynthesizeOptions struct {
	Voice      string
	Language   string
	Model      string
	SampleRate int
}

// TTSEventType tags the kind of event flowing out of a live TTSStream.
type TTSEventType string

const (
	TTSEventAudio TTSEventType = "audio"  // new PCM bytes available
	TTSEventClose TTSEventType = "close"  // end of stream for this utterance
	TTSEventError TTSEventType = "error"
)

// TTSEvent is one item from TTSStream.Events().
type TTSEvent struct {
	Type  TTSEventType
	Audio []byte
	Err   error
}

// TTSStream is a persistent bidirectional synthesis connection: one SendText
// call starts a generation cycle; the audio source emits TTSEventAudio
// zero-or-more times followed by exactly one TTSEventClose or TTSEventError.
type TTSStream interface {
	SendText(ctx context.Context, text string, opts SynthesizeOptions) error
	Events() <-chan TTSEvent
	// Abort best-effort cancels the in-flight generation cycle. Whether the
	// upstream stops billing for bytes already in flight is unspecified
	// (spec.md §9 Open Questions).
	Abort() error
	// Ping is a transport-level keep-alive that does not start a synthesis
	// cycle (spec.md §4.7 "Keep-alive").
	Ping(ctx context.Context) error
	Close() error
}

// TTSDialer opens a fresh TTSStream.
type TTSDialer interface {
	Dial(ctx context.Context) (TTSStream, error)
	Name() string
}
