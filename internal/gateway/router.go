package gateway

import (
	"context"

	"github.com/lokutor-ai/voxgateway/internal/session"
	"github.com/lokutor-ai/voxgateway/internal/upstream"
	"github.com/lokutor-ai/voxgateway/internal/wire"
)

// Handler processes one inbound frame against its session. Handlers run
// synchronously and can block on upstream I/O: audio.input.start dials the
// upstream connections, audio.input.chunk writes to the STT upstream, and
// audio.input.stop waits for the finalization handshake before returning.
type Handler func(ctx context.Context, f wire.Frame, sess *session.Session) error

// Router is the gateway's dispatch table, keyed by wire.Frame.EventType.
type Router map[string]Handler

// NewRouter builds the default dispatch table. start is invoked for
// audio.input.start to spin up a session's STT/LLM/TTS sub-sessions once the
// client has declared its sample rate and language (spec.md §3 "Session").
func NewRouter(start SubSessionStarter) Router {
	return Router{
		wire.EventAudioInputStart: func(ctx context.Context, f wire.Frame, sess *session.Session) error {
			var p wire.AudioInputStartPayload
			if err := f.Decode(&p); err != nil {
				return upstream.ErrEmptyFrame
			}
			return start(ctx, sess, p.SampleRate, p.Language)
		},
		wire.EventAudioInputChunk: func(ctx context.Context, f wire.Frame, sess *session.Session) error {
			var p wire.AudioInputChunkPayload
			if err := f.Decode(&p); err != nil {
				return upstream.ErrEmptyFrame
			}
			return sess.HandleClientAudio(ctx, p.Audio)
		},
		wire.EventAudioInputStop: func(ctx context.Context, f wire.Frame, sess *session.Session) error {
			return sess.FinalizeTranscript(ctx)
		},
		wire.EventUserInterrupt: func(ctx context.Context, f wire.Frame, sess *session.Session) error {
			sess.Interrupt()
			return nil
		},
	}
}

// SubSessionStarter attaches and starts a session's STT/LLM/TTS sub-sessions
// given the client-declared sample rate and language. Implemented in
// cmd/gateway, where provider configuration lives.
type SubSessionStarter func(ctx context.Context, sess *session.Session, sampleRate int, lang string) error

// Dispatch looks up and runs the handler for f.EventType, returning
// upstream.ErrUnknownEventType if none is registered.
func (r Router) Dispatch(ctx context.Context, f wire.Frame, sess *session.Session) error {
	h, ok := r[f.EventType]
	if !ok {
		return upstream.ErrUnknownEventType
	}
	return h(ctx, f, sess)
}
