// Package tts adapts concrete upstream TTS providers onto the
// internal/upstream.TTSDialer/TTSStream contracts. Lokutor is adapted
// directly from pkg/providers/tts/lokutor.go, generalized from a
// one-shot-per-call connection into a persistent per-utterance stream that
// emits upstream.TTSEvent values (spec.md §4.7).
package tts

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/voxgateway/internal/upstream"
)

// LokutorDialer opens persistent Lokutor synthesis connections.
type LokutorDialer struct {
	apiKey string
	host   string
	scheme string
}

// NewLokutorDialer constructs a dialer for the production Lokutor endpoint.
func NewLokutorDialer(apiKey string) *LokutorDialer {
	return &LokutorDialer{apiKey: apiKey, host: "api.lokutor.com", scheme: "wss"}
}

func (d *LokutorDialer) Name() string { return "lokutor" }

// Dial opens one persistent connection; SendText may be called repeatedly
// across utterances on the same TTSStream (spec.md §4.7 "persistent upstream
// connection").
func (d *LokutorDialer) Dial(ctx context.Context) (upstream.TTSStream, error) {
	u := url.URL{Scheme: d.scheme, Host: d.host, Path: "/ws", RawQuery: "api_key=" + d.apiKey}
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, upstream.Transient(fmt.Errorf("lokutor dial failed: %w", err))
	}
	s := &lokutorStream{conn: conn, events: make(chan upstream.TTSEvent, 32)}
	go s.readLoop()
	return s, nil
}

type lokutorStream struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	events chan upstream.TTSEvent
	closed bool
}

func (s *lokutorStream) SendText(ctx context.Context, text string, opts upstream.SynthesizeOptions) error {
	req := map[string]interface{}{
		"text":    text,
		"voice":   opts.Voice,
		"lang":    opts.Language,
		"speed":   1.05,
		"steps":   5,
		"version": "versa-1.0",
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return upstream.Fatal(fmt.Errorf("lokutor stream already closed"))
	}
	if err := wsjson.Write(ctx, conn, req); err != nil {
		return upstream.Transient(fmt.Errorf("lokutor send failed: %w", err))
	}
	return nil
}

func (s *lokutorStream) readLoop() {
	defer close(s.events)
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}

		messageType, payload, err := conn.Read(context.Background())
		if err != nil {
			s.events <- upstream.TTSEvent{Type: upstream.TTSEventError, Err: upstream.Transient(err)}
			return
		}

		switch messageType {
		case websocket.MessageBinary:
			s.events <- upstream.TTSEvent{Type: upstream.TTSEventAudio, Audio: payload}
		case websocket.MessageText:
			msg := string(payload)
			switch {
			case msg == "EOS":
				s.events <- upstream.TTSEvent{Type: upstream.TTSEventClose}
			case len(msg) >= 4 && msg[:4] == "ERR:":
				s.events <- upstream.TTSEvent{Type: upstream.TTSEventError, Err: upstream.Fatal(fmt.Errorf("lokutor error: %s", msg))}
			}
		}
	}
}

func (s *lokutorStream) Events() <-chan upstream.TTSEvent { return s.events }

// Ping sends a transport-level websocket ping; it never starts a synthesis
// cycle, so it can run on an idle connection without side effects.
func (s *lokutorStream) Ping(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return upstream.Fatal(fmt.Errorf("lokutor stream already closed"))
	}
	if err := conn.Ping(ctx); err != nil {
		return upstream.Transient(fmt.Errorf("lokutor ping failed: %w", err))
	}
	return nil
}

// Abort is a no-op: Lokutor exposes no mid-generation cancel message. The
// caller is responsible for discarding further TTSEventAudio values for the
// aborted utterance. Whether the upstream itself stops billing for bytes
// already in flight is unspecified (spec.md §9 Open Questions).
func (s *lokutorStream) Abort() error {
	return nil
}

func (s *lokutorStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.conn == nil {
		return nil
	}
	s.closed = true
	err := s.conn.Close(websocket.StatusNormalClosure, "")
	s.conn = nil
	return err
}
