// Package stt adapts concrete upstream speech-to-text providers onto the
// internal/upstream.STTDialer/STTStream/STTBatch contracts.
//
// AssemblyAI is adapted from
// saisudhir14-ai-voice-agent/backend/internal/voice/assemblyai/client.go's
// streaming realtime client, generalized from a channel-in/channel-out
// function into the persistent STTStream contract so the engine layer can
// reconnect it independently (spec.md §4.4).
package stt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/lokutor-ai/voxgateway/internal/upstream"
)

const assemblyAIRealtimeURL = "wss://api.assemblyai.com/v2/realtime/ws"

// AssemblyAIDialer opens AssemblyAI realtime streaming connections.
type AssemblyAIDialer struct {
	apiKey     string
	sampleRate int
}

// NewAssemblyAIDialer constructs a streaming dialer. sampleRate must match
// the PCM the engine will send (spec.md §4.4 forwards audio already
// resampled to the upstream's native rate).
func NewAssemblyAIDialer(apiKey string, sampleRate int) *AssemblyAIDialer {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &AssemblyAIDialer{apiKey: apiKey, sampleRate: sampleRate}
}

func (d *AssemblyAIDialer) Name() string { return "assemblyai-stt" }

func (d *AssemblyAIDialer) Dial(ctx context.Context, lang string) (upstream.STTStream, error) {
	if d.apiKey == "" {
		return nil, upstream.Fatal(fmt.Errorf("assemblyai api key not configured"))
	}

	url := fmt.Sprintf("%s?sample_rate=%d", assemblyAIRealtimeURL, d.sampleRate)
	header := map[string][]string{"Authorization": {d.apiKey}}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, upstream.Transient(fmt.Errorf("assemblyai dial failed: %w", err))
	}

	s := &assemblyAIStream{conn: conn, events: make(chan upstream.STTEvent, 32)}
	go s.readLoop()
	return s, nil
}

type assemblyAIStream struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	events chan upstream.STTEvent
	closed bool
}

func (s *assemblyAIStream) SendAudio(ctx context.Context, pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return upstream.Fatal(fmt.Errorf("assemblyai stream already closed"))
	}
	msg := map[string]interface{}{"audio_data": base64.StdEncoding.EncodeToString(pcm)}
	if err := s.conn.WriteJSON(msg); err != nil {
		return upstream.Transient(fmt.Errorf("assemblyai send failed: %w", err))
	}
	return nil
}

// CloseStream sends AssemblyAI's "terminate_session" control message, which
// closes the current utterance but the realtime endpoint closes the whole
// socket in response; the sub-session treats this as the finalization
// metadata event and reconnects for the next utterance (spec.md §4.4).
func (s *assemblyAIStream) CloseStream(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.WriteJSON(map[string]bool{"terminate_session": true})
}

func (s *assemblyAIStream) readLoop() {
	defer close(s.events)
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			s.events <- upstream.STTEvent{Type: upstream.STTEventError, Err: upstream.Transient(err)}
			return
		}

		var resp struct {
			MessageType string  `json:"message_type"`
			Text        string  `json:"text"`
			Confidence  float64 `json:"confidence"`
		}
		if err := json.Unmarshal(message, &resp); err != nil {
			continue
		}

		switch resp.MessageType {
		case "PartialTranscript":
			if resp.Text != "" {
				s.events <- upstream.STTEvent{Type: upstream.STTEventTranscript, Transcript: upstream.TranscriptEvent{Text: resp.Text, Confidence: resp.Confidence, IsFinal: false}}
			}
		case "FinalTranscript":
			if resp.Text != "" {
				s.events <- upstream.STTEvent{Type: upstream.STTEventTranscript, Transcript: upstream.TranscriptEvent{Text: resp.Text, Confidence: resp.Confidence, IsFinal: true}}
			}
		case "SessionTerminated":
			s.events <- upstream.STTEvent{Type: upstream.STTEventMetadata}
			return
		}
	}
}

func (s *assemblyAIStream) Events() <-chan upstream.STTEvent { return s.events }

func (s *assemblyAIStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.conn == nil {
		return nil
	}
	s.closed = true
	err := s.conn.Close()
	s.conn = nil
	return err
}
