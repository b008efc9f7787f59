package tts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/voxgateway/internal/upstream"
)

func TestLokutorStreamEmitsAudioThenClose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "closing")

		var req map[string]interface{}
		if err := wsjson.Read(r.Context(), conn, &req); err != nil {
			return
		}
		conn.Write(r.Context(), websocket.MessageBinary, []byte{1, 2, 3})
		conn.Write(r.Context(), websocket.MessageBinary, []byte{4, 5, 6})
		conn.Write(r.Context(), websocket.MessageText, []byte("EOS"))
	}))
	defer server.Close()

	dialer := &LokutorDialer{apiKey: "test-key", host: strings.TrimPrefix(server.URL, "http://"), scheme: "ws"}
	stream, err := dialer.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer stream.Close()

	if err := stream.SendText(context.Background(), "hello", upstream.SynthesizeOptions{Voice: "F1"}); err != nil {
		t.Fatalf("SendText: %v", err)
	}

	var audio []byte
	closed := false
	timeout := time.After(2 * time.Second)
	for !closed {
		select {
		case ev := <-stream.Events():
			switch ev.Type {
			case upstream.TTSEventAudio:
				audio = append(audio, ev.Audio...)
			case upstream.TTSEventClose:
				closed = true
			case upstream.TTSEventError:
				t.Fatalf("unexpected error event: %v", ev.Err)
			}
		case <-timeout:
			t.Fatal("timed out waiting for close event")
		}
	}

	if len(audio) != 6 {
		t.Errorf("expected 6 bytes of audio, got %d", len(audio))
	}
	if dialer.Name() != "lokutor" {
		t.Errorf("expected lokutor, got %s", dialer.Name())
	}
}
