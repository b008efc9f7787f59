package stt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lokutor-ai/voxgateway/internal/upstream"
)

func TestDeepgramBatchTranscribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		resp := map[string]interface{}{
			"results": map[string]interface{}{
				"channels": []map[string]interface{}{
					{"alternatives": []map[string]interface{}{{"transcript": "hello world"}}},
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	s := &DeepgramBatch{apiKey: "test-key", url: server.URL}
	text, err := s.Transcribe(context.Background(), []byte{1, 2, 3}, "en-US")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello world" {
		t.Errorf("unexpected transcript %q", text)
	}
}

func TestDeepgramBatchEmptyResultIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"results": map[string]interface{}{"channels": []interface{}{}}})
	}))
	defer server.Close()

	s := &DeepgramBatch{apiKey: "k", url: server.URL}
	_, err := s.Transcribe(context.Background(), []byte{1}, "")
	if err != upstream.ErrEmptyTranscription {
		t.Errorf("expected ErrEmptyTranscription, got %v", err)
	}
}

func TestWhisperCompatibleBatchTranscribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm: %v", err)
		}
		if r.FormValue("model") != "whisper-large-v3-turbo" {
			t.Errorf("unexpected model %q", r.FormValue("model"))
		}
		json.NewEncoder(w).Encode(map[string]string{"text": "transcribed text"})
	}))
	defer server.Close()

	batch := NewGroqBatch("test-key", "")
	groqBatch := batch.(*whisperCompatibleBatch)
	groqBatch.url = server.URL

	text, err := batch.Transcribe(context.Background(), make([]byte, 3200), "en-US")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "transcribed text" {
		t.Errorf("unexpected transcript %q", text)
	}
	if batch.Name() != "groq-stt" {
		t.Errorf("unexpected name %q", batch.Name())
	}
}

func TestClassifyHTTPStatus(t *testing.T) {
	if !upstream.IsFatal(classifyHTTPStatus(http.StatusUnauthorized, nil)) {
		t.Errorf("expected 401 to classify as fatal")
	}
	if upstream.IsFatal(classifyHTTPStatus(http.StatusServiceUnavailable, nil)) {
		t.Errorf("expected 503 to classify as transient")
	}
}

func TestAssemblyAIDialerName(t *testing.T) {
	d := NewAssemblyAIDialer("key", 16000)
	if !strings.Contains(d.Name(), "assemblyai") {
		t.Errorf("unexpected name %q", d.Name())
	}
}
