package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lokutor-ai/voxgateway/internal/upstream"
)

func TestOpenAIBatchComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "hello from openai"}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	l := &OpenAIBatch{apiKey: "test-key", url: server.URL, model: "gpt-4o"}
	text, err := l.Complete(context.Background(), upstream.LLMRequest{Messages: []upstream.Message{{Role: "user", Content: "hi"}}})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != "hello from openai" {
		t.Errorf("unexpected text %q", text)
	}
}

func TestOpenAIBatchClassifiesFatalOnUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	l := &OpenAIBatch{apiKey: "bad-key", url: server.URL, model: "gpt-4o"}
	_, err := l.Complete(context.Background(), upstream.LLMRequest{})
	if !upstream.IsFatal(err) {
		t.Errorf("expected fatal classification on 401, got %v", err)
	}
}

func TestAnthropicBatchSeparatesSystemPrompt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			System string `json:"system"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.System != "be nice" {
			t.Errorf("expected system prompt to be lifted out of messages, got %q", req.System)
		}
		resp := map[string]interface{}{"content": []map[string]string{{"text": "ok"}}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	l := &AnthropicBatch{apiKey: "k", url: server.URL, model: "claude-3-5-sonnet-20240620"}
	text, err := l.Complete(context.Background(), upstream.LLMRequest{Messages: []upstream.Message{
		{Role: "system", Content: "be nice"},
		{Role: "user", Content: "hi"},
	}})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != "ok" {
		t.Errorf("unexpected text %q", text)
	}
}

func TestGoogleBatchRemapsRoles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Contents []googleMessage `json:"contents"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Contents) != 2 || req.Contents[1].Role != "model" {
			t.Errorf("expected assistant role remapped to model, got %+v", req.Contents)
		}
		resp := map[string]interface{}{
			"candidates": []map[string]interface{}{
				{"content": map[string]interface{}{"parts": []map[string]string{{"text": "hi back"}}}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	l := &GoogleBatch{apiKey: "k", url: server.URL, model: "gemini-1.5-flash"}
	text, err := l.Complete(context.Background(), upstream.LLMRequest{Messages: []upstream.Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	}})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != "hi back" {
		t.Errorf("unexpected text %q", text)
	}
}
