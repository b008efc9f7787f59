package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lokutor-ai/voxgateway/internal/upstream"
)

func TestOpenAICompatibleStreamerDeliversTokensInOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, tok := range []string{"Hello", " there", "."} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", tok)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer server.Close()

	s := &openAICompatibleStreamer{name: "test-llm", apiKey: "k", url: server.URL, model: "gpt-4o"}

	var got []string
	err := s.Stream(context.Background(), upstream.LLMRequest{Messages: []upstream.Message{{Role: "user", Content: "hi"}}}, func(delta string) error {
		got = append(got, delta)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if strings.Join(got, "") != "Hello there." {
		t.Errorf("unexpected token sequence %v", got)
	}
}

func TestOpenAICompatibleStreamerPropagatesOnTokenError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\n")
		flusher.Flush()
	}))
	defer server.Close()

	s := &openAICompatibleStreamer{name: "test-llm", apiKey: "k", url: server.URL, model: "gpt-4o"}
	sentinel := fmt.Errorf("consumer stopped")
	err := s.Stream(context.Background(), upstream.LLMRequest{}, func(delta string) error {
		return sentinel
	})
	if err != sentinel {
		t.Errorf("expected sentinel error to propagate, got %v", err)
	}
}

func TestOpenAICompatibleStreamerClassifiesFatalOnUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	s := &openAICompatibleStreamer{name: "test-llm", apiKey: "bad", url: server.URL, model: "gpt-4o"}
	err := s.Stream(context.Background(), upstream.LLMRequest{}, func(string) error { return nil })
	if !upstream.IsFatal(err) {
		t.Errorf("expected fatal classification on 401, got %v", err)
	}
}
