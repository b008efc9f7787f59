// Package llm adapts concrete upstream LLM providers onto the
// internal/upstream.LLMStreamer/LLMBatch contracts.
//
// openAICompatibleStreamer implements token-by-token streaming over the
// OpenAI/Groq chat-completions SSE wire format (grounded on the
// bufio.Scanner-over-"data:"-lines idiom in
// Kocoro-lab-Shannon/go-orchestrator's openai streamer, combined with the
// request shape from pkg/providers/llm/openai.go).
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/lokutor-ai/voxgateway/internal/upstream"
)

type openAICompatibleStreamer struct {
	name   string
	apiKey string
	url    string
	model  string
}

// NewOpenAIStreamer streams gpt-* chat completions token by token.
func NewOpenAIStreamer(apiKey, model string) upstream.LLMStreamer {
	if model == "" {
		model = "gpt-4o"
	}
	return &openAICompatibleStreamer{
		name:   "openai-llm",
		apiKey: apiKey,
		url:    "https://api.openai.com/v1/chat/completions",
		model:  model,
	}
}

// NewGroqStreamer streams Groq chat completions; Groq exposes an
// OpenAI-compatible endpoint so the same SSE parsing applies.
func NewGroqStreamer(apiKey, model string) upstream.LLMStreamer {
	if model == "" {
		model = "llama-3.3-70b-versatile"
	}
	return &openAICompatibleStreamer{
		name:   "groq-llm",
		apiKey: apiKey,
		url:    "https://api.groq.com/openai/v1/chat/completions",
		model:  model,
	}
}

func (s *openAICompatibleStreamer) Name() string { return s.name }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (s *openAICompatibleStreamer) Stream(ctx context.Context, req upstream.LLMRequest, onToken func(delta string) error) error {
	messages := make([]chatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, chatMessage{Role: m.Role, Content: m.Content})
	}

	payload := map[string]interface{}{
		"model":    s.model,
		"messages": messages,
		"stream":   true,
	}
	if req.Temperature != 0 {
		payload["temperature"] = req.Temperature
	}
	if req.MaxTokens != 0 {
		payload["max_tokens"] = req.MaxTokens
	}
	if req.TopP != 0 {
		payload["top_p"] = req.TopP
	}
	if req.FrequencyPenalty != 0 {
		payload["frequency_penalty"] = req.FrequencyPenalty
	}
	if req.PresencePenalty != 0 {
		payload["presence_penalty"] = req.PresencePenalty
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return upstream.Fatal(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", s.url, bytes.NewReader(body))
	if err != nil {
		return upstream.Fatal(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return upstream.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifyHTTPStatus(resp.StatusCode, fmt.Errorf("%s stream error (status %d)", s.name, resp.StatusCode))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return nil
		}
		if data == "" {
			continue
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		if err := onToken(delta); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return upstream.Transient(err)
	}
	return nil
}

// classifyHTTPStatus maps an HTTP status code to the shared error taxonomy.
func classifyHTTPStatus(status int, err error) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden || status == http.StatusBadRequest:
		return upstream.Fatal(err)
	default:
		return upstream.Transient(err)
	}
}
