package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lokutor-ai/voxgateway/internal/upstream"
)

// OpenAIBatch adapts pkg/providers/llm/openai.go onto upstream.LLMBatch, a
// non-streaming request/response adapter. The LLM sub-session does not call
// it when the streaming path fails; its fallback is the canned-response tiers.
type OpenAIBatch struct {
	apiKey string
	url    string
	model  string
}

func NewOpenAIBatch(apiKey, model string) *OpenAIBatch {
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAIBatch{apiKey: apiKey, url: "https://api.openai.com/v1/chat/completions", model: model}
}

func (l *OpenAIBatch) Name() string { return "openai-llm-batch" }

func (l *OpenAIBatch) Complete(ctx context.Context, req upstream.LLMRequest) (string, error) {
	messages := make([]chatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	payload := map[string]interface{}{"model": l.model, "messages": messages}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", upstream.Fatal(err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, "POST", l.url, bytes.NewReader(body))
	if err != nil {
		return "", upstream.Fatal(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+l.apiKey)

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return "", upstream.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", classifyHTTPStatus(resp.StatusCode, fmt.Errorf("openai llm error (status %d): %v", resp.StatusCode, errResp))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", upstream.Transient(err)
	}
	if len(result.Choices) == 0 {
		return "", upstream.Fatal(fmt.Errorf("no choices returned from openai"))
	}
	return result.Choices[0].Message.Content, nil
}

// AnthropicBatch adapts pkg/providers/llm/anthropic.go onto upstream.LLMBatch.
type AnthropicBatch struct {
	apiKey string
	url    string
	model  string
}

func NewAnthropicBatch(apiKey, model string) *AnthropicBatch {
	if model == "" {
		model = "claude-3-5-sonnet-20240620"
	}
	return &AnthropicBatch{apiKey: apiKey, url: "https://api.anthropic.com/v1/messages", model: model}
}

func (l *AnthropicBatch) Name() string { return "anthropic-llm-batch" }

func (l *AnthropicBatch) Complete(ctx context.Context, req upstream.LLMRequest) (string, error) {
	var system string
	var messages []map[string]string
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		messages = append(messages, map[string]string{"role": m.Role, "content": m.Content})
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}
	payload := map[string]interface{}{
		"model":      l.model,
		"messages":   messages,
		"max_tokens": maxTokens,
	}
	if system != "" {
		payload["system"] = system
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", upstream.Fatal(err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, "POST", l.url, bytes.NewReader(body))
	if err != nil {
		return "", upstream.Fatal(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", l.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return "", upstream.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", classifyHTTPStatus(resp.StatusCode, fmt.Errorf("anthropic llm error (status %d): %v", resp.StatusCode, errResp))
	}

	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", upstream.Transient(err)
	}
	if len(result.Content) == 0 {
		return "", upstream.Fatal(fmt.Errorf("no content returned from anthropic"))
	}
	return result.Content[0].Text, nil
}

// GoogleBatch adapts pkg/providers/llm/google.go onto upstream.LLMBatch.
type GoogleBatch struct {
	apiKey string
	url    string
	model  string
}

func NewGoogleBatch(apiKey, model string) *GoogleBatch {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &GoogleBatch{
		apiKey: apiKey,
		url:    "https://generativelanguage.googleapis.com/v1beta/models/" + model + ":generateContent",
		model:  model,
	}
}

func (l *GoogleBatch) Name() string { return "google-llm-batch" }

type googlePart struct {
	Text string `json:"text"`
}

type googleMessage struct {
	Role  string       `json:"role"`
	Parts []googlePart `json:"parts"`
}

func (l *GoogleBatch) Complete(ctx context.Context, req upstream.LLMRequest) (string, error) {
	var messages []googleMessage
	for _, m := range req.Messages {
		role := m.Role
		switch role {
		case "system":
			role = "user" // Gemini doesn't uniformly support a system role across models
		case "assistant":
			role = "model"
		}
		messages = append(messages, googleMessage{Role: role, Parts: []googlePart{{Text: m.Content}}})
	}

	payload := map[string]interface{}{"contents": messages}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", upstream.Fatal(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", l.url+"?key="+l.apiKey, bytes.NewReader(body))
	if err != nil {
		return "", upstream.Fatal(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return "", upstream.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", classifyHTTPStatus(resp.StatusCode, fmt.Errorf("google llm error (status %d): %v", resp.StatusCode, errResp))
	}

	var result struct {
		Candidates []struct {
			Content struct {
				Parts []googlePart `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", upstream.Transient(err)
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", upstream.Fatal(fmt.Errorf("no response from google llm"))
	}
	return result.Candidates[0].Content.Parts[0].Text, nil
}
