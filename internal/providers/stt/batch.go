package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/lokutor-ai/voxgateway/internal/audio"
	"github.com/lokutor-ai/voxgateway/internal/upstream"
)

// DeepgramBatch adapts pkg/providers/stt/deepgram.go's one-shot REST
// transcription call onto the upstream.STTBatch contract. cmd/gateway always
// wires the streaming realtime path (see AssemblyAIDialer) and does not
// construct this adapter.
type DeepgramBatch struct {
	apiKey string
	url    string
}

func NewDeepgramBatch(apiKey string) *DeepgramBatch {
	return &DeepgramBatch{apiKey: apiKey, url: "https://api.deepgram.com/v1/listen"}
}

func (s *DeepgramBatch) Name() string { return "deepgram-stt" }

func (s *DeepgramBatch) Transcribe(ctx context.Context, pcm []byte, lang string) (string, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return "", upstream.Fatal(err)
	}
	params := u.Query()
	params.Set("model", "nova-2")
	params.Set("smart_format", "true")
	if lang != "" {
		params.Set("language", lang)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, "POST", u.String(), bytes.NewReader(pcm))
	if err != nil {
		return "", upstream.Fatal(err)
	}
	req.Header.Set("Authorization", "Token "+s.apiKey)
	req.Header.Set("Content-Type", "audio/l16; rate=16000; channels=1")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", upstream.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", classifyHTTPStatus(resp.StatusCode, fmt.Errorf("deepgram error (status %d): %s", resp.StatusCode, string(body)))
	}

	var result struct {
		Results struct {
			Channels []struct {
				Alternatives []struct {
					Transcript string `json:"transcript"`
				} `json:"alternatives"`
			} `json:"channels"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", upstream.Transient(err)
	}
	if len(result.Results.Channels) == 0 || len(result.Results.Channels[0].Alternatives) == 0 {
		return "", upstream.ErrEmptyTranscription
	}
	return result.Results.Channels[0].Alternatives[0].Transcript, nil
}

// GroqBatch and OpenAIBatch share the same Whisper-compatible multipart
// upload shape (pkg/providers/stt/groq.go, pkg/providers/stt/openai.go).
type whisperCompatibleBatch struct {
	name       string
	apiKey     string
	url        string
	model      string
	sampleRate int
}

func (s *whisperCompatibleBatch) Name() string { return s.name }

func (s *whisperCompatibleBatch) Transcribe(ctx context.Context, pcm []byte, lang string) (string, error) {
	wavData := audio.WAV(pcm, s.sampleRate)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("model", s.model); err != nil {
		return "", upstream.Fatal(err)
	}
	if lang != "" {
		if err := writer.WriteField("language", lang); err != nil {
			return "", upstream.Fatal(err)
		}
	}
	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", upstream.Fatal(err)
	}
	if _, err := io.Copy(part, bytes.NewReader(wavData)); err != nil {
		return "", upstream.Fatal(err)
	}
	if err := writer.Close(); err != nil {
		return "", upstream.Fatal(err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.url, body)
	if err != nil {
		return "", upstream.Fatal(err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", upstream.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", classifyHTTPStatus(resp.StatusCode, fmt.Errorf("%s error: %s (status %d)", s.name, string(respBody), resp.StatusCode))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", upstream.Transient(err)
	}
	return result.Text, nil
}

func NewGroqBatch(apiKey, model string) upstream.STTBatch {
	if model == "" {
		model = "whisper-large-v3-turbo"
	}
	return &whisperCompatibleBatch{
		name:       "groq-stt",
		apiKey:     apiKey,
		url:        "https://api.groq.com/openai/v1/audio/transcriptions",
		model:      model,
		sampleRate: 16000,
	}
}

func NewOpenAIBatch(apiKey, model string) upstream.STTBatch {
	if model == "" {
		model = "whisper-1"
	}
	return &whisperCompatibleBatch{
		name:       "openai-stt",
		apiKey:     apiKey,
		url:        "https://api.openai.com/v1/audio/transcriptions",
		model:      model,
		sampleRate: 16000,
	}
}

// classifyHTTPStatus maps an HTTP status code to the shared error taxonomy:
// 401/403/400 are fatal (bad credentials or request), 429/5xx are transient.
func classifyHTTPStatus(status int, err error) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden || status == http.StatusBadRequest:
		return upstream.Fatal(err)
	default:
		return upstream.Transient(err)
	}
}
