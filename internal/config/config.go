// Package config loads the recognized options from spec.md §6: upstream API
// keys, per-provider model/voice/language parameters, timeouts, limits, and
// chunking thresholds. It is a flat env-driven struct in the teacher's idiom
// (cmd/agent/main.go reads os.Getenv directly) rather than a configuration
// framework, since config-loading infrastructure is explicitly out of scope
// for the core (spec.md §1).
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every recognized option.
type Config struct {
	// Upstream credentials.
	DeepgramAPIKey   string
	AssemblyAIAPIKey string
	GroqAPIKey       string
	OpenAIAPIKey     string
	AnthropicAPIKey  string
	GoogleAPIKey     string
	LokutorAPIKey    string

	// STT.
	STTProvider string
	STTModel    string
	STTLanguage string

	// LLM.
	LLMProvider         string
	LLMModel            string
	LLMTemperature      float64
	LLMMaxTokens        int
	LLMTopP             float64
	LLMFrequencyPenalty float64
	LLMPresencePenalty  float64
	SystemPrompt        string

	// TTS.
	TTSVoiceID       string
	TTSModel         string
	TTSSampleRate    int
	TTSEncoding      string
	ClientSampleRate int

	// Timeouts.
	ConnectTimeout     time.Duration
	FinalizeTimeout    time.Duration
	LLMRequestTimeout  time.Duration
	KeepAliveInterval  time.Duration
	IdleTimeout        time.Duration
	SessionMaxDuration time.Duration
	ShutdownPerSession time.Duration
	SweepInterval      time.Duration

	// Limits.
	MaxConcurrentSessions int
	LLMQueueBound         int
	MaxBufferBytes        int
	MaxTextLength         int

	// Chunking.
	BreakMarker       string
	MinWordsPerChunk  int
	MaxWordsPerChunk  int
	MaxCharsPerChunk  int
	SafetyByteBound   int
}

// Default returns the recognized defaults from spec.md §6/§4.6/§4.8.
func Default() Config {
	return Config{
		STTProvider:           "groq",
		STTLanguage:           "en-US",
		LLMProvider:           "groq",
		LLMModel:              "llama-3.3-70b-versatile",
		LLMTemperature:        0.7,
		LLMMaxTokens:          512,
		LLMTopP:               1.0,
		SystemPrompt:          "You are a helpful and concise voice assistant. Use short sentences suitable for speech. Insert the literal marker ||BREAK|| between natural speech pauses.",
		TTSVoiceID:            "F1",
		TTSSampleRate:         16000,
		TTSEncoding:           "pcm_s16le",
		ClientSampleRate:      48000,
		ConnectTimeout:        5 * time.Second,
		FinalizeTimeout:       2 * time.Second,
		LLMRequestTimeout:     30 * time.Second,
		KeepAliveInterval:     8 * time.Second,
		IdleTimeout:           30 * time.Minute,
		SessionMaxDuration:    2 * time.Hour,
		ShutdownPerSession:    5 * time.Second,
		SweepInterval:         5 * time.Minute,
		MaxConcurrentSessions: 1000,
		LLMQueueBound:         3,
		MaxBufferBytes:        2 * 16000 * 2, // ~2s of 16kHz mono PCM
		MaxTextLength:         2000,
		BreakMarker:           "||BREAK||",
		MinWordsPerChunk:      5,
		MaxWordsPerChunk:      50,
		MaxCharsPerChunk:      300,
		SafetyByteBound:       400,
	}
}

// Load builds a Config from a .env file (if present) and the process
// environment, falling back to Default() for anything unset.
func Load() Config {
	_ = godotenv.Load()

	cfg := Default()
	cfg.DeepgramAPIKey = os.Getenv("DEEPGRAM_API_KEY")
	cfg.AssemblyAIAPIKey = os.Getenv("ASSEMBLYAI_API_KEY")
	cfg.GroqAPIKey = os.Getenv("GROQ_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.GoogleAPIKey = os.Getenv("GOOGLE_API_KEY")
	cfg.LokutorAPIKey = os.Getenv("LOKUTOR_API_KEY")

	if v := os.Getenv("STT_PROVIDER"); v != "" {
		cfg.STTProvider = v
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.LLMProvider = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLMModel = v
	}
	if v := os.Getenv("TTS_VOICE_ID"); v != "" {
		cfg.TTSVoiceID = v
	}
	if v := os.Getenv("MAX_CONCURRENT_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConcurrentSessions = n
		}
	}

	return cfg
}
