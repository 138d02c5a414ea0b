package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/jonm3D/hearsay/internal/config"
)

// Request describes a narration script prompt.
type Request struct {
	RunID       string
	Title       string
	Prompt      string
	System      string
	Model       string
	MaxTokens   int
	Temperature float64
	TraceID     string
}

// Chunk represents streamed model output.
type Chunk struct {
	RunID            string
	Content          string
	Partial          bool
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
	TraceID          string
}

// Generator defines a pluggable LLM backend. Generate returns nil only when
// the stream completed; any other return is a generation failure.
type Generator interface {
	Generate(ctx context.Context, req Request, consumer func(Chunk) error) error
}

// OptionsFromConfig builds request defaults from config.
func OptionsFromConfig(cfg config.LLMConfig) Request {
	return Request{
		Model:       cfg.Model,
		System:      cfg.SystemPrompt,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}
}

// New selects a backend for cfg.Mode.
func New(cfg config.LLMConfig) (Generator, error) {
	switch cfg.Mode {
	case "mock", "":
		return NewMockGenerator(), nil
	case "ollama":
		return NewOllamaGenerator(cfg.Endpoint, cfg.Model), nil
	case "exec":
		return NewExecGenerator(cfg.Command)
	case "openai":
		return NewOpenAIGenerator(OpenAIConfig{APIKey: cfg.APIKey, BaseURL: cfg.Endpoint})
	default:
		return nil, fmt.Errorf("unsupported llm mode %q", cfg.Mode)
	}
}
