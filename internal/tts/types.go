package tts

import (
	"context"
	"fmt"

	"github.com/jonm3D/hearsay/internal/config"
)

// SynthRequest contains parameters to synthesize speech.
type SynthRequest struct {
	RunID    string
	Sequence int
	Text     string
	Voice    string
	Speed    float64
}

// SynthChunk contains 16-bit little-endian PCM data.
type SynthChunk struct {
	RunID      string
	Sequence   int
	SampleRate int
	Channels   int
	PCM        []byte
	Final      bool
}

// Synthesizer is the contract for producing audio. The chunk channel is
// closed when synthesis ends; at most one error is delivered on the error
// channel, which is closed afterwards.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}

// Audio is the complete output of one synthesis call.
type Audio struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// New selects a backend for cfg.Mode.
func New(cfg config.TTSConfig) (Synthesizer, error) {
	switch cfg.Mode {
	case "mock", "":
		return NewMockSynth(cfg.SampleRate, cfg.Channels), nil
	case "exec":
		return NewExecSynth(cfg.Command, cfg.SampleRate, cfg.Channels)
	case "openai":
		return NewOpenAISynth(OpenAIConfig{APIKey: cfg.APIKey, BaseURL: cfg.Endpoint, Model: cfg.Model})
	default:
		return nil, fmt.Errorf("unsupported tts mode %q", cfg.Mode)
	}
}
