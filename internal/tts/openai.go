package tts

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI speech returns raw PCM as 24 kHz signed 16-bit mono.
const (
	openAISampleRate = 24000
	openAIChannels   = 1
	openAIReadSize   = 32 * 1024
)

// OpenAIConfig configures the OpenAI-compatible speech endpoint.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

type openAISynth struct {
	client *openai.Client
	model  string
}

// NewOpenAISynth synthesizes through /audio/speech. It is network bound, so
// it benefits from pipeline concurrency above one.
func NewOpenAISynth(cfg OpenAIConfig) (Synthesizer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("missing API key")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	} else {
		clientCfg.HTTPClient = &http.Client{Timeout: 3 * time.Minute}
	}
	model := cfg.Model
	if model == "" {
		model = string(openai.TTSModel1)
	}
	return &openAISynth{client: openai.NewClientWithConfig(clientCfg), model: model}, nil
}

func (s *openAISynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)

		voice := req.Voice
		if voice == "" {
			voice = string(openai.VoiceAlloy)
		}
		resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
			Model:          openai.SpeechModel(s.model),
			Input:          req.Text,
			Voice:          openai.SpeechVoice(voice),
			ResponseFormat: openai.SpeechResponseFormatPcm,
			Speed:          req.Speed,
		})
		if err != nil {
			errs <- err
			return
		}
		defer resp.Close()

		buf := make([]byte, openAIReadSize)
		for {
			n, readErr := io.ReadFull(resp, buf)
			if n > 0 {
				pcm := append([]byte(nil), buf[:n]...)
				final := readErr != nil
				select {
				case chunks <- SynthChunk{
					RunID:      req.RunID,
					Sequence:   req.Sequence,
					SampleRate: openAISampleRate,
					Channels:   openAIChannels,
					PCM:        pcm,
					Final:      final,
				}:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}
			if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
				return
			}
			if readErr != nil {
				errs <- readErr
				return
			}
		}
	}()
	return chunks, errs
}
