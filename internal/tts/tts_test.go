package tts

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMockSynthIsDeterministic(t *testing.T) {
	synth := NewMockSynth(24000, 1)
	req := SynthRequest{Text: "Intro sentence one. Intro sentence two.", Speed: 1.2}
	first, err := Collect(context.Background(), synth, req)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	second, err := Collect(context.Background(), synth, req)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(first.PCM) == 0 {
		t.Fatal("expected audio")
	}
	if !bytes.Equal(first.PCM, second.PCM) {
		t.Fatal("expected identical audio for identical input")
	}
	if first.SampleRate != 24000 || first.Channels != 1 {
		t.Fatalf("unexpected format %d/%d", first.SampleRate, first.Channels)
	}
	other, err := Collect(context.Background(), synth, SynthRequest{Text: "Second para.", Speed: 1.2})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if bytes.Equal(first.PCM, other.PCM) {
		t.Fatal("expected different audio for different text")
	}
}

func TestMockSynthHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Collect(ctx, NewMockSynth(24000, 1), SynthRequest{Text: "x"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type staticSynth struct {
	chunks []SynthChunk
	err    error
}

func (s staticSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, len(s.chunks))
	errs := make(chan error, 1)
	for _, c := range s.chunks {
		chunks <- c
	}
	if s.err != nil {
		errs <- s.err
	}
	close(chunks)
	close(errs)
	return chunks, errs
}

func TestCollectConcatenatesChunks(t *testing.T) {
	synth := staticSynth{chunks: []SynthChunk{
		{SampleRate: 16000, Channels: 1, PCM: []byte{1, 2}},
		{SampleRate: 16000, Channels: 1, PCM: []byte{3, 4}, Final: true},
	}}
	audio, err := Collect(context.Background(), synth, SynthRequest{})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if !bytes.Equal(audio.PCM, []byte{1, 2, 3, 4}) {
		t.Fatalf("unexpected pcm %v", audio.PCM)
	}
}

func TestCollectReportsErrors(t *testing.T) {
	boom := errors.New("backend unavailable")
	if _, err := Collect(context.Background(), staticSynth{err: boom}, SynthRequest{}); !errors.Is(err, boom) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if _, err := Collect(context.Background(), staticSynth{}, SynthRequest{}); !errors.Is(err, ErrNoAudio) {
		t.Fatalf("expected ErrNoAudio, got %v", err)
	}
}

func TestExecSynthDecodesLines(t *testing.T) {
	// "AQI=" is base64 for bytes 1,2.
	synth, err := NewExecSynth(`sh -c 'cat >/dev/null; echo "{\"pcm_base64\":\"AQI=\"}"; echo "{\"pcm_base64\":\"AQI=\",\"final\":true}"'`, 22050, 1)
	if err != nil {
		t.Fatalf("new exec synth: %v", err)
	}
	audio, err := Collect(context.Background(), synth, SynthRequest{Text: "hello"})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if !bytes.Equal(audio.PCM, []byte{1, 2, 1, 2}) {
		t.Fatalf("unexpected pcm %v", audio.PCM)
	}
	if audio.SampleRate != 22050 {
		t.Fatalf("unexpected sample rate %d", audio.SampleRate)
	}
}

func TestExecSynthReportsCommandFailure(t *testing.T) {
	synth, err := NewExecSynth(`sh -c 'cat >/dev/null; exit 3'`, 22050, 1)
	if err != nil {
		t.Fatalf("new exec synth: %v", err)
	}
	if _, err := Collect(context.Background(), synth, SynthRequest{Text: "hello"}); err == nil {
		t.Fatal("expected failure from exiting command")
	}
}

func TestOpenAISynthStreamsPCM(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/speech") {
			http.NotFound(w, r)
			return
		}
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(r.Body)
		gotBody = buf.String()
		w.Header().Set("Content-Type", "audio/pcm")
		_, _ = w.Write([]byte{9, 8, 7, 6})
	}))
	defer srv.Close()

	synth, err := NewOpenAISynth(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1", HTTPClient: &http.Client{Timeout: 5 * time.Second}})
	if err != nil {
		t.Fatalf("new openai synth: %v", err)
	}
	audio, err := Collect(context.Background(), synth, SynthRequest{Text: "Hello there.", Voice: "alloy", Speed: 1.2})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if !bytes.Equal(audio.PCM, []byte{9, 8, 7, 6}) {
		t.Fatalf("unexpected pcm %v", audio.PCM)
	}
	if audio.SampleRate != openAISampleRate {
		t.Fatalf("unexpected sample rate %d", audio.SampleRate)
	}
	if !strings.Contains(gotBody, `"response_format":"pcm"`) {
		t.Fatalf("expected pcm response format in request: %s", gotBody)
	}
}
