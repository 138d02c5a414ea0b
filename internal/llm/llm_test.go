package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonm3D/hearsay/internal/config"
)

func collect(t *testing.T, g Generator, req Request) (string, error) {
	t.Helper()
	var b strings.Builder
	err := g.Generate(context.Background(), req, func(c Chunk) error {
		b.WriteString(c.Content)
		return nil
	})
	return b.String(), err
}

func TestScriptedGeneratorReplaysChunks(t *testing.T) {
	g := NewScriptedGenerator([]string{"a", "b", "c"}, 0, nil)
	text, err := collect(t, g, Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "abc" {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestScriptedGeneratorFailsAfterChunks(t *testing.T) {
	boom := errors.New("stream reset")
	g := NewScriptedGenerator([]string{"a"}, 0, boom)
	text, err := collect(t, g, Request{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected stream error, got %v", err)
	}
	if text != "a" {
		t.Fatalf("expected chunk before failure, got %q", text)
	}
}

func TestScriptedGeneratorHonoursCancellation(t *testing.T) {
	g := NewScriptedGenerator([]string{"a", "b"}, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := g.Generate(ctx, Request{}, func(Chunk) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestMockGeneratorMentionsTitle(t *testing.T) {
	text, err := collect(t, NewMockGenerator(), Request{Title: "Bluff Retreat"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(text, "Bluff Retreat") {
		t.Fatalf("expected title in mock script: %q", text)
	}
	if strings.Count(text, "\n\n") != 3 {
		t.Fatalf("expected four paragraphs, got %q", text)
	}
}

func TestOllamaGeneratorStreams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintln(w, `{"response":"Hello ","done":false}`)
		fmt.Fprintln(w, `{"response":"world.","done":true,"eval_count":2}`)
	}))
	defer srv.Close()

	text, err := collect(t, NewOllamaGenerator(srv.URL, "m"), Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Hello world." {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestOllamaGeneratorTruncatedStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"response":"Hello","done":false}`)
	}))
	defer srv.Close()

	if _, err := collect(t, NewOllamaGenerator(srv.URL, "m"), Request{}); err == nil {
		t.Fatal("expected error for stream without done marker")
	}
}

func TestExecGeneratorStreamsLines(t *testing.T) {
	g, err := NewExecGenerator(`sh -c 'cat >/dev/null; echo "{\"content\":\"One.\"}"; echo "{\"content\":\" Two.\",\"done\":true}"'`)
	if err != nil {
		t.Fatalf("new exec generator: %v", err)
	}
	text, err := collect(t, g, Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "One. Two." {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestExecGeneratorRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecGenerator("   "); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestNewSelectsBackend(t *testing.T) {
	if _, err := New(config.LLMConfig{Mode: "mock"}); err != nil {
		t.Fatalf("mock: %v", err)
	}
	if _, err := New(config.LLMConfig{Mode: "openai"}); err == nil {
		t.Fatal("expected missing key error")
	}
	if _, err := New(config.LLMConfig{Mode: "carrier-pigeon"}); err == nil {
		t.Fatal("expected unsupported mode error")
	}
}

func TestScriptPromptIncludesPaper(t *testing.T) {
	p := ScriptPrompt("  Title  ", "# Abstract\nBody")
	if !strings.Contains(p, "Paper title: Title\n") || !strings.Contains(p, "# Abstract\nBody") {
		t.Fatalf("prompt missing paper content: %s", p)
	}
	if SystemPrompt("") == "" || SystemPrompt(" custom ") != "custom" {
		t.Fatal("unexpected system prompt selection")
	}
}
