package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Pipeline.Concurrency != 1 {
		t.Fatalf("expected sequential synthesis by default, got %d", cfg.Pipeline.Concurrency)
	}
	if !cfg.Pipeline.FlushOnStreamEnd {
		t.Fatal("expected flush_on_stream_end enabled by default")
	}
	if cfg.Pipeline.ParagraphBoundary != "double_newline" {
		t.Fatalf("unexpected boundary %q", cfg.Pipeline.ParagraphBoundary)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hearsay.yaml")
	data := []byte(`
pipeline:
  concurrency: 3
  flush_on_stream_end: false
  grace_period_ms: 250
tts:
  voice: am_adam
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Pipeline.Concurrency != 3 {
		t.Fatalf("expected concurrency 3, got %d", cfg.Pipeline.Concurrency)
	}
	if cfg.Pipeline.FlushOnStreamEnd {
		t.Fatal("expected flush_on_stream_end disabled")
	}
	if cfg.Pipeline.GracePeriodMS != 250 {
		t.Fatalf("expected grace 250, got %d", cfg.Pipeline.GracePeriodMS)
	}
	if cfg.TTS.Voice != "am_adam" {
		t.Fatalf("expected voice override, got %q", cfg.TTS.Voice)
	}
	if cfg.TTS.SampleRate != 24000 {
		t.Fatalf("expected untouched default sample rate, got %d", cfg.TTS.SampleRate)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HEARSAY_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("HEARSAY_BUS_USERNAME", "alice")
	t.Setenv("HEARSAY_BUS_PASSWORD", "secret")
	t.Setenv("HEARSAY_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("HEARSAY_JOURNAL_PATH", "./tmp.db")
	t.Setenv("HEARSAY_JOURNAL_MAX_RUNS", "12")
	t.Setenv("HEARSAY_PIPELINE_CONCURRENCY", "4")
	t.Setenv("HEARSAY_PIPELINE_PARAGRAPH_BOUNDARY", "single_newline")
	t.Setenv("HEARSAY_PIPELINE_FLUSH_ON_STREAM_END", "false")
	t.Setenv("HEARSAY_TTS_SPEED", "1.0")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.Journal.Path != "./tmp.db" || cfg.Journal.MaxRuns != 12 {
		t.Fatalf("expected journal overrides, got %+v", cfg.Journal)
	}
	if cfg.Pipeline.Concurrency != 4 {
		t.Fatalf("expected concurrency override")
	}
	if cfg.Pipeline.ParagraphBoundary != "single_newline" {
		t.Fatalf("expected boundary override")
	}
	if cfg.Pipeline.FlushOnStreamEnd {
		t.Fatalf("expected flush override")
	}
	if cfg.TTS.Speed != 1.0 {
		t.Fatalf("expected speed override, got %v", cfg.TTS.Speed)
	}
}

func TestValidateRejectsBadPipeline(t *testing.T) {
	cases := map[string]func(*Config){
		"zero concurrency": func(c *Config) { c.Pipeline.Concurrency = 0 },
		"unknown boundary": func(c *Config) { c.Pipeline.ParagraphBoundary = "sentence" },
		"negative grace":   func(c *Config) { c.Pipeline.GracePeriodMS = -1 },
		"openai no key":    func(c *Config) { c.TTS.Mode = "openai"; c.TTS.APIKey = "" },
		"exec no command":  func(c *Config) { c.LLM.Mode = "exec" },
		"short heartbeat":  func(c *Config) { c.Node.HeartbeatTimeoutMS = c.Node.HeartbeatIntervalMS },
		"otlp no endpoint": func(c *Config) { c.Telemetry.TraceExporter = "otlp" },
		"unknown exporter": func(c *Config) { c.Telemetry.TraceExporter = "jaeger" },
		"kokoro on openai": func(c *Config) { c.TTS.Mode = "openai"; c.TTS.APIKey = "sk-test" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestAPIKeyFallback(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("HEARSAY_TTS_MODE", "openai")
	t.Setenv("HEARSAY_TTS_VOICE", "nova")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TTS.APIKey != "sk-test" {
		t.Fatalf("expected api key fallback, got %q", cfg.TTS.APIKey)
	}
}

func TestNodeIDDefaultsToHostname(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Node.ID == "" {
		t.Fatal("expected node id to be filled")
	}
	t.Setenv("HEARSAY_NODE_ID", "narrator-a")
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Node.ID != "narrator-a" {
		t.Fatalf("expected node id override, got %q", cfg.Node.ID)
	}
}

func TestKokoroVoiceNeedsCompatibleEndpoint(t *testing.T) {
	cfg := Default()
	cfg.TTS.Mode = "openai"
	cfg.TTS.APIKey = "sk-test"
	if err := validate(cfg); err == nil || !strings.Contains(err.Error(), "af_heart") {
		t.Fatalf("expected af_heart rejected against the OpenAI API, got %v", err)
	}

	cfg.TTS.Endpoint = "http://localhost:8880/v1"
	if err := validate(cfg); err != nil {
		t.Fatalf("expected kokoro voice accepted on a compatible endpoint, got %v", err)
	}

	cfg.TTS.Endpoint = ""
	cfg.TTS.Voice = "coral"
	if err := validate(cfg); err != nil {
		t.Fatalf("expected OpenAI voice accepted, got %v", err)
	}
}
