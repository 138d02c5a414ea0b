package runtime

import (
	"context"
	"testing"

	"github.com/jonm3D/hearsay/internal/config"
	"go.opentelemetry.io/otel/attribute"
)

func TestTraceExporterResolution(t *testing.T) {
	cases := map[string]struct {
		cfg  config.TelemetryConfig
		want string
	}{
		"default stdout":        {config.TelemetryConfig{}, "stdout"},
		"endpoint implies otlp": {config.TelemetryConfig{OTLPEndpoint: "collector:4317"}, "otlp"},
		"explicit none":         {config.TelemetryConfig{OTLPEndpoint: "collector:4317", TraceExporter: "none"}, "none"},
		"case insensitive":      {config.TelemetryConfig{TraceExporter: " Stdout "}, "stdout"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := traceExporter(tc.cfg); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestResourceAttributesDescribeNode(t *testing.T) {
	cfg := config.Default()
	cfg.Node.ID = "narrator-a"
	cfg.TTS.Mode = "openai"

	attrs := attrsByKey(resourceAttributes(cfg, "1.2.3"))
	checks := map[attribute.Key]string{
		"service.name":        "hearsay",
		"service.version":     "1.2.3",
		"service.instance.id": "narrator-a",
		"hearsay.tts.mode":    "openai",
		"hearsay.llm.mode":    cfg.LLM.Mode,
	}
	for key, want := range checks {
		if got := attrs[key].AsString(); got != want {
			t.Fatalf("%s: expected %q, got %q", key, want, got)
		}
	}
	if got := attrs["hearsay.pipeline.concurrency"].AsInt64(); got != int64(cfg.Pipeline.Concurrency) {
		t.Fatalf("expected concurrency attribute, got %d", got)
	}

	if _, ok := attrsByKey(resourceAttributes(cfg, ""))["service.version"]; ok {
		t.Fatal("expected no version attribute when version is unknown")
	}
}

func TestSetupTelemetryWithoutTraceExport(t *testing.T) {
	cfg := config.Default()
	cfg.Telemetry.TraceExporter = "none"

	shutdown, _, err := SetupTelemetry(cfg, "test", newLogger())
	if err != nil {
		t.Fatalf("setup telemetry: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func attrsByKey(kvs []attribute.KeyValue) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value, len(kvs))
	for _, kv := range kvs {
		out[kv.Key] = kv.Value
	}
	return out
}
