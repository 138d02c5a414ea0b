package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	// TraceExporter is otlp, stdout or none. Empty picks otlp when an
	// endpoint is set and stdout otherwise.
	TraceExporter  string `yaml:"trace_exporter"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Journal     JournalConfig   `yaml:"journal"`
	LLM         LLMConfig       `yaml:"llm"`
	TTS         TTSConfig       `yaml:"tts"`
	Pipeline    PipelineConfig  `yaml:"pipeline"`
	Output      OutputConfig    `yaml:"output"`
	Service     ServiceConfig   `yaml:"service"`
	Node        NodeConfig      `yaml:"node"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// JournalConfig controls the SQLite run journal used for checkpoints.
type JournalConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRuns       int    `yaml:"max_runs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type LLMConfig struct {
	Mode         string  `yaml:"mode"` // mock, ollama, exec, openai
	Endpoint     string  `yaml:"endpoint"`
	Command      string  `yaml:"command"`
	Model        string  `yaml:"model"`
	APIKey       string  `yaml:"api_key"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`
	SystemPrompt string  `yaml:"system_prompt"`
}

type TTSConfig struct {
	Mode       string  `yaml:"mode"` // mock, exec, openai
	Command    string  `yaml:"command"`
	Endpoint   string  `yaml:"endpoint"`
	APIKey     string  `yaml:"api_key"`
	Model      string  `yaml:"model"`
	Voice      string  `yaml:"voice"`
	Speed      float64 `yaml:"speed"`
	SampleRate int     `yaml:"sample_rate"`
	Channels   int     `yaml:"channels"`
}

// PipelineConfig tunes the streaming script-to-speech pipeline.
type PipelineConfig struct {
	Concurrency        int    `yaml:"concurrency"`
	SynthesisTimeoutMS int    `yaml:"synthesis_timeout_ms"`
	ParagraphBoundary  string `yaml:"paragraph_boundary"`
	FlushOnStreamEnd   bool   `yaml:"flush_on_stream_end"`
	GracePeriodMS      int    `yaml:"grace_period_ms"`
	PauseMS            int    `yaml:"pause_ms"`
}

type OutputConfig struct {
	Directory string `yaml:"directory"`
}

type ServiceConfig struct {
	Enabled     bool `yaml:"enabled"`
	Concurrency int  `yaml:"max_concurrent_runs"`
	RunTimeoutS int  `yaml:"run_timeout_s"`
}

// NodeConfig identifies this daemon to its peers on the bus.
type NodeConfig struct {
	ID                  string `yaml:"id"`
	HeartbeatIntervalMS int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeoutMS  int    `yaml:"heartbeat_timeout_ms"`
}

var openAIVoiceNames = []string{"alloy", "ash", "ballad", "coral", "echo", "fable", "nova", "onyx", "sage", "shimmer", "verse"}

var openAIVoices = func() map[string]bool {
	m := make(map[string]bool, len(openAIVoiceNames))
	for _, v := range openAIVoiceNames {
		m[v] = true
	}
	return m
}()

func Default() Config {
	return Config{
		RuntimeName: "hearsay",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Journal: JournalConfig{
			Path:          "./data/hearsay-runs.db",
			RetentionMode: "persistent",
			RetentionDays: 30,
			MaxRuns:       1000,
		},
		LLM: LLMConfig{
			Mode:        "mock",
			MaxTokens:   8000,
			Temperature: 0.7,
		},
		TTS: TTSConfig{
			Mode:       "mock",
			Model:      "tts-1",
			Voice:      "af_heart",
			Speed:      1.2,
			SampleRate: 24000,
			Channels:   1,
		},
		Pipeline: PipelineConfig{
			Concurrency:        1,
			SynthesisTimeoutMS: 120000,
			ParagraphBoundary:  "double_newline",
			FlushOnStreamEnd:   true,
			GracePeriodMS:      5000,
			PauseMS:            400,
		},
		Output: OutputConfig{
			Directory: "./output",
		},
		Service: ServiceConfig{
			Enabled:     true,
			Concurrency: 1,
			RunTimeoutS: 1800,
		},
		Node: NodeConfig{
			HeartbeatIntervalMS: 2000,
			HeartbeatTimeoutMS:  6000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	applyFallbacks(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "HEARSAY_RUNTIME_NAME")
	overrideString(&cfg.Environment, "HEARSAY_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "HEARSAY_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "HEARSAY_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "HEARSAY_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "HEARSAY_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "HEARSAY_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.TraceExporter, "HEARSAY_TELEMETRY_TRACE_EXPORTER")
	overrideString(&cfg.Telemetry.PrometheusBind, "HEARSAY_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "HEARSAY_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "HEARSAY_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "HEARSAY_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "HEARSAY_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "HEARSAY_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "HEARSAY_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "HEARSAY_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "HEARSAY_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "HEARSAY_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Journal.Path, "HEARSAY_JOURNAL_PATH")
	overrideString(&cfg.Journal.RetentionMode, "HEARSAY_JOURNAL_RETENTION_MODE")
	overrideInt(&cfg.Journal.RetentionDays, "HEARSAY_JOURNAL_RETENTION_DAYS")
	overrideInt(&cfg.Journal.MaxRuns, "HEARSAY_JOURNAL_MAX_RUNS")
	overrideBool(&cfg.Journal.VacuumOnStart, "HEARSAY_JOURNAL_VACUUM_ON_START")
	overrideString(&cfg.LLM.Mode, "HEARSAY_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "HEARSAY_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "HEARSAY_LLM_COMMAND")
	overrideString(&cfg.LLM.Model, "HEARSAY_LLM_MODEL")
	overrideString(&cfg.LLM.APIKey, "HEARSAY_LLM_API_KEY")
	overrideInt(&cfg.LLM.MaxTokens, "HEARSAY_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "HEARSAY_LLM_TEMPERATURE")
	overrideString(&cfg.LLM.SystemPrompt, "HEARSAY_LLM_SYSTEM_PROMPT")
	overrideString(&cfg.TTS.Mode, "HEARSAY_TTS_MODE")
	overrideString(&cfg.TTS.Command, "HEARSAY_TTS_COMMAND")
	overrideString(&cfg.TTS.Endpoint, "HEARSAY_TTS_ENDPOINT")
	overrideString(&cfg.TTS.APIKey, "HEARSAY_TTS_API_KEY")
	overrideString(&cfg.TTS.Model, "HEARSAY_TTS_MODEL")
	overrideString(&cfg.TTS.Voice, "HEARSAY_TTS_VOICE")
	overrideFloat(&cfg.TTS.Speed, "HEARSAY_TTS_SPEED")
	overrideInt(&cfg.TTS.SampleRate, "HEARSAY_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "HEARSAY_TTS_CHANNELS")
	overrideInt(&cfg.Pipeline.Concurrency, "HEARSAY_PIPELINE_CONCURRENCY")
	overrideInt(&cfg.Pipeline.SynthesisTimeoutMS, "HEARSAY_PIPELINE_SYNTHESIS_TIMEOUT_MS")
	overrideString(&cfg.Pipeline.ParagraphBoundary, "HEARSAY_PIPELINE_PARAGRAPH_BOUNDARY")
	overrideBool(&cfg.Pipeline.FlushOnStreamEnd, "HEARSAY_PIPELINE_FLUSH_ON_STREAM_END")
	overrideInt(&cfg.Pipeline.GracePeriodMS, "HEARSAY_PIPELINE_GRACE_PERIOD_MS")
	overrideInt(&cfg.Pipeline.PauseMS, "HEARSAY_PIPELINE_PAUSE_MS")
	overrideString(&cfg.Output.Directory, "HEARSAY_OUTPUT_DIRECTORY")
	overrideBool(&cfg.Service.Enabled, "HEARSAY_SERVICE_ENABLED")
	overrideInt(&cfg.Service.Concurrency, "HEARSAY_SERVICE_MAX_CONCURRENT_RUNS")
	overrideInt(&cfg.Service.RunTimeoutS, "HEARSAY_SERVICE_RUN_TIMEOUT_S")
	overrideString(&cfg.Node.ID, "HEARSAY_NODE_ID")
	overrideInt(&cfg.Node.HeartbeatIntervalMS, "HEARSAY_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeoutMS, "HEARSAY_NODE_HEARTBEAT_TIMEOUT_MS")
}

// applyFallbacks fills API keys from the conventional provider variables.
func applyFallbacks(cfg *Config) {
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.TTS.APIKey == "" {
		cfg.TTS.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Node.ID == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			cfg.Node.ID = host
		} else {
			cfg.Node.ID = "hearsay"
		}
	}
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Journal.Path == "" && cfg.Journal.RetentionMode != "ephemeral" {
		return errors.New("journal.path must not be empty")
	}
	switch cfg.Journal.RetentionMode {
	case "ephemeral", "persistent":
	default:
		return errors.New("journal.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.Journal.RetentionDays < 0 {
		return errors.New("journal.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch cfg.Telemetry.TraceExporter {
	case "", "stdout", "none":
	case "otlp":
		if strings.TrimSpace(cfg.Telemetry.OTLPEndpoint) == "" {
			return errors.New("telemetry.otlp_endpoint is required when trace_exporter is otlp")
		}
	default:
		return errors.New("telemetry.trace_exporter must be one of otlp|stdout|none")
	}
	switch cfg.LLM.Mode {
	case "mock", "ollama", "exec", "openai":
	default:
		return errors.New("llm.mode must be one of mock|ollama|exec|openai")
	}
	if cfg.LLM.Mode == "exec" && cfg.LLM.Command == "" {
		return errors.New("llm.command must be set when mode=exec")
	}
	if cfg.LLM.Mode == "openai" && cfg.LLM.APIKey == "" {
		return errors.New("llm.api_key (or OPENAI_API_KEY) must be set when mode=openai")
	}
	if cfg.LLM.MaxTokens < 0 {
		return errors.New("llm.max_tokens must be >= 0")
	}
	switch cfg.TTS.Mode {
	case "mock", "exec", "openai":
	default:
		return errors.New("tts.mode must be one of mock|exec|openai")
	}
	if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
		return errors.New("tts.command must be set when mode=exec")
	}
	if cfg.TTS.Mode == "openai" && cfg.TTS.APIKey == "" {
		return errors.New("tts.api_key (or OPENAI_API_KEY) must be set when mode=openai")
	}
	// Kokoro voices such as af_heart need a Kokoro-compatible tts.endpoint.
	if cfg.TTS.Mode == "openai" && cfg.TTS.Endpoint == "" && !openAIVoices[cfg.TTS.Voice] {
		return fmt.Errorf("tts.voice %q is not an OpenAI voice; set tts.endpoint to a compatible server or pick one of %s",
			cfg.TTS.Voice, strings.Join(openAIVoiceNames, ", "))
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if cfg.TTS.Channels <= 0 {
		return errors.New("tts.channels must be positive")
	}
	if cfg.TTS.Speed <= 0 {
		return errors.New("tts.speed must be positive")
	}
	if cfg.Pipeline.Concurrency <= 0 {
		return errors.New("pipeline.concurrency must be >= 1")
	}
	if cfg.Pipeline.SynthesisTimeoutMS < 0 {
		return errors.New("pipeline.synthesis_timeout_ms must be >= 0")
	}
	switch cfg.Pipeline.ParagraphBoundary {
	case "double_newline", "single_newline":
	default:
		return errors.New("pipeline.paragraph_boundary must be one of double_newline|single_newline")
	}
	if cfg.Pipeline.GracePeriodMS < 0 {
		return errors.New("pipeline.grace_period_ms must be >= 0")
	}
	if cfg.Pipeline.PauseMS < 0 {
		return errors.New("pipeline.pause_ms must be >= 0")
	}
	if cfg.Output.Directory == "" {
		return errors.New("output.directory must not be empty")
	}
	if cfg.Service.Enabled && cfg.Service.Concurrency <= 0 {
		return errors.New("service.max_concurrent_runs must be >= 1")
	}
	if cfg.Node.HeartbeatIntervalMS <= 0 {
		return errors.New("node.heartbeat_interval_ms must be positive")
	}
	if cfg.Node.HeartbeatTimeoutMS <= cfg.Node.HeartbeatIntervalMS {
		return errors.New("node.heartbeat_timeout_ms must exceed heartbeat_interval_ms")
	}
	return nil
}
