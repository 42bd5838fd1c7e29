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
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	DaemonName  string            `yaml:"daemon_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Audio       AudioConfig       `yaml:"audio"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Output      OutputConfig      `yaml:"output"`
	State       StateConfig       `yaml:"state"`
	Transcripts TranscriptsConfig `yaml:"transcripts"`
	Session     SessionConfig     `yaml:"session"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// PipelineConfig carries the audio pipeline parameters. SampleRate, Channels,
// BlockSize and DType describe the chunks the capture stage produces,
// BufferSize is the number of chunks accumulated per buffer, and QueueSize
// bounds both inter-stage queues.
type PipelineConfig struct {
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	BlockSize  int    `yaml:"block_size"`
	DType      string `yaml:"dtype"`
	BufferSize int    `yaml:"buffer_size"`
	QueueSize  int    `yaml:"queue_size"`
}

type AudioConfig struct {
	Mode    string `yaml:"mode"` // mock, exec
	Command string `yaml:"command"`
	Device  string `yaml:"device"`
}

type RecognitionConfig struct {
	Mode      string `yaml:"mode"` // mock, exec
	Command   string `yaml:"command"`
	ModelPath string `yaml:"model_path"`
	Language  string `yaml:"language"`
}

type OutputTargetConfig struct {
	Type    string `yaml:"type"` // keyboard, clipboard, file
	Command string `yaml:"command"`
	Path    string `yaml:"path"`
	Format  string `yaml:"format"`
}

type OutputConfig struct {
	Targets []OutputTargetConfig `yaml:"targets"`
}

type StateConfig struct {
	HistoryLimit int `yaml:"history_limit"`
}

type TranscriptsConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type SessionConfig struct {
	SilenceTimeoutMS int  `yaml:"silence_timeout_ms"`
	PublishPartials  bool `yaml:"publish_partials"`
}

func Default() Config {
	return Config{
		DaemonName:  "voxtyped",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8090,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9092",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Pipeline: PipelineConfig{
			SampleRate: 16000,
			Channels:   1,
			BlockSize:  8000,
			DType:      "int16",
			BufferSize: 10,
			QueueSize:  100,
		},
		Audio: AudioConfig{
			Mode: "mock",
		},
		Recognition: RecognitionConfig{
			Mode: "mock",
		},
		Output: OutputConfig{
			Targets: []OutputTargetConfig{
				{Type: "file", Path: "./data/dictation.log"},
			},
		},
		State: StateConfig{
			HistoryLimit: 100,
		},
		Transcripts: TranscriptsConfig{
			Path:          "./data/voxtype-transcripts.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Session: SessionConfig{
			SilenceTimeoutMS: 5000,
			PublishPartials:  false,
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
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.DaemonName, "VOXTYPE_DAEMON_NAME")
	overrideString(&cfg.Environment, "VOXTYPE_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOXTYPE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOXTYPE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOXTYPE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOXTYPE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOXTYPE_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VOXTYPE_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "VOXTYPE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOXTYPE_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "VOXTYPE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOXTYPE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOXTYPE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOXTYPE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOXTYPE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOXTYPE_BUS_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Pipeline.SampleRate, "VOXTYPE_PIPELINE_SAMPLE_RATE")
	overrideInt(&cfg.Pipeline.Channels, "VOXTYPE_PIPELINE_CHANNELS")
	overrideInt(&cfg.Pipeline.BlockSize, "VOXTYPE_PIPELINE_BLOCK_SIZE")
	overrideString(&cfg.Pipeline.DType, "VOXTYPE_PIPELINE_DTYPE")
	overrideInt(&cfg.Pipeline.BufferSize, "VOXTYPE_PIPELINE_BUFFER_SIZE")
	overrideInt(&cfg.Pipeline.QueueSize, "VOXTYPE_PIPELINE_QUEUE_SIZE")
	overrideString(&cfg.Audio.Mode, "VOXTYPE_AUDIO_MODE")
	overrideString(&cfg.Audio.Command, "VOXTYPE_AUDIO_COMMAND")
	overrideString(&cfg.Audio.Device, "VOXTYPE_AUDIO_DEVICE")
	overrideString(&cfg.Recognition.Mode, "VOXTYPE_RECOGNITION_MODE")
	overrideString(&cfg.Recognition.Command, "VOXTYPE_RECOGNITION_COMMAND")
	overrideString(&cfg.Recognition.ModelPath, "VOXTYPE_RECOGNITION_MODEL_PATH")
	overrideString(&cfg.Recognition.Language, "VOXTYPE_RECOGNITION_LANGUAGE")
	overrideInt(&cfg.State.HistoryLimit, "VOXTYPE_STATE_HISTORY_LIMIT")
	overrideString(&cfg.Transcripts.Path, "VOXTYPE_TRANSCRIPTS_PATH")
	overrideString(&cfg.Transcripts.RetentionMode, "VOXTYPE_TRANSCRIPTS_RETENTION_MODE")
	overrideInt(&cfg.Transcripts.RetentionDays, "VOXTYPE_TRANSCRIPTS_RETENTION_DAYS")
	overrideInt(&cfg.Transcripts.MaxSessions, "VOXTYPE_TRANSCRIPTS_MAX_SESSIONS")
	overrideBool(&cfg.Transcripts.VacuumOnStart, "VOXTYPE_TRANSCRIPTS_VACUUM_ON_START")
	overrideInt(&cfg.Session.SilenceTimeoutMS, "VOXTYPE_SESSION_SILENCE_TIMEOUT_MS")
	overrideBool(&cfg.Session.PublishPartials, "VOXTYPE_SESSION_PUBLISH_PARTIALS")
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

func validate(cfg Config) error {
	if cfg.DaemonName == "" {
		return errors.New("daemon_name must not be empty")
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
	if cfg.Pipeline.SampleRate <= 0 {
		return errors.New("pipeline.sample_rate must be positive")
	}
	if cfg.Pipeline.Channels <= 0 {
		return errors.New("pipeline.channels must be positive")
	}
	if cfg.Pipeline.BlockSize <= 0 {
		return errors.New("pipeline.block_size must be positive")
	}
	switch cfg.Pipeline.DType {
	case "int16", "int32", "float32":
		// ok
	default:
		return errors.New("pipeline.dtype must be one of int16|int32|float32")
	}
	if cfg.Pipeline.BufferSize <= 0 {
		return errors.New("pipeline.buffer_size must be positive")
	}
	if cfg.Pipeline.QueueSize <= 0 {
		return errors.New("pipeline.queue_size must be positive")
	}
	switch cfg.Audio.Mode {
	case "mock", "exec":
	default:
		return errors.New("audio.mode must be one of mock|exec")
	}
	if cfg.Audio.Mode == "exec" && cfg.Audio.Command == "" {
		return errors.New("audio.command must be set when mode=exec")
	}
	switch cfg.Recognition.Mode {
	case "mock", "exec":
	default:
		return errors.New("recognition.mode must be one of mock|exec")
	}
	if cfg.Recognition.Mode == "exec" && cfg.Recognition.Command == "" {
		return errors.New("recognition.command must be set when mode=exec")
	}
	for i, target := range cfg.Output.Targets {
		switch target.Type {
		case "keyboard", "clipboard":
			if target.Command == "" {
				return fmt.Errorf("output.targets[%d].command must be set for type=%s", i, target.Type)
			}
		case "file":
			if target.Path == "" {
				return fmt.Errorf("output.targets[%d].path must be set for type=file", i)
			}
		default:
			return fmt.Errorf("output.targets[%d].type must be one of keyboard|clipboard|file", i)
		}
	}
	if cfg.State.HistoryLimit <= 0 {
		return errors.New("state.history_limit must be positive")
	}
	if cfg.Transcripts.Path == "" {
		return errors.New("transcripts.path must not be empty")
	}
	switch cfg.Transcripts.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("transcripts.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Transcripts.RetentionDays < 0 {
		return errors.New("transcripts.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Session.SilenceTimeoutMS <= 0 {
		return errors.New("session.silence_timeout_ms must be positive")
	}
	return nil
}
