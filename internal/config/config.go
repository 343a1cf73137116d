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
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
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

type StoreConfig struct {
	Path          string `yaml:"path"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// TranscoderConfig describes the external media converter used to
// normalize uploads into canonical WAV.
type TranscoderConfig struct {
	Command string `yaml:"command"`
}

// EngineConfig declares one recognition backend. Name is optional; when
// empty it is derived from the model file basename.
type EngineConfig struct {
	Name      string `yaml:"name"`
	Kind      string `yaml:"kind"` // vosk, whisper, mock
	ModelPath string `yaml:"model_path"`
	Language  string `yaml:"language"`
}

type Config struct {
	ServiceName string           `yaml:"service_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Store       StoreConfig      `yaml:"store"`
	Transcoder  TranscoderConfig `yaml:"transcoder"`
	Engines     []EngineConfig   `yaml:"engines"`
}

func Default() Config {
	return Config{
		ServiceName: "speechbench",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Store: StoreConfig{
			Path: "./data/speechbench.db",
		},
		Transcoder: TranscoderConfig{
			Command: "ffmpeg",
		},
		Engines: []EngineConfig{
			{Name: "vosk-large", Kind: "vosk", ModelPath: "/app/models/vosk-model-en-us-0.22-lgraph"},
			{Name: "vosk-small", Kind: "vosk", ModelPath: "/app/models/vosk-model-small-en-us-0.15"},
			{Name: "whisper-base", Kind: "whisper", ModelPath: "/app/models/ggml-base.en.bin", Language: "en"},
			{Name: "whisper-medium-en-q5", Kind: "whisper", ModelPath: "/app/models/ggml-medium.en-q5_0.bin", Language: "en"},
			{Name: "whisper-small-q51", Kind: "whisper", ModelPath: "/app/models/ggml-small.en-q5_1.bin", Language: "en"},
			{Name: "whisper-small-q8", Kind: "whisper", ModelPath: "/app/models/ggml-small.en-q8_0.bin", Language: "en"},
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
	overrideString(&cfg.ServiceName, "SPEECHBENCH_SERVICE_NAME")
	overrideString(&cfg.Environment, "SPEECHBENCH_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "SPEECHBENCH_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "SPEECHBENCH_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "SPEECHBENCH_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SPEECHBENCH_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SPEECHBENCH_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "SPEECHBENCH_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "SPEECHBENCH_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "SPEECHBENCH_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "SPEECHBENCH_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "SPEECHBENCH_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "SPEECHBENCH_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SPEECHBENCH_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SPEECHBENCH_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "SPEECHBENCH_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "SPEECHBENCH_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Store.Path, "SPEECHBENCH_STORE_PATH")
	overrideBool(&cfg.Store.VacuumOnStart, "SPEECHBENCH_STORE_VACUUM_ON_START")
	overrideString(&cfg.Transcoder.Command, "SPEECHBENCH_TRANSCODER_COMMAND")
	// FFMPEG_PATH is honored for compatibility with existing deployments.
	if cfg.Transcoder.Command == "ffmpeg" {
		overrideString(&cfg.Transcoder.Command, "FFMPEG_PATH")
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

func validate(cfg Config) error {
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	if strings.TrimSpace(cfg.Transcoder.Command) == "" {
		return errors.New("transcoder.command must not be empty")
	}
	if len(cfg.Engines) == 0 {
		return errors.New("engines must not be empty")
	}
	seen := make(map[string]struct{}, len(cfg.Engines))
	for i, engine := range cfg.Engines {
		switch engine.Kind {
		case "vosk", "whisper", "mock":
		default:
			return fmt.Errorf("engines[%d].kind must be one of vosk|whisper|mock", i)
		}
		if engine.Kind != "mock" && engine.ModelPath == "" {
			return fmt.Errorf("engines[%d].model_path must be set for kind %s", i, engine.Kind)
		}
		if engine.Name != "" {
			if _, dup := seen[engine.Name]; dup {
				return fmt.Errorf("engines[%d].name %q is declared twice", i, engine.Name)
			}
			seen[engine.Name] = struct{}{}
		}
	}
	return nil
}
