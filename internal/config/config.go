package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const envPrefix = "STTCMP_"

type Config struct {
	SamplesDir       string           `yaml:"samples_dir"`
	OutputDir        string           `yaml:"output_dir"`
	Models           []string         `yaml:"models"`
	File             string           `yaml:"file"`
	ReuseTranscripts bool             `yaml:"reuse_transcripts"`
	TimestampDir     bool             `yaml:"timestamp_dir"`
	Concurrency      int              `yaml:"concurrency"`
	Provider         ProviderConfig   `yaml:"provider"`
	Normalize        NormalizeConfig  `yaml:"normalize"`
	Tokenizer        TokenizerConfig  `yaml:"tokenizer"`
	Telemetry        TelemetryConfig  `yaml:"telemetry"`
	EventStore       EventStoreConfig `yaml:"event_store"`
	Bus              BusConfig        `yaml:"bus"`
	Archive          ArchiveConfig    `yaml:"archive"`
	HTTP             HTTPConfig       `yaml:"http"`
}

// ProviderConfig selects and tunes the transcription backend.
type ProviderConfig struct {
	Kind             string `yaml:"kind"` // watson, google, exec, mock
	URL              string `yaml:"url"`
	APIKey           string `yaml:"api_key"`
	CredentialsFile  string `yaml:"credentials_file"`
	Command          string `yaml:"command"`
	Language         string `yaml:"language"`
	TimeoutMS        int    `yaml:"timeout_ms"`
	MaxAttempts      int    `yaml:"max_attempts"`
	InitialBackoffMS int    `yaml:"initial_backoff_ms"`
	MaxBackoffMS     int    `yaml:"max_backoff_ms"`
	RateLimitPerMin  int    `yaml:"rate_limit_per_min"`
}

type NormalizeConfig struct {
	NFKC                  bool `yaml:"nfkc"`
	WidthFold             bool `yaml:"width_fold"`
	StripControl          bool `yaml:"strip_control"`
	StripPunctuation      bool `yaml:"strip_punctuation"`
	FoldCase              bool `yaml:"fold_case"`
	StripHypothesisSpaces bool `yaml:"strip_hypothesis_spaces"`
}

type TokenizerConfig struct {
	Kind string `yaml:"kind"` // kagome, whitespace
	Mode string `yaml:"mode"` // normal, search, extended
}

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	TraceExporter  string `yaml:"trace_exporter"` // none, stdout, otlp
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRuns       int    `yaml:"max_runs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	SubjectPrefix  string   `yaml:"subject_prefix"`
}

type ArchiveConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	UseSSL          bool   `yaml:"use_ssl"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

func Default() Config {
	return Config{
		SamplesDir:   "samples",
		OutputDir:    "output",
		Models:       []string{"ja-JP_BroadbandModel", "ja-JP"},
		TimestampDir: true,
		Concurrency:  2,
		Provider: ProviderConfig{
			Kind:             "watson",
			TimeoutMS:        120000,
			MaxAttempts:      3,
			InitialBackoffMS: 1000,
			MaxBackoffMS:     8000,
			RateLimitPerMin:  60,
		},
		Normalize: NormalizeConfig{
			NFKC:                  true,
			WidthFold:             true,
			StripControl:          true,
			StripPunctuation:      true,
			FoldCase:              true,
			StripHypothesisSpaces: true,
		},
		Tokenizer: TokenizerConfig{
			Kind: "kagome",
			Mode: "normal",
		},
		Telemetry: TelemetryConfig{
			LogLevel:      "info",
			LogFormat:     "text",
			TraceExporter: "none",
			OTLPInsecure:  true,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/sttcompare.db",
			RetentionMode: "persistent",
			RetentionDays: 90,
			MaxRuns:       500,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       false,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			SubjectPrefix:  "eval",
		},
		Archive: ArchiveConfig{
			UseSSL: true,
		},
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8080,
		},
	}
}

// Load reads path (optional), applies environment overrides and validates.
// Path checks that touch the filesystem are left to Preflight.
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
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// Watson credentials keep their conventional names.
	overrideString(&cfg.Provider.APIKey, "WATSON_API_KEY")
	overrideString(&cfg.Provider.URL, "WATSON_URL")

	overrideString(&cfg.SamplesDir, envPrefix+"SAMPLES_DIR")
	overrideString(&cfg.OutputDir, envPrefix+"OUTPUT_DIR")
	overrideStringSlice(&cfg.Models, envPrefix+"MODELS")
	overrideBool(&cfg.ReuseTranscripts, envPrefix+"REUSE_TRANSCRIPTS")
	overrideInt(&cfg.Concurrency, envPrefix+"CONCURRENCY")
	overrideString(&cfg.Provider.Kind, envPrefix+"PROVIDER_KIND")
	overrideString(&cfg.Provider.URL, envPrefix+"PROVIDER_URL")
	overrideString(&cfg.Provider.APIKey, envPrefix+"PROVIDER_API_KEY")
	overrideString(&cfg.Provider.CredentialsFile, envPrefix+"PROVIDER_CREDENTIALS_FILE")
	overrideString(&cfg.Provider.Command, envPrefix+"PROVIDER_COMMAND")
	overrideString(&cfg.Provider.Language, envPrefix+"PROVIDER_LANGUAGE")
	overrideInt(&cfg.Provider.TimeoutMS, envPrefix+"PROVIDER_TIMEOUT_MS")
	overrideInt(&cfg.Provider.MaxAttempts, envPrefix+"PROVIDER_MAX_ATTEMPTS")
	overrideInt(&cfg.Provider.InitialBackoffMS, envPrefix+"PROVIDER_INITIAL_BACKOFF_MS")
	overrideInt(&cfg.Provider.MaxBackoffMS, envPrefix+"PROVIDER_MAX_BACKOFF_MS")
	overrideInt(&cfg.Provider.RateLimitPerMin, envPrefix+"PROVIDER_RATE_LIMIT_PER_MIN")
	overrideString(&cfg.Tokenizer.Kind, envPrefix+"TOKENIZER_KIND")
	overrideString(&cfg.Tokenizer.Mode, envPrefix+"TOKENIZER_MODE")
	overrideString(&cfg.Telemetry.LogLevel, envPrefix+"TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFormat, envPrefix+"TELEMETRY_LOG_FORMAT")
	overrideString(&cfg.Telemetry.TraceExporter, envPrefix+"TELEMETRY_TRACE_EXPORTER")
	overrideString(&cfg.Telemetry.OTLPEndpoint, envPrefix+"TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, envPrefix+"TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, envPrefix+"TELEMETRY_PROMETHEUS_BIND")
	overrideString(&cfg.EventStore.Path, envPrefix+"EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, envPrefix+"EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, envPrefix+"EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxRuns, envPrefix+"EVENT_STORE_MAX_RUNS")
	overrideBool(&cfg.EventStore.VacuumOnStart, envPrefix+"EVENT_STORE_VACUUM_ON_START")
	overrideBool(&cfg.Bus.Enabled, envPrefix+"BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, envPrefix+"BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, envPrefix+"BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, envPrefix+"BUS_SERVERS")
	overrideString(&cfg.Bus.Username, envPrefix+"BUS_USERNAME")
	overrideString(&cfg.Bus.Password, envPrefix+"BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, envPrefix+"BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, envPrefix+"BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, envPrefix+"BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Bus.SubjectPrefix, envPrefix+"BUS_SUBJECT_PREFIX")
	overrideBool(&cfg.Archive.Enabled, envPrefix+"ARCHIVE_ENABLED")
	overrideString(&cfg.Archive.Endpoint, envPrefix+"ARCHIVE_ENDPOINT")
	overrideString(&cfg.Archive.AccessKeyID, envPrefix+"ARCHIVE_ACCESS_KEY_ID")
	overrideString(&cfg.Archive.SecretAccessKey, envPrefix+"ARCHIVE_SECRET_ACCESS_KEY")
	overrideString(&cfg.Archive.Bucket, envPrefix+"ARCHIVE_BUCKET")
	overrideString(&cfg.Archive.Prefix, envPrefix+"ARCHIVE_PREFIX")
	overrideBool(&cfg.Archive.UseSSL, envPrefix+"ARCHIVE_USE_SSL")
	overrideString(&cfg.HTTP.Bind, envPrefix+"HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, envPrefix+"HTTP_PORT")
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

// Validate checks values that do not depend on the filesystem.
func (cfg Config) Validate() error {
	if cfg.SamplesDir == "" {
		return errors.New("samples_dir must not be empty")
	}
	if cfg.OutputDir == "" {
		return errors.New("output_dir must not be empty")
	}
	if len(cfg.Models) == 0 {
		return errors.New("models must not be empty")
	}
	seen := make(map[string]struct{}, len(cfg.Models))
	for _, m := range cfg.Models {
		if strings.TrimSpace(m) == "" {
			return errors.New("models must not contain empty identifiers")
		}
		if _, dup := seen[m]; dup {
			return fmt.Errorf("model %q listed twice", m)
		}
		seen[m] = struct{}{}
	}
	if cfg.Concurrency <= 0 {
		return errors.New("concurrency must be >= 1")
	}
	switch cfg.Provider.Kind {
	case "watson", "google", "exec", "mock":
	default:
		return errors.New("provider.kind must be one of watson|google|exec|mock")
	}
	if cfg.Provider.Kind == "exec" && cfg.Provider.Command == "" {
		return errors.New("provider.command must be set when kind=exec")
	}
	if cfg.Provider.TimeoutMS <= 0 {
		return errors.New("provider.timeout_ms must be positive")
	}
	if cfg.Provider.MaxAttempts <= 0 {
		return errors.New("provider.max_attempts must be >= 1")
	}
	if cfg.Provider.InitialBackoffMS < 0 || cfg.Provider.MaxBackoffMS < cfg.Provider.InitialBackoffMS {
		return errors.New("provider backoff must satisfy 0 <= initial_backoff_ms <= max_backoff_ms")
	}
	if cfg.Provider.RateLimitPerMin < 0 {
		return errors.New("provider.rate_limit_per_min must be >= 0")
	}
	switch cfg.Tokenizer.Kind {
	case "kagome", "whitespace":
	default:
		return errors.New("tokenizer.kind must be one of kagome|whitespace")
	}
	switch cfg.Tokenizer.Mode {
	case "", "normal", "search", "extended":
	default:
		return errors.New("tokenizer.mode must be one of normal|search|extended")
	}
	switch cfg.Telemetry.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("telemetry.log_level must be debug, info, warn, or error, got %q", cfg.Telemetry.LogLevel)
	}
	switch cfg.Telemetry.LogFormat {
	case "text", "json":
	default:
		return errors.New("telemetry.log_format must be text or json")
	}
	switch cfg.Telemetry.TraceExporter {
	case "none", "stdout":
	case "otlp":
		if cfg.Telemetry.OTLPEndpoint == "" {
			return errors.New("telemetry.otlp_endpoint must be set when trace_exporter=otlp")
		}
	default:
		return errors.New("telemetry.trace_exporter must be one of none|stdout|otlp")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral":
	case "persistent":
		if cfg.EventStore.Path == "" {
			return errors.New("event_store.path must not be empty when retention_mode=persistent")
		}
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 || cfg.EventStore.MaxRuns < 0 {
		return errors.New("event_store retention limits must be >= 0")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Bus.SubjectPrefix == "" {
			return errors.New("bus.subject_prefix must not be empty")
		}
	}
	if cfg.Archive.Enabled {
		if cfg.Archive.Endpoint == "" || cfg.Archive.Bucket == "" {
			return errors.New("archive.endpoint and archive.bucket must be set when archive is enabled")
		}
		if cfg.Archive.AccessKeyID == "" || cfg.Archive.SecretAccessKey == "" {
			return errors.New("archive credentials must be set when archive is enabled")
		}
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	return nil
}

// Preflight runs the batch-level checks that must pass before any sample is
// processed: directories and provider credentials.
func (cfg Config) Preflight() error {
	info, err := os.Stat(cfg.SamplesDir)
	if err != nil {
		return fmt.Errorf("samples dir %s: %w", cfg.SamplesDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("samples dir %s is not a directory", cfg.SamplesDir)
	}
	if info, err := os.Stat(cfg.OutputDir); err == nil && !info.IsDir() {
		return fmt.Errorf("output dir %s is not a directory", cfg.OutputDir)
	}
	if cfg.ReuseTranscripts {
		return nil
	}
	switch cfg.Provider.Kind {
	case "watson":
		if cfg.Provider.APIKey == "" || cfg.Provider.URL == "" {
			return errors.New("watson provider requires api_key and url (WATSON_API_KEY / WATSON_URL)")
		}
	case "google":
		if cfg.Provider.CredentialsFile != "" {
			if _, err := os.Stat(cfg.Provider.CredentialsFile); err != nil {
				return fmt.Errorf("google credentials file: %w", err)
			}
		}
	}
	return nil
}
