package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/efebarandurmaz/linkage/internal/embedding"
	"github.com/efebarandurmaz/linkage/internal/secrets"
)

// EnvPrefix prefixes every environment override, e.g. LINKAGE_MODEL_DEVICE.
const EnvPrefix = "LINKAGE"

// Config holds all application configuration.
type Config struct {
	Version  string         `mapstructure:"version"`
	Model    ModelConfig    `mapstructure:"model"`
	Matching MatchingConfig `mapstructure:"matching"`
	Explain  ExplainConfig  `mapstructure:"explain"`
	Data     DataConfig     `mapstructure:"data"`
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Graph    GraphConfig    `mapstructure:"graph"`
	Vector   VectorConfig   `mapstructure:"vector"`
	Temporal TemporalConfig `mapstructure:"temporal"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Secrets  SecretsConfig  `mapstructure:"secrets"`
	Log      LogConfig      `mapstructure:"log"`
}

type ModelConfig struct {
	Backend      string `mapstructure:"backend"` // hash, onnx, openai, google
	Name         string `mapstructure:"name"`
	Path         string `mapstructure:"path"`
	Device       string `mapstructure:"device"`
	MaxSeqLength int    `mapstructure:"max_seq_length"`
	BatchSize    int    `mapstructure:"batch_size"`
	Dimensions   int    `mapstructure:"dimensions"`
	APIKey       string `mapstructure:"api_key"`
	BaseURL      string `mapstructure:"base_url"`
	LibraryPath  string `mapstructure:"library_path"` // onnxruntime shared library

	MaxRetries        int `mapstructure:"max_retries"`
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

// BackendConfig converts the model section for the embedding factory.
// ModelPath is left empty so the backend loads the base model; the saved
// path is used by LoadFineTuned.
func (m ModelConfig) BackendConfig() embedding.BackendConfig {
	return embedding.BackendConfig{
		Backend:      m.Backend,
		Model:        m.Name,
		Device:       m.Device,
		MaxSeqLength: m.MaxSeqLength,
		APIKey:       m.APIKey,
		BaseURL:      m.BaseURL,
		Dimensions:   m.Dimensions,
		LibraryPath:  m.LibraryPath,
	}
}

// RemoteConfig returns retry and pacing settings for API backends.
func (m ModelConfig) RemoteConfig() embedding.RemoteConfig {
	rc := embedding.DefaultRemoteConfig()
	rc.MaxRetries = m.MaxRetries
	rc.RequestsPerMinute = m.RequestsPerMinute
	return rc
}

type MatchingConfig struct {
	Threshold float64 `mapstructure:"threshold"`
}

type ExplainConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	UseEncoder  bool `mapstructure:"use_encoder"`
	MaxSamples  int  `mapstructure:"max_samples"`
	NumFeatures int  `mapstructure:"num_features"`
}

type DataConfig struct {
	RawDir string `mapstructure:"raw_dir"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	HealthAddr      string        `mapstructure:"health_addr"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig configures run history. An empty path disables it.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// GraphConfig configures the Neo4j match graph. An empty URI disables it.
type GraphConfig struct {
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// VectorConfig selects the candidate index: memory, qdrant, pgvector or
// empty for none.
type VectorConfig struct {
	Backend    string `mapstructure:"backend"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
	DSN        string `mapstructure:"dsn"`
}

type TemporalConfig struct {
	Host      string `mapstructure:"host"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Environment string  `mapstructure:"environment"`
}

// SecretsConfig selects where empty credentials (model.api_key,
// graph.password, vector.dsn) are looked up: env, file or vault.
type SecretsConfig struct {
	Provider   string `mapstructure:"provider"`
	File       string `mapstructure:"file"`
	VaultAddr  string `mapstructure:"vault_addr"`
	VaultToken string `mapstructure:"vault_token"`
	VaultMount string `mapstructure:"vault_mount"`
	VaultPath  string `mapstructure:"vault_path"`
}

// ManagerConfig converts the section for secrets.NewManager.
func (s SecretsConfig) ManagerConfig() *secrets.Config {
	cfg := &secrets.Config{Provider: s.Provider, EnvPrefix: EnvPrefix + "_"}
	switch s.Provider {
	case "file":
		cfg.File = &secrets.FileConfig{Path: s.File}
	case "vault":
		cfg.Vault = &secrets.VaultConfig{
			Address:    s.VaultAddr,
			Token:      s.VaultToken,
			MountPath:  s.VaultMount,
			SecretPath: s.VaultPath,
		}
	}
	return cfg
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Logger builds a slog logger writing to w.
func (l LogConfig) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(l.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// SetDefaults registers every key so env-only operation works.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("version", "0.1.0")

	v.SetDefault("model.backend", "hash")
	v.SetDefault("model.name", "sentence-transformers/all-MiniLM-L6-v2")
	v.SetDefault("model.path", "./models_saved")
	v.SetDefault("model.device", embedding.DeviceCPU)
	v.SetDefault("model.max_seq_length", 128)
	v.SetDefault("model.batch_size", embedding.DefaultBatchSize)
	v.SetDefault("model.dimensions", 0)
	v.SetDefault("model.api_key", "")
	v.SetDefault("model.base_url", "")
	v.SetDefault("model.library_path", "")
	v.SetDefault("model.max_retries", 3)
	v.SetDefault("model.requests_per_minute", 300)

	v.SetDefault("matching.threshold", 0.75)

	v.SetDefault("explain.enabled", true)
	v.SetDefault("explain.use_encoder", true)
	v.SetDefault("explain.max_samples", 100)
	v.SetDefault("explain.num_features", 10)

	v.SetDefault("data.raw_dir", "./data/raw")

	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.health_addr", ":8081")
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000", "http://localhost:5173"})
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("store.path", "")

	v.SetDefault("graph.uri", "")
	v.SetDefault("graph.username", "neo4j")
	v.SetDefault("graph.password", "")

	v.SetDefault("vector.backend", "")
	v.SetDefault("vector.host", "localhost")
	v.SetDefault("vector.port", 6334)
	v.SetDefault("vector.collection", "records")
	v.SetDefault("vector.dsn", "")

	v.SetDefault("temporal.host", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "linkage")

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.environment", "development")

	v.SetDefault("secrets.provider", "env")
	v.SetDefault("secrets.file", "")
	v.SetDefault("secrets.vault_addr", "")
	v.SetDefault("secrets.vault_token", "")
	v.SetDefault("secrets.vault_mount", "secret")
	v.SetDefault("secrets.vault_path", "linkage")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

var (
	knownBackends = map[string]bool{"hash": true, "onnx": true, "openai": true, "google": true}
	knownDevices  = map[string]bool{embedding.DeviceCPU: true, embedding.DeviceCUDA: true, embedding.DeviceAuto: true}
	knownVectors  = map[string]bool{"": true, "memory": true, "qdrant": true, "pgvector": true}
	knownSecrets  = map[string]bool{"": true, "env": true, "file": true, "vault": true}
)

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	if c.Model.Backend != "" && !knownBackends[c.Model.Backend] {
		warnings = append(warnings, fmt.Sprintf("model backend '%s' is not registered", c.Model.Backend))
	}
	if (c.Model.Backend == "openai" || c.Model.Backend == "google") && c.Model.APIKey == "" {
		warnings = append(warnings, fmt.Sprintf("model backend '%s' is configured but api_key is empty", c.Model.Backend))
	}
	if c.Model.Device != "" && !knownDevices[c.Model.Device] {
		warnings = append(warnings, fmt.Sprintf("model device '%s' is not one of cpu, cuda, auto", c.Model.Device))
	}
	if c.Model.BatchSize < 0 {
		warnings = append(warnings, fmt.Sprintf("model batch_size %d is negative", c.Model.BatchSize))
	}
	if c.Matching.Threshold < 0 || c.Matching.Threshold > 1 {
		warnings = append(warnings, fmt.Sprintf("matching threshold %.2f is outside [0.0, 1.0]", c.Matching.Threshold))
	}
	if c.Explain.MaxSamples < 0 {
		warnings = append(warnings, fmt.Sprintf("explain max_samples %d is negative", c.Explain.MaxSamples))
	}
	if !knownVectors[c.Vector.Backend] {
		warnings = append(warnings, fmt.Sprintf("vector backend '%s' is not one of memory, qdrant, pgvector", c.Vector.Backend))
	}
	if c.Vector.Backend == "pgvector" && c.Vector.DSN == "" && c.Secrets.Provider != "file" && c.Secrets.Provider != "vault" {
		warnings = append(warnings, "vector backend 'pgvector' is configured but dsn is empty")
	}
	if !knownSecrets[c.Secrets.Provider] {
		warnings = append(warnings, fmt.Sprintf("secrets provider '%s' is not one of env, file, vault", c.Secrets.Provider))
	}
	if c.Secrets.Provider == "file" && c.Secrets.File == "" {
		warnings = append(warnings, "secrets provider 'file' is configured but file is empty")
	}
	if c.Secrets.Provider == "vault" && (c.Secrets.VaultAddr == "" || c.Secrets.VaultToken == "") {
		warnings = append(warnings, "secrets provider 'vault' needs vault_addr and vault_token")
	}

	return warnings
}

// Load reads configuration from a .env file, an optional config file and
// the environment. With an empty path it looks for linkage.yaml in the
// working directory and falls back to defaults when there is none.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}

	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	} else {
		v.SetConfigName("linkage")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if warnings := cfg.Validate(); len(warnings) > 0 {
		for _, warning := range warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
		}
	}

	return &cfg, nil
}
