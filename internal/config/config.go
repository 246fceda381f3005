// Package config provides configuration management for Agenda.
// Settings come from built-in defaults, then an optional YAML file, then
// environment variables with the AGENDA_ prefix. Later sources win.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the Agenda application.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	LLM        LLMConfig        `yaml:"llm"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Security   SecurityConfig   `yaml:"security"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"` // Server port (default: 6464)
	Host string `yaml:"host"` // Server host (default: 127.0.0.1)

	// Per-owner request rate for the HTTP API. RateLimit <= 0 disables it.
	RateLimit      float64 `yaml:"rate_limit"`       // default: 5 req/s
	RateLimitBurst int     `yaml:"rate_limit_burst"` // default: 10
}

// StorageConfig contains database configuration.
type StorageConfig struct {
	Engine      string `yaml:"engine"`       // sqlite or postgres (default: sqlite)
	DataPath    string `yaml:"data_path"`    // directory holding agenda.db (default: ./data)
	PostgresDSN string `yaml:"postgres_dsn"` // required when Engine is postgres
}

// LLMConfig contains model provider configuration.
type LLMConfig struct {
	Provider string        `yaml:"provider"` // openai, anthropic, ollama (default: openai)
	APIKey   string        `yaml:"api_key"`
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"timeout"` // default: 60s

	RequestsPerSecond float64 `yaml:"requests_per_second"` // default: 2
	Burst             int     `yaml:"burst"`               // default: 4
}

// ExtractionConfig holds the two-tier extraction constants.
type ExtractionConfig struct {
	PrimaryModel          string  `yaml:"primary_model"`          // default: gpt-4o-mini
	EscalationModel       string  `yaml:"escalation_model"`       // default: gpt-4o
	ConfidenceThreshold   float64 `yaml:"confidence_threshold"`   // default: 0.65
	PrimaryTemperature    float64 `yaml:"primary_temperature"`    // default: 0.3
	EscalationTemperature float64 `yaml:"escalation_temperature"` // default: 0.2
}

// PipelineConfig tunes normalization, reconciliation and evidence.
type PipelineConfig struct {
	ReferenceTimezone    string        `yaml:"reference_timezone"`     // default: America/Chicago
	TimeTolerance        time.Duration `yaml:"time_tolerance"`         // default: 15m
	EvidenceExcerptLimit int           `yaml:"evidence_excerpt_limit"` // default: 1000
	MaxOccurrences       int           `yaml:"max_occurrences"`        // default: 16
	DefaultEventDuration time.Duration `yaml:"default_event_duration"` // default: 1h
	UndatedTasks         string        `yaml:"undated_tasks"`          // skip or create (default: skip)
}

// SchedulerConfig sizes the background worker pool.
type SchedulerConfig struct {
	Workers    int `yaml:"workers"`     // default: 4
	QueueSize  int `yaml:"queue_size"`  // default: 1000
	MaxRetries int `yaml:"max_retries"` // default: 3
}

// SecurityConfig contains authentication settings.
type SecurityConfig struct {
	// Mode is development or production. Production requires APIToken.
	Mode     string `yaml:"mode"`
	APIToken string `yaml:"api_token"`
}

// MaxOccurrencesLimit bounds PipelineConfig.MaxOccurrences.
const MaxOccurrencesLimit = 366

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           6464,
			Host:           "127.0.0.1",
			RateLimit:      5,
			RateLimitBurst: 10,
		},
		Storage: StorageConfig{
			Engine:   "sqlite",
			DataPath: "./data",
		},
		LLM: LLMConfig{
			Provider:          "openai",
			Timeout:           60 * time.Second,
			RequestsPerSecond: 2,
			Burst:             4,
		},
		Extraction: ExtractionConfig{
			PrimaryModel:          "gpt-4o-mini",
			EscalationModel:       "gpt-4o",
			ConfidenceThreshold:   0.65,
			PrimaryTemperature:    0.3,
			EscalationTemperature: 0.2,
		},
		Pipeline: PipelineConfig{
			ReferenceTimezone:    "America/Chicago",
			TimeTolerance:        15 * time.Minute,
			EvidenceExcerptLimit: 1000,
			MaxOccurrences:       16,
			DefaultEventDuration: time.Hour,
			UndatedTasks:         "skip",
		},
		Scheduler: SchedulerConfig{
			Workers:    4,
			QueueSize:  1000,
			MaxRetries: 3,
		},
		Security: SecurityConfig{
			Mode: "development",
		},
	}
}

// LoadConfig builds the configuration from defaults, the YAML file at path
// (skipped when path is empty; AGENDA_CONFIG is used instead if set) and
// the environment. The result is validated.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("AGENDA_CONFIG")
	}
	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile overlays the YAML file at path onto cfg. Keys absent from the
// file keep their current values.
func loadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnvInt("AGENDA_PORT", cfg.Server.Port)
	cfg.Server.Host = getEnv("AGENDA_HOST", cfg.Server.Host)
	cfg.Server.RateLimit = getEnvFloat("AGENDA_RATE_LIMIT", cfg.Server.RateLimit)
	cfg.Server.RateLimitBurst = getEnvInt("AGENDA_RATE_LIMIT_BURST", cfg.Server.RateLimitBurst)

	cfg.Storage.Engine = getEnv("AGENDA_STORAGE_ENGINE", cfg.Storage.Engine)
	cfg.Storage.DataPath = getEnv("AGENDA_DATA_PATH", cfg.Storage.DataPath)
	cfg.Storage.PostgresDSN = getEnv("AGENDA_POSTGRES_DSN", cfg.Storage.PostgresDSN)

	cfg.LLM.Provider = getEnv("AGENDA_LLM_PROVIDER", cfg.LLM.Provider)
	cfg.LLM.APIKey = getEnv("AGENDA_LLM_API_KEY", cfg.LLM.APIKey)
	cfg.LLM.BaseURL = getEnv("AGENDA_LLM_BASE_URL", cfg.LLM.BaseURL)
	cfg.LLM.Timeout = getEnvDuration("AGENDA_LLM_TIMEOUT", cfg.LLM.Timeout)
	cfg.LLM.RequestsPerSecond = getEnvFloat("AGENDA_LLM_RPS", cfg.LLM.RequestsPerSecond)
	cfg.LLM.Burst = getEnvInt("AGENDA_LLM_BURST", cfg.LLM.Burst)

	cfg.Extraction.PrimaryModel = getEnv("AGENDA_PRIMARY_MODEL", cfg.Extraction.PrimaryModel)
	cfg.Extraction.EscalationModel = getEnv("AGENDA_ESCALATION_MODEL", cfg.Extraction.EscalationModel)
	cfg.Extraction.ConfidenceThreshold = getEnvFloat("AGENDA_CONFIDENCE_THRESHOLD", cfg.Extraction.ConfidenceThreshold)
	cfg.Extraction.PrimaryTemperature = getEnvFloat("AGENDA_PRIMARY_TEMPERATURE", cfg.Extraction.PrimaryTemperature)
	cfg.Extraction.EscalationTemperature = getEnvFloat("AGENDA_ESCALATION_TEMPERATURE", cfg.Extraction.EscalationTemperature)

	cfg.Pipeline.ReferenceTimezone = getEnv("AGENDA_REFERENCE_TIMEZONE", cfg.Pipeline.ReferenceTimezone)
	cfg.Pipeline.TimeTolerance = getEnvDuration("AGENDA_TIME_TOLERANCE", cfg.Pipeline.TimeTolerance)
	cfg.Pipeline.EvidenceExcerptLimit = getEnvInt("AGENDA_EVIDENCE_EXCERPT_LIMIT", cfg.Pipeline.EvidenceExcerptLimit)
	cfg.Pipeline.MaxOccurrences = getEnvInt("AGENDA_MAX_OCCURRENCES", cfg.Pipeline.MaxOccurrences)
	cfg.Pipeline.DefaultEventDuration = getEnvDuration("AGENDA_DEFAULT_EVENT_DURATION", cfg.Pipeline.DefaultEventDuration)
	cfg.Pipeline.UndatedTasks = getEnv("AGENDA_UNDATED_TASKS", cfg.Pipeline.UndatedTasks)

	cfg.Scheduler.Workers = getEnvInt("AGENDA_WORKERS", cfg.Scheduler.Workers)
	cfg.Scheduler.QueueSize = getEnvInt("AGENDA_QUEUE_SIZE", cfg.Scheduler.QueueSize)
	cfg.Scheduler.MaxRetries = getEnvInt("AGENDA_MAX_RETRIES", cfg.Scheduler.MaxRetries)

	cfg.Security.Mode = getEnv("AGENDA_SECURITY_MODE", cfg.Security.Mode)
	cfg.Security.APIToken = getEnv("AGENDA_API_TOKEN", cfg.Security.APIToken)
}

// Validate rejects unusable or out-of-range settings.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: port must be in 1..65535, got %d", c.Server.Port)
	}

	switch c.Storage.Engine {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("config: postgres engine requires AGENDA_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("config: unsupported storage engine %q", c.Storage.Engine)
	}

	switch c.LLM.Provider {
	case "openai", "anthropic", "ollama":
	default:
		return fmt.Errorf("config: unsupported LLM provider %q", c.LLM.Provider)
	}

	e := c.Extraction
	if e.PrimaryModel == "" || e.EscalationModel == "" {
		return fmt.Errorf("config: primary and escalation models are required")
	}
	if e.ConfidenceThreshold < 0 || e.ConfidenceThreshold > 1 {
		return fmt.Errorf("config: confidence threshold must be in [0,1], got %v", e.ConfidenceThreshold)
	}
	if e.PrimaryTemperature < 0 || e.PrimaryTemperature > 2 || e.EscalationTemperature < 0 || e.EscalationTemperature > 2 {
		return fmt.Errorf("config: temperatures must be in [0,2]")
	}

	p := c.Pipeline
	if _, err := time.LoadLocation(p.ReferenceTimezone); err != nil || p.ReferenceTimezone == "" {
		return fmt.Errorf("config: unknown reference timezone %q", p.ReferenceTimezone)
	}
	if p.TimeTolerance <= 0 {
		return fmt.Errorf("config: time tolerance must be positive, got %v", p.TimeTolerance)
	}
	if p.EvidenceExcerptLimit <= 0 {
		return fmt.Errorf("config: evidence excerpt limit must be positive, got %d", p.EvidenceExcerptLimit)
	}
	if p.MaxOccurrences < 1 || p.MaxOccurrences > MaxOccurrencesLimit {
		return fmt.Errorf("config: max occurrences must be in 1..%d, got %d", MaxOccurrencesLimit, p.MaxOccurrences)
	}
	if p.DefaultEventDuration <= 0 {
		return fmt.Errorf("config: default event duration must be positive, got %v", p.DefaultEventDuration)
	}
	if p.UndatedTasks != "skip" && p.UndatedTasks != "create" {
		return fmt.Errorf("config: undated tasks policy must be skip or create, got %q", p.UndatedTasks)
	}

	if c.Scheduler.Workers < 1 || c.Scheduler.QueueSize < 1 || c.Scheduler.MaxRetries < 0 {
		return fmt.Errorf("config: invalid scheduler sizing %+v", c.Scheduler)
	}

	switch c.Security.Mode {
	case "development":
	case "production":
		if c.Security.APIToken == "" {
			return fmt.Errorf("config: production mode requires AGENDA_API_TOKEN")
		}
	default:
		return fmt.Errorf("config: unknown security mode %q", c.Security.Mode)
	}
	return nil
}

// DBPath returns the SQLite database file under DataPath.
func (c *Config) DBPath() string {
	return filepath.Join(c.Storage.DataPath, "agenda.db")
}

// BackupDir returns where SQLite snapshots are written.
func (c *Config) BackupDir() string {
	return filepath.Join(c.Storage.DataPath, "backups")
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings such as "15m" or "90s".
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
