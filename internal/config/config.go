// Package config loads control tower configuration from YAML with
// environment-variable overrides for secrets and deployment paths.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all control tower configuration.
type Config struct {
	// Database is the structured store holding the supply chain tables.
	Database DatabaseConfig `yaml:"database"`

	// Oracle configures the embedding/generation backend.
	Oracle OracleConfig `yaml:"oracle"`

	// Catalog configures the schema descriptor catalog.
	Catalog CatalogConfig `yaml:"catalog"`

	// Engine configures the self-healing query execution engine.
	Engine EngineConfig `yaml:"engine"`

	// Watchdog configures the autonomous monitoring run.
	Watchdog WatchdogConfig `yaml:"watchdog"`
}

// DatabaseConfig configures the SQLite structured store.
type DatabaseConfig struct {
	Path         string `yaml:"path"`
	QueryTimeout string `yaml:"query_timeout"` // Go duration, default 30s
}

// OracleConfig configures the similarity oracle.
type OracleConfig struct {
	Provider string `yaml:"provider"` // "genai" or "ollama"
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`

	EmbedModel     string `yaml:"embed_model"`
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	Timeout        string `yaml:"timeout"`
}

// CatalogConfig configures descriptor storage and retrieval.
type CatalogConfig struct {
	Path string `yaml:"path"`

	// MaxSlice caps how many descriptors a retrieval may return.
	MaxSlice int `yaml:"max_slice"`

	// MinSimilarity filters descriptors below this normalized score.
	MinSimilarity float64 `yaml:"min_similarity"`

	// SpecDir holds the YAML table specs consumed by catalog build.
	SpecDir string `yaml:"spec_dir"`
}

// EngineConfig configures the query execution engine.
type EngineConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	RowLimit    int `yaml:"row_limit"`
}

// WatchdogConfig configures the autonomous scan.
type WatchdogConfig struct {
	ExpiryAlertDays     int     `yaml:"expiry_alert_days"`
	ProjectionWeeks     int     `yaml:"projection_weeks"`
	EnrollmentLookback  int     `yaml:"enrollment_lookback_months"`
	Interval            string  `yaml:"interval"`
	ReportDir           string  `yaml:"report_dir"`
	CriticalShortfallAt float64 `yaml:"critical_shortfall_at"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Path:         "data/supply.db",
			QueryTimeout: "30s",
		},
		Oracle: OracleConfig{
			Provider:       "genai",
			Model:          "gemini-2.0-flash",
			EmbedModel:     "gemini-embedding-001",
			OllamaEndpoint: "http://localhost:11434",
			Timeout:        "30s",
		},
		Catalog: CatalogConfig{
			Path:          "data/catalog.db",
			MaxSlice:      5,
			MinSimilarity: 0.3,
			SpecDir:       "schemas",
		},
		Engine: EngineConfig{
			MaxAttempts: 3,
			RowLimit:    100,
		},
		Watchdog: WatchdogConfig{
			ExpiryAlertDays:     90,
			ProjectionWeeks:     8,
			EnrollmentLookback:  1,
			Interval:            "24h",
			ReportDir:           "reports",
			CriticalShortfallAt: -50,
		},
	}
}

// Load reads the YAML config at path, applying defaults for missing fields
// and environment overrides on top. A missing file is not an error; the
// defaults are returned.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	return cfg, cfg.Validate()
}

// applyEnvOverrides lets deployments set secrets without touching the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TOWER_API_KEY"); v != "" {
		cfg.Oracle.APIKey = v
	}
	if v := os.Getenv("TOWER_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("TOWER_CATALOG_PATH"); v != "" {
		cfg.Catalog.Path = v
	}
	if v := os.Getenv("TOWER_ORACLE_PROVIDER"); v != "" {
		cfg.Oracle.Provider = v
	}
}

// Validate rejects configurations the engine cannot honor.
func (c Config) Validate() error {
	if c.Catalog.MaxSlice < 1 || c.Catalog.MaxSlice > 5 {
		return fmt.Errorf("catalog.max_slice must be between 1 and 5, got %d", c.Catalog.MaxSlice)
	}
	if c.Engine.MaxAttempts != 3 {
		return fmt.Errorf("engine.max_attempts is fixed at 3, got %d", c.Engine.MaxAttempts)
	}
	if _, err := time.ParseDuration(c.Database.QueryTimeout); err != nil {
		return fmt.Errorf("invalid database.query_timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.Oracle.Timeout); err != nil {
		return fmt.Errorf("invalid oracle.timeout: %w", err)
	}
	return nil
}

// QueryTimeout returns the parsed store timeout.
func (c Config) QueryTimeout() time.Duration {
	d, err := time.ParseDuration(c.Database.QueryTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// CallTimeout returns the parsed per-call oracle deadline.
func (o OracleConfig) CallTimeout() time.Duration {
	d, err := time.ParseDuration(o.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}
