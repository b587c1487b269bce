package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ConfigDir is the directory holding tool state inside a workspace
const ConfigDir = ".dora"

// Config represents the complete dorametrics configuration (v2 schema)
type Config struct {
	Version     int    `json:"version" mapstructure:"version" yaml:"version"`
	StoragePath string `json:"storagePath" mapstructure:"storagePath" yaml:"storagePath"`

	Extraction ExtractionConfig `json:"extraction" mapstructure:"extraction" yaml:"extraction"`
	Periods    PeriodsConfig    `json:"periods" mapstructure:"periods" yaml:"periods"`
	Policy     PolicyConfig     `json:"policy" mapstructure:"policy" yaml:"policy"`
	Retention  RetentionConfig  `json:"retention" mapstructure:"retention" yaml:"retention"`
	Logging    LoggingConfig    `json:"logging" mapstructure:"logging" yaml:"logging"`
}

// ExtractionConfig controls the commit/PR/release extractors
type ExtractionConfig struct {
	Branch       string   `json:"branch" mapstructure:"branch" yaml:"branch"`
	HotfixLabels []string `json:"hotfixLabels" mapstructure:"hotfixLabels" yaml:"hotfixLabels"`

	// GitHub coordinates; the token always comes from GITHUB_TOKEN
	Owner string `json:"owner" mapstructure:"owner" yaml:"owner"`
	Repo  string `json:"repo" mapstructure:"repo" yaml:"repo"`
}

// PeriodsConfig controls metric period bucketing
type PeriodsConfig struct {
	Granularity string `json:"granularity" mapstructure:"granularity" yaml:"granularity"` // daily, weekly, monthly, quarterly, yearly
	WeekStart   string `json:"weekStart" mapstructure:"weekStart" yaml:"weekStart"`       // Monday or Sunday
}

// PolicyConfig holds the metric policy knobs. These are threaded explicitly
// into every MetricsEngine call, never read ambiently.
type PolicyConfig struct {
	ExcludeRollbacks bool   `json:"excludeRollbacks" mapstructure:"excludeRollbacks" yaml:"excludeRollbacks"`
	FailureSource    string `json:"failureSource" mapstructure:"failureSource" yaml:"failureSource"` // hotfix, failed_flag, any
}

// RetentionConfig bounds how long archived dataset revisions are kept.
// Master-dataset rows are never pruned; only the compressed archives of
// superseded revisions age out.
type RetentionConfig struct {
	Days int `json:"days" mapstructure:"days" yaml:"days"` // 0 = keep forever
}

// LoggingConfig controls log output
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format" yaml:"format"`
	Level  string `json:"level" mapstructure:"level" yaml:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version:     2,
		StoragePath: "./dora-data",
		Extraction: ExtractionConfig{
			Branch:       "main",
			HotfixLabels: []string{"hotfix", "urgent", "critical", "emergency"},
		},
		Periods: PeriodsConfig{
			Granularity: "weekly",
			WeekStart:   "Monday",
		},
		Policy: PolicyConfig{
			ExcludeRollbacks: true,
			FailureSource:    "any",
		},
		Retention: RetentionConfig{
			Days: 0,
		},
		Logging: LoggingConfig{
			Format: "human",
			Level:  "info",
		},
	}
}

// LoadConfig loads configuration from <root>/.dora/config.yaml
func LoadConfig(root string) (*Config, error) {
	v := viper.New()

	v.SetDefault("version", 2)
	v.SetDefault("storagePath", "./dora-data")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(root, ConfigDir))

	if err := v.ReadInConfig(); err != nil {
		// Missing config means defaults, anything else is a real error
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to <root>/.dora/config.yaml
func (c *Config) Save(root string) error {
	dir := filepath.Join(root, ConfigDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0o644)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Version != 2 {
		return &ConfigError{Field: "version", Message: "unsupported config version"}
	}

	switch c.Periods.Granularity {
	case "daily", "weekly", "monthly", "quarterly", "yearly":
	default:
		return &ConfigError{Field: "periods.granularity", Message: "must be daily, weekly, monthly, quarterly, or yearly"}
	}

	switch c.Periods.WeekStart {
	case "Monday", "Sunday":
	default:
		return &ConfigError{Field: "periods.weekStart", Message: "must be Monday or Sunday"}
	}

	switch c.Policy.FailureSource {
	case "hotfix", "failed_flag", "any":
	default:
		return &ConfigError{Field: "policy.failureSource", Message: "must be hotfix, failed_flag, or any"}
	}

	if c.Retention.Days < 0 {
		return &ConfigError{Field: "retention.days", Message: "must be >= 0"}
	}

	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
