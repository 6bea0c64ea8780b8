// Package config loads the repolens configuration from .repolens/config.json.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// ConfigDirName is the dot-directory holding config and data files.
const ConfigDirName = ".repolens"

// Config is the complete repolens configuration.
type Config struct {
	Version int `json:"version" mapstructure:"version"`

	Server  ServerConfig  `json:"server" mapstructure:"server"`
	Git     GitConfig     `json:"git" mapstructure:"git"`
	Stages  StagesConfig  `json:"stages" mapstructure:"stages"`
	Pool    PoolConfig    `json:"pool" mapstructure:"pool"`
	Store   StoreConfig   `json:"store" mapstructure:"store"`
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Addr string `json:"addr" mapstructure:"addr"`
	// AuthTokenHash is the bcrypt hash of the API token. Empty disables auth.
	AuthTokenHash string `json:"authTokenHash,omitempty" mapstructure:"authTokenHash"`
}

// GitConfig configures fingerprint probing and repository materialization.
type GitConfig struct {
	CloneDir    string `json:"cloneDir" mapstructure:"cloneDir"`
	CloneDepth  int    `json:"cloneDepth" mapstructure:"cloneDepth"`
	ProbeTimeoutMs int `json:"probeTimeoutMs" mapstructure:"probeTimeoutMs"`
	CloneTimeoutMs int `json:"cloneTimeoutMs" mapstructure:"cloneTimeoutMs"`
}

// StageConfig configures one pipeline stage: the ordered strategy list
// (first entry is the primary, the rest are fallbacks) and whether a failed
// stage fails the whole job.
type StageConfig struct {
	Strategies []string `json:"strategies" mapstructure:"strategies"`
	Required   bool     `json:"required" mapstructure:"required"`
	TimeoutMs  int      `json:"timeoutMs" mapstructure:"timeoutMs"`
}

// StagesConfig configures the per-repository pipeline stages.
type StagesConfig struct {
	Structural StageConfig `json:"structural" mapstructure:"structural"`
	TechStack  StageConfig `json:"techstack" mapstructure:"techstack"`
	// MaxFileSizeBytes caps the size of files read during analysis.
	MaxFileSizeBytes int64 `json:"maxFileSizeBytes" mapstructure:"maxFileSizeBytes"`
	// ScipIndexPath is the repository-relative path of a prebuilt SCIP
	// index used by the "scip" structural strategy.
	ScipIndexPath string `json:"scipIndexPath" mapstructure:"scipIndexPath"`
}

// PoolConfig bounds concurrent analysis jobs.
type PoolConfig struct {
	Workers   int `json:"workers" mapstructure:"workers"`
	QueueSize int `json:"queueSize" mapstructure:"queueSize"`
}

// StoreConfig configures the analysis record store.
type StoreConfig struct {
	Path string `json:"path" mapstructure:"path"`
	// CompressPayloads zstd-compresses stage payloads at rest.
	CompressPayloads bool `json:"compressPayloads" mapstructure:"compressPayloads"`
	RetentionDays    int  `json:"retentionDays" mapstructure:"retentionDays"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format"`
	Level  string `json:"level" mapstructure:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Server: ServerConfig{
			Addr: "127.0.0.1:8750",
		},
		Git: GitConfig{
			CloneDir:       filepath.Join(ConfigDirName, "repos"),
			CloneDepth:     1,
			ProbeTimeoutMs: 15000,
			CloneTimeoutMs: 120000,
		},
		Stages: StagesConfig{
			Structural: StageConfig{
				Strategies: []string{"treesitter", "textscan"},
				Required:   true,
				TimeoutMs:  120000,
			},
			TechStack: StageConfig{
				Strategies: []string{"manifest", "extension"},
				Required:   true,
				TimeoutMs:  60000,
			},
			MaxFileSizeBytes: 1_000_000,
			ScipIndexPath:    "index.scip",
		},
		Pool: PoolConfig{
			Workers:   4,
			QueueSize: 64,
		},
		Store: StoreConfig{
			Path:             filepath.Join(ConfigDirName, "repolens.db"),
			CompressPayloads: true,
			RetentionDays:    90,
		},
		Logging: LoggingConfig{
			Format: "human",
			Level:  "info",
		},
	}
}

// LoadConfig loads configuration from <root>/.repolens/config.json, falling
// back to defaults when no config file exists.
func LoadConfig(root string) (*Config, error) {
	v := viper.New()

	v.SetDefault("version", 1)

	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(filepath.Join(root, ConfigDirName))

	if err := v.ReadInConfig(); err != nil {
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

// Save writes the configuration to <root>/.repolens/config.json.
func (c *Config) Save(root string) error {
	dir := filepath.Join(root, ConfigDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	if c.Version != 1 {
		return &ConfigError{Field: "version", Message: "unsupported config version"}
	}
	if c.Pool.Workers <= 0 {
		return &ConfigError{Field: "pool.workers", Message: "must be positive"}
	}
	if len(c.Stages.Structural.Strategies) == 0 {
		return &ConfigError{Field: "stages.structural.strategies", Message: "at least one strategy required"}
	}
	if len(c.Stages.TechStack.Strategies) == 0 {
		return &ConfigError{Field: "stages.techstack.strategies", Message: "at least one strategy required"}
	}
	return nil
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
