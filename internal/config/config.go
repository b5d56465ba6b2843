// Package config loads server configuration from a YAML file and
// FORUMMOD_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level server configuration.
type Config struct {
	Server     ServerConfig      `mapstructure:"server"`
	Database   DatabaseConfig    `mapstructure:"database"`
	Logging    LoggingConfig     `mapstructure:"logging"`
	Classifier ClassifierConfig  `mapstructure:"classifier"`
	Courses    map[string]string `mapstructure:"courses"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig selects and configures the storage backend.
type DatabaseConfig struct {
	// Driver is "sqlite" or "bolt".
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	// Level is a zerolog level name ("debug", "info", ...).
	Level string `mapstructure:"level"`
	// Format is "json" or "console".
	Format string `mapstructure:"format"`
}

// ClassifierConfig configures the external content-classification API.
// An empty APIURL disables the classifier.
type ClassifierConfig struct {
	APIURL         string        `mapstructure:"api_url"`
	ClientID       string        `mapstructure:"client_id"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	FlagThreshold  float64       `mapstructure:"flag_threshold"`
}

// Load reads configuration from the given file. An empty path loads defaults
// and environment variables only. Environment variables use the FORUMMOD_
// prefix with underscores for nesting, e.g. FORUMMOD_DATABASE_DRIVER.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("FORUMMOD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite", "bolt":
	default:
		return fmt.Errorf("unsupported database driver %q (want sqlite or bolt)", c.Database.Driver)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unsupported logging format %q (want json or console)", c.Logging.Format)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/forummod.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("classifier.api_url", "")
	v.SetDefault("classifier.client_id", "forummod")
	v.SetDefault("classifier.connect_timeout", 5*time.Second)
	v.SetDefault("classifier.read_timeout", 30*time.Second)
	v.SetDefault("classifier.flag_threshold", 0.8)
}
