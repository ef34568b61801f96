// Package config loads and validates the relaychat server configuration.
//
// Configuration sources, in order of precedence:
//  1. CLI flags and positional arguments (highest)
//  2. Environment variables (RELAYCHAT_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest)
//
// Protocol constants (frame sizes, the 3MB file cap, room capacity, the
// transfer-queue bound) are deliberately not configurable: they are part
// of the wire contract and live as constants next to the code that
// enforces them.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the static server configuration.
type Config struct {
	// Server holds the TCP listener settings.
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Logging controls the append-only log sink.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Admin configures the optional HTTP admin/metrics endpoint.
	Admin AdminConfig `mapstructure:"admin" yaml:"admin"`
}

// ServerConfig holds the chat listener settings.
type ServerConfig struct {
	// Port is the TCP port to listen on. A positional port argument on
	// the command line overrides it.
	Port int `mapstructure:"port" yaml:"port" validate:"min=1,max=65535"`

	// MaxConnections limits concurrent client connections. 0 means
	// unlimited.
	MaxConnections int `mapstructure:"max_connections" yaml:"max_connections" validate:"min=0"`

	// ShutdownGrace is how long shutdown waits for session workers to
	// drain before force-closing their connections.
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace" yaml:"shutdown_grace" validate:"required,gt=0"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	// Level is the minimum severity: DEBUG, INFO, WARNING, ERROR.
	Level string `mapstructure:"level" yaml:"level" validate:"omitempty,oneof=DEBUG INFO WARNING ERROR"`

	// File is the log sink path, truncated on start. "stdout" and
	// "stderr" select the corresponding stream.
	File string `mapstructure:"file" yaml:"file"`
}

// AdminConfig configures the read-only HTTP admin endpoint.
type AdminConfig struct {
	// Enabled turns the endpoint on. Off by default.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP listen port.
	Port int `mapstructure:"port" yaml:"port" validate:"min=0,max=65535"`
}

// Load reads configuration from path (optional; "" skips the file),
// applies environment overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("RELAYCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	// Viper's default decoder already converts "10s"-style strings to
	// time.Duration.
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// WriteDefault writes a default configuration file to path, creating
// parent directories as needed. Fails if the file already exists.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %q already exists", path)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(defaultConfigTemplate()), 0644); err != nil {
		return fmt.Errorf("write config %q: %w", path, err)
	}
	return nil
}

// defaultConfigTemplate renders the commented default config. The
// template is asserted against Default() in tests via a yaml round
// trip.
func defaultConfigTemplate() string {
	var b strings.Builder
	b.WriteString("# relaychat server configuration\n")
	b.WriteString("# Environment overrides use the RELAYCHAT_ prefix, e.g. RELAYCHAT_SERVER_PORT.\n\n")
	fmt.Fprintf(&b, "server:\n")
	fmt.Fprintf(&b, "  port: %d\n", DefaultPort)
	fmt.Fprintf(&b, "  # 0 means unlimited concurrent connections\n")
	fmt.Fprintf(&b, "  max_connections: 0\n")
	fmt.Fprintf(&b, "  shutdown_grace: %s\n\n", DefaultShutdownGrace)
	fmt.Fprintf(&b, "logging:\n")
	fmt.Fprintf(&b, "  # DEBUG, INFO, WARNING, ERROR\n")
	fmt.Fprintf(&b, "  level: INFO\n")
	fmt.Fprintf(&b, "  # stdout, stderr, or a file path (truncated on start)\n")
	fmt.Fprintf(&b, "  file: %s\n\n", DefaultLogFile)
	fmt.Fprintf(&b, "admin:\n")
	fmt.Fprintf(&b, "  enabled: false\n")
	fmt.Fprintf(&b, "  port: %d\n", DefaultAdminPort)
	return b.String()
}
