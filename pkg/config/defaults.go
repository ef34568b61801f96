package config

import (
	"time"

	"github.com/spf13/viper"
)

// Default values applied when neither the config file nor the
// environment provides a setting.
const (
	// DefaultPort is the chat listener port.
	DefaultPort = 5000

	// DefaultShutdownGrace bounds how long shutdown waits for session
	// workers to drain.
	DefaultShutdownGrace = 3 * time.Second

	// DefaultLogFile is truncated on every server start.
	DefaultLogFile = "server.log"

	// DefaultAdminPort serves /healthz, /metrics, and the v1 snapshots
	// when the admin endpoint is enabled.
	DefaultAdminPort = 9090
)

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           DefaultPort,
			MaxConnections: 0,
			ShutdownGrace:  DefaultShutdownGrace,
		},
		Logging: LoggingConfig{
			Level: "INFO",
			File:  DefaultLogFile,
		},
		Admin: AdminConfig{
			Enabled: false,
			Port:    DefaultAdminPort,
		},
	}
}

// setDefaults seeds viper with the default values so partial config
// files only need to name what they change.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.max_connections", 0)
	v.SetDefault("server.shutdown_grace", DefaultShutdownGrace)
	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.file", DefaultLogFile)
	v.SetDefault("admin.enabled", false)
	v.SetDefault("admin.port", DefaultAdminPort)
}
