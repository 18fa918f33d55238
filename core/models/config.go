package models

import (
	"os"
	"path/filepath"
	"time"
)

// Config represents the main configuration structure
type Config struct {
	// HTTP API server configuration
	Server ServerConfig `json:"server" yaml:"server" mapstructure:"server"`

	// SSH tunnel configuration
	SSH SSHConfig `json:"ssh" yaml:"ssh" mapstructure:"ssh"`

	// Logging configuration
	Logging LoggingConfig `json:"logging" yaml:"logging" mapstructure:"logging"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage" mapstructure:"storage"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string        `json:"host" yaml:"host" mapstructure:"host"`
	Port         int           `json:"port" yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout" mapstructure:"idle_timeout"`
	CORS         CORSConfig    `json:"cors" yaml:"cors" mapstructure:"cors"`
}

// CORSConfig contains CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" mapstructure:"allowed_origins"`
	AllowedMethods []string `json:"allowed_methods" yaml:"allowed_methods" mapstructure:"allowed_methods"`
	AllowedHeaders []string `json:"allowed_headers" yaml:"allowed_headers" mapstructure:"allowed_headers"`
}

// SSHConfig contains SSH tunnel client configuration
type SSHConfig struct {
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout" mapstructure:"connect_timeout"`
	KeepAlive      time.Duration `json:"keep_alive" yaml:"keep_alive" mapstructure:"keep_alive"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level" mapstructure:"level"`
	Format     string `json:"format" yaml:"format" mapstructure:"format"`
	Output     string `json:"output" yaml:"output" mapstructure:"output"`
	MaxSize    int    `json:"max_size" yaml:"max_size" mapstructure:"max_size"` // megabytes
	MaxBackups int    `json:"max_backups" yaml:"max_backups" mapstructure:"max_backups"`
	MaxAge     int    `json:"max_age" yaml:"max_age" mapstructure:"max_age"` // days
	Compress   bool   `json:"compress" yaml:"compress" mapstructure:"compress"`
}

// StorageConfig locates the per-application data directory holding
// connections.json and app_state.json.
type StorageConfig struct {
	DataDir string `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
			CORS: CORSConfig{
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Origin", "Content-Length", "Content-Type", "Authorization"},
			},
		},
		SSH: SSHConfig{
			ConnectTimeout: 30 * time.Second,
			KeepAlive:      30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   true,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "sqlgate")
	}
	return "./data"
}
