package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Sandbox SandboxConfig `mapstructure:"sandbox"`
	MCP     MCPConfig     `mapstructure:"mcp"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds HTTP API configuration
type ServerConfig struct {
	HTTPPort           int   `mapstructure:"http_port"`
	MaxBodyBytes       int64 `mapstructure:"max_body_bytes"`
	ShutdownTimeoutSec int   `mapstructure:"shutdown_timeout_sec"`
}

// SandboxConfig holds container runtime configuration.
// The resource policy applied to every container is fixed in the sandbox
// package and deliberately absent from here.
type SandboxConfig struct {
	Backend       string `mapstructure:"backend"`
	Host          string `mapstructure:"host"`
	Image         string `mapstructure:"image"`
	WorkspaceRoot string `mapstructure:"workspace_root"`
	TimeoutSec    int    `mapstructure:"timeout_sec"`
}

// MCPConfig holds the optional MCP transport configuration
type MCPConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// EnvPrefix is prepended to every environment override, e.g. SAFEEVAL_SERVER_HTTP_PORT.
const EnvPrefix = "SAFEEVAL"

// New loads and validates the application configuration
func New() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	return Load(v)
}

// Load applies defaults and environment overrides to v, reads its config
// file if one is present and returns the validated result.
func Load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 6000)
	v.SetDefault("server.max_body_bytes", 100*1024)
	v.SetDefault("server.shutdown_timeout_sec", 10)

	v.SetDefault("sandbox.backend", "docker")
	v.SetDefault("sandbox.host", "")
	v.SetDefault("sandbox.image", "safe-evaluator")
	v.SetDefault("sandbox.workspace_root", os.TempDir())
	v.SetDefault("sandbox.timeout_sec", 30)

	v.SetDefault("mcp.enabled", false)
	v.SetDefault("mcp.transport", "http")
	v.SetDefault("mcp.http_port", 6001)

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid server.http_port: %d", c.Server.HTTPPort)
	}

	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive, got: %d", c.Server.MaxBodyBytes)
	}

	if c.Server.ShutdownTimeoutSec <= 0 {
		return fmt.Errorf("server.shutdown_timeout_sec must be positive, got: %d", c.Server.ShutdownTimeoutSec)
	}

	supportedBackends := map[string]bool{
		"docker": true,
		"podman": true,
	}
	if !supportedBackends[c.Sandbox.Backend] {
		return fmt.Errorf("unsupported sandbox.backend: %s", c.Sandbox.Backend)
	}

	if c.Sandbox.Image == "" {
		return fmt.Errorf("sandbox.image must not be empty")
	}

	if c.Sandbox.WorkspaceRoot == "" {
		return fmt.Errorf("sandbox.workspace_root must not be empty")
	}

	if c.Sandbox.TimeoutSec <= 0 {
		return fmt.Errorf("sandbox.timeout_sec must be positive, got: %d", c.Sandbox.TimeoutSec)
	}

	if c.MCP.Enabled {
		if c.MCP.Transport != "stdio" && c.MCP.Transport != "http" {
			return fmt.Errorf("invalid mcp.transport: %s, must be 'stdio' or 'http'", c.MCP.Transport)
		}
		if c.MCP.Transport == "http" && c.MCP.HTTPPort == c.Server.HTTPPort {
			return fmt.Errorf("mcp.http_port must differ from server.http_port (%d)", c.Server.HTTPPort)
		}
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error", "dpanic", "panic", "fatal":
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	return nil
}

// GetTimeout returns the wall-clock bound for one sandbox run
func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.Sandbox.TimeoutSec) * time.Second
}

// GetShutdownTimeout returns how long servers get to drain on stop
func (c *Config) GetShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSec) * time.Second
}
