package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/isdmx/safeeval/config"
)

// ServiceName is attached to every entry as the "service" field
const ServiceName = "safeeval"

// NewFromConfig builds the application logger from cfg.Logging and tags it
// with the sandbox backend in use.
func NewFromConfig(cfg *config.Config) (*zap.Logger, error) {
	return New(cfg.Logging.Mode, cfg.Logging.Level,
		zap.Fields(zap.String("backend", cfg.Sandbox.Backend)))
}

// New creates a new logger instance based on configuration
func New(mode, level string, opts ...zap.Option) (*zap.Logger, error) {
	cfg, err := BuildConfig(mode, level)
	if err != nil {
		return nil, err
	}
	return cfg.Build(opts...)
}

// BuildConfig returns the zap configuration for mode and level. Output always
// goes to stderr; stdout carries the MCP stdio transport when it is enabled.
func BuildConfig(mode, level string) (zap.Config, error) {
	var cfg zap.Config

	switch mode {
	case "development":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case "production":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		// Evaluation logs are never sampled.
		cfg.Sampling = nil
	default:
		return zap.Config{}, fmt.Errorf("invalid logging mode: %s, must be 'production' or 'development'", mode)
	}

	logLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return zap.Config{}, fmt.Errorf("invalid logging level: %s, must be one of 'debug', 'info', 'warn', 'error', 'dpanic', 'panic', 'fatal'", level)
	}
	cfg.Level = zap.NewAtomicLevelAt(logLevel)

	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.InitialFields = map[string]any{"service": ServiceName}

	return cfg, nil
}
