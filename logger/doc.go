// Package logger provides structured logging capabilities.
//
// The logger package builds the application's zap logger from the
// logging section of the configuration: JSON output in production mode,
// colored console output in development mode.
//
// Usage:
//
//	logger, err := logger.NewFromConfig(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	logger.Info("Application started")
//	logger.Error("An error occurred", zap.Error(err))
package logger
