// Package main is the entry point for the safeeval server.
//
// safeeval evaluates untrusted Python snippets. Each request gets a private
// workspace directory which is mounted into a short-lived container with no
// network, a read-only root filesystem and tight memory and CPU limits. The
// single JSON document the container prints is returned to the caller.
//
// The HTTP API listens on server.http_port (6000 by default). An MCP tool
// exposing the same evaluator can be enabled with mcp.enabled.
//
// The application uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging and viper for configuration.
package main
