// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from defaults, an optional YAML file and SAFEEVAL_*
// environment variables. It covers the HTTP server, the container runtime
// used for sandboxes, the optional MCP transport and logging.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Listening on: %d\n", cfg.Server.HTTPPort)
package config
