// Package mcpserver exposes the evaluator as a Model Context Protocol tool.
//
// The server registers a single tool, evaluate_python, which takes the same
// code and scope an HTTP caller would send and returns the evaluation
// document as text. It runs over stdio or streamable HTTP depending on
// mcp.transport.
//
// Usage:
//
//	srv := mcpserver.New(cfg, logger, evaluator)
//	err := srv.ServeHTTP() // or srv.ServeStdio()
package mcpserver
