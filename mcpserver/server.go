package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/safeeval/config"
	"github.com/isdmx/safeeval/evaluation"
)

// ToolName is the name of the only tool the server exposes
const ToolName = "evaluate_python"

// MCPServer represents the MCP server
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	evaluator *evaluation.Evaluator
	mcpServer *server.MCPServer
	http      *server.StreamableHTTPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, evaluator *evaluation.Evaluator) *MCPServer {
	s := &MCPServer{
		config:    cfg,
		logger:    logger,
		evaluator: evaluator,
	}

	s.mcpServer = server.NewMCPServer("safeeval", "1.0.0", server.WithToolCapabilities(false))
	s.registerEvaluateTool()
	s.http = server.NewStreamableHTTPServer(s.mcpServer)

	return s
}

func (s *MCPServer) registerEvaluateTool() {
	tool := mcp.Tool{
		Name: ToolName,
		Description: "Run a Python function body in a locked-down container. " +
			"The code sees the scope object and must produce one JSON document.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Python source to evaluate",
				},
				"scope": map[string]any{
					"type":        "object",
					"description": "Variables made available to the code",
				},
			},
			Required: []string{"code", "scope"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleEvaluate)
}

func (s *MCPServer) handleEvaluate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	code, _ := args["code"].(string)
	scope, _ := args["scope"].(map[string]any)

	req := evaluation.Request{
		Code:     code,
		Language: evaluation.LanguagePython,
		Scope:    scope,
	}

	resp, err := s.evaluator.Evaluate(ctx, req)
	if err != nil {
		var validationErr *evaluation.ValidationError
		if errors.As(err, &validationErr) {
			return mcp.NewToolResultError(validationErr.Message), nil
		}
		s.logger.Error("evaluation failed", zap.String("tool", ToolName), zap.Error(err))
		return mcp.NewToolResultError("Server error: " + err.Error()), nil
	}

	body, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode evaluation result: %w", err)
	}

	return mcp.NewToolResultText(string(body)), nil
}

// ServeStdio serves MCP on stdin/stdout until the input closes
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP serves streamable HTTP MCP on the configured port until Shutdown
func (s *MCPServer) ServeHTTP() error {
	port := s.config.MCP.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	return s.http.Start(fmt.Sprintf(":%d", port))
}

// Shutdown stops the HTTP transport
func (s *MCPServer) Shutdown(ctx context.Context) error {
	if s.config.MCP.Transport != "http" {
		return nil
	}
	return s.http.Shutdown(ctx)
}
