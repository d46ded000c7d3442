// Package mcptool publishes workflows as MCP tools and hosts the
// protocol server.
package mcptool

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/comfygate/comfygate/internal/workflow"
)

// Registry adapts an MCP server to the manager's registrar interface.
// Registering a name that already exists replaces the earlier tool.
type Registry struct {
	srv    *server.MCPServer
	logger *slog.Logger
}

func NewRegistry(srv *server.MCPServer, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{srv: srv, logger: logger}
}

// RegisterTool publishes one workflow under its tool name.
func (r *Registry) RegisterTool(meta *workflow.Metadata, handler workflow.ToolHandler) {
	tool := mcp.NewToolWithRawSchema(meta.Name, meta.Description, BuildSchema(meta.Params))
	r.srv.AddTool(tool, wrapWorkflow(meta.Name, handler, r.logger))
	r.logger.Debug("tool registered", "tool", meta.Name)
}

// UnregisterTool withdraws a tool by name.
func (r *Registry) UnregisterTool(name string) {
	r.srv.DeleteTools(name)
	r.logger.Debug("tool unregistered", "tool", name)
}

// wrapWorkflow turns a workflow handler into an MCP tool handler.
// Caller mistakes come back as tool errors; engine-side failures come
// back as regular text so the model can read the status line.
func wrapWorkflow(name string, handler workflow.ToolHandler, logger *slog.Logger) server.ToolHandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		if args == nil {
			args = map[string]any{}
		}
		result, err := handler(ctx, args)
		if err != nil {
			logger.Warn("tool invocation rejected", "tool", name, "error", err)
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(result.ToLLMText()), nil
	}
}

// textFunc is a management operation exposed as a plain-text tool.
type textFunc func(ctx context.Context, args map[string]any) (string, error)

func wrapText(fn textFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		if args == nil {
			args = map[string]any{}
		}
		text, err := fn(ctx, args)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(text), nil
	}
}

func newRawTool(name, desc string, params []workflow.Param) mcp.Tool {
	return mcp.NewToolWithRawSchema(name, desc, BuildSchema(params))
}

func marshalText(v any) (string, error) {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
