// Package mcpserver serves the flow tools over the Model Context Protocol.
package mcpserver

import (
	"context"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/kurihiro0119/gitlab-flows/internal/bridge"
)

// Version is set at build time via ldflags.
var Version = "dev"

// New creates the MCP server with every bridge tool registered.
func New(b *bridge.Server, logger zerolog.Logger) *server.MCPServer {
	s := server.NewMCPServer(
		bridge.ServerName,
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	logger = logger.With().Str("component", "mcpserver").Logger()
	for _, tool := range b.Tools() {
		s.AddTool(Definition(tool), Handler(b, tool.Name, logger))
	}
	return s
}

// Serve runs the server on stdin and stdout until the client disconnects.
func Serve(b *bridge.Server, logger zerolog.Logger) error {
	return server.ServeStdio(New(b, logger))
}

// Definition converts a bridge tool into its MCP form.
func Definition(tool bridge.Tool) mcp.Tool {
	required := make(map[string]bool, len(tool.InputSchema.Required))
	for _, name := range tool.InputSchema.Required {
		required[name] = true
	}

	names := make([]string, 0, len(tool.InputSchema.Properties))
	for name := range tool.InputSchema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	opts := []mcp.ToolOption{mcp.WithDescription(tool.Description)}
	for _, name := range names {
		prop := tool.InputSchema.Properties[name]
		propOpts := []mcp.PropertyOption{mcp.Description(prop.Description)}
		if required[name] {
			propOpts = append(propOpts, mcp.Required())
		}
		switch prop.Type {
		case "object":
			opts = append(opts, mcp.WithObject(name, propOpts...))
		default:
			opts = append(opts, mcp.WithString(name, propOpts...))
		}
	}
	return mcp.NewTool(tool.Name, opts...)
}

// Handler calls the bridge for one tool. Flow failures are reported as tool
// errors rather than protocol errors.
func Handler(b *bridge.Server, name string, logger zerolog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		resp, err := b.Call(ctx, name, req.GetArguments())
		if err != nil {
			logger.Error().Err(err).Str("tool", name).Msg("tool call failed")
			return mcp.NewToolResultError(err.Error()), nil
		}

		content := make([]mcp.Content, 0, len(resp.Content))
		for _, block := range resp.Content {
			content = append(content, mcp.NewTextContent(block.Text))
		}
		return &mcp.CallToolResult{
			Content:           content,
			StructuredContent: resp.StructuredContent,
		}, nil
	}
}
