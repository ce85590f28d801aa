// Package mcpserver exposes the generate operation as an MCP tool over the
// streamable HTTP transport.
package mcpserver

import (
	"context"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	sdkserver "github.com/mark3labs/mcp-go/server"

	"github.com/gaspardpetit/genserve/internal/generate"
	"github.com/gaspardpetit/genserve/internal/logx"
)

// ToolName is the name of the generate tool.
const ToolName = "generate"

// Generator runs a generate request.
type Generator interface {
	Generate(ctx context.Context, req generate.Request) (generate.Response, error)
}

// NewServer returns an MCP server with the generate tool registered.
func NewServer(g Generator, version string) *sdkserver.MCPServer {
	srv := sdkserver.NewMCPServer(
		"genserve",
		version,
		sdkserver.WithResourceCapabilities(false, false),
		sdkserver.WithToolCapabilities(false),
		sdkserver.WithPromptCapabilities(false),
		sdkserver.WithRecovery(),
	)
	tool := mcp.NewTool(ToolName,
		mcp.WithDescription("Generate text for a prompt with the loaded language model"),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("Text input to the model")),
		mcp.WithNumber("max_length", mcp.Description("Upper bound on generated length"), mcp.DefaultNumber(generate.DefaultMaxLength)),
		mcp.WithNumber("temperature", mcp.Description("Sampling temperature"), mcp.DefaultNumber(generate.DefaultTemperature)),
	)
	srv.AddTool(tool, generateTool(g))
	return srv
}

func generateTool(g Generator) sdkserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := g.Generate(ctx, toRequest(req.GetArguments()))
		if err != nil {
			logx.Log.Warn().Err(err).Str("tool", ToolName).Msg("mcp tool call failed")
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(res.Text), nil
	}
}

// toRequest keeps the absent-versus-present distinction of the HTTP body:
// only arguments that were sent override the defaults, and null is unset.
func toRequest(args map[string]any) generate.Request {
	var r generate.Request
	if v, ok := args["prompt"].(string); ok {
		r.Prompt = &v
	}
	if v, ok := args["max_length"]; ok {
		if f, isNum := v.(float64); isNum {
			n := int(f)
			r.MaxLength = &n
		}
		r.NullMaxLength = v == nil
	}
	if v, ok := args["temperature"]; ok {
		if f, isNum := v.(float64); isNum {
			r.Temperature = &f
		}
		r.NullTemperature = v == nil
	}
	return r
}

// NewHandler constructs a streamable HTTP handler for srv.
func NewHandler(srv *sdkserver.MCPServer) http.Handler {
	return sdkserver.NewStreamableHTTPServer(
		srv,
		sdkserver.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			return ctx
		}),
	)
}
