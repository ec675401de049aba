package transport

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mxcp-io/mxcp-core/internal/execution"
	"github.com/mxcp-io/mxcp-core/internal/logger"
	"github.com/mxcp-io/mxcp-core/internal/registry"
)

// buildTools converts every KindTool endpoint in reg into a
// mcpserver.ServerTool backed by engine.Call, in toolhive's own
// mcp.Tool{Name, Description, InputSchema: mcp.ToolInputSchema{...}} shape.
func buildTools(reg *registry.Registry, engine *execution.Engine) []mcpserver.ServerTool {
	endpoints := reg.List(registry.KindTool)
	tools := make([]mcpserver.ServerTool, 0, len(endpoints))
	for _, ep := range endpoints {
		def := ep.Definition
		tools = append(tools, mcpserver.ServerTool{
			Tool: mcp.Tool{
				Name:        def.Name,
				Description: description(def),
				InputSchema: toolInputSchema(def.Parameters),
			},
			Handler: toolHandler(engine, def.Name),
		})
	}
	return tools
}

// toolHandler dispatches one tools/call request through the ExecutionEngine
// and renders its result or error as an MCP CallToolResult, mirroring
// toolhive's own handlers (e.g. searchRegistry in mcp_serve.go): a pipeline
// failure becomes an isError result rather than a transport-level error, so
// the client sees it as a normal (failed) tool call.
func toolHandler(engine *execution.Engine, name string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := engine.Call(ctx, registry.KindTool, name, request.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		data, err := json.Marshal(result)
		if err != nil {
			logger.Errorw("transport: failed to marshal tool result", "tool", name, "err", err)
			return mcp.NewToolResultError("internal error rendering result"), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}
