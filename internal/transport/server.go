package transport

import (
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mxcp-io/mxcp-core/internal/reload"
)

// serverVersion is reported to MCP clients during initialize; it has no
// relationship to any release tag of this module.
const serverVersion = "1.0.0"

// BuildMCPServer builds one *mcpserver.MCPServer exposing every tool,
// resource and prompt declared in gen's Registry, dispatching each call
// through gen's ExecutionEngine. A fresh server is built per Generation
// (internal/reload) rather than mutated in place, since mark3labs/mcp-go's
// AddTools/AddPrompts/AddResources only add to a running server's live set
// and a reload can also remove endpoints entirely.
func BuildMCPServer(name string, gen *reload.Generation) *mcpserver.MCPServer {
	srv := mcpserver.NewMCPServer(
		name,
		serverVersion,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithResourceCapabilities(true, false),
		mcpserver.WithPromptCapabilities(true),
	)

	if tools := buildTools(gen.Registry, gen.Engine); len(tools) > 0 {
		srv.AddTools(tools...)
	}
	if resources := buildResources(gen.Registry, gen.Engine); len(resources) > 0 {
		srv.AddResources(resources...)
	}
	if prompts := buildPrompts(gen.Registry, gen.Engine); len(prompts) > 0 {
		srv.AddPrompts(prompts...)
	}
	return srv
}
