package transport

import (
	"context"
	"os"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mxcp-io/mxcp-core/internal/execution"
	"github.com/mxcp-io/mxcp-core/internal/reload"
)

// ServeStdio runs an MCP server over stdin/stdout against the
// ReloadCoordinator's current Generation until ctx is canceled, grounded on
// giantswarm-muster's internal/aggregator/server.go stdio branch
// (mcpserver.NewStdioServer(mcpServer).Listen(ctx, os.Stdin, os.Stdout)).
//
// A stdio session binds to the Generation current when it starts for its
// entire lifetime: unlike the HTTP transport, there's exactly one
// long-lived client connection, so there is no per-request point at which
// to pick up a newer Generation without restarting the process.
func ServeStdio(ctx context.Context, serverName string, coordinator *reload.Coordinator) error {
	gen, release := coordinator.Acquire()
	defer release()

	ctx = execution.WithTransport(ctx, "stdio")
	mcpSrv := BuildMCPServer(serverName, gen)
	return mcpserver.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout)
}
