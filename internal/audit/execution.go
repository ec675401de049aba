package audit

import (
	"context"

	"github.com/mxcp-io/mxcp-core/internal/execution"
	"github.com/mxcp-io/mxcp-core/internal/registry"
)

// ExecutionHook adapts a Sink to execution.AuditFunc, translating an
// execution.Record (the ExecutionEngine's internal bookkeeping type) into
// the durable Event shape. Wired as the audit argument of execution.New.
func (s *Sink) ExecutionHook() execution.AuditFunc {
	return func(ctx context.Context, rec execution.Record) {
		s.Emit(ctx, Event{
			Timestamp:      rec.StartedAt,
			EventType:      eventTypeFor(rec.Kind),
			Subject:        rec.Subject,
			SessionID:      rec.SessionID,
			TraceID:        rec.TraceID,
			Transport:      rec.Transport,
			EndpointKind:   string(rec.Kind),
			EndpointName:   rec.Name,
			InputJSON:      rec.InputJSON,
			InputPolicy:    string(rec.InputPolicy),
			OutputPolicy:   string(rec.OutputPolicy),
			Reason:         rec.Reason,
			Error:          rec.Error,
			DurationMillis: rec.DurationMillis,
		})
	}
}

// eventTypeFor maps an endpoint kind to an MCP-aware event type name,
// matching toolhive's mapMCPMethodToEventType convention (event names
// describe the MCP operation, not the transport).
func eventTypeFor(kind registry.Kind) string {
	switch kind {
	case registry.KindTool:
		return "mcp.tools.call"
	case registry.KindResource:
		return "mcp.resources.read"
	case registry.KindPrompt:
		return "mcp.prompts.get"
	default:
		return "mcp.request"
	}
}
