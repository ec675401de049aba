// Package audit implements the gateway's audit trail: one structured record
// per admitted call, regardless of outcome (spec.md §4.8). Grounded on
// toolhive's pkg/audit/auditor.go, which builds a structured AuditEvent per
// HTTP request and logs it as JSON via its logger facade; MXCP's event
// source is the ExecutionEngine's per-call Record rather than a bare HTTP
// request, since the gateway's audit surface sits at the MCP operation
// level (tools/call, resources/read, prompts/get), not the transport level.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mxcp-io/mxcp-core/internal/logger"
)

// Event is one durable audit record.
type Event struct {
	Timestamp      time.Time      `json:"timestamp"`
	EventType      string         `json:"event_type"`
	Component      string         `json:"component"`
	Subject        string         `json:"subject,omitempty"`
	SessionID      string         `json:"session_id,omitempty"`
	TraceID        string         `json:"trace_id,omitempty"`
	Transport      string         `json:"transport,omitempty"`
	Outcome        string         `json:"outcome"`
	EndpointKind   string         `json:"endpoint_kind"`
	EndpointName   string         `json:"endpoint_name"`
	InputJSON      string         `json:"input_json,omitempty"`
	InputPolicy    string         `json:"input_policy,omitempty"`
	OutputPolicy   string         `json:"output_policy,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	Error          string         `json:"error,omitempty"`
	DurationMillis int64          `json:"duration_ms"`
	Extra          map[string]any `json:"extra,omitempty"`
}

const (
	OutcomeSuccess = "success"
	OutcomeDenied  = "denied"
	OutcomeError   = "error"
)

// outcomeFor classifies a completed call the way toolhive's Auditor
// classifies an HTTP status code, but from the gateway's own error
// taxonomy rather than a transport-level status.
func outcomeFor(errStr, inputPolicy, outputPolicy string) string {
	switch {
	case errStr == "":
		return OutcomeSuccess
	case inputPolicy == "deny" || outputPolicy == "deny":
		return OutcomeDenied
	default:
		return OutcomeError
	}
}

// Sink writes Events durably (append-only NDJSON) and mirrors them to the
// structured logger, matching toolhive's "log every audit event as JSON
// through the standard logger" pattern while also giving operators a
// file they can ship to a SIEM.
type Sink struct {
	mu  sync.Mutex
	out io.Writer
	component string
}

// NewSink opens path for append and returns a Sink writing NDJSON audit
// records to it. Pass "" to log-only (no file durability), e.g. in tests.
func NewSink(path, component string) (*Sink, error) {
	var out io.Writer = io.Discard
	if path != "" {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("audit: opening %s: %w", path, err)
		}
		out = f
	}
	return &Sink{out: out, component: component}, nil
}

// Emit writes one audit event, never returning an error to the caller: a
// failure to persist an audit record must not fail the request it
// describes, only be logged loudly.
func (s *Sink) Emit(_ context.Context, ev Event) {
	ev.Component = s.component
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.Outcome == "" {
		ev.Outcome = outcomeFor(ev.Error, ev.InputPolicy, ev.OutputPolicy)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		logger.Errorw("audit: failed to marshal event", "err", err)
		return
	}

	logger.Info(string(data))

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.out.Write(append(data, '\n')); err != nil {
		logger.Errorw("audit: failed to write event to sink", "err", err)
	}
}

// Close releases the underlying file handle, if one was opened.
func (s *Sink) Close() error {
	if closer, ok := s.out.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
