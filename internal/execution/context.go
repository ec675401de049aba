package execution

import "context"

// transportContextKey is an unexported type so no other package can collide
// with this context key (mirrors internal/auth's identityContextKey pattern).
type transportContextKey struct{}

// WithTransport records which MCP transport (http or stdio) is carrying this
// request, for the audit record's "transport" field (spec.md §6). Each
// transport's entry point sets this once per connection/request.
func WithTransport(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, transportContextKey{}, name)
}

// transportFromContext returns the transport name set by WithTransport, or
// "" if none was set (e.g. a unit test calling Engine.Call directly).
func transportFromContext(ctx context.Context) string {
	name, _ := ctx.Value(transportContextKey{}).(string)
	return name
}
