package transport

import (
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mxcp-io/mxcp-core/internal/auth"
	"github.com/mxcp-io/mxcp-core/internal/authserver"
	"github.com/mxcp-io/mxcp-core/internal/execution"
	"github.com/mxcp-io/mxcp-core/internal/reload"
)

// Router mounts the MCP streamable-HTTP endpoint and the OAuth
// authorization-server surface on one chi.Router, grounded on
// giantswarm-muster's createStandardMux (a stdlib/chi mux serving a health
// check, the OAuth callback handler and the MCP handler side by side) and
// on the teacher's own server.NewStreamableHTTPServer(mcpServer) wiring in
// cmd/thv/app/mcp_serve.go.
//
// The underlying *mcpserver.MCPServer is rebuilt only when the
// ReloadCoordinator's Generation actually changes (internal/reload's
// atomic swap), not on every request: building the tool/resource/prompt
// set walks the whole Registry, so caching it against the Generation that
// produced it keeps a reload's cost off the request path.
type Router struct {
	serverName  string
	coordinator *reload.Coordinator
	authService *authserver.Service
	authn       auth.Authenticator

	mu        sync.Mutex
	builtSeq  int64
	streaming http.Handler
}

// NewRouter builds a Router. authService may be nil when no upstream
// provider is configured; the OAuth routes are then not mounted, and /mcp
// still authenticates with whatever authn is passed in.
func NewRouter(serverName string, coordinator *reload.Coordinator, authService *authserver.Service, authn auth.Authenticator) *Router {
	return &Router{serverName: serverName, coordinator: coordinator, authService: authService, authn: authn}
}

// Handler builds the composed chi.Router: unauthenticated well-known/health
// and OAuth endpoints, and the bearer-protected MCP endpoint.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if rt.authService != nil {
		r.Get("/.well-known/oauth-authorization-server", rt.authService.WellKnown)
		r.Post("/register", rt.authService.Register)
		r.Get("/authorize", rt.authService.Authorize)
		r.Get("/callback", rt.authService.Callback)
		r.Post("/token", rt.authService.Token)
	}

	mcpHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Acquire pins this request's Generation for its whole lifetime
		// (internal/reload's gate/drain/swap protocol): a reload racing
		// with this request must not close the SQL engine out from
		// under a call already in flight.
		gen, release := rt.coordinator.Acquire()
		defer release()

		r = r.WithContext(execution.WithTransport(r.Context(), "http"))
		rt.handlerFor(gen).ServeHTTP(w, r)
	})
	r.Handle("/mcp", auth.RequireBearer(rt.authn)(mcpHandler))

	return r
}

// handlerFor returns the streamable-HTTP handler built for gen, building
// and caching it on first use. Only the most recently built handler is
// cached: a request pinned to a Generation with a different Seq rebuilds
// the handler for that Generation and replaces the cached one.
func (rt *Router) handlerFor(gen *reload.Generation) http.Handler {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.streaming != nil && rt.builtSeq == gen.Seq {
		return rt.streaming
	}

	mcpSrv := BuildMCPServer(rt.serverName, gen)
	rt.streaming = mcpserver.NewStreamableHTTPServer(mcpSrv)
	rt.builtSeq = gen.Seq
	return rt.streaming
}
