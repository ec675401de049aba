package transport

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mxcp-io/mxcp-core/internal/execution"
	"github.com/mxcp-io/mxcp-core/internal/logger"
	"github.com/mxcp-io/mxcp-core/internal/registry"
)

var uriTemplateVar = regexp.MustCompile(`\{([^{}]+)\}`)

// uriMatcher compiles a resource's {var} URI template (spec.md §3: "a
// resource has a URI template") into a matcher that both reports whether a
// concrete request URI fits the template and extracts the named variables.
type uriMatcher struct {
	pattern *regexp.Regexp
	names   []string
}

func compileURITemplate(template string) uriMatcher {
	var names []string
	escaped := regexp.QuoteMeta(template)
	// QuoteMeta escapes the template's own braces; undo that for the
	// variable markers before substituting them with a capture group.
	escaped = strings.NewReplacer(`\{`, "{", `\}`, "}").Replace(escaped)
	pattern := uriTemplateVar.ReplaceAllStringFunc(escaped, func(m string) string {
		names = append(names, uriTemplateVar.FindStringSubmatch(m)[1])
		return `([^/]+)`
	})
	return uriMatcher{pattern: regexp.MustCompile("^" + pattern + "$"), names: names}
}

func (m uriMatcher) match(uri string) (map[string]any, bool) {
	groups := m.pattern.FindStringSubmatch(uri)
	if groups == nil {
		return nil, false
	}
	params := make(map[string]any, len(m.names))
	for i, name := range m.names {
		params[name] = groups[i+1]
	}
	return params, true
}

// buildResources converts every KindResource endpoint in reg into a
// mcpserver.ServerResource, grounded on giantswarm-muster's
// internal/aggregator/auth_resource.go (mcp.Resource{URI, Name,
// Description} plus a handler returning []mcp.ResourceContents).
func buildResources(reg *registry.Registry, engine *execution.Engine) []mcpserver.ServerResource {
	endpoints := reg.List(registry.KindResource)
	resources := make([]mcpserver.ServerResource, 0, len(endpoints))
	for _, ep := range endpoints {
		def := ep.Definition
		matcher := compileURITemplate(def.Name)
		resources = append(resources, mcpserver.ServerResource{
			Resource: mcp.Resource{
				URI:         def.Name,
				Name:        def.Name,
				Description: description(def),
			},
			Handler: resourceHandler(engine, def.Name, matcher),
		})
	}
	return resources
}

func resourceHandler(engine *execution.Engine, name string, matcher uriMatcher) mcpserver.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		params, ok := matcher.match(req.Params.URI)
		if !ok {
			params = map[string]any{}
		}

		result, err := engine.Call(ctx, registry.KindResource, name, params)
		if err != nil {
			return nil, err
		}

		data, err := json.Marshal(result)
		if err != nil {
			logger.Errorw("transport: failed to marshal resource result", "resource", name, "err", err)
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	}
}
