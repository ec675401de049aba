// Package transport exposes one ReloadGeneration's Registry over the MCP
// protocol, via mark3labs/mcp-go (the gateway's actual wire codec; spec.md
// §6 explicitly defers tools/call, resources/read and prompts/get to the
// upstream MCP spec rather than defining its own framing).
//
// Grounded directly on the teacher, stacklok-toolhive's own
// cmd/thv/app/mcp_serve.go: the same package builds mcp.Tool values as
// plain struct literals (mcp.ToolInputSchema{Type, Properties, Required})
// and mounts server.NewStreamableHTTPServer(mcpServer) behind a stdlib
// http.Server, which this package generalizes from a handful of
// hand-written tools to the whole of a dynamically loaded Registry.
// Resource/prompt registration (toolhive itself never exposes either) is
// grounded on giantswarm-muster's internal/aggregator package, which
// builds mcpserver.ServerResource/ServerPrompt values against the same
// mark3labs/mcp-go types.
package transport

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mxcp-io/mxcp-core/internal/registry"
)

// toolInputSchema converts an endpoint's declared parameter list into the
// JSON-schema-shaped mcp.ToolInputSchema toolhive's mcp_serve.go builds by
// hand for each of its fixed tools.
func toolInputSchema(params []registry.Parameter) mcp.ToolInputSchema {
	properties := make(map[string]any, len(params))
	var required []string
	for _, p := range params {
		properties[p.Name] = parameterSchema(p)
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return mcp.ToolInputSchema{
		Type:       "object",
		Properties: properties,
		Required:   required,
	}
}

// parameterSchema renders one Parameter as a JSON-schema property object,
// covering the constraint vocabulary of spec.md §4.1.
func parameterSchema(p registry.Parameter) map[string]any {
	schema := map[string]any{"type": jsonSchemaType(p.Type)}

	if len(p.Constraints.Enum) > 0 {
		enum := make([]any, len(p.Constraints.Enum))
		for i, v := range p.Constraints.Enum {
			enum[i] = v
		}
		schema["enum"] = enum
	}
	if p.Constraints.Minimum != nil {
		schema["minimum"] = *p.Constraints.Minimum
	}
	if p.Constraints.Maximum != nil {
		schema["maximum"] = *p.Constraints.Maximum
	}
	if p.Constraints.Pattern != "" {
		schema["pattern"] = p.Constraints.Pattern
	}
	if p.Constraints.Format != "" {
		schema["format"] = p.Constraints.Format
	}
	if p.Constraints.MinLength != nil {
		schema["minLength"] = *p.Constraints.MinLength
	}
	if p.Constraints.MaxLength != nil {
		schema["maxLength"] = *p.Constraints.MaxLength
	}
	if p.Type == registry.TypeArray && p.Constraints.Items != nil {
		schema["items"] = parameterSchema(*p.Constraints.Items)
	}
	if p.Type == registry.TypeObject && len(p.Properties) > 0 {
		nested := make(map[string]any, len(p.Properties))
		var nestedRequired []string
		for _, child := range p.Properties {
			nested[child.Name] = parameterSchema(child)
			if child.Required {
				nestedRequired = append(nestedRequired, child.Name)
			}
		}
		schema["properties"] = nested
		if len(nestedRequired) > 0 {
			schema["required"] = nestedRequired
		}
	}
	return schema
}

// jsonSchemaType maps the registry's semantic ParamType vocabulary onto the
// JSON-schema primitive types MCP clients actually validate against. The
// semantic distinctions (date, email, uri, ...) are not derived from the
// type: they reach the schema only through an explicit "format" constraint,
// which parameterSchema above copies when it is set.
func jsonSchemaType(t registry.ParamType) string {
	switch t {
	case registry.TypeNumber:
		return "number"
	case registry.TypeInteger:
		return "integer"
	case registry.TypeBoolean:
		return "boolean"
	case registry.TypeArray:
		return "array"
	case registry.TypeObject:
		return "object"
	default:
		return "string"
	}
}

// description returns an endpoint's annotations["description"], falling
// back to its name so every declared tool/resource/prompt always has a
// non-empty description for MCP clients to display.
func description(def *registry.EndpointDefinition) string {
	if d, ok := def.Annotations["description"]; ok && d != "" {
		return d
	}
	return def.Name
}
