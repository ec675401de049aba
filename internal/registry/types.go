// Package registry implements the EndpointRegistry leaf of spec.md §4.1: the
// immutable catalog of endpoint definitions loaded from a tree of YAML files
// for one ReloadGeneration.
package registry

import (
	"github.com/mxcp-io/mxcp-core/internal/policy"
)

// Kind is the MCP endpoint kind an EndpointDefinition declares.
type Kind string

const (
	KindTool     Kind = "tool"
	KindResource Kind = "resource"
	KindPrompt   Kind = "prompt"
)

// ParamType is the semantic parameter type vocabulary of spec.md §4.1.
type ParamType string

const (
	TypeString   ParamType = "string"
	TypeNumber   ParamType = "number"
	TypeInteger  ParamType = "integer"
	TypeBoolean  ParamType = "boolean"
	TypeArray    ParamType = "array"
	TypeObject   ParamType = "object"
	TypeDate     ParamType = "date"
	TypeDateTime ParamType = "date-time"
	TypeDuration ParamType = "duration"
	TypeEmail    ParamType = "email"
	TypeURI      ParamType = "uri"
)

// Constraints holds the constraint vocabulary of spec.md §4.1. Zero values
// mean "unconstrained"; Enum/Pattern/Format being non-empty is how a caller
// tells "unset" from "set to empty".
type Constraints struct {
	Enum      []string
	Minimum   *float64
	Maximum   *float64
	Pattern   string
	Format    string
	MinLength *int
	MaxLength *int
	// Items describes the element type for TypeArray parameters.
	Items *Parameter
}

// Parameter is one entry of an endpoint's ordered parameter schema.
type Parameter struct {
	Name        string
	Type        ParamType
	Constraints Constraints
	Sensitive   bool
	Required    bool
	Properties  []Parameter // populated when Type == TypeObject
}

// Source describes where an endpoint's implementation comes from.
type Source struct {
	InlineSQL string
	SQLFile   string
	NativeRef string
}

// EndpointDefinition is the immutable, fully-parsed form of one YAML
// endpoint declaration (spec.md §3 EndpointDefinition row).
type EndpointDefinition struct {
	Kind            Kind
	Name            string // tool/prompt name, or resource URI template
	Parameters      []Parameter
	ReturnSchema    *Parameter
	Source          Source
	RequiredScopes  []string
	InputPolicies   []policy.Rule
	OutputPolicies  []policy.Rule
	Annotations     map[string]string
	SQLTimeoutMS    int
}

// SensitiveFieldNames returns the set of top-level return-schema field names
// marked sensitive: true, used by filter_sensitive_fields. The audit
// pipeline's input redaction uses SensitiveParamNames instead.
func (e *EndpointDefinition) SensitiveFieldNames() map[string]struct{} {
	out := map[string]struct{}{}
	if e.ReturnSchema == nil {
		return out
	}
	for _, p := range e.ReturnSchema.Properties {
		if p.Sensitive {
			out[p.Name] = struct{}{}
		}
	}
	return out
}

// SensitiveParamNames returns the set of declared parameter names marked
// sensitive: true, used by the audit pipeline to redact input_json.
func (e *EndpointDefinition) SensitiveParamNames() map[string]struct{} {
	out := map[string]struct{}{}
	for _, p := range e.Parameters {
		if p.Sensitive {
			out[p.Name] = struct{}{}
		}
	}
	return out
}

// ParamNames returns the ordered list of declared top-level parameter names,
// used to build the CEL input environment.
func (e *EndpointDefinition) ParamNames() []string {
	out := make([]string, len(e.Parameters))
	for i, p := range e.Parameters {
		out[i] = p.Name
	}
	return out
}
