package registry

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/mxcp-io/mxcp-core/internal/policy"
)

// rawEndpoint mirrors the on-disk YAML shape for one endpoint file. Field
// names follow the snake_case convention endpoint authors use, except
// minLength/maxLength, which keep their JSON Schema spelling; the decoder
// is intentionally forgiving of missing optional sections.
type rawEndpoint struct {
	Kind   string `yaml:"kind"`
	Tool   *rawToolOrPrompt `yaml:"tool"`
	Resource *rawResource `yaml:"resource"`
	Prompt *rawToolOrPrompt `yaml:"prompt"`
}

type rawToolOrPrompt struct {
	Name           string           `yaml:"name"`
	Parameters     []rawParameter   `yaml:"parameters"`
	Return         *rawParameter    `yaml:"return"`
	Source         rawSource        `yaml:"source"`
	Scopes         []string         `yaml:"scopes"`
	Policies       rawPolicies      `yaml:"policies"`
	Annotations    map[string]string `yaml:"annotations"`
	TimeoutMS      int              `yaml:"timeout_ms"`
}

type rawResource struct {
	URITemplate string            `yaml:"uri_template"`
	Parameters  []rawParameter    `yaml:"parameters"`
	Return      *rawParameter     `yaml:"return"`
	Source      rawSource         `yaml:"source"`
	Scopes      []string          `yaml:"scopes"`
	Policies    rawPolicies       `yaml:"policies"`
	Annotations map[string]string `yaml:"annotations"`
	TimeoutMS   int               `yaml:"timeout_ms"`
}

type rawSource struct {
	SQL     string `yaml:"sql"`
	File    string `yaml:"file"`
	Native  string `yaml:"native"`
}

type rawParameter struct {
	Name      string         `yaml:"name"`
	Type      string         `yaml:"type"`
	Sensitive bool           `yaml:"sensitive"`
	Required  bool           `yaml:"required"`
	Enum      []string       `yaml:"enum"`
	Minimum   *float64       `yaml:"minimum"`
	Maximum   *float64       `yaml:"maximum"`
	Pattern   string         `yaml:"pattern"`
	Format    string         `yaml:"format"`
	MinLength *int           `yaml:"minLength"`
	MaxLength *int           `yaml:"maxLength"`
	Items     *rawParameter  `yaml:"items"`
	Properties []rawParameter `yaml:"properties"`
}

type rawPolicies struct {
	Input  []rawPolicyRule `yaml:"input"`
	Output []rawPolicyRule `yaml:"output"`
}

type rawPolicyRule struct {
	Condition string   `yaml:"condition"`
	Action    string   `yaml:"action"`
	Fields    []string `yaml:"fields"`
	Reason    string   `yaml:"reason"`
}

// ParseDocument decodes one YAML endpoint document into an EndpointDefinition.
func ParseDocument(data []byte) (*EndpointDefinition, error) {
	var raw rawEndpoint
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("registry: invalid YAML: %w", err)
	}

	switch Kind(raw.Kind) {
	case KindTool:
		if raw.Tool == nil {
			return nil, fmt.Errorf("registry: kind tool requires a tool: section")
		}
		return buildDefinition(KindTool, raw.Tool.Name, raw.Tool.Parameters, raw.Tool.Return,
			raw.Tool.Source, raw.Tool.Scopes, raw.Tool.Policies, raw.Tool.Annotations, raw.Tool.TimeoutMS)
	case KindPrompt:
		if raw.Prompt == nil {
			return nil, fmt.Errorf("registry: kind prompt requires a prompt: section")
		}
		return buildDefinition(KindPrompt, raw.Prompt.Name, raw.Prompt.Parameters, raw.Prompt.Return,
			raw.Prompt.Source, raw.Prompt.Scopes, raw.Prompt.Policies, raw.Prompt.Annotations, raw.Prompt.TimeoutMS)
	case KindResource:
		if raw.Resource == nil {
			return nil, fmt.Errorf("registry: kind resource requires a resource: section")
		}
		return buildDefinition(KindResource, raw.Resource.URITemplate, raw.Resource.Parameters, raw.Resource.Return,
			raw.Resource.Source, raw.Resource.Scopes, raw.Resource.Policies, raw.Resource.Annotations, raw.Resource.TimeoutMS)
	default:
		return nil, fmt.Errorf("registry: unknown or missing kind %q", raw.Kind)
	}
}

func buildDefinition(
	kind Kind, name string, rawParams []rawParameter, rawReturn *rawParameter,
	src rawSource, scopes []string, pols rawPolicies, annotations map[string]string, timeoutMS int,
) (*EndpointDefinition, error) {
	if name == "" {
		return nil, fmt.Errorf("registry: %s definition is missing a name/URI template", kind)
	}

	params := make([]Parameter, 0, len(rawParams))
	for _, rp := range rawParams {
		p, err := convertParameter(rp)
		if err != nil {
			return nil, fmt.Errorf("registry: %s %q: %w", kind, name, err)
		}
		params = append(params, p)
	}

	var ret *Parameter
	if rawReturn != nil {
		r, err := convertParameter(*rawReturn)
		if err != nil {
			return nil, fmt.Errorf("registry: %s %q: return schema: %w", kind, name, err)
		}
		ret = &r
	}

	def := &EndpointDefinition{
		Kind:           kind,
		Name:           name,
		Parameters:     params,
		ReturnSchema:   ret,
		Source:         Source{InlineSQL: src.SQL, SQLFile: src.File, NativeRef: src.Native},
		RequiredScopes: scopes,
		Annotations:    annotations,
		SQLTimeoutMS:   timeoutMS,
	}

	for _, r := range pols.Input {
		def.InputPolicies = append(def.InputPolicies, convertRule(r, "input"))
	}
	for _, r := range pols.Output {
		def.OutputPolicies = append(def.OutputPolicies, convertRule(r, "output"))
	}

	return def, nil
}

func convertParameter(rp rawParameter) (Parameter, error) {
	p := Parameter{
		Name:      rp.Name,
		Type:      ParamType(rp.Type),
		Sensitive: rp.Sensitive,
		Required:  rp.Required,
		Constraints: Constraints{
			Enum:      rp.Enum,
			Minimum:   rp.Minimum,
			Maximum:   rp.Maximum,
			Pattern:   rp.Pattern,
			Format:    rp.Format,
			MinLength: rp.MinLength,
			MaxLength: rp.MaxLength,
		},
	}
	if rp.Items != nil {
		items, err := convertParameter(*rp.Items)
		if err != nil {
			return Parameter{}, err
		}
		p.Constraints.Items = &items
	}
	for _, prop := range rp.Properties {
		cp, err := convertParameter(prop)
		if err != nil {
			return Parameter{}, err
		}
		p.Properties = append(p.Properties, cp)
	}
	return p, nil
}

func convertRule(r rawPolicyRule, phase string) policy.Rule {
	return policy.Rule{
		AppliesTo: policy.Phase(phase),
		Condition: r.Condition,
		Action:    policy.Action(r.Action),
		Fields:    r.Fields,
		Reason:    r.Reason,
	}
}
