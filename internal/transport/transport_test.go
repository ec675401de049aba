package transport

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mxcp-io/mxcp-core/internal/execution"
	"github.com/mxcp-io/mxcp-core/internal/policy"
	"github.com/mxcp-io/mxcp-core/internal/registry"
	"github.com/mxcp-io/mxcp-core/internal/value"
)

func loadTestRegistry(t *testing.T, files map[string]string) *registry.Registry {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}
	reg, err := registry.Load(dir, policy.New())
	require.NoError(t, err)
	return reg
}

func newCallToolRequest(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func newReadResourceRequest(uri string) mcp.ReadResourceRequest {
	var req mcp.ReadResourceRequest
	req.Params.URI = uri
	return req
}

const greetTool = `
kind: tool
tool:
  name: greet
  annotations:
    description: "Greets someone by name"
  parameters:
    - name: name
      type: string
      required: true
    - name: volume
      type: integer
      minimum: 0
      maximum: 11
  return:
    type: string
  source:
    native: "greet"
`

func TestToolInputSchemaRendersConstraints(t *testing.T) {
	t.Parallel()
	reg := loadTestRegistry(t, map[string]string{"greet.yaml": greetTool})
	ep, ok := reg.Lookup(registry.KindTool, "greet")
	require.True(t, ok)

	schema := toolInputSchema(ep.Definition.Parameters)
	assert.Equal(t, "object", schema.Type)
	assert.ElementsMatch(t, []string{"name"}, schema.Required)

	volume, ok := schema.Properties["volume"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "integer", volume["type"])
	assert.Equal(t, 0.0, volume["minimum"])
	assert.Equal(t, 11.0, volume["maximum"])
}

func TestBuildToolsDispatchesThroughEngine(t *testing.T) {
	t.Parallel()
	reg := loadTestRegistry(t, map[string]string{"greet.yaml": greetTool})

	natives := map[string]execution.NativeFunction{
		"greet": func(_ context.Context, params map[string]any) (value.Value, error) {
			return value.String("hello, " + params["name"].(string)), nil
		},
	}
	engine := execution.New(reg, nil, natives, policy.New(), nil)

	tools := buildTools(reg, engine)
	require.Len(t, tools, 1)
	assert.Equal(t, "greet", tools[0].Tool.Name)
	assert.Equal(t, "Greets someone by name", tools[0].Tool.Description)

	result, err := tools[0].Handler(context.Background(), newCallToolRequest("greet", map[string]any{"name": "ada"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	var decoded string
	require.NoError(t, json.Unmarshal([]byte(text.Text), &decoded))
	assert.Equal(t, "hello, ada", decoded)
}

func TestBuildToolsRendersExecutionErrorsAsToolErrors(t *testing.T) {
	t.Parallel()
	reg := loadTestRegistry(t, map[string]string{"greet.yaml": greetTool})
	engine := execution.New(reg, nil, nil, policy.New(), nil)

	tools := buildTools(reg, engine)
	result, err := tools[0].Handler(context.Background(), newCallToolRequest("greet", map[string]any{"name": "ada"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestURITemplateMatchExtractsVariables(t *testing.T) {
	t.Parallel()
	matcher := compileURITemplate("users://{id}/profile")

	params, ok := matcher.match("users://42/profile")
	require.True(t, ok)
	assert.Equal(t, "42", params["id"])

	_, ok = matcher.match("users://42/settings")
	assert.False(t, ok)
}

func TestBuildResourcesServesTemplatedURI(t *testing.T) {
	t.Parallel()
	reg := loadTestRegistry(t, map[string]string{"profile.yaml": `
kind: resource
resource:
  uri_template: "users://{id}/profile"
  parameters:
    - name: id
      type: string
      required: true
  return:
    type: string
  source:
    native: "profile"
`})
	natives := map[string]execution.NativeFunction{
		"profile": func(_ context.Context, params map[string]any) (value.Value, error) {
			return value.String("profile-" + params["id"].(string)), nil
		},
	}
	engine := execution.New(reg, nil, natives, policy.New(), nil)

	resources := buildResources(reg, engine)
	require.Len(t, resources, 1)

	contents, err := resources[0].Handler(context.Background(), newReadResourceRequest("users://42/profile"))
	require.NoError(t, err)
	require.Len(t, contents, 1)

	text, ok := contents[0].(mcp.TextResourceContents)
	require.True(t, ok)
	var decoded string
	require.NoError(t, json.Unmarshal([]byte(text.Text), &decoded))
	assert.Equal(t, "profile-42", decoded)
}
