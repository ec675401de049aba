package transport

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mxcp-io/mxcp-core/internal/execution"
	"github.com/mxcp-io/mxcp-core/internal/registry"
	"github.com/mxcp-io/mxcp-core/internal/value"
)

// buildPrompts converts every KindPrompt endpoint in reg into a
// mcpserver.ServerPrompt, grounded on giantswarm-muster's
// internal/aggregator/server_helpers.go promptHandlerFactory (mcp.Prompt{
// Name, Description, Arguments: []mcp.PromptArgument{...}} plus a handler
// returning *mcp.GetPromptResult{Messages: []mcp.PromptMessage{...}}).
func buildPrompts(reg *registry.Registry, engine *execution.Engine) []mcpserver.ServerPrompt {
	endpoints := reg.List(registry.KindPrompt)
	prompts := make([]mcpserver.ServerPrompt, 0, len(endpoints))
	for _, ep := range endpoints {
		def := ep.Definition
		arguments := make([]mcp.PromptArgument, 0, len(def.Parameters))
		for _, p := range def.Parameters {
			arguments = append(arguments, mcp.PromptArgument{
				Name:        p.Name,
				Description: p.Name,
				Required:    p.Required,
			})
		}
		prompts = append(prompts, mcpserver.ServerPrompt{
			Prompt: mcp.Prompt{
				Name:        def.Name,
				Description: description(def),
				Arguments:   arguments,
			},
			Handler: promptHandler(engine, def.Name),
		})
	}
	return prompts
}

func promptHandler(engine *execution.Engine, name string) mcpserver.PromptHandlerFunc {
	return func(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		params := make(map[string]any, len(req.Params.Arguments))
		for k, v := range req.Params.Arguments {
			params[k] = v
		}

		result, err := engine.Call(ctx, registry.KindPrompt, name, params)
		if err != nil {
			return nil, err
		}

		return &mcp.GetPromptResult{
			Description: name,
			Messages:    promptMessages(result),
		}, nil
	}
}

// promptMessages renders a prompt endpoint's result Value as a single user
// message when it's a plain string, or as one message per array element
// when the endpoint returns a list of {role, text} objects; any other shape
// is rendered as its JSON text, so no well-formed prompt response is ever
// silently dropped.
func promptMessages(result value.Value) []mcp.PromptMessage {
	if s, ok := result.String(); ok {
		return []mcp.PromptMessage{{Role: mcp.RoleUser, Content: mcp.TextContent{Type: "text", Text: s}}}
	}

	if items, ok := result.Items(); ok {
		messages := make([]mcp.PromptMessage, 0, len(items))
		for _, item := range items {
			messages = append(messages, promptMessageFromValue(item))
		}
		return messages
	}

	return []mcp.PromptMessage{promptMessageFromValue(result)}
}

func promptMessageFromValue(v value.Value) mcp.PromptMessage {
	role := mcp.RoleUser
	if roleField, ok := v.Get("role"); ok {
		if s, ok := roleField.String(); ok && s == "assistant" {
			role = mcp.RoleAssistant
		}
	}
	text := ""
	if textField, ok := v.Get("text"); ok {
		if s, ok := textField.String(); ok {
			text = s
		}
	} else if s, ok := v.String(); ok {
		text = s
	} else {
		data, _ := v.MarshalJSON()
		text = string(data)
	}
	return mcp.PromptMessage{Role: role, Content: mcp.TextContent{Type: "text", Text: text}}
}
