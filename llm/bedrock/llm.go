// Package bedrock implements the language model client on the AWS Bedrock
// Converse API.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"menuagent"
)

const (
	// defaultModelID is an inference profile ID or ARN, not the foundation
	// model's ID.
	// See https://docs.aws.amazon.com/bedrock/latest/userguide/inference-profiles.html.
	defaultModelID = "us.anthropic.claude-3-7-sonnet-20250219-v1:0"

	// 1k tokens is enough for a finalize call or a few sentences of notes;
	// raise it when expecting longer responses.
	defaultMaxTokens = 1024

	// Low temperature and top_p keep outputs more deterministic, which is
	// better for tool use and structured outputs.
	defaultTemperature = 0.2
	defaultTopP        = 0.9
)

type bedrockRuntimeClient interface {
	Converse(context.Context, *bedrockruntime.ConverseInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

type LLMOptions struct {
	ModelID     string
	MaxTokens   int32
	Temperature float32
	TopP        float32
}

type LLMClient struct {
	brc  bedrockRuntimeClient
	opts LLMOptions
}

func NewLLMClient(brc bedrockRuntimeClient, opts LLMOptions) *LLMClient {
	if opts.ModelID == "" {
		opts.ModelID = defaultModelID
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.Temperature == 0 {
		opts.Temperature = defaultTemperature
	}
	if opts.TopP == 0 {
		opts.TopP = defaultTopP
	}
	return &LLMClient{
		brc:  brc,
		opts: opts,
	}
}

// Complete sends the prompt through the Converse API and maps the response
// back to the provider-agnostic shape.
func (c *LLMClient) Complete(ctx context.Context, prompt menuagent.Prompt) (menuagent.Response, error) {
	slog.Info("LLM_CLIENT: Invoked", "messages_len", len(prompt.Messages), "policy", prompt.Policy)

	// Build system block
	var sys []types.SystemContentBlock
	for _, m := range prompt.Messages {
		if m.Role == "system" {
			sys = append(sys, &types.SystemContentBlockMemberText{Value: m.Content.Join()})
		}
	}

	// Build messages
	var msgs []types.Message
	for _, m := range prompt.Messages {
		if m.Role == "system" {
			continue // already handled above
		}
		msg := types.Message{Role: types.ConversationRole(m.Role)}

		for _, part := range m.Content {
			switch part.Type {
			case "text":
				msg.Content = append(msg.Content, &types.ContentBlockMemberText{Value: part.Text})

			case "tool_use":
				tub := types.ToolUseBlock{
					ToolUseId: aws.String(part.ToolUseID),
					Name:      aws.String(part.ToolName),
					Input:     document.NewLazyDocument(freshMap(part.Data)),
				}
				msg.Content = append(msg.Content, &types.ContentBlockMemberToolUse{Value: tub})

			case "tool_result":
				tr := types.ToolResultBlock{
					ToolUseId: aws.String(part.ToolUseID),
					Status:    types.ToolResultStatusSuccess,
					Content: []types.ToolResultContentBlock{
						&types.ToolResultContentBlockMemberJson{
							Value: document.NewLazyDocument(freshMap(part.Data)),
						},
					},
				}
				msg.Content = append(msg.Content, &types.ContentBlockMemberToolResult{Value: tr})
			}
		}

		msgs = append(msgs, msg)
	}

	toolConfig, err := buildToolConfig(prompt)
	if err != nil {
		return menuagent.Response{}, err
	}

	in := &bedrockruntime.ConverseInput{
		ModelId:  &c.opts.ModelID,
		System:   sys,
		Messages: msgs,
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(c.opts.MaxTokens),
			Temperature: aws.Float32(c.opts.Temperature),
			TopP:        aws.Float32(c.opts.TopP),
		},
		ToolConfig: toolConfig,
	}
	out, err := c.brc.Converse(ctx, in)
	if err != nil {
		slog.Error("LLM_CLIENT: Bedrock Converse failed", "error", err)
		return menuagent.Response{}, err
	}

	slog.Info("LLM_CLIENT: Bedrock Converse succeeded",
		"stop_reason", out.StopReason,
		"latency_ms", aws.ToInt64(out.Metrics.LatencyMs),
		"input_tokens", aws.ToInt32(out.Usage.InputTokens),
		"output_tokens", aws.ToInt32(out.Usage.OutputTokens),
	)

	switch out.StopReason {
	case "tool_use":
		calls, err := toolCallsFromOutput(out)
		if err != nil {
			return menuagent.Response{}, fmt.Errorf("failed to parse tool calls: %w", err)
		}
		return menuagent.Response{ToolCalls: calls}, nil

	case "end_turn", "stop_sequence":
		text, err := textFromOutput(out)
		if err != nil {
			return menuagent.Response{}, fmt.Errorf("failed to extract final text: %w", err)
		}
		return menuagent.Response{Content: text}, nil

	case "max_tokens":
		return menuagent.Response{}, fmt.Errorf("model hit MaxTokens limit; consider increasing MaxTokens or chunking")

	case "safety", "content_filtered":
		return menuagent.Response{}, fmt.Errorf("model response blocked by Bedrock safety filters")

	default:
		// Fallback if the model didn't specify a stop reason
		text, err := textFromOutput(out)
		if err != nil {
			return menuagent.Response{}, fmt.Errorf("failed to extract text: %w", err)
		}
		calls, err := toolCallsFromOutput(out)
		if err != nil {
			return menuagent.Response{}, fmt.Errorf("failed to parse tool calls: %w", err)
		}
		return menuagent.Response{Content: text, ToolCalls: calls}, nil
	}
}

// buildToolConfig maps the prompt's tool policy onto the Converse tool
// choice. Restricted and forced-first policies narrow the offered tools to
// the allowed set first.
func buildToolConfig(prompt menuagent.Prompt) (*types.ToolConfiguration, error) {
	specs := prompt.Tools
	if len(prompt.AllowedTools) > 0 && prompt.Policy != menuagent.ToolPolicyAuto {
		allowed := make(map[string]bool, len(prompt.AllowedTools))
		for _, name := range prompt.AllowedTools {
			allowed[name] = true
		}
		filtered := make([]menuagent.ToolSpec, 0, len(specs))
		for _, t := range specs {
			if allowed[t.Name] {
				filtered = append(filtered, t)
			}
		}
		specs = filtered
	}

	if len(specs) == 0 {
		return nil, nil
	}

	var bedrockTools []types.Tool
	for _, t := range specs {
		spec, err := buildToolSpec(t)
		if err != nil {
			slog.Error("LLM_CLIENT: Failed to build tool spec", "error", err)
			continue
		}
		bedrockTools = append(bedrockTools, &types.ToolMemberToolSpec{Value: spec})
	}

	var choice types.ToolChoice
	switch prompt.Policy {
	case menuagent.ToolPolicyForcedFirst:
		if len(specs) == 1 {
			choice = &types.ToolChoiceMemberTool{Value: types.SpecificToolChoice{Name: aws.String(specs[0].Name)}}
		} else {
			choice = &types.ToolChoiceMemberAny{}
		}
	default:
		choice = &types.ToolChoiceMemberAuto{}
	}

	return &types.ToolConfiguration{Tools: bedrockTools, ToolChoice: choice}, nil
}

// buildToolSpec constructs a ToolSpecification for one tool. The schema is
// round-tripped through JSON so custom marshalers apply before the document
// wrapper sees it.
func buildToolSpec(t menuagent.ToolSpec) (types.ToolSpecification, error) {
	schemaJSON, err := json.Marshal(t.InputSchema)
	if err != nil {
		return types.ToolSpecification{}, fmt.Errorf("failed to marshal tool schema for %s: %w", t.Name, err)
	}

	var schemaMap map[string]any
	if err := json.Unmarshal(schemaJSON, &schemaMap); err != nil {
		return types.ToolSpecification{}, fmt.Errorf("failed to unmarshal tool schema for %s: %w", t.Name, err)
	}

	return types.ToolSpecification{
		Name:        aws.String(t.Name),
		Description: aws.String(t.Description),
		InputSchema: &types.ToolInputSchemaMemberJson{
			Value: document.NewLazyDocument(schemaMap),
		},
	}, nil
}

// freshMap deep-copies a map through JSON so the document wrapper never
// aliases caller state.
func freshMap(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	b, _ := json.Marshal(data)
	if err := json.Unmarshal(b, &out); err != nil {
		for k, v := range data {
			out[k] = v
		}
	}
	return out
}

// textFromOutput returns assistant text optimized for agent use:
// 1) If any text block looks like a single JSON object, return the last such block.
// 2) Else, if there's only one text block, return it.
// 3) Else, join all text blocks with '\n'.
func textFromOutput(out *bedrockruntime.ConverseOutput) (string, error) {
	if out == nil || out.Output == nil {
		return "", nil
	}

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok || msg == nil || len(msg.Value.Content) == 0 {
		return "", nil
	}

	texts := make([]string, 0, len(msg.Value.Content))
	for _, cb := range msg.Value.Content {
		if t, ok := cb.(*types.ContentBlockMemberText); ok && t != nil && t.Value != "" {
			texts = append(texts, t.Value)
		}
	}
	if len(texts) == 0 {
		return "", nil
	}

	// Prefer a single JSON object if present
	for i := len(texts) - 1; i >= 0; i-- {
		s := strings.TrimSpace(texts[i])
		if len(s) > 1 && s[0] == '{' && s[len(s)-1] == '}' {
			return s, nil
		}
	}

	if len(texts) == 1 {
		return texts[0], nil
	}

	return strings.Join(texts, "\n"), nil
}

// toolCallsFromOutput extracts tool uses emitted by the assistant.
func toolCallsFromOutput(out *bedrockruntime.ConverseOutput) ([]menuagent.ToolCall, error) {
	var calls []menuagent.ToolCall

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok || msg == nil || msg.Value.Content == nil {
		return calls, nil
	}

	for _, cb := range msg.Value.Content {
		tu, ok := cb.(*types.ContentBlockMemberToolUse)
		if !ok || tu == nil {
			continue
		}

		var input map[string]any
		if err := tu.Value.Input.UnmarshalSmithyDocument(&input); err != nil {
			input = map[string]any{}
		}

		// Normalize deeply instead of just top-level floats
		normalized := normalizeInput(input).(map[string]any)

		calls = append(calls, menuagent.ToolCall{
			Name:      aws.ToString(tu.Value.Name),
			Input:     normalized,
			ToolUseID: aws.ToString(tu.Value.ToolUseId),
		})
	}

	return calls, nil
}

// normalizeInput recursively coerces types for safe downstream use.
func normalizeInput(val any) any {
	switch v := val.(type) {
	case float64:
		// Convert whole numbers like 2.0 → 2
		if v == float64(int(v)) {
			return int(v)
		}
		return v

	case string:
		// Check if it's a stringified JSON array or object
		var decoded any
		if json.Unmarshal([]byte(v), &decoded) == nil {
			return normalizeInput(decoded)
		}
		return v

	case []any:
		for i := range v {
			v[i] = normalizeInput(v[i])
		}
		return v

	case map[string]any:
		for key, val := range v {
			v[key] = normalizeInput(val)
		}
		return v

	default:
		return v
	}
}
