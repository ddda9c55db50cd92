package composer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"menuagent"
	"menuagent/tools"
)

// maxNoteIterations bounds the annotation loop, leaving room for one
// recipe_search round trip before the final prose answer.
const maxNoteIterations = 4

type llmClient interface {
	Complete(ctx context.Context, prompt menuagent.Prompt) (menuagent.Response, error)
}

type toolProvider interface {
	GetTool(name string) (tools.Tool, error)
	GetTools() []tools.Tool
}

// Annotator writes pairing notes for a composed menu. It is strictly
// optional: any failure returns an error the composer downgrades to a menu
// without notes.
type Annotator struct {
	llm     llmClient
	tp      toolProvider
	timeout time.Duration
}

func NewAnnotator(llm llmClient, tp toolProvider, timeout time.Duration) *Annotator {
	return &Annotator{llm: llm, tp: tp, timeout: timeout}
}

const notesSystemPrompt = `You write serving and pairing notes for a dinner menu.

You receive the menu as JSON. Respond with two or three short sentences a host could read aloud: what ties the courses together, one drink pairing, and anything worth serving in a particular order. Use the recipe_search tool if you need a course's ingredients. Plain prose only, no lists or headings.`

// Annotate asks the model for pairing notes, allowing a bounded number of
// recipe_search lookups first.
func (a *Annotator) Annotate(ctx context.Context, reqs menuagent.RequirementSet, menu *menuagent.Menu) (string, error) {
	menuJSON, err := json.Marshal(menu)
	if err != nil {
		return "", fmt.Errorf("marshal menu: %w", err)
	}

	prompt := menuagent.Prompt{
		Messages: []menuagent.Message{
			{
				Role:    "system",
				Content: menuagent.MessageParts{{Type: "text", Text: notesSystemPrompt}},
			},
			{
				Role: "user",
				Content: menuagent.MessageParts{{
					Type: "text",
					Text: fmt.Sprintf("Requirements: %s\nMenu: %s", reqs.Summary(), menuJSON),
				}},
			},
		},
		Tools:        tools.Specs(a.tp.GetTools()),
		Policy:       menuagent.ToolPolicyRestricted,
		AllowedTools: []string{"recipe_search"},
	}

	for iter := 0; iter < maxNoteIterations; iter++ {
		res, err := a.complete(ctx, prompt)
		if err != nil {
			return "", fmt.Errorf("invoke annotation model: %w", err)
		}

		if len(res.ToolCalls) == 0 {
			notes := strings.TrimSpace(res.Content)
			if notes == "" {
				return "", fmt.Errorf("annotation model returned empty content")
			}
			return notes, nil
		}

		// Replay the assistant turn, then answer each tool_use with a
		// tool_result in a single user turn; roles must alternate.
		assistant := menuagent.Message{Role: "assistant"}
		if res.Content != "" {
			assistant.Content = append(assistant.Content, menuagent.MessagePart{Type: "text", Text: res.Content})
		}
		for _, call := range res.ToolCalls {
			assistant.Content = append(assistant.Content, menuagent.MessagePart{
				Type:      "tool_use",
				ToolUseID: call.ToolUseID,
				ToolName:  call.Name,
				Data:      call.Input,
			})
		}
		prompt.Messages = append(prompt.Messages, assistant)

		results := menuagent.Message{Role: "user"}
		for _, call := range res.ToolCalls {
			results.Content = append(results.Content, menuagent.MessagePart{
				Type:      "tool_result",
				ToolUseID: call.ToolUseID,
				ToolName:  call.Name,
				Data:      a.runTool(ctx, call),
			})
		}
		prompt.Messages = append(prompt.Messages, results)
	}

	return "", fmt.Errorf("annotation model produced no notes after %d attempts", maxNoteIterations)
}

// runTool executes one annotation tool call. Failures come back as error
// payloads for the model rather than aborting the annotation.
func (a *Annotator) runTool(ctx context.Context, call menuagent.ToolCall) map[string]any {
	if call.Name != "recipe_search" {
		slog.Warn("COMPOSER: Annotator requested a disallowed tool", "name", call.Name)
		return map[string]any{"error": fmt.Sprintf("tool %q is not available; only recipe_search may be used", call.Name)}
	}
	tool, err := a.tp.GetTool(call.Name)
	if err != nil {
		return map[string]any{"error": fmt.Sprintf("tool %q not found: %v", call.Name, err)}
	}
	result, err := tool.Run(ctx, call.Input)
	if err != nil {
		return map[string]any{"error": fmt.Sprintf("tool %q failed: %v", call.Name, err)}
	}
	return result
}

func (a *Annotator) complete(ctx context.Context, prompt menuagent.Prompt) (menuagent.Response, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	return a.llm.Complete(ctx, prompt)
}
