package extractor

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

// maxIterations bounds the extraction loop. One model call normally suffices;
// the extra rounds absorb a model that answers in prose before calling the
// tool.
const maxIterations = 3

// llmClient is the model surface the extractor needs.
type llmClient interface {
	Complete(ctx context.Context, prompt menuagent.Prompt) (menuagent.Response, error)
}

// toolProvider supplies the finalize_requirements tool.
type toolProvider interface {
	GetTool(name string) (tools.Tool, error)
	GetTools() []tools.Tool
}

// Extractor turns freeform host messages into structured requirements,
// accumulating them across conversation turns.
type Extractor struct {
	llm     llmClient
	tp      toolProvider
	timeout time.Duration
	state   *ConversationState
}

// New initializes an extractor with a fresh conversation.
func New(llm llmClient, tp toolProvider, timeout time.Duration) *Extractor {
	return &Extractor{
		llm:     llm,
		tp:      tp,
		timeout: timeout,
		state:   NewConversationState(),
	}
}

// State exposes the conversation for persistence and inspection.
func (e *Extractor) State() *ConversationState { return e.state }

// Restore replaces the conversation, e.g. after loading a saved session.
func (e *Extractor) Restore(state *ConversationState) {
	if state != nil {
		e.state = state
	}
}

// Reset drops the accumulated conversation.
func (e *Extractor) Reset() { e.state.Clear() }

// Extract parses one host message into a requirement delta, merges it into
// the conversation, and returns the merged set. A message carrying no
// planning signal at all on a fresh conversation returns *ExtractionError
// with follow-up questions; on an established conversation it simply returns
// the prior set unchanged.
func (e *Extractor) Extract(ctx context.Context, text string) (menuagent.RequirementSet, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return menuagent.RequirementSet{}, &menuagent.ExtractionError{
			Reason:    "empty request",
			Missing:   []string{"guests", "diets", "allergens"},
			Questions: followUpQuestions(menuagent.RequirementSet{}),
		}
	}

	prior := e.state.Latest()
	specs := tools.Specs(e.tp.GetTools())
	prompt := newPrompt(text, prior, specs)

	delta, err := e.run(ctx, prompt)
	if err != nil {
		return menuagent.RequirementSet{}, err
	}

	if delta.Empty() && prior.IsZero() {
		return menuagent.RequirementSet{}, &menuagent.ExtractionError{
			Reason:    "no planning requirements found in request",
			Missing:   []string{"guests", "diets", "allergens"},
			Questions: followUpQuestions(prior),
		}
	}

	merged := e.state.Record(text, delta)
	slog.Info("EXTRACTOR: Requirements merged", "turns", e.state.Len(), "requirements", merged.Summary())
	return merged, nil
}

func (e *Extractor) run(ctx context.Context, prompt menuagent.Prompt) (menuagent.RequirementDelta, error) {
	var zero menuagent.RequirementDelta

	for iter := 0; iter < maxIterations; iter++ {
		res, err := e.complete(ctx, prompt)
		if err != nil {
			return zero, fmt.Errorf("invoke extraction model: %w", err)
		}

		slog.Info("EXTRACTOR: Model response received",
			"iteration", iter+1,
			"content_length", len(res.Content),
			"tool_calls", len(res.ToolCalls),
		)

		if call, ok := finalizeCall(res.ToolCalls); ok {
			delta, ignored, perr := tools.ParseRequirementPayload(call.Input)
			if perr == nil {
				if len(ignored) > 0 {
					slog.Warn("EXTRACTOR: Dropped unrecognized requirement names", "names", ignored)
				}
				// Echo validation through the tool so its contract stays honest.
				if tool, terr := e.tp.GetTool(call.Name); terr == nil {
					if _, rerr := tool.Run(ctx, call.Input); rerr != nil {
						slog.Warn("EXTRACTOR: Tool validation disagreed with parse", "error", rerr)
					}
				}
				return delta, nil
			}

			slog.Warn("EXTRACTOR: Invalid tool payload, correcting", "iteration", iter+1, "error", perr)
			prompt.Messages = append(prompt.Messages, assistantMessage(res))
			prompt.Messages = append(prompt.Messages, correctionMessage(res.ToolCalls, call, perr))
			continue
		}

		// Some models answer in JSON prose instead of calling the tool.
		if delta, ok := deltaFromContent(res.Content); ok {
			slog.Warn("EXTRACTOR: Model skipped the tool, parsed requirements from content")
			return delta, nil
		}

		if res.Content == "" && len(res.ToolCalls) == 0 {
			// Nothing to reply to; retry the prompt as-is.
			slog.Warn("EXTRACTOR: Empty model response", "iteration", iter+1)
			continue
		}

		prompt.Messages = append(prompt.Messages, assistantMessage(res))
		prompt.Messages = append(prompt.Messages, nudgeMessage(res.ToolCalls))
	}

	return zero, &menuagent.ExtractionError{
		Reason: fmt.Sprintf("model produced no usable requirements after %d attempts", maxIterations),
	}
}

func (e *Extractor) complete(ctx context.Context, prompt menuagent.Prompt) (menuagent.Response, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	return e.llm.Complete(ctx, prompt)
}

// assistantMessage replays the model's turn so the conversation keeps
// alternating roles, with every tool call echoed as a tool_use part.
func assistantMessage(res menuagent.Response) menuagent.Message {
	msg := menuagent.Message{Role: "assistant"}
	if res.Content != "" {
		msg.Content = append(msg.Content, menuagent.MessagePart{Type: "text", Text: res.Content})
	}
	for _, call := range res.ToolCalls {
		msg.Content = append(msg.Content, menuagent.MessagePart{
			Type:      "tool_use",
			ToolUseID: call.ToolUseID,
			ToolName:  call.Name,
			Data:      call.Input,
		})
	}
	return msg
}

// correctionMessage answers every pending tool_use with a tool_result; the
// invalid finalize call gets the parse error, anything else a rejection.
func correctionMessage(calls []menuagent.ToolCall, invalid menuagent.ToolCall, perr error) menuagent.Message {
	msg := menuagent.Message{Role: "user"}
	for _, call := range calls {
		data := map[string]any{"error": "unsupported tool; only finalize_requirements is available"}
		if call.ToolUseID == invalid.ToolUseID {
			data = map[string]any{
				"error": fmt.Sprintf("invalid payload: %v; call finalize_requirements again with corrected values", perr),
			}
		}
		msg.Content = append(msg.Content, menuagent.MessagePart{
			Type:      "tool_result",
			ToolUseID: call.ToolUseID,
			ToolName:  call.Name,
			Data:      data,
		})
	}
	return msg
}

// nudgeMessage pushes a prose-happy model back to the tool. Any stray tool
// calls still get a tool_result so the pending tool_use parts are answered.
func nudgeMessage(calls []menuagent.ToolCall) menuagent.Message {
	msg := menuagent.Message{Role: "user"}
	for _, call := range calls {
		msg.Content = append(msg.Content, menuagent.MessagePart{
			Type:      "tool_result",
			ToolUseID: call.ToolUseID,
			ToolName:  call.Name,
			Data:      map[string]any{"error": "unsupported tool; only finalize_requirements is available"},
		})
	}
	msg.Content = append(msg.Content, menuagent.MessagePart{
		Type: "text",
		Text: "Do not answer in prose. Call finalize_requirements exactly once with the requirements you found.",
	})
	return msg
}

func finalizeCall(calls []menuagent.ToolCall) (menuagent.ToolCall, bool) {
	for _, c := range calls {
		if c.Name == "finalize_requirements" {
			return c, true
		}
	}
	return menuagent.ToolCall{}, false
}

// deltaFromContent salvages a JSON requirement payload embedded in prose.
func deltaFromContent(content string) (menuagent.RequirementDelta, bool) {
	var zero menuagent.RequirementDelta

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return zero, false
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(content[start:end+1]), &payload); err != nil {
		return zero, false
	}
	delta, _, err := tools.ParseRequirementPayload(payload)
	if err != nil || delta.Empty() {
		return zero, false
	}
	return delta, true
}

// followUpQuestions suggests what to ask the host next, given what is still
// unknown.
func followUpQuestions(reqs menuagent.RequirementSet) []string {
	var qs []string
	if reqs.Guests == menuagent.GuestsUnspecified {
		qs = append(qs, "How many guests are you expecting?")
	}
	if len(reqs.Diets) == 0 {
		qs = append(qs, "Do any guests follow a diet such as vegan, vegetarian, or gluten-free?")
	}
	if len(reqs.Allergens) == 0 {
		qs = append(qs, "Are there any allergies the menu must avoid?")
	}
	return qs
}
