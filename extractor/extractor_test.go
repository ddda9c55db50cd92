package extractor

import (
	"context"
	"testing"
	"time"

	"menuagent"
	"menuagent/tools"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedLLM returns canned responses in order, recording the prompts it saw.
type scriptedLLM struct {
	responses []menuagent.Response
	prompts   []menuagent.Prompt
	calls     int
}

func (s *scriptedLLM) Complete(_ context.Context, prompt menuagent.Prompt) (menuagent.Response, error) {
	s.prompts = append(s.prompts, prompt)
	if s.calls >= len(s.responses) {
		return menuagent.Response{}, nil
	}
	res := s.responses[s.calls]
	s.calls++
	return res, nil
}

func newTestProvider(t *testing.T) *tools.Registry {
	t.Helper()
	registry, err := tools.NewRegistry(nil)
	require.NoError(t, err)
	return registry
}

func finalizeResponse(input map[string]any) menuagent.Response {
	return menuagent.Response{
		ToolCalls: []menuagent.ToolCall{{Name: "finalize_requirements", Input: input, ToolUseID: "tc_1"}},
	}
}

func TestExtractor_Extract(t *testing.T) {
	llm := &scriptedLLM{responses: []menuagent.Response{
		finalizeResponse(map[string]any{
			"guests":      6.0,
			"diets":       map[string]any{"vegan": 2.0},
			"allergens":   []any{"nuts"},
			"traditional": true,
		}),
	}}
	ex := New(llm, newTestProvider(t), time.Second)

	got, err := ex.Extract(context.Background(), "Traditional dinner for 6, two vegans, and please no nuts.")
	require.NoError(t, err)

	assert.Equal(t, 6, got.Guests)
	assert.Equal(t, 2, got.DietCount(menuagent.DietVegan))
	assert.True(t, got.ExcludesAllergen(menuagent.AllergenNuts))
	assert.True(t, got.Traditional)
	assert.Equal(t, 1, ex.State().Len())

	// Forced-first tool policy restricted to the finalize tool.
	require.Len(t, llm.prompts, 1)
	assert.Equal(t, menuagent.ToolPolicyForcedFirst, llm.prompts[0].Policy)
	assert.Equal(t, []string{"finalize_requirements"}, llm.prompts[0].AllowedTools)
}

func TestExtractor_ExtractAccumulatesAcrossTurns(t *testing.T) {
	llm := &scriptedLLM{responses: []menuagent.Response{
		finalizeResponse(map[string]any{"guests": 6.0, "allergens": []any{"nuts"}}),
		finalizeResponse(map[string]any{"guests": 8.0, "diets": map[string]any{"vegetarian": 3.0}}),
	}}
	ex := New(llm, newTestProvider(t), time.Second)

	_, err := ex.Extract(context.Background(), "Dinner for 6, no nuts.")
	require.NoError(t, err)

	got, err := ex.Extract(context.Background(), "Actually 8 people, three of them vegetarian.")
	require.NoError(t, err)

	assert.Equal(t, 8, got.Guests)
	assert.Equal(t, 3, got.DietCount(menuagent.DietVegetarian))
	assert.True(t, got.ExcludesAllergen(menuagent.AllergenNuts), "earlier allergens survive")

	// Second prompt carries the prior requirements as context.
	require.Len(t, llm.prompts, 2)
	assert.Contains(t, llm.prompts[1].Messages[1].Content.Join(), "Known so far")
}

func TestExtractor_ExtractEmptyInput(t *testing.T) {
	ex := New(&scriptedLLM{}, newTestProvider(t), time.Second)

	_, err := ex.Extract(context.Background(), "   ")
	require.Error(t, err)

	var extErr *menuagent.ExtractionError
	require.ErrorAs(t, err, &extErr)
	assert.NotEmpty(t, extErr.Questions)
}

func TestExtractor_ExtractNoSignal(t *testing.T) {
	llm := &scriptedLLM{responses: []menuagent.Response{
		finalizeResponse(map[string]any{}),
	}}
	ex := New(llm, newTestProvider(t), time.Second)

	_, err := ex.Extract(context.Background(), "Hello there, how are you?")
	require.Error(t, err)

	var extErr *menuagent.ExtractionError
	require.ErrorAs(t, err, &extErr)
	assert.Contains(t, extErr.Questions[0], "guests")
	assert.Equal(t, 0, ex.State().Len(), "failed extraction must not record a turn")
}

func TestExtractor_ExtractNoSignalOnEstablishedConversation(t *testing.T) {
	llm := &scriptedLLM{responses: []menuagent.Response{
		finalizeResponse(map[string]any{"guests": 4.0}),
		finalizeResponse(map[string]any{}),
	}}
	ex := New(llm, newTestProvider(t), time.Second)

	_, err := ex.Extract(context.Background(), "Dinner for 4.")
	require.NoError(t, err)

	got, err := ex.Extract(context.Background(), "Thanks!")
	require.NoError(t, err, "no-signal turn on an established conversation is not an error")
	assert.Equal(t, 4, got.Guests)
}

func TestExtractor_ExtractContentFallback(t *testing.T) {
	llm := &scriptedLLM{responses: []menuagent.Response{
		{Content: `Here you go: {"guests": 5, "allergens": ["shellfish"]}`},
	}}
	ex := New(llm, newTestProvider(t), time.Second)

	got, err := ex.Extract(context.Background(), "Five of us, one shellfish allergy.")
	require.NoError(t, err)
	assert.Equal(t, 5, got.Guests)
	assert.True(t, got.ExcludesAllergen(menuagent.AllergenShellfish))
}

func TestExtractor_ExtractNudgesProseThenSucceeds(t *testing.T) {
	llm := &scriptedLLM{responses: []menuagent.Response{
		{Content: "Sure, I can help plan a dinner!"},
		finalizeResponse(map[string]any{"guests": 2.0}),
	}}
	ex := New(llm, newTestProvider(t), time.Second)

	got, err := ex.Extract(context.Background(), "Date night for two.")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Guests)
	assert.Equal(t, 2, llm.calls)

	// The nudge keeps user and assistant turns alternating.
	require.Len(t, llm.prompts, 2)
	msgs := llm.prompts[1].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, "assistant", msgs[2].Role)
	assert.Equal(t, "Sure, I can help plan a dinner!", msgs[2].Content.Join())
	assert.Equal(t, "user", msgs[3].Role)
}

func TestExtractor_ExtractCorrectsInvalidPayload(t *testing.T) {
	llm := &scriptedLLM{responses: []menuagent.Response{
		finalizeResponse(map[string]any{"guests": "a few"}),
		finalizeResponse(map[string]any{"guests": 6.0}),
	}}
	ex := New(llm, newTestProvider(t), time.Second)

	got, err := ex.Extract(context.Background(), "Dinner for a few of us, six in the end.")
	require.NoError(t, err)
	assert.Equal(t, 6, got.Guests)

	// The correction replays the assistant's tool_use and answers it with a
	// tool_result, so roles still alternate on the retry.
	require.Len(t, llm.prompts, 2)
	msgs := llm.prompts[1].Messages
	require.Len(t, msgs, 4)

	assistant := msgs[2]
	assert.Equal(t, "assistant", assistant.Role)
	require.Len(t, assistant.Content, 1)
	assert.Equal(t, "tool_use", assistant.Content[0].Type)
	assert.Equal(t, "tc_1", assistant.Content[0].ToolUseID)

	reply := msgs[3]
	assert.Equal(t, "user", reply.Role)
	require.Len(t, reply.Content, 1)
	assert.Equal(t, "tool_result", reply.Content[0].Type)
	assert.Equal(t, "tc_1", reply.Content[0].ToolUseID)
	assert.Contains(t, reply.Content[0].Data["error"], "invalid payload")
}

func TestExtractor_PromptsNeverRepeatARole(t *testing.T) {
	llm := &scriptedLLM{responses: []menuagent.Response{
		finalizeResponse(map[string]any{"guests": 6.0}),
		finalizeResponse(map[string]any{"guests": "nope"}),
		finalizeResponse(map[string]any{"guests": 8.0}),
	}}
	ex := New(llm, newTestProvider(t), time.Second)

	_, err := ex.Extract(context.Background(), "Dinner for 6.")
	require.NoError(t, err)
	_, err = ex.Extract(context.Background(), "Make that 8.")
	require.NoError(t, err)

	for _, prompt := range llm.prompts {
		prev := ""
		for _, m := range prompt.Messages {
			if m.Role == "system" {
				continue
			}
			assert.NotEqual(t, prev, m.Role, "conversation roles must alternate")
			prev = m.Role
		}
	}
}

func TestExtractor_ExtractGivesUpAfterMaxIterations(t *testing.T) {
	llm := &scriptedLLM{responses: []menuagent.Response{
		{Content: "prose"},
		{Content: "more prose"},
		{Content: "still prose"},
	}}
	ex := New(llm, newTestProvider(t), time.Second)

	_, err := ex.Extract(context.Background(), "Dinner for some people.")
	require.Error(t, err)

	var extErr *menuagent.ExtractionError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, maxIterations, llm.calls)
}
