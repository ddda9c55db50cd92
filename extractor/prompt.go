package extractor

import (
	"menuagent"
)

const systemPrompt = `You extract dinner planning requirements from a host's message.

Read the message and call the finalize_requirements tool exactly once with everything you find:
- guests: total number of guests, only if the message states one.
- diets: dietary needs mapped to how many guests each applies to. "Two of us are vegan" with six guests means {"vegan": 2}. "We're all vegetarian" means the diet applies to the full guest count.
- allergens: every allergen the menu must avoid. Treat "allergic to", "can't have", and "no X please" all as exclusions.
- remove_diets / remove_allergens: only when the host explicitly withdraws an earlier restriction, such as "actually nobody is vegan anymore".
- traditional: true for classic or traditional menus, false when the host asks for something modern or creative.
- notes: remaining preferences that are not diets or allergens, like cuisine, season, or favorite ingredients.

Omit any field the message says nothing about. Never guess a guest count. Do not answer in prose; the tool call is your entire answer.`

// newPrompt builds the forced-tool extraction prompt. Earlier merged
// requirements are included so the model resolves pronouns and corrections
// against what is already known.
func newPrompt(text string, prior menuagent.RequirementSet, specs []menuagent.ToolSpec) menuagent.Prompt {
	// Prior context and the new turn share one user message; user and
	// assistant turns must alternate on the wire.
	userText := text
	if !prior.IsZero() {
		userText = "Known so far: " + prior.Summary() + "\n\n" + text
	}

	messages := []menuagent.Message{
		{
			Role:    "system",
			Content: menuagent.MessageParts{{Type: "text", Text: systemPrompt}},
		},
		{
			Role:    "user",
			Content: menuagent.MessageParts{{Type: "text", Text: userText}},
		},
	}

	return menuagent.Prompt{
		Messages:     messages,
		Tools:        specs,
		Policy:       menuagent.ToolPolicyForcedFirst,
		AllowedTools: []string{"finalize_requirements"},
	}
}
