package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"

	"menuagent"
)

// FinalizeRequirements is the structured hand-off the extraction model calls
// once it has pulled everything it can from the user's message. Run validates
// the payload and echoes it back normalized.
type FinalizeRequirements struct{}

func NewFinalizeRequirements() *FinalizeRequirements { return &FinalizeRequirements{} }

func (t *FinalizeRequirements) Name() string  { return "finalize_requirements" }
func (t *FinalizeRequirements) Title() string { return "Finalize Dinner Requirements" }
func (t *FinalizeRequirements) Description() string {
	return "Reports the dinner requirements extracted from the user's message: guest count, dietary needs with how many guests each applies to, allergens to avoid, and whether the menu should stay traditional. Call this exactly once with everything found; omit fields the message does not mention."
}

func (t *FinalizeRequirements) InputSchema() *jsonschema.Schema {
	minGuests := 1.0
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"guests": {
				Type:        "integer",
				Minimum:     &minGuests,
				Description: "Total number of guests, if stated.",
			},
			"diets": {
				Type:        "object",
				Description: "Dietary needs mapped to the number of guests each applies to. Use the total guest count when a diet applies to everyone.",
				AdditionalProperties: &jsonschema.Schema{
					Type: "integer",
				},
			},
			"remove_diets": {
				Type:        "array",
				Items:       &jsonschema.Schema{Type: "string"},
				Description: "Diets the user explicitly withdrew in this message.",
			},
			"allergens": {
				Type:  "array",
				Items: &jsonschema.Schema{Type: "string"},
			},
			"remove_allergens": {
				Type:        "array",
				Items:       &jsonschema.Schema{Type: "string"},
				Description: "Allergens the user explicitly withdrew in this message.",
			},
			"traditional": {
				Type:        "boolean",
				Description: "True if the user asked for a traditional menu, false if they asked for a modern one.",
			},
			"notes": {
				Type:        "string",
				Description: "Freeform preferences that are not diets or allergens, such as cuisine or seasonality.",
			},
		},
	}
}

func (t *FinalizeRequirements) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"accepted": {Type: "boolean"},
			"ignored": {
				Type:        "array",
				Items:       &jsonschema.Schema{Type: "string"},
				Description: "Unrecognized diet or allergen names that were dropped.",
			},
		},
		Required: []string{"accepted"},
	}
}

func (t *FinalizeRequirements) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	delta, ignored, err := ParseRequirementPayload(input)
	if err != nil {
		return nil, err
	}
	_ = delta

	out := struct {
		Accepted bool     `json:"accepted"`
		Ignored  []string `json:"ignored"`
	}{Accepted: true, Ignored: ignored}
	if out.Ignored == nil {
		out.Ignored = make([]string, 0)
	}

	b, _ := json.Marshal(out)
	var m map[string]any
	_ = json.Unmarshal(b, &m)
	return m, nil
}

// ParseRequirementPayload converts a finalize_requirements tool input into a
// RequirementDelta, dropping unrecognized diet and allergen names rather than
// failing. It is shared with the extraction loop so the tool's validation and
// the extractor's parsing cannot drift apart.
func ParseRequirementPayload(input map[string]any) (menuagent.RequirementDelta, []string, error) {
	var delta menuagent.RequirementDelta
	var ignored []string

	if v, ok := input["guests"]; ok {
		n, err := asInt(v)
		if err != nil {
			return delta, nil, fmt.Errorf("guests: %w", err)
		}
		if n < 1 {
			return delta, nil, fmt.Errorf("guests must be positive, got %d", n)
		}
		delta.Guests = &n
	}

	if v, ok := input["diets"].(map[string]any); ok {
		for name, raw := range v {
			diet, ok := menuagent.ParseDiet(name)
			if !ok {
				ignored = append(ignored, name)
				continue
			}
			n, err := asInt(raw)
			if err != nil || n < 1 {
				ignored = append(ignored, name)
				continue
			}
			if delta.AddDiets == nil {
				delta.AddDiets = make(map[menuagent.Diet]int)
			}
			delta.AddDiets[diet] = n
		}
	}

	for _, name := range asStrings(input["remove_diets"]) {
		diet, ok := menuagent.ParseDiet(name)
		if !ok {
			ignored = append(ignored, name)
			continue
		}
		delta.RemoveDiets = append(delta.RemoveDiets, diet)
	}

	for _, name := range asStrings(input["allergens"]) {
		a, ok := menuagent.ParseAllergen(name)
		if !ok {
			ignored = append(ignored, name)
			continue
		}
		delta.AddAllergens = append(delta.AddAllergens, a)
	}

	for _, name := range asStrings(input["remove_allergens"]) {
		a, ok := menuagent.ParseAllergen(name)
		if !ok {
			ignored = append(ignored, name)
			continue
		}
		delta.RemoveAllergens = append(delta.RemoveAllergens, a)
	}

	if v, ok := input["traditional"].(bool); ok {
		delta.Traditional = &v
	}
	if v, ok := input["notes"].(string); ok && v != "" {
		delta.Notes = v
	}

	return delta, ignored, nil
}

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

func asStrings(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, it := range raw {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
