package tools

import (
	"context"
	"testing"

	"menuagent"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequirementPayload(t *testing.T) {
	six := 6
	yes := true

	tests := []struct {
		name          string
		input         map[string]any
		expectedDelta menuagent.RequirementDelta
		expectIgnored []string
		expectErr     bool
	}{
		{
			name: "full payload",
			input: map[string]any{
				"guests":      6.0,
				"diets":       map[string]any{"vegan": 2.0, "gluten-free": 6.0},
				"allergens":   []any{"nuts", "shellfish"},
				"traditional": true,
				"notes":       "something seasonal",
			},
			expectedDelta: menuagent.RequirementDelta{
				Guests:       &six,
				AddDiets:     map[menuagent.Diet]int{menuagent.DietVegan: 2, menuagent.DietGlutenFree: 6},
				AddAllergens: []menuagent.Allergen{menuagent.AllergenNuts, menuagent.AllergenShellfish},
				Traditional:  &yes,
				Notes:        "something seasonal",
			},
		},
		{
			name: "unknown names are dropped, not fatal",
			input: map[string]any{
				"diets":     map[string]any{"keto": 3.0, "vegetarian": 1.0},
				"allergens": []any{"kryptonite", "dairy"},
			},
			expectedDelta: menuagent.RequirementDelta{
				AddDiets:     map[menuagent.Diet]int{menuagent.DietVegetarian: 1},
				AddAllergens: []menuagent.Allergen{menuagent.AllergenDairy},
			},
			expectIgnored: []string{"keto", "kryptonite"},
		},
		{
			name: "explicit removals",
			input: map[string]any{
				"remove_diets":     []any{"vegan"},
				"remove_allergens": []any{"nuts"},
			},
			expectedDelta: menuagent.RequirementDelta{
				RemoveDiets:     []menuagent.Diet{menuagent.DietVegan},
				RemoveAllergens: []menuagent.Allergen{menuagent.AllergenNuts},
			},
		},
		{
			name:      "non-positive guests rejected",
			input:     map[string]any{"guests": 0.0},
			expectErr: true,
		},
		{
			name:      "guests wrong type rejected",
			input:     map[string]any{"guests": "six"},
			expectErr: true,
		},
		{
			name:          "empty payload carries no signal",
			input:         map[string]any{},
			expectedDelta: menuagent.RequirementDelta{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delta, ignored, err := ParseRequirementPayload(tt.input)
			if tt.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedDelta, delta)
			assert.ElementsMatch(t, tt.expectIgnored, ignored)
		})
	}
}

func TestFinalizeRequirements_Run(t *testing.T) {
	tool := NewFinalizeRequirements()

	out, err := tool.Run(context.Background(), map[string]any{
		"guests": 4.0,
		"diets":  map[string]any{"vegan": 4.0, "paleo": 2.0},
	})
	require.NoError(t, err)
	assert.Equal(t, true, out["accepted"])
	assert.Equal(t, []any{"paleo"}, out["ignored"])
}

func TestFinalizeRequirements_RunRejectsBadGuests(t *testing.T) {
	tool := NewFinalizeRequirements()

	_, err := tool.Run(context.Background(), map[string]any{"guests": -1.0})
	require.Error(t, err)
}
