package menuagent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDiet(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Diet
		ok    bool
	}{
		{name: "canonical", input: "vegan", want: DietVegan, ok: true},
		{name: "alias", input: "veggie", want: DietVegetarian, ok: true},
		{name: "hyphenated", input: "gluten-free", want: DietGlutenFree, ok: true},
		{name: "spaced and cased", input: "Dairy Free", want: DietDairyFree, ok: true},
		{name: "celiac alias", input: "celiac", want: DietGlutenFree, ok: true},
		{name: "unknown", input: "keto", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseDiet(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestParseAllergen(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Allergen
		ok    bool
	}{
		{name: "canonical", input: "shellfish", want: AllergenShellfish, ok: true},
		{name: "tree nut alias", input: "tree nuts", want: AllergenNuts, ok: true},
		{name: "milk alias", input: "milk", want: AllergenDairy, ok: true},
		{name: "singular", input: "egg", want: AllergenEggs, ok: true},
		{name: "unknown", input: "capsaicin", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseAllergen(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestRequirementSetApply(t *testing.T) {
	guests := 6
	traditional := true

	base := RequirementSet{}
	merged := base.Apply(RequirementDelta{
		Guests:       &guests,
		AddDiets:     map[Diet]int{DietVegetarian: 2},
		AddAllergens: []Allergen{AllergenNuts},
		Traditional:  &traditional,
		Notes:        "outdoor dinner",
	})

	assert.Equal(t, 6, merged.Guests)
	assert.Equal(t, 2, merged.DietCount(DietVegetarian))
	assert.True(t, merged.ExcludesAllergen(AllergenNuts))
	assert.True(t, merged.Traditional)
	assert.Equal(t, "outdoor dinner", merged.Notes)

	// Second turn restates one diet, retracts the allergen, and adds a note.
	merged = merged.Apply(RequirementDelta{
		AddDiets:        map[Diet]int{DietVegetarian: 4},
		RemoveAllergens: []Allergen{AllergenNuts},
		AddAllergens:    []Allergen{AllergenShellfish},
		Notes:           "budget is tight",
	})

	assert.Equal(t, 4, merged.DietCount(DietVegetarian))
	assert.False(t, merged.ExcludesAllergen(AllergenNuts))
	assert.True(t, merged.ExcludesAllergen(AllergenShellfish))
	assert.Equal(t, "outdoor dinner; budget is tight", merged.Notes)

	// Base was never mutated.
	assert.True(t, base.IsZero())
}

func TestRequirementSetApplyDedupes(t *testing.T) {
	set := RequirementSet{Allergens: []Allergen{AllergenDairy}}

	merged := set.Apply(RequirementDelta{
		AddAllergens: []Allergen{AllergenDairy, AllergenEggs},
		Notes:        "family recipe night",
	})
	merged = merged.Apply(RequirementDelta{Notes: "family recipe night"})

	assert.Equal(t, []Allergen{AllergenDairy, AllergenEggs}, merged.Allergens)
	assert.Equal(t, "family recipe night", merged.Notes)
}

func TestRequiredTags(t *testing.T) {
	set := RequirementSet{
		Guests: 4,
		Diets:  map[Diet]int{DietVegan: 4, DietVegetarian: 2},
	}

	tags := set.RequiredTags()
	require.Len(t, tags, 1)
	assert.Equal(t, DietaryTag("vegan"), tags[0])
}

func TestRequiredTagsUnspecifiedGuests(t *testing.T) {
	// With no stated guest count a diet must cover the default party size
	// before it hardens into a filter.
	set := RequirementSet{Diets: map[Diet]int{DietVegetarian: DefaultPartySize}}

	tags := set.RequiredTags()
	require.Len(t, tags, 1)
	assert.Equal(t, DietaryTag("vegetarian"), tags[0])

	set.Diets[DietVegetarian] = DefaultPartySize - 1
	assert.Empty(t, set.RequiredTags())
}

func TestEffectiveGuests(t *testing.T) {
	assert.Equal(t, DefaultPartySize, RequirementSet{}.EffectiveGuests())
	assert.Equal(t, 12, RequirementSet{Guests: 12}.EffectiveGuests())
}

func TestSummary(t *testing.T) {
	set := RequirementSet{
		Guests:      6,
		Diets:       map[Diet]int{DietVegan: 2},
		Allergens:   []Allergen{AllergenNuts},
		Traditional: true,
	}

	s := set.Summary()
	assert.Contains(t, s, "6 guests")
	assert.Contains(t, s, "vegan:2")
	assert.Contains(t, s, "no nuts")
	assert.Contains(t, s, "prefers traditional")
}
