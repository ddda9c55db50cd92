package menuagent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMenu() *Menu {
	return &Menu{
		Title:  "Dinner Menu",
		Guests: 6,
		Sections: []MenuSection{
			{
				Category: CategoryAppetizer,
				Courses: []Candidate{
					{Recipe: Recipe{
						ID:          "app_1",
						Name:        "Tomato Bruschetta",
						Description: "Grilled bread with marinated tomatoes.",
						Category:    CategoryAppetizer,
						DietaryTags: []DietaryTag{TagVegan},
						PrepMinutes: 15,
						CookMinutes: 5,
					}},
				},
			},
			{
				Category:    CategoryDessert,
				Unavailable: true,
				Reason:      "no recipes satisfied every restriction",
			},
		},
		Timeline:     []string{"Tomato Bruschetta (20 min)"},
		ShoppingList: []string{"baguette", "tomatoes"},
	}
}

func TestMenuSection(t *testing.T) {
	menu := testMenu()

	section, ok := menu.Section(CategoryAppetizer)
	require.True(t, ok)
	assert.Len(t, section.Courses, 1)

	_, ok = menu.Section(CategoryMainDish)
	assert.False(t, ok)
}

func TestMenuTotals(t *testing.T) {
	menu := testMenu()
	assert.Equal(t, 15, menu.TotalPrepMinutes())
	assert.Equal(t, 5, menu.TotalCookMinutes())
	assert.Len(t, menu.Courses(), 1)
}

func TestMenuFormat(t *testing.T) {
	out := testMenu().Format()

	assert.Contains(t, out, "Dinner Menu")
	assert.Contains(t, out, "For 6 guests")
	assert.Contains(t, out, "APPETIZER")
	assert.Contains(t, out, "1. Tomato Bruschetta [vegan]")
	assert.Contains(t, out, "Grilled bread with marinated tomatoes.")
	assert.Contains(t, out, "unavailable: no recipes satisfied every restriction")
	assert.Contains(t, out, "SHOPPING LIST")
	assert.Contains(t, out, "- baguette")
	assert.Contains(t, out, "Total prep ~15 min, cook ~5 min")
}

func TestRecipeCompliant(t *testing.T) {
	recipe := Recipe{
		ID:          "r1",
		Category:    CategoryMainDish,
		DietaryTags: []DietaryTag{TagVegetarian},
		Allergens:   []Allergen{AllergenDairy},
	}

	assert.True(t, recipe.Compliant(HardFilters{Category: CategoryMainDish}))
	assert.False(t, recipe.Compliant(HardFilters{Category: CategoryDessert}))
	assert.False(t, recipe.Compliant(HardFilters{ExcludeAllergens: []Allergen{AllergenDairy}}))
	assert.False(t, recipe.Compliant(HardFilters{RequireTags: []DietaryTag{TagVegan}}))
	assert.True(t, recipe.Compliant(HardFilters{
		Category:    CategoryMainDish,
		RequireTags: []DietaryTag{TagVegetarian},
	}))
}

func TestContainsAllergenCaseInsensitive(t *testing.T) {
	recipe := Recipe{Allergens: []Allergen{"Nuts"}}
	assert.True(t, recipe.ContainsAllergen(AllergenNuts))
}
