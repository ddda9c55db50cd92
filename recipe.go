package menuagent

import "strings"

// Category is one of the four fixed menu courses.
type Category string

const (
	CategoryAppetizer   Category = "appetizer"
	CategoryMainDish    Category = "main_dish"
	CategorySecondPlate Category = "second_plate"
	CategoryDessert     Category = "dessert"
)

// Categories returns the four courses in serving order.
func Categories() []Category {
	return []Category{CategoryAppetizer, CategoryMainDish, CategorySecondPlate, CategoryDessert}
}

// DisplayName renders a category for prompts and output.
func (c Category) DisplayName() string {
	return strings.ReplaceAll(string(c), "_", " ")
}

// ParseCategory normalizes a category name; unknown names return false.
func ParseCategory(s string) (Category, bool) {
	switch normalizeName(s) {
	case "appetizer", "appetizers", "starter":
		return CategoryAppetizer, true
	case "main_dish", "main", "first_plate":
		return CategoryMainDish, true
	case "second_plate", "second", "side":
		return CategorySecondPlate, true
	case "dessert", "desserts":
		return CategoryDessert, true
	}
	return "", false
}

type DietaryTag string

const (
	TagVegan      DietaryTag = "vegan"
	TagVegetarian DietaryTag = "vegetarian"
	TagGlutenFree DietaryTag = "gluten_free"
	TagDairyFree  DietaryTag = "dairy_free"
	TagNutFree    DietaryTag = "nut_free"
)

// Recipe is immutable once loaded; candidates reference it, never copy-and-mutate.
type Recipe struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	Category     Category     `json:"category"`
	Ingredients  []string     `json:"ingredients,omitempty"`
	Instructions []string     `json:"instructions,omitempty"`
	DietaryTags  []DietaryTag `json:"dietary_tags,omitempty"`
	Allergens    []Allergen   `json:"allergens,omitempty"`
	Traditional  bool         `json:"traditional"`
	Servings     int          `json:"servings,omitempty"`
	PrepMinutes  int          `json:"prep_time_minutes,omitempty"`
	CookMinutes  int          `json:"cook_time_minutes,omitempty"`
}

// HasTag reports whether the recipe carries the dietary tag.
func (r Recipe) HasTag(tag DietaryTag) bool {
	for _, t := range r.DietaryTags {
		if t == tag {
			return true
		}
	}
	return false
}

// ContainsAllergen matches case-insensitively; corpus data is hand-entered.
func (r Recipe) ContainsAllergen(a Allergen) bool {
	want := strings.ToLower(string(a))
	for _, x := range r.Allergens {
		if strings.ToLower(string(x)) == want {
			return true
		}
	}
	return false
}

// Compliant reports whether the recipe survives every hard filter. This is
// the correctness check re-applied client-side regardless of what the search
// backend claims to enforce.
func (r Recipe) Compliant(hard HardFilters) bool {
	if hard.Category != "" && r.Category != hard.Category {
		return false
	}
	for _, a := range hard.ExcludeAllergens {
		if r.ContainsAllergen(a) {
			return false
		}
	}
	for _, t := range hard.RequireTags {
		if !r.HasTag(t) {
			return false
		}
	}
	return true
}

// SearchText flattens the recipe into the text the index matches against.
func (r Recipe) SearchText() string {
	parts := []string{r.Name, r.Description, r.Category.DisplayName()}
	for _, t := range r.DietaryTags {
		parts = append(parts, string(t))
	}
	parts = append(parts, r.Ingredients...)
	return strings.ToLower(strings.Join(parts, " "))
}

// TotalMinutes is combined prep and cook time.
func (r Recipe) TotalMinutes() int {
	return r.PrepMinutes + r.CookMinutes
}

// Provenance distinguishes index-retrieved candidates from web-discovered
// ones; it is a ranking tie-break of last resort (retrieved before discovered).
type Provenance string

const (
	ProvenanceRetrieved  Provenance = "retrieved"
	ProvenanceDiscovered Provenance = "discovered"
)

// Candidate is a scored recipe reference produced fresh per run.
type Candidate struct {
	Recipe     Recipe     `json:"recipe"`
	Score      float64    `json:"score"`
	Provenance Provenance `json:"provenance"`
}
