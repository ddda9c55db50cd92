package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"

	"menuagent"
)

// RecipeSearch lets a model look up corpus recipes mid-conversation, e.g. to
// ground pairing notes in what a course actually contains.
type RecipeSearch struct{ index menuagent.SearchIndex }

func NewRecipeSearch(index menuagent.SearchIndex) *RecipeSearch {
	return &RecipeSearch{index: index}
}

func (t *RecipeSearch) Name() string  { return "recipe_search" }
func (t *RecipeSearch) Title() string { return "Search Recipes" }
func (t *RecipeSearch) Description() string {
	return "Searches the recipe collection by free text. Optionally restrict to one category (appetizer, main_dish, second_plate, dessert) and exclude allergens."
}

func (t *RecipeSearch) InputSchema() *jsonschema.Schema {
	minLimit := 1.0
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"query": {
				Type: "string",
			},
			"category": {
				Type: "string",
				Enum: []any{"appetizer", "main_dish", "second_plate", "dessert"},
			},
			"exclude_allergens": {
				Type:  "array",
				Items: &jsonschema.Schema{Type: "string"},
			},
			"limit": {
				Type:    "integer",
				Minimum: &minLimit,
			},
		},
		Required: []string{"query"},
	}
}

func (t *RecipeSearch) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"recipes": {
				Type: "array",
				Items: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"id":          {Type: "string"},
						"name":        {Type: "string"},
						"description": {Type: "string"},
						"category":    {Type: "string"},
						"ingredients": {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
					},
					Required: []string{"id", "name", "category"},
				},
			},
		},
		Required: []string{"recipes"},
	}
}

func (t *RecipeSearch) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	query, ok := input["query"].(string)
	if !ok || query == "" {
		return nil, fmt.Errorf("query is required")
	}

	var hard menuagent.HardFilters
	if c, ok := input["category"].(string); ok && c != "" {
		cat, ok := menuagent.ParseCategory(c)
		if !ok {
			return nil, fmt.Errorf("unknown category %q", c)
		}
		hard.Category = cat
	}
	for _, name := range asStrings(input["exclude_allergens"]) {
		if a, ok := menuagent.ParseAllergen(name); ok {
			hard.ExcludeAllergens = append(hard.ExcludeAllergens, a)
		}
	}

	limit := 5
	if v, ok := input["limit"]; ok {
		if n, err := asInt(v); err == nil && n > 0 {
			limit = n
		}
	}

	scored, err := t.index.Search(ctx, query, hard, menuagent.SoftPreferences{}, limit)
	if err != nil {
		return nil, fmt.Errorf("search recipes: %w", err)
	}

	type outRecipe struct {
		ID          string   `json:"id"`
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Category    string   `json:"category"`
		Ingredients []string `json:"ingredients"`
	}
	out := struct {
		Recipes []outRecipe `json:"recipes"`
	}{Recipes: make([]outRecipe, 0, len(scored))}

	for _, s := range scored {
		out.Recipes = append(out.Recipes, outRecipe{
			ID:          s.Recipe.ID,
			Name:        s.Recipe.Name,
			Description: s.Recipe.Description,
			Category:    string(s.Recipe.Category),
			Ingredients: s.Recipe.Ingredients,
		})
	}

	// marshal -> map[string]any to keep outputs uniform
	b, _ := json.Marshal(out)
	var m map[string]any
	_ = json.Unmarshal(b, &m)
	return m, nil
}
