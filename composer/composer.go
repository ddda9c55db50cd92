// Package composer assembles a coherent menu from per-category candidates.
package composer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"menuagent"
)

// MaxCoursesPerAllergen caps how many courses across the whole menu may carry
// the same non-excluded allergen. Excluded allergens never appear at all.
const MaxCoursesPerAllergen = 1

// Composer turns ranked candidates into a final menu through a bounded number
// of planning rounds. Every few rounds a balance pass checks cross-category
// constraints and swaps offending courses for lower-ranked alternatives.
type Composer struct {
	annotator        *Annotator
	maxRounds        int
	planningInterval int
}

// New initializes a composer. annotator may be nil to skip pairing notes.
func New(annotator *Annotator, maxRounds, planningInterval int) *Composer {
	if maxRounds < 1 {
		maxRounds = 1
	}
	if planningInterval < 1 {
		planningInterval = 1
	}
	return &Composer{
		annotator:        annotator,
		maxRounds:        maxRounds,
		planningInterval: planningInterval,
	}
}

// Compose builds the menu. Categories with no candidates come back in the
// unmet list and appear in the menu as unavailable sections. All categories
// empty is a composition failure.
func (c *Composer) Compose(ctx context.Context, reqs menuagent.RequirementSet, candidates map[menuagent.Category][]menuagent.Candidate) (*menuagent.Menu, []menuagent.Category, error) {
	var unmet []menuagent.Category
	total := 0
	for _, cat := range menuagent.Categories() {
		if len(candidates[cat]) == 0 {
			unmet = append(unmet, cat)
		}
		total += len(candidates[cat])
	}
	if total == 0 {
		return nil, unmet, &menuagent.CompositionError{
			Reason: "no candidate recipes in any category",
		}
	}

	slog.Info("COMPOSER: Starting planning", "candidates", total, "unmet_categories", len(unmet))

	selection := c.plan(ctx, candidates)

	menu := c.assemble(reqs, selection, unmet)

	if c.annotator != nil {
		notes, err := c.annotator.Annotate(ctx, reqs, menu)
		if err != nil {
			slog.Warn("COMPOSER: Pairing notes unavailable", "error", err)
		} else {
			menu.PairingNotes = notes
		}
	}

	slog.Info("COMPOSER: Menu composed", "sections", len(menu.Sections), "unmet", len(unmet))
	return menu, unmet, nil
}

// ComposeWith fetches candidates itself before composing. This is the direct
// dispatch path where the composer drives retrieval instead of receiving
// pre-fetched candidates.
func (c *Composer) ComposeWith(ctx context.Context, reqs menuagent.RequirementSet, fetch func(ctx context.Context, cat menuagent.Category) ([]menuagent.Candidate, error)) (*menuagent.Menu, []menuagent.Category, error) {
	candidates := make(map[menuagent.Category][]menuagent.Candidate, len(menuagent.Categories()))
	for _, cat := range menuagent.Categories() {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		got, err := fetch(ctx, cat)
		if err != nil {
			slog.Warn("COMPOSER: Fetch degraded, category will be empty", "category", cat, "error", err)
			continue
		}
		candidates[cat] = got
	}
	return c.Compose(ctx, reqs, candidates)
}

// plan runs the bounded round loop. Rounds advance a cursor per category;
// every planningInterval rounds the draft is checked against the balance
// rules and offending picks are swapped for their next-best alternative.
func (c *Composer) plan(ctx context.Context, candidates map[menuagent.Category][]menuagent.Candidate) map[menuagent.Category][]menuagent.Candidate {
	// cursor[cat] marks how far into the ranked list each category has
	// advanced past its initial picks.
	cursor := make(map[menuagent.Category]int)
	selection := make(map[menuagent.Category][]menuagent.Candidate)

	for _, cat := range menuagent.Categories() {
		want := courseCount(cat)
		ranked := candidates[cat]
		n := min(want, len(ranked))
		selection[cat] = append([]menuagent.Candidate(nil), ranked[:n]...)
		cursor[cat] = n
	}

	for round := 1; round <= c.maxRounds; round++ {
		if ctx.Err() != nil {
			break
		}

		if round%c.planningInterval != 0 {
			continue
		}

		violations := c.check(selection)
		if len(violations) == 0 {
			slog.Info("COMPOSER: Draft balanced", "round", round)
			break
		}

		slog.Info("COMPOSER: Balance pass", "round", round, "violations", len(violations))

		swapped := false
		for _, v := range violations {
			ranked := candidates[v.category]
			if cursor[v.category] >= len(ranked) {
				continue
			}
			replacement := ranked[cursor[v.category]]
			cursor[v.category]++
			selection[v.category][v.slot] = replacement
			swapped = true
		}
		if !swapped {
			// Out of alternatives; the draft is as good as it gets.
			break
		}
	}

	return selection
}

// violation pinpoints one selected course that breaks a balance rule.
type violation struct {
	category menuagent.Category
	slot     int
	reason   string
}

// check applies the cross-category balance rules to a draft: the shared
// allergen budget and primary ingredient variety.
func (c *Composer) check(selection map[menuagent.Category][]menuagent.Candidate) []violation {
	var violations []violation

	allergenCount := make(map[menuagent.Allergen]int)
	primaryCount := make(map[string]int)
	for _, cat := range menuagent.Categories() {
		for _, cand := range selection[cat] {
			for _, a := range cand.Recipe.Allergens {
				allergenCount[a]++
			}
			if p := primaryIngredient(cand.Recipe); p != "" {
				primaryCount[p]++
			}
		}
	}

	seenAllergen := make(map[menuagent.Allergen]int)
	seenPrimary := make(map[string]int)
	for _, cat := range menuagent.Categories() {
		for slot, cand := range selection[cat] {
			flagged := false
			for _, a := range cand.Recipe.Allergens {
				seenAllergen[a]++
				if allergenCount[a] > MaxCoursesPerAllergen && seenAllergen[a] > MaxCoursesPerAllergen {
					violations = append(violations, violation{
						category: cat,
						slot:     slot,
						reason:   fmt.Sprintf("allergen %s appears in too many courses", a),
					})
					flagged = true
					break
				}
			}
			if flagged {
				continue
			}
			if p := primaryIngredient(cand.Recipe); p != "" {
				seenPrimary[p]++
				if primaryCount[p] > 1 && seenPrimary[p] > 1 {
					violations = append(violations, violation{
						category: cat,
						slot:     slot,
						reason:   fmt.Sprintf("primary ingredient %s repeats across courses", p),
					})
				}
			}
		}
	}

	return violations
}

// assemble renders the selection into the final menu structure.
func (c *Composer) assemble(reqs menuagent.RequirementSet, selection map[menuagent.Category][]menuagent.Candidate, unmet []menuagent.Category) *menuagent.Menu {
	menu := &menuagent.Menu{
		Title:  menuTitle(reqs),
		Guests: reqs.EffectiveGuests(),
	}

	unavailable := make(map[menuagent.Category]bool, len(unmet))
	for _, cat := range unmet {
		unavailable[cat] = true
	}

	var all []menuagent.Recipe
	for _, cat := range menuagent.Categories() {
		section := menuagent.MenuSection{Category: cat}
		if unavailable[cat] {
			section.Unavailable = true
			section.Reason = "no recipes satisfied every restriction"
		} else {
			for _, cand := range selection[cat] {
				section.Courses = append(section.Courses, cand)
				all = append(all, cand.Recipe)
			}
		}
		menu.Sections = append(menu.Sections, section)
	}

	menu.Timeline = buildTimeline(all)
	menu.ShoppingList = buildShoppingList(all)
	return menu
}

// buildTimeline orders courses longest total time first, which is the order
// the host should start them in.
func buildTimeline(recipes []menuagent.Recipe) []string {
	sorted := append([]menuagent.Recipe(nil), recipes...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].TotalMinutes() != sorted[j].TotalMinutes() {
			return sorted[i].TotalMinutes() > sorted[j].TotalMinutes()
		}
		return sorted[i].ID < sorted[j].ID
	})

	timeline := make([]string, 0, len(sorted))
	for _, r := range sorted {
		timeline = append(timeline, fmt.Sprintf("%s (%d min)", r.Name, r.TotalMinutes()))
	}
	return timeline
}

// buildShoppingList merges ingredients across courses, deduplicated and sorted.
func buildShoppingList(recipes []menuagent.Recipe) []string {
	seen := make(map[string]bool)
	var list []string
	for _, r := range recipes {
		for _, ing := range r.Ingredients {
			key := strings.ToLower(strings.TrimSpace(ing))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			list = append(list, key)
		}
	}
	sort.Strings(list)
	return list
}

func menuTitle(reqs menuagent.RequirementSet) string {
	if reqs.Traditional {
		return "Traditional Dinner Menu"
	}
	return "Dinner Menu"
}

func primaryIngredient(r menuagent.Recipe) string {
	if len(r.Ingredients) == 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(r.Ingredients[0]))
}

func courseCount(cat menuagent.Category) int {
	if cat == menuagent.CategoryAppetizer {
		return 3
	}
	return 2
}
