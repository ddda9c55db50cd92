package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"menuagent"
)

// maxResults caps how many web results turn into candidates per lookup.
const maxResults = 5

// Agent finds candidate recipes on the web when the corpus comes up empty for
// a category. It is best-effort end to end: every failure degrades to zero
// candidates, never to a failed run.
type Agent struct {
	search  menuagent.WebSearch
	timeout time.Duration
}

func New(search menuagent.WebSearch, timeout time.Duration) *Agent {
	return &Agent{search: search, timeout: timeout}
}

// Discover searches for recipes matching the category and requirements. The
// returned error exists for stage reporting; callers treat it as degradation,
// not failure.
func (a *Agent) Discover(ctx context.Context, cat menuagent.Category, reqs menuagent.RequirementSet) ([]menuagent.Candidate, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	query := buildQuery(cat, reqs)
	slog.Info("DISCOVERY: Searching the web", "category", cat, "query", query)

	results, err := a.search.Lookup(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("web lookup for %s: %w", cat, err)
	}

	candidates := make([]menuagent.Candidate, 0, len(results))
	for i, r := range results {
		if len(candidates) >= maxResults {
			break
		}
		title := strings.TrimSpace(r.Title)
		if title == "" {
			slog.Warn("DISCOVERY: Dropping untitled result", "category", cat, "url", r.URL)
			continue
		}

		candidates = append(candidates, menuagent.Candidate{
			Recipe: menuagent.Recipe{
				ID:          "web_" + slugify(title),
				Name:        title,
				Description: strings.TrimSpace(r.Snippet),
				Category:    cat,
				DietaryTags: reqs.RequiredTags(),
				Traditional: reqs.Traditional,
			},
			// Position-based score, always below any corpus match.
			Score:      0.5 - float64(i)*0.05,
			Provenance: menuagent.ProvenanceDiscovered,
		})
	}

	slog.Info("DISCOVERY: Search complete", "category", cat, "results", len(results), "candidates", len(candidates))
	return candidates, nil
}

// buildQuery folds the hard requirements into the search terms so results
// have a chance of surviving the compliance re-check.
func buildQuery(cat menuagent.Category, reqs menuagent.RequirementSet) string {
	parts := make([]string, 0, 8)
	for _, tag := range reqs.RequiredTags() {
		parts = append(parts, strings.ReplaceAll(string(tag), "_", " "))
	}
	parts = append(parts, cat.DisplayName(), "recipe")
	for _, a := range reqs.Allergens {
		parts = append(parts, "without "+string(a))
	}
	if reqs.Traditional {
		parts = append(parts, "traditional")
	}
	return strings.Join(parts, " ")
}

func slugify(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "_")
}
