// Package retrieval implements the recipe corpus index and the shared
// category retrieval engine.
package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"menuagent"
	"menuagent/retrieval/storage"
)

// Corpus is an immutable snapshot of loaded recipes. Runs capture a snapshot
// at start, so a reload never changes what an in-flight run sees.
type Corpus struct {
	recipes []menuagent.Recipe
	byID    map[string]menuagent.Recipe
}

// NewCorpus builds a snapshot from a recipe slice. Recipes without an ID are
// dropped; duplicate IDs keep the first occurrence.
func NewCorpus(recipes []menuagent.Recipe) *Corpus {
	c := &Corpus{byID: make(map[string]menuagent.Recipe, len(recipes))}
	for _, r := range recipes {
		if r.ID == "" {
			slog.Warn("INDEX: Dropping recipe without id", "name", r.Name)
			continue
		}
		if _, dup := c.byID[r.ID]; dup {
			slog.Warn("INDEX: Dropping duplicate recipe id", "id", r.ID)
			continue
		}
		c.byID[r.ID] = r
		c.recipes = append(c.recipes, r)
	}
	return c
}

// Count returns the number of recipes in the snapshot.
func (c *Corpus) Count() int { return len(c.recipes) }

// Get returns a recipe by ID.
func (c *Corpus) Get(id string) (menuagent.Recipe, bool) {
	r, ok := c.byID[id]
	return r, ok
}

// ByCategory returns all recipes in a category, ordered by ID.
func (c *Corpus) ByCategory(cat menuagent.Category) []menuagent.Recipe {
	var out []menuagent.Recipe
	for _, r := range c.recipes {
		if r.Category == cat {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Search ranks compliant recipes against the query. Hard filters are applied
// before ranking; soft preferences only adjust scores.
func (c *Corpus) Search(ctx context.Context, query string, hard menuagent.HardFilters, soft menuagent.SoftPreferences, k int) ([]menuagent.ScoredRecipe, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	qTokens := tokenize(query + " " + soft.Notes)

	var scored []menuagent.ScoredRecipe
	for _, r := range c.recipes {
		if !r.Compliant(hard) {
			continue
		}
		score := overlap(qTokens, r.SearchText())
		if soft.Traditional && r.Traditional {
			score += 0.25
		}
		scored = append(scored, menuagent.ScoredRecipe{Recipe: r, Score: score})
	}

	sort.Slice(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Recipe.Traditional != b.Recipe.Traditional {
			return a.Recipe.Traditional
		}
		return a.Recipe.ID < b.Recipe.ID
	})

	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func tokenize(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?\"'()")
		if len(f) > 2 {
			out = append(out, f)
		}
	}
	return out
}

// overlap is the fraction of query tokens present in the recipe text.
func overlap(qTokens []string, text string) float64 {
	if len(qTokens) == 0 {
		return 0
	}
	hits := 0
	for _, tok := range qTokens {
		if strings.Contains(text, tok) {
			hits++
		}
	}
	return float64(hits) / float64(len(qTokens))
}

// Index holds the current corpus and swaps it atomically on reload.
type Index struct {
	mu     sync.RWMutex
	corpus *Corpus
}

func NewIndex() *Index {
	return &Index{corpus: NewCorpus(nil)}
}

// Load replaces the corpus from a storage source. The swap only affects runs
// that snapshot after it completes.
func (ix *Index) Load(ctx context.Context, src storage.CorpusState) (int, error) {
	b, err := src.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("read corpus: %w", err)
	}

	var recipes []menuagent.Recipe
	if err := json.Unmarshal(b, &recipes); err != nil {
		return 0, fmt.Errorf("parse corpus: %w", err)
	}

	corpus := NewCorpus(recipes)

	ix.mu.Lock()
	ix.corpus = corpus
	ix.mu.Unlock()

	slog.Info("INDEX: Corpus loaded", "recipes", corpus.Count())
	return corpus.Count(), nil
}

// Snapshot returns the current immutable corpus.
func (ix *Index) Snapshot() *Corpus {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.corpus
}

// Count returns the size of the current corpus.
func (ix *Index) Count() int {
	return ix.Snapshot().Count()
}

// Search queries whatever corpus is current at call time.
func (ix *Index) Search(ctx context.Context, query string, hard menuagent.HardFilters, soft menuagent.SoftPreferences, k int) ([]menuagent.ScoredRecipe, error) {
	return ix.Snapshot().Search(ctx, query, hard, soft, k)
}

// Clear drops all recipes.
func (ix *Index) Clear() {
	ix.mu.Lock()
	ix.corpus = NewCorpus(nil)
	ix.mu.Unlock()
}
