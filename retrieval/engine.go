package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"menuagent"
)

// DiscoveryAgent finds new candidate material when the corpus has nothing
// compliant. Implementations degrade to an empty slice plus an error for
// visibility; the engine never treats that error as fatal.
type DiscoveryAgent interface {
	Discover(ctx context.Context, cat menuagent.Category, reqs menuagent.RequirementSet) ([]menuagent.Candidate, error)
}

// Options configures a per-run engine.
type Options struct {
	// K is the default candidate count per category; 0 uses the
	// per-category recommended counts.
	K int
	// Timeout bounds each boundary call (index search, discovery).
	Timeout time.Duration
	// Observe receives discovery stage events; may be nil.
	Observe func(menuagent.ProgressEvent)
}

// Engine is the shared category retriever. One engine serves one run: it
// holds the run's corpus snapshot and the once-per-category discovery guard.
type Engine struct {
	index     menuagent.SearchIndex
	discovery DiscoveryAgent
	opts      Options

	mu         sync.Mutex
	discovered map[menuagent.Category]bool
}

// NewEngine creates a retrieval engine over a corpus snapshot. discovery may
// be nil to disable recipe discovery entirely.
func NewEngine(index menuagent.SearchIndex, discovery DiscoveryAgent, opts Options) *Engine {
	return &Engine{
		index:      index,
		discovery:  discovery,
		opts:       opts,
		discovered: make(map[menuagent.Category]bool),
	}
}

// RecommendedCount is the default number of courses suggested per category.
func RecommendedCount(cat menuagent.Category) int {
	if cat == menuagent.CategoryAppetizer {
		return 3
	}
	return 2
}

// Retrieve returns at most k filter-compliant candidates for the category.
// An empty result is a normal outcome, not an error. Backend failures are
// wrapped in RetrievalDegraded for the caller to absorb.
func (e *Engine) Retrieve(ctx context.Context, cat menuagent.Category, reqs menuagent.RequirementSet, k int) ([]menuagent.Candidate, error) {
	if k <= 0 {
		k = e.opts.K
	}
	if k <= 0 {
		k = RecommendedCount(cat)
	}

	hard := menuagent.HardFilters{
		Category:         cat,
		ExcludeAllergens: reqs.Allergens,
		RequireTags:      reqs.RequiredTags(),
	}
	soft := menuagent.SoftPreferences{
		Traditional: reqs.Traditional,
		Notes:       reqs.Notes,
	}

	sctx, cancel := e.callContext(ctx)
	scored, err := e.index.Search(sctx, cat.DisplayName(), hard, soft, 2*k)
	cancel()
	if err != nil {
		return nil, &menuagent.RetrievalDegraded{Category: cat, Err: err}
	}

	candidates := make([]menuagent.Candidate, 0, len(scored))
	for _, s := range scored {
		// Re-validate regardless of what the backend enforced.
		if !s.Recipe.Compliant(hard) {
			slog.Warn("RETRIEVER: Backend returned non-compliant recipe, dropping", "category", cat, "recipe_id", s.Recipe.ID)
			continue
		}
		candidates = append(candidates, menuagent.Candidate{
			Recipe:     s.Recipe,
			Score:      s.Score,
			Provenance: menuagent.ProvenanceRetrieved,
		})
	}

	if len(candidates) == 0 {
		candidates = append(candidates, e.discover(ctx, cat, reqs, hard)...)
	}

	rank(candidates)
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

// discover invokes the discovery agent at most once per category per run,
// and only when the hard-filtered candidate set came back empty.
func (e *Engine) discover(ctx context.Context, cat menuagent.Category, reqs menuagent.RequirementSet, hard menuagent.HardFilters) []menuagent.Candidate {
	if e.discovery == nil {
		return nil
	}

	e.mu.Lock()
	already := e.discovered[cat]
	e.discovered[cat] = true
	e.mu.Unlock()
	if already {
		return nil
	}

	e.observe(cat, menuagent.StatusStarted, "")

	dctx, cancel := e.callContext(ctx)
	found, err := e.discovery.Discover(dctx, cat, reqs)
	cancel()
	if err != nil {
		slog.Warn("RETRIEVER: Discovery unavailable", "category", cat, "error", err)
		e.observe(cat, menuagent.StatusFailed, err.Error())
		return nil
	}

	kept := make([]menuagent.Candidate, 0, len(found))
	for _, c := range found {
		// Discovered material obeys the same hard filters as the corpus.
		if !c.Recipe.Compliant(hard) {
			continue
		}
		c.Provenance = menuagent.ProvenanceDiscovered
		kept = append(kept, c)
	}

	e.observe(cat, menuagent.StatusSucceeded, "")
	return kept
}

func (e *Engine) observe(cat menuagent.Category, status menuagent.StageStatus, detail string) {
	if e.opts.Observe != nil {
		e.opts.Observe(menuagent.ProgressEvent{
			Stage:     menuagent.StageDiscovering,
			Category:  cat,
			Status:    status,
			Detail:    detail,
			Timestamp: time.Now(),
		})
	}
}

func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opts.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.opts.Timeout)
}

// rank orders candidates by score, then retrieved before discovered, then
// traditional before modern, then id.
func rank(candidates []menuagent.Candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Provenance != b.Provenance {
			return a.Provenance == menuagent.ProvenanceRetrieved
		}
		if a.Recipe.Traditional != b.Recipe.Traditional {
			return a.Recipe.Traditional
		}
		return a.Recipe.ID < b.Recipe.ID
	})
}
