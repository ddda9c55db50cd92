// Package coordinator drives a planning run through its stages: extraction,
// parallel category retrieval, optional discovery, and composition.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"menuagent"
	"menuagent/retrieval"
	"menuagent/retrieval/storage"
)

// constraintExtractor turns a host message into structured requirements.
type constraintExtractor interface {
	Extract(ctx context.Context, text string) (menuagent.RequirementSet, error)
}

// menuComposer assembles the final menu from candidates.
type menuComposer interface {
	Compose(ctx context.Context, reqs menuagent.RequirementSet, candidates map[menuagent.Category][]menuagent.Candidate) (*menuagent.Menu, []menuagent.Category, error)
	ComposeWith(ctx context.Context, reqs menuagent.RequirementSet, fetch func(ctx context.Context, cat menuagent.Category) ([]menuagent.Candidate, error)) (*menuagent.Menu, []menuagent.Category, error)
}

// Options tunes a coordinator.
type Options struct {
	// CandidatesPerCategory overrides the per-category defaults when > 0.
	CandidatesPerCategory int
	// CallTimeout bounds each boundary call inside a run.
	CallTimeout time.Duration
	// RunTimeout bounds a whole run; 0 means no limit.
	RunTimeout time.Duration
	// DirectDispatch hands retrieval to the composer instead of fanning out
	// retrievers ahead of composition.
	DirectDispatch bool
}

// Coordinator owns the run state machine. One coordinator serves many runs;
// per-run state (engine, corpus snapshot, event sink) is created fresh each
// run.
type Coordinator struct {
	extractor constraintExtractor
	index     *retrieval.Index
	discovery retrieval.DiscoveryAgent
	comp      menuComposer
	logger    menuagent.RunLogger
	opts      Options
}

// New initializes a coordinator. discovery may be nil to disable recipe
// discovery; logger may be nil to skip run logging.
func New(extractor constraintExtractor, index *retrieval.Index, discovery retrieval.DiscoveryAgent, comp menuComposer, logger menuagent.RunLogger, opts Options) *Coordinator {
	return &Coordinator{
		extractor: extractor,
		index:     index,
		discovery: discovery,
		comp:      comp,
		logger:    logger,
		opts:      opts,
	}
}

// Reload replaces the recipe corpus. In-flight runs keep the snapshot they
// started with; only runs started after Reload see the new corpus.
func (c *Coordinator) Reload(ctx context.Context, src storage.CorpusState) (int, error) {
	return c.index.Load(ctx, src)
}

// Run executes a planning run synchronously and returns the final result.
func (c *Coordinator) Run(ctx context.Context, text string) (menuagent.Result, error) {
	runID := uuid.NewString()
	events := &collectSink{}

	result, err := c.runPipeline(ctx, runID, text, withLogging(events, runID, c.logger))
	return result, err
}

// RunStreaming executes a run with lockstep event delivery: the pipeline
// does not advance past an event until the consumer has received it. The
// channel closes after the terminal event, which carries the Result in its
// payload.
func (c *Coordinator) RunStreaming(ctx context.Context, text string) <-chan menuagent.ProgressEvent {
	return c.stream(ctx, text, 0)
}

// RunAsyncStreaming is like RunStreaming but decouples the pipeline from the
// consumer with a buffered channel.
func (c *Coordinator) RunAsyncStreaming(ctx context.Context, text string) <-chan menuagent.ProgressEvent {
	return c.stream(ctx, text, asyncBufferSize)
}

// Plan dispatches by mode. For ModeSync the result is returned directly and
// the channel is nil; for the streaming modes the result arrives as the
// terminal event's payload.
func (c *Coordinator) Plan(ctx context.Context, text string, mode menuagent.Mode) (menuagent.Result, <-chan menuagent.ProgressEvent, error) {
	switch mode {
	case menuagent.ModeSync:
		result, err := c.Run(ctx, text)
		return result, nil, err
	case menuagent.ModeStream:
		return menuagent.Result{}, c.RunStreaming(ctx, text), nil
	case menuagent.ModeAsyncStream:
		return menuagent.Result{}, c.RunAsyncStreaming(ctx, text), nil
	default:
		return menuagent.Result{}, nil, fmt.Errorf("unknown mode %q", mode)
	}
}

func (c *Coordinator) stream(ctx context.Context, text string, capacity int) <-chan menuagent.ProgressEvent {
	runID := uuid.NewString()
	events := newChanSink(capacity, ctx.Done())

	go func() {
		defer events.close()
		_, _ = c.runPipeline(ctx, runID, text, withLogging(events, runID, c.logger))
	}()

	return events.ch
}

// runPipeline is the state machine shared by every mode. It always produces
// exactly one terminal event (done, failed, or cancelled) whose payload is
// the run result.
func (c *Coordinator) runPipeline(ctx context.Context, runID, text string, events sink) (menuagent.Result, error) {
	if c.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RunTimeout)
		defer cancel()
	}

	tracer := otel.Tracer(menuagent.TracerNameCoordinator)
	ctx, span := tracer.Start(ctx, "planning_run", trace.WithAttributes(
		attribute.String("run.id", runID),
	))
	defer span.End()

	emit := func(e menuagent.ProgressEvent) {
		e.RunID = runID
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now()
		}
		events.emit(e)
	}

	slog.Info("COORDINATOR: Starting run", "run_id", runID)
	emit(menuagent.ProgressEvent{Stage: menuagent.StageReceived, Status: menuagent.StatusSucceeded})

	if result, done := c.checkInterrupt(ctx, runID, nil, emit); done {
		return result, ctx.Err()
	}

	// Extraction.
	emit(menuagent.ProgressEvent{Stage: menuagent.StageExtracting, Status: menuagent.StatusStarted})
	reqs, err := c.extractor.Extract(ctx, text)
	if err != nil {
		if result, done := c.checkInterrupt(ctx, runID, nil, emit); done {
			return result, ctx.Err()
		}
		emit(menuagent.ProgressEvent{Stage: menuagent.StageExtracting, Status: menuagent.StatusFailed, Detail: err.Error()})
		wrapped := fmt.Errorf("extract requirements: %w", err)
		return c.fail(runID, nil, wrapped, emit), wrapped
	}
	emit(menuagent.ProgressEvent{Stage: menuagent.StageExtracting, Status: menuagent.StatusSucceeded, Detail: reqs.Summary()})

	if result, done := c.checkInterrupt(ctx, runID, &reqs, emit); done {
		return result, ctx.Err()
	}

	// Each run retrieves against the corpus as of this moment.
	engine := retrieval.NewEngine(c.index.Snapshot(), c.discovery, retrieval.Options{
		K:       c.opts.CandidatesPerCategory,
		Timeout: c.opts.CallTimeout,
		Observe: emit,
	})

	var (
		menu     *menuagent.Menu
		unmet    []menuagent.Category
		degraded bool
	)

	if c.opts.DirectDispatch {
		menu, unmet, degraded, err = c.composeDirect(ctx, engine, reqs, emit)
	} else {
		var candidates map[menuagent.Category][]menuagent.Candidate
		candidates, degraded = c.retrieveAll(ctx, engine, reqs, emit)

		if result, done := c.checkInterrupt(ctx, runID, &reqs, emit); done {
			return result, ctx.Err()
		}

		emit(menuagent.ProgressEvent{Stage: menuagent.StageComposing, Status: menuagent.StatusStarted})
		menu, unmet, err = c.comp.Compose(ctx, reqs, candidates)
	}
	if err != nil {
		if result, done := c.checkInterrupt(ctx, runID, &reqs, emit); done {
			return result, ctx.Err()
		}
		emit(menuagent.ProgressEvent{Stage: menuagent.StageComposing, Status: menuagent.StatusFailed, Detail: err.Error()})
		wrapped := fmt.Errorf("compose menu: %w", err)
		return c.fail(runID, &reqs, wrapped, emit), wrapped
	}
	emit(menuagent.ProgressEvent{Stage: menuagent.StageComposing, Status: menuagent.StatusSucceeded})

	status := menuagent.RunSucceeded
	if len(unmet) > 0 || degraded {
		status = menuagent.RunPartial
	}

	result := menuagent.Result{
		RunID:        runID,
		Status:       status,
		Menu:         menu,
		Unmet:        unmet,
		Requirements: &reqs,
	}
	span.SetAttributes(attribute.String("run.status", string(status)))
	slog.Info("COORDINATOR: Run complete", "run_id", runID, "status", status, "unmet", len(unmet))

	emit(menuagent.ProgressEvent{Stage: menuagent.StageDone, Status: menuagent.StatusSucceeded, Payload: result})
	return result, nil
}

// retrieveAll fans the four category retrievals out in parallel. A failed
// category degrades the run instead of aborting it, so the group never
// returns an error.
func (c *Coordinator) retrieveAll(ctx context.Context, engine *retrieval.Engine, reqs menuagent.RequirementSet, emit func(menuagent.ProgressEvent)) (map[menuagent.Category][]menuagent.Candidate, bool) {
	var (
		mu         sync.Mutex
		candidates = make(map[menuagent.Category][]menuagent.Candidate, 4)
		degraded   bool
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, cat := range menuagent.Categories() {
		g.Go(func() error {
			emit(menuagent.ProgressEvent{Stage: menuagent.StageRetrieving, Category: cat, Status: menuagent.StatusStarted})

			got, err := engine.Retrieve(gctx, cat, reqs, c.opts.CandidatesPerCategory)
			if err != nil {
				slog.Warn("COORDINATOR: Category retrieval degraded", "category", cat, "error", err)
				emit(menuagent.ProgressEvent{Stage: menuagent.StageRetrieving, Category: cat, Status: menuagent.StatusFailed, Detail: err.Error()})
				mu.Lock()
				degraded = true
				mu.Unlock()
				return nil
			}

			emit(menuagent.ProgressEvent{
				Stage:    menuagent.StageRetrieving,
				Category: cat,
				Status:   menuagent.StatusSucceeded,
				Detail:   fmt.Sprintf("%d candidates", len(got)),
			})
			mu.Lock()
			candidates[cat] = got
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return candidates, degraded
}

// composeDirect is the direct dispatch path: the composer pulls categories
// through the engine itself, so retrieval events interleave with composition.
func (c *Coordinator) composeDirect(ctx context.Context, engine *retrieval.Engine, reqs menuagent.RequirementSet, emit func(menuagent.ProgressEvent)) (*menuagent.Menu, []menuagent.Category, bool, error) {
	degraded := false

	emit(menuagent.ProgressEvent{Stage: menuagent.StageComposing, Status: menuagent.StatusStarted})
	menu, unmet, err := c.comp.ComposeWith(ctx, reqs, func(fctx context.Context, cat menuagent.Category) ([]menuagent.Candidate, error) {
		emit(menuagent.ProgressEvent{Stage: menuagent.StageRetrieving, Category: cat, Status: menuagent.StatusStarted})

		got, rerr := engine.Retrieve(fctx, cat, reqs, c.opts.CandidatesPerCategory)
		if rerr != nil {
			degraded = true
			emit(menuagent.ProgressEvent{Stage: menuagent.StageRetrieving, Category: cat, Status: menuagent.StatusFailed, Detail: rerr.Error()})
			return nil, rerr
		}

		emit(menuagent.ProgressEvent{
			Stage:    menuagent.StageRetrieving,
			Category: cat,
			Status:   menuagent.StatusSucceeded,
			Detail:   fmt.Sprintf("%d candidates", len(got)),
		})
		return got, nil
	})
	return menu, unmet, degraded, err
}

// checkInterrupt maps context termination to the right terminal state:
// cancellation gets its own status, a deadline becomes a failed run.
func (c *Coordinator) checkInterrupt(ctx context.Context, runID string, reqs *menuagent.RequirementSet, emit func(menuagent.ProgressEvent)) (menuagent.Result, bool) {
	err := ctx.Err()
	if err == nil {
		return menuagent.Result{}, false
	}

	result := menuagent.Result{RunID: runID, Err: err.Error()}
	result.Requirements = reqs

	if errors.Is(err, context.Canceled) {
		result.Status = menuagent.RunCancelled
		slog.Info("COORDINATOR: Run cancelled", "run_id", runID)
		emit(menuagent.ProgressEvent{Stage: menuagent.StageCancelled, Status: menuagent.StatusFailed, Detail: err.Error(), Payload: result})
	} else {
		result.Status = menuagent.RunFailed
		slog.Warn("COORDINATOR: Run timed out", "run_id", runID)
		emit(menuagent.ProgressEvent{Stage: menuagent.StageFailed, Status: menuagent.StatusFailed, Detail: err.Error(), Payload: result})
	}
	return result, true
}

func (c *Coordinator) fail(runID string, reqs *menuagent.RequirementSet, err error, emit func(menuagent.ProgressEvent)) menuagent.Result {
	result := menuagent.Result{RunID: runID, Status: menuagent.RunFailed, Err: err.Error(), Requirements: reqs}
	slog.Error("COORDINATOR: Run failed", "run_id", runID, "error", err)
	emit(menuagent.ProgressEvent{Stage: menuagent.StageFailed, Status: menuagent.StatusFailed, Detail: err.Error(), Payload: result})
	return result
}
