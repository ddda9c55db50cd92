package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"menuagent"
	"menuagent/composer"
	"menuagent/retrieval"
	"menuagent/retrieval/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubExtractor struct {
	reqs  menuagent.RequirementSet
	err   error
	calls int
}

func (s *stubExtractor) Extract(_ context.Context, _ string) (menuagent.RequirementSet, error) {
	s.calls++
	return s.reqs, s.err
}

// slowExtractor blocks until its context ends.
type slowExtractor struct{}

func (slowExtractor) Extract(ctx context.Context, _ string) (menuagent.RequirementSet, error) {
	<-ctx.Done()
	return menuagent.RequirementSet{}, ctx.Err()
}

func testCorpus(t *testing.T, cats ...menuagent.Category) *retrieval.Index {
	t.Helper()
	if len(cats) == 0 {
		cats = menuagent.Categories()
	}

	var recipes []menuagent.Recipe
	for _, cat := range cats {
		for _, suffix := range []string{"_1", "_2", "_3"} {
			recipes = append(recipes, menuagent.Recipe{
				ID:          string(cat) + suffix,
				Name:        cat.DisplayName() + suffix,
				Category:    cat,
				Ingredients: []string{"ingredient" + string(cat) + suffix},
			})
		}
	}
	b, err := json.Marshal(recipes)
	require.NoError(t, err)

	idx := retrieval.NewIndex()
	_, err = idx.Load(context.Background(), storage.NewTestCorpusState(b))
	require.NoError(t, err)
	return idx
}

func newTestCoordinator(t *testing.T, ex constraintExtractor, idx *retrieval.Index, opts Options) *Coordinator {
	t.Helper()
	return New(ex, idx, nil, composer.New(nil, 6, 3), menuagent.NewNoOpRunLogger(), opts)
}

func stagesOf(events []menuagent.ProgressEvent) []menuagent.Stage {
	out := make([]menuagent.Stage, 0, len(events))
	for _, e := range events {
		out = append(out, e.Stage)
	}
	return out
}

func TestRun(t *testing.T) {
	ex := &stubExtractor{reqs: menuagent.RequirementSet{Guests: 6}}
	c := newTestCoordinator(t, ex, testCorpus(t), Options{})

	result, err := c.Run(context.Background(), "dinner for 6")
	require.NoError(t, err)

	assert.Equal(t, menuagent.RunSucceeded, result.Status)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, 6, result.Requirements.Guests)
	require.NotNil(t, result.Menu)
	assert.Len(t, result.Menu.Sections, 4)
	assert.Empty(t, result.Unmet)
	assert.Equal(t, 1, ex.calls)
}

func TestRunExtractionFailure(t *testing.T) {
	ex := &stubExtractor{err: &menuagent.ExtractionError{Reason: "no requirements found"}}
	c := newTestCoordinator(t, ex, testCorpus(t), Options{})

	result, err := c.Run(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, menuagent.RunFailed, result.Status)
	assert.Nil(t, result.Menu)
	assert.Contains(t, result.Err, "no requirements found")
}

func TestRunPartialWhenCategoryUnmet(t *testing.T) {
	// Corpus has no desserts at all.
	idx := testCorpus(t, menuagent.CategoryAppetizer, menuagent.CategoryMainDish, menuagent.CategorySecondPlate)
	c := newTestCoordinator(t, &stubExtractor{}, idx, Options{})

	result, err := c.Run(context.Background(), "dinner please")
	require.NoError(t, err)

	assert.Equal(t, menuagent.RunPartial, result.Status)
	assert.Equal(t, []menuagent.Category{menuagent.CategoryDessert}, result.Unmet)
	require.NotNil(t, result.Menu)
	section, ok := result.Menu.Section(menuagent.CategoryDessert)
	require.True(t, ok)
	assert.True(t, section.Unavailable)
}

func TestRunFailsWhenNothingCompliant(t *testing.T) {
	idx := retrieval.NewIndex()
	c := newTestCoordinator(t, &stubExtractor{}, idx, Options{})

	result, err := c.Run(context.Background(), "dinner please")
	require.Error(t, err)
	assert.Equal(t, menuagent.RunFailed, result.Status)
	assert.Contains(t, result.Err, "compose menu")
}

func TestRunStreamingEventOrder(t *testing.T) {
	c := newTestCoordinator(t, &stubExtractor{}, testCorpus(t), Options{})

	var events []menuagent.ProgressEvent
	for e := range c.RunStreaming(context.Background(), "dinner") {
		events = append(events, e)
	}

	stages := stagesOf(events)
	require.NotEmpty(t, stages)
	assert.Equal(t, menuagent.StageReceived, stages[0])
	assert.Equal(t, menuagent.StageDone, stages[len(stages)-1])

	// Extraction fully precedes retrieval; retrieval fully precedes
	// composition.
	lastExtract, firstRetrieve, lastRetrieve, firstCompose := -1, -1, -1, -1
	for i, s := range stages {
		switch s {
		case menuagent.StageExtracting:
			lastExtract = i
		case menuagent.StageRetrieving:
			if firstRetrieve < 0 {
				firstRetrieve = i
			}
			lastRetrieve = i
		case menuagent.StageComposing:
			if firstCompose < 0 {
				firstCompose = i
			}
		}
	}
	assert.Less(t, lastExtract, firstRetrieve)
	assert.Less(t, lastRetrieve, firstCompose)

	// One started and one terminal event per category.
	retrieving := 0
	for _, e := range events {
		if e.Stage == menuagent.StageRetrieving {
			retrieving++
		}
	}
	assert.Equal(t, 8, retrieving)

	// Every event carries the same run ID and the terminal payload holds the
	// result.
	for _, e := range events {
		assert.Equal(t, events[0].RunID, e.RunID)
	}
	result, ok := events[len(events)-1].Payload.(menuagent.Result)
	require.True(t, ok)
	assert.Equal(t, menuagent.RunSucceeded, result.Status)
	assert.NotNil(t, result.Menu)
}

func TestRunStreamingCancelledBeforeComposing(t *testing.T) {
	c := newTestCoordinator(t, &stubExtractor{}, testCorpus(t), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var events []menuagent.ProgressEvent
	for e := range c.RunStreaming(ctx, "dinner") {
		events = append(events, e)
		// The channel is unbuffered, so the pipeline cannot have advanced
		// past this event yet.
		if e.Stage == menuagent.StageExtracting && e.Status == menuagent.StatusSucceeded {
			cancel()
		}
	}

	// Delivery after cancellation is best effort, but the pipeline checks
	// the context before composing, so composition must never start.
	require.NotEmpty(t, events)
	for _, e := range events {
		assert.NotEqual(t, menuagent.StageComposing, e.Stage, "no composition work after cancellation")
		assert.NotEqual(t, menuagent.StageDone, e.Stage)
		if e.Stage == menuagent.StageCancelled {
			result, ok := e.Payload.(menuagent.Result)
			require.True(t, ok)
			assert.Equal(t, menuagent.RunCancelled, result.Status)
			assert.Nil(t, result.Menu)
		}
	}
}

func TestRunStreamingAbandonedConsumerClosesStream(t *testing.T) {
	c := newTestCoordinator(t, &stubExtractor{}, testCorpus(t), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	events := c.RunStreaming(ctx, "dinner")

	// Take one event, cancel, and walk away. The pipeline must not stay
	// parked on its next send; it drops pending events and closes the
	// channel.
	first, open := <-events
	require.True(t, open)
	assert.Equal(t, menuagent.StageReceived, first.Stage)
	cancel()

	time.Sleep(100 * time.Millisecond)

	_, open = <-events
	assert.False(t, open, "stream closes instead of delivering to an abandoned consumer")
}

// cancelOnRetrievalLogger cancels the run the moment the last category
// retrieval is logged as succeeded, before the pipeline can move on.
type cancelOnRetrievalLogger struct {
	mu        sync.Mutex
	cancel    context.CancelFunc
	succeeded int
	stages    []menuagent.StageLog
}

func (l *cancelOnRetrievalLogger) LogStage(entry menuagent.StageLog) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stages = append(l.stages, entry)
	if entry.Stage == menuagent.StageRetrieving && entry.Status == menuagent.StatusSucceeded {
		l.succeeded++
		if l.succeeded == len(menuagent.Categories()) {
			l.cancel()
		}
	}
	return nil
}

func TestRunCancelledAfterRetrievalBeforeComposing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := &cancelOnRetrievalLogger{cancel: cancel}
	c := New(&stubExtractor{}, testCorpus(t), nil, composer.New(nil, 6, 3), logger, Options{})

	result, err := c.Run(ctx, "dinner")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, menuagent.RunCancelled, result.Status)
	assert.Nil(t, result.Menu)

	logger.mu.Lock()
	defer logger.mu.Unlock()
	require.NotEmpty(t, logger.stages)
	for _, s := range logger.stages {
		assert.NotEqual(t, menuagent.StageComposing, s.Stage, "retrieval completed but composition never started")
	}
	assert.Equal(t, menuagent.StageCancelled, logger.stages[len(logger.stages)-1].Stage)
}

func TestRunTimeout(t *testing.T) {
	c := newTestCoordinator(t, slowExtractor{}, testCorpus(t), Options{RunTimeout: 20 * time.Millisecond})

	result, err := c.Run(context.Background(), "dinner")
	require.Error(t, err)
	assert.Equal(t, menuagent.RunFailed, result.Status)
	assert.Contains(t, result.Err, context.DeadlineExceeded.Error())
}

func TestRunAsyncStreamingDeliversSameOutcome(t *testing.T) {
	c := newTestCoordinator(t, &stubExtractor{}, testCorpus(t), Options{})

	var events []menuagent.ProgressEvent
	for e := range c.RunAsyncStreaming(context.Background(), "dinner") {
		events = append(events, e)
	}

	require.NotEmpty(t, events)
	assert.Equal(t, menuagent.StageDone, events[len(events)-1].Stage)
	result, ok := events[len(events)-1].Payload.(menuagent.Result)
	require.True(t, ok)
	assert.Equal(t, menuagent.RunSucceeded, result.Status)
}

func TestRunDirectDispatch(t *testing.T) {
	c := newTestCoordinator(t, &stubExtractor{}, testCorpus(t), Options{DirectDispatch: true})

	var events []menuagent.ProgressEvent
	for e := range c.RunStreaming(context.Background(), "dinner") {
		events = append(events, e)
	}

	stages := stagesOf(events)
	assert.Equal(t, menuagent.StageDone, stages[len(stages)-1])

	// Composition starts before retrieval: the composer pulls candidates
	// itself in this mode.
	firstRetrieve, firstCompose := -1, -1
	for i, s := range stages {
		if s == menuagent.StageRetrieving && firstRetrieve < 0 {
			firstRetrieve = i
		}
		if s == menuagent.StageComposing && firstCompose < 0 {
			firstCompose = i
		}
	}
	require.GreaterOrEqual(t, firstRetrieve, 0)
	require.GreaterOrEqual(t, firstCompose, 0)
	assert.Less(t, firstCompose, firstRetrieve)

	result, ok := events[len(events)-1].Payload.(menuagent.Result)
	require.True(t, ok)
	assert.Equal(t, menuagent.RunSucceeded, result.Status)
}

func TestPlanModes(t *testing.T) {
	c := newTestCoordinator(t, &stubExtractor{}, testCorpus(t), Options{})

	result, ch, err := c.Plan(context.Background(), "dinner", menuagent.ModeSync)
	require.NoError(t, err)
	assert.Nil(t, ch)
	assert.Equal(t, menuagent.RunSucceeded, result.Status)

	_, ch, err = c.Plan(context.Background(), "dinner", menuagent.ModeStream)
	require.NoError(t, err)
	require.NotNil(t, ch)
	for range ch {
	}

	_, _, err = c.Plan(context.Background(), "dinner", menuagent.Mode("bogus"))
	require.Error(t, err)
}

func TestReloadAffectsOnlyNewRuns(t *testing.T) {
	idx := testCorpus(t)
	c := newTestCoordinator(t, &stubExtractor{}, idx, Options{})

	// Replace the corpus with one that has no desserts.
	var recipes []menuagent.Recipe
	for _, cat := range []menuagent.Category{menuagent.CategoryAppetizer, menuagent.CategoryMainDish, menuagent.CategorySecondPlate} {
		recipes = append(recipes, menuagent.Recipe{ID: string(cat) + "_x", Name: "x", Category: cat})
	}
	b, err := json.Marshal(recipes)
	require.NoError(t, err)

	n, err := c.Reload(context.Background(), storage.NewTestCorpusState(b))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	result, err := c.Run(context.Background(), "dinner")
	require.NoError(t, err)
	assert.Equal(t, menuagent.RunPartial, result.Status)
	assert.Equal(t, []menuagent.Category{menuagent.CategoryDessert}, result.Unmet)
}

func TestRunRecordsStages(t *testing.T) {
	logger := menuagent.NewStdoutRunLogger()
	c := New(&stubExtractor{}, testCorpus(t), nil, composer.New(nil, 6, 3), logger, Options{})

	_, err := c.Run(context.Background(), "dinner")
	require.NoError(t, err)
}

func TestRunExtractionErrorRemainsTyped(t *testing.T) {
	ex := &stubExtractor{err: &menuagent.ExtractionError{Reason: "empty request", Questions: []string{"How many guests?"}}}
	c := newTestCoordinator(t, ex, testCorpus(t), Options{})

	result, err := c.Run(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, menuagent.RunFailed, result.Status)

	var extErr *menuagent.ExtractionError
	require.True(t, errors.As(err, &extErr), "extraction failures stay typed through the run")
	assert.Equal(t, []string{"How many guests?"}, extErr.Questions)
	assert.Contains(t, result.Err, "empty request")
}
