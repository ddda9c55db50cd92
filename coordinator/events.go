package coordinator

import (
	"log/slog"
	"sync"
	"time"

	"menuagent"
)

// asyncBufferSize is the channel capacity for async streaming runs. A slow
// consumer this far behind blocks the pipeline rather than losing events.
const asyncBufferSize = 64

// sink receives pipeline events in emission order.
type sink interface {
	emit(menuagent.ProgressEvent)
	close()
}

// chanSink forwards events to a channel. With capacity 0 it is the
// synchronous streaming mode: the pipeline advances in lockstep with the
// consumer.
type chanSink struct {
	ch   chan menuagent.ProgressEvent
	done <-chan struct{}
}

func newChanSink(capacity int, done <-chan struct{}) *chanSink {
	return &chanSink{ch: make(chan menuagent.ProgressEvent, capacity), done: done}
}

// emit delivers the event, preferring a waiting receiver. Once the caller's
// context is done the consumer may have abandoned the channel entirely, and a
// plain send would park the pipeline goroutine forever; remaining events are
// dropped instead so the run can wind down. A cancelled caller that wants the
// terminal event must keep draining until the channel closes.
func (s *chanSink) emit(e menuagent.ProgressEvent) {
	select {
	case s.ch <- e:
		return
	default:
	}
	select {
	case s.ch <- e:
	case <-s.done:
	}
}

func (s *chanSink) close() { close(s.ch) }

// collectSink buffers events in memory for the synchronous request/response
// mode. Safe for concurrent emitters.
type collectSink struct {
	mu     sync.Mutex
	events []menuagent.ProgressEvent
}

func (s *collectSink) emit(e menuagent.ProgressEvent) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *collectSink) close() {}

// logged wraps a sink so every event also lands in the run logger.
type logged struct {
	inner  sink
	runID  string
	logger menuagent.RunLogger
}

func withLogging(inner sink, runID string, logger menuagent.RunLogger) sink {
	if logger == nil {
		return inner
	}
	return &logged{inner: inner, runID: runID, logger: logger}
}

func (l *logged) emit(e menuagent.ProgressEvent) {
	entry := menuagent.StageLog{
		RunID:     l.runID,
		Stage:     e.Stage,
		Category:  e.Category,
		Status:    e.Status,
		Timestamp: time.Now(),
		Detail:    e.Detail,
	}
	if e.Status == menuagent.StatusFailed {
		entry.Error = e.Detail
	}
	if err := l.logger.LogStage(entry); err != nil {
		slog.Error("Failed to log planning stage", "error", err, "stage", e.Stage)
	}
	l.inner.emit(e)
}

func (l *logged) close() { l.inner.close() }
