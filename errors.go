package menuagent

import (
	"errors"
	"fmt"
	"strings"
)

// ExtractionError means the input text yielded no actionable requirement
// signal. It is fatal to the run but recoverable for the conversation: the
// caller can re-prompt the user with Questions.
type ExtractionError struct {
	Reason    string
	Missing   []string
	Questions []string
}

func (e *ExtractionError) Error() string {
	if len(e.Missing) == 0 {
		return fmt.Sprintf("extraction failed: %s", e.Reason)
	}
	return fmt.Sprintf("extraction failed: %s (missing: %s)", e.Reason, strings.Join(e.Missing, ", "))
}

// CompositionError means no category had even one candidate after the round
// ceiling; a menu with zero courses is not a valid deliverable.
type CompositionError struct {
	Reason string
}

func (e *CompositionError) Error() string {
	return fmt.Sprintf("composition failed: %s", e.Reason)
}

// RetrievalDegraded wraps a category retrieval failure. It never surfaces to
// the caller as a run failure; the coordinator absorbs it into an empty
// candidate sequence plus a failed progress event.
type RetrievalDegraded struct {
	Category Category
	Err      error
}

func (e *RetrievalDegraded) Error() string {
	return fmt.Sprintf("retrieval degraded for %s: %v", e.Category, e.Err)
}

func (e *RetrievalDegraded) Unwrap() error { return e.Err }

// IsExtractionError reports whether err is (or wraps) an ExtractionError.
func IsExtractionError(err error) bool {
	var ee *ExtractionError
	return errors.As(err, &ee)
}

// IsCompositionError reports whether err is (or wraps) a CompositionError.
func IsCompositionError(err error) bool {
	var ce *CompositionError
	return errors.As(err, &ce)
}
