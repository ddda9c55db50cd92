package extractor

import (
	"encoding/json"
	"sync"
	"time"

	"menuagent"
)

// Turn records one user message together with the delta extracted from it
// and the merged requirement set after applying that delta.
type Turn struct {
	Text   string                     `json:"text"`
	Delta  menuagent.RequirementDelta `json:"delta"`
	Merged menuagent.RequirementSet   `json:"merged"`
	At     time.Time                  `json:"at"`
}

// ConversationState is the append-only extraction history. Each turn's delta
// merges into the running requirement set: latest statement wins for scalars,
// diets and allergens accumulate, removals happen only through explicit
// retractions. Safe for concurrent use.
type ConversationState struct {
	mu    sync.RWMutex
	turns []Turn
}

func NewConversationState() *ConversationState {
	return &ConversationState{}
}

// Record appends a turn and returns the merged requirement set after it.
func (s *ConversationState) Record(text string, delta menuagent.RequirementDelta) menuagent.RequirementSet {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := s.latestLocked().Apply(delta)
	s.turns = append(s.turns, Turn{
		Text:   text,
		Delta:  delta,
		Merged: merged,
		At:     time.Now().UTC(),
	})
	return merged
}

// Latest returns the current merged requirement set, or the zero set when no
// turns have been recorded.
func (s *ConversationState) Latest() menuagent.RequirementSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestLocked().Clone()
}

func (s *ConversationState) latestLocked() menuagent.RequirementSet {
	if len(s.turns) == 0 {
		return menuagent.RequirementSet{}
	}
	return s.turns[len(s.turns)-1].Merged
}

// Len returns how many turns have been recorded.
func (s *ConversationState) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Turns returns a copy of the recorded history, oldest first.
func (s *ConversationState) Turns() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Turn(nil), s.turns...)
}

// Clear drops the entire history; the next run starts from a zero set.
func (s *ConversationState) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
}

// MarshalJSON serializes the history so a conversation can survive a process
// restart.
func (s *ConversationState) MarshalJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.Marshal(struct {
		Turns []Turn `json:"turns"`
	}{Turns: s.turns})
}

// UnmarshalJSON restores a serialized history, replacing any current state.
func (s *ConversationState) UnmarshalJSON(b []byte) error {
	var payload struct {
		Turns []Turn `json:"turns"`
	}
	if err := json.Unmarshal(b, &payload); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = payload.Turns
	return nil
}
