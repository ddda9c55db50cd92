package menuagent

import (
	"context"
	"net/http"
	"time"
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type Notifier interface {
	PostMessage(ctx context.Context, channel string, message string) error
}

// ToolPolicy controls how the model may use the tools attached to a prompt.
type ToolPolicy string

const (
	// ToolPolicyAuto lets the model decide whether to call a tool.
	ToolPolicyAuto ToolPolicy = "auto"
	// ToolPolicyForcedFirst requires the model to call a tool before producing text.
	ToolPolicyForcedFirst ToolPolicy = "forced_first_call"
	// ToolPolicyRestricted limits the model to the tools named in Prompt.AllowedTools.
	ToolPolicyRestricted ToolPolicy = "restricted"
)

type MessagePart struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

type MessageParts []MessagePart

func (mp MessageParts) Join() string {
	var result string
	for _, part := range mp {
		if part.Type == "text" {
			result += part.Text
		}
	}
	return result
}

type Message struct {
	Role    string       `json:"role"`
	Content MessageParts `json:"content"`
}

// Prompt is the provider-agnostic input to a LanguageModel.
type Prompt struct {
	Messages     []Message  `json:"messages"`
	Tools        []ToolSpec `json:"tools,omitempty"`
	Policy       ToolPolicy `json:"policy,omitempty"`
	AllowedTools []string   `json:"allowed_tools,omitempty"`
}

// ToolSpec is the schema surface of a tool as presented to the model.
type ToolSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema any    `json:"input_schema"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	Name      string         `json:"name"`
	Input     map[string]any `json:"input"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
}

type Response struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// LanguageModel is the opaque completion capability consumed by the agents.
type LanguageModel interface {
	Complete(ctx context.Context, prompt Prompt) (Response, error)
}

// HardFilters disqualify recipes outright. A recipe violating any of them must
// never be returned, regardless of relevance.
type HardFilters struct {
	Category         Category
	ExcludeAllergens []Allergen
	RequireTags      []DietaryTag
}

// SoftPreferences reorder results but never exclude them.
type SoftPreferences struct {
	Traditional bool
	Notes       string
}

type ScoredRecipe struct {
	Recipe Recipe
	Score  float64
}

// SearchIndex is the opaque retrieval capability. Implementations may or may
// not enforce hard filters server-side; callers re-validate either way.
type SearchIndex interface {
	Search(ctx context.Context, query string, hard HardFilters, soft SoftPreferences, k int) ([]ScoredRecipe, error)
}

// RawResult is an unnormalized hit from an external search source.
type RawResult struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
}

// WebSearch is the opaque lookup capability used for recipe discovery.
type WebSearch interface {
	Lookup(ctx context.Context, query string) ([]RawResult, error)
}

// Stage identifies a step in the planning run's state machine.
type Stage string

const (
	StageReceived    Stage = "received"
	StageExtracting  Stage = "extracting"
	StageRetrieving  Stage = "retrieving"
	StageDiscovering Stage = "discovering"
	StageComposing   Stage = "composing"
	StageDone        Stage = "done"
	StageFailed      Stage = "failed"
	StageCancelled   Stage = "cancelled"
)

type StageStatus string

const (
	StatusStarted   StageStatus = "started"
	StatusSucceeded StageStatus = "succeeded"
	StatusFailed    StageStatus = "failed"
)

// ProgressEvent is emitted at every component transition. Terminal events
// (done, failed, cancelled) carry the run's Result in Payload.
type ProgressEvent struct {
	RunID     string      `json:"run_id"`
	Stage     Stage       `json:"stage"`
	Category  Category    `json:"category,omitempty"`
	Status    StageStatus `json:"status"`
	Detail    string      `json:"detail,omitempty"`
	Payload   any         `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// RunStatus is the terminal disposition of a planning run.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Result is the terminal outcome of a run. Status distinguishes a full menu
// from a partial one (Unmet lists the categories without courses), a failure
// (Err explains why), and caller-issued cancellation.
type Result struct {
	RunID        string          `json:"run_id"`
	Status       RunStatus       `json:"status"`
	Menu         *Menu           `json:"menu,omitempty"`
	Unmet        []Category      `json:"unmet,omitempty"`
	Requirements *RequirementSet `json:"requirements,omitempty"`
	Err          string          `json:"error,omitempty"`
}

// Mode selects how run progress is delivered to the caller.
type Mode string

const (
	ModeSync        Mode = "sync"
	ModeStream      Mode = "stream"
	ModeAsyncStream Mode = "async_stream"
)
