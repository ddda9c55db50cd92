package menuagent

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// RunLogger is the interface for structured run logging.
type RunLogger interface {
	LogStage(stage StageLog) error
}

// NewRunLogFilePath returns a file path based on a cleaned up model name or id to make it easier to identify specific logs produced with various models.
func NewRunLogFilePath(model string) string {
	return fmt.Sprintf(
		"./logs/%d.%s.json",
		time.Now().Unix(),
		strings.ReplaceAll(strings.ToLower(model), ":", "_"),
	)
}

// StageLog records a single state-machine transition in a planning run.
type StageLog struct {
	RunID     string      `json:"run_id"`
	Stage     Stage       `json:"stage"`
	Category  Category    `json:"category,omitempty"`
	Status    StageStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Detail    string      `json:"detail,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// FileRunLogger logs to a file, accumulating stage transitions and flushing at the end.
type FileRunLogger struct {
	stages []StageLog
	writer io.Writer
}

// NewFileRunLogger creates a new file-based run logger.
func NewFileRunLogger(writer io.Writer) *FileRunLogger {
	return &FileRunLogger{
		stages: make([]StageLog, 0),
		writer: writer,
	}
}

// LogStage logs a transition to the buffer (does not flush immediately).
func (frl *FileRunLogger) LogStage(stage StageLog) error {
	frl.stages = append(frl.stages, stage)
	return nil
}

// Flush flushes all accumulated transitions to the writer.
func (frl *FileRunLogger) Flush() error {
	if frl.writer == nil {
		return nil
	}

	data, err := json.MarshalIndent(map[string]any{
		"planning_session": map[string]any{
			"timestamp": time.Now(),
			"stages":    frl.stages,
		},
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run log: %w", err)
	}

	if _, err := frl.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write run log: %w", err)
	}

	// Clear the buffer after successful write
	frl.stages = frl.stages[:0]
	return nil
}

// NoOpRunLogger is a logger that discards all log entries.
type NoOpRunLogger struct{}

// NewNoOpRunLogger creates a new no-op run logger.
func NewNoOpRunLogger() *NoOpRunLogger {
	return &NoOpRunLogger{}
}

// LogStage discards the stage log (no-op).
func (nop *NoOpRunLogger) LogStage(stage StageLog) error {
	return nil
}

// StdoutRunLogger logs each transition as a JSON line to stdout (for Lambda/CloudWatch).
type StdoutRunLogger struct{}

// NewStdoutRunLogger creates a new stdout-based run logger.
func NewStdoutRunLogger() *StdoutRunLogger {
	return &StdoutRunLogger{}
}

// LogStage writes the transition as a JSON line to os.Stdout.
func (l *StdoutRunLogger) LogStage(stage StageLog) error {
	data, err := json.Marshal(stage)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(data))
	return nil
}
