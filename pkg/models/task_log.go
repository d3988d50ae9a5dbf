package models

import (
	"encoding/json"
	"time"
)

// TaskLog is one append-only audit event for a task. Rows are never mutated
// or deleted by the engine; writes are fire-and-forget.
type TaskLog struct {
	ID         int64           `json:"id" db:"id"`                   // Auto-incremented log ID
	TaskID     string          `json:"task_id" db:"task_id"`         // Task being logged
	WorkflowID int64           `json:"workflow_id" db:"workflow_id"` // Parent workflow
	Level      string          `json:"level" db:"level"`             // "info", "warn", "error"
	Message    string          `json:"message" db:"message"`
	Data       json.RawMessage `json:"data,omitempty" db:"data"` // Optional structured payload
	LoggedAt   time.Time       `json:"logged_at" db:"logged_at"`
}
