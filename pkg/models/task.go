package models

import (
	"encoding/json"
	"time"
)

type TaskStatus string

const (
	PendingTaskStatus    TaskStatus = "PENDING"
	ReadyTaskStatus      TaskStatus = "READY"
	RunningTaskStatus    TaskStatus = "RUNNING"
	CompletedTaskStatus  TaskStatus = "COMPLETED"
	FailedTaskStatus     TaskStatus = "FAILED"
	DeadLetterTaskStatus TaskStatus = "DEAD_LETTER"
	CancelledTaskStatus  TaskStatus = "CANCELLED"
)

// Terminal reports whether the task will never run again without an
// explicit resume.
func (s TaskStatus) Terminal() bool {
	switch s {
	case CompletedTaskStatus, FailedTaskStatus, DeadLetterTaskStatus, CancelledTaskStatus:
		return true
	}
	return false
}

// Task is one DAG node of a workflow run. A task may only be READY once
// every task it depends on is COMPLETED; tasks with no dependencies are
// READY from creation.
type Task struct {
	ID             string          `json:"id" db:"id"`
	WorkflowID     int64           `json:"workflow_id" db:"workflow_id"`
	AgentSlug      string          `json:"agent_slug" db:"agent_slug"`
	TaskType       string          `json:"task_type" db:"task_type"`
	Label          string          `json:"label" db:"label"`
	SequenceOrder  int             `json:"sequence_order" db:"sequence_order"`
	ParallelGroup  int             `json:"parallel_group" db:"parallel_group"` // Topological tier; siblings may run concurrently
	Dependencies   []string        `json:"depends_on_task_ids" db:"-"`         // Task IDs this task depends on
	Input          json.RawMessage `json:"input" db:"input"`
	Output         json.RawMessage `json:"output,omitempty" db:"output"` // Nil until completion
	Status         TaskStatus      `json:"status" db:"status"`
	Attempts       int             `json:"attempts" db:"attempts"`
	MaxRetries     int             `json:"max_retries" db:"max_retries"`
	Optional       bool            `json:"optional" db:"optional"` // Failure does not block the workflow
	ErrorCode      string          `json:"error_code,omitempty" db:"error_code"`
	ErrorMsg       string          `json:"error,omitempty" db:"error_msg"`
	Provider       string          `json:"provider,omitempty" db:"provider"`
	Model          string          `json:"model,omitempty" db:"model"`
	TokensUsed     int             `json:"tokens_used" db:"tokens_used"`
	DurationMs     int64           `json:"duration_ms" db:"duration_ms"`
	IdempotencyKey string          `json:"idempotency_key" db:"idempotency_key"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty" db:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	LastAttemptAt  *time.Time      `json:"last_attempt_at,omitempty" db:"last_attempt_at"`
}
