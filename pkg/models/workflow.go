package models

import (
	"encoding/json"
	"time"
)

type WorkflowStatus string

const (
	PendingWorkflowStatus         WorkflowStatus = "PENDING"
	RunningWorkflowStatus         WorkflowStatus = "RUNNING"
	CompletedWorkflowStatus       WorkflowStatus = "COMPLETED"
	FailedWorkflowStatus          WorkflowStatus = "FAILED"
	PartiallyFailedWorkflowStatus WorkflowStatus = "PARTIALLY_FAILED"
	CancelledWorkflowStatus       WorkflowStatus = "CANCELLED"
)

// Terminal reports whether no further engine work can change the status.
func (s WorkflowStatus) Terminal() bool {
	switch s {
	case CompletedWorkflowStatus, FailedWorkflowStatus, PartiallyFailedWorkflowStatus, CancelledWorkflowStatus:
		return true
	}
	return false
}

// Workflow is one persisted workflow run, owning its tasks.
type Workflow struct {
	ID             int64           `json:"id" db:"id"`
	Name           string          `json:"name" db:"name"`
	Description    string          `json:"description,omitempty" db:"description"`
	UserID         string          `json:"user_id" db:"user_id"`
	ReportID       *string         `json:"report_id,omitempty" db:"report_id"`         // Optional linkage to a parent report
	InspectionID   *string         `json:"inspection_id,omitempty" db:"inspection_id"` // Optional linkage to a parent inspection
	TaskGraph      json.RawMessage `json:"task_graph" db:"task_graph"`                 // Serialized TaskGraph snapshot for audit/replay
	Status         WorkflowStatus  `json:"status" db:"status"`
	TotalTasks     int             `json:"total_tasks" db:"total_tasks"`
	CompletedTasks int             `json:"completed_tasks" db:"completed_tasks"`
	FailedTasks    int             `json:"failed_tasks" db:"failed_tasks"`
	Config         json.RawMessage `json:"config,omitempty" db:"config"`
	ErrorMsg       string          `json:"error,omitempty" db:"error_msg"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty" db:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	ScheduledAt    *time.Time      `json:"scheduled_at,omitempty" db:"scheduled_at"`
	Tasks          []Task          `json:"tasks,omitempty" db:"-"` // Populated at read time
}
