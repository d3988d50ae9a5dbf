package storage

import (
	"time"

	"github.com/CleanExpo/RestoreAssist-sub015/pkg/models"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when a workflow or task does not exist.
var ErrNotFound = errors.New("not found")

// WorkflowProgress is the aggregate written back onto a workflow row.
// StartedAt is set-once: implementations keep an existing value when the
// field is nil. CompletedAt is written as given, so resuming a workflow
// clears it.
type WorkflowProgress struct {
	WorkflowID     int64
	Status         models.WorkflowStatus
	CompletedTasks int
	FailedTasks    int
	StartedAt      *time.Time
	CompletedAt    *time.Time
	ErrorMsg       string
}

// Store defines the persistence operations the engine requires. Begin
// returns a transaction-scoped Store; all writes inside it become visible
// atomically on Commit.
type Store interface {
	Begin() (Store, error)
	Commit() error
	Rollback() error
	Close() error

	// Agent operations
	UpsertAgent(a models.AgentRecord) error

	// Workflow operations
	SaveWorkflow(w models.Workflow) (int64, error)
	GetWorkflow(id int64) (models.Workflow, error)
	ListWorkflows() ([]models.Workflow, error)
	UpdateWorkflowProgress(p WorkflowProgress) error

	// Task operations
	SaveTask(t models.Task) error
	GetTask(id string, workflowID int64) (models.Task, error)
	GetTasks(workflowID int64) ([]models.Task, error)

	// ClaimTask atomically transitions READY -> RUNNING, stamping started_at
	// and last_attempt_at and incrementing attempts. It reports false when
	// the task was not READY, which is how a lost claim race surfaces.
	ClaimTask(id string, workflowID int64, at time.Time) (bool, error)

	// UpdateTaskResult writes back a finished attempt: status, output,
	// error fields, usage metadata and timestamps.
	UpdateTaskResult(t models.Task) error

	// MarkTasksReady promotes the given PENDING tasks to READY, returning
	// how many rows actually changed.
	MarkTasksReady(workflowID int64, ids []string) (int, error)

	// CancelTasks sets every PENDING/READY task to CANCELLED.
	CancelTasks(workflowID int64, at time.Time) (int, error)

	// ResetFailedTasks requeues every FAILED/DEAD_LETTER task as READY with
	// attempts and error fields cleared.
	ResetFailedTasks(workflowID int64) (int, error)

	// Dependency operations
	SaveDependency(d models.TaskDependency) error
	GetDependencies(workflowID int64) ([]models.TaskDependency, error)

	// AppendTaskLog inserts one audit row. Callers treat failures as
	// best-effort; the row is never updated afterwards.
	AppendTaskLog(l models.TaskLog) error
}
