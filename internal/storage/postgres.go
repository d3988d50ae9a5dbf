package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/CleanExpo/RestoreAssist-sub015/pkg/models"
	"github.com/CleanExpo/RestoreAssist-sub015/pkg/storage"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type DBInterface interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// PostgresStore implements storage.Store over PostgreSQL. Begin returns a
// store wrapping a transaction; the claim and promotion operations rely on
// conditional UPDATEs with affected-row checks, never read-then-write.
type PostgresStore struct {
	db DBInterface
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Begin() (storage.Store, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.Beginx()
		if err != nil {
			return nil, err
		}
		return &PostgresStore{db: tx}, nil
	}
	return nil, fmt.Errorf("cannot begin transaction on unknown type")
}

func (s *PostgresStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return fmt.Errorf("cannot commit: not a transaction")
}

func (s *PostgresStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return fmt.Errorf("cannot rollback: not a transaction")
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

func (s *PostgresStore) UpsertAgent(a models.AgentRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO agents (slug, name, description, version)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (slug) DO UPDATE SET name = $2, description = $3, version = $4`,
		a.Slug, a.Name, a.Description, a.Version)
	if err != nil {
		return fmt.Errorf("upsert agent %s: %w", a.Slug, err)
	}
	return nil
}

// SaveWorkflow creates a new workflow row and returns its ID (no tasks/deps)
func (s *PostgresStore) SaveWorkflow(w models.Workflow) (int64, error) {
	var wfID int64
	err := s.db.QueryRowx(`
		INSERT INTO agent_workflows
			(name, description, user_id, report_id, inspection_id, task_graph, status,
			 total_tasks, completed_tasks, failed_tasks, config, error_msg, created_at, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`,
		w.Name, w.Description, w.UserID, w.ReportID, w.InspectionID, []byte(w.TaskGraph), w.Status,
		w.TotalTasks, w.CompletedTasks, w.FailedTasks, nullableJSON(w.Config), w.ErrorMsg, w.CreatedAt, w.ScheduledAt).Scan(&wfID)
	if err != nil {
		return 0, fmt.Errorf("save workflow: %w", err)
	}
	return wfID, nil
}

// GetWorkflow retrieves a workflow by ID, including tasks and dependencies
func (s *PostgresStore) GetWorkflow(id int64) (models.Workflow, error) {
	var wf models.Workflow
	err := s.db.Get(&wf, "SELECT * FROM agent_workflows WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.Workflow{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Workflow{}, err
	}
	wf.Tasks, err = s.GetTasks(id)
	if err != nil {
		return models.Workflow{}, fmt.Errorf("get workflow %d: %w", id, err)
	}
	return wf, nil
}

func (s *PostgresStore) ListWorkflows() ([]models.Workflow, error) {
	workflows := []models.Workflow{}
	err := s.db.Select(&workflows, "SELECT * FROM agent_workflows ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	return workflows, nil
}

func (s *PostgresStore) UpdateWorkflowProgress(p storage.WorkflowProgress) error {
	res, err := s.db.Exec(`
		UPDATE agent_workflows
		SET status = $1,
		    completed_tasks = $2,
		    failed_tasks = $3,
		    started_at = COALESCE(started_at, $4),
		    completed_at = $5,
		    error_msg = $6
		WHERE id = $7`,
		p.Status, p.CompletedTasks, p.FailedTasks, p.StartedAt, p.CompletedAt, p.ErrorMsg, p.WorkflowID)
	if err != nil {
		return fmt.Errorf("update workflow %d progress: %w", p.WorkflowID, err)
	}
	return requireRows(res, storage.ErrNotFound)
}

// SaveTask creates a new task within a workflow
func (s *PostgresStore) SaveTask(t models.Task) error {
	_, err := s.db.Exec(`
		INSERT INTO agent_tasks
			(id, workflow_id, agent_slug, task_type, label, sequence_order, parallel_group,
			 input, output, status, attempts, max_retries, optional, error_code, error_msg,
			 provider, model, tokens_used, duration_ms, idempotency_key,
			 created_at, started_at, completed_at, last_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`,
		t.ID, t.WorkflowID, t.AgentSlug, t.TaskType, t.Label, t.SequenceOrder, t.ParallelGroup,
		[]byte(t.Input), nullableJSON(t.Output), t.Status, t.Attempts, t.MaxRetries, t.Optional, t.ErrorCode, t.ErrorMsg,
		t.Provider, t.Model, t.TokensUsed, t.DurationMs, t.IdempotencyKey,
		t.CreatedAt, t.StartedAt, t.CompletedAt, t.LastAttemptAt)
	return err
}

// GetTask retrieves a task by ID and workflow ID
func (s *PostgresStore) GetTask(id string, workflowID int64) (models.Task, error) {
	var task models.Task
	err := s.db.Get(&task, "SELECT * FROM agent_tasks WHERE id = $1 AND workflow_id = $2", id, workflowID)
	if err == sql.ErrNoRows {
		return models.Task{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Task{}, err
	}
	err = s.db.Select(&task.Dependencies,
		"SELECT depends_on FROM task_dependencies WHERE workflow_id = $1 AND task_id = $2", workflowID, id)
	if err != nil {
		return models.Task{}, err
	}
	return task, nil
}

func (s *PostgresStore) GetTasks(workflowID int64) ([]models.Task, error) {
	var tasks []models.Task
	err := s.db.Select(&tasks,
		"SELECT * FROM agent_tasks WHERE workflow_id = $1 ORDER BY parallel_group, sequence_order", workflowID)
	if err != nil {
		return nil, err
	}
	deps, err := s.GetDependencies(workflowID)
	if err != nil {
		return nil, err
	}
	byTask := make(map[string][]string)
	for _, d := range deps {
		byTask[d.TaskID] = append(byTask[d.TaskID], d.DependsOn)
	}
	for i := range tasks {
		tasks[i].Dependencies = byTask[tasks[i].ID]
	}
	return tasks, nil
}

// ClaimTask is the atomic conditional update backing the claim semantics:
// the WHERE clause on status makes concurrent claimers race on a single
// row version, and exactly one sees an affected row.
func (s *PostgresStore) ClaimTask(id string, workflowID int64, at time.Time) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE agent_tasks
		SET status = 'RUNNING',
		    attempts = attempts + 1,
		    started_at = COALESCE(started_at, $1),
		    last_attempt_at = $1
		WHERE id = $2 AND workflow_id = $3 AND status = 'READY'`,
		at, id, workflowID)
	if err != nil {
		return false, fmt.Errorf("claim task %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *PostgresStore) UpdateTaskResult(t models.Task) error {
	res, err := s.db.Exec(`
		UPDATE agent_tasks
		SET status = $1,
		    output = $2,
		    attempts = $3,
		    error_code = $4,
		    error_msg = $5,
		    provider = $6,
		    model = $7,
		    tokens_used = $8,
		    duration_ms = $9,
		    completed_at = $10
		WHERE id = $11 AND workflow_id = $12`,
		t.Status, nullableJSON(t.Output), t.Attempts, t.ErrorCode, t.ErrorMsg,
		t.Provider, t.Model, t.TokensUsed, t.DurationMs, t.CompletedAt,
		t.ID, t.WorkflowID)
	if err != nil {
		return fmt.Errorf("update task %s result: %w", t.ID, err)
	}
	return requireRows(res, storage.ErrNotFound)
}

func (s *PostgresStore) MarkTasksReady(workflowID int64, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.db.Exec(`
		UPDATE agent_tasks
		SET status = 'READY'
		WHERE workflow_id = $1 AND id = ANY($2) AND status = 'PENDING'`,
		workflowID, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("mark tasks ready for workflow %d: %w", workflowID, err)
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

func (s *PostgresStore) CancelTasks(workflowID int64, at time.Time) (int, error) {
	res, err := s.db.Exec(`
		UPDATE agent_tasks
		SET status = 'CANCELLED', completed_at = $1
		WHERE workflow_id = $2 AND status IN ('PENDING', 'READY')`,
		at, workflowID)
	if err != nil {
		return 0, fmt.Errorf("cancel tasks for workflow %d: %w", workflowID, err)
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

func (s *PostgresStore) ResetFailedTasks(workflowID int64) (int, error) {
	res, err := s.db.Exec(`
		UPDATE agent_tasks
		SET status = 'READY', attempts = 0, error_code = '', error_msg = '', completed_at = NULL
		WHERE workflow_id = $1 AND status IN ('FAILED', 'DEAD_LETTER')`,
		workflowID)
	if err != nil {
		return 0, fmt.Errorf("reset failed tasks for workflow %d: %w", workflowID, err)
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

// SaveDependency creates a new dependency between tasks
func (s *PostgresStore) SaveDependency(d models.TaskDependency) error {
	_, err := s.db.Exec(`
		INSERT INTO task_dependencies (task_id, depends_on, workflow_id) VALUES ($1, $2, $3)`,
		d.TaskID, d.DependsOn, d.WorkflowID)
	return err
}

// GetDependencies retrieves all dependencies for a workflow
func (s *PostgresStore) GetDependencies(workflowID int64) ([]models.TaskDependency, error) {
	var deps []models.TaskDependency
	err := s.db.Select(&deps,
		"SELECT task_id, depends_on, workflow_id FROM task_dependencies WHERE workflow_id = $1", workflowID)
	if err != nil {
		return nil, err
	}
	return deps, nil
}

func (s *PostgresStore) AppendTaskLog(l models.TaskLog) error {
	_, err := s.db.Exec(`
		INSERT INTO agent_task_logs (task_id, workflow_id, level, message, data, logged_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		l.TaskID, l.WorkflowID, l.Level, l.Message, nullableJSON(l.Data), l.LoggedAt)
	return err
}

// nullableJSON maps an empty blob to NULL so jsonb columns stay clean.
func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func requireRows(res sql.Result, missing error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return missing
	}
	return nil
}
