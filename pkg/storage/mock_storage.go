package storage

import (
	"sync"
	"time"

	"github.com/CleanExpo/RestoreAssist-sub015/pkg/models"
)

// mockStore implements Store with in-memory state. The mutex gives ClaimTask
// the same atomic conditional-update semantics as the SQL store, so the
// executor's concurrency tests run against it unchanged.
type mockStore struct {
	mu           sync.Mutex
	agents       map[string]models.AgentRecord
	workflows    []models.Workflow
	tasks        []models.Task
	dependencies []models.TaskDependency
	logs         []models.TaskLog
	nextID       int64
}

// NewMockStore returns an empty in-memory store.
func NewMockStore() Store {
	return &mockStore{agents: make(map[string]models.AgentRecord)}
}

// Begin returns the store itself: in-memory writes are immediate, so the
// transactional boundary collapses to a no-op.
func (m *mockStore) Begin() (Store, error) { return m, nil }
func (m *mockStore) Commit() error         { return nil }
func (m *mockStore) Rollback() error       { return nil }
func (m *mockStore) Close() error          { return nil }

func (m *mockStore) UpsertAgent(a models.AgentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[a.Slug] = a
	return nil
}

func (m *mockStore) SaveWorkflow(w models.Workflow) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	w.ID = m.nextID
	m.workflows = append(m.workflows, w)
	return w.ID, nil
}

func (m *mockStore) GetWorkflow(id int64) (models.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, wf := range m.workflows {
		if wf.ID == id {
			wf.Tasks = m.tasksForLocked(id)
			return wf, nil
		}
	}
	return models.Workflow{}, ErrNotFound
}

func (m *mockStore) ListWorkflows() ([]models.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Workflow, len(m.workflows))
	copy(out, m.workflows)
	return out, nil
}

func (m *mockStore) UpdateWorkflowProgress(p WorkflowProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.workflows {
		if m.workflows[i].ID != p.WorkflowID {
			continue
		}
		m.workflows[i].Status = p.Status
		m.workflows[i].CompletedTasks = p.CompletedTasks
		m.workflows[i].FailedTasks = p.FailedTasks
		m.workflows[i].ErrorMsg = p.ErrorMsg
		if p.StartedAt != nil && m.workflows[i].StartedAt == nil {
			m.workflows[i].StartedAt = p.StartedAt
		}
		m.workflows[i].CompletedAt = p.CompletedAt
		return nil
	}
	return ErrNotFound
}

func (m *mockStore) SaveTask(t models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tasks {
		if m.tasks[i].ID == t.ID && m.tasks[i].WorkflowID == t.WorkflowID {
			m.tasks[i] = t
			return nil
		}
	}
	m.tasks = append(m.tasks, t)
	return nil
}

func (m *mockStore) GetTask(id string, workflowID int64) (models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.ID == id && t.WorkflowID == workflowID {
			t.Dependencies = m.depsForLocked(id, workflowID)
			return t, nil
		}
	}
	return models.Task{}, ErrNotFound
}

func (m *mockStore) GetTasks(workflowID int64) ([]models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasksForLocked(workflowID), nil
}

func (m *mockStore) ClaimTask(id string, workflowID int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tasks {
		if m.tasks[i].ID != id || m.tasks[i].WorkflowID != workflowID {
			continue
		}
		if m.tasks[i].Status != models.ReadyTaskStatus {
			return false, nil
		}
		m.tasks[i].Status = models.RunningTaskStatus
		m.tasks[i].Attempts++
		if m.tasks[i].StartedAt == nil {
			startedAt := at
			m.tasks[i].StartedAt = &startedAt
		}
		lastAttempt := at
		m.tasks[i].LastAttemptAt = &lastAttempt
		return true, nil
	}
	return false, ErrNotFound
}

func (m *mockStore) UpdateTaskResult(t models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tasks {
		if m.tasks[i].ID != t.ID || m.tasks[i].WorkflowID != t.WorkflowID {
			continue
		}
		deps := m.tasks[i].Dependencies
		created := m.tasks[i].CreatedAt
		m.tasks[i] = t
		m.tasks[i].Dependencies = deps
		m.tasks[i].CreatedAt = created
		return nil
	}
	return ErrNotFound
}

func (m *mockStore) MarkTasksReady(workflowID int64, ids []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	changed := 0
	for i := range m.tasks {
		if m.tasks[i].WorkflowID != workflowID {
			continue
		}
		if _, ok := wanted[m.tasks[i].ID]; !ok {
			continue
		}
		if m.tasks[i].Status == models.PendingTaskStatus {
			m.tasks[i].Status = models.ReadyTaskStatus
			changed++
		}
	}
	return changed, nil
}

func (m *mockStore) CancelTasks(workflowID int64, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := 0
	for i := range m.tasks {
		if m.tasks[i].WorkflowID != workflowID {
			continue
		}
		switch m.tasks[i].Status {
		case models.PendingTaskStatus, models.ReadyTaskStatus:
			m.tasks[i].Status = models.CancelledTaskStatus
			completedAt := at
			m.tasks[i].CompletedAt = &completedAt
			changed++
		}
	}
	return changed, nil
}

func (m *mockStore) ResetFailedTasks(workflowID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := 0
	for i := range m.tasks {
		if m.tasks[i].WorkflowID != workflowID {
			continue
		}
		switch m.tasks[i].Status {
		case models.FailedTaskStatus, models.DeadLetterTaskStatus:
			m.tasks[i].Status = models.ReadyTaskStatus
			m.tasks[i].Attempts = 0
			m.tasks[i].ErrorCode = ""
			m.tasks[i].ErrorMsg = ""
			m.tasks[i].CompletedAt = nil
			changed++
		}
	}
	return changed, nil
}

func (m *mockStore) SaveDependency(d models.TaskDependency) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dependencies = append(m.dependencies, d)
	return nil
}

func (m *mockStore) GetDependencies(workflowID int64) ([]models.TaskDependency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TaskDependency
	for _, d := range m.dependencies {
		if d.WorkflowID == workflowID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *mockStore) AppendTaskLog(l models.TaskLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.ID = int64(len(m.logs) + 1)
	m.logs = append(m.logs, l)
	return nil
}

// TaskLogs exposes recorded audit rows for assertions in tests.
func (m *mockStore) TaskLogs() []models.TaskLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.TaskLog, len(m.logs))
	copy(out, m.logs)
	return out
}

func (m *mockStore) tasksForLocked(workflowID int64) []models.Task {
	var out []models.Task
	for _, t := range m.tasks {
		if t.WorkflowID == workflowID {
			t.Dependencies = m.depsForLocked(t.ID, workflowID)
			out = append(out, t)
		}
	}
	return out
}

func (m *mockStore) depsForLocked(taskID string, workflowID int64) []string {
	var deps []string
	for _, d := range m.dependencies {
		if d.WorkflowID == workflowID && d.TaskID == taskID {
			deps = append(deps, d.DependsOn)
		}
	}
	return deps
}
