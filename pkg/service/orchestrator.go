package service

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/CleanExpo/RestoreAssist-sub015/pkg/models"
	"github.com/CleanExpo/RestoreAssist-sub015/pkg/registry"
	"github.com/CleanExpo/RestoreAssist-sub015/pkg/storage"
	"github.com/pkg/errors"
)

// WorkflowService owns the workflow lifecycle: create, advance, cancel,
// resume, and read-side queries. Task execution lives in Executor.
type WorkflowService struct {
	store    storage.Store
	registry *registry.Registry
	decomp   *Decomposer
	state    *StateManager
	logger   Logger
}

func NewWorkflowService(store storage.Store, reg *registry.Registry, logger Logger) *WorkflowService {
	return &WorkflowService{
		store:    store,
		registry: reg,
		decomp:   NewDecomposer(reg),
		state:    NewStateManager(store, logger),
		logger:   logger,
	}
}

// StateManager exposes the state manager for wiring the executor.
func (s *WorkflowService) StateManager() *StateManager {
	return s.state
}

// CreateResult is returned by CreateWorkflow.
type CreateResult struct {
	WorkflowID int64 `json:"workflow_id"`
	TaskCount  int   `json:"task_count"`
}

// AdvanceResult is returned by AdvanceWorkflow.
type AdvanceResult struct {
	Status     models.WorkflowStatus `json:"status"`
	Promoted   int                   `json:"promoted"`
	Executable []models.Task         `json:"executable"`
}

// CreateWorkflow decomposes the definition and persists the workflow plus
// all its tasks in one transaction: either everything is stored or nothing
// is. Tasks with no dependencies start READY, the rest PENDING.
func (s *WorkflowService) CreateWorkflow(def models.WorkflowDefinition, params models.CreateParams) (res CreateResult, err error) {
	tasks, graph, err := s.decomp.Decompose(def, params)
	if err != nil {
		return CreateResult{}, errors.Wrapf(err, "decompose workflow '%s'", def.Name)
	}
	rawGraph, err := json.Marshal(graph)
	if err != nil {
		return CreateResult{}, errors.Wrap(err, "marshal task graph")
	}

	txStore, err := s.store.Begin()
	if err != nil {
		return CreateResult{}, errors.Wrap(err, "begin transaction")
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				s.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			s.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	// Sync registered agent metadata so task joins resolve.
	for _, cfg := range s.registry.Configs() {
		if err = txStore.UpsertAgent(models.AgentRecord{
			Slug:        cfg.Slug,
			Name:        cfg.Name,
			Description: cfg.Description,
			Version:     cfg.Version,
		}); err != nil {
			return CreateResult{}, errors.Wrapf(err, "sync agent '%s'", cfg.Slug)
		}
	}

	var reportID, inspectionID *string
	if params.ReportID != "" {
		reportID = &params.ReportID
	}
	if params.InspectionID != "" {
		inspectionID = &params.InspectionID
	}
	now := time.Now()
	wf := models.Workflow{
		Name:         def.Name,
		Description:  def.Description,
		UserID:       params.UserID,
		ReportID:     reportID,
		InspectionID: inspectionID,
		TaskGraph:    rawGraph,
		Status:       models.PendingWorkflowStatus,
		TotalTasks:   len(tasks),
		CreatedAt:    now,
		ScheduledAt:  params.ScheduledAt,
	}
	wfID, err := txStore.SaveWorkflow(wf)
	if err != nil {
		return CreateResult{}, errors.Wrapf(err, "save workflow '%s'", def.Name)
	}

	for i := range tasks {
		tasks[i].WorkflowID = wfID
		tasks[i].IdempotencyKey = IdempotencyKey(wfID, tasks[i].AgentSlug, tasks[i].TaskType)
		tasks[i].CreatedAt = now
		if err = txStore.SaveTask(tasks[i]); err != nil {
			return CreateResult{}, errors.Wrapf(err, "save task %s", tasks[i].ID)
		}
		for _, dep := range tasks[i].Dependencies {
			if err = txStore.SaveDependency(models.TaskDependency{
				TaskID:     tasks[i].ID,
				DependsOn:  dep,
				WorkflowID: wfID,
			}); err != nil {
				return CreateResult{}, errors.Wrapf(err, "save dependency %s -> %s", dep, tasks[i].ID)
			}
		}
	}

	s.logger.Infof("Created workflow '%s' with ID %d and %d tasks", def.Name, wfID, len(tasks))
	return CreateResult{WorkflowID: wfID, TaskCount: len(tasks)}, nil
}

// GetExecutableTasks returns all READY tasks ordered by (parallelGroup,
// sequenceOrder). The ordering is a scheduling hint; same-tier tasks are
// expected to run concurrently. A workflow scheduled in the future yields
// nothing yet.
func (s *WorkflowService) GetExecutableTasks(workflowID int64) ([]models.Task, error) {
	wf, err := s.store.GetWorkflow(workflowID)
	if err != nil {
		return nil, errors.Wrapf(err, "load workflow %d", workflowID)
	}
	if wf.ScheduledAt != nil && wf.ScheduledAt.After(time.Now()) {
		return nil, nil
	}
	var ready []models.Task
	for _, t := range wf.Tasks {
		if t.Status == models.ReadyTaskStatus {
			ready = append(ready, t)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].ParallelGroup != ready[j].ParallelGroup {
			return ready[i].ParallelGroup < ready[j].ParallelGroup
		}
		return ready[i].SequenceOrder < ready[j].SequenceOrder
	})
	return ready, nil
}

// AdvanceWorkflow promotes newly-ready tasks, recomputes the aggregate
// status, and returns the next executable batch.
func (s *WorkflowService) AdvanceWorkflow(workflowID int64) (AdvanceResult, error) {
	promoted, err := s.state.PromoteReadyTasks(workflowID)
	if err != nil {
		return AdvanceResult{}, err
	}
	status, err := s.state.RecomputeStatus(workflowID)
	if err != nil {
		return AdvanceResult{}, err
	}
	var executable []models.Task
	if !status.Terminal() {
		executable, err = s.GetExecutableTasks(workflowID)
		if err != nil {
			return AdvanceResult{}, err
		}
	}
	return AdvanceResult{Status: status, Promoted: promoted, Executable: executable}, nil
}

// CancelWorkflow sets every PENDING/READY task and the workflow itself to
// CANCELLED. Running tasks finish naturally; cancellation only prevents
// future work. A workflow that already settled cannot be cancelled.
func (s *WorkflowService) CancelWorkflow(workflowID int64) (err error) {
	txStore, err := s.store.Begin()
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				s.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			s.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	wf, err := txStore.GetWorkflow(workflowID)
	if err != nil {
		return errors.Wrapf(err, "load workflow %d", workflowID)
	}
	if wf.Status.Terminal() {
		return errors.Errorf("workflow %d already settled with status %s", workflowID, wf.Status)
	}
	now := time.Now()
	cancelled, err := txStore.CancelTasks(workflowID, now)
	if err != nil {
		return errors.Wrapf(err, "cancel tasks for workflow %d", workflowID)
	}
	if err = txStore.UpdateWorkflowProgress(storage.WorkflowProgress{
		WorkflowID:     workflowID,
		Status:         models.CancelledWorkflowStatus,
		CompletedTasks: wf.CompletedTasks,
		FailedTasks:    wf.FailedTasks,
		CompletedAt:    &now,
		ErrorMsg:       wf.ErrorMsg,
	}); err != nil {
		return errors.Wrapf(err, "cancel workflow %d", workflowID)
	}
	s.logger.Infof("Cancelled workflow %d (%d tasks cancelled)", workflowID, cancelled)
	return nil
}

// ResumeWorkflow requeues every FAILED/DEAD_LETTER task as READY with
// attempts and error fields cleared, and returns the workflow to RUNNING.
// It is the single supported recovery action and only runs when explicitly
// invoked. Only a FAILED or PARTIALLY_FAILED workflow can be resumed:
// anything else has no requeueable tasks, and moving it to RUNNING would
// leave it unable to ever settle again.
func (s *WorkflowService) ResumeWorkflow(workflowID int64) (requeued int, err error) {
	txStore, err := s.store.Begin()
	if err != nil {
		return 0, errors.Wrap(err, "begin transaction")
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				s.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			s.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	wf, err := txStore.GetWorkflow(workflowID)
	if err != nil {
		return 0, errors.Wrapf(err, "load workflow %d", workflowID)
	}
	if wf.Status != models.FailedWorkflowStatus && wf.Status != models.PartiallyFailedWorkflowStatus {
		return 0, errors.Errorf("workflow %d is %s; only a FAILED or PARTIALLY_FAILED workflow can be resumed", workflowID, wf.Status)
	}
	requeued, err = txStore.ResetFailedTasks(workflowID)
	if err != nil {
		return 0, errors.Wrapf(err, "reset failed tasks for workflow %d", workflowID)
	}
	if err = txStore.UpdateWorkflowProgress(storage.WorkflowProgress{
		WorkflowID:     workflowID,
		Status:         models.RunningWorkflowStatus,
		CompletedTasks: wf.CompletedTasks,
		FailedTasks:    0,
	}); err != nil {
		return 0, errors.Wrapf(err, "resume workflow %d", workflowID)
	}
	s.logger.Infof("Resumed workflow %d, requeued %d tasks", workflowID, requeued)
	return requeued, nil
}

// GetWorkflow fetches a workflow with its tasks.
func (s *WorkflowService) GetWorkflow(workflowID int64) (models.Workflow, error) {
	wf, err := s.store.GetWorkflow(workflowID)
	if err != nil {
		return models.Workflow{}, errors.Wrapf(err, "get workflow %d", workflowID)
	}
	return wf, nil
}

func (s *WorkflowService) ListWorkflows() ([]models.Workflow, error) {
	return s.store.ListWorkflows()
}

// StatusSummary is the read-side aggregate for a workflow.
type StatusSummary struct {
	WorkflowID     int64                 `json:"workflow_id"`
	Status         models.WorkflowStatus `json:"status"`
	TotalTasks     int                   `json:"total_tasks"`
	CompletedTasks int                   `json:"completed_tasks"`
	FailedTasks    int                   `json:"failed_tasks"`
	ErrorMsg       string                `json:"error,omitempty"`
}

// GetWorkflowStatus returns the persisted workflow aggregate.
func (s *WorkflowService) GetWorkflowStatus(workflowID int64) (StatusSummary, error) {
	wf, err := s.store.GetWorkflow(workflowID)
	if err != nil {
		return StatusSummary{}, errors.Wrapf(err, "get workflow %d", workflowID)
	}
	return StatusSummary{
		WorkflowID:     wf.ID,
		Status:         wf.Status,
		TotalTasks:     wf.TotalTasks,
		CompletedTasks: wf.CompletedTasks,
		FailedTasks:    wf.FailedTasks,
		ErrorMsg:       wf.ErrorMsg,
	}, nil
}

// GetWorkflowContext returns the accumulated upstream outputs of completed
// tasks, keyed by agent slug, for handlers to reference prior tiers.
func (s *WorkflowService) GetWorkflowContext(workflowID int64) (map[string]interface{}, error) {
	wf, err := s.store.GetWorkflow(workflowID)
	if err != nil {
		return nil, errors.Wrapf(err, "get workflow %d", workflowID)
	}
	context := make(map[string]interface{})
	for _, t := range wf.Tasks {
		if t.Status != models.CompletedTaskStatus || len(t.Output) == 0 {
			continue
		}
		var out models.TaskOutput
		if err := json.Unmarshal(t.Output, &out); err != nil {
			s.logger.Errorf("Failed to decode output of task %s: %v", t.ID, err)
			continue
		}
		context[t.AgentSlug] = out.Data
	}
	return context, nil
}

// RunTick performs one unit of engine progress: fetch the executable batch,
// run it, then advance the workflow. Hosts call it repeatedly until the
// returned status is terminal.
func (s *WorkflowService) RunTick(ctx context.Context, workflowID int64, exec *Executor) (AdvanceResult, error) {
	tasks, err := s.GetExecutableTasks(workflowID)
	if err != nil {
		return AdvanceResult{}, err
	}
	if len(tasks) > 0 {
		wfContext, err := s.GetWorkflowContext(workflowID)
		if err != nil {
			return AdvanceResult{}, err
		}
		exec.ExecuteBatch(ctx, tasks, wfContext)
	}
	return s.AdvanceWorkflow(workflowID)
}
