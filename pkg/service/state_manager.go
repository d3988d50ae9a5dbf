package service

import (
	"encoding/json"
	"time"

	"github.com/CleanExpo/RestoreAssist-sub015/pkg/classify"
	"github.com/CleanExpo/RestoreAssist-sub015/pkg/models"
	"github.com/CleanExpo/RestoreAssist-sub015/pkg/storage"
	"github.com/pkg/errors"
)

// StateManager is the sole writer of persisted workflow and task state. All
// status transitions go through it; the claim primitive below is the only
// mechanism keeping two concurrent callers off the same task.
type StateManager struct {
	store  storage.Store
	logger Logger
}

func NewStateManager(store storage.Store, logger Logger) *StateManager {
	return &StateManager{store: store, logger: logger}
}

// ClaimTask attempts the guarded READY -> RUNNING transition and returns the
// refreshed task on success. A lost race returns ErrTaskClaimed.
func (sm *StateManager) ClaimTask(taskID string, workflowID int64) (models.Task, error) {
	ok, err := sm.store.ClaimTask(taskID, workflowID, time.Now())
	if err != nil {
		return models.Task{}, errors.Wrapf(err, "claim task %s", taskID)
	}
	if !ok {
		return models.Task{}, ErrTaskClaimed
	}
	task, err := sm.store.GetTask(taskID, workflowID)
	if err != nil {
		return models.Task{}, errors.Wrapf(err, "reload claimed task %s", taskID)
	}
	return task, nil
}

// CompleteTask persists a successful attempt: COMPLETED status, serialized
// output, duration, and provider/model/token metadata.
func (sm *StateManager) CompleteTask(task models.Task, out models.TaskOutput, duration time.Duration) error {
	raw, err := json.Marshal(out)
	if err != nil {
		return errors.Wrapf(err, "marshal output for task %s", task.ID)
	}
	now := time.Now()
	task.Status = models.CompletedTaskStatus
	task.Output = raw
	task.ErrorCode = ""
	task.ErrorMsg = ""
	task.Provider = out.Metadata.Provider
	task.Model = out.Metadata.Model
	task.TokensUsed = out.Metadata.TokensUsed
	task.DurationMs = duration.Milliseconds()
	task.CompletedAt = &now
	return sm.store.UpdateTaskResult(task)
}

// RequeueForRetry returns a failed-but-retryable task to READY with the
// error recorded, so a later tick picks it up again.
func (sm *StateManager) RequeueForRetry(task models.Task, cls classify.Classification, errMsg string) error {
	task.Status = models.ReadyTaskStatus
	task.ErrorCode = string(cls.Code)
	task.ErrorMsg = errMsg
	return sm.store.UpdateTaskResult(task)
}

// FailTask persists a permanent failure: DEAD_LETTER once the retry budget
// is exhausted, FAILED otherwise.
func (sm *StateManager) FailTask(task models.Task, code models.ErrorCode, errMsg string, deadLetter bool) error {
	now := time.Now()
	if deadLetter {
		task.Status = models.DeadLetterTaskStatus
	} else {
		task.Status = models.FailedTaskStatus
	}
	task.ErrorCode = string(code)
	task.ErrorMsg = errMsg
	task.CompletedAt = &now
	return sm.store.UpdateTaskResult(task)
}

// PromoteReadyTasks moves every PENDING task whose dependencies are all
// COMPLETED to READY, returning how many were promoted.
func (sm *StateManager) PromoteReadyTasks(workflowID int64) (int, error) {
	tasks, err := sm.store.GetTasks(workflowID)
	if err != nil {
		return 0, errors.Wrapf(err, "load tasks for workflow %d", workflowID)
	}
	byID := make(map[string]models.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	var promotable []string
	for _, t := range tasks {
		if t.Status != models.PendingTaskStatus {
			continue
		}
		satisfied := true
		for _, dep := range t.Dependencies {
			if byID[dep].Status != models.CompletedTaskStatus {
				satisfied = false
				break
			}
		}
		if satisfied {
			promotable = append(promotable, t.ID)
		}
	}
	if len(promotable) == 0 {
		return 0, nil
	}
	promoted, err := sm.store.MarkTasksReady(workflowID, promotable)
	if err != nil {
		return 0, errors.Wrapf(err, "promote tasks for workflow %d", workflowID)
	}
	sm.logger.Infof("Promoted %d tasks to READY for workflow %d", promoted, workflowID)
	return promoted, nil
}

// RecomputeStatus derives the workflow-level status from its task states and
// persists counts plus status. The PENDING -> RUNNING transition is guarded
// so the start time is stamped at most once; a CANCELLED workflow is never
// overwritten.
func (sm *StateManager) RecomputeStatus(workflowID int64) (models.WorkflowStatus, error) {
	wf, err := sm.store.GetWorkflow(workflowID)
	if err != nil {
		return "", errors.Wrapf(err, "load workflow %d", workflowID)
	}
	if wf.Status.Terminal() {
		// Terminal workflows keep their settled status and timestamps;
		// resume is the only way back to RUNNING.
		return wf.Status, nil
	}

	status, completed, failed, errMsg := aggregate(wf.Tasks)

	progress := storage.WorkflowProgress{
		WorkflowID:     workflowID,
		Status:         status,
		CompletedTasks: completed,
		FailedTasks:    failed,
		ErrorMsg:       errMsg,
	}
	now := time.Now()
	if status == models.RunningWorkflowStatus && wf.Status == models.PendingWorkflowStatus {
		progress.StartedAt = &now
	}
	if status.Terminal() {
		progress.CompletedAt = &now
	}
	if err := sm.store.UpdateWorkflowProgress(progress); err != nil {
		return "", errors.Wrapf(err, "update workflow %d progress", workflowID)
	}
	return status, nil
}

// aggregate computes the workflow status from task states:
// COMPLETED iff all tasks completed; FAILED iff all non-optional tasks
// failed or dead-lettered with none completed; PARTIALLY_FAILED when some
// completed, some failed, and nothing further can be promoted; RUNNING while
// any task is in flight or promotable. A workflow with no failures that
// still cannot progress was blocked by cancelled tasks and settles
// CANCELLED rather than spinning as RUNNING forever.
func aggregate(tasks []models.Task) (models.WorkflowStatus, int, int, string) {
	byID := make(map[string]models.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	var completed, failed int
	var anyFailed, anyCompleted bool
	var firstError string
	allCompleted := len(tasks) > 0
	allNonOptionalFailed := true
	inFlight := false

	for _, t := range tasks {
		switch t.Status {
		case models.CompletedTaskStatus:
			completed++
			anyCompleted = true
			if !t.Optional {
				allNonOptionalFailed = false
			}
		case models.FailedTaskStatus, models.DeadLetterTaskStatus:
			failed++
			anyFailed = true
			allCompleted = false
			if firstError == "" && t.ErrorMsg != "" {
				firstError = t.ErrorMsg
			}
		case models.ReadyTaskStatus, models.RunningTaskStatus:
			inFlight = true
			allCompleted = false
			if !t.Optional {
				allNonOptionalFailed = false
			}
		case models.PendingTaskStatus:
			allCompleted = false
			if !t.Optional {
				allNonOptionalFailed = false
			}
			// A pending task is still promotable while every dependency
			// can reach COMPLETED.
			if promotable(t, byID) {
				inFlight = true
			}
		case models.CancelledTaskStatus:
			allCompleted = false
			if !t.Optional {
				allNonOptionalFailed = false
			}
		}
	}

	switch {
	case allCompleted:
		return models.CompletedWorkflowStatus, completed, failed, ""
	case inFlight:
		return models.RunningWorkflowStatus, completed, failed, ""
	case anyFailed && !anyCompleted && allNonOptionalFailed:
		return models.FailedWorkflowStatus, completed, failed, firstError
	case anyFailed:
		return models.PartiallyFailedWorkflowStatus, completed, failed, firstError
	default:
		// Nothing in flight, nothing promotable, nothing failed: only
		// cancelled tasks can block this way.
		return models.CancelledWorkflowStatus, completed, failed, ""
	}
}

func promotable(t models.Task, byID map[string]models.Task) bool {
	for _, dep := range t.Dependencies {
		switch byID[dep].Status {
		case models.FailedTaskStatus, models.DeadLetterTaskStatus, models.CancelledTaskStatus:
			return false
		}
	}
	return true
}
