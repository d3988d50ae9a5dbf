package storage_test

import (
	"encoding/json"
	"testing"
	"time"

	internal_storage "github.com/CleanExpo/RestoreAssist-sub015/internal/storage"
	"github.com/CleanExpo/RestoreAssist-sub015/internal/testutil"
	"github.com/CleanExpo/RestoreAssist-sub015/pkg/models"
	"github.com/CleanExpo/RestoreAssist-sub015/pkg/storage"
	"github.com/stretchr/testify/assert"
)

func TestPostgresStore(t *testing.T) {
	testDB := testutil.SetupTestDB(t)
	defer testDB.Teardown(t)

	// Helper to create a transactional store
	newTxStore := func(t *testing.T) *internal_storage.PostgresStore {
		store, err := internal_storage.NewPostgresStore(testDB.ConnStr)
		assert.NoError(t, err)
		txStore, err := store.Begin()
		assert.NoError(t, err)
		t.Cleanup(func() { txStore.Rollback() })
		return txStore.(*internal_storage.PostgresStore)
	}

	newWorkflow := func(t *testing.T, store *internal_storage.PostgresStore, name string) int64 {
		wfID, err := store.SaveWorkflow(models.Workflow{
			Name:      name,
			UserID:    "user-1",
			TaskGraph: json.RawMessage(`{"nodes":[],"edges":[]}`),
			Status:    models.PendingWorkflowStatus,
			CreatedAt: time.Now(),
		})
		assert.NoError(t, err)
		return wfID
	}

	newTask := func(t *testing.T, store *internal_storage.PostgresStore, wfID int64, id string, status models.TaskStatus) {
		err := store.SaveTask(models.Task{
			ID:             id,
			WorkflowID:     wfID,
			AgentSlug:      "intake-agent",
			TaskType:       "intake",
			Input:          json.RawMessage(`{"userId":"user-1","data":{}}`),
			Status:         status,
			MaxRetries:     2,
			IdempotencyKey: id + "-key",
			CreatedAt:      time.Now(),
		})
		assert.NoError(t, err)
	}

	t.Run("SaveWorkflow", func(t *testing.T) {
		store := newTxStore(t)
		wfID := newWorkflow(t, store, "SaveTest")
		assert.Greater(t, wfID, int64(0))

		saved, err := store.GetWorkflow(wfID)
		assert.NoError(t, err)
		assert.Equal(t, "SaveTest", saved.Name)
		assert.Equal(t, models.PendingWorkflowStatus, saved.Status)
		assert.Empty(t, saved.Tasks)
	})

	t.Run("GetWorkflowWithTasksAndDependencies", func(t *testing.T) {
		store := newTxStore(t)
		wfID := newWorkflow(t, store, "GetTest")
		newTask(t, store, wfID, "task-a", models.ReadyTaskStatus)
		newTask(t, store, wfID, "task-b", models.PendingTaskStatus)
		err := store.SaveDependency(models.TaskDependency{TaskID: "task-b", DependsOn: "task-a", WorkflowID: wfID})
		assert.NoError(t, err)

		retrieved, err := store.GetWorkflow(wfID)
		assert.NoError(t, err)
		assert.Len(t, retrieved.Tasks, 2)

		task, err := store.GetTask("task-b", wfID)
		assert.NoError(t, err)
		assert.Equal(t, []string{"task-a"}, task.Dependencies)
	})

	t.Run("GetNonExistingWorkflow", func(t *testing.T) {
		store := newTxStore(t)
		_, err := store.GetWorkflow(123456)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("UpdateWorkflowProgress", func(t *testing.T) {
		store := newTxStore(t)
		wfID := newWorkflow(t, store, "ProgressTest")

		started := time.Now()
		err := store.UpdateWorkflowProgress(storage.WorkflowProgress{
			WorkflowID:     wfID,
			Status:         models.RunningWorkflowStatus,
			CompletedTasks: 1,
			StartedAt:      &started,
		})
		assert.NoError(t, err)

		updated, err := store.GetWorkflow(wfID)
		assert.NoError(t, err)
		assert.Equal(t, models.RunningWorkflowStatus, updated.Status)
		assert.Equal(t, 1, updated.CompletedTasks)
		assert.NotNil(t, updated.StartedAt)
		firstStart := *updated.StartedAt

		// started_at is set-once; a later write with a new timestamp keeps it.
		later := started.Add(time.Hour)
		err = store.UpdateWorkflowProgress(storage.WorkflowProgress{
			WorkflowID:     wfID,
			Status:         models.CompletedWorkflowStatus,
			CompletedTasks: 2,
			StartedAt:      &later,
			CompletedAt:    &later,
		})
		assert.NoError(t, err)

		updated, err = store.GetWorkflow(wfID)
		assert.NoError(t, err)
		assert.Equal(t, firstStart.Unix(), updated.StartedAt.Unix())
		assert.NotNil(t, updated.CompletedAt)

		// completed_at is written as given, so a nil clears it on resume.
		err = store.UpdateWorkflowProgress(storage.WorkflowProgress{
			WorkflowID: wfID,
			Status:     models.RunningWorkflowStatus,
		})
		assert.NoError(t, err)

		updated, err = store.GetWorkflow(wfID)
		assert.NoError(t, err)
		assert.Nil(t, updated.CompletedAt)
	})

	t.Run("UpdateProgressOfMissingWorkflow", func(t *testing.T) {
		store := newTxStore(t)
		err := store.UpdateWorkflowProgress(storage.WorkflowProgress{
			WorkflowID: 123456,
			Status:     models.RunningWorkflowStatus,
		})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ClaimTask", func(t *testing.T) {
		store := newTxStore(t)
		wfID := newWorkflow(t, store, "ClaimTest")
		newTask(t, store, wfID, "task-a", models.ReadyTaskStatus)

		claimed, err := store.ClaimTask("task-a", wfID, time.Now())
		assert.NoError(t, err)
		assert.True(t, claimed)

		task, err := store.GetTask("task-a", wfID)
		assert.NoError(t, err)
		assert.Equal(t, models.RunningTaskStatus, task.Status)
		assert.Equal(t, 1, task.Attempts)
		assert.NotNil(t, task.StartedAt)
		assert.NotNil(t, task.LastAttemptAt)

		// Second claim loses: the row is no longer READY.
		claimed, err = store.ClaimTask("task-a", wfID, time.Now())
		assert.NoError(t, err)
		assert.False(t, claimed)

		task, err = store.GetTask("task-a", wfID)
		assert.NoError(t, err)
		assert.Equal(t, 1, task.Attempts)
	})

	t.Run("ClaimPendingTask", func(t *testing.T) {
		store := newTxStore(t)
		wfID := newWorkflow(t, store, "ClaimPendingTest")
		newTask(t, store, wfID, "task-a", models.PendingTaskStatus)

		claimed, err := store.ClaimTask("task-a", wfID, time.Now())
		assert.NoError(t, err)
		assert.False(t, claimed)
	})

	t.Run("MarkTasksReady", func(t *testing.T) {
		store := newTxStore(t)
		wfID := newWorkflow(t, store, "PromoteTest")
		newTask(t, store, wfID, "task-a", models.PendingTaskStatus)
		newTask(t, store, wfID, "task-b", models.CompletedTaskStatus)

		promoted, err := store.MarkTasksReady(wfID, []string{"task-a", "task-b"})
		assert.NoError(t, err)
		assert.Equal(t, 1, promoted)

		task, err := store.GetTask("task-a", wfID)
		assert.NoError(t, err)
		assert.Equal(t, models.ReadyTaskStatus, task.Status)

		// COMPLETED is never demoted back to READY.
		task, err = store.GetTask("task-b", wfID)
		assert.NoError(t, err)
		assert.Equal(t, models.CompletedTaskStatus, task.Status)
	})

	t.Run("UpdateTaskResult", func(t *testing.T) {
		store := newTxStore(t)
		wfID := newWorkflow(t, store, "ResultTest")
		newTask(t, store, wfID, "task-a", models.RunningTaskStatus)

		now := time.Now()
		err := store.UpdateTaskResult(models.Task{
			ID:          "task-a",
			WorkflowID:  wfID,
			Status:      models.CompletedTaskStatus,
			Output:      json.RawMessage(`{"success":true,"data":{"category":"2"}}`),
			Attempts:    1,
			Provider:    "anthropic",
			Model:       "claude-sonnet",
			TokensUsed:  1200,
			DurationMs:  840,
			CompletedAt: &now,
		})
		assert.NoError(t, err)

		task, err := store.GetTask("task-a", wfID)
		assert.NoError(t, err)
		assert.Equal(t, models.CompletedTaskStatus, task.Status)
		assert.Equal(t, "anthropic", task.Provider)
		assert.Equal(t, 1200, task.TokensUsed)
		assert.NotNil(t, task.CompletedAt)
	})

	t.Run("CancelTasks", func(t *testing.T) {
		store := newTxStore(t)
		wfID := newWorkflow(t, store, "CancelTest")
		newTask(t, store, wfID, "task-a", models.ReadyTaskStatus)
		newTask(t, store, wfID, "task-b", models.PendingTaskStatus)
		newTask(t, store, wfID, "task-c", models.RunningTaskStatus)

		cancelled, err := store.CancelTasks(wfID, time.Now())
		assert.NoError(t, err)
		assert.Equal(t, 2, cancelled)

		// Running work is left to finish naturally.
		task, err := store.GetTask("task-c", wfID)
		assert.NoError(t, err)
		assert.Equal(t, models.RunningTaskStatus, task.Status)
	})

	t.Run("ResetFailedTasks", func(t *testing.T) {
		store := newTxStore(t)
		wfID := newWorkflow(t, store, "ResetTest")
		now := time.Now()
		newTask(t, store, wfID, "task-a", models.RunningTaskStatus)
		err := store.UpdateTaskResult(models.Task{
			ID:          "task-a",
			WorkflowID:  wfID,
			Status:      models.DeadLetterTaskStatus,
			Attempts:    3,
			ErrorCode:   "AI_PROVIDER_ERROR",
			ErrorMsg:    "503 server error",
			CompletedAt: &now,
		})
		assert.NoError(t, err)
		newTask(t, store, wfID, "task-b", models.CompletedTaskStatus)

		reset, err := store.ResetFailedTasks(wfID)
		assert.NoError(t, err)
		assert.Equal(t, 1, reset)

		task, err := store.GetTask("task-a", wfID)
		assert.NoError(t, err)
		assert.Equal(t, models.ReadyTaskStatus, task.Status)
		assert.Equal(t, 0, task.Attempts)
		assert.Empty(t, task.ErrorCode)
		assert.Empty(t, task.ErrorMsg)
		assert.Nil(t, task.CompletedAt)
	})

	t.Run("UpsertAgent", func(t *testing.T) {
		store := newTxStore(t)
		agent := models.AgentRecord{Slug: "intake-agent", Name: "Intake", Version: "1.0.0"}
		assert.NoError(t, store.UpsertAgent(agent))

		agent.Version = "1.1.0"
		assert.NoError(t, store.UpsertAgent(agent))
	})

	t.Run("AppendTaskLog", func(t *testing.T) {
		store := newTxStore(t)
		wfID := newWorkflow(t, store, "LogTest")
		newTask(t, store, wfID, "task-a", models.ReadyTaskStatus)

		err := store.AppendTaskLog(models.TaskLog{
			TaskID:     "task-a",
			WorkflowID: wfID,
			Level:      "info",
			Message:    "attempt 1 started",
			Data:       json.RawMessage(`{"duration_ms":12}`),
			LoggedAt:   time.Now(),
		})
		assert.NoError(t, err)
	})

	t.Run("ListWorkflows", func(t *testing.T) {
		store := newTxStore(t)
		workflows, err := store.ListWorkflows()
		assert.NoError(t, err)
		assert.Empty(t, workflows)

		newWorkflow(t, store, "First")
		newWorkflow(t, store, "Second")

		workflows, err = store.ListWorkflows()
		assert.NoError(t, err)
		assert.Len(t, workflows, 2)
	})
}
