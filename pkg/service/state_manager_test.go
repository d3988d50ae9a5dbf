package service_test

import (
	"errors"
	"testing"
	"time"

	"github.com/CleanExpo/RestoreAssist-sub015/pkg/classify"
	"github.com/CleanExpo/RestoreAssist-sub015/pkg/models"
	"github.com/CleanExpo/RestoreAssist-sub015/pkg/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimTask_OnlyOnce(t *testing.T) {
	e := newEngine(t)
	e.register(t, "solo-agent", 2, 0, okHandler(nil))

	res, err := e.svc.CreateWorkflow(linearDef("claim", "solo-agent"), models.CreateParams{UserID: "u1"})
	require.NoError(t, err)

	sm := e.svc.StateManager()
	claimed, err := sm.ClaimTask("task-solo-agent", res.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, models.RunningTaskStatus, claimed.Status)
	assert.Equal(t, 1, claimed.Attempts)
	require.NotNil(t, claimed.StartedAt)
	require.NotNil(t, claimed.LastAttemptAt)

	_, err = sm.ClaimTask("task-solo-agent", res.WorkflowID)
	assert.ErrorIs(t, err, service.ErrTaskClaimed)

	// Attempts incremented exactly once across both calls.
	assert.Equal(t, 1, taskByID(t, e, res.WorkflowID, "task-solo-agent").Attempts)
}

func TestClaimTask_PendingIsNotClaimable(t *testing.T) {
	e := newEngine(t)
	e.register(t, "first-agent", 2, 0, okHandler(nil))
	e.register(t, "second-agent", 2, 0, okHandler(nil))

	res, err := e.svc.CreateWorkflow(linearDef("gated", "first-agent", "second-agent"), models.CreateParams{UserID: "u1"})
	require.NoError(t, err)

	_, err = e.svc.StateManager().ClaimTask("task-second-agent", res.WorkflowID)
	assert.ErrorIs(t, err, service.ErrTaskClaimed)
}

func TestPromoteReadyTasks_RequiresAllDependencies(t *testing.T) {
	e := newEngine(t)
	def := models.WorkflowDefinition{
		Name: "fanin",
		Steps: []models.WorkflowStep{
			{ID: "left", AgentSlug: "agent-a", TaskType: "t"},
			{ID: "right", AgentSlug: "agent-b", TaskType: "t"},
			{ID: "join", AgentSlug: "agent-c", TaskType: "t", ParallelGroup: 1, DependsOn: []string{"left", "right"}},
		},
	}
	res, err := e.svc.CreateWorkflow(def, models.CreateParams{UserID: "u1"})
	require.NoError(t, err)

	sm := e.svc.StateManager()
	left, err := sm.ClaimTask("task-left", res.WorkflowID)
	require.NoError(t, err)
	require.NoError(t, sm.CompleteTask(left, models.TaskOutput{Success: true}, time.Millisecond))

	// One of two dependencies done: join stays PENDING.
	promoted, err := sm.PromoteReadyTasks(res.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, 0, promoted)
	assert.Equal(t, models.PendingTaskStatus, taskByID(t, e, res.WorkflowID, "task-join").Status)

	right, err := sm.ClaimTask("task-right", res.WorkflowID)
	require.NoError(t, err)
	require.NoError(t, sm.CompleteTask(right, models.TaskOutput{Success: true}, time.Millisecond))

	promoted, err = sm.PromoteReadyTasks(res.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)
	assert.Equal(t, models.ReadyTaskStatus, taskByID(t, e, res.WorkflowID, "task-join").Status)
}

func TestRecomputeStatus_StartedAtStampedOnce(t *testing.T) {
	e := newEngine(t)
	e.register(t, "first-agent", 2, 0, okHandler(nil))
	e.register(t, "second-agent", 2, 0, okHandler(nil))

	res, err := e.svc.CreateWorkflow(linearDef("stamps", "first-agent", "second-agent"), models.CreateParams{UserID: "u1"})
	require.NoError(t, err)

	sm := e.svc.StateManager()
	first, err := sm.ClaimTask("task-first-agent", res.WorkflowID)
	require.NoError(t, err)

	status, err := sm.RecomputeStatus(res.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, models.RunningWorkflowStatus, status)

	wf, err := e.svc.GetWorkflow(res.WorkflowID)
	require.NoError(t, err)
	require.NotNil(t, wf.StartedAt)
	started := *wf.StartedAt

	require.NoError(t, sm.CompleteTask(first, models.TaskOutput{Success: true}, time.Millisecond))
	_, err = sm.RecomputeStatus(res.WorkflowID)
	require.NoError(t, err)

	wf, err = e.svc.GetWorkflow(res.WorkflowID)
	require.NoError(t, err)
	require.NotNil(t, wf.StartedAt)
	assert.Equal(t, started, *wf.StartedAt)
}

func TestRecomputeStatus_TerminalIsSticky(t *testing.T) {
	e := newEngine(t)
	e.register(t, "solo-agent", 2, 0, okHandler(nil))

	res, err := e.svc.CreateWorkflow(linearDef("sticky", "solo-agent"), models.CreateParams{UserID: "u1"})
	require.NoError(t, err)

	sm := e.svc.StateManager()
	task, err := sm.ClaimTask("task-solo-agent", res.WorkflowID)
	require.NoError(t, err)
	require.NoError(t, sm.CompleteTask(task, models.TaskOutput{Success: true}, time.Millisecond))

	status, err := sm.RecomputeStatus(res.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, models.CompletedWorkflowStatus, status)

	wf, err := e.svc.GetWorkflow(res.WorkflowID)
	require.NoError(t, err)
	completedAt := wf.CompletedAt
	require.NotNil(t, completedAt)

	status, err = sm.RecomputeStatus(res.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, models.CompletedWorkflowStatus, status)

	wf, err = e.svc.GetWorkflow(res.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, *completedAt, *wf.CompletedAt)
}

func TestRecomputeStatus_AllNonOptionalFailed(t *testing.T) {
	e := newEngine(t)
	def := models.WorkflowDefinition{
		Name: "doomed",
		Steps: []models.WorkflowStep{
			{ID: "a", AgentSlug: "agent-a", TaskType: "t"},
			{ID: "b", AgentSlug: "agent-b", TaskType: "t", Optional: true},
		},
	}
	res, err := e.svc.CreateWorkflow(def, models.CreateParams{UserID: "u1"})
	require.NoError(t, err)

	sm := e.svc.StateManager()
	a, err := sm.ClaimTask("task-a", res.WorkflowID)
	require.NoError(t, err)
	require.NoError(t, sm.FailTask(a, models.AuthError, "401 unauthorized", false))
	b, err := sm.ClaimTask("task-b", res.WorkflowID)
	require.NoError(t, err)
	require.NoError(t, sm.FailTask(b, models.UnknownError, "optional step broke", true))

	status, err := sm.RecomputeStatus(res.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, models.FailedWorkflowStatus, status)

	summary, err := e.svc.GetWorkflowStatus(res.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.FailedTasks)
	assert.NotEmpty(t, summary.ErrorMsg)
}

func TestRecomputeStatus_OptionalFailureDoesNotFailWorkflow(t *testing.T) {
	e := newEngine(t)
	def := models.WorkflowDefinition{
		Name: "resilient",
		Steps: []models.WorkflowStep{
			{ID: "core", AgentSlug: "agent-a", TaskType: "t"},
			{ID: "extra", AgentSlug: "agent-b", TaskType: "t", Optional: true},
		},
	}
	res, err := e.svc.CreateWorkflow(def, models.CreateParams{UserID: "u1"})
	require.NoError(t, err)

	sm := e.svc.StateManager()
	core, err := sm.ClaimTask("task-core", res.WorkflowID)
	require.NoError(t, err)
	require.NoError(t, sm.CompleteTask(core, models.TaskOutput{Success: true}, time.Millisecond))
	extra, err := sm.ClaimTask("task-extra", res.WorkflowID)
	require.NoError(t, err)
	require.NoError(t, sm.FailTask(extra, models.UnknownError, "optional step broke", false))

	status, err := sm.RecomputeStatus(res.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, models.PartiallyFailedWorkflowStatus, status)
}

func TestRecomputeStatus_CancelledTasksSettle(t *testing.T) {
	e := newEngine(t)
	def := models.WorkflowDefinition{
		Name: "cutshort",
		Steps: []models.WorkflowStep{
			{ID: "first", AgentSlug: "agent-a", TaskType: "t"},
			{ID: "second", AgentSlug: "agent-b", TaskType: "t", ParallelGroup: 1, DependsOn: []string{"first"}},
		},
	}
	res, err := e.svc.CreateWorkflow(def, models.CreateParams{UserID: "u1"})
	require.NoError(t, err)

	sm := e.svc.StateManager()
	first, err := sm.ClaimTask("task-first", res.WorkflowID)
	require.NoError(t, err)
	require.NoError(t, sm.CompleteTask(first, models.TaskOutput{Success: true}, time.Millisecond))
	_, err = e.store.CancelTasks(res.WorkflowID, time.Now())
	require.NoError(t, err)

	// One completed, the rest cancelled, no failures: the run cannot
	// progress and must not report RUNNING forever.
	status, err := sm.RecomputeStatus(res.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, models.CancelledWorkflowStatus, status)
	assert.True(t, status.Terminal())
}

func TestRequeueForRetry_ReturnsTaskToReady(t *testing.T) {
	e := newEngine(t)
	e.register(t, "solo-agent", 2, 0, okHandler(nil))

	res, err := e.svc.CreateWorkflow(linearDef("requeue", "solo-agent"), models.CreateParams{UserID: "u1"})
	require.NoError(t, err)

	sm := e.svc.StateManager()
	task, err := sm.ClaimTask("task-solo-agent", res.WorkflowID)
	require.NoError(t, err)

	cls := classify.Classify(errors.New("handler timed out after 1s"))
	require.NoError(t, sm.RequeueForRetry(task, cls, "handler timed out after 1s"))

	stored := taskByID(t, e, res.WorkflowID, "task-solo-agent")
	assert.Equal(t, models.ReadyTaskStatus, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assert.Equal(t, string(models.TimeoutError), stored.ErrorCode)

	// The requeued task can be claimed again.
	again, err := sm.ClaimTask("task-solo-agent", res.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Attempts)
}
