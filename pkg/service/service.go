// Package service contains the orchestration engine: task decomposition,
// state management, workflow lifecycle, and task execution. The engine is a
// library invoked synchronously by its host; it performs one tick of
// progress per invocation and keeps no internal pool or timers.
package service

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Logger defines the logging interface for the engine services.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

var (
	// ErrTaskClaimed is returned when another caller already claimed a
	// READY task. Never retryable: the task instance is owned elsewhere.
	ErrTaskClaimed = errors.New("task already claimed")

	// ErrAgentNotRegistered is returned when a task references an agent
	// slug with no registered config or handler. Never retryable.
	ErrAgentNotRegistered = errors.New("agent not registered")
)

// idempotencyNamespace seeds deterministic task idempotency keys.
var idempotencyNamespace = uuid.MustParse("9f2c1b44-7a5e-4c3d-8b6a-2e1d0c9f8a71")

// TaskID maps a step id to its task id. The transform is fixed so repeated
// decomposition of the same definition is reproducible.
func TaskID(stepID string) string {
	return "task-" + stepID
}

// IdempotencyKey derives the deterministic duplicate-execution key for a
// task from its workflow, agent, and task type.
func IdempotencyKey(workflowID int64, agentSlug, taskType string) string {
	seed := fmt.Sprintf("%d:%s:%s", workflowID, agentSlug, taskType)
	return uuid.NewSHA1(idempotencyNamespace, []byte(seed)).String()
}
