package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/CleanExpo/RestoreAssist-sub015/pkg/classify"
	"github.com/CleanExpo/RestoreAssist-sub015/pkg/models"
	"github.com/CleanExpo/RestoreAssist-sub015/pkg/registry"
	"github.com/pkg/errors"
)

// ExecutionStatus is the outcome channel of one ExecuteTask call. Failures
// never escape as errors; the result status is the only failure signal.
type ExecutionStatus string

const (
	ExecutionCompleted ExecutionStatus = "COMPLETED"
	ExecutionRetry     ExecutionStatus = "RETRY"
	ExecutionFailed    ExecutionStatus = "FAILED"
)

// ExecutionResult reports the outcome of one task attempt.
type ExecutionResult struct {
	TaskID     string             `json:"task_id"`
	Status     ExecutionStatus    `json:"status"`
	Output     *models.TaskOutput `json:"output,omitempty"`
	ErrorCode  models.ErrorCode   `json:"error_code,omitempty"`
	ErrorMsg   string             `json:"error,omitempty"`
	Attempts   int                `json:"attempts"`
	RetryAfter time.Duration      `json:"retry_after,omitempty"` // Suggested backoff before re-polling
}

// Executor claims ready tasks, runs the registered handler under the
// agent's timeout, classifies failures, and applies the retry/dead-letter
// policy through the state manager.
type Executor struct {
	registry *registry.Registry
	state    *StateManager
	audit    *TaskLogger
	logger   Logger
}

func NewExecutor(reg *registry.Registry, state *StateManager, audit *TaskLogger, logger Logger) *Executor {
	return &Executor{registry: reg, state: state, audit: audit, logger: logger}
}

// ExecuteTask runs one task attempt. It never returns an error: every
// failure is caught, recorded against the task, and reported through the
// result.
func (e *Executor) ExecuteTask(ctx context.Context, task models.Task, wfContext map[string]interface{}) ExecutionResult {
	cfg, haveCfg := e.registry.Config(task.AgentSlug)
	handler, haveHandler := e.registry.Handler(task.AgentSlug)
	if !haveCfg || !haveHandler {
		// Agent misconfiguration is permanent; never retried.
		msg := fmt.Sprintf("%v: %s", ErrAgentNotRegistered, task.AgentSlug)
		if err := e.state.FailTask(task, models.ValidationError, msg, false); err != nil {
			e.logger.Errorf("Failed to persist failure of task %s: %v", task.ID, err)
		}
		e.audit.Error(task, msg, nil)
		return ExecutionResult{
			TaskID:    task.ID,
			Status:    ExecutionFailed,
			ErrorCode: models.ValidationError,
			ErrorMsg:  msg,
			Attempts:  task.Attempts,
		}
	}

	// Atomic claim: the concurrency-safety boundary. Exactly one caller may
	// ever run a given task instance.
	claimed, err := e.state.ClaimTask(task.ID, task.WorkflowID)
	if err != nil {
		if errors.Is(err, ErrTaskClaimed) {
			e.logger.Infof("Task %s already claimed by another caller", task.ID)
			return ExecutionResult{
				TaskID:    task.ID,
				Status:    ExecutionFailed,
				ErrorCode: models.ValidationError,
				ErrorMsg:  ErrTaskClaimed.Error(),
				Attempts:  task.Attempts,
			}
		}
		return ExecutionResult{
			TaskID:    task.ID,
			Status:    ExecutionFailed,
			ErrorCode: models.UnknownError,
			ErrorMsg:  err.Error(),
			Attempts:  task.Attempts,
		}
	}
	task = claimed
	e.audit.Info(task, fmt.Sprintf("attempt %d started", task.Attempts), nil)

	input := e.buildInput(task, wfContext)
	started := time.Now()
	out, handlerErr := e.runHandler(ctx, handler, cfg.Timeout(), input)
	duration := time.Since(started)

	if handlerErr == nil && !out.Success {
		handlerErr = fmt.Errorf("agent reported failure: %s", strings.Join(out.Errors, "; "))
	}
	if handlerErr == nil {
		if err := e.state.CompleteTask(task, out, duration); err != nil {
			e.logger.Errorf("Failed to persist completion of task %s: %v", task.ID, err)
		}
		e.audit.Info(task, "completed", map[string]interface{}{
			"duration_ms": duration.Milliseconds(),
			"provider":    out.Metadata.Provider,
			"tokens_used": out.Metadata.TokensUsed,
		})
		result := out
		return ExecutionResult{
			TaskID:   task.ID,
			Status:   ExecutionCompleted,
			Output:   &result,
			Attempts: task.Attempts,
		}
	}

	return e.recordFailure(task, handlerErr)
}

// recordFailure classifies the error and applies the retry policy:
// retryable errors requeue while the attempt count is within the retry
// budget; otherwise the task settles in DEAD_LETTER (budget exhausted) or
// FAILED.
func (e *Executor) recordFailure(task models.Task, handlerErr error) ExecutionResult {
	cls := classify.Classify(handlerErr)
	msg := handlerErr.Error()

	if cls.Retryable && task.Attempts <= task.MaxRetries {
		if err := e.state.RequeueForRetry(task, cls, msg); err != nil {
			e.logger.Errorf("Failed to requeue task %s: %v", task.ID, err)
		}
		retryAfter := cls.RetryAfter
		if retryAfter == 0 {
			retryAfter = classify.RetryDelay(task.Attempts, classify.DefaultRetryBase)
		}
		e.audit.Warn(task, fmt.Sprintf("attempt %d failed, will retry: %s", task.Attempts, msg), map[string]interface{}{
			"error_code":     string(cls.Code),
			"retry_after_ms": retryAfter.Milliseconds(),
		})
		return ExecutionResult{
			TaskID:     task.ID,
			Status:     ExecutionRetry,
			ErrorCode:  cls.Code,
			ErrorMsg:   msg,
			Attempts:   task.Attempts,
			RetryAfter: retryAfter,
		}
	}

	deadLetter := task.Attempts >= task.MaxRetries
	if err := e.state.FailTask(task, cls.Code, msg, deadLetter); err != nil {
		e.logger.Errorf("Failed to persist failure of task %s: %v", task.ID, err)
	}
	e.audit.Error(task, fmt.Sprintf("attempt %d failed permanently: %s", task.Attempts, msg), map[string]interface{}{
		"error_code":  string(cls.Code),
		"dead_letter": deadLetter,
	})
	return ExecutionResult{
		TaskID:    task.ID,
		Status:    ExecutionFailed,
		ErrorCode: cls.Code,
		ErrorMsg:  msg,
		Attempts:  task.Attempts,
	}
}

// buildInput merges the task's stored input with the workflow's accumulated
// upstream outputs so handlers can reference prior tiers' results.
func (e *Executor) buildInput(task models.Task, wfContext map[string]interface{}) models.TaskInput {
	var input models.TaskInput
	if err := json.Unmarshal(task.Input, &input); err != nil {
		e.logger.Errorf("Failed to decode input of task %s: %v", task.ID, err)
		input = models.TaskInput{Data: map[string]interface{}{}}
	}
	if input.Data == nil {
		input.Data = map[string]interface{}{}
	}
	if len(wfContext) > 0 {
		if input.Context == nil {
			input.Context = make(map[string]interface{}, len(wfContext))
		}
		for slug, data := range wfContext {
			input.Context[slug] = data
		}
	}
	return input
}

// runHandler invokes the handler in its own goroutine and races it against
// the agent's timeout. A timeout surfaces as a timeout-flavored error the
// classifier maps to TIMEOUT; a handler panic is captured as an error
// rather than crashing the caller.
func (e *Executor) runHandler(ctx context.Context, handler models.AgentHandler, timeout time.Duration, input models.TaskInput) (models.TaskOutput, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type handlerResult struct {
		out models.TaskOutput
		err error
	}
	resultCh := make(chan handlerResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- handlerResult{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		out, err := handler(timeoutCtx, input)
		resultCh <- handlerResult{out: out, err: err}
	}()

	select {
	case r := <-resultCh:
		return r.out, r.err
	case <-timeoutCtx.Done():
		if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return models.TaskOutput{}, fmt.Errorf("handler timed out after %s", timeout)
		}
		return models.TaskOutput{}, timeoutCtx.Err()
	}
}

// ExecuteBatch runs the given tasks concurrently and independently. One
// task's failure, including a panic outside the normal failure path, never
// disturbs its siblings; such a defect becomes an UNKNOWN, non-retryable
// FAILED result for that task only.
func (e *Executor) ExecuteBatch(ctx context.Context, tasks []models.Task, wfContext map[string]interface{}) []ExecutionResult {
	results := make([]ExecutionResult, len(tasks))
	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task models.Task) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					msg := fmt.Sprintf("execution panic: %v", r)
					e.logger.Errorf("Task %s: %s", task.ID, msg)
					if err := e.state.FailTask(task, models.UnknownError, msg, false); err != nil {
						e.logger.Errorf("Failed to persist failure of task %s: %v", task.ID, err)
					}
					results[i] = ExecutionResult{
						TaskID:    task.ID,
						Status:    ExecutionFailed,
						ErrorCode: models.UnknownError,
						ErrorMsg:  msg,
						Attempts:  task.Attempts,
					}
				}
			}()
			results[i] = e.ExecuteTask(ctx, task, wfContext)
		}(i, task)
	}
	wg.Wait()
	return results
}
