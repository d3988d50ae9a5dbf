package service_test

import (
	"context"
	"testing"

	"github.com/CleanExpo/RestoreAssist-sub015/pkg/models"
	"github.com/CleanExpo/RestoreAssist-sub015/pkg/registry"
	"github.com/CleanExpo/RestoreAssist-sub015/pkg/service"
	"github.com/CleanExpo/RestoreAssist-sub015/pkg/storage"
	"github.com/stretchr/testify/require"
)

type testLogger struct{}

func (testLogger) Infof(format string, args ...interface{})  {}
func (testLogger) Errorf(format string, args ...interface{}) {}

// engine bundles a fully wired in-memory engine for tests.
type engine struct {
	store storage.Store
	reg   *registry.Registry
	svc   *service.WorkflowService
	exec  *service.Executor
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	store := storage.NewMockStore()
	reg := registry.New()
	svc := service.NewWorkflowService(store, reg, testLogger{})
	audit := service.NewTaskLogger(store, testLogger{})
	exec := service.NewExecutor(reg, svc.StateManager(), audit, testLogger{})
	return &engine{store: store, reg: reg, svc: svc, exec: exec}
}

func (e *engine) register(t *testing.T, slug string, maxRetries, timeoutMs int, handler models.AgentHandler) {
	t.Helper()
	require.NoError(t, e.reg.Register(models.AgentConfig{
		Slug:       slug,
		Name:       slug,
		Version:    "1.0.0",
		MaxRetries: maxRetries,
		TimeoutMs:  timeoutMs,
	}, handler))
}

func okHandler(data map[string]interface{}) models.AgentHandler {
	return func(ctx context.Context, input models.TaskInput) (models.TaskOutput, error) {
		if data == nil {
			data = map[string]interface{}{}
		}
		return models.TaskOutput{
			Success:  true,
			Data:     data,
			Metadata: models.OutputMetadata{Provider: "test", Model: "test-model", TokensUsed: 10},
		}, nil
	}
}

// linearDef builds a chain s0 <- s1 <- ... using one agent per step.
func linearDef(name string, slugs ...string) models.WorkflowDefinition {
	def := models.WorkflowDefinition{Name: name}
	for i, slug := range slugs {
		step := models.WorkflowStep{
			ID:            slug,
			AgentSlug:     slug,
			TaskType:      "step",
			ParallelGroup: i,
		}
		if i > 0 {
			step.DependsOn = []string{slugs[i-1]}
		}
		def.Steps = append(def.Steps, step)
	}
	return def
}

func taskByID(t *testing.T, e *engine, workflowID int64, id string) models.Task {
	t.Helper()
	task, err := e.store.GetTask(id, workflowID)
	require.NoError(t, err)
	return task
}
