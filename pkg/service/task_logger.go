package service

import (
	"encoding/json"
	"time"

	"github.com/CleanExpo/RestoreAssist-sub015/pkg/models"
	"github.com/CleanExpo/RestoreAssist-sub015/pkg/storage"
)

// TaskLogger is the best-effort audit sink. Writes are fire-and-forget:
// storage failures are swallowed and reported to the fallback logger, never
// surfaced to callers, and a failure here must never affect the state
// machine.
type TaskLogger struct {
	store    storage.Store
	fallback Logger
}

func NewTaskLogger(store storage.Store, fallback Logger) *TaskLogger {
	return &TaskLogger{store: store, fallback: fallback}
}

func (l *TaskLogger) Info(task models.Task, message string, data map[string]interface{}) {
	l.append(task, "info", message, data)
}

func (l *TaskLogger) Warn(task models.Task, message string, data map[string]interface{}) {
	l.append(task, "warn", message, data)
}

func (l *TaskLogger) Error(task models.Task, message string, data map[string]interface{}) {
	l.append(task, "error", message, data)
}

func (l *TaskLogger) append(task models.Task, level, message string, data map[string]interface{}) {
	defer func() {
		if r := recover(); r != nil {
			l.fallback.Errorf("Task log write panicked for task %s: %v", task.ID, r)
		}
	}()

	var raw json.RawMessage
	if len(data) > 0 {
		encoded, err := json.Marshal(data)
		if err != nil {
			l.fallback.Errorf("Failed to encode task log data for task %s: %v", task.ID, err)
		} else {
			raw = encoded
		}
	}
	err := l.store.AppendTaskLog(models.TaskLog{
		TaskID:     task.ID,
		WorkflowID: task.WorkflowID,
		Level:      level,
		Message:    message,
		Data:       raw,
		LoggedAt:   time.Now(),
	})
	if err != nil {
		l.fallback.Errorf("Failed to write task log for task %s: %v", task.ID, err)
	}
}
