package models

import (
	"context"
	"encoding/json"
	"time"
)

// AgentCapabilities names the input and output fields an agent understands.
type AgentCapabilities struct {
	Inputs  []string `json:"inputs"`
	Outputs []string `json:"outputs"`
}

// AgentConfig is the static, code-defined configuration of one agent.
// Immutable after registration; registered exactly once at process start.
type AgentConfig struct {
	Slug            string            `json:"slug"`
	Name            string            `json:"name"`
	Description     string            `json:"description,omitempty"`
	Version         string            `json:"version"`
	Capabilities    AgentCapabilities `json:"capabilities"`
	InputSchema     json.RawMessage   `json:"input_schema,omitempty"`
	OutputSchema    json.RawMessage   `json:"output_schema,omitempty"`
	TimeoutMs       int               `json:"timeout_ms"`
	MaxRetries      int               `json:"max_retries"`
	DefaultProvider string            `json:"default_provider,omitempty"`
	MaxTokens       int               `json:"max_tokens,omitempty"`
	Temperature     float64           `json:"temperature,omitempty"`
	DependsOn       []string          `json:"depends_on,omitempty"` // Other agent slugs; registry validation only
}

// Timeout returns the configured handler timeout, falling back to the
// engine default when unset.
func (c AgentConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// TaskInput is the contract an agent handler receives.
type TaskInput struct {
	UserID       string                 `json:"userId"`
	ReportID     string                 `json:"reportId,omitempty"`
	InspectionID string                 `json:"inspectionId,omitempty"`
	Data         map[string]interface{} `json:"data"`
	Context      map[string]interface{} `json:"context,omitempty"` // Upstream outputs keyed by agent slug
}

// OutputMetadata carries provider/model/token usage recorded on success.
type OutputMetadata struct {
	Provider   string  `json:"provider"`
	Model      string  `json:"model"`
	TokensUsed int     `json:"tokensUsed"`
	DurationMs int64   `json:"durationMs"`
	Cost       float64 `json:"cost,omitempty"`
}

// TaskOutput is the contract an agent handler returns. Handlers never touch
// task or workflow persistence directly; the return value is their only
// channel back into the engine.
type TaskOutput struct {
	Success  bool                   `json:"success"`
	Data     map[string]interface{} `json:"data"`
	Metadata OutputMetadata         `json:"metadata"`
	Errors   []string               `json:"errors,omitempty"`
}

// AgentHandler is the opaque asynchronous function the engine invokes for a
// task. It must honor ctx cancellation; the executor enforces the agent's
// configured timeout through it.
type AgentHandler func(ctx context.Context, input TaskInput) (TaskOutput, error)

// AgentRecord is the persisted projection of an AgentConfig, synced so task
// joins can resolve agent metadata.
type AgentRecord struct {
	Slug        string `json:"slug" db:"slug"`
	Name        string `json:"name" db:"name"`
	Description string `json:"description,omitempty" db:"description"`
	Version     string `json:"version" db:"version"`
}
