package models

import "time"

// CreateParams are the caller-supplied parameters for one workflow run.
type CreateParams struct {
	UserID       string                 `json:"userId"`
	ReportID     string                 `json:"reportId,omitempty"`
	InspectionID string                 `json:"inspectionId,omitempty"`
	Data         map[string]interface{} `json:"data,omitempty"`
	ScheduledAt  *time.Time             `json:"scheduledAt,omitempty"`
}

// InputMapper builds a step's concrete task input from the run parameters
// and the accumulated upstream context. It is invoked once at decomposition
// time against an empty context.
type InputMapper func(params CreateParams, context map[string]interface{}) (TaskInput, error)

// WorkflowStep is one named step of a workflow template.
type WorkflowStep struct {
	ID            string      // Step id, unique within the definition
	AgentSlug     string      // Agent that executes the step
	TaskType      string      // Task-type label
	Label         string      // Display label
	ParallelGroup int         // Tier number; same-tier steps may run concurrently
	DependsOn     []string    // Step ids this step depends on
	MapInput      InputMapper // Optional; nil falls back to the minimal default input
	Optional      bool        // Failure does not block the workflow
}

// WorkflowDefinition is a code-defined workflow template: an ordered list of
// steps with explicit inter-step dependencies.
type WorkflowDefinition struct {
	Name        string
	Description string
	Steps       []WorkflowStep
}
