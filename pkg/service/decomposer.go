package service

import (
	"encoding/json"
	"fmt"

	"github.com/CleanExpo/RestoreAssist-sub015/pkg/models"
	"github.com/CleanExpo/RestoreAssist-sub015/pkg/registry"
	"github.com/pkg/errors"
)

const defaultMaxRetries = 3

// Decomposer converts a workflow definition into concrete task records and
// a validated task graph. It consults the registry for agent defaults only;
// it never drives control flow through it.
type Decomposer struct {
	registry *registry.Registry
}

func NewDecomposer(reg *registry.Registry) *Decomposer {
	return &Decomposer{registry: reg}
}

// Decompose builds the task list and DAG for one run. It fails on a cyclic
// or dangling graph before anything is persisted; input-mapping failures do
// not fail decomposition, they fall back to the minimal default input.
func (d *Decomposer) Decompose(def models.WorkflowDefinition, params models.CreateParams) ([]models.Task, models.TaskGraph, error) {
	if len(def.Steps) == 0 {
		return nil, models.TaskGraph{}, errors.New("workflow definition has no steps")
	}

	stepIDs := make(map[string]struct{}, len(def.Steps))
	for _, step := range def.Steps {
		if step.ID == "" {
			return nil, models.TaskGraph{}, errors.New("step with empty id")
		}
		if _, dup := stepIDs[step.ID]; dup {
			return nil, models.TaskGraph{}, fmt.Errorf("duplicate step id '%s'", step.ID)
		}
		stepIDs[step.ID] = struct{}{}
	}
	for _, step := range def.Steps {
		for _, dep := range step.DependsOn {
			if dep == step.ID {
				return nil, models.TaskGraph{}, fmt.Errorf("step '%s' depends on itself", step.ID)
			}
			if _, ok := stepIDs[dep]; !ok {
				return nil, models.TaskGraph{}, fmt.Errorf("step '%s' depends on unknown step '%s'", step.ID, dep)
			}
		}
	}

	var graph models.TaskGraph
	tasks := make([]models.Task, 0, len(def.Steps))
	for i, step := range def.Steps {
		taskID := TaskID(step.ID)
		graph.Nodes = append(graph.Nodes, models.TaskNode{
			ID:            taskID,
			AgentSlug:     step.AgentSlug,
			TaskType:      step.TaskType,
			ParallelGroup: step.ParallelGroup,
		})

		deps := make([]string, 0, len(step.DependsOn))
		for _, dep := range step.DependsOn {
			depID := TaskID(dep)
			deps = append(deps, depID)
			graph.Edges = append(graph.Edges, models.TaskEdge{From: depID, To: taskID})
		}

		input := d.buildInput(step, params)
		rawInput, err := json.Marshal(input)
		if err != nil {
			return nil, models.TaskGraph{}, errors.Wrapf(err, "marshal input for step '%s'", step.ID)
		}

		maxRetries := defaultMaxRetries
		if cfg, ok := d.registry.Config(step.AgentSlug); ok && cfg.MaxRetries > 0 {
			maxRetries = cfg.MaxRetries
		}

		status := models.PendingTaskStatus
		if len(deps) == 0 {
			status = models.ReadyTaskStatus
		}

		tasks = append(tasks, models.Task{
			ID:            taskID,
			AgentSlug:     step.AgentSlug,
			TaskType:      step.TaskType,
			Label:         step.Label,
			SequenceOrder: i,
			ParallelGroup: step.ParallelGroup,
			Dependencies:  deps,
			Input:         rawInput,
			Status:        status,
			MaxRetries:    maxRetries,
			Optional:      step.Optional,
		})
	}

	if v := ValidateDAG(graph); !v.Valid {
		return nil, models.TaskGraph{}, fmt.Errorf("invalid task graph: %v", v.Errors)
	}
	return tasks, graph, nil
}

// buildInput runs the step's mapping function once against an empty context.
// A mapping error or panic falls back to the minimal default input so that
// decomposition always succeeds when the DAG itself is valid.
func (d *Decomposer) buildInput(step models.WorkflowStep, params models.CreateParams) (input models.TaskInput) {
	fallback := models.TaskInput{
		UserID:       params.UserID,
		ReportID:     params.ReportID,
		InspectionID: params.InspectionID,
		Data:         map[string]interface{}{},
	}
	if step.MapInput == nil {
		return fallback
	}
	defer func() {
		if recover() != nil {
			input = fallback
		}
	}()
	mapped, err := step.MapInput(params, map[string]interface{}{})
	if err != nil {
		return fallback
	}
	if mapped.Data == nil {
		mapped.Data = map[string]interface{}{}
	}
	return mapped
}

// ValidateDAG checks structural validity: every edge must reference existing
// nodes, and the graph must be acyclic. Cycles are detected with Kahn's
// algorithm; if fewer nodes are removed than exist, a cycle remains.
func ValidateDAG(g models.TaskGraph) models.GraphValidation {
	nodes := make(map[string]struct{}, len(g.Nodes))
	for _, n := range g.Nodes {
		nodes[n.ID] = struct{}{}
	}

	var errs []string
	for _, e := range g.Edges {
		if _, ok := nodes[e.From]; !ok {
			errs = append(errs, fmt.Sprintf("edge references unknown node '%s'", e.From))
		}
		if _, ok := nodes[e.To]; !ok {
			errs = append(errs, fmt.Sprintf("edge references unknown node '%s'", e.To))
		}
	}
	if len(errs) > 0 {
		return models.GraphValidation{Valid: false, Errors: errs}
	}

	inDegree := make(map[string]int, len(nodes))
	adjacent := make(map[string][]string, len(nodes))
	for id := range nodes {
		inDegree[id] = 0
	}
	for _, e := range g.Edges {
		inDegree[e.To]++
		adjacent[e.From] = append(adjacent[e.From], e.To)
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	removed := 0
	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]
		removed++
		for _, next := range adjacent[curr] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if removed != len(nodes) {
		return models.GraphValidation{Valid: false, Errors: []string{"Task graph contains a cycle"}}
	}
	return models.GraphValidation{Valid: true}
}
