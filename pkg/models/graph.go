package models

// TaskGraph is the serialized DAG snapshot persisted on the workflow row.
// Live scheduling decisions are always made from the task rows' dependency
// edges, never from this blob, so the two cannot drift apart.
type TaskGraph struct {
	Nodes []TaskNode `json:"nodes"`
	Edges []TaskEdge `json:"edges"`
}

type TaskNode struct {
	ID            string `json:"id"`
	AgentSlug     string `json:"agentSlug"`
	TaskType      string `json:"taskType"`
	ParallelGroup int    `json:"parallelGroup"`
}

// TaskEdge points from a prerequisite task to the task that depends on it.
type TaskEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// GraphValidation is the result of structural DAG validation.
type GraphValidation struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}
