// Package trace defines the execution transcript the orchestrator hands
// back to the caller, its overall-status computation and the process exit
// codes derived from it.
package trace

import (
	"strings"
	"time"

	"cmdweaver/internal/executor"
	"cmdweaver/internal/graph"
)

// Status is the overall outcome of one orchestration call.
type Status string

const (
	StatusOK        Status = "ok"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Process exit codes. Invalid arguments sit outside the status table.
const (
	ExitOK          = 0
	ExitPartial     = 1
	ExitFailed      = 2
	ExitCancelled   = 3
	ExitInvalidArgs = 4
)

// ExitCode maps a status to the process exit code.
func ExitCode(s Status) int {
	switch s {
	case StatusOK:
		return ExitOK
	case StatusPartial:
		return ExitPartial
	case StatusCancelled:
		return ExitCancelled
	default:
		return ExitFailed
	}
}

// Candidate is one scored search hit as recorded in the trace.
type Candidate struct {
	Name      string  `json:"name" yaml:"name"`
	Section   string  `json:"section" yaml:"section"`
	Score     float64 `json:"score" yaml:"score"`
	Rationale string  `json:"rationale" yaml:"rationale"`
}

// Node is the trace view of a graph vertex. Command carries the full
// argv joined with spaces.
type Node struct {
	ID       string            `json:"id" yaml:"id"`
	Command  string            `json:"command" yaml:"command"`
	Inputs   []string          `json:"inputs" yaml:"inputs"`
	Metadata map[string]string `json:"metadata" yaml:"metadata"`
}

// Edge is the trace view of a dependency.
type Edge struct {
	From      string `json:"from" yaml:"from"`
	To        string `json:"to" yaml:"to"`
	Kind      string `json:"kind" yaml:"kind"`
	Rationale string `json:"rationale" yaml:"rationale"`
}

// Graph groups the trace nodes and edges.
type Graph struct {
	Nodes []Node `json:"nodes" yaml:"nodes"`
	Edges []Edge `json:"edges" yaml:"edges"`
}

// Result is the trace view of one node outcome.
type Result struct {
	NodeID         string    `json:"node_id" yaml:"node_id"`
	ExitCode       int       `json:"exit_code" yaml:"exit_code"`
	StartedAt      time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt     time.Time `json:"finished_at" yaml:"finished_at"`
	Stdout         string    `json:"stdout" yaml:"stdout"`
	Stderr         string    `json:"stderr" yaml:"stderr"`
	ErrorKind      string    `json:"error_kind" yaml:"error_kind"`
	Interpretation string    `json:"interpretation" yaml:"interpretation"`
}

// Reasoning aggregates every rationale in one place: selection rationale
// per node, rationale per edge (keyed "from→to") and interpretation per
// result.
type Reasoning struct {
	PlanNodes        map[string]string `json:"plan_nodes" yaml:"plan_nodes"`
	Edges            map[string]string `json:"edges" yaml:"edges"`
	ExecutionResults map[string]string `json:"execution_results" yaml:"execution_results"`
}

// ExecutionTrace is the full transcript of one orchestration call.
// Results appear in completion order.
type ExecutionTrace struct {
	Prompt        string      `json:"prompt" yaml:"prompt"`
	Candidates    []Candidate `json:"candidates" yaml:"candidates"`
	Graph         Graph       `json:"graph" yaml:"graph"`
	Results       []Result    `json:"results" yaml:"results"`
	OverallStatus Status      `json:"overall_status" yaml:"overall_status"`
	Reasoning     Reasoning   `json:"reasoning" yaml:"reasoning"`
	Diagnostics   []string    `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
}

// FromGraph converts the builder's graph into its trace view.
func FromGraph(g *graph.Graph) Graph {
	out := Graph{Nodes: []Node{}, Edges: []Edge{}}
	if g == nil {
		return out
	}
	for _, n := range g.Nodes {
		inputs := n.Inputs
		if inputs == nil {
			inputs = []string{}
		}
		meta := n.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		out.Nodes = append(out.Nodes, Node{
			ID:       n.ID,
			Command:  strings.Join(n.Argv(), " "),
			Inputs:   inputs,
			Metadata: meta,
		})
	}
	for _, e := range g.Edges {
		out.Edges = append(out.Edges, Edge{
			From: e.From, To: e.To, Kind: string(e.Kind), Rationale: e.Rationale,
		})
	}
	return out
}

// FromResults converts executor results into their trace view, keeping
// completion order.
func FromResults(results []executor.NodeResult) []Result {
	out := make([]Result, len(results))
	for i, r := range results {
		out[i] = Result{
			NodeID:         r.NodeID,
			ExitCode:       r.ExitCode,
			StartedAt:      r.StartedAt,
			FinishedAt:     r.FinishedAt,
			Stdout:         r.Stdout,
			Stderr:         r.Stderr,
			ErrorKind:      string(r.ErrorKind),
			Interpretation: r.Interpretation,
		}
	}
	return out
}

// BuildReasoning collects the rationale aggregate from a populated trace.
func BuildReasoning(g Graph, results []Result) Reasoning {
	r := Reasoning{
		PlanNodes:        map[string]string{},
		Edges:            map[string]string{},
		ExecutionResults: map[string]string{},
	}
	for _, n := range g.Nodes {
		r.PlanNodes[n.ID] = n.Metadata["rationale"]
	}
	for _, e := range g.Edges {
		r.Edges[e.From+"→"+e.To] = e.Rationale
	}
	for _, res := range results {
		if res.Interpretation != "" {
			r.ExecutionResults[res.NodeID] = res.Interpretation
		}
	}
	return r
}

// Compute derives the overall status. externallyCancelled reports whether
// the caller's cancellation signal fired during the run.
//
// A node "produced output" when its process actually ran, even if it then
// timed out or exited non-zero; failed is reserved for runs where nothing
// executed at all.
func Compute(results []Result, externallyCancelled bool) Status {
	if externallyCancelled {
		return StatusCancelled
	}
	if len(results) == 0 {
		return StatusFailed
	}
	succeeded, ran := 0, 0
	for _, r := range results {
		if r.ErrorKind == string(executor.ErrorNone) && r.ExitCode == 0 {
			succeeded++
		}
		if r.ErrorKind != string(executor.ErrorCancelled) && r.ErrorKind != string(executor.ErrorSpawnFailed) {
			ran++
		}
	}
	switch {
	case succeeded == len(results):
		return StatusOK
	case ran == 0:
		return StatusFailed
	default:
		return StatusPartial
	}
}
