// Package orchestrator binds search, graph building and execution into
// one synchronous call per user request and owns the resulting trace.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cmdweaver/internal/executor"
	"cmdweaver/internal/graph"
	"cmdweaver/internal/plan"
	"cmdweaver/internal/reasoning"
	"cmdweaver/internal/search"
	"cmdweaver/internal/trace"
)

// ErrInvalidInput marks unusable requests: empty prompts, malformed
// options. The CLI maps it to its own exit code.
var ErrInvalidInput = errors.New("invalid input")

// ErrNoPlan is returned by Query when no plan covers the statement's
// domain.
var ErrNoPlan = errors.New("no diagnostic plan for this problem")

// SearchService resolves a prompt to ranked candidates.
type SearchService interface {
	Search(ctx context.Context, prompt string, limit int, threshold float64) ([]search.Result, error)
}

// BuildService turns candidates into an executable graph.
type BuildService interface {
	Build(ctx context.Context, prompt string, candidates []graph.Candidate) *graph.Graph
}

// ExecService runs a graph.
type ExecService interface {
	Execute(ctx context.Context, g *graph.Graph, opts executor.Options) ([]executor.NodeResult, error)
}

// PlanSource supplies hand-authored plans by domain.
type PlanSource interface {
	Lookup(domain string) (*plan.Plan, bool)
}

// Orchestrator is the single entry point for both the solve and the
// query flow. It holds no per-request state.
type Orchestrator struct {
	search   SearchService
	builder  BuildService
	exec     ExecService
	plans    PlanSource
	reasoner reasoning.Service
	params   reasoning.Params
	log      *zap.Logger
}

// New creates an Orchestrator. plans and reasoner may be nil when the
// corresponding flow is unused.
func New(search SearchService, builder BuildService, exec ExecService, plans PlanSource, reasoner reasoning.Service, params reasoning.Params, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		search: search, builder: builder, exec: exec, plans: plans,
		reasoner: reasoner, params: params, log: log,
	}
}

// SolveOptions fans out to the component contracts. A negative Threshold
// selects the searcher's configured default; 0 admits every entry.
type SolveOptions struct {
	Limit     int
	Threshold float64
	Exec      executor.Options
}

// Solve runs the full prompt-to-trace flow. Zero candidates is not an
// error: the trace comes back with an empty graph and a failed status.
func (o *Orchestrator) Solve(ctx context.Context, prompt string, opts SolveOptions) (*trace.ExecutionTrace, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: empty prompt", ErrInvalidInput)
	}
	log := o.log.With(zap.String("request_id", uuid.NewString()))
	log.Info("solving", zap.String("prompt", prompt))

	candidates, err := o.search.Search(ctx, prompt, opts.Limit, opts.Threshold)
	if err != nil {
		return nil, err
	}
	tr := &trace.ExecutionTrace{
		Prompt:     prompt,
		Candidates: toTraceCandidates(candidates),
		Graph:      trace.FromGraph(nil),
		Results:    []trace.Result{},
	}
	if len(candidates) == 0 {
		log.Info("no candidates above threshold")
		tr.OverallStatus = trace.StatusFailed
		tr.Reasoning = trace.BuildReasoning(tr.Graph, nil)
		return tr, nil
	}

	g := o.builder.Build(ctx, prompt, toGraphCandidates(candidates))
	log.Debug("graph built", zap.Int("nodes", len(g.Nodes)), zap.Int("edges", len(g.Edges)))

	results, err := o.exec.Execute(ctx, g, opts.Exec)
	if err != nil {
		log.Error("execution rejected", zap.Error(err))
		o.abort(tr, g, err)
		return tr, nil
	}
	o.finish(tr, g, results, ctx.Err() != nil)
	log.Info("solved", zap.String("status", string(tr.OverallStatus)))
	return tr, nil
}

// QueryOptions tunes the plan flow.
type QueryOptions struct {
	PlanOnly bool
	Exec     executor.Options
}

// Query maps a problem statement to a hand-authored plan, compiles it and
// runs it. With PlanOnly the compiled, annotated graph is returned
// without execution.
func (o *Orchestrator) Query(ctx context.Context, statement string, opts QueryOptions) (*trace.ExecutionTrace, error) {
	statement = strings.TrimSpace(statement)
	if statement == "" {
		return nil, fmt.Errorf("%w: empty problem statement", ErrInvalidInput)
	}
	log := o.log.With(zap.String("request_id", uuid.NewString()))

	domain := plan.Classify(statement)
	if domain == "" {
		return nil, fmt.Errorf("%w: could not classify %q", ErrNoPlan, statement)
	}
	p, ok := o.plans.Lookup(domain)
	if !ok {
		return nil, fmt.Errorf("%w: domain %q has no registered plan", ErrNoPlan, domain)
	}
	log.Info("plan selected", zap.String("domain", domain), zap.String("plan", p.Name))

	g, err := plan.Compile(p)
	if err != nil {
		return nil, err
	}
	plan.Annotate(ctx, g, statement, o.reasoner, o.params)

	tr := &trace.ExecutionTrace{
		Prompt:     statement,
		Candidates: []trace.Candidate{},
		Graph:      trace.FromGraph(g),
		Results:    []trace.Result{},
	}
	if opts.PlanOnly {
		tr.OverallStatus = trace.StatusOK
		tr.Reasoning = trace.BuildReasoning(tr.Graph, nil)
		return tr, nil
	}

	results, err := o.exec.Execute(ctx, g, opts.Exec)
	if err != nil {
		log.Error("execution rejected", zap.Error(err))
		o.abort(tr, g, err)
		return tr, nil
	}
	o.finish(tr, g, results, ctx.Err() != nil)
	log.Info("plan executed", zap.String("status", string(tr.OverallStatus)))
	return tr, nil
}

// abort records an engine-level rejection: no processes ran, the trace
// carries the diagnostic and a failed status.
func (o *Orchestrator) abort(tr *trace.ExecutionTrace, g *graph.Graph, err error) {
	tr.Graph = trace.FromGraph(g)
	tr.OverallStatus = trace.StatusFailed
	tr.Reasoning = trace.BuildReasoning(tr.Graph, nil)
	tr.Diagnostics = append(append([]string{}, g.Diagnostics...), err.Error())
}

func (o *Orchestrator) finish(tr *trace.ExecutionTrace, g *graph.Graph, results []executor.NodeResult, cancelled bool) {
	tr.Graph = trace.FromGraph(g)
	tr.Results = trace.FromResults(results)
	tr.OverallStatus = trace.Compute(tr.Results, cancelled)
	tr.Reasoning = trace.BuildReasoning(tr.Graph, tr.Results)
	tr.Diagnostics = g.Diagnostics
}

func toTraceCandidates(results []search.Result) []trace.Candidate {
	out := make([]trace.Candidate, len(results))
	for i, r := range results {
		out[i] = trace.Candidate{
			Name:      r.Entry.Name,
			Section:   r.Entry.Section,
			Score:     r.Score,
			Rationale: r.Rationale,
		}
	}
	return out
}

func toGraphCandidates(results []search.Result) []graph.Candidate {
	out := make([]graph.Candidate, len(results))
	for i, r := range results {
		out[i] = graph.Candidate{
			Name:      r.Entry.Name,
			Synopsis:  r.Entry.Synopsis,
			Score:     r.Score,
			Rationale: r.Rationale,
		}
	}
	return out
}
