package executor

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"cmdweaver/internal/graph"
	"cmdweaver/internal/reasoning"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func node(id, cmd string, args ...string) graph.Node {
	return graph.Node{ID: id, Command: cmd, Args: args}
}

func pipeNode(id, cmd string, input string, args ...string) graph.Node {
	n := node(id, cmd, args...)
	n.Inputs = []string{input}
	return n
}

// fastOpts keeps timeouts short so failure tests stay quick.
func fastOpts() Options {
	return Options{NodeTimeout: 5 * time.Second, Grace: 200 * time.Millisecond}
}

func resultByID(t *testing.T, results []NodeResult, id string) NodeResult {
	t.Helper()
	for _, r := range results {
		if r.NodeID == id {
			return r
		}
	}
	t.Fatalf("no result for node %s in %v", id, results)
	return NodeResult{}
}

func TestExecuteSingleNode(t *testing.T) {
	g := &graph.Graph{Nodes: []graph.Node{node("n0", "echo", "hello")}}
	e := New(nil, nil, reasoning.Params{})

	results, err := e.Execute(context.Background(), g, fastOpts())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	r := results[0]
	if r.ErrorKind != ErrorNone || r.ExitCode != 0 {
		t.Errorf("unexpected outcome: kind=%s exit=%d", r.ErrorKind, r.ExitCode)
	}
	if r.Stdout != "hello\n" {
		t.Errorf("unexpected stdout: %q", r.Stdout)
	}
	if r.FinishedAt.Before(r.StartedAt) {
		t.Error("finished before started")
	}
}

func TestExecutePipePassesStdout(t *testing.T) {
	g := &graph.Graph{
		Nodes: []graph.Node{
			node("n0", "echo", "one two"),
			pipeNode("n1", "cat", "n0"),
		},
		Edges: []graph.Edge{{From: "n0", To: "n1", Kind: graph.EdgePipe}},
	}
	e := New(nil, nil, reasoning.Params{})

	results, err := e.Execute(context.Background(), g, fastOpts())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := resultByID(t, results, "n1").Stdout; got != "one two\n" {
		t.Errorf("pipe consumer stdout = %q, want producer output", got)
	}
	if results[0].NodeID != "n0" {
		t.Errorf("producer must complete before consumer: %v", results)
	}
}

func TestExecuteNonzeroExit(t *testing.T) {
	g := &graph.Graph{Nodes: []graph.Node{node("n0", "sh", "-c", "echo oops >&2; exit 3")}}
	e := New(nil, nil, reasoning.Params{})

	results, err := e.Execute(context.Background(), g, fastOpts())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	r := results[0]
	if r.ErrorKind != ErrorNonzeroExit || r.ExitCode != 3 {
		t.Errorf("unexpected outcome: kind=%s exit=%d", r.ErrorKind, r.ExitCode)
	}
	if !strings.Contains(r.Stderr, "oops") {
		t.Errorf("stderr not captured: %q", r.Stderr)
	}
}

func TestExecuteTimeoutCancelsPipeConsumer(t *testing.T) {
	g := &graph.Graph{
		Nodes: []graph.Node{
			node("n0", "sleep", "10"),
			pipeNode("n1", "cat", "n0"),
			node("n2", "echo", "independent"),
		},
		Edges: []graph.Edge{{From: "n0", To: "n1", Kind: graph.EdgePipe}},
	}
	e := New(nil, nil, reasoning.Params{})
	opts := fastOpts()
	opts.NodeTimeout = 100 * time.Millisecond

	results, err := e.Execute(context.Background(), g, opts)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if k := resultByID(t, results, "n0").ErrorKind; k != ErrorTimeout {
		t.Errorf("expected timeout on n0, got %s", k)
	}
	if k := resultByID(t, results, "n1").ErrorKind; k != ErrorCancelled {
		t.Errorf("pipe consumer of timed-out node must be cancelled, got %s", k)
	}
	if k := resultByID(t, results, "n2").ErrorKind; k != ErrorNone {
		t.Errorf("independent node must still run in best-effort mode, got %s", k)
	}
}

func TestExecuteSequenceConsumerSurvivesFailure(t *testing.T) {
	g := &graph.Graph{
		Nodes: []graph.Node{
			node("n0", "false"),
			node("n1", "echo", "after"),
		},
		Edges: []graph.Edge{{From: "n0", To: "n1", Kind: graph.EdgeSequence}},
	}
	e := New(nil, nil, reasoning.Params{})

	results, err := e.Execute(context.Background(), g, fastOpts())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if k := resultByID(t, results, "n0").ErrorKind; k != ErrorNonzeroExit {
		t.Errorf("expected nonzero_exit on n0, got %s", k)
	}
	if r := resultByID(t, results, "n1"); r.ErrorKind != ErrorNone || r.Stdout != "after\n" {
		t.Errorf("sequence consumer must proceed in best-effort mode: %+v", r)
	}
}

func TestExecuteStrictCancelsEverythingPending(t *testing.T) {
	g := &graph.Graph{
		Nodes: []graph.Node{
			node("n0", "false"),
			node("n1", "echo", "unrelated"),
		},
	}
	e := New(nil, nil, reasoning.Params{})
	opts := fastOpts()
	opts.Mode = ModeStrict
	opts.MaxParallel = 1 // n0 is admitted first; n1 is still pending when it fails

	results, err := e.Execute(context.Background(), g, opts)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if k := resultByID(t, results, "n1").ErrorKind; k != ErrorCancelled {
		t.Errorf("strict mode must cancel pending nodes, got %s", k)
	}
	if out := resultByID(t, results, "n1").Stdout; out != "" {
		t.Errorf("cancelled node must have empty streams, got %q", out)
	}
}

func TestExecuteExternalCancellation(t *testing.T) {
	g := &graph.Graph{
		Nodes: []graph.Node{
			node("n0", "sleep", "10"),
			node("n1", "sleep", "10"),
		},
		Edges: []graph.Edge{{From: "n0", To: "n1", Kind: graph.EdgeSequence}},
	}
	e := New(nil, nil, reasoning.Params{})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	results, err := e.Execute(ctx, g, fastOpts())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("cancellation did not tear down promptly")
	}
	if len(results) != 2 {
		t.Fatalf("expected a result for every node, got %d", len(results))
	}
	if k := resultByID(t, results, "n0").ErrorKind; k != ErrorCancelled {
		t.Errorf("live node must be cancelled, got %s", k)
	}
	if k := resultByID(t, results, "n1").ErrorKind; k != ErrorCancelled {
		t.Errorf("pending node must be cancelled, got %s", k)
	}
}

func TestExecuteSpawnFailure(t *testing.T) {
	g := &graph.Graph{
		Nodes: []graph.Node{
			node("n0", "definitely-not-a-command-7f3a"),
			pipeNode("n1", "cat", "n0"),
		},
		Edges: []graph.Edge{{From: "n0", To: "n1", Kind: graph.EdgePipe}},
	}
	e := New(nil, nil, reasoning.Params{})

	results, err := e.Execute(context.Background(), g, fastOpts())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if k := resultByID(t, results, "n0").ErrorKind; k != ErrorSpawnFailed {
		t.Errorf("expected spawn_failed, got %s", k)
	}
	if k := resultByID(t, results, "n1").ErrorKind; k != ErrorCancelled {
		t.Errorf("pipe consumer of unspawnable node must be cancelled, got %s", k)
	}
}

func TestExecuteDryRun(t *testing.T) {
	g := &graph.Graph{
		Nodes: []graph.Node{
			node("n0", "definitely-not-a-command-7f3a"),
			pipeNode("n1", "also-not-real", "n0"),
		},
		Edges: []graph.Edge{{From: "n0", To: "n1", Kind: graph.EdgePipe}},
	}
	e := New(nil, nil, reasoning.Params{})
	opts := fastOpts()
	opts.DryRun = true

	results, err := e.Execute(context.Background(), g, opts)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 synthetic results, got %d", len(results))
	}
	for _, r := range results {
		if r.ErrorKind != ErrorNone || r.ExitCode != 0 || r.Stdout != "" {
			t.Errorf("dry-run result not synthetic: %+v", r)
		}
	}
	if results[0].NodeID != "n0" || results[1].NodeID != "n1" {
		t.Errorf("dry-run results not in topological order: %v", results)
	}
}

func TestExecuteSequentialWhenMaxParallelOne(t *testing.T) {
	g := &graph.Graph{
		Nodes: []graph.Node{
			node("n0", "sleep", "0.1"),
			node("n1", "sleep", "0.1"),
		},
	}
	e := New(nil, nil, reasoning.Params{})
	opts := fastOpts()
	opts.MaxParallel = 1

	results, err := e.Execute(context.Background(), g, opts)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	first, second := results[0], results[1]
	if second.StartedAt.Before(first.FinishedAt) {
		t.Errorf("nodes overlapped with max_parallel=1: %v started before %v finished",
			second.NodeID, first.NodeID)
	}
}

func TestExecuteStreamCap(t *testing.T) {
	g := &graph.Graph{Nodes: []graph.Node{node("n0", "sh", "-c", "yes x | head -c 4096")}}
	e := New(nil, nil, reasoning.Params{})
	opts := fastOpts()
	opts.StreamCap = 64

	results, err := e.Execute(context.Background(), g, opts)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := len(results[0].Stdout); got != 64 {
		t.Errorf("stream not capped: %d bytes", got)
	}
	if results[0].ErrorKind != ErrorNone {
		t.Errorf("capped stream must not fail the node: %s", results[0].ErrorKind)
	}
}

func TestExecuteRejectsDanglingEdge(t *testing.T) {
	g := &graph.Graph{
		Nodes: []graph.Node{node("n0", "echo", "hi")},
		Edges: []graph.Edge{{From: "n0", To: "ghost", Kind: graph.EdgeSequence}},
	}
	e := New(nil, nil, reasoning.Params{})
	if _, err := e.Execute(context.Background(), g, fastOpts()); err == nil {
		t.Fatal("expected error for dangling edge")
	}
}

type fixedReasoner struct{ answer string }

func (f *fixedReasoner) Healthy(ctx context.Context) bool { return true }
func (f *fixedReasoner) Complete(ctx context.Context, prompt string, p reasoning.Params) (string, error) {
	return f.answer, nil
}

func TestExecuteAttachesInterpretation(t *testing.T) {
	g := &graph.Graph{
		Nodes: []graph.Node{
			node("n0", "echo", "hello"),
			node("n1", "false"),
		},
	}
	e := New(&fixedReasoner{answer: "the output looks healthy"}, nil, reasoning.Params{})

	results, err := e.Execute(context.Background(), g, fastOpts())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	for _, id := range []string{"n0", "n1"} {
		if got := resultByID(t, results, id).Interpretation; got != "the output looks healthy" {
			t.Errorf("every completed node gets an interpretation, %s got %q", id, got)
		}
	}
}

func TestExecuteInterpretsNonzeroExitOutput(t *testing.T) {
	g := &graph.Graph{
		Nodes: []graph.Node{node("n0", "sh", "-c", "echo partial output; exit 3")},
	}
	e := New(&fixedReasoner{answer: "the command stopped after partial output"}, nil, reasoning.Params{})

	results, err := e.Execute(context.Background(), g, fastOpts())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	r := resultByID(t, results, "n0")
	if r.ErrorKind != ErrorNonzeroExit || r.Stdout != "partial output\n" {
		t.Fatalf("unexpected result: %+v", r)
	}
	if r.Interpretation != "the command stopped after partial output" {
		t.Errorf("non-zero exit with output must still be interpreted, got %q", r.Interpretation)
	}
}
