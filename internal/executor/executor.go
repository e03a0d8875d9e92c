// Package executor runs a command DAG with bounded parallelism.
//
// The scheduler is a single goroutine that owns all per-node state. Child
// processes run under a weighted semaphore of size max_parallel; results
// come back over a channel rendezvous, so no node state is shared without
// it. Producer stdout is handed to pipe consumers as stdin after the
// producer exits; the builder guarantees at most one incoming pipe per
// node.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"cmdweaver/internal/graph"
	"cmdweaver/internal/reasoning"
)

// ErrorKind classifies why a node did not succeed.
type ErrorKind string

const (
	ErrorNone        ErrorKind = "none"
	ErrorSpawnFailed ErrorKind = "spawn_failed"
	ErrorTimeout     ErrorKind = "timeout"
	ErrorCancelled   ErrorKind = "cancelled"
	ErrorNonzeroExit ErrorKind = "nonzero_exit"
)

// NodeResult is the outcome of one node. A result exists for every node
// the executor reached, including nodes cancelled before starting.
type NodeResult struct {
	NodeID         string
	Stdout         string
	Stderr         string
	ExitCode       int
	StartedAt      time.Time
	FinishedAt     time.Time
	Interpretation string
	ErrorKind      ErrorKind
}

// Failed reports whether the node ended in any non-success state.
func (r NodeResult) Failed() bool {
	return r.ErrorKind != ErrorNone
}

// Mode selects the failure-propagation policy.
type Mode string

const (
	// ModeBestEffort cancels only the failed node's pipe descendants;
	// independent subgraphs continue. This is the default.
	ModeBestEffort Mode = "best-effort"
	// ModeStrict cancels every pending node on the first failure.
	ModeStrict Mode = "strict"
)

// Options tunes one execution. Zero values select defaults.
type Options struct {
	MaxParallel int           // default 4
	NodeTimeout time.Duration // default 30s
	StreamCap   int           // bytes kept per stream, default 256 KiB
	Grace       time.Duration // terminate-to-kill escalation, default 2s
	Mode        Mode          // default ModeBestEffort
	DryRun      bool
}

func (o Options) withDefaults() Options {
	if o.MaxParallel <= 0 {
		o.MaxParallel = 4
	}
	if o.NodeTimeout <= 0 {
		o.NodeTimeout = 30 * time.Second
	}
	if o.StreamCap <= 0 {
		o.StreamCap = 256 * 1024
	}
	if o.Grace <= 0 {
		o.Grace = 2 * time.Second
	}
	if o.Mode == "" {
		o.Mode = ModeBestEffort
	}
	return o
}

// Executor executes graphs. It is stateless across calls; one Executor
// may run concurrent executions.
type Executor struct {
	reasoner reasoning.Service
	params   reasoning.Params
	log      *zap.Logger
}

// New creates an Executor. reasoner may be nil; interpretations are then
// left empty.
func New(reasoner reasoning.Service, log *zap.Logger, params reasoning.Params) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{reasoner: reasoner, params: params, log: log}
}

// nodeState tracks a node through the scheduler loop.
type nodeState int

const (
	statePending nodeState = iota
	stateRunning
	stateDone
)

// Execute runs the graph and returns one result per node, in completion
// order. The returned error covers structural problems only; node
// failures are reported through the results.
func (e *Executor) Execute(ctx context.Context, g *graph.Graph, opts Options) ([]NodeResult, error) {
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("cannot execute graph: %w", err)
	}
	opts = opts.withDefaults()

	if opts.DryRun {
		return e.dryRun(g), nil
	}

	order := g.TopoOrder()
	rank := make(map[string]int, len(order))
	for i, id := range order {
		rank[id] = i
	}
	nodes := make(map[string]graph.Node, len(g.Nodes))
	state := make(map[string]nodeState, len(g.Nodes))
	for _, n := range g.Nodes {
		nodes[n.ID] = n
		state[n.ID] = statePending
	}
	preds := make(map[string][]string)
	pipeSucc := make(map[string][]string)
	for _, edge := range g.Edges {
		preds[edge.To] = append(preds[edge.To], edge.From)
		if edge.Kind == graph.EdgePipe {
			pipeSucc[edge.From] = append(pipeSucc[edge.From], edge.To)
		}
	}

	sem := semaphore.NewWeighted(int64(opts.MaxParallel))
	resultCh := make(chan NodeResult)

	results := make(map[string]NodeResult, len(g.Nodes))
	var completed []NodeResult
	running := 0
	externalCancel := false

	record := func(res NodeResult) {
		state[res.NodeID] = stateDone
		results[res.NodeID] = res
		completed = append(completed, res)
	}

	cancelPending := func(ids []string) {
		now := time.Now()
		for _, id := range ids {
			if state[id] != statePending {
				continue
			}
			e.log.Debug("node cancelled before start", zap.String("node", id))
			record(NodeResult{
				NodeID: id, ExitCode: -1, ErrorKind: ErrorCancelled,
				StartedAt: now, FinishedAt: now,
			})
		}
	}

	cancelAllPending := func() {
		ids := make([]string, 0, len(state))
		for id, st := range state {
			if st == statePending {
				ids = append(ids, id)
			}
		}
		sort.Strings(ids)
		cancelPending(ids)
	}

	// cancelPipeDescendants walks pipe edges transitively; their stdin can
	// no longer arrive intact.
	cancelPipeDescendants := func(root string) {
		seen := map[string]bool{root: true}
		queue := []string{root}
		var doomed []string
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			for _, next := range pipeSucc[id] {
				if !seen[next] {
					seen[next] = true
					doomed = append(doomed, next)
					queue = append(queue, next)
				}
			}
		}
		sort.Strings(doomed)
		cancelPending(doomed)
	}

	ready := func() []string {
		var ids []string
		for id, st := range state {
			if st != statePending {
				continue
			}
			ok := true
			for _, p := range preds[id] {
				if state[p] != stateDone {
					ok = false
					break
				}
			}
			if ok {
				ids = append(ids, id)
			}
		}
		sort.Slice(ids, func(i, j int) bool {
			if rank[ids[i]] != rank[ids[j]] {
				return rank[ids[i]] < rank[ids[j]]
			}
			return ids[i] < ids[j]
		})
		return ids
	}

	for len(completed) < len(g.Nodes) || running > 0 {
		if !externalCancel {
			for _, id := range ready() {
				if !sem.TryAcquire(1) {
					break
				}
				n := nodes[id]
				var stdin []byte
				if len(n.Inputs) > 0 {
					stdin = []byte(results[n.Inputs[0]].Stdout)
				}
				state[id] = stateRunning
				running++
				go func() {
					resultCh <- e.runNode(ctx, n, stdin, opts)
				}()
			}
		}
		if len(completed) == len(g.Nodes) && running == 0 {
			break
		}

		var res NodeResult
		if externalCancel {
			res = <-resultCh
		} else {
			select {
			case res = <-resultCh:
			case <-ctx.Done():
				externalCancel = true
				cancelAllPending()
				continue
			}
		}

		sem.Release(1)
		running--
		record(res)
		if res.Failed() {
			e.log.Debug("node failed",
				zap.String("node", res.NodeID),
				zap.String("error_kind", string(res.ErrorKind)),
				zap.Int("exit_code", res.ExitCode))
			if opts.Mode == ModeStrict {
				cancelAllPending()
			} else {
				cancelPipeDescendants(res.NodeID)
			}
		}
	}

	e.interpret(ctx, nodes, completed)
	return completed, nil
}

// runNode spawns one child process and collects its outcome. It runs on
// its own goroutine and touches no scheduler state.
func (e *Executor) runNode(ctx context.Context, n graph.Node, stdin []byte, opts Options) NodeResult {
	res := NodeResult{NodeID: n.ID, StartedAt: time.Now(), ErrorKind: ErrorNone}

	if _, err := exec.LookPath(n.Command); err != nil {
		res.ErrorKind = ErrorSpawnFailed
		res.ExitCode = -1
		res.Stderr = err.Error()
		res.FinishedAt = time.Now()
		return res
	}

	nctx, cancel := context.WithTimeout(ctx, opts.NodeTimeout)
	defer cancel()

	cmd := exec.CommandContext(nctx, n.Command, n.Args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = opts.Grace
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	stdout := newCappedBuffer(opts.StreamCap)
	stderr := newCappedBuffer(opts.StreamCap)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	res.FinishedAt = time.Now()
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	switch {
	case err == nil:
		res.ExitCode = 0
	case errors.Is(nctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		res.ErrorKind = ErrorTimeout
		res.ExitCode = exitCode(err)
	case ctx.Err() != nil:
		res.ErrorKind = ErrorCancelled
		res.ExitCode = exitCode(err)
	default:
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			res.ErrorKind = ErrorNonzeroExit
			res.ExitCode = ee.ExitCode()
		} else {
			res.ErrorKind = ErrorSpawnFailed
			res.ExitCode = -1
			res.Stderr = err.Error()
		}
	}
	return res
}

func exitCode(err error) int {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

// dryRun synthesizes successful results in topological order without
// spawning anything.
func (e *Executor) dryRun(g *graph.Graph) []NodeResult {
	now := time.Now()
	order := g.TopoOrder()
	results := make([]NodeResult, len(order))
	for i, id := range order {
		results[i] = NodeResult{
			NodeID: id, ExitCode: 0, ErrorKind: ErrorNone,
			StartedAt: now, FinishedAt: now,
		}
	}
	return results
}

// interpretSample bounds how much stdout is quoted back to the reasoning
// service.
const interpretSample = 1024

// interpret attaches a one-sentence reading of every node's outcome,
// whatever its status. One health probe gates the whole pass; when the
// reasoning service is down the interpretations stay empty.
func (e *Executor) interpret(ctx context.Context, nodes map[string]graph.Node, results []NodeResult) {
	if e.reasoner == nil || !e.reasoner.Healthy(ctx) {
		return
	}
	for i := range results {
		sample := results[i].Stdout
		if sample == "" {
			sample = results[i].Stderr
		}
		if len(sample) > interpretSample {
			sample = sample[:interpretSample]
		}
		n := nodes[results[i].NodeID]
		prompt := reasoning.InterpretationPrompt(n.Command, sample)
		results[i].Interpretation = reasoning.CompleteOr(ctx, e.reasoner, prompt, e.params, "")
	}
}

// cappedBuffer keeps the first cap bytes written and silently drops the
// rest. Writes never fail, so a chatty child is drained rather than
// blocked.
type cappedBuffer struct {
	buf bytes.Buffer
	cap int
}

func newCappedBuffer(cap int) *cappedBuffer {
	return &cappedBuffer{cap: cap}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.cap - b.buf.Len()
	if room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	return b.buf.String()
}
