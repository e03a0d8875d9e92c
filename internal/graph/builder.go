package graph

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"cmdweaver/internal/reasoning"
)

// Candidate is one ranked command entering the builder. Rank is the slice
// position; ids are assigned in that order.
type Candidate struct {
	Name      string
	Synopsis  string
	Score     float64
	Rationale string
}

// Builder turns a candidate list into an executable DAG using the relation
// and argument tables.
type Builder struct {
	relations RelationTable
	args      ArgsTable
	reasoner  reasoning.Service
	params    reasoning.Params
	log       *zap.Logger
}

// NewBuilder creates a Builder. Nil tables select the built-in defaults;
// reasoner may be nil, in which case edge rationales use the id fallback.
func NewBuilder(relations RelationTable, args ArgsTable, reasoner reasoning.Service, log *zap.Logger, params reasoning.Params) *Builder {
	if relations == nil {
		relations = DefaultRelations()
	}
	if args == nil {
		args = DefaultArgs()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Builder{relations: relations, args: args, reasoner: reasoner, params: params, log: log}
}

// Build produces an acyclic graph from the candidates. Nodes are named
// "n0", "n1", ... in candidate order; duplicate command names keep their
// highest-ranked occurrence. The result is bit-identical across calls with
// the same inputs (modulo reasoning-service answers).
func (b *Builder) Build(ctx context.Context, prompt string, candidates []Candidate) *Graph {
	g := &Graph{}

	score := make(map[string]float64)
	byName := make(map[string]string)
	for _, c := range candidates {
		if _, dup := byName[c.Name]; dup {
			continue
		}
		id := fmt.Sprintf("n%d", len(g.Nodes))
		byName[c.Name] = id
		score[id] = c.Score
		g.Nodes = append(g.Nodes, Node{
			ID:      id,
			Command: c.Name,
			Args:    b.args[c.Name],
			Metadata: map[string]string{
				"rationale": c.Rationale,
				"score":     strconv.FormatFloat(c.Score, 'f', 4, 64),
			},
		})
	}

	edges := make(map[[2]string]EdgeKind)
	for _, from := range g.Nodes {
		for _, to := range g.Nodes {
			if from.ID == to.ID {
				continue
			}
			if kind, ok := b.relations.Kind(from.Command, to.Command); ok {
				edges[[2]string{from.ID, to.ID}] = kind
			}
		}
	}

	b.flattenPipeFanIn(g, edges)
	b.breakCycles(g, edges, score)

	keys := make([][2]string, 0, len(edges))
	for k := range edges {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})

	healthy := b.reasoner != nil && b.reasoner.Healthy(ctx)
	for _, k := range keys {
		kind := edges[k]
		e := Edge{From: k[0], To: k[1], Kind: kind, Rationale: fmt.Sprintf("%s → %s", k[0], k[1])}
		if healthy {
			from, _ := g.NodeByID(k[0])
			to, _ := g.NodeByID(k[1])
			p := reasoning.EdgePrompt(from.Command, to.Command, string(kind))
			e.Rationale = reasoning.CompleteOr(ctx, b.reasoner, p, b.params, e.Rationale)
		}
		g.Edges = append(g.Edges, e)
	}

	// Record pipe inputs on the consumers. After flattening, each node has
	// at most one.
	inputs := make(map[string][]string)
	for _, e := range g.Edges {
		if e.Kind == EdgePipe {
			inputs[e.To] = append(inputs[e.To], e.From)
		}
	}
	for i := range g.Nodes {
		in := inputs[g.Nodes[i].ID]
		sort.Strings(in)
		g.Nodes[i].Inputs = in
	}

	return g
}

// flattenPipeFanIn rewrites multi-producer pipe fan-in into a chain: the
// producers, in rank order, pipe into each other and the last pipes into
// the consumer. The executor therefore never sees more than one incoming
// pipe per node.
func (b *Builder) flattenPipeFanIn(g *Graph, edges map[[2]string]EdgeKind) {
	rank := make(map[string]int, len(g.Nodes))
	for i, n := range g.Nodes {
		rank[n.ID] = i
	}

	for pass := 0; pass < len(g.Nodes); pass++ {
		changed := false
		for _, consumer := range g.Nodes {
			var producers []string
			for k, kind := range edges {
				if kind == EdgePipe && k[1] == consumer.ID {
					producers = append(producers, k[0])
				}
			}
			if len(producers) < 2 {
				continue
			}
			sort.Slice(producers, func(i, j int) bool { return rank[producers[i]] < rank[producers[j]] })

			for _, p := range producers {
				delete(edges, [2]string{p, consumer.ID})
			}
			chain := append(producers, consumer.ID)
			for i := 0; i < len(chain)-1; i++ {
				edges[[2]string{chain[i], chain[i+1]}] = EdgePipe
			}
			g.Diagnostics = append(g.Diagnostics,
				fmt.Sprintf("flattened %d pipe producers of %s into a chain", len(producers), consumer.ID))
			changed = true
		}
		if !changed {
			return
		}
	}
}

// breakCycles removes the lowest-scoring edge of each cycle until the
// graph is acyclic. Edge score is the lower of its endpoint scores; ties
// resolve lexicographically on (from, to).
func (b *Builder) breakCycles(g *Graph, edges map[[2]string]EdgeKind, score map[string]float64) {
	for {
		cyclic := findCycle(nodeIDs(g.Nodes), edgeList(edges))
		if len(cyclic) == 0 {
			return
		}
		inCycle := make(map[string]bool, len(cyclic))
		for _, id := range cyclic {
			inCycle[id] = true
		}

		var victim [2]string
		found := false
		best := 0.0
		for k := range edges {
			if !inCycle[k[0]] || !inCycle[k[1]] {
				continue
			}
			s := score[k[0]]
			if score[k[1]] < s {
				s = score[k[1]]
			}
			if !found || s < best || (s == best && lessPair(k, victim)) {
				victim, best, found = k, s, true
			}
		}
		if !found {
			return
		}
		delete(edges, victim)
		g.Diagnostics = append(g.Diagnostics,
			fmt.Sprintf("broke cycle by removing edge %s -> %s", victim[0], victim[1]))
		b.log.Debug("cycle broken", zap.String("from", victim[0]), zap.String("to", victim[1]))
	}
}

func lessPair(a, b [2]string) bool {
	if a[0] != b[0] {
		return a[0] < b[0]
	}
	return a[1] < b[1]
}

func edgeList(edges map[[2]string]EdgeKind) []Edge {
	out := make([]Edge, 0, len(edges))
	for k, kind := range edges {
		out = append(out, Edge{From: k[0], To: k[1], Kind: kind})
	}
	return out
}
