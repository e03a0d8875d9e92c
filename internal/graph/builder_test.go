package graph

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"cmdweaver/internal/reasoning"
)

func defaultParams() reasoning.Params {
	return reasoning.Params{MaxTokens: 64}
}

func candidates() []Candidate {
	return []Candidate{
		{Name: "pactl", Score: 0.91, Rationale: "controls the sound server"},
		{Name: "grep", Score: 0.74, Rationale: "filters the listing"},
		{Name: "aplay", Score: 0.55, Rationale: "lists playback devices"},
	}
}

func TestBuildNodesFollowCandidateOrder(t *testing.T) {
	b := NewBuilder(nil, nil, nil, nil, defaultParams())
	g := b.Build(context.Background(), "volume too low", candidates())

	if len(g.Nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(g.Nodes))
	}
	wantIDs := []string{"n0", "n1", "n2"}
	wantCmds := []string{"pactl", "grep", "aplay"}
	for i, n := range g.Nodes {
		if n.ID != wantIDs[i] || n.Command != wantCmds[i] {
			t.Errorf("node %d: got %s/%s, want %s/%s", i, n.ID, n.Command, wantIDs[i], wantCmds[i])
		}
	}
	if g.Nodes[0].Metadata["rationale"] != "controls the sound server" {
		t.Errorf("selection rationale not carried: %v", g.Nodes[0].Metadata)
	}
	if got := g.Nodes[0].Args; len(got) != 2 || got[0] != "list" || got[1] != "sinks" {
		t.Errorf("args policy not applied: %v", got)
	}
}

func TestBuildInfersDeclaredEdges(t *testing.T) {
	b := NewBuilder(nil, nil, nil, nil, defaultParams())
	g := b.Build(context.Background(), "p", candidates())

	if err := g.Validate(); err != nil {
		t.Fatalf("built graph invalid: %v", err)
	}
	// pactl->grep and aplay->grep are declared pipes; fan-in on grep is
	// flattened into pactl->aplay->grep.
	kinds := map[string]EdgeKind{}
	for _, e := range g.Edges {
		kinds[e.From+">"+e.To] = e.Kind
	}
	if kinds["n0>n2"] != EdgePipe || kinds["n2>n1"] != EdgePipe {
		t.Fatalf("fan-in not flattened into a chain: %v", kinds)
	}
	if _, dup := kinds["n0>n1"]; dup {
		t.Error("original fan-in edge survived flattening")
	}

	grep, _ := g.NodeByID("n1")
	if len(grep.Inputs) != 1 || grep.Inputs[0] != "n2" {
		t.Errorf("consumer inputs wrong after flattening: %v", grep.Inputs)
	}
}

func TestBuildUnrelatedCandidatesAreRoots(t *testing.T) {
	b := NewBuilder(nil, nil, nil, nil, defaultParams())
	g := b.Build(context.Background(), "p", []Candidate{
		{Name: "tar", Score: 0.8},
		{Name: "whoami", Score: 0.6},
	})
	if len(g.Edges) != 0 {
		t.Errorf("expected no edges between unrelated commands, got %v", g.Edges)
	}
}

func TestBuildDeduplicatesCandidates(t *testing.T) {
	b := NewBuilder(nil, nil, nil, nil, defaultParams())
	g := b.Build(context.Background(), "p", []Candidate{
		{Name: "ps", Score: 0.9},
		{Name: "ps", Score: 0.4},
	})
	if len(g.Nodes) != 1 {
		t.Fatalf("duplicate candidate not collapsed: %d nodes", len(g.Nodes))
	}
	if g.Nodes[0].Metadata["score"] != "0.9000" {
		t.Errorf("highest-ranked occurrence not kept: %v", g.Nodes[0].Metadata)
	}
}

func TestBuildBreaksCycleDeterministically(t *testing.T) {
	rels := RelationTable{
		{"a", "b"}: EdgeSequence,
		{"b", "c"}: EdgeSequence,
		{"c", "a"}: EdgeSequence,
	}
	b := NewBuilder(rels, ArgsTable{}, nil, nil, defaultParams())
	g := b.Build(context.Background(), "p", []Candidate{
		{Name: "a", Score: 0.9},
		{Name: "b", Score: 0.3},
		{Name: "c", Score: 0.7},
	})

	if err := g.Validate(); err != nil {
		t.Fatalf("cycle not broken: %v", err)
	}
	// Lowest edge score is min over endpoints; both a->b and b->c score
	// 0.3, so (from, to) order removes a->b, which is n0->n1.
	for _, e := range g.Edges {
		if e.From == "n0" && e.To == "n1" {
			t.Error("expected edge n0->n1 removed by cycle break")
		}
	}
	if len(g.Edges) != 2 {
		t.Errorf("expected 2 surviving edges, got %d", len(g.Edges))
	}
	if len(g.Diagnostics) == 0 {
		t.Error("cycle break must leave a diagnostic")
	}
}

func TestBuildEdgeRationaleFallback(t *testing.T) {
	b := NewBuilder(nil, nil, nil, nil, defaultParams())
	g := b.Build(context.Background(), "p", []Candidate{
		{Name: "ps", Score: 0.8},
		{Name: "grep", Score: 0.7},
	})
	if len(g.Edges) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(g.Edges))
	}
	if g.Edges[0].Rationale != "n0 → n1" {
		t.Errorf("unexpected fallback rationale: %q", g.Edges[0].Rationale)
	}
}

func TestBuildDeterministic(t *testing.T) {
	b := NewBuilder(nil, nil, nil, nil, defaultParams())
	in := []Candidate{
		{Name: "pactl", Score: 0.91, Rationale: "r0"},
		{Name: "grep", Score: 0.74, Rationale: "r1"},
		{Name: "aplay", Score: 0.55, Rationale: "r2"},
		{Name: "dmesg", Score: 0.52, Rationale: "r3"},
		{Name: "sort", Score: 0.44, Rationale: "r4"},
	}
	first := b.Build(context.Background(), "p", in)
	for i := 0; i < 10; i++ {
		if diff := cmp.Diff(first, b.Build(context.Background(), "p", in)); diff != "" {
			t.Fatalf("builder not deterministic (-first +again):\n%s", diff)
		}
	}
}

func TestTopoOrder(t *testing.T) {
	g := &Graph{
		Nodes: []Node{{ID: "n0"}, {ID: "n1"}, {ID: "n2"}, {ID: "n3"}},
		Edges: []Edge{
			{From: "n0", To: "n1", Kind: EdgePipe},
			{From: "n0", To: "n2", Kind: EdgeSequence},
			{From: "n2", To: "n3", Kind: EdgeSequence},
		},
	}
	order := g.TopoOrder()
	pos := map[string]int{}
	for i, id := range order {
		pos[id] = i
	}
	for _, e := range g.Edges {
		if pos[e.From] > pos[e.To] {
			t.Errorf("edge %s->%s violates topological order %v", e.From, e.To, order)
		}
	}
	if len(order) != 4 {
		t.Errorf("incomplete order: %v", order)
	}
}

func TestValidateDanglingEdge(t *testing.T) {
	g := &Graph{
		Nodes: []Node{{ID: "n0"}},
		Edges: []Edge{{From: "n0", To: "ghost", Kind: EdgeSequence}},
	}
	if err := g.Validate(); err == nil {
		t.Fatal("expected dangling edge error")
	}
}
