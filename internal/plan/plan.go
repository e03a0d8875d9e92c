// Package plan provides hand-authored diagnostic flows as an alternate
// graph source. A plan is a fixed list of labeled steps per problem
// domain; compiling one yields the same DAG shape the builder emits, so
// the executor and trace collector are unchanged.
package plan

import (
	"context"
	"fmt"
	"strings"

	"cmdweaver/internal/graph"
	"cmdweaver/internal/reasoning"
)

// Step is one command in a plan. DependsOn lists labels of steps that
// must finish first; Pipe additionally streams the single dependency's
// stdout into this step.
type Step struct {
	Label       string   `yaml:"label"`
	Command     string   `yaml:"command"`
	Args        []string `yaml:"args,omitempty"`
	DependsOn   []string `yaml:"depends_on,omitempty"`
	Pipe        bool     `yaml:"pipe,omitempty"`
	Description string   `yaml:"description,omitempty"`
}

// Plan is a named diagnostic flow for one domain.
type Plan struct {
	Name        string `yaml:"name"`
	Domain      string `yaml:"domain"`
	Description string `yaml:"description,omitempty"`
	Steps       []Step `yaml:"steps"`
}

// Validate rejects structurally broken plans: empty steps, duplicate
// labels, or a pipe step without exactly one dependency. Dependencies on
// unknown labels are deliberately not checked here; the executor's graph
// validation reports those.
func (p *Plan) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan %q has no steps", p.Name)
	}
	seen := make(map[string]bool, len(p.Steps))
	for _, s := range p.Steps {
		if s.Label == "" || s.Command == "" {
			return fmt.Errorf("plan %q: every step needs a label and a command", p.Name)
		}
		if seen[s.Label] {
			return fmt.Errorf("plan %q: duplicate step label %q", p.Name, s.Label)
		}
		seen[s.Label] = true
		if s.Pipe && len(s.DependsOn) != 1 {
			return fmt.Errorf("plan %q: pipe step %q must have exactly one dependency", p.Name, s.Label)
		}
	}
	return nil
}

// Compile lowers the plan to an executable graph. Step labels become node
// ids; each dependency becomes an edge, pipe for the piped dependency and
// sequence otherwise.
func Compile(p *Plan) (*graph.Graph, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	g := &graph.Graph{}
	for _, s := range p.Steps {
		n := graph.Node{
			ID:      s.Label,
			Command: s.Command,
			Args:    s.Args,
			Metadata: map[string]string{
				"rationale": s.Description,
			},
		}
		if s.Pipe {
			n.Inputs = []string{s.DependsOn[0]}
		}
		g.Nodes = append(g.Nodes, n)
		for _, dep := range s.DependsOn {
			kind := graph.EdgeSequence
			if s.Pipe {
				kind = graph.EdgePipe
			}
			g.Edges = append(g.Edges, graph.Edge{
				From: dep, To: s.Label, Kind: kind,
				Rationale: fmt.Sprintf("%s → %s", dep, s.Label),
			})
		}
	}
	return g, nil
}

// Annotate replaces the fallback rationales on a compiled graph with
// reasoned ones. Degrades silently when the service is down.
func Annotate(ctx context.Context, g *graph.Graph, statement string, svc reasoning.Service, params reasoning.Params) {
	if svc == nil || !svc.Healthy(ctx) {
		return
	}
	byID := make(map[string]graph.Node, len(g.Nodes))
	for _, n := range g.Nodes {
		byID[n.ID] = n
	}
	for i, n := range g.Nodes {
		synopsis := strings.Join(n.Argv(), " ")
		p := reasoning.SelectionPrompt(statement, n.Command, synopsis)
		g.Nodes[i].Metadata["rationale"] = reasoning.CompleteOr(ctx, svc, p, params, n.Metadata["rationale"])
	}
	for i, e := range g.Edges {
		p := reasoning.EdgePrompt(byID[e.From].Command, byID[e.To].Command, string(e.Kind))
		g.Edges[i].Rationale = reasoning.CompleteOr(ctx, svc, p, params, e.Rationale)
	}
}
