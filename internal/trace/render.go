package trace

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"
)

// RenderJSON serializes the trace with indentation.
func RenderJSON(t *ExecutionTrace) (string, error) {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode trace: %w", err)
	}
	return string(data) + "\n", nil
}

// RenderYAML serializes the trace as YAML.
func RenderYAML(t *ExecutionTrace) (string, error) {
	data, err := yaml.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("failed to encode trace: %w", err)
	}
	return string(data), nil
}

type textStyles struct {
	Title   lipgloss.Style
	Muted   lipgloss.Style
	Good    lipgloss.Style
	Bad     lipgloss.Style
	Warning lipgloss.Style
	Node    lipgloss.Style
}

func newTextStyles() textStyles {
	return textStyles{
		Title:   lipgloss.NewStyle().Bold(true),
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		Good:    lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		Bad:     lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		Node:    lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true),
	}
}

func (s textStyles) status(st Status) string {
	switch st {
	case StatusOK:
		return s.Good.Render(string(st))
	case StatusPartial:
		return s.Warning.Render(string(st))
	default:
		return s.Bad.Render(string(st))
	}
}

// RenderText renders a human-readable summary. explain adds the rationale
// and interpretation detail per node and edge.
func RenderText(t *ExecutionTrace, explain bool) string {
	s := newTextStyles()
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s\n", s.Title.Render("prompt:"), t.Prompt)
	fmt.Fprintf(&b, "%s %s\n\n", s.Title.Render("status:"), s.status(t.OverallStatus))

	if len(t.Candidates) > 0 && explain {
		b.WriteString(s.Title.Render("candidates") + "\n")
		for _, c := range t.Candidates {
			fmt.Fprintf(&b, "  %s (%.2f) %s\n", s.Node.Render(c.Name), c.Score, s.Muted.Render(c.Rationale))
		}
		b.WriteString("\n")
	}

	if len(t.Graph.Nodes) > 0 {
		b.WriteString(s.Title.Render("plan") + "\n")
		for _, n := range t.Graph.Nodes {
			fmt.Fprintf(&b, "  %s %s\n", s.Node.Render(n.ID), n.Command)
			if explain {
				if r := n.Metadata["rationale"]; r != "" {
					fmt.Fprintf(&b, "      %s\n", s.Muted.Render(r))
				}
			}
		}
		for _, e := range t.Graph.Edges {
			fmt.Fprintf(&b, "  %s %s %s %s\n", e.From, s.Muted.Render("─"+e.Kind+"→"), e.To,
				explainOnly(explain, s.Muted.Render(e.Rationale)))
		}
		b.WriteString("\n")
	}

	if len(t.Results) > 0 {
		b.WriteString(s.Title.Render("results") + "\n")
		for _, r := range t.Results {
			mark := s.Good.Render("ok")
			if r.ErrorKind != "none" {
				mark = s.Bad.Render(r.ErrorKind)
			}
			fmt.Fprintf(&b, "  %s %s exit=%d\n", s.Node.Render(r.NodeID), mark, r.ExitCode)
			if out := strings.TrimRight(r.Stdout, "\n"); out != "" {
				for _, line := range strings.Split(out, "\n") {
					fmt.Fprintf(&b, "      %s\n", line)
				}
			}
			if explain && r.Interpretation != "" {
				fmt.Fprintf(&b, "      %s\n", s.Muted.Render(r.Interpretation))
			}
		}
	}

	for _, d := range t.Diagnostics {
		fmt.Fprintf(&b, "%s %s\n", s.Warning.Render("note:"), d)
	}
	return b.String()
}

func explainOnly(explain bool, text string) string {
	if !explain {
		return ""
	}
	return text
}
