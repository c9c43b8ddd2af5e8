package apporch

import (
	"fmt"
	"strings"
)

type PlanNode struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	ResolvedType string `json:"resolvedType,omitempty"`
}

// PlanEdge means "From owns To".
type PlanEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Plan is the composition of a Deployment and the steps its action would run.
type Plan struct {
	Deployment string     `json:"deployment"`
	Action     Action     `json:"action"`
	Nodes      []PlanNode `json:"nodes"`
	Edges      []PlanEdge `json:"edges"`
	Steps      []Step     `json:"steps"`
}

// Plan returns the ordered steps d's action would run. Restart steps are
// marked skipped for children without a restart command.
func (d *Deployment) Plan() Plan {
	resources := d.SubResources()
	phases := DeployPhases
	if d.action == ActionRestart {
		phases = RestartPhases
	}

	p := Plan{
		Deployment: d.name,
		Action:     d.action,
		Nodes:      make([]PlanNode, 0, len(resources)+1),
		Edges:      make([]PlanEdge, 0, len(resources)),
	}
	p.Nodes = append(p.Nodes, PlanNode{ID: d.name, Type: "application"})
	for _, sub := range resources {
		p.Nodes = append(p.Nodes, PlanNode{ID: sub.ID(), Type: sub.Type(), ResolvedType: sub.ResolvedType()})
		p.Edges = append(p.Edges, PlanEdge{From: d.name, To: sub.ID()})
	}

	for _, phase := range phases {
		switch phase {
		case PhaseEnsureDirectory, PhaseBindPath:
			p.Steps = append(p.Steps, Step{Phase: phase, Resource: SelfResource})
		case PhaseRestart:
			for _, sub := range resources {
				_, ok := sub.RestartCommand()
				p.Steps = append(p.Steps, Step{Phase: phase, Resource: sub.ID(), Skipped: !ok})
			}
		default:
			for _, sub := range resources {
				p.Steps = append(p.Steps, Step{Phase: phase, Resource: sub.ID()})
			}
		}
	}
	return p
}

// DOT exports Graphviz DOT text.
func (p Plan) DOT() string {
	var b strings.Builder
	b.WriteString("digraph apporch {\n")
	b.WriteString("  rankdir=LR;\n")

	aliases := make(map[string]string, len(p.Nodes))
	for i, n := range p.Nodes {
		alias := fmt.Sprintf("n%d", i)
		aliases[n.ID] = alias
		label := escapeDOT(n.ID)
		if n.ResolvedType != "" {
			label = label + "\\n(" + escapeDOT(n.ResolvedType) + ")"
		}
		b.WriteString(fmt.Sprintf("  %s [label=\"%s\"];\n", alias, label))
	}
	for _, e := range p.Edges {
		from, okFrom := aliases[e.From]
		to, okTo := aliases[e.To]
		if !okFrom || !okTo {
			continue
		}
		b.WriteString(fmt.Sprintf("  %s -> %s;\n", from, to))
	}
	b.WriteString("}\n")
	return b.String()
}

// Mermaid exports Mermaid graph text.
func (p Plan) Mermaid() string {
	var b strings.Builder
	b.WriteString("graph TD\n")

	aliases := make(map[string]string, len(p.Nodes))
	for i, n := range p.Nodes {
		alias := fmt.Sprintf("n%d", i)
		aliases[n.ID] = alias
		label := escapeMermaid(n.ID)
		if n.ResolvedType != "" {
			label = label + "<br/>(" + escapeMermaid(n.ResolvedType) + ")"
		}
		b.WriteString(fmt.Sprintf("    %s[\"%s\"]\n", alias, label))
	}
	for _, e := range p.Edges {
		from, okFrom := aliases[e.From]
		to, okTo := aliases[e.To]
		if !okFrom || !okTo {
			continue
		}
		b.WriteString(fmt.Sprintf("    %s --> %s\n", from, to))
	}
	return b.String()
}

// Text lists the steps one per line.
func (p Plan) Text() string {
	var b strings.Builder
	for i, s := range p.Steps {
		suffix := ""
		if s.Skipped {
			suffix = " (skipped)"
		}
		b.WriteString(fmt.Sprintf("%2d. %-24s %s%s\n", i+1, s.Phase, s.Resource, suffix))
	}
	return b.String()
}

func escapeDOT(s string) string {
	return strings.ReplaceAll(s, "\"", "\\\"")
}

func escapeMermaid(s string) string {
	return strings.ReplaceAll(s, "\"", "\\\"")
}
