// Package statechart describes the scroll trigger's per-direction state
// machines and renders them with Graphviz.
//
// The forward and backward directions are orthogonal regions: each moves
// Idle → Fetching → Idle on its own and both end in Disposed. [ToDOT]
// draws each region as a cluster; [RenderSVG] lays the DOT out.
package statechart

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-graphviz"

	"github.com/matzehuels/masonry/pkg/feed"
	"github.com/matzehuels/masonry/pkg/notify"
	"github.com/matzehuels/masonry/pkg/scroll"
)

// Transition is one labelled edge of a [Machine].
type Transition struct {
	From, To scroll.Phase
	Label    string
}

// Machine is the state machine of one fetch direction.
type Machine struct {
	Name        string
	Edge        notify.Edge
	Initial     scroll.Phase
	States      []scroll.Phase
	Transitions []Transition
}

// Trigger returns the machine of the direction served by edge.
func Trigger(edge notify.Edge) Machine {
	name, fetch, guard := "forward", "fetchForward", "hasNextPage, range.max < totalPages"
	if edge == notify.Top {
		name, fetch, guard = "backward", "fetchBackward", "hasPrevPage, range.min > 1"
	}
	done := strings.Join([]string{
		feed.Applied.String(),
		feed.Skipped.String(),
		feed.GapRejected.String(),
		feed.Failed.String(),
	}, " | ")

	return Machine{
		Name:    name,
		Edge:    edge,
		Initial: scroll.Idle,
		States:  []scroll.Phase{scroll.Idle, scroll.Fetching, scroll.Disposed},
		Transitions: []Transition{
			{scroll.Idle, scroll.Fetching, fmt.Sprintf("%s near [%s] / %s", edge, guard, fetch)},
			{scroll.Idle, scroll.Idle, fmt.Sprintf("%s far or guard fails", edge)},
			{scroll.Fetching, scroll.Idle, done},
			{scroll.Idle, scroll.Disposed, "dispose"},
			{scroll.Fetching, scroll.Disposed, "dispose / discard result"},
		},
	}
}

// Machines returns the forward and backward machines.
func Machines() []Machine {
	return []Machine{Trigger(notify.Bottom), Trigger(notify.Top)}
}

// ToDOT converts machines to Graphviz DOT, one cluster per machine.
func ToDOT(machines ...Machine) string {
	var buf bytes.Buffer
	buf.WriteString("digraph trigger {\n")
	buf.WriteString("  rankdir=LR;\n")
	buf.WriteString("  bgcolor=\"transparent\";\n")
	buf.WriteString("  node [shape=box, style=\"rounded,filled\", fillcolor=white, fontsize=14];\n")
	buf.WriteString("  edge [fontsize=10];\n")

	for _, m := range machines {
		fmt.Fprintf(&buf, "\n  subgraph %q {\n", "cluster_"+m.Name)
		fmt.Fprintf(&buf, "    label=%q;\n", m.Name+" ("+m.Edge.String()+")")
		start := m.Name + "_start"
		fmt.Fprintf(&buf, "    %q [shape=point, width=0.15, label=\"\"];\n", start)
		for _, s := range m.States {
			attrs := fmt.Sprintf("label=%q", s.String())
			if s == scroll.Disposed {
				attrs += ", peripheries=2, fillcolor=lightgrey"
			}
			fmt.Fprintf(&buf, "    %q [%s];\n", nodeID(m, s), attrs)
		}
		fmt.Fprintf(&buf, "    %q -> %q;\n", start, nodeID(m, m.Initial))
		for _, t := range m.Transitions {
			fmt.Fprintf(&buf, "    %q -> %q [label=%q];\n", nodeID(m, t.From), nodeID(m, t.To), t.Label)
		}
		buf.WriteString("  }\n")
	}

	buf.WriteString("}\n")
	return buf.String()
}

func nodeID(m Machine, p scroll.Phase) string {
	return m.Name + "_" + p.String()
}

// RenderSVG renders a DOT graph to SVG using Graphviz.
func RenderSVG(ctx context.Context, dot string) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("init graphviz: %w", err)
	}
	defer gv.Close()

	g, err := graphviz.ParseBytes([]byte(dot))
	if err != nil {
		return nil, fmt.Errorf("parse DOT: %w", err)
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, graphviz.SVG, &buf); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return buf.Bytes(), nil
}
