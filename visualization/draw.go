// Package visualization renders the structure of a compiled graph as
// Mermaid, Graphviz DOT or plain text.
package visualization

import (
	"fmt"
	"strings"

	"github.com/langgraph-go/stategraph/constants"
	"github.com/langgraph-go/stategraph/graph"
)

// Format is an output format.
type Format string

const (
	FormatASCII   Format = "ascii"
	FormatMermaid Format = "mermaid"
	FormatDOT     Format = "dot"
)

// Options configure rendering.
type Options struct {
	Format Format
	// Horizontal lays the graph out left to right.
	Horizontal bool
	// NodeStyles maps a node name to a format specific style, such as
	// "fill:#f9f" for Mermaid or "lightblue" for DOT.
	NodeStyles map[string]string
	// ShowWrites appends each node's declared write-set to its label.
	ShowWrites bool
}

// DefaultOptions renders top-down Mermaid.
func DefaultOptions() *Options {
	return &Options{Format: FormatMermaid, NodeStyles: map[string]string{}}
}

// Describer is implemented by *graph.Compiled.
type Describer interface {
	Describe() graph.Description
}

// Draw renders g.
func Draw(g Describer, opts *Options) (string, error) {
	if g == nil {
		return "", fmt.Errorf("graph cannot be nil")
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	d := g.Describe()
	switch opts.Format {
	case FormatMermaid:
		return mermaid(d, opts), nil
	case FormatDOT:
		return dot(d, opts), nil
	case FormatASCII:
		return ascii(d, opts), nil
	}
	return "", fmt.Errorf("unsupported format: %s", opts.Format)
}

// Mermaid renders g as a Mermaid flowchart.
func Mermaid(g Describer) (string, error) {
	return Draw(g, &Options{Format: FormatMermaid})
}

// DOT renders g in Graphviz DOT syntax: dot -Tpng graph.dot -o graph.png
func DOT(g Describer) (string, error) {
	return Draw(g, &Options{Format: FormatDOT, Horizontal: true})
}

// ASCII renders g as an indented text listing.
func ASCII(g Describer) (string, error) {
	return Draw(g, &Options{Format: FormatASCII})
}

func label(n graph.NodeInfo, opts *Options) string {
	if !opts.ShowWrites || len(n.Writes) == 0 {
		return n.Name
	}
	return fmt.Sprintf("%s [%s]", n.Name, strings.Join(n.Writes, ", "))
}

func mermaid(d graph.Description, opts *Options) string {
	var sb strings.Builder
	if opts.Horizontal {
		sb.WriteString("graph LR\n")
	} else {
		sb.WriteString("graph TD\n")
	}
	fmt.Fprintf(&sb, "    %s((start))\n", mermaidID(constants.Start))
	for _, n := range d.Nodes {
		fmt.Fprintf(&sb, "    %s[\"%s\"]\n", mermaidID(n.Name), escape(label(n, opts)))
	}
	fmt.Fprintf(&sb, "    %s(((end)))\n", mermaidID(constants.End))
	for _, e := range d.Edges {
		arrow := "-->"
		if e.Conditional {
			arrow = "-.->"
		}
		fmt.Fprintf(&sb, "    %s %s %s\n", mermaidID(e.From), arrow, mermaidID(e.To))
	}
	for _, n := range d.Nodes {
		if style, ok := opts.NodeStyles[n.Name]; ok {
			fmt.Fprintf(&sb, "    style %s %s\n", mermaidID(n.Name), style)
		}
	}
	return sb.String()
}

func dot(d graph.Description, opts *Options) string {
	var sb strings.Builder
	sb.WriteString("digraph G {\n")
	if opts.Horizontal {
		sb.WriteString("    rankdir=LR;\n")
	}
	sb.WriteString("    node [shape=box, style=rounded];\n")
	fmt.Fprintf(&sb, "    %q [shape=circle, label=\"start\"];\n", constants.Start)
	fmt.Fprintf(&sb, "    %q [shape=doublecircle, label=\"end\"];\n", constants.End)
	for _, n := range d.Nodes {
		attrs := []string{fmt.Sprintf("label=%q", label(n, opts))}
		if style, ok := opts.NodeStyles[n.Name]; ok {
			attrs = append(attrs, "style=\"rounded,filled\"", fmt.Sprintf("fillcolor=%q", style))
		}
		fmt.Fprintf(&sb, "    %q [%s];\n", n.Name, strings.Join(attrs, ", "))
	}
	for _, e := range d.Edges {
		attrs := ""
		if e.Conditional {
			attrs = " [style=dashed]"
		}
		fmt.Fprintf(&sb, "    %q -> %q%s;\n", e.From, e.To, attrs)
	}
	sb.WriteString("}\n")
	return sb.String()
}

func ascii(d graph.Description, opts *Options) string {
	var sb strings.Builder
	sb.WriteString("Nodes:\n")
	for _, n := range d.Nodes {
		fmt.Fprintf(&sb, "  %s", label(n, opts))
		if n.Description != "" {
			fmt.Fprintf(&sb, " - %s", n.Description)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nEdges:\n")
	for _, e := range d.Edges {
		arrow := "-->"
		if e.Conditional {
			arrow = "-?->"
		}
		fmt.Fprintf(&sb, "  %s %s %s\n", display(e.From), arrow, display(e.To))
	}
	return sb.String()
}

func display(name string) string {
	switch name {
	case constants.Start:
		return "START"
	case constants.End:
		return "END"
	}
	return name
}

// mermaidID makes a name usable as a Mermaid node id.
func mermaidID(name string) string {
	switch name {
	case constants.Start:
		return "__start"
	case constants.End:
		return "__end"
	}
	id := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, name)
	if id != "" && id[0] >= '0' && id[0] <= '9' {
		id = "n" + id
	}
	return id
}

func escape(s string) string {
	return strings.ReplaceAll(s, `"`, "#quot;")
}
