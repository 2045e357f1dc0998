package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/leofalp/mosaik/core/engine"
	"github.com/leofalp/mosaik/core/graph"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

const defaultWrapWidth = 100

var statusColors = map[graph.Status]string{
	graph.StatusQueued:    "#9CA3AF",
	graph.StatusRunning:   "#38BDF8",
	graph.StatusSucceeded: "#22C55E",
	graph.StatusFailed:    "#EF4444",
	graph.StatusCancelled: "#EAB308",
}

// printer renders run events as status lines. Fragments are echoed only when
// streaming is on; a node's fragments are grouped under one header.
type printer struct {
	out       io.Writer
	output    *termenv.Output
	names     map[graph.NodeID]string
	stream    bool
	streaming graph.NodeID
}

func newPrinter(out io.Writer, names map[graph.NodeID]string, stream bool) *printer {
	return &printer{
		out:    out,
		output: termenv.NewOutput(out),
		names:  names,
		stream: stream,
	}
}

func (printer *printer) name(nodeID graph.NodeID) string {
	if name, ok := printer.names[nodeID]; ok {
		return name
	}
	return string(nodeID)
}

func (printer *printer) styled(text, hex string) string {
	return printer.output.String(text).Foreground(printer.output.Color(hex)).String()
}

func (printer *printer) endFragments() {
	if printer.streaming != "" {
		fmt.Fprintln(printer.out)
		printer.streaming = ""
	}
}

func (printer *printer) print(event engine.Event) {
	switch event.Type {
	case engine.EventRunStarted:
		printer.endFragments()
		header := fmt.Sprintf("run %s started (%d nodes)", event.RunID, len(event.Nodes))
		fmt.Fprintln(printer.out, printer.output.String(header).Bold().String())

	case engine.EventNodeStatus:
		printer.endFragments()
		line := fmt.Sprintf("  %-20s %s", printer.name(event.NodeID), printer.styled(string(event.Status), statusColors[event.Status]))
		switch {
		case event.Cached:
			line += " (cached)"
		case event.Reason != "" && event.Error != "":
			line += fmt.Sprintf(" %s: %s", event.Reason, event.Error)
		case event.Reason != "":
			line += " " + event.Reason
		}
		fmt.Fprintln(printer.out, line)

	case engine.EventNodeFragment:
		if !printer.stream {
			return
		}
		if printer.streaming != event.NodeID {
			printer.endFragments()
			fmt.Fprint(printer.out, printer.styled("  "+printer.name(event.NodeID)+" > ", statusColors[graph.StatusRunning]))
			printer.streaming = event.NodeID
		}
		fmt.Fprint(printer.out, event.Fragment)

	case engine.EventRunFinished:
		printer.endFragments()
		line := fmt.Sprintf("run %s %s", event.RunID, event.Status)
		fmt.Fprintln(printer.out, printer.styled(line, statusColors[event.Status]))
	}
}

// isTerminal reports whether out is an interactive terminal.
func isTerminal(out io.Writer) bool {
	file, ok := out.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}

// renderMarkdown renders text for a terminal, or returns it unchanged when
// out is not one.
func renderMarkdown(out io.Writer, text string) string {
	if !isTerminal(out) {
		return text
	}

	width := defaultWrapWidth
	if file, ok := out.(*os.File); ok {
		if columns, _, err := term.GetSize(int(file.Fd())); err == nil && columns > 0 && columns < width {
			width = columns
		}
	}

	renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(width))
	if err != nil {
		return text
	}
	rendered, err := renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(rendered, "\n") + "\n"
}
