// Package console renders pipeline events for a human watching the run:
// stage banners, every command before it runs, command output as it
// arrives, transfer progress and the final result.
package console

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/Iron-Ham/xflow/internal/event"
)

// DefaultCommandWidth is the width command lines are truncated to when the
// output is not a terminal.
const DefaultCommandWidth = 200

// Printer writes human readable lines for bus events to an io.Writer. When a
// stage runs on more than one node, every line is prefixed with the node
// name. It is safe for concurrent use.
type Printer struct {
	mu      sync.Mutex
	out     io.Writer
	color   bool
	width   int
	styles  styles
	multi   bool
	open    bool // single-node output ended mid-line
	colors  map[string]int
	partial map[string]string

	bus *event.Bus
	sub string
}

// Option configures a Printer.
type Option func(*Printer)

// WithColor enables or disables styling. Styling is also off when the
// writer is not a terminal.
func WithColor(enabled bool) Option {
	return func(p *Printer) { p.color = enabled }
}

// WithWidth sets the width command lines are truncated to.
func WithWidth(width int) Option {
	return func(p *Printer) { p.width = width }
}

// New returns a Printer writing to w.
func New(w io.Writer, opts ...Option) *Printer {
	p := &Printer{
		out:     w,
		color:   true,
		width:   DefaultCommandWidth,
		colors:  make(map[string]int),
		partial: make(map[string]string),
	}
	if f, ok := w.(*os.File); ok && IsTerminal(f) {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
			p.width = width
		}
	}
	for _, opt := range opts {
		opt(p)
	}
	p.styles = newStyles(lipgloss.NewRenderer(w))
	return p
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Attach subscribes the printer to every event on bus.
func (p *Printer) Attach(bus *event.Bus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bus = bus
	p.sub = bus.SubscribeAll(p.Handle)
}

// Detach unsubscribes from the bus and flushes pending partial lines.
func (p *Printer) Detach() {
	p.mu.Lock()
	bus, sub := p.bus, p.sub
	p.bus, p.sub = nil, ""
	p.mu.Unlock()
	if bus != nil {
		bus.Unsubscribe(sub)
	}
	p.Flush()
}

// Flush writes any buffered partial output lines.
func (p *Printer) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushLocked()
}

func (p *Printer) flushLocked() {
	for node, rest := range p.partial {
		if rest != "" {
			p.writeLine(node, rest)
		}
		delete(p.partial, node)
	}
}

// Handle renders one event.
func (p *Printer) Handle(e event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev := e.(type) {
	case event.StageStartedEvent:
		p.flushLocked()
		p.multi = len(ev.Nodes) > 1
		title := fmt.Sprintf("==> [%d/%d] %s", ev.Index, ev.Total, ev.Stage)
		if ev.Description != "" {
			title += " (" + ev.Description + ")"
		}
		title += " on " + strings.Join(ev.Nodes, ", ")
		p.println(p.render(p.styles.banner, title))

	case event.StageFinishedEvent:
		p.flushLocked()
		d := ev.Duration.Round(time.Millisecond)
		if ev.Success() {
			p.println(fmt.Sprintf("%s %s %s", p.badge(true, "PASS"), ev.Stage, p.render(p.styles.muted, d.String())))
		} else {
			p.println(fmt.Sprintf("%s %s failed on %s %s", p.badge(false, "FAIL"), ev.Stage,
				strings.Join(ev.Failed, ", "), p.render(p.styles.muted, d.String())))
		}

	case event.NodeFinishedEvent:
		if ev.Error != "" {
			p.flushNode(ev.Node)
			p.writeLine(ev.Node, p.render(p.styles.warn, "error: "+ev.Error))
		}

	case event.CommandStartedEvent:
		p.flushNode(ev.Node)
		loc := ev.Target
		if ev.Dir != "" {
			loc += ":" + ev.Dir
		}
		line := fmt.Sprintf("[%s] %s", loc, ev.Command)
		p.writeLine(ev.Node, p.render(p.styles.command, Truncate(line, p.width)))

	case event.CommandOutputEvent:
		p.output(ev.Node, ev.Data)

	case event.TransferProgressEvent:
		p.flushNode(ev.Node)
		p.writeLine(ev.Node, ev.Line)

	case event.CleanupEvent:
		msg := fmt.Sprintf("cleanup %s: %s", ev.Action, ev.Target)
		if ev.Error != "" {
			msg += " failed: " + ev.Error
			p.writeLine(ev.Node, p.render(p.styles.warn, msg))
		} else {
			p.writeLine(ev.Node, p.render(p.styles.muted, msg))
		}

	case event.PipelineFinishedEvent:
		p.flushLocked()
		ok := ev.Result == "SUCCESSFUL"
		line := fmt.Sprintf("%s %s #%d %s", p.badge(ok, ev.Result), ev.Pipeline, ev.TaskID,
			p.render(p.styles.muted, ev.Duration.Round(time.Millisecond).String()))
		p.println(line)
		if ev.Error != "" {
			p.println(p.render(p.styles.warn, ev.Error))
		}
	}
}

// output writes a chunk of command output. With a single node the chunk is
// passed through as is; otherwise complete lines are prefixed and the
// trailing partial line is held until more output arrives.
func (p *Printer) output(node, data string) {
	if !p.multi {
		if data != "" {
			_, _ = io.WriteString(p.out, data)
			p.open = !strings.HasSuffix(data, "\n")
		}
		return
	}
	lines, rest := splitLines(p.partial[node] + data)
	for _, l := range lines {
		p.writeLine(node, l)
	}
	p.partial[node] = rest
}

func (p *Printer) flushNode(node string) {
	if rest := p.partial[node]; rest != "" {
		p.writeLine(node, rest)
	}
	delete(p.partial, node)
}

// writeLine writes line, prefixed with the node name when more than one node
// is active.
func (p *Printer) writeLine(node, line string) {
	if p.multi && node != "" {
		line = p.prefix(node) + line
	}
	p.println(line)
}

func (p *Printer) prefix(node string) string {
	idx, ok := p.colors[node]
	if !ok {
		idx = len(p.colors) % len(p.styles.nodes)
		p.colors[node] = idx
	}
	return p.render(p.styles.nodes[idx], node+" | ")
}

func (p *Printer) badge(ok bool, text string) string {
	if !p.color {
		return "[" + text + "]"
	}
	if ok {
		return p.styles.pass.Render(text)
	}
	return p.styles.fail.Render(text)
}

func (p *Printer) render(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

func (p *Printer) println(line string) {
	if p.open {
		line = "\n" + line
		p.open = false
	}
	_, _ = io.WriteString(p.out, line+"\n")
}
