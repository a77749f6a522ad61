// Package terminal prints the line-oriented output of the scripts.
package terminal

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

type Printer struct {
	mu    sync.Mutex
	w     io.Writer
	title lipgloss.Style
}

// New returns a Printer writing to w. Styles degrade to plain text when w is
// not a color terminal.
func New(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)
	return &Printer{
		w:     w,
		title: r.NewStyle().Bold(true),
	}
}

func (p *Printer) Line(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, s)
}

func (p *Printer) Linef(format string, a ...any) {
	p.Line(fmt.Sprintf(format, a...))
}

func (p *Printer) Blank() {
	p.Line("")
}

// Rule prints n dashes.
func (p *Printer) Rule(n int) {
	p.Line(strings.Repeat("-", n))
}

// RuleOf prints ch repeated n times.
func (p *Printer) RuleOf(ch string, n int) {
	p.Line(strings.Repeat(ch, n))
}

// Help prints a bold heading followed by indented lines.
func (p *Printer) Help(heading string, lines []string) {
	p.Line(p.title.Render(heading))
	for _, l := range lines {
		p.Line(l)
	}
}
