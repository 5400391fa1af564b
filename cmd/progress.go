package cmd

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

const progressBarWidth = 30

// progressPrinter draws a single-line percentage bar. Update is safe to call
// from the orchestrator's polling goroutine.
type progressPrinter struct {
	out  io.Writer
	name string

	mu      sync.Mutex
	percent int
	drawn   bool
	stopped bool
}

func newProgressPrinter(out io.Writer, name string) *progressPrinter {
	return &progressPrinter{out: out, name: name}
}

// Update redraws the bar when pct moves forward.
func (p *progressPrinter) Update(pct int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || (p.drawn && pct <= p.percent) {
		return
	}
	if pct > 100 {
		pct = 100
	}
	p.percent = pct
	p.drawn = true
	p.print()
}

// Stop prints the final line and ignores later updates.
func (p *progressPrinter) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	p.print()
	fmt.Fprintln(p.out)
}

func (p *progressPrinter) print() {
	filled := p.percent * progressBarWidth / 100
	bar := strings.Repeat("#", filled) + strings.Repeat(".", progressBarWidth-filled)
	fmt.Fprintf(p.out, "\r[%s] %s %3d%%", p.name, bar, p.percent)
}
