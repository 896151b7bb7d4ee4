package main

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter draws a single status line with elapsed or remaining time.
//
// Usage:
//
//	p := NewProgressPrinter(w, "Connecting", "Dialing")
//	p.Start()
//	defer p.Stop()
//
// A ProgressPrinter is single-use: Start at most once, Stop any number of times.
// A disabled printer does nothing, so callers need not check for a terminal.
type ProgressPrinter struct {
	out       io.Writer
	prefix    string
	phase     atomic.Value // string
	startTime time.Time
	countUp   bool
	duration  time.Duration
	enabled   bool

	started  atomic.Bool
	stopped  atomic.Bool
	stopChan chan struct{}
	done     chan struct{}
}

// NewProgressPrinter creates a printer that shows elapsed time.
func NewProgressPrinter(out io.Writer, enabled bool, prefix, phase string) *ProgressPrinter {
	p := &ProgressPrinter{out: out, prefix: prefix, countUp: true, enabled: enabled}
	p.phase.Store(phase)
	return p
}

// NewCountdownProgressPrinter creates a printer that counts down from duration.
func NewCountdownProgressPrinter(out io.Writer, enabled bool, prefix, phase string, duration time.Duration) *ProgressPrinter {
	p := &ProgressPrinter{out: out, prefix: prefix, duration: duration, enabled: enabled}
	p.phase.Store(phase)
	return p
}

// Start begins drawing. Panics if called more than once.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}
	if !p.enabled {
		return
	}

	p.startTime = time.Now()
	p.stopChan = make(chan struct{})
	p.done = make(chan struct{})
	p.print(p.phase.Load().(string), 0)

	go p.loop()
}

// SetPhase changes the label shown in parentheses.
func (p *ProgressPrinter) SetPhase(phase string) {
	p.phase.Store(phase)
}

// Stop clears the progress line. Safe to call multiple times.
func (p *ProgressPrinter) Stop() {
	if !p.enabled || !p.started.Load() || !p.stopped.CompareAndSwap(false, true) {
		return
	}
	close(p.stopChan)
	<-p.done
	fmt.Fprint(p.out, clearLineSequence)
}

func (p *ProgressPrinter) loop() {
	defer close(p.done)

	ticker := time.NewTicker(progressUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			p.print(p.phase.Load().(string), p.seconds(time.Since(p.startTime)))
		}
	}
}

func (p *ProgressPrinter) seconds(elapsed time.Duration) int {
	if p.countUp {
		return int(elapsed.Seconds())
	}
	remaining := p.duration - elapsed
	if remaining <= 0 {
		return 0
	}
	// Round to the nearest second, e.g. 3.7s -> 4s
	return int(remaining.Seconds() + 0.5)
}

func (p *ProgressPrinter) print(phase string, seconds int) {
	if seconds > 0 {
		fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, phase)
	}
}
