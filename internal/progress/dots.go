// Package progress prints a heartbeat while long remote operations run.
package progress

import (
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

// DefaultInterval is how often a dot is printed.
const DefaultInterval = 10 * time.Second

// Dots writes a "." to its writer on every tick until stopped.
type Dots struct {
	w        io.Writer
	interval time.Duration

	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	printed bool
}

// IsTerminal reports whether w is a file attached to a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Start begins printing to w. An interval of zero or less uses
// DefaultInterval.
func Start(w io.Writer, interval time.Duration) *Dots {
	if interval <= 0 {
		interval = DefaultInterval
	}
	d := &Dots{
		w:        w,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go d.loop()
	return d
}

// StartIfTerminal starts printing only when w is a terminal. Otherwise it
// returns nil, which is safe to Stop.
func StartIfTerminal(w io.Writer, interval time.Duration) *Dots {
	if !IsTerminal(w) {
		return nil
	}
	return Start(w, interval)
}

func (d *Dots) loop() {
	defer close(d.done)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			if d.printed {
				_, _ = io.WriteString(d.w, "\n")
			}
			return
		case <-ticker.C:
			_, _ = io.WriteString(d.w, ".")
			d.printed = true
		}
	}
}

// Stop ends printing and waits for the printer to exit. Only the first call
// has an effect.
func (d *Dots) Stop() {
	if d == nil {
		return
	}
	d.once.Do(func() { close(d.stop) })
	<-d.done
}
