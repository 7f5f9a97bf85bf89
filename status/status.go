// Package status holds the single user-facing status line.
package status

import (
	"sync"
	"time"

	"github.com/vitwit/coffee/logger"
	"github.com/vitwit/coffee/types"
)

var _ types.Notifier = (*Reporter)(nil)

// DefaultTTL is how long a non-loading message stays visible.
const DefaultTTL = 5 * time.Second

// Listener is called with every change of the status line, including clears.
// A cleared line has an empty Text.
type Listener func(types.StatusMessage)

// Reporter keeps the latest message. Each Report bumps the generation; the
// auto-clear timer only clears the line if no newer message was reported since.
// Listeners are called one change at a time and never with a change older than
// one they already saw.
type Reporter struct {
	mu         sync.Mutex
	current    types.StatusMessage
	generation uint64
	seq        uint64
	timer      *time.Timer
	ttl        time.Duration
	listeners  []Listener
	logger     logger.Logger

	dispatch  sync.Mutex
	delivered uint64
}

func NewReporter(ttl time.Duration, l logger.Logger) *Reporter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Reporter{ttl: ttl, logger: logger.OrNoop(l)}
}

// Report replaces the current message and returns its generation.
func (r *Reporter) Report(text string, severity types.Severity) uint64 {
	r.mu.Lock()
	r.generation++
	gen := r.generation
	r.current = types.StatusMessage{Text: text, Severity: severity, Generation: gen}
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if severity != types.SeverityLoading {
		r.timer = time.AfterFunc(r.ttl, func() { r.clear(gen) })
	}
	msg := r.current
	r.seq++
	seq := r.seq
	listeners := r.snapshotListeners()
	r.mu.Unlock()

	r.logger.Debug("status reported", map[string]any{
		"text":       text,
		"severity":   string(severity),
		"generation": gen,
	})
	r.deliver(seq, listeners, msg)
	return gen
}

// Clear hides the current message if it still belongs to generation gen.
func (r *Reporter) Clear(gen uint64) bool {
	return r.clear(gen)
}

func (r *Reporter) clear(gen uint64) bool {
	r.mu.Lock()
	if r.generation != gen || r.current.Text == "" {
		r.mu.Unlock()
		return false
	}
	r.current = types.StatusMessage{Generation: gen}
	r.timer = nil
	msg := r.current
	r.seq++
	seq := r.seq
	listeners := r.snapshotListeners()
	r.mu.Unlock()

	r.deliver(seq, listeners, msg)
	return true
}

// Current returns the visible message; Text is empty when nothing is shown.
func (r *Reporter) Current() types.StatusMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Subscribe registers fn for future changes.
func (r *Reporter) Subscribe(fn Listener) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Stop cancels a pending auto-clear.
func (r *Reporter) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *Reporter) snapshotListeners() []Listener {
	return append([]Listener(nil), r.listeners...)
}

// deliver drops msg if a later change already reached the listeners.
func (r *Reporter) deliver(seq uint64, listeners []Listener, msg types.StatusMessage) {
	r.dispatch.Lock()
	defer r.dispatch.Unlock()
	if seq <= r.delivered {
		return
	}
	r.delivered = seq
	for _, fn := range listeners {
		fn(msg)
	}
}
