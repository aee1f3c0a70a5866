package watch

import (
	"sync"
	"time"
)

// debouncer coalesces rapid events on the same path into a single event.
// Coalescing rules:
//
//	CREATE + MODIFY = CREATE
//	CREATE + DELETE = nothing (file never really existed)
//	MODIFY + DELETE = DELETE
//	DELETE + CREATE = MODIFY (file was replaced)
type debouncer struct {
	mu      sync.Mutex
	window  time.Duration
	pending map[string]Event
	timer   *time.Timer
	out     chan []Event
	closed  bool
}

func newDebouncer(window time.Duration, bufferSize int) *debouncer {
	return &debouncer{
		window:  window,
		pending: make(map[string]Event),
		out:     make(chan []Event, bufferSize),
	}
}

// Add records an event for coalescing. The flush timer resets on every
// add, so a burst of saves produces one batch after the window of quiet.
func (d *debouncer) Add(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}

	if prev, ok := d.pending[ev.Path]; ok {
		coalesced, keep := coalesce(prev, ev)
		if !keep {
			delete(d.pending, ev.Path)
		} else {
			d.pending[ev.Path] = coalesced
		}
	} else {
		d.pending[ev.Path] = ev
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func coalesce(prev, next Event) (Event, bool) {
	switch {
	case prev.Op == OpCreate && next.Op == OpModify:
		next.Op = OpCreate
		return next, true
	case prev.Op == OpCreate && next.Op == OpDelete:
		return Event{}, false
	case prev.Op == OpDelete && next.Op == OpCreate:
		next.Op = OpModify
		return next, true
	default:
		return next, true
	}
}

func (d *debouncer) flush() {
	d.mu.Lock()
	if d.closed || len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}
	batch := make([]Event, 0, len(d.pending))
	for _, ev := range d.pending {
		batch = append(batch, ev)
	}
	d.pending = make(map[string]Event)
	d.mu.Unlock()

	// Non-blocking send. If the consumer is behind, drop the batch
	// rather than stall the watcher goroutine.
	select {
	case d.out <- batch:
	default:
	}
}

// Events returns the channel of coalesced event batches.
func (d *debouncer) Events() <-chan []Event {
	return d.out
}

// Close stops the debouncer and discards pending events.
func (d *debouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.out)
}
