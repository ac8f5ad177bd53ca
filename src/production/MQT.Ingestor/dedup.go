package mqtingestor

import (
	"sync"
	"time"
)

// Deduper remembers message keys for a fixed window
type Deduper struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	seen   map[string]time.Time
	now    func() time.Time
}

func NewDeduper(window time.Duration, max int) *Deduper {
	if max <= 0 {
		max = 10000
	}
	return &Deduper{window: window, max: max, seen: make(map[string]time.Time), now: time.Now}
}

// ShouldProcess reports whether key was not seen within the window, and records it
func (d *Deduper) ShouldProcess(key string) bool {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if exp, ok := d.seen[key]; ok && now.Before(exp) {
		return false
	}
	d.seen[key] = now.Add(d.window)
	if len(d.seen) > d.max {
		for k, v := range d.seen {
			if now.After(v) {
				delete(d.seen, k)
			}
			if len(d.seen) <= d.max {
				break
			}
		}
	}
	return true
}
