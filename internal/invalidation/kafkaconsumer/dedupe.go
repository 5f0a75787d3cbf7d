package kafkaconsumer

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// tsDedupe remembers the newest event timestamp applied per dataset so
// redelivered or reordered events are skipped.
type tsDedupe struct {
	mu  sync.Mutex
	lru *lru.Cache[string, time.Time]
}

func newTSDedupe(size int) *tsDedupe {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[string, time.Time](size)
	return &tsDedupe{lru: c}
}

// seen reports whether an event for dataset at ts or later was already
// applied.
func (d *tsDedupe) seen(dataset string, ts time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.lru.Get(dataset)
	return ok && !ts.After(last)
}

func (d *tsDedupe) record(dataset string, ts time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lru.Get(dataset); ok && !ts.After(last) {
		return
	}
	d.lru.Add(dataset, ts)
}
