package cache

import (
	"context"
	"sync"
	"time"

	"tokscraper/pkg/capture"
	errs "tokscraper/pkg/errors"
	"tokscraper/pkg/logger"
)

// Options bounds the cache
type Options struct {
	// Capacity is the maximum number of entries across all patterns
	Capacity int
	// MaxAge evicts entries older than this; zero disables age eviction
	MaxAge time.Duration
}

// DefaultOptions returns the default cache bounds
func DefaultOptions() Options {
	return Options{Capacity: 2000, MaxAge: 10 * time.Minute}
}

type entry struct {
	seq  uint64
	resp capture.Response
}

// Cache holds recent captured responses per pattern, ordered by arrival.
// Responses without an arrival Seq keep insertion order.
type Cache struct {
	opts   Options
	logger logger.Logger
	now    func() time.Time

	mu        sync.Mutex
	seq       uint64
	byPattern map[capture.Pattern][]entry
	ids       map[string]uint64
	// retired holds request ids of evicted entries, at most Capacity of them
	retired  map[string]struct{}
	retiredQ []string
	size     int
	changed  chan struct{}
	evicted  uint64
}

// New creates an empty cache
func New(opts Options, log logger.Logger) *Cache {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultOptions().Capacity
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Cache{
		opts:      opts,
		logger:    log.WithField("component", "cache"),
		now:       time.Now,
		byPattern: make(map[capture.Pattern][]entry),
		ids:       make(map[string]uint64),
		retired:   make(map[string]struct{}),
		changed:   make(chan struct{}),
	}
}

// Put stores a response. It returns false when the request id is held or
// was recently evicted.
func (c *Cache) Put(resp capture.Response) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if resp.RequestID != "" {
		if _, dup := c.ids[resp.RequestID]; dup {
			return false
		}
		if _, gone := c.retired[resp.RequestID]; gone {
			return false
		}
	}

	c.seq++
	c.byPattern[resp.Pattern] = insertByArrival(c.byPattern[resp.Pattern], entry{seq: c.seq, resp: resp})
	if resp.RequestID != "" {
		c.ids[resp.RequestID] = c.seq
	}
	c.size++
	c.evictLocked()

	close(c.changed)
	c.changed = make(chan struct{})
	return true
}

// insertByArrival places e after every entry that arrived before it
func insertByArrival(entries []entry, e entry) []entry {
	i := len(entries)
	if e.resp.Seq != 0 {
		for i > 0 && entries[i-1].resp.Seq > e.resp.Seq {
			i--
		}
	}
	entries = append(entries, entry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = e
	return entries
}

// Mark returns a position; GetAfter only considers entries stored after it
func (c *Cache) Mark() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Len returns the number of held entries
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked()
	return c.size
}

// Evicted returns the number of entries dropped by the bounds so far
func (c *Cache) Evicted() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evicted
}

// Get waits up to timeout for the earliest response of pattern that matches pred
func (c *Cache) Get(ctx context.Context, pattern capture.Pattern, pred capture.Predicate, timeout time.Duration) (capture.Response, error) {
	return c.GetAfter(ctx, pattern, pred, 0, timeout)
}

// GetAfter is Get restricted to entries stored after mark
func (c *Cache) GetAfter(ctx context.Context, pattern capture.Pattern, pred capture.Predicate, mark uint64, timeout time.Duration) (capture.Response, error) {
	if pred == nil {
		pred = capture.Any
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		resp, ok, changed := c.find(pattern, pred, mark)
		if ok {
			return resp, nil
		}

		select {
		case <-changed:
		case <-timer.C:
			return capture.Response{}, errs.Newf(errs.ErrorTypeCacheTimeout,
				"no %s response matched within %s", pattern, timeout)
		case <-ctx.Done():
			return capture.Response{}, errs.FromContext(ctx)
		}
	}
}

// Find returns the earliest current match without waiting
func (c *Cache) Find(pattern capture.Pattern, pred capture.Predicate) (capture.Response, bool) {
	if pred == nil {
		pred = capture.Any
	}
	resp, ok, _ := c.find(pattern, pred, 0)
	return resp, ok
}

// All returns every held response of pattern matching pred, oldest first
func (c *Cache) All(pattern capture.Pattern, pred capture.Predicate) []capture.Response {
	return c.AllAfter(pattern, pred, 0)
}

// AllAfter is All restricted to entries stored after mark
func (c *Cache) AllAfter(pattern capture.Pattern, pred capture.Predicate, mark uint64) []capture.Response {
	if pred == nil {
		pred = capture.Any
	}
	c.mu.Lock()
	c.evictLocked()
	entries := append([]entry(nil), c.byPattern[pattern]...)
	c.mu.Unlock()

	var out []capture.Response
	for _, e := range entries {
		if e.seq > mark && pred(e.resp) {
			out = append(out, e.resp)
		}
	}
	return out
}

// find snapshots the pattern list under the lock and runs pred outside it.
// The returned channel closes on the next Put.
func (c *Cache) find(pattern capture.Pattern, pred capture.Predicate, mark uint64) (capture.Response, bool, <-chan struct{}) {
	c.mu.Lock()
	c.evictLocked()
	entries := append([]entry(nil), c.byPattern[pattern]...)
	changed := c.changed
	c.mu.Unlock()

	for _, e := range entries {
		if e.seq > mark && pred(e.resp) {
			return e.resp, true, changed
		}
	}
	return capture.Response{}, false, changed
}

func (c *Cache) evictLocked() {
	if c.opts.MaxAge > 0 {
		cutoff := c.now().Add(-c.opts.MaxAge)
		for p, entries := range c.byPattern {
			i := 0
			for i < len(entries) && entries[i].resp.Timestamp.Before(cutoff) {
				c.forgetLocked(entries[i])
				i++
			}
			if i > 0 {
				c.byPattern[p] = entries[i:]
			}
		}
	}

	for c.size > c.opts.Capacity {
		var oldest capture.Pattern
		var oldestSeq uint64
		for p, entries := range c.byPattern {
			if len(entries) > 0 && (oldestSeq == 0 || entries[0].seq < oldestSeq) {
				oldest, oldestSeq = p, entries[0].seq
			}
		}
		if oldestSeq == 0 {
			return
		}
		c.forgetLocked(c.byPattern[oldest][0])
		c.byPattern[oldest] = c.byPattern[oldest][1:]
	}
}

func (c *Cache) forgetLocked(e entry) {
	if e.resp.RequestID != "" && c.ids[e.resp.RequestID] == e.seq {
		delete(c.ids, e.resp.RequestID)
		c.retireLocked(e.resp.RequestID)
	}
	c.size--
	c.evicted++
	c.logger.DebugWithFields("Evicted cached response", map[string]interface{}{
		"pattern": string(e.resp.Pattern),
		"url":     e.resp.URL,
	})
}

func (c *Cache) retireLocked(id string) {
	if _, ok := c.retired[id]; ok {
		return
	}
	c.retired[id] = struct{}{}
	c.retiredQ = append(c.retiredQ, id)
	if len(c.retiredQ) > c.opts.Capacity {
		delete(c.retired, c.retiredQ[0])
		c.retiredQ = c.retiredQ[1:]
	}
}
