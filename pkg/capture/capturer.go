package capture

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	workers "tokscraper/internal/capture"
	errs "tokscraper/pkg/errors"
	"tokscraper/pkg/logger"
)

// Sink receives captured responses. Put reports false for a duplicate.
type Sink interface {
	Put(Response) bool
}

// Options tunes the capture layer
type Options struct {
	// Workers is the number of concurrent body readers
	Workers int
	// ReadTimeout bounds a single body read
	ReadTimeout time.Duration
}

// DefaultOptions returns the default capture options
func DefaultOptions() Options {
	return Options{Workers: 4, ReadTimeout: 5 * time.Second}
}

// Stats counts what the capture layer has seen
type Stats struct {
	Seen       uint64
	Matched    uint64
	Stored     uint64
	Duplicates uint64
	Misses     uint64
	Inline     uint64
}

type pending struct {
	event   Event
	pattern Pattern
	at      time.Time
	seq     uint64
}

// Capturer harvests matching response bodies from a browser event stream
type Capturer struct {
	sink   Sink
	opts   Options
	logger logger.Logger
	pool   *workers.Pool[pending]
	now    func() time.Time

	running  atomic.Bool
	arrivals atomic.Uint64

	seen, matched, stored, duplicates, misses, inline atomic.Uint64
}

// NewCapturer creates a capturer storing into sink
func NewCapturer(sink Sink, opts Options, log logger.Logger) *Capturer {
	if opts.Workers <= 0 {
		opts.Workers = DefaultOptions().Workers
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultOptions().ReadTimeout
	}
	if log == nil {
		log = logger.GetLogger()
	}
	log = log.WithField("component", "capture")
	return &Capturer{
		sink:   sink,
		opts:   opts,
		logger: log,
		pool:   workers.NewPool[pending](opts.Workers, opts.ReadTimeout, log),
		now:    time.Now,
	}
}

// Run consumes events until the channel closes or ctx is cancelled. Body
// reads are offloaded to the worker pool; when the pool is saturated the
// read happens inline, still bounded by ReadTimeout. Reads may finish out of
// order, so every response carries its arrival Seq.
func (c *Capturer) Run(ctx context.Context, events <-chan Event) error {
	if !c.running.CompareAndSwap(false, true) {
		return errs.New(errs.ErrorTypeUnknown, "capturer already running")
	}

	logger.LogComponentStart(c.logger, "capture", map[string]interface{}{
		"workers":      c.opts.Workers,
		"read_timeout": c.opts.ReadTimeout.String(),
	})

	c.pool.Start()
	var drained sync.WaitGroup
	drained.Add(1)
	go func() {
		defer drained.Done()
		for res := range c.pool.Results() {
			c.store(res)
		}
	}()

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			runErr = errs.FromContext(ctx)
			break loop
		case ev, ok := <-events:
			if !ok {
				break loop
			}
			c.dispatch(ctx, ev)
		}
	}

	if runErr != nil {
		c.pool.Abort()
	} else {
		c.pool.Stop()
	}
	drained.Wait()

	reason := "event stream closed"
	if runErr != nil {
		reason = runErr.Error()
	}
	logger.LogComponentStop(c.logger, "capture", reason)
	return runErr
}

// Capture handles one event synchronously
func (c *Capturer) Capture(ctx context.Context, ev Event) {
	job, ok := c.accept(ev)
	if !ok {
		return
	}
	c.store(c.pool.Read(ctx, job))
}

// Stats returns a snapshot of the counters
func (c *Capturer) Stats() Stats {
	return Stats{
		Seen:       c.seen.Load(),
		Matched:    c.matched.Load(),
		Stored:     c.stored.Load(),
		Duplicates: c.duplicates.Load(),
		Misses:     c.misses.Load(),
		Inline:     c.inline.Load(),
	}
}

func (c *Capturer) dispatch(ctx context.Context, ev Event) {
	job, ok := c.accept(ev)
	if !ok {
		return
	}
	if c.pool.TrySubmit(job) {
		return
	}
	c.inline.Add(1)
	c.store(c.pool.Read(ctx, job))
}

func (c *Capturer) accept(ev Event) (workers.Job[pending], bool) {
	c.seen.Add(1)
	pattern, ok := Match(ev.URL, ev.MimeType)
	if !ok {
		return workers.Job[pending]{}, false
	}
	c.matched.Add(1)

	if ev.RequestID == "" {
		ev.RequestID = uuid.NewString()
	}
	read := ev.Body
	if read == nil {
		read = func(context.Context) ([]byte, error) {
			return nil, errs.New(errs.ErrorTypeMalformed, "event has no body accessor")
		}
	}
	return workers.Job[pending]{
		ID:   ev.RequestID,
		Item: pending{event: ev, pattern: pattern, at: c.now(), seq: c.arrivals.Add(1)},
		Read: read,
	}, true
}

func (c *Capturer) store(res workers.Result[pending]) {
	p := res.Job.Item
	if res.Error != nil || len(res.Body) == 0 {
		c.misses.Add(1)
		fields := map[string]interface{}{
			"pattern":    string(p.pattern),
			"url":        p.event.URL,
			"request_id": p.event.RequestID,
		}
		if res.Error != nil {
			fields["error"] = res.Error.Error()
		}
		c.logger.DebugWithFields("Response body unavailable", fields)
		return
	}

	resp := NewResponse(p.event, p.pattern, res.Body, p.at)
	resp.Seq = p.seq
	if !c.sink.Put(resp) {
		c.duplicates.Add(1)
		return
	}
	c.stored.Add(1)
	logger.LogCapture(c.logger, string(p.pattern), p.event.URL, resp.Size())
}
