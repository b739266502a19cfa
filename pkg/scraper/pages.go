package scraper

import (
	"context"
	"iter"

	errs "tokscraper/pkg/errors"
)

// Pages returns the lazy page sequence starting at req. Each page re-enters
// Fetch with the previous outcome's cursor. The sequence ends when the
// platform reports no further cursor, when a cursor repeats, after
// MaxEmptyPages consecutive empty pages, or once req.Limit items were
// yielded. A failed page ends the sequence unless BestEffort is set, in
// which case it is yielded and retried up to MaxEmptyPages times.
func (s *Scraper) Pages(ctx context.Context, req Request) iter.Seq[Outcome] {
	return func(yield func(Outcome) bool) {
		h, ok := kindHooks[req.Kind]
		if ok && !h.paginated {
			yield(s.Fetch(ctx, req))
			return
		}

		seen := make(map[string]bool)
		cur := req
		empty, failures, total := 0, 0, 0

		for {
			out := s.Fetch(ctx, cur)
			if !out.OK() {
				if !yield(out) {
					return
				}
				failures++
				if !s.opts.BestEffort || errs.IsPermanent(out.Err.Type) || failures >= s.opts.MaxEmptyPages {
					return
				}
				continue
			}
			failures = 0

			seen[cursorParam(cur)] = true
			if !yield(out) {
				return
			}
			total += out.Items

			if out.Items == 0 {
				empty++
			} else {
				empty = 0
			}

			switch {
			case !out.HasMore, out.Cursor == "":
				return
			case seen[out.Cursor]:
				s.logger.WarnWithFields("cursor repeated, ending page sequence", map[string]interface{}{
					"request": cur.String(),
					"cursor":  out.Cursor,
				})
				return
			case empty >= s.opts.MaxEmptyPages:
				s.logger.WarnWithFields("too many empty pages, ending page sequence", map[string]interface{}{
					"request": cur.String(),
					"empty":   empty,
				})
				return
			case req.Limit > 0 && total >= req.Limit:
				return
			}

			// carry identifiers resolved by the previous fetch
			cur = out.Request
			cur.Cursor = out.Cursor
		}
	}
}

// Batch fetches each request in order. A failure ends the sequence unless
// BestEffort is set; cancellation always ends it.
func (s *Scraper) Batch(ctx context.Context, reqs []Request) iter.Seq[Outcome] {
	return func(yield func(Outcome) bool) {
		for _, req := range reqs {
			out := s.Fetch(ctx, req)
			if !yield(out) {
				return
			}
			if out.OK() {
				continue
			}
			if !s.opts.BestEffort || out.Err.Type == errs.ErrorTypeCancelled {
				return
			}
		}
	}
}
