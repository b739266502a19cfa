// Package scraper runs logical fetches against the platform.
//
// Every fetch is described by a Request whose Kind selects a set of hooks:
// the direct web API endpoint and parameters, the page the browser would
// open to trigger the same traffic, the capture pattern and predicate that
// identify that traffic, and the normalization of the payload.
//
// Algorithm:
//
// A fetch first tries the direct client. A permanent failure (not found,
// cancelled) is returned at once. Any other failure falls back to the
// browser: the page is driven (navigated, then scrolled or expanded for later
// pages), and the response cache is waited on in poll-sized slices. Between
// slices the page is probed for a challenge overlay; resolving it suspends the
// wait budget, and an abandoned challenge fails the attempt. Attempts are retried
// with backoff and exhausting them yields an unreachable outcome.
//
// Usage:
//
//	s := scraper.New(scraper.OptionsFromConfig(cfg), scraper.Deps{
//	    Direct:  client,
//	    Page:    session,
//	    Guard:   browser.NewGuard(),
//	    Cache:   responses,
//	    Solver:  solver,
//	    Limiter: limiter,
//	}, log)
//
//	for page := range s.Pages(ctx, scraper.Request{Kind: scraper.KindUserVideos, Username: "alice"}) {
//	    if !page.OK() {
//	        break
//	    }
//	    fmt.Println(page.Source, page.Items)
//	}
//
// Outcomes carry exactly one source. Failures never panic; they are values
// with a reason code and a diagnostic trail of the steps that failed.
package scraper
