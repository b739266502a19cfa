package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tokscraper/pkg/browser"
	"tokscraper/pkg/cache"
	"tokscraper/pkg/capture"
	"tokscraper/pkg/challenge"
	"tokscraper/pkg/config"
	"tokscraper/pkg/direct"
	"tokscraper/pkg/logger"
	"tokscraper/pkg/ratelimit"
	"tokscraper/pkg/scraper"
	"tokscraper/pkg/session"
	"tokscraper/pkg/solvelog"
)

const persistTimeout = 10 * time.Second

// env is one wired acquisition stack: browser session, capture, cache,
// direct client, solver and the fetch orchestrator on top
type env struct {
	cfg      *config.Config
	log      logger.Logger
	browser  *browser.CDPSession
	cache    *cache.Cache
	capturer *capture.Capturer
	sessions *session.Manager
	solves   *solvelog.Store
	scraper  *scraper.Scraper

	stopCapture context.CancelFunc
	captureDone chan error
}

// setup connects the browser and wires every component. The caller must
// call close.
func setup(ctx context.Context, cfg *config.Config) (*env, error) {
	log := logger.GetLogger()
	e := &env{cfg: cfg, log: log}

	sess, err := browser.Connect(ctx, cfg.Browser, log)
	if err != nil {
		return nil, err
	}
	e.browser = sess

	e.cache = cache.New(cache.Options{Capacity: cfg.Cache.Capacity, MaxAge: cfg.Cache.MaxAge}, log)
	e.capturer = capture.NewCapturer(e.cache, capture.Options{
		Workers:     cfg.Browser.CaptureWorkers,
		ReadTimeout: cfg.Browser.CaptureTimeout,
	}, log)

	// capture outlives the caller's ctx so that close can drain it in order
	capCtx, stop := context.WithCancel(context.Background())
	e.stopCapture = stop
	e.captureDone = make(chan error, 1)
	go func() {
		e.captureDone <- e.capturer.Run(capCtx, sess.Events())
	}()

	if cfg.Session.Persist {
		sessions, err := session.NewManager(log)
		if err != nil {
			log.WithError(err).Warn("session store unavailable, cookies will not persist")
		} else {
			e.sessions = sessions
			if _, err := sessions.Seed(ctx, sess, cfg.Session.Account); err != nil {
				log.WithError(err).Warn("failed to restore session cookies")
			}
		}
	}

	limiter := ratelimit.Chain{ratelimit.NewMinDelay(cfg.Fetch.RequestDelay, cfg.Fetch.MaxDelay)}
	if cfg.Fetch.WindowRequests > 0 {
		limiter = append(limiter, ratelimit.NewSlidingWindow(cfg.Fetch.WindowRequests, cfg.Fetch.Window))
	}

	solver := challenge.NewSolver(challenge.Options{
		Manual:        cfg.Captcha.Manual,
		MaxAttempts:   cfg.Captcha.MaxAttempts,
		PollInterval:  cfg.Captcha.PollInterval,
		DetectWindow:  cfg.Captcha.DetectWindow,
		VerifyTimeout: cfg.Captcha.VerifyTimeout,
	}, e.cache, log)
	if cfg.Captcha.LogSolves {
		store, err := solvelog.Open(cfg.Captcha.LogDB, log)
		if err != nil {
			e.close()
			return nil, err
		}
		e.solves = store
		solver.WithAttemptLogger(store)
	}

	deps := scraper.Deps{
		Page:    sess,
		Guard:   browser.NewGuard(),
		Cache:   e.cache,
		Solver:  solver,
		Limiter: limiter,
	}
	if cfg.Direct.Enabled {
		transport, err := direct.NewTLSTransport(cfg.Direct)
		if err != nil {
			e.close()
			return nil, fmt.Errorf("failed to create direct transport: %w", err)
		}
		tokens := direct.NewTokenSource(sess, cfg.Session.MsToken, log)
		deps.Direct = direct.NewClient(transport, tokens, limiter, cfg.Direct, log)
	}

	e.scraper = scraper.New(scraper.OptionsFromConfig(cfg), deps, log)
	return e, nil
}

// close persists cookies and tears the stack down in reverse order
func (e *env) close() error {
	var errList []error

	if e.sessions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := e.sessions.Persist(ctx, e.browser, e.cfg.Session.Account); err != nil {
			errList = append(errList, err)
		}
		cancel()
	}

	if e.browser != nil {
		if err := e.browser.Close(); err != nil {
			errList = append(errList, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if e.stopCapture != nil {
		e.stopCapture()
		<-e.captureDone
		stats := e.capturer.Stats()
		e.log.DebugWithFields("capture stopped", map[string]interface{}{
			"seen":       stats.Seen,
			"matched":    stats.Matched,
			"stored":     stats.Stored,
			"duplicates": stats.Duplicates,
			"misses":     stats.Misses,
		})
	}

	if e.solves != nil {
		if err := e.solves.Close(); err != nil {
			errList = append(errList, err)
		}
	}

	return errors.Join(errList...)
}
