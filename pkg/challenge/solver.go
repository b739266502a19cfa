package challenge

import (
	"context"
	"image"
	"math"
	"math/rand"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"tokscraper/pkg/browser"
	"tokscraper/pkg/capture"
	errs "tokscraper/pkg/errors"
	"tokscraper/pkg/logger"
	"tokscraper/pkg/retry"
)

// Kind is the challenge variant
type Kind string

const (
	KindSlide   Kind = "slide"
	KindWhirl   Kind = "whirl"
	KindUnknown Kind = "unknown"
)

// Phase is a state of the solve state machine
type Phase string

const (
	PhaseNoChallenge Phase = "no_challenge"
	PhaseDetected    Phase = "detected"
	PhaseSolving     Phase = "solving"
	PhaseSolved      Phase = "solved"
	PhaseAbandoned   Phase = "abandoned"
)

// Prompts and markers the platform renders with its challenge overlay
var (
	overlayTexts = []string{
		"Rotate the shapes",
		"Verify to continue:",
		"Click on the shapes with the same size",
		"Drag the slider to fit the puzzle",
		"Drag the puzzle piece into place",
	}
	overlaySelectors = []string{
		"#captcha_container",
		"#captcha-verify-container-main-page",
		".captcha_verify_container",
		".secsdk-captcha-drag-icon",
	}
	slideTexts = []string{"Drag the slider to fit the puzzle", "Drag the puzzle piece into place"}
	whirlTexts = []string{"Rotate the shapes"}
)

const (
	handleSelector = ".secsdk-captcha-drag-icon"
	barSelector    = ".captcha_verify_slide--slidebar"

	fallbackBarWidth    = 340.0
	fallbackHandleWidth = 64.0
)

var imageSelectors = map[Kind][2]string{
	KindSlide: {"#captcha-verify-image", ".captcha_verify_img_slide"},
	KindWhirl: {"[data-testid=whirl-outer-img]", "[data-testid=whirl-inner-img]"},
}

// Captures gives the solver the challenge traffic harvested from the page
type Captures interface {
	All(pattern capture.Pattern, pred capture.Predicate) []capture.Response
}

// State describes one solve attempt
type State struct {
	Kind      Kind
	Phase     Phase
	Attempt   int
	Reference image.Image
	Live      image.Image
	// Offset is the slide distance in image pixels
	Offset float64
	// Rotation is the whirl rotation as a fraction of a turn
	Rotation float64
	// Tip is the vertical position of the slide piece, when known
	Tip int
}

// Result is the outcome of Check or Resolve
type Result struct {
	Kind     Kind
	Phase    Phase
	Attempts int
}

// Attempt is what the solver reports for each try
type Attempt struct {
	ID        string
	Kind      Kind
	Attempt   int
	Manual    bool
	Offset    float64
	Rotation  float64
	Distance  float64
	Outcome   Phase
	Reference []byte
	Live      []byte
	Verify    []byte
	Error     string
	At        time.Time
}

// AttemptLogger receives solve attempts, e.g. for offline analysis
type AttemptLogger interface {
	LogAttempt(ctx context.Context, a Attempt) error
}

// Prompter blocks until a human reports the challenge solved
type Prompter interface {
	Wait(ctx context.Context, message string) error
}

// Options tunes the solver
type Options struct {
	Manual        bool
	MaxAttempts   int
	PollInterval  time.Duration
	DetectWindow  time.Duration
	VerifyTimeout time.Duration
}

// DefaultOptions returns the default solver options
func DefaultOptions() Options {
	return Options{
		MaxAttempts:   3,
		PollInterval:  500 * time.Millisecond,
		DetectWindow:  2 * time.Second,
		VerifyTimeout: 5 * time.Second,
	}
}

// Solver detects and resolves challenge overlays
type Solver struct {
	opts     Options
	captures Captures
	prompter Prompter
	attempts AttemptLogger
	logger   logger.Logger
}

// NewSolver creates a solver. captures may be nil, in which case images are
// taken from screenshots.
func NewSolver(opts Options, captures Captures, log logger.Logger) *Solver {
	def := DefaultOptions()
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.VerifyTimeout <= 0 {
		opts.VerifyTimeout = def.VerifyTimeout
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Solver{
		opts:     opts,
		captures: captures,
		prompter: NewTerminalPrompter(),
		logger:   log.WithField("component", "challenge"),
	}
}

// WithPrompter replaces the manual-mode prompter
func (s *Solver) WithPrompter(p Prompter) *Solver {
	s.prompter = p
	return s
}

// WithAttemptLogger reports every attempt to l
func (s *Solver) WithAttemptLogger(l AttemptLogger) *Solver {
	s.attempts = l
	return s
}

// Present probes the page once for a challenge overlay
func (s *Solver) Present(ctx context.Context, page browser.Page) (bool, error) {
	for _, sel := range overlaySelectors {
		ok, err := page.Visible(ctx, sel)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	for _, text := range overlayTexts {
		ok, err := page.HasText(ctx, text)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Check polls for an overlay for up to DetectWindow
func (s *Solver) Check(ctx context.Context, page browser.Page) (Result, error) {
	deadline := time.Now().Add(s.opts.DetectWindow)
	for {
		present, err := s.Present(ctx, page)
		if err != nil {
			return Result{Phase: PhaseNoChallenge}, err
		}
		if present {
			kind := s.classify(ctx, page)
			logger.LogChallenge(s.logger, string(kind), string(PhaseDetected), 0)
			return Result{Kind: kind, Phase: PhaseDetected}, nil
		}
		if !time.Now().Before(deadline) {
			return Result{Phase: PhaseNoChallenge}, nil
		}
		if err := retry.Wait(ctx, s.opts.PollInterval); err != nil {
			return Result{Phase: PhaseNoChallenge}, errs.FromContext(ctx)
		}
	}
}

// Resolve drives a detected challenge to Solved or Abandoned. Abandoned is
// returned together with a challenge_unsolvable error.
func (s *Solver) Resolve(ctx context.Context, page browser.Page) (Result, error) {
	present, err := s.Present(ctx, page)
	if err != nil {
		return Result{Phase: PhaseNoChallenge}, err
	}
	if !present {
		return Result{Phase: PhaseNoChallenge}, nil
	}
	kind := s.classify(ctx, page)

	if s.opts.Manual {
		return s.resolveManually(ctx, page, kind)
	}

	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		logger.LogChallenge(s.logger, string(kind), string(PhaseSolving), attempt)
		mark := time.Now()

		rec, err := s.attempt(ctx, page, kind, attempt)
		if cerr := errs.FromContext(ctx); cerr != nil {
			return Result{Kind: kind, Phase: PhaseAbandoned, Attempts: attempt}, cerr
		}
		if err == nil {
			var gone bool
			gone, err = s.waitGone(ctx, page)
			if err == nil && !gone {
				err = errs.Newf(errs.ErrorTypeChallenge, "overlay persisted after attempt %d", attempt)
			}
		}

		rec.Verify = s.verifyBody(mark)
		if err == nil {
			rec.Outcome = PhaseSolved
			s.report(ctx, rec)
			logger.LogChallenge(s.logger, string(kind), string(PhaseSolved), attempt)
			return Result{Kind: kind, Phase: PhaseSolved, Attempts: attempt}, nil
		}

		lastErr = err
		rec.Outcome = PhaseAbandoned
		rec.Error = err.Error()
		s.report(ctx, rec)
		s.logger.WithError(err).WarnWithFields("Challenge attempt failed", map[string]interface{}{
			"challenge": string(kind),
			"attempt":   attempt,
		})

		// The platform swaps in a fresh puzzle after a miss.
		if err := retry.Wait(ctx, s.opts.PollInterval); err != nil {
			return Result{Kind: kind, Phase: PhaseAbandoned, Attempts: attempt}, errs.FromContext(ctx)
		}
		if present, perr := s.Present(ctx, page); perr == nil && !present {
			logger.LogChallenge(s.logger, string(kind), string(PhaseSolved), attempt)
			return Result{Kind: kind, Phase: PhaseSolved, Attempts: attempt}, nil
		}
		kind = s.classify(ctx, page)
	}

	logger.LogChallenge(s.logger, string(kind), string(PhaseAbandoned), s.opts.MaxAttempts)
	return Result{Kind: kind, Phase: PhaseAbandoned, Attempts: s.opts.MaxAttempts},
		errs.Wrap(errs.ErrorTypeChallenge, lastErr, "challenge abandoned")
}

func (s *Solver) resolveManually(ctx context.Context, page browser.Page, kind Kind) (Result, error) {
	logger.LogChallenge(s.logger, string(kind), string(PhaseDetected), 0)
	mark := time.Now()

	if err := s.prompter.Wait(ctx, "Solve the challenge in the browser, then press Enter"); err != nil {
		if cerr := errs.FromContext(ctx); cerr != nil {
			return Result{Kind: kind, Phase: PhaseAbandoned}, cerr
		}
		return Result{Kind: kind, Phase: PhaseAbandoned}, errs.Wrap(errs.ErrorTypeChallenge, err, "manual solve")
	}

	gone, err := s.waitGone(ctx, page)
	rec := Attempt{ID: uuid.NewString(), Kind: kind, Attempt: 1, Manual: true, At: mark, Verify: s.verifyBody(mark)}
	if err != nil {
		return Result{Kind: kind, Phase: PhaseAbandoned, Attempts: 1}, err
	}
	if !gone {
		rec.Outcome = PhaseAbandoned
		s.report(ctx, rec)
		return Result{Kind: kind, Phase: PhaseAbandoned, Attempts: 1},
			errs.New(errs.ErrorTypeChallenge, "overlay still present after manual solve")
	}
	rec.Outcome = PhaseSolved
	s.report(ctx, rec)
	logger.LogChallenge(s.logger, string(kind), string(PhaseSolved), 1)
	return Result{Kind: kind, Phase: PhaseSolved, Attempts: 1}, nil
}

// classify prefers the mode announced by the captured challenge payload and
// falls back to the overlay prompt
func (s *Solver) classify(ctx context.Context, page browser.Page) Kind {
	if data, ok := s.challengeData(); ok {
		switch Kind(data.Get("mode").String()) {
		case KindSlide:
			return KindSlide
		case KindWhirl:
			return KindWhirl
		}
	}
	for _, text := range slideTexts {
		if ok, _ := page.HasText(ctx, text); ok {
			return KindSlide
		}
	}
	for _, text := range whirlTexts {
		if ok, _ := page.HasText(ctx, text); ok {
			return KindWhirl
		}
	}
	return KindUnknown
}

// challengeData returns the newest captured challenge description
func (s *Solver) challengeData() (gjson.Result, bool) {
	if s.captures == nil {
		return gjson.Result{}, false
	}
	got := s.captures.All(capture.PatternCaptcha, capture.PathContains("/captcha/get"))
	for i := len(got) - 1; i >= 0; i-- {
		data := got[i].JSON().Get("data")
		if data.Get("mode").Exists() {
			return data, true
		}
		if first := data.Get("challenges.0"); first.Exists() {
			return first, true
		}
	}
	return gjson.Result{}, false
}

func (s *Solver) verifyBody(since time.Time) []byte {
	if s.captures == nil {
		return nil
	}
	got := s.captures.All(capture.PatternCaptcha, capture.PathContains("/captcha/verify"))
	for i := len(got) - 1; i >= 0; i-- {
		if !got[i].Timestamp.Before(since) {
			return got[i].Body()
		}
	}
	return nil
}

func (s *Solver) attempt(ctx context.Context, page browser.Page, kind Kind, n int) (Attempt, error) {
	rec := Attempt{ID: uuid.NewString(), Kind: kind, Attempt: n, At: time.Now()}
	if kind == KindUnknown {
		return rec, errs.New(errs.ErrorTypeChallenge, "unsupported challenge variant")
	}

	state := State{Kind: kind, Phase: PhaseSolving, Attempt: n, Tip: -1}
	refRaw, liveRaw, err := s.images(ctx, page, kind, &state)
	rec.Reference, rec.Live = refRaw, liveRaw
	if err != nil {
		return rec, err
	}

	handle, ok, err := page.BoundingBox(ctx, handleSelector)
	if err != nil {
		return rec, err
	}
	if !ok {
		return rec, errs.New(errs.ErrorTypeChallenge, "drag handle not found")
	}
	barWidth := fallbackBarWidth
	if bar, ok, _ := page.BoundingBox(ctx, barSelector); ok && bar.Width > 0 {
		barWidth = bar.Width
	}
	handleWidth := handle.Width
	if handleWidth <= 0 {
		handleWidth = fallbackHandleWidth
	}

	var distance float64
	switch kind {
	case KindSlide:
		offset, score := slideOffset(state.Reference, state.Live, state.Tip, 8)
		state.Offset = float64(offset)
		distance = state.Offset * s.displayScale(ctx, page, kind, state.Reference)
		s.logger.DebugWithFields("Slide offset computed", map[string]interface{}{
			"offset": offset,
			"score":  score,
		})
	case KindWhirl:
		state.Rotation = WhirlRotation(state.Reference, state.Live)
		distance = (barWidth - handleWidth) * state.Rotation
		s.logger.DebugWithFields("Whirl rotation computed", map[string]interface{}{
			"rotation": state.Rotation,
			"degrees":  state.Rotation * 360,
		})
	}
	rec.Offset, rec.Rotation, rec.Distance = state.Offset, state.Rotation, distance

	if distance <= 0 {
		return rec, errs.Newf(errs.ErrorTypeChallenge, "computed drag distance %.1f is not usable", distance)
	}
	return rec, s.drag(ctx, page, handle, distance)
}

// displayScale converts natural image pixels to on-screen pixels
func (s *Solver) displayScale(ctx context.Context, page browser.Page, kind Kind, ref image.Image) float64 {
	natural := float64(ref.Bounds().Dx())
	if natural <= 0 {
		return 1
	}
	if box, ok, _ := page.BoundingBox(ctx, imageSelectors[kind][0]); ok && box.Width > 0 {
		return box.Width / natural
	}
	return 1
}

// images loads the reference and live images, preferring captured traffic
func (s *Solver) images(ctx context.Context, page browser.Page, kind Kind, state *State) ([]byte, []byte, error) {
	var refRaw, liveRaw []byte
	if data, ok := s.challengeData(); ok {
		refRaw = s.capturedImage(data.Get("question.url1").String())
		liveRaw = s.capturedImage(data.Get("question.url2").String())
		if tip := data.Get("question.tip_y"); tip.Exists() {
			state.Tip = int(tip.Int())
		}
	}

	sels := imageSelectors[kind]
	var err error
	if refRaw == nil {
		if refRaw, err = s.screenshot(ctx, page, sels[0]); err != nil {
			return nil, nil, err
		}
		state.Tip = -1
	}
	if liveRaw == nil {
		if liveRaw, err = s.screenshot(ctx, page, sels[1]); err != nil {
			return refRaw, nil, err
		}
		state.Tip = -1
	}

	if state.Reference, err = Decode(refRaw); err != nil {
		return refRaw, liveRaw, errs.Wrap(errs.ErrorTypeChallenge, err, "reference image")
	}
	if state.Live, err = Decode(liveRaw); err != nil {
		return refRaw, liveRaw, errs.Wrap(errs.ErrorTypeChallenge, err, "live image")
	}
	return refRaw, liveRaw, nil
}

func (s *Solver) capturedImage(rawURL string) []byte {
	if rawURL == "" || s.captures == nil {
		return nil
	}
	want, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	got := s.captures.All(capture.PatternCaptcha, capture.PathEquals(want.Path))
	if len(got) == 0 {
		return nil
	}
	return got[len(got)-1].Body()
}

func (s *Solver) screenshot(ctx context.Context, page browser.Page, selector string) ([]byte, error) {
	box, ok, err := page.BoundingBox(ctx, selector)
	if err != nil {
		return nil, err
	}
	if !ok || box.Empty() {
		return nil, errs.Newf(errs.ErrorTypeChallenge, "challenge image %s not found", selector)
	}
	return page.Screenshot(ctx, box)
}

// drag presses the handle and moves it distance pixels right along an eased,
// jittered path
func (s *Solver) drag(ctx context.Context, page browser.Page, handle browser.Rect, distance float64) error {
	x0, y0 := handle.Center()

	approach := 3 + rand.Intn(4)
	for i := 1; i <= approach; i++ {
		t := float64(i) / float64(approach)
		x := x0 - 40*(1-t) + jitter(2)
		y := y0 + 30*(1-t) + jitter(2)
		if err := page.Interact(ctx, browser.MouseMove(x, y)); err != nil {
			return err
		}
		if err := pause(ctx, 10, 30); err != nil {
			return err
		}
	}
	if err := page.Interact(ctx, browser.MouseDown(x0, y0)); err != nil {
		return err
	}
	if err := pause(ctx, 80, 200); err != nil {
		return err
	}

	steps := 25 + rand.Intn(20)
	for i := 1; i < steps; i++ {
		t := float64(i) / float64(steps)
		x := x0 + distance*easeOut(t)
		y := y0 + jitter(2)
		if err := page.Interact(ctx, browser.MouseMove(x, y)); err != nil {
			return err
		}
		if err := pause(ctx, 8, 25); err != nil {
			return err
		}
	}
	end := x0 + distance
	if err := page.Interact(ctx, browser.MouseMove(end, y0)); err != nil {
		return err
	}
	if err := pause(ctx, 100, 300); err != nil {
		return err
	}
	return page.Interact(ctx, browser.MouseUp(end, y0))
}

// waitGone polls until the overlay disappears or VerifyTimeout passes
func (s *Solver) waitGone(ctx context.Context, page browser.Page) (bool, error) {
	deadline := time.Now().Add(s.opts.VerifyTimeout)
	for {
		present, err := s.Present(ctx, page)
		if err != nil {
			return false, err
		}
		if !present {
			return true, nil
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}
		if err := retry.Wait(ctx, s.opts.PollInterval); err != nil {
			return false, errs.FromContext(ctx)
		}
	}
}

func (s *Solver) report(ctx context.Context, a Attempt) {
	if s.attempts == nil {
		return
	}
	if err := s.attempts.LogAttempt(ctx, a); err != nil {
		s.logger.WithError(err).Warn("Failed to record challenge attempt")
	}
}

func easeOut(t float64) float64 {
	return 1 - math.Pow(1-t, 3)
}

func jitter(amplitude float64) float64 {
	return (rand.Float64()*2 - 1) * amplitude
}

func pause(ctx context.Context, minMs, maxMs int) error {
	d := time.Duration(minMs+rand.Intn(maxMs-minMs+1)) * time.Millisecond
	return retry.Wait(ctx, d)
}
