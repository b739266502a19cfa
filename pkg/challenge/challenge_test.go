package challenge

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokscraper/pkg/browser"
	"tokscraper/pkg/cache"
	"tokscraper/pkg/capture"
	errs "tokscraper/pkg/errors"
	"tokscraper/pkg/logger"
)

func noiseImage(w, h int, seed int64) *image.RGBA {
	r := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(r.Intn(256))
			img.Set(x, y, color.RGBA{v, uint8(255 - int(v)/2), v / 2, 255})
		}
	}
	return img
}

func crop(src image.Image, x, y, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), src, image.Pt(x, y), draw.Src)
	return dst
}

func encodePNG(t *testing.T, img image.Image) []byte {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func angular(theta float64) color.RGBA {
	return color.RGBA{
		R: uint8(127 + 120*math.Cos(theta)),
		G: uint8(127 + 120*math.Sin(theta+1)),
		B: uint8(127 + 120*math.Cos(3*theta)),
		A: 255,
	}
}

func disc(size int, rotation float64) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	c := float64(size) / 2
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			theta := math.Atan2(float64(y)+0.5-c, float64(x)+0.5-c)
			img.Set(x, y, angular(theta-rotation))
		}
	}
	return img
}

func TestSlideOffsetFindsKnownPosition(t *testing.T) {
	bg := noiseImage(160, 80, 7)
	for _, want := range []int{12, 53, 120} {
		piece := crop(bg, want, 22, 24, 24)
		got, score := SlideOffset(bg, piece)
		assert.InDelta(t, want, got, 2, "offset %d", want)
		assert.Greater(t, score, 0.3)
	}
}

func TestSlideOffsetWithRowHint(t *testing.T) {
	bg := noiseImage(160, 80, 11)
	piece := crop(bg, 90, 40, 20, 20)
	got, _ := slideOffset(bg, piece, 40, 4)
	assert.InDelta(t, 90, got, 2)
}

func TestSlideOffsetPieceLargerThanBackground(t *testing.T) {
	got, score := SlideOffset(noiseImage(10, 10, 1), noiseImage(20, 20, 2))
	assert.Equal(t, 0, got)
	assert.Equal(t, 0.0, score)
}

func TestWhirlRotation(t *testing.T) {
	outer := disc(100, 0)
	for _, quarter := range []float64{0.25, 0.5, 0.1} {
		inner := disc(60, 2*math.Pi*quarter)
		assert.InDelta(t, quarter, WhirlRotation(outer, inner), 0.02, "rotation %v", quarter)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("not an image"))
	assert.Error(t, err)

	img, err := Decode(encodePNG(t, noiseImage(4, 4, 1)))
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())
}

func fastOptions() Options {
	return Options{
		MaxAttempts:   3,
		PollInterval:  5 * time.Millisecond,
		DetectWindow:  60 * time.Millisecond,
		VerifyTimeout: 40 * time.Millisecond,
	}
}

type recordingLogger struct {
	mu       sync.Mutex
	attempts []Attempt
}

func (r *recordingLogger) LogAttempt(ctx context.Context, a Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, a)
	return nil
}

type funcPrompter func(ctx context.Context) error

func (f funcPrompter) Wait(ctx context.Context, message string) error { return f(ctx) }

func hideOverlay(f *browser.Fake) {
	for _, sel := range overlaySelectors {
		f.SetVisible(sel, false)
	}
	for _, text := range overlayTexts {
		f.SetText(text, false)
	}
}

func TestCheckHasNoFalsePositive(t *testing.T) {
	page := browser.NewFake()
	s := NewSolver(fastOptions(), nil, logger.NewNopLogger())

	start := time.Now()
	res, err := s.Check(context.Background(), page)

	require.NoError(t, err)
	assert.Equal(t, PhaseNoChallenge, res.Phase)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	assert.Empty(t, page.Actions())

	res, err = s.Resolve(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, PhaseNoChallenge, res.Phase)
}

func TestCheckDetectsAndClassifies(t *testing.T) {
	page := browser.NewFake()
	page.SetText("Drag the slider to fit the puzzle", true)

	res, err := NewSolver(fastOptions(), nil, logger.NewNopLogger()).Check(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, PhaseDetected, res.Phase)
	assert.Equal(t, KindSlide, res.Kind)

	page = browser.NewFake()
	page.SetText("Rotate the shapes", true)
	res, err = NewSolver(fastOptions(), nil, logger.NewNopLogger()).Check(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, KindWhirl, res.Kind)
}

func TestResolveSlideFromCapturedImages(t *testing.T) {
	bg := noiseImage(160, 80, 3)
	piece := crop(bg, 53, 22, 24, 24)

	captures := cache.New(cache.DefaultOptions(), logger.NewNopLogger())
	put := func(id, url string, body []byte) {
		captures.Put(capture.NewResponse(capture.Event{RequestID: id, URL: url}, capture.PatternCaptcha, body, time.Now()))
	}
	put("get", "https://verification.tiktokw.us/captcha/get?lang=en", []byte(`{"data":{"challenges":[{"id":"c1","mode":"slide",
		"question":{"url1":"https://p16-captcha-va.ibyteimg.com/img/bg.png?x=1","url2":"https://p16-captcha-va.ibyteimg.com/img/piece.png","tip_y":22}}]}}`))
	put("bg", "https://p16-captcha-va.ibyteimg.com/img/bg.png?x=1", encodePNG(t, bg))
	put("piece", "https://p16-captcha-va.ibyteimg.com/img/piece.png", encodePNG(t, piece))

	page := browser.NewFake()
	page.SetText("Drag the slider to fit the puzzle", true)
	page.SetBox(handleSelector, browser.Rect{X: 100, Y: 500, Width: 40, Height: 40})
	page.SetBox(barSelector, browser.Rect{X: 100, Y: 500, Width: 340, Height: 40})
	page.SetBox("#captcha-verify-image", browser.Rect{X: 100, Y: 300, Width: 320, Height: 160})

	var releasedAt float64
	var pressed bool
	page.OnInteract = func(ctx context.Context, a browser.Action) error {
		switch a.Kind {
		case browser.ActionMouseDown:
			pressed = true
		case browser.ActionMouseUp:
			releasedAt = a.X
			hideOverlay(page)
		}
		return nil
	}

	rec := &recordingLogger{}
	s := NewSolver(fastOptions(), captures, logger.NewNopLogger()).WithAttemptLogger(rec)
	res, err := s.Resolve(context.Background(), page)

	require.NoError(t, err)
	assert.Equal(t, PhaseSolved, res.Phase)
	assert.Equal(t, KindSlide, res.Kind)
	assert.Equal(t, 1, res.Attempts)
	assert.True(t, pressed)
	// 53px in a 160px image shown 320px wide, dragged from the handle centre at x=120.
	assert.InDelta(t, 120+106, releasedAt, 4)

	require.Len(t, rec.attempts, 1)
	assert.Equal(t, PhaseSolved, rec.attempts[0].Outcome)
	assert.InDelta(t, 53, rec.attempts[0].Offset, 2)
	assert.NotEmpty(t, rec.attempts[0].Reference)
}

func TestResolveAbandonsAfterMaxAttempts(t *testing.T) {
	page := browser.NewFake()
	page.SetVisible("#captcha_container", true)

	rec := &recordingLogger{}
	s := NewSolver(fastOptions(), nil, logger.NewNopLogger()).WithAttemptLogger(rec)
	res, err := s.Resolve(context.Background(), page)

	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeChallenge, errs.TypeOf(err))
	assert.Equal(t, PhaseAbandoned, res.Phase)
	assert.Equal(t, 3, res.Attempts)
	assert.Len(t, rec.attempts, 3)
	for _, a := range rec.attempts {
		assert.Equal(t, PhaseAbandoned, a.Outcome)
	}
}

func TestResolveManually(t *testing.T) {
	page := browser.NewFake()
	page.SetText("Rotate the shapes", true)

	opts := fastOptions()
	opts.Manual = true
	rec := &recordingLogger{}
	s := NewSolver(opts, nil, logger.NewNopLogger()).
		WithAttemptLogger(rec).
		WithPrompter(funcPrompter(func(ctx context.Context) error {
			hideOverlay(page)
			return nil
		}))

	res, err := s.Resolve(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, PhaseSolved, res.Phase)
	assert.Empty(t, page.Actions())
	require.Len(t, rec.attempts, 1)
	assert.True(t, rec.attempts[0].Manual)
}

func TestManualWaitIsCancellable(t *testing.T) {
	page := browser.NewFake()
	page.SetVisible("#captcha_container", true)

	opts := fastOptions()
	opts.Manual = true
	s := NewSolver(opts, nil, logger.NewNopLogger()).
		WithPrompter(funcPrompter(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := s.Resolve(ctx, page)
	assert.Equal(t, errs.ErrorTypeCancelled, errs.TypeOf(err))
}
