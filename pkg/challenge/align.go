package challenge

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// WhirlSamples is the angular resolution used to compare whirl rings
const WhirlSamples = 300

// Decode decodes a challenge image (webp, png or jpeg)
func Decode(b []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("decode challenge image: %w", err)
	}
	return img, nil
}

type plane struct {
	w, h int
	px   []float64
}

func (p *plane) at(x, y int) float64 {
	return p.px[y*p.w+x]
}

// reflect101 mirrors out-of-range indices without repeating the edge
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}

func grayPlane(img image.Image) *plane {
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)

	p := &plane{w: b.Dx(), h: b.Dy(), px: make([]float64, b.Dx()*b.Dy())}
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			p.px[y*p.w+x] = float64(g.GrayAt(x, y).Y)
		}
	}
	return p
}

func convolve3(src *plane, k [3][3]float64) *plane {
	dst := &plane{w: src.w, h: src.h, px: make([]float64, len(src.px))}
	for y := 0; y < src.h; y++ {
		for x := 0; x < src.w; x++ {
			var sum float64
			for j := -1; j <= 1; j++ {
				for i := -1; i <= 1; i++ {
					sum += k[j+1][i+1] * src.at(reflect101(x+i, src.w), reflect101(y+j, src.h))
				}
			}
			dst.px[y*src.w+x] = sum
		}
	}
	return dst
}

var (
	gaussian3 = [3][3]float64{{1.0 / 16, 2.0 / 16, 1.0 / 16}, {2.0 / 16, 4.0 / 16, 2.0 / 16}, {1.0 / 16, 2.0 / 16, 1.0 / 16}}
	sobelX    = [3][3]float64{{-1, 0, 1}, {-2, 0, 2}, {-1, 0, 1}}
	sobelY    = [3][3]float64{{-1, -2, -1}, {0, 0, 0}, {1, 2, 1}}
)

func saturate(v float64) float64 {
	v = math.Abs(v)
	if v > 255 {
		return 255
	}
	return v
}

// edges blurs the image and returns the Sobel gradient magnitude
func edges(img image.Image) *plane {
	blurred := convolve3(grayPlane(img), gaussian3)
	gx := convolve3(blurred, sobelX)
	gy := convolve3(blurred, sobelY)
	out := &plane{w: blurred.w, h: blurred.h, px: make([]float64, len(blurred.px))}
	for i := range out.px {
		out.px[i] = 0.5*saturate(gx.px[i]) + 0.5*saturate(gy.px[i])
	}
	return out
}

// SlideOffset finds the horizontal position of piece inside bg using
// normalized cross-correlation of their edge maps. It returns the best x
// offset in bg pixels and the correlation score in [-1, 1].
func SlideOffset(bg, piece image.Image) (int, float64) {
	return slideOffset(bg, piece, -1, 0)
}

// slideOffset restricts the vertical search to rows [y-band, y+band] when y >= 0
func slideOffset(bg, piece image.Image, y, band int) (int, float64) {
	src := edges(bg)
	tpl := edges(piece)
	if tpl.w > src.w || tpl.h > src.h || tpl.w == 0 || tpl.h == 0 {
		return 0, 0
	}

	n := float64(tpl.w * tpl.h)
	var tmean float64
	for _, v := range tpl.px {
		tmean += v
	}
	tmean /= n
	centered := make([]float64, len(tpl.px))
	var tnorm float64
	for i, v := range tpl.px {
		centered[i] = v - tmean
		tnorm += centered[i] * centered[i]
	}

	minY, maxY := 0, src.h-tpl.h
	if y >= 0 {
		minY = max(0, y-band)
		maxY = min(src.h-tpl.h, y+band)
	}

	bestX, best := 0, math.Inf(-1)
	for oy := minY; oy <= maxY; oy++ {
		for ox := 0; ox <= src.w-tpl.w; ox++ {
			var cross, sum, sumSq float64
			for j := 0; j < tpl.h; j++ {
				row := (oy+j)*src.w + ox
				trow := j * tpl.w
				for i := 0; i < tpl.w; i++ {
					v := src.px[row+i]
					cross += centered[trow+i] * v
					sum += v
					sumSq += v * v
				}
			}
			wvar := sumSq - sum*sum/n
			denom := math.Sqrt(tnorm * wvar)
			score := 0.0
			if denom > 1e-9 {
				score = cross / denom
			}
			if score > best {
				best, bestX = score, ox
			}
		}
	}
	return bestX, best
}

type ring [WhirlSamples][3]float64

func sampleRing(img image.Image, radius float64) ring {
	var r ring
	b := img.Bounds()
	cx := float64(b.Dx()) / 2
	cy := float64(b.Dy()) / 2
	for k := 0; k < WhirlSamples; k++ {
		theta := 2 * math.Pi * float64(k) / WhirlSamples
		x := min(max(int(cx+radius*math.Cos(theta)), 0), b.Dx()-1)
		y := min(max(int(cy+radius*math.Sin(theta)), 0), b.Dy()-1)
		c := color.RGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA)
		r[k] = [3]float64{float64(c.R), float64(c.G), float64(c.B)}
	}
	return r
}

func (r *ring) center() {
	var mean [3]float64
	for k := range r {
		for ch := 0; ch < 3; ch++ {
			mean[ch] += r[k][ch]
		}
	}
	for ch := 0; ch < 3; ch++ {
		mean[ch] /= WhirlSamples
	}
	for k := range r {
		for ch := 0; ch < 3; ch++ {
			r[k][ch] -= mean[ch]
		}
	}
}

// WhirlRotation compares the ring just outside the inner disc (sampled from
// outer) with the rim of inner and returns how far inner is rotated, as a
// fraction of a full turn in [0, 1).
func WhirlRotation(outer, inner image.Image) float64 {
	innerRadius := float64(inner.Bounds().Dy()) / 2
	outerRing := sampleRing(outer, innerRadius+1)
	innerRing := sampleRing(inner, innerRadius-1)
	outerRing.center()
	innerRing.center()

	best, bestShift := math.Inf(-1), 0
	for shift := 0; shift < WhirlSamples; shift++ {
		var score float64
		for k := 0; k < WhirlSamples; k++ {
			j := (k - shift + WhirlSamples) % WhirlSamples
			for ch := 0; ch < 3; ch++ {
				score += outerRing[k][ch] * innerRing[j][ch]
			}
		}
		if score > best {
			best, bestShift = score, shift
		}
	}
	return math.Mod(float64(WhirlSamples-bestShift)/WhirlSamples, 1)
}
