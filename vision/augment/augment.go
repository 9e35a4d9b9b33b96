// Package augment applies real-time random transforms and standardization to
// grayscale training images, mirroring what Keras' ImageDataGenerator does for
// single-channel inputs.
package augment

import (
	"image"
	"image/color"
	"math"
	"math/rand"
	"sync"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
	"k8s.io/klog/v2"

	"github.com/tsawler/go-metal-alexnet/errs"
)

// FillMode decides what pixels mapped from outside the source become.
type FillMode int

const (
	// FillNearest repeats the closest edge pixel.
	FillNearest FillMode = iota
	// FillConstant uses Config.Cval.
	FillConstant
)

const stdEpsilon = 1e-6

// Config selects the transforms. The zero value disables everything.
type Config struct {
	FeaturewiseCenter           bool
	SamplewiseCenter            bool
	FeaturewiseStdNormalization bool
	SamplewiseStdNormalization  bool
	ZCAWhitening                bool

	// RotationRange is in degrees; angles are drawn from [-r, r].
	RotationRange float64
	// WidthShiftRange and HeightShiftRange are fractions of the image size.
	WidthShiftRange  float64
	HeightShiftRange float64
	HorizontalFlip   bool
	VerticalFlip     bool

	FillMode FillMode
	Cval     uint8
}

// TrainingConfig is the augmentation applied to the training subset.
func TrainingConfig() Config {
	return Config{
		RotationRange:    180,
		WidthShiftRange:  0.1,
		HeightShiftRange: 0.1,
		HorizontalFlip:   true,
		VerticalFlip:     true,
		FillMode:         FillNearest,
	}
}

// Validate rejects options this package cannot honour.
func (c Config) Validate() error {
	if c.ZCAWhitening {
		return errs.Configf("augment", "ZCA whitening is not supported")
	}
	if c.RotationRange < 0 || c.WidthShiftRange < 0 || c.HeightShiftRange < 0 {
		return errs.Configf("augment", "ranges must not be negative")
	}
	if c.FillMode != FillNearest && c.FillMode != FillConstant {
		return errs.Configf("augment", "unknown fill mode %d", c.FillMode)
	}
	return nil
}

// Geometric reports whether RandomParams can return anything but identity.
func (c Config) Geometric() bool {
	return c.RotationRange > 0 || c.WidthShiftRange > 0 || c.HeightShiftRange > 0 ||
		c.HorizontalFlip || c.VerticalFlip
}

// Params is one concrete draw of the random transform.
type Params struct {
	Theta float64 // degrees
	Tx    float64 // pixels, along x
	Ty    float64 // pixels, along y
	FlipH bool
	FlipV bool
}

// Identity reports whether p leaves an image unchanged.
func (p Params) Identity() bool {
	return p.Theta == 0 && p.Tx == 0 && p.Ty == 0 && !p.FlipH && !p.FlipV
}

// RandomParams draws transform parameters for a width x height image.
func (c Config) RandomParams(rng *rand.Rand, width, height int) Params {
	var p Params
	if c.RotationRange > 0 {
		p.Theta = uniform(rng, -c.RotationRange, c.RotationRange)
	}
	if c.WidthShiftRange > 0 {
		p.Tx = uniform(rng, -c.WidthShiftRange, c.WidthShiftRange) * float64(width)
	}
	if c.HeightShiftRange > 0 {
		p.Ty = uniform(rng, -c.HeightShiftRange, c.HeightShiftRange) * float64(height)
	}
	p.FlipH = c.HorizontalFlip && rng.Float64() < 0.5
	p.FlipV = c.VerticalFlip && rng.Float64() < 0.5
	return p
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

// Transform returns a new image: src rotated about its center by p.Theta,
// shifted by (p.Tx, p.Ty), then flipped. src is not modified.
func Transform(src *image.Gray, p Params, mode FillMode, cval uint8) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)

	if p.Theta != 0 || p.Tx != 0 || p.Ty != 0 {
		origin := dst
		dst = image.NewGray(origin.Rect)
		d2s := destToSource(w, h, p)
		switch mode {
		case FillConstant:
			draw.Draw(dst, dst.Bounds(), image.NewUniform(color.Gray{Y: cval}), image.Point{}, draw.Src)
			draw.NearestNeighbor.Transform(dst, invert(d2s), origin, origin.Rect, draw.Src, nil)
		default:
			sampleNearest(dst, origin, d2s)
		}
	}

	if p.FlipH {
		flipHorizontal(dst)
	}
	if p.FlipV {
		flipVertical(dst)
	}
	return dst
}

// destToSource maps destination coordinates (relative to the image origin) to
// source coordinates: rotate about the center, then translate.
func destToSource(w, h int, p Params) f64.Aff3 {
	rad := p.Theta * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)
	cx, cy := float64(w)/2, float64(h)/2
	return f64.Aff3{
		cos, -sin, cx - cos*cx + sin*cy + p.Tx,
		sin, cos, cy - sin*cx - cos*cy + p.Ty,
	}
}

func invert(m f64.Aff3) f64.Aff3 {
	det := m[0]*m[4] - m[1]*m[3]
	a, b := m[4]/det, -m[1]/det
	c, d := -m[3]/det, m[0]/det
	return f64.Aff3{
		a, b, -(a*m[2] + b*m[5]),
		c, d, -(c*m[2] + d*m[5]),
	}
}

// sampleNearest fills dst from src through d2s, clamping out-of-range samples
// to the closest edge pixel. Both images have a zero origin.
func sampleNearest(dst, src *image.Gray, d2s f64.Aff3) {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	for y := 0; y < h; y++ {
		dy := float64(y) + 0.5
		for x := 0; x < w; x++ {
			dx := float64(x) + 0.5
			sx := clamp(int(math.Floor(d2s[0]*dx+d2s[1]*dy+d2s[2])), w)
			sy := clamp(int(math.Floor(d2s[3]*dx+d2s[4]*dy+d2s[5])), h)
			dst.Pix[y*dst.Stride+x] = src.Pix[sy*src.Stride+sx]
		}
	}
}

func clamp(v, n int) int {
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}

func flipHorizontal(img *image.Gray) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w]
		for i, j := 0, w-1; i < j; i, j = i+1, j-1 {
			row[i], row[j] = row[j], row[i]
		}
	}
}

func flipVertical(img *image.Gray) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	for i, j := 0, h-1; i < j; i, j = i+1, j-1 {
		a := img.Pix[i*img.Stride : i*img.Stride+w]
		b := img.Pix[j*img.Stride : j*img.Stride+w]
		for x := range a {
			a[x], b[x] = b[x], a[x]
		}
	}
}

// Generator draws random transforms from a seeded source and standardizes
// tensors. It is safe for concurrent use.
type Generator struct {
	cfg Config

	mu  sync.Mutex
	rng *rand.Rand

	fitted    bool
	mean, std float32
	warnOnce  sync.Once
}

// NewGenerator validates cfg and seeds the random source.
func NewGenerator(cfg Config, seed int64) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Generator{cfg: cfg, rng: rand.New(rand.NewSource(seed))}, nil
}

// Config returns the generator's configuration.
func (g *Generator) Config() Config {
	return g.cfg
}

// Params draws the next random transform.
func (g *Generator) Params(width, height int) Params {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg.RandomParams(g.rng, width, height)
}

// Augment returns a randomly transformed copy of img, or img itself when no
// geometric transform is configured.
func (g *Generator) Augment(img *image.Gray) *image.Gray {
	if !g.cfg.Geometric() {
		return img
	}
	b := img.Bounds()
	p := g.Params(b.Dx(), b.Dy())
	if p.Identity() {
		return img
	}
	return Transform(img, p, g.cfg.FillMode, g.cfg.Cval)
}

// Fit computes the dataset mean and standard deviation used by the
// featurewise options. samples are tensors as produced by ToTensor.
func (g *Generator) Fit(samples [][]float32) error {
	var n int
	var sum float64
	for _, s := range samples {
		for _, v := range s {
			sum += float64(v)
		}
		n += len(s)
	}
	if n == 0 {
		return errs.Dataf("augment fit", "", "no samples")
	}
	mean := sum / float64(n)
	var sq float64
	for _, s := range samples {
		for _, v := range s {
			d := float64(v) - mean
			sq += d * d
		}
	}
	g.mu.Lock()
	g.mean = float32(mean)
	g.std = float32(math.Sqrt(sq / float64(n)))
	g.fitted = true
	g.mu.Unlock()
	return nil
}

// Standardize normalizes x in place according to the configured options.
func (g *Generator) Standardize(x []float32) {
	if len(x) == 0 {
		return
	}
	if g.cfg.SamplewiseCenter || g.cfg.SamplewiseStdNormalization {
		mean, std := moments(x)
		if g.cfg.SamplewiseCenter {
			for i := range x {
				x[i] -= mean
			}
		}
		if g.cfg.SamplewiseStdNormalization {
			for i := range x {
				x[i] /= std + stdEpsilon
			}
		}
	}

	if !g.cfg.FeaturewiseCenter && !g.cfg.FeaturewiseStdNormalization {
		return
	}
	g.mu.Lock()
	fitted, mean, std := g.fitted, g.mean, g.std
	g.mu.Unlock()
	if !fitted {
		g.warnOnce.Do(func() {
			klog.Warning("featurewise standardization requested but the generator was never fit; skipping")
		})
		return
	}
	if g.cfg.FeaturewiseCenter {
		for i := range x {
			x[i] -= mean
		}
	}
	if g.cfg.FeaturewiseStdNormalization {
		for i := range x {
			x[i] /= std + stdEpsilon
		}
	}
}

func moments(x []float32) (mean, std float32) {
	var sum float64
	for _, v := range x {
		sum += float64(v)
	}
	m := sum / float64(len(x))
	var sq float64
	for _, v := range x {
		d := float64(v) - m
		sq += d * d
	}
	return float32(m), float32(math.Sqrt(sq / float64(len(x))))
}
