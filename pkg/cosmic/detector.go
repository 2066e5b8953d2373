// Package cosmic implements iterative statistical detection of cosmic-ray
// spikes in 2D detector images. A spike is a pixel whose intensity sits far
// above the statistics of its local neighborhood; detected pixels are set to
// NaN so that downstream combination excludes them.
package cosmic

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"beamcombine/internal/models"
)

// Params controls the spike detection.
type Params struct {
	// Sigma is the number of standard deviations above the local mean a
	// pixel must sit to count as a spike. Higher values are more
	// conservative. Zero is legal and flags anything above the local mean.
	Sigma float64

	// WindowSize is the edge length of the square neighborhood used for
	// local statistics. Must be an odd number >= 3 so the window is
	// centered on the pixel under test.
	WindowSize int

	// Iterations is how many detection passes to run. Each pass removes
	// the spikes it found before the next pass recomputes statistics, so
	// later passes see a cleaner background and can reveal weaker spikes.
	Iterations int

	// MinIntensity is the floor below which a pixel is never flagged.
	// This keeps noise-level fluctuations above a near-zero local mean
	// from being treated as spikes.
	MinIntensity float64
}

// Validate checks the parameter invariants.
func (p Params) Validate() error {
	if p.Sigma < 0 || math.IsNaN(p.Sigma) {
		return models.Configf("cosmic sigma must be >= 0, got %g", p.Sigma)
	}
	if p.WindowSize < 3 || p.WindowSize%2 == 0 {
		return models.Configf("cosmic window size must be an odd integer >= 3, got %d", p.WindowSize)
	}
	if p.Iterations < 1 {
		return models.Configf("cosmic iterations must be >= 1, got %d", p.Iterations)
	}
	if p.MinIntensity < 0 || math.IsNaN(p.MinIntensity) {
		return models.Configf("cosmic minimum intensity must be >= 0, got %g", p.MinIntensity)
	}
	return nil
}

// Detect returns a copy of img in which every pixel identified as a cosmic
// ray has been set invalid (NaN). The input image is never mutated and its
// dimensions are preserved; pixels invalid on input stay invalid in the
// output. Valid pixels keep their original values unchanged: detection
// replaces nothing and smooths nothing.
func Detect(img *models.Image, p Params) (*models.Image, error) {
	out, _, err := DetectMask(img, p)
	return out, err
}

// DetectMask is Detect with per-iteration diagnostics: the returned slice
// holds the number of newly flagged pixels in each pass.
func DetectMask(img *models.Image, p Params) (*models.Image, []int, error) {
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}
	if p.WindowSize > img.Width || p.WindowSize > img.Height {
		return nil, nil, models.Configf(
			"cosmic window size %d exceeds image dimensions %dx%d",
			p.WindowSize, img.Width, img.Height)
	}

	work := img.Clone()
	counts := make([]int, 0, p.Iterations)

	// Fixed iteration count, no early exit: a pass that finds nothing
	// still leaves later passes running on the cleaned background, which
	// can expose weaker spikes masked by stronger ones.
	for it := 0; it < p.Iterations; it++ {
		flagged := detectPass(work, p)
		for _, idx := range flagged {
			work.Data[idx] = math.NaN()
		}
		counts = append(counts, len(flagged))
	}

	return work, counts, nil
}

// detectPass runs one detection pass over the working image and returns the
// flat indices of newly detected spikes. Statistics for each pixel use the
// in-bounds portion of its window, excluding invalid samples and the pixel
// itself; a pixel whose window holds fewer than two comparison samples has
// undefined local statistics and can never be flagged.
func detectPass(img *models.Image, p Params) []int {
	half := p.WindowSize / 2
	window := make([]float64, 0, p.WindowSize*p.WindowSize)
	var flagged []int

	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			v := img.Data[y*img.Width+x]
			if math.IsNaN(v) {
				continue
			}
			if !(v > p.MinIntensity) {
				continue
			}

			window = window[:0]
			yLo, yHi := clip(y-half, img.Height-1), clip(y+half, img.Height-1)
			xLo, xHi := clip(x-half, img.Width-1), clip(x+half, img.Width-1)
			for wy := yLo; wy <= yHi; wy++ {
				row := wy * img.Width
				for wx := xLo; wx <= xHi; wx++ {
					if wx == x && wy == y {
						continue
					}
					s := img.Data[row+wx]
					if !math.IsNaN(s) {
						window = append(window, s)
					}
				}
			}
			if len(window) < 2 {
				// Degenerate neighborhood, no comparison possible.
				continue
			}

			mean, std := stat.MeanStdDev(window, nil)
			if v > mean+p.Sigma*std {
				flagged = append(flagged, y*img.Width+x)
			}
		}
	}

	return flagged
}

func clip(v, maxV int) int {
	if v < 0 {
		return 0
	}
	if v > maxV {
		return maxV
	}
	return v
}
