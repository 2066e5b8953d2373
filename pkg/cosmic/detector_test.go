package cosmic

import (
	"math"
	"testing"

	"beamcombine/internal/models"
)

// uniformImage builds a test image with every sample set to v
func uniformImage(width, height int, v float64) *models.Image {
	img := models.NewImage(width, height)
	for i := range img.Data {
		img.Data[i] = v
	}
	return img
}

// countInvalid returns the number of NaN samples in an image
func countInvalid(img *models.Image) int {
	return len(img.Data) - img.ValidCount()
}

// TestDetectFlatField verifies that a uniform image produces no detections
// regardless of sigma
func TestDetectFlatField(t *testing.T) {
	img := uniformImage(10, 10, 10.0)

	for _, sigma := range []float64{0.5, 1.0, 5.0} {
		out, err := Detect(img, Params{Sigma: sigma, WindowSize: 5, Iterations: 3, MinIntensity: 0})
		if err != nil {
			t.Fatalf("Detect failed for sigma %g: %v", sigma, err)
		}
		if n := countInvalid(out); n != 0 {
			t.Errorf("Flat field with sigma %g flagged %d pixels, expected 0", sigma, n)
		}
	}
}

// TestDetectSingleSpike verifies that a lone extreme pixel is flagged and
// nothing else is touched
func TestDetectSingleSpike(t *testing.T) {
	img := uniformImage(11, 11, 10.0)
	img.Set(5, 5, 10000.0)

	out, err := Detect(img, Params{Sigma: 5, WindowSize: 5, Iterations: 1, MinIntensity: 0})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if !math.IsNaN(out.At(5, 5)) {
		t.Errorf("Spike at (5,5) was not flagged, value %g", out.At(5, 5))
	}
	if n := countInvalid(out); n != 1 {
		t.Errorf("Expected exactly 1 flagged pixel, got %d", n)
	}
	if out.At(4, 5) != 10.0 {
		t.Errorf("Neighbor value changed: expected 10, got %g", out.At(4, 5))
	}
}

// TestDetectMinIntensity verifies that the intensity floor suppresses
// detections below it
func TestDetectMinIntensity(t *testing.T) {
	img := uniformImage(11, 11, 10.0)
	img.Set(5, 5, 10000.0)

	out, err := Detect(img, Params{Sigma: 5, WindowSize: 5, Iterations: 1, MinIntensity: 20000})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if n := countInvalid(out); n != 0 {
		t.Errorf("Expected no detections above floor 20000, got %d", n)
	}
}

// TestDetectInputUntouched verifies that Detect never mutates its input
// and that input invalids propagate to the output
func TestDetectInputUntouched(t *testing.T) {
	img := uniformImage(9, 9, 10.0)
	img.Set(4, 4, 10000.0)
	img.Set(0, 0, math.NaN())

	out, err := Detect(img, Params{Sigma: 5, WindowSize: 5, Iterations: 2, MinIntensity: 0})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if img.At(4, 4) != 10000.0 {
		t.Errorf("Input was mutated: spike value now %g", img.At(4, 4))
	}
	if !math.IsNaN(out.At(0, 0)) {
		t.Errorf("Input-invalid pixel was resurrected: %g", out.At(0, 0))
	}
	if out.Width != img.Width || out.Height != img.Height {
		t.Errorf("Output dimensions changed: %dx%d", out.Width, out.Height)
	}
}

// TestDetectIterativeReveal verifies that a weaker spike masked by a
// stronger neighbor is caught on a later pass
func TestDetectIterativeReveal(t *testing.T) {
	img := uniformImage(11, 11, 10.0)
	img.Set(5, 5, 10000.0)
	img.Set(6, 5, 100.0)

	_, counts, err := DetectMask(img, Params{Sigma: 5, WindowSize: 5, Iterations: 3, MinIntensity: 0})
	if err != nil {
		t.Fatalf("DetectMask failed: %v", err)
	}

	if len(counts) != 3 {
		t.Fatalf("Expected 3 iteration counts, got %d", len(counts))
	}
	if counts[0] != 1 {
		t.Errorf("First pass should flag only the strong spike, flagged %d", counts[0])
	}
	if counts[1] != 1 {
		t.Errorf("Second pass should reveal the weak spike, flagged %d", counts[1])
	}
	if counts[2] != 0 {
		t.Errorf("Third pass should find nothing, flagged %d", counts[2])
	}
}

// TestDetectIdempotent verifies that re-running detection on its own
// output never un-flags pixels and finds nothing new
func TestDetectIdempotent(t *testing.T) {
	img := uniformImage(11, 11, 10.0)
	img.Set(5, 5, 10000.0)

	params := Params{Sigma: 5, WindowSize: 5, Iterations: 2, MinIntensity: 0}
	first, err := Detect(img, params)
	if err != nil {
		t.Fatalf("First Detect failed: %v", err)
	}
	second, err := Detect(first, params)
	if err != nil {
		t.Fatalf("Second Detect failed: %v", err)
	}

	for i := range first.Data {
		if math.IsNaN(first.Data[i]) && !math.IsNaN(second.Data[i]) {
			t.Fatalf("Pixel %d was un-flagged on the second run", i)
		}
	}
	if countInvalid(second) != countInvalid(first) {
		t.Errorf("Second run changed the invalid count: %d vs %d",
			countInvalid(second), countInvalid(first))
	}
}

// TestDetectAllInvalidNeighborhood verifies that a pixel with no valid
// comparison samples passes through unflagged
func TestDetectAllInvalidNeighborhood(t *testing.T) {
	img := uniformImage(5, 5, 10.0)
	for y := 0; y < 5; y++ {
		for x := 0; x < 5; x++ {
			if x != 2 || y != 2 {
				img.Set(x, y, math.NaN())
			}
		}
	}
	img.Set(2, 2, 10000.0)

	out, err := Detect(img, Params{Sigma: 5, WindowSize: 5, Iterations: 1, MinIntensity: 0})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if math.IsNaN(out.At(2, 2)) {
		t.Errorf("Pixel with no valid neighborhood must not be flagged")
	}
}

// TestDetectParamValidation checks the parameter invariants
func TestDetectParamValidation(t *testing.T) {
	img := uniformImage(10, 10, 10.0)

	cases := []struct {
		name   string
		params Params
	}{
		{"even window", Params{Sigma: 5, WindowSize: 4, Iterations: 1}},
		{"window too small", Params{Sigma: 5, WindowSize: 1, Iterations: 1}},
		{"zero iterations", Params{Sigma: 5, WindowSize: 5, Iterations: 0}},
		{"negative sigma", Params{Sigma: -1, WindowSize: 5, Iterations: 1}},
		{"negative floor", Params{Sigma: 5, WindowSize: 5, Iterations: 1, MinIntensity: -1}},
	}

	for _, tc := range cases {
		if _, err := Detect(img, tc.params); err == nil {
			t.Errorf("%s: expected a configuration error", tc.name)
		}
	}
}

// TestDetectWindowLargerThanImage verifies the dimension check
func TestDetectWindowLargerThanImage(t *testing.T) {
	img := uniformImage(3, 3, 10.0)
	if _, err := Detect(img, Params{Sigma: 5, WindowSize: 5, Iterations: 1}); err == nil {
		t.Error("Expected a configuration error for window larger than image")
	}
}

// TestDetectZeroSigma verifies that sigma zero is legal and aggressive
func TestDetectZeroSigma(t *testing.T) {
	img := uniformImage(7, 7, 10.0)
	img.Set(3, 3, 11.0)

	out, err := Detect(img, Params{Sigma: 0, WindowSize: 3, Iterations: 1, MinIntensity: 0})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if !math.IsNaN(out.At(3, 3)) {
		t.Errorf("Sigma 0 should flag any pixel above its local mean")
	}
}
