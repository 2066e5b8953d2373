package models

import (
	"math"
)

// Image is a 2D grid of intensity samples stored in row-major order.
// A sample set to NaN is in the invalid state: it is excluded from all
// statistics and from combination, and it marks pixels removed as
// cosmic-ray artifacts.
type Image struct {
	// Data holds the samples as a 1D array in row-major order,
	// so the sample at (x, y) lives at Data[y*Width+x]
	Data []float64

	// Width and Height are the fixed dimensions of the grid
	Width  int
	Height int
}

// NewImage creates an image of the given dimensions with all samples zero.
func NewImage(width, height int) *Image {
	return &Image{
		Data:   make([]float64, width*height),
		Width:  width,
		Height: height,
	}
}

// At returns the sample at (x, y). The caller is responsible for bounds.
func (img *Image) At(x, y int) float64 {
	return img.Data[y*img.Width+x]
}

// Set stores a sample at (x, y).
func (img *Image) Set(x, y int, v float64) {
	img.Data[y*img.Width+x] = v
}

// Clone returns a deep copy of the image.
func (img *Image) Clone() *Image {
	out := &Image{
		Data:   make([]float64, len(img.Data)),
		Width:  img.Width,
		Height: img.Height,
	}
	copy(out.Data, img.Data)
	return out
}

// Compatible reports whether two images have identical dimensions and can
// therefore be combined pixel-wise.
func (img *Image) Compatible(other *Image) bool {
	return img.Width == other.Width && img.Height == other.Height
}

// ValidCount returns the number of samples not in the invalid state.
func (img *Image) ValidCount() int {
	n := 0
	for _, v := range img.Data {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

// MeasurementGroup names a run of consecutive measurement folders that are
// combined together into one output series.
type MeasurementGroup struct {
	// Name identifies the group in output filenames (e.g. "center", "side")
	Name string

	// FolderCount is how many consecutive folders the group consumes
	FolderCount int
}

// GroupRun is a planned assignment of concrete folder indices to a group.
type GroupRun struct {
	// Name is the group name the folders belong to
	Name string

	// Folders holds the consecutive folder indices assigned to this group
	Folders []int
}

// ProgressReport describes the state of a combination run after one unit
// of work has completed.
type ProgressReport struct {
	// CompletedUnits is the number of units finished so far
	CompletedUnits int

	// TotalUnits is the number of units the whole run will execute
	TotalUnits int

	// Group is the name of the group the last unit belonged to
	Group string

	// PatternIndex is the pattern index of the last completed unit
	PatternIndex int
}
