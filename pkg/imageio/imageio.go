// Package imageio adapts detector image files to the float grid model used
// by the processing core. TIFF is the interchange format: integer grayscale
// files are decoded through golang.org/x/image/tiff, and 32-bit float
// grayscale files (the format beamline detectors and our own outputs use,
// since NaN must survive a round trip) are handled by a minimal IFD reader
// and writer of their own.
package imageio

import (
	"bytes"
	"fmt"
	"image"
	"os"

	"golang.org/x/image/tiff"

	"beamcombine/internal/models"
)

// TIFF is the file-based ImageIO adapter.
type TIFF struct{}

// Load reads a TIFF image into a float grid. Float-sample files keep their
// values (and NaNs) bit-exact; integer grayscale files are converted via
// the 16-bit color model, and color images collapse to mean luminance.
func (TIFF) Load(path string) (*models.Image, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if img, err := decodeFloat(raw); err == nil {
		return img, nil
	} else if err != errNotFloatTIFF {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	decoded, err := tiff.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return fromImage(decoded), nil
}

// Save writes the grid as an uncompressed 32-bit float grayscale TIFF.
// Invalid samples are written as NaN and read back as invalid.
func (TIFF) Save(img *models.Image, path string) error {
	raw, err := encodeFloat(img)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0644)
}

// fromImage converts a decoded integer image to the float grid, keeping the
// full 16-bit sample range so detector counts are not rescaled.
func fromImage(src image.Image) *models.Image {
	bounds := src.Bounds()
	out := models.NewImage(bounds.Dx(), bounds.Dy())
	for y := 0; y < out.Height; y++ {
		for x := 0; x < out.Width; x++ {
			r, g, b, _ := src.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			out.Set(x, y, float64(r+g+b)/3.0)
		}
	}
	return out
}
