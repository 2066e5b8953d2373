// Package integrate is the boundary to the external azimuthal-integration
// step of the reduction workflow. Integration consumes a 2D diffraction
// image together with a calibration file and a pixel mask and yields a 1D
// intensity-vs-angle curve; all of that mathematics lives in an external
// calibration/integration tool, and this package only invokes it and moves
// its curves around.
package integrate

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// DetectorConfig points at the calibration and mask files for one detector
// position.
type DetectorConfig struct {
	// Calibration is the path to the geometry calibration file
	Calibration string

	// Mask is the path to the pixel mask image
	Mask string
}

// ImageInput pairs one diffraction image with its detector configuration.
type ImageInput struct {
	Path   string
	Config DetectorConfig
}

// Curve is a 1D integrated pattern: intensity I as a function of the
// scattering vector Q.
type Curve struct {
	Q []float64
	I []float64
}

// WriteXY writes the curve as the two-column text table the downstream
// analysis tools expect.
func (c *Curve) WriteXY(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(bw, "q(A^-1) I(a.u.)"); err != nil {
		return err
	}
	for i := range c.Q {
		if _, err := fmt.Fprintf(bw, "%.6e %.6e\n", c.Q[i], c.I[i]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadXY parses a two-column curve table, skipping a non-numeric header
// line if present.
func ReadXY(r io.Reader) (*Curve, error) {
	c := &Curve{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("malformed curve line %q", line)
		}
		q, errQ := strconv.ParseFloat(fields[0], 64)
		in, errI := strconv.ParseFloat(fields[1], 64)
		if errQ != nil || errI != nil {
			if len(c.Q) == 0 {
				// Header line.
				continue
			}
			return nil, fmt.Errorf("malformed curve line %q", line)
		}
		c.Q = append(c.Q, q)
		c.I = append(c.I, in)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(c.Q) == 0 {
		return nil, fmt.Errorf("curve table holds no points")
	}
	return c, nil
}

// Integrator produces a 1D curve from one or more diffraction images. Passing
// several images integrates them as one multi-geometry dataset.
type Integrator interface {
	Integrate(ctx context.Context, inputs []ImageInput) (*Curve, error)
}

// ToolIntegrator shells out to an external integrator executable. The tool
// is expected to accept repeated --poni/--mask flags followed by image
// paths and to print the integrated curve as a two-column table on stdout.
type ToolIntegrator struct {
	// Command is the integrator executable
	Command string

	// Points is the number of points in the integrated curve
	Points int
}

func (t *ToolIntegrator) Integrate(ctx context.Context, inputs []ImageInput) (*Curve, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no images to integrate")
	}

	args := []string{"--npt", strconv.Itoa(t.Points)}
	for _, in := range inputs {
		args = append(args, "--poni", in.Config.Calibration, "--mask", in.Config.Mask)
	}
	for _, in := range inputs {
		args = append(args, in.Path)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.Command, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s failed: %w (%s)", t.Command, err, strings.TrimSpace(stderr.String()))
	}
	return ReadXY(&stdout)
}

// trailingIndexRe captures the index number just before the extension.
var trailingIndexRe = regexp.MustCompile(`([0-9]+)\.[A-Za-z]+$`)

// IndexOf extracts the trailing index from a filename, or -1 when there is
// none.
func IndexOf(filename string) int {
	m := trailingIndexRe.FindStringSubmatch(filename)
	if m == nil {
		return -1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return n
}

// SortByIndex orders paths by their trailing index so that curves from
// sequential measurements come out in measurement order.
func SortByIndex(paths []string) {
	sort.Slice(paths, func(i, j int) bool {
		return IndexOf(paths[i]) < IndexOf(paths[j])
	})
}
