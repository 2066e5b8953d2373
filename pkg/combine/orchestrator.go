package combine

import (
	"context"
	"errors"
	"fmt"
	goio "io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"beamcombine/internal/models"
	"beamcombine/pkg/cosmic"
	"beamcombine/pkg/imageio"
)

// ImageIO loads and saves images by path. Format specifics live behind
// this boundary; the orchestrator only sees float grids.
type ImageIO interface {
	Load(path string) (*models.Image, error)
	Save(img *models.Image, path string) error
}

// State describes how a combination run ended.
type State int

const (
	// StateCompleted means every unit was attempted and the run finished.
	StateCompleted State = iota

	// StateCancelled means cancellation was observed at a unit boundary;
	// outputs written before the check stay on disk.
	StateCancelled

	// StateFailed means a configuration error stopped the run before any
	// unit started. Per-unit I/O failures never produce this state.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Job holds the validated configuration for one combination run. It is
// built once per invocation and not modified while the run executes.
type Job struct {
	// InputRoot is the directory containing the numbered measurement folders
	InputRoot string

	// OutputRoot is where combined images are written; created if absent
	OutputRoot string

	// StartIndex and EndIndex bound the folder range, both inclusive
	StartIndex int
	EndIndex   int

	// OutputPrefix is the leading component of every output filename
	OutputPrefix string

	// Groups is the ordered measurement group configuration; the group
	// folder counts must sum to the size of the folder range
	Groups []models.MeasurementGroup

	// Detection enables per-source-image cosmic-ray removal when non-nil.
	// Detection always runs on individual exposures before combination,
	// never on the combined result, so a spike unique to one exposure
	// cannot contaminate statistics derived from the others.
	Detection *cosmic.Params

	// BaseName, when non-empty, restricts pattern discovery to files
	// whose base filename (the part before the _NNNNN index) matches
	BaseName string

	// WholeGroup folds every pattern and folder of a group into a single
	// <prefix>_<group>_combined.tif output instead of one output per
	// pattern index
	WholeGroup bool

	// Workers is the number of units processed concurrently; values <= 1
	// select the sequential mode, which keeps memory bounded to one
	// group's worth of images and progress strictly ordered
	Workers int

	// IO is the image adapter; defaults to TIFF files when nil
	IO ImageIO

	// Progress receives a report after each successfully combined unit;
	// nil disables reporting
	Progress chan<- models.ProgressReport

	// Logger receives per-unit diagnostics; nil discards them
	Logger *slog.Logger
}

// Result summarizes a finished run. Every loaded image either contributed
// to a written output or is accounted for in UnitErrors.
type Result struct {
	State          State
	CompletedUnits int
	TotalUnits     int
	UnitErrors     []*UnitError
}

// source is one image file feeding a unit.
type source struct {
	folder  int
	pattern int
	path    string
}

// unit is the smallest schedulable piece of work: one (group, pattern)
// combination, or one whole group in WholeGroup mode.
type unit struct {
	group   string
	pattern int // -1 in WholeGroup mode
	sources []source
	outPath string
}

// patternRe matches <base>_<zero-padded index>.tif/.tiff filenames.
var patternRe = regexp.MustCompile(`^(.+)_([0-9]+)\.(?i:tiff?)$`)

// Run executes the combination job. Configuration errors abort before any
// unit starts and are returned alongside a StateFailed result; unit-level
// failures are recorded on the result and the run continues. Cancellation
// through ctx is cooperative and observed only between units.
func Run(ctx context.Context, job *Job) (*Result, error) {
	logger := job.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(goio.Discard, nil))
	}
	io := job.IO
	if io == nil {
		io = imageio.TIFF{}
	}

	if job.Detection != nil {
		if err := job.Detection.Validate(); err != nil {
			return &Result{State: StateFailed}, err
		}
	}
	runs, err := Plan(job.StartIndex, job.EndIndex, job.Groups)
	if err != nil {
		return &Result{State: StateFailed}, err
	}
	if info, err := os.Stat(job.InputRoot); err != nil || !info.IsDir() {
		return &Result{State: StateFailed},
			models.Configf("input root %q is not a readable directory", job.InputRoot)
	}
	if err := os.MkdirAll(job.OutputRoot, 0755); err != nil {
		return &Result{State: StateFailed},
			models.Configf("cannot create output root %q: %v", job.OutputRoot, err)
	}

	units, discoveryErrs := planUnits(job, runs, logger)
	res := &Result{
		State:      StateCompleted,
		TotalUnits: len(units),
		UnitErrors: discoveryErrs,
	}

	if job.Workers > 1 {
		runParallel(ctx, job, io, logger, units, res)
	} else {
		runSequential(ctx, job, io, logger, units, res)
	}

	attempted := res.CompletedUnits + (len(res.UnitErrors) - len(discoveryErrs))
	if ctx.Err() != nil && attempted < res.TotalUnits {
		res.State = StateCancelled
	}
	return res, nil
}

// planUnits discovers the pattern indices per group and builds the unit
// list. A folder that cannot be scanned disables its whole group (every
// unit needs an image from every folder) and is recorded as a unit error.
func planUnits(job *Job, runs []models.GroupRun, logger *slog.Logger) ([]unit, []*UnitError) {
	var units []unit
	var errs []*UnitError

	for _, run := range runs {
		patterns, files, err := discoverPatterns(job, run)
		if err != nil {
			var ue *UnitError
			if errors.As(err, &ue) {
				errs = append(errs, ue)
			} else {
				errs = append(errs, &UnitError{Group: run.Name, PatternIndex: -1, FolderIndex: -1, Err: err})
			}
			logger.Warn("skipping group", "group", run.Name, "error", err)
			continue
		}
		if len(patterns) == 0 {
			logger.Warn("no common pattern indices", "group", run.Name, "folders", run.Folders)
			continue
		}

		if job.WholeGroup {
			u := unit{
				group:   run.Name,
				pattern: -1,
				outPath: filepath.Join(job.OutputRoot, fmt.Sprintf("%s_%s_combined.tif", job.OutputPrefix, run.Name)),
			}
			for _, folder := range run.Folders {
				for _, p := range patterns {
					u.sources = append(u.sources, source{folder: folder, pattern: p, path: files[folder][p]})
				}
			}
			units = append(units, u)
			continue
		}

		for _, p := range patterns {
			u := unit{
				group:   run.Name,
				pattern: p,
				outPath: filepath.Join(job.OutputRoot, fmt.Sprintf("%s_%s_%05d.tif", job.OutputPrefix, run.Name, p)),
			}
			for _, folder := range run.Folders {
				u.sources = append(u.sources, source{folder: folder, pattern: p, path: files[folder][p]})
			}
			units = append(units, u)
		}
	}

	return units, errs
}

// discoverPatterns scans every folder of a group run and intersects the
// pattern indices present, returning the sorted common indices and the
// per-folder index-to-path mapping.
func discoverPatterns(job *Job, run models.GroupRun) ([]int, map[int]map[int]string, error) {
	files := make(map[int]map[int]string, len(run.Folders))
	var common map[int]bool

	for _, folder := range run.Folders {
		dir, err := resolveFolder(job.InputRoot, folder)
		if err != nil {
			return nil, nil, &UnitError{Group: run.Name, PatternIndex: -1, FolderIndex: folder, Err: err}
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, nil, &UnitError{Group: run.Name, PatternIndex: -1, FolderIndex: folder, Err: err}
		}

		found := make(map[int]string)
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			m := patternRe.FindStringSubmatch(entry.Name())
			if m == nil {
				continue
			}
			if job.BaseName != "" && m[1] != job.BaseName {
				continue
			}
			idx, err := strconv.Atoi(m[2])
			if err != nil {
				continue
			}
			found[idx] = filepath.Join(dir, entry.Name())
		}
		files[folder] = found

		if common == nil {
			common = make(map[int]bool, len(found))
			for idx := range found {
				common[idx] = true
			}
		} else {
			for idx := range common {
				if _, ok := found[idx]; !ok {
					delete(common, idx)
				}
			}
		}
	}

	patterns := make([]int, 0, len(common))
	for idx := range common {
		patterns = append(patterns, idx)
	}
	sort.Ints(patterns)
	return patterns, files, nil
}

// resolveFolder maps a folder index to its directory, accepting both the
// bare numeric name and the legacy g-prefixed spelling.
func resolveFolder(root string, idx int) (string, error) {
	for _, name := range []string{strconv.Itoa(idx), "g" + strconv.Itoa(idx)} {
		dir := filepath.Join(root, name)
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir, nil
		}
	}
	return "", fmt.Errorf("measurement folder %d not found under %s", idx, root)
}

func runSequential(ctx context.Context, job *Job, io ImageIO, logger *slog.Logger, units []unit, res *Result) {
	for _, u := range units {
		if ctx.Err() != nil {
			return
		}
		if err := runUnit(job, io, logger, u); err != nil {
			recordUnitError(res, logger, err)
			continue
		}
		res.CompletedUnits++
		emitProgress(job, res.CompletedUnits, res.TotalUnits, u)
	}
}

func runParallel(ctx context.Context, job *Job, io ImageIO, logger *slog.Logger, units []unit, res *Result) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(job.Workers)

	// Units share no state beyond the progress counter and the error
	// list, so a mutex around the result is all the coordination needed.
	var mu sync.Mutex

	for _, u := range units {
		u := u
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			err := runUnit(job, io, logger, u)
			mu.Lock()
			if err != nil {
				recordUnitError(res, logger, err)
				mu.Unlock()
				return nil
			}
			res.CompletedUnits++
			completed := res.CompletedUnits
			mu.Unlock()
			emitProgress(job, completed, res.TotalUnits, u)
			return nil
		})
	}
	_ = g.Wait()
}

func recordUnitError(res *Result, logger *slog.Logger, err error) {
	var ue *UnitError
	if !errors.As(err, &ue) {
		ue = &UnitError{PatternIndex: -1, FolderIndex: -1, Err: err}
	}
	res.UnitErrors = append(res.UnitErrors, ue)
	logger.Warn("unit failed", "group", ue.Group, "pattern", ue.PatternIndex, "error", ue.Err)
}

func emitProgress(job *Job, completed, total int, u unit) {
	if job.Progress == nil {
		return
	}
	job.Progress <- models.ProgressReport{
		CompletedUnits: completed,
		TotalUnits:     total,
		Group:          u.group,
		PatternIndex:   u.pattern,
	}
}

// runUnit executes one combination unit: load every source image, detect
// spikes per source when enabled, average pixel-wise, write the output.
func runUnit(job *Job, io ImageIO, logger *slog.Logger, u unit) error {
	imgs := make([]*models.Image, 0, len(u.sources))
	for _, s := range u.sources {
		img, err := io.Load(s.path)
		if err != nil {
			return &UnitError{Group: u.group, PatternIndex: u.pattern, FolderIndex: s.folder,
				Err: fmt.Errorf("loading %s: %w", s.path, err)}
		}
		if job.Detection != nil {
			masked, counts, err := cosmic.DetectMask(img, *job.Detection)
			if err != nil {
				return &UnitError{Group: u.group, PatternIndex: u.pattern, FolderIndex: s.folder, Err: err}
			}
			logger.Debug("cosmic rays removed", "file", s.path, "counts", counts)
			img = masked
		}
		if len(imgs) > 0 && !imgs[0].Compatible(img) {
			return &UnitError{Group: u.group, PatternIndex: u.pattern, FolderIndex: s.folder,
				Err: fmt.Errorf("dimension mismatch: %dx%d vs %dx%d",
					img.Width, img.Height, imgs[0].Width, imgs[0].Height)}
		}
		imgs = append(imgs, img)
	}

	combined := meanStack(imgs)
	if err := io.Save(combined, u.outPath); err != nil {
		return &UnitError{Group: u.group, PatternIndex: u.pattern, FolderIndex: -1,
			Err: fmt.Errorf("writing %s: %w", u.outPath, err)}
	}
	logger.Info("combined", "group", u.group, "pattern", u.pattern, "sources", len(imgs), "output", u.outPath)
	return nil
}

// meanStack combines images pixel-wise: each output sample is the mean of
// the valid samples at that position across the inputs. A position invalid
// in every input stays invalid in the output; values are never synthesized
// for it.
func meanStack(imgs []*models.Image) *models.Image {
	out := models.NewImage(imgs[0].Width, imgs[0].Height)
	vals := make([]float64, 0, len(imgs))
	for i := range out.Data {
		vals = vals[:0]
		for _, img := range imgs {
			if v := img.Data[i]; !math.IsNaN(v) {
				vals = append(vals, v)
			}
		}
		if len(vals) == 0 {
			out.Data[i] = math.NaN()
		} else {
			out.Data[i] = stat.Mean(vals, nil)
		}
	}
	return out
}
