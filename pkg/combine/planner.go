// Package combine plans and runs the multi-folder image combination
// workflow: consecutive measurement folders are partitioned into named
// groups, and for every pattern index shared by a group's folders the
// corresponding images are averaged into one output image, optionally
// after per-image cosmic-ray removal.
package combine

import (
	"beamcombine/internal/models"
)

// Plan partitions the inclusive folder index range [start, end] into
// consecutive runs, one per group, consuming each group's FolderCount
// folders strictly in configuration order. The plan is deterministic and
// touches no external state.
//
// The group folder counts must sum exactly to the number of folders in the
// range; any mismatch is a configuration error, never a silent truncation
// or an implicit extra group.
func Plan(start, end int, groups []models.MeasurementGroup) ([]models.GroupRun, error) {
	if end < start {
		return nil, models.Configf("folder range is empty: start %d > end %d", start, end)
	}
	if len(groups) == 0 {
		return nil, models.Configf("no measurement groups configured")
	}

	available := end - start + 1
	total := 0
	for _, g := range groups {
		if g.Name == "" {
			return nil, models.Configf("measurement group with empty name")
		}
		if g.FolderCount < 1 {
			return nil, models.Configf("group %q has folder count %d, must be >= 1", g.Name, g.FolderCount)
		}
		total += g.FolderCount
	}
	if total != available {
		return nil, models.Configf(
			"group folder counts sum to %d but range %d..%d holds %d folders",
			total, start, end, available)
	}

	runs := make([]models.GroupRun, 0, len(groups))
	next := start
	for _, g := range groups {
		folders := make([]int, g.FolderCount)
		for i := range folders {
			folders[i] = next
			next++
		}
		runs = append(runs, models.GroupRun{Name: g.Name, Folders: folders})
	}
	return runs, nil
}
