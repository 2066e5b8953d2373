package combine

import "fmt"

// UnitError records the failure of a single (group, pattern index)
// combination unit: a missing or unreadable source image, a dimension
// mismatch between images being combined, or an unwritable output path.
// Unit errors never abort the run; they are accumulated on the Result so
// the caller can retry exactly the units that failed.
type UnitError struct {
	// Group is the name of the group the unit belonged to
	Group string

	// PatternIndex is the pattern the unit was combining; -1 for
	// failures not tied to a single pattern (e.g. an unreadable folder
	// during pattern discovery)
	PatternIndex int

	// FolderIndex identifies the folder involved in the failure, or -1
	// when the failure concerns the combined output rather than a source
	FolderIndex int

	// Err is the underlying cause
	Err error
}

func (e *UnitError) Error() string {
	switch {
	case e.FolderIndex >= 0 && e.PatternIndex >= 0:
		return fmt.Sprintf("group %q pattern %d folder %d: %v", e.Group, e.PatternIndex, e.FolderIndex, e.Err)
	case e.FolderIndex >= 0:
		return fmt.Sprintf("group %q folder %d: %v", e.Group, e.FolderIndex, e.Err)
	default:
		return fmt.Sprintf("group %q pattern %d: %v", e.Group, e.PatternIndex, e.Err)
	}
}

func (e *UnitError) Unwrap() error {
	return e.Err
}
