package config

import (
	"errors"
	"reflect"
	"testing"

	"beamcombine/internal/models"
)

// TestParseGroupsNameCountShape covers the bare name-to-count encoding,
// including key order inside a single object
func TestParseGroupsNameCountShape(t *testing.T) {
	groups, err := ParseGroups(`[{"center": 2, "side": 2}]`)
	if err != nil {
		t.Fatalf("ParseGroups failed: %v", err)
	}
	want := []models.MeasurementGroup{
		{Name: "center", FolderCount: 2},
		{Name: "side", FolderCount: 2},
	}
	if !reflect.DeepEqual(groups, want) {
		t.Errorf("Got %v, want %v", groups, want)
	}

	// Key order decides folder assignment and must survive parsing.
	groups, err = ParseGroups(`[{"side": 1, "center": 3}]`)
	if err != nil {
		t.Fatalf("ParseGroups failed: %v", err)
	}
	if groups[0].Name != "side" || groups[1].Name != "center" {
		t.Errorf("Key order not preserved: %v", groups)
	}
}

// TestParseGroupsExplicitShape covers the explicit object encoding with
// both accepted count keys
func TestParseGroupsExplicitShape(t *testing.T) {
	groups, err := ParseGroups(
		`[{"name": "center", "num_images": 2}, {"num_directories": 3, "name": "side"}]`)
	if err != nil {
		t.Fatalf("ParseGroups failed: %v", err)
	}
	want := []models.MeasurementGroup{
		{Name: "center", FolderCount: 2},
		{Name: "side", FolderCount: 3},
	}
	if !reflect.DeepEqual(groups, want) {
		t.Errorf("Got %v, want %v", groups, want)
	}
}

// TestParseGroupsMixedObjects allows one list to mix both shapes
func TestParseGroupsMixedObjects(t *testing.T) {
	groups, err := ParseGroups(`[{"center": 2}, {"name": "side", "num_images": 2}]`)
	if err != nil {
		t.Fatalf("ParseGroups failed: %v", err)
	}
	if len(groups) != 2 || groups[0].Name != "center" || groups[1].Name != "side" {
		t.Errorf("Got %v", groups)
	}
}

// TestParseGroupsErrors checks that malformed input yields configuration
// errors
func TestParseGroupsErrors(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"malformed json", `[{"center": 2`},
		{"not a list", `{"center": 2}`},
		{"empty list", `[]`},
		{"empty object", `[{}]`},
		{"zero count", `[{"center": 0}]`},
		{"negative count", `[{"name": "a", "num_images": -1}]`},
		{"non-integer count", `[{"center": 2.5}]`},
		{"string count", `[{"center": "two"}]`},
		{"missing name", `[{"num_images": 2}]`},
		{"missing count", `[{"name": "center"}]`},
		{"unknown field", `[{"name": "a", "num_images": 2, "color": "red"}]`},
	}
	for _, tc := range cases {
		_, err := ParseGroups(tc.text)
		if err == nil {
			t.Errorf("%s: expected an error", tc.name)
			continue
		}
		var cfgErr *models.ConfigError
		if !errors.As(err, &cfgErr) {
			t.Errorf("%s: expected *models.ConfigError, got %T", tc.name, err)
		}
	}
}
