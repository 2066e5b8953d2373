package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"beamcombine/internal/models"
)

// ParseGroups normalizes the measurement-group JSON into an ordered
// MeasurementGroup sequence. Two encodings are accepted, for backward
// compatibility with the scripts this tool replaces:
//
//	[{"center": 2, "side": 2}]
//	[{"name": "center", "num_directories": 2}, {"name": "side", "num_images": 2}]
//
// The first shape maps group names to folder counts directly; since the
// order of the keys determines folder assignment, the objects are walked
// token by token rather than through a Go map. The second shape takes the
// count from either "num_directories" or "num_images". Both normalize to
// the same sequence, so nothing downstream branches on the input shape.
func ParseGroups(text string) ([]models.MeasurementGroup, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	if err := expectDelim(dec, '['); err != nil {
		return nil, models.Configf("group config: %v", err)
	}

	var groups []models.MeasurementGroup
	for dec.More() {
		parsed, err := parseGroupObject(dec)
		if err != nil {
			return nil, models.Configf("group config: %v", err)
		}
		groups = append(groups, parsed...)
	}
	if err := expectDelim(dec, ']'); err != nil {
		return nil, models.Configf("group config: %v", err)
	}
	if len(groups) == 0 {
		return nil, models.Configf("group config: no groups defined")
	}
	for _, g := range groups {
		if g.FolderCount < 1 {
			return nil, models.Configf("group config: group %q has count %d, must be >= 1", g.Name, g.FolderCount)
		}
	}
	return groups, nil
}

// parseGroupObject reads one JSON object and returns the groups it
// encodes: one group for the explicit shape, one per key for the
// name-to-count shape.
func parseGroupObject(dec *json.Decoder) ([]models.MeasurementGroup, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}

	type pair struct {
		key   string
		value json.Token
	}
	var pairs []pair
	explicit := false

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected key %v", keyTok)
		}
		val, err := dec.Token()
		if err != nil {
			return nil, err
		}
		if key == "name" || key == "num_directories" || key == "num_images" {
			explicit = true
		}
		pairs = append(pairs, pair{key: key, value: val})
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("empty group object")
	}

	if explicit {
		g := models.MeasurementGroup{}
		for _, p := range pairs {
			switch p.key {
			case "name":
				s, ok := p.value.(string)
				if !ok {
					return nil, fmt.Errorf("group name must be a string, got %v", p.value)
				}
				g.Name = s
			case "num_directories", "num_images":
				n, err := intValue(p.value)
				if err != nil {
					return nil, fmt.Errorf("count for group %q: %v", g.Name, err)
				}
				g.FolderCount = n
			default:
				return nil, fmt.Errorf("unknown group field %q", p.key)
			}
		}
		if g.Name == "" {
			return nil, fmt.Errorf("group object missing name")
		}
		if g.FolderCount == 0 {
			return nil, fmt.Errorf("group %q missing num_directories/num_images", g.Name)
		}
		return []models.MeasurementGroup{g}, nil
	}

	groups := make([]models.MeasurementGroup, 0, len(pairs))
	for _, p := range pairs {
		n, err := intValue(p.value)
		if err != nil {
			return nil, fmt.Errorf("count for group %q: %v", p.key, err)
		}
		groups = append(groups, models.MeasurementGroup{Name: p.key, FolderCount: n})
	}
	return groups, nil
}

func intValue(tok json.Token) (int, error) {
	num, ok := tok.(json.Number)
	if !ok {
		return 0, fmt.Errorf("expected an integer, got %v", tok)
	}
	n, err := num.Int64()
	if err != nil {
		return 0, fmt.Errorf("expected an integer, got %s", num)
	}
	return int(n), nil
}

func expectDelim(dec *json.Decoder, want rune) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	d, ok := tok.(json.Delim)
	if !ok || rune(d) != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}
