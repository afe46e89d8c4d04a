package calibration

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// FileEntry is the YAML shape of one sensor's calibration:
//
//	lid:
//	  mount_matrix: [[1, 0, 0], [0, 1, 0], [0, 0, 1]]
//	  scale: 0.009582
type FileEntry struct {
	MountMatrix [][]float64 `yaml:"mount_matrix"`
	Scale       float64     `yaml:"scale"`
}

func LoadFile(path string) (*Store, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func Parse(b []byte) (*Store, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	var raw map[string]FileEntry
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty calibration", ErrMalformedCalibration)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedCalibration, err)
	}
	return FromEntries(raw)
}

// FromEntries converts decoded entries into a Store. Both sensors must be
// present; nothing is defaulted.
func FromEntries(raw map[string]FileEntry) (*Store, error) {
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make(map[SensorID]Entry, len(raw))
	for _, name := range names {
		id, err := ParseSensorID(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedCalibration, err)
		}
		if _, dup := entries[id]; dup {
			return nil, fmt.Errorf("%w: %s listed twice", ErrMalformedCalibration, id)
		}
		e, err := raw[name].toEntry()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedCalibration, id, err)
		}
		entries[id] = e
	}
	for _, id := range Sensors {
		if _, ok := entries[id]; !ok {
			return nil, fmt.Errorf("%w: %s is missing", ErrMalformedCalibration, id)
		}
	}
	return New(entries), nil
}

func (fe FileEntry) toEntry() (Entry, error) {
	var e Entry
	if len(fe.MountMatrix) != 3 {
		return e, fmt.Errorf("mount_matrix must have 3 rows, got %d", len(fe.MountMatrix))
	}
	for i, row := range fe.MountMatrix {
		if len(row) != 3 {
			return e, fmt.Errorf("mount_matrix row %d must have 3 values, got %d", i, len(row))
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return e, fmt.Errorf("mount_matrix[%d][%d] is not finite", i, j)
			}
			e.Matrix[i][j] = v
		}
	}
	if math.IsNaN(fe.Scale) || math.IsInf(fe.Scale, 0) || fe.Scale <= 0 {
		return e, fmt.Errorf("scale must be a positive number, got %v", fe.Scale)
	}
	e.Scale = fe.Scale
	return e, nil
}
