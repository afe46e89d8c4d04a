package calibration

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnconfiguredSensor   = errors.New("calibration: sensor not configured")
	ErrMalformedCalibration = errors.New("calibration: malformed")
)

// SensorID names one of the two accelerometers. Device indexes never leave
// the acquisition layer.
type SensorID int

const (
	Lid SensorID = iota
	Base
)

// Sensors lists every SensorID in a stable order.
var Sensors = []SensorID{Lid, Base}

func (id SensorID) String() string {
	switch id {
	case Lid:
		return "lid"
	case Base:
		return "base"
	default:
		return fmt.Sprintf("sensor(%d)", int(id))
	}
}

func ParseSensorID(s string) (SensorID, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lid":
		return Lid, nil
	case "base":
		return Base, nil
	default:
		return 0, fmt.Errorf("unknown sensor %q", s)
	}
}

// MountMatrix rotates a sensor's native axes into the device frame. Rows are
// the device X, Y and Z axes expressed in sensor coordinates.
type MountMatrix [3][3]float64

func Identity() MountMatrix {
	return MountMatrix{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// Entry is the calibration of one sensor.
type Entry struct {
	Matrix MountMatrix
	// Scale converts raw ADC counts to m/s².
	Scale float64
}

// Store holds per-sensor calibration. It is never mutated after New, so
// concurrent readers need no locking.
type Store struct {
	entries map[SensorID]Entry
}

func New(entries map[SensorID]Entry) *Store {
	cp := make(map[SensorID]Entry, len(entries))
	for id, e := range entries {
		cp[id] = e
	}
	return &Store{entries: cp}
}

func (s *Store) entry(id SensorID) (Entry, error) {
	if s == nil {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnconfiguredSensor, id)
	}
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnconfiguredSensor, id)
	}
	return e, nil
}

func (s *Store) MountMatrix(id SensorID) (MountMatrix, error) {
	e, err := s.entry(id)
	if err != nil {
		return MountMatrix{}, err
	}
	return e.Matrix, nil
}

func (s *Store) Scale(id SensorID) (float64, error) {
	e, err := s.entry(id)
	if err != nil {
		return 0, err
	}
	return e.Scale, nil
}

// Configured reports which sensors have calibration, in Sensors order.
func (s *Store) Configured() []SensorID {
	if s == nil {
		return nil
	}
	out := make([]SensorID, 0, len(s.entries))
	for _, id := range Sensors {
		if _, ok := s.entries[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
