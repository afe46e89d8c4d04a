// Package events defines the posture change records and their newline
// delimited JSON wire form:
//
//	{"timestamp":1718000000.25,"type":"angle","value":182.5,"previous":179.9}
package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"postured/internal/hinge"
)

type Type string

const (
	TypeAngle       Type = "angle"
	TypeMode        Type = "mode"
	TypeOrientation Type = "orientation"
)

// Event is immutable once built. Value and Previous hold float64 for angle
// events and string for mode and orientation events; Previous is nil when
// there was nothing to compare against.
type Event struct {
	Type      Type
	Value     any
	Previous  any
	Timestamp float64
}

func unixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

// Time converts Timestamp back to a time.Time.
func (e Event) Time() time.Time {
	sec := int64(e.Timestamp)
	nsec := int64((e.Timestamp - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

func NewAngle(value float64, previous *float64, at time.Time) Event {
	e := Event{Type: TypeAngle, Value: value, Timestamp: unixSeconds(at)}
	if previous != nil {
		e.Previous = *previous
	}
	return e
}

func NewMode(value, previous hinge.Mode, at time.Time) Event {
	return Event{Type: TypeMode, Value: value.String(), Previous: previous.String(), Timestamp: unixSeconds(at)}
}

func NewOrientation(value hinge.ScreenOrientation, previous *hinge.ScreenOrientation, at time.Time) Event {
	e := Event{Type: TypeOrientation, Value: value.String(), Timestamp: unixSeconds(at)}
	if previous != nil {
		e.Previous = previous.String()
	}
	return e
}

// Angle returns the angle value and, when present, the previous angle.
func (e Event) Angle() (value float64, previous *float64, ok bool) {
	if e.Type != TypeAngle {
		return 0, nil, false
	}
	v, ok := e.Value.(float64)
	if !ok {
		return 0, nil, false
	}
	if p, ok := e.Previous.(float64); ok {
		previous = &p
	}
	return v, previous, true
}

// Mode returns the mode carried by a mode event.
func (e Event) Mode() (value, previous hinge.Mode, err error) {
	if e.Type != TypeMode {
		return hinge.ModeInvalid, hinge.ModeInvalid, fmt.Errorf("events: %s event has no mode", e.Type)
	}
	s, _ := e.Value.(string)
	if value, err = hinge.ParseMode(s); err != nil {
		return hinge.ModeInvalid, hinge.ModeInvalid, err
	}
	previous = hinge.ModeInvalid
	if p, ok := e.Previous.(string); ok {
		if previous, err = hinge.ParseMode(p); err != nil {
			return value, hinge.ModeInvalid, err
		}
	}
	return value, previous, nil
}

// IsTabletMode reports whether e announces entry into tablet mode.
func IsTabletMode(e Event) bool {
	if e.Type != TypeMode {
		return false
	}
	s, _ := e.Value.(string)
	return s == hinge.ModeTablet.String()
}

func (e Event) String() string {
	if e.Previous == nil {
		return fmt.Sprintf("%s=%v", e.Type, e.Value)
	}
	return fmt.Sprintf("%s=%v previous=%v", e.Type, e.Value, e.Previous)
}

// wire fixes the field order on the wire.
type wire struct {
	Timestamp float64         `json:"timestamp"`
	Type      Type            `json:"type"`
	Value     json.RawMessage `json:"value"`
	Previous  json.RawMessage `json:"previous,omitempty"`
}

// Marshal returns e as one JSON object terminated by a newline.
func Marshal(e Event) ([]byte, error) {
	if e.Type == "" {
		return nil, errors.New("events: missing type")
	}
	w := wire{Timestamp: e.Timestamp, Type: e.Type}
	var err error
	if w.Value, err = json.Marshal(e.Value); err != nil {
		return nil, fmt.Errorf("events: value: %w", err)
	}
	if e.Previous != nil {
		if w.Previous, err = json.Marshal(e.Previous); err != nil {
			return nil, fmt.Errorf("events: previous: %w", err)
		}
	}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Parse decodes one wire line. Surrounding whitespace is ignored.
func Parse(line []byte) (Event, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Event{}, errors.New("events: empty line")
	}
	var w wire
	if err := json.Unmarshal(line, &w); err != nil {
		return Event{}, fmt.Errorf("events: %w", err)
	}
	if w.Type == "" {
		return Event{}, errors.New("events: missing type")
	}
	if len(w.Value) == 0 {
		return Event{}, errors.New("events: missing value")
	}

	e := Event{Type: w.Type, Timestamp: w.Timestamp}
	var err error
	if e.Value, err = decodeValue(w.Type, w.Value); err != nil {
		return Event{}, fmt.Errorf("events: value: %w", err)
	}
	if len(w.Previous) > 0 && string(w.Previous) != "null" {
		if e.Previous, err = decodeValue(w.Type, w.Previous); err != nil {
			return Event{}, fmt.Errorf("events: previous: %w", err)
		}
	}
	return e, nil
}

func decodeValue(t Type, raw json.RawMessage) (any, error) {
	switch t {
	case TypeAngle:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, err
		}
		return f, nil
	case TypeMode, TypeOrientation:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return s, nil
	default:
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}
