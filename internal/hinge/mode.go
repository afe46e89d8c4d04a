package hinge

import (
	"fmt"
	"math"
	"strings"
)

// Mode is the device posture derived from the hinge angle.
type Mode int

const (
	ModeInvalid Mode = iota
	ModeClosing
	ModeLaptop
	ModeFlat
	ModeTent
	ModeTablet
)

var modeNames = [...]string{
	ModeInvalid: "invalid",
	ModeClosing: "closing",
	ModeLaptop:  "laptop",
	ModeFlat:    "flat",
	ModeTent:    "tent",
	ModeTablet:  "tablet",
}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("mode(%d)", int(m))
	}
	return modeNames[m]
}

func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range modeNames {
		if name == s {
			return Mode(i), nil
		}
	}
	return ModeInvalid, fmt.Errorf("unknown mode %q", s)
}

// IsTablet reports whether the keyboard should be considered unusable.
func (m Mode) IsTablet() bool { return m == ModeTablet }

// Lower bounds of each range; every range is half-open [lo, next lo).
var modeBounds = []struct {
	lo   float64
	mode Mode
}{
	{0, ModeClosing},
	{60, ModeLaptop},
	{120, ModeFlat},
	{180, ModeTent},
	{240, ModeTablet},
}

const fullTurn = 360.0

func ClassifyAngle(angle float64) Mode {
	if math.IsNaN(angle) || angle < 0 || angle >= fullTurn {
		return ModeInvalid
	}
	mode := ModeInvalid
	for _, b := range modeBounds {
		if angle < b.lo {
			break
		}
		mode = b.mode
	}
	return mode
}

// Range returns the half-open angle range [lo, hi) classified as m.
// ModeInvalid has no range.
func (m Mode) Range() (lo, hi float64, ok bool) {
	for i, b := range modeBounds {
		if b.mode != m {
			continue
		}
		hi = fullTurn
		if i+1 < len(modeBounds) {
			hi = modeBounds[i+1].lo
		}
		return b.lo, hi, true
	}
	return 0, 0, false
}

func Classify(r Reading) Mode {
	if !r.Valid {
		return ModeInvalid
	}
	return ClassifyAngle(r.Angle)
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
