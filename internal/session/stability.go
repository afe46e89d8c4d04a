package session

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"postured/internal/hinge"
)

// ModeStability damps mode changes. The zero value disables every stage and
// the committed mode follows hinge.Classify directly.
type ModeStability struct {
	// HysteresisDeg widens the range of the committed mode on both sides,
	// so leaving it takes a crossing that far past the boundary.
	HysteresisDeg float64
	// Samples is how many consecutive readings must agree on a new mode
	// before it is committed. 0 and 1 commit at once.
	Samples int
	// AdjacentOnly limits each change to a neighbouring mode. A larger jump
	// moves one step toward the target.
	AdjacentOnly bool
	// OrientationFreezeSamples holds the mode for that many readings after
	// the lid's dominant gravity axis changes, while the device is being
	// rotated.
	OrientationFreezeSamples int
}

func (c ModeStability) enabled() bool {
	return c.HysteresisDeg > 0 || c.Samples > 1 || c.AdjacentOnly || c.OrientationFreezeSamples > 0
}

func (c ModeStability) validate() error {
	if !(c.HysteresisDeg >= 0) || c.HysteresisDeg >= 60 {
		return fmt.Errorf("session: mode hysteresis must be in [0, 60), got %v", c.HysteresisDeg)
	}
	if c.Samples < 0 {
		return fmt.Errorf("session: mode stability samples must be >= 0, got %d", c.Samples)
	}
	if c.OrientationFreezeSamples < 0 {
		return fmt.Errorf("session: orientation freeze samples must be >= 0, got %d", c.OrientationFreezeSamples)
	}
	return nil
}

// modeFilter turns the raw classification into the committed mode.
// Changes to or from ModeInvalid are never delayed.
type modeFilter struct {
	cfg ModeStability

	candidate hinge.Mode
	count     int

	freeze   int
	lidAxis  hinge.ScreenOrientation
	haveAxis bool
}

func (f *modeFilter) reset() {
	f.candidate = hinge.ModeInvalid
	f.count = 0
}

func (f *modeFilter) next(cur hinge.Mode, r hinge.Reading, raw hinge.Mode, lid r3.Vec) hinge.Mode {
	if !f.cfg.enabled() {
		return raw
	}
	f.trackLid(lid)

	if cur == hinge.ModeInvalid || raw == hinge.ModeInvalid {
		f.reset()
		return raw
	}
	if f.freeze > 0 {
		f.freeze--
		f.reset()
		return cur
	}

	want := raw
	if lo, hi, ok := cur.Range(); ok && r.Angle >= lo-f.cfg.HysteresisDeg && r.Angle < hi+f.cfg.HysteresisDeg {
		want = cur
	}
	if f.cfg.AdjacentOnly && want != cur && (want-cur > 1 || cur-want > 1) {
		if want > cur {
			want = cur + 1
		} else {
			want = cur - 1
		}
	}
	if want == cur {
		f.reset()
		return cur
	}

	if want != f.candidate {
		f.candidate = want
		f.count = 0
	}
	f.count++
	if f.count < f.cfg.Samples {
		return cur
	}
	f.reset()
	return want
}

// trackLid arms the freeze when the lid's orientation changes. A reading
// below MinGravity is ignored.
func (f *modeFilter) trackLid(lid r3.Vec) {
	if f.cfg.OrientationFreezeSamples <= 0 {
		return
	}
	if _, ok := hinge.Tilt(lid); !ok {
		return
	}
	o := hinge.OrientationFor(lid)
	if f.haveAxis && o != f.lidAxis {
		f.freeze = f.cfg.OrientationFreezeSamples
	}
	f.lidAxis = o
	f.haveAxis = true
}
