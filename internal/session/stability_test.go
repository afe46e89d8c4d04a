package session

import (
	"math"
	"testing"
	"time"

	"postured/internal/events"
	"postured/internal/hinge"
)

func newFilteredSession(t *testing.T, ms ModeStability) *Session {
	t.Helper()
	s, err := New(Config{Calibration: identityCal(t), AngleEpsilon: 0.5, ModeStability: ms})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return s
}

// pairAtY is pairAt with the lid turned a quarter so gravity falls along
// its Y axis. The hinge angle is unchanged.
func pairAtY(deg float64, at time.Time) Pair {
	p := pairAt(deg, at)
	p.Lid.X, p.Lid.Y = 0, p.Lid.X
	return p
}

func modeEvents(t *testing.T, evs []events.Event) []hinge.Mode {
	t.Helper()
	var out []hinge.Mode
	for _, e := range evs {
		if e.Type != events.TypeMode {
			continue
		}
		m, _, err := e.Mode()
		if err != nil {
			t.Fatalf("Mode(): %v", err)
		}
		out = append(out, m)
	}
	return out
}

func TestStep_HysteresisSuppressesBoundaryJitter(t *testing.T) {
	s := newFilteredSession(t, ModeStability{HysteresisDeg: 15})
	step(t, s, pairAt(119.8, t0))

	for i := 0; i < 20; i++ {
		deg := 120.2
		if i%2 == 1 {
			deg = 119.8
		}
		if got := modeEvents(t, step(t, s, pairAt(deg, t0))); len(got) != 0 {
			t.Fatalf("sample %d at %v: mode events %v", i, deg, got)
		}
	}
	if m := s.Snapshot().Mode; m != hinge.ModeLaptop {
		t.Fatalf("mode=%s want laptop", m)
	}

	if got := modeEvents(t, step(t, s, pairAt(134, t0))); len(got) != 0 {
		t.Fatalf("inside the band: mode events %v", got)
	}
	if got := modeEvents(t, step(t, s, pairAt(136, t0))); len(got) != 1 || got[0] != hinge.ModeFlat {
		t.Fatalf("past the band: mode events %v want [flat]", got)
	}
	// Flat now holds down to 105°.
	if got := modeEvents(t, step(t, s, pairAt(106, t0))); len(got) != 0 {
		t.Fatalf("returning inside the band: mode events %v", got)
	}
}

func TestStep_StabilitySamplesThreshold(t *testing.T) {
	s := newFilteredSession(t, ModeStability{Samples: 4})
	if got := modeEvents(t, step(t, s, pairAt(100, t0))); len(got) != 1 || got[0] != hinge.ModeLaptop {
		t.Fatalf("first reading: mode events %v want [laptop]", got)
	}

	// An interruption restarts the count.
	for _, deg := range []float64{130, 131, 100} {
		if got := modeEvents(t, step(t, s, pairAt(deg, t0))); len(got) != 0 {
			t.Fatalf("at %v: mode events %v", deg, got)
		}
	}
	for i := 1; i <= 4; i++ {
		got := modeEvents(t, step(t, s, pairAt(130+float64(i), t0)))
		if i < 4 && len(got) != 0 {
			t.Fatalf("sample %d: mode events %v want none", i, got)
		}
		if i == 4 && (len(got) != 1 || got[0] != hinge.ModeFlat) {
			t.Fatalf("sample %d: mode events %v want [flat]", i, got)
		}
	}
	if snap := s.Snapshot(); snap.Mode != hinge.ModeFlat || math.Abs(snap.Angle-134) > 1e-3 {
		t.Fatalf("snapshot=%+v", snap)
	}
}

func TestStep_AdjacentOnlyStepsThroughNeighbours(t *testing.T) {
	s := newFilteredSession(t, ModeStability{AdjacentOnly: true})
	step(t, s, pairAt(30, t0))

	evs := step(t, s, pairAt(150, t0))
	if got := modeEvents(t, evs); len(got) != 1 || got[0] != hinge.ModeLaptop {
		t.Fatalf("mode events %v want [laptop]", got)
	}
	if _, prev, _ := evs[len(evs)-1].Mode(); prev != hinge.ModeClosing {
		t.Fatalf("previous=%s want closing", prev)
	}
	if got := modeEvents(t, step(t, s, pairAt(150, t0))); len(got) != 1 || got[0] != hinge.ModeFlat {
		t.Fatalf("mode events %v want [flat]", got)
	}
}

func TestStep_OrientationChangeFreezesMode(t *testing.T) {
	s := newFilteredSession(t, ModeStability{OrientationFreezeSamples: 2})
	step(t, s, pairAt(100, t0))

	// The lid turns while the angle crosses into flat.
	for i := 0; i < 2; i++ {
		if got := modeEvents(t, step(t, s, pairAtY(130, t0))); len(got) != 0 {
			t.Fatalf("frozen sample %d: mode events %v", i, got)
		}
	}
	if got := modeEvents(t, step(t, s, pairAtY(130, t0))); len(got) != 1 || got[0] != hinge.ModeFlat {
		t.Fatalf("after freeze: mode events %v want [flat]", got)
	}
}

func TestStep_FilterNeverDelaysInvalid(t *testing.T) {
	s := newFilteredSession(t, ModeStability{HysteresisDeg: 15, Samples: 4, AdjacentOnly: true})
	step(t, s, pairAt(100, t0))

	weak := Pair{Lid: hinge.RawSample{X: 10}, Base: hinge.RawSample{Z: countsPerG}, At: t0}
	if got := modeEvents(t, step(t, s, weak)); len(got) != 1 || got[0] != hinge.ModeInvalid {
		t.Fatalf("mode events %v want [invalid]", got)
	}
	if got := modeEvents(t, step(t, s, pairAt(170, t0))); len(got) != 1 || got[0] != hinge.ModeFlat {
		t.Fatalf("recovery: mode events %v want [flat]", got)
	}
}

func TestNew_RejectsModeStability(t *testing.T) {
	for _, ms := range []ModeStability{
		{HysteresisDeg: -1},
		{HysteresisDeg: math.NaN()},
		{HysteresisDeg: 60},
		{Samples: -1},
		{OrientationFreezeSamples: -1},
	} {
		if _, err := New(Config{Calibration: identityCal(t), ModeStability: ms}); err == nil {
			t.Fatalf("expected error for %+v", ms)
		}
	}
}
