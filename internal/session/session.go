// Package session drives the posture pipeline: it pairs lid and base
// samples, computes the hinge angle and mode, diffs against the previous
// state and emits change events.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync/atomic"
	"time"

	"postured/internal/acquisition"
	"postured/internal/calibration"
	"postured/internal/events"
	"postured/internal/hinge"
)

const DefaultMaxConsecutiveErrors = 10

// State is the committed posture. The zero value is the initial state:
// no valid angle, ModeInvalid.
type State struct {
	Angle            float64                 `json:"angle"`
	AngleValid       bool                    `json:"angle_valid"`
	Mode             hinge.Mode              `json:"mode"`
	Orientation      hinge.ScreenOrientation `json:"orientation"`
	OrientationValid bool                    `json:"orientation_valid"`
	UpdatedAt        time.Time               `json:"updated_at"`
}

// Pair is one lid sample and one base sample taken close together.
type Pair struct {
	Lid  hinge.RawSample
	Base hinge.RawSample
	At   time.Time
}

type Publisher interface {
	Publish(events.Event)
}

type PublisherFunc func(events.Event)

func (f PublisherFunc) Publish(e events.Event) { f(e) }

// Publishers fans each event out in slice order.
type Publishers []Publisher

func (ps Publishers) Publish(e events.Event) {
	for _, p := range ps {
		if p != nil {
			p.Publish(e)
		}
	}
}

// Observer receives every computed reading and every failure. Used for
// metrics; calls happen on the producer goroutine.
type Observer interface {
	ObserveReading(r hinge.Reading, m hinge.Mode)
	ObserveError(err error)
}

type Config struct {
	Calibration hinge.Calibration
	// AngleEpsilon suppresses angle events whose change is not strictly
	// greater than it, in degrees.
	AngleEpsilon float64
	// OrientationEvents enables "orientation" events.
	OrientationEvents bool
	// ModeStability filters the classified mode before it is committed.
	ModeStability ModeStability
	// MaxConsecutiveErrors stops Run after that many failures in a row.
	// Zero means DefaultMaxConsecutiveErrors; negative means never stop.
	MaxConsecutiveErrors int
	Observer             Observer
	// Verbose logs every computed pair.
	Verbose bool
}

// Session owns the posture state. Step and Run must be driven from a single
// goroutine; Snapshot may be called from anywhere.
type Session struct {
	cfg     Config
	state   State
	tracker hinge.OrientationTracker
	filter  modeFilter
	snap    atomic.Pointer[State]
}

func New(cfg Config) (*Session, error) {
	if cfg.Calibration == nil {
		return nil, errors.New("session: calibration is required")
	}
	if cfg.AngleEpsilon < 0 || math.IsNaN(cfg.AngleEpsilon) {
		return nil, fmt.Errorf("session: angle epsilon must be >= 0, got %v", cfg.AngleEpsilon)
	}
	if err := cfg.ModeStability.validate(); err != nil {
		return nil, err
	}
	if cfg.MaxConsecutiveErrors == 0 {
		cfg.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	s := &Session{cfg: cfg, filter: modeFilter{cfg: cfg.ModeStability}}
	initial := s.state
	s.snap.Store(&initial)
	return s, nil
}

// Snapshot returns the last committed state.
func (s *Session) Snapshot() State {
	if s == nil {
		return State{}
	}
	return *s.snap.Load()
}

// Step runs one pair through the pipeline and returns the resulting events
// in emission order: angle, mode, orientation. On error nothing changes.
func (s *Session) Step(p Pair) ([]events.Event, error) {
	lid, err := hinge.Normalize(s.cfg.Calibration, calibration.Lid, p.Lid)
	if err != nil {
		return nil, err
	}
	base, err := hinge.Normalize(s.cfg.Calibration, calibration.Base, p.Base)
	if err != nil {
		return nil, err
	}

	reading := hinge.Compute(lid, base)
	raw := hinge.Classify(reading)
	mode := s.filter.next(s.state.Mode, reading, raw, lid)
	if s.cfg.Observer != nil {
		s.cfg.Observer.ObserveReading(reading, mode)
	}

	prev := s.state
	next := State{
		Angle:            reading.Angle,
		AngleValid:       reading.Valid,
		Mode:             mode,
		Orientation:      prev.Orientation,
		OrientationValid: prev.OrientationValid,
		UpdatedAt:        p.At,
	}

	var out []events.Event
	if reading.Valid && (!prev.AngleValid || math.Abs(reading.Angle-prev.Angle) > s.cfg.AngleEpsilon) {
		var previous *float64
		if prev.AngleValid {
			a := prev.Angle
			previous = &a
		}
		out = append(out, events.NewAngle(reading.Angle, previous, p.At))
	}
	if mode != prev.Mode {
		out = append(out, events.NewMode(mode, prev.Mode, p.At))
	}

	orient := s.tracker.Update(lid, base, mode)
	if _, ok := s.tracker.Last(); ok {
		if s.cfg.OrientationEvents && (!prev.OrientationValid || orient != prev.Orientation) {
			var previous *hinge.ScreenOrientation
			if prev.OrientationValid {
				o := prev.Orientation
				previous = &o
			}
			out = append(out, events.NewOrientation(orient, previous, p.At))
		}
		next.Orientation = orient
		next.OrientationValid = true
	}

	if s.cfg.Verbose {
		Logf("session pair lid=%.3f,%.3f,%.3f base=%.3f,%.3f,%.3f angle=%.2f valid=%t mode=%s raw_mode=%s events=%d",
			lid.X, lid.Y, lid.Z, base.X, base.Y, base.Z, reading.Angle, reading.Valid, mode, raw, len(out))
	}

	s.state = next
	committed := next
	s.snap.Store(&committed)
	return out, nil
}

// Run reads samples until ctx is cancelled or the reader is exhausted. The
// newest sample per sensor is held until the other sensor arrives; the pair
// is then stepped and both slots are cleared. Failures are logged and the
// last state is kept. Run returns nil on io.EOF, ctx.Err() on cancellation,
// and the last error once MaxConsecutiveErrors failures happen in a row.
func (s *Session) Run(ctx context.Context, r acquisition.Reader, pub Publisher) error {
	if pub == nil {
		pub = Publishers(nil)
	}
	var (
		lid, base         *acquisition.Sample
		consecutiveErrors int
	)
	fail := func(err error) error {
		consecutiveErrors++
		if s.cfg.Observer != nil {
			s.cfg.Observer.ObserveError(err)
		}
		Logf("session error consecutive=%d err=%v", consecutiveErrors, err)
		if s.cfg.MaxConsecutiveErrors > 0 && consecutiveErrors >= s.cfg.MaxConsecutiveErrors {
			return fmt.Errorf("session: giving up after %d consecutive errors: %w", consecutiveErrors, err)
		}
		return nil
	}

	for {
		sample, err := r.Read(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ferr := fail(err); ferr != nil {
				return ferr
			}
			continue
		}

		switch sample.Sensor {
		case calibration.Lid:
			lid = &sample
		case calibration.Base:
			base = &sample
		default:
			if ferr := fail(&acquisition.Error{Sensor: sample.Sensor, Err: errors.New("unknown sensor")}); ferr != nil {
				return ferr
			}
			continue
		}
		if lid == nil || base == nil {
			continue
		}

		p := Pair{Lid: lid.Raw, Base: base.Raw, At: lid.At}
		if base.At.After(p.At) {
			p.At = base.At
		}
		lid, base = nil, nil

		evs, err := s.Step(p)
		if err != nil {
			if ferr := fail(err); ferr != nil {
				return ferr
			}
			continue
		}
		consecutiveErrors = 0
		for _, e := range evs {
			pub.Publish(e)
		}
	}
}
