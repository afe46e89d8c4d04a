package acquisition

import (
	"context"
	"errors"
	"io"
	"math"
	"time"
)

// Sleeper paces replay. Tests substitute a recorder.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if !sleepCtx(ctx, d) {
		return ctx.Err()
	}
	return nil
}

type ReplayConfig struct {
	// Speed 1.0 is real time, 2.0 halves every wait.
	Speed float64
	Loop  bool
	// Origin is the wall time of the first sample. Defaults to the time of
	// the first Read.
	Origin  time.Time
	Sleeper Sleeper
}

// ReplayReader plays back a sample log with its recorded timing. Sample
// timestamps are Origin plus the recorded offset, accumulated across START
// markers and loops so they never go backwards.
type ReplayReader struct {
	recs []Record
	cfg  ReplayConfig

	pos      int
	origin   time.Duration
	lastAt   time.Duration
	haveLast bool
	elapsed  time.Duration
}

func NewReplayReader(recs []Record, cfg ReplayConfig) (*ReplayReader, error) {
	if cfg.Speed == 0 {
		cfg.Speed = 1
	}
	if !(cfg.Speed > 0) || math.IsInf(cfg.Speed, 0) {
		return nil, errors.New("replay: speed must be a finite value > 0")
	}
	if cfg.Sleeper == nil {
		cfg.Sleeper = realSleeper{}
	}
	n := 0
	for _, r := range recs {
		if !r.Start {
			n++
		}
	}
	if n == 0 {
		return nil, errors.New("replay: no samples")
	}
	return &ReplayReader{recs: recs, cfg: cfg}, nil
}

func (r *ReplayReader) Read(ctx context.Context) (Sample, error) {
	if r.cfg.Origin.IsZero() {
		r.cfg.Origin = time.Now()
	}
	for {
		if err := ctx.Err(); err != nil {
			return Sample{}, err
		}
		if r.pos >= len(r.recs) {
			if !r.cfg.Loop {
				return Sample{}, io.EOF
			}
			r.pos = 0
			r.origin = 0
			r.haveLast = false
		}
		rec := r.recs[r.pos]
		r.pos++
		if rec.Start {
			r.origin = rec.At
			r.haveLast = false
			continue
		}

		at := rec.At - r.origin
		if at < 0 {
			at = 0
		}
		if r.haveLast {
			wait := at - r.lastAt
			if wait < 0 {
				wait = 0
			}
			r.elapsed += wait
			wait = time.Duration(float64(wait) / r.cfg.Speed)
			if wait > 0 {
				if err := r.cfg.Sleeper.Sleep(ctx, wait); err != nil {
					return Sample{}, err
				}
			}
		}
		r.lastAt = at
		r.haveLast = true

		return Sample{Sensor: rec.Sensor, Raw: rec.Raw, At: r.cfg.Origin.Add(r.elapsed)}, nil
	}
}
