// Package acquisition is the boundary between sample sources and the
// engine. Sources yield one sensor sample per Read; the caller pairs them.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"postured/internal/calibration"
	"postured/internal/hinge"
)

// ErrAcquisition matches every *Error with errors.Is.
var ErrAcquisition = errors.New("acquisition failure")

// Error reports a failed read of one sensor.
type Error struct {
	Sensor calibration.SensorID
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("acquisition: %s: %v", e.Sensor, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrAcquisition }

type Sample struct {
	Sensor calibration.SensorID
	Raw    hinge.RawSample
	At     time.Time
}

// Reader yields samples. io.EOF means the source is exhausted; any other
// error should be an *Error and leaves the reader usable.
type Reader interface {
	Read(ctx context.Context) (Sample, error)
}

// SliceReader returns a fixed list of samples, then io.EOF. Errs replaces
// the sample at an index with an *Error for that sample's sensor.
type SliceReader struct {
	Samples []Sample
	Errs    map[int]error
	pos     int
}

func (r *SliceReader) Read(ctx context.Context) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	if r.pos >= len(r.Samples) {
		return Sample{}, io.EOF
	}
	i := r.pos
	r.pos++
	if err, ok := r.Errs[i]; ok && err != nil {
		return Sample{}, &Error{Sensor: r.Samples[i].Sensor, Err: err}
	}
	return r.Samples[i], nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
