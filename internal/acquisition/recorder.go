package acquisition

import (
	"context"
)

// Recorder passes samples through from an inner Reader and appends each
// successful one to a sample log.
type Recorder struct {
	inner Reader
	log   *LogWriter
}

func NewRecorder(inner Reader, log *LogWriter) *Recorder {
	return &Recorder{inner: inner, log: log}
}

func (r *Recorder) Read(ctx context.Context) (Sample, error) {
	s, err := r.inner.Read(ctx)
	if err != nil {
		return s, err
	}
	if werr := r.log.WriteSample(s); werr != nil {
		return s, &Error{Sensor: s.Sensor, Err: werr}
	}
	return s, nil
}

// Close flushes and closes the log. The inner reader is left alone.
func (r *Recorder) Close() error {
	return r.log.Close()
}
