package acquisition

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"postured/internal/calibration"
	"postured/internal/hinge"
)

// Sample log format: line-oriented text.
//
// - Blank lines and lines starting with '#' are ignored.
// - "START" resets the origin; following offsets are relative to it.
// - Data lines are <t_ns>,<sensor>,<x>,<y>,<z> where t_ns is nanoseconds
//   since START and sensor is "lid" or "base".

// Record is one log line. Start records carry no sample.
type Record struct {
	At     time.Duration
	Start  bool
	Sensor calibration.SensorID
	Raw    hinge.RawSample
}

type LogReader struct {
	r io.Reader
}

func NewLogReader(r io.Reader) *LogReader {
	return &LogReader{r: r}
}

func ReadLogFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	recs, err := NewLogReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return recs, nil
}

func (lr *LogReader) ReadAll() ([]Record, error) {
	s := bufio.NewScanner(lr.r)
	recs := make([]Record, 0, 1024)
	lineNo := 0
	for s.Scan() {
		lineNo++
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "START" {
			recs = append(recs, Record{Start: true})
			continue
		}
		rec, err := parseRecord(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		recs = append(recs, rec)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

func parseRecord(line string) (Record, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 5 {
		return Record{}, fmt.Errorf("invalid sample line (want 5 fields, got %d): %q", len(fields), line)
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	tsNs, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("invalid sample timestamp %q: %w", fields[0], err)
	}
	if tsNs < 0 {
		return Record{}, fmt.Errorf("invalid sample timestamp (negative): %d", tsNs)
	}
	id, err := calibration.ParseSensorID(fields[1])
	if err != nil {
		return Record{}, err
	}
	var v [3]int
	for i := 0; i < 3; i++ {
		n, err := strconv.Atoi(fields[2+i])
		if err != nil {
			return Record{}, fmt.Errorf("invalid sample value %q: %w", fields[2+i], err)
		}
		v[i] = n
	}
	return Record{
		At:     time.Duration(tsNs),
		Sensor: id,
		Raw:    hinge.RawSample{X: v[0], Y: v[1], Z: v[2]},
	}, nil
}

type LogWriter struct {
	f      *os.File
	w      *bufio.Writer
	start  time.Time
	closed bool
}

// CreateLogWriter truncates path and writes the START marker. start is the
// origin for every later offset.
func CreateLogWriter(path string, start time.Time) (*LogWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(f, 64*1024)
	if _, err := bw.WriteString("START\n"); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &LogWriter{f: f, w: bw, start: start}, nil
}

func (lw *LogWriter) WriteSample(s Sample) error {
	if lw.closed {
		return errors.New("sample log writer is closed")
	}
	d := s.At.Sub(lw.start)
	if d < 0 {
		d = 0
	}
	_, err := fmt.Fprintf(lw.w, "%d,%s,%d,%d,%d\n", d.Nanoseconds(), s.Sensor, s.Raw.X, s.Raw.Y, s.Raw.Z)
	return err
}

func (lw *LogWriter) Flush() error {
	if lw.closed {
		return nil
	}
	return lw.w.Flush()
}

func (lw *LogWriter) Close() error {
	if lw.closed {
		return nil
	}
	lw.closed = true
	if err := lw.w.Flush(); err != nil {
		_ = lw.f.Close()
		return err
	}
	return lw.f.Close()
}
