package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"postured/internal/acquisition"
	"postured/internal/calibration"
)

type logSummary struct {
	Segments    int
	Samples     map[calibration.SensorID]int
	MaxDuration time.Duration
	// MaxGap is the longest wait between consecutive samples in a segment.
	MaxGap time.Duration
}

func summarizeSampleLog(records []acquisition.Record) logSummary {
	s := logSummary{Samples: map[calibration.SensorID]int{}}
	origin := time.Duration(0)
	var last time.Duration
	haveLast := false
	segments := 0
	for _, r := range records {
		if r.Start {
			segments++
			origin = r.At
			haveLast = false
			continue
		}
		s.Samples[r.Sensor]++
		at := r.At - origin
		if at < 0 {
			at = 0
		}
		if at > s.MaxDuration {
			s.MaxDuration = at
		}
		if haveLast && at-last > s.MaxGap {
			s.MaxGap = at - last
		}
		last = at
		haveLast = true
	}
	if segments == 0 && len(s.Samples) > 0 {
		segments = 1
	}
	s.Segments = segments
	return s
}

func runSummary(args []string, w io.Writer) error {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return errors.New("expected exactly one sample log")
	}
	recs, err := acquisition.ReadLogFile(args[0])
	if err != nil {
		return err
	}
	s := summarizeSampleLog(recs)

	fmt.Fprintf(w, "path: %s\n", args[0])
	fmt.Fprintf(w, "segments: %d\n", s.Segments)
	for _, id := range calibration.Sensors {
		fmt.Fprintf(w, "%s_samples: %d\n", id, s.Samples[id])
	}
	fmt.Fprintf(w, "max_duration: %s\n", s.MaxDuration)
	fmt.Fprintf(w, "max_gap: %s\n", s.MaxGap)
	return nil
}
