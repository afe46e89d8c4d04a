package main

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"postured/internal/acquisition"
	"postured/internal/calibration"
	"postured/internal/events"
	"postured/internal/hinge"
)

const identityCal = `
lid:
  mount_matrix: [[1, 0, 0], [0, 1, 0], [0, 0, 1]]
  scale: 0.00001
base:
  mount_matrix: [[1, 0, 0], [0, 1, 0], [0, 0, 1]]
  scale: 0.00001
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return p
}

func TestRun_Usage(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run(nil, &out, &errOut); code != 2 {
		t.Fatalf("code=%d want 2", code)
	}
	if code := run([]string{"frobnicate"}, &out, &errOut); code != 2 {
		t.Fatalf("code=%d want 2", code)
	}
	if !strings.Contains(errOut.String(), `unknown command "frobnicate"`) {
		t.Fatalf("stderr=%q", errOut.String())
	}
}

func TestValidate(t *testing.T) {
	good := writeFile(t, "good.yaml", identityCal)
	var out, errOut bytes.Buffer
	if code := run([]string{"validate", good}, &out, &errOut); code != 0 {
		t.Fatalf("code=%d stderr=%s", code, errOut.String())
	}
	if !strings.Contains(out.String(), "lid: scale=1e-05 det=1.000000") || !strings.HasSuffix(out.String(), "ok\n") {
		t.Fatalf("stdout=%q", out.String())
	}

	sheared := strings.Replace(identityCal, "[[1, 0, 0], [0, 1, 0], [0, 0, 1]]\n  scale: 0.00001\n", "[[1, 1, 0], [0, 1, 0], [0, 0, 1]]\n  scale: 0.00001\n", 1)
	bad := writeFile(t, "bad.yaml", sheared)
	out.Reset()
	errOut.Reset()
	if code := run([]string{"validate", bad}, &out, &errOut); code != 1 {
		t.Fatalf("code=%d want 1", code)
	}
	if !strings.Contains(errOut.String(), "lid: mount matrix is not orthogonal") {
		t.Fatalf("stderr=%q", errOut.String())
	}
}

func TestSummarizeSampleLog(t *testing.T) {
	recs := []acquisition.Record{
		{Start: true},
		{At: 0, Sensor: calibration.Lid},
		{At: 10 * time.Millisecond, Sensor: calibration.Base},
		{At: 110 * time.Millisecond, Sensor: calibration.Lid},
		{Start: true, At: 5 * time.Second},
		{At: 5*time.Second + 20*time.Millisecond, Sensor: calibration.Base},
	}
	s := summarizeSampleLog(recs)
	if s.Segments != 2 {
		t.Fatalf("segments=%d want 2", s.Segments)
	}
	if s.Samples[calibration.Lid] != 2 || s.Samples[calibration.Base] != 2 {
		t.Fatalf("samples=%v", s.Samples)
	}
	if s.MaxDuration != 110*time.Millisecond {
		t.Fatalf("maxDuration=%s", s.MaxDuration)
	}
	if s.MaxGap != 100*time.Millisecond {
		t.Fatalf("maxGap=%s", s.MaxGap)
	}

	if got := summarizeSampleLog([]acquisition.Record{{Sensor: calibration.Lid}}); got.Segments != 1 {
		t.Fatalf("log without START segments=%d want 1", got.Segments)
	}
}

func TestReplay_PrintsEvents(t *testing.T) {
	cal := writeFile(t, "cal.yaml", identityCal)
	// Lid at 90° to the base, then folded flat against it at 180°.
	logPath := writeFile(t, "samples.log", strings.Join([]string{
		"START",
		"0,lid,0,1000000,0",
		"10000000,base,0,0,1000000",
		"100000000,lid,0,0,-1000000",
		"110000000,base,0,0,1000000",
		"",
	}, "\n"))

	var out, errOut bytes.Buffer
	if code := run([]string{"replay", "-calibration", cal, logPath}, &out, &errOut); code != 0 {
		t.Fatalf("code=%d stderr=%s", code, errOut.String())
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("lines=%d want 4:\n%s", len(lines), out.String())
	}
	var evs []events.Event
	for _, l := range lines {
		e, err := events.Parse([]byte(l))
		if err != nil {
			t.Fatalf("Parse(%q): %v", l, err)
		}
		evs = append(evs, e)
	}

	if v, prev, ok := evs[0].Angle(); !ok || math.Abs(v-90) > 1e-9 || prev != nil {
		t.Fatalf("first event=%+v", evs[0])
	}
	if math.Abs(evs[0].Timestamp-0.01) > 1e-9 {
		t.Fatalf("first timestamp=%v want 0.01", evs[0].Timestamp)
	}
	if m, prev, err := evs[1].Mode(); err != nil || m != hinge.ModeLaptop || prev != hinge.ModeInvalid {
		t.Fatalf("second event=%+v", evs[1])
	}
	if v, prev, ok := evs[2].Angle(); !ok || math.Abs(v-180) > 1e-9 || prev == nil || math.Abs(*prev-90) > 1e-9 {
		t.Fatalf("third event=%+v", evs[2])
	}
	if m, _, err := evs[3].Mode(); err != nil || m != hinge.ModeTent {
		t.Fatalf("fourth event=%+v", evs[3])
	}
}

func TestReplay_RequiresCalibration(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run([]string{"replay", "x.log"}, &out, &errOut); code != 1 {
		t.Fatalf("code=%d want 1", code)
	}
	if !strings.Contains(errOut.String(), "-calibration is required") {
		t.Fatalf("stderr=%q", errOut.String())
	}
}

func TestReplay_ModeFilterFlags(t *testing.T) {
	cal := writeFile(t, "cal.yaml", identityCal)
	logPath := writeFile(t, "samples.log", strings.Join([]string{
		"START",
		"0,lid,0,1000000,0",
		"10000000,base,0,0,1000000",
		"100000000,lid,0,0,-1000000",
		"110000000,base,0,0,1000000",
		"",
	}, "\n"))

	var out, errOut bytes.Buffer
	if code := run([]string{"replay", "-calibration", cal, "-stable", "2", logPath}, &out, &errOut); code != 0 {
		t.Fatalf("code=%d stderr=%s", code, errOut.String())
	}
	// A single reading at 180° is not enough to leave laptop mode.
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines=%d want 3:\n%s", len(lines), out.String())
	}
	e, err := events.Parse([]byte(lines[2]))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if v, _, ok := e.Angle(); !ok || math.Abs(v-180) > 1e-9 {
		t.Fatalf("last event=%+v want angle 180", e)
	}
}

func TestReplay_RejectsNaNSpeed(t *testing.T) {
	cal := writeFile(t, "cal.yaml", identityCal)
	var out, errOut bytes.Buffer
	if code := run([]string{"replay", "-calibration", cal, "-speed", "NaN", "x.log"}, &out, &errOut); code != 1 {
		t.Fatalf("code=%d want 1", code)
	}
	if !strings.Contains(errOut.String(), "-speed must be a finite value >= 0") {
		t.Fatalf("stderr=%q", errOut.String())
	}
}

func TestDevices(t *testing.T) {
	root := t.TempDir()
	dev := filepath.Join(root, "iio:device0")
	if err := os.MkdirAll(dev, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	for name, body := range map[string]string{"name": "mxc4005\n", "in_accel_x_raw": "0\n"} {
		if err := os.WriteFile(filepath.Join(dev, name), []byte(body), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	var out, errOut bytes.Buffer
	if code := run([]string{"devices", "-root", root}, &out, &errOut); code != 0 {
		t.Fatalf("code=%d stderr=%s", code, errOut.String())
	}
	if got, want := out.String(), dev+"\tmxc4005\n"; got != want {
		t.Fatalf("stdout=%q want %q", got, want)
	}
}
