package acquisition

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"postured/internal/calibration"
	"postured/internal/hinge"
)

const DefaultIIORoot = "/sys/bus/iio/devices"

type IIOConfig struct {
	// Root is the IIO devices directory. Defaults to DefaultIIORoot.
	Root string
	// Lid and Base select a device either by directory name
	// ("iio:device1") or by the contents of its name attribute.
	Lid  string
	Base string
	// PollInterval is the pause between complete lid+base cycles.
	PollInterval time.Duration
}

// IIOReader polls the in_accel_{x,y,z}_raw attributes of two IIO
// accelerometers, alternating lid and base.
type IIOReader struct {
	cfg  IIOConfig
	dirs map[calibration.SensorID]string
	now  func() time.Time

	mu        sync.Mutex
	next      calibration.SensorID
	lastCycle time.Time
}

func NewIIOReader(cfg IIOConfig) (*IIOReader, error) {
	if cfg.Root == "" {
		cfg.Root = DefaultIIORoot
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if strings.TrimSpace(cfg.Lid) == "" || strings.TrimSpace(cfg.Base) == "" {
		return nil, errors.New("iio: lid and base devices are required")
	}
	r := &IIOReader{cfg: cfg, dirs: map[calibration.SensorID]string{}, now: time.Now, next: calibration.Lid}
	for id, sel := range map[calibration.SensorID]string{calibration.Lid: cfg.Lid, calibration.Base: cfg.Base} {
		dir, err := FindIIODevice(cfg.Root, sel)
		if err != nil {
			return nil, fmt.Errorf("iio: %s: %w", id, err)
		}
		r.dirs[id] = dir
	}
	if r.dirs[calibration.Lid] == r.dirs[calibration.Base] {
		return nil, fmt.Errorf("iio: lid and base resolve to the same device %s", r.dirs[calibration.Lid])
	}
	return r, nil
}

// Device returns the sysfs directory backing a sensor.
func (r *IIOReader) Device(id calibration.SensorID) string {
	return r.dirs[id]
}

func (r *IIOReader) Read(ctx context.Context) (Sample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.next
	if id == calibration.Lid && !r.lastCycle.IsZero() {
		wait := r.cfg.PollInterval - r.now().Sub(r.lastCycle)
		if !sleepCtx(ctx, wait) {
			return Sample{}, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	if id == calibration.Lid {
		r.lastCycle = r.now()
		r.next = calibration.Base
	} else {
		r.next = calibration.Lid
	}

	raw, err := readAccel(r.dirs[id])
	if err != nil {
		return Sample{}, &Error{Sensor: id, Err: err}
	}
	return Sample{Sensor: id, Raw: raw, At: r.now()}, nil
}

func readAccel(dir string) (hinge.RawSample, error) {
	var v [3]int
	for i, axis := range []string{"x", "y", "z"} {
		n, err := readInt(filepath.Join(dir, "in_accel_"+axis+"_raw"))
		if err != nil {
			return hinge.RawSample{}, err
		}
		v[i] = n
	}
	return hinge.RawSample{X: v[0], Y: v[1], Z: v[2]}, nil
}

func readInt(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(b))
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %q: %w", filepath.Base(path), s, err)
	}
	return n, nil
}

// FindIIODevice resolves sel to a device directory under root. An exact
// directory name wins, then an exact (case-insensitive) name attribute.
// Only devices exposing in_accel_x_raw qualify.
func FindIIODevice(root, sel string) (string, error) {
	sel = strings.TrimSpace(sel)
	if sel == "" {
		return "", errors.New("empty device selector")
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "iio:device") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var byName string
	for _, n := range names {
		dev := filepath.Join(root, n)
		if !fileExists(filepath.Join(dev, "in_accel_x_raw")) {
			continue
		}
		if n == sel {
			return dev, nil
		}
		b, _ := os.ReadFile(filepath.Join(dev, "name"))
		if byName == "" && strings.EqualFold(strings.TrimSpace(string(b)), sel) {
			byName = dev
		}
	}
	if byName != "" {
		return byName, nil
	}
	return "", fmt.Errorf("accelerometer %q not found under %s", sel, root)
}

// ListIIODevices returns every accelerometer directory under root with its
// name attribute.
func ListIIODevices(root string) (map[string]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	for _, e := range entries {
		dev := filepath.Join(root, e.Name())
		if !strings.HasPrefix(e.Name(), "iio:device") || !fileExists(filepath.Join(dev, "in_accel_x_raw")) {
			continue
		}
		b, _ := os.ReadFile(filepath.Join(dev, "name"))
		out[dev] = strings.TrimSpace(string(b))
	}
	return out, nil
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
