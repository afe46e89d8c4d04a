// Package sysfsmode mirrors posture changes into the platform driver's
// sysfs attributes (mode and orientation) so the kernel can disable the
// keyboard and touchpad in tablet posture.
package sysfsmode

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"postured/internal/events"
	"postured/internal/hinge"
)

const (
	modeFile        = "mode"
	orientationFile = "orientation"
)

// Writer is a session publisher. Mode events are written to <dir>/mode
// except ModeInvalid, which the driver does not accept; the last good mode
// stays in place. Orientation events go to <dir>/orientation.
type Writer struct {
	dir string

	mu              sync.Mutex
	lastMode        string
	lastOrientation string
}

// New checks that dir exists and has a writable mode attribute.
func New(dir string) (*Writer, error) {
	if dir == "" {
		return nil, errors.New("sysfs: dir is required")
	}
	fi, err := os.Stat(filepath.Join(dir, modeFile))
	if err != nil {
		return nil, fmt.Errorf("sysfs: %w", err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("sysfs: %s is a directory", filepath.Join(dir, modeFile))
	}
	return &Writer{dir: dir}, nil
}

func (w *Writer) Publish(e events.Event) {
	if w == nil {
		return
	}
	value, _ := e.Value.(string)
	switch e.Type {
	case events.TypeMode:
		if value == hinge.ModeInvalid.String() {
			return
		}
		if err := w.write(modeFile, value, &w.lastMode); err != nil {
			log.Printf("sysfs write error attr=mode value=%s err=%v", value, err)
		}
	case events.TypeOrientation:
		if err := w.write(orientationFile, value, &w.lastOrientation); err != nil {
			log.Printf("sysfs write error attr=orientation value=%s err=%v", value, err)
		}
	}
}

func (w *Writer) write(attr, value string, last *string) error {
	if value == "" {
		return errors.New("empty value")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if *last == value {
		return nil
	}
	if err := writeAttr(filepath.Join(w.dir, attr), value); err != nil {
		return err
	}
	*last = value
	return nil
}

// Restore writes laptop and landscape so a crash or shutdown in tablet
// posture never leaves the keyboard disabled.
func (w *Writer) Restore() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	var errs []error
	if err := writeAttr(filepath.Join(w.dir, modeFile), hinge.ModeLaptop.String()); err != nil {
		errs = append(errs, err)
	} else {
		w.lastMode = hinge.ModeLaptop.String()
	}
	orientPath := filepath.Join(w.dir, orientationFile)
	if _, err := os.Stat(orientPath); err == nil {
		if err := writeAttr(orientPath, hinge.Landscape.String()); err != nil {
			errs = append(errs, err)
		} else {
			w.lastOrientation = hinge.Landscape.String()
		}
	}
	return errors.Join(errs...)
}

func writeAttr(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(value + "\n"); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
