package main

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"postured/internal/calibration"
)

func runValidate(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(w)
	tol := fs.Float64("tolerance", calibration.DefaultTolerance, "Allowed deviation from an orthonormal matrix")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("expected exactly one calibration file")
	}

	store, err := calibration.LoadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	reports, verr := calibration.ValidateStore(store, *tol)
	for _, id := range store.Configured() {
		scale, _ := store.Scale(id)
		fmt.Fprintf(w, "%s: scale=%g %s\n", id, scale, reports[id])
	}
	if verr != nil {
		return verr
	}
	fmt.Fprintln(w, "ok")
	return nil
}
