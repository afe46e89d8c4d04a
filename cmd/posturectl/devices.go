package main

import (
	"flag"
	"fmt"
	"io"
	"sort"

	"postured/internal/acquisition"
)

func runDevices(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("devices", flag.ContinueOnError)
	fs.SetOutput(stderr)
	root := fs.String("root", acquisition.DefaultIIORoot, "IIO sysfs root")
	if err := fs.Parse(args); err != nil {
		return err
	}
	devs, err := acquisition.ListIIODevices(*root)
	if err != nil {
		return err
	}
	paths := make([]string, 0, len(devs))
	for p := range devs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		fmt.Fprintf(stdout, "%s\t%s\n", p, devs[p])
	}
	if len(paths) == 0 {
		fmt.Fprintf(stdout, "no accelerometers under %s\n", *root)
	}
	return nil
}
