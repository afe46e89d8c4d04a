// Command posturectl is the offline companion to postured: it checks
// calibration files, inspects recorded sample logs and replays them through
// the engine.
package main

import (
	"fmt"
	"io"
	"os"
)

const usage = `usage: posturectl <command> [flags] [args]

commands:
  validate <calibration.yaml>              check mount matrices and scales
  summary <samples.log>                    describe a recorded sample log
  replay -calibration <file> <samples.log> print the events a log produces
  devices [-root dir]                      list IIO accelerometers
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	var err error
	switch args[0] {
	case "validate":
		err = runValidate(args[1:], stdout)
	case "summary":
		err = runSummary(args[1:], stdout)
	case "replay":
		err = runReplay(args[1:], stdout, stderr)
	case "devices":
		err = runDevices(args[1:], stdout, stderr)
	case "help", "-h", "-help", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "posturectl: unknown command %q\n\n%s", args[0], usage)
		return 2
	}
	if err != nil {
		fmt.Fprintf(stderr, "posturectl %s: %v\n", args[0], err)
		return 1
	}
	return 0
}
