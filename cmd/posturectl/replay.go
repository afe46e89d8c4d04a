package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"time"

	"postured/internal/acquisition"
	"postured/internal/calibration"
	"postured/internal/config"
	"postured/internal/events"
	"postured/internal/session"
)

// instant replays a log without waiting.
type instant struct{}

func (instant) Sleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// runReplay feeds a sample log through a fresh session and prints every
// event as a wire line. Timestamps are seconds since the start of the log.
func runReplay(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	fs.SetOutput(stderr)
	calPath := fs.String("calibration", "", "Calibration YAML file")
	eps := fs.Float64("epsilon", config.DefaultAngleEpsilonDeg, "Angle change in degrees needed to emit an angle event")
	orient := fs.Bool("orientation", false, "Emit screen orientation events")
	hysteresis := fs.Float64("hysteresis", 0, "Mode hysteresis in degrees")
	stable := fs.Int("stable", 0, "Consecutive readings required before a mode change")
	adjacent := fs.Bool("adjacent", false, "Only change to a neighbouring mode")
	freeze := fs.Int("freeze", 0, "Readings to hold the mode after the lid orientation changes")
	speed := fs.Float64("speed", 0, "Playback speed; 0 replays as fast as possible")
	verbose := fs.Bool("verbose", false, "Log every computed pair to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *calPath == "" {
		return errors.New("-calibration is required")
	}
	if fs.NArg() != 1 {
		return errors.New("expected exactly one sample log")
	}
	if *speed < 0 || math.IsNaN(*speed) || math.IsInf(*speed, 0) {
		return errors.New("-speed must be a finite value >= 0")
	}

	store, err := calibration.LoadFile(*calPath)
	if err != nil {
		return err
	}
	recs, err := acquisition.ReadLogFile(fs.Arg(0))
	if err != nil {
		return err
	}

	rc := acquisition.ReplayConfig{Origin: time.Unix(0, 0), Speed: *speed}
	if *speed == 0 {
		rc.Speed = 1
		rc.Sleeper = instant{}
	}
	reader, err := acquisition.NewReplayReader(recs, rc)
	if err != nil {
		return err
	}

	logger := log.New(stderr, "", log.LstdFlags)
	prevLogf := session.Logf
	session.SetLogger(logger.Printf)
	defer session.SetLogger(prevLogf)

	ms := session.ModeStability{
		HysteresisDeg:            *hysteresis,
		Samples:                  *stable,
		AdjacentOnly:             *adjacent,
		OrientationFreezeSamples: *freeze,
	}
	sess, err := session.New(session.Config{
		Calibration:          store,
		AngleEpsilon:         *eps,
		OrientationEvents:    *orient,
		ModeStability:        ms,
		MaxConsecutiveErrors: -1,
		Verbose:              *verbose,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var writeErr error
	pub := session.PublisherFunc(func(e events.Event) {
		if writeErr != nil {
			return
		}
		line, err := events.Marshal(e)
		if err != nil {
			writeErr = err
			return
		}
		_, writeErr = stdout.Write(line)
	})
	if err := sess.Run(ctx, reader, pub); err != nil {
		return err
	}
	if writeErr != nil {
		return fmt.Errorf("write: %w", writeErr)
	}
	final := sess.Snapshot()
	logger.Printf("replay done angle=%.2f valid=%t mode=%s", final.Angle, final.AngleValid, final.Mode)
	return nil
}
