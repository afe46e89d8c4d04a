package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"postured/internal/acquisition"
	"postured/internal/calibration"
	"postured/internal/config"
	"postured/internal/dbussink"
	"postured/internal/distributor"
	"postured/internal/httpapi"
	"postured/internal/metrics"
	"postured/internal/mqttsink"
	"postured/internal/session"
	"postured/internal/sysfsmode"
)

type daemonOptions struct {
	Verbose bool
	Logs    *httpapi.LogBuffer
	// Registry defaults to a fresh registry per daemon.
	Registry *prometheus.Registry
}

// daemon owns every long-lived component. Build order is calibration,
// sinks, socket, then the sample source; Close tears down in reverse.
type daemon struct {
	cfg config.Config

	metrics  *metrics.Collector
	hub      *distributor.Hub
	server   *distributor.Server
	mqtt     *mqttsink.Sink
	sysfs    *sysfsmode.Writer
	dbus     *dbussink.Sink
	sess     *session.Session
	reader   acquisition.Reader
	recorder *acquisition.Recorder
	http     *httpapi.Options
}

func newDaemon(cfg config.Config, opts daemonOptions) (_ *daemon, err error) {
	store, err := cfg.Calibration.LoadCalibration()
	if err != nil {
		return nil, fmt.Errorf("calibration: %w", err)
	}
	if _, verr := calibration.ValidateStore(store, calibration.DefaultTolerance); verr != nil {
		log.Printf("calibration warning err=%v", verr)
	}

	d := &daemon{cfg: cfg}
	defer func() {
		if err != nil {
			d.Close()
		}
	}()

	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if d.metrics, err = metrics.New(reg); err != nil {
		return nil, err
	}
	d.hub = distributor.NewHub(d.metrics)

	if cfg.MQTT.Enable {
		d.mqtt, err = mqttsink.New(mqttsink.Config{
			Broker:         cfg.MQTT.Broker,
			ClientID:       cfg.MQTT.ClientID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			TopicPrefix:    cfg.MQTT.TopicPrefix,
			QoS:            byte(cfg.MQTT.QoS),
			Retain:         cfg.MQTT.Retain,
			QueueSize:      cfg.MQTT.QueueSize,
			ConnectTimeout: cfg.MQTT.ConnectTimeout,
		})
		if err != nil {
			return nil, err
		}
		log.Printf("mqtt enabled broker=%s prefix=%s", cfg.MQTT.Broker, cfg.MQTT.TopicPrefix)
	}

	if cfg.Sysfs.Enable {
		if d.sysfs, err = sysfsmode.New(cfg.Sysfs.Dir); err != nil {
			return nil, err
		}
		log.Printf("sysfs enabled dir=%s", cfg.Sysfs.Dir)
	}

	if cfg.DBus.Enable {
		sensorProxy := cfg.DBus.SensorProxy == nil || *cfg.DBus.SensorProxy
		if d.dbus, err = dbussink.New(dbussink.Config{
			Bus:         cfg.DBus.Bus,
			Name:        cfg.DBus.Name,
			SensorProxy: sensorProxy,
		}); err != nil {
			return nil, err
		}
		log.Printf("dbus enabled bus=%s name=%s sensor_proxy=%t", cfg.DBus.Bus, cfg.DBus.Name, sensorProxy)
		if sensorProxy && !cfg.Session.OrientationEvents {
			log.Printf("dbus warning: sensor proxy orientation stays 'normal' without session.orientation_events")
		}
	}

	d.sess, err = session.New(session.Config{
		Calibration:          store,
		AngleEpsilon:         cfg.Session.AngleEpsilon(),
		OrientationEvents:    cfg.Session.OrientationEvents,
		ModeStability:        modeStability(cfg.Session),
		MaxConsecutiveErrors: cfg.Session.MaxConsecutiveErrors,
		Observer:             d.metrics,
		Verbose:              opts.Verbose,
	})
	if err != nil {
		return nil, err
	}

	if err := d.openSource(); err != nil {
		return nil, err
	}

	mode, err := cfg.Events.FileMode()
	if err != nil {
		return nil, err
	}
	d.server, err = distributor.Listen(d.hub, distributor.ServerConfig{
		Path:         cfg.Events.SocketPath,
		Mode:         mode,
		Buffer:       cfg.Events.Buffer,
		WriteTimeout: cfg.Events.WriteTimeout,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("events socket listening path=%s mode=%s buffer=%d", cfg.Events.SocketPath, cfg.Events.SocketMode, cfg.Events.Buffer)

	if cfg.HTTP.Enable {
		d.http = &httpapi.Options{
			State:          d.sess,
			Hub:            d.hub,
			Metrics:        d.metrics.Handler(),
			Logs:           opts.Logs,
			MQTT:           d.mqtt,
			WSBuffer:       cfg.Events.Buffer,
			AllowedOrigins: cfg.HTTP.AllowedOrigins,
		}
	}
	return d, nil
}

func modeStability(c config.SessionConfig) session.ModeStability {
	return session.ModeStability{
		HysteresisDeg:            c.ModeHysteresisDeg,
		Samples:                  c.ModeStabilitySamples,
		AdjacentOnly:             c.ModeAdjacentOnly,
		OrientationFreezeSamples: c.OrientationFreezeSamples,
	}
}

func (d *daemon) openSource() error {
	src := d.cfg.Source
	switch src.Kind {
	case "iio":
		r, err := acquisition.NewIIOReader(acquisition.IIOConfig{
			Root:         src.IIO.Root,
			Lid:          src.IIO.Lid,
			Base:         src.IIO.Base,
			PollInterval: src.IIO.PollInterval,
		})
		if err != nil {
			return err
		}
		log.Printf("iio source lid=%s base=%s poll=%s", r.Device(calibration.Lid), r.Device(calibration.Base), src.IIO.PollInterval)
		d.reader = r
	case "replay":
		recs, err := acquisition.ReadLogFile(src.Replay.Path)
		if err != nil {
			return err
		}
		r, err := acquisition.NewReplayReader(recs, acquisition.ReplayConfig{Speed: src.Replay.Speed, Loop: src.Replay.Loop})
		if err != nil {
			return err
		}
		log.Printf("replay source path=%s records=%d speed=%g loop=%t", src.Replay.Path, len(recs), src.Replay.Speed, src.Replay.Loop)
		d.reader = r
	default:
		return fmt.Errorf("unknown source kind %q", src.Kind)
	}

	if d.cfg.Record.Enable {
		lw, err := acquisition.CreateLogWriter(d.cfg.Record.Path, time.Now())
		if err != nil {
			return fmt.Errorf("record: %w", err)
		}
		d.recorder = acquisition.NewRecorder(d.reader, lw)
		d.reader = d.recorder
		log.Printf("recording samples path=%s", d.cfg.Record.Path)
	}
	return nil
}

// publishers returns the sinks in delivery order: local consumers first,
// then the slower secondary transports.
func (d *daemon) publishers() session.Publishers {
	ps := session.Publishers{d.hub, d.metrics}
	if d.sysfs != nil {
		ps = append(ps, d.sysfs)
	}
	if d.mqtt != nil {
		ps = append(ps, d.mqtt)
	}
	if d.dbus != nil {
		ps = append(ps, d.dbus)
	}
	return ps
}

// Run drives the session until ctx is done or the source is exhausted.
func (d *daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpErr := make(chan error, 1)
	if d.http != nil {
		go func() {
			log.Printf("http listening addr=%s", d.cfg.HTTP.Listen)
			httpErr <- httpapi.Serve(ctx, d.cfg.HTTP.Listen, httpapi.Handler(*d.http))
		}()
	}

	sessErr := make(chan error, 1)
	go func() {
		sessErr <- d.sess.Run(ctx, d.reader, d.publishers())
	}()

	select {
	case err := <-sessErr:
		if err == nil {
			log.Printf("session source exhausted")
		}
		return err
	case err := <-httpErr:
		cancel()
		<-sessErr
		if err != nil {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	case <-ctx.Done():
		if err := <-sessErr; err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
}

// Close releases everything newDaemon acquired. Safe on a partially built
// daemon.
func (d *daemon) Close() {
	if d == nil {
		return
	}
	if d.server != nil {
		if err := d.server.Close(); err != nil {
			log.Printf("events socket close error: %v", err)
		}
	}
	d.hub.Close()
	d.mqtt.Close()
	if err := d.dbus.Close(); err != nil {
		log.Printf("dbus close error: %v", err)
	}
	if d.recorder != nil {
		if err := d.recorder.Close(); err != nil {
			log.Printf("record close error: %v", err)
		}
	}
	if d.sysfs != nil {
		if err := d.sysfs.Restore(); err != nil {
			log.Printf("sysfs restore error: %v", err)
		}
	}
}
