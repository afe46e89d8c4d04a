// Package metrics exposes the posture pipeline as Prometheus metrics.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"postured/internal/events"
	"postured/internal/hinge"
)

// Collector records readings, errors, emitted events and consumer churn.
// It satisfies session.Observer, session.Publisher and
// distributor.Observer.
type Collector struct {
	gatherer prometheus.Gatherer

	Events            *prometheus.CounterVec
	HingeAngle        prometheus.Gauge
	Mode              prometheus.Gauge
	InvalidReadings   prometheus.Counter
	AcquisitionErrors prometheus.Counter
	Consumers         prometheus.Gauge
	ConsumersDropped  prometheus.Counter
}

// New registers the posture metrics against reg, defaulting to the global
// registry when nil.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	evs, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postured_events_total",
		Help: "Posture events emitted, labeled by event type.",
	}, []string{"type"}), "postured_events_total")
	if err != nil {
		return nil, err
	}
	angle, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "postured_hinge_angle_degrees",
		Help: "Most recent valid hinge angle in degrees.",
	}), "postured_hinge_angle_degrees")
	if err != nil {
		return nil, err
	}
	mode, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "postured_mode",
		Help: "Current device mode (0 invalid, 1 closing, 2 laptop, 3 flat, 4 tent, 5 tablet).",
	}), "postured_mode")
	if err != nil {
		return nil, err
	}
	invalid, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "postured_invalid_readings_total",
		Help: "Sample pairs rejected by the minimum gravity gate.",
	}), "postured_invalid_readings_total")
	if err != nil {
		return nil, err
	}
	acqErrs, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "postured_acquisition_errors_total",
		Help: "Failed sample reads and pipeline errors.",
	}), "postured_acquisition_errors_total")
	if err != nil {
		return nil, err
	}
	consumers, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "postured_consumers",
		Help: "Currently connected event consumers.",
	}), "postured_consumers")
	if err != nil {
		return nil, err
	}
	dropped, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "postured_consumers_dropped_total",
		Help: "Consumers disconnected because they fell behind.",
	}), "postured_consumers_dropped_total")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:          gatherer,
		Events:            evs,
		HingeAngle:        angle,
		Mode:              mode,
		InvalidReadings:   invalid,
		AcquisitionErrors: acqErrs,
		Consumers:         consumers,
		ConsumersDropped:  dropped,
	}, nil
}

func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveReading(r hinge.Reading, m hinge.Mode) {
	if c == nil {
		return
	}
	if r.Valid {
		c.HingeAngle.Set(r.Angle)
	} else {
		c.InvalidReadings.Inc()
	}
	c.Mode.Set(float64(m))
}

func (c *Collector) ObserveError(error) {
	if c == nil {
		return
	}
	c.AcquisitionErrors.Inc()
}

func (c *Collector) Publish(e events.Event) {
	if c == nil {
		return
	}
	c.Events.WithLabelValues(string(e.Type)).Inc()
}

func (c *Collector) SetConsumers(n int) {
	if c == nil {
		return
	}
	c.Consumers.Set(float64(n))
}

func (c *Collector) ConsumerDropped() {
	if c == nil {
		return
	}
	c.ConsumersDropped.Inc()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return c, nil
}

func registerGauge(reg prometheus.Registerer, g prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(g); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return g, nil
}
