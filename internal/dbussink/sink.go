// Package dbussink exposes the committed posture on D-Bus. Desktops read
// screen rotation from an iio-sensor-proxy compatible object and tablet
// mode from a posture object; both emit PropertiesChanged.
package dbussink

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"

	"postured/internal/events"
	"postured/internal/hinge"
)

const (
	DefaultBusName = "dev.postured"

	ObjectPath       = "/dev/postured"
	PostureIface     = "dev.postured.TabletMode1"
	SensorProxyPath  = "/net/hadess/SensorProxy"
	SensorProxyIface = "net.hadess.SensorProxy"

	tabletChanged = PostureIface + ".TabletModeChanged"
)

// Property names.
const (
	propTabletMode  = "TabletMode"
	propDeviceMode  = "DeviceMode"
	propHingeAngle  = "HingeAngle"
	propHasAccel    = "HasAccelerometer"
	propOrientation = "AccelerometerOrientation"
)

type Config struct {
	// Bus is "system" (default) or "session".
	Bus  string
	Name string
	// SensorProxy exports the net.hadess.SensorProxy compatible object.
	SensorProxy bool
}

// SensorProxyOrientation maps a screen orientation to the iio-sensor-proxy
// AccelerometerOrientation vocabulary.
func SensorProxyOrientation(o hinge.ScreenOrientation) string {
	switch o {
	case hinge.Portrait:
		return "right-up"
	case hinge.PortraitFlipped:
		return "left-up"
	case hinge.LandscapeFlipped:
		return "bottom-up"
	default:
		return "normal"
	}
}

// bus is the exported connection the sink drives.
type bus interface {
	SetProperty(path dbus.ObjectPath, iface, name string, v interface{}) error
	Emit(path dbus.ObjectPath, signal string, values ...interface{}) error
	Close() error
}

// Sink is a session publisher. ModeInvalid never reaches the bus; the last
// good mode stays published.
type Sink struct {
	cfg Config
	bus bus

	mu          sync.Mutex
	closed      bool
	mode        string
	tablet      bool
	orientation string
	angle       float64
}

// New connects to the bus, exports the objects and claims cfg.Name.
func New(cfg Config) (*Sink, error) {
	if cfg.Name == "" {
		cfg.Name = DefaultBusName
	}
	var (
		c   *dbus.Conn
		err error
	)
	switch cfg.Bus {
	case "", "system":
		c, err = dbus.ConnectSystemBus()
	case "session":
		c, err = dbus.ConnectSessionBus()
	default:
		return nil, fmt.Errorf("dbus: bus must be 'system' or 'session', got %q", cfg.Bus)
	}
	if err != nil {
		return nil, fmt.Errorf("dbus: connect %s bus: %w", cfg.Bus, err)
	}
	b, err := export(c, cfg)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return newSink(cfg, b), nil
}

func newSink(cfg Config, b bus) *Sink {
	return &Sink{
		cfg:         cfg,
		bus:         b,
		mode:        hinge.ModeLaptop.String(),
		orientation: SensorProxyOrientation(hinge.Landscape),
	}
}

func (s *Sink) Publish(e events.Event) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	switch e.Type {
	case events.TypeMode:
		value, _ := e.Value.(string)
		if value == "" || value == hinge.ModeInvalid.String() || value == s.mode {
			return
		}
		s.mode = value
		s.set(ObjectPath, PostureIface, propDeviceMode, value)
		if tablet := events.IsTabletMode(e); tablet != s.tablet {
			s.tablet = tablet
			s.set(ObjectPath, PostureIface, propTabletMode, tablet)
			if err := s.bus.Emit(ObjectPath, tabletChanged, tablet); err != nil {
				log.Printf("dbus emit error signal=%s err=%v", tabletChanged, err)
			}
		}
	case events.TypeOrientation:
		if !s.cfg.SensorProxy {
			return
		}
		value, _ := e.Value.(string)
		o, err := hinge.ParseScreenOrientation(value)
		if err != nil {
			return
		}
		if v := SensorProxyOrientation(o); v != s.orientation {
			s.orientation = v
			s.set(SensorProxyPath, SensorProxyIface, propOrientation, v)
		}
	case events.TypeAngle:
		v, _, ok := e.Angle()
		if !ok || v == s.angle {
			return
		}
		s.angle = v
		s.set(ObjectPath, PostureIface, propHingeAngle, v)
	}
}

func (s *Sink) set(path dbus.ObjectPath, iface, name string, v interface{}) {
	if err := s.bus.SetProperty(path, iface, name, v); err != nil {
		log.Printf("dbus set error property=%s.%s err=%v", iface, name, err)
	}
}

// Close releases the bus name and closes the connection.
func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.bus.Close()
}

// conn is the godbus implementation of bus.
type conn struct {
	c     *dbus.Conn
	name  string
	props map[dbus.ObjectPath]*prop.Properties
}

type object struct {
	path    dbus.ObjectPath
	iface   string
	props   map[string]*prop.Prop
	signals []introspect.Signal
}

func objects(cfg Config) []object {
	objs := []object{{
		path:  ObjectPath,
		iface: PostureIface,
		props: map[string]*prop.Prop{
			propTabletMode: {Value: false, Emit: prop.EmitTrue},
			propDeviceMode: {Value: hinge.ModeLaptop.String(), Emit: prop.EmitTrue},
			propHingeAngle: {Value: float64(0), Emit: prop.EmitTrue},
		},
		signals: []introspect.Signal{{
			Name: "TabletModeChanged",
			Args: []introspect.Arg{{Name: "tablet_mode", Type: "b"}},
		}},
	}}
	if cfg.SensorProxy {
		objs = append(objs, object{
			path:  SensorProxyPath,
			iface: SensorProxyIface,
			props: map[string]*prop.Prop{
				propHasAccel:    {Value: true, Emit: prop.EmitConst},
				propOrientation: {Value: SensorProxyOrientation(hinge.Landscape), Emit: prop.EmitTrue},
			},
		})
	}
	return objs
}

func export(c *dbus.Conn, cfg Config) (*conn, error) {
	b := &conn{c: c, name: cfg.Name, props: make(map[dbus.ObjectPath]*prop.Properties)}
	for _, o := range objects(cfg) {
		p, err := prop.Export(c, o.path, prop.Map{o.iface: o.props})
		if err != nil {
			return nil, fmt.Errorf("dbus: export %s: %w", o.path, err)
		}
		b.props[o.path] = p
		node := &introspect.Node{
			Name: string(o.path),
			Interfaces: []introspect.Interface{
				introspect.IntrospectData,
				prop.IntrospectData,
				{Name: o.iface, Properties: p.Introspection(o.iface), Signals: o.signals},
			},
		}
		if err := c.Export(introspect.NewIntrospectable(node), o.path, "org.freedesktop.DBus.Introspectable"); err != nil {
			return nil, fmt.Errorf("dbus: export introspection %s: %w", o.path, err)
		}
	}

	reply, err := c.RequestName(cfg.Name, dbus.NameFlagDoNotQueue)
	if err != nil {
		return nil, fmt.Errorf("dbus: request name %s: %w", cfg.Name, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return nil, fmt.Errorf("dbus: name %s already taken", cfg.Name)
	}
	return b, nil
}

// SetProperty updates an exported property and emits PropertiesChanged.
// prop.Properties panics on unknown names and emit failures.
func (b *conn) SetProperty(path dbus.ObjectPath, iface, name string, v interface{}) (err error) {
	p, ok := b.props[path]
	if !ok {
		return fmt.Errorf("no object at %s", path)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	p.SetMust(iface, name, v)
	return nil
}

func (b *conn) Emit(path dbus.ObjectPath, signal string, values ...interface{}) error {
	return b.c.Emit(path, signal, values...)
}

func (b *conn) Close() error {
	_, relErr := b.c.ReleaseName(b.name)
	return errors.Join(relErr, b.c.Close())
}
