// Package discovery presents HDHomeRun tuners to the recorder as capture
// devices: it owns the discovery engine and the device registry, exposes
// the discoverer option surface, and hands out capture-device sessions.
package discovery

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/openrec/tunerbridge/internal/capture"
	"github.com/openrec/tunerbridge/internal/config"
	"github.com/openrec/tunerbridge/internal/consumer"
	"github.com/openrec/tunerbridge/internal/events"
	"github.com/openrec/tunerbridge/internal/hdhr"
	"github.com/openrec/tunerbridge/internal/logging"
	"github.com/openrec/tunerbridge/internal/registry"
)

// ErrDisabled is returned by StartDetection while the discoverer is
// disabled by configuration.
var ErrDisabled = errors.New("discovery: discoverer is disabled")

// HDHomeRunDiscoverer glues the discovery engine to the registry and
// presents the uniform device-discoverer surface to the recorder side. It
// owns no goroutines itself; lifecycle calls forward to the engine.
type HDHomeRunDiscoverer struct {
	logger  *slog.Logger
	store   *config.Store
	bus     *events.Bus
	control hdhr.ControlClient
	opts    *discovererOptions
	router  *consumer.Router

	reg *registry.Registry

	mu            sync.Mutex
	engine        *hdhr.Discovery
	sessions      map[int32]*capture.Device
	needBroadcast atomic.Bool
}

// New creates the discoverer, loading its options and building an empty
// registry. control and bus may be nil.
func New(store *config.Store, bus *events.Bus, control hdhr.ControlClient) *HDHomeRunDiscoverer {
	logger := logging.GetLogger("discovery")
	opts := loadOptions(store, logger)

	d := &HDHomeRunDiscoverer{
		logger:   logger,
		store:    store,
		bus:      bus,
		control:  control,
		opts:     opts,
		router:   consumer.LoadRouter(store, logger),
		sessions: make(map[int32]*capture.Device),
	}

	d.reg = registry.New(registry.Options{
		IgnoreModels:    opts.ignoreModels.Array,
		IgnoreDeviceIDs: opts.ignoreDeviceIDs.Array,
	}, bus)

	return d
}

// Name identifies this discovery method.
func (d *HDHomeRunDiscoverer) Name() string { return "HDHomeRun" }

// Description explains what this discovery method finds.
func (d *HDHomeRunDiscoverer) Description() string {
	return "Discovers capture devices available via the HDHomeRun native protocol."
}

// IsEnabled reports the persisted enable flag.
func (d *HDHomeRunDiscoverer) IsEnabled() bool {
	return d.store.GetBool("hdhr.discoverer_enabled", true)
}

// SetEnabled flips and persists the enable flag.
func (d *HDHomeRunDiscoverer) SetEnabled(enabled bool) {
	d.store.SetBool("hdhr.discoverer_enabled", enabled)
	if err := d.store.Save(); err != nil {
		d.logger.Warn("Could not persist the discoverer enable flag", "error", err)
	}
}

// StartDetection wires the loader into the registry and starts the
// discovery engine. Starting while already running is a no-op.
func (d *HDHomeRunDiscoverer) StartDetection(loader registry.DeviceLoader) error {
	if !d.IsEnabled() {
		return ErrDisabled
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.engine != nil && d.engine.IsRunning() {
		return nil
	}

	d.reg.SetLoader(loader)

	d.engine = hdhr.NewDiscovery(hdhr.Config{
		Port:            d.BroadcastPort(),
		TargetPort:      hdhr.DefaultDiscoveryPort,
		Interval:        d.opts.BroadcastInterval,
		Smart:           d.opts.smartBroadcast.Bool,
		NeedBroadcast:   d.consumeBroadcastRequest,
		StaticAddresses: d.opts.staticAddresses.Array,
		OnDevice:        d.reg.OnDevice,
		Control:         d.control,
	})

	return d.engine.Start()
}

// StopDetection closes the discovery socket; background work unwinds
// asynchronously.
func (d *HDHomeRunDiscoverer) StopDetection() {
	d.mu.Lock()
	engine := d.engine
	d.mu.Unlock()

	if engine != nil {
		engine.Stop()
	}
}

// WaitForStopDetection joins the engine's background work.
func (d *HDHomeRunDiscoverer) WaitForStopDetection() {
	d.mu.Lock()
	engine := d.engine
	d.mu.Unlock()

	if engine != nil {
		engine.WaitForStop()
	}
}

// IsRunning reflects whether the discovery socket is open.
func (d *HDHomeRunDiscoverer) IsRunning() bool {
	d.mu.Lock()
	engine := d.engine
	d.mu.Unlock()

	return engine != nil && engine.IsRunning()
}

// Registry exposes the device registry to the API layer.
func (d *HDHomeRunDiscoverer) Registry() *registry.Registry {
	return d.reg
}

// Device fetches a physical device by ID. A miss flags broadcast demand so
// smart broadcast can go looking for it.
func (d *HDHomeRunDiscoverer) Device(id uint32) *hdhr.Device {
	device := d.reg.Device(id)
	if device == nil {
		d.RequestBroadcast()
	}
	return device
}

// Tuner fetches a tuner record by ID, flagging broadcast demand on a miss.
func (d *HDHomeRunDiscoverer) Tuner(id int32) *registry.Tuner {
	tuner := d.reg.Tuner(id)
	if tuner == nil {
		d.RequestBroadcast()
	}
	return tuner
}

// LoadCaptureDevice claims a tuner for a capture session. The registry's
// busy marker guarantees at most one session per tuner; Release on the
// returned device frees it.
func (d *HDHomeRunDiscoverer) LoadCaptureDevice(tunerID int32) (*capture.Device, error) {
	tuner := d.Tuner(tunerID)
	if tuner == nil {
		return nil, fmt.Errorf("discovery: capture device %d was never detected", tunerID)
	}

	parent := d.reg.Parent(tuner.ParentID)
	if parent == nil {
		return nil, fmt.Errorf("discovery: tuner %q has no parent record", tuner.Name)
	}
	device := d.reg.Device(parent.DeviceID)
	if device == nil {
		return nil, fmt.Errorf("discovery: tuner %q has no physical device", tuner.Name)
	}

	if !d.reg.LockTuner(tunerID) {
		return nil, fmt.Errorf("discovery: tuner %q is in use", tuner.Name)
	}

	session := capture.New(capture.Options{
		Store:    d.store,
		Bus:      d.bus,
		Registry: d.reg,
		Router:   d.router,
		Tuner:    tuner,
		Parent:   parent,
		Physical: device,
		Locking:  d.opts.locking.Bool(),
	})

	d.mu.Lock()
	d.sessions[tunerID] = session
	d.mu.Unlock()
	return session, nil
}

// ReleaseCaptureDevice ends a session and frees its tuner.
func (d *HDHomeRunDiscoverer) ReleaseCaptureDevice(tunerID int32) {
	d.mu.Lock()
	session := d.sessions[tunerID]
	delete(d.sessions, tunerID)
	d.mu.Unlock()

	if session != nil {
		session.Release()
	}
}

// Sessions lists the capture sessions currently holding tuners.
func (d *HDHomeRunDiscoverer) Sessions() []*capture.Device {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]*capture.Device, 0, len(d.sessions))
	for _, session := range d.sessions {
		out = append(out, session)
	}
	return out
}

// Store exposes the option store backing this discoverer.
func (d *HDHomeRunDiscoverer) Store() *config.Store {
	return d.store
}

// RequestBroadcast flags demand for a probe cycle. Under smart broadcast
// the engine picks the flag up within a second.
func (d *HDHomeRunDiscoverer) RequestBroadcast() {
	d.needBroadcast.Store(true)
}

// consumeBroadcastRequest is the engine's atomic read-and-clear of the
// demand flag.
func (d *HDHomeRunDiscoverer) consumeBroadcastRequest() bool {
	return d.needBroadcast.Swap(false)
}

// SetOptions routes settings to the store. Updating the static addresses
// requests an immediate broadcast so new devices load without waiting.
func (d *HDHomeRunDiscoverer) SetOptions(settings ...config.Setting) error {
	if err := d.store.SetOptions(settings...); err != nil {
		return err
	}

	for _, setting := range settings {
		if setting.Property == "hdhr.static_addresses_csv" {
			d.RequestBroadcast()
		}
	}
	return nil
}

// Options lists the discoverer's option surface for the API.
func (d *HDHomeRunDiscoverer) Options() []config.Option {
	return d.store.Options("hdhr.")
}

// BroadcastPort resolves the configured local port. Ports in (0, 1024) are
// rewritten to 0, which selects an ephemeral port.
func (d *HDHomeRunDiscoverer) BroadcastPort() int {
	port := d.opts.broadcastPort.Int()
	if port > 0 && port < 1024 {
		if err := d.opts.broadcastPort.SetValue("0"); err != nil {
			d.logger.Warn("Could not rewrite the broadcast port option", "error", err)
		}
		d.store.SetInt("hdhr.broadcast_port", 0)
		port = 0
	}
	return port
}
