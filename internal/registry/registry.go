// Package registry is the authority over discovered tuner hardware. It maps
// stable device IDs to physical devices, derives parent and per-tuner
// records from them, reconciles address changes, and hands out the
// tuner-busy markers that serialise capture sessions.
package registry

import (
	"hash/fnv"
	"log/slog"
	"net"
	"sort"
	"strings"
	"sync"

	"github.com/openrec/tunerbridge/internal/events"
	"github.com/openrec/tunerbridge/internal/hdhr"
	"github.com/openrec/tunerbridge/internal/logging"
	"github.com/openrec/tunerbridge/internal/metrics"
)

// DeviceLoader is the recorder-facing collaborator that receives newly
// discovered capture tuners.
type DeviceLoader interface {
	AdvertiseDevice(tuner *Tuner)
}

// Parent is the logical record of one physical unit: it owns its child
// tuner IDs and remembers which local NIC address reaches the hardware.
type Parent struct {
	ID           int32
	Name         string
	LocalAddress net.IP
	DeviceID     uint32
	TunerIDs     []int32
}

// Tuner is one capture device as presented to the recorder. Immutable after
// creation; ParentID is a non-owning back-reference resolved through the
// registry.
type Tuner struct {
	ID          int32
	ParentID    int32
	Index       int
	Name        string
	Description string
}

// Options feeds live configuration into the registry. Both list functions
// may be nil.
type Options struct {
	IgnoreModels    func() []string
	IgnoreDeviceIDs func() []string
}

// Registry holds all discovery state behind one read-write lock.
type Registry struct {
	logger *slog.Logger
	opts   Options
	bus    *events.Bus

	mu      sync.RWMutex
	loader  DeviceLoader
	devices map[uint32]*hdhr.Device
	parents map[int32]*Parent
	tuners  map[int32]*Tuner
	busy    map[int32]bool
}

// New creates an empty registry. bus may be nil.
func New(opts Options, bus *events.Bus) *Registry {
	return &Registry{
		logger:  logging.GetLogger("registry"),
		opts:    opts,
		bus:     bus,
		devices: make(map[uint32]*hdhr.Device),
		parents: make(map[int32]*Parent),
		tuners:  make(map[int32]*Tuner),
		busy:    make(map[int32]bool),
	}
}

// SetLoader installs the collaborator advertised to for new tuners.
func (r *Registry) SetLoader(loader DeviceLoader) {
	r.mu.Lock()
	r.loader = loader
	r.mu.Unlock()
}

// OnDevice registers or refreshes a discovered device. A known device only
// has its address and feature flags refreshed; children are never
// recreated. A new device produces a parent record, one tuner record per
// tuner, and an advertisement per tuner.
func (r *Registry) OnDevice(device *hdhr.Device) {
	if r.ignored(device) {
		return
	}

	r.mu.Lock()

	if existing, ok := r.devices[device.ID]; ok {
		if !existing.IP.Equal(device.IP) {
			r.logger.Info("Device changed its IP address",
				"device", existing.UniqueName(),
				"old_ip", existing.IP.String(),
				"new_ip", device.IP.String())
			existing.Update(device)

			r.mu.Unlock()
			if r.bus != nil {
				r.bus.Publish(events.DeviceAddressChangedEvent{
					DeviceID: existing.HexID(),
					Address:  device.IP.String(),
				})
			}
			return
		}

		existing.Update(device)
		r.mu.Unlock()
		return
	}

	r.logger.Info("Discovered a new device",
		"device", device.UniqueName(), "tuners", device.TunerCount,
		"ip", device.IP.String())

	localAddress := localIPForRemote(device.IP)
	if localAddress == nil {
		localAddress = broadcastInterfaceIP()
	}

	parent := &Parent{
		ID:           hash32(device.UniqueName()),
		Name:         device.UniqueName(),
		LocalAddress: localAddress,
		DeviceID:     device.ID,
	}

	var advertised []*Tuner
	for i := 0; i < device.TunerCount; i++ {
		name := device.UniqueTunerName(i)
		tuner := &Tuner{
			ID:          hash32(name),
			ParentID:    parent.ID,
			Index:       i,
			Name:        name,
			Description: "HDHomeRun " + device.Model + " capture device.",
		}
		r.tuners[tuner.ID] = tuner
		parent.TunerIDs = append(parent.TunerIDs, tuner.ID)
		advertised = append(advertised, tuner)
	}

	r.devices[device.ID] = device
	r.parents[parent.ID] = parent
	loader := r.loader
	metrics.DevicesDiscovered.Set(float64(len(r.devices)))
	r.mu.Unlock()

	// Advertisements and events run outside the lock; the loader may call
	// straight back into the registry.
	if loader != nil {
		for _, tuner := range advertised {
			loader.AdvertiseDevice(tuner)
		}
	}
	if r.bus != nil {
		r.bus.Publish(events.DeviceDiscoveredEvent{
			DeviceID: device.HexID(),
			Model:    device.Model,
			Address:  device.IP.String(),
			Tuners:   device.TunerCount,
		})
	}
}

// ignored applies the model and hex-ID ignore lists. Model comparison is
// case-insensitive; ID comparison accepts both zero-padded and unpadded hex.
func (r *Registry) ignored(device *hdhr.Device) bool {
	if r.opts.IgnoreModels != nil {
		for _, model := range r.opts.IgnoreModels() {
			if strings.EqualFold(device.Model, model) {
				return true
			}
		}
	}
	if r.opts.IgnoreDeviceIDs != nil {
		want := normalizeHexID(device.HexID())
		for _, id := range r.opts.IgnoreDeviceIDs() {
			if normalizeHexID(id) == want {
				return true
			}
		}
	}
	return false
}

func normalizeHexID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	trimmed := strings.TrimLeft(id, "0")
	if trimmed == "" {
		return "0"
	}
	return trimmed
}

// Device returns the physical device for a device ID, or nil.
func (r *Registry) Device(id uint32) *hdhr.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.devices[id]
}

// Devices lists all physical devices sorted by ID.
func (r *Registry) Devices() []*hdhr.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*hdhr.Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Parent returns a parent record by ID, or nil.
func (r *Registry) Parent(id int32) *Parent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.parents[id]
}

// Parents lists all parent records sorted by name.
func (r *Registry) Parents() []*Parent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Parent, 0, len(r.parents))
	for _, p := range r.parents {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Tuner returns a tuner record by ID, or nil.
func (r *Registry) Tuner(id int32) *Tuner {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tuners[id]
}

// Tuners lists all tuner records sorted by name.
func (r *Registry) Tuners() []*Tuner {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Tuner, 0, len(r.tuners))
	for _, t := range r.tuners {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// TunerCount returns the number of known capture tuners.
func (r *Registry) TunerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tuners)
}

// LockTuner claims the busy marker for a tuner ahead of a capture session.
// It returns false when the tuner is unknown or already in use.
func (r *Registry) LockTuner(id int32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tuners[id]; !ok {
		return false
	}
	if r.busy[id] {
		return false
	}
	r.busy[id] = true
	return true
}

// UnlockTuner releases the busy marker.
func (r *Registry) UnlockTuner(id int32) {
	r.mu.Lock()
	delete(r.busy, id)
	r.mu.Unlock()
}

// TunerBusy reports whether a capture session holds the tuner.
func (r *Registry) TunerBusy(id int32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.busy[id]
}

// hash32 derives the stable record ID from a unique name.
func hash32(s string) int32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return int32(h.Sum32())
}

// localIPForRemote picks the local address the kernel would route to the
// remote IP. No packets are sent; the connect only resolves a route.
func localIPForRemote(remote net.IP) net.IP {
	conn, err := net.Dial("udp4", net.JoinHostPort(remote.String(), "80"))
	if err != nil {
		return nil
	}
	defer conn.Close()

	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP
	}
	return nil
}

// broadcastInterfaceIP falls back to the first broadcast-capable interface
// address when routing could not pick one.
func broadcastInterfaceIP() net.IP {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 ||
			iface.Flags&net.FlagLoopback != 0 ||
			iface.Flags&net.FlagBroadcast == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok {
				if ip4 := ipnet.IP.To4(); ip4 != nil {
					return ip4
				}
			}
		}
	}
	return nil
}
