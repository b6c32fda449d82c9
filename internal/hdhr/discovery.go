package hdhr

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/openrec/tunerbridge/internal/logging"
	"github.com/openrec/tunerbridge/internal/metrics"
)

// probesPerCycle and probeSpacing tolerate datagram loss: every cycle sends
// a short burst per target instead of a single packet.
const (
	probesPerCycle = 3
	probeSpacing   = 20 * time.Millisecond
	controlTimeout = 5 * time.Second
)

// Config wires a Discovery engine to its surroundings. The function fields
// read live state so option changes apply without restarting detection.
type Config struct {
	// Port is the local bind port. Values below 1024 (including 0) select
	// an ephemeral port.
	Port int

	// TargetPort is the device discovery port probes are sent to.
	TargetPort int

	// Interval between periodic probe cycles. Zero stops probing after the
	// initial cycle.
	Interval func() time.Duration

	// Smart suppresses periodic probing; cycles run only when NeedBroadcast
	// reports demand.
	Smart func() bool

	// NeedBroadcast is an atomic read-and-clear of the demand flag.
	NeedBroadcast func() bool

	// StaticAddresses lists IPs probed by unicast on every cycle.
	StaticAddresses func() []string

	// OnDevice receives each resolved device.
	OnDevice func(device *Device)

	// Control fills in device details the reply did not carry. Optional.
	Control ControlClient
}

// Discovery is the UDP discovery loop: one socket shared by a receive
// goroutine and a probe-cycle goroutine.
type Discovery struct {
	logger *slog.Logger
	cfg    Config

	mu      sync.Mutex
	conn    *net.UDPConn
	stop    chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewDiscovery creates a stopped engine.
func NewDiscovery(cfg Config) *Discovery {
	return &Discovery{logger: logging.GetLogger("discovery"), cfg: cfg}
}

// Start binds the socket and launches the receive and probe goroutines.
// Starting a running engine is a no-op.
func (d *Discovery) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return nil
	}

	port := d.cfg.Port
	if port < 1024 {
		port = 0 // below the privileged range the kernel picks for us
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return err
	}

	d.conn = conn
	d.stop = make(chan struct{})
	d.running = true

	d.wg.Add(2)
	go d.receiveLoop(conn)
	go d.probeLoop(conn, d.stop)

	d.logger.Info("Discovery started", "local_addr", conn.LocalAddr().String())
	return nil
}

// Stop closes the socket, which unblocks the receive loop, and signals the
// probe loop. It returns immediately; WaitForStop joins the goroutines.
func (d *Discovery) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return
	}
	d.running = false
	close(d.stop)
	d.conn.Close()
	d.conn = nil
}

// WaitForStop blocks until all background work has exited.
func (d *Discovery) WaitForStop() {
	d.wg.Wait()
}

// IsRunning reflects whether the socket is open.
func (d *Discovery) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// receiveLoop drains the socket until Stop closes it, parsing each
// datagram and handing resolved devices to the registry side.
func (d *Discovery) receiveLoop(conn *net.UDPConn) {
	defer d.wg.Done()

	buf := make([]byte, 2048)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			return // socket closed by Stop
		}

		reply, err := ParseDiscoverReply(buf[:n])
		if err != nil {
			metrics.MalformedReplies.Inc()
			d.logger.Debug("Dropped discovery datagram", "from", src.String(), "error", err)
			continue
		}
		if reply.DeviceType != DeviceTypeTuner {
			continue
		}

		metrics.RepliesReceived.Inc()

		device := &Device{
			ID:      reply.DeviceID,
			IP:      src.IP,
			BaseURL: reply.BaseURL,
		}
		if reply.TunerCount > 0 {
			device.TunerCount = reply.TunerCount
		}

		d.resolve(device)

		if d.cfg.OnDevice != nil {
			d.cfg.OnDevice(device)
		}
	}
}

// resolve completes device details through the control client when the
// reply alone was not enough.
func (d *Discovery) resolve(device *Device) {
	if d.cfg.Control != nil && (device.Model == "" || device.TunerCount == 0) {
		ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
		defer cancel()

		if err := d.cfg.Control.FillDetails(ctx, device); err != nil {
			d.logger.Warn("Control query failed for discovered device",
				"device_id", device.HexID(), "ip", device.IP.String(), "error", err)
		}
	}

	if device.TunerCount == 0 {
		// Legacy units answer discovery without a tuner count tag.
		device.TunerCount = 2
		d.logger.Debug("Assuming two tuners for device without a tuner count",
			"device_id", device.HexID())
	}
}

// probeLoop sends an initial probe cycle and then follows the configured
// policy: periodic cycles, or demand-driven cycles under smart broadcast.
func (d *Discovery) probeLoop(conn *net.UDPConn, stop chan struct{}) {
	defer d.wg.Done()

	d.sendCycle(conn)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var sinceLast time.Duration
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			sinceLast += time.Second

			if d.cfg.Smart() {
				if d.cfg.NeedBroadcast() {
					sinceLast = 0
					d.sendCycle(conn)
				}
				continue
			}

			interval := d.cfg.Interval()
			if interval > 0 && sinceLast >= interval {
				sinceLast = 0
				d.sendCycle(conn)
			}
		}
	}
}

// sendCycle emits the probe burst to every broadcast domain and every
// configured static address.
func (d *Discovery) sendCycle(conn *net.UDPConn) {
	frame := DiscoverRequest()

	targets := broadcastTargets()
	for _, addr := range d.cfg.StaticAddresses() {
		if ip := net.ParseIP(addr); ip != nil {
			targets = append(targets, ip.To4())
		} else {
			d.logger.Warn("Ignoring unparsable static address", "addr", addr)
		}
	}

	if len(targets) == 0 {
		d.logger.Warn("No broadcast-capable interfaces and no static addresses to probe")
		return
	}

	for i := 0; i < probesPerCycle; i++ {
		for _, target := range targets {
			if target == nil {
				continue
			}
			dst := &net.UDPAddr{IP: target, Port: d.cfg.TargetPort}
			if _, err := conn.WriteToUDP(frame, dst); err != nil {
				d.logger.Debug("Probe send failed", "target", dst.String(), "error", err)
				continue
			}
			metrics.ProbesSent.Inc()
		}
		time.Sleep(probeSpacing)
	}
}

// broadcastTargets returns the IPv4 broadcast address of every usable
// interface: up, not loopback, not point-to-point, broadcast capable.
func broadcastTargets() []net.IP {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	var targets []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 ||
			iface.Flags&net.FlagLoopback != 0 ||
			iface.Flags&net.FlagPointToPoint != 0 ||
			iface.Flags&net.FlagBroadcast == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipnet.IP.To4()
			if ip4 == nil {
				continue
			}

			bcast := make(net.IP, 4)
			mask := ipnet.Mask
			if len(mask) == 16 {
				mask = mask[12:]
			}
			for i := 0; i < 4; i++ {
				bcast[i] = ip4[i] | ^mask[i]
			}
			targets = append(targets, bcast)
		}
	}
	return targets
}
