package discovery

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/openrec/tunerbridge/internal/config"
	"github.com/openrec/tunerbridge/internal/hdhr"
	"github.com/openrec/tunerbridge/internal/logging"
)

func newTestDiscoverer(t *testing.T) (*HDHomeRunDiscoverer, *config.Store) {
	t.Helper()
	store := config.NewStore(filepath.Join(t.TempDir(), "bridge.properties"), logging.GetLogger("test"))
	return New(store, nil, nil), store
}

func seedDevice(d *HDHomeRunDiscoverer) *hdhr.Device {
	device := &hdhr.Device{
		ID:         0x10405060,
		Model:      "HDHR5-4K",
		TunerCount: 4,
		IP:         net.IPv4(127, 0, 0, 1),
	}
	d.Registry().OnDevice(device)
	return device
}

func TestBroadcastPortRewritesPrivilegedToEphemeral(t *testing.T) {
	store := config.NewStore(filepath.Join(t.TempDir(), "bridge.properties"), logging.GetLogger("test"))
	store.SetInt("hdhr.broadcast_port", 800)

	d := New(store, nil, nil)

	if got := d.BroadcastPort(); got != 0 {
		t.Errorf("BroadcastPort = %d, want 0 for a privileged value", got)
	}
	if got := store.GetInt("hdhr.broadcast_port", -1); got != 0 {
		t.Errorf("persisted broadcast port = %d, want 0", got)
	}
}

func TestInvalidOptionsRevertToDefaults(t *testing.T) {
	store := config.NewStore(filepath.Join(t.TempDir(), "bridge.properties"), logging.GetLogger("test"))
	store.SetInt("hdhr.broadcast_port", 99999)
	store.SetInt("hdhr.retry_count", -5)

	d := New(store, nil, nil)

	if got := d.BroadcastPort(); got != defaultBroadcastPort {
		t.Errorf("BroadcastPort after revert = %d, want %d", got, defaultBroadcastPort)
	}
	if got := store.GetInt("hdhr.retry_count", -1); got != defaultRetryCount {
		t.Errorf("retry count after revert = %d, want %d", got, defaultRetryCount)
	}
}

func TestDeviceMissRequestsBroadcast(t *testing.T) {
	d, _ := newTestDiscoverer(t)

	if d.Device(0xDEADBEEF) != nil {
		t.Fatal("unexpected device")
	}
	if !d.consumeBroadcastRequest() {
		t.Error("device miss did not flag broadcast demand")
	}
	if d.consumeBroadcastRequest() {
		t.Error("demand flag was not cleared by the read")
	}
}

func TestLoadCaptureDeviceLifecycle(t *testing.T) {
	d, _ := newTestDiscoverer(t)
	seedDevice(d)

	tuners := d.Registry().Tuners()
	if len(tuners) != 4 {
		t.Fatalf("tuner count = %d, want 4", len(tuners))
	}
	id := tuners[0].ID

	session, err := d.LoadCaptureDevice(id)
	if err != nil {
		t.Fatalf("LoadCaptureDevice failed: %v", err)
	}
	if session.Name() != tuners[0].Name {
		t.Errorf("session name = %q", session.Name())
	}
	if len(d.Sessions()) != 1 {
		t.Errorf("session count = %d, want 1", len(d.Sessions()))
	}

	if _, err := d.LoadCaptureDevice(id); err == nil {
		t.Error("second load of a busy tuner did not fail")
	}

	d.ReleaseCaptureDevice(id)
	if len(d.Sessions()) != 0 {
		t.Error("session not removed by release")
	}
	if _, err := d.LoadCaptureDevice(id); err != nil {
		t.Errorf("load after release failed: %v", err)
	}
}

func TestLoadCaptureDeviceUnknownTuner(t *testing.T) {
	d, _ := newTestDiscoverer(t)

	if _, err := d.LoadCaptureDevice(42); err == nil {
		t.Fatal("load of an undetected tuner did not fail")
	}
	if !d.consumeBroadcastRequest() {
		t.Error("tuner miss did not flag broadcast demand")
	}
}

func TestStaticAddressUpdateRequestsBroadcast(t *testing.T) {
	d, _ := newTestDiscoverer(t)
	d.consumeBroadcastRequest() // clear any startup demand

	err := d.SetOptions(config.Setting{
		Property: "hdhr.static_addresses_csv",
		Values:   []string{"192.168.1.50"},
	})
	if err != nil {
		t.Fatalf("SetOptions failed: %v", err)
	}

	if !d.consumeBroadcastRequest() {
		t.Error("static address update did not request a broadcast")
	}
	if got := d.opts.staticAddresses.Array(); len(got) != 1 || got[0] != "192.168.1.50" {
		t.Errorf("static addresses = %v", got)
	}
}

func TestEnableFlagPersists(t *testing.T) {
	d, store := newTestDiscoverer(t)

	if !d.IsEnabled() {
		t.Fatal("discoverer disabled by default")
	}
	d.SetEnabled(false)
	if d.IsEnabled() {
		t.Error("SetEnabled(false) did not stick")
	}
	if store.GetBool("hdhr.discoverer_enabled", true) {
		t.Error("enable flag not written through to the store")
	}

	if err := d.StartDetection(nil); err != ErrDisabled {
		t.Errorf("StartDetection while disabled = %v, want ErrDisabled", err)
	}
}
