package registry

import (
	"net"
	"testing"

	"github.com/openrec/tunerbridge/internal/hdhr"
)

type recordingLoader struct {
	advertised []*Tuner
}

func (l *recordingLoader) AdvertiseDevice(tuner *Tuner) {
	l.advertised = append(l.advertised, tuner)
}

func testDevice() *hdhr.Device {
	return &hdhr.Device{
		ID:         0x10101010,
		Model:      "HDHR3-US",
		TunerCount: 2,
		IP:         net.IPv4(192, 168, 1, 50),
		BaseURL:    "http://192.168.1.50:80",
	}
}

func TestOnDeviceCreatesRecords(t *testing.T) {
	loader := &recordingLoader{}
	r := New(Options{}, nil)
	r.SetLoader(loader)

	r.OnDevice(testDevice())

	device := r.Device(0x10101010)
	if device == nil {
		t.Fatal("device not registered")
	}
	if !device.IP.Equal(net.IPv4(192, 168, 1, 50)) {
		t.Errorf("device IP = %v", device.IP)
	}

	parents := r.Parents()
	if len(parents) != 1 {
		t.Fatalf("parent count = %d, want 1", len(parents))
	}
	parent := parents[0]
	if parent.DeviceID != 0x10101010 {
		t.Errorf("parent device reference = %08X", parent.DeviceID)
	}
	if len(parent.TunerIDs) != 2 {
		t.Errorf("parent tuner IDs = %v", parent.TunerIDs)
	}

	tuners := r.Tuners()
	if len(tuners) != 2 {
		t.Fatalf("tuner count = %d, want the advertised tuner count", len(tuners))
	}
	for _, tuner := range tuners {
		if got := r.Parent(tuner.ParentID); got == nil || got.ID != parent.ID {
			t.Errorf("tuner %q does not back-reference its parent", tuner.Name)
		}
	}

	if len(loader.advertised) != 2 {
		t.Errorf("advertised %d tuners, want 2", len(loader.advertised))
	}
}

func TestOnDeviceIsIdempotent(t *testing.T) {
	loader := &recordingLoader{}
	r := New(Options{}, nil)
	r.SetLoader(loader)

	r.OnDevice(testDevice())
	r.OnDevice(testDevice())

	if got := len(r.Devices()); got != 1 {
		t.Errorf("device count = %d, want 1", got)
	}
	if got := r.TunerCount(); got != 2 {
		t.Errorf("tuner count = %d, want 2", got)
	}
	if got := len(loader.advertised); got != 2 {
		t.Errorf("advertised %d tuners across repeat replies, want 2", got)
	}
}

func TestAddressChangeUpdatesWithoutRecreating(t *testing.T) {
	loader := &recordingLoader{}
	r := New(Options{}, nil)
	r.SetLoader(loader)

	r.OnDevice(testDevice())
	before := r.Tuners()

	moved := testDevice()
	moved.IP = net.IPv4(192, 168, 1, 77)
	r.OnDevice(moved)

	device := r.Device(0x10101010)
	if !device.IP.Equal(net.IPv4(192, 168, 1, 77)) {
		t.Errorf("device IP = %v, want the updated address", device.IP)
	}

	after := r.Tuners()
	if len(after) != len(before) {
		t.Fatalf("tuner count changed from %d to %d", len(before), len(after))
	}
	for i := range after {
		if after[i] != before[i] {
			t.Error("tuner records were recreated on an address change")
		}
	}
	if got := len(loader.advertised); got != 2 {
		t.Errorf("advertised %d tuners, want no re-advertisement", got)
	}
}

func TestIgnoreByModel(t *testing.T) {
	r := New(Options{
		IgnoreModels: func() []string { return []string{"hdhr3-us"} },
	}, nil)

	r.OnDevice(testDevice())

	if got := len(r.Devices()); got != 0 {
		t.Errorf("registry holds %d devices, want the reply ignored", got)
	}
}

func TestIgnoreByHexID(t *testing.T) {
	for _, ignore := range []string{"10101010", "0010101010", "10101010 "} {
		r := New(Options{
			IgnoreDeviceIDs: func() []string { return []string{ignore} },
		}, nil)
		r.OnDevice(testDevice())

		if got := len(r.Devices()); got != 0 {
			t.Errorf("ignore %q: registry holds %d devices, want 0", ignore, got)
		}
	}

	// A different ID must not match.
	r := New(Options{
		IgnoreDeviceIDs: func() []string { return []string{"20202020"} },
	}, nil)
	r.OnDevice(testDevice())
	if got := len(r.Devices()); got != 1 {
		t.Errorf("unrelated ignore entry dropped the device")
	}
}

func TestTunerBusyMarker(t *testing.T) {
	r := New(Options{}, nil)
	r.OnDevice(testDevice())

	tuner := r.Tuners()[0]

	if !r.LockTuner(tuner.ID) {
		t.Fatal("LockTuner failed on a free tuner")
	}
	if r.LockTuner(tuner.ID) {
		t.Error("LockTuner succeeded on a busy tuner")
	}
	if !r.TunerBusy(tuner.ID) {
		t.Error("TunerBusy = false while locked")
	}

	r.UnlockTuner(tuner.ID)
	if !r.LockTuner(tuner.ID) {
		t.Error("LockTuner failed after unlock")
	}
}

func TestLockUnknownTuner(t *testing.T) {
	r := New(Options{}, nil)
	if r.LockTuner(12345) {
		t.Error("LockTuner succeeded for an unknown tuner")
	}
}

func TestNormalizeHexID(t *testing.T) {
	tests := map[string]string{
		"10101010":   "10101010",
		"0010101010": "10101010",
		"ABCD":       "abcd",
		"0000":       "0",
		"":           "0",
	}
	for in, want := range tests {
		if got := normalizeHexID(in); got != want {
			t.Errorf("normalizeHexID(%q) = %q, want %q", in, got, want)
		}
	}
}
