package hdhr

import (
	"context"
	"fmt"
	"net"
)

// Device is one physical HDHomeRun unit as the bridge knows it. Its
// identity is the 32-bit device ID from the discovery reply; the IP address
// and feature flags are refreshed on later replies, never the identity.
type Device struct {
	ID         uint32
	Model      string
	TunerCount int
	IP         net.IP
	BaseURL    string
	Legacy     bool
	Features   []string
}

// HexID renders the device ID the way the hardware labels it.
func (d *Device) HexID() string {
	return fmt.Sprintf("%08X", d.ID)
}

// UniqueName is the stable human name of the unit; parent record IDs hash
// from it.
func (d *Device) UniqueName() string {
	model := d.Model
	if model == "" {
		model = "HDHomeRun"
	}
	return fmt.Sprintf("HDHomeRun %s %s", model, d.HexID())
}

// UniqueTunerName names one tuner of the unit; tuner record IDs hash from it.
func (d *Device) UniqueTunerName(index int) string {
	model := d.Model
	if model == "" {
		model = "HDHomeRun"
	}
	return fmt.Sprintf("HDHomeRun %s Tuner %s-%d", model, d.HexID(), index)
}

// Update refreshes the mutable fields from a newer discovery result.
func (d *Device) Update(from *Device) {
	d.IP = from.IP
	if from.BaseURL != "" {
		d.BaseURL = from.BaseURL
	}
	if from.Model != "" {
		d.Model = from.Model
	}
	if from.TunerCount > 0 {
		d.TunerCount = from.TunerCount
	}
	d.Legacy = from.Legacy
	if from.Features != nil {
		d.Features = from.Features
	}
}

// ControlClient completes device details a discovery reply does not carry
// (model string, tuner count, legacy capability, hardware features). The
// HDHomeRun control protocol implementation lives outside this module.
type ControlClient interface {
	FillDetails(ctx context.Context, device *Device) error
}
