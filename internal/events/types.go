// Package events carries the bridge's in-process event bus. Subsystems
// publish what happened; the API's SSE feed and other reactive pieces
// subscribe without direct coupling.
package events

// Event type constants for kelindar/event.
const (
	TypeDeviceDiscovered uint32 = iota + 1
	TypeDeviceAddressChanged
	TypeRecordingStarted
	TypeRecordingStopped
	TypeSwitchCompleted
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// DeviceDiscoveredEvent is published once per physical device when it
// appears in the registry for the first time.
type DeviceDiscoveredEvent struct {
	DeviceID  string `json:"device_id" example:"10101010" doc:"Hex device ID"`
	Model     string `json:"model" example:"HDHR3-US" doc:"Hardware model"`
	Address   string `json:"address" example:"192.168.1.50" doc:"Current IP address"`
	Tuners    int    `json:"tuners" example:"2" doc:"Tuner count"`
	Timestamp string `json:"timestamp,omitempty" doc:"Event timestamp"`
}

// Type returns the event type identifier for DeviceDiscoveredEvent.
func (e DeviceDiscoveredEvent) Type() uint32 { return TypeDeviceDiscovered }

// DeviceAddressChangedEvent is published when a known physical device
// answers from a new IP address.
type DeviceAddressChangedEvent struct {
	DeviceID  string `json:"device_id" example:"10101010" doc:"Hex device ID"`
	Address   string `json:"address" example:"192.168.1.51" doc:"New IP address"`
	Timestamp string `json:"timestamp,omitempty" doc:"Event timestamp"`
}

// Type returns the event type identifier for DeviceAddressChangedEvent.
func (e DeviceAddressChangedEvent) Type() uint32 { return TypeDeviceAddressChanged }

// RecordingStartedEvent is published when a capture session begins
// streaming to a destination.
type RecordingStartedEvent struct {
	TunerName string `json:"tuner_name" doc:"Capture tuner name"`
	Channel   string `json:"channel" example:"503" doc:"Tuned channel"`
	Filename  string `json:"filename" doc:"Destination filename"`
	UploadID  int    `json:"upload_id,omitempty" doc:"Upload ID when streaming to the recorder"`
	Timestamp string `json:"timestamp,omitempty" doc:"Event timestamp"`
}

// Type returns the event type identifier for RecordingStartedEvent.
func (e RecordingStartedEvent) Type() uint32 { return TypeRecordingStarted }

// RecordingStoppedEvent is published when a capture session ends.
type RecordingStoppedEvent struct {
	TunerName     string `json:"tuner_name" doc:"Capture tuner name"`
	Channel       string `json:"channel" example:"503" doc:"Tuned channel"`
	BytesStreamed int64  `json:"bytes_streamed" doc:"Bytes delivered to the last destination"`
	Timestamp     string `json:"timestamp,omitempty" doc:"Event timestamp"`
}

// Type returns the event type identifier for RecordingStoppedEvent.
func (e RecordingStoppedEvent) Type() uint32 { return TypeRecordingStopped }

// SwitchCompletedEvent is published after a seamless destination switch.
type SwitchCompletedEvent struct {
	TunerName string `json:"tuner_name" doc:"Capture tuner name"`
	Filename  string `json:"filename" doc:"New destination filename"`
	UploadID  int    `json:"upload_id,omitempty" doc:"New upload ID when applicable"`
	Timestamp string `json:"timestamp,omitempty" doc:"Event timestamp"`
}

// Type returns the event type identifier for SwitchCompletedEvent.
func (e SwitchCompletedEvent) Type() uint32 { return TypeSwitchCompleted }
