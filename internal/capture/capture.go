// Package capture ties one claimed tuner to one consumer engine for the
// duration of a recording session. The external tuner stream handler feeds
// bytes through Write; the recorder-facing controller drives the lifecycle.
package capture

import (
	"log/slog"
	"sync"
	"time"

	"github.com/openrec/tunerbridge/internal/config"
	"github.com/openrec/tunerbridge/internal/consumer"
	"github.com/openrec/tunerbridge/internal/events"
	"github.com/openrec/tunerbridge/internal/hdhr"
	"github.com/openrec/tunerbridge/internal/logging"
	"github.com/openrec/tunerbridge/internal/registry"
)

// Options wires a capture device to its collaborators.
type Options struct {
	Store    *config.Store
	Bus      *events.Bus
	Registry *registry.Registry
	Router   *consumer.Router
	Tuner    *registry.Tuner
	Parent   *registry.Parent
	Physical *hdhr.Device
	Locking  bool
}

// Device is one logical capture device: a claimed tuner plus at most one
// running consumer engine. Release returns the tuner to the registry.
type Device struct {
	logger *slog.Logger
	opts   Options

	mu      sync.Mutex
	cons    consumer.Consumer
	channel string
}

// New wraps a freshly claimed tuner. The caller must hold the tuner's busy
// marker.
func New(opts Options) *Device {
	return &Device{
		logger: logging.GetLogger("capture").With("tuner", opts.Tuner.Name),
		opts:   opts,
	}
}

// Name returns the capture device name presented to the recorder.
func (d *Device) Name() string { return d.opts.Tuner.Name }

// Description returns the human description of the tuner.
func (d *Device) Description() string { return d.opts.Tuner.Description }

// Physical returns the backing hardware record.
func (d *Device) Physical() *hdhr.Device { return d.opts.Physical }

// Locking reports whether the session should hold the hardware tuner lock.
func (d *Device) Locking() bool { return d.opts.Locking }

// RecordToFilename starts a recording of channel into a local file. It
// returns false when the session cannot start; the cause is logged.
func (d *Device) RecordToFilename(channel, quality, filename string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cons != nil && d.cons.IsRunning() {
		d.logger.Error("A recording is already running on this tuner")
		return false
	}

	c := d.opts.Router.New(d.opts.Store, channel)
	c.SetQuality(quality)
	if !c.ConsumeToFilename(filename) {
		return false
	}

	d.start(c, channel)
	d.publishStarted(channel, filename, 0)
	return true
}

// RecordToUploadID starts a recording of channel streamed to the
// recorder's upload service at addr.
func (d *Device) RecordToUploadID(channel, quality, filename string, uploadID int, addr string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cons != nil && d.cons.IsRunning() {
		d.logger.Error("A recording is already running on this tuner")
		return false
	}

	c := d.opts.Router.New(d.opts.Store, channel)
	c.SetQuality(quality)
	if !c.ConsumeToUploadID(filename, uploadID, addr) {
		return false
	}

	d.start(c, channel)
	d.publishStarted(channel, filename, uploadID)
	return true
}

func (d *Device) start(c consumer.Consumer, channel string) {
	d.cons = c
	d.channel = channel

	// Run raises IsRunning as its first step. Wait for that, or for Run to
	// return, so the busy check of a following RecordTo* call sees it.
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run()
	}()
	for !c.IsRunning() {
		select {
		case <-done:
			return
		case <-time.After(time.Millisecond):
		}
	}
}

// SwitchToFilename cuts the running recording over to a new file, blocking
// until the cutover lands or the engine exits.
func (d *Device) SwitchToFilename(filename string, bufferSize int64) bool {
	c := d.consumer()
	if c == nil {
		return false
	}

	if !c.SwitchToFilename(filename, bufferSize) {
		return false
	}
	d.publishSwitched(filename, 0)
	return true
}

// SwitchToUploadID cuts the running recording over to a new upload session.
func (d *Device) SwitchToUploadID(filename string, bufferSize int64, uploadID int) bool {
	c := d.consumer()
	if c == nil {
		return false
	}

	if !c.SwitchToUploadID(filename, bufferSize, uploadID) {
		return false
	}
	d.publishSwitched(filename, uploadID)
	return true
}

// Write feeds tuner bytes into the running engine. It is the producer side
// of the session.
func (d *Device) Write(p []byte) (int, error) {
	c := d.consumer()
	if c == nil {
		return 0, consumer.ErrNoSession
	}
	return c.Write(p)
}

// IsRunning reports whether a consumer engine is active.
func (d *Device) IsRunning() bool {
	c := d.consumer()
	return c != nil && c.IsRunning()
}

// IsStreaming blocks until the engine delivers bytes or the timeout
// expires.
func (d *Device) IsStreaming(timeout time.Duration) bool {
	c := d.consumer()
	return c != nil && c.IsStreaming(timeout)
}

// BytesStreamed snapshots the engine's delivery counter.
func (d *Device) BytesStreamed() int64 {
	c := d.consumer()
	if c == nil {
		return 0
	}
	return c.BytesStreamed()
}

// Channel returns the tuned channel of the active session.
func (d *Device) Channel() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channel
}

// StopRecording stops the running engine and publishes the session end.
func (d *Device) StopRecording() {
	d.mu.Lock()
	c := d.cons
	channel := d.channel
	d.mu.Unlock()

	if c == nil {
		return
	}

	bytes := c.BytesStreamed()
	c.StopConsumer()

	if d.opts.Bus != nil {
		d.opts.Bus.Publish(events.RecordingStoppedEvent{
			TunerName:     d.opts.Tuner.Name,
			Channel:       channel,
			BytesStreamed: bytes,
			Timestamp:     time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// Release stops any running session and returns the tuner's busy marker to
// the registry.
func (d *Device) Release() {
	d.StopRecording()
	d.opts.Registry.UnlockTuner(d.opts.Tuner.ID)
}

func (d *Device) consumer() consumer.Consumer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cons
}

func (d *Device) publishStarted(channel, filename string, uploadID int) {
	d.logger.Info("Recording started", "channel", channel,
		"filename", filename, "upload_id", uploadID)

	if d.opts.Bus != nil {
		d.opts.Bus.Publish(events.RecordingStartedEvent{
			TunerName: d.opts.Tuner.Name,
			Channel:   channel,
			Filename:  filename,
			UploadID:  uploadID,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func (d *Device) publishSwitched(filename string, uploadID int) {
	if d.opts.Bus != nil {
		d.opts.Bus.Publish(events.SwitchCompletedEvent{
			TunerName: d.opts.Tuner.Name,
			Filename:  filename,
			UploadID:  uploadID,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}
