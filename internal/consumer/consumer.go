// Package consumer drives a single recording from bytes arriving off a
// tuner to bytes landing at the recorder: either streamed over the upload
// protocol or written to a local file, with seamless mid-recording
// switchover to a new destination.
package consumer

import (
	"errors"
	"time"
)

// ErrNoSession is returned by producer writes before an engine is running.
var ErrNoSession = errors.New("consumer: no active session")

// Consumer is the recorder-facing surface of one capture session. A
// producer pushes tuner bytes through Write while Run streams them to the
// configured destination. Destinations are configured before Run starts;
// switches happen while running.
//
// The boolean returns mirror the recorder contract: a recording that cannot
// start or switch yields false, with the cause in the log.
type Consumer interface {
	// Run executes the streaming loop until StopConsumer or a fatal stream
	// error. Calling Run on an engine that is already running is a
	// programmer error and panics.
	Run()

	// Write pushes tuner bytes into the engine's buffer, blocking while the
	// buffer is full. It is the producer side of the session.
	Write(p []byte) (int, error)

	ConsumeToFilename(filename string) bool
	ConsumeToUploadID(filename string, uploadID int, addr string) bool
	ConsumeToNull(enabled bool)

	SwitchToFilename(filename string, bufferSize int64) bool
	SwitchToUploadID(filename string, bufferSize int64, uploadID int) bool
	CanSwitch() bool

	StopConsumer()
	IsRunning() bool
	IsStreaming(timeout time.Duration) bool
	BytesStreamed() int64

	SetRecordBufferSize(size int64)
	SetChannel(channel string)
	Channel() string
	SetProgram(program int)
	Program() int
	SetQuality(quality string)
	Quality() string
	Filename() string
	UploadID() int

	AcceptsUploadID() bool
	AcceptsFilename() bool
}
