package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openrec/tunerbridge/internal/config"
	"github.com/openrec/tunerbridge/internal/logging"
	"github.com/openrec/tunerbridge/internal/metrics"
	"github.com/openrec/tunerbridge/internal/ringbuf"
	"github.com/openrec/tunerbridge/internal/sink"
	"github.com/openrec/tunerbridge/internal/ts"
	"github.com/openrec/tunerbridge/internal/upload"
)

// switchAttempts is how many windows are searched for a random-access
// indicator before an upload switch falls back to any video PES start.
const switchAttempts = 100

// switchRequest is one pending destination change. The requesting goroutine
// blocks on the engine's switch condition until done is set, either by a
// completed cutover or by engine shutdown.
type switchRequest struct {
	filename   string
	uploadID   int
	bufferSize int64
	file       *sink.File // pre-opened for file switches

	done bool
	ok   bool
}

// Raw is the pass-through consumer engine: it locks onto the video PES,
// then moves bytes from the ring buffer to the active destination without
// re-encoding. One Raw serves one recording.
type Raw struct {
	logger *slog.Logger
	opts   RawOptions

	ring    *ringbuf.Buffer
	running atomic.Bool

	bytesStreamed atomic.Int64

	// Destination state, owned by the Run goroutine once started. dest is
	// the active sink; file and media keep the concrete handles the switch
	// logic needs (file swap, upload session control).
	dest             sink.Sink
	filename         string
	uploadID         int
	uploadAddr       string
	file             *sink.File
	media            *upload.Client
	toNull           bool
	recordBufferSize int64
	videoPID         int

	switchMu   sync.Mutex
	switchCond *sync.Cond
	pending    *switchRequest

	channel string
	program int
	quality string
}

// NewRaw creates a raw consumer engine for the given channel. The channel
// is required up front; it scopes every log line of the session.
func NewRaw(store *config.Store, channel string) *Raw {
	logger := logging.GetLogger("consumer").With("channel", channel)
	opts := LoadRawOptions(store, logger)

	r := &Raw{
		logger:   logger,
		opts:     opts,
		ring:     ringbuf.New(opts.BufferSize),
		uploadID: -1,
		program:  -1,
		videoPID: ts.PIDAny,
		channel:  channel,
	}
	r.switchCond = sync.NewCond(&r.switchMu)
	return r
}

// Write pushes tuner bytes into the ring buffer, blocking while full.
func (r *Raw) Write(p []byte) (int, error) {
	return r.ring.Write(p)
}

// ConsumeToFilename directs the session to a local recording file. It
// creates the file immediately so a failure surfaces before Run starts.
func (r *Raw) ConsumeToFilename(filename string) bool {
	f, err := sink.NewFile(filename, r.recordBufferSize)
	if err != nil {
		r.logger.Error("Unable to create the recording file", "filename", filename, "error", err)
		return false
	}
	f.SetFlushCheck(int64(r.opts.MinTransferSize))

	r.file = f
	r.filename = filename
	return true
}

// ConsumeToUploadID directs the session to the recorder's upload service on
// addr. The connection is opened when Run starts.
func (r *Raw) ConsumeToUploadID(filename string, uploadID int, addr string) bool {
	if !r.opts.UploadEnabled {
		r.logger.Error("Upload ID consumption is disabled", "filename", filename)
		return false
	}

	r.filename = filename
	r.uploadID = uploadID
	r.uploadAddr = net.JoinHostPort(addr, strconv.Itoa(r.opts.UploadPort))
	return true
}

// ConsumeToNull discards the stream while still counting bytes. Used by
// offline channel detection.
func (r *Raw) ConsumeToNull(enabled bool) {
	r.toNull = enabled
}

// Run executes the streaming loop. It returns when StopConsumer closes the
// ring buffer or a fatal stream error occurs.
func (r *Raw) Run() {
	if r.running.Swap(true) {
		panic("consumer: raw engine is already running")
	}

	metrics.ActiveRecordings.Inc()
	defer func() {
		r.releasePendingSwitch()
		r.closeSinks()
		r.bytesStreamed.Store(0)
		metrics.ActiveRecordings.Dec()
		r.running.Store(false)
		r.switchCond.Broadcast()
		r.logger.Info("Raw consumer has stopped")
	}()

	uploadEnabled := false
	switch {
	case r.uploadID > 0:
		r.media = upload.New()
		err := r.media.Start(r.uploadAddr, r.filename, r.uploadID, 0)
		if err == nil {
			r.dest = sink.NewUpload(r.media, r.recordBufferSize)
			uploadEnabled = true
			break
		}

		r.logger.Error("Recorder refused the upload session",
			"filename", r.filename, "upload_id", r.uploadID,
			"addr", r.uploadAddr, "error", err)
		r.media = nil

		// Fall back to writing the file directly when we know its name.
		if r.filename == "" || !r.ConsumeToFilename(r.filename) {
			return
		}
		r.dest = r.file

	case r.file != nil:
		r.dest = r.file

	case r.toNull:
		r.logger.Debug("Consuming to a null output")
		r.dest = &sink.Null{}

	default:
		panic("consumer: raw engine has no file or upload ID to use")
	}

	r.logger.Info("Raw consumer is running, waiting for the PES start byte")

	window := make([]byte, r.opts.MaxTransferSize)
	locked := false
	attempts := switchAttempts

	for {
		n, closed := r.fill(window)
		data := window[:n]

		if !locked && len(data) > 0 {
			start := ts.VideoPESStart(data, ts.PIDAny)
			if start < 0 {
				if closed {
					return
				}
				continue // consume without forwarding until lock-on
			}

			r.videoPID = ts.PIDAt(data, start)
			data = data[start:]
			locked = true
			r.logger.Info("Raw consumer is now streaming", "video_pid", r.videoPID)
		}

		if req := r.pendingRequest(); req != nil && locked {
			data = r.performSwitch(req, data, uploadEnabled, &attempts)
		}

		if len(data) > 0 {
			if err := r.writeOut(data); err != nil {
				if uploadEnabled {
					r.logger.Error("Upload stream failed", "filename", r.filename,
						"upload_id", r.uploadID, "bytes_streamed", r.BytesStreamed(),
						"error", err)
					return
				}
				r.logger.Error("Recording file write failed", "filename", r.filename,
					"error", err)
			}
		}

		if closed {
			return
		}
	}
}

// fill reads from the ring buffer into window until the minimum transfer
// size is reached, a switch goes pending, or the producer closed the
// buffer. It reports the bytes read and whether the buffer is done.
func (r *Raw) fill(window []byte) (int, bool) {
	n := 0
	for n < r.opts.MinTransferSize {
		m, err := r.ring.Read(context.Background(), window[n:])
		n += m
		if err != nil {
			return n, true
		}
		if r.pendingRequest() != nil {
			break
		}
	}
	return n, false
}

// performSwitch looks for a cutover point in data. When found it drains
// [0, cutover) to the old destination, swaps destinations, resets the byte
// counter, and returns the remainder for the new destination. When not
// found the whole window is written to the old destination and an empty
// remainder is returned; the requester stays blocked.
func (r *Raw) performSwitch(req *switchRequest, data []byte, uploadEnabled bool, attempts *int) []byte {
	// A switch cannot change the destination kind mid-recording, and null
	// sessions have nothing to switch.
	wantUpload := req.uploadID > 0
	if r.toNull || wantUpload != uploadEnabled {
		r.logger.Error("Switch request does not match the session destination kind",
			"filename", req.filename, "upload_id", req.uploadID)
		if req.file != nil {
			req.file.Close()
		}
		r.completeSwitch(req, false)
		return data
	}

	var cut int
	switch {
	case uploadEnabled:
		if *attempts > 0 {
			*attempts--
			cut = ts.RandomAccessIndicator(data)
		} else {
			if *attempts == 0 {
				*attempts = -1
				r.logger.Warn("Stream does not appear to contain random access" +
					" indicators, using the nearest PES packet")
			}
			cut = ts.VideoPESStart(data, r.videoPID)
		}
	default:
		cut = ts.PATStart(data)
	}

	if cut < 0 {
		if err := r.writeOut(data); err != nil {
			r.logger.Error("Write to the old destination failed during switch",
				"filename", r.filename, "error", err)
		}
		return nil
	}

	if cut > 0 {
		if err := r.writeOut(data[:cut]); err != nil {
			r.logger.Error("Final write to the old destination failed",
				"filename", r.filename, "error", err)
		}
	}

	ok := true
	if uploadEnabled {
		if err := r.media.End(); err != nil {
			r.logger.Debug("Error ending the old upload session", "error", err)
		}
		if err := r.media.Start(r.uploadAddr, req.filename, req.uploadID, 0); err != nil {
			r.logger.Error("Recorder refused the switch upload session",
				"filename", req.filename, "upload_id", req.uploadID, "error", err)
			ok = false
		} else {
			r.dest = sink.NewUpload(r.media, req.bufferSize)
			r.filename = req.filename
			r.uploadID = req.uploadID
		}
	} else if req.file != nil {
		if r.file != nil {
			if err := r.file.Close(); err != nil {
				r.logger.Error("Error closing the finished recording file",
					"filename", r.filename, "error", err)
			}
		}
		r.file = req.file
		r.dest = req.file
		r.filename = req.filename
	}

	if ok {
		*attempts = switchAttempts
		r.recordBufferSize = req.bufferSize
		r.bytesStreamed.Store(0)
		metrics.Switches.Inc()
		r.logger.Info("SWITCH was successful", "filename", r.filename)
	}

	r.completeSwitch(req, ok)
	return data[cut:]
}

// writeOut hands data to the active sink and advances the byte counter.
// Every byte read from the ring buffer passes through here exactly once.
func (r *Raw) writeOut(data []byte) error {
	if r.dest == nil {
		return fmt.Errorf("consumer: no destination for %d bytes", len(data))
	}
	if _, err := r.dest.Write(data); err != nil {
		return err
	}

	r.bytesStreamed.Add(int64(len(data)))
	metrics.BytesStreamed.WithLabelValues("raw").Add(float64(len(data)))
	return nil
}

// SwitchToFilename asks the running engine to cut over to a new recording
// file and blocks until the cutover lands or the engine exits. The new file
// is created before the request is queued so failures surface immediately.
func (r *Raw) SwitchToFilename(filename string, bufferSize int64) bool {
	f, err := sink.NewFile(filename, bufferSize)
	if err != nil {
		r.logger.Error("Unable to create the switch recording file",
			"filename", filename, "error", err)
		return false
	}
	f.SetFlushCheck(int64(r.opts.MinTransferSize))

	r.logger.Info("SWITCH to file was requested", "filename", filename)
	return r.awaitSwitch(&switchRequest{
		filename:   filename,
		bufferSize: bufferSize,
		file:       f,
	})
}

// SwitchToUploadID asks the running engine to cut over to a new upload
// session and blocks until the cutover lands or the engine exits.
func (r *Raw) SwitchToUploadID(filename string, bufferSize int64, uploadID int) bool {
	r.logger.Info("SWITCH to upload ID was requested",
		"filename", filename, "upload_id", uploadID)
	return r.awaitSwitch(&switchRequest{
		filename:   filename,
		uploadID:   uploadID,
		bufferSize: bufferSize,
	})
}

func (r *Raw) awaitSwitch(req *switchRequest) bool {
	r.switchMu.Lock()
	defer r.switchMu.Unlock()

	if r.pending != nil {
		r.logger.Error("A switch is already outstanding")
		if req.file != nil {
			req.file.Close()
		}
		return false
	}
	r.pending = req

	for !req.done {
		// The engine signals on cutover and on shutdown. The timer is a
		// liveness guard: it rechecks engine state in case the request was
		// queued just as the engine exited.
		timer := time.AfterFunc(500*time.Millisecond, r.switchCond.Broadcast)
		r.switchCond.Wait()
		timer.Stop()

		if !req.done && !r.running.Load() {
			r.pending = nil
			if req.file != nil {
				req.file.Close()
			}
			return false
		}
	}
	return req.ok
}

func (r *Raw) pendingRequest() *switchRequest {
	r.switchMu.Lock()
	defer r.switchMu.Unlock()
	return r.pending
}

func (r *Raw) completeSwitch(req *switchRequest, ok bool) {
	r.switchMu.Lock()
	req.done = true
	req.ok = ok
	r.pending = nil
	r.switchMu.Unlock()
	r.switchCond.Broadcast()
}

// releasePendingSwitch fails any outstanding switch when the engine exits,
// closing a pre-opened switch file that never received bytes.
func (r *Raw) releasePendingSwitch() {
	r.switchMu.Lock()
	req := r.pending
	r.pending = nil
	r.switchMu.Unlock()

	if req == nil {
		return
	}
	if req.file != nil {
		req.file.Close()
	}
	r.switchMu.Lock()
	req.done = true
	r.switchMu.Unlock()
	r.switchCond.Broadcast()
}

// closeSinks closes the active sink, or the concrete handles when the
// engine never reached the streaming loop.
func (r *Raw) closeSinks() {
	if r.dest != nil {
		if err := r.dest.Close(); err != nil {
			r.logger.Debug("Error closing the destination", "error", err)
		}
		r.dest = nil
		r.file = nil
		r.media = nil
		return
	}

	if r.file != nil {
		if err := r.file.Close(); err != nil {
			r.logger.Debug("Error closing the recording file", "error", err)
		}
		r.file = nil
	}
	if r.media != nil {
		if err := r.media.End(); err != nil {
			r.logger.Debug("Error ending the upload session", "error", err)
		}
		r.media = nil
	}
}

// StopConsumer closes the ring buffer; the engine drains and terminates at
// its next loop iteration.
func (r *Raw) StopConsumer() {
	r.ring.Close()
}

// IsRunning reports whether the streaming loop is active.
func (r *Raw) IsRunning() bool {
	return r.running.Load()
}

// IsStreaming blocks until bytes have reached the destination or the
// timeout expires, reporting whether the stream is producing.
func (r *Raw) IsStreaming(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if r.BytesStreamed() > 0 {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return r.BytesStreamed() > 0
}

// BytesStreamed returns bytes delivered to the current destination. It
// resets to zero on a successful switch.
func (r *Raw) BytesStreamed() int64 {
	return r.bytesStreamed.Load()
}

// SetRecordBufferSize configures the circular time-shift window. Takes
// effect for a destination configured afterwards; a switch uses the buffer
// size carried by its own request.
func (r *Raw) SetRecordBufferSize(size int64) {
	r.recordBufferSize = size
}

// CanSwitch reports that the raw engine supports live destination changes.
func (r *Raw) CanSwitch() bool { return true }

// AcceptsUploadID mirrors the upload enable option.
func (r *Raw) AcceptsUploadID() bool { return r.opts.UploadEnabled }

// AcceptsFilename reports that direct file recording is supported.
func (r *Raw) AcceptsFilename() bool { return true }

func (r *Raw) SetChannel(channel string) { r.channel = channel }
func (r *Raw) Channel() string           { return r.channel }
func (r *Raw) SetProgram(program int)    { r.program = program }
func (r *Raw) Program() int              { return r.program }
func (r *Raw) SetQuality(quality string) { r.quality = quality }
func (r *Raw) Quality() string           { return r.quality }
func (r *Raw) Filename() string          { return r.filename }
func (r *Raw) UploadID() int             { return r.uploadID }
