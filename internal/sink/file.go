// Package sink provides the recording destinations the consumer engine
// writes to, behind one Sink interface: an OS file with optional circular
// overwrite, an adapter over the recorder's upload protocol, and a counting
// null sink used by offline channel detection.
package sink

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/openrec/tunerbridge/internal/logging"
)

// File writes stream bytes to a recording file. When bufferSize > 0 the
// file behaves as a ring: once the write position passes bufferSize, the
// next write seeks back to offset zero. This backs the recorder's
// time-shift buffer for direct-to-file recordings.
type File struct {
	logger *slog.Logger

	name       string
	f          *os.File
	bufferSize int64
	pos        int64

	flushCheckMin int64
	unchecked     int64
}

// NewFile creates (truncating) the recording file.
func NewFile(name string, bufferSize int64) (*File, error) {
	f, err := os.Create(name)
	if err != nil {
		return nil, fmt.Errorf("sink: create %q: %w", name, err)
	}

	return &File{
		logger:     logging.GetLogger("sink"),
		name:       name,
		f:          f,
		bufferSize: bufferSize,
	}, nil
}

// SetFlushCheck enables the direct-flush size check: every time at least
// min bytes have been written since the last check, the file size is
// verified to be advancing. A zero size after a flush means the filesystem
// is discarding writes; the file is recreated. min <= 0 disables the check.
func (s *File) SetFlushCheck(min int64) {
	s.flushCheckMin = min
}

// Name returns the recording filename.
func (s *File) Name() string {
	return s.name
}

// Write appends p at the current position, wrapping to offset zero once the
// position passes the circular buffer size.
func (s *File) Write(p []byte) (int, error) {
	n, err := s.f.Write(p)
	s.pos += int64(n)
	s.unchecked += int64(n)
	if err != nil {
		return n, fmt.Errorf("sink: write %q: %w", s.name, err)
	}

	if s.bufferSize > 0 && s.pos > s.bufferSize {
		if _, err := s.f.Seek(0, 0); err != nil {
			return n, fmt.Errorf("sink: rewind %q: %w", s.name, err)
		}
		s.pos = 0
	}

	if s.flushCheckMin > 0 && s.unchecked >= s.flushCheckMin {
		s.unchecked = 0
		if err := s.verifyFlush(); err != nil {
			return n, err
		}
	}

	return n, nil
}

// verifyFlush syncs the file and recreates it when the filesystem reports a
// zero size despite bytes having been written.
func (s *File) verifyFlush() error {
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("sink: sync %q: %w", s.name, err)
	}

	info, err := s.f.Stat()
	if err != nil {
		return fmt.Errorf("sink: stat %q: %w", s.name, err)
	}
	if info.Size() > 0 {
		return nil
	}

	s.logger.Warn("Recording file size is zero after flush, recreating", "filename", s.name)

	s.f.Close()
	f, err := os.Create(s.name)
	if err != nil {
		return fmt.Errorf("sink: recreate %q: %w", s.name, err)
	}
	s.f = f
	s.pos = 0
	return nil
}

// Close closes the underlying file.
func (s *File) Close() error {
	return s.f.Close()
}

// Null counts bytes and discards them.
type Null struct {
	bytes int64
}

// Write implements Sink.
func (s *Null) Write(p []byte) (int, error) {
	s.bytes += int64(len(p))
	return len(p), nil
}

// Close implements Sink; there is nothing to release.
func (s *Null) Close() error {
	return nil
}

// Bytes returns the number of bytes discarded.
func (s *Null) Bytes() int64 {
	return s.bytes
}
