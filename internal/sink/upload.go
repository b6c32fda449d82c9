package sink

import (
	"github.com/openrec/tunerbridge/internal/upload"
)

// Upload adapts an open upload session to the Sink interface. When a
// circular window was negotiated, writes wrap inside it; otherwise the
// session's auto-offset just advances.
type Upload struct {
	client     *upload.Client
	bufferSize int64
}

// NewUpload wraps a started upload session. bufferSize > 0 enables the
// recorder's time-shift window.
func NewUpload(client *upload.Client, bufferSize int64) *Upload {
	return &Upload{client: client, bufferSize: bufferSize}
}

// Write implements Sink. The session's reconnect-and-resume applies
// underneath; an error here means the retry was already spent.
func (s *Upload) Write(p []byte) (int, error) {
	var err error
	if s.bufferSize > 0 {
		err = s.client.WriteAutoBuffered(s.bufferSize, p)
	} else {
		err = s.client.WriteAuto(p)
	}
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close ends the upload session cleanly.
func (s *Upload) Close() error {
	return s.client.End()
}
