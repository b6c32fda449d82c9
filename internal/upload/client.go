// Package upload implements the TCP client side of the recorder's
// media-upload protocol.
//
// A session is line-oriented ASCII with binary payloads: SIZE opens a
// destination file for an upload ID, WRITEC pushes bytes at an explicit
// offset, CLOSE ends the session. The client tracks a client-side
// auto-incrementing offset so a broken connection can be reopened and the
// stream resumed exactly where it left off.
package upload

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/openrec/tunerbridge/internal/logging"
	"github.com/openrec/tunerbridge/internal/metrics"
)

// DefaultPort is the recorder's media-upload service port.
const DefaultPort = 7818

const dialTimeout = 10 * time.Second

// ErrNotConnected is returned by writes before Start has succeeded.
var ErrNotConnected = errors.New("upload: no active session")

// Client speaks the recorder upload protocol over a single TCP connection
// per destination file. It is not safe for concurrent use; the consumer
// engine is its only caller.
type Client struct {
	logger *slog.Logger

	addr       string
	filename   string
	uploadID   int
	conn       net.Conn
	reader     *bufio.Reader
	autoOffset int64
	failed     bool
}

// New creates a disconnected client.
func New() *Client {
	return &Client{logger: logging.GetLogger("upload")}
}

// Start opens an upload session for filename under uploadID, resuming at
// offset. A zero offset starts a fresh file. Any prior session state is
// discarded first.
func (c *Client) Start(addr string, filename string, uploadID int, offset int64) error {
	c.Reset()

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("upload: connect to %s: %w", addr, err)
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.addr = addr
	c.filename = filename
	c.uploadID = uploadID
	c.autoOffset = offset

	if err := c.command(fmt.Sprintf("SIZE %s %d", filename, uploadID)); err != nil {
		c.Reset()
		return fmt.Errorf("upload: open %q id %d: %w", filename, uploadID, err)
	}

	c.logger.Debug("Upload session started",
		"filename", filename, "upload_id", uploadID, "offset", offset)
	return nil
}

// WriteAuto pushes p at the current auto-offset and advances it. A broken
// connection is reopened and the write retried exactly once; a second
// consecutive failure is returned to the caller.
func (c *Client) WriteAuto(p []byte) error {
	return c.writeRetry(p, 0)
}

// WriteAutoBuffered behaves like WriteAuto inside a circular window of
// bufferSize bytes: when the auto-offset reaches the window size it wraps to
// zero, splitting p at the boundary if needed. This backs the recorder's
// time-shift buffer.
func (c *Client) WriteAutoBuffered(bufferSize int64, p []byte) error {
	return c.writeRetry(p, bufferSize)
}

// End closes the session cleanly. Safe to call on an unconnected client.
func (c *Client) End() error {
	if c.conn == nil {
		return nil
	}

	err := c.command("CLOSE")
	c.Reset()
	return err
}

// AutoOffset returns the current auto-incrementing offset. After a failure
// it is the offset to hand back to Start for resumption.
func (c *Client) AutoOffset() int64 {
	return c.autoOffset
}

// Reset drops the connection without protocol ceremony.
func (c *Client) Reset() {
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = nil
	c.reader = nil
	c.failed = false
}

// writeRetry pushes p chunk by chunk, wrapping inside the circular window
// when one is in effect. The auto-offset only advances past a chunk once
// its write succeeded, so a retry after a reconnect resumes with exactly
// the unsent remainder — chunks that already landed are never resent.
func (c *Client) writeRetry(p []byte, bufferSize int64) error {
	if c.conn == nil {
		return ErrNotConnected
	}

	for len(p) > 0 {
		chunk := c.nextChunk(len(p), bufferSize)

		if err := c.writeAt(p[:chunk], c.autoOffset); err != nil {
			if c.failed {
				return fmt.Errorf("upload: write failed after reconnect: %w", err)
			}
			c.failed = true

			c.logger.Warn("Upload write failed, reconnecting",
				"filename", c.filename, "upload_id", c.uploadID,
				"offset", c.autoOffset, "error", err)
			metrics.UploadReconnects.Inc()

			if err := c.reconnect(); err != nil {
				return err
			}
			continue // retry this chunk at the same offset
		}

		c.failed = false
		c.autoOffset += chunk
		p = p[chunk:]
	}

	return nil
}

// nextChunk sizes the next WRITEC, wrapping the auto-offset to zero at the
// circular window boundary and clamping the chunk so it never crosses it.
func (c *Client) nextChunk(remaining int, bufferSize int64) int64 {
	chunk := int64(remaining)
	if bufferSize > 0 {
		if c.autoOffset >= bufferSize {
			c.autoOffset = 0
		}
		if remain := bufferSize - c.autoOffset; chunk > remain {
			chunk = remain
		}
	}
	return chunk
}

func (c *Client) writeAt(p []byte, offset int64) error {
	header := fmt.Sprintf("WRITEC %d %d\r\n", len(p), offset)
	if _, err := c.conn.Write([]byte(header)); err != nil {
		return err
	}
	_, err := c.conn.Write(p)
	return err
}

// reconnect reopens the socket and replays the open handshake at the
// current auto-offset.
func (c *Client) reconnect() error {
	addr, filename, uploadID, offset := c.addr, c.filename, c.uploadID, c.autoOffset

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.reader = nil
	}

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("upload: reconnect to %s: %w", addr, err)
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.autoOffset = offset

	if err := c.command(fmt.Sprintf("SIZE %s %d", filename, uploadID)); err != nil {
		c.Reset()
		return fmt.Errorf("upload: reopen %q id %d: %w", filename, uploadID, err)
	}

	c.logger.Info("Upload session resumed",
		"filename", filename, "upload_id", uploadID, "offset", offset)
	return nil
}

// command sends one CRLF-terminated line and requires an OK reply.
func (c *Client) command(line string) error {
	if _, err := c.conn.Write([]byte(line + "\r\n")); err != nil {
		return err
	}

	reply, err := c.reader.ReadString('\n')
	if err != nil {
		return err
	}
	if strings.TrimRight(reply, "\r\n") != "OK" {
		return fmt.Errorf("server replied %q", strings.TrimSpace(reply))
	}

	return nil
}
