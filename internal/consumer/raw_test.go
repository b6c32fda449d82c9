package consumer

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openrec/tunerbridge/internal/config"
	"github.com/openrec/tunerbridge/internal/logging"
	"github.com/openrec/tunerbridge/internal/ts"
)

const (
	videoPID = 0x31
	pesEvery = 10 // every tenth packet starts a video PES
)

func newTestStore(t *testing.T) *config.Store {
	t.Helper()
	s := config.NewStore(filepath.Join(t.TempDir(), "test.properties"), logging.GetLogger("test"))
	// Keep the windows small so tests move real byte counts quickly.
	s.SetInt("consumer.raw.min_transfer_size", 16384)
	s.SetInt("consumer.raw.max_transfer_size", 786432)
	s.SetInt("consumer.raw.stream_buffer_size", 2097152)
	return s
}

// tsStream builds n packets of synthetic transport stream. Packet i starts
// a video PES when i%pesEvery == 0, carries a PAT when i%pesEvery == 5, and
// a random-access indicator when i%pesEvery == 2. Remaining bytes are a
// deterministic pattern so misplaced splits are detectable.
func tsStream(n int) []byte {
	out := make([]byte, 0, n*ts.PacketSize)
	for i := 0; i < n; i++ {
		pkt := make([]byte, ts.PacketSize)
		pkt[0] = ts.SyncByte

		switch i % pesEvery {
		case 0:
			pkt[1] = 0x40 | byte(videoPID>>8)
			pkt[2] = byte(videoPID)
			pkt[3] = 0x10
			copy(pkt[4:], []byte{0x00, 0x00, 0x01, 0xE0, 0x00, 0x00})
			fillPattern(pkt[10:], i)
		case 5:
			pkt[1] = 0x40
			pkt[2] = 0x00
			pkt[3] = 0x10
			copy(pkt[4:], []byte{0x00, 0x00, 0xB0, 0x0D})
			fillPattern(pkt[8:], i)
		case 2:
			pkt[1] = byte(videoPID >> 8)
			pkt[2] = byte(videoPID)
			pkt[3] = 0x30
			pkt[4] = 1
			pkt[5] = 0x40
			fillPattern(pkt[6:], i)
		default:
			pkt[1] = byte(videoPID >> 8)
			pkt[2] = byte(videoPID)
			pkt[3] = 0x10
			fillPattern(pkt[4:], i)
		}

		out = append(out, pkt...)
	}
	return out
}

func fillPattern(dst []byte, seed int) {
	for i := range dst {
		v := byte(seed + i)
		if v == ts.SyncByte {
			v++
		}
		dst[i] = v
	}
}

// feed pushes the stream into the engine in small chunks and then closes it.
func feed(t *testing.T, c Consumer, stream []byte, chunk int) {
	t.Helper()
	for off := 0; off < len(stream); off += chunk {
		end := off + chunk
		if end > len(stream) {
			end = len(stream)
		}
		if _, err := c.Write(stream[off:end]); err != nil {
			return
		}
	}
}

func waitStopped(t *testing.T, c Consumer) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for c.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("engine did not stop in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLockOnSkipsBytesBeforePESStart(t *testing.T) {
	store := newTestStore(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "lockon.ts")

	// Random noise (no sync bytes) followed by a stream whose first PES
	// start is the first packet of the generated stream.
	noise := make([]byte, 4096)
	rnd := rand.New(rand.NewSource(7))
	for i := range noise {
		noise[i] = byte(rnd.Intn(255))
		if noise[i] == ts.SyncByte {
			noise[i] = 0x48
		}
	}
	stream := tsStream(400)
	input := append(append([]byte{}, noise...), stream...)

	c := NewRaw(store, "501")
	if !c.ConsumeToFilename(out) {
		t.Fatal("ConsumeToFilename failed")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Run()
	}()

	feed(t, c, input, 1316)
	c.StopConsumer()
	wg.Wait()

	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, stream) {
		t.Errorf("recorded %d bytes, want the %d stream bytes from the PES start onward",
			len(got), len(stream))
	}
}

func TestFileSwitchCutsAtPAT(t *testing.T) {
	store := newTestStore(t)
	dir := t.TempDir()
	fileA := filepath.Join(dir, "a.ts")
	fileB := filepath.Join(dir, "b.ts")

	stream := tsStream(600)

	c := NewRaw(store, "502")
	if !c.ConsumeToFilename(fileA) {
		t.Fatal("ConsumeToFilename failed")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Run()
	}()

	// First half, then request the switch, then the rest.
	half := len(stream) / 2
	feed(t, c, stream[:half], 1316)

	switchDone := make(chan bool, 1)
	go func() {
		switchDone <- c.SwitchToFilename(fileB, 0)
	}()

	feed(t, c, stream[half:], 1316)

	select {
	case ok := <-switchDone:
		if !ok {
			t.Fatal("switch reported failure")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("switch did not complete")
	}

	c.StopConsumer()
	wg.Wait()

	gotA, err := os.ReadFile(fileA)
	if err != nil {
		t.Fatal(err)
	}
	gotB, err := os.ReadFile(fileB)
	if err != nil {
		t.Fatal(err)
	}

	// No byte lost or duplicated across the cut.
	joined := append(append([]byte{}, gotA...), gotB...)
	if !bytes.Equal(joined, stream) {
		t.Fatalf("old+new sinks (%d+%d bytes) do not reassemble the input (%d bytes)",
			len(gotA), len(gotB), len(stream))
	}

	// The new file starts on a PAT so it is self-contained.
	cut := len(gotA)
	if cut%ts.PacketSize != 0 {
		t.Errorf("cutover offset %d is not packet-aligned", cut)
	}
	if len(gotB) < ts.PacketSize || ts.PATStart(gotB[:ts.PacketSize]) != 0 {
		t.Error("new file does not begin with a PAT packet")
	}
}

// mediaServer mirrors the scripted recorder from the upload package tests,
// here tracking per-session files keyed by the SIZE handshake.
type mediaServer struct {
	t  *testing.T
	ln net.Listener

	mu    sync.Mutex
	files map[string][]byte
	order []string
}

func newMediaServer(t *testing.T) *mediaServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := &mediaServer{t: t, ln: ln, files: make(map[string][]byte)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(conn)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *mediaServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *mediaServer) serve(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	session := ""

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case strings.HasPrefix(line, "SIZE "):
			session = line[len("SIZE "):]
			s.mu.Lock()
			if _, ok := s.files[session]; !ok {
				s.order = append(s.order, session)
			}
			s.mu.Unlock()
			fmt.Fprint(conn, "OK\r\n")

		case strings.HasPrefix(line, "WRITEC "):
			var size, offset int64
			if _, err := fmt.Sscanf(line, "WRITEC %d %d", &size, &offset); err != nil {
				s.t.Errorf("malformed WRITEC %q", line)
				return
			}
			payload := make([]byte, size)
			if _, err := io.ReadFull(reader, payload); err != nil {
				return
			}
			s.mu.Lock()
			file := s.files[session]
			if grow := offset + size; grow > int64(len(file)) {
				file = append(file, make([]byte, grow-int64(len(file)))...)
			}
			copy(file[offset:], payload)
			s.files[session] = file
			s.mu.Unlock()

		case line == "CLOSE":
			fmt.Fprint(conn, "OK\r\n")
			return
		}
	}
}

func (s *mediaServer) file(session string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.files[session]...)
}

func TestUploadSwitchCutsAtRandomAccessIndicator(t *testing.T) {
	server := newMediaServer(t)
	store := newTestStore(t)
	store.SetInt("consumer.raw.upload_id_port", server.port())

	stream := tsStream(600)

	c := NewRaw(store, "503")
	if !c.ConsumeToUploadID("a.ts", 11, "127.0.0.1") {
		t.Fatal("ConsumeToUploadID failed")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Run()
	}()

	half := len(stream) / 2
	feed(t, c, stream[:half], 1316)

	switchDone := make(chan bool, 1)
	go func() {
		switchDone <- c.SwitchToUploadID("b.ts", 0, 12)
	}()

	feed(t, c, stream[half:], 1316)

	select {
	case ok := <-switchDone:
		if !ok {
			t.Fatal("switch reported failure")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("switch did not complete")
	}

	if got := c.BytesStreamed(); got >= int64(len(stream)) {
		t.Errorf("BytesStreamed = %d, want a post-switch reset", got)
	}

	c.StopConsumer()
	wg.Wait()

	gotA := server.file("a.ts 11")
	gotB := server.file("b.ts 12")

	joined := append(append([]byte{}, gotA...), gotB...)
	if !bytes.Equal(joined, stream) {
		t.Fatalf("old+new uploads (%d+%d bytes) do not reassemble the input (%d bytes)",
			len(gotA), len(gotB), len(stream))
	}

	// The new upload starts on a random-access indicator.
	if len(gotB) < ts.PacketSize || ts.RandomAccessIndicator(gotB[:ts.PacketSize]) != 0 {
		t.Error("new upload does not begin at a random-access indicator")
	}
}

func TestUploadDeliveryMatchesInput(t *testing.T) {
	server := newMediaServer(t)
	store := newTestStore(t)
	store.SetInt("consumer.raw.upload_id_port", server.port())

	stream := tsStream(800)

	c := NewRaw(store, "504")
	if !c.ConsumeToUploadID("whole.ts", 31, "127.0.0.1") {
		t.Fatal("ConsumeToUploadID failed")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Run()
	}()

	feed(t, c, stream, 1316)

	if !c.IsStreaming(2 * time.Second) {
		t.Error("IsStreaming = false while bytes are flowing")
	}

	c.StopConsumer()
	wg.Wait()

	if got := server.file("whole.ts 31"); !bytes.Equal(got, stream) {
		t.Errorf("server received %d bytes, want %d", len(got), len(stream))
	}
}

func TestConsumeToNullCountsBytes(t *testing.T) {
	store := newTestStore(t)
	stream := tsStream(200)

	c := NewRaw(store, "505")
	c.ConsumeToNull(true)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Run()
	}()

	feed(t, c, stream, 1316)
	if !c.IsStreaming(2 * time.Second) {
		t.Error("null session did not count the streamed bytes")
	}
	c.StopConsumer()
	wg.Wait()

	if got := c.BytesStreamed(); got != 0 {
		t.Errorf("BytesStreamed after stop = %d, want 0", got)
	}
	if c.IsRunning() {
		t.Error("IsRunning = true after stop")
	}
}

func TestConsumeToFilenameFailsOnBadPath(t *testing.T) {
	store := newTestStore(t)
	c := NewRaw(store, "506")
	if c.ConsumeToFilename(filepath.Join(t.TempDir(), "missing", "dir", "rec.ts")) {
		t.Error("ConsumeToFilename succeeded for an uncreatable path")
	}
}

func TestDoubleRunPanics(t *testing.T) {
	store := newTestStore(t)
	c := NewRaw(store, "507")
	c.ConsumeToNull(true)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Run()
	}()

	// Wait for the engine to come up, then a second Run must panic.
	deadline := time.Now().Add(2 * time.Second)
	for !c.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	defer func() {
		if recover() == nil {
			t.Error("second Run did not panic")
		}
		c.StopConsumer()
		wg.Wait()
	}()
	c.Run()
}

func TestSwitchReleasedOnShutdown(t *testing.T) {
	store := newTestStore(t)
	dir := t.TempDir()

	c := NewRaw(store, "508")
	if !c.ConsumeToFilename(filepath.Join(dir, "a.ts")) {
		t.Fatal("ConsumeToFilename failed")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Run()
	}()

	// No PAT will arrive: the switch can never land and must be released
	// by shutdown with a failure result.
	switchDone := make(chan bool, 1)
	go func() {
		switchDone <- c.SwitchToFilename(filepath.Join(dir, "b.ts"), 0)
	}()

	time.Sleep(50 * time.Millisecond)
	c.StopConsumer()
	wg.Wait()

	select {
	case ok := <-switchDone:
		if ok {
			t.Error("switch reported success after shutdown")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("switch caller was not released by shutdown")
	}
}
