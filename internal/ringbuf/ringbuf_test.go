package ringbuf

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"
)

func TestWriteReadRoundTrip(t *testing.T) {
	b := New(16)

	input := []byte("hello, tuner")
	if n, err := b.Write(input); err != nil || n != len(input) {
		t.Fatalf("Write returned (%d, %v), want (%d, nil)", n, err, len(input))
	}

	out := make([]byte, len(input))
	n, err := b.Read(context.Background(), out)
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if !bytes.Equal(out[:n], input) {
		t.Errorf("Read returned %q, want %q", out[:n], input)
	}
}

func TestConcurrentTransferPreservesBytes(t *testing.T) {
	for _, capacity := range []int{1, 7, 64, 4096} {
		b := New(capacity)

		input := make([]byte, 256*1024)
		rnd := rand.New(rand.NewSource(42))
		rnd.Read(input)

		go func() {
			remaining := input
			for len(remaining) > 0 {
				chunk := rnd.Intn(1500) + 1
				if chunk > len(remaining) {
					chunk = len(remaining)
				}
				if _, err := b.Write(remaining[:chunk]); err != nil {
					return
				}
				remaining = remaining[chunk:]
			}
			b.Close()
		}()

		var sink bytes.Buffer
		buf := make([]byte, 1024)
		for {
			n, err := b.Read(context.Background(), buf)
			sink.Write(buf[:n])
			if err != nil {
				break
			}
		}

		if !bytes.Equal(sink.Bytes(), input) {
			t.Fatalf("capacity %d: transferred bytes differ from input (got %d bytes, want %d)",
				capacity, sink.Len(), len(input))
		}
	}
}

func TestWriteBlocksUntilReaderDrains(t *testing.T) {
	b := New(4)

	if _, err := b.Write([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("initial Write failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := b.Write([]byte{5, 6})
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("Write returned while the buffer was full")
	case <-time.After(50 * time.Millisecond):
	}

	out := make([]byte, 4)
	if _, err := b.Read(context.Background(), out); err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("blocked Write failed after drain: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Write did not unblock after the reader drained")
	}
}

func TestCloseDrainsThenReportsClosed(t *testing.T) {
	b := New(8)
	b.Write([]byte{1, 2, 3})
	b.Close()

	out := make([]byte, 8)
	n, err := b.Read(context.Background(), out)
	if err != nil || n != 3 {
		t.Fatalf("Read after close returned (%d, %v), want (3, nil)", n, err)
	}

	if _, err := b.Read(context.Background(), out); !errors.Is(err, ErrClosed) {
		t.Errorf("Read on drained closed buffer returned %v, want ErrClosed", err)
	}
	if _, err := b.Write([]byte{4}); !errors.Is(err, ErrClosed) {
		t.Errorf("Write after close returned %v, want ErrClosed", err)
	}
}

func TestCloseWakesBlockedReader(t *testing.T) {
	b := New(8)

	done := make(chan error, 1)
	go func() {
		_, err := b.Read(context.Background(), make([]byte, 4))
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	b.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("blocked Read returned %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not wake the blocked reader")
	}
}

func TestReadHonorsContextCancellation(t *testing.T) {
	b := New(8)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := b.Read(ctx, make([]byte, 4))
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Read returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancellation did not wake the blocked reader")
	}
}

func TestClearBehavesLikeFreshBuffer(t *testing.T) {
	b := New(8)
	b.Write([]byte{1, 2, 3})
	b.Close()
	b.Clear()

	if n := b.ReadAvailable(); n != 0 {
		t.Fatalf("ReadAvailable after Clear = %d, want 0", n)
	}
	if n := b.WriteAvailable(); n != 8 {
		t.Fatalf("WriteAvailable after Clear = %d, want 8", n)
	}

	if _, err := b.Write([]byte{9, 8}); err != nil {
		t.Fatalf("Write after Clear failed: %v", err)
	}
	out := make([]byte, 2)
	if n, err := b.Read(context.Background(), out); err != nil || n != 2 {
		t.Fatalf("Read after Clear returned (%d, %v), want (2, nil)", n, err)
	}
	if out[0] != 9 || out[1] != 8 {
		t.Errorf("Read after Clear returned % x, want 09 08", out)
	}
}
