package channel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

var errFakeClosed = errors.New("fake conn closed")

type fakeConn struct {
	inbound   chan []byte
	written   chan string
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		written: make(chan string, 64),
		closed:  make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case frame := <-f.inbound:
		return frame, nil
	case <-f.closed:
		return nil, io.EOF
	}
}

func (f *fakeConn) WriteMessage(_ context.Context, data []byte) error {
	select {
	case <-f.closed:
		return errFakeClosed
	default:
	}
	f.written <- string(data)
	return nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) push(frame string) {
	f.inbound <- []byte(frame)
}

type fakeTransport struct {
	mu      sync.Mutex
	dials   int
	conns   []*fakeConn
	dialErr error
	gate    chan struct{}
}

func (f *fakeTransport) Dial(ctx context.Context, _ int64) (Conn, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	if f.dialErr != nil {
		return nil, f.dialErr
	}
	conn := newFakeConn()
	f.conns = append(f.conns, conn)
	return conn, nil
}

func (f *fakeTransport) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func (f *fakeTransport) conn(i int) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[i]
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func expectWrite(t *testing.T, conn *fakeConn) string {
	t.Helper()
	select {
	case frame := <-conn.written:
		return frame
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for outbound frame")
		return ""
	}
}

// handshake drives the Engine.IO open and namespace connect and returns
// after the join frame was written.
func handshake(t *testing.T, conn *fakeConn) string {
	t.Helper()
	conn.push(`0{"sid":"e1","upgrades":[],"pingInterval":25000,"pingTimeout":20000}`)
	if got := expectWrite(t, conn); got != "40" {
		t.Fatalf("expected namespace connect, got %q", got)
	}
	conn.push(`40{"sid":"s1"}`)
	return expectWrite(t, conn)
}
