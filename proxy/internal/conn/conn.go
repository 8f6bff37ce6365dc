// Package conn provides the per-connection state of the proxy: byte-counting
// socket wrappers and the client connection record that carries them.
//
// Each accepted client socket is wrapped in a TrackedConn (the "raw" socket,
// counting wire bytes) and, for TLS listeners, a tls.Conn is layered on top.
// The ClientConn record sits above both layers: it is the net.Conn handed to
// the HTTP server, counts application-layer bytes itself, and keeps a weak
// back-reference to the raw socket for TLS overhead recovery. Target-side
// sockets are wrapped via TrackTarget so their bytes accumulate on the same
// record across redials on a keep-alive client connection.
package conn

import (
	"crypto/tls"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Stats is a point-in-time snapshot of a connection's byte counters.
// Src* is the client side of the proxy, Trg* the target (or upstream) side.
// When TargetDialed is false no target socket was ever established and the
// Trg* fields carry no meaning.
type Stats struct {
	SrcRxBytes int64
	SrcTxBytes int64
	TrgRxBytes int64
	TrgTxBytes int64

	TargetDialed bool
}

// AtLeast reports whether every field of s is >= the corresponding field of
// earlier. Counters are non-decreasing for the lifetime of a connection.
func (s Stats) AtLeast(earlier Stats) bool {
	return s.SrcRxBytes >= earlier.SrcRxBytes &&
		s.SrcTxBytes >= earlier.SrcTxBytes &&
		s.TrgRxBytes >= earlier.TrgRxBytes &&
		s.TrgTxBytes >= earlier.TrgTxBytes
}

// ClientConn represents one accepted client socket. It implements net.Conn
// over the outermost layer (tls.Conn for TLS listeners, the raw TrackedConn
// otherwise) and is the value the HTTP server reads requests from.
type ClientConn struct {
	// ID is assigned by the registry; zero until registered.
	ID uint64

	// Raw is the byte-counting wrapper on the accepted TCP socket, beneath
	// any TLS layer. The server always sets it; it is nil only for records
	// built with a nil raw argument, and src counters then fall back to
	// application bytes.
	Raw *TrackedConn

	// IsTLS is true when the listener terminates TLS for the client.
	IsTLS bool

	conn net.Conn

	appRx atomic.Int64
	appTx atomic.Int64

	trgRx        atomic.Int64
	trgTx        atomic.Int64
	targetDialed atomic.Bool

	// useRaw is cleared when the raw counters fail the close-time
	// consistency check and src counters fall back to application bytes.
	useRaw atomic.Bool

	// OverheadReported latches the tlsOverheadUnavailable emission so the
	// event fires at most once per connection.
	OverheadReported atomic.Bool

	ready     atomic.Bool
	readyOnce sync.Once
	onReady   func(*ClientConn)

	closeOnce sync.Once
	closeErr  error
	onClose   func(*ClientConn)

	// CloseChan is closed when the connection is closed.
	CloseChan chan struct{}

	targetMu sync.Mutex
	target   net.Conn
}

// NewClientConn builds a connection record over outer, keeping raw as the
// wire-level counter reference. For plain listeners outer and raw are the
// same socket.
func NewClientConn(outer net.Conn, raw *TrackedConn, isTLS bool) *ClientConn {
	c := &ClientConn{
		Raw:       raw,
		IsTLS:     isTLS,
		conn:      outer,
		CloseChan: make(chan struct{}),
	}
	c.useRaw.Store(raw != nil)
	return c
}

// OnReady installs the hook invoked once the connection is established from
// the proxy's point of view: immediately for plain listeners, after the TLS
// handshake for TLS listeners. A failed client handshake means the hook
// never fires.
func (c *ClientConn) OnReady(fn func(*ClientConn)) { c.onReady = fn }

// OnClose installs the hook invoked exactly once when the connection closes.
func (c *ClientConn) OnClose(fn func(*ClientConn)) { c.onClose = fn }

// MarkReady fires the OnReady hook. Idempotent.
func (c *ClientConn) MarkReady() {
	c.readyOnce.Do(func() {
		c.ready.Store(true)
		if c.onReady != nil {
			c.onReady(c)
		}
	})
}

// Ready reports whether the connection reached the registered state.
func (c *ClientConn) Ready() bool { return c.ready.Load() }

func (c *ClientConn) Read(p []byte) (int, error) {
	if c.IsTLS && !c.ready.Load() {
		if tc, ok := c.conn.(*tls.Conn); ok {
			if err := tc.Handshake(); err != nil {
				return 0, err
			}
		}
		c.MarkReady()
	}
	n, err := c.conn.Read(p)
	if n > 0 {
		c.appRx.Add(int64(n))
	}
	return n, err
}

func (c *ClientConn) Write(p []byte) (int, error) {
	n, err := c.conn.Write(p)
	if n > 0 {
		c.appTx.Add(int64(n))
	}
	return n, err
}

// Close closes the client socket and any tracked target socket. Idempotent;
// the OnClose hook runs once, after the socket is closed.
func (c *ClientConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
		close(c.CloseChan)

		c.targetMu.Lock()
		target := c.target
		c.targetMu.Unlock()
		if target != nil {
			target.Close()
		}

		if c.onClose != nil {
			c.onClose(c)
		}
	})
	return c.closeErr
}

// CloseWrite half-closes the write side towards the client.
func (c *ClientConn) CloseWrite() error {
	if cw, ok := c.conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return c.conn.Close()
}

func (c *ClientConn) LocalAddr() net.Addr                { return c.conn.LocalAddr() }
func (c *ClientConn) RemoteAddr() net.Addr               { return c.conn.RemoteAddr() }
func (c *ClientConn) SetDeadline(t time.Time) error      { return c.conn.SetDeadline(t) }
func (c *ClientConn) SetReadDeadline(t time.Time) error  { return c.conn.SetReadDeadline(t) }
func (c *ClientConn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }

// TrackTarget wraps an outbound socket so its bytes accumulate into this
// connection's target-side counters. The wrapper must be installed on the
// raw outbound TCP socket, beneath any TLS layer towards an upstream, so
// handshake bytes are included.
func (c *ClientConn) TrackTarget(t net.Conn) net.Conn {
	c.targetDialed.Store(true)
	tc := &targetConn{Conn: t, rx: &c.trgRx, tx: &c.trgTx}
	c.targetMu.Lock()
	c.target = tc
	c.targetMu.Unlock()
	return tc
}

// AppBytes returns the application-layer counters (plaintext above TLS).
func (c *ClientConn) AppBytes() (rx, tx int64) {
	return c.appRx.Load(), c.appTx.Load()
}

// RawUsable reports whether src counters currently come from the raw socket.
func (c *ClientConn) RawUsable() bool { return c.Raw != nil && c.useRaw.Load() }

// FallbackToAppBytes switches src counters to the application layer for the
// rest of the connection's lifetime.
func (c *ClientConn) FallbackToAppBytes() { c.useRaw.Store(false) }

// Snapshot returns a consistent, non-blocking snapshot of the connection's
// byte counters. Safe to call concurrently with transfers.
func (c *ClientConn) Snapshot() Stats {
	s := Stats{}
	if c.RawUsable() {
		s.SrcRxBytes = c.Raw.BytesRead()
		s.SrcTxBytes = c.Raw.BytesWritten()
	} else {
		s.SrcRxBytes = c.appRx.Load()
		s.SrcTxBytes = c.appTx.Load()
	}
	if c.targetDialed.Load() {
		s.TargetDialed = true
		s.TrgRxBytes = c.trgRx.Load()
		s.TrgTxBytes = c.trgTx.Load()
	}
	return s
}

// targetConn accumulates bytes into the owning ClientConn's target counters.
// A fresh wrapper is created per dial so counters survive redials.
type targetConn struct {
	net.Conn
	rx *atomic.Int64
	tx *atomic.Int64
}

func (c *targetConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 {
		c.rx.Add(int64(n))
	}
	return n, err
}

func (c *targetConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if n > 0 {
		c.tx.Add(int64(n))
	}
	return n, err
}

func (c *targetConn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return c.Conn.Close()
}
