package conn

import (
	"net"

	"go.uber.org/atomic"
)

// TrackedConn wraps a net.Conn and counts the bytes moved through it in both
// directions. When installed directly on an accepted TCP socket (beneath any
// TLS layer) its counters reflect bytes on the wire, including TLS handshake
// and record framing.
type TrackedConn struct {
	net.Conn

	bytesRead    atomic.Int64
	bytesWritten atomic.Int64
}

// NewTrackedConn wraps c with byte counting.
func NewTrackedConn(c net.Conn) *TrackedConn {
	return &TrackedConn{Conn: c}
}

func (c *TrackedConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 {
		c.bytesRead.Add(int64(n))
	}
	return n, err
}

func (c *TrackedConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if n > 0 {
		c.bytesWritten.Add(int64(n))
	}
	return n, err
}

// BytesRead returns the total bytes read from the underlying connection.
func (c *TrackedConn) BytesRead() int64 { return c.bytesRead.Load() }

// BytesWritten returns the total bytes written to the underlying connection.
func (c *TrackedConn) BytesWritten() int64 { return c.bytesWritten.Load() }

// CloseWrite half-closes the write side when the underlying connection
// supports it, so a tunnel peer can drain pending data.
func (c *TrackedConn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return c.Conn.Close()
}
