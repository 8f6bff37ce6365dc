package proxy

import (
	"bufio"
	"bytes"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.uber.org/atomic"

	"github.com/denisvmedia/go-proxychain/internal/upstream"
	"github.com/denisvmedia/go-proxychain/proxy/internal/conn"
)

// connectionEstablished is the exact CONNECT success response on the wire.
const connectionEstablished = "HTTP/1.1 200 Connection Established\r\n\r\n"

// handleConnect establishes an opaque bidirectional byte pipe for a CONNECT
// request. TLS to the target, if any, happens end-to-end between client and
// target; the proxy never validates the target's certificate.
//
// The upstream leg is dialed first (direct TCP, CONNECT through an HTTP(S)
// upstream, or SOCKS5); only then is the 200 written to the client, so a
// failed upstream handshake can still surface as a status code.
func (e *entry) handleConnect(w http.ResponseWriter, req *http.Request, cc *conn.ClientConn, dialer *upstream.Dialer) {
	s := e.proxy

	logger := slog.Default().With(
		"in", "Server.entry.handleConnect",
		"host", req.Host,
		"connectionID", cc.ID,
	)

	tconn, err := dialer.DialTunnel(req.Context(), req.Host)
	if err != nil {
		logErr(logger, err)
		s.failRequest(w, req, classifyDialError(err))
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		tconn.Close()
		s.failRequest(w, req, ErrUpstreamConnectFailed.WithMessage("connection cannot be hijacked"))
		return
	}
	cconn, brw, err := hijacker.Hijack()
	if err != nil {
		tconn.Close()
		logErr(logger, err)
		return
	}

	if _, err := brw.WriteString(connectionEstablished); err != nil {
		tconn.Close()
		cconn.Close()
		return
	}
	if err := brw.Flush(); err != nil {
		tconn.Close()
		cconn.Close()
		return
	}

	// The HTTP server may have pre-read bytes beyond the CONNECT head.
	// Emit those into the upstream first so the tunnel stays
	// byte-transparent.
	clientRd, err := tunnelClientReader(cconn, brw.Reader)
	if err != nil {
		tconn.Close()
		cconn.Close()
		return
	}

	e.tunnel(logger, cconn, clientRd, tconn)
}

// tunnelClientReader returns the reader for the client->target copy,
// preserving any bytes already buffered before the hijack.
func tunnelClientReader(cconn net.Conn, buffered *bufio.Reader) (io.Reader, error) {
	if buffered == nil {
		return cconn, nil
	}
	n := buffered.Buffered()
	if n == 0 {
		return cconn, nil
	}
	prefetched := make([]byte, n)
	if _, err := io.ReadFull(buffered, prefetched); err != nil {
		return nil, err
	}
	return io.MultiReader(bytes.NewReader(prefetched), cconn), nil
}

// tunnel pipes client and target until both directions finish. Either side
// closing half-closes the other so pending data drains. A client close is
// an ordinary tear-down, never an error surfaced to anyone.
func (e *entry) tunnel(logger *slog.Logger, cconn net.Conn, clientRd io.Reader, tconn net.Conn) {
	gate := newIdleGate(cconn, tconn, e.proxy.opts.ConnectTimeout)

	errChan := make(chan error, 2)
	go func() {
		_, err := io.Copy(tconn, gate.reader(clientRd))
		logger.Debug("client copy end", "error", err)
		halfCloseWrite(tconn)
		errChan <- err
	}()
	go func() {
		_, err := io.Copy(cconn, gate.reader(tconn))
		logger.Debug("target copy end", "error", err)
		halfCloseWrite(cconn)
		errChan <- err
	}()

	for i := 0; i < 2; i++ {
		if err := <-errChan; err != nil {
			logErr(logger, err)
		}
	}
	tconn.Close()
	cconn.Close()
}

// halfCloseWrite closes the write side of a connection when supported so
// the peer observes EOF while its own pending data can still drain.
func halfCloseWrite(c net.Conn) {
	if cw, ok := c.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite()
		return
	}
	c.Close()
}

// idleGate arms a read deadline on both tunnel legs until the first payload
// byte moves in either direction. A tunnel where neither side ever speaks
// is torn down silently; the 200 is already on the wire, so no status is
// synthesized.
type idleGate struct {
	cconn net.Conn
	tconn net.Conn
	armed atomic.Bool
}

func newIdleGate(cconn, tconn net.Conn, timeout time.Duration) *idleGate {
	if timeout <= 0 {
		timeout = upstream.DefaultTimeout
	}
	deadline := time.Now().Add(timeout)
	cconn.SetReadDeadline(deadline)
	tconn.SetReadDeadline(deadline)
	g := &idleGate{cconn: cconn, tconn: tconn}
	g.armed.Store(true)
	return g
}

func (g *idleGate) disarm() {
	if !g.armed.CompareAndSwap(true, false) {
		return
	}
	g.cconn.SetReadDeadline(time.Time{})
	g.tconn.SetReadDeadline(time.Time{})
}

func (g *idleGate) reader(r io.Reader) io.Reader {
	return &gatedReader{gate: g, r: r}
}

type gatedReader struct {
	gate *idleGate
	r    io.Reader
}

func (r *gatedReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.gate.disarm()
	}
	return n, err
}
