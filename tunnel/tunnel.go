// Package tunnel provides a TCP tunnel helper: it opens a local listening
// port that, when connected to, tunnels the byte stream to a fixed target
// through an HTTP CONNECT proxy.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"sync"

	"github.com/denisvmedia/go-proxychain/internal/upstream"
)

// ErrSOCKSNotSupported is returned when the proxy URL uses a SOCKS scheme;
// the tunnel helper speaks HTTP CONNECT only.
var ErrSOCKSNotSupported = errors.New("tunnel: SOCKS proxies are not supported, use an http or https proxy")

// Options tweaks tunnel behavior.
type Options struct {
	// Verbose enables per-connection logs.
	Verbose bool
}

// Tunnel is one running local tunnel. Create with Create, stop with Close.
type Tunnel struct {
	// Addr is the local host:port to connect to.
	Addr string

	dialer *upstream.Dialer
	target string
	opts   Options

	ln net.Listener

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool

	wg sync.WaitGroup
}

// Create validates the proxy URL and target, binds a local listener on an
// ephemeral port and starts accepting. The target must be host:port; the
// proxy scheme must be http or https.
func Create(proxyURL, targetHostPort string, opts ...Options) (*Tunnel, error) {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}

	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("tunnel: invalid proxy URL: %w", err)
	}
	up, err := upstream.Parse(u)
	if err != nil {
		return nil, fmt.Errorf("tunnel: %w", err)
	}
	if up == nil {
		return nil, errors.New("tunnel: proxy URL is required")
	}
	if up.SOCKS() {
		return nil, ErrSOCKSNotSupported
	}

	host, port, err := net.SplitHostPort(targetHostPort)
	if err != nil || host == "" || port == "" {
		return nil, fmt.Errorf("tunnel: target must be host:port, got %q", targetHostPort)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	t := &Tunnel{
		Addr:   ln.Addr().String(),
		dialer: &upstream.Dialer{Upstream: up},
		target: targetHostPort,
		opts:   o,
		ln:     ln,
		conns:  make(map[net.Conn]struct{}),
	}
	go t.acceptLoop()
	return t, nil
}

// Close stops the tunnel. With force=true all active connections are torn
// down; otherwise they are left to drain and Close waits for them.
func (t *Tunnel) Close(force bool) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	err := t.ln.Close()

	if force {
		t.mu.Lock()
		for c := range t.conns {
			c.Close()
		}
		t.mu.Unlock()
	}
	t.wg.Wait()
	return err
}

func (t *Tunnel) acceptLoop() {
	for {
		c, err := t.ln.Accept()
		if err != nil {
			return
		}
		if !t.track(c) {
			c.Close()
			return
		}
		t.wg.Add(1)
		go t.handle(c)
	}
}

func (t *Tunnel) track(c net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.conns[c] = struct{}{}
	return true
}

func (t *Tunnel) untrack(c net.Conn) {
	t.mu.Lock()
	delete(t.conns, c)
	t.mu.Unlock()
}

func (t *Tunnel) handle(c net.Conn) {
	defer t.wg.Done()
	defer t.untrack(c)
	defer c.Close()

	logger := slog.Default().With("in", "Tunnel.handle", "target", t.target)

	pconn, err := t.dialer.DialTunnel(context.Background(), t.target)
	if err != nil {
		if t.opts.Verbose {
			logger.Error("tunnel dial failed", "error", err)
		}
		return
	}
	defer pconn.Close()

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(pconn, c)
		halfCloseWrite(pconn)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(c, pconn)
		halfCloseWrite(c)
		done <- struct{}{}
	}()
	<-done
	<-done
}

func halfCloseWrite(c net.Conn) {
	if cw, ok := c.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite()
		return
	}
	c.Close()
}
