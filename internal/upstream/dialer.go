package upstream

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"

	"github.com/denisvmedia/go-proxychain/internal/helper"
)

// DefaultTimeout bounds a single upstream dial, including any TLS and
// CONNECT/SOCKS handshakes.
const DefaultTimeout = 60 * time.Second

// ErrInvalidLocalAddress is returned when the outbound bind address cannot
// be parsed as an IP.
var ErrInvalidLocalAddress = errors.New("invalid local address")

// ConnectResponseError is returned when an HTTP upstream answers a CONNECT
// with a non-200 status.
type ConnectResponseError struct {
	StatusCode int
	Status     string
}

func (e *ConnectResponseError) Error() string {
	return fmt.Sprintf("upstream CONNECT rejected: %s", e.Status)
}

// Dialer produces connected, authenticated byte streams to a target, either
// directly or through an Upstream. The zero value dials directly with the
// default timeout.
type Dialer struct {
	// Upstream is the next-hop proxy; nil means direct.
	Upstream *Upstream

	// IgnoreCertificate skips TLS verification for an HTTPS upstream.
	IgnoreCertificate bool

	// LocalAddress optionally binds the outbound socket.
	LocalAddress string

	// Timeout bounds the dial including handshakes. Zero means
	// DefaultTimeout.
	Timeout time.Duration

	// WrapConn, if set, is applied to every raw outbound TCP socket before
	// any TLS or proxy handshake, so byte accounting sees handshake bytes.
	WrapConn func(net.Conn) net.Conn
}

func (d *Dialer) timeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return DefaultTimeout
}

func (d *Dialer) netDialer() (*net.Dialer, error) {
	nd := &net.Dialer{Timeout: d.timeout()}
	if d.LocalAddress != "" {
		ip := net.ParseIP(d.LocalAddress)
		if ip == nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidLocalAddress, d.LocalAddress)
		}
		nd.LocalAddr = &net.TCPAddr{IP: ip}
	}
	return nd, nil
}

// dialRaw opens a TCP connection and applies the byte-accounting wrapper.
func (d *Dialer) dialRaw(ctx context.Context, address string) (net.Conn, error) {
	nd, err := d.netDialer()
	if err != nil {
		return nil, err
	}
	c, err := nd.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	if d.WrapConn != nil {
		c = d.WrapConn(c)
	}
	return c, nil
}

// DialDirect opens a plain TCP connection to the target.
func (d *Dialer) DialDirect(ctx context.Context, targetAddr string) (net.Conn, error) {
	return d.dialRaw(ctx, targetAddr)
}

// DialProxy opens a connection to the HTTP(S) upstream itself, performing
// the TLS handshake for an https upstream. The caller then speaks plain
// proxy-HTTP (absolute-URI requests or CONNECT) over the returned stream.
func (d *Dialer) DialProxy(ctx context.Context) (net.Conn, error) {
	c, err := d.dialRaw(ctx, d.Upstream.Host)
	if err != nil {
		return nil, err
	}
	if !d.Upstream.TLS() {
		return c, nil
	}
	tlsConn := tls.Client(c, &tls.Config{
		ServerName:         d.Upstream.Hostname,
		InsecureSkipVerify: d.IgnoreCertificate,
		KeyLogWriter:       helper.GetTLSKeyLogWriter(),
	})
	hsCtx, cancel := context.WithTimeout(ctx, d.timeout())
	defer cancel()
	if err := tlsConn.HandshakeContext(hsCtx); err != nil {
		c.Close()
		return nil, err
	}
	return tlsConn, nil
}

// DialViaSOCKS5 connects to the target through the SOCKS5 upstream,
// performing the greeting, the optional username/password sub-negotiation
// and the CONNECT exchange.
func (d *Dialer) DialViaSOCKS5(ctx context.Context, targetAddr string) (net.Conn, error) {
	var auth *proxy.Auth
	if d.Upstream.HasAuth {
		auth = &proxy.Auth{
			User:     d.Upstream.Username,
			Password: d.Upstream.Password,
		}
	}
	dialer, err := proxy.SOCKS5("tcp", d.Upstream.Host, auth, rawForward{d})
	if err != nil {
		return nil, err
	}
	dc, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return nil, errors.New("SOCKS5 dialer does not support DialContext")
	}
	dialCtx, cancel := context.WithTimeout(ctx, d.timeout())
	defer cancel()
	return dc.DialContext(dialCtx, "tcp", targetAddr)
}

// rawForward is the forward dialer handed to the SOCKS5 implementation; it
// routes the proxy-bound TCP connection through dialRaw so the handshake
// bytes hit the accounting wrapper.
type rawForward struct {
	d *Dialer
}

func (f rawForward) Dial(network, addr string) (net.Conn, error) {
	return f.DialContext(context.Background(), network, addr)
}

func (f rawForward) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if network != "tcp" {
		return nil, fmt.Errorf("unsupported network %q", network)
	}
	return f.d.dialRaw(ctx, addr)
}

// DialTunnel produces an opaque byte stream to targetAddr: a direct TCP
// connection, an HTTP CONNECT tunnel through the upstream, or a SOCKS5
// connection, depending on the configured upstream.
func (d *Dialer) DialTunnel(ctx context.Context, targetAddr string) (net.Conn, error) {
	switch {
	case d.Upstream == nil:
		return d.DialDirect(ctx, targetAddr)
	case d.Upstream.SOCKS():
		return d.DialViaSOCKS5(ctx, targetAddr)
	default:
		c, err := d.DialProxy(ctx)
		if err != nil {
			return nil, err
		}
		if err := d.connectOverHTTP(ctx, c, targetAddr); err != nil {
			c.Close()
			return nil, err
		}
		return c, nil
	}
}

// DialForward produces the stream the forward (absolute-URI) handler writes
// its HTTP exchange on. absoluteURI reports whether the request line must
// keep the absolute form (true only when speaking to an HTTP(S) upstream).
func (d *Dialer) DialForward(ctx context.Context, targetAddr string) (c net.Conn, absoluteURI bool, err error) {
	switch {
	case d.Upstream == nil:
		c, err = d.DialDirect(ctx, targetAddr)
		return c, false, err
	case d.Upstream.SOCKS():
		c, err = d.DialViaSOCKS5(ctx, targetAddr)
		return c, false, err
	default:
		c, err = d.DialProxy(ctx)
		return c, true, err
	}
}

// ProxyAuthorization returns the Proxy-Authorization header value for the
// upstream credentials, or "" when the upstream carries none.
func (d *Dialer) ProxyAuthorization() string {
	if d.Upstream == nil || !d.Upstream.HasAuth {
		return ""
	}
	cred := d.Upstream.Username + ":" + d.Upstream.Password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(cred))
}

// connectOverHTTP issues a CONNECT for targetAddr on an established stream
// to an HTTP(S) upstream and requires a 200 response.
// ref: http/transport.go dialConn func
func (d *Dialer) connectOverHTTP(ctx context.Context, c net.Conn, targetAddr string) error {
	connectReq := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: targetAddr},
		Host:   targetAddr,
		Header: http.Header{},
	}
	if auth := d.ProxyAuthorization(); auth != "" {
		connectReq.Header.Set("Proxy-Authorization", auth)
	}

	connectCtx, cancel := context.WithTimeout(ctx, d.timeout())
	defer cancel()

	didReadResponse := make(chan struct{}) // closed after CONNECT write+read is done or fails
	var (
		resp *http.Response
		err  error
	)
	// Write the CONNECT request & read the response.
	go func() {
		defer close(didReadResponse)
		err = connectReq.Write(c)
		if err != nil {
			return
		}
		// Okay to use and discard buffered reader here, because
		// the server will not speak until spoken to.
		br := bufio.NewReader(c)
		resp, err = http.ReadResponse(br, connectReq)
	}()
	select {
	case <-connectCtx.Done():
		c.Close()
		<-didReadResponse
		return connectCtx.Err()
	case <-didReadResponse:
		// resp or err now set
	}
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &ConnectResponseError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
		}
	}
	return nil
}
