// Package proxy implements a programmable HTTP(S) forward proxy with
// optional upstream chaining over HTTP, HTTPS or SOCKS5.
//
// For every client request a host-provided policy callback (Options.
// PrepareRequest) decides whether to demand proxy authentication, synthesize
// a custom response, chain through an upstream proxy or forward directly to
// the origin. Plain absolute-URI HTTP requests take the forward path; the
// CONNECT method produces an opaque end-to-end tunnel. Every byte moved on
// both sides of the proxy is accounted per connection, including TLS
// handshake and record framing when the listener itself is TLS.
package proxy

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/denisvmedia/go-proxychain/internal/helper"
	"github.com/denisvmedia/go-proxychain/proxy/internal/conn"
	"github.com/denisvmedia/go-proxychain/proxy/internal/events"
	"github.com/denisvmedia/go-proxychain/proxy/internal/registry"
	"github.com/denisvmedia/go-proxychain/version"
)

// HTTPSOptions configures the TLS listener of an https server.
type HTTPSOptions struct {
	// Key and Cert are the PEM-encoded server key pair.
	Key  []byte
	Cert []byte

	// Certificates may be supplied instead of Key/Cert.
	Certificates []tls.Certificate

	// MaxCachedSessions controls TLS session resumption. Nil keeps the
	// runtime default. A value of 0 disables session resumption entirely,
	// which makes per-connection byte accounting deterministic (every
	// connection pays the full handshake). Positive values are accepted and
	// also keep the runtime default.
	MaxCachedSessions *int
}

// Options configures a Server.
type Options struct {
	// Port to listen on; 0 picks any free port (resolved after Listen).
	Port int

	// Host to bind; empty binds all interfaces.
	Host string

	// ServerType selects the listener: "http" (default) or "https".
	ServerType string

	// HTTPSOptions must be set when ServerType is "https".
	HTTPSOptions *HTTPSOptions

	// AuthRealm is quoted in the Proxy-Authenticate challenge.
	// Defaults to "ProxyChain".
	AuthRealm string

	// PrepareRequest is the policy callback. Nil forwards everything
	// directly with no authentication.
	PrepareRequest PrepareRequestFunc

	// ConnectTimeout bounds upstream dials including handshakes; exceeding
	// it surfaces as 504. Zero means the default of 60 seconds.
	ConnectTimeout time.Duration

	// Verbose enables internal logs, including the raw-socket fallback
	// warning.
	Verbose bool
}

// Server is one proxy instance. Create with NewServer, start with Listen,
// stop with Close.
type Server struct {
	Version string

	opts      Options
	logger    *serverLogger
	registry  *registry.Registry
	bus       *events.Bus
	entry     *entry
	tlsConfig *tls.Config

	mu        sync.Mutex
	ln        net.Listener
	port      int
	listening bool
	closed    bool

	connWG sync.WaitGroup
}

// NewServer validates opts and creates a Server. It does not bind.
func NewServer(opts Options) (*Server, error) {
	switch opts.ServerType {
	case "":
		opts.ServerType = "http"
	case "http", "https":
	default:
		return nil, fmt.Errorf("unsupported server type %q", opts.ServerType)
	}
	if opts.AuthRealm == "" {
		opts.AuthRealm = "ProxyChain"
	}

	s := &Server{
		Version:  version.Version,
		opts:     opts,
		registry: registry.New(),
		bus:      events.New(),
	}

	if opts.ServerType == "https" {
		if opts.HTTPSOptions == nil {
			return nil, fmt.Errorf("https server requires HTTPSOptions")
		}
		tlsConfig := &tls.Config{
			Certificates: opts.HTTPSOptions.Certificates,
			KeyLogWriter: helper.GetTLSKeyLogWriter(),
		}
		if len(opts.HTTPSOptions.Key) > 0 || len(opts.HTTPSOptions.Cert) > 0 {
			cert, err := tls.X509KeyPair(opts.HTTPSOptions.Cert, opts.HTTPSOptions.Key)
			if err != nil {
				return nil, fmt.Errorf("load https key pair: %w", err)
			}
			tlsConfig.Certificates = append(tlsConfig.Certificates, cert)
		}
		if len(tlsConfig.Certificates) == 0 {
			return nil, fmt.Errorf("https server requires a certificate")
		}
		if mcs := opts.HTTPSOptions.MaxCachedSessions; mcs != nil && *mcs == 0 {
			tlsConfig.SessionTicketsDisabled = true
		}
		s.tlsConfig = tlsConfig
	}

	s.logger = newServerLogger(opts.ServerType, opts.Verbose)
	s.entry = newEntry(s)

	return s, nil
}

// Listen binds the listener and begins accepting connections in the
// background. After it returns, Port reports the actual port.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listening {
		return fmt.Errorf("server is already listening")
	}
	if s.closed {
		return fmt.Errorf("server is closed")
	}

	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.port = ln.Addr().(*net.TCPAddr).Port
	s.listening = true

	s.logger.bindPort(s.port)
	s.logger.verboseInfo("proxy listening", "addr", ln.Addr().String())

	go s.entry.serve(&wrapListener{Listener: ln, server: s})
	return nil
}

// Port returns the bound port. Valid after Listen.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Close stops the server. With force=false it refuses new connections and
// waits for all in-flight connections (including tunnels) to finish; with
// force=true it additionally tears down every live socket.
func (s *Server) Close(force bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.ln
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}

	if force {
		s.registry.Range(func(c *conn.ClientConn) bool {
			c.Close()
			return true
		})
		s.entry.server.Close()
	} else {
		s.entry.server.SetKeepAlivesEnabled(false)
		// Shutdown waits for non-hijacked HTTP connections; the wait group
		// below covers hijacked tunnels as well.
		s.entry.server.Shutdown(context.Background())
	}

	s.connWG.Wait()
	if !force {
		s.entry.server.Close()
	}
	return nil
}

// ConnectionIDs returns the ids of all live connections in ascending order.
func (s *Server) ConnectionIDs() []uint64 {
	return s.registry.IDs()
}

// ConnectionStats returns a snapshot of the counters for a live connection.
// After the connection closes it returns false; the final stats arrive in
// the connectionClosed event.
func (s *Server) ConnectionStats(id uint64) (Stats, bool) {
	return s.registry.Stats(id)
}

// On subscribes fn to an event (see the Event* constants) and returns a
// handle for Off. Handlers run synchronously; multiple listeners are
// invoked in subscription order.
func (s *Server) On(event string, fn func(any)) uint64 {
	return s.bus.On(event, fn)
}

// Once subscribes fn for a single delivery.
func (s *Server) Once(event string, fn func(any)) uint64 {
	return s.bus.Once(event, fn)
}

// Off removes a subscription created by On or Once.
func (s *Server) Off(event string, id uint64) {
	s.bus.Off(event, id)
}

// newClientConn wraps an accepted socket with byte tracking and, for https
// servers, the TLS layer. Plain connections register immediately; TLS
// connections register only after a successful client handshake, so failed
// handshakes never produce ids or events.
func (s *Server) newClientConn(c net.Conn) *conn.ClientConn {
	raw := conn.NewTrackedConn(c)
	var outer net.Conn = raw
	isTLS := s.tlsConfig != nil
	if isTLS {
		outer = tls.Server(raw, s.tlsConfig)
	}

	cc := conn.NewClientConn(outer, raw, isTLS)
	cc.OnReady(s.registerConn)
	cc.OnClose(s.finalizeConn)
	if !isTLS {
		cc.MarkReady()
	}
	return cc
}

func (s *Server) registerConn(cc *conn.ClientConn) {
	s.connWG.Add(1)
	id := s.registry.Register(cc)

	if cc.IsTLS && cc.Raw == nil {
		s.reportTLSOverheadUnavailable(cc, "raw_socket_missing")
	}

	s.logger.verboseDebug("client connection registered",
		"connectionID", id,
		"tls", cc.IsTLS,
	)
	s.bus.Emit(EventConnection, ConnectionEvent{ConnectionID: id})
}

// finalizeConn runs exactly once per closed client socket. For registered
// connections it settles the counters, removes the record and emits
// connectionClosed as the final observable event for that id.
func (s *Server) finalizeConn(cc *conn.ClientConn) {
	if !cc.Ready() {
		// TLS handshake with the client failed; the connection was never
		// registered and emits nothing.
		return
	}

	if cc.RawUsable() {
		appRx, appTx := cc.AppBytes()
		if cc.Raw.BytesRead() < appRx || cc.Raw.BytesWritten() < appTx {
			// The raw socket is present but its counters lag the
			// application layer; trust the application counters instead.
			s.logger.verboseWarn("raw socket byte counters inconsistent, falling back to application-layer counters",
				"connectionID", cc.ID,
			)
			cc.FallbackToAppBytes()
			s.reportTLSOverheadUnavailable(cc, "raw_byte_counters_inconsistent")
		}
	}

	stats := cc.Snapshot()
	s.registry.Remove(cc.ID)
	s.bus.Emit(EventConnectionClosed, ConnectionClosedEvent{
		ConnectionID: cc.ID,
		Stats:        stats,
	})
	s.connWG.Done()
}

func (s *Server) reportTLSOverheadUnavailable(cc *conn.ClientConn, reason string) {
	if !cc.OverheadReported.CompareAndSwap(false, true) {
		return
	}
	ev := TLSOverheadUnavailableEvent{
		ConnectionID: cc.ID,
		Reason:       reason,
		HasParent:    cc.Raw != nil,
	}
	if cc.Raw != nil {
		ev.ParentType = fmt.Sprintf("%T", cc.Raw.Conn)
	}
	s.logger.verboseWarn("TLS overhead accounting unavailable",
		"connectionID", cc.ID,
		"reason", reason,
	)
	s.bus.Emit(EventTLSOverheadUnavailable, ev)
}

// prepare runs the policy callback, defaulting to direct forwarding when no
// callback is configured. The callback's result is awaited before any
// upstream dial.
func (s *Server) prepare(ctx context.Context, params *RequestParams) (*RequestOutcome, error) {
	if s.opts.PrepareRequest == nil {
		return &RequestOutcome{}, nil
	}
	outcome, err := s.opts.PrepareRequest(ctx, params)
	if err != nil {
		return nil, err
	}
	if outcome == nil {
		outcome = &RequestOutcome{}
	}
	return outcome, nil
}

// failRequest reports a pre-response failure to the client. requestFailed is
// emitted before the response is written (and thus before the socket
// closes); the 407 challenge is a normal response, not a failure, and does
// not emit.
func (s *Server) failRequest(w http.ResponseWriter, r *http.Request, pe *ProxyError) {
	if pe.StatusCode != http.StatusProxyAuthRequired {
		s.bus.Emit(EventRequestFailed, RequestFailedEvent{Error: pe, Request: r})
	}
	writeProxyError(w, pe, s.opts.AuthRealm)
}
