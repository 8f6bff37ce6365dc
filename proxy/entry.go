// This file (entry.go) contains the HTTP server entry point and request
// routing logic.
//
// The entry is the bridge between Go's standard HTTP server and the proxy's
// dispatch logic:
//
//  1. wrapListener wraps the TCP listener, decorating each accepted socket
//     with byte tracking and the connection record before the HTTP server
//     sees it.
//  2. entry implements http.Handler and demultiplexes each parsed request:
//     CONNECT to the tunnel path, absolute-URI requests to the forward
//     path, everything else to a 400.
//  3. The policy callback and proxy authentication run before either
//     handler is selected.
package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/denisvmedia/go-proxychain/internal/upstream"
	"github.com/denisvmedia/go-proxychain/proxy/internal/conn"
	"github.com/denisvmedia/go-proxychain/proxy/internal/proxycontext"
)

// wrapListener wraps the TCP listener to intercept incoming client
// connections. Each accepted socket is wrapped by Server.newClientConn so
// byte tracking starts before the first byte is read.
type wrapListener struct {
	net.Listener
	server *Server
}

func (l *wrapListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return l.server.newClientConn(c), nil
}

// entry is the HTTP server entry point of the proxy.
type entry struct {
	proxy  *Server
	server *http.Server
}

func newEntry(s *Server) *entry {
	e := &entry{proxy: s}
	e.server = &http.Server{
		Handler: e,
		ConnContext: func(ctx context.Context, c net.Conn) context.Context {
			if cc, ok := c.(*conn.ClientConn); ok {
				return proxycontext.WithClientConn(ctx, cc)
			}
			return ctx
		},
	}
	return e
}

// serve runs the accept loop. It returns when the listener closes.
func (e *entry) serve(ln net.Listener) {
	err := e.server.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
		slog.Error("proxy serve failed", "error", err)
	}
}

// ServeHTTP routes every parsed client request.
//
// Order of operations per request: the request line and headers are already
// parsed; credentials are decoded; the policy callback runs and is awaited;
// authentication is enforced; then exactly one of the custom-response,
// forward or tunnel handlers takes over.
func (e *entry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	s := e.proxy

	cc, ok := proxycontext.GetClientConn(req.Context())
	if !ok {
		panic("failed to get client connection from request context")
	}

	logger := slog.Default().With(
		"in", "Server.entry.ServeHTTP",
		"host", req.Host,
		"connectionID", cc.ID,
	)

	isConnect := req.Method == http.MethodConnect

	// A relative-URI request is a direct connection to the proxy, not a
	// proxy request.
	if !isConnect && (!req.URL.IsAbs() || req.URL.Host == "") {
		s.failRequest(w, req, ErrMalformedRequest)
		return
	}

	// Best-effort credential decode; a malformed header yields empty
	// credentials. The policy callback alone decides whether to reject.
	creds := parseProxyAuthorization(req.Header.Get("Proxy-Authorization"))

	hostname, port, perr := targetHostPort(req, isConnect)
	if perr != nil {
		s.failRequest(w, req, perr)
		return
	}

	outcome, err := s.prepare(req.Context(), &RequestParams{
		Request:      req,
		Username:     creds.Username,
		Password:     creds.Password,
		Hostname:     hostname,
		Port:         port,
		IsHTTP:       !isConnect,
		ConnectionID: cc.ID,
	})
	if err != nil {
		logger.Debug("prepare request failed", "error", err)
		s.failRequest(w, req, &ProxyError{
			StatusCode: statusFromPolicyError(err),
			Kind:       "PREPARE_REQUEST_FAILED",
			Message:    err.Error(),
		})
		return
	}

	if outcome.RequestAuthentication {
		s.failRequest(w, req, ErrAuthRequired)
		return
	}

	if outcome.CustomResponse != nil {
		if isConnect {
			s.failRequest(w, req, ErrCustomResponseUnsupported)
			return
		}
		e.handleCustom(w, req, logger, outcome.CustomResponse)
		return
	}

	up, err := upstream.Parse(outcome.UpstreamProxyURL)
	if err != nil {
		s.failRequest(w, req, ErrInvalidUpstreamURL.WithMessage(err.Error()))
		return
	}

	dialer := &upstream.Dialer{
		Upstream:          up,
		IgnoreCertificate: outcome.IgnoreUpstreamProxyCertificate,
		LocalAddress:      outcome.LocalAddress,
		Timeout:           s.opts.ConnectTimeout,
		WrapConn:          cc.TrackTarget,
	}

	if isConnect {
		e.handleConnect(w, req, cc, dialer)
		return
	}
	e.handleForward(w, req, logger, dialer)
}

// targetHostPort extracts the target host and port of a request. CONNECT
// targets must carry an explicit port; forward targets default to the
// scheme port.
func targetHostPort(req *http.Request, isConnect bool) (string, int, *ProxyError) {
	if isConnect {
		host, portStr, err := net.SplitHostPort(req.Host)
		if err != nil {
			return "", 0, ErrMalformedRequest.WithMessage("CONNECT target must be host:port")
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port <= 0 {
			return "", 0, ErrMalformedRequest.WithMessage("CONNECT target must be host:port")
		}
		return host, port, nil
	}

	host := req.URL.Hostname()
	portStr := req.URL.Port()
	if portStr == "" {
		if req.URL.Scheme == "https" {
			portStr = "443"
		} else {
			portStr = "80"
		}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return "", 0, ErrMalformedRequest.WithMessage("invalid target port")
	}
	return host, port, nil
}
