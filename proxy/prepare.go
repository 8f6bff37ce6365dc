package proxy

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

// PrepareRequestFunc is the host-provided policy callback. It is invoked for
// every request after the first request line and headers have been parsed
// and decides, per request, whether to demand authentication, synthesize a
// response, chain through an upstream proxy or forward directly.
//
// Returning an error fails the connection with status 500, unless the error
// carries its own status (see ProxyError). A nil outcome is treated as the
// zero outcome (direct forwarding, no authentication).
type PrepareRequestFunc func(ctx context.Context, params *RequestParams) (*RequestOutcome, error)

// RequestParams carries the per-request facts the policy callback decides on.
type RequestParams struct {
	// Request is the parsed client request. For CONNECT, Request.Host is
	// the target host:port.
	Request *http.Request

	// Username and Password are the decoded Proxy-Authorization basic
	// credentials. Both may be empty; empty credentials are valid.
	Username string
	Password string

	// Hostname and Port identify the target.
	Hostname string
	Port     int

	// IsHTTP is true on the forward path (absolute-URI HTTP request) and
	// false for CONNECT tunnels.
	IsHTTP bool

	// ConnectionID is the registry id of the client connection.
	ConnectionID uint64
}

// RequestOutcome is the policy decision for one request.
type RequestOutcome struct {
	// RequestAuthentication forces a 407 with Proxy-Authenticate.
	RequestAuthentication bool

	// UpstreamProxyURL routes the request through a next-hop proxy.
	// Nil means direct. Scheme must be http, https, socks or socks5.
	UpstreamProxyURL *url.URL

	// IgnoreUpstreamProxyCertificate skips TLS verification towards an
	// https upstream.
	IgnoreUpstreamProxyCertificate bool

	// CustomResponse, if set, short-circuits forwarding and writes a
	// synthesized response. Only valid on the forward path; CONNECT
	// requests fail with 500.
	CustomResponse CustomResponseFunc

	// LocalAddress optionally binds the outbound socket.
	LocalAddress string
}

// CustomResponseFunc produces a synthesized response for a request.
type CustomResponseFunc func(req *http.Request) (*CustomResponse, error)

// CustomResponse is a user-supplied synthetic HTTP response.
type CustomResponse struct {
	// StatusCode defaults to 200 when zero.
	StatusCode int

	Header http.Header

	// Body is an in-memory body; Content-Length is computed from it.
	Body []byte

	// BodyReader streams the body with chunked transfer encoding. Ignored
	// when Body is set.
	BodyReader io.Reader
}
