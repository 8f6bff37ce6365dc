package proxy

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"syscall"

	"github.com/denisvmedia/go-proxychain/internal/upstream"
)

// StatusUpstreamTLSFailed is the non-standard status surfaced when the TLS
// handshake towards an upstream or target fails before any response bytes
// flow.
const StatusUpstreamTLSFailed = 599

// ProxyError is one of the closed set of proxy-originated error conditions.
// Returning a *ProxyError (or any error with a ProxyStatusCode method) from
// the prepare-request callback selects the response status; plain errors
// map to 500.
type ProxyError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *ProxyError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.StatusCode, e.Message)
}

// ProxyStatusCode returns the HTTP status the error surfaces as.
func (e *ProxyError) ProxyStatusCode() int { return e.StatusCode }

// WithMessage returns a copy of e carrying a more specific message.
func (e *ProxyError) WithMessage(msg string) *ProxyError {
	clone := *e
	clone.Message = msg
	return &clone
}

// Predefined proxy errors. The set is closed: handlers pick from these (via
// classifyDialError and friends) rather than inventing statuses.
var (
	ErrMalformedRequest = &ProxyError{
		StatusCode: http.StatusBadRequest,
		Kind:       "MALFORMED_REQUEST",
		Message:    "This is a proxy server, direct requests are not allowed",
	}
	ErrAuthRequired = &ProxyError{
		StatusCode: http.StatusProxyAuthRequired,
		Kind:       "AUTH_REQUIRED",
		Message:    "Proxy authentication required",
	}
	ErrPrepareRequestFailed = &ProxyError{
		StatusCode: http.StatusInternalServerError,
		Kind:       "PREPARE_REQUEST_FAILED",
		Message:    "The prepare-request callback failed",
	}
	ErrInvalidUpstreamURL = &ProxyError{
		StatusCode: http.StatusInternalServerError,
		Kind:       "INVALID_UPSTREAM_URL",
		Message:    "The returned upstream proxy URL is invalid",
	}
	ErrInvalidConfiguration = &ProxyError{
		StatusCode: http.StatusInternalServerError,
		Kind:       "INVALID_CONFIGURATION",
		Message:    "Invalid proxy configuration",
	}
	ErrCustomResponseUnsupported = &ProxyError{
		StatusCode: http.StatusInternalServerError,
		Kind:       "CUSTOM_RESPONSE_UNSUPPORTED",
		Message:    "Custom responses are not supported for CONNECT requests",
	}
	ErrHostNotFound = &ProxyError{
		StatusCode: http.StatusNotFound,
		Kind:       "HOST_NOT_FOUND",
		Message:    "Target host not found",
	}
	ErrUpstreamConnectFailed = &ProxyError{
		StatusCode: http.StatusBadGateway,
		Kind:       "UPSTREAM_CONNECT_FAILED",
		Message:    "Failed to connect to upstream or target",
	}
	ErrUpstreamTimeout = &ProxyError{
		StatusCode: http.StatusGatewayTimeout,
		Kind:       "UPSTREAM_TIMEOUT",
		Message:    "Connecting to upstream or target timed out",
	}
	ErrUpstreamTLSFailed = &ProxyError{
		StatusCode: StatusUpstreamTLSFailed,
		Kind:       "UPSTREAM_TLS_FAILED",
		Message:    "TLS handshake with upstream failed",
	}
	ErrMalformedUpstreamResponse = &ProxyError{
		StatusCode: http.StatusBadGateway,
		Kind:       "MALFORMED_UPSTREAM_RESPONSE",
		Message:    "Upstream returned a malformed response",
	}
)

// classifyDialError maps an error raised before any response bytes flowed to
// a proxy status: DNS failures to 404, refused/unreachable to 502, timeouts
// to 504, TLS and certificate failures to 599.
func classifyDialError(err error) *ProxyError {
	if err == nil {
		return nil
	}

	if os.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return ErrUpstreamTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return ErrUpstreamTimeout
		}
		return ErrHostNotFound
	}

	var certInvalidErr x509.CertificateInvalidError
	var unknownAuthErr x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	var recordHeaderErr tls.RecordHeaderError
	var certVerifyErr *tls.CertificateVerificationError
	if errors.As(err, &certInvalidErr) ||
		errors.As(err, &unknownAuthErr) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &recordHeaderErr) ||
		errors.As(err, &certVerifyErr) {
		return ErrUpstreamTLSFailed
	}

	var connectErr *upstream.ConnectResponseError
	if errors.As(err, &connectErr) {
		return ErrUpstreamConnectFailed.WithMessage(connectErr.Error())
	}
	if errors.Is(err, upstream.ErrInvalidLocalAddress) {
		return ErrInvalidConfiguration.WithMessage(err.Error())
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.EHOSTUNREACH, syscall.ENETUNREACH:
			return ErrUpstreamConnectFailed
		case syscall.ETIMEDOUT:
			return ErrUpstreamTimeout
		}
	}

	return ErrUpstreamConnectFailed
}

// statusFromPolicyError resolves the status a failed prepare-request
// callback surfaces as: the error's own status when it carries one, 500
// otherwise.
func statusFromPolicyError(err error) int {
	var pe *ProxyError
	if errors.As(err, &pe) {
		return pe.StatusCode
	}
	var sc interface{ ProxyStatusCode() int }
	if errors.As(err, &sc) {
		return sc.ProxyStatusCode()
	}
	return http.StatusInternalServerError
}
