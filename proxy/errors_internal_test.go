package proxy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"syscall"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/denisvmedia/go-proxychain/internal/upstream"
)

func TestClassifyDialError(t *testing.T) {
	c := qt.New(t)

	cases := []struct {
		name string
		err  error
		want *ProxyError
	}{
		{
			name: "dns not found",
			err:  &net.DNSError{Err: "no such host", Name: "nope.invalid", IsNotFound: true},
			want: ErrHostNotFound,
		},
		{
			name: "dns timeout",
			err:  &net.DNSError{Err: "i/o timeout", Name: "slow.invalid", IsTimeout: true},
			want: ErrUpstreamTimeout,
		},
		{
			name: "connection refused",
			err:  &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)},
			want: ErrUpstreamConnectFailed,
		},
		{
			name: "host unreachable",
			err:  &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.EHOSTUNREACH)},
			want: ErrUpstreamConnectFailed,
		},
		{
			name: "context deadline",
			err:  context.DeadlineExceeded,
			want: ErrUpstreamTimeout,
		},
		{
			name: "syscall timeout",
			err:  &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ETIMEDOUT)},
			want: ErrUpstreamTimeout,
		},
		{
			name: "generic",
			err:  errors.New("boom"),
			want: ErrUpstreamConnectFailed,
		},
	}
	for _, tc := range cases {
		got := classifyDialError(tc.err)
		c.Assert(got.StatusCode, qt.Equals, tc.want.StatusCode, qt.Commentf("case %s", tc.name))
		c.Assert(got.Kind, qt.Equals, tc.want.Kind, qt.Commentf("case %s", tc.name))
	}

	c.Assert(classifyDialError(nil), qt.Equals, (*ProxyError)(nil))
}

func TestClassifyDialErrorConnectRejected(t *testing.T) {
	c := qt.New(t)

	err := &upstream.ConnectResponseError{StatusCode: 403, Status: "403 Forbidden"}
	got := classifyDialError(err)
	c.Assert(got.StatusCode, qt.Equals, http.StatusBadGateway)
}

func TestStatusFromPolicyError(t *testing.T) {
	c := qt.New(t)

	c.Assert(statusFromPolicyError(errors.New("plain")), qt.Equals, http.StatusInternalServerError)
	c.Assert(statusFromPolicyError(&ProxyError{StatusCode: 501, Kind: "X", Message: "y"}), qt.Equals, 501)
}

type statusErr struct{ code int }

func (e *statusErr) Error() string        { return "status error" }
func (e *statusErr) ProxyStatusCode() int { return e.code }

func TestStatusFromPolicyErrorCustomCarrier(t *testing.T) {
	c := qt.New(t)

	c.Assert(statusFromPolicyError(&statusErr{code: 418}), qt.Equals, 418)
}
