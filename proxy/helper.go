package proxy

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/samber/lo"
)

// teardownErrMsgs matches the errors ordinary connection teardown produces
// on the forward and tunnel paths: a peer resetting or closing mid-copy, a
// refused or reset dial, the idle-gate read deadline firing, sockets
// destroyed by Close(force), or an upstream response cut short.
var teardownErrMsgs = []string{
	"connection reset by peer",
	"broken pipe",
	"connection refused",
	"i/o timeout",
	"use of closed network connection",
	"unexpected EOF",
}

// logErr keeps teardown noise at debug level; anything else is unexpected.
func logErr(logger *slog.Logger, err error) {
	msg := err.Error()
	if lo.SomeBy(teardownErrMsgs, func(s string) bool {
		return strings.Contains(msg, s)
	}) {
		logger.Debug("connection teardown", "error", err)
		return
	}

	logger.Error("unexpected error", "error", err)
}

// writeProxyError writes a synthesized error response. For 407 responses the
// Proxy-Authenticate challenge is added with the configured realm.
func writeProxyError(w http.ResponseWriter, pe *ProxyError, authRealm string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Connection", "close")
	if pe.StatusCode == http.StatusProxyAuthRequired {
		w.Header().Set("Proxy-Authenticate", fmt.Sprintf("Basic realm=%q", authRealm))
	}
	w.WriteHeader(pe.StatusCode)
	fmt.Fprintln(w, pe.Message)
}
