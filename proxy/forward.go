package proxy

import (
	"bufio"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/samber/lo"

	"github.com/denisvmedia/go-proxychain/internal/helper"
	"github.com/denisvmedia/go-proxychain/internal/upstream"
)

// hopByHopHeaders is the closed set of headers valid only on a single
// transport link. They are stripped from requests before forwarding and
// from responses before relaying. Host is not in the set and is preserved.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// stripHopByHopHeaders removes the closed set plus any header named in the
// Connection header value list. Repeated end-to-end headers keep their
// separate values.
func stripHopByHopHeaders(header http.Header) {
	if header == nil {
		return
	}
	for _, connHeaders := range header.Values("Connection") {
		for _, h := range strings.Split(connHeaders, ",") {
			if h = strings.TrimSpace(h); h != "" {
				header.Del(h)
			}
		}
	}
	lo.ForEach(hopByHopHeaders, func(h string, _ int) {
		header.Del(h)
	})
}

// copyEndToEndHeaders copies only end-to-end headers from src to dst.
func copyEndToEndHeaders(dst, src http.Header) {
	headers := src.Clone()
	stripHopByHopHeaders(headers)
	for k, vv := range headers {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// handleForward proxies one plain-HTTP absolute-URI exchange: it rewrites
// the request line, strips hop-by-hop headers, streams the request body to
// the dialed stream and streams the response back. Bodies are never
// buffered in full.
//
// Dial selection: with no upstream the target is dialed directly and the
// request is written in relative-URI form; through an HTTP(S) upstream the
// absolute form is kept (with Proxy-Authorization for upstream
// credentials); through SOCKS5 the stream already terminates at the target,
// so the relative form is used again.
func (e *entry) handleForward(w http.ResponseWriter, req *http.Request, logger *slog.Logger, dialer *upstream.Dialer) {
	s := e.proxy

	outReq := req.Clone(req.Context())
	outReq.RequestURI = ""
	// Do not propagate client-side close semantics to the target.
	outReq.Close = false
	stripHopByHopHeaders(outReq.Header)
	if _, ok := outReq.Header["User-Agent"]; !ok {
		// Suppress the net/http default; the proxy adds nothing of its own.
		outReq.Header.Set("User-Agent", "")
	}

	targetAddr := helper.CanonicalAddr(req.URL)

	tconn, absoluteURI, err := dialer.DialForward(req.Context(), targetAddr)
	if err != nil {
		logErr(logger, err)
		s.failRequest(w, req, classifyDialError(err))
		return
	}
	defer tconn.Close()

	if absoluteURI {
		if auth := dialer.ProxyAuthorization(); auth != "" {
			outReq.Header.Set("Proxy-Authorization", auth)
		}
		err = outReq.WriteProxy(tconn)
	} else {
		err = outReq.Write(tconn)
	}
	if err != nil {
		logErr(logger, err)
		s.failRequest(w, req, classifyDialError(err))
		return
	}

	br := bufio.NewReader(tconn)
	resp, err := http.ReadResponse(br, outReq)
	if err != nil {
		logErr(logger, err)
		s.failRequest(w, req, ErrMalformedUpstreamResponse)
		return
	}
	defer resp.Body.Close()

	copyEndToEndHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		// The response head is already on the wire; no status can be
		// synthesized. Abort the client connection so a truncated body is
		// not mistaken for a complete one.
		logErr(logger, err)
		panic(http.ErrAbortHandler)
	}
}
