package proxy

import (
	"net/http"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestStripHopByHopHeaders(t *testing.T) {
	c := qt.New(t)

	header := http.Header{}
	header.Set("Connection", "keep-alive, X-Custom-Hop")
	header.Set("Keep-Alive", "timeout=5")
	header.Set("Proxy-Authorization", "Basic abc")
	header.Set("Proxy-Connection", "keep-alive")
	header.Set("TE", "trailers")
	header.Set("Trailer", "Expires")
	header.Set("Transfer-Encoding", "chunked")
	header.Set("Upgrade", "websocket")
	header.Set("X-Custom-Hop", "1")
	header.Set("Host", "example.com")
	header.Set("Accept", "text/html")
	header.Add("X-Repeated", "one")
	header.Add("X-Repeated", "two")

	stripHopByHopHeaders(header)

	for _, name := range hopByHopHeaders {
		c.Assert(header.Get(name), qt.Equals, "", qt.Commentf("header %s", name))
	}
	// Names listed in Connection are stripped too.
	c.Assert(header.Get("X-Custom-Hop"), qt.Equals, "")

	// End-to-end headers survive; repeated values stay separate.
	c.Assert(header.Get("Host"), qt.Equals, "example.com")
	c.Assert(header.Get("Accept"), qt.Equals, "text/html")
	c.Assert(header.Values("X-Repeated"), qt.DeepEquals, []string{"one", "two"})
}

func TestStripHopByHopHeadersNil(t *testing.T) {
	qt.New(t) // must not panic
	stripHopByHopHeaders(nil)
}

func TestCopyEndToEndHeaders(t *testing.T) {
	c := qt.New(t)

	src := http.Header{}
	src.Set("Content-Type", "application/json")
	src.Set("Connection", "close")
	src.Set("Keep-Alive", "timeout=5")

	dst := http.Header{}
	copyEndToEndHeaders(dst, src)

	c.Assert(dst.Get("Content-Type"), qt.Equals, "application/json")
	c.Assert(dst.Get("Connection"), qt.Equals, "")
	c.Assert(dst.Get("Keep-Alive"), qt.Equals, "")

	// Source is not modified.
	c.Assert(src.Get("Connection"), qt.Equals, "close")
}
