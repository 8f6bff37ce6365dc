package tunnel_test

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/denisvmedia/go-proxychain/proxy"
	"github.com/denisvmedia/go-proxychain/tunnel"
)

func startProxyServer(t *testing.T) *proxy.Server {
	t.Helper()
	server, err := proxy.NewServer(proxy.Options{Host: "127.0.0.1"})
	if err != nil {
		t.Fatal(err)
	}
	if err := server.Listen(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { server.Close(true) })
	return server
}

func TestCreateValidation(t *testing.T) {
	c := qt.New(t)

	_, err := tunnel.Create("socks5://127.0.0.1:1080", "example.com:80")
	c.Assert(err, qt.ErrorIs, tunnel.ErrSOCKSNotSupported)

	_, err = tunnel.Create("ftp://127.0.0.1:21", "example.com:80")
	c.Assert(err, qt.Not(qt.IsNil))

	_, err = tunnel.Create("http://127.0.0.1:8000", "example.com")
	c.Assert(err, qt.ErrorMatches, ".*host:port.*")

	_, err = tunnel.Create("://bad", "example.com:80")
	c.Assert(err, qt.Not(qt.IsNil))
}

func TestTunnelForwardsToTarget(t *testing.T) {
	c := qt.New(t)

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("via tunnel"))
	}))
	t.Cleanup(origin.Close)
	targetAddr := origin.Listener.Addr().String()

	server := startProxyServer(t)
	tun, err := tunnel.Create("http://"+net.JoinHostPort("127.0.0.1", portOf(server)), targetAddr)
	c.Assert(err, qt.IsNil)
	t.Cleanup(func() { tun.Close(true) })

	// Connecting to the local tunnel reaches the target through the proxy.
	conn, err := net.Dial("tcp", tun.Addr)
	c.Assert(err, qt.IsNil)
	defer conn.Close()

	_, err = conn.Write([]byte("GET /anything HTTP/1.1\r\nHost: " + targetAddr + "\r\nConnection: close\r\n\r\n"))
	c.Assert(err, qt.IsNil)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	c.Assert(err, qt.IsNil)
	body, err := io.ReadAll(resp.Body)
	c.Assert(err, qt.IsNil)
	c.Assert(string(body), qt.Equals, "via tunnel")
}

func TestTunnelClose(t *testing.T) {
	c := qt.New(t)

	server := startProxyServer(t)
	tun, err := tunnel.Create("http://"+net.JoinHostPort("127.0.0.1", portOf(server)), "127.0.0.1:80")
	c.Assert(err, qt.IsNil)

	c.Assert(tun.Close(false), qt.IsNil)
	// Idempotent.
	c.Assert(tun.Close(true), qt.IsNil)

	_, err = net.Dial("tcp", tun.Addr)
	c.Assert(err, qt.Not(qt.IsNil))
}

func portOf(server *proxy.Server) string {
	return strconv.Itoa(server.Port())
}
