package conn_test

import (
	"io"
	"net"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/denisvmedia/go-proxychain/proxy/internal/conn"
)

func pipeConns(t *testing.T) (client, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	done := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			done <- nil
			return
		}
		done <- c
	}()
	client, err = net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	server = <-done
	if server == nil {
		t.Fatal("accept failed")
	}
	t.Cleanup(func() { client.Close(); server.Close() })
	return client, server
}

func TestTrackedConnCounts(t *testing.T) {
	c := qt.New(t)
	client, server := pipeConns(t)

	tracked := conn.NewTrackedConn(server)
	go func() {
		client.Write([]byte("12345"))
	}()

	buf := make([]byte, 5)
	_, err := io.ReadFull(tracked, buf)
	c.Assert(err, qt.IsNil)
	c.Assert(tracked.BytesRead(), qt.Equals, int64(5))

	_, err = tracked.Write([]byte("abc"))
	c.Assert(err, qt.IsNil)
	c.Assert(tracked.BytesWritten(), qt.Equals, int64(3))
}

func TestClientConnSnapshot(t *testing.T) {
	c := qt.New(t)
	client, server := pipeConns(t)

	raw := conn.NewTrackedConn(server)
	cc := conn.NewClientConn(raw, raw, false)
	cc.MarkReady()

	go func() {
		client.Write([]byte("req"))
	}()
	buf := make([]byte, 3)
	_, err := io.ReadFull(cc, buf)
	c.Assert(err, qt.IsNil)
	_, err = cc.Write([]byte("resp!"))
	c.Assert(err, qt.IsNil)

	stats := cc.Snapshot()
	c.Assert(stats.SrcRxBytes, qt.Equals, int64(3))
	c.Assert(stats.SrcTxBytes, qt.Equals, int64(5))
	c.Assert(stats.TargetDialed, qt.IsFalse)
}

func TestClientConnTargetAccumulatesAcrossDials(t *testing.T) {
	c := qt.New(t)
	client, server := pipeConns(t)
	defer client.Close()

	raw := conn.NewTrackedConn(server)
	cc := conn.NewClientConn(raw, raw, false)
	cc.MarkReady()

	// Two target dials on the same client connection; counters accumulate.
	t1client, t1server := pipeConns(t)
	go io.Copy(io.Discard, t1server)
	tc1 := cc.TrackTarget(t1client)
	tc1.Write([]byte("first"))

	t2client, t2server := pipeConns(t)
	go io.Copy(io.Discard, t2server)
	tc2 := cc.TrackTarget(t2client)
	tc2.Write([]byte("second!"))

	stats := cc.Snapshot()
	c.Assert(stats.TargetDialed, qt.IsTrue)
	c.Assert(stats.TrgTxBytes, qt.Equals, int64(len("first")+len("second!")))
}

func TestClientConnCloseIdempotent(t *testing.T) {
	c := qt.New(t)
	_, server := pipeConns(t)

	raw := conn.NewTrackedConn(server)
	cc := conn.NewClientConn(raw, raw, false)

	closed := 0
	cc.OnClose(func(*conn.ClientConn) { closed++ })

	c.Assert(cc.Close(), qt.IsNil)
	c.Assert(cc.Close(), qt.IsNil)
	c.Assert(closed, qt.Equals, 1)

	select {
	case <-cc.CloseChan:
	default:
		c.Fatal("CloseChan should be closed")
	}
}

func TestClientConnCloseClosesTarget(t *testing.T) {
	c := qt.New(t)
	_, server := pipeConns(t)
	tclient, tserver := pipeConns(t)

	raw := conn.NewTrackedConn(server)
	cc := conn.NewClientConn(raw, raw, false)
	cc.TrackTarget(tclient)

	c.Assert(cc.Close(), qt.IsNil)

	// The target side observes EOF once the client connection closes.
	tserver.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err := tserver.Read(buf)
	c.Assert(err, qt.Not(qt.IsNil))
}

func TestClientConnFallbackToAppBytes(t *testing.T) {
	c := qt.New(t)
	_, server := pipeConns(t)

	raw := conn.NewTrackedConn(server)
	cc := conn.NewClientConn(raw, raw, false)
	c.Assert(cc.RawUsable(), qt.IsTrue)

	cc.FallbackToAppBytes()
	c.Assert(cc.RawUsable(), qt.IsFalse)

	// No raw reference at all: never usable.
	cc2 := conn.NewClientConn(server, nil, true)
	c.Assert(cc2.RawUsable(), qt.IsFalse)
}

func TestStatsAtLeast(t *testing.T) {
	c := qt.New(t)

	earlier := conn.Stats{SrcRxBytes: 1, SrcTxBytes: 2, TrgRxBytes: 3, TrgTxBytes: 4}
	later := conn.Stats{SrcRxBytes: 5, SrcTxBytes: 2, TrgRxBytes: 3, TrgTxBytes: 9}
	c.Assert(later.AtLeast(earlier), qt.IsTrue)
	c.Assert(earlier.AtLeast(later), qt.IsFalse)
}
