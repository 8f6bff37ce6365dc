package registry_test

import (
	"sync"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/denisvmedia/go-proxychain/proxy/internal/conn"
	"github.com/denisvmedia/go-proxychain/proxy/internal/registry"
)

func newRecord() *conn.ClientConn {
	return conn.NewClientConn(nil, nil, false)
}

func TestRegisterAssignsMonotonicIDs(t *testing.T) {
	c := qt.New(t)
	r := registry.New()

	first := r.Register(newRecord())
	second := r.Register(newRecord())
	third := r.Register(newRecord())

	c.Assert(first, qt.Equals, uint64(1))
	c.Assert(second, qt.Equals, uint64(2))
	c.Assert(third, qt.Equals, uint64(3))
	c.Assert(r.IDs(), qt.DeepEquals, []uint64{1, 2, 3})
}

func TestStatsAbsentAfterRemove(t *testing.T) {
	c := qt.New(t)
	r := registry.New()

	id := r.Register(newRecord())
	_, ok := r.Stats(id)
	c.Assert(ok, qt.IsTrue)

	r.Remove(id)
	_, ok = r.Stats(id)
	c.Assert(ok, qt.IsFalse)
	c.Assert(r.IDs(), qt.HasLen, 0)

	// Ids are never reused.
	next := r.Register(newRecord())
	c.Assert(next, qt.Equals, id+1)
}

func TestStatsUnknownID(t *testing.T) {
	c := qt.New(t)
	r := registry.New()

	_, ok := r.Stats(42)
	c.Assert(ok, qt.IsFalse)
}

func TestConcurrentRegister(t *testing.T) {
	c := qt.New(t)
	r := registry.New()

	const n = 100
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			r.Register(newRecord())
		}()
	}
	wg.Wait()

	ids := r.IDs()
	c.Assert(ids, qt.HasLen, n)
	seen := make(map[uint64]bool, n)
	for _, id := range ids {
		c.Assert(seen[id], qt.IsFalse)
		seen[id] = true
	}
	c.Assert(r.Len(), qt.Equals, n)
}
