// Package registry tracks live client connections and assigns their ids.
package registry

import (
	"slices"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/atomic"

	"github.com/denisvmedia/go-proxychain/proxy/internal/conn"
)

// Registry stores one record per registered client connection. Ids are
// monotonically increasing positive integers, unique within one server
// instance. All methods are safe for concurrent use.
type Registry struct {
	nextID atomic.Uint64
	conns  *xsync.Map[uint64, *conn.ClientConn]
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		conns: xsync.NewMap[uint64, *conn.ClientConn](),
	}
}

// Register assigns the next id to c, stores the record and returns the id.
func (r *Registry) Register(c *conn.ClientConn) uint64 {
	id := r.nextID.Add(1)
	c.ID = id
	r.conns.Store(id, c)
	return id
}

// Remove drops the record for id. Stats queries for it return absent
// afterwards.
func (r *Registry) Remove(id uint64) {
	r.conns.Delete(id)
}

// Get returns the live record for id, if any.
func (r *Registry) Get(id uint64) (*conn.ClientConn, bool) {
	return r.conns.Load(id)
}

// IDs returns the ids of all live connections in ascending order.
func (r *Registry) IDs() []uint64 {
	ids := make([]uint64, 0, r.conns.Size())
	r.conns.Range(func(id uint64, _ *conn.ClientConn) bool {
		ids = append(ids, id)
		return true
	})
	slices.Sort(ids)
	return ids
}

// Stats returns a snapshot of the counters for id. The second return is
// false once the connection has closed (or for an id never registered).
func (r *Registry) Stats(id uint64) (conn.Stats, bool) {
	c, ok := r.conns.Load(id)
	if !ok {
		return conn.Stats{}, false
	}
	return c.Snapshot(), true
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	return r.conns.Size()
}

// Range calls fn for every live connection until fn returns false.
func (r *Registry) Range(fn func(*conn.ClientConn) bool) {
	r.conns.Range(func(_ uint64, c *conn.ClientConn) bool {
		return fn(c)
	})
}
