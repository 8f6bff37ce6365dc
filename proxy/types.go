package proxy

import (
	"github.com/denisvmedia/go-proxychain/proxy/internal/conn"
)

// Re-export types from internal packages for external use.

type (
	// Stats is a snapshot of a connection's byte counters.
	Stats = conn.Stats

	// ClientConn represents one accepted client connection.
	ClientConn = conn.ClientConn
)
