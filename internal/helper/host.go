package helper

import (
	"net"

	"github.com/samber/lo"
	"github.com/tidwall/match"
)

// MatchHost reports whether the given address (a host or host:port) matches
// any of the patterns. Patterns may contain "*" wildcards, e.g. "*.example.com",
// and may themselves carry a port ("www.example.com:443").
func MatchHost(address string, patterns []string) bool {
	host := address
	if h, _, err := net.SplitHostPort(address); err == nil {
		host = h
	}
	return lo.SomeBy(patterns, func(pattern string) bool {
		return match.Match(address, pattern) || match.Match(host, pattern)
	})
}
