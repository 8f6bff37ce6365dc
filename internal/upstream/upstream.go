// Package upstream implements the outbound side of the proxy: validation of
// upstream proxy URLs and dialing of targets either directly or through an
// HTTP, HTTPS or SOCKS5 next-hop proxy.
package upstream

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/golang/groupcache/lru"

	"github.com/denisvmedia/go-proxychain/internal/helper"
)

// ErrInvalidProxyURL wraps all upstream URL validation failures.
var ErrInvalidProxyURL = errors.New("invalid upstream proxy URL")

// Upstream describes a validated next-hop proxy.
type Upstream struct {
	// Scheme is normalized: "http", "https" or "socks5" ("socks" is an
	// accepted alias for "socks5").
	Scheme string

	// Host is the proxy address as host:port.
	Host string

	// Hostname is the proxy host without the port, for TLS SNI.
	Hostname string

	Username string
	Password string
	HasAuth  bool
}

// TLS reports whether the hop to the proxy itself is TLS.
func (u *Upstream) TLS() bool { return u.Scheme == "https" }

// SOCKS reports whether the proxy speaks SOCKS5.
func (u *Upstream) SOCKS() bool { return u.Scheme == "socks5" }

var (
	parseCacheMu sync.Mutex
	parseCache   = lru.New(256)
)

// Parse validates a proxy URL per the upstream grammar:
// scheme://[user[:password]@]host:port with scheme in {http, https, socks,
// socks5}. Percent-encoding in credentials is decoded; a literal colon in
// the username is forbidden (it cannot be expressed in Basic or SOCKS5
// auth). Validation results are cached by URL string.
func Parse(u *url.URL) (*Upstream, error) {
	if u == nil {
		return nil, nil
	}
	key := u.String()

	parseCacheMu.Lock()
	if cached, ok := parseCache.Get(key); ok {
		parseCacheMu.Unlock()
		if err, isErr := cached.(error); isErr {
			return nil, err
		}
		return cached.(*Upstream), nil
	}
	parseCacheMu.Unlock()

	up, err := parse(u)

	parseCacheMu.Lock()
	if err != nil {
		parseCache.Add(key, err)
	} else {
		parseCache.Add(key, up)
	}
	parseCacheMu.Unlock()

	return up, err
}

func parse(u *url.URL) (*Upstream, error) {
	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "http", "https":
	case "socks", "socks5":
		scheme = "socks5"
	case "":
		return nil, fmt.Errorf("%w: missing scheme", ErrInvalidProxyURL)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q (must be http, https, socks or socks5)", ErrInvalidProxyURL, u.Scheme)
	}

	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidProxyURL)
	}
	if u.Port() == "" {
		return nil, fmt.Errorf("%w: missing port", ErrInvalidProxyURL)
	}

	up := &Upstream{
		Scheme:   scheme,
		Host:     helper.CanonicalAddr(u),
		Hostname: u.Hostname(),
	}
	if u.User != nil {
		up.HasAuth = true
		up.Username = u.User.Username()
		up.Password, _ = u.User.Password()
		if strings.Contains(up.Username, ":") {
			return nil, fmt.Errorf("%w: colon in username", ErrInvalidProxyURL)
		}
	}
	return up, nil
}
