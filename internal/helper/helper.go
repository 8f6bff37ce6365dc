package helper

import (
	"net"
	"net/url"
)

var portMap = map[string]string{
	"http":   "80",
	"https":  "443",
	"socks":  "1080",
	"socks5": "1080",
}

// CanonicalAddr returns url.Host but always with a ":port" suffix.
func CanonicalAddr(u *url.URL) string {
	port := u.Port()
	if port == "" {
		port = portMap[u.Scheme]
	}
	return net.JoinHostPort(u.Hostname(), port)
}

// RedactURL returns the URL as a string with any password replaced by
// "<redacted>". Meant for log output; the original URL is not modified.
func RedactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	if u.User != nil {
		if _, has := u.User.Password(); has {
			redacted := *u
			redacted.User = url.UserPassword(u.User.Username(), "<redacted>")
			return redacted.String()
		}
	}
	return u.String()
}

// SplitHostPort splits a "host:port" address, defaulting the port to
// defaultPort when the address carries none.
func SplitHostPort(address, defaultPort string) (host, port string) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return address, defaultPort
	}
	if port == "" {
		port = defaultPort
	}
	return host, port
}
