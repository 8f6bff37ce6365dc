package proxy

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// credentials are the decoded Proxy-Authorization basic credentials. Both
// fields may be empty: an empty username with an empty password is a valid
// credential pair.
type credentials struct {
	Username string
	Password string
}

// parseProxyAuthorization decodes a Proxy-Authorization header value.
// Decoding is best-effort: an absent or malformed header (wrong scheme, bad
// base64, no colon) yields empty credentials. The policy callback is the
// sole authority on rejecting credentials; the core never refuses a request
// over the header itself. Everything after the first colon is the password,
// so passwords may themselves contain colons.
func parseProxyAuthorization(header string) credentials {
	if header == "" {
		return credentials{}
	}

	// Expect "<scheme> <base64>"; scheme is case-insensitive per RFC.
	fields := strings.Fields(header)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "Basic") {
		return credentials{}
	}
	decoded, err := base64.StdEncoding.DecodeString(fields[1])
	if err != nil {
		return credentials{}
	}

	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return credentials{}
	}
	return credentials{Username: username, Password: password}
}

// StaticCredentials maps usernames to passwords for policy callbacks that
// authenticate against a fixed list.
type StaticCredentials map[string]string

// ParseStaticCredentials parses a "user:pass|user2:pass2" list. Passwords
// may contain colons.
func ParseStaticCredentials(s string) (StaticCredentials, error) {
	sc := make(StaticCredentials)
	for _, pair := range strings.Split(s, "|") {
		username, password, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("invalid credential pair %q, want user:pass", pair)
		}
		sc[username] = password
	}
	return sc, nil
}

// Valid reports whether the pair matches a configured user.
func (sc StaticCredentials) Valid(username, password string) bool {
	want, ok := sc[username]
	return ok && want == password
}
