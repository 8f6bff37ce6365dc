package proxy

import (
	"encoding/base64"
	"testing"

	qt "github.com/frankban/quicktest"
)

func basic(cred string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(cred))
}

func TestParseProxyAuthorization(t *testing.T) {
	c := qt.New(t)

	creds := parseProxyAuthorization(basic("user:pass"))
	c.Assert(creds.Username, qt.Equals, "user")
	c.Assert(creds.Password, qt.Equals, "pass")
}

func TestParseProxyAuthorizationColonInPassword(t *testing.T) {
	c := qt.New(t)

	// Everything after the first colon is the password.
	creds := parseProxyAuthorization(basic("user:pa:ss:word"))
	c.Assert(creds.Username, qt.Equals, "user")
	c.Assert(creds.Password, qt.Equals, "pa:ss:word")
}

func TestParseProxyAuthorizationEmptyCredentials(t *testing.T) {
	c := qt.New(t)

	// Empty username and empty password are valid.
	creds := parseProxyAuthorization(basic(":"))
	c.Assert(creds.Username, qt.Equals, "")
	c.Assert(creds.Password, qt.Equals, "")
}

func TestParseProxyAuthorizationAbsent(t *testing.T) {
	c := qt.New(t)

	c.Assert(parseProxyAuthorization(""), qt.Equals, credentials{})
}

func TestParseProxyAuthorizationMalformed(t *testing.T) {
	c := qt.New(t)

	// Malformed headers decode to empty credentials; whether those are
	// acceptable is the policy callback's call, not the parser's.
	cases := []string{
		"Bearer abcdef",
		"Basic",
		"Basic not-base64!!!",
		basic("no-colon"),
	}
	for _, header := range cases {
		c.Assert(parseProxyAuthorization(header), qt.Equals, credentials{}, qt.Commentf("header %q", header))
	}
}

func TestParseProxyAuthorizationSchemeCaseInsensitive(t *testing.T) {
	c := qt.New(t)

	creds := parseProxyAuthorization("basic " + base64.StdEncoding.EncodeToString([]byte("u:p")))
	c.Assert(creds.Username, qt.Equals, "u")
}

func TestParseStaticCredentials(t *testing.T) {
	c := qt.New(t)

	sc, err := ParseStaticCredentials("user:pass|other:pa:ss")
	c.Assert(err, qt.IsNil)
	c.Assert(sc.Valid("user", "pass"), qt.IsTrue)
	c.Assert(sc.Valid("other", "pa:ss"), qt.IsTrue)
	c.Assert(sc.Valid("user", "wrong"), qt.IsFalse)
	c.Assert(sc.Valid("unknown", "pass"), qt.IsFalse)
}

func TestParseStaticCredentialsInvalid(t *testing.T) {
	c := qt.New(t)

	_, err := ParseStaticCredentials("no-colon")
	c.Assert(err, qt.ErrorMatches, ".*user:pass.*")
}
