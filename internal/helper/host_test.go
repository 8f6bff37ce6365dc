package helper_test

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/denisvmedia/go-proxychain/internal/helper"
)

func TestMatchHost(t *testing.T) {
	c := qt.New(t)

	hosts := []string{
		"www.example.com:443",
		"www.example.com",
		"www.example.org",
	}

	// Exact match with port
	c.Assert(helper.MatchHost("www.example.com:443", hosts), qt.IsTrue)

	// Exact match, port in address but not in pattern
	c.Assert(helper.MatchHost("www.example.org:80", hosts), qt.IsTrue)

	// No match
	c.Assert(helper.MatchHost("www.other.com:80", hosts), qt.IsFalse)

	// Wildcard match
	wildcard := []string{"*.example.com"}
	c.Assert(helper.MatchHost("api.example.com:443", wildcard), qt.IsTrue)
	c.Assert(helper.MatchHost("example.com:443", wildcard), qt.IsFalse)

	// Empty pattern list never matches
	c.Assert(helper.MatchHost("www.example.com", nil), qt.IsFalse)
}
