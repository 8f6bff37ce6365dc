package version

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestInfoString(t *testing.T) {
	c := qt.New(t)

	info := Info{Version: "1.2.3", Commit: "deadbeef", Date: "2024-06-01T00:00:00Z"}
	c.Assert(info.String(), qt.Equals, "1.2.3 (commit deadbeef, built 2024-06-01T00:00:00Z)")
}

func TestCurrentReflectsPackageVars(t *testing.T) {
	c := qt.New(t)

	info := Current()
	c.Assert(info.Version, qt.Equals, Version)
	c.Assert(info.Commit, qt.Equals, Commit)
	c.Assert(info.Date, qt.Equals, Date)
	c.Assert(String(), qt.Equals, info.String())
}

func TestDefaultsAreSet(t *testing.T) {
	c := qt.New(t)

	// Without ldflags the package still reports a usable identity.
	c.Assert(Version, qt.Not(qt.Equals), "")
	c.Assert(Commit, qt.Not(qt.Equals), "")
	c.Assert(Date, qt.Not(qt.Equals), "")
}
