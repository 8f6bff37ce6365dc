// Package version exposes the build identity of a go-proxychain binary.
package version

import "fmt"

// Injected via ldflags, e.g.:
//
//	-X github.com/denisvmedia/go-proxychain/version.Version=x.y.z
//	-X github.com/denisvmedia/go-proxychain/version.Commit=abc123
//	-X github.com/denisvmedia/go-proxychain/version.Date=2024-01-01T00:00:00Z
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info bundles the build identity so embedders can log or expose it as one
// value.
type Info struct {
	Version string
	Commit  string
	Date    string
}

// Current returns the build info of this binary.
func Current() Info {
	return Info{Version: Version, Commit: Commit, Date: Date}
}

func (i Info) String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", i.Version, i.Commit, i.Date)
}

// String formats the current build info for CLI --version output.
func String() string {
	return Current().String()
}
