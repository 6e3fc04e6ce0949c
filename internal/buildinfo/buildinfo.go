// Package buildinfo carries build metadata stamped in at link time.
package buildinfo

import "fmt"

// Set via -ldflags, e.g.
//
//	go build -ldflags "-X github.com/prospectbase/deployctl/internal/buildinfo.Version=v1.2.0"
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// ShortCommit returns the first seven characters of the commit hash.
func ShortCommit() string {
	if len(Commit) > 7 {
		return Commit[:7]
	}
	return Commit
}

// String renders the build metadata as a one-line description.
func String() string {
	return fmt.Sprintf("deployctl %s (commit %s, built %s)", Version, ShortCommit(), BuildDate)
}
