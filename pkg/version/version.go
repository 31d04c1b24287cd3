// Package version provides build and version information for ghgmatch.
package version

// Version is the current version of ghgmatch. Set via ldflags at build
// time, or defaults to dev.
var Version = "dev"

// Commit is the git commit hash, set via ldflags at build time.
var Commit = "unknown"
