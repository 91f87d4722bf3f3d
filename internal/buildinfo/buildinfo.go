// Package buildinfo exposes version metadata injected at build time via ldflags.
package buildinfo

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)
