// Package buildinfo exposes the version string baked in at link time.
package buildinfo

// Version is overridden at build time via -ldflags "-X wgproxy/internal/buildinfo.Version=...".
var Version = "dev"
