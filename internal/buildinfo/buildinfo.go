// Package buildinfo exposes the version metadata stamped into the binary.
package buildinfo

import (
	"runtime/debug"
	"strings"
	"time"
)

// Set at link time via -ldflags "-X github.com/ejohane/maestro-sub001/internal/buildinfo.Version=...".
var (
	Version    = "0.1.0"
	CommitHash = ""
	BuildDate  = ""
)

// Info is the normalized build metadata shown by maestro version.
type Info struct {
	Version    string
	CommitHash string
	BuildDate  string
}

// Current merges the linker-stamped values with whatever the Go toolchain
// recorded about the build. Explicit stamps win; missing fields fall back
// to the embedded vcs settings and finally to "unknown".
func Current() Info {
	info := Info{
		Version:    strings.TrimSpace(Version),
		CommitHash: strings.TrimSpace(CommitHash),
		BuildDate:  strings.TrimSpace(BuildDate),
	}

	if info.Version == "" || info.Version == "0.1.0" {
		if v := moduleVersion(); v != "" {
			info.Version = v
		}
	}

	rev, at, dirty := vcsInfo()
	if info.CommitHash == "" {
		info.CommitHash = rev
		if dirty && info.CommitHash != "" && !strings.HasSuffix(info.CommitHash, "-dirty") {
			info.CommitHash += "-dirty"
		}
	}
	if info.BuildDate == "" {
		info.BuildDate = at
	}
	if t, err := time.Parse(time.RFC3339, info.BuildDate); err == nil {
		info.BuildDate = t.UTC().Format("2006-01-02 15:04:05 UTC")
	}

	for _, field := range []*string{&info.Version, &info.CommitHash, &info.BuildDate} {
		if *field == "" {
			*field = "unknown"
		}
	}
	return info
}

// moduleVersion returns the main module version when the binary was built
// from a released module, empty otherwise.
func moduleVersion() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi.Main.Version == "" || bi.Main.Version == "(devel)" {
		return ""
	}
	return bi.Main.Version
}

// vcsInfo reads the vcs settings the Go toolchain embeds into binaries
// built inside a git checkout.
func vcsInfo() (revision, at string, dirty bool) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "", "", false
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = strings.TrimSpace(s.Value)
		case "vcs.time":
			at = strings.TrimSpace(s.Value)
		case "vcs.modified":
			dirty = strings.EqualFold(strings.TrimSpace(s.Value), "true")
		}
	}
	return revision, at, dirty
}
