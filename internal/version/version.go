// Package version reports apteryxd's build version, falling back to
// whatever the Go toolchain embedded in the binary when no explicit
// version was linked in.
package version

import (
	"runtime/debug"
	"strings"
)

const defaultModule = "github.com/isaac129/apteryx"

// buildVersion is set via -ldflags "-X .../internal/version.buildVersion=...".
var buildVersion = ""

// Current returns the best available version string.
func Current() string {
	if strings.TrimSpace(buildVersion) != "" {
		return buildVersion
	}
	info, ok := debug.ReadBuildInfo()
	if ok {
		if v := strings.TrimSpace(info.Main.Version); v != "" && v != "(devel)" {
			return v
		}
	}
	return "v0.0.0-unknown"
}

// Module returns the module path recorded in build info, falling back to
// the path this package was compiled under.
func Module() string {
	info, ok := debug.ReadBuildInfo()
	if ok {
		if path := strings.TrimSpace(info.Main.Path); path != "" {
			return path
		}
	}
	return defaultModule
}
