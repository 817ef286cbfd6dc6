// Package svcfields attaches a consistent "subsystem" tag to log lines so
// that daemon, client, and callback-server logs can be filtered to a single
// moving part (e.g. "dispatch.watch" or "transport.server").
package svcfields

import (
	"strings"

	"pkt.systems/pslog"
)

// SubsystemKey is the structured-log key every subsystem tag is attached
// under.
const SubsystemKey = pslog.TrustedString("subsystem")

// Path joins non-empty name fragments into a dot-delimited subsystem path,
// e.g. Path("dispatch", "watch") -> "dispatch.watch".
func Path(parts ...string) string {
	filtered := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.Trim(part, ". ")
		if part != "" {
			filtered = append(filtered, part)
		}
	}
	return strings.Join(filtered, ".")
}

// Tag returns logger with a subsystem tag attached to every entry it emits.
// A nil logger becomes a no-op logger rather than panicking, so call sites
// that haven't wired a logger yet stay silent instead of crashing.
func Tag(logger pslog.Logger, subsystem string) pslog.Logger {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	subsystem = strings.Trim(subsystem, ". ")
	if subsystem == "" {
		return logger
	}
	return logger.With(SubsystemKey, subsystem)
}
