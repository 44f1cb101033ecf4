// Package version provides version information for the pandaura binary.
package version

// Version is the fallback release version, used when ldflags are not set
// (e.g. go install).
const Version = "0.1.0"

// Get returns the version with "v" prefix.
func Get() string {
	return "v" + Version
}
