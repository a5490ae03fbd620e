// Package version carries build identity, overridden at link time via
// -ldflags "-X github.com/haptic-data/touch.report/internal/version.Version=...".
package version

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String renders the build identity in the form the status endpoints report.
func String() string {
	return Version + " (" + GitSHA + ", " + BuildTime + ")"
}
