// Package version holds build metadata injected with -ldflags.
package version

var (
	Version = "dev"
	Commit  = "unknown"
)

// String formats the version for log lines and --version output.
func String() string {
	return Version + " (" + Commit + ")"
}
