// Package version carries the build metadata injected with -ldflags -X.
package version

import "fmt"

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info returns version, commit and build date.
func Info() (string, string, string) {
	return Version, GitCommit, BuildDate
}

// UserAgent identifies bpvoice in outgoing HTTP requests.
func UserAgent() string {
	return fmt.Sprintf("bpvoice/%s (%s)", Version, GitCommit)
}
