package version

import "fmt"

// Set at build time with -ldflags "-X github.com/yegors/co-scribe/internal/version.Version=..."
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Full returns the version line printed by --version
func Full() string {
	return fmt.Sprintf("co-scribe %s, commit %s, built at %s", Version, Commit, Date)
}
