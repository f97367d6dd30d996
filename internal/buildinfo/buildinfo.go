package buildinfo

import "fmt"

// Set at build time via -ldflags "-X".
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func String() string {
	return fmt.Sprintf("opgecanceld %s (commit=%s, date=%s)", Version, Commit, Date)
}
