// Package versions
package versions

var (
	// Version holds the Stagehand version. Set at compile time via ldflags.
	Version = "v0.0.0"
)
