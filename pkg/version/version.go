// Package version provides version metadata for the application.
package version

import (
	"fmt"
	"runtime"
)

// These variables are injected at build time using -ldflags.
var (
	// Version holds the current version of bookforge.
	Version = "dev"
	// Commit holds the git commit the binary was built from.
	Commit = "none"
	// BuildDate holds the build date.
	BuildDate = "unknown"
)

// Struct returns version information in a structured format.
type Struct struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

// Info returns a formatted version string.
func Info() string {
	return fmt.Sprintf("bookforge %s (commit: %s, date: %s)", Version, Commit, BuildDate)
}

// Get returns version information as a Struct.
func Get() Struct {
	return Struct{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}
