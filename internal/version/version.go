// Package version contains build version information. The variables are
// set at build time via -ldflags "-X".
package version

import "runtime"

var (
	// Version is the release version.
	Version = "0.0.0-dev"
	// GitCommit is the git commit hash.
	GitCommit = "unknown"
	// BuildDate is the build date in RFC 3339.
	BuildDate = "unknown"
)

// Info describes the running build.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// Get returns the build information.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
	}
}

// String formats the build information for humans.
func (i Info) String() string {
	return i.Version + " (" + i.Commit + ", built " + i.BuildDate + ", " + i.GoVersion + ")"
}
