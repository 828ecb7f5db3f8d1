package version

// Version is the current version of roomlink.
// This value can be overridden at build time using:
//
//	go build -ldflags="-X 'github.com/BioHazard786/roomlink/internal/version.Version=v1.0.0'"
var Version = "dev"

// Get returns the version string reported to peers and printed by the CLI.
func Get() string {
	return Version
}
