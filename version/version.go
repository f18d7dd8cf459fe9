package version

var (
	// Version can also be set through tag release at build time
	semver   = "0.1.0"
	revision = "unknown"
)

// Get returns the semantic version injected at build time on tag release.
func Get() string {
	return semver
}

func Commit() string {
	return revision
}
