package version

// Set at build time with -ldflags "-X fleetssh/version.Version=...".
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)
