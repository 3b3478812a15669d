package buildinfo

var (
	// GitCommit is set by govvv at build time.
	GitCommit = "n/a"
	// GitBranch  is set by govvv at build time.
	GitBranch = "n/a"
	// GitState  is set by govvv at build time.
	GitState = "n/a"
	// GitSummary is set by govvv at build time.
	GitSummary = "n/a"
	// BuildDate  is set by govvv at build time.
	BuildDate = "n/a"
	// Version  is set by govvv at build time.
	Version = "n/a"
)

// Summary is a snapshot of the build's git provenance, logged once at
// startup so operators can tell which commit an indexer process is running.
type Summary struct {
	GitCommit     string `json:"git_commit"`
	GitBranch     string `json:"git_branch"`
	GitState      string `json:"git_state"`
	GitSummary    string `json:"git_summary"`
	BuildDate     string `json:"build_date"`
	BinaryVersion string `json:"binary_version"`
}

// GetSummary returns a summary of git information.
func GetSummary() Summary {
	return Summary{
		GitCommit:     GitCommit,
		GitBranch:     GitBranch,
		GitState:      GitState,
		GitSummary:    GitSummary,
		BuildDate:     BuildDate,
		BinaryVersion: Version,
	}
}
