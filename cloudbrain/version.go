package cloudbrain

var (
	// VersionString is the git describe version set at build time.
	VersionString = "?"
	// RevisionString is the git revision set at build time.
	RevisionString = "?"
	// CopyrightString is the copyright set at build time.
	CopyrightString = "?"
)
