package secretscanning

// Finding is a single candidate secret reported by the detection engine for
// one file at one commit. Findings are ephemeral: they are converted into a
// Risk and never persisted as-is.
type Finding struct {
	RuleID      string
	Description string
	Match       string
	Secret      string
	File        string
	StartLine   int
	EndLine     int
	StartColumn int
	EndColumn   int
	Entropy     float64
	Tags        []string

	// Commit metadata. The scanner only sees file content, so these are bound
	// by the caller with BindCommit.
	CommitID      string
	CommitMessage string
	AuthorName    string
	AuthorEmail   string
}

// BindCommit returns a copy of f attributed to the given commit and file path.
func (f Finding) BindCommit(c Commit, path string) Finding {
	f.CommitID = c.ID
	f.CommitMessage = c.Message
	f.AuthorName = c.Author.Name
	f.AuthorEmail = c.Author.Email
	f.File = path
	return f
}
