package secretscanning

import (
	"bufio"
	"bytes"
	"strings"
)

// DefaultSuppressionFile is the repository-root file listing fingerprints to
// treat as false positives.
const DefaultSuppressionFile = ".infisicalignore"

// ParseSuppressionFile extracts the fingerprints listed in a suppression file.
// Lines are trimmed, blank lines and lines starting with '#' are skipped and
// duplicates are collapsed, preserving first-seen order.
func ParseSuppressionFile(content []byte) []string {
	var (
		seen    = make(map[string]struct{})
		entries []string
	)

	sc := bufio.NewScanner(bytes.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		entries = append(entries, line)
	}

	return entries
}
