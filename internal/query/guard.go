package query

import "regexp"

// injectionPatterns is a heuristic denylist, checked in order. It is not a
// parser and misses plenty; it only has to stop the obvious shapes.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)\bdrop\s+table\b`),
	regexp.MustCompile(`(?is)\bdrop\s+database\b`),
	regexp.MustCompile(`(?is)\bdelete\s+from\b.*\bwhere\s+(?:1\s*=\s*1\b|'1'\s*=\s*'1')`),
	regexp.MustCompile(`(?is)\bunion\b(?:\s+all)?.*\bselect\b`),
}

func IsSuspicious(statement string) bool {
	for _, pattern := range injectionPatterns {
		if pattern.MatchString(statement) {
			return true
		}
	}
	return false
}
