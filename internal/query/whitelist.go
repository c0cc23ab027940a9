package query

import "slices"

var allowedVerbs = []string{
	"get",
	"describe",
	"logs",
	"top",
	"explain",
	"api-resources",
	"api-versions",
	"cluster-info",
}

// IsAllowedVerb reports whether verb may be passed to the cluster CLI.
// Matching is exact; kubectl verbs are lower case.
func IsAllowedVerb(verb string) bool {
	return slices.Contains(allowedVerbs, verb)
}

func AllowedVerbs() []string {
	return slices.Clone(allowedVerbs)
}
