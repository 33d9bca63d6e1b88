package domain

import "strings"

// Dimension picks which country of a submission is counted: the place it is
// about (subject) or where its author is from (origin).
type Dimension string

const (
	DimensionSubject Dimension = "subject"
	DimensionOrigin  Dimension = "origin"
)

// ParseDimension accepts the canonical names plus the "stories" and
// "people" aliases used by older clients. Empty input means subject.
func ParseDimension(s string) (Dimension, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "subject", "stories":
		return DimensionSubject, true
	case "origin", "people":
		return DimensionOrigin, true
	}
	return "", false
}

// Column is the submissions column holding the country for d.
func (d Dimension) Column() string {
	if d == DimensionOrigin {
		return "author_country_code"
	}
	return "country_code"
}
