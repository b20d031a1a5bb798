// Package risk defines the risk levels shared by policy matching, template
// parsing and reconciliation.
package risk

import "strings"

// Level is a risk classification.
type Level string

const (
	Low     Level = "LOW"
	High    Level = "HIGH"
	Unknown Level = "UNKNOWN"
)

// Parse converts s to a Level. Only LOW and HIGH are accepted.
func Parse(s string) (Level, bool) {
	switch Level(strings.ToUpper(strings.TrimSpace(s))) {
	case Low:
		return Low, true
	case High:
		return High, true
	}
	return Unknown, false
}

// Max returns the higher of a and b with HIGH > LOW. An empty or UNKNOWN
// operand counts as LOW.
func Max(a, b Level) Level {
	if a == High || b == High {
		return High
	}
	return Low
}

// IsDetermined reports whether l is LOW or HIGH.
func (l Level) IsDetermined() bool {
	return l == Low || l == High
}
