package policy

import (
	"path"
	"strings"

	"github.com/Strob0t/ChangeGuard/internal/domain/risk"
)

// Finding records one changed path that matched a high-risk pattern.
type Finding struct {
	Path        string `json:"path"`
	Pattern     string `json:"pattern"`
	ChangeType  string `json:"change_type,omitempty"`
	Description string `json:"description,omitempty"`
}

// Match returns HIGH if any changed path matches any high-risk pattern and
// LOW otherwise. Matching is case-sensitive.
func Match(paths []string, rules *Rules) risk.Level {
	for _, p := range paths {
		for _, hp := range rules.high {
			if MatchGlob(hp.glob, p) {
				return risk.High
			}
		}
	}
	return risk.Low
}

// Explain lists every (path, pattern) pair that makes the change HIGH, in
// path order. It is empty exactly when Match returns LOW.
func Explain(paths []string, rules *Rules) []Finding {
	var out []Finding
	for _, p := range paths {
		for _, hp := range rules.high {
			if !MatchGlob(hp.glob, p) {
				continue
			}
			f := Finding{Path: p, Pattern: hp.glob}
			if hp.changeType != nil {
				f.ChangeType = hp.changeType.ID
				f.Description = hp.changeType.Description
			}
			out = append(out, f)
		}
	}
	return out
}

// MatchGlob matches a slash-separated path against pattern. "**" matches
// zero or more whole segments; other segments follow path.Match.
func MatchGlob(pattern, value string) bool {
	if strings.Contains(pattern, "**") {
		return matchSegments(strings.Split(pattern, "/"), strings.Split(value, "/"))
	}
	matched, _ := path.Match(pattern, value)
	return matched
}

// matchSegments recursively matches pattern segments against value segments.
func matchSegments(pat, val []string) bool {
	for len(pat) > 0 && len(val) > 0 {
		if pat[0] == "**" {
			pat = pat[1:]
			if len(pat) == 0 {
				return true
			}
			for i := 0; i <= len(val); i++ {
				if matchSegments(pat, val[i:]) {
					return true
				}
			}
			return false
		}
		matched, _ := path.Match(pat[0], val[0])
		if !matched {
			return false
		}
		pat = pat[1:]
		val = val[1:]
	}

	for _, p := range pat {
		if p != "**" {
			return false
		}
	}
	return len(val) == 0
}
