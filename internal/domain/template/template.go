// Package template extracts the author's risk declaration and backout plan
// from a pull request body.
package template

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/Strob0t/ChangeGuard/internal/domain/risk"
)

// Declaration is what the author stated in the PR template.
type Declaration struct {
	UserRisk    risk.Level `json:"user_risk"`
	BackoutText string     `json:"backout_text"`
}

// HasBackout reports whether the backout section has any non-blank content.
func (d Declaration) HasBackout() bool {
	return strings.TrimSpace(d.BackoutText) != ""
}

var (
	// A selected checkbox followed by the risk token, allowing markdown emphasis in between.
	checkedRiskRe = regexp.MustCompile(`^\s*[-*+]\s+\[[xX]\]\s*[*_` + "`" + `]*\s*(LOW|HIGH)\b`)
	headingRe     = regexp.MustCompile(`^(#{1,6})\s+(.*?)\s*#*\s*$`)
	backoutRe     = regexp.MustCompile(`(?i)back[\s-]?out|roll[\s-]?back`)
	fenceRe       = regexp.MustCompile("^ {0,3}(`{3,}|~{3,})")
)

// Parse extracts the declaration from body. The body is normalized first so
// the result does not depend on line-ending style.
func Parse(body string) Declaration {
	lines := strings.Split(Normalize(body), "\n")
	return Declaration{
		UserRisk:    declaredRisk(lines),
		BackoutText: backoutSection(lines),
	}
}

// declaredRisk returns the single selected risk, or UNKNOWN when zero or
// several boxes are ticked.
func declaredRisk(lines []string) risk.Level {
	var selected []risk.Level
	fenced := fencedLines(lines)
	for i, line := range lines {
		if fenced[i] {
			continue
		}
		m := checkedRiskRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		selected = append(selected, risk.Level(m[1]))
	}
	if len(selected) != 1 {
		return risk.Unknown
	}
	return selected[0]
}

// backoutSection returns the text under the first backout heading up to the
// next heading of equal or higher level.
func backoutSection(lines []string) string {
	start, level := -1, 0
	fenced := fencedLines(lines)
	for i, line := range lines {
		if fenced[i] {
			continue
		}
		m := headingRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if start >= 0 {
			if len(m[1]) <= level {
				return strings.TrimSpace(strings.Join(lines[start:i], "\n"))
			}
			continue
		}
		if backoutRe.MatchString(m[2]) {
			start, level = i+1, len(m[1])
		}
	}
	if start < 0 {
		return ""
	}
	return strings.TrimSpace(strings.Join(lines[start:], "\n"))
}

// fencedLines marks the lines that belong to a fenced code block, fences
// included. A block closes on a fence of the same character at least as
// long as the opener; an unclosed block runs to the end of the body.
func fencedLines(lines []string) []bool {
	out := make([]bool, len(lines))
	open := ""
	for i, line := range lines {
		m := fenceRe.FindStringSubmatch(line)
		switch {
		case open == "" && m != nil:
			open = m[1]
			out[i] = true
		case open != "":
			out[i] = true
			if m != nil && m[1][0] == open[0] && len(m[1]) >= len(open) &&
				strings.TrimSpace(line[len(m[0]):]) == "" {
				open = ""
			}
		}
	}
	return out
}

// Normalize unifies line endings to LF, strips trailing whitespace from every
// line and from the end of the text, and applies Unicode NFC.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRightFunc(line, unicode.IsSpace)
	}
	return norm.NFC.String(strings.TrimRight(strings.Join(lines, "\n"), "\n"))
}
