// Package evidence reduces a pull request diff to a size an LLM prompt can
// carry without splitting hunks.
package evidence

import (
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// Bounded is a diff trimmed to a byte budget.
type Bounded struct {
	Diff         string   `json:"diff"`
	Files        int      `json:"files"`
	OmittedFiles []string `json:"omitted_files,omitempty"`
	Truncated    bool     `json:"truncated"`
}

// Bound keeps files in source order and whole hunks only until maxBytes is
// reached. A file whose header and first hunk do not fit is omitted.
// maxBytes <= 0 disables the limit.
func Bound(raw string, maxBytes int) (Bounded, error) {
	if strings.TrimSpace(raw) == "" {
		return Bounded{}, nil
	}
	fds, err := diff.ParseMultiFileDiff([]byte(raw))
	if err != nil {
		return Bounded{}, fmt.Errorf("parse diff: %w", err)
	}

	var (
		out  Bounded
		b    strings.Builder
		used int
	)
	for _, fd := range fds {
		text, complete, err := fitFile(fd, maxBytes-used, maxBytes <= 0)
		if err != nil {
			return Bounded{}, err
		}
		if text == "" {
			out.OmittedFiles = append(out.OmittedFiles, fileName(fd))
			out.Truncated = true
			continue
		}
		if !complete {
			out.Truncated = true
		}
		b.WriteString(text)
		used += len(text)
		out.Files++
	}
	out.Diff = b.String()
	return out, nil
}

// fitFile prints fd with as many leading hunks as fit in budget.
func fitFile(fd *diff.FileDiff, budget int, unlimited bool) (string, bool, error) {
	if unlimited {
		b, err := diff.PrintFileDiff(fd)
		if err != nil {
			return "", false, fmt.Errorf("print diff %s: %w", fileName(fd), err)
		}
		return string(b), true, nil
	}

	candidate := *fd
	candidate.Hunks = nil
	best := ""
	for i := 0; i <= len(fd.Hunks); i++ {
		candidate.Hunks = fd.Hunks[:i]
		if i == 0 && len(fd.Hunks) > 0 {
			continue
		}
		b, err := diff.PrintFileDiff(&candidate)
		if err != nil {
			return "", false, fmt.Errorf("print diff %s: %w", fileName(fd), err)
		}
		if len(b) > budget {
			break
		}
		best = string(b)
		if i == len(fd.Hunks) {
			return best, true, nil
		}
	}
	return best, false, nil
}

func fileName(fd *diff.FileDiff) string {
	name := fd.NewName
	if name == "" || name == "/dev/null" {
		name = fd.OrigName
	}
	name = strings.TrimPrefix(name, "b/")
	return strings.TrimPrefix(name, "a/")
}
