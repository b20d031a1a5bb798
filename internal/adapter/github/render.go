package github

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/Strob0t/ChangeGuard/internal/domain/evaluation"
	"github.com/Strob0t/ChangeGuard/internal/domain/template"
	"github.com/Strob0t/ChangeGuard/internal/port/scm"
)

// Check run conclusions.
const (
	conclusionSuccess        = "success"
	conclusionActionRequired = "action_required"
	conclusionNeutral        = "neutral"
)

// maxOutputText is GitHub's limit for check run output text and summary.
const maxOutputText = 65535

var reasonText = map[evaluation.ReasonCode]string{
	evaluation.ReasonMissingTicketNumber: "The PR title does not contain a ticket key.",
	evaluation.ReasonMismatchRiskLevel:   "The declared risk level does not match the assessed risk.",
	evaluation.ReasonMissingBackoutPlan:  "High-risk change without a backout plan.",
	evaluation.ReasonGitHubAPIFailed:     "Pull request data could not be read from GitHub.",
	evaluation.ReasonPolicyLoadFailed:    "The change policy could not be loaded.",
	evaluation.ReasonLLMCallFailed:       "The risk classifier could not be reached.",
	evaluation.ReasonPublishFailed:       "The previous result could not be published.",
	evaluation.ReasonPersistenceFailed:   "The evaluation could not be stored.",
	evaluation.ReasonSnapshotSuperseded:  "The pull request changed while it was being evaluated.",
	evaluation.ReasonInvalidEvent:        "The webhook event was malformed.",
	evaluation.ReasonCapacityExceeded:    "The evaluator was at capacity; the next delivery retries.",
	evaluation.ReasonInternalError:       "The evaluation failed unexpectedly; the next delivery retries.",
}

type checkOutput struct {
	Conclusion string
	Title      string
	Summary    string
	Text       string
}

// render builds the check run output for a publication. ERROR results are
// neutral with an infrastructure title so they never read as a policy
// violation.
func render(pub *scm.Publication) checkOutput {
	var out checkOutput
	switch pub.Status {
	case evaluation.StatusCompliant:
		out.Conclusion = conclusionSuccess
		out.Title = "Change policy satisfied"
	case evaluation.StatusActionRequired:
		out.Conclusion = conclusionActionRequired
		out.Title = "Change policy requires action"
	case evaluation.StatusStale:
		out.Conclusion = conclusionNeutral
		out.Title = "Evaluation superseded by a newer revision"
	default:
		out.Conclusion = conclusionNeutral
		out.Title = "Evaluation failed (infrastructure)"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**Status:** `%s`\n\n", pub.Status)
	if pub.Status == evaluation.StatusStale && pub.ComputedStatus != "" {
		fmt.Fprintf(&b, "**Result before supersession:** `%s`\n\n", pub.ComputedStatus)
	}
	if len(pub.ReasonCodes) > 0 {
		b.WriteString("| Reason | Meaning |\n|---|---|\n")
		for _, code := range pub.ReasonCodes {
			fmt.Fprintf(&b, "| `%s` | %s |\n", code, reasonText[code])
		}
		b.WriteString("\n")
	}
	if pub.SystemRisk != "" {
		b.WriteString("| Risk | Level |\n|---|---|\n")
		fmt.Fprintf(&b, "| Policy | %s |\n", orDash(string(pub.PolicyRisk)))
		fmt.Fprintf(&b, "| Classifier | %s |\n", orDash(string(pub.LLMRisk)))
		fmt.Fprintf(&b, "| System | **%s** |\n", pub.SystemRisk)
		fmt.Fprintf(&b, "| Declared | %s |\n\n", orDash(string(pub.UserRisk)))
	}
	fmt.Fprintf(&b, "Evaluated `%s` (body `%s`) against policy `%s`.\n",
		shortSHA(pub.EvaluatedHeadSHA), shortSHA(pub.EvaluatedBodyHash), pub.PolicyVersion)
	out.Summary = truncate(b.String())
	out.Text = truncate(renderText(pub))
	return out
}

func renderText(pub *scm.Publication) string {
	var b strings.Builder
	if len(pub.Findings) > 0 {
		b.WriteString("### High-risk paths\n\n")
		for _, f := range pub.Findings {
			fmt.Fprintf(&b, "- `%s` matched `%s`", f.Path, f.Pattern)
			if f.ChangeType != "" {
				fmt.Fprintf(&b, " (%s)", f.ChangeType)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	if pub.LLMRationale != "" {
		fmt.Fprintf(&b, "### Classifier rationale\n\n%s\n\n", pub.LLMRationale)
	}
	if pub.Status == evaluation.StatusStale {
		if pub.CurrentHeadSHA != "" && pub.CurrentHeadSHA != pub.EvaluatedHeadSHA {
			fmt.Fprintf(&b, "### Head moved\n\n`%s` -> `%s`\n\n", shortSHA(pub.EvaluatedHeadSHA), shortSHA(pub.CurrentHeadSHA))
		}
		if d := bodyDiff(pub.EvaluatedBody, pub.CurrentBody); d != "" {
			fmt.Fprintf(&b, "### Description changed\n\n```diff\n%s```\n", d)
		}
	}
	return b.String()
}

// bodyDiff returns a unified diff between the evaluated and the current PR
// description, or "" when they normalize to the same text.
func bodyDiff(evaluated, current string) string {
	a, c := template.Normalize(evaluated), template.Normalize(current)
	if a == c {
		return ""
	}
	d, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(a + "\n"),
		B:        difflib.SplitLines(c + "\n"),
		FromFile: "evaluated",
		ToFile:   "current",
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return d
}

func shortSHA(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// truncate limits s to maxOutputText characters, cutting on a rune
// boundary.
func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxOutputText {
		return s
	}
	const marker = "\n\n_(truncated)_"
	keep := maxOutputText - len(marker)
	for i := range s {
		if keep == 0 {
			return s[:i] + marker
		}
		keep--
	}
	return s + marker
}
