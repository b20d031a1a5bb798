// Package llm defines the optional LLM risk classification port.
package llm

import (
	"context"

	"github.com/Strob0t/ChangeGuard/internal/domain/policy"
	"github.com/Strob0t/ChangeGuard/internal/domain/risk"
	"github.com/Strob0t/ChangeGuard/internal/domain/snapshot"
)

// Evidence is the bounded input given to the classifier.
type Evidence struct {
	Title        string
	Files        []snapshot.ChangedFile
	Diff         string
	Truncated    bool
	OmittedFiles []string
	ChangeTypes  []policy.ChangeType
}

// Assessment is the classifier verdict. Risk is always LOW or HIGH.
type Assessment struct {
	Risk          risk.Level
	Rationale     string
	Confidence    float64
	Model         string
	PromptVersion string
}

// RiskClassifier classifies a change as LOW or HIGH risk.
type RiskClassifier interface {
	Classify(ctx context.Context, ev *Evidence) (*Assessment, error)
}
