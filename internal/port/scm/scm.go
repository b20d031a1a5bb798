// Package scm defines the source-control ports: evidence fetch and result
// publishing.
package scm

import (
	"context"

	"github.com/Strob0t/ChangeGuard/internal/domain/evaluation"
	"github.com/Strob0t/ChangeGuard/internal/domain/policy"
	"github.com/Strob0t/ChangeGuard/internal/domain/risk"
	"github.com/Strob0t/ChangeGuard/internal/domain/snapshot"
)

// PullRef addresses a pull request through a specific app installation.
type PullRef struct {
	PR             snapshot.PRIdentity
	InstallationID int64
}

// Evidence is the pull request state as fetched from the source system.
type Evidence struct {
	Title   string
	Body    string
	HeadSHA string
	Files   []snapshot.ChangedFile
	// Diff is the unified diff; only filled when requested.
	Diff string
}

// EvidenceFetcher reads pull request state.
type EvidenceFetcher interface {
	// FetchEvidence returns title, body, head sha and changed files, and the
	// unified diff when withDiff is set.
	FetchEvidence(ctx context.Context, ref PullRef, withDiff bool) (*Evidence, error)
	// CurrentState returns the live head sha and body without files.
	CurrentState(ctx context.Context, ref PullRef) (*Evidence, error)
}

// Publication is the externally visible result of one evaluation.
type Publication struct {
	Key snapshot.Key
	// HeadSHA is the commit the result is attached to; always the
	// evaluated head sha.
	HeadSHA        string
	Status         evaluation.Status
	ComputedStatus evaluation.Status
	ReasonCodes    []evaluation.ReasonCode
	PolicyRisk     risk.Level
	LLMRisk        risk.Level
	SystemRisk     risk.Level
	UserRisk       risk.Level
	Findings       []policy.Finding
	LLMRationale   string

	EvaluatedHeadSHA  string
	EvaluatedBodyHash string
	PolicyVersion     string

	// Set for STALE publications.
	CurrentHeadSHA string
	EvaluatedBody  string
	CurrentBody    string
}

// Publisher posts results back to the source system. Publishing the same
// evaluation key twice updates the visible result instead of adding one.
type Publisher interface {
	Publish(ctx context.Context, ref PullRef, pub *Publication) error
}
