// Package database defines the persistence ports (interfaces) for pull
// requests, snapshots, evaluation runs and the run-state projection.
package database

import (
	"context"

	"github.com/Strob0t/ChangeGuard/internal/domain/evaluation"
	"github.com/Strob0t/ChangeGuard/internal/domain/projection"
	"github.com/Strob0t/ChangeGuard/internal/domain/snapshot"
)

// SnapshotStore persists PR identities and immutable snapshots.
type SnapshotStore interface {
	// EnsurePullRequest records the PR identity if it was never seen.
	EnsurePullRequest(ctx context.Context, pr snapshot.PRIdentity) error
	// PutSnapshot inserts s unless a snapshot with the same key exists.
	// created reports whether this call inserted it.
	PutSnapshot(ctx context.Context, s *snapshot.Snapshot) (created bool, err error)
	GetSnapshot(ctx context.Context, key snapshot.Key) (*snapshot.Snapshot, error)
}

// RunStore persists evaluation runs.
type RunStore interface {
	// ClaimRun inserts r unless a run with the same key and attempt exists.
	// The insert is the only mutual-exclusion point between concurrent
	// submissions of one key.
	ClaimRun(ctx context.Context, r *evaluation.Run) (claimed bool, err error)
	// LatestRun returns the highest attempt for key or domain.ErrNotFound.
	LatestRun(ctx context.Context, key snapshot.Key) (*evaluation.Run, error)
	// CompleteRun writes the terminal state of a PROCESSING run. It returns
	// domain.ErrConflict if the stored run is already terminal.
	CompleteRun(ctx context.Context, r *evaluation.Run) error
	// ListRuns returns runs of a pull request, newest first.
	ListRuns(ctx context.Context, pr snapshot.PRIdentity, limit, offset int) ([]evaluation.Run, error)
}

// ProjectionStore persists the latest-status-per-PR read model.
type ProjectionStore interface {
	// UpsertRunState writes st if projection.Supersedes allows it and
	// reports whether the row changed.
	UpsertRunState(ctx context.Context, st *projection.RunState) (bool, error)
	GetRunState(ctx context.Context, pr snapshot.PRIdentity) (*projection.RunState, error)
}

// Store is the port interface for all persistence operations.
type Store interface {
	SnapshotStore
	RunStore
	ProjectionStore
}
