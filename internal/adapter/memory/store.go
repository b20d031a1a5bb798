// Package memory provides an in-process implementation of the persistence
// ports. It is used when no PostgreSQL DSN is configured and in tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/Strob0t/ChangeGuard/internal/domain"
	"github.com/Strob0t/ChangeGuard/internal/domain/evaluation"
	"github.com/Strob0t/ChangeGuard/internal/domain/event"
	"github.com/Strob0t/ChangeGuard/internal/domain/projection"
	"github.com/Strob0t/ChangeGuard/internal/domain/snapshot"
)

type runKey struct {
	key     string
	attempt int
}

// Store implements database.Store and eventstore.Store in memory. All
// methods are safe for concurrent use; values are copied on the way in and
// out.
type Store struct {
	mu        sync.Mutex
	prs       map[snapshot.PRIdentity]struct{}
	snapshots map[string]snapshot.Snapshot
	runs      map[runKey]evaluation.Run
	states    map[snapshot.PRIdentity]projection.RunState
	events    []event.StageEvent
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		prs:       make(map[snapshot.PRIdentity]struct{}),
		snapshots: make(map[string]snapshot.Snapshot),
		runs:      make(map[runKey]evaluation.Run),
		states:    make(map[snapshot.PRIdentity]projection.RunState),
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) EnsurePullRequest(_ context.Context, pr snapshot.PRIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prs[pr] = struct{}{}
	return nil
}

func (s *Store) PutSnapshot(_ context.Context, snap *snapshot.Snapshot) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := snap.Key.String()
	if _, ok := s.snapshots[k]; ok {
		return false, nil
	}
	c := *snap
	c.ChangedFiles = slices.Clone(snap.ChangedFiles)
	s.snapshots[k] = c
	return true, nil
}

func (s *Store) GetSnapshot(_ context.Context, key snapshot.Key) (*snapshot.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[key.String()]
	if !ok {
		return nil, fmt.Errorf("get snapshot %s: %w", key, domain.ErrNotFound)
	}
	snap.ChangedFiles = slices.Clone(snap.ChangedFiles)
	return &snap, nil
}

func (s *Store) ClaimRun(_ context.Context, r *evaluation.Run) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rk := runKey{key: r.EvaluationKey, attempt: r.Attempt}
	if _, ok := s.runs[rk]; ok {
		return false, nil
	}
	s.runs[rk] = cloneRun(r)
	return true, nil
}

func (s *Store) LatestRun(_ context.Context, key snapshot.Key) (*evaluation.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key.String()
	var latest *evaluation.Run
	for rk, r := range s.runs {
		if rk.key != k {
			continue
		}
		if latest == nil || r.Attempt > latest.Attempt {
			c := cloneRun(&r)
			latest = &c
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("latest run %s: %w", key, domain.ErrNotFound)
	}
	return latest, nil
}

func (s *Store) CompleteRun(_ context.Context, r *evaluation.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rk := runKey{key: r.EvaluationKey, attempt: r.Attempt}
	cur, ok := s.runs[rk]
	if !ok {
		return fmt.Errorf("complete run %s attempt %d: %w", r.EvaluationKey, r.Attempt, domain.ErrNotFound)
	}
	if cur.Status != evaluation.StatusProcessing {
		return fmt.Errorf("complete run %s attempt %d: already terminal: %w", r.EvaluationKey, r.Attempt, domain.ErrConflict)
	}
	next := cloneRun(r)
	next.ID = cur.ID
	next.StartedAt = cur.StartedAt
	s.runs[rk] = next
	return nil
}

func (s *Store) ListRuns(_ context.Context, pr snapshot.PRIdentity, limit, offset int) ([]evaluation.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []evaluation.Run{}
	for _, r := range s.runs {
		if r.Key.PR == pr {
			out = append(out, cloneRun(&r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].Attempt > out[j].Attempt
	})
	if offset >= len(out) {
		return []evaluation.Run{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpsertRunState(_ context.Context, st *projection.RunState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cur *projection.RunState
	if c, ok := s.states[st.PR]; ok {
		cur = &c
	}
	if !projection.Supersedes(cur, st) {
		return false, nil
	}
	c := *st
	c.ReasonCodes = slices.Clone(st.ReasonCodes)
	s.states[st.PR] = c
	return true, nil
}

func (s *Store) GetRunState(_ context.Context, pr snapshot.PRIdentity) (*projection.RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[pr]
	if !ok {
		return nil, fmt.Errorf("get run state %s: %w", pr, domain.ErrNotFound)
	}
	st.ReasonCodes = slices.Clone(st.ReasonCodes)
	return &st, nil
}

// Append records a stage event.
func (s *Store) Append(_ context.Context, ev *event.StageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *ev
	c.ID = int64(len(s.events) + 1)
	s.events = append(s.events, c)
	return nil
}

// ListByEvaluation returns the events of an evaluation key in insertion order.
func (s *Store) ListByEvaluation(_ context.Context, evaluationKey string) ([]event.StageEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []event.StageEvent{}
	for i := range s.events {
		if s.events[i].EvaluationKey == evaluationKey {
			out = append(out, s.events[i])
		}
	}
	return out, nil
}

func cloneRun(r *evaluation.Run) evaluation.Run {
	c := *r
	c.ReasonCodes = slices.Clone(r.ReasonCodes)
	c.Findings = slices.Clone(r.Findings)
	if r.EndedAt != nil {
		t := *r.EndedAt
		c.EndedAt = &t
	}
	return c
}
