package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/ChangeGuard/internal/domain"
	"github.com/Strob0t/ChangeGuard/internal/domain/evaluation"
	"github.com/Strob0t/ChangeGuard/internal/domain/projection"
	"github.com/Strob0t/ChangeGuard/internal/domain/snapshot"
)

var testKey = snapshot.Key{
	PR:            snapshot.PRIdentity{RepoFullName: "acme/api", Number: 7},
	HeadSHA:       "abc",
	BodyHash:      "def",
	PolicyVersion: "v1",
}

func TestPutSnapshotFirstWriteWins(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	first := &snapshot.Snapshot{ID: "s1", Key: testKey, Title: "first"}
	if ok, err := s.PutSnapshot(ctx, first); err != nil || !ok {
		t.Fatalf("first put: ok=%v err=%v", ok, err)
	}
	second := &snapshot.Snapshot{ID: "s2", Key: testKey, Title: "second"}
	if ok, err := s.PutSnapshot(ctx, second); err != nil || ok {
		t.Fatalf("second put: ok=%v err=%v", ok, err)
	}

	got, err := s.GetSnapshot(ctx, testKey)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "s1" || got.Title != "first" {
		t.Fatalf("snapshot overwritten: %+v", got)
	}
}

func TestClaimRunConcurrent(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	const n = 50
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed int
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := evaluation.NewRun(string(rune('a'+i%26)), testKey, 1, time.Now())
			ok, err := s.ClaimRun(ctx, &r)
			if err != nil {
				t.Error(err)
				return
			}
			if ok {
				mu.Lock()
				claimed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if claimed != 1 {
		t.Fatalf("expected exactly one claim, got %d", claimed)
	}
}

func TestCompleteRunOnlyOnce(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Now()

	r := evaluation.NewRun("r1", testKey, 1, now)
	if _, err := s.ClaimRun(ctx, &r); err != nil {
		t.Fatal(err)
	}

	done := r
	done.Status = evaluation.StatusCompliant
	done.EndedAt = &now
	if err := s.CompleteRun(ctx, &done); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}
	if err := s.CompleteRun(ctx, &done); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	missing := evaluation.NewRun("r2", testKey, 5, now)
	if err := s.CompleteRun(ctx, &missing); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLatestRunPicksHighestAttempt(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Now()

	for attempt := 1; attempt <= 3; attempt++ {
		r := evaluation.NewRun("r", testKey, attempt, now)
		if _, err := s.ClaimRun(ctx, &r); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.LatestRun(ctx, testKey)
	if err != nil {
		t.Fatal(err)
	}
	if got.Attempt != 3 {
		t.Fatalf("expected attempt 3, got %d", got.Attempt)
	}

	other := testKey
	other.HeadSHA = "zzz"
	if _, err := s.LatestRun(ctx, other); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListRunsPaging(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	base := time.Now()

	for i := range 5 {
		k := testKey
		k.HeadSHA = string(rune('a' + i))
		r := evaluation.NewRun("r", k, 1, base.Add(time.Duration(i)*time.Second))
		if _, err := s.ClaimRun(ctx, &r); err != nil {
			t.Fatal(err)
		}
	}

	page, err := s.ListRuns(ctx, testKey.PR, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(page))
	}
	if page[0].Key.HeadSHA != "d" || page[1].Key.HeadSHA != "c" {
		t.Fatalf("unexpected order: %s, %s", page[0].Key.HeadSHA, page[1].Key.HeadSHA)
	}

	empty, err := s.ListRuns(ctx, testKey.PR, 10, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty page, got %d", len(empty))
	}
}

func TestUpsertRunStateRespectsSupersedes(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	t0 := time.Now()

	cur := &projection.RunState{PR: testKey.PR, LatestEvaluationKey: "k2", Status: evaluation.StatusCompliant, UpdatedAt: t0}
	if ok, _ := s.UpsertRunState(ctx, cur); !ok {
		t.Fatal("first write should apply")
	}

	stale := &projection.RunState{PR: testKey.PR, LatestEvaluationKey: "k1", Status: evaluation.StatusStale, UpdatedAt: t0.Add(time.Minute)}
	if ok, _ := s.UpsertRunState(ctx, stale); ok {
		t.Fatal("stale completion of another key must not apply")
	}

	got, err := s.GetRunState(ctx, testKey.PR)
	if err != nil {
		t.Fatal(err)
	}
	if got.LatestEvaluationKey != "k2" {
		t.Fatalf("projection regressed to %s", got.LatestEvaluationKey)
	}
}
