package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTest = errors.New("service unavailable")

func fail(context.Context) error { return errTest }
func ok(context.Context) error   { return nil }

func TestClosedStateAllowsCalls(t *testing.T) {
	b := NewBreaker("github", 3, time.Second)
	called := false
	err := b.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !called {
		t.Fatal("expected fn to be called")
	}
	if b.State() != "closed" {
		t.Fatalf("expected closed, got %s", b.State())
	}
}

func TestOpensAfterMaxFailures(t *testing.T) {
	b := NewBreaker("github", 3, time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, fail)
	}

	err := b.Execute(ctx, ok)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if b.State() != "open" {
		t.Fatalf("expected open, got %s", b.State())
	}
}

func TestTransitionsToHalfOpenAfterTimeout(t *testing.T) {
	now := time.Now()
	b := NewBreaker("llm", 2, time.Second)
	b.now = func() time.Time { return now }
	ctx := context.Background()

	// Trip the breaker
	for i := 0; i < 2; i++ {
		_ = b.Execute(ctx, fail)
	}

	// Still open
	err := b.Execute(ctx, ok)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}

	// Advance past timeout
	now = now.Add(2 * time.Second)

	called := false
	err = b.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error in half-open, got %v", err)
	}
	if !called {
		t.Fatal("expected fn to be called in half-open")
	}

	// Success should close the circuit
	b.mu.Lock()
	if b.state != stateClosed {
		t.Fatalf("expected state closed after half-open success, got %d", b.state)
	}
	b.mu.Unlock()
}

func TestHalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker("llm", 2, time.Second)
	b.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_ = b.Execute(ctx, fail)
	}

	now = now.Add(2 * time.Second)

	// Fail in half-open, should reopen
	_ = b.Execute(ctx, fail)

	b.mu.Lock()
	if b.state != stateOpen {
		t.Fatalf("expected state open after half-open failure, got %d", b.state)
	}
	b.mu.Unlock()

	err := b.Execute(ctx, ok)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen after reopen, got %v", err)
	}
}

func TestHalfOpenSingleTrialCall(t *testing.T) {
	now := time.Now()
	b := NewBreaker("github", 1, time.Second)
	b.now = func() time.Time { return now }
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	now = now.Add(2 * time.Second)

	release := make(chan struct{})
	done := make(chan error, 1)
	started := make(chan struct{})
	go func() {
		done <- b.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := b.Execute(ctx, ok); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("second call during trial: expected ErrCircuitOpen, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("trial call: %v", err)
	}
	if b.State() != "closed" {
		t.Fatalf("expected closed after trial call, got %s", b.State())
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker("github", 3, time.Second)
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)

	// One success resets
	_ = b.Execute(ctx, ok)

	// Two more failures should not trip (only 2, need 3)
	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)

	called := false
	err := b.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !called {
		t.Fatal("expected fn to be called")
	}
}

func TestPermanentErrorsDoNotTrip(t *testing.T) {
	b := NewBreaker("github", 1, time.Second)
	ctx := context.Background()

	notFound := Permanent(errors.New("404 not found"))
	for i := 0; i < 3; i++ {
		if err := b.Execute(ctx, func(context.Context) error { return notFound }); err == nil {
			t.Fatal("expected error to be returned")
		}
	}
	if b.State() != "closed" {
		t.Fatalf("permanent errors should not open the circuit, got %s", b.State())
	}
}
