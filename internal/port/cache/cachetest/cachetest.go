// Package cachetest holds the behaviour every cache.Cache implementation
// must show, shared by the adapter tests.
package cachetest

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/ChangeGuard/internal/port/cache"
)

// Run runs the compliance suite against c. Keys mirror the policy cache
// layout so adapters that encode keys are exercised with real shapes.
func Run(t *testing.T, c cache.Cache) {
	t.Helper()
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, "policy:acme/api@v1", []byte("policy_version: v1"), 0); err != nil {
			t.Fatal(err)
		}
		val, found, err := c.Get(ctx, "policy:acme/api@v1")
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected found after Set")
		}
		if string(val) != "policy_version: v1" {
			t.Fatalf("expected stored document, got %s", val)
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		_, found, err := c.Get(ctx, "policy:acme/none@v1")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss for nonexistent key")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = c.Set(ctx, "policy:acme/del@v1", []byte("x"), time.Minute)
		if err := c.Delete(ctx, "policy:acme/del@v1"); err != nil {
			t.Fatal(err)
		}
		_, found, err := c.Get(ctx, "policy:acme/del@v1")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss after Delete")
		}
	})

	t.Run("DeleteNonexistent", func(t *testing.T) {
		if err := c.Delete(ctx, "policy:never/existed@v0"); err != nil {
			t.Fatal("Delete of nonexistent key should not error")
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = c.Set(ctx, "policy:acme/ow@v1", []byte("v1"), 0)
		_ = c.Set(ctx, "policy:acme/ow@v1", []byte("v2"), 0)
		val, found, err := c.Get(ctx, "policy:acme/ow@v1")
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected found after overwrite")
		}
		if string(val) != "v2" {
			t.Fatalf("expected v2 after overwrite, got %s", val)
		}
	})

	t.Run("VersionsAreDistinct", func(t *testing.T) {
		_ = c.Set(ctx, "policy:acme/multi@v1", []byte("one"), 0)
		_ = c.Set(ctx, "policy:acme/multi@v2", []byte("two"), 0)
		v1, _, _ := c.Get(ctx, "policy:acme/multi@v1")
		v2, _, _ := c.Get(ctx, "policy:acme/multi@v2")
		if string(v1) != "one" || string(v2) != "two" {
			t.Fatalf("versions collided: %q %q", v1, v2)
		}
	})
}
