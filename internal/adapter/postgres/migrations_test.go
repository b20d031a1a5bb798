package postgres

import (
	"context"
	"os"
	"testing"
)

func TestPending(t *testing.T) {
	tests := []struct {
		name string
		ms   []Migration
		want int
	}{
		{"none", nil, 0},
		{"all applied", []Migration{{Version: 1, Applied: true}}, 0},
		{"mixed", []Migration{{Version: 1, Applied: true}, {Version: 2}, {Version: 3}}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Pending(tt.ms); got != tt.want {
				t.Errorf("Pending() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 {
		t.Fatal("no embedded migrations")
	}
}

func TestMigrationLifecycle(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}
	ctx := context.Background()

	if _, err := RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
	again, err := RunMigrations(ctx, dsn)
	if err != nil || len(again) != 0 {
		t.Fatalf("second RunMigrations = %+v, %v; want nothing applied", again, err)
	}

	ms, err := MigrationStatus(ctx, dsn)
	if err != nil {
		t.Fatalf("MigrationStatus: %v", err)
	}
	if len(ms) == 0 || Pending(ms) != 0 {
		t.Fatalf("status after up = %+v", ms)
	}
	latest := ms[len(ms)-1]
	if latest.Source == "" || latest.AppliedAt.IsZero() {
		t.Errorf("latest migration lacks source or applied time: %+v", latest)
	}

	reverted, err := RollbackMigrations(ctx, dsn, 1)
	if err != nil {
		t.Fatalf("RollbackMigrations: %v", err)
	}
	t.Cleanup(func() {
		if _, err := RunMigrations(context.Background(), dsn); err != nil {
			t.Errorf("restore schema: %v", err)
		}
	})
	if len(reverted) != 1 || reverted[0].Version != latest.Version || reverted[0].Applied {
		t.Fatalf("reverted = %+v, want version %d", reverted, latest.Version)
	}

	ms, err = MigrationStatus(ctx, dsn)
	if err != nil {
		t.Fatalf("MigrationStatus after down: %v", err)
	}
	if Pending(ms) != 1 {
		t.Errorf("pending after down = %d, want 1", Pending(ms))
	}

	applied, err := RunMigrations(ctx, dsn)
	if err != nil || len(applied) != 1 || applied[0].Version != latest.Version {
		t.Errorf("reapply = %+v, %v", applied, err)
	}
}
