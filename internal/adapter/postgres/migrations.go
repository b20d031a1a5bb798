package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver "pgx" for goose
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migration describes one embedded schema migration and its state in the
// target database.
type Migration struct {
	Version   int64
	Source    string
	Applied   bool
	AppliedAt time.Time
	// Duration is set for migrations run by RunMigrations or
	// RollbackMigrations.
	Duration time.Duration
}

// Pending returns how many of ms are not applied.
func Pending(ms []Migration) int {
	n := 0
	for _, m := range ms {
		if !m.Applied {
			n++
		}
	}
	return n
}

// withMigrator opens a short-lived database/sql handle for goose and runs fn
// against a provider over the embedded migrations.
func withMigrator(ctx context.Context, dsn string, fn func(*goose.Provider) error) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open db for migrations: %w", err)
	}
	defer func() { _ = db.Close() }()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping db for migrations: %w", err)
	}

	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	p, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("migration provider: %w", err)
	}
	return fn(p)
}

func fromResult(r *goose.MigrationResult, applied bool) Migration {
	return Migration{
		Version:  r.Source.Version,
		Source:   r.Source.Path,
		Applied:  applied,
		Duration: r.Duration,
	}
}

// RunMigrations applies every pending migration and returns those it ran,
// oldest first. An up-to-date schema returns an empty slice.
func RunMigrations(ctx context.Context, dsn string) ([]Migration, error) {
	var out []Migration
	err := withMigrator(ctx, dsn, func(p *goose.Provider) error {
		results, err := p.Up(ctx)
		for _, r := range results {
			out = append(out, fromResult(r, true))
		}
		if err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		return nil
	})
	return out, err
}

// RollbackMigrations rolls back up to steps migrations and returns those it
// reverted, newest first. It stops early when nothing is left to revert.
func RollbackMigrations(ctx context.Context, dsn string, steps int) ([]Migration, error) {
	var out []Migration
	err := withMigrator(ctx, dsn, func(p *goose.Provider) error {
		for range steps {
			r, err := p.Down(ctx)
			if errors.Is(err, goose.ErrNoNextVersion) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("rollback: %w", err)
			}
			out = append(out, fromResult(r, false))
		}
		return nil
	})
	return out, err
}

// MigrationStatus lists every embedded migration with its applied state,
// oldest first.
func MigrationStatus(ctx context.Context, dsn string) ([]Migration, error) {
	var out []Migration
	err := withMigrator(ctx, dsn, func(p *goose.Provider) error {
		statuses, err := p.Status(ctx)
		if err != nil {
			return fmt.Errorf("migration status: %w", err)
		}
		for _, s := range statuses {
			out = append(out, Migration{
				Version:   s.Source.Version,
				Source:    s.Source.Path,
				Applied:   s.State == goose.StateApplied,
				AppliedAt: s.AppliedAt,
			})
		}
		return nil
	})
	return out, err
}
