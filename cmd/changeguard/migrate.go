package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/Strob0t/ChangeGuard/internal/adapter/postgres"
	"github.com/Strob0t/ChangeGuard/internal/config"
)

// runMigrate dispatches migrate subcommands (up, down, status).
func runMigrate(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printMigrateHelp()
		return nil
	}

	fs := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", config.DefaultConfigFile, "path to YAML config file")
	dsn := fs.String("dsn", "", "PostgreSQL connection string (overrides config)")
	steps := fs.Int("steps", 1, "number of migrations to roll back (down only)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	url, err := migrateDSN(*configPath, *dsn)
	if err != nil {
		return err
	}
	ctx := context.Background()

	switch args[0] {
	case "up":
		applied, err := postgres.RunMigrations(ctx, url)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "applied %d migration(s) on %s\n", len(applied), redactDSN(url))
		return writeMigrations(os.Stdout, applied)
	case "down":
		if *steps < 1 {
			return errors.New("--steps must be >= 1")
		}
		reverted, err := postgres.RollbackMigrations(ctx, url, *steps)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "rolled back %d migration(s) on %s\n", len(reverted), redactDSN(url))
		return writeMigrations(os.Stdout, reverted)
	case "status":
		ms, err := postgres.MigrationStatus(ctx, url)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%s: %d pending\n", redactDSN(url), postgres.Pending(ms))
		return writeMigrations(os.Stdout, ms)
	default:
		printMigrateHelp()
		return fmt.Errorf("unknown migrate command: %s", args[0])
	}
}

func printMigrateHelp() {
	fmt.Fprintf(os.Stderr, `Usage: changeguard migrate <command> [options]

Commands:
  up       Apply all pending migrations
  down     Roll back migrations (--steps, default 1)
  status   List migrations and how many are pending
  help     Show this help message

Examples:
  changeguard migrate up
  changeguard migrate down --steps 2
  changeguard migrate status --dsn postgres://localhost/changeguard
`)
}

// migrateDSN resolves the database URL from the flag or the config file.
func migrateDSN(configPath, dsn string) (string, error) {
	if dsn != "" {
		return dsn, nil
	}
	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	if cfg.Postgres.DSN == "" {
		return "", errors.New("postgres.dsn is not configured (set DATABASE_URL or --dsn)")
	}
	return cfg.Postgres.DSN, nil
}

// writeMigrations prints ms as a table. Nothing is printed for an empty list.
func writeMigrations(w io.Writer, ms []postgres.Migration) error {
	if len(ms) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tSOURCE\tSTATE\tAPPLIED_AT\tDURATION")
	for _, m := range ms {
		state, at, took := "pending", "-", "-"
		if m.Applied {
			state = "applied"
		}
		if !m.AppliedAt.IsZero() {
			at = m.AppliedAt.UTC().Format(time.RFC3339)
		}
		if m.Duration > 0 {
			took = m.Duration.Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", m.Version, m.Source, state, at, took)
	}
	return tw.Flush()
}
