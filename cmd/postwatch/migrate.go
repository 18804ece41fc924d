package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"postwatch/migrations"
)

func migrateCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:       "migrate <up|up-one|down|status|version|reset>",
		Short:     "Manage the seen-store schema",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"up", "up-one", "down", "status", "version", "reset"},
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := sql.Open("sqlite", dbPath)
			if err != nil {
				return fmt.Errorf("open database %s: %w", dbPath, err)
			}
			defer func() { _ = db.Close() }()
			return migrate(cmd.Context(), cmd.OutOrStdout(), db, args[0])
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", envOrDefault("DATABASE_PATH", "./data/postwatch.db"), "path to sqlite database")
	return cmd
}

// migrate runs one schema action and reports its outcome to w.
func migrate(ctx context.Context, w io.Writer, db *sql.DB, action string) error {
	p, err := migrations.NewProvider(db)
	if err != nil {
		return err
	}

	switch action {
	case "up":
		results, err := p.Up(ctx)
		for _, r := range results {
			fmt.Fprintln(w, r)
		}
		if err != nil {
			return fmt.Errorf("up: %w", err)
		}
	case "up-one":
		r, err := p.UpByOne(ctx)
		if err != nil {
			return fmt.Errorf("up-one: %w", err)
		}
		fmt.Fprintln(w, r)
	case "down":
		r, err := p.Down(ctx)
		if err != nil {
			return fmt.Errorf("down: %w", err)
		}
		fmt.Fprintln(w, r)
	case "reset":
		results, err := p.DownTo(ctx, 0)
		for _, r := range results {
			fmt.Fprintln(w, r)
		}
		if err != nil {
			return fmt.Errorf("reset: %w", err)
		}
	case "status":
		statuses, err := p.Status(ctx)
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}
		for _, s := range statuses {
			fmt.Fprintf(w, "%-8s %s\n", s.State, s.Source.Path)
		}
	case "version":
		v, err := p.GetDBVersion(ctx)
		if err != nil {
			return fmt.Errorf("version: %w", err)
		}
		fmt.Fprintf(w, "version %d\n", v)
	default:
		return fmt.Errorf("unknown migrate action %q", action)
	}
	return nil
}
