package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"postwatch/internal/config"
	"postwatch/internal/metrics"
	"postwatch/internal/scheduler"
	"postwatch/internal/storage"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Scan the watch list every SCAN_INTERVAL until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(false)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			metrics.StartServer(ctx, a.cfg.MetricsAddr, a.log)

			sched := scheduler.New(a.scanner, a.log)
			sched.SetTickInterval(a.cfg.ScanInterval)
			return sched.Run(ctx)
		},
	}
}

func scanCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a single scan cycle and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(dryRun)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			stats := a.scanner.RunCycle(ctx)
			if stats.Skipped {
				return fmt.Errorf("cycle skipped: no connection")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "accounts=%d evaluated=%d notified=%d errors=%d\n",
				stats.Accounts, stats.Evaluated, stats.Notified, stats.Errors)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log notifications instead of sending them and do not persist seen posts")
	return cmd
}

func validateCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and compile the watch list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			watches, err := config.LoadWatchlist(path)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "HANDLE\tNAME\tTRIGGERS\tREPLIES\tRETWEETS\tMEDIA\tALWAYS")
			for _, wt := range watches {
				a := wt.Account
				fmt.Fprintf(w, "@%s\t%s\t%d\t%t\t%t\t%t\t%t\n",
					a.Handle, a.Name, len(a.Triggers), a.IncludeReplies, a.IncludeRetweets, a.MediaOnly, a.AlwaysNotify)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d accounts OK\n", len(watches))
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "file", "f", envOrDefault("WATCHLIST_PATH", "./watchlist.yaml"), "watch list file")
	return cmd
}

func seenCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "seen",
		Short: "List posts recorded in the seen store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storage.NewSQLite(dbPath)
			if err != nil {
				return fmt.Errorf("open database %s: %w", dbPath, err)
			}
			defer func() { _ = store.Close() }()

			entries, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "POST\tEXPIRES")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\n", e.ID, e.ExpiresAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", envOrDefault("DATABASE_PATH", "./data/postwatch.db"), "path to sqlite database")
	return cmd
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
