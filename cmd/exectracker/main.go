package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"exectracker/internal/app"
	"exectracker/internal/config"
	"exectracker/internal/report"
	"exectracker/internal/storage"
	logx "exectracker/pkg/logx"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "exectracker",
	Short: "Discord execution tracker",
	Long: `exectracker watches a Discord channel for execution embeds, stores them
and posts rolling summaries.

Configuration comes from an optional JSON/YAML file plus environment
variables (DISCORD_TOKEN, WATCH_CHANNEL_ID, STATS_CHANNEL_ID, ...).
A .env file in the working directory is loaded first.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		config.LoadDotEnv()
	},
	RunE: runBot,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to Discord and track executions (default)",
	RunE:  runBot,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print execution counts for the last minute, hour and day",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st storage.Store) error {
			stats, err := report.NewReporter(st).OnDemand(ctx)
			if err != nil {
				return err
			}
			for _, s := range stats {
				fmt.Fprintf(cmd.OutOrStdout(), "last %-6s executions=%d unique_users=%d\n", s.Window.Label, s.Executions, s.UniqueUsers)
			}
			return nil
		})
	},
}

var recentLimit int

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Print the most recent executions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st storage.Store) error {
			recs, err := st.Recent(ctx, recentLimit)
			if err != nil {
				return err
			}
			for _, r := range recs {
				line := fmt.Sprintf("%s  %s (%s)", r.Time().Format(time.RFC3339), r.Username, r.UserID)
				if r.ExecutionCount != nil {
					line += fmt.Sprintf(" count=%d", *r.ExecutionCount)
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		})
	},
}

var lifetimeCmd = &cobra.Command{
	Use:   "lifetime <user-id>",
	Short: "Print the total recorded executions for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID := strings.TrimSpace(args[0])
		return withStore(cmd.Context(), func(ctx context.Context, st storage.Store) error {
			n, err := st.LifetimeCountForUser(ctx, userID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d\n", userID, n)
			return nil
		})
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the execution schema and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st storage.Store) error {
			fmt.Fprintln(cmd.OutOrStdout(), "schema ready")
			return nil
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (json or yaml); empty means environment only")
	recentCmd.Flags().IntVarP(&recentLimit, "limit", "n", 10, "number of executions to print")

	rootCmd.AddCommand(runCmd, statsCmd, recentCmd, lifetimeCmd, migrateCmd)
}

func runBot(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, config.NewConfigManager(cfgPath))
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return err
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		return err
	}
	if reason == app.StopFatalError {
		return a.Err()
	}
	return nil
}

// withStore opens the configured store without connecting to Discord.
func withStore(ctx context.Context, fn func(ctx context.Context, st storage.Store) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return err
	}
	if err := cfg.ValidateStorage(); err != nil {
		return err
	}
	sc, err := app.StorageConfig(cfg)
	if err != nil {
		return err
	}
	st, err := storage.Open(ctx, sc, logx.NewConsole("warn"))
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(ctx, st)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
