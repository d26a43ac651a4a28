// Package main provides the CLI entry point for flyswarm-go.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/blackms/flyswarm-go/cmd/flyswarm/commands"
	"github.com/blackms/flyswarm-go/internal/application/coordinator"
	"github.com/blackms/flyswarm-go/pkg/flyswarm"
)

var (
	version = "1.0.0"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "flyswarm",
	Short: "Flyswarm - simulated multi-agent swarm coordinator",
	Long: `Flyswarm coordinates a swarm of typed workers.

It provides:
  - Priority task queue with affinity and performance based assignment
  - Threshold consensus voting across the worker roster
  - Runtime scaling of worker pools
  - HTTP API with a live event stream
  - Session tracing to logs, OpenTelemetry or a SQLite journal`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// ============================================================================
// Serve Command
// ============================================================================

var (
	serveAddr           string
	serveStatusInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the swarm API server",
	Long:  `Start a swarm and serve its HTTP API until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := commands.LoadConfig()
		if err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}
		if cfg.Server.Version == "" {
			cfg.Server.Version = version
		}

		logger, err := commands.NewLogger(cfg)
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		swarm, err := flyswarm.Open(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to start swarm: %w", err)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return swarm.Server().Run(gctx)
		})
		if serveStatusInterval > 0 {
			g.Go(func() error {
				reportStatus(gctx, swarm, logger, serveStatusInterval)
				return nil
			})
		}
		runErr := g.Wait()

		logger.Info("shutting down")
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
		defer cancel()
		return errors.Join(runErr, swarm.Close(closeCtx))
	},
}

func reportStatus(ctx context.Context, swarm *flyswarm.Swarm, logger *zap.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := swarm.GetStatus()
			exported, dropped, _ := swarm.TraceStats()
			logger.Info("swarm status",
				zap.Int("workers", len(st.Workers)),
				zap.Int("active", st.ActiveTaskCount),
				zap.Int("queued", st.QueuedTaskCount),
				zap.Int("completed", st.CompletedTaskCount),
				zap.Int("failed", st.FailedTaskCount),
				zap.Uint64("traces_exported", exported),
				zap.Uint64("traces_dropped", dropped))
		}
	}
}

// ============================================================================
// Simulate Command
// ============================================================================

var simulateTimeout time.Duration

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the demonstration batch in-process",
	Long: `Start a swarm in this process, submit the demonstration batch and a
scale-up proposal, wait for everything to settle and print the final status.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := commands.LoadConfig()
		if err != nil {
			return err
		}
		logger, err := commands.NewLogger(cfg)
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithTimeout(ctx, simulateTimeout)
		defer cancel()

		swarm, err := flyswarm.Open(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to start swarm: %w", err)
		}

		runErr := simulate(ctx, swarm)

		closeCtx, closeCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
		defer closeCancel()
		if err := swarm.Close(closeCtx); err != nil {
			runErr = errors.Join(runErr, err)
		}
		if runErr != nil {
			return runErr
		}
		return commands.PrintJSON(swarm.GetStatus())
	},
}

func simulate(ctx context.Context, swarm *flyswarm.Swarm) error {
	var ids []string
	for _, b := range coordinator.DemoBatch {
		t, err := swarm.CreateTask(ctx, b.Type, b.Payload, b.Priority)
		if err != nil {
			return err
		}
		ids = append(ids, t.ID)
	}
	p, err := swarm.ProposeConsensus(ctx, coordinator.DemoProposal.Topic, coordinator.DemoProposal.Proposer, coordinator.DemoProposal.Threshold)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if settled(swarm, ids, p.ID) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("simulation did not settle: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func settled(swarm *flyswarm.Swarm, taskIDs []string, proposalID string) bool {
	for _, id := range taskIDs {
		t, err := swarm.GetTask(id)
		if err != nil || !t.Status.IsTerminal() {
			return false
		}
	}
	p, err := swarm.GetProposal(proposalID)
	return err == nil && p.Status != flyswarm.ProposalStatusOpen
}

// ============================================================================
// Status Command
// ============================================================================

var statusDebug bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show swarm status",
	Long:  `Show the status of a running swarm server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := commands.NewClient()
		health, err := client.Health(cmd.Context())
		if err != nil {
			return fmt.Errorf("server unreachable: %w", err)
		}
		status, err := client.Status(cmd.Context())
		if err != nil {
			return err
		}
		out := map[string]interface{}{
			"health": health,
			"swarm":  status,
		}
		if statusDebug {
			debug, err := client.Debug(cmd.Context())
			if err != nil {
				return err
			}
			out["debug"] = debug
		}
		return commands.PrintJSON(out)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("flyswarm %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&commands.ConfigPath, "config", "c", "", "Config file (YAML, or TOML with a .toml extension)")
	rootCmd.PersistentFlags().StringVarP(&commands.ServerURL, "server", "s", "http://localhost:3000", "Swarm server base URL")
	rootCmd.PersistentFlags().StringVar(&commands.LogLevel, "log-level", "", "Override logging.level")

	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", "", "Listen address, overrides server.addr")
	serveCmd.Flags().DurationVar(&serveStatusInterval, "status-interval", 30*time.Second, "Status log interval, 0 to disable")
	rootCmd.AddCommand(serveCmd)

	simulateCmd.Flags().DurationVar(&simulateTimeout, "timeout", 2*time.Minute, "Maximum simulation time")
	rootCmd.AddCommand(simulateCmd)

	statusCmd.Flags().BoolVar(&statusDebug, "debug", false, "Include runtime, tracing and event bus diagnostics")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(commands.TaskCmd)
	rootCmd.AddCommand(commands.ConsensusCmd)
	rootCmd.AddCommand(commands.ScaleCmd)
	rootCmd.AddCommand(commands.WatchCmd)
	rootCmd.AddCommand(commands.DashboardCmd)
	rootCmd.AddCommand(commands.TracesCmd)
	rootCmd.AddCommand(versionCmd)
}
