// Command dnx-client runs the DNX worker agent: a work-load manager pool
// of worker goroutines plus a management listener, per SPEC_FULL.md §4.7
// through §4.10. Flags follow the original dnxClient invocation per §6.3.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dnxgo/dnxgo/pkg/config"
	"github.com/dnxgo/dnxgo/pkg/log"
	"github.com/dnxgo/dnxgo/pkg/plugin"
	"github.com/dnxgo/dnxgo/pkg/worker"
)

const pidfilePath = "/var/run/dnx-client.pid"

var (
	version     = "dev"
	configPath  string
	foreground  bool
	showVersion bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "dnx-client: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "dnx-client",
	Short:        "Run the DNX worker agent",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to client configuration file (required)")
	rootCmd.Flags().BoolVarP(&foreground, "debug", "d", false, "run in the foreground without daemonizing or writing a pidfile")
	rootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "print version and exit")
}

func run(cmd *cobra.Command, args []string) error {
	if showVersion {
		fmt.Println("dnx-client version", version)
		return nil
	}
	if configPath == "" {
		return fmt.Errorf("-c <config> is required")
	}

	cfg, err := config.ParseClientConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	level := log.InfoLevel
	if foreground || cfg.Debug > 0 {
		level = log.DebugLevel
	}
	log.Init(log.Config{Level: level, JSONOutput: !foreground})
	logger := log.WithComponent("main")

	// A daemonized client takes an exclusive pidfile lock for the process
	// lifetime; -d runs attended in the foreground and skips it, matching
	// original_source/client/dnxClientMain.c's `if (!Debug)` gating.
	var pf *worker.Pidfile
	if !foreground {
		pf, err = worker.WritePidfile(pidfilePath)
		if err != nil {
			return fmt.Errorf("acquiring pidfile: %w", err)
		}
		defer pf.Release()
	}

	inv := plugin.New(cfg.PluginPath)
	wlm := worker.New(cfg, inv, worker.RealNetwork{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wlm.Start(ctx)

	mgmt, err := worker.NewMgmtListener(worker.RealNetwork{}, cfg.ChannelAgent, wlm)
	if err != nil {
		cancel()
		return fmt.Errorf("opening management channel: %w", err)
	}
	go mgmt.Run(ctx)

	logger.Info().Str("agent", cfg.ChannelAgent).Int("pool_initial", cfg.PoolInitial).Int("pool_max", cfg.PoolMax).Msg("dnx-client started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutdown signal received")

	// RequestStop lets the WLM's own shutdownGraceSecs deadline run its
	// course; cancelling ctx directly here would skip the grace period
	// and hard-kill every running slot immediately.
	wlm.RequestStop()
	wlm.Wait()
	logger.Info().Msg("dnx-client stopped")
	return nil
}
