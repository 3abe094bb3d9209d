// Command dnx-server runs the DNX server half standalone. In the original
// system this logic lives inside a Nagios NEB module loaded by the
// monitoring host's event broker (out of scope per SPEC_FULL.md §1); this
// binary hosts the same ServerContext behind a small HTTP ingress so the
// dispatch/collect/timer pipeline can be exercised without Nagios.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dnxgo/dnxgo/pkg/config"
	"github.com/dnxgo/dnxgo/pkg/log"
	"github.com/dnxgo/dnxgo/pkg/metrics"
	"github.com/dnxgo/dnxgo/pkg/server"
	"github.com/dnxgo/dnxgo/pkg/transport"
	"github.com/dnxgo/dnxgo/pkg/upstream"
)

var (
	version   = "dev"
	httpAddr  string
	debugFlag bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "dnx-server: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "dnx-server <config-file>",
	Short:   "Run the DNX job dispatch server",
	Args:    cobra.ExactArgs(1),
	Version: version,
	RunE:    run,
}

func init() {
	rootCmd.Flags().StringVar(&httpAddr, "http-addr", "127.0.0.1:9080", "address for the /ingress, /status, and /metrics endpoints")
	rootCmd.Flags().BoolVarP(&debugFlag, "debug", "d", false, "enable debug logging")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.ParseServerConfig(args[0])
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	level := log.InfoLevel
	if debugFlag || cfg.Debug > 0 {
		level = log.DebugLevel
	}
	log.Init(log.Config{Level: level, JSONOutput: true})
	logger := log.WithComponent("main")

	dispatch, err := transport.OpenPassive(cfg.ChannelDispatcher)
	if err != nil {
		return fmt.Errorf("opening dispatch channel: %w", err)
	}
	defer dispatch.Close()

	collect, err := transport.OpenPassive(cfg.ChannelCollector)
	if err != nil {
		return fmt.Errorf("opening collect channel: %w", err)
	}
	defer collect.Close()

	pub := upstream.NewMemoryPublisher()
	srv, err := server.New(cfg, dispatch, collect, pub)
	if err != nil {
		return fmt.Errorf("building server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.Start(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/ingress", ingressHandler(srv))
	mux.HandleFunc("/status", statusHandler(srv, pub))
	httpSrv := &http.Server{Addr: httpAddr, Handler: mux}

	httpErrCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpErrCh <- err
		}
	}()
	logger.Info().Str("http_addr", httpAddr).Str("dispatch", cfg.ChannelDispatcher).Str("collect", cfg.ChannelCollector).Msg("dnx-server started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutdown signal received")
	case err := <-httpErrCh:
		logger.Error().Err(err).Msg("http server error")
	}

	cancel()
	_ = httpSrv.Shutdown(context.Background())
	srv.Wait()
	logger.Info().Msg("dnx-server stopped")
	return nil
}

// ingressRequest mirrors what a monitoring host's check-execution hook
// would supply before running a plugin command itself.
type ingressRequest struct {
	Command     string `json:"command"`
	TimeoutSecs int    `json:"timeoutSecs"`
}

func ingressHandler(srv *server.ServerContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req ingressRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
			return
		}
		if req.Command == "" || req.TimeoutSecs <= 0 {
			http.Error(w, "command and timeoutSecs are required", http.StatusBadRequest)
			return
		}
		result := srv.Ingress(req.Command, req.TimeoutSecs, req.Command)
		w.Header().Set("Content-Type", "application/json")
		if !result.Dispatched {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"declined": result.Declined})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"xid": result.XID.String()})
	}
}

func statusHandler(srv *server.ServerContext, pub *upstream.MemoryPublisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"jobsOccupied":    srv.JobList().Len(),
			"registrySize":    srv.Registry().Len(),
			"resultsObserved": len(pub.Results()),
		})
	}
}
