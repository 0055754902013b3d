// Command supervice is the process-supervisor daemon (spec.md §6). It
// loads a config file, takes the pidfile lock, spawns and supervises every
// configured program, serves the Unix-socket control RPC, and optionally
// the read-only HTTP status/metrics page and a SQLite audit sink. Grounded
// on the teacher's cmd/provisr/main.go for the cobra root-command shape,
// reworked from the teacher's "subcommands issue one-shot manager calls"
// design to "the root command itself runs the daemon, has no subcommands,
// and blocks for the daemon's lifetime" since spec.md's daemon is
// long-running, not a one-shot CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/arrowcrest/supervice/internal/config"
	"github.com/arrowcrest/supervice/internal/eventbus"
	"github.com/arrowcrest/supervice/internal/history/factory"
	"github.com/arrowcrest/supervice/internal/httpapi"
	"github.com/arrowcrest/supervice/internal/logger"
	"github.com/arrowcrest/supervice/internal/metrics"
	"github.com/arrowcrest/supervice/internal/orchestrator"
	"github.com/arrowcrest/supervice/internal/pidlock"
	"github.com/arrowcrest/supervice/internal/rpcserver"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "supervice",
		Short: "Process supervisor daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required")
			}
			return run(configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the supervice config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "supervice:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// A first, throwaway config load picks out [supervice] before the
	// logger and pidlock exist, so early failures are reported on stderr
	// instead of silently swallowed.
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	g := cfg.Global

	log := logger.New(os.Stderr, g.Logfile, g.LogMaxBytes, g.LogBackups, logger.ParseLevel(g.LogLevel))
	slog.SetDefault(log)

	if g.Pidfile != "" {
		lock, err := pidlock.Acquire(g.Pidfile)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	bus := eventbus.New(eventbus.DefaultCapacity, log)
	orch, err := orchestrator.New(configPath, bus, log, logger.Config{})
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}

	if g.HistoryDB != "" {
		sink, err := factory.NewSinkFromDSN(g.HistoryDB)
		if err != nil {
			return fmt.Errorf("open history sink: %w", err)
		}
		defer func() { _ = sink.Close() }()
		factory.Subscribe(orch.Bus, sink)
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Warn("metrics registration failed", "err", err)
	}

	var httpSrv *http.Server
	if g.MetricsListen != "" {
		router := httpapi.NewRouter(orch, "")
		httpSrv = &http.Server{
			Addr:              g.MetricsListen,
			Handler:           router.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("http status server stopped", "err", err)
			}
		}()
		log.Info("http status/metrics server listening", "addr", g.MetricsListen)
	}

	socketPath := g.Socket
	if socketPath == "" {
		socketPath = config.DefaultSocketPath
	}
	rpc := rpcserver.New(socketPath, orch, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := orch.Run(ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}
	if err := rpc.Start(ctx); err != nil {
		return fmt.Errorf("start rpc server: %w", err)
	}

	shutdownTimeout := g.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	waitForSignal(log)

	log.Info("shutting down")
	rpc.Stop()
	if httpSrv != nil {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = httpSrv.Shutdown(sctx)
		scancel()
	}
	orch.Shutdown(shutdownTimeout)
	return nil
}

// waitForSignal blocks until SIGINT/SIGTERM request a graceful shutdown.
// SIGHUP is ignored, matching original_source/supervice/core.py's
// _handle_sighup: reload stays exclusively RPC-triggered (spec.md "reload
// remains exclusively RPC-triggered").
func waitForSignal(log *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		switch sig {
		case syscall.SIGHUP:
			log.Info("received SIGHUP, ignoring (use 'reload' command instead)")
		default:
			log.Info("received signal, stopping", "signal", sig.String())
			return
		}
	}
}
