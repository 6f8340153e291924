package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/referencer/refsync/internal/config"
	"github.com/referencer/refsync/internal/hub"
	"github.com/referencer/refsync/internal/logger"
	"github.com/referencer/refsync/internal/metrics"
	"github.com/referencer/refsync/internal/pprof"
	"github.com/referencer/refsync/internal/relay"
	"github.com/referencer/refsync/internal/room"
	"github.com/referencer/refsync/internal/store"
	"github.com/referencer/refsync/internal/web"
)

const shutdownTimeout = 10 * time.Second

var (
	serveAddr string
	profiling pprof.Config
)

// serveCmd runs the sync server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync server",
	Long:  "Start the WebSocket sync server together with its state, health and metrics endpoints.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Global().Close()

		if serveAddr != "" {
			cfg.ListenAddr = serveAddr
		}

		if profiling.Enabled() {
			prof := pprof.NewHandler(profiling)
			if err := prof.Start(); err != nil {
				return err
			}
			defer func() {
				if err := prof.Stop(); err != nil {
					logger.Warn("Failed to finish profiling: %v", err)
				}
			}()
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, path)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides listen_addr)")
	serveCmd.Flags().StringVar(&profiling.HTTPAddr, "pprof-addr", "", "Serve /debug/pprof on this address")
	serveCmd.Flags().StringVar(&profiling.CPUProfile, "cpu-profile", "", "Write a CPU profile to this file")
	serveCmd.Flags().StringVar(&profiling.HeapProfile, "heap-profile", "", "Write a heap profile to this file on exit")
}

func serve(ctx context.Context, cfg *config.Config, configPath string) error {
	s, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer s.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	var rl *relay.Relay
	opts := room.Options{MailboxSize: cfg.Socket.MailboxSize, Metrics: m}
	if cfg.Redis.Addr != "" {
		rl, err = relay.New(ctx, cfg.Redis, m)
		if err != nil {
			return err
		}
		defer rl.Close()
		opts.Publisher = rl
	}

	h := hub.New()
	rooms := room.NewRegistry(s, h, opts)
	srv := web.NewServer(s, rooms, h, web.Options{
		Addr:     cfg.ListenAddr,
		Socket:   cfg.Socket,
		Auth:     web.NewAuthorizer(cfg.AuthToken),
		Metrics:  m,
		Gatherer: reg,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(srv.Shutdown(sctx), rooms.Close(sctx))
	})
	if rl != nil {
		g.Go(func() error { return rl.Run(gctx, rooms) })
	}
	if _, err := os.Stat(configPath); err == nil {
		g.Go(func() error {
			return config.Watch(gctx, configPath, reloadLogLevel(os.LookupEnv))
		})
	}

	logger.Info("refsync serving on %s with the %s store", cfg.ListenAddr, s.Driver())
	if err := g.Wait(); err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}
	return nil
}
