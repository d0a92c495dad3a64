package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Brownie44l1/asl-api/internal/handlers"
	"github.com/Brownie44l1/asl-api/internal/metrics"
)

func serveCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}

	cmd.Flags().String("port", "", "Listen port (default 8080, or $PORT)")
	_ = a.v.BindPFlag("server.port", cmd.Flags().Lookup("port"))

	return cmd
}

// serve runs the API until ctx is cancelled or SIGINT/SIGTERM arrives.
func (a *app) serve(ctx context.Context) error {
	s := a.settings

	m, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	engine, prov, err := a.newEngine(m)
	if err != nil {
		return err
	}
	defer a.release(prov)

	h := handlers.NewHandler(engine,
		handlers.WithCache(s.Server.CacheTTL),
		handlers.WithMetrics(m),
		handlers.WithLogger(a.logger))
	e := handlers.NewEcho(h, s.Server.MaxUploadBytes, a.logger.With("module", "http"))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	addr := ":" + s.Server.Port

	g.Go(func() error {
		a.logger.Info("server starting",
			"addr", addr,
			"classes", len(engine.Labels()),
			"endpoints", []string{"GET /health", "POST /predict", "POST /predict/image", "GET /metrics"})
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.Server.ShutdownTimeout)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
