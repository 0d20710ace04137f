package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sakura-kun-88/startup-compass-89/pkg/api"
	"github.com/sakura-kun-88/startup-compass-89/pkg/config"
)

func runServer(stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger := newLogger(cfg, stderr)
	slog.SetDefault(logger)

	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: listen on port %s: %v\n", cfg.Port, err)
		return 2
	}
	if err := serve(ctx, cfg, ln, stdout); err != nil {
		logger.Error("server stopped", "error", err)
		return 1
	}
	return 0
}

// serve runs the API on ln until ctx is done, then shuts down gracefully.
func serve(ctx context.Context, cfg *config.Config, ln net.Listener, stdout io.Writer) error {
	a, err := buildApp(ctx, cfg, appOptions{})
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			slog.Error("shutdown", "error", err)
		}
	}()

	srv := &http.Server{
		Handler: api.NewServer(a.coord, api.Options{
			Journal:      a.journal,
			Validator:    a.validator,
			RequireToken: cfg.JWTRequired,
			Limiter:      api.NewRateLimiter(20, 40),
			Provider:     a.provider,
		}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	_, _ = fmt.Fprintf(stdout, "StartupOps listening on %s\n", ln.Addr())
	slog.InfoContext(ctx, "server starting",
		"addr", ln.Addr().String(),
		"categories", a.coord.Registry().Names(),
		"postgres", cfg.UsesPostgres(),
		"redis", cfg.RedisAddr != "",
		"otel", cfg.OTelEnabled,
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	slog.Info("server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
