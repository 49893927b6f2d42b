// cmd/service/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.ngrok.com/ngrok"
	ngrokconfig "golang.ngrok.com/ngrok/config"

	"github-agent-sync/internal/app"
	"github-agent-sync/internal/config"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("Application startup error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Initialize structured logger
	logLevel := new(slog.LevelVar)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// 2. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	config.SetLogLevel(cfg.LogLevel, logLevel)
	config.WatchLogLevel(logLevel, logger)
	logger.Info("Configuration loaded successfully", "db_driver", cfg.DBDriver)

	// 3. Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 4. Open the store and wire components
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// 5. Start serving
	listener, err := listen(ctx, cfg, logger)
	if err != nil {
		return err
	}
	server := &http.Server{
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()

	// 6. Wait for shutdown signal
	logger.Info("Application started. Waiting for shutdown signal...")
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received. Draining requests and running syncs.")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	// a.Close, deferred above, waits for syncs already started.
	return nil
}

// listen exposes the service through an ngrok tunnel when NGROK_DOMAIN is set, otherwise on HTTP_ADDR.
func listen(ctx context.Context, cfg *config.Config, logger *slog.Logger) (net.Listener, error) {
	if cfg.NgrokDomain == "" {
		ln, err := net.Listen("tcp", cfg.HTTPAddr)
		if err != nil {
			return nil, fmt.Errorf("listen on %s: %w", cfg.HTTPAddr, err)
		}
		logger.Info("Listening", "addr", ln.Addr().String())
		return ln, nil
	}

	ln, err := ngrok.Listen(ctx,
		ngrokconfig.HTTPEndpoint(
			ngrokconfig.WithDomain(cfg.NgrokDomain),
		),
		ngrok.WithAuthtokenFromEnv(),
	)
	if err != nil {
		return nil, fmt.Errorf("ngrok tunnel: %w", err)
	}
	logger.Info("Tunnel listening", "url", ln.URL())
	return ln, nil
}
