package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/moforw/albaum/internal/config"
	"github.com/moforw/albaum/internal/logging"
	"github.com/moforw/albaum/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	a.engine.StartFlashTimer(a.cfg.Index.FlashInterval)

	opts := []server.Option{server.WithLogger(a.log.Named("http"))}
	if a.cfg.Metrics.Enabled {
		opts = append(opts, server.WithRegistry(a.metrics.Registry()))
	}
	srv := server.New(a.engine, VersionString(), opts...)

	if path := resolveConfigPath(); configFileExists(path) {
		w, err := config.NewWatcher(path, a.cfg, a.log.Named("config"))
		if err != nil {
			a.log.Warn("config reload disabled", zap.Error(err))
		} else {
			defer w.Close()
			w.OnChange(func(c *config.Config) {
				if logLevel != "" {
					return
				}
				if err := logging.SetLevel(a.level, c.Log.Level); err != nil {
					a.log.Warn("ignoring log level", zap.Error(err))
				}
			})
		}
	}

	addr := a.cfg.ListenAddr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("albaum serving",
			zap.String("addr", addr),
			zap.String("journal", a.cfg.Journal.Path),
			zap.String("backend", a.cfg.Journal.Backend))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-done:
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	}
	a.log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(ctx)
}
