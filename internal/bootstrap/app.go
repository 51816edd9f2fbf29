package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/namtroi/ragbase/internal/infra/config"
	"github.com/namtroi/ragbase/internal/infra/ingest/worker"
)

// App encapsulates the HTTP server lifecycle. The worker dispatcher has no
// lifecycle of its own by the time Run starts (it was already installed as
// the job queue's handler during wiring); it is held here only so Wire's
// dependency graph keeps it alive for the process lifetime.
type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	server     *http.Server
	dispatcher *worker.Dispatcher
}

// NewApp is used by Wire to build the runnable app.
func NewApp(cfg *config.Config, logger *slog.Logger, server *http.Server, dispatcher *worker.Dispatcher) *App {
	return &App{cfg: cfg, logger: logger.With("component", "bootstrap"), server: server, dispatcher: dispatcher}
}

// Run starts the HTTP server and blocks until shutdown.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("http server starting", "address", a.cfg.HTTP.Address)
		if err := a.server.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.logger.Info("shutdown signal received")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
