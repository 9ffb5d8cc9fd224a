// Package app wires the relay services into an HTTP application.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"llm-relay/internal/llm"
)

// shutdownTimeout bounds graceful shutdown after the context is cancelled.
const shutdownTimeout = 5 * time.Second

// App represents the serve-mode application with its router and relay state.
type App struct {
	Router chi.Router
	State  *llm.ServerState
	logger *zap.Logger
}

// NewApp creates and initializes the application.
func NewApp(cfg *llm.Config, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	state := llm.NewServerState(cfg, logger)
	state.RegisterRoutes(router)

	return &App{
		Router: router,
		State:  state,
		logger: logger,
	}
}

// Run serves the API on addr until ctx is cancelled, then shuts down
// gracefully.
func (a *App) Run(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:    addr,
		Handler: a.Router,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return server.Shutdown(shutdownCtx)
}
