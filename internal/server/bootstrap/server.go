package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"agentorch/internal/domain/task"
	"agentorch/internal/infra/storage"
	"agentorch/internal/observability"
	"agentorch/internal/server/app"
	serverhttp "agentorch/internal/server/http"
	"agentorch/internal/shared/config"

	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 10 * time.Second

// OpenStore returns Postgres when a database URL is configured, else an
// in-memory store. The schema is ensured before returning.
func OpenStore(ctx context.Context, settings config.Settings) (task.Store, func(), error) {
	if strings.TrimSpace(settings.DatabaseURL) == "" {
		return storage.NewMemoryStore(), func() {}, nil
	}
	pg, err := storage.OpenPostgres(ctx, settings.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return nil, nil, err
	}
	return pg, pg.Close, nil
}

// RunServer serves the HTTP API until ctx is cancelled.
func RunServer(ctx context.Context, settings config.Settings, logger *observability.Logger) error {
	container, err := BuildContainer(ctx, settings)
	if err != nil {
		return fmt.Errorf("build container: %w", err)
	}
	defer container.Cleanup()

	store, closeStore, err := OpenStore(ctx, settings)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer closeStore()

	if !strings.EqualFold(settings.LogLevel, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}

	service := app.NewTaskService(store, container.Engine, app.RunDefaults{
		PlannerMode:  settings.PlannerMode,
		ExecutorMode: settings.ExecutorMode,
		RetryBudget:  settings.MaxGraphLoops,
	}, nil)
	router := serverhttp.NewRouter(serverhttp.RouterConfig{
		AppName:        settings.AppName,
		Service:        service,
		Tools:          container.Registry.List(),
		Metrics:        container.Metrics,
		Logger:         logger,
		AllowedOrigins: settings.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:              settings.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", settings.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
