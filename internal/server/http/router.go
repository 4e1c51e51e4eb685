// Package http exposes the task API over gin.
package http

import (
	"io"
	"net/http"
	"sort"

	"agentorch/internal/observability"
	"agentorch/internal/server/app"

	"github.com/gin-gonic/gin"
)

// RouterConfig wires the API handlers.
type RouterConfig struct {
	AppName        string
	Service        *app.TaskService
	Tools          []string
	Metrics        *observability.MetricsCollector
	Logger         *observability.Logger
	AllowedOrigins []string
}

// NewRouter builds the gin engine with middleware and every route.
func NewRouter(config RouterConfig) *gin.Engine {
	logger := config.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{Output: io.Discard})
	}

	tools := append([]string(nil), config.Tools...)
	sort.Strings(tools)

	handler := &APIHandler{
		appName: config.AppName,
		service: config.Service,
		tools:   tools,
	}

	engine := gin.New()
	engine.Use(Recovery(logger), RequestLogger(logger), CORS(config.AllowedOrigins))

	engine.GET("/health", handler.HandleHealth)
	engine.GET("/tools", handler.HandleTools)

	tasks := engine.Group("/tasks")
	{
		tasks.POST("", handler.HandleCreateTask)
		tasks.GET("/:id", handler.HandleGetTask)
		tasks.POST("/:id/run", handler.HandleRunTask)
		tasks.GET("/:id/runs/latest", handler.HandleLatestRun)
	}

	engine.GET("/metrics", gin.WrapH(config.Metrics.Handler()))
	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorResponse{Error: "Not found"})
	})
	return engine
}
