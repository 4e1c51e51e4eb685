package http

import (
	"errors"
	"net/http"

	"agentorch/internal/domain/task"
	"agentorch/internal/server/app"

	"github.com/gin-gonic/gin"
)

// APIHandler serves the task endpoints.
type APIHandler struct {
	appName string
	service *app.TaskService
	tools   []string
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// CreateTaskRequest is the POST /tasks body.
type CreateTaskRequest struct {
	Prompt  string            `json:"prompt" binding:"required,min=1"`
	Context map[string]string `json:"context"`
}

// HandleHealth handles GET /health.
func (h *APIHandler) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": h.appName})
}

// HandleTools handles GET /tools.
func (h *APIHandler) HandleTools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tools": h.tools})
}

// HandleCreateTask handles POST /tasks.
func (h *APIHandler) HandleCreateTask(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, http.StatusUnprocessableEntity, "Invalid request body", err)
		return
	}
	rec, err := h.service.CreateTask(c.Request.Context(), req.Prompt, req.Context)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// HandleGetTask handles GET /tasks/:id.
func (h *APIHandler) HandleGetTask(c *gin.Context) {
	rec, err := h.service.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// HandleRunTask handles POST /tasks/:id/run.
func (h *APIHandler) HandleRunTask(c *gin.Context) {
	rec, err := h.service.RunTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// HandleLatestRun handles GET /tasks/:id/runs/latest.
func (h *APIHandler) HandleLatestRun(c *gin.Context) {
	run, err := h.service.LatestRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *APIHandler) writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		h.writeError(c, http.StatusNotFound, "Task not found", nil)
	case errors.Is(err, task.ErrTaskRunNotFound):
		h.writeError(c, http.StatusNotFound, "Task run not found", nil)
	case errors.Is(err, app.ErrValidation):
		h.writeError(c, http.StatusUnprocessableEntity, "Invalid request body", err)
	case errors.Is(err, app.ErrRunFailed):
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "Task run failed"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
	}
}

func (h *APIHandler) writeError(c *gin.Context, status int, message string, err error) {
	resp := errorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
		_ = c.Error(err)
	}
	c.JSON(status, resp)
}
