package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"MixStudio/config"
	"MixStudio/core/dispatch"
	"MixStudio/core/notify"
	"MixStudio/logger"
	"MixStudio/repository"
	"MixStudio/storage"
)

// WorkerProbe reports the worker's health for GET /health.
type WorkerProbe interface {
	Health(ctx context.Context) (map[string]interface{}, error)
	BaseURL() string
}

// APIHandler 处理所有API请求
type APIHandler struct {
	userRepo    repository.UserRepository
	projectRepo repository.ProjectRepository
	jobRepo     repository.JobRepository
	dispatcher  *dispatch.Dispatcher
	worker      WorkerProbe
	mirror      storage.Mirror // nil 表示不镜像到 MinIO
	hub         *notify.JobHub
	cfg         *config.Config
}

// NewAPIHandler 创建新的API处理器
func NewAPIHandler(
	cfg *config.Config,
	userRepo repository.UserRepository,
	projectRepo repository.ProjectRepository,
	jobRepo repository.JobRepository,
	dispatcher *dispatch.Dispatcher,
	worker WorkerProbe,
	mirror storage.Mirror,
	hub *notify.JobHub,
) *APIHandler {
	return &APIHandler{
		userRepo:    userRepo,
		projectRepo: projectRepo,
		jobRepo:     jobRepo,
		dispatcher:  dispatcher,
		worker:      worker,
		mirror:      mirror,
		hub:         hub,
		cfg:         cfg,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("[HTTP] Failed to encode response", logger.ErrorField(err))
	}
}

// writeError 输出 {"error": msg}
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeMessage 输出 {"message": msg}
func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

// HealthHandler reports API liveness and whether the worker answers.
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":  "ok",
		"service": "MixStudio API",
	}

	if h.worker != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		workerInfo := map[string]interface{}{"url": h.worker.BaseURL()}
		if status, err := h.worker.Health(ctx); err != nil {
			workerInfo["status"] = "unreachable"
			workerInfo["error"] = err.Error()
		} else {
			workerInfo["status"] = "online"
			workerInfo["details"] = status
		}
		resp["worker"] = workerInfo
	}

	writeJSON(w, http.StatusOK, resp)
}
