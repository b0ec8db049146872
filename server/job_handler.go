package server

import (
	"net/http"

	"MixStudio/logger"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// GetJobHandler returns the ledger record of a job.
func (h *APIHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]

	job, err := h.jobRepo.GetByID(r.Context(), jobID)
	if err != nil {
		logger.Error("[Job] 查询任务失败", logger.String("jobID", jobID), logger.ErrorField(err))
		writeMessage(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job == nil {
		writeMessage(w, http.StatusNotFound, "Job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// JobEventsHandler upgrades to a websocket that streams the user's job events.
func (h *APIHandler) JobEventsHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeMessage(w, http.StatusUnauthorized, "Not authorized")
		return
	}
	if h.hub == nil {
		writeMessage(w, http.StatusServiceUnavailable, "Job events are not enabled")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("[WS] websocket upgrade failed", logger.ErrorField(err))
		return
	}
	h.hub.Serve(conn, userID)
}
