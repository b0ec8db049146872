package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"

	"MixStudio/core/dispatch"
	"MixStudio/logger"
)

// ProcessUploadHandler handles POST /api/process: multipart `audio` plus
// optional `taskType` and `options` (a JSON object encoded as a string).
func (h *APIHandler) ProcessUploadHandler(w http.ResponseWriter, r *http.Request) {
	stored, err := h.storeUpload(w, r, "audio")
	switch {
	case errors.Is(err, errNoFile):
		stored = nil
	case errors.Is(err, errFileTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, msgFileTooLarge)
		return
	case err != nil:
		logger.Error("[Process] 保存上传文件失败", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}

	out := h.dispatcher.ProcessUpload(r.Context(), stored, r.FormValue("taskType"), r.FormValue("options"))

	switch out.Kind {
	case dispatch.KindInvalidOptions:
		// 未派发的上传不保留
		if stored != nil {
			os.Remove(stored.Path)
		}
	case dispatch.KindCompleted, dispatch.KindQueued:
		h.mirrorUpload(stored.Path)
	}

	h.respond(w, out)
}

// flexibleID accepts ids sent as JSON numbers or numeric strings.
type flexibleID int64

func (id *flexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*id = 0
		return nil
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return err
	}
	*id = flexibleID(v)
	return nil
}

type processExistingRequest struct {
	ProjectID flexibleID      `json:"projectId"`
	TrackID   flexibleID      `json:"trackId"`
	TaskType  string          `json:"taskType"`
	Options   json.RawMessage `json:"options"`
}

// ProcessExistingHandler handles POST /api/process/existing.
func (h *APIHandler) ProcessExistingHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeMessage(w, http.StatusUnauthorized, "Not authorized")
		return
	}

	var req processExistingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	options, err := dispatch.OptionsFromJSON(req.Options)
	if err != nil {
		// 交给 dispatcher 解析，保证先做归属校验再报 400
		options = string(req.Options)
	}

	out := h.dispatcher.ProcessExisting(r.Context(), dispatch.ExistingRequest{
		UserID:    userID,
		ProjectID: int64(req.ProjectID),
		TrackID:   int64(req.TrackID),
		TaskType:  req.TaskType,
		Options:   options,
	})
	h.respond(w, out)
}

func (h *APIHandler) respond(w http.ResponseWriter, out dispatch.Outcome) {
	status, body := projectOutcome(out)
	if status >= http.StatusInternalServerError {
		logger.Error("[Process] 请求失败",
			logger.String("jobID", out.JobID),
			logger.String("outcome", out.Kind.String()),
			logger.Int("status", status),
			logger.ErrorField(out.Err))
	}
	writeJSON(w, status, body)
}
