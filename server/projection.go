package server

import (
	"encoding/json"
	"net/http"

	"MixStudio/core/dispatch"
)

const (
	msgNoAudio         = "No audio file uploaded"
	msgFileTooLarge    = "Uploaded file is too large"
	msgInvalidOptions  = "Invalid options: expected a JSON object"
	msgInternal        = "Internal Server Error"
	msgQueued          = "Worker is unavailable. The job was not processed and will not be retried; submit it again later."
	msgProjectNotFound = "Project not found"
	msgNotAuthorized   = "User not authorized"
	msgTrackNotFound   = "Track not found"
	msgTrackBusy       = "Track is already being processed"
	msgWorkerFailed    = "Worker failed to process track"
)

type processResponse struct {
	JobID        string             `json:"jobId"`
	Status       string             `json:"status"`
	Message      string             `json:"message,omitempty"`
	WorkerResult json.RawMessage    `json:"workerResult,omitempty"`
	FileInfo     *dispatch.FileInfo `json:"fileInfo,omitempty"`
}

// projectOutcome maps a dispatch outcome to the HTTP status and JSON body.
// The upload path reports failures under "error", the existing-track path under "message".
func projectOutcome(out dispatch.Outcome) (int, interface{}) {
	if out.Path == dispatch.PathUpload {
		return projectUpload(out)
	}
	return projectExisting(out)
}

func projectUpload(out dispatch.Outcome) (int, interface{}) {
	switch out.Kind {
	case dispatch.KindCompleted:
		return http.StatusOK, processResponse{
			JobID:        out.JobID,
			Status:       "completed",
			WorkerResult: out.WorkerResult,
			FileInfo:     out.FileInfo,
		}
	case dispatch.KindQueued:
		return http.StatusOK, processResponse{
			JobID:    out.JobID,
			Status:   "queued",
			Message:  msgQueued,
			FileInfo: out.FileInfo,
		}
	case dispatch.KindMissingFile:
		return http.StatusBadRequest, map[string]string{"error": msgNoAudio}
	case dispatch.KindInvalidOptions:
		return http.StatusBadRequest, map[string]string{"error": msgInvalidOptions}
	default:
		return http.StatusInternalServerError, map[string]string{"error": msgInternal}
	}
}

func projectExisting(out dispatch.Outcome) (int, interface{}) {
	switch out.Kind {
	case dispatch.KindCompleted:
		return http.StatusOK, processResponse{
			JobID:        out.JobID,
			Status:       "completed",
			WorkerResult: out.WorkerResult,
		}
	case dispatch.KindProjectNotFound:
		return http.StatusNotFound, map[string]string{"message": msgProjectNotFound}
	case dispatch.KindUnauthorized:
		return http.StatusUnauthorized, map[string]string{"message": msgNotAuthorized}
	case dispatch.KindTrackNotFound:
		return http.StatusNotFound, map[string]string{"message": msgTrackNotFound}
	case dispatch.KindInvalidOptions:
		return http.StatusBadRequest, map[string]string{"message": msgInvalidOptions}
	case dispatch.KindTrackBusy:
		return http.StatusConflict, map[string]string{"message": msgTrackBusy}
	case dispatch.KindWorkerFailed:
		return http.StatusBadGateway, map[string]string{"message": msgWorkerFailed}
	default:
		msg := msgInternal
		if out.Err != nil {
			msg = out.Err.Error()
		}
		return http.StatusInternalServerError, map[string]string{"message": msg}
	}
}
