package dispatch

import "encoding/json"

// Path identifies which entry point produced an outcome.
type Path int

const (
	PathUpload Path = iota
	PathExisting
)

// Kind is the terminal state of one dispatch.
type Kind int

const (
	KindCompleted Kind = iota
	// KindQueued: upload path, worker unreachable or failing. The job is not retried.
	KindQueued
	KindMissingFile
	KindInvalidOptions
	KindProjectNotFound
	KindUnauthorized
	KindTrackNotFound
	// KindTrackBusy: another job holds the track.
	KindTrackBusy
	// KindWorkerFailed: existing-track path, worker fault; status was restored.
	KindWorkerFailed
	KindInternal
)

var kindNames = map[Kind]string{
	KindCompleted:       "completed",
	KindQueued:          "queued",
	KindMissingFile:     "missing_file",
	KindInvalidOptions:  "invalid_options",
	KindProjectNotFound: "project_not_found",
	KindUnauthorized:    "unauthorized",
	KindTrackNotFound:   "track_not_found",
	KindTrackBusy:       "track_busy",
	KindWorkerFailed:    "worker_failed",
	KindInternal:        "internal_error",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// FileInfo describes the stored upload echoed back to the caller.
type FileInfo struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

// Outcome is everything the HTTP layer needs to render a dispatch result.
type Outcome struct {
	Path         Path
	Kind         Kind
	JobID        string
	WorkerResult json.RawMessage
	FileInfo     *FileInfo
	Err          error
}

func (o Outcome) with(kind Kind, err error) Outcome {
	o.Kind = kind
	o.Err = err
	return o
}
