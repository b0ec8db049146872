package model

import (
	"database/sql/driver"
	"errors"
	"time"
)

// JobState is the ledger state of a processing job.
type JobState string

const (
	JobStateDispatching JobState = "dispatching"
	JobStateCompleted   JobState = "completed"
	JobStateFailed      JobState = "failed"
	// JobStateDeferred 上传任务在 Worker 不可用时的终态，任务不会被自动重试
	JobStateDeferred JobState = "deferred"
)

// Terminal reports whether no further transition is expected.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed || s == JobStateDeferred
}

// RawJSON 自定义类型用于 GORM JSON 字段，序列化时原样输出
type RawJSON []byte

// Scan 实现 sql.Scanner 接口
func (j *RawJSON) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[:0], v...)
	case string:
		*j = RawJSON(v)
	default:
		return errors.New("unsupported type for RawJSON")
	}
	return nil
}

// Value 实现 driver.Valuer 接口
func (j RawJSON) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

// MarshalJSON emits the stored document verbatim.
func (j RawJSON) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

// UnmarshalJSON keeps a copy of the raw document.
func (j *RawJSON) UnmarshalJSON(data []byte) error {
	if j == nil {
		return errors.New("RawJSON: UnmarshalJSON on nil pointer")
	}
	*j = append((*j)[:0], data...)
	return nil
}

// ProcessingJob 处理任务台账，每次派发一条记录，以 jobId 为主键
type ProcessingJob struct {
	ID         string     `json:"jobId" gorm:"primaryKey;size:36"`
	TaskType   string     `json:"taskType" gorm:"size:50;not null"`
	Params     RawJSON    `json:"params" gorm:"type:json"`
	TargetPath string     `json:"targetPath" gorm:"size:1024;not null"`
	UserID     *int64     `json:"userId,omitempty" gorm:"index"`
	ProjectID  *int64     `json:"projectId,omitempty" gorm:"index"`
	TrackID    *int64     `json:"trackId,omitempty" gorm:"index"`
	State      JobState   `json:"state" gorm:"size:20;not null;index"`
	Error      string     `json:"error,omitempty" gorm:"type:text"`
	Result     RawJSON    `json:"result,omitempty" gorm:"type:json"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// TableName 指定表名
func (ProcessingJob) TableName() string {
	return "processing_jobs"
}

// JobEvent is pushed to the owning user's websocket connections on every job transition.
type JobEvent struct {
	JobID       string      `json:"jobId"`
	ProjectID   int64       `json:"projectId"`
	TrackID     int64       `json:"trackId"`
	TaskType    string      `json:"taskType"`
	State       JobState    `json:"state"`
	TrackStatus TrackStatus `json:"trackStatus"`
	At          time.Time   `json:"at"`
}
