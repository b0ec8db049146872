package model

import (
	"time"
	"unicode"
	"unicode/utf8"
)

// ProjectStatus is the lifecycle state of a project.
type ProjectStatus string

const (
	ProjectStatusActive    ProjectStatus = "Active"
	ProjectStatusArchived  ProjectStatus = "Archived"
	ProjectStatusCompleted ProjectStatus = "Completed"
)

// TrackStatus is the processing state of a single track.
type TrackStatus string

const (
	TrackStatusRaw        TrackStatus = "Raw"
	TrackStatusProcessing TrackStatus = "Processing"
	TrackStatusMastered   TrackStatus = "Mastered"
)

// DefaultTrackType is used when a track is added without a category label.
const DefaultTrackType = "Audio"

// Project 用户的混音工程，包含有序的音轨列表
type Project struct {
	ID          int64         `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID      int64         `json:"user" gorm:"index;not null"`
	Title       string        `json:"title" gorm:"size:255;not null"`
	Description string        `json:"description,omitempty" gorm:"type:text"`
	Status      ProjectStatus `json:"status" gorm:"size:20;default:'Active'"`
	Tracks      []Track       `json:"tracks" gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// TableName 指定表名
func (Project) TableName() string {
	return "projects"
}

// FindTrack returns the project's track with the given ID, or nil.
func (p *Project) FindTrack(trackID int64) *Track {
	for i := range p.Tracks {
		if p.Tracks[i].ID == trackID {
			return &p.Tracks[i]
		}
	}
	return nil
}

// Track 工程中的一条音轨。Path 创建后不可修改。
type Track struct {
	ID        int64       `json:"id" gorm:"primaryKey;autoIncrement"`
	ProjectID int64       `json:"projectId" gorm:"index;not null"`
	Position  int         `json:"position" gorm:"not null;default:0"`
	Name      string      `json:"name" gorm:"size:255;not null"`
	Path      string      `json:"path" gorm:"size:512;not null"`
	Type      string      `json:"type" gorm:"size:50;default:'Audio'"`
	Size      int64       `json:"size,omitempty"`
	Status    TrackStatus `json:"status" gorm:"size:20;default:'Raw';index"`
	Version   int64       `json:"version" gorm:"not null;default:0"` // bumped on every status write
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// TableName 指定表名
func (Track) TableName() string {
	return "tracks"
}

// StemTrackType turns a worker stem key ("vocals") into a track category ("Vocals").
func StemTrackType(stem string) string {
	r, size := utf8.DecodeRuneInString(stem)
	if r == utf8.RuneError {
		return DefaultTrackType
	}
	return string(unicode.ToUpper(r)) + stem[size:]
}
