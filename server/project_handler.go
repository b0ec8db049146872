package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"MixStudio/logger"
	"MixStudio/model"

	"github.com/gorilla/mux"
)

type createProjectRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type addTrackRequest struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// GetProjectsHandler 获取当前用户的全部工程
func (h *APIHandler) GetProjectsHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeMessage(w, http.StatusUnauthorized, "Not authorized")
		return
	}

	projects, err := h.projectRepo.ListByUser(r.Context(), userID)
	if err != nil {
		logger.Error("[Project] 获取工程列表失败", logger.Int64("userID", userID), logger.ErrorField(err))
		writeMessage(w, http.StatusInternalServerError, err.Error())
		return
	}
	if projects == nil {
		projects = []*model.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}

// CreateProjectHandler 创建工程
func (h *APIHandler) CreateProjectHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeMessage(w, http.StatusUnauthorized, "Not authorized")
		return
	}

	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeMessage(w, http.StatusBadRequest, "Please add a title")
		return
	}

	project := &model.Project{
		UserID:      userID,
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
	}
	if err := h.projectRepo.Create(r.Context(), project); err != nil {
		logger.Error("[Project] 创建工程失败", logger.ErrorField(err))
		writeMessage(w, http.StatusInternalServerError, err.Error())
		return
	}

	logger.Info("[Project] 工程已创建", logger.Int64("projectID", project.ID), logger.Int64("userID", userID))
	writeJSON(w, http.StatusCreated, project)
}

// AddTrackHandler appends a track to a project. The track comes either from a
// multipart `audio` upload (with optional `name` and `type` fields) or from a
// JSON body referencing an already stored file.
func (h *APIHandler) AddTrackHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeMessage(w, http.StatusUnauthorized, "Not authorized")
		return
	}

	projectID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeMessage(w, http.StatusNotFound, "Project not found")
		return
	}

	project, err := h.projectRepo.GetByID(r.Context(), projectID)
	if err != nil {
		logger.Error("[Project] 查询工程失败", logger.Int64("projectID", projectID), logger.ErrorField(err))
		writeMessage(w, http.StatusInternalServerError, err.Error())
		return
	}
	if project == nil {
		writeMessage(w, http.StatusNotFound, "Project not found")
		return
	}
	if project.UserID != userID {
		writeMessage(w, http.StatusUnauthorized, "User not authorized")
		return
	}

	var track *model.Track
	uploaded := strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/")
	if uploaded {
		track, err = h.trackFromUpload(w, r)
	} else {
		track, err = trackFromJSON(r)
	}
	if err != nil {
		switch {
		case errors.Is(err, errFileTooLarge):
			writeMessage(w, http.StatusRequestEntityTooLarge, "Uploaded file is too large")
		case errors.Is(err, errNoFile), errors.Is(err, errBadTrack):
			writeMessage(w, http.StatusBadRequest, "Please add a track name and file")
		default:
			logger.Error("[Project] 保存音轨失败", logger.ErrorField(err))
			writeMessage(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	if err := h.projectRepo.AddTracks(r.Context(), projectID, []*model.Track{track}); err != nil {
		logger.Error("[Project] 添加音轨失败", logger.Int64("projectID", projectID), logger.ErrorField(err))
		// 未入库的上传文件不保留
		if uploaded {
			os.Remove(filepath.FromSlash(track.Path))
		}
		writeMessage(w, http.StatusInternalServerError, err.Error())
		return
	}
	if uploaded {
		h.mirrorUpload(filepath.FromSlash(track.Path))
	}

	updated, err := h.projectRepo.GetByID(r.Context(), projectID)
	if err != nil || updated == nil {
		logger.Error("[Project] 重新读取工程失败", logger.Int64("projectID", projectID), logger.ErrorField(err))
		writeMessage(w, http.StatusInternalServerError, "Failed to reload project")
		return
	}

	logger.Info("[Project] 音轨已添加",
		logger.Int64("projectID", projectID),
		logger.Int64("trackID", track.ID),
		logger.String("path", track.Path))
	writeJSON(w, http.StatusCreated, updated)
}

var errBadTrack = errors.New("track name and path are required")

func (h *APIHandler) trackFromUpload(w http.ResponseWriter, r *http.Request) (*model.Track, error) {
	stored, err := h.storeUpload(w, r, "audio")
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		original := stored.Filename
		if _, header, err := r.FormFile("audio"); err == nil {
			original = header.Filename
		}
		name = strings.TrimSuffix(original, filepath.Ext(original))
	}
	return &model.Track{
		Name: name,
		Path: filepath.ToSlash(stored.Path),
		Type: strings.TrimSpace(r.FormValue("type")),
		Size: stored.Size,
	}, nil
}

func trackFromJSON(r *http.Request) (*model.Track, error) {
	var req addTrackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errBadTrack
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Path = strings.TrimSpace(req.Path)
	if req.Name == "" || req.Path == "" {
		return nil, errBadTrack
	}
	return &model.Track{
		Name: req.Name,
		Path: req.Path,
		Type: strings.TrimSpace(req.Type),
		Size: req.Size,
	}, nil
}
