package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"MixStudio/core/dispatch"
	"MixStudio/logger"
	"MixStudio/storage"
)

// multipart 表单在内存中保留的上限，超出部分落临时文件
const formMemory = 32 << 20

const mirrorTimeout = 2 * time.Minute

var (
	errNoFile       = errors.New("no file uploaded")
	errFileTooLarge = errors.New("uploaded file is too large")
)

// uniqueFilename builds "<field>-<unix ms>-<random><ext>" for a stored upload.
func uniqueFilename(field, original string) string {
	ext := strings.ToLower(filepath.Ext(original))
	return fmt.Sprintf("%s-%d-%d%s", field, time.Now().UnixMilli(), rand.Int63n(1e9), ext)
}

// storeUpload saves the multipart file in field under UploadDir. It returns
// errNoFile when the request carries no such file.
func (h *APIHandler) storeUpload(w http.ResponseWriter, r *http.Request, field string) (*dispatch.UploadedFile, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes())
	if err := r.ParseMultipartForm(formMemory); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return nil, errFileTooLarge
		case errors.Is(err, http.ErrNotMultipart):
			return nil, errNoFile
		default:
			return nil, fmt.Errorf("parse multipart form: %w", err)
		}
	}

	src, header, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, errNoFile
		}
		return nil, fmt.Errorf("read form file %s: %w", field, err)
	}
	defer src.Close()

	if err := os.MkdirAll(h.cfg.UploadDir, 0755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	name := uniqueFilename(field, header.Filename)
	dest := filepath.Join(h.cfg.UploadDir, name)
	out, err := os.Create(dest)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", dest, err)
	}
	written, err := io.Copy(out, src)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dest)
		return nil, fmt.Errorf("write %s: %w", dest, err)
	}

	logger.Info("[Upload] File stored",
		logger.String("original", header.Filename),
		logger.String("path", dest),
		logger.Int64("size", written))

	return &dispatch.UploadedFile{Path: dest, Filename: name, Size: written}, nil
}

// mirrorUpload copies a stored file to MinIO in the background when mirroring is enabled.
func (h *APIHandler) mirrorUpload(path string) {
	if h.mirror == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()
		if err := h.mirror.MirrorFile(ctx, path, storage.ObjectKey(path)); err != nil {
			logger.Warn("[Upload] Mirror to MinIO failed", logger.String("path", path), logger.ErrorField(err))
		}
	}()
}
