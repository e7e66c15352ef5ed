package api

import (
	"errors"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/sydlexius/iconforge/internal/backup"
	"github.com/sydlexius/iconforge/internal/event"
)

func (r *Router) handleMaintenanceStatus(w http.ResponseWriter, req *http.Request) {
	status, err := r.maintenance.Status(req.Context())
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (r *Router) handleMaintenanceOptimize(w http.ResponseWriter, req *http.Request) {
	if err := r.maintenance.Optimize(req.Context()); err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "optimized"})
}

func (r *Router) handleMaintenanceSweep(w http.ResponseWriter, req *http.Request) {
	n, err := r.maintenance.SweepOrphans(req.Context())
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (r *Router) handleBackupCreate(w http.ResponseWriter, req *http.Request) {
	info, err := r.backups.Backup(req.Context())
	if err != nil {
		r.fail(w, req, err)
		return
	}
	r.publish(event.BackupCompleted, map[string]any{
		"filename": info.Filename,
		"size":     info.Size,
	})
	writeJSON(w, http.StatusCreated, info)
}

func (r *Router) handleBackupList(w http.ResponseWriter, req *http.Request) {
	backups, err := r.backups.List()
	if err != nil {
		r.fail(w, req, err)
		return
	}
	if backups == nil {
		backups = []backup.Info{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"backups": backups})
}

func (r *Router) handleBackupDelete(w http.ResponseWriter, req *http.Request) {
	filename := req.PathValue("filename")
	if !backup.IsValidFilename(filename) {
		writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}
	if err := r.backups.Delete(filename); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "backup not found")
			return
		}
		r.fail(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleBackupDownload(w http.ResponseWriter, req *http.Request) {
	filename := req.PathValue("filename")
	if !backup.IsValidFilename(filename) {
		writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}
	path := filepath.Join(r.backups.Dir(), filename)
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "backup not found")
		return
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.Header().Set("Content-Type", "application/zstd")
	http.ServeFile(w, req, path)
}
