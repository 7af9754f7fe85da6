package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/fluster/fluster/internal/domain"
)

// ArchiveHandler serves maintenance endpoints: running an archival pass and
// browsing the resulting cold-storage objects. The server gates both behind
// the admin key.
type ArchiveHandler struct {
	archiver domain.Archiver
	blobs    domain.BlobReader
	logger   *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(archiver domain.Archiver, blobs domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{
		archiver: archiver,
		blobs:    blobs,
		logger:   logger,
	}
}

// runArchiveRequest selects the cutoff for an archival pass. A zero
// RetentionDays falls back to 90.
type runArchiveRequest struct {
	RetentionDays int `json:"retention_days"`
}

// RunArchive archives audit entries and fired triggers older than the
// retention window.
// POST /api/admin/archive
func (h *ArchiveHandler) RunArchive(w http.ResponseWriter, r *http.Request) {
	var body runArchiveRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	if body.RetentionDays <= 0 {
		body.RetentionDays = 90
	}
	before := time.Now().UTC().AddDate(0, 0, -body.RetentionDays)

	auditCount, err := h.archiver.ArchiveAuditLog(r.Context(), before)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: archive audit failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to archive audit log")
		return
	}

	triggerCount, err := h.archiver.ArchiveFiredTriggers(r.Context(), before)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: archive triggers failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to archive fired triggers")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"before":            before.Format(timeFormat),
		"audit_archived":    auditCount,
		"triggers_archived": triggerCount,
	})
}

// ListArchives returns archive objects under a prefix.
// GET /api/admin/archives?prefix=archive/audit/
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = "archive/"
	}

	infos, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archives failed",
			slog.String("prefix", prefix),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list archives")
		return
	}

	type blobView struct {
		Path         string `json:"path"`
		Size         int64  `json:"size"`
		LastModified string `json:"last_modified"`
	}
	out := make([]blobView, 0, len(infos))
	for _, info := range infos {
		out = append(out, blobView{
			Path:         info.Path,
			Size:         info.Size,
			LastModified: info.LastModified.UTC().Format(timeFormat),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": out})
}
