package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fluster/fluster/internal/domain"
)

// TriggerArchiveStore provides read access to fired triggers for archival
// purposes. The trigger store satisfies it through ListFiredBefore.
type TriggerArchiveStore interface {
	ListFiredBefore(ctx context.Context, before time.Time) ([]domain.ScheduledTrigger, error)
}

// ArchiveImpl implements domain.Archiver by querying the primary stores for
// old records, serializing them to JSONL, and uploading the result to S3.
//
// Deletion of the archived records from the primary store is intentionally
// NOT performed here -- that is a separate, explicit step to be executed
// after the archive has been verified.
type ArchiveImpl struct {
	writer   domain.BlobWriter
	audit    domain.AuditStore
	triggers TriggerArchiveStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, audit domain.AuditStore, triggers TriggerArchiveStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer:   writer,
		audit:    audit,
		triggers: triggers,
	}
}

// ArchiveAuditLog queries all audit entries before the cutoff, serializes
// them to JSONL, and uploads the file to S3 at archive/audit/YYYY-MM.jsonl.
// The archival event itself is recorded in the audit log and the count of
// archived records is returned.
func (a *ArchiveImpl) ArchiveAuditLog(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := archivePath("audit", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	count := int64(len(entries))

	if err := a.audit.Log(ctx, "archive.audit", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive audit log: %w", err)
	}

	return count, nil
}

// ArchiveFiredTriggers queries all fired settlement triggers before the
// cutoff, serializes them to JSONL, and uploads the file to S3 at
// archive/triggers/YYYY-MM.jsonl. The archival event is recorded in the
// audit log and the count of archived records is returned.
func (a *ArchiveImpl) ArchiveFiredTriggers(ctx context.Context, before time.Time) (int64, error) {
	triggers, err := a.triggers.ListFiredBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive triggers query: %w", err)
	}
	if len(triggers) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(triggers)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive triggers marshal: %w", err)
	}

	path := archivePath("triggers", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive triggers upload: %w", err)
	}

	count := int64(len(triggers))

	if err := a.audit.Log(ctx, "archive.triggers", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive triggers audit log: %w", err)
	}

	return count, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/audit/2025-01.jsonl
//	archive/triggers/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
