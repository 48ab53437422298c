package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"weatheredge/internal/domain"
)

// pageSize bounds how many audit entries one archive object holds.
const pageSize = 1000

// ObjectWriter is the narrow upload interface the archiver needs; the S3
// Client satisfies it.
type ObjectWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver pages expired audit entries out to object storage as NDJSON and
// prunes them from the primary store. An entry is pruned only after the
// object holding it has been uploaded.
type Archiver struct {
	writer    ObjectWriter
	audits    domain.AuditStore
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewArchiver creates an audit archiver. retention is how long entries stay
// in the primary store; interval is how often Run sweeps.
func NewArchiver(writer ObjectWriter, audits domain.AuditStore, retention, interval time.Duration, logger *slog.Logger) *Archiver {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Archiver{
		writer:    writer,
		audits:    audits,
		retention: retention,
		interval:  interval,
		logger:    logger.With("component", "audit_archiver"),
		now:       time.Now,
	}
}

// Run sweeps on the configured interval until ctx is cancelled. Sweep
// failures are logged and retried on the next tick.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n, err := a.Sweep(ctx); err != nil {
				a.logger.Error("archive sweep failed", "error", err)
			} else if n > 0 {
				a.logger.Info("archive sweep completed", "entries", n)
			}
		}
	}
}

// Sweep archives and prunes every audit entry older than the retention
// window, one page at a time. It returns the number of entries archived.
func (a *Archiver) Sweep(ctx context.Context) (int64, error) {
	cutoff := a.now().UTC().Add(-a.retention)

	var total int64
	for {
		entries, err := a.audits.ListBefore(ctx, cutoff, pageSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: list audit page: %w", err)
		}
		if len(entries) == 0 {
			return total, nil
		}

		buf, err := marshalNDJSON(entries)
		if err != nil {
			return total, fmt.Errorf("s3blob: encode audit page: %w", err)
		}

		path := archivePath(entries[0], entries[len(entries)-1])
		if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return total, fmt.Errorf("s3blob: upload audit page: %w", err)
		}

		// Entries are ordered oldest first, so pruning strictly before
		// the instant after the page's last entry removes exactly the
		// uploaded page.
		pruneCutoff := entries[len(entries)-1].CreatedAt.Add(time.Nanosecond)
		deleted, err := a.audits.DeleteBefore(ctx, pruneCutoff)
		if err != nil {
			return total, fmt.Errorf("s3blob: prune audit page: %w", err)
		}
		total += deleted

		if len(entries) < pageSize {
			return total, nil
		}
	}
}

// archivePath builds the object key for one page, partitioned by the day of
// the page's first entry:
//
//	audit/2026-08-29/audit-000104-000982.ndjson
func archivePath(first, last domain.AuditEntry) string {
	return fmt.Sprintf("audit/%s/audit-%06d-%06d.ndjson",
		first.CreatedAt.UTC().Format("2006-01-02"), first.ID, last.ID)
}

// marshalNDJSON serialises entries as newline-delimited JSON, one compact
// object per line.
func marshalNDJSON(entries []domain.AuditEntry) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i := range entries {
		if err := enc.Encode(archiveRecord{
			ID:        entries[i].ID,
			Event:     entries[i].Event,
			Detail:    entries[i].Detail,
			CreatedAt: entries[i].CreatedAt.UTC(),
		}); err != nil {
			return nil, fmt.Errorf("ndjson encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// archiveRecord is the stable wire form of an audit entry in the archive.
type archiveRecord struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
