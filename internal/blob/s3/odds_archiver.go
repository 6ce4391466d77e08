package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/infofisync/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// OddsSource lists odds points older than a cutoff.
type OddsSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.OddsPoint, error)
}

// OddsArchiver implements domain.OddsArchiver: it writes every odds point
// older than the cutoff to one JSONL object. It never deletes; pruning is
// the caller's next step once the upload succeeded.
type OddsArchiver struct {
	writer domain.BlobWriter
	source OddsSource
	audit  domain.AuditStore
}

// NewOddsArchiver creates an OddsArchiver. audit may be nil.
func NewOddsArchiver(writer domain.BlobWriter, source OddsSource, audit domain.AuditStore) *OddsArchiver {
	return &OddsArchiver{writer: writer, source: source, audit: audit}
}

// ArchiveOdds uploads the points older than before and returns how many were
// archived.
func (a *OddsArchiver) ArchiveOdds(ctx context.Context, before time.Time) (int64, error) {
	points, err := a.source.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive odds query: %w", err)
	}
	if len(points) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(points)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive odds marshal: %w", err)
	}

	path := oddsArchivePath(before)
	if int64(len(buf)) > minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive odds upload: %w", err)
	}

	count := int64(len(points))
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.odds", map[string]any{
			"path":   path,
			"count":  count,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive odds audit log: %w", err)
		}
	}
	return count, nil
}

// oddsArchivePath partitions archives by cutoff day; the time of day keeps
// repeated runs on the same day from overwriting each other.
//
//	archive/odds/2026-05-01/120000.jsonl
func oddsArchivePath(before time.Time) string {
	b := before.UTC()
	return fmt.Sprintf("archive/odds/%s/%s.jsonl", b.Format("2006-01-02"), b.Format("150405"))
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range records {
		if err := enc.Encode(records[i]); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
