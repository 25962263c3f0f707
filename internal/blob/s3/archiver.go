package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/coderashu-1/Trade/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// BetArchiveStore is the slice of the bet store the archiver needs.
type BetArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.BetRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ObjectChecker reports whether an archive object already exists.
type ObjectChecker interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// BetArchiver implements domain.Archiver. Bets are only deleted from the
// store after the upload succeeded.
type BetArchiver struct {
	writer  domain.BlobWriter
	objects ObjectChecker
	store   BetArchiveStore
	logger  *slog.Logger
	now     func() time.Time
}

// NewArchiver builds a BetArchiver. objects may be nil, in which case an
// existing archive for the same month is overwritten.
func NewArchiver(writer domain.BlobWriter, objects ObjectChecker, store BetArchiveStore, logger *slog.Logger) *BetArchiver {
	return &BetArchiver{
		writer:  writer,
		objects: objects,
		store:   store,
		logger:  logger.With(slog.String("component", "archiver")),
		now:     time.Now,
	}
}

// ArchiveBets exports every bet resolved before the cutoff as JSONL, uploads
// it and then removes the exported rows. It returns the number archived.
func (a *BetArchiver) ArchiveBets(ctx context.Context, before time.Time) (int64, error) {
	bets, err := a.store.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive bets: query: %w", err)
	}
	if len(bets) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(bets)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive bets: %w", err)
	}

	path, err := a.pathFor(ctx, before)
	if err != nil {
		return 0, err
	}
	if int64(len(buf)) > minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive bets: upload: %w", err)
	}

	deleted, err := a.store.DeleteBefore(ctx, before)
	if err != nil {
		return int64(len(bets)), fmt.Errorf("s3blob: archive bets: delete archived rows: %w", err)
	}
	if deleted != int64(len(bets)) {
		a.logger.Warn("archived and deleted row counts differ",
			slog.Int("archived", len(bets)),
			slog.Int64("deleted", deleted),
		)
	}

	a.logger.Info("bets archived",
		slog.String("path", path),
		slog.Int("count", len(bets)),
		slog.Time("before", before),
	)
	return int64(len(bets)), nil
}

// pathFor picks archive/bets/YYYY-MM.jsonl, adding a timestamp suffix when
// that month was already archived.
func (a *BetArchiver) pathFor(ctx context.Context, before time.Time) (string, error) {
	path := archivePath("bets", before)
	if a.objects == nil {
		return path, nil
	}
	exists, err := a.objects.Exists(ctx, path)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive bets: %w", err)
	}
	if !exists {
		return path, nil
	}
	return fmt.Sprintf("archive/bets/%s-%d.jsonl", before.UTC().Format("2006-01"), a.now().Unix()), nil
}

func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}

// marshalJSONL writes one compact JSON document per line.
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

var _ domain.Archiver = (*BetArchiver)(nil)
