package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/coderashu-1/Trade/internal/domain"
	"github.com/coderashu-1/Trade/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	objects map[string][]byte
	err     error
}

func (f *fakeWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if f.err != nil {
		return f.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.objects[path] = b
	return nil
}

func (f *fakeWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return f.Put(ctx, path, data, "")
}

func (f *fakeWriter) Exists(_ context.Context, path string) (bool, error) {
	_, ok := f.objects[path]
	return ok, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seed(t *testing.T, s *memory.Store, id string, at time.Time) {
	t.Helper()
	require.NoError(t, s.RecordBet(context.Background(), domain.BetRecord{
		ID: id, UserID: "u1", Key: "BINANCE:BTCUSDT", Outcome: domain.OutcomeLost, PnL: -5, ResolvedAt: at,
	}))
}

func TestArchiveBets(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	cutoff := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	seed(t, store, "old-1", cutoff.Add(-72*time.Hour))
	seed(t, store, "old-2", cutoff.Add(-time.Hour))
	seed(t, store, "new", cutoff.Add(time.Hour))

	w := &fakeWriter{objects: map[string][]byte{}}
	a := NewArchiver(w, w, store, testLogger())

	n, err := a.ArchiveBets(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	body, ok := w.objects["archive/bets/2026-02.jsonl"]
	require.True(t, ok)
	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		var rec domain.BetRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []string{"old-1", "old-2"}, ids)

	left, err := store.ListBefore(ctx, cutoff.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "new", left[0].ID)
}

func TestArchiveBetsDoesNotOverwrite(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	cutoff := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	seed(t, store, "b1", cutoff.Add(-time.Hour))

	w := &fakeWriter{objects: map[string][]byte{"archive/bets/2026-02.jsonl": []byte("{}\n")}}
	a := NewArchiver(w, w, store, testLogger())
	a.now = func() time.Time { return time.Unix(1700000000, 0) }

	_, err := a.ArchiveBets(ctx, cutoff)
	require.NoError(t, err)
	assert.Contains(t, w.objects, "archive/bets/2026-02-1700000000.jsonl")
	assert.Equal(t, []byte("{}\n"), w.objects["archive/bets/2026-02.jsonl"])
}

func TestArchiveBetsKeepsRowsOnUploadFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	cutoff := time.Now()
	seed(t, store, "b1", cutoff.Add(-time.Hour))

	w := &fakeWriter{objects: map[string][]byte{}, err: errors.New("bucket gone")}
	_, err := NewArchiver(w, nil, store, testLogger()).ArchiveBets(ctx, cutoff)
	require.Error(t, err)

	_, err = store.GetBet(ctx, "b1")
	assert.NoError(t, err)
}

func TestArchiveBetsNothingToDo(t *testing.T) {
	w := &fakeWriter{objects: map[string][]byte{}}
	n, err := NewArchiver(w, w, memory.New(), testLogger()).ArchiveBets(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.objects)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio.local:9000", normaliseEndpoint("minio.local:9000", true))
	assert.Equal(t, "http://minio.local:9000", normaliseEndpoint("minio.local:9000", false))
	assert.Equal(t, "https://e2.example.com", normaliseEndpoint("https://e2.example.com", false))
}
