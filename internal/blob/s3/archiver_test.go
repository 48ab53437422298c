package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weatheredge/internal/store/memory"
)

type capturingWriter struct {
	paths   []string
	objects [][]byte
}

func (w *capturingWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.paths = append(w.paths, path)
	w.objects = append(w.objects, body)
	return nil
}

func TestSweepArchivesAndPrunes(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	audits := store.Audits()

	for i := 0; i < 3; i++ {
		require.NoError(t, audits.Log(ctx, "trade_approved", map[string]any{"seq": i}))
	}

	writer := &capturingWriter{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	arch := NewArchiver(writer, audits, 0, time.Hour, logger)
	arch.now = func() time.Time { return time.Now().Add(time.Minute) }

	n, err := arch.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.Len(t, writer.objects, 1)

	// Three NDJSON lines, each a decodable record.
	scanner := bufio.NewScanner(bytes.NewReader(writer.objects[0]))
	var lines int
	for scanner.Scan() {
		var rec archiveRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		assert.Equal(t, "trade_approved", rec.Event)
		lines++
	}
	assert.Equal(t, 3, lines)

	// Entries are gone from the primary store.
	remaining, err := audits.ListBefore(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestSweepNothingToArchive(t *testing.T) {
	store := memory.New()
	writer := &capturingWriter{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	arch := NewArchiver(writer, store.Audits(), 24*time.Hour, time.Hour, logger)

	n, err := arch.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, writer.paths)
}
