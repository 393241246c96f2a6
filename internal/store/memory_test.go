package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/documentextraction/internal/models"
	"github.com/Lllllllleong/documentextraction/internal/state"
)

var _ state.Store = (*Memory)(nil)
var _ state.Store = (*Firestore)(nil)

func TestMemory_UpsertRead(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	doc := models.NewDocument("gs://bucket/invoices/2024/a.pdf", "invoices", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	doc.ExtractedData.GPTExtractionOutput["pages_1-all"] = map[string]interface{}{"total": 10.0}

	require.NoError(t, s.Upsert(ctx, doc))
	doc.ExtractedData.Summary = "changed after write"

	got, err := s.Read(ctx, "bucket__invoices__2024__a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "invoices", got.Dataset)
	assert.Empty(t, got.ExtractedData.Summary, "stored copy is isolated from the caller")
	assert.Equal(t, map[string]interface{}{"total": 10.0}, got.ExtractedData.GPTExtractionOutput["pages_1-all"])
	assert.True(t, got.State.FileLanded)
}

func TestMemory_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	doc := models.NewDocument("gs://b/ds/x.pdf", "ds", time.Now())

	require.NoError(t, s.Upsert(ctx, doc))
	doc.State.OCR.Status = models.StatusCompleted
	require.NoError(t, s.Upsert(ctx, doc))

	got, err := s.Read(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.State.OCR.Status)
	assert.Equal(t, 2, s.Writes())
}

func TestMemory_NotFound(t *testing.T) {
	_, err := NewMemory().Read(context.Background(), "missing")
	assert.ErrorIs(t, err, state.ErrNotFound)
	assert.Error(t, NewMemory().Upsert(context.Background(), &models.Document{}))
}
