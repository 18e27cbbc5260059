package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dresswatch/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "dresswatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Init(context.Background()))
	return st
}

func TestUpsertEventRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestSQLite(t)

	ev := model.DetectionEvent{
		ID:            "VIO030125ABCD",
		CameraID:      "camera1",
		Date:          "2025-03-01",
		Time:          "10:11:12",
		ClassLabel:    "cap",
		Kind:          model.KindViolation,
		ConfidencePct: 80,
		FrameURL:      "/frames/VIO030125ABCD_101112.jpg",
		Status:        model.StatusPending,
	}
	require.NoError(t, st.UpsertEvent(ctx, CollectionReview, ev))

	ev.ConfidencePct = 91.25
	require.NoError(t, st.UpsertEvent(ctx, CollectionReview, ev))

	got, err := st.ListEvents(ctx, CollectionReview, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ev, got[0])

	other, err := st.ListEvents(ctx, CollectionNonViolation, 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestUpsertEventRejectsUnknownCollection(t *testing.T) {
	st := newTestSQLite(t)
	err := st.UpsertEvent(context.Background(), "events; DROP TABLE reviewlogs", model.DetectionEvent{ID: "x"})
	assert.True(t, errors.Is(err, ErrUnknownCollection))
}

func TestExemptionCRUD(t *testing.T) {
	ctx := context.Background()
	st := newTestSQLite(t)

	doc := model.ExemptionDoc{ID: "m1", Status: "Allowed", DressCode: "Cap", StartDate: "03-01-2025", EndDate: "03-05-2025"}
	require.NoError(t, st.SaveExemption(ctx, doc))
	require.NoError(t, st.SaveExemption(ctx, model.ExemptionDoc{ID: "m2", Status: "Denied", DressCode: "Shorts", StartDate: "03-01-2025", EndDate: "03-01-2025"}))

	doc.EndDate = "03-09-2025"
	require.NoError(t, st.SaveExemption(ctx, doc))

	docs, err := st.ListExemptions(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, doc, docs[0])

	require.NoError(t, st.DeleteExemption(ctx, "m2"))
	assert.ErrorIs(t, st.DeleteExemption(ctx, "m2"), ErrNotFound)
}

func TestCollectionFor(t *testing.T) {
	assert.Equal(t, CollectionReview, CollectionFor(model.KindViolation))
	assert.Equal(t, CollectionNonViolation, CollectionFor(model.KindNonViolation))
}
