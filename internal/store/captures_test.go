package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteCapture_ListInOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteCapture(ctx, createTestCapture("c-1", 0, "A")))
	require.NoError(t, s.WriteCapture(ctx, createTestCapture("c-2", 0, "B")))
	require.NoError(t, s.WriteCapture(ctx, createTestCapture("c-3", 1)))

	all, err := s.ListCaptures(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c-1", all[0].ID)
	assert.Equal(t, "c-2", all[1].ID)
	assert.Equal(t, "c-3", all[2].ID)
	assert.Less(t, all[0].Seq, all[1].Seq)
	assert.Equal(t, []string{"A"}, all[0].Recognized)
	assert.Equal(t, []string{}, all[2].Recognized)
	assert.Equal(t, []string{}, all[2].Unknown)
	assert.Equal(t, 2026, all[0].CapturedAt.Year())
}

func TestWriteCapture_DuplicateIDIsNoOp(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteCapture(ctx, createTestCapture("c-1", 0, "A")))
	require.NoError(t, s.WriteCapture(ctx, createTestCapture("c-1", 0, "B")))

	all, err := s.ListCaptures(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, []string{"A"}, all[0].Recognized)
}

func TestListCaptures_FilterBySlot(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteCapture(ctx, createTestCapture("c-1", 0, "A")))
	rec := createTestCapture("c-2", 1, "B")
	rec.Unknown = []string{"unknown"}
	require.NoError(t, s.WriteCapture(ctx, rec))

	slot := 1
	got, err := s.ListCaptures(ctx, &slot)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c-2", got[0].ID)
	assert.Equal(t, []string{"unknown"}, got[0].Unknown)

	empty := 7
	got, err = s.ListCaptures(ctx, &empty)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
