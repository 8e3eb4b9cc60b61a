package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_MissingKey(t *testing.T) {
	s := createTestStore(t)

	value, ok, err := s.Get(context.Background(), "headerDates")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, value)
}

func TestSet_OverwritesValue(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "headerDates", `["a"]`))
	require.NoError(t, s.Set(ctx, "headerDates", `["a","b"]`))

	value, ok, err := s.Get(ctx, "headerDates")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `["a","b"]`, value)
}

func TestSetMany_WritesAllKeys(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetMany(ctx, map[string]string{
		"headerDates":        `["s1"]`,
		"attendanceStatuses": `{"A":["present"]}`,
	}))

	for key, want := range map[string]string{
		"headerDates":        `["s1"]`,
		"attendanceStatuses": `{"A":["present"]}`,
	} {
		got, ok, err := s.Get(ctx, key)
		require.NoError(t, err)
		require.True(t, ok, key)
		assert.Equal(t, want, got)
	}
}

func TestSet_EmptyValueIsStored(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", ""))
	value, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "", value)
}

func TestSet_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Set(ctx, "headerDates", `["Session 1 3/10"]`))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	value, ok, err := s2.Get(ctx, "headerDates")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `["Session 1 3/10"]`, value)
}

func TestGet_ClosedStore(t *testing.T) {
	s := createTestStore(t)
	require.NoError(t, s.Close())

	_, _, err := s.Get(context.Background(), "headerDates")
	require.Error(t, err)
	require.Error(t, s.Set(context.Background(), "headerDates", "[]"))
}
