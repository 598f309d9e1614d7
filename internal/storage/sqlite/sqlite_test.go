package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ChatWidget/internal/lib/logger/handlers/slogdiscard"
	"ChatWidget/internal/storage"
)

func TestStorage_SetGetDelete(t *testing.T) {
	log := slogdiscard.NewDiscardLogger()
	ctx := context.Background()

	s, err := New(filepath.Join(t.TempDir(), "widget.db"), log)
	require.NoError(t, err)
	defer s.Close()

	_, ok, err := s.Get(ctx, storage.KeySessionID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, storage.KeySessionID, "s-1"))
	require.NoError(t, s.Set(ctx, storage.KeySessionID, "s-2"))

	v, ok, err := s.Get(ctx, storage.KeySessionID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "s-2", v)

	require.NoError(t, s.Delete(ctx, storage.KeySessionID))
	_, ok, err = s.Get(ctx, storage.KeySessionID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStorage_SurvivesReopen(t *testing.T) {
	log := slogdiscard.NewDiscardLogger()
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "widget.db")

	s, err := New(dsn, log)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, storage.KeyUserID, "u-1"))
	require.NoError(t, s.Close())

	s, err = New(dsn, log)
	require.NoError(t, err)
	defer s.Close()

	v, ok, err := s.Get(ctx, storage.KeyUserID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "u-1", v)
}

func TestNew_EmptyDSN(t *testing.T) {
	_, err := New("", slogdiscard.NewDiscardLogger())
	require.Error(t, err)
}
