package local

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/spaform/internal/imagestore"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	return s
}

func TestSaveAndGet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	data := []byte("fake png data")

	key, err := s.Save(ctx, "spa_1", "image/png", bytes.NewReader(data))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "spa_1_"))
	assert.True(t, strings.HasSuffix(key, ".png"))

	r, mimeType, err := s.Get(ctx, key)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, "image/png", mimeType)

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestSaveKeysAreUnique(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	a, err := s.Save(ctx, "spa_1", "image/jpeg", strings.NewReader("a"))
	require.NoError(t, err)
	b, err := s.Save(ctx, "spa_1", "image/jpeg", strings.NewReader("b"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDelete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	key, err := s.Save(ctx, "spa_1", "image/jpeg", strings.NewReader("x"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, key))

	_, _, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, imagestore.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, key), imagestore.ErrNotFound)
}

func TestGetNotFound(t *testing.T) {
	s := newStore(t)

	_, _, err := s.Get(context.Background(), "nonexistent.jpg")
	assert.ErrorIs(t, err, imagestore.ErrNotFound)
}

func TestPathTraversal(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, _, err := s.Get(ctx, "../../etc/passwd")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, imagestore.ErrNotFound)

	assert.Error(t, s.Delete(ctx, "../outside.jpg"))

	_, err = s.Save(ctx, "../escape", "image/jpeg", strings.NewReader("x"))
	assert.Error(t, err)
}

func TestSaveCancelledContext(t *testing.T) {
	s := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Save(ctx, "spa_1", "image/jpeg", strings.NewReader("x"))
	assert.ErrorIs(t, err, context.Canceled)
}
