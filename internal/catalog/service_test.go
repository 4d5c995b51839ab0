package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/spaform/internal/db"
	"github.com/vbonduro/spaform/internal/imagestore"
	"github.com/vbonduro/spaform/internal/spa"
	"github.com/vbonduro/spaform/internal/store"
)

var jpegBytes = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10}

// memBlobs is an in-memory imagestore.Store.
type memBlobs struct {
	mu      sync.Mutex
	data    map[string][]byte
	counter int
	saveErr error
}

func newMemBlobs() *memBlobs {
	return &memBlobs{data: make(map[string][]byte)}
}

func (m *memBlobs) Save(_ context.Context, prefix, _ string, r io.Reader) (string, error) {
	if m.saveErr != nil {
		return "", m.saveErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter++
	key := fmt.Sprintf("%s_%d.jpg", prefix, m.counter)
	m.data[key] = data
	return key, nil
}

func (m *memBlobs) Get(_ context.Context, key string) (io.ReadCloser, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[key]
	if !ok {
		return nil, "", imagestore.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), "image/jpeg", nil
}

func (m *memBlobs) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; !ok {
		return imagestore.ErrNotFound
	}
	delete(m.data, key)
	return nil
}

func (m *memBlobs) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

func newTestService(t *testing.T) (*Service, *memBlobs) {
	t.Helper()
	d, err := db.OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	blobs := newMemBlobs()
	return NewService(store.NewSpaStore(d), store.NewImageStore(d), blobs, slog.Default()), blobs
}

func image(name string) spa.Image {
	return spa.Image{Filename: name, MimeType: "application/octet-stream", Data: jpegBytes}
}

func TestCreateWithImages(t *testing.T) {
	svc, blobs := newTestService(t)

	listing, err := svc.Create(context.Background(), spa.Draft{
		Name:   "Lotus",
		City:   "Pune",
		Price:  "1500",
		Images: []spa.Image{image("a.jpg"), image("b.jpg")},
	})
	require.NoError(t, err)

	assert.NotZero(t, listing.ID)
	assert.Equal(t, "Lotus", listing.Name)
	require.Len(t, listing.Images, 2)
	assert.Equal(t, "a.jpg", listing.Images[0].Filename)
	assert.Equal(t, "image/jpeg", listing.Images[0].MimeType, "sniffed type wins")
	assert.Equal(t, 2, blobs.count())
}

func TestCreateRollsBackOnImageFailure(t *testing.T) {
	svc, blobs := newTestService(t)
	blobs.saveErr = errors.New("disk full")

	_, err := svc.Create(context.Background(), spa.Draft{Name: "Lotus", Images: []spa.Image{image("a.jpg")}})
	require.Error(t, err)

	all, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestGetNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Get(context.Background(), 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReplaceKeepsImagesWithoutParts(t *testing.T) {
	svc, blobs := newTestService(t)
	ctx := context.Background()
	created, err := svc.Create(ctx, spa.Draft{Name: "Lotus", Images: []spa.Image{image("a.jpg")}})
	require.NoError(t, err)

	replaced, err := svc.Replace(ctx, created.ID, spa.Draft{Name: "Lotus Spa", City: "Goa"})
	require.NoError(t, err)

	assert.Equal(t, "Lotus Spa", replaced.Name)
	assert.Equal(t, "Goa", replaced.City)
	assert.Len(t, replaced.Images, 1)
	assert.Equal(t, 1, blobs.count())
}

func TestReplaceSwapsImages(t *testing.T) {
	svc, blobs := newTestService(t)
	ctx := context.Background()
	created, err := svc.Create(ctx, spa.Draft{Images: []spa.Image{image("a.jpg"), image("b.jpg")}})
	require.NoError(t, err)

	replaced, err := svc.Replace(ctx, created.ID, spa.Draft{Images: []spa.Image{image("c.jpg")}})
	require.NoError(t, err)

	require.Len(t, replaced.Images, 1)
	assert.Equal(t, "c.jpg", replaced.Images[0].Filename)
	assert.Equal(t, 1, blobs.count())
}

func TestReplaceNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Replace(context.Background(), 9, spa.Draft{Name: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPatchOneField(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	created, err := svc.Create(ctx, spa.Draft{Name: "Lotus", Price: "1500"})
	require.NoError(t, err)

	patched, err := svc.Patch(ctx, created.ID, spa.FieldPrice, "1800")
	require.NoError(t, err)
	assert.Equal(t, "1800", patched.Price)
	assert.Equal(t, "Lotus", patched.Name)
}

func TestPatchNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Patch(context.Background(), 3, spa.FieldCity, "Goa")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRemovesBlobs(t *testing.T) {
	svc, blobs := newTestService(t)
	ctx := context.Background()
	created, err := svc.Create(ctx, spa.Draft{Images: []spa.Image{image("a.jpg")}})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, created.ID))

	assert.Equal(t, 0, blobs.count())
	_, err = svc.Get(ctx, created.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, created.ID), ErrNotFound)
}

func TestImage(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	created, err := svc.Create(ctx, spa.Draft{Images: []spa.Image{image("a.jpg")}})
	require.NoError(t, err)

	r, mimeType, err := svc.Image(ctx, created.Images[0].StorageKey)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, jpegBytes, data)
	assert.Equal(t, "image/jpeg", mimeType)

	_, _, err = svc.Image(ctx, "unknown.jpg")
	assert.ErrorIs(t, err, imagestore.ErrNotFound)
}
