package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"quickdowntime/pkg/config"
	"quickdowntime/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SaveReturnsPublicPath(t *testing.T) {
	dir := t.TempDir()
	backend, err := storage.NewFileStorage(dir)
	require.NoError(t, err)

	store := New(backend, "/uploads/")
	ref, err := store.Save(context.Background(), []byte("jpeg"), "images", "img_abc.jpg")
	require.NoError(t, err)
	assert.Equal(t, "/uploads/images/img_abc.jpg", ref)

	data, err := os.ReadFile(filepath.Join(dir, "images", "img_abc.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(data))
}

func TestStore_SaveRejectsEmptyName(t *testing.T) {
	backend, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)

	_, err = New(backend, "/uploads").Save(context.Background(), []byte("x"), "audio", "")
	assert.Error(t, err)
}

func TestStore_SaveRejectsEscapingFolder(t *testing.T) {
	backend, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)

	_, err = New(backend, "/uploads").Save(context.Background(), []byte("x"), "../outside", "a.jpg")
	assert.Error(t, err)
}

func TestFromConfig_Local(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.UploadDir = filepath.Join(t.TempDir(), "uploads")

	store, err := FromConfig(context.Background(), cfg)
	require.NoError(t, err)

	ref, err := store.Save(context.Background(), []byte("webm"), "audio", "audio_1.webm")
	require.NoError(t, err)
	assert.Equal(t, "/uploads/audio/audio_1.webm", ref)
}
