package blob

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndOpen(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFS(filepath.Join(dir, "frames"), "/frames/")
	require.NoError(t, err)

	url, err := fs.Save(context.Background(), []byte("jpeg"), "VIO030325ABCD_090000.jpg")
	require.NoError(t, err)
	assert.Equal(t, "/frames/VIO030325ABCD_090000.jpg", url)

	f, err := fs.Open("VIO030325ABCD_090000.jpg")
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(data))

	entries, err := os.ReadDir(fs.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestRejectsTraversal(t *testing.T) {
	fs, err := NewFS(t.TempDir(), "")
	require.NoError(t, err)
	for _, name := range []string{"../x.jpg", "a/b.jpg", ".hidden", ""} {
		_, err := fs.Save(context.Background(), []byte("x"), name)
		assert.ErrorIs(t, err, ErrInvalidName, name)
		_, err = fs.Open(name)
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}
}

func TestDelete(t *testing.T) {
	store, err := NewFS(t.TempDir(), "/frames")
	require.NoError(t, err)
	_, err = store.Save(context.Background(), []byte("jpeg"), "capture_1_door.jpg")
	require.NoError(t, err)

	require.NoError(t, store.Delete("capture_1_door.jpg"))
	_, err = os.Stat(filepath.Join(store.Dir(), "capture_1_door.jpg"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	assert.ErrorIs(t, store.Delete("capture_1_door.jpg"), os.ErrNotExist)
	assert.ErrorIs(t, store.Delete("../escape.jpg"), ErrInvalidName)
}
