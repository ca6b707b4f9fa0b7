package objectstore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/narrator/internal/core"
	"github.com/book-expert/narrator/internal/objectstore"
)

func TestFileStore_UploadDownloadDelete(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "blobs")

	store, err := objectstore.NewFileStore(root)
	require.NoError(t, err)
	assert.Equal(t, root, store.Root())

	ctx := context.Background()

	require.NoError(t, store.Upload(ctx, "3f/3fa9.pcm", []byte("first")))
	require.NoError(t, store.Upload(ctx, "3f/3fa9.pcm", []byte("second")))

	data, err := store.Download(ctx, "3f/3fa9.pcm")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)

	entries, err := os.ReadDir(filepath.Join(root, "3f"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")

	require.NoError(t, store.Delete(ctx, "3f/3fa9.pcm"))
	require.NoError(t, store.Delete(ctx, "3f/3fa9.pcm"))

	_, err = store.Download(ctx, "3f/3fa9.pcm")
	require.ErrorIs(t, err, core.ErrObjectNotFound)
}

func TestFileStore_RejectsEscapingKeys(t *testing.T) {
	t.Parallel()

	store, err := objectstore.NewFileStore(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "../outside", "/etc/passwd", "a/../../b"} {
		err := store.Upload(context.Background(), key, []byte("x"))
		require.ErrorIs(t, err, objectstore.ErrInvalidKey, key)
	}
}
