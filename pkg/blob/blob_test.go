package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFileStoreRoundTrip tests write/read/delete on disk
func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	data := []byte("payload bytes")
	handle, err := store.Write(ctx, data)
	require.NoError(t, err)
	require.NotEmpty(t, handle)

	got, err := store.Read(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.NoError(t, store.Delete(ctx, handle))
	_, err = store.Read(ctx, handle)
	assert.Error(t, err)

	// Deleting again is a no-op.
	assert.NoError(t, store.Delete(ctx, handle))
}

// TestFileStoreRejectsBadHandles tests path traversal protection
func TestFileStoreRejectsBadHandles(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	for _, handle := range []string{"", "../escape", "a/b"} {
		_, err := store.Read(ctx, handle)
		assert.Error(t, err, "handle %q", handle)
	}
}
