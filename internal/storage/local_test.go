package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	sha := "abcdef0123456789"
	require.NoError(t, s.Put(ctx, sha, []byte("document bytes"), "text/plain"))

	got, err := s.Get(ctx, sha)
	require.NoError(t, err)
	assert.Equal(t, []byte("document bytes"), got)

	// Re-putting the same hash is a no-op, not an error.
	require.NoError(t, s.Put(ctx, sha, []byte("ignored"), "text/plain"))
	got, err = s.Get(ctx, sha)
	require.NoError(t, err)
	assert.Equal(t, []byte("document bytes"), got)

	require.NoError(t, s.Delete(ctx, sha))
	_, err = s.Get(ctx, sha)
	assert.Error(t, err)

	// Deleting a missing blob is fine.
	assert.NoError(t, s.Delete(ctx, sha))
}
