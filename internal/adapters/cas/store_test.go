package cas_test

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polykit/polykit/internal/adapters/cas"
)

const testKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func TestStore_PutAndOpen(t *testing.T) {
	store, err := cas.NewStore(t.TempDir())
	require.NoError(t, err)

	payload := []byte("compressed artifact bytes")
	meta, err := store.Put(testKey, bytes.NewReader(payload))
	require.NoError(t, err)

	sum := sha256.Sum256(payload)
	assert.Equal(t, hex.EncodeToString(sum[:]), meta.SHA256)
	assert.EqualValues(t, len(payload), meta.Size)
	assert.True(t, store.Has(testKey))

	rc, meta2, err := store.Open(testKey)
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, meta.SHA256, meta2.SHA256)
}

func TestStore_ShardedLayout(t *testing.T) {
	dir := t.TempDir()
	store, err := cas.NewStore(dir)
	require.NoError(t, err)

	_, err = store.Put(testKey, strings.NewReader("x"))
	require.NoError(t, err)

	expected := filepath.Join(dir, "01", "23", testKey+".zst")
	_, statErr := os.Stat(expected)
	assert.NoError(t, statErr)
	_, statErr = os.Stat(filepath.Join(dir, "01", "23", testKey+".json"))
	assert.NoError(t, statErr)
}

func TestStore_ExistingEntryWins(t *testing.T) {
	store, err := cas.NewStore(t.TempDir())
	require.NoError(t, err)

	first, err := store.Put(testKey, strings.NewReader("first"))
	require.NoError(t, err)
	second, err := store.Put(testKey, strings.NewReader("second"))
	require.NoError(t, err)

	assert.Equal(t, first.SHA256, second.SHA256)

	rc, _, err := store.Open(testKey)
	require.NoError(t, err)
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	assert.Equal(t, "first", string(got))
}

func TestStore_RejectsBadKey(t *testing.T) {
	store, err := cas.NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Put("UPPERCASE", strings.NewReader("x"))
	assert.Error(t, err)
	assert.False(t, store.Has("short"))
}

func TestStore_MissingKey(t *testing.T) {
	store, err := cas.NewStore(t.TempDir())
	require.NoError(t, err)

	assert.False(t, store.Has(testKey))
	_, _, err = store.Open(testKey)
	assert.Error(t, err)
}
