package blob

import (
	"bytes"
	"crypto/rand"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, maxSize int64) *Store {
	t.Helper()
	s, err := New(Options{
		Dir:             t.TempDir(),
		MaxPayloadSize:  maxSize,
		RequireVolatile: false, // TempDir is usually not tmpfs
	})
	require.NoError(t, err)
	return s
}

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func writeBlob(t *testing.T, s *Store, id string, key, data []byte) {
	t.Helper()
	w, err := s.OpenWrite(id, key)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestBlobRoundTrip(t *testing.T) {
	cases := map[string]int{
		"empty":            0,
		"small":            100,
		"one chunk":        chunkSize,
		"chunk plus one":   chunkSize + 1,
		"chunk minus one":  chunkSize - 1,
		"several chunks":   3*chunkSize + 17,
		"exact two chunks": 2 * chunkSize,
	}

	for name, size := range cases {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t, 1<<24)
			key := testKey(t)
			data := make([]byte, size)
			_, err := rand.Read(data)
			require.NoError(t, err)

			writeBlob(t, s, "id1", key, data)

			r, err := s.OpenReadAndDelete("id1", key)
			require.NoError(t, err)
			got, err := io.ReadAll(r)
			require.NoError(t, err)
			require.NoError(t, r.Close())

			assert.True(t, bytes.Equal(data, got), "round trip mismatch at size %d", size)
		})
	}
}

func TestBlobCiphertextOnDiskDiffersFromPlaintext(t *testing.T) {
	s := newTestStore(t, 1<<20)
	key := testKey(t)
	data := bytes.Repeat([]byte("top secret "), 100)

	writeBlob(t, s, "id1", key, data)

	raw, err := os.ReadFile(filepath.Join(s.dir, "id1"+blobExt))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "top secret")
}

func TestBlobReadDeletesImmediately(t *testing.T) {
	s := newTestStore(t, 1<<20)
	key := testKey(t)
	writeBlob(t, s, "id1", key, []byte("payload"))

	r, err := s.OpenReadAndDelete("id1", key)
	require.NoError(t, err)

	// Unlinked before the first byte is read: a disconnecting client leaves
	// nothing behind.
	_, err = os.Stat(filepath.Join(s.dir, "id1"+blobExt))
	assert.True(t, os.IsNotExist(err))

	// Close without draining; the data is gone either way.
	require.NoError(t, r.Close())

	_, err = s.OpenReadAndDelete("id1", key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBlobAbortRemovesPartialFile(t *testing.T) {
	s := newTestStore(t, 1<<20)
	w, err := s.OpenWrite("id1", testKey(t))
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, w.Abort())

	_, err = os.Stat(filepath.Join(s.dir, "id1"+blobExt))
	assert.True(t, os.IsNotExist(err))
}

func TestBlobPayloadTooLarge(t *testing.T) {
	s := newTestStore(t, 10)
	w, err := s.OpenWrite("id1", testKey(t))
	require.NoError(t, err)

	_, err = w.Write(make([]byte, 10))
	require.NoError(t, err)
	_, err = w.Write([]byte{0})
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	require.NoError(t, w.Abort())
}

func TestBlobWrongKeyFailsCleanly(t *testing.T) {
	s := newTestStore(t, 1<<20)
	writeBlob(t, s, "id1", testKey(t), []byte("payload"))

	r, err := s.OpenReadAndDelete("id1", testKey(t))
	require.NoError(t, err)
	defer r.Close()

	_, err = io.ReadAll(r)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestBlobTruncationDetected(t *testing.T) {
	s := newTestStore(t, 1<<20)
	key := testKey(t)
	data := make([]byte, 2*chunkSize)
	_, err := rand.Read(data)
	require.NoError(t, err)
	writeBlob(t, s, "id1", key, data)

	// Chop off the final frame.
	path := filepath.Join(s.dir, "id1"+blobExt)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw[:len(raw)-30], 0o600))

	r, err := s.OpenReadAndDelete("id1", key)
	require.NoError(t, err)
	defer r.Close()

	_, err = io.ReadAll(r)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestBlobDeleteAndList(t *testing.T) {
	s := newTestStore(t, 1<<20)
	key := testKey(t)
	writeBlob(t, s, "a", key, []byte("1"))
	writeBlob(t, s, "b", key, []byte("2"))

	ids, err := s.List(time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)

	// Nothing is old enough for a cutoff in the past.
	ids, err = s.List(time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, s.Delete("a"))
	assert.ErrorIs(t, s.Delete("a"), ErrNotFound)

	ids, err = s.List(time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
}

func TestBlobRename(t *testing.T) {
	s := newTestStore(t, 1<<20)
	key := testKey(t)
	writeBlob(t, s, "old", key, []byte("payload"))

	require.NoError(t, s.Rename("old", "new"))
	assert.ErrorIs(t, s.Rename("old", "other"), ErrNotFound)

	r, err := s.OpenReadAndDelete("new", key)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, []byte("payload"), got)
}
