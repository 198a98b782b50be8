package fileutil

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeString(path, s string) (Digest, error) {
	return WriteAtomic(path, 0o600, func(w io.Writer) error {
		_, err := io.WriteString(w, s)
		return err
	})
}

func TestWriteAtomic(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoint_iter10_t0s")

	d, err := writeString(path, "hello world")
	require.NoError(t, err)
	assert.Equal(t, int64(11), d.Size)
	assert.Len(t, d.SHA256, 64)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not remain")
}

func TestWriteAtomicReplaces(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "policy.pkl")
	first, err := writeString(path, "initial")
	require.NoError(t, err)
	second, err := writeString(path, "updated content")
	require.NoError(t, err)
	assert.NotEqual(t, first.SHA256, second.SHA256)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "updated content", string(data))
}

func TestWriteAtomicMissingDir(t *testing.T) {
	t.Parallel()
	_, err := writeString("/nonexistent/dir/policy.pkl", "data")
	assert.Error(t, err)
}

func TestWriteAtomicFailureLeavesOriginal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testFile := filepath.Join(dir, "state.json")
	_, err := writeString(testFile, "original")
	require.NoError(t, err)

	_, err = WriteAtomic(testFile, 0o644, func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return errors.New("boom")
	})
	require.Error(t, err)

	data, err := os.ReadFile(testFile)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDigestMatchesFile(t *testing.T) {
	t.Parallel()

	testFile := filepath.Join(t.TempDir(), "payload.gob")
	payload := map[string][]float64{"k": {0.25, 0.75}}
	written, err := WriteGobAtomic(testFile, payload)
	require.NoError(t, err)

	onDisk, err := FileDigest(testFile)
	require.NoError(t, err)
	assert.Equal(t, written, onDisk)

	var decoded map[string][]float64
	require.NoError(t, ReadGob(testFile, &decoded))
	assert.Equal(t, payload, decoded)
}

func TestJSONRoundTrip(t *testing.T) {
	t.Parallel()

	testFile := filepath.Join(t.TempDir(), "meta.json")
	type meta struct {
		Iteration int     `json:"iteration"`
		Epsilon   float64 `json:"epsilon"`
	}
	_, err := WriteJSONAtomic(testFile, meta{Iteration: 5, Epsilon: 0.05})
	require.NoError(t, err)

	var got meta
	require.NoError(t, ReadJSON(testFile, &got))
	assert.Equal(t, meta{Iteration: 5, Epsilon: 0.05}, got)
}
