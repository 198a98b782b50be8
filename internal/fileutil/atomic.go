// Package fileutil writes checkpoint and artifact files atomically and
// records their digests.
package fileutil

import (
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Digest describes the bytes that ended up on disk.
type Digest struct {
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// WriteAtomic streams the output of write into filename atomically: the data
// goes to a temporary file in the same directory which is synced and renamed
// over filename. Readers see either no file, the old file or the complete new
// file, never a partial write.
func WriteAtomic(filename string, perm os.FileMode, write func(io.Writer) error) (Digest, error) {
	dir := filepath.Dir(filename)
	base := filepath.Base(filename)

	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return Digest{}, fmt.Errorf("create temp for %s: %w", base, err)
	}
	tmpName := tmp.Name()

	defer func() {
		if tmp != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	hash := sha256.New()
	counter := &countingWriter{w: io.MultiWriter(tmp, hash)}
	if err := write(counter); err != nil {
		return Digest{}, fmt.Errorf("write %s: %w", base, err)
	}
	if err := tmp.Sync(); err != nil {
		return Digest{}, fmt.Errorf("sync %s: %w", base, err)
	}
	if err := tmp.Close(); err != nil {
		return Digest{}, fmt.Errorf("close %s: %w", base, err)
	}
	tmp = nil

	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return Digest{}, fmt.Errorf("chmod %s: %w", base, err)
	}
	if err := os.Rename(tmpName, filename); err != nil {
		os.Remove(tmpName)
		return Digest{}, fmt.Errorf("commit %s: %w", base, err)
	}

	return Digest{Size: counter.n, SHA256: hex.EncodeToString(hash.Sum(nil))}, nil
}

// WriteJSONAtomic encodes v as indented JSON and writes it atomically.
func WriteJSONAtomic(filename string, v any) (Digest, error) {
	return WriteAtomic(filename, 0o644, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

// WriteGobAtomic gob-encodes v and writes it atomically.
func WriteGobAtomic(filename string, v any) (Digest, error) {
	return WriteAtomic(filename, 0o644, func(w io.Writer) error {
		return gob.NewEncoder(w).Encode(v)
	})
}

// FileDigest hashes an existing file.
func FileDigest(filename string) (Digest, error) {
	f, err := os.Open(filename)
	if err != nil {
		return Digest{}, err
	}
	defer f.Close()

	hash := sha256.New()
	n, err := io.Copy(hash, f)
	if err != nil {
		return Digest{}, fmt.Errorf("hash %s: %w", filename, err)
	}
	return Digest{Size: n, SHA256: hex.EncodeToString(hash.Sum(nil))}, nil
}

// ReadGob decodes a gob file into v.
func ReadGob(filename string, v any) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := gob.NewDecoder(f).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(filename), err)
	}
	return nil
}

// ReadJSON decodes a JSON file into v.
func ReadJSON(filename string, v any) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(filename), err)
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
