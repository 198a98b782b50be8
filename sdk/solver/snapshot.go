package solver

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lox/pokercfr/internal/fileutil"
)

// SnapshotMetadata describes a serving snapshot.
type SnapshotMetadata struct {
	Version        int         `json:"version"`
	Iteration      int64       `json:"iteration"`
	ElapsedSeconds float64     `json:"elapsed_seconds"`
	BucketHash     string      `json:"bucket_hash"`
	Seed           int64       `json:"seed"`
	Infosets       int         `json:"infosets"`
	Policy         ArtifactRef `json:"policy"`
	CreatedAt      time.Time   `json:"created_at"`
}

// SaveSnapshot writes the average policy into
// dir/snapshot_iter<N>_t<S>s/. The directory is assembled under a temporary
// name and renamed into place.
func (t *Trainer) SaveSnapshot(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}
	elapsed := t.Elapsed()
	final := filepath.Join(dir, fmt.Sprintf("snapshot_iter%d_t%ds", t.iteration, int64(elapsed/time.Second)))

	tmp, err := os.MkdirTemp(dir, ".snapshot-*")
	if err != nil {
		return "", fmt.Errorf("create snapshot temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	policy := t.Policy()
	digest, err := SavePolicy(filepath.Join(tmp, "policy.pkl"), policy)
	if err != nil {
		return "", err
	}
	if _, err := fileutil.WriteJSONAtomic(filepath.Join(tmp, "metadata.json"), SnapshotMetadata{
		Version:        checkpointFormatVersion,
		Iteration:      t.iteration,
		ElapsedSeconds: elapsed.Seconds(),
		BucketHash:     t.buckets.Hash(),
		Seed:           t.cfg.Seed,
		Infosets:       policy.Len(),
		Policy:         ArtifactRef{Name: "policy.pkl", Digest: digest},
		CreatedAt:      t.clock.Now().UTC(),
	}); err != nil {
		return "", fmt.Errorf("write snapshot metadata: %w", err)
	}

	if err := os.RemoveAll(final); err != nil {
		return "", fmt.Errorf("replace snapshot: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return "", fmt.Errorf("commit snapshot: %w", err)
	}
	return final, nil
}

// LoadSnapshot reads the policy from a snapshot directory and checks it
// against its metadata.
func LoadSnapshot(dir string) (*Policy, SnapshotMetadata, error) {
	var meta SnapshotMetadata
	if err := fileutil.ReadJSON(filepath.Join(dir, "metadata.json"), &meta); err != nil {
		return nil, meta, fmt.Errorf("read snapshot metadata: %w", err)
	}
	path := filepath.Join(dir, meta.Policy.Name)
	got, err := fileutil.FileDigest(path)
	if err != nil {
		return nil, meta, err
	}
	if got != meta.Policy.Digest {
		return nil, meta, errors.New("snapshot policy does not match its metadata digest")
	}
	policy, err := LoadPolicy(path)
	if err != nil {
		return nil, meta, err
	}
	return policy, meta, nil
}
