package abstraction

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lox/pokercfr/internal/fileutil"
)

const artifactVersion = 1

// ErrBucketMismatch is returned when a bucket hash does not match the
// abstraction in use.
var ErrBucketMismatch = errors.New("bucket configuration mismatch")

// Artifact is the serialised form of a Bucketer: the configuration, its hash,
// the per-street centroids and a digest over both.
type Artifact struct {
	Version    int
	Config     BucketConfig
	ConfigHash string
	Centroids  [NumStreets][][]float64
	Digest     string
}

// Artifact captures the bucketer for persistence.
func (b *Bucketer) Artifact() Artifact {
	a := Artifact{
		Version:    artifactVersion,
		Config:     b.cfg,
		ConfigHash: b.hash,
	}
	for s := range a.Centroids {
		a.Centroids[s] = b.Centroids(Street(s))
	}
	a.Digest = artifactDigest(a.Config, a.Centroids)
	return a
}

// SaveArtifact writes the bucketer to path atomically.
func (b *Bucketer) SaveArtifact(path string) error {
	if _, err := fileutil.WriteGobAtomic(path, b.Artifact()); err != nil {
		return fmt.Errorf("save bucket artifact: %w", err)
	}
	return nil
}

// LoadArtifact reads a bucketer and validates both its configuration hash and
// its content digest.
func LoadArtifact(path string) (*Bucketer, error) {
	var a Artifact
	if err := fileutil.ReadGob(path, &a); err != nil {
		return nil, fmt.Errorf("load bucket artifact: %w", err)
	}
	return FromArtifact(a)
}

// FromArtifact validates a decoded artifact and rebuilds the bucketer.
func FromArtifact(a Artifact) (*Bucketer, error) {
	if a.Version != artifactVersion {
		return nil, fmt.Errorf("unsupported bucket artifact version %d", a.Version)
	}
	if err := a.Config.Validate(); err != nil {
		return nil, fmt.Errorf("bucket artifact config invalid: %w", err)
	}
	if got := a.Config.Hash(); got != a.ConfigHash {
		return nil, fmt.Errorf("%w: artifact records %s, config hashes to %s", ErrBucketMismatch, short(a.ConfigHash), short(got))
	}
	if got := artifactDigest(a.Config, a.Centroids); got != a.Digest {
		return nil, fmt.Errorf("bucket artifact digest mismatch: corrupt or edited artifact")
	}
	for s := Preflop; s <= River; s++ {
		if s == Preflop && a.Config.LosslessPreflop {
			continue
		}
		if len(a.Centroids[s]) == 0 {
			return nil, fmt.Errorf("bucket artifact has no %s centroids", s)
		}
	}
	return newBucketer(a.Config, a.Centroids)
}

// VerifyHash fails with ErrBucketMismatch unless want matches the bucketer.
func (b *Bucketer) VerifyHash(want string) error {
	if want != b.hash {
		return fmt.Errorf("%w: expected %s, have %s", ErrBucketMismatch, short(want), short(b.hash))
	}
	return nil
}

func artifactDigest(cfg BucketConfig, centroids [NumStreets][][]float64) string {
	// gob does not distinguish nil from empty slices.
	for s := range centroids {
		if len(centroids[s]) == 0 {
			centroids[s] = nil
		}
	}
	data, err := json.Marshal(struct {
		Config    BucketConfig
		Centroids [NumStreets][][]float64
	}{cfg, centroids})
	if err != nil {
		panic(fmt.Sprintf("abstraction: marshal artifact: %v", err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func short(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
