// Package runtime loads a trained blueprint for live play, whatever form it
// was saved in.
package runtime

import (
	"errors"
	"fmt"
	rand "math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"github.com/lox/pokercfr/internal/store"
	"github.com/lox/pokercfr/sdk/abstraction"
	"github.com/lox/pokercfr/sdk/solver"
)

// Source identifies where a Policy was loaded from.
type Source string

const (
	SourcePolicyFile Source = "policy"
	SourceSnapshot   Source = "snapshot"
	SourceCheckpoint Source = "checkpoint"
	SourceStore      Source = "leveldb"
)

// Policy is a read-only blueprint. Lookups are served from memory, or from a
// LevelDB store for exported blueprints.
type Policy struct {
	source     Source
	path       string
	bucketHash string
	iterations int64

	mem *solver.Policy
	db  *store.PolicyStore
}

// Load opens the blueprint at path. It accepts a gob policy file, a snapshot
// directory, a checkpoint manifest, a training output or checkpoints directory
// (newest complete checkpoint), or an exported LevelDB store.
func Load(path string) (*Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		if strings.HasPrefix(filepath.Base(path), "checkpoint_iter") && filepath.Ext(path) == "" {
			p, err := solver.LoadCheckpointPolicy(path)
			if err != nil {
				return nil, err
			}
			return fromMemory(SourceCheckpoint, path, p), nil
		}
		p, err := solver.LoadPolicy(path)
		if err != nil {
			return nil, err
		}
		return fromMemory(SourcePolicyFile, path, p), nil
	}

	switch {
	case exists(filepath.Join(path, "metadata.json")):
		p, _, err := solver.LoadSnapshot(path)
		if err != nil {
			return nil, err
		}
		return fromMemory(SourceSnapshot, path, p), nil
	case exists(filepath.Join(path, "CURRENT")):
		db, err := store.Open(path, true)
		if err != nil {
			return nil, err
		}
		meta, err := db.Meta()
		if err != nil {
			db.Close()
			return nil, err
		}
		return &Policy{source: SourceStore, path: path, bucketHash: meta.BucketHash, iterations: meta.Iterations, db: db}, nil
	}

	dir := path
	if exists(solver.CheckpointDir(path)) {
		dir = solver.CheckpointDir(path)
	}
	manifest, err := solver.LatestCheckpoint(dir)
	if err != nil {
		return nil, fmt.Errorf("no blueprint in %s: %w", path, err)
	}
	p, err := solver.LoadCheckpointPolicy(manifest)
	if err != nil {
		return nil, err
	}
	return fromMemory(SourceCheckpoint, manifest, p), nil
}

// FromPolicy wraps an in-memory policy.
func FromPolicy(p *solver.Policy) *Policy {
	return fromMemory(SourcePolicyFile, "", p)
}

func fromMemory(source Source, path string, p *solver.Policy) *Policy {
	return &Policy{source: source, path: path, bucketHash: p.BucketHash, iterations: p.Iterations, mem: p}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Source reports where the policy was loaded from.
func (p *Policy) Source() Source { return p.source }

// Path is the file or directory the policy was loaded from.
func (p *Policy) Path() string { return p.path }

// BucketHash is the hash of the abstraction the blueprint was trained with.
func (p *Policy) BucketHash() string { return p.bucketHash }

// Iterations is the number of training iterations behind the blueprint.
func (p *Policy) Iterations() int64 { return p.iterations }

// CheckBuckets fails when the blueprint was trained with a different
// abstraction than hash.
func (p *Policy) CheckBuckets(hash string) error {
	if p.bucketHash != "" && p.bucketHash != hash {
		return fmt.Errorf("%w: blueprint trained with %s, playing with %s", solver.ErrBucketMismatch, p.bucketHash, hash)
	}
	return nil
}

// Distribution returns the blueprint distribution over legal at key, uniform
// when the key is unknown.
func (p *Policy) Distribution(key string, legal []abstraction.AbstractAction) []float64 {
	if p.db != nil {
		return p.db.Distribution(key, legal)
	}
	return p.mem.Distribution(key, legal)
}

// Sample draws one legal action from the blueprint distribution at key.
func (p *Policy) Sample(key string, legal []abstraction.AbstractAction, rng *rand.Rand) (abstraction.AbstractAction, error) {
	if len(legal) == 0 {
		return abstraction.AbstractAction{}, errors.New("no legal actions")
	}
	dist := p.Distribution(key, legal)
	x := rng.Float64()
	for i, w := range dist {
		if x < w {
			return legal[i], nil
		}
		x -= w
	}
	return legal[len(legal)-1], nil
}

// Frozen returns the whole blueprint in memory, reading every entry from the
// store when the policy is LevelDB backed.
func (p *Policy) Frozen() (*solver.Policy, error) {
	if p.db != nil {
		return p.db.Policy()
	}
	return p.mem, nil
}

// Close releases the LevelDB handle, if any.
func (p *Policy) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}
