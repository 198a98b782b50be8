// Package store keeps a frozen blueprint policy on disk in LevelDB so that
// large blueprints can be served without loading every infoset into memory.
package store

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/lox/pokercfr/sdk/abstraction"
	"github.com/lox/pokercfr/sdk/solver"
)

// metaKey sorts before every infoset key, which always start with a street
// name.
var metaKey = []byte("\x00meta")

// ErrNotFound is returned for infosets the store does not hold.
var ErrNotFound = errors.New("infoset not found")

// Meta describes the exported blueprint.
type Meta struct {
	BucketHash string
	Iterations int64
	Infosets   int
}

type storedEntry struct {
	Actions []string
	Probs   []float64
}

// PolicyStore is a LevelDB-backed blueprint. Reads are safe for concurrent
// use.
type PolicyStore struct {
	path  string
	db    *leveldb.DB
	rOpts *opt.ReadOptions
	wOpts *opt.WriteOptions
}

// Open opens the store at path. Read-only stores must already exist.
func Open(path string, readOnly bool) (*PolicyStore, error) {
	opts := &opt.Options{ReadOnly: readOnly, ErrorIfMissing: readOnly}
	db, err := leveldb.OpenFile(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open policy store %s: %w", path, err)
	}
	return &PolicyStore{path: path, db: db, rOpts: &opt.ReadOptions{}, wOpts: &opt.WriteOptions{}}, nil
}

// Close implements io.Closer.
func (s *PolicyStore) Close() error {
	return s.db.Close()
}

// Path returns the database directory.
func (s *PolicyStore) Path() string { return s.path }

// Export writes every entry of p into a new store at path, replacing any
// entries already stored under the same keys.
func Export(path string, p *solver.Policy) (Meta, error) {
	s, err := Open(path, false)
	if err != nil {
		return Meta{}, err
	}
	defer s.Close()

	const batchSize = 4096
	batch := new(leveldb.Batch)
	for _, key := range p.Keys() {
		e, _ := p.Lookup(key)
		buf, err := encodeEntry(e)
		if err != nil {
			return Meta{}, fmt.Errorf("encode %s: %w", key, err)
		}
		batch.Put([]byte(key), buf)
		if batch.Len() >= batchSize {
			if err := s.db.Write(batch, s.wOpts); err != nil {
				return Meta{}, err
			}
			batch.Reset()
		}
	}
	meta := Meta{BucketHash: p.BucketHash, Iterations: p.Iterations, Infosets: p.Len()}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(meta); err != nil {
		return Meta{}, err
	}
	batch.Put(metaKey, buf.Bytes())
	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return Meta{}, err
	}
	return meta, nil
}

// Meta returns the header written by Export.
func (s *PolicyStore) Meta() (Meta, error) {
	var m Meta
	buf, err := s.db.Get(metaKey, s.rOpts)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return m, fmt.Errorf("%s has no blueprint header: %w", s.path, ErrNotFound)
		}
		return m, err
	}
	err = gob.NewDecoder(bytes.NewReader(buf)).Decode(&m)
	return m, err
}

// Put stores a single entry.
func (s *PolicyStore) Put(key string, e solver.PolicyEntry) error {
	buf, err := encodeEntry(e)
	if err != nil {
		return err
	}
	return s.db.Put([]byte(key), buf, s.wOpts)
}

// Get returns the entry stored for key.
func (s *PolicyStore) Get(key string) (solver.PolicyEntry, error) {
	buf, err := s.db.Get([]byte(key), s.rOpts)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return solver.PolicyEntry{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return solver.PolicyEntry{}, err
	}
	return decodeEntry(buf)
}

// Distribution returns the stored distribution restricted to legal, or
// uniform when the key is missing or unreadable.
func (s *PolicyStore) Distribution(key string, legal []abstraction.AbstractAction) []float64 {
	entries := map[string]solver.PolicyEntry{}
	if e, err := s.Get(key); err == nil {
		entries[key] = e
	}
	return solver.NewPolicy("", 0, entries).Distribution(key, legal)
}

// Keys lists the stored infoset keys beginning with prefix, for example
// "RIVER:" for every river infoset.
func (s *PolicyStore) Keys(prefix string) ([]string, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), s.rOpts)
	defer iter.Release()
	var keys []string
	for iter.Next() {
		if bytes.Equal(iter.Key(), metaKey) {
			continue
		}
		keys = append(keys, string(iter.Key()))
	}
	return keys, iter.Error()
}

// Policy loads the whole store into memory.
func (s *PolicyStore) Policy() (*solver.Policy, error) {
	meta, err := s.Meta()
	if err != nil {
		return nil, err
	}
	entries := make(map[string]solver.PolicyEntry, meta.Infosets)
	iter := s.db.NewIterator(nil, s.rOpts)
	defer iter.Release()
	for iter.Next() {
		if bytes.Equal(iter.Key(), metaKey) {
			continue
		}
		e, err := decodeEntry(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", iter.Key(), err)
		}
		entries[string(iter.Key())] = e
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return solver.NewPolicy(meta.BucketHash, meta.Iterations, entries), nil
}

func encodeEntry(e solver.PolicyEntry) ([]byte, error) {
	se := storedEntry{Actions: make([]string, len(e.Actions)), Probs: e.Probs}
	for i, a := range e.Actions {
		se.Actions[i] = a.Token()
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(se); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeEntry(buf []byte) (solver.PolicyEntry, error) {
	var se storedEntry
	if err := gob.NewDecoder(bytes.NewReader(buf)).Decode(&se); err != nil {
		return solver.PolicyEntry{}, err
	}
	if len(se.Actions) != len(se.Probs) {
		return solver.PolicyEntry{}, fmt.Errorf("%d actions, %d probabilities", len(se.Actions), len(se.Probs))
	}
	e := solver.PolicyEntry{Actions: make([]abstraction.AbstractAction, len(se.Actions)), Probs: se.Probs}
	for i, tok := range se.Actions {
		if err := e.Actions[i].UnmarshalText([]byte(tok)); err != nil {
			return solver.PolicyEntry{}, err
		}
	}
	return e, nil
}
