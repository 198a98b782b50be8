package solver

import (
	"fmt"
	"sort"

	"github.com/lox/pokercfr/internal/fileutil"
	"github.com/lox/pokercfr/sdk/abstraction"
)

const policyFileVersion = 1

// PolicyEntry is the average strategy at one infoset.
type PolicyEntry struct {
	Actions []abstraction.AbstractAction
	Probs   []float64
}

// Policy is a frozen average strategy. It is read-only and safe for
// concurrent use.
type Policy struct {
	BucketHash string
	Iterations int64
	entries    map[string]PolicyEntry
}

// NewPolicy wraps precomputed entries.
func NewPolicy(bucketHash string, iterations int64, entries map[string]PolicyEntry) *Policy {
	if entries == nil {
		entries = make(map[string]PolicyEntry)
	}
	return &Policy{BucketHash: bucketHash, Iterations: iterations, entries: entries}
}

// Policy freezes the normalised average strategy of every tracked infoset.
func (t *RegretTracker) Policy(bucketHash string, iterations int64) *Policy {
	entries := make(map[string]PolicyEntry, t.Len())
	t.each(func(key string, e *regretEntry) {
		e.mu.Lock()
		defer e.mu.Unlock()
		entries[key] = PolicyEntry{
			Actions: append([]abstraction.AbstractAction(nil), e.actions...),
			Probs:   normalise(e.strategySum),
		}
	})
	return NewPolicy(bucketHash, iterations, entries)
}

// Lookup returns the stored entry for key.
func (p *Policy) Lookup(key string) (PolicyEntry, bool) {
	e, ok := p.entries[key]
	return e, ok
}

// Distribution returns a distribution over legal for key. Legal actions the
// entry does not know get zero mass; unknown keys and entries with no mass on
// legal fall back to uniform.
func (p *Policy) Distribution(key string, legal []abstraction.AbstractAction) []float64 {
	out := make([]float64, len(legal))
	if e, ok := p.entries[key]; ok {
		for i, a := range legal {
			if j := abstraction.IndexOf(e.Actions, a); j >= 0 {
				out[i] = e.Probs[j]
			}
		}
	}
	return normalise(out)
}

// Len returns the number of infosets in the policy.
func (p *Policy) Len() int { return len(p.entries) }

// Keys returns every infoset key in sorted order.
func (p *Policy) Keys() []string {
	keys := make([]string, 0, len(p.entries))
	for k := range p.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type policyFile struct {
	Version    int
	BucketHash string
	Iterations int64
	Keys       []string
	Actions    [][]string
	Probs      [][]float64
}

func (p *Policy) file() policyFile {
	f := policyFile{
		Version:    policyFileVersion,
		BucketHash: p.BucketHash,
		Iterations: p.Iterations,
	}
	for _, k := range p.Keys() {
		e := p.entries[k]
		tokens := make([]string, len(e.Actions))
		for i, a := range e.Actions {
			tokens[i] = a.Token()
		}
		f.Keys = append(f.Keys, k)
		f.Actions = append(f.Actions, tokens)
		f.Probs = append(f.Probs, e.Probs)
	}
	return f
}

func policyFromFile(f policyFile) (*Policy, error) {
	if f.Version != policyFileVersion {
		return nil, fmt.Errorf("unsupported policy version %d", f.Version)
	}
	if len(f.Actions) != len(f.Keys) || len(f.Probs) != len(f.Keys) {
		return nil, fmt.Errorf("policy file is truncated")
	}
	entries := make(map[string]PolicyEntry, len(f.Keys))
	for i, k := range f.Keys {
		if len(f.Actions[i]) != len(f.Probs[i]) {
			return nil, fmt.Errorf("policy entry %s: %d actions, %d probabilities", k, len(f.Actions[i]), len(f.Probs[i]))
		}
		actions := make([]abstraction.AbstractAction, len(f.Actions[i]))
		for j, tok := range f.Actions[i] {
			if err := actions[j].UnmarshalText([]byte(tok)); err != nil {
				return nil, fmt.Errorf("policy entry %s: %w", k, err)
			}
		}
		entries[k] = PolicyEntry{Actions: actions, Probs: f.Probs[i]}
	}
	return NewPolicy(f.BucketHash, f.Iterations, entries), nil
}

// SavePolicy writes the policy to path atomically as gob.
func SavePolicy(path string, p *Policy) (fileutil.Digest, error) {
	d, err := fileutil.WriteGobAtomic(path, p.file())
	if err != nil {
		return d, fmt.Errorf("save policy: %w", err)
	}
	return d, nil
}

// LoadPolicy reads a policy written by SavePolicy.
func LoadPolicy(path string) (*Policy, error) {
	var f policyFile
	if err := fileutil.ReadGob(path, &f); err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	return policyFromFile(f)
}
