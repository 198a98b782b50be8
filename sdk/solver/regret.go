package solver

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/lox/pokercfr/sdk/abstraction"
)

// ErrIllegalAction is returned when an action is not in the legal set recorded
// for an infoset.
var ErrIllegalAction = errors.New("illegal action for infoset")

// regretEntry accumulates regrets and strategy sums for one infoset. Slices
// are aligned with actions.
type regretEntry struct {
	mu          sync.Mutex
	actions     []abstraction.AbstractAction
	regretSum   []float64
	strategySum []float64
}

func newRegretEntry(legal []abstraction.AbstractAction) *regretEntry {
	return &regretEntry{
		actions:     append([]abstraction.AbstractAction(nil), legal...),
		regretSum:   make([]float64, len(legal)),
		strategySum: make([]float64, len(legal)),
	}
}

// align returns the entry index of every action in legal.
func (e *regretEntry) align(legal []abstraction.AbstractAction) ([]int, error) {
	idx := make([]int, len(legal))
	for i, a := range legal {
		j := abstraction.IndexOf(e.actions, a)
		if j < 0 {
			return nil, fmt.Errorf("%w: %s", ErrIllegalAction, a)
		}
		idx[i] = j
	}
	return idx, nil
}

const (
	regretShardCount = 64
	regretShardMask  = regretShardCount - 1
)

type regretShard struct {
	mu      sync.RWMutex
	entries map[string]*regretEntry
}

// RegretTracker maps infoset keys to cumulative regrets and strategy sums. It
// is sharded so that concurrent readers rarely contend; writers are expected
// to be the tracker's single owner.
type RegretTracker struct {
	shards [regretShardCount]regretShard
}

// NewRegretTracker returns an empty tracker.
func NewRegretTracker() *RegretTracker {
	t := &RegretTracker{}
	for i := range t.shards {
		t.shards[i].entries = make(map[string]*regretEntry)
	}
	return t
}

func (t *RegretTracker) shardFor(key string) *regretShard {
	return &t.shards[hashKey(key)&regretShardMask]
}

func (t *RegretTracker) get(key string) *regretEntry {
	shard := t.shardFor(key)
	shard.mu.RLock()
	e := shard.entries[key]
	shard.mu.RUnlock()
	return e
}

// entry returns the entry for key, registering legal as its action set when
// the key is new.
func (t *RegretTracker) entry(key string, legal []abstraction.AbstractAction) *regretEntry {
	if e := t.get(key); e != nil {
		return e
	}
	shard := t.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if e, ok := shard.entries[key]; ok {
		return e
	}
	e := newRegretEntry(legal)
	shard.entries[key] = e
	return e
}

// Regrets returns the cumulative regrets of legal at key, registering the key
// on first use.
func (t *RegretTracker) Regrets(key string, legal []abstraction.AbstractAction) ([]float64, error) {
	e := t.entry(key, legal)
	e.mu.Lock()
	defer e.mu.Unlock()
	idx, err := e.align(legal)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	out := make([]float64, len(legal))
	for i, j := range idx {
		out[i] = e.regretSum[j]
	}
	return out, nil
}

// Strategy returns the regret-matching distribution over legal at key.
func (t *RegretTracker) Strategy(key string, legal []abstraction.AbstractAction) ([]float64, error) {
	r, err := t.Regrets(key, legal)
	if err != nil {
		return nil, err
	}
	return regretMatch(r), nil
}

// UpdateRegret adds delta to the cumulative regret of action at key.
func (t *RegretTracker) UpdateRegret(key string, action abstraction.AbstractAction, delta float64) error {
	e := t.get(key)
	if e == nil {
		return fmt.Errorf("%w: %s at unregistered infoset %s", ErrIllegalAction, action, key)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	j := abstraction.IndexOf(e.actions, action)
	if j < 0 {
		return fmt.Errorf("%w: %s at %s", ErrIllegalAction, action, key)
	}
	e.regretSum[j] += delta
	return nil
}

// AddStrategySample adds weight*dist to the strategy sums at key. dist is
// aligned with the action set registered for key.
func (t *RegretTracker) AddStrategySample(key string, dist []float64, weight float64) error {
	e := t.get(key)
	if e == nil {
		return fmt.Errorf("%w: strategy sample for unregistered infoset %s", ErrIllegalAction, key)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(dist) != len(e.strategySum) {
		return fmt.Errorf("%w: %d probabilities for %d actions at %s", ErrIllegalAction, len(dist), len(e.strategySum), key)
	}
	for i, p := range dist {
		e.strategySum[i] += weight * p
	}
	return nil
}

// Discount scales every regret by alpha and every strategy sum by beta.
func (t *RegretTracker) Discount(alpha, beta float64) {
	t.discount(alpha, alpha, beta)
}

// discount scales positive regrets by pos, negative regrets by neg and
// strategy sums by strat.
func (t *RegretTracker) discount(pos, neg, strat float64) {
	t.each(func(_ string, e *regretEntry) {
		e.mu.Lock()
		for i, r := range e.regretSum {
			if r > 0 {
				e.regretSum[i] = r * pos
			} else {
				e.regretSum[i] = r * neg
			}
		}
		for i := range e.strategySum {
			e.strategySum[i] *= strat
		}
		e.mu.Unlock()
	})
}

// Merge adds the sums of delta into t. Entries unknown to t are copied.
func (t *RegretTracker) Merge(delta *RegretTracker) error {
	var err error
	delta.each(func(key string, d *regretEntry) {
		if err != nil {
			return
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		e := t.entry(key, d.actions)
		e.mu.Lock()
		defer e.mu.Unlock()
		idx, alignErr := e.align(d.actions)
		if alignErr != nil {
			err = fmt.Errorf("merge %s: %w", key, alignErr)
			return
		}
		for i, j := range idx {
			e.regretSum[j] += d.regretSum[i]
			e.strategySum[j] += d.strategySum[i]
		}
	})
	return err
}

// Len returns the number of infosets tracked.
func (t *RegretTracker) Len() int {
	n := 0
	for i := range t.shards {
		shard := &t.shards[i]
		shard.mu.RLock()
		n += len(shard.entries)
		shard.mu.RUnlock()
	}
	return n
}

// each visits every entry. Shards are copied first so fn may call back into
// the tracker.
func (t *RegretTracker) each(fn func(key string, e *regretEntry)) {
	for i := range t.shards {
		shard := &t.shards[i]
		shard.mu.RLock()
		keys := make([]string, 0, len(shard.entries))
		entries := make([]*regretEntry, 0, len(shard.entries))
		for k, e := range shard.entries {
			keys = append(keys, k)
			entries = append(entries, e)
		}
		shard.mu.RUnlock()
		for j, k := range keys {
			fn(k, entries[j])
		}
	}
}

// regretMatch maps regrets to max(0,r)/sum, uniform when no regret is
// positive.
func regretMatch(regrets []float64) []float64 {
	out := make([]float64, len(regrets))
	total := 0.0
	for i, r := range regrets {
		if r > 0 {
			out[i] = r
			total += r
		}
	}
	if total <= 0 {
		v := 1.0 / float64(len(out))
		for i := range out {
			out[i] = v
		}
		return out
	}
	for i := range out {
		out[i] /= total
	}
	return out
}

// normalise returns the positive part of sums scaled to one, uniform when
// nothing is positive.
func normalise(sums []float64) []float64 {
	return regretMatch(sums)
}

func hashKey(key string) uint32 {
	const offset32 = 2166136261
	const prime32 = 16777619
	var hash uint32 = offset32
	for i := 0; i < len(key); i++ {
		hash ^= uint32(key[i])
		hash *= prime32
	}
	return hash
}

// entrySnapshot is the serialised form of a regret entry. Actions are stored
// as key tokens so the format does not depend on the in-memory encoding.
type entrySnapshot struct {
	Actions     []string
	RegretSum   []float64
	StrategySum []float64
}

// RegretSnapshot is a gob-friendly copy of a tracker.
type RegretSnapshot struct {
	Entries map[string]entrySnapshot
}

// Snapshot copies the tracker.
func (t *RegretTracker) Snapshot() RegretSnapshot {
	snap := RegretSnapshot{Entries: make(map[string]entrySnapshot, t.Len())}
	t.each(func(key string, e *regretEntry) {
		e.mu.Lock()
		defer e.mu.Unlock()
		tokens := make([]string, len(e.actions))
		for i, a := range e.actions {
			tokens[i] = a.Token()
		}
		snap.Entries[key] = entrySnapshot{
			Actions:     tokens,
			RegretSum:   append([]float64(nil), e.regretSum...),
			StrategySum: append([]float64(nil), e.strategySum...),
		}
	})
	return snap
}

// RestoreRegrets rebuilds a tracker from a snapshot.
func RestoreRegrets(snap RegretSnapshot) (*RegretTracker, error) {
	t := NewRegretTracker()
	for key, s := range snap.Entries {
		if len(s.RegretSum) != len(s.Actions) || len(s.StrategySum) != len(s.Actions) {
			return nil, fmt.Errorf("regret snapshot %s: inconsistent lengths", key)
		}
		actions := make([]abstraction.AbstractAction, len(s.Actions))
		for i, tok := range s.Actions {
			if err := actions[i].UnmarshalText([]byte(tok)); err != nil {
				return nil, fmt.Errorf("regret snapshot %s: %w", key, err)
			}
		}
		e := newRegretEntry(actions)
		copy(e.regretSum, s.RegretSum)
		copy(e.strategySum, s.StrategySum)
		t.shardFor(key).entries[key] = e
	}
	return t, nil
}

// Equal reports whether two trackers hold identical sums, within tol.
func (t *RegretTracker) Equal(o *RegretTracker, tol float64) bool {
	a, b := t.Snapshot(), o.Snapshot()
	if len(a.Entries) != len(b.Entries) {
		return false
	}
	for key, x := range a.Entries {
		y, ok := b.Entries[key]
		if !ok || len(x.Actions) != len(y.Actions) {
			return false
		}
		for i := range x.Actions {
			if x.Actions[i] != y.Actions[i] ||
				math.Abs(x.RegretSum[i]-y.RegretSum[i]) > tol ||
				math.Abs(x.StrategySum[i]-y.StrategySum[i]) > tol {
				return false
			}
		}
	}
	return true
}
