package solver

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/lox/pokercfr/sdk/abstraction"
)

var threeActions = []abstraction.AbstractAction{abstraction.Fold(), abstraction.CheckCall(), abstraction.Bet(100)}

func TestRegretTrackerStrategyNormalizesPositiveRegrets(t *testing.T) {
	tr := NewRegretTracker()
	if _, err := tr.Strategy("k", threeActions); err != nil {
		t.Fatalf("register: %v", err)
	}
	for a, d := range map[abstraction.AbstractAction]float64{threeActions[0]: 3, threeActions[1]: -1, threeActions[2]: 1} {
		if err := tr.UpdateRegret("k", a, d); err != nil {
			t.Fatalf("update %s: %v", a, err)
		}
	}

	strat, err := tr.Strategy("k", threeActions)
	if err != nil {
		t.Fatalf("strategy: %v", err)
	}
	want := []float64{0.75, 0, 0.25}
	sum := 0.0
	for i := range want {
		if math.Abs(strat[i]-want[i]) > 1e-12 {
			t.Fatalf("strategy[%d] = %v, want %v", i, strat[i], want[i])
		}
		sum += strat[i]
	}
	if math.Abs(sum-1) > 1e-12 {
		t.Fatalf("strategy sums to %v", sum)
	}
}

func TestRegretTrackerUniformFallback(t *testing.T) {
	tr := NewRegretTracker()
	strat, err := tr.Strategy("k", threeActions)
	if err != nil {
		t.Fatalf("strategy: %v", err)
	}
	for i, p := range strat {
		if math.Abs(p-1.0/3) > 1e-12 {
			t.Fatalf("expected uniform at %d, got %v", i, p)
		}
	}
}

func TestRegretTrackerStrategyFollowsLegalOrder(t *testing.T) {
	tr := NewRegretTracker()
	if _, err := tr.Strategy("k", threeActions); err != nil {
		t.Fatal(err)
	}
	if err := tr.UpdateRegret("k", abstraction.Bet(100), 2); err != nil {
		t.Fatal(err)
	}
	reordered := []abstraction.AbstractAction{abstraction.Bet(100), abstraction.CheckCall()}
	strat, err := tr.Strategy("k", reordered)
	if err != nil {
		t.Fatalf("strategy: %v", err)
	}
	if strat[0] != 1 || strat[1] != 0 {
		t.Fatalf("unexpected strategy %v", strat)
	}
}

func TestRegretTrackerRejectsIllegalActions(t *testing.T) {
	tr := NewRegretTracker()
	if err := tr.UpdateRegret("missing", abstraction.Fold(), 1); !errors.Is(err, ErrIllegalAction) {
		t.Fatalf("expected ErrIllegalAction for unregistered key, got %v", err)
	}
	if _, err := tr.Strategy("k", threeActions); err != nil {
		t.Fatal(err)
	}
	if err := tr.UpdateRegret("k", abstraction.AllIn(), 1); !errors.Is(err, ErrIllegalAction) {
		t.Fatalf("expected ErrIllegalAction, got %v", err)
	}
	if _, err := tr.Strategy("k", []abstraction.AbstractAction{abstraction.Bet(50)}); !errors.Is(err, ErrIllegalAction) {
		t.Fatalf("expected ErrIllegalAction for unknown legal action, got %v", err)
	}
	if err := tr.AddStrategySample("k", []float64{1}, 1); !errors.Is(err, ErrIllegalAction) {
		t.Fatalf("expected ErrIllegalAction for short distribution, got %v", err)
	}
}

func seededTracker(t *testing.T) *RegretTracker {
	t.Helper()
	tr := NewRegretTracker()
	if _, err := tr.Strategy("a", threeActions); err != nil {
		t.Fatal(err)
	}
	for i, a := range threeActions {
		if err := tr.UpdateRegret("a", a, float64(i*2-1)*3); err != nil {
			t.Fatal(err)
		}
	}
	if err := tr.AddStrategySample("a", []float64{0.2, 0.3, 0.5}, 4); err != nil {
		t.Fatal(err)
	}
	return tr
}

func TestDiscountComposes(t *testing.T) {
	a, b := seededTracker(t), seededTracker(t)
	a.Discount(0.5, 0.8)
	a.Discount(0.4, 0.5)
	b.Discount(0.2, 0.4)
	if !a.Equal(b, 1e-12) {
		t.Fatalf("discount(0.5,0.8) then discount(0.4,0.5) should equal discount(0.2,0.4)")
	}
}

func TestMergeAddsSums(t *testing.T) {
	global := seededTracker(t)
	delta := seededTracker(t)
	if _, err := delta.Strategy("b", threeActions[1:]); err != nil {
		t.Fatal(err)
	}
	if err := delta.UpdateRegret("b", abstraction.CheckCall(), 7); err != nil {
		t.Fatal(err)
	}
	if err := global.Merge(delta); err != nil {
		t.Fatalf("merge: %v", err)
	}

	r, err := global.Regrets("a", threeActions)
	if err != nil {
		t.Fatal(err)
	}
	if r[0] != -6 || r[1] != 6 || r[2] != 18 {
		t.Fatalf("unexpected merged regrets %v", r)
	}
	rb, err := global.Regrets("b", threeActions[1:])
	if err != nil {
		t.Fatal(err)
	}
	if rb[0] != 7 {
		t.Fatalf("expected copied entry, got %v", rb)
	}
	if global.Len() != 2 {
		t.Fatalf("expected 2 infosets, got %d", global.Len())
	}
}

func TestRegretSnapshotRoundTrip(t *testing.T) {
	tr := seededTracker(t)
	restored, err := RestoreRegrets(tr.Snapshot())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !tr.Equal(restored, 0) {
		t.Fatalf("restored tracker differs")
	}
}

func TestPolicyAveragesStrategySums(t *testing.T) {
	tr := NewRegretTracker()
	legal := threeActions[1:]
	if _, err := tr.Strategy("k", legal); err != nil {
		t.Fatal(err)
	}
	if err := tr.AddStrategySample("k", []float64{0.2, 0.8}, 2); err != nil {
		t.Fatal(err)
	}
	if err := tr.AddStrategySample("k", []float64{0.6, 0.4}, 1); err != nil {
		t.Fatal(err)
	}

	p := tr.Policy("hash", 3)
	got := p.Distribution("k", []abstraction.AbstractAction{abstraction.Bet(100), abstraction.CheckCall()})
	if math.Abs(got[0]-2.0/3) > 1e-12 || math.Abs(got[1]-1.0/3) > 1e-12 {
		t.Fatalf("unexpected distribution %v", got)
	}

	uniform := p.Distribution("unknown", legal)
	if uniform[0] != 0.5 || uniform[1] != 0.5 {
		t.Fatalf("expected uniform fallback, got %v", uniform)
	}

	path := filepath.Join(t.TempDir(), "policy.pkl")
	if _, err := SavePolicy(path, p); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.BucketHash != "hash" || loaded.Iterations != 3 || loaded.Len() != 1 {
		t.Fatalf("unexpected policy header %+v", loaded)
	}
	again := loaded.Distribution("k", legal)
	if math.Abs(again[0]-1.0/3) > 1e-12 {
		t.Fatalf("loaded distribution %v", again)
	}
}
