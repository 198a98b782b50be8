package runtime

import (
	"errors"
	"math"
	rand "math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/lox/pokercfr/internal/store"
	"github.com/lox/pokercfr/sdk/abstraction"
	"github.com/lox/pokercfr/sdk/solver"
)

var testActions = []abstraction.AbstractAction{abstraction.Fold(), abstraction.CheckCall(), abstraction.Bet(75)}

func testPolicy() *solver.Policy {
	return solver.NewPolicy("hash-1", 128, map[string]solver.PolicyEntry{
		"FLOP:4:v2|X/": {Actions: testActions, Probs: []float64{0.2, 0.3, 0.5}},
	})
}

func assertDist(t *testing.T, got, want []float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("distribution length %d, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Fatalf("distribution %v, want %v", got, want)
		}
	}
}

func TestLoadPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blueprint.gob")
	if _, err := solver.SavePolicy(path, testPolicy()); err != nil {
		t.Fatalf("save: %v", err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer p.Close()

	if p.Source() != SourcePolicyFile {
		t.Fatalf("source %q", p.Source())
	}
	if p.BucketHash() != "hash-1" || p.Iterations() != 128 {
		t.Fatalf("metadata %q/%d", p.BucketHash(), p.Iterations())
	}
	assertDist(t, p.Distribution("FLOP:4:v2|X/", testActions), []float64{0.2, 0.3, 0.5})
	assertDist(t, p.Distribution("FLOP:9:v2|X/", testActions[1:]), []float64{0.5, 0.5})
}

func TestLoadLevelDBStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blueprint.ldb")
	if _, err := store.Export(path, testPolicy()); err != nil {
		t.Fatalf("export: %v", err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer p.Close()

	if p.Source() != SourceStore {
		t.Fatalf("source %q", p.Source())
	}
	if p.BucketHash() != "hash-1" || p.Iterations() != 128 {
		t.Fatalf("metadata %q/%d", p.BucketHash(), p.Iterations())
	}
	assertDist(t, p.Distribution("FLOP:4:v2|X/", testActions), []float64{0.2, 0.3, 0.5})
}

func TestLoadEmptyDirectory(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected error for directory without a blueprint")
	}
}

func TestLoadMissingPath(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want not exist", err)
	}
}

func TestSampleFollowsDistribution(t *testing.T) {
	p := FromPolicy(testPolicy())
	rng := rand.New(rand.NewPCG(1, 2))

	counts := map[string]int{}
	for range 10000 {
		a, err := p.Sample("FLOP:4:v2|X/", testActions, rng)
		if err != nil {
			t.Fatalf("sample: %v", err)
		}
		counts[a.Token()]++
	}
	if counts["F"] < 1700 || counts["F"] > 2300 {
		t.Fatalf("fold sampled %d times out of 10000", counts["F"])
	}
	if counts["B75"] < 4500 || counts["B75"] > 5500 {
		t.Fatalf("bet sampled %d times out of 10000", counts["B75"])
	}
}

func TestSampleNoActions(t *testing.T) {
	p := FromPolicy(testPolicy())
	if _, err := p.Sample("FLOP:4:v2|X/", nil, rand.New(rand.NewPCG(1, 1))); err == nil {
		t.Fatal("expected error")
	}
}

func TestCheckBuckets(t *testing.T) {
	p := FromPolicy(testPolicy())
	if err := p.CheckBuckets("hash-1"); err != nil {
		t.Fatalf("matching hash: %v", err)
	}
	if err := p.CheckBuckets("hash-2"); !errors.Is(err, abstraction.ErrBucketMismatch) {
		t.Fatalf("err = %v, want bucket mismatch", err)
	}
}

func TestFrozenReadsWholeStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blueprint.ldb")
	if _, err := store.Export(path, testPolicy()); err != nil {
		t.Fatalf("export: %v", err)
	}
	p, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer p.Close()

	frozen, err := p.Frozen()
	if err != nil {
		t.Fatalf("frozen: %v", err)
	}
	if frozen.BucketHash != "hash-1" || frozen.Iterations != 128 {
		t.Fatalf("metadata %q/%d", frozen.BucketHash, frozen.Iterations)
	}
	assertDist(t, frozen.Distribution("FLOP:4:v2|X/", testActions), []float64{0.2, 0.3, 0.5})
}
