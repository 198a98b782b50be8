package solver

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/pokercfr/internal/randutil"
	"github.com/lox/pokercfr/poker"
	"github.com/lox/pokercfr/sdk/abstraction"
)

func TestSplitBatch(t *testing.T) {
	assert.Equal(t, []int{3, 3, 2}, SplitBatch(8, 3))
	assert.Equal(t, []int{2, 2}, SplitBatch(4, 2))
	assert.Equal(t, []int{1, 0, 0}, SplitBatch(1, 3))
	assert.Nil(t, SplitBatch(4, 0))
}

func TestForcedUnprunedCoverage(t *testing.T) {
	for _, ratio := range []float64{0.05, 0.25, 1.0 / 3, 0.5} {
		forced := 0
		for it := int64(1); it <= 1000; it++ {
			if forcedUnpruned(it, ratio) {
				forced++
			}
			assert.Equal(t, int(math.Floor(float64(it)*ratio)), forced, "ratio %v at %d", ratio, it)
		}
	}
	assert.False(t, forcedUnpruned(10, 0))
}

func TestPruneThresholdShrinks(t *testing.T) {
	assert.InDelta(t, -300, pruneThreshold(300, 1), 1e-12)
	assert.InDelta(t, -30, pruneThreshold(300, 100), 1e-12)
	assert.InDelta(t, -300, pruneThreshold(300, 0), 1e-12)
}

func TestDiscountSchedule(t *testing.T) {
	cfg := DefaultTrainingConfig()
	cfg.Discount = DiscountLinear
	cfg.DiscountInterval = 100

	_, due := cfg.discountAt(150)
	assert.False(t, due)

	f, due := cfg.discountAt(200)
	assert.True(t, due)
	assert.InDelta(t, 2.0/3, f.Positive, 1e-12)
	assert.InDelta(t, 2.0/3, f.Strategy, 1e-12)

	cfg.Discount = DiscountDCFR
	cfg.DiscountAlpha, cfg.DiscountBeta, cfg.DiscountGamma = 1.5, 0, 2
	f, due = cfg.discountAt(100)
	assert.True(t, due)
	assert.InDelta(t, 0.5, f.Positive, 1e-12)
	assert.InDelta(t, 0.5, f.Negative, 1e-12)
	assert.InDelta(t, 0.25, f.Strategy, 1e-12)

	cfg.Discount = DiscountNone
	_, due = cfg.discountAt(100)
	assert.False(t, due)
}

func TestSampleIndexFollowsDistribution(t *testing.T) {
	rng := randutil.New(7)
	counts := make([]int, 3)
	for i := 0; i < 10000; i++ {
		counts[sampleIndex([]float64{0.2, 0, 0.8}, rng)]++
	}
	assert.Zero(t, counts[1])
	assert.InDelta(t, 0.2, float64(counts[0])/10000, 0.03)
}

// recordingTable keeps every regret at zero, so play stays uniform, and sums
// the updates it receives per infoset action.
type recordingTable struct {
	sums map[string]float64
}

func (r *recordingTable) Regrets(_ string, legal []abstraction.AbstractAction) ([]float64, error) {
	return make([]float64, len(legal)), nil
}

func (r *recordingTable) UpdateRegret(key string, a abstraction.AbstractAction, d float64) error {
	r.sums[key+"/"+a.Token()] += d
	return nil
}

func (r *recordingTable) AddStrategySample(string, []float64, float64) error { return nil }

func riverSpot(t *testing.T) (gameState, *deal) {
	t.Helper()
	g := gameState{
		cfg:       headsUpGame(t),
		street:    abstraction.River,
		pot:       8,
		stacks:    [abstraction.MaxPlayers]int{20, 20},
		committed: [abstraction.MaxPlayers]int{4, 4},
		toAct:     1,
		minRaise:  2,
		history:   abstraction.History{nil, nil, nil, nil},
	}
	d := &deal{board: [5]poker.Card(poker.MustParseCards("2c7d9hJs3c"))}
	d.holes[0] = [2]poker.Card(poker.MustParseCards("AsAd"))
	d.holes[1] = [2]poker.Card(poker.MustParseCards("KdKh"))
	return g, d
}

// uniformValue is the traverser's expected payoff when every seat plays
// uniformly at random below g.
func uniformValue(g gameState, traverser int, d *deal) float64 {
	if g.terminal {
		return g.payoffs(d)[traverser]
	}
	legal := g.legal()
	total := 0.0
	for _, a := range legal {
		total += uniformValue(g.apply(a), traverser, d)
	}
	return total / float64(len(legal))
}

// instantRegrets is the counterfactual regret of each action at g under
// uniform play, scaled by the opponents' reach.
func instantRegrets(g gameState, traverser int, d *deal, reach float64) map[string]float64 {
	legal := g.legal()
	values := make([]float64, len(legal))
	mean := 0.0
	for i, a := range legal {
		values[i] = uniformValue(g.apply(a), traverser, d)
		mean += values[i] / float64(len(legal))
	}
	out := make(map[string]float64, len(legal))
	key := g.key(traverser, d)
	for i, a := range legal {
		out[key+"/"+a.Token()] = reach * (values[i] - mean)
	}
	return out
}

func TestOutcomeSamplingRegretIsUnbiased(t *testing.T) {
	root, d := riverSpot(t)
	const traverser = 1

	table := &recordingTable{sums: map[string]float64{}}
	cfg := DefaultTrainingConfig()
	w := &walker{cfg: &cfg, table: table, rng: randutil.New(11), deal: d, iteration: 1, epsilon: 0.6}

	const samples = 200000
	for n := 0; n < samples; n++ {
		_, _, err := w.outcome(&root, traverser, 0, 1)
		require.NoError(t, err)
	}

	want := instantRegrets(root, traverser, d, 1)

	// Traverser checks, opponent bets: the traverser acts again.
	check := root.apply(abstraction.CheckCall())
	require.Equal(t, 0, check.toAct)
	opp := check.legal()
	require.Contains(t, opp, abstraction.Bet(100))
	facing := check.apply(abstraction.Bet(100))
	require.Equal(t, traverser, facing.toAct)
	for k, v := range instantRegrets(facing, traverser, d, 1/float64(len(opp))) {
		want[k] = v
	}

	for k, v := range want {
		assert.InDelta(t, v, table.sums[k]/samples, 0.25, "regret for %s", k)
	}
}

func TestPruneMask(t *testing.T) {
	cfg := DefaultTrainingConfig()
	cfg.PruneThreshold = 1
	cfg.PruneProbability = 1

	noFold := []abstraction.AbstractAction{abstraction.CheckCall(), abstraction.Bet(50), abstraction.Bet(100)}
	withFold := []abstraction.AbstractAction{abstraction.Fold(), abstraction.CheckCall(), abstraction.Bet(100)}

	tests := []struct {
		name    string
		prune   bool
		legal   []abstraction.AbstractAction
		regrets []float64
		want    []bool
	}{
		{"pruning off", false, noFold, []float64{-100, 5, -100}, []bool{true, true, true}},
		{"fold legal", true, withFold, []float64{-100, 5, -100}, []bool{true, true, true}},
		{"negative regrets skipped", true, noFold, []float64{-100, 5, -100}, []bool{false, true, false}},
		{"all negative keeps everything", true, noFold, []float64{-100, -50, -100}, []bool{true, true, true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &walker{cfg: &cfg, rng: randutil.New(3), iteration: 1, prune: tt.prune}
			assert.Equal(t, tt.want, w.pruneMask(tt.legal, tt.regrets))
		})
	}
}

func TestBackoffPoll(t *testing.T) {
	cfg := DefaultPoolConfig()
	want := []time.Duration{20, 40, 80, 160, 250, 250}
	timeout := cfg.PollTimeout
	for _, ms := range want {
		timeout = backoffPoll(timeout, cfg)
		assert.Equal(t, ms*time.Millisecond, timeout)
	}
}

func TestDrainResults(t *testing.T) {
	tests := []struct {
		name     string
		buffered int
		limit    int
		handled  int
	}{
		{"stops at limit", 5, 3, 3},
		{"stops when empty", 5, 10, 5},
		{"empty channel", 0, 4, 0},
		{"zero limit", 5, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := make(chan result, 8)
			for i := 0; i < tt.buffered; i++ {
				results <- result{worker: i}
			}
			var seen []int
			n := drainResults(results, tt.limit, func(r result) { seen = append(seen, r.worker) })
			assert.Equal(t, tt.handled, n)
			assert.Len(t, seen, tt.handled)
			assert.Len(t, results, tt.buffered-tt.handled)
		})
	}
}
