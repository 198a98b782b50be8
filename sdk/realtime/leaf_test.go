package realtime

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/pokercfr/internal/randutil"
	"github.com/lox/pokercfr/poker"
	"github.com/lox/pokercfr/sdk/abstraction"
	"github.com/lox/pokercfr/sdk/solver"
)

type fixedModel struct {
	mean, half float64
	err        error
	calls      int
}

func (m *fixedModel) Predict(features []float64) (float64, float64, error) {
	m.calls++
	if len(features) != FeatureSize {
		return 0, 0, errors.New("wrong feature count")
	}
	return m.mean, m.half, m.err
}

func newTestLeaf(t *testing.T, cfg LeafConfig, opts ...LeafOption) *LeafEvaluator {
	t.Helper()
	e, err := NewLeafEvaluator(cfg, solver.NewPolicy("", 0, nil), strengthBuckets{n: 8}, testAbstraction(t), opts...)
	require.NoError(t, err)
	return e
}

// showdownQuery is a closed river pot of 40 where aces face seven-deuce.
func showdownQuery() LeafQuery {
	s := riverState()
	s.Pot = 40
	s.Closed = true
	junk := hand("7c2d")
	return LeafQuery{State: s, Hero: hand("AsAh"), Villain: SingleClass(poker.ClassOf(junk[0], junk[1]))}
}

func TestRolloutShowdown(t *testing.T) {
	e := newTestLeaf(t, DefaultLeafConfig())
	q := showdownQuery()

	v, err := e.Evaluate(context.Background(), q, randutil.New(1))
	require.NoError(t, err)
	assert.InDelta(t, 40, v, 1e-9)

	v, err = e.Evaluate(context.Background(), q, randutil.New(2))
	require.NoError(t, err)
	assert.InDelta(t, 40, v, 1e-9)

	m := e.Metrics()
	assert.Equal(t, int64(2), m.Evaluations)
	assert.Equal(t, int64(1), m.CacheHits)
	assert.Equal(t, int64(1), m.CacheMisses)
}

func TestCacheKeyIncludesRange(t *testing.T) {
	e := newTestLeaf(t, DefaultLeafConfig())
	q := showdownQuery()
	_, err := e.Evaluate(context.Background(), q, randutil.New(1))
	require.NoError(t, err)

	q.Villain = UniformRange()
	_, err = e.Evaluate(context.Background(), q, randutil.New(1))
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.Metrics().CacheMisses)
}

func TestRolloutHonoursCancellation(t *testing.T) {
	e := newTestLeaf(t, DefaultLeafConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Evaluate(ctx, showdownQuery(), randutil.New(1))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBlueprintExpectationSplitsByStrength(t *testing.T) {
	cfg := DefaultLeafConfig()
	cfg.Mode = LeafBlueprint
	e := newTestLeaf(t, cfg)

	// Aces sit in bucket 7 and seven-deuce in bucket 1 of 8.
	v, err := e.Evaluate(context.Background(), showdownQuery(), nil)
	require.NoError(t, err)
	assert.InDelta(t, 40*7.5/9, v, 1e-9)
}

func TestBlueprintExpectationPlaysNextStreet(t *testing.T) {
	cfg := DefaultLeafConfig()
	cfg.Mode = LeafBlueprint
	e := newTestLeaf(t, cfg)

	actions := testAbstraction(t)
	table, history := flopTable()
	root, err := testBuilder(t, DefaultSubgameConfig()).BuildFromState(table, history)
	require.NoError(t, err)
	leaf := root.Apply(abstraction.CheckCall(), actions).Apply(abstraction.CheckCall(), actions)
	require.True(t, leaf.Closed)

	q := showdownQuery()
	q.State = &leaf
	v, err := e.Evaluate(context.Background(), q, nil)
	require.NoError(t, err)
	// The stronger hand wins more than its share of the current pot on
	// average but cannot win more than both stacks.
	assert.Greater(t, v, 0.0)
	assert.Less(t, v, float64(leaf.Pot+leaf.Stacks[Villain]))
}

func TestValueModelGate(t *testing.T) {
	tests := []struct {
		name     string
		model    *fixedModel
		want     float64
		accepted bool
	}{
		{"accepted", &fixedModel{mean: 0.6, half: 0.05}, 24, true},
		{"too uncertain", &fixedModel{mean: 0.6, half: 0.5}, 40, false},
		{"out of range", &fixedModel{mean: 1.5, half: 0.01}, 40, false},
		{"model error", &fixedModel{err: errors.New("boom")}, 40, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultLeafConfig()
			cfg.Mode = LeafValueModel
			e := newTestLeaf(t, cfg, WithValueModel(tt.model))

			v, err := e.Evaluate(context.Background(), showdownQuery(), randutil.New(1))
			require.NoError(t, err)
			assert.InDelta(t, tt.want, v, 1e-9)
			assert.Equal(t, 1, tt.model.calls)

			m := e.Metrics()
			if tt.accepted {
				assert.Equal(t, int64(1), m.ModelAccepted)
				assert.Zero(t, m.ModelRejected)
			} else {
				assert.Zero(t, m.ModelAccepted)
				assert.Equal(t, int64(1), m.ModelRejected)
			}
		})
	}
}

func TestValueModelModeNeedsModel(t *testing.T) {
	cfg := DefaultLeafConfig()
	cfg.Mode = LeafValueModel
	_, err := NewLeafEvaluator(cfg, solver.NewPolicy("", 0, nil), strengthBuckets{n: 8}, testAbstraction(t))
	assert.Error(t, err)
}

func TestLinearModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	weights := make([]float64, FeatureSize)
	weights[featHero] = 0.5
	m := &LinearModel{Weights: weights, Bias: 0.1, Uncertainty: 0.05}
	buf := []byte(`{"weights":[`)
	for i := range weights {
		if i > 0 {
			buf = append(buf, ',')
		}
		if i == featHero {
			buf = append(buf, "0.5"...)
		} else {
			buf = append(buf, '0')
		}
	}
	buf = append(buf, `],"bias":0.1,"uncertainty":0.05}`...)
	require.NoError(t, os.WriteFile(path, buf, 0o644))

	loaded, err := LoadLinearModel(path)
	require.NoError(t, err)
	assert.Equal(t, m, loaded)

	s := riverState()
	villain := UniformRange()
	mean, half, err := loaded.Predict(Features(s, 0.8, &villain))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, mean, 1e-9)
	assert.InDelta(t, 0.05, half, 1e-9)

	require.NoError(t, os.WriteFile(path, []byte(`{"weights":[1,2]}`), 0o644))
	_, err = LoadLinearModel(path)
	assert.Error(t, err)
}

func TestFeatures(t *testing.T) {
	s := riverState()
	s.HeroPosition = abstraction.PosBTN
	s.VillainPosition = abstraction.PosBB
	villain := UniformRange()
	f := Features(s, 0.7, &villain)

	require.Len(t, f, FeatureSize)
	assert.Equal(t, 1.0, f[featStreet+int(abstraction.River)])
	assert.Equal(t, 1.0, f[featPosition+int(abstraction.PosBTN)])
	// 90 behind into 20 is an SPR of 4.5.
	assert.Equal(t, 1.0, f[featSPR+3])
	assert.Equal(t, 0.7, f[featHero])
	assert.Equal(t, villain.MeanStrength(), f[featRanges+2*int(abstraction.PosBB)])
}

func TestBoardBuckets(t *testing.T) {
	tests := []struct {
		board string
		want  int
	}{
		{"", 0},
		{"Kc8d3s", 0},
		{"Kc8c3s", 2},
		{"KcKd3s", 1},
		{"Kc8c3c", 4},
		{"Kc8c3c3h", 5},
		{"Kc8c3c2c", 6},
	}
	for _, tt := range tests {
		var board []poker.Card
		if tt.board != "" {
			board = poker.MustParseCards(tt.board)
		}
		assert.Equal(t, tt.want, publicBucket(board), tt.board)
	}

	assert.Equal(t, 0, sprBucket(10, 20))
	assert.Equal(t, 2, sprBucket(60, 20))
	assert.Equal(t, 4, sprBucket(200, 20))
	assert.Equal(t, 4, sprBucket(10, 0))
}
