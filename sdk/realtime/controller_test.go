package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/pokercfr/internal/randutil"
	"github.com/lox/pokercfr/poker"
	"github.com/lox/pokercfr/sdk/abstraction"
)

// pickyBuckets only knows the hero's hand, so every villain lookup fails.
type pickyBuckets struct {
	strengthBuckets
	hero [2]poker.Card
}

func (b pickyBuckets) Bucket(hole [2]poker.Card, board []poker.Card, street abstraction.Street) (int, error) {
	if hole != b.hero {
		return 0, errors.New("unknown hand")
	}
	return b.strengthBuckets.Bucket(hole, board, street)
}

// menuBlueprint remembers the last menu it was asked about.
type menuBlueprint struct {
	rampBlueprint
	mu   sync.Mutex
	last []abstraction.AbstractAction
}

func (b *menuBlueprint) Distribution(key string, legal []abstraction.AbstractAction) []float64 {
	b.mu.Lock()
	b.last = append([]abstraction.AbstractAction(nil), legal...)
	b.mu.Unlock()
	return b.rampBlueprint.Distribution(key, legal)
}

func newTestController(t *testing.T, cfg ResolverConfig, buckets Bucketer) *Controller {
	t.Helper()
	subgame := DefaultSubgameConfig()
	subgame.MaxDepth = 2
	return newControllerWith(t, cfg, subgame, rampBlueprint{}, buckets)
}

func newControllerWith(t *testing.T, cfg ResolverConfig, subgame SubgameConfig, bp Blueprint, buckets Bucketer) *Controller {
	t.Helper()
	b := testBuilder(t, subgame)

	leafCfg := DefaultLeafConfig()
	leafCfg.Mode = LeafBlueprint
	leaf, err := NewLeafEvaluator(leafCfg, bp, buckets, b.Abstraction())
	require.NoError(t, err)
	r, err := NewResolver(cfg, b, leaf, bp, buckets, WithResolverClock(quartz.NewMock(t)))
	require.NoError(t, err)
	return NewController(b, r, bp, buckets, zerolog.Nop())
}

func TestGetAction(t *testing.T) {
	c := newTestController(t, testResolverConfig(), strengthBuckets{n: 8})
	table, history := flopTable()

	d, err := c.GetAction(context.Background(), table, hand("AsAh"), history, randutil.New(3))
	require.NoError(t, err)

	require.NotNil(t, d.Solution)
	assert.False(t, d.Fallback)
	key, version, err := abstraction.ParseKey(d.Key)
	require.NoError(t, err, d.Key)
	assert.Equal(t, abstraction.KeyCompact, version)
	assert.Equal(t, abstraction.Flop, key.Street)
	assert.Contains(t, d.Solution.Actions, d.Action)
	switch d.Action.Kind() {
	case abstraction.KindCheckCall:
		assert.Zero(t, d.Amount)
	case abstraction.KindAllIn:
		assert.Equal(t, 90, d.Amount)
	default:
		assert.Equal(t, 10, d.Amount)
	}
}

func TestGetActionFallsBackToBlueprint(t *testing.T) {
	hero := hand("AsAh")
	buckets := pickyBuckets{strengthBuckets: strengthBuckets{n: 8}, hero: hero}
	table, history := flopTable()

	c := newTestController(t, testResolverConfig(), buckets)
	d, err := c.GetAction(context.Background(), table, hero, history, randutil.New(3))
	require.NoError(t, err)
	assert.True(t, d.Fallback)
	assert.Nil(t, d.Solution)
	assert.Contains(t, []abstraction.AbstractAction{abstraction.CheckCall(), abstraction.Bet(50), abstraction.AllIn()}, d.Action)

	cfg := testResolverConfig()
	cfg.Fallback = false
	c = newTestController(t, cfg, buckets)
	_, err = c.GetAction(context.Background(), table, hero, history, randutil.New(3))
	assert.ErrorContains(t, err, "unknown hand")
}

func TestFallbackSamplesFromEveryLegalAction(t *testing.T) {
	hero := hand("AsAh")
	buckets := pickyBuckets{strengthBuckets: strengthBuckets{n: 8}, hero: hero}
	table, history := flopTable()

	subgame := DefaultSubgameConfig()
	subgame.Mode = ModeTight
	subgame.SentinelProbability = 0
	bp := &menuBlueprint{}
	c := newControllerWith(t, testResolverConfig(), subgame, bp, buckets)

	d, err := c.GetAction(context.Background(), table, hero, history, randutil.New(3))
	require.NoError(t, err)
	require.True(t, d.Fallback)

	legal := []abstraction.AbstractAction{x, abstraction.Bet(50), abstraction.AllIn()}
	bp.mu.Lock()
	defer bp.mu.Unlock()
	assert.Equal(t, legal, bp.last)
	assert.Contains(t, legal, d.Action)
}

func TestGetActionNeedsOpponent(t *testing.T) {
	c := newTestController(t, testResolverConfig(), strengthBuckets{n: 8})
	table, history := flopTable()
	table.Players[0].Folded = true

	_, err := c.GetAction(context.Background(), table, hand("AsAh"), history, randutil.New(3))
	assert.Error(t, err)
}

func TestObserveActionShiftsBelief(t *testing.T) {
	c := newTestController(t, testResolverConfig(), strengthBuckets{n: 8})
	table, _ := flopTable()
	uniform := UniformRange()
	base := uniform.MeanStrength()

	c.ObserveAction(0, abstraction.Bet(100), table)
	aggressive := c.Belief(0)
	assert.Greater(t, aggressive.MeanStrength(), base)
	assert.InDelta(t, 1, aggressive.Total(), 1e-9)

	c.ObserveAction(2, abstraction.CheckCall(), table)
	passive := c.Belief(2)
	assert.Less(t, passive.MeanStrength(), base)

	c.ResetHand()
	reset := c.Belief(0)
	assert.Equal(t, uniform, reset)
}

func TestStrongestOpponentIsResolvedAgainst(t *testing.T) {
	c := newTestController(t, testResolverConfig(), strengthBuckets{n: 8})
	table := TableState{
		Street:   abstraction.Flop,
		Board:    poker.MustParseCards("Kc8d3s"),
		Pot:      30,
		BigBlind: 2,
		Button:   0,
		Hero:     1,
		Players: []PlayerState{
			{Seat: 0, Stack: 90},
			{Seat: 1, Stack: 90},
			{Seat: 2, Stack: 90},
		},
	}
	c.ObserveAction(2, abstraction.AllIn(), table)

	seat, belief := c.strongestOpponent(table)
	assert.Equal(t, 2, seat)
	assert.Equal(t, c.Belief(2), belief)

	table.Players[2].Folded = true
	seat, _ = c.strongestOpponent(table)
	assert.Equal(t, 0, seat)
}
