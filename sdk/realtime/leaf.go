package realtime

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	rand "math/rand/v2"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/lox/pokercfr/poker"
	"github.com/lox/pokercfr/sdk/abstraction"
)

// LeafMode selects how frontier nodes are valued.
type LeafMode uint8

const (
	// LeafRollout plays the blueprint forward to showdown.
	LeafRollout LeafMode = iota
	// LeafBlueprint takes the exact expectation over blueprint actions for
	// the next street, valuing showdowns by bucket strength.
	LeafBlueprint
	// LeafValueModel asks a ValueModel and falls back to rollouts when the
	// prediction is rejected.
	LeafValueModel
)

func (m LeafMode) String() string {
	switch m {
	case LeafRollout:
		return "rollout"
	case LeafBlueprint:
		return "blueprint"
	case LeafValueModel:
		return "value_model"
	default:
		return "unknown"
	}
}

// ParseLeafMode parses "rollout", "blueprint" or "value_model".
func ParseLeafMode(s string) (LeafMode, error) {
	switch s {
	case "rollout", "":
		return LeafRollout, nil
	case "blueprint":
		return LeafBlueprint, nil
	case "value_model", "model":
		return LeafValueModel, nil
	}
	return 0, fmt.Errorf("unknown leaf mode %q", s)
}

// LeafConfig tunes the leaf evaluator. MinValue and MaxValue bound accepted
// value model predictions in pot units.
type LeafConfig struct {
	Mode           LeafMode
	RolloutSamples int
	CacheSize      int
	MaxUncertainty float64
	MinValue       float64
	MaxValue       float64
}

// DefaultLeafConfig returns rollout evaluation with a modest cache.
func DefaultLeafConfig() LeafConfig {
	return LeafConfig{
		Mode:           LeafRollout,
		RolloutSamples: 16,
		CacheSize:      1 << 14,
		MaxUncertainty: 0.15,
		MinValue:       0,
		MaxValue:       1,
	}
}

// Validate checks the configuration.
func (c LeafConfig) Validate() error {
	if c.Mode > LeafValueModel {
		return errors.New("invalid leaf mode")
	}
	if c.RolloutSamples <= 0 {
		return errors.New("rollout samples must be > 0")
	}
	if c.CacheSize <= 0 {
		return errors.New("leaf cache size must be > 0")
	}
	if c.MinValue > c.MaxValue {
		return errors.New("leaf value gate is empty")
	}
	return nil
}

// LeafMetrics counts evaluator activity.
type LeafMetrics struct {
	Evaluations   int64 `json:"evaluations"`
	CacheHits     int64 `json:"cache_hits"`
	CacheMisses   int64 `json:"cache_misses"`
	ModelAccepted int64 `json:"model_accepted"`
	ModelRejected int64 `json:"model_rejected"`
}

// LeafQuery is a frontier node to value from the hero's side.
type LeafQuery struct {
	State   *SubgameState
	Hero    [2]poker.Card
	Villain Range
}

// LeafEvaluator values subgame frontier nodes. It is safe for concurrent use
// when every caller passes its own rng.
type LeafEvaluator struct {
	cfg       LeafConfig
	blueprint Blueprint
	buckets   Bucketer
	actions   *abstraction.ActionAbstraction
	model     ValueModel
	logger    zerolog.Logger
	cache     *lru.Cache[uint64, float64]
	actionSet uint64

	evaluations   atomic.Int64
	hits          atomic.Int64
	misses        atomic.Int64
	modelAccepted atomic.Int64
	modelRejected atomic.Int64
}

// LeafOption configures a LeafEvaluator.
type LeafOption func(*LeafEvaluator)

// WithValueModel sets the model used in LeafValueModel mode.
func WithValueModel(m ValueModel) LeafOption {
	return func(e *LeafEvaluator) { e.model = m }
}

// WithLeafLogger sets the evaluator's logger.
func WithLeafLogger(logger zerolog.Logger) LeafOption {
	return func(e *LeafEvaluator) { e.logger = logger }
}

// NewLeafEvaluator builds an evaluator over a blueprint and bucket
// abstraction.
func NewLeafEvaluator(cfg LeafConfig, blueprint Blueprint, buckets Bucketer, actions *abstraction.ActionAbstraction, opts ...LeafOption) (*LeafEvaluator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if blueprint == nil || buckets == nil || actions == nil {
		return nil, errors.New("leaf evaluator needs a blueprint, buckets and an action abstraction")
	}
	cache, err := lru.New[uint64, float64](cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	e := &LeafEvaluator{
		cfg:       cfg,
		blueprint: blueprint,
		buckets:   buckets,
		actions:   actions,
		logger:    zerolog.Nop(),
		cache:     cache,
	}
	h := fnv.New64a()
	fmt.Fprint(h, actions.Ladder(), actions.Config().AllowAllIn, actions.Config().MaxRaisesPerStreet)
	e.actionSet = h.Sum64()
	for _, opt := range opts {
		opt(e)
	}
	if cfg.Mode == LeafValueModel && e.model == nil {
		return nil, errors.New("value model mode needs a model")
	}
	return e, nil
}

// Metrics returns a copy of the counters.
func (e *LeafEvaluator) Metrics() LeafMetrics {
	return LeafMetrics{
		Evaluations:   e.evaluations.Load(),
		CacheHits:     e.hits.Load(),
		CacheMisses:   e.misses.Load(),
		ModelAccepted: e.modelAccepted.Load(),
		ModelRejected: e.modelRejected.Load(),
	}
}

// Evaluate returns the hero's expected chips from q.State onward: the share
// of the final pot won minus any further chips invested. Cached values are
// returned without recomputation.
func (e *LeafEvaluator) Evaluate(ctx context.Context, q LeafQuery, rng *rand.Rand) (float64, error) {
	e.evaluations.Add(1)
	key := e.cacheKey(q)
	if v, ok := e.cache.Get(key); ok {
		e.hits.Add(1)
		return v, nil
	}
	e.misses.Add(1)

	var v float64
	var err error
	switch e.cfg.Mode {
	case LeafBlueprint:
		v, err = e.expectation(q)
	case LeafValueModel:
		var ok bool
		v, ok, err = e.predict(q)
		if err == nil && !ok {
			v, err = e.rollout(ctx, q, rng)
		}
	default:
		v, err = e.rollout(ctx, q, rng)
	}
	if err != nil {
		return 0, err
	}
	e.cache.Add(key, v)
	return v, nil
}

// cacheKey digests the state, hero hand, public bucket, villain range and
// action set.
func (e *LeafEvaluator) cacheKey(q LeafQuery) uint64 {
	s := q.State
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%d|%s|%d|%v|%v|%d|%d|%s|",
		e.cfg.Mode, s.Street, poker.FormatCards(s.Board), s.Pot, s.Stacks, s.Bets, s.CurrentBet, s.Folded,
		s.History.Compact())
	fmt.Fprintf(h, "%s|%d|%d|%d", poker.FormatCards(q.Hero[:]), publicBucket(s.Board), q.Villain.Signature(), e.actionSet)
	return h.Sum64()
}

// showdownShare is the hero's share of a pot contested to showdown.
func showdownShare(hero, villain [2]poker.Card, board [5]poker.Card, pot int) float64 {
	hv, vv := poker.Evaluate7(hero, board), poker.Evaluate7(villain, board)
	switch {
	case hv > vv:
		return float64(pot)
	case hv == vv:
		return float64(pot) / 2
	}
	return 0
}

// rollout averages blueprint playouts to showdown over RolloutSamples deals.
func (e *LeafEvaluator) rollout(ctx context.Context, q LeafQuery, rng *rand.Rand) (float64, error) {
	base := q.State
	dead := poker.NewCardSet(base.Board...).Add(q.Hero[0]).Add(q.Hero[1])
	total, n := 0.0, 0
	for i := 0; i < e.cfg.RolloutSamples; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		villain, ok := q.Villain.Sample(rng, dead)
		if !ok {
			return 0, errors.New("villain range has no live combinations")
		}
		deck := poker.NewDeck(rng, dead.Add(villain[0]).Add(villain[1]))
		var board [5]poker.Card
		copy(board[:], base.Board)
		copy(board[len(base.Board):], deck.Deal(5-len(base.Board)))

		v, err := e.playout(*base, [2][2]poker.Card{q.Hero, villain}, board, rng)
		if err != nil {
			return 0, err
		}
		total += v
		n++
	}
	return total / float64(n), nil
}

// playout continues s with both sides following the blueprint until a fold
// or showdown.
func (e *LeafEvaluator) playout(s SubgameState, hands [2][2]poker.Card, board [5]poker.Card, rng *rand.Rand) (float64, error) {
	invested := s.Invested[Hero]
	for {
		if s.Folded >= 0 {
			share := 0.0
			if s.Folded == Villain {
				share = float64(s.Pot)
			}
			return share - float64(s.Invested[Hero]-invested), nil
		}
		if s.Closed {
			if s.Street == abstraction.River {
				return showdownShare(hands[Hero], hands[Villain], board, s.Pot) - float64(s.Invested[Hero]-invested), nil
			}
			next := s.Street + 1
			s = s.NextStreet(board[:next.BoardSize()])
			continue
		}
		side := s.ToAct
		legal := e.actions.Available(s.Situation(side))
		bucket, err := e.buckets.Bucket(hands[side], s.Board, s.Street)
		if err != nil {
			return 0, err
		}
		dist := e.blueprint.Distribution(infosetKey(s.Street, bucket, s.History), legal)
		s = s.Apply(legal[sampleIndex(dist, rng)], e.actions)
	}
}

// strength maps a bucket onto [0, 1] for its street.
func (e *LeafEvaluator) strength(bucket int, street abstraction.Street) float64 {
	k := max(e.buckets.NumBuckets(street), 1)
	return (float64(bucket) + 0.5) / float64(k)
}

// rescale maps a bucket on one street onto the bucket of equal strength on
// another.
func (e *LeafEvaluator) rescale(bucket int, from, to abstraction.Street) int {
	k := e.buckets.NumBuckets(to)
	return min(int(e.strength(bucket, from)*float64(k)), k-1)
}

// expectation values the leaf without sampling. Each villain class is
// represented by its first live combination; betting on the next street
// follows the blueprint exactly and showdowns split the pot by bucket
// strength.
func (e *LeafEvaluator) expectation(q LeafQuery) (float64, error) {
	s := q.State
	dead := poker.NewCardSet(s.Board...).Add(q.Hero[0]).Add(q.Hero[1])
	heroBucket, err := e.buckets.Bucket(q.Hero, s.Board, s.Street)
	if err != nil {
		return 0, err
	}
	total, weight := 0.0, 0.0
	for c, w := range q.Villain {
		if w <= 0 {
			continue
		}
		combos := poker.HoleClass(c).Combos(dead)
		if len(combos) == 0 {
			continue
		}
		villainBucket, err := e.buckets.Bucket(combos[0], s.Board, s.Street)
		if err != nil {
			return 0, err
		}
		v := e.expectBetting(*s, [2]int{heroBucket, villainBucket}, s.Street, s.Invested[Hero])
		total += w * v
		weight += w
	}
	if weight == 0 {
		return 0, errors.New("villain range has no live combinations")
	}
	return total / weight, nil
}

func (e *LeafEvaluator) expectBetting(s SubgameState, buckets [2]int, from abstraction.Street, invested int) float64 {
	if s.Folded >= 0 {
		share := 0.0
		if s.Folded == Villain {
			share = float64(s.Pot)
		}
		return share - float64(s.Invested[Hero]-invested)
	}
	if s.Closed {
		if s.Street == from && s.Street < abstraction.River && !s.AllIn() {
			return e.expectBetting(s.NextStreet(s.Board), buckets, from, invested)
		}
		hs, vs := e.strength(buckets[Hero], from), e.strength(buckets[Villain], from)
		return hs/(hs+vs)*float64(s.Pot) - float64(s.Invested[Hero]-invested)
	}
	side := s.ToAct
	legal := e.actions.Available(s.Situation(side))
	bucket := buckets[side]
	if s.Street != from {
		bucket = e.rescale(bucket, from, s.Street)
	}
	dist := e.blueprint.Distribution(infosetKey(s.Street, bucket, s.History), legal)
	v := 0.0
	for i, a := range legal {
		if dist[i] == 0 {
			continue
		}
		v += dist[i] * e.expectBetting(s.Apply(a, e.actions), buckets, from, invested)
	}
	return v
}

// predict asks the value model and applies the acceptance gate.
func (e *LeafEvaluator) predict(q LeafQuery) (float64, bool, error) {
	s := q.State
	bucket, err := e.buckets.Bucket(q.Hero, s.Board, s.Street)
	if err != nil {
		return 0, false, err
	}
	mean, half, err := e.model.Predict(Features(s, e.strength(bucket, s.Street), &q.Villain))
	if err != nil || half > e.cfg.MaxUncertainty || mean < e.cfg.MinValue || mean > e.cfg.MaxValue {
		e.modelRejected.Add(1)
		e.logger.Debug().Err(err).Float64("mean", mean).Float64("half_width", half).Msg("Value model rejected")
		return 0, false, nil
	}
	e.modelAccepted.Add(1)
	return mean * float64(s.Pot), true, nil
}
