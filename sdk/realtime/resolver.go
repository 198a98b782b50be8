package realtime

import (
	"context"
	"errors"
	"fmt"
	"math"
	rand "math/rand/v2"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lox/pokercfr/internal/randutil"
	"github.com/lox/pokercfr/poker"
	"github.com/lox/pokercfr/sdk/abstraction"
	"github.com/lox/pokercfr/sdk/solver"
)

// StopReason records why a solve left its iteration loop.
type StopReason uint8

const (
	// StopContinue is the in-loop state; a finished solve never reports it.
	StopContinue StopReason = iota
	// StopMinReached means the time limit passed after MinIterations.
	StopMinReached
	// StopMaxReached means MaxIterations were run.
	StopMaxReached
	// StopTimeout means the time limit passed before MinIterations.
	StopTimeout
)

func (r StopReason) String() string {
	switch r {
	case StopContinue:
		return "CONTINUE"
	case StopMinReached:
		return "STOP_MIN_REACHED"
	case StopMaxReached:
		return "STOP_MAX_REACHED"
	case StopTimeout:
		return "STOP_TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// ResolverConfig controls a real-time solve.
type ResolverConfig struct {
	TimeLimit      time.Duration
	MinIterations  int
	MaxIterations  int
	Fallback       bool
	WarmStartScale float64
	// KLWeights is the blueprint penalty weight per street.
	KLWeights     [abstraction.NumStreets]float64
	OOPMultiplier float64
	Walkers       int
}

// DefaultResolverConfig returns a budget suited to live play.
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		TimeLimit:      100 * time.Millisecond,
		MinIterations:  20,
		MaxIterations:  2000,
		Fallback:       true,
		WarmStartScale: 10,
		KLWeights:      [abstraction.NumStreets]float64{0.05, 0.1, 0.2, 0.4},
		OOPMultiplier:  1.5,
		Walkers:        1,
	}
}

// Validate checks the configuration.
func (c ResolverConfig) Validate() error {
	if c.TimeLimit < 0 {
		return errors.New("time limit cannot be negative")
	}
	if c.MinIterations < 0 || c.MaxIterations < 1 || c.MinIterations > c.MaxIterations {
		return errors.New("iterations must satisfy 0 <= min <= max and max >= 1")
	}
	if c.WarmStartScale < 0 {
		return errors.New("warm start scale cannot be negative")
	}
	for i := 1; i < len(c.KLWeights); i++ {
		if c.KLWeights[i] < c.KLWeights[i-1] || c.KLWeights[i-1] < 0 {
			return errors.New("KL weights must be non-negative and non-decreasing by street")
		}
	}
	if c.OOPMultiplier < 1 {
		return errors.New("out of position multiplier must be >= 1")
	}
	if c.Walkers < 1 {
		return errors.New("walkers must be >= 1")
	}
	return nil
}

// SolveMetrics describes one solve.
type SolveMetrics struct {
	DecisionTime time.Duration `json:"decision_time"`
	Iterations   int64         `json:"iterations"`
	Fallback     bool          `json:"fallback"`
	EVDelta      float64       `json:"ev_delta"`
	KL           float64       `json:"kl"`
	Stop         StopReason    `json:"stop"`
}

// Solution is the refined strategy at the subgame root.
type Solution struct {
	Key       string
	Actions   []abstraction.AbstractAction
	Probs     []float64
	Blueprint []float64
	Metrics   SolveMetrics
}

// Resolver runs KL-regularised depth-limited CFR from a subgame root. A
// Resolver may be shared; each Solve owns its regret trackers.
type Resolver struct {
	cfg       ResolverConfig
	builder   *Builder
	leaf      *LeafEvaluator
	blueprint Blueprint
	buckets   Bucketer
	clock     quartz.Clock
	logger    zerolog.Logger

	// afterIteration runs after every CFR iteration; tests use it to move a
	// mock clock.
	afterIteration func()
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithResolverClock injects the clock used for the time limit.
func WithResolverClock(clock quartz.Clock) ResolverOption {
	return func(r *Resolver) { r.clock = clock }
}

// WithResolverLogger sets the resolver's logger.
func WithResolverLogger(logger zerolog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = logger }
}

// NewResolver wires a resolver.
func NewResolver(cfg ResolverConfig, builder *Builder, leaf *LeafEvaluator, blueprint Blueprint, buckets Bucketer, opts ...ResolverOption) (*Resolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if builder == nil || leaf == nil || blueprint == nil || buckets == nil {
		return nil, errors.New("resolver needs a builder, leaf evaluator, blueprint and buckets")
	}
	r := &Resolver{
		cfg:       cfg,
		builder:   builder,
		leaf:      leaf,
		blueprint: blueprint,
		buckets:   buckets,
		clock:     quartz.NewReal(),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Config returns the resolver configuration.
func (r *Resolver) Config() ResolverConfig { return r.cfg }

// node is a vertex of the depth-limited tree. Decision nodes have actions
// and children; terminal nodes are folds or closed betting rounds.
type node struct {
	id       string
	state    SubgameState
	actions  []abstraction.AbstractAction
	children []*node
}

func (n *node) terminal() bool { return n.state.Terminal() }

// buildTree expands the subgame. Sentinel draws use rng once per node, so a
// solve sees one fixed tree.
func (r *Resolver) buildTree(s SubgameState, id string, rng *rand.Rand) *node {
	n := &node{id: id, state: s}
	if s.Terminal() {
		return n
	}
	side := s.ToAct
	n.actions = r.builder.Actions(&s, s.Stacks[side], s.InPosition(side), rng)
	for _, a := range n.actions {
		n.children = append(n.children, r.buildTree(s.Apply(a, r.builder.actions), id+a.Token(), rng))
	}
	return n
}

// KLDivergence returns KL(p || q). Zero entries of q are floored so that
// disjoint supports give a large finite value.
func KLDivergence(p, q []float64) float64 {
	const floor = 1e-12
	kl := 0.0
	for i := range p {
		if p[i] <= 0 {
			continue
		}
		kl += p[i] * math.Log(p[i]/math.Max(q[i], floor))
	}
	return math.Max(kl, 0)
}

// walk is one walker's contribution to a solve.
type walk struct {
	iterations int64
	strategy   []float64
	values     []float64
}

// solve is the state shared by the walkers of one Solve call.
type solve struct {
	r        *Resolver
	root     *node
	hero     [2]poker.Card
	villain  Range
	rootKey  string
	bp       []float64
	klWeight float64
	start    time.Time
	done     atomic.Int64
	timedOut atomic.Bool
}

// Solve refines the blueprint at root for the hero holding hero against the
// villain range. The rng seeds the walkers and sentinel draws.
func (r *Resolver) Solve(ctx context.Context, root *SubgameState, hero [2]poker.Card, villain Range, rng *rand.Rand) (*Solution, error) {
	start := r.clock.Now()
	if root == nil || root.Terminal() {
		return nil, errors.New("subgame root is not a decision")
	}
	if root.ToAct != Hero {
		return nil, errors.New("subgame root must be a hero decision")
	}
	heroBucket, err := r.buckets.Bucket(hero, root.Board, root.Street)
	if err != nil {
		return nil, fmt.Errorf("hero bucket: %w", err)
	}

	// WARM_START
	tree := r.buildTree(*root, "", rng)
	sv := &solve{
		r:        r,
		root:     tree,
		hero:     hero,
		villain:  villain,
		rootKey:  infosetKey(root.Street, heroBucket, root.History),
		klWeight: r.cfg.KLWeights[root.Street],
		start:    start,
	}
	sv.bp = r.blueprint.Distribution(sv.rootKey, tree.actions)
	if !root.HeroInPosition {
		sv.klWeight *= r.cfg.OOPMultiplier
	}

	// ITERATE
	walks := make([]walk, r.cfg.Walkers)
	seeds := make([]int64, r.cfg.Walkers)
	for i := range seeds {
		seeds[i] = rng.Int64()
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := range walks {
		g.Go(func() error {
			w, err := sv.walk(gctx, randutil.New(seeds[i]))
			walks[i] = w
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// FINALIZE
	total := sv.done.Load()
	stop := StopMaxReached
	switch {
	case sv.timedOut.Load() && total < int64(r.cfg.MinIterations):
		stop = StopTimeout
	case sv.timedOut.Load():
		stop = StopMinReached
	}
	sol := &Solution{
		Key:       sv.rootKey,
		Actions:   tree.actions,
		Blueprint: sv.bp,
		Metrics:   SolveMetrics{Iterations: total, Stop: stop},
	}
	if stop == StopTimeout && r.cfg.Fallback {
		// Fall back to the blueprint over every legal action, not the
		// trimmed subgame menu.
		sol.Actions = r.builder.Legal(root)
		sol.Blueprint = r.blueprint.Distribution(sv.rootKey, sol.Actions)
		sol.Probs = append([]float64(nil), sol.Blueprint...)
		sol.Metrics.Fallback = true
	} else {
		sol.Probs, sol.Metrics.EVDelta = sv.combine(walks)
		sol.Metrics.KL = KLDivergence(sol.Probs, sv.bp)
	}
	sol.Metrics.DecisionTime = r.clock.Since(start)
	r.logger.Debug().
		Str("key", sol.Key).
		Int64("iterations", total).
		Str("stop", stop.String()).
		Bool("fallback", sol.Metrics.Fallback).
		Float64("kl", sol.Metrics.KL).
		Dur("decision_time", sol.Metrics.DecisionTime).
		Msg("Subgame solved")
	return sol, nil
}

// combine averages the walkers' root strategies weighted by their iteration
// counts and estimates the EV gain over the blueprint from the mean root
// action values.
func (sv *solve) combine(walks []walk) ([]float64, float64) {
	n := len(sv.root.actions)
	probs := make([]float64, n)
	values := make([]float64, n)
	total := 0.0
	for _, w := range walks {
		weight := float64(w.iterations)
		if weight == 0 {
			weight = 1e-9
		}
		for i := range probs {
			probs[i] += weight * w.strategy[i]
			values[i] += w.values[i]
		}
		total += weight
	}
	sum := 0.0
	for i := range probs {
		probs[i] /= total
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	iterations := float64(sv.done.Load())
	if iterations == 0 {
		return probs, 0
	}
	ev := 0.0
	for i := range probs {
		ev += (probs[i] - sv.bp[i]) * values[i] / iterations
	}
	return probs, ev
}

// next decides whether the walker may run another iteration. It reserves the
// iteration when it may.
func (sv *solve) next(ctx context.Context) bool {
	cfg := sv.r.cfg
	if ctx.Err() != nil || sv.r.clock.Since(sv.start) >= cfg.TimeLimit {
		sv.timedOut.Store(true)
		return false
	}
	if sv.done.Add(1) > int64(cfg.MaxIterations) {
		sv.done.Add(-1)
		return false
	}
	return true
}

func (sv *solve) walk(ctx context.Context, rng *rand.Rand) (walk, error) {
	tracker := solver.NewRegretTracker()
	actions := sv.root.actions
	heroKey := sv.root.id + "|h"
	if _, err := tracker.Regrets(heroKey, actions); err != nil {
		return walk{}, err
	}
	for i, a := range actions {
		if err := tracker.UpdateRegret(heroKey, a, sv.r.cfg.WarmStartScale*sv.bp[i]); err != nil {
			return walk{}, err
		}
	}

	w := walk{values: make([]float64, len(actions))}
	dead := poker.NewCardSet(sv.root.state.Board...).Add(sv.hero[0]).Add(sv.hero[1])
	for sv.next(ctx) {
		villain, ok := sv.villain.Sample(rng, dead)
		if !ok {
			return w, errors.New("villain range has no live combinations")
		}
		vb, err := sv.r.buckets.Bucket(villain, sv.root.state.Board, sv.root.state.Street)
		if err != nil {
			return w, err
		}
		it := &iteration{
			sv:      sv,
			tracker: tracker,
			rng:     rng,
			villain: villain,
			vKey:    "|v" + strconv.Itoa(vb),
			rangeOf: SingleClass(poker.ClassOf(villain[0], villain[1])),
			values:  w.values,
		}
		if _, err := it.cfr(ctx, sv.root, 1, 1); err != nil {
			return w, err
		}
		w.iterations++
		if sv.r.afterIteration != nil {
			sv.r.afterIteration()
		}
	}

	if w.iterations == 0 {
		w.strategy, _ = tracker.Strategy(heroKey, actions)
	} else {
		w.strategy = tracker.Policy("", w.iterations).Distribution(heroKey, actions)
	}
	return w, nil
}

// iteration is one CFR pass with a fixed villain hand.
type iteration struct {
	sv      *solve
	tracker *solver.RegretTracker
	rng     *rand.Rand
	villain [2]poker.Card
	vKey    string
	rangeOf Range
	values  []float64
}

// cfr returns the hero's utility at n in chips, relative to the root.
func (it *iteration) cfr(ctx context.Context, n *node, reachHero, reachVillain float64) (float64, error) {
	s := &n.state
	if n.terminal() {
		switch s.Folded {
		case Hero:
			return -float64(s.Invested[Hero]), nil
		case Villain:
			return float64(s.Pot - s.Invested[Hero]), nil
		}
		v, err := it.sv.r.leaf.Evaluate(ctx, LeafQuery{State: s, Hero: it.sv.hero, Villain: it.rangeOf}, it.rng)
		if err != nil {
			return 0, err
		}
		return v - float64(s.Invested[Hero]), nil
	}

	side := s.ToAct
	key := n.id + "|h"
	if side == Villain {
		key = n.id + it.vKey
	}
	sigma, err := it.tracker.Strategy(key, n.actions)
	if err != nil {
		return 0, err
	}
	values := make([]float64, len(n.actions))
	for i, child := range n.children {
		rh, rv := reachHero, reachVillain
		if side == Hero {
			rh *= sigma[i]
		} else {
			rv *= sigma[i]
		}
		if values[i], err = it.cfr(ctx, child, rh, rv); err != nil {
			return 0, err
		}
	}

	if n == it.sv.root {
		for i := range values {
			it.values[i] += values[i]
			values[i] -= it.sv.klWeight * math.Log((sigma[i]+klEpsilon)/(it.sv.bp[i]+klEpsilon))
		}
	}
	v := 0.0
	for i := range values {
		v += sigma[i] * values[i]
	}

	for i, a := range n.actions {
		var regret float64
		if side == Hero {
			regret = reachVillain * (values[i] - v)
		} else {
			regret = reachHero * (v - values[i])
		}
		if err := it.tracker.UpdateRegret(key, a, regret); err != nil {
			return 0, err
		}
	}
	reach := reachHero
	if side == Villain {
		reach = reachVillain
	}
	if err := it.tracker.AddStrategySample(key, sigma, reach); err != nil {
		return 0, err
	}
	return v, nil
}

const klEpsilon = 1e-6
