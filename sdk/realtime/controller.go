package realtime

import (
	"context"
	"errors"
	"fmt"
	rand "math/rand/v2"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lox/pokercfr/poker"
	"github.com/lox/pokercfr/sdk/abstraction"
)

// Decision is the controller's answer at one hero decision.
type Decision struct {
	Action   abstraction.AbstractAction
	Amount   int
	Key      string
	Solution *Solution
	// Fallback is set when the resolver failed and the blueprint was sampled.
	Fallback bool
}

// Controller is the online entry point. It tracks a belief over each
// opponent's holding for the current hand.
type Controller struct {
	builder   *Builder
	resolver  *Resolver
	blueprint Blueprint
	buckets   Bucketer
	fallback  bool
	logger    zerolog.Logger

	mu      sync.Mutex
	beliefs map[int]*Range
}

// NewController wires a controller. Fallback follows the resolver's
// configuration.
func NewController(builder *Builder, resolver *Resolver, blueprint Blueprint, buckets Bucketer, logger zerolog.Logger) *Controller {
	return &Controller{
		builder:   builder,
		resolver:  resolver,
		blueprint: blueprint,
		buckets:   buckets,
		fallback:  resolver.Config().Fallback,
		logger:    logger,
		beliefs:   make(map[int]*Range),
	}
}

// GetAction resolves the hero decision described by table and samples one
// abstract action with rng.
func (c *Controller) GetAction(ctx context.Context, table TableState, hero [2]poker.Card, history abstraction.History, rng *rand.Rand) (Decision, error) {
	villain, belief := c.strongestOpponent(table)
	if villain < 0 {
		return Decision{}, errors.New("no live opponent")
	}
	root, err := c.builder.BuildAgainst(table, history, villain)
	if err != nil {
		return Decision{}, err
	}
	bucket, err := c.buckets.Bucket(hero, root.Board, root.Street)
	if err != nil {
		return Decision{}, fmt.Errorf("hero bucket: %w", err)
	}
	key := infosetKey(root.Street, bucket, root.History)

	sol, err := c.resolver.Solve(ctx, root, hero, belief, rng)
	if err != nil {
		if !c.fallback {
			return Decision{}, fmt.Errorf("resolve %s: %w", key, err)
		}
		c.logger.Warn().Err(err).Str("key", key).Msg("Resolver failed, sampling blueprint")
		legal := c.builder.Legal(root)
		a := legal[sampleIndex(c.blueprint.Distribution(key, legal), rng)]
		return c.decide(root, a, key, nil, true), nil
	}
	a := sol.Actions[sampleIndex(sol.Probs, rng)]
	return c.decide(root, a, key, sol, sol.Metrics.Fallback), nil
}

func (c *Controller) decide(root *SubgameState, a abstraction.AbstractAction, key string, sol *Solution, fallback bool) Decision {
	return Decision{
		Action:   a,
		Amount:   c.builder.actions.ToAmount(a, root.Situation(Hero)),
		Key:      key,
		Solution: sol,
		Fallback: fallback,
	}
}

// strongestOpponent returns the live opponent whose belief is strongest and a
// copy of that belief.
func (c *Controller) strongestOpponent(table TableState) (int, Range) {
	c.mu.Lock()
	defer c.mu.Unlock()
	seat, best := -1, -1.0
	var out Range
	for _, s := range table.Live() {
		if s == table.Hero {
			continue
		}
		r := c.belief(s)
		if m := r.MeanStrength(); m > best {
			seat, best, out = s, m, *r
		}
	}
	return seat, out
}

// belief returns the tracked range for seat. Callers hold mu.
func (c *Controller) belief(seat int) *Range {
	r, ok := c.beliefs[seat]
	if !ok {
		u := UniformRange()
		r = &u
		c.beliefs[seat] = r
	}
	return r
}

// Belief returns a copy of the current range for seat.
func (c *Controller) Belief(seat int) Range {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.belief(seat)
}

// ObserveAction updates the belief for seat after it took action. Aggression
// shifts weight toward strong classes in proportion to the bet's pot share;
// checks shift it toward weaker ones.
func (c *Controller) ObserveAction(seat int, action abstraction.AbstractAction, table TableState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.belief(seat)
	if action.Kind() == abstraction.KindFold {
		return
	}
	facing := false
	if p, ok := table.Player(seat); ok {
		for _, q := range table.Players {
			if q.Bet > p.Bet {
				facing = true
			}
		}
	}
	for i := range r {
		strength := ClassStrength(poker.HoleClass(i))
		r[i] *= likelihood(action, strength, facing)
	}
	if r.Total() <= 0 {
		*r = UniformRange()
		return
	}
	r.Normalize()
}

// likelihood is the relative probability that a hand of the given strength
// takes action.
func likelihood(action abstraction.AbstractAction, strength float64, facing bool) float64 {
	switch action.Kind() {
	case abstraction.KindAllIn:
		return 0.05 + strength*strength*2
	case abstraction.KindBet:
		size := float64(min(action.PotPercent(), 200)) / 100
		return 0.2 + strength*(0.5+size)
	case abstraction.KindCheckCall:
		if facing {
			return 0.3 + 0.7*strength
		}
		return 1.2 - 0.5*strength
	default:
		return 1
	}
}

// ResetHand clears all beliefs for a new hand.
func (c *Controller) ResetHand() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.beliefs)
}
