package solver

import (
	"math"
	rand "math/rand/v2"

	"github.com/lox/pokercfr/sdk/abstraction"
)

// regretTable is the view a traversal reads and writes. The global tracker
// satisfies it in single-process mode; parallel workers use an overlay.
type regretTable interface {
	Regrets(key string, legal []abstraction.AbstractAction) ([]float64, error)
	UpdateRegret(key string, action abstraction.AbstractAction, delta float64) error
	AddStrategySample(key string, dist []float64, weight float64) error
}

// TraversalStats captures instrumentation for one or more iterations.
type TraversalStats struct {
	NodesVisited  int64
	TerminalNodes int64
	PrunedActions int64
	MaxDepth      int
}

func (s *TraversalStats) add(o TraversalStats) {
	s.NodesVisited += o.NodesVisited
	s.TerminalNodes += o.TerminalNodes
	s.PrunedActions += o.PrunedActions
	s.MaxDepth = max(s.MaxDepth, o.MaxDepth)
}

// walker runs a single MCCFR iteration for one traverser.
type walker struct {
	cfg       *TrainingConfig
	table     regretTable
	rng       *rand.Rand
	deal      *deal
	iteration int64
	prune     bool
	epsilon   float64
	stats     TraversalStats
}

func (w *walker) visit(depth int) {
	w.stats.NodesVisited++
	if depth > w.stats.MaxDepth {
		w.stats.MaxDepth = depth
	}
}

func (w *walker) strategyWeight() float64 {
	if w.cfg.LinearWeighting {
		return float64(w.iteration)
	}
	return 1
}

// sampleStrategy records the opponent's current strategy into the average on
// sampling iterations.
func (w *walker) sampleStrategy(key string, sigma []float64) error {
	if w.iteration%int64(w.cfg.StrategyInterval) != 0 {
		return nil
	}
	return w.table.AddStrategySample(key, sigma, w.strategyWeight())
}

// external is external-sampling MCCFR: every unpruned traverser action is
// explored, opponent actions are sampled from the current strategy.
func (w *walker) external(g *gameState, traverser, depth int) (float64, error) {
	w.visit(depth)
	if g.terminal {
		w.stats.TerminalNodes++
		return g.payoffs(w.deal)[traverser], nil
	}

	p := g.toAct
	legal := g.legal()
	key := g.key(p, w.deal)
	regrets, err := w.table.Regrets(key, legal)
	if err != nil {
		return 0, err
	}
	sigma := regretMatch(regrets)

	if p != traverser {
		if err := w.sampleStrategy(key, sigma); err != nil {
			return 0, err
		}
		child := g.apply(legal[sampleIndex(sigma, w.rng)])
		return w.external(&child, traverser, depth+1)
	}

	explore := w.pruneMask(legal, regrets)
	values := make([]float64, len(legal))
	node := 0.0
	for i, a := range legal {
		if !explore[i] {
			continue
		}
		child := g.apply(a)
		v, err := w.external(&child, traverser, depth+1)
		if err != nil {
			return 0, err
		}
		values[i] = v
		node += sigma[i] * v
	}
	for i, a := range legal {
		if !explore[i] {
			continue
		}
		if err := w.table.UpdateRegret(key, a, values[i]-node); err != nil {
			return 0, err
		}
	}
	return node, nil
}

// pruneMask reports which actions to explore. Actions whose regret is below
// -c/sqrt(t) are skipped with the configured probability, except where FOLD
// is legal. At least one action is always explored.
func (w *walker) pruneMask(legal []abstraction.AbstractAction, regrets []float64) []bool {
	explore := make([]bool, len(legal))
	for i := range explore {
		explore[i] = true
	}
	if !w.prune || abstraction.IndexOf(legal, abstraction.Fold()) >= 0 {
		return explore
	}
	threshold := pruneThreshold(w.cfg.PruneThreshold, w.iteration)
	kept := 0
	for i, r := range regrets {
		if r < threshold && w.rng.Float64() < w.cfg.PruneProbability {
			explore[i] = false
			continue
		}
		kept++
	}
	if kept == 0 {
		for i := range explore {
			explore[i] = true
		}
		return explore
	}
	w.stats.PrunedActions += int64(len(legal) - kept)
	return explore
}

// outcome is outcome-sampling MCCFR. It follows one trajectory, exploring
// with probability epsilon at traverser nodes, and returns the sampled
// utility divided by the traverser's sampling probability together with the
// traverser's own reach of the trajectory below the node.
func (w *walker) outcome(g *gameState, traverser, depth int, q float64) (float64, float64, error) {
	w.visit(depth)
	if g.terminal {
		w.stats.TerminalNodes++
		return g.payoffs(w.deal)[traverser] / q, 1, nil
	}

	p := g.toAct
	legal := g.legal()
	key := g.key(p, w.deal)
	regrets, err := w.table.Regrets(key, legal)
	if err != nil {
		return 0, 0, err
	}
	sigma := regretMatch(regrets)

	if p != traverser {
		if err := w.sampleStrategy(key, sigma); err != nil {
			return 0, 0, err
		}
		i := sampleIndex(sigma, w.rng)
		child := g.apply(legal[i])
		// Opponents are sampled on-policy, so their reach cancels against
		// their sampling probability and stays out of the tail.
		return w.outcome(&child, traverser, depth+1, q)
	}

	var i int
	if w.rng.Float64() < w.epsilon {
		i = w.rng.IntN(len(legal))
	} else {
		i = sampleIndex(sigma, w.rng)
	}
	qa := w.epsilon/float64(len(legal)) + (1-w.epsilon)*sigma[i]
	child := g.apply(legal[i])
	u, tail, err := w.outcome(&child, traverser, depth+1, q*qa)
	if err != nil {
		return 0, 0, err
	}
	for j, a := range legal {
		var r float64
		if j == i {
			r = u * tail * (1 - sigma[i])
		} else {
			r = -u * tail * sigma[i]
		}
		if err := w.table.UpdateRegret(key, a, r); err != nil {
			return 0, 0, err
		}
	}
	return u, tail * sigma[i], nil
}

func pruneThreshold(c float64, iteration int64) float64 {
	return -c / math.Sqrt(float64(max(iteration, 1)))
}

// forcedUnpruned reports whether iteration t must run without pruning so that
// at least floor(t*ratio) of the first t iterations are unpruned.
func forcedUnpruned(t int64, ratio float64) bool {
	if ratio <= 0 {
		return false
	}
	return math.Floor(float64(t)*ratio) > math.Floor(float64(t-1)*ratio)
}

func sampleIndex(dist []float64, rng *rand.Rand) int {
	x := rng.Float64()
	cum := 0.0
	for i, p := range dist {
		cum += p
		if x < cum {
			return i
		}
	}
	return len(dist) - 1
}
