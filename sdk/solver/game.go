package solver

import (
	"fmt"
	rand "math/rand/v2"

	"github.com/lox/pokercfr/poker"
	"github.com/lox/pokercfr/sdk/abstraction"
)

// Bucketer maps cards to abstraction buckets. *abstraction.Bucketer
// satisfies it.
type Bucketer interface {
	Bucket(hole [2]poker.Card, board []poker.Card, street abstraction.Street) (int, error)
	Hash() string
}

// gameConfig is the fixed structure of the abstract game. The button sits in
// seat 0.
type gameConfig struct {
	players    int
	smallBlind int
	bigBlind   int
	stack      int
	maxRaises  int
	actions    *abstraction.ActionAbstraction
}

func newGameConfig(cfg TrainingConfig) (*gameConfig, error) {
	actions, err := abstraction.NewActionAbstraction(cfg.Actions)
	if err != nil {
		return nil, err
	}
	return &gameConfig{
		players:    cfg.Players,
		smallBlind: cfg.SmallBlind,
		bigBlind:   cfg.BigBlind,
		stack:      cfg.StartingStack,
		maxRaises:  cfg.Actions.MaxRaisesPerStreet,
		actions:    actions,
	}, nil
}

// deal is the chance outcome of one iteration, sampled before the traversal.
type deal struct {
	holes   [abstraction.MaxPlayers][2]poker.Card
	board   [5]poker.Card
	buckets [abstraction.MaxPlayers][abstraction.NumStreets]int
}

func sampleDeal(rng *rand.Rand, players int, b Bucketer) (*deal, error) {
	deck := poker.NewDeck(rng, 0)
	d := &deal{}
	for p := 0; p < players; p++ {
		cards := deck.Deal(2)
		d.holes[p] = [2]poker.Card{cards[0], cards[1]}
	}
	copy(d.board[:], deck.Deal(5))
	for p := 0; p < players; p++ {
		for s := abstraction.Preflop; s <= abstraction.River; s++ {
			bucket, err := b.Bucket(d.holes[p], d.board[:s.BoardSize()], s)
			if err != nil {
				return nil, fmt.Errorf("bucket seat %d on %s: %w", p, s, err)
			}
			d.buckets[p][s] = bucket
		}
	}
	return d, nil
}

// gameState is a node of the abstract betting game. It is a value type; apply
// returns a modified copy so that traversals can branch freely.
type gameState struct {
	cfg        *gameConfig
	street     abstraction.Street
	pot        int
	stacks     [abstraction.MaxPlayers]int
	bets       [abstraction.MaxPlayers]int
	committed  [abstraction.MaxPlayers]int
	folded     [abstraction.MaxPlayers]bool
	allIn      [abstraction.MaxPlayers]bool
	acted      [abstraction.MaxPlayers]bool
	toAct      int
	currentBet int
	minRaise   int
	raises     int
	history    abstraction.History
	terminal   bool
}

func newGame(cfg *gameConfig) gameState {
	g := gameState{
		cfg:      cfg,
		street:   abstraction.Preflop,
		history:  abstraction.NewHistory(),
		minRaise: cfg.bigBlind,
	}
	for p := 0; p < cfg.players; p++ {
		g.stacks[p] = cfg.stack
	}
	sb, bb := 1, 2
	if cfg.players == 2 {
		sb, bb = 0, 1
	}
	g.commit(sb, cfg.smallBlind)
	g.commit(bb, cfg.bigBlind)
	g.currentBet = cfg.bigBlind
	g.toAct = (bb + 1) % cfg.players
	return g
}

func (g *gameState) commit(p, amount int) {
	amount = min(amount, g.stacks[p])
	g.stacks[p] -= amount
	g.bets[p] += amount
	g.committed[p] += amount
	g.pot += amount
	if g.stacks[p] == 0 {
		g.allIn[p] = true
	}
}

// order is the seat's rank in postflop action order; the button acts last.
func (g *gameState) order(p int) int {
	return (p - 1 + g.cfg.players) % g.cfg.players
}

func (g *gameState) inPosition(p int) bool {
	for i := 0; i < g.cfg.players; i++ {
		if i != p && !g.folded[i] && g.order(i) > g.order(p) {
			return false
		}
	}
	return true
}

func (g *gameState) othersCanAct(p int) bool {
	for i := 0; i < g.cfg.players; i++ {
		if i != p && !g.folded[i] && !g.allIn[i] {
			return true
		}
	}
	return false
}

func (g *gameState) situation(p int) abstraction.Situation {
	capped := g.cfg.maxRaises > 0 && g.raises >= g.cfg.maxRaises
	return abstraction.Situation{
		Pot:        g.pot,
		Stack:      g.stacks[p],
		CurrentBet: g.currentBet,
		PlayerBet:  g.bets[p],
		MinRaise:   g.minRaise,
		Street:     g.street,
		InPosition: g.inPosition(p),
		Capped:     capped || !g.othersCanAct(p),
	}
}

func (g *gameState) legal() []abstraction.AbstractAction {
	return g.cfg.actions.Available(g.situation(g.toAct))
}

func (g *gameState) key(p int, d *deal) string {
	return abstraction.InfosetKey{
		Street:  g.street,
		Bucket:  d.buckets[p][g.street],
		History: g.history,
	}.String()
}

func (g gameState) apply(a abstraction.AbstractAction) gameState {
	p := g.toAct
	sit := g.situation(p)
	g.history = g.history.Append(a)
	if a.Kind() == abstraction.KindFold {
		g.folded[p] = true
	} else {
		g.commit(p, g.cfg.actions.ToAmount(a, sit))
		if g.bets[p] > g.currentBet {
			if raise := g.bets[p] - g.currentBet; raise >= g.minRaise {
				g.minRaise = raise
			}
			g.currentBet = g.bets[p]
			g.raises++
			g.acted = [abstraction.MaxPlayers]bool{}
		}
	}
	g.acted[p] = true
	g.advance(p)
	return g
}

func (g *gameState) needsToAct(i int) bool {
	return !g.folded[i] && !g.allIn[i] && (!g.acted[i] || g.bets[i] < g.currentBet)
}

func (g *gameState) advance(last int) {
	live, canAct := 0, 0
	for i := 0; i < g.cfg.players; i++ {
		if !g.folded[i] {
			live++
			if !g.allIn[i] {
				canAct++
			}
		}
	}
	if live == 1 {
		g.terminal = true
		return
	}
	for step := 1; step <= g.cfg.players; step++ {
		i := (last + step) % g.cfg.players
		if g.needsToAct(i) {
			g.toAct = i
			return
		}
	}
	// Betting round closed.
	if g.street == abstraction.River || canAct <= 1 {
		g.terminal = true
		return
	}
	g.street++
	g.history = g.history.NextStreet()
	g.bets = [abstraction.MaxPlayers]int{}
	g.acted = [abstraction.MaxPlayers]bool{}
	g.currentBet = 0
	g.minRaise = g.cfg.bigBlind
	g.raises = 0
	for step := 1; step <= g.cfg.players; step++ {
		i := step % g.cfg.players
		if !g.folded[i] && !g.allIn[i] {
			g.toAct = i
			return
		}
	}
}

// payoffs returns every seat's net result in big blinds. Showdowns split the
// main pot and each side pot between the best eligible hands.
func (g *gameState) payoffs(d *deal) [abstraction.MaxPlayers]float64 {
	n := g.cfg.players
	var won [abstraction.MaxPlayers]float64
	live := 0
	for i := 0; i < n; i++ {
		if !g.folded[i] {
			live++
		}
	}
	if live == 1 {
		// Uncontested pots never reach a showdown.
		for i := 0; i < n; i++ {
			if !g.folded[i] {
				won[i] = float64(g.pot)
			}
		}
	} else {
		var values [abstraction.MaxPlayers]poker.HandValue
		for i := 0; i < n; i++ {
			if !g.folded[i] {
				values[i] = poker.Evaluate7(d.holes[i], d.board)
			}
		}
		prev := 0
		for {
			level := -1
			for i := 0; i < n; i++ {
				if !g.folded[i] && g.committed[i] > prev && (level < 0 || g.committed[i] < level) {
					level = g.committed[i]
				}
			}
			if level < 0 {
				break
			}
			layer := 0
			for i := 0; i < n; i++ {
				layer += min(g.committed[i], level) - min(g.committed[i], prev)
			}
			var best poker.HandValue = -1 << 15
			var winners []int
			for i := 0; i < n; i++ {
				if g.folded[i] || g.committed[i] < level {
					continue
				}
				switch {
				case values[i] > best:
					best = values[i]
					winners = append(winners[:0], i)
				case values[i] == best:
					winners = append(winners, i)
				}
			}
			share := float64(layer) / float64(len(winners))
			for _, w := range winners {
				won[w] += share
			}
			prev = level
		}
		// Chips folded players put in above every live stack go to the
		// deepest live player.
		over := 0
		for i := 0; i < n; i++ {
			over += g.committed[i] - min(g.committed[i], prev)
		}
		if over > 0 {
			deepest := -1
			for i := 0; i < n; i++ {
				if !g.folded[i] && (deepest < 0 || g.committed[i] > g.committed[deepest]) {
					deepest = i
				}
			}
			won[deepest] += float64(over)
		}
	}
	var out [abstraction.MaxPlayers]float64
	bb := float64(g.cfg.bigBlind)
	for i := 0; i < n; i++ {
		out[i] = (won[i] - float64(g.committed[i])) / bb
	}
	return out
}
