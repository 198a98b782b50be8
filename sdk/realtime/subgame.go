package realtime

import (
	"errors"
	"fmt"
	rand "math/rand/v2"
	"slices"

	"github.com/lox/pokercfr/poker"
	"github.com/lox/pokercfr/sdk/abstraction"
)

// ErrNotStreetBoundary is returned when a subgame must start at the beginning
// of a street but the history shows betting in progress.
var ErrNotStreetBoundary = errors.New("subgame does not start at a street boundary")

// Mode selects how wide the action menu of interior subgame nodes is.
type Mode uint8

const (
	// ModeTight offers call and a single bet, plus occasional sentinels.
	ModeTight Mode = iota
	// ModeBalanced offers call, two bets and all-in.
	ModeBalanced
	// ModeLoose offers the full abstraction menu.
	ModeLoose
)

func (m Mode) String() string {
	switch m {
	case ModeTight:
		return "tight"
	case ModeBalanced:
		return "balanced"
	case ModeLoose:
		return "loose"
	default:
		return "unknown"
	}
}

// ParseMode parses "tight", "balanced" or "loose".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "tight":
		return ModeTight, nil
	case "balanced", "":
		return ModeBalanced, nil
	case "loose":
		return ModeLoose, nil
	}
	return 0, fmt.Errorf("unknown subgame mode %q", s)
}

// SubgameConfig controls the shape of the lookahead tree.
type SubgameConfig struct {
	MaxDepth              int
	Mode                  Mode
	SentinelProbability   float64
	RequireStreetBoundary bool
}

// DefaultSubgameConfig returns a shallow balanced tree.
func DefaultSubgameConfig() SubgameConfig {
	return SubgameConfig{
		MaxDepth:            4,
		Mode:                ModeBalanced,
		SentinelProbability: 0.1,
	}
}

// Validate checks the configuration.
func (c SubgameConfig) Validate() error {
	if c.MaxDepth < 1 {
		return errors.New("max depth must be >= 1")
	}
	if c.Mode > ModeLoose {
		return errors.New("invalid subgame mode")
	}
	if c.SentinelProbability < 0 || c.SentinelProbability > 1 {
		return errors.New("sentinel probability must be in [0, 1]")
	}
	return nil
}

// Sides of a subgame.
const (
	Hero    = 0
	Villain = 1
)

// SubgameState is a node of the heads-up lookahead between the hero and one
// opponent. Chip fields are indexed by side.
type SubgameState struct {
	Street   abstraction.Street
	Board    []poker.Card
	Pot      int
	History  abstraction.History
	Active   int
	Depth    int
	BigBlind int

	Stacks   [2]int
	Bets     [2]int
	Invested [2]int
	Acted    [2]bool

	ToAct      int
	CurrentBet int
	MinRaise   int
	Raises     int
	MaxRaises  int
	Folded     int
	Closed     bool

	HeroSeat        int
	VillainSeat     int
	HeroPosition    abstraction.Position
	VillainPosition abstraction.Position
	HeroInPosition  bool
}

// Terminal reports whether someone folded or the betting round closed.
func (s *SubgameState) Terminal() bool {
	return s.Folded >= 0 || s.Closed
}

// AllIn reports whether either side has no chips behind.
func (s *SubgameState) AllIn() bool {
	return s.Stacks[Hero] == 0 || s.Stacks[Villain] == 0
}

// InPosition reports whether side acts last postflop.
func (s *SubgameState) InPosition(side int) bool {
	return s.HeroInPosition == (side == Hero)
}

// Situation is the betting context of side.
func (s *SubgameState) Situation(side int) abstraction.Situation {
	capped := s.MaxRaises > 0 && s.Raises >= s.MaxRaises
	return abstraction.Situation{
		Pot:        s.Pot,
		Stack:      s.Stacks[side],
		CurrentBet: s.CurrentBet,
		PlayerBet:  s.Bets[side],
		MinRaise:   s.MinRaise,
		Street:     s.Street,
		InPosition: s.InPosition(side),
		Capped:     capped || s.Stacks[1-side] == 0,
	}
}

// Apply returns the state after the side to act takes a.
func (s SubgameState) Apply(a abstraction.AbstractAction, actions *abstraction.ActionAbstraction) SubgameState {
	p := s.ToAct
	sit := s.Situation(p)
	s.History = s.History.Append(a)
	s.Depth++
	if a.Kind() == abstraction.KindFold {
		s.Folded = p
		return s
	}
	amount := actions.ToAmount(a, sit)
	s.Stacks[p] -= amount
	s.Bets[p] += amount
	s.Invested[p] += amount
	s.Pot += amount
	if s.Bets[p] > s.CurrentBet {
		if raise := s.Bets[p] - s.CurrentBet; raise >= s.MinRaise {
			s.MinRaise = raise
		}
		s.CurrentBet = s.Bets[p]
		s.Raises++
		s.Acted = [2]bool{}
	}
	s.Acted[p] = true
	if o := 1 - p; s.needsToAct(o) {
		s.ToAct = o
	} else {
		s.Closed = true
	}
	return s
}

func (s *SubgameState) needsToAct(side int) bool {
	return s.Stacks[side] > 0 && (!s.Acted[side] || s.Bets[side] < s.CurrentBet)
}

// NextStreet deals board onto a closed state and opens the next betting
// round. The out of position side acts first.
func (s SubgameState) NextStreet(board []poker.Card) SubgameState {
	s.Street++
	s.Board = board
	s.History = s.History.NextStreet()
	s.Bets = [2]int{}
	s.Acted = [2]bool{}
	s.CurrentBet = 0
	s.MinRaise = s.BigBlind
	s.Raises = 0
	s.Closed = s.AllIn()
	s.ToAct = Hero
	if s.HeroInPosition {
		s.ToAct = Villain
	}
	return s
}

// Builder constructs subgame roots and their action menus.
type Builder struct {
	cfg     SubgameConfig
	actions *abstraction.ActionAbstraction
}

// NewBuilder validates cfg and returns a builder over the action abstraction.
func NewBuilder(cfg SubgameConfig, actions *abstraction.ActionAbstraction) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if actions == nil {
		return nil, errors.New("action abstraction is required")
	}
	return &Builder{cfg: cfg, actions: actions}, nil
}

// Config returns the builder's configuration.
func (b *Builder) Config() SubgameConfig { return b.cfg }

// Abstraction returns the action abstraction the builder sizes bets with.
func (b *Builder) Abstraction() *abstraction.ActionAbstraction { return b.actions }

// BuildFromState roots a subgame at the hero's decision against the live
// opponent with the largest bet, ties going to the deeper stack.
func (b *Builder) BuildFromState(table TableState, history abstraction.History) (*SubgameState, error) {
	villain := -1
	var best PlayerState
	for _, p := range table.Players {
		if p.Seat == table.Hero || p.Folded {
			continue
		}
		if villain < 0 || p.Bet > best.Bet || (p.Bet == best.Bet && p.Stack > best.Stack) {
			villain, best = p.Seat, p
		}
	}
	return b.BuildAgainst(table, history, villain)
}

// BuildAgainst roots a subgame at the hero's decision against villain.
func (b *Builder) BuildAgainst(table TableState, history abstraction.History, villain int) (*SubgameState, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	if len(history) != int(table.Street)+1 {
		return nil, fmt.Errorf("%s history has %d street segments", table.Street, len(history))
	}
	if b.cfg.RequireStreetBoundary {
		if err := RequireStreetBoundary(table, history); err != nil {
			return nil, err
		}
	}
	hero, _ := table.Player(table.Hero)
	opp, ok := table.Player(villain)
	if !ok || opp.Folded || villain == table.Hero {
		return nil, fmt.Errorf("seat %d is not a live opponent", villain)
	}

	currentBet, raises := 0, 0
	for _, p := range table.Players {
		if !p.Folded {
			currentBet = max(currentBet, p.Bet)
		}
	}
	current := history.Current()
	for _, a := range current {
		if a.Aggressive() {
			raises++
		}
	}
	heroPos, villainPos := table.Position(table.Hero), table.Position(villain)
	s := &SubgameState{
		Street:          table.Street,
		Board:           append([]poker.Card(nil), table.Board...),
		Pot:             table.Pot,
		History:         history,
		Active:          len(table.Live()),
		BigBlind:        table.BigBlind,
		Stacks:          [2]int{hero.Stack, opp.Stack},
		Bets:            [2]int{hero.Bet, opp.Bet},
		Acted:           [2]bool{false, len(current) > 0},
		ToAct:           Hero,
		CurrentBet:      currentBet,
		MinRaise:        table.BigBlind,
		Raises:          raises,
		MaxRaises:       b.actions.Config().MaxRaisesPerStreet,
		Folded:          -1,
		HeroSeat:        table.Hero,
		VillainSeat:     villain,
		HeroPosition:    heroPos,
		VillainPosition: villainPos,
		HeroInPosition:  heroPos.PostflopOrder() > villainPos.PostflopOrder(),
	}
	if hero.Stack == 0 {
		return nil, errors.New("hero is all-in and has no decision")
	}
	return s, nil
}

// RequireStreetBoundary checks that no action has been taken on the current
// street and that the previous betting round closed.
func RequireStreetBoundary(table TableState, history abstraction.History) error {
	if len(history) != int(table.Street)+1 {
		return fmt.Errorf("%w: %s history has %d street segments", ErrNotStreetBoundary, table.Street, len(history))
	}
	if n := len(history.Current()); n > 0 {
		return fmt.Errorf("%w: %d actions already taken on the %s", ErrNotStreetBoundary, n, table.Street)
	}
	if table.Street > abstraction.Preflop && !roundClosed(history[table.Street-1], table) {
		return fmt.Errorf("%w: %s betting did not close", ErrNotStreetBoundary, table.Street-1)
	}
	if table.Street > abstraction.Preflop {
		for _, p := range table.Players {
			if p.Bet != 0 {
				return fmt.Errorf("%w: seat %d has a bet of %d", ErrNotStreetBoundary, p.Seat, p.Bet)
			}
		}
	}
	return nil
}

// roundClosed replays a finished street's actions and reports whether every
// player who started it had answered the last wager. The number of players
// who began the street is recovered from the table: the live seats now plus
// those who folded during it, less anyone already all-in before it.
func roundClosed(seg []abstraction.AbstractAction, table TableState) bool {
	if len(seg) == 0 {
		return false
	}
	live, allIn := 0, 0
	for _, p := range table.Players {
		if p.Folded {
			continue
		}
		live++
		if p.Stack == 0 {
			allIn++
		}
	}
	folds, shoves := 0, 0
	for _, a := range seg {
		switch a.Kind() {
		case abstraction.KindFold:
			folds++
		case abstraction.KindAllIn:
			shoves++
		}
	}
	acting := live + folds - max(0, allIn-shoves)
	owed := acting
	for _, a := range seg {
		switch a.Kind() {
		case abstraction.KindFold:
			owed--
			acting--
		case abstraction.KindCheckCall:
			owed--
		case abstraction.KindBet:
			owed = acting - 1
		case abstraction.KindAllIn:
			owed = acting - 1
			acting--
		}
	}
	return owed <= 0
}

// Legal is the full abstract menu for the side to act at s, before any
// subgame trimming.
func (b *Builder) Legal(s *SubgameState) []abstraction.AbstractAction {
	return b.actions.Available(s.Situation(s.ToAct))
}

// Actions returns the menu for the side to act at s holding stack chips. At
// MaxDepth only fold and check-call remain. In tight mode rng, when not nil,
// may add one sentinel action.
func (b *Builder) Actions(s *SubgameState, stack int, inPosition bool, rng *rand.Rand) []abstraction.AbstractAction {
	sit := s.Situation(s.ToAct)
	sit.Stack = stack
	sit.InPosition = inPosition
	full := b.actions.Available(sit)

	var out, bets []abstraction.AbstractAction
	allIn := false
	for _, a := range full {
		switch a.Kind() {
		case abstraction.KindFold, abstraction.KindCheckCall:
			out = append(out, a)
		case abstraction.KindBet:
			bets = append(bets, a)
		case abstraction.KindAllIn:
			allIn = true
		}
	}
	if s.Depth >= b.cfg.MaxDepth {
		return out
	}

	switch b.cfg.Mode {
	case ModeLoose:
		return full
	case ModeBalanced:
		out = append(out, bets[:min(2, len(bets))]...)
		if allIn {
			out = append(out, abstraction.AllIn())
		}
		return out
	}

	switch {
	case len(bets) > 0:
		out = append(out, bets[0])
	case allIn:
		out = append(out, abstraction.AllIn())
	}
	if rng != nil && b.cfg.SentinelProbability > 0 && !hasSentinel(out) && rng.Float64() < b.cfg.SentinelProbability {
		if cands := b.sentinels(sit); len(cands) > 0 {
			out = insertAction(out, cands[rng.IntN(len(cands))])
		}
	}
	return out
}

const (
	smallSentinel = 33
	overSentinel  = 150
)

func isSentinel(a abstraction.AbstractAction) bool {
	switch a.Kind() {
	case abstraction.KindAllIn:
		return true
	case abstraction.KindBet:
		return a.PotPercent() <= 50 || a.PotPercent() > 100
	}
	return false
}

func hasSentinel(actions []abstraction.AbstractAction) bool {
	return slices.ContainsFunc(actions, isSentinel)
}

// sentinels lists the legal off-menu actions: a small bet, an overbet and
// all-in.
func (b *Builder) sentinels(sit abstraction.Situation) []abstraction.AbstractAction {
	if sit.Capped || sit.Stack <= sit.ToCall() {
		return nil
	}
	var out []abstraction.AbstractAction
	for _, pct := range []int{smallSentinel, overSentinel} {
		if bet := abstraction.Bet(pct); b.actions.ToAmount(bet, sit) < sit.Stack {
			out = append(out, bet)
		}
	}
	return append(out, abstraction.AllIn())
}

// insertAction adds a keeping passive actions first, bets by size, all-in
// last.
func insertAction(actions []abstraction.AbstractAction, a abstraction.AbstractAction) []abstraction.AbstractAction {
	out := append(append([]abstraction.AbstractAction(nil), actions...), a)
	slices.SortStableFunc(out, func(x, y abstraction.AbstractAction) int {
		if x.Kind() != y.Kind() {
			return int(x.Kind()) - int(y.Kind())
		}
		return x.PotPercent() - y.PotPercent()
	})
	return out
}
