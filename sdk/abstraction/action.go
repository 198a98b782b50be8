package abstraction

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ActionKind is the tag of the AbstractAction sum type.
type ActionKind uint8

const (
	KindFold ActionKind = iota
	KindCheckCall
	KindBet
	KindAllIn
)

// AbstractAction is one of FOLD, CHECK_CALL, a bet sized as a percentage of the
// pot, or ALL_IN. The zero value is FOLD. Values are comparable and can key
// maps.
type AbstractAction struct {
	kind ActionKind
	pct  uint16
}

// Fold gives up the hand.
func Fold() AbstractAction { return AbstractAction{kind: KindFold} }

// CheckCall checks when nothing is owed, otherwise calls.
func CheckCall() AbstractAction { return AbstractAction{kind: KindCheckCall} }

// Bet bets or raises pct percent of the pot after calling.
func Bet(pct int) AbstractAction {
	if pct <= 0 {
		pct = 1
	}
	if pct > math.MaxUint16 {
		pct = math.MaxUint16
	}
	return AbstractAction{kind: KindBet, pct: uint16(pct)}
}

// AllIn commits the remaining stack.
func AllIn() AbstractAction { return AbstractAction{kind: KindAllIn} }

// Kind returns the variant tag.
func (a AbstractAction) Kind() ActionKind { return a.kind }

// PotPercent is the sizing of a bet; zero for every other kind.
func (a AbstractAction) PotPercent() int { return int(a.pct) }

// Aggressive reports whether the action puts in more than a call.
func (a AbstractAction) Aggressive() bool {
	return a.kind == KindBet || a.kind == KindAllIn
}

// Token is the abbreviated form used by versioned infoset keys.
func (a AbstractAction) Token() string {
	switch a.kind {
	case KindFold:
		return "F"
	case KindCheckCall:
		return "X"
	case KindBet:
		return "B" + strconv.Itoa(int(a.pct))
	case KindAllIn:
		return "A"
	}
	panic(fmt.Sprintf("abstraction: unknown action kind %d", a.kind))
}

// Name is the verbose form used by legacy infoset keys.
func (a AbstractAction) Name() string {
	switch a.kind {
	case KindFold:
		return "FOLD"
	case KindCheckCall:
		return "CHECK_CALL"
	case KindBet:
		return "BET_" + strconv.Itoa(int(a.pct))
	case KindAllIn:
		return "ALL_IN"
	}
	panic(fmt.Sprintf("abstraction: unknown action kind %d", a.kind))
}

func (a AbstractAction) String() string { return a.Name() }

// MarshalText encodes the action by its token so it survives JSON and gob.
func (a AbstractAction) MarshalText() ([]byte, error) {
	return []byte(a.Token()), nil
}

// UnmarshalText parses a token or a verbose name.
func (a *AbstractAction) UnmarshalText(b []byte) error {
	s := string(b)
	if act, err := parseToken(s); err == nil {
		*a = act
		return nil
	}
	act, err := parseName(s)
	if err != nil {
		return err
	}
	*a = act
	return nil
}

func parseToken(s string) (AbstractAction, error) {
	switch {
	case s == "F":
		return Fold(), nil
	case s == "X":
		return CheckCall(), nil
	case s == "A":
		return AllIn(), nil
	case len(s) > 1 && s[0] == 'B':
		pct, err := strconv.Atoi(s[1:])
		if err != nil || pct <= 0 || pct > math.MaxUint16 {
			return AbstractAction{}, fmt.Errorf("%w: bad bet token %q", ErrMalformedKey, s)
		}
		return Bet(pct), nil
	}
	return AbstractAction{}, fmt.Errorf("%w: unknown action token %q", ErrMalformedKey, s)
}

func parseName(s string) (AbstractAction, error) {
	switch {
	case s == "FOLD":
		return Fold(), nil
	case s == "CHECK_CALL":
		return CheckCall(), nil
	case s == "ALL_IN":
		return AllIn(), nil
	case strings.HasPrefix(s, "BET_"):
		pct, err := strconv.Atoi(s[len("BET_"):])
		if err != nil || pct <= 0 || pct > math.MaxUint16 {
			return AbstractAction{}, fmt.Errorf("%w: bad bet name %q", ErrMalformedKey, s)
		}
		return Bet(pct), nil
	}
	return AbstractAction{}, fmt.Errorf("%w: unknown action name %q", ErrMalformedKey, s)
}

// IndexOf returns the position of a in actions, or -1.
func IndexOf(actions []AbstractAction, a AbstractAction) int {
	for i, x := range actions {
		if x == a {
			return i
		}
	}
	return -1
}

// BetMenu lists the bet sizes, in percent of the pot, offered in and out of
// position on one street.
type BetMenu struct {
	IP  []int `json:"ip" hcl:"ip,optional"`
	OOP []int `json:"oop" hcl:"oop,optional"`
}

// ActionConfig describes the action abstraction.
type ActionConfig struct {
	Menus              [NumStreets]BetMenu `json:"menus"`
	AllowAllIn         bool                `json:"allow_all_in"`
	MaxRaisesPerStreet int                 `json:"max_raises_per_street"`
}

// DefaultActionConfig returns menus biased toward commonly used sizings: one
// or two opening sizes preflop, smaller bets out of position, and overbets
// only for the player acting last.
func DefaultActionConfig() ActionConfig {
	return ActionConfig{
		Menus: [NumStreets]BetMenu{
			Preflop: {IP: []int{100, 250}, OOP: []int{100, 250}},
			Flop:    {IP: []int{33, 75}, OOP: []int{50}},
			Turn:    {IP: []int{66, 150}, OOP: []int{75}},
			River:   {IP: []int{50, 100, 200}, OOP: []int{75}},
		},
		AllowAllIn:         true,
		MaxRaisesPerStreet: 2,
	}
}

// Validate checks menus are positive and strictly increasing.
func (c ActionConfig) Validate() error {
	for s, menu := range c.Menus {
		for side, sizes := range [][]int{menu.IP, menu.OOP} {
			last := 0
			for i, pct := range sizes {
				if pct <= 0 || pct > math.MaxUint16 {
					return fmt.Errorf("%s menu[%d][%d]: size %d out of range", Street(s), side, i, pct)
				}
				if pct <= last {
					return fmt.Errorf("%s menu[%d]: sizes must be strictly increasing", Street(s), side)
				}
				last = pct
			}
		}
	}
	if c.MaxRaisesPerStreet < 0 {
		return errors.New("max raises per street cannot be negative")
	}
	return nil
}

// Situation is the betting context of a single decision, in chips.
type Situation struct {
	Pot        int
	Stack      int
	CurrentBet int
	PlayerBet  int
	MinRaise   int
	Street     Street
	InPosition bool
	// Capped is set once the street's raise limit is reached.
	Capped bool
}

// ToCall is the amount owed to continue.
func (s Situation) ToCall() int {
	if s.CurrentBet > s.PlayerBet {
		return s.CurrentBet - s.PlayerBet
	}
	return 0
}

// ActionAbstraction enumerates legal abstract actions and converts them to and
// from concrete wagers.
type ActionAbstraction struct {
	cfg    ActionConfig
	ladder []int
	breaks []float64
}

// NewActionAbstraction builds the abstraction and its inverse-mapping ladder.
func NewActionAbstraction(cfg ActionConfig) (*ActionAbstraction, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	seen := make(map[int]bool)
	var ladder []int
	for _, menu := range cfg.Menus {
		for _, pct := range append(append([]int(nil), menu.IP...), menu.OOP...) {
			if !seen[pct] {
				seen[pct] = true
				ladder = append(ladder, pct)
			}
		}
	}
	sort.Ints(ladder)
	breaks := make([]float64, 0, len(ladder))
	for i := 1; i < len(ladder); i++ {
		breaks = append(breaks, float64(ladder[i-1]+ladder[i])/200)
	}
	return &ActionAbstraction{cfg: cfg, ladder: ladder, breaks: breaks}, nil
}

// Config returns the configuration the abstraction was built from.
func (a *ActionAbstraction) Config() ActionConfig { return a.cfg }

// Menu returns the bet sizes offered on street for the given side.
func (a *ActionAbstraction) Menu(street Street, inPosition bool) []int {
	if !street.Valid() {
		return nil
	}
	if inPosition {
		return a.cfg.Menus[street].IP
	}
	return a.cfg.Menus[street].OOP
}

// Available enumerates the legal abstract actions. CHECK_CALL is always
// present; FOLD only when facing a wager. Bet sizes that collapse to the same
// chip amount, or that would commit the whole stack, are dropped in favour of
// the smaller size and ALL_IN respectively.
func (a *ActionAbstraction) Available(s Situation) []AbstractAction {
	toCall := s.ToCall()
	out := make([]AbstractAction, 0, 6)
	if toCall > 0 {
		out = append(out, Fold())
	}
	out = append(out, CheckCall())
	if s.Stack <= toCall || s.Capped {
		return out
	}
	lastAmount := 0
	for _, pct := range a.Menu(s.Street, s.InPosition) {
		bet := Bet(pct)
		amount := a.ToAmount(bet, s)
		if amount >= s.Stack || amount == lastAmount {
			continue
		}
		lastAmount = amount
		out = append(out, bet)
	}
	if a.cfg.AllowAllIn {
		out = append(out, AllIn())
	}
	return out
}

// ToAmount converts an abstract action into the chips added by the player now.
// Bets are sized against the pot after calling, raised to the minimum raise,
// and capped by the stack.
func (a *ActionAbstraction) ToAmount(act AbstractAction, s Situation) int {
	toCall := s.ToCall()
	switch act.Kind() {
	case KindFold:
		return 0
	case KindCheckCall:
		return min(toCall, s.Stack)
	case KindAllIn:
		return s.Stack
	case KindBet:
		raise := int(math.Round(float64(act.PotPercent()) / 100 * float64(s.Pot+toCall)))
		raise = max(raise, s.MinRaise, 1)
		return min(toCall+raise, s.Stack)
	}
	panic(fmt.Sprintf("abstraction: unknown action kind %d", act.Kind()))
}

// FromAmount maps an observed wager (chips added now) to the closest abstract
// action. The mapping only depends on the bet-to-pot ratio and the fixed
// breakpoints halfway between neighbouring ladder sizes, so it is monotonic in
// that ratio. Folds cannot be inferred from an amount and are never returned.
func (a *ActionAbstraction) FromAmount(amount int, s Situation) AbstractAction {
	toCall := s.ToCall()
	if amount <= toCall {
		return CheckCall()
	}
	if amount >= s.Stack || len(a.ladder) == 0 {
		return AllIn()
	}
	ratio := float64(amount-toCall) / float64(max(s.Pot+toCall, 1))
	idx := sort.SearchFloat64s(a.breaks, ratio)
	// SearchFloat64s returns the first break >= ratio; a ratio sitting exactly
	// on a break rounds up.
	if idx < len(a.breaks) && a.breaks[idx] == ratio {
		idx++
	}
	return Bet(a.ladder[idx])
}

// Ladder returns every bet size the abstraction knows, ascending.
func (a *ActionAbstraction) Ladder() []int {
	return append([]int(nil), a.ladder...)
}
