package realtime

import (
	"errors"
	"fmt"

	"github.com/lox/pokercfr/poker"
	"github.com/lox/pokercfr/sdk/abstraction"
)

// PlayerState is one seat of a TableState.
type PlayerState struct {
	Seat   int
	Stack  int
	Bet    int
	Folded bool
}

// TableState is the observed table at a hero decision. Pot includes the bets
// made on the current street.
type TableState struct {
	Street   abstraction.Street
	Board    []poker.Card
	Pot      int
	BigBlind int
	Button   int
	Hero     int
	Players  []PlayerState
}

// Player returns the state of seat.
func (t *TableState) Player(seat int) (PlayerState, bool) {
	for _, p := range t.Players {
		if p.Seat == seat {
			return p, true
		}
	}
	return PlayerState{}, false
}

// Live returns the seats that have not folded.
func (t *TableState) Live() []int {
	var out []int
	for _, p := range t.Players {
		if !p.Folded {
			out = append(out, p.Seat)
		}
	}
	return out
}

// Position returns the position of seat relative to the button.
func (t *TableState) Position(seat int) abstraction.Position {
	return abstraction.PositionOf(seat, t.Button, len(t.Players))
}

// Validate checks the table is internally consistent.
func (t *TableState) Validate() error {
	if !t.Street.Valid() {
		return fmt.Errorf("invalid street %d", t.Street)
	}
	if len(t.Board) != t.Street.BoardSize() {
		return fmt.Errorf("%s needs %d board cards, got %d", t.Street, t.Street.BoardSize(), len(t.Board))
	}
	if n := len(t.Players); n < 2 || n > abstraction.MaxPlayers {
		return fmt.Errorf("table has %d players", n)
	}
	if t.BigBlind <= 0 {
		return errors.New("big blind must be > 0")
	}
	seen := poker.NewCardSet()
	for _, c := range t.Board {
		if !c.Valid() || seen.Contains(c) {
			return fmt.Errorf("invalid board card %s", c)
		}
		seen = seen.Add(c)
	}
	bets := 0
	for _, p := range t.Players {
		if p.Stack < 0 || p.Bet < 0 {
			return fmt.Errorf("seat %d has a negative stack or bet", p.Seat)
		}
		bets += p.Bet
	}
	if t.Pot < bets {
		return fmt.Errorf("pot %d is smaller than the current bets %d", t.Pot, bets)
	}
	hero, ok := t.Player(t.Hero)
	if !ok {
		return fmt.Errorf("hero seat %d is not at the table", t.Hero)
	}
	if hero.Folded {
		return errors.New("hero has folded")
	}
	if len(t.Live()) < 2 {
		return errors.New("hand is over")
	}
	return nil
}
