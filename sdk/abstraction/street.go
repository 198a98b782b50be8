// Package abstraction maps concrete poker situations onto the small, finite
// game the solver reasons about: per-street hand buckets, a closed set of
// abstract actions, and the infoset keys that tie them together.
package abstraction

import (
	"fmt"
	"strings"
)

// Street enumerates the betting round within a Texas Hold'em hand.
type Street uint8

const (
	Preflop Street = iota
	Flop
	Turn
	River
)

// NumStreets is the number of betting rounds in a hand.
const NumStreets = 4

func (s Street) String() string {
	switch s {
	case Preflop:
		return "PREFLOP"
	case Flop:
		return "FLOP"
	case Turn:
		return "TURN"
	case River:
		return "RIVER"
	default:
		return fmt.Sprintf("STREET(%d)", uint8(s))
	}
}

// Valid reports whether s is one of the four betting rounds.
func (s Street) Valid() bool { return s <= River }

// BoardSize is the number of community cards visible on the street.
func (s Street) BoardSize() int {
	switch s {
	case Preflop:
		return 0
	case Flop:
		return 3
	case Turn:
		return 4
	default:
		return 5
	}
}

// ParseStreet accepts the upper-case street names used in infoset keys.
func ParseStreet(s string) (Street, error) {
	switch strings.ToUpper(s) {
	case "PREFLOP":
		return Preflop, nil
	case "FLOP":
		return Flop, nil
	case "TURN":
		return Turn, nil
	case "RIVER":
		return River, nil
	default:
		return 0, fmt.Errorf("unknown street %q", s)
	}
}

// StreetForBoard infers the street from the number of visible board cards.
func StreetForBoard(n int) (Street, error) {
	switch n {
	case 0:
		return Preflop, nil
	case 3:
		return Flop, nil
	case 4:
		return Turn, nil
	case 5:
		return River, nil
	default:
		return 0, fmt.Errorf("invalid board size %d", n)
	}
}

// Position names a seat relative to the button.
type Position uint8

const (
	PosBTN Position = iota
	PosSB
	PosBB
	PosUTG
	PosHJ
	PosCO
)

// MaxPlayers is the largest table the abstraction models.
const MaxPlayers = 6

func (p Position) String() string {
	switch p {
	case PosBTN:
		return "BTN"
	case PosSB:
		return "SB"
	case PosBB:
		return "BB"
	case PosUTG:
		return "UTG"
	case PosHJ:
		return "HJ"
	case PosCO:
		return "CO"
	default:
		return fmt.Sprintf("POS(%d)", uint8(p))
	}
}

// PositionOf returns the position of seat for a table of the given size. Heads
// up the button posts the small blind and is reported as BTN.
func PositionOf(seat, button, players int) Position {
	off := ((seat-button)%players + players) % players
	if players == 2 {
		if off == 0 {
			return PosBTN
		}
		return PosBB
	}
	switch off {
	case 0:
		return PosBTN
	case 1:
		return PosSB
	case 2:
		return PosBB
	}
	switch players - 1 - off {
	case 0:
		return PosCO
	case 1:
		return PosHJ
	default:
		return PosUTG
	}
}

// PostflopOrder is the rank of the position in postflop action order; the
// highest rank acts last and is in position.
func (p Position) PostflopOrder() int {
	switch p {
	case PosSB:
		return 0
	case PosBB:
		return 1
	case PosUTG:
		return 2
	case PosHJ:
		return 3
	case PosCO:
		return 4
	default:
		return 5
	}
}
