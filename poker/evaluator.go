package poker

import (
	"fmt"

	ph "github.com/paulhankin/poker"
)

// HandValue ranks a seven card hand. Higher values are stronger hands; equal
// values split the pot.
type HandValue int16

var phCards [NumCards]ph.Card

func init() {
	suits := [4]ph.Suit{ph.Club, ph.Diamond, ph.Heart, ph.Spade}
	for c := Card(0); c < NumCards; c++ {
		// paulhankin ranks run Ace=1, Two=2 .. King=13.
		r := ph.Rank(c.Rank() + 2)
		if c.Rank() == Ace {
			r = 1
		}
		pc, err := ph.MakeCard(suits[c.Suit()], r)
		if err != nil {
			panic(fmt.Sprintf("poker: cannot map card %s: %v", c, err))
		}
		phCards[c] = pc
	}
}

// Evaluate7 ranks two hole cards together with a complete five card board.
func Evaluate7(hole [2]Card, board [5]Card) HandValue {
	var hand [7]ph.Card
	hand[0] = phCards[hole[0]]
	hand[1] = phCards[hole[1]]
	for i, c := range board {
		hand[2+i] = phCards[c]
	}
	return HandValue(ph.Eval7(&hand))
}

// Showdown returns the indexes of the winning hands for a complete board.
func Showdown(holes [][2]Card, board [5]Card) []int {
	best := HandValue(-1 << 15)
	var winners []int
	for i, h := range holes {
		v := Evaluate7(h, board)
		switch {
		case v > best:
			best = v
			winners = append(winners[:0], i)
		case v == best:
			winners = append(winners, i)
		}
	}
	return winners
}
