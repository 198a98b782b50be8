package abstraction

import (
	rand "math/rand/v2"

	"github.com/lox/pokercfr/poker"
)

// opponentsPerBoard is the number of opponent deals scored against each
// sampled board completion.
const opponentsPerBoard = 4

// handFeatures estimates [E[HS], E[HS^2]] for hole cards on a partial board
// against players-1 random opponents. HS is the probability of winning the
// showdown on one completed board; the square term separates drawing hands from
// made hands of the same average strength.
func handFeatures(hole [2]poker.Card, board []poker.Card, players, rollouts int, rng *rand.Rand) []float64 {
	dead := poker.NewCardSet(append([]poker.Card{hole[0], hole[1]}, board...)...)
	deck := poker.NewDeck(rng, dead)

	var full [5]poker.Card
	copy(full[:], board)
	opponents := max(players-1, 1)
	holes := make([][2]poker.Card, opponents+1)
	holes[0] = hole

	sum, sumSq := 0.0, 0.0
	for r := 0; r < rollouts; r++ {
		deck.Reset()
		for i := len(board); i < 5; i++ {
			full[i], _ = deck.DealOne()
		}
		mark := deck.Dealt()

		hs := 0.0
		for o := 0; o < opponentsPerBoard; o++ {
			deck.ResetTo(mark)
			hs += showdownShare(deck, full, holes)
		}
		hs /= opponentsPerBoard
		sum += hs
		sumSq += hs * hs
	}
	n := float64(max(rollouts, 1))
	return []float64{sum / n, sumSq / n}
}

// showdownShare deals the opponents and returns hero's share of the pot.
func showdownShare(deck *poker.Deck, board [5]poker.Card, holes [][2]poker.Card) float64 {
	for i := 1; i < len(holes); i++ {
		a, _ := deck.DealOne()
		b, _ := deck.DealOne()
		holes[i] = [2]poker.Card{a, b}
	}
	winners := poker.Showdown(holes, board)
	for _, w := range winners {
		if w == 0 {
			return 1 / float64(len(winners))
		}
	}
	return 0
}
