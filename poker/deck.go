package poker

import (
	rand "math/rand/v2"
)

// Deck is a deck of the cards not marked dead at construction. Cards are drawn
// with an incremental Fisher-Yates so that dealing a few cards for a rollout
// does not pay for a full shuffle.
type Deck struct {
	cards [NumCards]Card
	size  int
	next  int
	rng   *rand.Rand
}

// NewDeck creates a deck without the dead cards, drawing randomness from rng.
func NewDeck(rng *rand.Rand, dead CardSet) *Deck {
	d := &Deck{rng: rng}
	for c := Card(0); c < NumCards; c++ {
		if dead.Contains(c) {
			continue
		}
		d.cards[d.size] = c
		d.size++
	}
	return d
}

// DealOne deals a single random card from the remaining cards.
func (d *Deck) DealOne() (Card, bool) {
	if d.next >= d.size {
		return 0, false
	}
	j := d.next + d.rng.IntN(d.size-d.next)
	d.cards[d.next], d.cards[j] = d.cards[j], d.cards[d.next]
	c := d.cards[d.next]
	d.next++
	return c, true
}

// Deal deals n cards, or nil when the deck cannot supply them.
func (d *Deck) Deal(n int) []Card {
	if d.next+n > d.size {
		return nil
	}
	out := make([]Card, n)
	for i := range out {
		out[i], _ = d.DealOne()
	}
	return out
}

// Reset returns every dealt card to the deck. The next deal is independent of
// the previous one because draws are random.
func (d *Deck) Reset() {
	d.next = 0
}

// Dealt is the number of cards dealt since the last reset.
func (d *Deck) Dealt() int {
	return d.next
}

// ResetTo returns every card dealt after the first n to the deck, keeping the
// first n out of play.
func (d *Deck) ResetTo(n int) {
	if n >= 0 && n < d.next {
		d.next = n
	}
}

// CardsRemaining returns the number of cards left in the deck.
func (d *Deck) CardsRemaining() int {
	return d.size - d.next
}
