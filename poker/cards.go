// Package poker holds the card primitives shared by the abstraction, the
// trainer and the real-time resolver.
package poker

import (
	"fmt"
	"math/bits"
	"strings"
)

// Card is a single card encoded as suit*13 + rank, giving values 0..51.
type Card uint8

// CardSet is a bit set of cards, one bit per Card value.
type CardSet uint64

// Suit constants
const (
	Clubs    uint8 = 0
	Diamonds uint8 = 1
	Hearts   uint8 = 2
	Spades   uint8 = 3
)

// Rank constants (0-12 for 2-A)
const (
	Two   uint8 = 0
	Three uint8 = 1
	Four  uint8 = 2
	Five  uint8 = 3
	Six   uint8 = 4
	Seven uint8 = 5
	Eight uint8 = 6
	Nine  uint8 = 7
	Ten   uint8 = 8
	Jack  uint8 = 9
	Queen uint8 = 10
	King  uint8 = 11
	Ace   uint8 = 12
)

// NumCards is the size of a standard deck.
const NumCards = 52

const (
	rankChars = "23456789TJQKA"
	suitChars = "cdhs"
)

// NewCard creates a card from rank (0-12) and suit (0-3).
func NewCard(rank, suit uint8) Card {
	return Card(suit*13 + rank)
}

// Rank returns the rank of the card (0-12).
func (c Card) Rank() uint8 { return uint8(c) % 13 }

// Suit returns the suit of the card (0-3).
func (c Card) Suit() uint8 { return uint8(c) / 13 }

// Valid reports whether the card lies inside the deck.
func (c Card) Valid() bool { return c < NumCards }

func (c Card) String() string {
	if !c.Valid() {
		return "??"
	}
	return string([]byte{rankChars[c.Rank()], suitChars[c.Suit()]})
}

// ParseCard parses the two character form used throughout the codebase, e.g. "As".
func ParseCard(s string) (Card, error) {
	if len(s) != 2 {
		return 0, fmt.Errorf("invalid card %q", s)
	}
	rank := strings.IndexByte(rankChars, upper(s[0]))
	if rank < 0 {
		return 0, fmt.Errorf("invalid rank in card %q", s)
	}
	suit := strings.IndexByte(suitChars, lower(s[1]))
	if suit < 0 {
		return 0, fmt.Errorf("invalid suit in card %q", s)
	}
	return NewCard(uint8(rank), uint8(suit)), nil
}

// ParseCards parses a concatenated or space separated card string such as
// "AsKd" or "As Kd Qh".
func ParseCards(s string) ([]Card, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("invalid card string %q", s)
	}
	cards := make([]Card, 0, len(s)/2)
	var seen CardSet
	for i := 0; i < len(s); i += 2 {
		c, err := ParseCard(s[i : i+2])
		if err != nil {
			return nil, err
		}
		if seen.Contains(c) {
			return nil, fmt.Errorf("duplicate card %s", c)
		}
		seen = seen.Add(c)
		cards = append(cards, c)
	}
	return cards, nil
}

// MustParseCards is ParseCards for literals in tests and fixtures.
func MustParseCards(s string) []Card {
	cards, err := ParseCards(s)
	if err != nil {
		panic(err)
	}
	return cards
}

// FormatCards renders cards without separators.
func FormatCards(cards []Card) string {
	var b strings.Builder
	for _, c := range cards {
		b.WriteString(c.String())
	}
	return b.String()
}

// NewCardSet builds a set from the provided cards.
func NewCardSet(cards ...Card) CardSet {
	var s CardSet
	for _, c := range cards {
		s = s.Add(c)
	}
	return s
}

// Add returns the set with c included.
func (s CardSet) Add(c Card) CardSet { return s | 1<<c }

// Contains reports whether c is in the set.
func (s CardSet) Contains(c Card) bool { return s&(1<<c) != 0 }

// Count returns the number of cards in the set.
func (s CardSet) Count() int { return bits.OnesCount64(uint64(s)) }

// Cards lists the members in ascending order.
func (s CardSet) Cards() []Card {
	out := make([]Card, 0, s.Count())
	for v := uint64(s); v != 0; v &= v - 1 {
		out = append(out, Card(bits.TrailingZeros64(v)))
	}
	return out
}

func upper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - 'a' + 'A'
	}
	return b
}

func lower(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b - 'A' + 'a'
	}
	return b
}
