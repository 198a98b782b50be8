package poker

// NumHoleClasses is the number of strategically distinct starting hands once
// suit symmetry is removed.
const NumHoleClasses = 169

// HoleClass identifies one of the 169 canonical starting hands. Classes are laid
// out on a 13x13 grid: pairs on the diagonal, suited hands with the higher rank
// as the row, offsuit hands with the lower rank as the row.
type HoleClass uint8

// ClassOf returns the canonical class of two hole cards.
func ClassOf(c1, c2 Card) HoleClass {
	hi, lo := c1.Rank(), c2.Rank()
	if lo > hi {
		hi, lo = lo, hi
	}
	switch {
	case hi == lo:
		return HoleClass(hi*13 + hi)
	case c1.Suit() == c2.Suit():
		return HoleClass(hi*13 + lo)
	default:
		return HoleClass(lo*13 + hi)
	}
}

// Ranks returns the high and low rank of the class and whether it is suited.
func (h HoleClass) Ranks() (hi, lo uint8, suited bool) {
	row, col := uint8(h)/13, uint8(h)%13
	switch {
	case row == col:
		return row, col, false
	case row > col:
		return row, col, true
	default:
		return col, row, false
	}
}

// Pair reports whether the class is a pocket pair.
func (h HoleClass) Pair() bool {
	hi, lo, _ := h.Ranks()
	return hi == lo
}

func (h HoleClass) String() string {
	hi, lo, suited := h.Ranks()
	name := []byte{rankChars[hi], rankChars[lo]}
	switch {
	case hi == lo:
	case suited:
		name = append(name, 's')
	default:
		name = append(name, 'o')
	}
	return string(name)
}

// Combos lists every concrete two card combination of the class that avoids
// the dead cards.
func (h HoleClass) Combos(dead CardSet) [][2]Card {
	hi, lo, suited := h.Ranks()
	var out [][2]Card
	for s1 := uint8(0); s1 < 4; s1++ {
		for s2 := uint8(0); s2 < 4; s2++ {
			switch {
			case hi == lo && s2 <= s1:
				continue
			case hi != lo && suited && s1 != s2:
				continue
			case hi != lo && !suited && s1 == s2:
				continue
			}
			a, b := NewCard(hi, s1), NewCard(lo, s2)
			if dead.Contains(a) || dead.Contains(b) {
				continue
			}
			out = append(out, [2]Card{a, b})
		}
	}
	return out
}
