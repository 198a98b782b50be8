package realtime

import (
	"hash/fnv"
	"math"
	rand "math/rand/v2"

	"github.com/lox/pokercfr/poker"
)

// Range is a weight for each of the 169 starting hand classes. Weights need
// not be normalised.
type Range [poker.NumHoleClasses]float64

// UniformRange weights every class by its number of combinations.
func UniformRange() Range {
	var r Range
	for c := range r {
		r[c] = float64(len(poker.HoleClass(c).Combos(0)))
	}
	return r
}

// SingleClass returns a range holding only class c.
func SingleClass(c poker.HoleClass) Range {
	var r Range
	r[c] = 1
	return r
}

// Total is the sum of the weights.
func (r *Range) Total() float64 {
	total := 0.0
	for _, w := range r {
		total += w
	}
	return total
}

// Normalize scales the weights to sum to one. An empty range becomes uniform.
func (r *Range) Normalize() {
	total := r.Total()
	if total <= 0 {
		*r = UniformRange()
		total = r.Total()
	}
	for c := range r {
		r[c] /= total
	}
}

// Sample draws a concrete hand avoiding dead cards: a class by weight, then
// one of its live combinations uniformly.
func (r *Range) Sample(rng *rand.Rand, dead poker.CardSet) ([2]poker.Card, bool) {
	var live [poker.NumHoleClasses][][2]poker.Card
	total := 0.0
	for c, w := range r {
		if w <= 0 {
			continue
		}
		live[c] = poker.HoleClass(c).Combos(dead)
		if len(live[c]) > 0 {
			total += w
		}
	}
	if total <= 0 {
		return [2]poker.Card{}, false
	}
	x := rng.Float64() * total
	last := -1
	for c, w := range r {
		if w <= 0 || len(live[c]) == 0 {
			continue
		}
		last = c
		if x < w {
			break
		}
		x -= w
	}
	combos := live[last]
	return combos[rng.IntN(len(combos))], true
}

// MeanStrength is the weighted average ClassStrength of the range.
func (r *Range) MeanStrength() float64 {
	total, sum := 0.0, 0.0
	for c, w := range r {
		total += w
		sum += w * ClassStrength(poker.HoleClass(c))
	}
	if total <= 0 {
		return 0.5
	}
	return sum / total
}

// Spread is the weighted standard deviation of class strength.
func (r *Range) Spread() float64 {
	mean := r.MeanStrength()
	total, sum := 0.0, 0.0
	for c, w := range r {
		d := ClassStrength(poker.HoleClass(c)) - mean
		total += w
		sum += w * d * d
	}
	if total <= 0 {
		return 0
	}
	return math.Sqrt(sum / total)
}

// Signature hashes the normalised weights quantised to 1e-4, so ranges that
// differ only by scale or rounding noise share cache entries.
func (r *Range) Signature() uint64 {
	total := r.Total()
	h := fnv.New64a()
	var buf [2]byte
	for _, w := range r {
		q := uint16(0)
		if total > 0 {
			q = uint16(math.Round(w / total * 1e4))
		}
		buf[0], buf[1] = byte(q>>8), byte(q)
		h.Write(buf[:])
	}
	return h.Sum64()
}

// ClassStrength is a static preflop strength estimate in [0, 1]. Pairs rank
// above unpaired hands of the same high card; suited and connected hands get
// a small bonus.
func ClassStrength(c poker.HoleClass) float64 {
	hi, lo, suited := c.Ranks()
	if hi == lo {
		return 0.5 + 0.5*float64(hi)/12
	}
	s := 0.7 * (2*float64(hi) + float64(lo)) / 36
	if suited {
		s += 0.05
	}
	if hi-lo == 1 {
		s += 0.03
	}
	return min(s, 1)
}
