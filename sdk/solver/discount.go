package solver

import "math"

// discountFactors are the multipliers applied after iteration t.
type discountFactors struct {
	Positive float64
	Negative float64
	Strategy float64
}

// discountAt returns the factors for iteration t, and false when no discount
// is due.
func (c TrainingConfig) discountAt(t int64) (discountFactors, bool) {
	if c.Discount == DiscountNone || c.DiscountInterval <= 0 || t%int64(c.DiscountInterval) != 0 {
		return discountFactors{}, false
	}
	k := float64(t / int64(c.DiscountInterval))
	switch c.Discount {
	case DiscountLinear:
		f := k / (k + 1)
		return discountFactors{Positive: f, Negative: f, Strategy: f}, true
	case DiscountDCFR:
		pa := math.Pow(k, c.DiscountAlpha)
		pb := math.Pow(k, c.DiscountBeta)
		return discountFactors{
			Positive: pa / (pa + 1),
			Negative: pb / (pb + 1),
			Strategy: math.Pow(k/(k+1), c.DiscountGamma),
		}, true
	}
	return discountFactors{}, false
}
