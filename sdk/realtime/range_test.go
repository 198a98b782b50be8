package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/pokercfr/internal/randutil"
	"github.com/lox/pokercfr/poker"
)

func TestUniformRangeWeightsCombos(t *testing.T) {
	r := UniformRange()
	assert.InDelta(t, 1326, r.Total(), 1e-9)

	aces := poker.ClassOf(hand("AsAh")[0], hand("AsAh")[1])
	assert.InDelta(t, 6, r[aces], 1e-9)

	r.Normalize()
	assert.InDelta(t, 1, r.Total(), 1e-9)
}

func TestNormalizeEmptyRangeBecomesUniform(t *testing.T) {
	var r Range
	r.Normalize()
	assert.InDelta(t, 1, r.Total(), 1e-9)
	assert.Greater(t, r[0], 0.0)
}

func TestSampleAvoidsDeadCards(t *testing.T) {
	aa := hand("AsAh")
	r := SingleClass(poker.ClassOf(aa[0], aa[1]))
	dead := poker.NewCardSet(aa[0], aa[1])
	rng := randutil.New(5)

	// Only AcAd survives.
	want := hand("AcAd")
	for range 50 {
		got, ok := r.Sample(rng, dead)
		require.True(t, ok)
		assert.False(t, dead.Contains(got[0]) || dead.Contains(got[1]), "sampled dead card %v", got)
		assert.ElementsMatch(t, want[:], got[:])
	}

	dead = dead.Add(poker.MustParseCards("Ac")[0])
	_, ok := r.Sample(rng, dead)
	assert.False(t, ok, "no aces left")
}

func TestSignatureIgnoresScale(t *testing.T) {
	a := UniformRange()
	b := UniformRange()
	b.Normalize()
	assert.Equal(t, a.Signature(), b.Signature())

	c := SingleClass(3)
	assert.NotEqual(t, a.Signature(), c.Signature())
}

func TestClassStrengthOrdering(t *testing.T) {
	strength := func(s string) float64 {
		h := hand(s)
		return ClassStrength(poker.ClassOf(h[0], h[1]))
	}
	assert.InDelta(t, 1, strength("AsAh"), 1e-9)
	assert.Greater(t, strength("AsAh"), strength("KsKh"))
	assert.Greater(t, strength("8s8h"), strength("8s7h"))
	assert.Greater(t, strength("AsKs"), strength("AsKh"))
	assert.Greater(t, strength("AsKh"), strength("7c2d"))

	strong := SingleClass(poker.ClassOf(hand("AsAh")[0], hand("AsAh")[1]))
	uniform := UniformRange()
	assert.Greater(t, strong.MeanStrength(), uniform.MeanStrength())
	assert.Zero(t, strong.Spread())
	assert.Greater(t, uniform.Spread(), 0.0)
}
