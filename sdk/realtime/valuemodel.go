package realtime

import (
	"errors"
	"fmt"

	"github.com/lox/pokercfr/internal/fileutil"
	"github.com/lox/pokercfr/poker"
	"github.com/lox/pokercfr/sdk/abstraction"
)

// ValueModel predicts the hero's share of the pot at a leaf, in pot units,
// with a symmetric uncertainty half-width.
type ValueModel interface {
	Predict(features []float64) (mean, halfWidth float64, err error)
}

// Feature layout.
const (
	sprBuckets     = 5
	featStreet     = 0
	featPosition   = featStreet + int(abstraction.NumStreets)
	featSPR        = featPosition + abstraction.MaxPlayers
	featPublic     = featSPR + sprBuckets
	featHero       = featPublic + 1
	featRanges     = featHero + 1
	FeatureSize    = featRanges + 2*abstraction.MaxPlayers
	publicBuckets  = 8
	maxPublicValue = publicBuckets - 1
)

// sprBucket buckets the stack to pot ratio at <1, <2, <4, <8 and above.
func sprBucket(stack, pot int) int {
	if pot <= 0 {
		return sprBuckets - 1
	}
	spr := float64(stack) / float64(pot)
	for i, edge := range []float64{1, 2, 4, 8} {
		if spr < edge {
			return i
		}
	}
	return sprBuckets - 1
}

// publicBucket summarises board texture: suit concentration and pairing.
func publicBucket(board []poker.Card) int {
	if len(board) == 0 {
		return 0
	}
	var suits [4]int
	var ranks [13]int
	paired := 0
	flush := 0
	for _, c := range board {
		suits[c.Suit()]++
		ranks[c.Rank()]++
		if ranks[c.Rank()] == 2 {
			paired = 1
		}
		flush = max(flush, suits[c.Suit()])
	}
	return min((min(flush, 4)-1)*2+paired, maxPublicValue)
}

// Features builds the value model input for a leaf: street and hero position
// one-hot, SPR bucket one-hot, public bucket, hero bucket strength, and per
// position range embeddings (mean strength, spread) for both sides.
func Features(s *SubgameState, heroStrength float64, villain *Range) []float64 {
	f := make([]float64, FeatureSize)
	f[featStreet+int(s.Street)] = 1
	f[featPosition+int(s.HeroPosition)] = 1
	stack := min(s.Stacks[Hero], s.Stacks[Villain])
	f[featSPR+sprBucket(stack, s.Pot)] = 1
	f[featPublic] = float64(publicBucket(s.Board)) / maxPublicValue
	f[featHero] = heroStrength
	f[featRanges+2*int(s.HeroPosition)] = heroStrength
	f[featRanges+2*int(s.VillainPosition)] = villain.MeanStrength()
	f[featRanges+2*int(s.VillainPosition)+1] = villain.Spread()
	return f
}

// LinearModel is a linear regression over Features with a fixed uncertainty
// band. It is loaded from JSON produced by offline fitting.
type LinearModel struct {
	Weights     []float64 `json:"weights"`
	Bias        float64   `json:"bias"`
	Uncertainty float64   `json:"uncertainty"`
}

// LoadLinearModel reads a LinearModel from a JSON file.
func LoadLinearModel(path string) (*LinearModel, error) {
	var m LinearModel
	if err := fileutil.ReadJSON(path, &m); err != nil {
		return nil, fmt.Errorf("load value model: %w", err)
	}
	if len(m.Weights) != FeatureSize {
		return nil, fmt.Errorf("value model has %d weights, want %d", len(m.Weights), FeatureSize)
	}
	if m.Uncertainty < 0 {
		return nil, errors.New("value model uncertainty cannot be negative")
	}
	return &m, nil
}

// Predict implements ValueModel.
func (m *LinearModel) Predict(features []float64) (float64, float64, error) {
	if len(features) != len(m.Weights) {
		return 0, 0, fmt.Errorf("got %d features, model expects %d", len(features), len(m.Weights))
	}
	y := m.Bias
	for i, x := range features {
		y += m.Weights[i] * x
	}
	return y, m.Uncertainty, nil
}
