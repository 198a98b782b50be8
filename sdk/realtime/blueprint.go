package realtime

import (
	rand "math/rand/v2"

	"github.com/lox/pokercfr/poker"
	"github.com/lox/pokercfr/sdk/abstraction"
)

// Blueprint is a read-only trained policy. *solver.Policy,
// *store.PolicyStore and *runtime.Policy satisfy it.
type Blueprint interface {
	Distribution(key string, legal []abstraction.AbstractAction) []float64
}

// Bucketer maps cards to abstraction buckets. *abstraction.Bucketer
// satisfies it.
type Bucketer interface {
	Bucket(hole [2]poker.Card, board []poker.Card, street abstraction.Street) (int, error)
	NumBuckets(street abstraction.Street) int
}

func infosetKey(street abstraction.Street, bucket int, history abstraction.History) string {
	return abstraction.InfosetKey{Street: street, Bucket: bucket, History: history}.Encode(abstraction.KeyCompact)
}

func sampleIndex(dist []float64, rng *rand.Rand) int {
	x := rng.Float64()
	cum := 0.0
	for i, p := range dist {
		cum += p
		if x < cum {
			return i
		}
	}
	return len(dist) - 1
}
