package randutil

import rand "math/rand/v2"

const (
	goldenRatio64 = 0x9e3779b97f4a7c15
)

// New returns a *rand.Rand seeded deterministically from the provided int64.
func New(seed int64) *rand.Rand {
	return rand.New(NewSource(seed))
}

// NewSource returns the PCG source behind New. Callers that need to persist
// and restore generator state keep the source and use State/Restore.
func NewSource(seed int64) *rand.PCG {
	u := uint64(seed)
	return rand.NewPCG(mix(u), mix(u+goldenRatio64))
}

// Derive produces an independent seed for a numbered stream, so that workers
// and iterations can each own a generator without sharing one.
func Derive(seed int64, stream uint64) int64 {
	return int64(mix(uint64(seed) ^ mix(stream+goldenRatio64)))
}

// State captures the exact position of a PCG source.
func State(src *rand.PCG) ([]byte, error) {
	return src.MarshalBinary()
}

// Restore rewinds src to a state captured by State.
func Restore(src *rand.PCG, state []byte) error {
	return src.UnmarshalBinary(state)
}

func mix(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}
