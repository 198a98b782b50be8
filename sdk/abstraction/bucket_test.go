package abstraction

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/pokercfr/poker"
)

func smallBucketConfig() BucketConfig {
	return BucketConfig{
		KPreflop:      4,
		KFlop:         4,
		KTurn:         4,
		KRiver:        4,
		Samples:       100,
		Rollouts:      16,
		Seed:          42,
		Players:       2,
		MaxIterations: 25,
	}
}

var (
	sharedBucketerOnce sync.Once
	sharedBucketer     *Bucketer
	sharedBucketerErr  error
)

func testBucketer(t *testing.T) *Bucketer {
	t.Helper()
	sharedBucketerOnce.Do(func() {
		sharedBucketer, sharedBucketerErr = BuildBucketer(context.Background(), smallBucketConfig(), zerolog.Nop())
	})
	require.NoError(t, sharedBucketerErr)
	return sharedBucketer
}

func hole(s string) [2]poker.Card {
	return [2]poker.Card(poker.MustParseCards(s))
}

func TestBucketConfigValidate(t *testing.T) {
	require.NoError(t, smallBucketConfig().Validate())

	cfg := smallBucketConfig()
	cfg.KFlop = 0
	assert.Error(t, cfg.Validate())

	cfg = smallBucketConfig()
	cfg.Samples = 3
	assert.Error(t, cfg.Validate())

	cfg = smallBucketConfig()
	cfg.Players = 7
	assert.Error(t, cfg.Validate())

	cfg = smallBucketConfig()
	cfg.KPreflop = 0
	cfg.LosslessPreflop = true
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, poker.NumHoleClasses, cfg.K(Preflop))
}

func TestBucketConfigHash(t *testing.T) {
	a, b := smallBucketConfig(), smallBucketConfig()
	assert.Equal(t, a.Hash(), b.Hash())
	b.Seed++
	assert.NotEqual(t, a.Hash(), b.Hash())
	assert.Len(t, a.Hash(), 64)
}

func TestBucketerDeterministic(t *testing.T) {
	b := testBucketer(t)
	board := poker.MustParseCards("2c7d9h")
	first, err := b.Bucket(hole("AhKd"), board, Flop)
	require.NoError(t, err)

	rebuilt, err := BuildBucketer(context.Background(), smallBucketConfig(), zerolog.Nop())
	require.NoError(t, err)
	again, err := rebuilt.Bucket(hole("KdAh"), board, Flop)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	for s := Preflop; s <= River; s++ {
		assert.Equal(t, b.Centroids(s), rebuilt.Centroids(s))
	}
}

func TestBucketerOrdersByStrength(t *testing.T) {
	b := testBucketer(t)

	aces, err := b.Bucket(hole("AsAd"), nil, Preflop)
	require.NoError(t, err)
	trash, err := b.Bucket(hole("7c2d"), nil, Preflop)
	require.NoError(t, err)
	assert.Greater(t, aces, trash)

	board := poker.MustParseCards("2c7d9hJsKc")
	set, err := b.Bucket(hole("KdKh"), board, River)
	require.NoError(t, err)
	air, err := b.Bucket(hole("3c4d"), board, River)
	require.NoError(t, err)
	assert.Greater(t, set, air)
	assert.Less(t, set, b.NumBuckets(River))
}

func TestBucketerSuitIsomorphicPreflop(t *testing.T) {
	b := testBucketer(t)
	x, err := b.Bucket(hole("AsKs"), nil, Preflop)
	require.NoError(t, err)
	y, err := b.Bucket(hole("AhKh"), nil, Preflop)
	require.NoError(t, err)
	assert.Equal(t, x, y)
}

func TestBucketerRejectsBadInput(t *testing.T) {
	b := testBucketer(t)
	_, err := b.Bucket(hole("AsKs"), poker.MustParseCards("2c7d"), Flop)
	assert.Error(t, err)
	_, err = b.Bucket(hole("AsKs"), poker.MustParseCards("As7d9h"), Flop)
	assert.Error(t, err)
	_, err = b.Bucket([2]poker.Card{0, 0}, nil, Preflop)
	assert.Error(t, err)
}

func TestLosslessPreflop(t *testing.T) {
	cfg := smallBucketConfig()
	cfg.LosslessPreflop = true
	b, err := BuildBucketer(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, poker.NumHoleClasses, b.NumBuckets(Preflop))
	got, err := b.Bucket(hole("AsKs"), nil, Preflop)
	require.NoError(t, err)
	assert.Equal(t, int(poker.ClassOf(poker.NewCard(poker.Ace, poker.Spades), poker.NewCard(poker.King, poker.Spades))), got)
}

func TestArtifactRoundTrip(t *testing.T) {
	b := testBucketer(t)
	path := filepath.Join(t.TempDir(), "buckets.pkl")
	require.NoError(t, b.SaveArtifact(path))

	loaded, err := LoadArtifact(path)
	require.NoError(t, err)
	assert.Equal(t, b.Hash(), loaded.Hash())
	require.NoError(t, loaded.VerifyHash(b.Hash()))

	board := poker.MustParseCards("Qs8h3d2c")
	want, err := b.Bucket(hole("JhTh"), board, Turn)
	require.NoError(t, err)
	got, err := loaded.Bucket(hole("JhTh"), board, Turn)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestArtifactValidation(t *testing.T) {
	b := testBucketer(t)

	tampered := b.Artifact()
	tampered.Config.Seed = 7
	_, err := FromArtifact(tampered)
	assert.ErrorIs(t, err, ErrBucketMismatch)

	corrupt := b.Artifact()
	corrupt.Centroids[River][0][0] += 0.5
	_, err = FromArtifact(corrupt)
	assert.Error(t, err)

	assert.ErrorIs(t, b.VerifyHash("deadbeef"), ErrBucketMismatch)
}
