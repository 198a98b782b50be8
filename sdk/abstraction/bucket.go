package abstraction

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lox/pokercfr/internal/randutil"
	"github.com/lox/pokercfr/poker"
)

// defaultCacheSize bounds the bucket memo shared by training workers.
const defaultCacheSize = 1 << 16

// BucketConfig fixes how hands are clustered on each street. It is immutable
// once a Bucketer is built, and its hash is stored with every artifact that
// depends on bucket ids.
type BucketConfig struct {
	KPreflop        int   `json:"k_preflop" hcl:"k_preflop,optional"`
	KFlop           int   `json:"k_flop" hcl:"k_flop,optional"`
	KTurn           int   `json:"k_turn" hcl:"k_turn,optional"`
	KRiver          int   `json:"k_river" hcl:"k_river,optional"`
	Samples         int   `json:"samples" hcl:"samples,optional"`
	Rollouts        int   `json:"rollouts" hcl:"rollouts,optional"`
	Seed            int64 `json:"seed" hcl:"seed,optional"`
	Players         int   `json:"players" hcl:"players,optional"`
	LosslessPreflop bool  `json:"lossless_preflop" hcl:"lossless_preflop,optional"`
	MaxIterations   int   `json:"max_iterations" hcl:"max_iterations,optional"`
}

// DefaultBucketConfig returns a coarse abstraction suitable for local runs.
func DefaultBucketConfig() BucketConfig {
	return BucketConfig{
		KPreflop:      8,
		KFlop:         16,
		KTurn:         16,
		KRiver:        16,
		Samples:       2000,
		Rollouts:      32,
		Seed:          1,
		Players:       2,
		MaxIterations: 50,
	}
}

// Validate ensures the configuration can be clustered.
func (c BucketConfig) Validate() error {
	for s, k := range c.ks() {
		if Street(s) == Preflop && c.LosslessPreflop {
			continue
		}
		if k <= 0 {
			return fmt.Errorf("%s bucket count must be > 0", Street(s))
		}
		if c.Samples < k {
			return fmt.Errorf("samples (%d) must be >= %s bucket count (%d)", c.Samples, Street(s), k)
		}
	}
	if c.Rollouts <= 0 {
		return errors.New("rollouts must be > 0")
	}
	if c.Players < 2 || c.Players > MaxPlayers {
		return fmt.Errorf("players must be between 2 and %d", MaxPlayers)
	}
	if c.MaxIterations <= 0 {
		return errors.New("k-means iterations must be > 0")
	}
	return nil
}

// Hash is the hex SHA-256 of the canonical JSON form of the configuration.
func (c BucketConfig) Hash() string {
	data, err := json.Marshal(c)
	if err != nil {
		panic(fmt.Sprintf("abstraction: marshal bucket config: %v", err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// K returns the number of buckets on street.
func (c BucketConfig) K(street Street) int {
	if street == Preflop && c.LosslessPreflop {
		return poker.NumHoleClasses
	}
	return c.ks()[street]
}

func (c BucketConfig) ks() [NumStreets]int {
	return [NumStreets]int{c.KPreflop, c.KFlop, c.KTurn, c.KRiver}
}

// Bucketer assigns hands to buckets. It is safe for concurrent use.
type Bucketer struct {
	cfg       BucketConfig
	hash      string
	centroids [NumStreets][][]float64
	cache     *lru.Cache[uint64, int]
}

// BuildBucketer samples hands on every street, computes their Monte Carlo
// strength features and clusters them. Streets are clustered in parallel;
// each uses its own generator derived from the config seed, so the result does
// not depend on scheduling.
func BuildBucketer(ctx context.Context, cfg BucketConfig, logger zerolog.Logger) (*Bucketer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var centroids [NumStreets][][]float64
	g, ctx := errgroup.WithContext(ctx)
	for s := Preflop; s <= River; s++ {
		if s == Preflop && cfg.LosslessPreflop {
			continue
		}
		street := s
		g.Go(func() error {
			points, err := sampleFeatures(ctx, cfg, street)
			if err != nil {
				return err
			}
			rng := randutil.New(randutil.Derive(cfg.Seed, uint64(street)+1000))
			centroids[street] = kmeans(points, cfg.K(street), cfg.MaxIterations, rng)
			logger.Debug().Str("street", street.String()).Int("samples", len(points)).Int("k", len(centroids[street])).Msg("clustered street")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return newBucketer(cfg, centroids)
}

func newBucketer(cfg BucketConfig, centroids [NumStreets][][]float64) (*Bucketer, error) {
	cache, err := lru.New[uint64, int](defaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create bucket cache: %w", err)
	}
	return &Bucketer{cfg: cfg, hash: cfg.Hash(), centroids: centroids, cache: cache}, nil
}

func sampleFeatures(ctx context.Context, cfg BucketConfig, street Street) ([][]float64, error) {
	rng := randutil.New(randutil.Derive(cfg.Seed, uint64(street)))
	points := make([][]float64, 0, cfg.Samples)
	for i := 0; i < cfg.Samples; i++ {
		if i%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		deck := poker.NewDeck(rng, 0)
		cards := deck.Deal(2 + street.BoardSize())
		hole := [2]poker.Card{cards[0], cards[1]}
		points = append(points, handFeatures(hole, cards[2:], cfg.Players, cfg.Rollouts, rng))
	}
	return points, nil
}

// Config returns the configuration the bucketer was built with.
func (b *Bucketer) Config() BucketConfig { return b.cfg }

// Hash returns the configuration hash.
func (b *Bucketer) Hash() string { return b.hash }

// NumBuckets returns the number of buckets on street.
func (b *Bucketer) NumBuckets(street Street) int {
	if street == Preflop && b.cfg.LosslessPreflop {
		return poker.NumHoleClasses
	}
	return len(b.centroids[street])
}

// Bucket maps hole cards and the visible board to a bucket id on street.
// Higher ids are stronger hands. The result only depends on the configuration
// and the cards.
func (b *Bucketer) Bucket(hole [2]poker.Card, board []poker.Card, street Street) (int, error) {
	if !street.Valid() {
		return 0, fmt.Errorf("invalid street %d", street)
	}
	if len(board) != street.BoardSize() {
		return 0, fmt.Errorf("%s expects %d board cards, got %d", street, street.BoardSize(), len(board))
	}
	seen := poker.NewCardSet(hole[0], hole[1])
	if seen.Count() != 2 || !hole[0].Valid() || !hole[1].Valid() {
		return 0, fmt.Errorf("invalid hole cards %s", poker.FormatCards(hole[:]))
	}
	for _, c := range board {
		if !c.Valid() || seen.Contains(c) {
			return 0, fmt.Errorf("invalid or duplicate board card %s", c)
		}
		seen = seen.Add(c)
	}

	if street == Preflop && b.cfg.LosslessPreflop {
		return int(poker.ClassOf(hole[0], hole[1])), nil
	}

	key := cacheKey(hole, board, street)
	if v, ok := b.cache.Get(key); ok {
		return v, nil
	}
	rng := randutil.New(randutil.Derive(b.cfg.Seed, key))
	feat := handFeatures(hole, board, b.cfg.Players, b.cfg.Rollouts, rng)
	bucket := nearest(b.centroids[street], feat)
	b.cache.Add(key, bucket)
	return bucket, nil
}

// cacheKey identifies the input independently of card order. Preflop hands are
// keyed by their canonical class so suit-isomorphic hands share a bucket.
func cacheKey(hole [2]poker.Card, board []poker.Card, street Street) uint64 {
	h := fnv.New64a()
	h.Write([]byte{byte(street)})
	if street == Preflop {
		h.Write([]byte{byte(poker.ClassOf(hole[0], hole[1]))})
		return h.Sum64()
	}
	lo, hi := hole[0], hole[1]
	if lo > hi {
		lo, hi = hi, lo
	}
	var boardSet poker.CardSet
	for _, c := range board {
		boardSet = boardSet.Add(c)
	}
	var buf [10]byte
	buf[0], buf[1] = byte(lo), byte(hi)
	for i := 0; i < 8; i++ {
		buf[2+i] = byte(uint64(boardSet) >> (8 * i))
	}
	h.Write(buf[:])
	return h.Sum64()
}

// Centroids exposes a copy of the cluster centres for one street.
func (b *Bucketer) Centroids(street Street) [][]float64 {
	out := make([][]float64, len(b.centroids[street]))
	for i, c := range b.centroids[street] {
		out[i] = append([]float64(nil), c...)
	}
	return out
}
