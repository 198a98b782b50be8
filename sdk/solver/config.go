package solver

import (
	"errors"
	"fmt"
	"time"

	"github.com/lox/pokercfr/sdk/abstraction"
)

// SamplingMode selects the MCCFR variant.
type SamplingMode uint8

const (
	// SamplingExternal explores every traverser action and samples opponents.
	SamplingExternal SamplingMode = iota
	// SamplingOutcome samples a single trajectory with exploration.
	SamplingOutcome
)

func (m SamplingMode) String() string {
	switch m {
	case SamplingExternal:
		return "external"
	case SamplingOutcome:
		return "outcome"
	default:
		return "unknown"
	}
}

// ParseSamplingMode parses "external" or "outcome".
func ParseSamplingMode(s string) (SamplingMode, error) {
	switch s {
	case "external", "":
		return SamplingExternal, nil
	case "outcome":
		return SamplingOutcome, nil
	}
	return 0, fmt.Errorf("unknown sampling mode %q", s)
}

// DiscountMode selects how regrets and strategy sums decay.
type DiscountMode uint8

const (
	DiscountNone DiscountMode = iota
	DiscountLinear
	DiscountDCFR
)

func (m DiscountMode) String() string {
	switch m {
	case DiscountNone:
		return "none"
	case DiscountLinear:
		return "linear"
	case DiscountDCFR:
		return "dcfr"
	default:
		return "unknown"
	}
}

// ParseDiscountMode parses "none", "linear" or "dcfr".
func ParseDiscountMode(s string) (DiscountMode, error) {
	switch s {
	case "none", "":
		return DiscountNone, nil
	case "linear":
		return DiscountLinear, nil
	case "dcfr":
		return DiscountDCFR, nil
	}
	return 0, fmt.Errorf("unknown discount mode %q", s)
}

// PoolConfig tunes the coordinator's result polling in parallel mode.
type PoolConfig struct {
	PollTimeout        time.Duration `json:"poll_timeout"`
	MaxPollTimeout     time.Duration `json:"max_poll_timeout"`
	PollBackoff        float64       `json:"poll_backoff"`
	ExtraDrainAttempts int           `json:"extra_drain_attempts"`
	WorkerTimeout      time.Duration `json:"worker_timeout"`
	ResultBuffer       int           `json:"result_buffer"`
}

// DefaultPoolConfig returns polling values that keep the coordinator
// responsive without spinning.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		PollTimeout:        10 * time.Millisecond,
		MaxPollTimeout:     250 * time.Millisecond,
		PollBackoff:        2,
		ExtraDrainAttempts: 16,
		WorkerTimeout:      2 * time.Minute,
		ResultBuffer:       256,
	}
}

// Validate checks the pool settings.
func (c PoolConfig) Validate() error {
	if c.PollTimeout <= 0 {
		return errors.New("poll timeout must be > 0")
	}
	if c.MaxPollTimeout < c.PollTimeout {
		return errors.New("max poll timeout must be >= poll timeout")
	}
	if c.PollBackoff < 1 {
		return errors.New("poll backoff must be >= 1")
	}
	if c.ExtraDrainAttempts < 0 {
		return errors.New("extra drain attempts cannot be negative")
	}
	if c.WorkerTimeout <= 0 {
		return errors.New("worker timeout must be > 0")
	}
	if c.ResultBuffer <= 0 {
		return errors.New("result buffer must be > 0")
	}
	return nil
}

// TrainingConfig aggregates parameters that control MCCFR execution. Exactly
// one of Iterations and TimeBudget terminates the run.
type TrainingConfig struct {
	Iterations int           `json:"iterations"`
	TimeBudget time.Duration `json:"time_budget"`

	Players       int   `json:"players"`
	SmallBlind    int   `json:"small_blind"`
	BigBlind      int   `json:"big_blind"`
	StartingStack int   `json:"starting_stack"`
	Seed          int64 `json:"seed"`

	Sampling         SamplingMode `json:"sampling"`
	Exploration      float64      `json:"exploration"`
	ExplorationDecay float64      `json:"exploration_decay"`
	ExplorationFloor float64      `json:"exploration_floor"`

	StrategyInterval int  `json:"strategy_interval"`
	LinearWeighting  bool `json:"linear_weighting"`

	Discount         DiscountMode `json:"discount"`
	DiscountInterval int          `json:"discount_interval"`
	DiscountAlpha    float64      `json:"discount_alpha"`
	DiscountBeta     float64      `json:"discount_beta"`
	DiscountGamma    float64      `json:"discount_gamma"`

	PruneWarmup      int     `json:"prune_warmup"`
	PruneThreshold   float64 `json:"prune_threshold"`
	PruneProbability float64 `json:"prune_probability"`
	MinUnprunedRatio float64 `json:"min_unpruned_ratio"`

	CheckpointInterval int           `json:"checkpoint_interval"`
	CheckpointEvery    time.Duration `json:"checkpoint_every"`
	SnapshotInterval   int           `json:"snapshot_interval"`
	SnapshotEvery      time.Duration `json:"snapshot_every"`
	KeepCheckpoints    int           `json:"keep_checkpoints"`

	ChunkIterations int           `json:"chunk_iterations"`
	ChunkDuration   time.Duration `json:"chunk_duration"`

	Workers   int        `json:"workers"`
	BatchSize int        `json:"batch_size"`
	Pool      PoolConfig `json:"pool"`

	Actions abstraction.ActionConfig `json:"actions"`
}

// DefaultTrainingConfig returns a configuration for local experimentation.
func DefaultTrainingConfig() TrainingConfig {
	return TrainingConfig{
		Iterations:       1000,
		Players:          2,
		SmallBlind:       50,
		BigBlind:         100,
		StartingStack:    10000,
		Seed:             1,
		Sampling:         SamplingExternal,
		Exploration:      0.6,
		ExplorationDecay: 0.9999,
		ExplorationFloor: 0.05,
		StrategyInterval: 1,
		LinearWeighting:  true,
		Discount:         DiscountLinear,
		DiscountInterval: 100,
		DiscountAlpha:    1.5,
		DiscountBeta:     0,
		DiscountGamma:    2,
		PruneWarmup:      200,
		PruneThreshold:   300,
		PruneProbability: 0.95,
		MinUnprunedRatio: 0.05,
		Workers:          1,
		BatchSize:        64,
		Pool:             DefaultPoolConfig(),
		Actions:          abstraction.DefaultActionConfig(),
	}
}

// Validate ensures the training parameters are safe to use.
func (c TrainingConfig) Validate() error {
	if (c.Iterations > 0) == (c.TimeBudget > 0) {
		return errors.New("exactly one of iterations and time budget must be set")
	}
	if c.Iterations < 0 || c.TimeBudget < 0 {
		return errors.New("iterations and time budget cannot be negative")
	}
	if c.Players < 2 || c.Players > abstraction.MaxPlayers {
		return fmt.Errorf("players must be between 2 and %d", abstraction.MaxPlayers)
	}
	if c.SmallBlind <= 0 {
		return errors.New("small blind must be > 0")
	}
	if c.BigBlind <= c.SmallBlind {
		return errors.New("big blind must be greater than small blind")
	}
	if c.StartingStack <= c.BigBlind {
		return errors.New("starting stack must exceed the big blind")
	}
	switch c.Sampling {
	case SamplingExternal:
	case SamplingOutcome:
		if c.Exploration <= 0 || c.Exploration >= 1 {
			return errors.New("exploration must be in (0, 1)")
		}
		if c.ExplorationDecay <= 0 || c.ExplorationDecay > 1 {
			return errors.New("exploration decay must be in (0, 1]")
		}
		if c.ExplorationFloor < 0 || c.ExplorationFloor > c.Exploration {
			return errors.New("exploration floor must be in [0, exploration]")
		}
	default:
		return errors.New("invalid sampling mode")
	}
	if c.StrategyInterval <= 0 {
		return errors.New("strategy interval must be > 0")
	}
	if c.Discount > DiscountDCFR {
		return errors.New("invalid discount mode")
	}
	if c.Discount != DiscountNone && c.DiscountInterval <= 0 {
		return errors.New("discount interval must be > 0 when discounting")
	}
	if c.PruneWarmup < 0 {
		return errors.New("prune warmup cannot be negative")
	}
	if c.PruneThreshold < 0 {
		return errors.New("prune threshold cannot be negative")
	}
	if c.PruneProbability < 0 || c.PruneProbability > 1 {
		return errors.New("prune probability must be in [0, 1]")
	}
	if c.MinUnprunedRatio < 0 || c.MinUnprunedRatio > 1 {
		return errors.New("min unpruned ratio must be in [0, 1]")
	}
	if c.CheckpointInterval < 0 || c.SnapshotInterval < 0 || c.KeepCheckpoints < 0 || c.ChunkIterations < 0 {
		return errors.New("intervals cannot be negative")
	}
	if c.CheckpointEvery < 0 || c.SnapshotEvery < 0 || c.ChunkDuration < 0 {
		return errors.New("durations cannot be negative")
	}
	if c.Workers <= 0 {
		return errors.New("workers must be > 0")
	}
	if c.Workers > 1 {
		if c.BatchSize < c.Workers {
			return errors.New("batch size must be >= workers")
		}
		if err := c.Pool.Validate(); err != nil {
			return fmt.Errorf("pool: %w", err)
		}
	}
	if err := c.Actions.Validate(); err != nil {
		return fmt.Errorf("actions: %w", err)
	}
	return nil
}
