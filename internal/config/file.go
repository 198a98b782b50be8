package config

import (
	"fmt"
	"time"

	"github.com/lox/pokercfr/sdk/abstraction"
	"github.com/lox/pokercfr/sdk/realtime"
	"github.com/lox/pokercfr/sdk/solver"
)

// fileConfig mirrors the HCL layout. Every attribute is optional; nil means
// keep the default.
type fileConfig struct {
	Buckets  *abstraction.BucketConfig `hcl:"buckets,block"`
	Training *trainingBlock            `hcl:"training,block"`
	Actions  *actionsBlock             `hcl:"actions,block"`
	Resolver *resolverBlock            `hcl:"resolver,block"`
	Output   *outputBlock              `hcl:"output,block"`
}

type trainingBlock struct {
	Iterations *int    `hcl:"iterations,optional"`
	TimeBudget *string `hcl:"time_budget,optional"`
	Instances  *int    `hcl:"instances,optional"`

	Players       *int   `hcl:"players,optional"`
	SmallBlind    *int   `hcl:"small_blind,optional"`
	BigBlind      *int   `hcl:"big_blind,optional"`
	StartingStack *int   `hcl:"starting_stack,optional"`
	Seed          *int64 `hcl:"seed,optional"`

	Sampling         *string  `hcl:"sampling,optional"`
	Exploration      *float64 `hcl:"exploration,optional"`
	ExplorationDecay *float64 `hcl:"exploration_decay,optional"`
	ExplorationFloor *float64 `hcl:"exploration_floor,optional"`
	StrategyInterval *int     `hcl:"strategy_interval,optional"`
	LinearWeighting  *bool    `hcl:"linear_weighting,optional"`

	Discount         *string  `hcl:"discount,optional"`
	DiscountInterval *int     `hcl:"discount_interval,optional"`
	DiscountAlpha    *float64 `hcl:"discount_alpha,optional"`
	DiscountBeta     *float64 `hcl:"discount_beta,optional"`
	DiscountGamma    *float64 `hcl:"discount_gamma,optional"`

	PruneWarmup      *int     `hcl:"prune_warmup,optional"`
	PruneThreshold   *float64 `hcl:"prune_threshold,optional"`
	PruneProbability *float64 `hcl:"prune_probability,optional"`
	MinUnprunedRatio *float64 `hcl:"min_unpruned_ratio,optional"`

	CheckpointInterval *int    `hcl:"checkpoint_interval,optional"`
	CheckpointEvery    *string `hcl:"checkpoint_every,optional"`
	SnapshotInterval   *int    `hcl:"snapshot_interval,optional"`
	SnapshotEvery      *string `hcl:"snapshot_every,optional"`
	KeepCheckpoints    *int    `hcl:"keep_checkpoints,optional"`
	ChunkIterations    *int    `hcl:"chunk_iterations,optional"`
	ChunkDuration      *string `hcl:"chunk_duration,optional"`

	Workers            *int     `hcl:"workers,optional"`
	BatchSize          *int     `hcl:"batch_size,optional"`
	PollTimeout        *string  `hcl:"poll_timeout,optional"`
	MaxPollTimeout     *string  `hcl:"max_poll_timeout,optional"`
	PollBackoff        *float64 `hcl:"poll_backoff,optional"`
	ExtraDrainAttempts *int     `hcl:"extra_drain_attempts,optional"`
	WorkerTimeout      *string  `hcl:"worker_timeout,optional"`
}

type menuBlock struct {
	Street string `hcl:"street,label"`
	IP     []int  `hcl:"ip,optional"`
	OOP    []int  `hcl:"oop,optional"`
}

type actionsBlock struct {
	AllowAllIn         *bool       `hcl:"allow_all_in,optional"`
	MaxRaisesPerStreet *int        `hcl:"max_raises_per_street,optional"`
	Menus              []menuBlock `hcl:"menu,block"`
}

type resolverBlock struct {
	TimeLimit      *string   `hcl:"time_limit,optional"`
	MinIterations  *int      `hcl:"min_iterations,optional"`
	MaxIterations  *int      `hcl:"max_iterations,optional"`
	Fallback       *bool     `hcl:"fallback,optional"`
	WarmStartScale *float64  `hcl:"warm_start_scale,optional"`
	KLWeights      []float64 `hcl:"kl_weights,optional"`
	OOPMultiplier  *float64  `hcl:"oop_multiplier,optional"`
	Walkers        *int      `hcl:"walkers,optional"`

	MaxDepth              *int     `hcl:"max_depth,optional"`
	Mode                  *string  `hcl:"mode,optional"`
	SentinelProbability   *float64 `hcl:"sentinel_probability,optional"`
	RequireStreetBoundary *bool    `hcl:"require_street_boundary,optional"`

	LeafMode       *string  `hcl:"leaf_mode,optional"`
	RolloutSamples *int     `hcl:"rollout_samples,optional"`
	CacheSize      *int     `hcl:"cache_size,optional"`
	MaxUncertainty *float64 `hcl:"max_uncertainty,optional"`
	MinValue       *float64 `hcl:"min_value,optional"`
	MaxValue       *float64 `hcl:"max_value,optional"`
	ValueModel     *string  `hcl:"value_model,optional"`
}

type outputBlock struct {
	Dir        *string `hcl:"dir,optional"`
	BucketFile *string `hcl:"bucket_file,optional"`
	LogLevel   *string `hcl:"log_level,optional"`
	LogJSON    *bool   `hcl:"log_json,optional"`
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *string, name string) error {
	if src == nil {
		return nil
	}
	d, err := time.ParseDuration(*src)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = d
	return nil
}

func (f *fileConfig) apply(cfg *Config) error {
	if f.Buckets != nil {
		cfg.Buckets = mergeBuckets(cfg.Buckets, *f.Buckets)
	}
	if f.Actions != nil {
		if err := f.Actions.apply(&cfg.Training.Actions); err != nil {
			return err
		}
	}
	if f.Training != nil {
		if err := f.Training.apply(cfg); err != nil {
			return err
		}
	}
	if f.Resolver != nil {
		if err := f.Resolver.apply(cfg); err != nil {
			return err
		}
	}
	if o := f.Output; o != nil {
		set(&cfg.OutputDir, o.Dir)
		set(&cfg.BucketFile, o.BucketFile)
		set(&cfg.LogLevel, o.LogLevel)
		set(&cfg.LogJSON, o.LogJSON)
	}
	return nil
}

// mergeBuckets keeps defaults for zero valued bucket settings.
func mergeBuckets(def, in abstraction.BucketConfig) abstraction.BucketConfig {
	pick := func(v, d int) int {
		if v == 0 {
			return d
		}
		return v
	}
	out := in
	out.KPreflop = pick(in.KPreflop, def.KPreflop)
	out.KFlop = pick(in.KFlop, def.KFlop)
	out.KTurn = pick(in.KTurn, def.KTurn)
	out.KRiver = pick(in.KRiver, def.KRiver)
	out.Samples = pick(in.Samples, def.Samples)
	out.Rollouts = pick(in.Rollouts, def.Rollouts)
	out.Players = pick(in.Players, def.Players)
	out.MaxIterations = pick(in.MaxIterations, def.MaxIterations)
	if in.Seed == 0 {
		out.Seed = def.Seed
	}
	return out
}

func (b *actionsBlock) apply(cfg *abstraction.ActionConfig) error {
	set(&cfg.AllowAllIn, b.AllowAllIn)
	set(&cfg.MaxRaisesPerStreet, b.MaxRaisesPerStreet)
	for _, m := range b.Menus {
		street, err := abstraction.ParseStreet(m.Street)
		if err != nil {
			return fmt.Errorf("actions: %w", err)
		}
		if m.IP != nil {
			cfg.Menus[street].IP = m.IP
		}
		if m.OOP != nil {
			cfg.Menus[street].OOP = m.OOP
		}
	}
	return nil
}

func (b *trainingBlock) apply(cfg *Config) error {
	t := &cfg.Training
	if b.Iterations != nil {
		t.Iterations, t.TimeBudget = *b.Iterations, 0
	}
	if b.TimeBudget != nil {
		t.Iterations = 0
	}
	set(&cfg.Instances, b.Instances)
	set(&t.Players, b.Players)
	set(&t.SmallBlind, b.SmallBlind)
	set(&t.BigBlind, b.BigBlind)
	set(&t.StartingStack, b.StartingStack)
	set(&t.Seed, b.Seed)
	if b.Sampling != nil {
		mode, err := solver.ParseSamplingMode(*b.Sampling)
		if err != nil {
			return fmt.Errorf("training: %w", err)
		}
		t.Sampling = mode
	}
	set(&t.Exploration, b.Exploration)
	set(&t.ExplorationDecay, b.ExplorationDecay)
	set(&t.ExplorationFloor, b.ExplorationFloor)
	set(&t.StrategyInterval, b.StrategyInterval)
	set(&t.LinearWeighting, b.LinearWeighting)
	if b.Discount != nil {
		mode, err := solver.ParseDiscountMode(*b.Discount)
		if err != nil {
			return fmt.Errorf("training: %w", err)
		}
		t.Discount = mode
	}
	set(&t.DiscountInterval, b.DiscountInterval)
	set(&t.DiscountAlpha, b.DiscountAlpha)
	set(&t.DiscountBeta, b.DiscountBeta)
	set(&t.DiscountGamma, b.DiscountGamma)
	set(&t.PruneWarmup, b.PruneWarmup)
	set(&t.PruneThreshold, b.PruneThreshold)
	set(&t.PruneProbability, b.PruneProbability)
	set(&t.MinUnprunedRatio, b.MinUnprunedRatio)
	set(&t.CheckpointInterval, b.CheckpointInterval)
	set(&t.SnapshotInterval, b.SnapshotInterval)
	set(&t.KeepCheckpoints, b.KeepCheckpoints)
	set(&t.ChunkIterations, b.ChunkIterations)
	set(&t.Workers, b.Workers)
	set(&t.BatchSize, b.BatchSize)
	set(&t.Pool.PollBackoff, b.PollBackoff)
	set(&t.Pool.ExtraDrainAttempts, b.ExtraDrainAttempts)

	durations := []struct {
		dst  *time.Duration
		src  *string
		name string
	}{
		{&t.TimeBudget, b.TimeBudget, "time_budget"},
		{&t.CheckpointEvery, b.CheckpointEvery, "checkpoint_every"},
		{&t.SnapshotEvery, b.SnapshotEvery, "snapshot_every"},
		{&t.ChunkDuration, b.ChunkDuration, "chunk_duration"},
		{&t.Pool.PollTimeout, b.PollTimeout, "poll_timeout"},
		{&t.Pool.MaxPollTimeout, b.MaxPollTimeout, "max_poll_timeout"},
		{&t.Pool.WorkerTimeout, b.WorkerTimeout, "worker_timeout"},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, d.src, "training."+d.name); err != nil {
			return err
		}
	}
	return nil
}

func (b *resolverBlock) apply(cfg *Config) error {
	r := &cfg.Resolver
	if err := setDuration(&r.TimeLimit, b.TimeLimit, "resolver.time_limit"); err != nil {
		return err
	}
	set(&r.MinIterations, b.MinIterations)
	set(&r.MaxIterations, b.MaxIterations)
	set(&r.Fallback, b.Fallback)
	set(&r.WarmStartScale, b.WarmStartScale)
	if b.KLWeights != nil {
		if len(b.KLWeights) != len(r.KLWeights) {
			return fmt.Errorf("resolver.kl_weights: want %d weights, got %d", len(r.KLWeights), len(b.KLWeights))
		}
		copy(r.KLWeights[:], b.KLWeights)
	}
	set(&r.OOPMultiplier, b.OOPMultiplier)
	set(&r.Walkers, b.Walkers)

	s := &cfg.Subgame
	set(&s.MaxDepth, b.MaxDepth)
	if b.Mode != nil {
		mode, err := realtime.ParseMode(*b.Mode)
		if err != nil {
			return fmt.Errorf("resolver: %w", err)
		}
		s.Mode = mode
	}
	set(&s.SentinelProbability, b.SentinelProbability)
	set(&s.RequireStreetBoundary, b.RequireStreetBoundary)

	l := &cfg.Leaf
	if b.LeafMode != nil {
		mode, err := realtime.ParseLeafMode(*b.LeafMode)
		if err != nil {
			return fmt.Errorf("resolver: %w", err)
		}
		l.Mode = mode
	}
	set(&l.RolloutSamples, b.RolloutSamples)
	set(&l.CacheSize, b.CacheSize)
	set(&l.MaxUncertainty, b.MaxUncertainty)
	set(&l.MinValue, b.MinValue)
	set(&l.MaxValue, b.MaxValue)
	set(&cfg.ValueModel, b.ValueModel)
	return nil
}
