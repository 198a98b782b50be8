package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"

	"github.com/lox/pokercfr/sdk/solver"
)

// TrainCmd runs one training instance. Zero-valued flags keep the configured
// value.
type TrainCmd struct {
	Iterations         int           `help:"total iterations"`
	TimeBudget         time.Duration `help:"wall clock budget instead of an iteration count"`
	Workers            int           `help:"parallel traversal workers"`
	BatchSize          int           `help:"iterations per parallel batch"`
	CheckpointInterval int           `help:"checkpoint every N iterations"`
	CheckpointEvery    time.Duration `help:"checkpoint cadence in time-budget mode"`
	SnapshotInterval   int           `help:"snapshot every N iterations"`
	SnapshotEvery      time.Duration `help:"snapshot cadence in time-budget mode"`
	ChunkIterations    int           `help:"exit with code 3 after N iterations"`
	ChunkDuration      time.Duration `help:"exit with code 3 after this long"`
	Seed               int64         `help:"master seed; negative keeps the configured seed" default:"-1"`
	OutputDir          string        `help:"directory for checkpoints and snapshots"`
	Resume             bool          `help:"resume from the newest checkpoint in the output directory"`
	ResumeFrom         string        `help:"resume from a specific checkpoint manifest" type:"path"`
	Progress           bool          `help:"show a progress bar"`
}

func (cmd *TrainCmd) Run(ctx context.Context, g *Globals) error {
	cfg, logger, err := g.load()
	if err != nil {
		return err
	}
	cmd.apply(&cfg.Training)
	if cmd.OutputDir != "" {
		cfg.OutputDir = cmd.OutputDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	buckets, err := loadBuckets(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return err
	}

	opts := []solver.Option{solver.WithLogger(logger), solver.WithOutputDir(cfg.OutputDir)}
	if cmd.Progress {
		bar := newProgressBar(cfg.Training)
		defer bar.Finish()
		opts = append(opts, solver.WithProgress(func(p solver.Progress) {
			if p.Budget > 0 {
				_ = bar.Set64(int64(p.Elapsed / time.Second))
			} else {
				_ = bar.Set64(p.Iteration)
			}
		}))
	}

	trainer, err := cmd.trainer(cfg.Training, cfg.OutputDir, buckets, logger, opts)
	if err != nil {
		return err
	}

	err = trainer.Run(ctx)
	if err != nil {
		return err
	}
	path := filepath.Join(cfg.OutputDir, "blueprint.pkl")
	if _, err := solver.SavePolicy(path, trainer.Policy()); err != nil {
		return err
	}
	logger.Info().Str("path", path).Int64("iteration", trainer.Iteration()).Msg("Blueprint written")
	return nil
}

// trainer resumes from a checkpoint when asked and one exists, otherwise it
// starts a fresh run. Iteration, budget and chunk flags apply in both cases.
func (cmd *TrainCmd) trainer(cfg solver.TrainingConfig, dir string, buckets solver.Bucketer, logger zerolog.Logger, opts []solver.Option) (*solver.Trainer, error) {
	path := cmd.ResumeFrom
	if path == "" && cmd.Resume {
		latest, err := solver.LatestCheckpoint(solver.CheckpointDir(dir))
		switch {
		case err == nil:
			path = latest
		case !errors.Is(err, solver.ErrNoCheckpoint):
			return nil, err
		}
	}
	if path == "" {
		return solver.NewTrainer(cfg, buckets, opts...)
	}

	t, err := solver.LoadCheckpoint(path, buckets, opts...)
	if err != nil {
		return nil, fmt.Errorf("resume %s: %w", path, err)
	}
	for _, f := range cmd.pinnedOnResume(t.Config()) {
		logger.Warn().
			Int("requested", f.requested).
			Int("checkpoint", f.checkpoint).
			Msgf("cannot change %s when resuming from checkpoint; keeping checkpoint value", f.name)
	}
	switch {
	case cmd.Iterations > 0:
		err = t.SetIterations(cmd.Iterations)
	case cmd.TimeBudget > 0:
		err = t.SetTimeBudget(cmd.TimeBudget)
	}
	if err != nil {
		return nil, err
	}
	if cmd.ChunkIterations > 0 || cmd.ChunkDuration > 0 {
		t.SetChunk(cmd.ChunkIterations, cmd.ChunkDuration)
	}
	return t, nil
}

type pinnedFlag struct {
	name                  string
	requested, checkpoint int
}

// pinnedOnResume lists the flags that differ from a checkpoint's settings but
// cannot change once a run has started.
func (cmd *TrainCmd) pinnedOnResume(saved solver.TrainingConfig) []pinnedFlag {
	var out []pinnedFlag
	if cmd.Workers > 0 && cmd.Workers != saved.Workers {
		out = append(out, pinnedFlag{"workers", cmd.Workers, saved.Workers})
	}
	if cmd.BatchSize > 0 && cmd.BatchSize != saved.BatchSize {
		out = append(out, pinnedFlag{"batch size", cmd.BatchSize, saved.BatchSize})
	}
	return out
}

func (cmd *TrainCmd) apply(cfg *solver.TrainingConfig) {
	switch {
	case cmd.Iterations > 0:
		cfg.Iterations, cfg.TimeBudget = cmd.Iterations, 0
	case cmd.TimeBudget > 0:
		cfg.Iterations, cfg.TimeBudget = 0, cmd.TimeBudget
	}
	set(&cfg.Workers, cmd.Workers)
	set(&cfg.BatchSize, cmd.BatchSize)
	set(&cfg.CheckpointInterval, cmd.CheckpointInterval)
	set(&cfg.CheckpointEvery, cmd.CheckpointEvery)
	set(&cfg.SnapshotInterval, cmd.SnapshotInterval)
	set(&cfg.SnapshotEvery, cmd.SnapshotEvery)
	set(&cfg.ChunkIterations, cmd.ChunkIterations)
	set(&cfg.ChunkDuration, cmd.ChunkDuration)
	if cmd.Seed >= 0 {
		cfg.Seed = cmd.Seed
	}
}

func set[T int | time.Duration](dst *T, v T) {
	if v > 0 {
		*dst = v
	}
}

func newProgressBar(cfg solver.TrainingConfig) *progressbar.ProgressBar {
	if cfg.TimeBudget > 0 {
		return progressbar.NewOptions64(int64(cfg.TimeBudget/time.Second),
			progressbar.OptionSetDescription("training (s)"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionThrottle(250*time.Millisecond),
			progressbar.OptionShowElapsedTimeOnFinish(),
		)
	}
	return progressbar.NewOptions64(int64(cfg.Iterations),
		progressbar.OptionSetDescription("training"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionThrottle(250*time.Millisecond),
	)
}
