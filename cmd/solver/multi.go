package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/lox/pokercfr/sdk/coordinator"
)

// MultiCmd trains independent instances under <output-dir>/instance_<i>.
type MultiCmd struct {
	Instances   int    `help:"number of instances (defaults to the configured count)"`
	BaseSeed    int64  `help:"seed of instance 0; instance i uses base+i; negative keeps the configured seed" default:"-1"`
	OutputDir   string `help:"base directory for instance directories"`
	Parallel    int    `help:"instances running at once; 0 runs all"`
	MaxRestarts int    `help:"failed launches tolerated per instance" default:"2"`
	MaxLaunches int    `help:"chunk launches allowed per instance; 0 is unbounded"`
	InProcess   bool   `help:"train in this process instead of re-executing the solver"`
	Ledger      string `help:"SQLite run ledger (defaults to <output-dir>/ledger.db)"`

	Iterations      int           `help:"total iterations per instance"`
	TimeBudget      time.Duration `help:"wall clock budget per instance"`
	Workers         int           `help:"parallel traversal workers per instance"`
	ChunkIterations int           `help:"iterations per launch before relaunching"`
	ChunkDuration   time.Duration `help:"duration per launch before relaunching"`
}

func (cmd *MultiCmd) Run(ctx context.Context, g *Globals) error {
	cfg, logger, err := g.load()
	if err != nil {
		return err
	}
	if cmd.Instances > 0 {
		cfg.Instances = cmd.Instances
	}
	if cmd.OutputDir != "" {
		cfg.OutputDir = cmd.OutputDir
	}
	train := TrainCmd{
		Iterations:      cmd.Iterations,
		TimeBudget:      cmd.TimeBudget,
		Workers:         cmd.Workers,
		ChunkIterations: cmd.ChunkIterations,
		ChunkDuration:   cmd.ChunkDuration,
		Seed:            -1,
	}
	train.apply(&cfg.Training)
	if err := cfg.Validate(); err != nil {
		return err
	}
	baseSeed := cfg.Training.Seed
	if cmd.BaseSeed >= 0 {
		baseSeed = cmd.BaseSeed
	}

	// Build the abstraction once so instances never race to create it.
	buckets, err := loadBuckets(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var launcher coordinator.Launcher
	if cmd.InProcess {
		launcher = coordinator.TrainerLauncher{Config: cfg.Training, Buckets: buckets, Logger: logger}
	} else {
		exe, err := os.Executable()
		if err != nil {
			return err
		}
		launcher = coordinator.ExecLauncher{
			Command: exe,
			Args:    append(g.forward(), train.forward()...),
			Logger:  logger,
		}
	}

	ledgerPath := cmd.Ledger
	if ledgerPath == "" {
		ledgerPath = filepath.Join(cfg.OutputDir, "ledger.db")
	}
	ledger, err := coordinator.OpenLedger(ledgerPath)
	if err != nil {
		return err
	}
	defer ledger.Close()

	coord, err := coordinator.New(coordinator.Config{
		Instances:   cfg.Instances,
		BaseSeed:    baseSeed,
		BaseDir:     cfg.OutputDir,
		Parallel:    cmd.Parallel,
		MaxRestarts: cmd.MaxRestarts,
		MaxLaunches: cmd.MaxLaunches,
	}, launcher, coordinator.WithLedger(ledger), coordinator.WithLogger(logger))
	if err != nil {
		return err
	}

	start := time.Now()
	res, err := coord.Run(ctx)
	var total int64
	for _, r := range res.Instances {
		total += r.Iteration
		logger.Info().
			Int("instance", r.Index).
			Str("dir", r.Dir).
			Int64("seed", r.Seed).
			Int64("iteration", r.Iteration).
			Int("launches", r.Launches).
			Int("restarts", r.Restarts).
			AnErr("error", r.Err).
			Msg("Instance summary")
	}
	logger.Info().
		Str("run_id", res.RunID).
		Str("iterations", humanize.Comma(total)).
		Dur("elapsed", time.Since(start)).
		Str("ledger", ledgerPath).
		Msg("Run finished")
	return err
}

// forward renders the global flags for a child solver process. Children log
// JSON so their output can be relayed line by line.
func (g *Globals) forward() []string {
	var args []string
	if g.Config != "" {
		args = append(args, "--config", g.Config)
	}
	if g.LogLevel != "" {
		args = append(args, "--log-level", g.LogLevel)
	}
	if g.Debug {
		args = append(args, "--debug")
	}
	args = append(args, "--log-json", "train")
	return args
}

// forward renders the training overrides for a child train command. Output
// directory and seed are added per instance by the launcher.
func (cmd TrainCmd) forward() []string {
	var args []string
	add := func(flag string, v string) { args = append(args, "--"+flag, v) }
	if cmd.Iterations > 0 {
		add("iterations", strconv.Itoa(cmd.Iterations))
	}
	if cmd.TimeBudget > 0 {
		add("time-budget", cmd.TimeBudget.String())
	}
	if cmd.Workers > 0 {
		add("workers", strconv.Itoa(cmd.Workers))
	}
	if cmd.ChunkIterations > 0 {
		add("chunk-iterations", strconv.Itoa(cmd.ChunkIterations))
	}
	if cmd.ChunkDuration > 0 {
		add("chunk-duration", fmt.Sprint(cmd.ChunkDuration))
	}
	return args
}
