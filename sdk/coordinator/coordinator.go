// Package coordinator supervises training processes: chunked runs that exit
// to be relaunched, and independent multi-instance runs with a SQLite ledger.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lox/pokercfr/sdk/solver"
)

// Config controls a multi-instance run.
type Config struct {
	Instances int
	BaseSeed  int64
	BaseDir   string
	// Parallel bounds concurrently running instances; 0 runs all at once.
	Parallel int
	// MaxRestarts is the number of failed launches tolerated per instance.
	MaxRestarts int
	// MaxLaunches bounds chunk relaunches per instance; 0 is unbounded.
	MaxLaunches int
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Instances < 1 {
		return errors.New("instances must be >= 1")
	}
	if c.BaseDir == "" {
		return errors.New("base directory is required")
	}
	if c.Parallel < 0 || c.MaxRestarts < 0 || c.MaxLaunches < 0 {
		return errors.New("limits cannot be negative")
	}
	return nil
}

// InstanceDir is the output directory of instance i.
func InstanceDir(base string, i int) string {
	return filepath.Join(base, fmt.Sprintf("instance_%d", i))
}

// InstanceResult summarises one instance.
type InstanceResult struct {
	Index      int
	Dir        string
	Seed       int64
	Launches   int
	Restarts   int
	Iteration  int64
	Checkpoint string
	Err        error
}

// Result summarises a run.
type Result struct {
	RunID     string
	Instances []InstanceResult
}

// Coordinator runs independent training instances to completion.
type Coordinator struct {
	cfg      Config
	launcher Launcher
	ledger   *Ledger
	logger   zerolog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLedger records the run in l.
func WithLedger(l *Ledger) Option {
	return func(c *Coordinator) { c.ledger = l }
}

// WithLogger sets the coordinator's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// New validates cfg and returns a coordinator.
func New(cfg Config, launcher Launcher, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if launcher == nil {
		return nil, errors.New("launcher is required")
	}
	c := &Coordinator{cfg: cfg, launcher: launcher, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run launches every instance concurrently and supervises each until it
// completes or fails. One failing instance does not stop the others.
func (c *Coordinator) Run(ctx context.Context) (Result, error) {
	dirs := make([]string, c.cfg.Instances)
	for i := range dirs {
		dirs[i] = InstanceDir(c.cfg.BaseDir, i)
	}

	var res Result
	if c.ledger != nil {
		id, err := c.ledger.BeginRun(ctx, c.cfg.BaseDir, c.cfg.BaseSeed, dirs)
		if err != nil {
			return res, fmt.Errorf("record run: %w", err)
		}
		res.RunID = id
	}
	c.logger.Info().
		Str("run_id", res.RunID).
		Int("instances", c.cfg.Instances).
		Int64("base_seed", c.cfg.BaseSeed).
		Str("base_dir", c.cfg.BaseDir).
		Msg("Multi-instance run started")

	res.Instances = make([]InstanceResult, c.cfg.Instances)
	var g errgroup.Group
	if c.cfg.Parallel > 0 {
		g.SetLimit(c.cfg.Parallel)
	}
	for i, dir := range dirs {
		g.Go(func() error {
			r := c.supervise(ctx, res.RunID, InstanceSpec{Index: i, Dir: dir, Seed: c.cfg.BaseSeed + int64(i)})
			res.Instances[i] = r
			return r.Err
		})
	}
	_ = g.Wait()

	var errs []error
	for _, r := range res.Instances {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("instance %d: %w", r.Index, r.Err))
		}
	}
	err := errors.Join(errs...)
	if c.ledger != nil {
		// The run context may be cancelled; the final record must still land.
		if lerr := c.ledger.FinishRun(context.WithoutCancel(ctx), res.RunID, err); lerr != nil {
			c.logger.Warn().Err(lerr).Msg("Failed to record run completion")
		}
	}
	c.logger.Info().Str("run_id", res.RunID).Int("failed", len(errs)).Msg("Multi-instance run finished")
	return res, err
}

// Supervise runs a single instance in dir, relaunching with resume after each
// chunk until training completes. It is the chunked-mode supervisor loop.
func (c *Coordinator) Supervise(ctx context.Context, dir string, seed int64) InstanceResult {
	return c.supervise(ctx, "", InstanceSpec{Dir: dir, Seed: seed})
}

func (c *Coordinator) record(fn func(*Ledger) error) {
	if c.ledger == nil {
		return
	}
	if err := fn(c.ledger); err != nil {
		c.logger.Warn().Err(err).Msg("Ledger update failed")
	}
}

func (c *Coordinator) supervise(ctx context.Context, runID string, spec InstanceSpec) InstanceResult {
	res := InstanceResult{Index: spec.Index, Dir: spec.Dir, Seed: spec.Seed}
	logger := c.logger.With().Int("instance", spec.Index).Str("dir", spec.Dir).Logger()
	ledgerCtx := context.WithoutCancel(ctx)
	track := runID != ""

	spec.Resume = hasCheckpoint(spec.Dir)
	if spec.Resume {
		logger.Info().Msg("Resuming from latest checkpoint")
	}
	for {
		if err := ctx.Err(); err != nil {
			res.Err = err
			break
		}
		if c.cfg.MaxLaunches > 0 && res.Launches >= c.cfg.MaxLaunches {
			res.Err = fmt.Errorf("gave up after %d launches", res.Launches)
			break
		}
		if track {
			c.record(func(l *Ledger) error { return l.InstanceLaunched(ledgerCtx, runID, spec.Index) })
		}
		res.Launches++
		code, err := c.launcher.Launch(ctx, spec)
		c.progress(&res)
		if track && res.Checkpoint != "" {
			c.record(func(l *Ledger) error {
				return l.InstanceProgress(ledgerCtx, runID, spec.Index, res.Iteration, res.Checkpoint)
			})
		}

		if err == nil && code == 0 {
			logger.Info().Int64("iteration", res.Iteration).Int("launches", res.Launches).Msg("Instance complete")
			break
		}
		if err == nil && code == ExitChunkComplete {
			logger.Debug().Int64("iteration", res.Iteration).Msg("Chunk complete, relaunching")
			spec.Resume = true
			continue
		}
		if ctx.Err() != nil {
			res.Err = ctx.Err()
			break
		}
		if err == nil {
			err = fmt.Errorf("exit status %d", code)
		}
		if code == ExitBucketMismatch || errors.Is(err, solver.ErrBucketMismatch) {
			logger.Error().Err(err).Msg("Checkpoint buckets do not match, not restarting")
			res.Err = err
			break
		}
		res.Restarts++
		if res.Restarts > c.cfg.MaxRestarts {
			res.Err = err
			break
		}
		spec.Resume = hasCheckpoint(spec.Dir)
		logger.Warn().Err(err).Int("restart", res.Restarts).Bool("resume", spec.Resume).Msg("Instance failed, restarting")
	}

	if track {
		c.record(func(l *Ledger) error { return l.InstanceFinished(ledgerCtx, runID, spec.Index, res.Err) })
	}
	return res
}

// progress refreshes the newest checkpoint of an instance.
func (c *Coordinator) progress(res *InstanceResult) {
	path, err := solver.LatestCheckpoint(solver.CheckpointDir(res.Dir))
	if err != nil {
		return
	}
	meta, err := solver.ReadCheckpointMetadata(path)
	if err != nil {
		return
	}
	res.Checkpoint, res.Iteration = path, meta.Iteration
}

func hasCheckpoint(dir string) bool {
	_, err := solver.LatestCheckpoint(solver.CheckpointDir(dir))
	return err == nil
}
