package coordinator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/lox/pokercfr/sdk/solver"
)

// ExitChunkComplete is the exit status of a training process that stopped at
// a chunk boundary after checkpointing. It should be relaunched with resume.
const ExitChunkComplete = 3

// ExitBucketMismatch is the exit status of a training process whose
// checkpoint was trained with a different bucket abstraction. Relaunching
// cannot help.
const ExitBucketMismatch = 4

// InstanceSpec describes one launch of one training instance.
type InstanceSpec struct {
	Index  int
	Dir    string
	Seed   int64
	Resume bool
}

// Launcher runs one training launch to completion and reports its exit
// status. An error means the launch itself failed.
type Launcher interface {
	Launch(ctx context.Context, spec InstanceSpec) (int, error)
}

// ExecLauncher re-executes a training command as a managed subprocess,
// appending --output-dir, --seed and, when resuming, --resume.
type ExecLauncher struct {
	Command string
	Args    []string
	Env     map[string]string
	Logger  zerolog.Logger
}

// Launch implements Launcher.
func (l ExecLauncher) Launch(ctx context.Context, spec InstanceSpec) (int, error) {
	args := append(slices.Clone(l.Args), "--output-dir", spec.Dir, "--seed", strconv.FormatInt(spec.Seed, 10))
	if spec.Resume {
		args = append(args, "--resume")
	}
	p := NewProcess(l.Command, args, l.Env, l.Logger.With().Int("instance", spec.Index).Logger())
	if err := p.Start(ctx); err != nil {
		return -1, err
	}
	return p.Wait()
}

// TrainerLauncher trains in the current process. Resumed launches restore the
// newest checkpoint under the instance directory.
type TrainerLauncher struct {
	Config  solver.TrainingConfig
	Buckets solver.Bucketer
	Logger  zerolog.Logger
	Options []solver.Option
}

// Launch implements Launcher.
func (l TrainerLauncher) Launch(ctx context.Context, spec InstanceSpec) (int, error) {
	opts := append([]solver.Option{
		solver.WithLogger(l.Logger.With().Int("instance", spec.Index).Logger()),
		solver.WithOutputDir(spec.Dir),
	}, l.Options...)

	var t *solver.Trainer
	if spec.Resume {
		path, err := solver.LatestCheckpoint(solver.CheckpointDir(spec.Dir))
		if err != nil {
			return -1, err
		}
		if t, err = solver.LoadCheckpoint(path, l.Buckets, opts...); err != nil {
			code := -1
			if errors.Is(err, solver.ErrBucketMismatch) {
				code = ExitBucketMismatch
			}
			return code, fmt.Errorf("resume %s: %w", spec.Dir, err)
		}
	} else {
		cfg := l.Config
		cfg.Seed = spec.Seed
		var err error
		if t, err = solver.NewTrainer(cfg, l.Buckets, opts...); err != nil {
			return -1, err
		}
	}

	err := t.Run(ctx)
	switch {
	case err == nil:
		return 0, nil
	case errors.Is(err, solver.ErrChunkComplete):
		return ExitChunkComplete, nil
	default:
		return 1, err
	}
}
