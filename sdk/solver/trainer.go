package solver

import (
	"context"
	"errors"
	"fmt"
	rand "math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"

	"github.com/lox/pokercfr/internal/randutil"
	"github.com/lox/pokercfr/sdk/abstraction"
)

// ErrChunkComplete is returned by Run when a chunk boundary was reached and a
// checkpoint was written. The run should be resumed from that checkpoint.
var ErrChunkComplete = errors.New("training chunk complete")

// ErrBucketMismatch aliases the abstraction sentinel so callers of this
// package can test for it directly.
var ErrBucketMismatch = abstraction.ErrBucketMismatch

// State is the trainer's lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateCheckpointing
	StateSnapshotting
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateCheckpointing:
		return "CHECKPOINTING"
	case StateSnapshotting:
		return "SNAPSHOTTING"
	case StateComplete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// Progress is reported after every iteration or parallel batch.
type Progress struct {
	Iteration int64
	Total     int64
	Elapsed   time.Duration
	Budget    time.Duration
	Infosets  int
	Epsilon   float64
	Stats     TraversalStats
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithClock injects the clock used for budgets, cadences and polling.
func WithClock(clock quartz.Clock) Option {
	return func(t *Trainer) { t.clock = clock }
}

// WithLogger sets the trainer's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(t *Trainer) { t.logger = logger }
}

// WithOutputDir enables checkpoints and snapshots below dir.
func WithOutputDir(dir string) Option {
	return func(t *Trainer) { t.dir = dir }
}

// WithProgress registers a progress callback.
func WithProgress(fn func(Progress)) Option {
	return func(t *Trainer) { t.progress = fn }
}

// task is one iteration handed to a traversal.
type task struct {
	iteration int64
	seed      int64
	epsilon   float64
	prune     bool
	delta     *RegretTracker
}

// Trainer runs MCCFR iterations over the abstract game and owns the global
// regret tracker.
type Trainer struct {
	cfg      TrainingConfig
	game     *gameConfig
	buckets  Bucketer
	regrets  *RegretTracker
	src      *rand.PCG
	rng      *rand.Rand
	clock    quartz.Clock
	logger   zerolog.Logger
	dir      string
	progress func(Progress)

	state     atomic.Int32
	iteration int64
	elapsed   time.Duration
	started   time.Time
	epsilon   float64
	discount  discountFactors
	metrics   Metrics

	lastCheckpointIter int64
	lastCheckpointAt   time.Duration
	lastSnapshotIter   int64
	lastSnapshotAt     time.Duration

	// iterate runs one task against a regret table; tests replace it.
	iterate func(table regretTable, tk task) (TraversalStats, error)
}

// NewTrainer constructs a trainer for cfg over the given bucket abstraction.
func NewTrainer(cfg TrainingConfig, buckets Bucketer, opts ...Option) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if buckets == nil {
		return nil, errors.New("bucketer is required")
	}
	game, err := newGameConfig(cfg)
	if err != nil {
		return nil, err
	}
	src := randutil.NewSource(cfg.Seed)
	t := &Trainer{
		cfg:      cfg,
		game:     game,
		buckets:  buckets,
		regrets:  NewRegretTracker(),
		src:      src,
		rng:      rand.New(src),
		clock:    quartz.NewReal(),
		logger:   zerolog.Nop(),
		epsilon:  cfg.Exploration,
		discount: discountFactors{Positive: 1, Negative: 1, Strategy: 1},
	}
	t.iterate = t.runIteration
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Config returns the training configuration.
func (t *Trainer) Config() TrainingConfig { return t.cfg }

// State returns the lifecycle state.
func (t *Trainer) State() State { return State(t.state.Load()) }

func (t *Trainer) setState(s State) { t.state.Store(int32(s)) }

// Iteration returns the number of completed iterations.
func (t *Trainer) Iteration() int64 { return t.iteration }

// Regrets exposes the global tracker. It must not be mutated while Run is
// executing.
func (t *Trainer) Regrets() *RegretTracker { return t.regrets }

// Epsilon returns the current outcome-sampling exploration rate.
func (t *Trainer) Epsilon() float64 { return t.epsilon }

// Metrics returns a copy of the session counters.
func (t *Trainer) Metrics() MetricsSnapshot { return t.metrics.Snapshot() }

// Policy freezes the current average strategy.
func (t *Trainer) Policy() *Policy {
	return t.regrets.Policy(t.buckets.Hash(), t.iteration)
}

// Elapsed is the training time accumulated across sessions.
func (t *Trainer) Elapsed() time.Duration {
	if t.State() == StateIdle || t.State() == StateComplete || t.started.IsZero() {
		return t.elapsed
	}
	return t.elapsed + t.clock.Since(t.started)
}

// SetIterations changes the iteration target, for example when resuming.
func (t *Trainer) SetIterations(n int) error {
	if int64(n) < t.iteration {
		return fmt.Errorf("total iterations %d less than completed %d", n, t.iteration)
	}
	t.cfg.Iterations = n
	t.cfg.TimeBudget = 0
	return t.cfg.Validate()
}

// SetTimeBudget switches the run to a wall-clock budget.
func (t *Trainer) SetTimeBudget(d time.Duration) error {
	t.cfg.TimeBudget = d
	t.cfg.Iterations = 0
	return t.cfg.Validate()
}

// SetChunk changes the chunk boundaries of the next Run.
func (t *Trainer) SetChunk(iterations int, d time.Duration) {
	t.cfg.ChunkIterations = iterations
	t.cfg.ChunkDuration = d
}

// Run trains until the iteration target or time budget is reached. In chunked
// mode it writes a checkpoint at the chunk boundary and returns
// ErrChunkComplete.
func (t *Trainer) Run(ctx context.Context) error {
	if t.State() == StateComplete && t.finished() {
		return nil
	}
	t.started = t.clock.Now()
	t.setState(StateRunning)
	defer t.stop()

	var p *pool
	if t.cfg.Workers > 1 {
		p = newPool(ctx, t)
		defer p.close()
	}

	chunkStart := t.iteration
	t.logger.Info().
		Int64("iteration", t.iteration).
		Int("workers", t.cfg.Workers).
		Str("sampling", t.cfg.Sampling.String()).
		Msg("Training started")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if t.finished() {
			break
		}
		if t.chunkDone(chunkStart) {
			if err := t.checkpoint(); err != nil {
				return err
			}
			t.logger.Info().Int64("iteration", t.iteration).Msg("Chunk complete")
			return ErrChunkComplete
		}

		n := 1
		if p != nil {
			n = t.cfg.BatchSize
		}
		if t.cfg.Iterations > 0 {
			n = min(n, t.cfg.Iterations-int(t.iteration))
		}
		tasks := t.nextTasks(n)

		begin := t.clock.Now()
		var stats TraversalStats
		var err error
		if p != nil {
			stats, err = p.run(ctx, tasks)
		} else {
			stats, err = t.iterate(t.regrets, tasks[0])
			if err == nil {
				t.metrics.recordTraversal(stats)
			}
		}
		if err != nil {
			return fmt.Errorf("iteration %d: %w", tasks[0].iteration, err)
		}
		t.metrics.lastIteration.Store(int64(t.clock.Since(begin) / time.Duration(n)))

		for _, tk := range tasks {
			if f, ok := t.cfg.discountAt(tk.iteration); ok {
				t.regrets.discount(f.Positive, f.Negative, f.Strategy)
				t.discount = f
			}
		}
		t.iteration += int64(n)

		if err := t.cadence(); err != nil {
			return err
		}
		if t.progress != nil {
			t.progress(Progress{
				Iteration: t.iteration,
				Total:     int64(t.cfg.Iterations),
				Elapsed:   t.Elapsed(),
				Budget:    t.cfg.TimeBudget,
				Infosets:  t.regrets.Len(),
				Epsilon:   t.epsilon,
				Stats:     stats,
			})
		}
	}

	if t.dir != "" {
		if t.lastCheckpointIter != t.iteration {
			if err := t.checkpoint(); err != nil {
				return err
			}
		}
		if t.lastSnapshotIter != t.iteration {
			if err := t.snapshot(); err != nil {
				return err
			}
		}
	}
	t.elapsed = t.Elapsed()
	t.started = time.Time{}
	t.setState(StateComplete)
	t.logger.Info().
		Int64("iteration", t.iteration).
		Int("infosets", t.regrets.Len()).
		Dur("elapsed", t.elapsed).
		Msg("Training complete")
	return nil
}

func (t *Trainer) stop() {
	if t.State() == StateComplete {
		return
	}
	t.elapsed = t.Elapsed()
	t.started = time.Time{}
	t.setState(StateIdle)
}

func (t *Trainer) finished() bool {
	if t.cfg.Iterations > 0 {
		return t.iteration >= int64(t.cfg.Iterations)
	}
	return t.Elapsed() >= t.cfg.TimeBudget
}

func (t *Trainer) chunkDone(start int64) bool {
	if t.cfg.ChunkIterations > 0 && t.iteration-start >= int64(t.cfg.ChunkIterations) {
		return true
	}
	return t.cfg.ChunkDuration > 0 && t.clock.Since(t.started) >= t.cfg.ChunkDuration
}

// nextTasks draws the per-iteration seeds from the master generator in
// iteration order, so the outcome does not depend on how iterations are
// scheduled.
func (t *Trainer) nextTasks(n int) []task {
	tasks := make([]task, n)
	for i := range tasks {
		it := t.iteration + int64(i) + 1
		tasks[i] = task{
			iteration: it,
			seed:      t.rng.Int64(),
			epsilon:   t.epsilon,
			prune: t.cfg.PruneProbability > 0 && it > int64(t.cfg.PruneWarmup) &&
				!forcedUnpruned(it, t.cfg.MinUnprunedRatio),
		}
		if t.cfg.Sampling == SamplingOutcome {
			t.epsilon = max(t.cfg.ExplorationFloor, t.epsilon*t.cfg.ExplorationDecay)
		}
	}
	return tasks
}

// runIteration samples the chance outcomes of one iteration and traverses
// the game for player t mod N.
func (t *Trainer) runIteration(table regretTable, tk task) (TraversalStats, error) {
	rng := randutil.New(tk.seed)
	d, err := sampleDeal(rng, t.cfg.Players, t.buckets)
	if err != nil {
		return TraversalStats{}, err
	}
	w := walker{
		cfg:       &t.cfg,
		table:     table,
		rng:       rng,
		deal:      d,
		iteration: tk.iteration,
		prune:     tk.prune,
		epsilon:   tk.epsilon,
	}
	traverser := int(tk.iteration % int64(t.cfg.Players))
	g := newGame(t.game)
	switch t.cfg.Sampling {
	case SamplingOutcome:
		_, _, err = w.outcome(&g, traverser, 0, 1)
	default:
		_, err = w.external(&g, traverser, 0)
	}
	return w.stats, err
}

func (t *Trainer) cadence() error {
	if t.dir == "" {
		return nil
	}
	elapsed := t.Elapsed()
	if (t.cfg.CheckpointInterval > 0 && t.iteration-t.lastCheckpointIter >= int64(t.cfg.CheckpointInterval)) ||
		(t.cfg.CheckpointEvery > 0 && elapsed-t.lastCheckpointAt >= t.cfg.CheckpointEvery) {
		if err := t.checkpoint(); err != nil {
			return err
		}
	}
	if (t.cfg.SnapshotInterval > 0 && t.iteration-t.lastSnapshotIter >= int64(t.cfg.SnapshotInterval)) ||
		(t.cfg.SnapshotEvery > 0 && elapsed-t.lastSnapshotAt >= t.cfg.SnapshotEvery) {
		if err := t.snapshot(); err != nil {
			return err
		}
	}
	return nil
}

func (t *Trainer) checkpoint() error {
	if t.dir == "" {
		return errors.New("checkpoint requested without an output directory")
	}
	prev := t.State()
	t.setState(StateCheckpointing)
	defer t.setState(prev)
	path, err := t.SaveCheckpoint(CheckpointDir(t.dir))
	if err != nil {
		return err
	}
	t.metrics.checkpoints.Add(1)
	t.lastCheckpointIter = t.iteration
	t.lastCheckpointAt = t.Elapsed()
	t.logger.Info().Str("path", path).Int64("iteration", t.iteration).Msg("Checkpoint written")
	return nil
}

func (t *Trainer) snapshot() error {
	prev := t.State()
	t.setState(StateSnapshotting)
	defer t.setState(prev)
	path, err := t.SaveSnapshot(SnapshotDir(t.dir))
	if err != nil {
		return err
	}
	t.metrics.snapshots.Add(1)
	t.lastSnapshotIter = t.iteration
	t.lastSnapshotAt = t.Elapsed()
	t.logger.Info().Str("path", path).Int64("iteration", t.iteration).Msg("Snapshot written")
	return nil
}
