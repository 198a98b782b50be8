package solver

import (
	"context"
	"fmt"
	"time"

	"github.com/lox/pokercfr/sdk/abstraction"
)

// SplitBatch divides a batch of b iterations between w workers: every worker
// gets b/w and the first b%w get one more.
func SplitBatch(b, w int) []int {
	if w <= 0 {
		return nil
	}
	out := make([]int, w)
	base, rem := b/w, b%w
	for i := range out {
		out[i] = base
		if i < rem {
			out[i]++
		}
	}
	return out
}

// overlay reads the frozen global tracker plus a worker's local delta and
// writes only to the delta.
type overlay struct {
	global *RegretTracker
	local  *RegretTracker
}

func (o *overlay) Regrets(key string, legal []abstraction.AbstractAction) ([]float64, error) {
	local, err := o.local.Regrets(key, legal)
	if err != nil {
		return nil, err
	}
	if o.global.get(key) == nil {
		return local, nil
	}
	global, err := o.global.Regrets(key, legal)
	if err != nil {
		return nil, err
	}
	for i := range local {
		local[i] += global[i]
	}
	return local, nil
}

func (o *overlay) UpdateRegret(key string, action abstraction.AbstractAction, delta float64) error {
	return o.local.UpdateRegret(key, action, delta)
}

func (o *overlay) AddStrategySample(key string, dist []float64, weight float64) error {
	return o.local.AddStrategySample(key, dist, weight)
}

type result struct {
	worker    int
	gen       int
	iteration int64
	stats     TraversalStats
	err       error
}

type poolWorker struct {
	id       int
	gen      int
	tasks    chan task
	done     chan struct{}
	cancel   context.CancelFunc
	delta    *RegretTracker
	assigned int
	received int
	lastSeen time.Time
	stats    TraversalStats
}

// pool runs batches of iterations on long-lived worker goroutines. Each
// worker has its own task channel; all report on one bounded result channel
// which the coordinator drains while the batch is running.
type pool struct {
	ctx     context.Context
	t       *Trainer
	workers []*poolWorker
	results chan result
}

func newPool(ctx context.Context, t *Trainer) *pool {
	p := &pool{
		ctx:     ctx,
		t:       t,
		results: make(chan result, t.cfg.Pool.ResultBuffer),
	}
	for i := 0; i < t.cfg.Workers; i++ {
		p.workers = append(p.workers, p.spawn(i, 0))
	}
	return p
}

func (p *pool) spawn(id, gen int) *poolWorker {
	ctx, cancel := context.WithCancel(p.ctx)
	w := &poolWorker{
		id:     id,
		gen:    gen,
		tasks:  make(chan task, p.t.cfg.BatchSize),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go p.work(ctx, w)
	return w
}

func (p *pool) work(ctx context.Context, w *poolWorker) {
	defer close(w.done)
	defer func() {
		if r := recover(); r != nil {
			p.t.logger.Error().Int("worker", w.id).Interface("panic", r).Msg("Worker crashed")
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case tk := <-w.tasks:
			table := &overlay{global: p.t.regrets, local: tk.delta}
			stats, err := p.t.iterate(table, tk)
			select {
			case p.results <- result{worker: w.id, gen: w.gen, iteration: tk.iteration, stats: stats, err: err}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (p *pool) close() {
	for _, w := range p.workers {
		w.cancel()
	}
}

// run executes one batch and merges the workers' deltas into the global
// tracker in worker order.
func (p *pool) run(ctx context.Context, tasks []task) (TraversalStats, error) {
	cfg := p.t.cfg.Pool
	clock := p.t.clock
	metrics := &p.t.metrics
	metrics.batches.Add(1)

	split := SplitBatch(len(tasks), len(p.workers))
	off := 0
	now := clock.Now()
	for i, w := range p.workers {
		w.delta = NewRegretTracker()
		w.assigned, w.received = split[i], 0
		w.lastSeen = now
		w.stats = TraversalStats{}
		for _, tk := range tasks[off : off+split[i]] {
			tk.delta = w.delta
			w.tasks <- tk
		}
		off += split[i]
	}

	expected := len(tasks)
	received := 0
	var firstErr error
	handle := func(r result) {
		metrics.polls.Add(1)
		w := p.workers[r.worker]
		if r.gen != w.gen {
			return
		}
		received++
		w.received++
		w.lastSeen = clock.Now()
		w.stats.add(r.stats)
		if r.err != nil && firstErr == nil {
			firstErr = fmt.Errorf("worker %d: %w", r.worker, r.err)
		}
	}

	timeout := cfg.PollTimeout
	for received < expected {
		timer := clock.NewTimer(timeout)
		select {
		case <-ctx.Done():
			timer.Stop()
			return TraversalStats{}, ctx.Err()
		case r := <-p.results:
			timer.Stop()
			handle(r)
			timeout = cfg.PollTimeout
			drainResults(p.results, min(cfg.ExtraDrainAttempts, expected-received), handle)
		case <-timer.C:
			metrics.emptyPolls.Add(1)
			timeout = backoffPoll(timeout, cfg)
			expected -= p.reap()
		}
		if firstErr != nil {
			return TraversalStats{}, firstErr
		}
	}

	var stats TraversalStats
	for _, w := range p.workers {
		if w.delta == nil {
			continue
		}
		if err := p.t.regrets.Merge(w.delta); err != nil {
			return TraversalStats{}, err
		}
		stats.add(w.stats)
		metrics.iterations.Add(int64(w.assigned))
		w.delta = nil
	}
	metrics.nodes.Add(stats.NodesVisited)
	metrics.terminals.Add(stats.TerminalNodes)
	metrics.pruned.Add(stats.PrunedActions)
	return stats, nil
}

// drainResults reads up to limit results that are already waiting without
// blocking and returns how many it handled.
func drainResults(results <-chan result, limit int, handle func(result)) int {
	n := 0
	for n < limit {
		select {
		case r := <-results:
			handle(r)
			n++
		default:
			return n
		}
	}
	return n
}

// backoffPoll is the poll timeout after an empty poll.
func backoffPoll(timeout time.Duration, cfg PoolConfig) time.Duration {
	return min(time.Duration(float64(timeout)*cfg.PollBackoff), cfg.MaxPollTimeout)
}

// reap replaces workers that crashed or stopped reporting while they still
// had work. Their deltas are discarded. It returns the number of results
// that will no longer arrive.
func (p *pool) reap() int {
	gone := 0
	for i, w := range p.workers {
		if w.received >= w.assigned {
			continue
		}
		crashed := false
		select {
		case <-w.done:
			crashed = true
		default:
		}
		if !crashed && p.t.clock.Since(w.lastSeen) < p.t.cfg.Pool.WorkerTimeout {
			continue
		}
		w.cancel()
		gone += w.assigned - w.received
		p.t.metrics.deadWorkers.Add(1)
		p.t.metrics.lostIterations.Add(int64(w.assigned))
		p.t.logger.Warn().
			Int("worker", w.id).
			Bool("crashed", crashed).
			Int("lost_iterations", w.assigned).
			Msg("Replacing dead worker")
		p.workers[i] = p.spawn(w.id, w.gen+1)
	}
	return gone
}
