package solver

import (
	"sync/atomic"
	"time"
)

// Metrics are cumulative counters for a training session.
type Metrics struct {
	iterations     atomic.Int64
	nodes          atomic.Int64
	terminals      atomic.Int64
	pruned         atomic.Int64
	checkpoints    atomic.Int64
	snapshots      atomic.Int64
	batches        atomic.Int64
	polls          atomic.Int64
	emptyPolls     atomic.Int64
	deadWorkers    atomic.Int64
	lostIterations atomic.Int64
	lastIteration  atomic.Int64 // nanoseconds
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Iterations     int64         `json:"iterations"`
	NodesVisited   int64         `json:"nodes_visited"`
	TerminalNodes  int64         `json:"terminal_nodes"`
	PrunedActions  int64         `json:"pruned_actions"`
	Checkpoints    int64         `json:"checkpoints"`
	Snapshots      int64         `json:"snapshots"`
	Batches        int64         `json:"batches"`
	Polls          int64         `json:"polls"`
	EmptyPolls     int64         `json:"empty_polls"`
	DeadWorkers    int64         `json:"dead_workers"`
	LostIterations int64         `json:"lost_iterations"`
	LastIteration  time.Duration `json:"last_iteration"`
}

func (m *Metrics) recordTraversal(s TraversalStats) {
	m.iterations.Add(1)
	m.nodes.Add(s.NodesVisited)
	m.terminals.Add(s.TerminalNodes)
	m.pruned.Add(s.PrunedActions)
}

// Snapshot copies the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Iterations:     m.iterations.Load(),
		NodesVisited:   m.nodes.Load(),
		TerminalNodes:  m.terminals.Load(),
		PrunedActions:  m.pruned.Load(),
		Checkpoints:    m.checkpoints.Load(),
		Snapshots:      m.snapshots.Load(),
		Batches:        m.batches.Load(),
		Polls:          m.polls.Load(),
		EmptyPolls:     m.emptyPolls.Load(),
		DeadWorkers:    m.deadWorkers.Load(),
		LostIterations: m.lostIterations.Load(),
		LastIteration:  time.Duration(m.lastIteration.Load()),
	}
}
