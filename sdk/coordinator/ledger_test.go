package coordinator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerLifecycle(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	id, err := l.BeginRun(ctx, "/runs/a", 10, []string{"/runs/a/instance_0", "/runs/a/instance_1"})
	require.NoError(t, err)

	run, err := l.Run(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, run.Status)
	assert.True(t, now.Equal(run.Started), "started %v", run.Started)
	assert.True(t, run.Finished.IsZero())

	require.NoError(t, l.InstanceLaunched(ctx, id, 1))
	require.NoError(t, l.InstanceLaunched(ctx, id, 1))
	require.NoError(t, l.InstanceProgress(ctx, id, 1, 400, "/runs/a/instance_1/checkpoints/checkpoint_iter400_t9s"))
	require.NoError(t, l.InstanceFinished(ctx, id, 1, errors.New("exit status 2")))
	require.NoError(t, l.InstanceFinished(ctx, id, 0, nil))

	instances, err := l.Instances(ctx, id)
	require.NoError(t, err)
	require.Len(t, instances, 2)

	assert.Equal(t, int64(10), instances[0].Seed)
	assert.Equal(t, StatusComplete, instances[0].Status)
	assert.Zero(t, instances[0].Launches)

	assert.Equal(t, int64(11), instances[1].Seed)
	assert.Equal(t, StatusFailed, instances[1].Status)
	assert.Equal(t, 2, instances[1].Launches)
	assert.Equal(t, int64(400), instances[1].Iteration)
	assert.Equal(t, "exit status 2", instances[1].Error)

	now = now.Add(time.Hour)
	require.NoError(t, l.FinishRun(ctx, id, nil))
	run, err = l.Run(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, run.Status)
	assert.True(t, now.Equal(run.Finished), "finished %v", run.Finished)
}

func TestLedgerUnknownInstance(t *testing.T) {
	l := newLedger(t)
	err := l.InstanceLaunched(context.Background(), "missing", 0)
	assert.Error(t, err)
}

func TestLedgerPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "ledger.db")

	l, err := OpenLedger(path)
	require.NoError(t, err)
	id, err := l.BeginRun(ctx, "/runs/b", 1, []string{"/runs/b/instance_0"})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l, err = OpenLedger(path)
	require.NoError(t, err)
	defer l.Close()
	run, err := l.Run(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "/runs/b", run.BaseDir)
}

func TestOpenLedgerRejectsEmptyPath(t *testing.T) {
	_, err := OpenLedger("  ")
	assert.Error(t, err)
}
