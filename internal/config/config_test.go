package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/pokercfr/sdk/abstraction"
	"github.com/lox/pokercfr/sdk/realtime"
	"github.com/lox/pokercfr/sdk/solver"
)

const sample = `
buckets {
  k_flop = 32
  lossless_preflop = true
}

training {
  time_budget        = "90m"
  seed               = 7
  sampling           = "outcome"
  discount           = "dcfr"
  workers            = 4
  batch_size         = 128
  checkpoint_every   = "10m"
  keep_checkpoints   = 3
  poll_timeout       = "20ms"
  instances          = 2
}

actions {
  max_raises_per_street = 3

  menu "river" {
    ip = [50, 125]
  }
}

resolver {
  time_limit      = "250ms"
  min_iterations  = 50
  kl_weights      = [0.1, 0.2, 0.3, 0.5]
  mode            = "tight"
  leaf_mode       = "blueprint"
  walkers         = 2
}

output {
  dir       = "runs/a"
  log_level = "debug"
}
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample), "sample.hcl")
	require.NoError(t, err)
	def := Default()

	assert.Equal(t, 32, cfg.Buckets.KFlop)
	assert.Equal(t, def.Buckets.KTurn, cfg.Buckets.KTurn)
	assert.True(t, cfg.Buckets.LosslessPreflop)

	assert.Zero(t, cfg.Training.Iterations)
	assert.Equal(t, 90*time.Minute, cfg.Training.TimeBudget)
	assert.Equal(t, int64(7), cfg.Training.Seed)
	assert.Equal(t, solver.SamplingOutcome, cfg.Training.Sampling)
	assert.Equal(t, solver.DiscountDCFR, cfg.Training.Discount)
	assert.Equal(t, 4, cfg.Training.Workers)
	assert.Equal(t, 10*time.Minute, cfg.Training.CheckpointEvery)
	assert.Equal(t, 20*time.Millisecond, cfg.Training.Pool.PollTimeout)
	assert.Equal(t, def.Training.Pool.MaxPollTimeout, cfg.Training.Pool.MaxPollTimeout)
	assert.Equal(t, def.Training.BigBlind, cfg.Training.BigBlind)
	assert.Equal(t, 2, cfg.Instances)

	assert.Equal(t, 3, cfg.Training.Actions.MaxRaisesPerStreet)
	assert.Equal(t, []int{50, 125}, cfg.Training.Actions.Menus[abstraction.River].IP)
	assert.Equal(t, def.Training.Actions.Menus[abstraction.River].OOP, cfg.Training.Actions.Menus[abstraction.River].OOP)

	assert.Equal(t, 250*time.Millisecond, cfg.Resolver.TimeLimit)
	assert.Equal(t, 50, cfg.Resolver.MinIterations)
	assert.Equal(t, [abstraction.NumStreets]float64{0.1, 0.2, 0.3, 0.5}, cfg.Resolver.KLWeights)
	assert.Equal(t, realtime.ModeTight, cfg.Subgame.Mode)
	assert.Equal(t, realtime.LeafBlueprint, cfg.Leaf.Mode)
	assert.Equal(t, 2, cfg.Resolver.Walkers)

	assert.Equal(t, "runs/a", cfg.OutputDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	require.NoError(t, cfg.Validate())
}

func TestParseErrors(t *testing.T) {
	tests := map[string]string{
		"syntax":        `training {`,
		"unknown attr":  `training { speed = 3 }`,
		"bad duration":  `training { time_budget = "soon" }`,
		"bad sampling":  `training { sampling = "exhaustive" }`,
		"bad street":    `actions { menu "showdown" { ip = [50] } }`,
		"short weights": `resolver { kl_weights = [0.1] }`,
		"bad leaf mode": `resolver { leaf_mode = "oracle" }`,
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(src), "bad.hcl")
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.hcl"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "solver.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`training { iterations = 500 }`), 0o644))

	t.Setenv("POKERCFR_TIME_BUDGET", "2h")
	t.Setenv("POKERCFR_WORKERS", "8")
	t.Setenv("POKERCFR_OUTPUT_DIR", "/tmp/run")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Zero(t, cfg.Training.Iterations)
	assert.Equal(t, 2*time.Hour, cfg.Training.TimeBudget)
	assert.Equal(t, 8, cfg.Training.Workers)
	assert.Equal(t, "/tmp/run", cfg.OutputDir)
}

func TestValidateValueModelNeedsPath(t *testing.T) {
	cfg := Default()
	cfg.Leaf.Mode = realtime.LeafValueModel
	assert.Error(t, cfg.Validate())

	cfg.ValueModel = "model.json"
	assert.NoError(t, cfg.Validate())
}
