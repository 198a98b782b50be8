// Package config loads solver settings from an HCL file and POKERCFR_*
// environment variables. Settings absent from both keep their defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/ilyakaznacheev/cleanenv"

	"github.com/lox/pokercfr/sdk/abstraction"
	"github.com/lox/pokercfr/sdk/realtime"
	"github.com/lox/pokercfr/sdk/solver"
)

// Config is the fully resolved configuration.
type Config struct {
	Buckets   abstraction.BucketConfig
	Training  solver.TrainingConfig
	Subgame   realtime.SubgameConfig
	Leaf      realtime.LeafConfig
	Resolver  realtime.ResolverConfig
	Instances int

	ValueModel string
	BucketFile string
	OutputDir  string
	LogLevel   string
	LogJSON    bool
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Buckets:    abstraction.DefaultBucketConfig(),
		Training:   solver.DefaultTrainingConfig(),
		Subgame:    realtime.DefaultSubgameConfig(),
		Leaf:       realtime.DefaultLeafConfig(),
		Resolver:   realtime.DefaultResolverConfig(),
		Instances:  1,
		BucketFile: "buckets.pkl",
		OutputDir:  "output",
		LogLevel:   "info",
	}
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Buckets.Validate(); err != nil {
		return fmt.Errorf("buckets: %w", err)
	}
	if err := c.Training.Validate(); err != nil {
		return fmt.Errorf("training: %w", err)
	}
	if err := c.Subgame.Validate(); err != nil {
		return fmt.Errorf("subgame: %w", err)
	}
	if err := c.Leaf.Validate(); err != nil {
		return fmt.Errorf("leaf: %w", err)
	}
	if err := c.Resolver.Validate(); err != nil {
		return fmt.Errorf("resolver: %w", err)
	}
	if c.Leaf.Mode == realtime.LeafValueModel && c.ValueModel == "" {
		return errors.New("leaf: value_model mode needs a value_model path")
	}
	if c.Instances < 1 {
		return errors.New("instances must be >= 1")
	}
	if c.OutputDir == "" {
		return errors.New("output dir is required")
	}
	return nil
}

// Load reads path over the defaults, then applies the environment. A missing
// file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		src, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, err
		default:
			if cfg, err = Parse(src, path); err != nil {
				return Config{}, err
			}
		}
	}
	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes HCL source over the defaults.
func Parse(src []byte, filename string) (Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return Config{}, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}
	var f fileConfig
	if diags := gohcl.DecodeBody(file.Body, nil, &f); diags.HasErrors() {
		return Config{}, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}
	cfg := Default()
	if err := f.apply(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Env is the set of environment overrides.
type Env struct {
	Workers    int           `env:"POKERCFR_WORKERS" env-description:"training worker count"`
	Iterations int           `env:"POKERCFR_ITERATIONS" env-description:"training iterations"`
	TimeBudget time.Duration `env:"POKERCFR_TIME_BUDGET" env-description:"training wall clock budget"`
	Seed       int64         `env:"POKERCFR_SEED" env-description:"master seed"`
	Instances  int           `env:"POKERCFR_INSTANCES" env-description:"independent training instances"`
	OutputDir  string        `env:"POKERCFR_OUTPUT_DIR" env-description:"output directory"`
	LogLevel   string        `env:"POKERCFR_LOG_LEVEL" env-description:"log level"`
}

// ApplyEnv overlays set environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	var env Env
	if err := cleanenv.ReadEnv(&env); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	if env.Workers > 0 {
		cfg.Training.Workers = env.Workers
	}
	if env.Iterations > 0 {
		cfg.Training.Iterations, cfg.Training.TimeBudget = env.Iterations, 0
	}
	if env.TimeBudget > 0 {
		cfg.Training.Iterations, cfg.Training.TimeBudget = 0, env.TimeBudget
	}
	if env.Seed != 0 {
		cfg.Training.Seed = env.Seed
	}
	if env.Instances > 0 {
		cfg.Instances = env.Instances
	}
	if env.OutputDir != "" {
		cfg.OutputDir = env.OutputDir
	}
	if env.LogLevel != "" {
		cfg.LogLevel = env.LogLevel
	}
	return nil
}
