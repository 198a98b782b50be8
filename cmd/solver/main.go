// Command solver builds card abstractions, trains MCCFR blueprints and
// resolves single decisions against a trained blueprint.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"

	"github.com/lox/pokercfr/internal/config"
	"github.com/lox/pokercfr/internal/logging"
	"github.com/lox/pokercfr/sdk/coordinator"
	"github.com/lox/pokercfr/sdk/solver"
)

// Globals are the flags shared by every command.
type Globals struct {
	Config   string `help:"HCL run file" type:"path" env:"POKERCFR_CONFIG"`
	LogLevel string `help:"log level (debug, info, warn, error)"`
	LogJSON  bool   `name:"log-json" help:"emit JSON logs"`
	Debug    bool   `help:"enable debug logging"`
}

var cli struct {
	Globals

	Buckets BucketsCmd `cmd:"" help:"cluster hands and write the bucket artifact"`
	Train   TrainCmd   `cmd:"" help:"run MCCFR training in one output directory"`
	Multi   MultiCmd   `cmd:"" help:"supervise several independent training instances"`
	Export  ExportCmd  `cmd:"" help:"export a blueprint to a LevelDB store"`
	Resolve ResolveCmd `cmd:"" help:"resolve one decision from a JSON table state"`
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("solver"),
		kong.Description("MCCFR blueprint training and real-time resolving"),
		kong.UsageOnError(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	kctx.BindTo(ctx, (*context.Context)(nil))
	err := kctx.Run(&cli.Globals)
	stop()

	switch {
	case err == nil:
	case errors.Is(err, solver.ErrChunkComplete):
		os.Exit(coordinator.ExitChunkComplete)
	default:
		logger := logging.New(logging.Options{Level: cli.LogLevel, JSON: cli.LogJSON})
		logger.Error().Err(err).Msgf("%s failed", kctx.Command())
		if errors.Is(err, solver.ErrBucketMismatch) {
			os.Exit(coordinator.ExitBucketMismatch)
		}
		os.Exit(1)
	}
}

// load resolves the run configuration and the logger it selects.
func (g *Globals) load() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return cfg, zerolog.Nop(), err
	}
	if g.LogLevel != "" {
		cfg.LogLevel = g.LogLevel
	}
	if g.LogJSON {
		cfg.LogJSON = true
	}
	logger := logging.New(logging.Options{Level: cfg.LogLevel, Debug: g.Debug, JSON: cfg.LogJSON})
	return cfg, logger, nil
}
