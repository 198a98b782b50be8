package main

import (
	"context"

	"github.com/dustin/go-humanize"

	"github.com/lox/pokercfr/internal/store"
	"github.com/lox/pokercfr/sdk/solver/runtime"
)

// ExportCmd writes a blueprint into a LevelDB store for low-memory lookups.
type ExportCmd struct {
	Blueprint string `arg:"" help:"policy file, snapshot, checkpoint or training output directory" type:"path"`
	Out       string `arg:"" help:"LevelDB directory to create" type:"path"`
}

func (cmd *ExportCmd) Run(ctx context.Context, g *Globals) error {
	_, logger, err := g.load()
	if err != nil {
		return err
	}
	bp, err := runtime.Load(cmd.Blueprint)
	if err != nil {
		return err
	}
	defer bp.Close()
	policy, err := bp.Frozen()
	if err != nil {
		return err
	}
	meta, err := store.Export(cmd.Out, policy)
	if err != nil {
		return err
	}
	logger.Info().
		Str("source", string(bp.Source())).
		Str("path", cmd.Out).
		Str("infosets", humanize.Comma(int64(meta.Infosets))).
		Str("iterations", humanize.Comma(meta.Iterations)).
		Msg("Blueprint exported")
	return nil
}
