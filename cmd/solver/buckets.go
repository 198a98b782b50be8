package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/lox/pokercfr/internal/config"
	"github.com/lox/pokercfr/sdk/abstraction"
)

// BucketsCmd builds the card abstraction.
type BucketsCmd struct {
	Out   string `help:"artifact path (defaults to the configured bucket file)"`
	Force bool   `help:"rebuild even if the artifact already matches the configuration"`
}

func (cmd *BucketsCmd) Run(ctx context.Context, g *Globals) error {
	cfg, logger, err := g.load()
	if err != nil {
		return err
	}
	if cmd.Out != "" {
		cfg.BucketFile = cmd.Out
	}
	if !cmd.Force {
		if b, err := abstraction.LoadArtifact(cfg.BucketFile); err == nil && b.VerifyHash(cfg.Buckets.Hash()) == nil {
			logger.Info().Str("path", cfg.BucketFile).Str("hash", b.Hash()[:12]).Msg("Bucket artifact is current")
			return nil
		}
	}
	_, err = buildBuckets(ctx, cfg, logger)
	return err
}

func buildBuckets(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*abstraction.Bucketer, error) {
	logger.Info().
		Int("preflop", cfg.Buckets.KPreflop).
		Int("flop", cfg.Buckets.KFlop).
		Int("turn", cfg.Buckets.KTurn).
		Int("river", cfg.Buckets.KRiver).
		Msg("Building bucket abstraction")
	b, err := abstraction.BuildBucketer(ctx, cfg.Buckets, logger)
	if err != nil {
		return nil, err
	}
	if err := b.SaveArtifact(cfg.BucketFile); err != nil {
		return nil, err
	}
	logger.Info().Str("path", cfg.BucketFile).Str("hash", b.Hash()[:12]).Msg("Bucket artifact written")
	return b, nil
}

// loadBuckets reads the configured artifact, building it on first use. An
// artifact built from a different configuration is an error rather than being
// silently replaced, since checkpoints reference its hash.
func loadBuckets(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*abstraction.Bucketer, error) {
	b, err := abstraction.LoadArtifact(cfg.BucketFile)
	if errors.Is(err, os.ErrNotExist) {
		return buildBuckets(ctx, cfg, logger)
	}
	if err != nil {
		return nil, err
	}
	if err := b.VerifyHash(cfg.Buckets.Hash()); err != nil {
		return nil, fmt.Errorf("%s: %w (rerun buckets with --force)", cfg.BucketFile, err)
	}
	return b, nil
}
