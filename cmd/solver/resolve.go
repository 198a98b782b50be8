package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/lox/pokercfr/internal/randutil"
	"github.com/lox/pokercfr/poker"
	"github.com/lox/pokercfr/sdk/abstraction"
	"github.com/lox/pokercfr/sdk/realtime"
	"github.com/lox/pokercfr/sdk/solver/runtime"
)

// ResolveCmd runs the search controller once for the table state read from
// a JSON file and prints the decision.
type ResolveCmd struct {
	State     string `arg:"" help:"JSON table state file, or - for stdin"`
	Blueprint string `help:"policy file, snapshot, checkpoint, output directory or LevelDB store" required:""`
	Seed      int64  `help:"seed for sampling the decision" default:"1"`
}

// tableFile is the JSON form of a hero decision point. Cards are written as
// strings such as "AsKd".
type tableFile struct {
	Board    string `json:"board"`
	Pot      int    `json:"pot"`
	BigBlind int    `json:"big_blind"`
	Button   int    `json:"button"`
	Hero     int    `json:"hero"`
	Hole     string `json:"hole"`
	History  string `json:"history"`
	Players  []struct {
		Seat   int  `json:"seat"`
		Stack  int  `json:"stack"`
		Bet    int  `json:"bet"`
		Folded bool `json:"folded"`
	} `json:"players"`
}

type decisionOutput struct {
	Action     string                 `json:"action"`
	Amount     int                    `json:"amount"`
	Key        string                 `json:"key"`
	Fallback   bool                   `json:"fallback"`
	Actions    []string               `json:"actions,omitempty"`
	Probs      []float64              `json:"probs,omitempty"`
	Blueprint  []float64              `json:"blueprint,omitempty"`
	Stop       string                 `json:"stop,omitempty"`
	Metrics    *realtime.SolveMetrics `json:"metrics,omitempty"`
	Iterations int64                  `json:"blueprint_iterations"`
}

func (cmd *ResolveCmd) Run(ctx context.Context, g *Globals) error {
	cfg, logger, err := g.load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	table, hole, history, err := readTable(cmd.State)
	if err != nil {
		return err
	}

	buckets, err := abstraction.LoadArtifact(cfg.BucketFile)
	if err != nil {
		return err
	}
	bp, err := runtime.Load(cmd.Blueprint)
	if err != nil {
		return err
	}
	defer bp.Close()
	if err := bp.CheckBuckets(buckets.Hash()); err != nil {
		return err
	}

	actions, err := abstraction.NewActionAbstraction(cfg.Training.Actions)
	if err != nil {
		return err
	}
	builder, err := realtime.NewBuilder(cfg.Subgame, actions)
	if err != nil {
		return err
	}
	var leafOpts []realtime.LeafOption
	leafOpts = append(leafOpts, realtime.WithLeafLogger(logger))
	if cfg.ValueModel != "" {
		model, err := realtime.LoadLinearModel(cfg.ValueModel)
		if err != nil {
			return err
		}
		leafOpts = append(leafOpts, realtime.WithValueModel(model))
	}
	leaf, err := realtime.NewLeafEvaluator(cfg.Leaf, bp, buckets, actions, leafOpts...)
	if err != nil {
		return err
	}
	resolver, err := realtime.NewResolver(cfg.Resolver, builder, leaf, bp, buckets, realtime.WithResolverLogger(logger))
	if err != nil {
		return err
	}
	controller := realtime.NewController(builder, resolver, bp, buckets, logger)

	dec, err := controller.GetAction(ctx, table, hole, history, randutil.New(cmd.Seed))
	if err != nil {
		return err
	}
	out := decisionOutput{
		Action:     dec.Action.Token(),
		Amount:     dec.Amount,
		Key:        dec.Key,
		Fallback:   dec.Fallback,
		Iterations: bp.Iterations(),
	}
	if sol := dec.Solution; sol != nil {
		for _, a := range sol.Actions {
			out.Actions = append(out.Actions, a.Token())
		}
		out.Probs = sol.Probs
		out.Blueprint = sol.Blueprint
		out.Stop = sol.Metrics.Stop.String()
		out.Metrics = &sol.Metrics
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func readTable(path string) (realtime.TableState, [2]poker.Card, abstraction.History, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return realtime.TableState{}, [2]poker.Card{}, nil, err
		}
		defer f.Close()
		r = f
	}
	var tf tableFile
	if err := json.NewDecoder(r).Decode(&tf); err != nil {
		return realtime.TableState{}, [2]poker.Card{}, nil, fmt.Errorf("decode table state: %w", err)
	}
	return tf.parse()
}

func (tf tableFile) parse() (realtime.TableState, [2]poker.Card, abstraction.History, error) {
	var (
		table realtime.TableState
		hole  [2]poker.Card
	)
	board, err := poker.ParseCards(tf.Board)
	if err != nil {
		return table, hole, nil, fmt.Errorf("board: %w", err)
	}
	street, err := abstraction.StreetForBoard(len(board))
	if err != nil {
		return table, hole, nil, err
	}
	cards, err := poker.ParseCards(tf.Hole)
	if err != nil {
		return table, hole, nil, fmt.Errorf("hole: %w", err)
	}
	if len(cards) != 2 {
		return table, hole, nil, fmt.Errorf("hole: want 2 cards, got %d", len(cards))
	}
	hole = [2]poker.Card{cards[0], cards[1]}
	history, err := abstraction.ParseHistory(tf.History)
	if err != nil {
		return table, hole, nil, err
	}

	table = realtime.TableState{
		Street:   street,
		Board:    board,
		Pot:      tf.Pot,
		BigBlind: tf.BigBlind,
		Button:   tf.Button,
		Hero:     tf.Hero,
	}
	for _, p := range tf.Players {
		table.Players = append(table.Players, realtime.PlayerState{Seat: p.Seat, Stack: p.Stack, Bet: p.Bet, Folded: p.Folded})
	}
	if _, ok := table.Player(tf.Hero); !ok {
		return table, hole, nil, fmt.Errorf("hero seat %d is not at the table", tf.Hero)
	}
	return table, hole, history, nil
}
