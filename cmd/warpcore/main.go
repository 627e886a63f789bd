// Package main provides the warpcore CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/orneryd/warpcore/pkg/commit"
	"github.com/orneryd/warpcore/pkg/config"
	"github.com/orneryd/warpcore/pkg/graph"
	"github.com/orneryd/warpcore/pkg/ident"
	"github.com/orneryd/warpcore/pkg/mutator"
	"github.com/orneryd/warpcore/pkg/rule"
	"github.com/orneryd/warpcore/pkg/rulepack"
	"github.com/orneryd/warpcore/pkg/rules/builtin"
	"github.com/orneryd/warpcore/pkg/warp"
)

var (
	version = "0.1.0"
	commitID = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "warpcore",
		Short: "warpcore - deterministic typed graph-rewrite engine",
		Long: `warpcore runs a deterministic tick-commit pipeline over a
content-addressed graph: a transaction enqueues candidate rule rewrites,
the scheduler drains them in canonical order, a bounded worker pool
executes the independent ones in parallel, and a canonical merge folds
their deltas back into one state before it is hashed and committed.`,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("warpcore v%s (%s)\n", version, commitID)
		},
	})

	tickCmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one demo tick against a fresh in-memory graph",
		RunE:  runTick,
	}
	tickCmd.Flags().String("rulepack", "", "path to a rule pack manifest (YAML); defaults to every builtin rule")
	rootCmd.AddCommand(tickCmd)

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Replay a committed tick's patch against its prior state_root and check it lands on the committed one",
		RunE:  runVerify,
	}
	rootCmd.AddCommand(verifyCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runTick(cmd *cobra.Command, args []string) error {
	cfg := config.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	registry := rule.NewRegistry()
	manifestPath, _ := cmd.Flags().GetString("rulepack")
	rules, err := loadRulePack(registry, manifestPath)
	if err != nil {
		return err
	}
	fmt.Printf("loaded %d rules\n", len(rules))

	state := graph.NewWarpState()
	opts := warp.FromConfig(cfg)
	opts.RulePackID = rulePackDigest(rules)
	engine := warp.NewEngine(state, registry, opts)

	tx := engine.Begin()
	root := state.Root()
	result, err := engine.Apply(tx, "warpcore.builtin.stamp", root)
	if err != nil {
		return fmt.Errorf("apply: %w", err)
	}
	fmt.Printf("apply warpcore.builtin.stamp at root: outcome=%v\n", result.Outcome)

	snap, receipt, ops, err := engine.Commit(context.Background(), tx)
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	fmt.Printf("committed tick %d\n", snap.Seq)
	fmt.Printf("  state_root:   %x\n", snap.StateRoot)
	fmt.Printf("  patch_digest: %x\n", snap.PatchDigest)
	fmt.Printf("  commit_hash:  %x\n", snap.CommitHash)
	fmt.Printf("  ops applied:  %d\n", len(ops))
	fmt.Printf("  accepted:     %d, rejected: %d\n", len(receipt.Accepted), len(receipt.Rejected))
	return nil
}

// runVerify demonstrates the re-application property a persisted patch must
// hold: replaying its op list against the state_root it was computed from
// must land on exactly the state_root the tick committed. There is no
// durable patch store in this module, so this drives the same commit path a
// real one would replay from — run a tick, keep the pre-commit state
// alongside the ops+state_root the commit produced, then apply those same
// ops to an independent clone of the pre-commit state and compare.
func runVerify(cmd *cobra.Command, args []string) error {
	cfg := config.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	registry := rule.NewRegistry()
	rules, err := loadRulePack(registry, "")
	if err != nil {
		return err
	}

	state := graph.NewWarpState()
	priorState := state.Clone()
	priorRoot := commit.StateRoot(priorState)

	opts := warp.FromConfig(cfg)
	opts.RulePackID = rulePackDigest(rules)
	engine := warp.NewEngine(state, registry, opts)

	tx := engine.Begin()
	root := state.Root()
	if _, err := engine.Apply(tx, "warpcore.builtin.stamp", root); err != nil {
		return fmt.Errorf("apply: %w", err)
	}
	snap, _, ops, err := engine.Commit(context.Background(), tx)
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	replay := priorState.Clone()
	if err := mutator.Apply(replay, ops); err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	replayedRoot := commit.StateRoot(replay)

	fmt.Printf("prior state_root:    %x\n", priorRoot)
	fmt.Printf("committed state_root: %x\n", snap.StateRoot)
	fmt.Printf("replayed state_root:  %x\n", replayedRoot)
	if replayedRoot != snap.StateRoot {
		return fmt.Errorf("verify: replaying the persisted patch against the prior state_root landed on %x, want %x", replayedRoot, snap.StateRoot)
	}
	fmt.Println("verify: ok — patch replay reproduces the committed state_root")
	return nil
}

// loadRulePack registers every builtin rule, then — if manifestPath is set —
// resolves a YAML manifest against the registry to confirm the active pack
// is exactly the set of rules it names. An empty manifestPath runs with
// every builtin rule active.
func loadRulePack(registry *rule.Registry, manifestPath string) ([]rule.Rule, error) {
	if _, err := builtin.RegisterAll(registry); err != nil {
		return nil, fmt.Errorf("registering builtin rules: %w", err)
	}
	if manifestPath == "" {
		return registry.All(), nil
	}
	manifest, err := rulepack.LoadFile(manifestPath)
	if err != nil {
		return nil, err
	}
	return rulepack.Resolve(manifest, registry)
}

// rulePackDigest identifies the active rule pack by the content hashes of
// its member rules, under the same domain tag rule ids themselves use —
// a rule pack is, structurally, just another named set of typed things.
func rulePackDigest(rules []rule.Rule) ident.Hash {
	ids := make([][]byte, 0, len(rules))
	for _, r := range rules {
		h := r.ID
		ids = append(ids, h[:])
	}
	return ident.Sum(ident.TagType, ids...)
}
