package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/config"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/executor"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/journal"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/pool"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/result"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/strategy"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/strategyData"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	atUnix  int64
	cfg     *config.Config
	logger  *logrus.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "kliquidity",
		Short: "Rebalance policy engine for Orca, Raydium and Meteora liquidity strategies",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = config.Load(cfgFile); err != nil {
				return err
			}
			logger, err = cfg.Logging.NewLogger()
			return err
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().Int64Var(&atUnix, "at", 0, "evaluation time as unix seconds (default now)")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "evaluate <strategy.json>",
			Short: "Decide whether a strategy should rebalance",
			Args:  cobra.ExactArgs(1),
			RunE:  runEvaluate,
		},
		&cobra.Command{
			Use:   "plan <strategy.json>",
			Short: "Evaluate a strategy and print the rebalance plan",
			Args:  cobra.ExactArgs(1),
			RunE:  runPlan,
		},
		&cobra.Command{
			Use:   "run <strategy.json>...",
			Short: "Evaluate and plan many strategies concurrently",
			Args:  cobra.MinimumNArgs(1),
			RunE:  runAll,
		},
		&cobra.Command{
			Use:   "journal <strategy address>",
			Short: "List unfinished rebalance plans of a strategy",
			Args:  cobra.ExactArgs(1),
			RunE:  runJournal,
		},
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func evaluationTime() time.Time {
	if atUnix != 0 {
		return time.Unix(atUnix, 0).UTC()
	}
	return time.Now().UTC()
}

type loaded struct {
	strategy *strategy.Strategy
	snapshot *pool.Snapshot
	holdings executor.Holdings
}

func load(path string) (*loaded, error) {
	input, err := strategyData.Load(path)
	if err != nil {
		return nil, err
	}
	s, err := input.Strategy.Strategy()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	snap, err := input.Snapshot.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	out := &loaded{strategy: s, snapshot: snap}
	if input.Holdings != nil {
		if out.holdings, err = input.Holdings.Holdings(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return out, nil
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	in, err := load(args[0])
	if err != nil {
		return err
	}
	decision, err := strategy.Evaluate(in.strategy, in.snapshot, evaluationTime(), cfg.StrategyOptions())
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"strategy": in.strategy.Address.String(),
		"action":   decision.Action.String(),
	}).Info(decision.Reason)
	return printJSON(result.NewDecision(in.strategy.Address, decision))
}

func runPlan(cmd *cobra.Command, args []string) error {
	in, err := load(args[0])
	if err != nil {
		return err
	}
	decision, err := strategy.Evaluate(in.strategy, in.snapshot, evaluationTime(), cfg.StrategyOptions())
	if err != nil {
		return err
	}
	out := result.Outcome{Decision: result.NewDecision(in.strategy.Address, decision)}
	if decision.Triggered() {
		// instructions are only built on execution, which needs a wallet
		planner := executor.NewPlanner(nil, nil, nil, cfg.PlannerConfig(), logger)
		plan, err := planner.PlanRebalance(in.strategy, in.snapshot, decision, in.holdings)
		if err != nil {
			return err
		}
		out.Plan = result.NewPlan(plan)
	}
	return printJSON(out)
}

// fileHoldings serves the holdings read from the strategy files.
type fileHoldings map[solana.PublicKey]executor.Holdings

func (h fileHoldings) Holdings(_ context.Context, s *strategy.Strategy) (executor.Holdings, error) {
	held, ok := h[s.Address]
	if !ok {
		return executor.Holdings{}, fmt.Errorf("no holdings for %s", s.Address)
	}
	return held, nil
}

func runAll(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	source := pool.NewStaticSource()
	holdings := fileHoldings{}
	strategies := make([]*strategy.Strategy, 0, len(args))
	for _, path := range args {
		in, err := load(path)
		if err != nil {
			return err
		}
		source.Put(in.snapshot)
		holdings[in.strategy.Address] = in.holdings
		strategies = append(strategies, in.strategy)
	}

	runnerCfg := cfg.RunnerConfig()
	runnerCfg.Clock = evaluationTime
	if !runnerCfg.DryRun {
		logger.Warn("no transaction submitter configured, planning only")
		runnerCfg.DryRun = true
	}
	planner := executor.NewPlanner(nil, nil, nil, cfg.PlannerConfig(), logger)
	runner := executor.NewRunner(source, holdings, planner, nil, runnerCfg, logger)

	outcomes, err := runner.Run(ctx, strategies)
	if err != nil {
		return err
	}
	save := result.Save{GeneratedAt: evaluationTime().Unix(), DryRun: runnerCfg.DryRun}
	for _, o := range outcomes {
		save.Outcomes = append(save.Outcomes, result.NewOutcome(o))
	}
	return printJSON(save)
}

func runJournal(cmd *cobra.Command, args []string) error {
	address, err := solana.PublicKeyFromBase58(args[0])
	if err != nil {
		return fmt.Errorf("strategy address %q: %w", args[0], err)
	}
	store, err := journal.Open(journal.Config{Path: cfg.Journal.Path, Logger: logger})
	if err != nil {
		return err
	}
	defer store.Close()

	unfinished, err := store.Unfinished(cmd.Context(), address)
	if err != nil {
		return err
	}
	out := make([]result.Progress, 0, len(unfinished))
	for _, p := range unfinished {
		rp := result.Progress{PlanID: p.PlanID.String(), LastCompleted: p.LastCompleted, Steps: p.Steps, Signatures: make([]string, len(p.Signatures))}
		for i, sig := range p.Signatures {
			rp.Signatures[i] = sig.String()
		}
		out = append(out, rp)
	}
	return printJSON(out)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
