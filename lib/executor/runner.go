package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/journal"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/pool"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/prices"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/strategy"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// HoldingsSource reports what a strategy would hold after closing its
// position: position amounts plus idle vault balances.
type HoldingsSource interface {
	Holdings(ctx context.Context, s *strategy.Strategy) (Holdings, error)
}

type RunnerConfig struct {
	Concurrency int
	// SnapshotsPerSecond limits pool reads. Zero means unlimited.
	SnapshotsPerSecond float64
	// TwapWindow is the number of observations kept per pool for snapshots
	// that carry no TWAP of their own.
	TwapWindow int
	DryRun     bool
	Options    strategy.Options
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Outcome is the result of one strategy in a run. Err is set when that
// strategy failed; the other strategies are unaffected.
type Outcome struct {
	Strategy solana.PublicKey
	Decision strategy.Decision
	Plan     *Plan
	Progress *journal.Progress
	Err      error
}

// Runner evaluates a set of strategies against fresh snapshots and plans,
// and unless DryRun is set, executes the rebalances they call for.
type Runner struct {
	source   pool.Source
	holdings HoldingsSource
	planner  *Planner
	exec     *Execution
	cfg      RunnerConfig
	limiter  *rate.Limiter
	log      logrus.FieldLogger
	now      func() time.Time

	mu           sync.Mutex
	observations map[solana.PublicKey]*prices.Observations
	// pending holds plans whose execution failed part way, keyed by strategy.
	pending map[solana.PublicKey]pendingPlan
}

type pendingPlan struct {
	plan     *Plan
	decision strategy.Decision
}

func NewRunner(source pool.Source, holdings HoldingsSource, planner *Planner, exec *Execution, cfg RunnerConfig, log logrus.FieldLogger) *Runner {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	limit := rate.Inf
	if cfg.SnapshotsPerSecond > 0 {
		limit = rate.Limit(cfg.SnapshotsPerSecond)
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Runner{
		source:       source,
		holdings:     holdings,
		planner:      planner,
		exec:         exec,
		cfg:          cfg,
		limiter:      rate.NewLimiter(limit, cfg.Concurrency),
		log:          log,
		now:          now,
		observations: make(map[solana.PublicKey]*prices.Observations),
		pending:      make(map[solana.PublicKey]pendingPlan),
	}
}

// Run processes the strategies concurrently. Outcomes follow the order of
// strategies. The returned error is only set when ctx ends the run.
func (r *Runner) Run(ctx context.Context, strategies []*strategy.Strategy) ([]Outcome, error) {
	outcomes := make([]Outcome, len(strategies))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for i, s := range strategies {
		i, s := i, s
		g.Go(func() error {
			outcomes[i] = r.runOne(gctx, s)
			if errors.Is(outcomes[i].Err, context.Canceled) || errors.Is(outcomes[i].Err, context.DeadlineExceeded) {
				return outcomes[i].Err
			}
			return nil
		})
	}
	err := g.Wait()
	return outcomes, err
}

func (r *Runner) runOne(ctx context.Context, s *strategy.Strategy) Outcome {
	out := Outcome{Strategy: s.Address}
	log := r.log.WithFields(logrus.Fields{"strategy": s.Address.String(), "dex": s.Dex.String()})

	if p, ok := r.pendingOf(s.Address); ok && !r.cfg.DryRun && r.exec != nil {
		out.Decision, out.Plan = p.decision, p.plan
		log.WithField("plan", p.plan.ID.String()).Info("resuming unfinished plan")
		return r.execute(ctx, s, out, log)
	}

	snap, err := r.snapshot(ctx, s.Pool)
	if err != nil {
		out.Err = err
		log.WithError(err).Warn("reading pool failed")
		return out
	}
	now := r.now()
	out.Decision, err = strategy.Evaluate(s, snap, now, r.cfg.Options)
	if err != nil {
		out.Err = err
		log.WithError(err).Warn("evaluation failed")
		return out
	}
	log = log.WithFields(logrus.Fields{"kind": out.Decision.Kind.String(), "action": out.Decision.Action.String()})
	if !out.Decision.Triggered() {
		log.WithField("reason", out.Decision.Reason).Debug("no rebalance")
		return out
	}

	if r.holdings == nil {
		out.Err = fmt.Errorf("strategy %s: no holdings source", s.Address)
		return out
	}
	held, err := r.holdings.Holdings(ctx, s)
	if err != nil {
		out.Err = fmt.Errorf("holdings of %s: %w", s.Address, err)
		log.WithError(err).Warn("reading holdings failed")
		return out
	}
	out.Plan, err = r.planner.PlanRebalance(s, snap, out.Decision, held)
	if err != nil {
		out.Err = err
		log.WithError(err).Warn("planning failed")
		return out
	}
	log = log.WithField("plan", out.Plan.ID.String())
	if r.cfg.DryRun || r.exec == nil {
		log.WithField("steps", len(out.Plan.Steps)).Info("rebalance planned")
		return out
	}

	return r.execute(ctx, s, out, log)
}

// execute runs out.Plan and commits its decision once every step landed.
// A failed plan is kept and resumed on the next pass instead of replanned.
func (r *Runner) execute(ctx context.Context, s *strategy.Strategy, out Outcome, log logrus.FieldLogger) Outcome {
	progress, err := r.exec.Run(ctx, out.Plan)
	out.Progress = &progress
	if err != nil {
		out.Err = err
		r.setPending(s.Address, &pendingPlan{plan: out.Plan, decision: out.Decision})
		log.WithError(err).WithField("completed", progress.LastCompleted+1).Warn("rebalance interrupted")
		return out
	}
	r.setPending(s.Address, nil)
	s.Commit(out.Decision)
	log.WithField("range", out.Decision.Range.String()).Info("rebalance executed")
	return out
}

func (r *Runner) pendingOf(address solana.PublicKey) (pendingPlan, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[address]
	return p, ok
}

func (r *Runner) setPending(address solana.PublicKey, p *pendingPlan) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p == nil {
		delete(r.pending, address)
		return
	}
	r.pending[address] = *p
}

// snapshot reads a pool under the rate limit and fills a missing TWAP from
// the ticks observed in earlier runs.
func (r *Runner) snapshot(ctx context.Context, address solana.PublicKey) (*pool.Snapshot, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	snap, err := r.source.Snapshot(ctx, address)
	if err != nil {
		return nil, err
	}
	snap = snap.Clone()
	if r.cfg.TwapWindow <= 0 {
		return snap, nil
	}
	obs := r.observationsOf(address)
	obs.Add(snap.CurrentTick, snap.FetchedAt)
	if snap.Twap == nil {
		if twap, ok := obs.Twap(); ok {
			snap.Twap = twap
		}
	}
	return snap, nil
}

func (r *Runner) observationsOf(address solana.PublicKey) *prices.Observations {
	r.mu.Lock()
	defer r.mu.Unlock()
	obs, ok := r.observations[address]
	if !ok {
		obs = prices.NewObservations(r.cfg.TwapWindow)
		r.observations[address] = obs
	}
	return obs
}
