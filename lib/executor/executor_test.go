package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/dex"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/journal"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/pool"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/rangecalc"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/strategy"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/tickmath"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	now      = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	poolKey  = solana.PublicKey{9, 9, 9}
	mintA    = solana.PublicKey{1}
	mintB    = solana.PublicKey{2}
	program  = solana.PublicKey{42}
	tickAt20 = 29958
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newStrategy(address byte, cfg strategy.RebalanceConfig, r strategy.Range) *strategy.Strategy {
	s := strategy.New(solana.PublicKey{address}, dex.Orca, poolKey,
		strategy.Token{Mint: mintA, Decimals: 6}, strategy.Token{Mint: mintB, Decimals: 6})
	s.Config = cfg
	s.CurrentRange = r
	return s
}

func snapshotAt(tick int) *pool.Snapshot {
	return &pool.Snapshot{Address: poolKey, Dex: dex.Orca, CurrentTick: tick, TickSpacing: 64, FetchedAt: now}
}

type fakeBuilder struct{}

func ix(tag byte) []solana.Instruction {
	return []solana.Instruction{solana.NewInstruction(program, solana.AccountMetaSlice{}, []byte{tag})}
}

func (fakeBuilder) ClosePosition(context.Context, *strategy.Strategy) ([]solana.Instruction, error) {
	return ix(0), nil
}

func (fakeBuilder) OpenPosition(context.Context, *strategy.Strategy, rangecalc.PriceRange) ([]solana.Instruction, error) {
	return ix(2), nil
}

func (fakeBuilder) UpdateRebalanceState(context.Context, *strategy.Strategy, strategy.RebalanceConfig, strategy.State) ([]solana.Instruction, error) {
	return ix(3), nil
}

// fakeRouter quotes at a fixed price of A in B.
type fakeRouter struct {
	price decimal.Decimal
}

func (r fakeRouter) Quote(_ context.Context, sellMint, _ solana.PublicKey, amount decimal.Decimal, _ int) (Quote, error) {
	out := amount.Mul(r.price)
	if sellMint == mintB {
		out = amount.Div(r.price)
	}
	return Quote{OutAmount: out, Instructions: ix(1)}, nil
}

type fakeSubmitter struct {
	mu     sync.Mutex
	fail   map[StepKind]error
	landed []StepKind
}

func (f *fakeSubmitter) Submit(_ context.Context, _ uuid.UUID, kind StepKind, ixs []solana.Instruction, _ *solana.PublicKey) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.fail[kind]; ok {
		delete(f.fail, kind)
		return solana.Signature{}, err
	}
	if len(ixs) == 0 {
		return solana.Signature{}, errors.New("empty step")
	}
	f.landed = append(f.landed, kind)
	return solana.Signature{byte(len(f.landed))}, nil
}

type fixedHoldings Holdings

func (h fixedHoldings) Holdings(context.Context, *strategy.Strategy) (Holdings, error) {
	return Holdings(h), nil
}

func newPlanner(router SwapRouter) *Planner {
	logger, _ := test.NewNullLogger()
	return NewPlanner(fakeBuilder{}, router, nil, PlannerConfig{SlippageBps: 100, MinSwapValue: d("1")}, logger)
}

func planFor(t *testing.T, p *Planner, s *strategy.Strategy, snap *pool.Snapshot, held Holdings) *Plan {
	t.Helper()
	decision, err := strategy.Evaluate(s, snap, now, strategy.Options{})
	require.NoError(t, err)
	plan, err := p.PlanRebalance(s, snap, decision, held)
	require.NoError(t, err)
	return plan
}

func TestPlanRebalanceStepOrder(t *testing.T) {
	s := newStrategy(7, strategy.PricePercentage{LowerRangeBps: 500, UpperRangeBps: 500}, strategy.Range{TickLower: 0, TickUpper: 640})
	plan := planFor(t, newPlanner(fakeRouter{price: d("20")}), s, snapshotAt(tickAt20), Holdings{A: d("1000"), B: decimal.Zero})

	assert.Equal(t, []StepKind{StepClosePosition, StepSwap, StepOpenPosition, StepUpdateState}, plan.Kinds())
	assert.Equal(t, strategy.ActionRebalance, plan.Action)
	assert.Equal(t, 29440, plan.Range.TickLower)
	assert.Equal(t, 30464, plan.Range.TickUpper)
	assert.True(t, plan.Swap.SellsA())
	for i, step := range plan.Steps {
		assert.Equal(t, i, step.Index)
	}
	assert.Equal(t, strategy.Range{TickLower: 0, TickUpper: 640}, s.CurrentRange, "planning must not mutate")
}

func TestPlanRebalanceWithoutPosition(t *testing.T) {
	s := newStrategy(7, strategy.PricePercentage{LowerRangeBps: 500, UpperRangeBps: 500}, strategy.Range{})
	plan := planFor(t, newPlanner(fakeRouter{price: d("20")}), s, snapshotAt(tickAt20), Holdings{A: d("1000"), B: decimal.Zero})
	assert.Equal(t, []StepKind{StepSwap, StepOpenPosition, StepUpdateState}, plan.Kinds())
}

func TestPlanExit(t *testing.T) {
	cfg := strategy.TakeProfit{LowerPrice: d("0.96"), UpperPrice: d("1.03"), DestinationToken: strategy.SideA}
	s := newStrategy(7, cfg, strategy.Range{TickLower: -448, TickUpper: 320})
	conv, err := s.Converter()
	require.NoError(t, err)
	tick, err := conv.PriceToTick(d("0.95"), tickmath.Nearest)
	require.NoError(t, err)

	plan := planFor(t, newPlanner(fakeRouter{price: d("0.95")}), s, snapshotAt(tick), Holdings{A: d("100"), B: d("95")})
	assert.Equal(t, strategy.ActionExit, plan.Action)
	assert.Equal(t, []StepKind{StepClosePosition, StepSwap, StepUpdateState}, plan.Kinds())
	assert.False(t, plan.Swap.SellsA())
	assert.True(t, plan.Swap.SellAmount().Equal(d("95")))
	assert.True(t, plan.Swap.IdealB.IsZero())
}

func TestPlanIDIsDeterministic(t *testing.T) {
	p := newPlanner(fakeRouter{price: d("20")})
	s := newStrategy(7, strategy.PricePercentage{LowerRangeBps: 500, UpperRangeBps: 500}, strategy.Range{TickLower: 0, TickUpper: 640})
	held := Holdings{A: d("1000"), B: decimal.Zero}

	first := planFor(t, p, s, snapshotAt(tickAt20), held)
	second := planFor(t, p, s, snapshotAt(tickAt20), held)
	assert.Equal(t, first.ID, second.ID)

	later := snapshotAt(tickAt20)
	later.FetchedAt = now.Add(time.Second)
	assert.Equal(t, first.ID, planFor(t, p, s, later, held).ID, "fetch time is not part of the id")

	other := planFor(t, p, s, snapshotAt(tickAt20), Holdings{A: d("999"), B: decimal.Zero})
	assert.NotEqual(t, first.ID, other.ID)
}

func TestPlanNoAction(t *testing.T) {
	s := newStrategy(7, strategy.Manual{}, strategy.Range{TickLower: 0, TickUpper: 640})
	snap := snapshotAt(tickAt20)
	decision, err := strategy.Evaluate(s, snap, now, strategy.Options{})
	require.NoError(t, err)

	_, err = newPlanner(nil).PlanRebalance(s, snap, decision, Holdings{A: d("1"), B: d("1")})
	assert.ErrorIs(t, err, ErrNoAction)
}

func TestSlippageExceeded(t *testing.T) {
	s := newStrategy(7, strategy.PricePercentage{LowerRangeBps: 500, UpperRangeBps: 500}, strategy.Range{TickLower: 0, TickUpper: 640})
	plan := planFor(t, newPlanner(fakeRouter{price: d("19")}), s, snapshotAt(tickAt20), Holdings{A: d("1000"), B: decimal.Zero})

	logger, _ := test.NewNullLogger()
	sub := &fakeSubmitter{}
	progress, err := NewExecution(sub, journal.NewMemory(), logger).Run(context.Background(), plan)
	require.ErrorIs(t, err, ErrSlippageExceeded)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepSwap, stepErr.Step.Kind)
	assert.Equal(t, 0, progress.LastCompleted)
	assert.Equal(t, []StepKind{StepClosePosition}, sub.landed)
}

func TestExecutionResumesAfterFailure(t *testing.T) {
	s := newStrategy(7, strategy.PricePercentage{LowerRangeBps: 500, UpperRangeBps: 500}, strategy.Range{TickLower: 0, TickUpper: 640})
	plan := planFor(t, newPlanner(fakeRouter{price: d("20")}), s, snapshotAt(tickAt20), Holdings{A: d("1000"), B: decimal.Zero})

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	sub := &fakeSubmitter{fail: map[StepKind]error{StepOpenPosition: errors.New("blockhash expired")}}
	j := journal.NewMemory()
	exec := NewExecution(sub, j, logger)

	progress, err := exec.Run(context.Background(), plan)
	require.Error(t, err)
	assert.Equal(t, 1, progress.LastCompleted)
	assert.False(t, progress.Done())

	saved, err := j.Load(context.Background(), plan.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, saved.LastCompleted)
	assert.Len(t, saved.Signatures, 2)

	progress, err = exec.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.True(t, progress.Done())
	assert.Len(t, progress.Signatures, 4)
	assert.Equal(t, []StepKind{StepClosePosition, StepSwap, StepOpenPosition, StepUpdateState}, sub.landed)

	hook.Reset()
	_, err = exec.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Len(t, sub.landed, 4, "finished plans are not resubmitted")
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "plan already executed", hook.LastEntry().Message)
}

func TestRunner(t *testing.T) {
	triggered := newStrategy(7, strategy.PricePercentage{LowerRangeBps: 500, UpperRangeBps: 500}, strategy.Range{TickLower: 0, TickUpper: 640})
	idle := newStrategy(8, strategy.Manual{}, strategy.Range{TickLower: 0, TickUpper: 640})
	twap := newStrategy(9, strategy.PricePercentage{LowerRangeBps: 500, UpperRangeBps: 500}, strategy.Range{TickLower: 29440, TickUpper: 30464})
	twap.ReferencePrice = strategy.ReferenceTwap
	unknown := strategy.New(solana.PublicKey{10}, dex.Orca, solana.PublicKey{11},
		strategy.Token{Mint: mintA, Decimals: 6}, strategy.Token{Mint: mintB, Decimals: 6})

	logger, _ := test.NewNullLogger()
	sub := &fakeSubmitter{}
	runner := NewRunner(
		pool.NewStaticSource(snapshotAt(tickAt20)),
		fixedHoldings{A: d("1000"), B: decimal.Zero},
		newPlanner(fakeRouter{price: d("20")}),
		NewExecution(sub, journal.NewMemory(), logger),
		RunnerConfig{Concurrency: 2, SnapshotsPerSecond: 1000, TwapWindow: 4},
		logger,
	)
	runner.now = func() time.Time { return now }

	outcomes, err := runner.Run(context.Background(), []*strategy.Strategy{triggered, idle, twap, unknown})
	require.NoError(t, err)
	require.Len(t, outcomes, 4)

	assert.NoError(t, outcomes[0].Err)
	require.NotNil(t, outcomes[0].Progress)
	assert.True(t, outcomes[0].Progress.Done())
	assert.Equal(t, strategy.Range{TickLower: 29440, TickUpper: 30464}, triggered.CurrentRange)
	assert.Equal(t, now, triggered.State.LastRebalance)

	assert.NoError(t, outcomes[1].Err)
	assert.Nil(t, outcomes[1].Plan)

	assert.NoError(t, outcomes[2].Err, "twap filled from observations")
	assert.Equal(t, tickAt20, outcomes[2].Decision.ReferenceTick)
	assert.Equal(t, strategy.ActionNone, outcomes[2].Decision.Action)

	assert.ErrorIs(t, outcomes[3].Err, pool.ErrUnknownPool)
	assert.Len(t, sub.landed, 4)
}

func TestRunnerDryRun(t *testing.T) {
	s := newStrategy(7, strategy.PricePercentage{LowerRangeBps: 500, UpperRangeBps: 500}, strategy.Range{TickLower: 0, TickUpper: 640})
	logger, _ := test.NewNullLogger()
	sub := &fakeSubmitter{}
	runner := NewRunner(
		pool.NewStaticSource(snapshotAt(tickAt20)),
		fixedHoldings{A: d("1000"), B: decimal.Zero},
		newPlanner(fakeRouter{price: d("20")}),
		NewExecution(sub, nil, logger),
		RunnerConfig{DryRun: true},
		logger,
	)
	runner.now = func() time.Time { return now }

	outcomes, err := runner.Run(context.Background(), []*strategy.Strategy{s})
	require.NoError(t, err)
	require.NotNil(t, outcomes[0].Plan)
	assert.Nil(t, outcomes[0].Progress)
	assert.Empty(t, sub.landed)
	assert.Equal(t, strategy.Range{TickLower: 0, TickUpper: 640}, s.CurrentRange)
}

func TestRunnerResumesFailedPlan(t *testing.T) {
	s := newStrategy(7, strategy.PricePercentage{LowerRangeBps: 500, UpperRangeBps: 500}, strategy.Range{TickLower: 0, TickUpper: 640})
	logger, _ := test.NewNullLogger()
	sub := &fakeSubmitter{fail: map[StepKind]error{StepSwap: errors.New("blockhash expired")}}
	source := pool.NewStaticSource(snapshotAt(tickAt20))
	runner := NewRunner(
		source,
		fixedHoldings{A: d("1000"), B: decimal.Zero},
		newPlanner(fakeRouter{price: d("20")}),
		NewExecution(sub, journal.NewMemory(), logger),
		RunnerConfig{},
		logger,
	)
	runner.now = func() time.Time { return now }

	outcomes, err := runner.Run(context.Background(), []*strategy.Strategy{s})
	require.NoError(t, err)
	require.Error(t, outcomes[0].Err)
	require.NotNil(t, outcomes[0].Plan)
	firstID := outcomes[0].Plan.ID
	assert.Equal(t, []StepKind{StepClosePosition}, sub.landed)
	assert.Equal(t, strategy.Range{TickLower: 0, TickUpper: 640}, s.CurrentRange)

	retry := snapshotAt(tickAt20)
	retry.FetchedAt = now.Add(time.Second)
	source.Put(retry)
	runner.now = func() time.Time { return now.Add(time.Second) }

	outcomes, err = runner.Run(context.Background(), []*strategy.Strategy{s})
	require.NoError(t, err)
	require.NoError(t, outcomes[0].Err)
	assert.Equal(t, firstID, outcomes[0].Plan.ID)
	require.NotNil(t, outcomes[0].Progress)
	assert.True(t, outcomes[0].Progress.Done())
	assert.Equal(t, []StepKind{StepClosePosition, StepSwap, StepOpenPosition, StepUpdateState}, sub.landed)
	assert.Equal(t, strategy.Range{TickLower: 29440, TickUpper: 30464}, s.CurrentRange)
	assert.Equal(t, now, s.State.LastRebalance)

	outcomes, err = runner.Run(context.Background(), []*strategy.Strategy{s})
	require.NoError(t, err)
	assert.NoError(t, outcomes[0].Err)
	assert.Equal(t, strategy.ActionNone, outcomes[0].Decision.Action)
	assert.Len(t, sub.landed, 4)
}
