package executor

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/deposit"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/errs"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/pool"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/pricemath"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/rangecalc"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/strategy"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	ErrNoAction         = errors.New("decision has no action")
	ErrSlippageExceeded = errors.New("quote below minimum receive")
)

// planNamespace seeds the name based plan ids.
var planNamespace = uuid.MustParse("5f0c8d7e-2b1a-4c3e-9d6f-8a7b6c5d4e3f")

type StepKind uint8

const (
	StepClosePosition StepKind = iota
	StepSwap
	StepOpenPosition
	StepUpdateState
)

func (k StepKind) String() string {
	switch k {
	case StepClosePosition:
		return "close_position"
	case StepSwap:
		return "swap"
	case StepOpenPosition:
		return "open_position"
	case StepUpdateState:
		return "update_state"
	}
	return fmt.Sprintf("step(%d)", uint8(k))
}

// InstructionBuilder encodes the program instructions of one DEX. Plans call
// it only when a step is built.
type InstructionBuilder interface {
	ClosePosition(ctx context.Context, s *strategy.Strategy) ([]solana.Instruction, error)
	OpenPosition(ctx context.Context, s *strategy.Strategy, r rangecalc.PriceRange) ([]solana.Instruction, error)
	UpdateRebalanceState(ctx context.Context, s *strategy.Strategy, cfg strategy.RebalanceConfig, st strategy.State) ([]solana.Instruction, error)
}

type Quote struct {
	OutAmount    decimal.Decimal
	Instructions []solana.Instruction
}

// SwapRouter quotes and routes swaps, e.g. through an aggregator.
type SwapRouter interface {
	Quote(ctx context.Context, sellMint, buyMint solana.PublicKey, amount decimal.Decimal, slippageBps int) (Quote, error)
}

type Step struct {
	Index int
	Kind  StepKind
	build func(ctx context.Context) ([]solana.Instruction, error)
}

func (s Step) Build(ctx context.Context) ([]solana.Instruction, error) {
	return s.build(ctx)
}

// Holdings are the token amounts the strategy holds once its position is
// closed, in UI units.
type Holdings struct {
	A decimal.Decimal
	B decimal.Decimal
}

// Plan is an ordered rebalance. Close comes before swap, swap before open,
// and the state update is always last.
type Plan struct {
	ID          uuid.UUID
	Strategy    solana.PublicKey
	Action      strategy.Action
	Range       rangecalc.PriceRange
	Swap        deposit.Plan
	LookupTable *solana.PublicKey
	Steps       []Step
}

func (p *Plan) Kinds() []StepKind {
	out := make([]StepKind, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Kind
	}
	return out
}

type PlannerConfig struct {
	SlippageBps  int
	MinSwapValue decimal.Decimal
}

type Planner struct {
	builder InstructionBuilder
	router  SwapRouter
	math    deposit.LiquidityMath
	cfg     PlannerConfig
	log     logrus.FieldLogger
}

func NewPlanner(builder InstructionBuilder, router SwapRouter, math deposit.LiquidityMath, cfg PlannerConfig, log logrus.FieldLogger) *Planner {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Planner{builder: builder, router: router, math: math, cfg: cfg, log: log}
}

// PlanRebalance turns a decision into an ordered plan. It has no side
// effects: instructions are only built when the steps run. The same inputs
// always give the same plan id.
func (p *Planner) PlanRebalance(s *strategy.Strategy, snap *pool.Snapshot, d strategy.Decision, held Holdings) (*Plan, error) {
	if !d.Triggered() {
		return nil, fmt.Errorf("strategy %s: %w", s.Address, ErrNoAction)
	}
	if d.Action == strategy.ActionRebalance && d.Range.OutOfRange {
		return nil, fmt.Errorf("strategy %s: target %s: %w", s.Address, d.Range, errs.ErrInvalidConfig)
	}
	conv, err := s.Converter()
	if err != nil {
		return nil, err
	}
	price, err := poolPrice(snap, conv)
	if err != nil {
		return nil, err
	}
	balancer := deposit.New(conv, p.math, p.log)

	var swap deposit.Plan
	switch d.Action {
	case strategy.ActionRebalance:
		var opts []deposit.Option
		if d.SwapUnevenAllowed {
			opts = append(opts, deposit.AllowUneven(p.cfg.MinSwapValue))
		}
		swap, err = balancer.PlanDeposit(held.A, held.B, d.Range, price, p.cfg.SlippageBps, opts...)
	case strategy.ActionExit:
		swap, err = balancer.PlanExit(held.A, held.B, price, d.DestinationToken, p.cfg.SlippageBps)
	default:
		return nil, fmt.Errorf("action %s: %w", d.Action, errs.ErrUnsupported)
	}
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %w", s.Address, err)
	}

	plan := &Plan{
		ID:          planID(s, snap, d, held),
		Strategy:    s.Address,
		Action:      d.Action,
		Range:       d.Range,
		Swap:        swap,
		LookupTable: s.LookupTable,
	}
	if s.CurrentRange != (strategy.Range{}) {
		plan.add(StepClosePosition, func(ctx context.Context) ([]solana.Instruction, error) {
			return p.builder.ClosePosition(ctx, s)
		})
	}
	if !swap.IsEmpty() {
		plan.add(StepSwap, func(ctx context.Context) ([]solana.Instruction, error) {
			return p.swapInstructions(ctx, s, swap)
		})
	}
	if d.Action == strategy.ActionRebalance {
		r := d.Range
		plan.add(StepOpenPosition, func(ctx context.Context) ([]solana.Instruction, error) {
			return p.builder.OpenPosition(ctx, s, r)
		})
	}
	nextConfig, nextState := d.NextConfig, d.NextState
	plan.add(StepUpdateState, func(ctx context.Context) ([]solana.Instruction, error) {
		return p.builder.UpdateRebalanceState(ctx, s, nextConfig, nextState)
	})

	p.log.WithFields(logrus.Fields{
		"strategy": s.Address.String(),
		"plan":     plan.ID.String(),
		"action":   d.Action.String(),
		"steps":    len(plan.Steps),
	}).Debug("planned rebalance")
	return plan, nil
}

func (p *Plan) add(kind StepKind, build func(ctx context.Context) ([]solana.Instruction, error)) {
	p.Steps = append(p.Steps, Step{Index: len(p.Steps), Kind: kind, build: build})
}

func (p *Planner) swapInstructions(ctx context.Context, s *strategy.Strategy, swap deposit.Plan) ([]solana.Instruction, error) {
	if p.router == nil {
		return nil, fmt.Errorf("no swap router: %w", errs.ErrUnsupported)
	}
	sell, buy := s.TokenB().Mint, s.TokenA().Mint
	if swap.SellsA() {
		sell, buy = buy, sell
	}
	quote, err := p.router.Quote(ctx, sell, buy, swap.SellAmount(), p.cfg.SlippageBps)
	if err != nil {
		return nil, fmt.Errorf("quote %s %s -> %s: %w", swap.SellAmount(), sell, buy, err)
	}
	if quote.OutAmount.LessThan(swap.MinReceive()) {
		return nil, fmt.Errorf("quoted %s, need %s: %w", quote.OutAmount, swap.MinReceive(), ErrSlippageExceeded)
	}
	return quote.Instructions, nil
}

// poolPrice is the price swaps execute at: the pool sqrt price when the
// snapshot carries one, else the price of the current tick.
func poolPrice(snap *pool.Snapshot, conv *pricemath.Converter) (decimal.Decimal, error) {
	if snap.SqrtPriceX64 != nil && !snap.SqrtPriceX64.IsZero() {
		return conv.SqrtPriceX64ToPrice(snap.SqrtPriceX64), nil
	}
	return conv.TickToPrice(snap.CurrentTick)
}

// planID hashes the strategy, its target and its holdings. Snapshot time
// and tick are left out so a replan of the same rebalance after a restart
// finds its journal entry.
func planID(s *strategy.Strategy, snap *pool.Snapshot, d strategy.Decision, held Holdings) uuid.UUID {
	buf := make([]byte, 0, 160)
	buf = append(buf, s.Address[:]...)
	buf = append(buf, snap.Address[:]...)
	buf = append(buf, byte(d.Kind))
	buf = append(buf, byte(d.Action), byte(d.DestinationToken))
	buf = binary.BigEndian.AppendUint64(buf, uint64(int64(d.Range.TickLower)))
	buf = binary.BigEndian.AppendUint64(buf, uint64(int64(d.Range.TickUpper)))
	buf = append(buf, held.A.String()...)
	buf = append(buf, '/')
	buf = append(buf, held.B.String()...)
	return uuid.NewSHA1(planNamespace, buf)
}
