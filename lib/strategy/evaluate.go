package strategy

import (
	"fmt"
	"time"

	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/errs"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/pool"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/rangecalc"

	"github.com/shopspring/decimal"
)

// Options carries the caller's thresholds. Zero values disable a check.
type Options struct {
	MaxSnapshotAge time.Duration
	MaxTwapAge     time.Duration
	// RequireOutOfRange gates PeriodicRebalance on the reference tick having
	// left the current range as well.
	RequireOutOfRange bool
}

type evaluation struct {
	strategy *Strategy
	snapshot *pool.Snapshot
	calc     *rangecalc.Calculator
	tick     int
	price    decimal.Decimal
	now      time.Time
	opts     Options
}

func prepare(s *Strategy, snap *pool.Snapshot, now time.Time, opts Options) (*evaluation, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if snap.Address != s.Pool || snap.Dex != s.Dex || snap.BinStep != s.BinStep {
		return nil, fmt.Errorf("snapshot of %s pool %s does not match strategy %s: %w", snap.Dex, snap.Address, s.Address, errs.ErrInvalidConfig)
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	if err := snap.CheckAge(now, opts.MaxSnapshotAge); err != nil {
		return nil, err
	}
	if s.CurrentRange != (Range{}) {
		if err := s.CurrentRange.Validate(snap.TickSpacing); err != nil {
			return nil, fmt.Errorf("strategy %s: %w", s.Address, err)
		}
	}

	tick := snap.CurrentTick
	if s.ReferencePrice == ReferenceTwap {
		var err error
		if tick, err = snap.TwapTick(now, opts.MaxTwapAge); err != nil {
			return nil, err
		}
	}
	conv, err := s.Converter()
	if err != nil {
		return nil, err
	}
	calc, err := rangecalc.New(conv, snap.TickSpacing)
	if err != nil {
		return nil, err
	}
	price, err := conv.TickToPrice(tick)
	if err != nil {
		return nil, err
	}
	return &evaluation{
		strategy: s,
		snapshot: snap,
		calc:     calc,
		tick:     tick,
		price:    price,
		now:      now,
		opts:     opts,
	}, nil
}

func (ev *evaluation) decision(action Action, reason string) Decision {
	return Decision{
		Action:         action,
		Kind:           ev.strategy.Config.Kind(),
		ReferenceTick:  ev.tick,
		ReferencePrice: ev.price,
		NextConfig:     ev.strategy.Config,
		NextState:      ev.strategy.State,
		Reason:         reason,
	}
}

func (ev *evaluation) outOfRange() bool {
	return !ev.strategy.CurrentRange.Contains(ev.tick)
}

// rebalance builds a rebalance decision, or NoAction when the new range came
// out degenerate.
func (ev *evaluation) rebalance(r rangecalc.PriceRange, reason string) Decision {
	if r.OutOfRange {
		d := ev.decision(ActionNone, "new range "+r.String()+" is degenerate")
		d.Range = r
		return d
	}
	d := ev.decision(ActionRebalance, reason)
	d.Range = r
	d.NextState = State{LastRebalance: ev.now}
	return d
}

// Evaluate decides whether the strategy should rebalance now. It reads only
// its arguments and never mutates the strategy.
func Evaluate(s *Strategy, snap *pool.Snapshot, now time.Time, opts Options) (Decision, error) {
	ev, err := prepare(s, snap, now, opts)
	if err != nil {
		return Decision{}, err
	}
	switch c := s.Config.(type) {
	case Manual:
		return ev.decision(ActionNone, "manual"), nil
	case PricePercentage:
		return evaluatePricePercentage(ev, c)
	case PricePercentageWithReset:
		return evaluatePricePercentageWithReset(ev, c)
	case Drift:
		return evaluateDrift(ev, c)
	case TakeProfit:
		return evaluateTakeProfit(ev, c)
	case PeriodicRebalance:
		return evaluatePeriodic(ev, c)
	case Expander:
		return evaluateExpander(ev, c)
	}
	return Decision{}, fmt.Errorf("rebalance config %T: %w", s.Config, errs.ErrUnsupported)
}

// NewRange returns the range the strategy would move to if it were
// triggered now, without checking the trigger.
func NewRange(s *Strategy, snap *pool.Snapshot, now time.Time, opts Options) (rangecalc.PriceRange, error) {
	ev, err := prepare(s, snap, now, opts)
	if err != nil {
		return rangecalc.PriceRange{}, err
	}
	switch c := s.Config.(type) {
	case Manual:
		return ev.calc.FromAbsoluteTicks(s.CurrentRange.TickLower, s.CurrentRange.TickUpper)
	case PricePercentage:
		return ev.calc.FromBps(ev.price, c.LowerRangeBps, c.UpperRangeBps)
	case PricePercentageWithReset:
		return ev.calc.FromBps(ev.price, c.ResetLowerRangeBps, c.ResetUpperRangeBps)
	case Drift:
		r, _, err := driftRange(ev, c)
		return r, err
	case TakeProfit:
		return ev.calc.FromAbsolutePrices(c.LowerPrice, c.UpperPrice)
	case PeriodicRebalance:
		return ev.calc.FromBps(ev.price, c.LowerRangeBps, c.UpperRangeBps)
	case Expander:
		r, _, err := expanderRange(ev, c)
		return r, err
	}
	return rangecalc.PriceRange{}, fmt.Errorf("rebalance config %T: %w", s.Config, errs.ErrUnsupported)
}
