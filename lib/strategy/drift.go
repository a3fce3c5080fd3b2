package strategy

import (
	"fmt"
	"time"

	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/rangecalc"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/tickmath"
)

// driftSteps is the number of whole SecondsPerTick periods since the last
// rebalance.
func (c Drift) driftSteps(lastRebalance, now time.Time) int64 {
	if lastRebalance.IsZero() || !now.After(lastRebalance) {
		return 0
	}
	return int64(now.Sub(lastRebalance)/time.Second) / c.SecondsPerTick
}

// midTick moves StartMidTick one tick per SecondsPerTick since the last
// rebalance.
func (c Drift) midTick(lastRebalance, now time.Time) int {
	return c.StartMidTick + c.Direction.sign()*int(c.driftSteps(lastRebalance, now))
}

// nextAnchor advances the drift anchor by whole periods only, so the
// remainder carries into the next rebalance.
func (c Drift) nextAnchor(lastRebalance, now time.Time) time.Time {
	if lastRebalance.IsZero() {
		return now
	}
	steps := c.driftSteps(lastRebalance, now)
	return lastRebalance.Add(time.Duration(steps*c.SecondsPerTick) * time.Second)
}

func driftRange(ev *evaluation, c Drift) (rangecalc.PriceRange, int, error) {
	mid := c.midTick(ev.strategy.State.LastRebalance, ev.now)
	params := ev.calc.Converter().Params()
	spacing := ev.calc.TickSpacing()
	lower := params.AlignTick(mid-c.TicksBelowMid, spacing, tickmath.Down)
	upper := params.AlignTick(mid+c.TicksAboveMid, spacing, tickmath.Up)
	r, err := ev.calc.FromAbsoluteTicks(lower, upper)
	return r, mid, err
}

func evaluateDrift(ev *evaluation, c Drift) (Decision, error) {
	r, mid, err := driftRange(ev, c)
	if err != nil {
		return Decision{}, err
	}
	current := ev.strategy.CurrentRange
	if r.TickLower == current.TickLower && r.TickUpper == current.TickUpper {
		return ev.decision(ActionNone, fmt.Sprintf("mid tick %d keeps the range", mid)), nil
	}
	d := ev.rebalance(r, fmt.Sprintf("mid tick drifted to %d", mid))
	if d.Action == ActionRebalance {
		next := c
		next.StartMidTick = mid
		d.NextConfig = next
		d.NextState.LastRebalance = c.nextAnchor(ev.strategy.State.LastRebalance, ev.now)
	}
	return d, nil
}
