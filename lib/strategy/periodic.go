package strategy

import "time"

func evaluatePeriodic(ev *evaluation, c PeriodicRebalance) (Decision, error) {
	last := ev.strategy.State.LastRebalance
	if !last.IsZero() && ev.now.Sub(last) < time.Duration(c.PeriodSeconds)*time.Second {
		return ev.decision(ActionNone, "period not elapsed"), nil
	}
	if ev.opts.RequireOutOfRange && !ev.outOfRange() {
		return ev.decision(ActionNone, "period elapsed, still in range"), nil
	}
	r, err := ev.calc.FromBps(ev.price, c.LowerRangeBps, c.UpperRangeBps)
	if err != nil {
		return Decision{}, err
	}
	return ev.rebalance(r, "period elapsed"), nil
}
