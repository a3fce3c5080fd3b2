package strategy

import (
	"fmt"

	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/errs"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/rangecalc"
)

// expanderRange widens the reset band by one more ExpansionBps per trigger.
// After MaxExpansions widenings it falls back to the reset band and the
// counter starts over.
func expanderRange(ev *evaluation, c Expander) (rangecalc.PriceRange, int, error) {
	k := ev.strategy.State.ExpansionCount
	if k < 0 {
		return rangecalc.PriceRange{}, 0, fmt.Errorf("%s: expansion count %d: %w", c.Kind(), k, errs.ErrInvalidConfig)
	}
	next := 0
	if k < c.MaxExpansions {
		next = k + 1
	}
	lower, upper := c.band(next)
	r, err := ev.calc.FromBps(ev.price, lower, upper)
	return r, next, err
}

func evaluateExpander(ev *evaluation, c Expander) (Decision, error) {
	if !ev.outOfRange() {
		return ev.decision(ActionNone, "in range"), nil
	}
	r, next, err := expanderRange(ev, c)
	if err != nil {
		return Decision{}, err
	}
	d := ev.rebalance(r, fmt.Sprintf("reference tick out of range, expansion %d/%d", next, c.MaxExpansions))
	if d.Action == ActionRebalance {
		d.NextState.ExpansionCount = next
	}
	d.SwapUnevenAllowed = c.SwapUnevenAllowed
	return d, nil
}
