package strategy

// PricePercentage and PricePercentageWithReset trigger once the reference
// tick leaves the current range and recenter around the reference price.

func evaluatePricePercentage(ev *evaluation, c PricePercentage) (Decision, error) {
	if !ev.outOfRange() {
		return ev.decision(ActionNone, "in range"), nil
	}
	r, err := ev.calc.FromBps(ev.price, c.LowerRangeBps, c.UpperRangeBps)
	if err != nil {
		return Decision{}, err
	}
	return ev.rebalance(r, "reference tick out of range"), nil
}

func evaluatePricePercentageWithReset(ev *evaluation, c PricePercentageWithReset) (Decision, error) {
	if !ev.outOfRange() {
		return ev.decision(ActionNone, "in range"), nil
	}
	r, err := ev.calc.FromBps(ev.price, c.ResetLowerRangeBps, c.ResetUpperRangeBps)
	if err != nil {
		return Decision{}, err
	}
	return ev.rebalance(r, "reference tick out of range, reset band"), nil
}
