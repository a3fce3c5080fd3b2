package strategy

import "fmt"

// TakeProfit exits into one token once the price leaves the band, then
// hands the strategy over to Manual so it never fires again.
func evaluateTakeProfit(ev *evaluation, c TakeProfit) (Decision, error) {
	if !ev.price.LessThan(c.LowerPrice) && !ev.price.GreaterThan(c.UpperPrice) {
		return ev.decision(ActionNone, "price inside take profit band"), nil
	}
	d := ev.decision(ActionExit, fmt.Sprintf("price %s outside [%s, %s]", ev.price, c.LowerPrice, c.UpperPrice))
	d.DestinationToken = c.DestinationToken
	d.NextConfig = Manual{}
	d.NextState = State{LastRebalance: ev.now}
	return d, nil
}
