package strategy

import (
	"fmt"

	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/rangecalc"

	"github.com/shopspring/decimal"
)

type Action uint8

const (
	ActionNone Action = iota
	ActionRebalance
	ActionExit
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionRebalance:
		return "rebalance"
	case ActionExit:
		return "exit"
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

// Decision is the result of one evaluation.
//
//   - ActionNone: nothing to do. Range may still hold the range that was
//     considered, e.g. when it came out degenerate.
//   - ActionRebalance: move liquidity to Range, then store NextConfig and
//     NextState on chain.
//   - ActionExit: withdraw everything into DestinationToken and store
//     NextConfig.
type Decision struct {
	Action            Action
	Kind              Kind
	ReferenceTick     int
	ReferencePrice    decimal.Decimal
	Range             rangecalc.PriceRange
	DestinationToken  TokenSide
	SwapUnevenAllowed bool
	NextConfig        RebalanceConfig
	NextState         State
	Reason            string
}

func (d Decision) Triggered() bool {
	return d.Action != ActionNone
}
