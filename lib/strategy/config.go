package strategy

import (
	"fmt"

	cons "github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/constants"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/errs"

	"github.com/shopspring/decimal"
)

type Kind uint8

const (
	KindManual Kind = iota
	KindPricePercentage
	KindPricePercentageWithReset
	KindDrift
	KindTakeProfit
	KindPeriodicRebalance
	KindExpander
)

var kindNames = [...]string{
	KindManual:                   "Manual",
	KindPricePercentage:          "PricePercentage",
	KindPricePercentageWithReset: "PricePercentageWithReset",
	KindDrift:                    "Drift",
	KindTakeProfit:               "TakeProfit",
	KindPeriodicRebalance:        "PeriodicRebalance",
	KindExpander:                 "Expander",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown rebalance method %q: %w", s, errs.ErrInvalidConfig)
}

// TokenSide selects token A (0) or token B (1).
type TokenSide uint8

const (
	SideA TokenSide = iota
	SideB
)

func (t TokenSide) String() string {
	if t == SideA {
		return "A"
	}
	return "B"
}

type DriftDirection uint8

const (
	DriftDown DriftDirection = iota
	DriftUp
)

func (d DriftDirection) sign() int {
	if d == DriftUp {
		return 1
	}
	return -1
}

// RebalanceConfig is one of Manual, PricePercentage,
// PricePercentageWithReset, Drift, TakeProfit, PeriodicRebalance or
// Expander. The set is closed.
type RebalanceConfig interface {
	Kind() Kind
	Validate() error
	isRebalanceConfig()
}

type Manual struct{}

type PricePercentage struct {
	LowerRangeBps int
	UpperRangeBps int
}

type PricePercentageWithReset struct {
	LowerRangeBps      int
	UpperRangeBps      int
	ResetLowerRangeBps int
	ResetUpperRangeBps int
}

type Drift struct {
	StartMidTick   int
	TicksBelowMid  int
	TicksAboveMid  int
	SecondsPerTick int64
	Direction      DriftDirection
}

type TakeProfit struct {
	LowerPrice       decimal.Decimal
	UpperPrice       decimal.Decimal
	DestinationToken TokenSide
}

type PeriodicRebalance struct {
	PeriodSeconds int64
	LowerRangeBps int
	UpperRangeBps int
}

type Expander struct {
	LowerRangeBps      int
	UpperRangeBps      int
	ResetLowerRangeBps int
	ResetUpperRangeBps int
	ExpansionBps       int
	MaxExpansions      int
	SwapUnevenAllowed  bool
}

func (Manual) Kind() Kind                   { return KindManual }
func (PricePercentage) Kind() Kind          { return KindPricePercentage }
func (PricePercentageWithReset) Kind() Kind { return KindPricePercentageWithReset }
func (Drift) Kind() Kind                    { return KindDrift }
func (TakeProfit) Kind() Kind               { return KindTakeProfit }
func (PeriodicRebalance) Kind() Kind        { return KindPeriodicRebalance }
func (Expander) Kind() Kind                 { return KindExpander }

func (Manual) isRebalanceConfig()                   {}
func (PricePercentage) isRebalanceConfig()          {}
func (PricePercentageWithReset) isRebalanceConfig() {}
func (Drift) isRebalanceConfig()                    {}
func (TakeProfit) isRebalanceConfig()               {}
func (PeriodicRebalance) isRebalanceConfig()        {}
func (Expander) isRebalanceConfig()                 {}

// validateBand rejects negative bps and bands whose two sides cover the
// whole price.
func validateBand(kind Kind, name string, lowerBps, upperBps int) error {
	if lowerBps < 0 || upperBps < 0 {
		return fmt.Errorf("%s: negative %s (%d, %d): %w", kind, name, lowerBps, upperBps, errs.ErrInvalidConfig)
	}
	if lowerBps+upperBps >= cons.BasisPointMax {
		return fmt.Errorf("%s: %s %d + %d >= %d: %w", kind, name, lowerBps, upperBps, cons.BasisPointMax, errs.ErrInvalidConfig)
	}
	return nil
}

func (Manual) Validate() error { return nil }

func (c PricePercentage) Validate() error {
	return validateBand(c.Kind(), "range bps", c.LowerRangeBps, c.UpperRangeBps)
}

func (c PricePercentageWithReset) Validate() error {
	if err := validateBand(c.Kind(), "range bps", c.LowerRangeBps, c.UpperRangeBps); err != nil {
		return err
	}
	return validateBand(c.Kind(), "reset range bps", c.ResetLowerRangeBps, c.ResetUpperRangeBps)
}

func (c Drift) Validate() error {
	if c.SecondsPerTick <= 0 {
		return fmt.Errorf("%s: seconds per tick must be positive, got %d: %w", c.Kind(), c.SecondsPerTick, errs.ErrInvalidConfig)
	}
	if c.TicksBelowMid < 0 || c.TicksAboveMid < 0 || c.TicksBelowMid+c.TicksAboveMid == 0 {
		return fmt.Errorf("%s: ticks below/above mid (%d, %d): %w", c.Kind(), c.TicksBelowMid, c.TicksAboveMid, errs.ErrInvalidConfig)
	}
	if c.Direction > DriftUp {
		return fmt.Errorf("%s: direction %d: %w", c.Kind(), c.Direction, errs.ErrInvalidConfig)
	}
	return nil
}

func (c TakeProfit) Validate() error {
	if !c.LowerPrice.IsPositive() || !c.UpperPrice.GreaterThan(c.LowerPrice) {
		return fmt.Errorf("%s: prices (%s, %s): %w", c.Kind(), c.LowerPrice, c.UpperPrice, errs.ErrInvalidConfig)
	}
	if c.DestinationToken > SideB {
		return fmt.Errorf("%s: destination token %d: %w", c.Kind(), c.DestinationToken, errs.ErrInvalidConfig)
	}
	return nil
}

func (c PeriodicRebalance) Validate() error {
	if c.PeriodSeconds <= 0 {
		return fmt.Errorf("%s: period must be positive, got %d: %w", c.Kind(), c.PeriodSeconds, errs.ErrInvalidConfig)
	}
	return validateBand(c.Kind(), "range bps", c.LowerRangeBps, c.UpperRangeBps)
}

func (c Expander) Validate() error {
	if err := validateBand(c.Kind(), "range bps", c.LowerRangeBps, c.UpperRangeBps); err != nil {
		return err
	}
	if err := validateBand(c.Kind(), "reset range bps", c.ResetLowerRangeBps, c.ResetUpperRangeBps); err != nil {
		return err
	}
	if c.ExpansionBps <= 0 || c.MaxExpansions < 0 {
		return fmt.Errorf("%s: expansion bps %d, max expansions %d: %w", c.Kind(), c.ExpansionBps, c.MaxExpansions, errs.ErrInvalidConfig)
	}
	// the widest band must still be valid
	lower, upper := c.band(c.MaxExpansions)
	return validateBand(c.Kind(), "expanded range bps", lower, upper)
}

// band is the reset band widened n times.
func (c Expander) band(n int) (lowerBps, upperBps int) {
	return c.ResetLowerRangeBps + n*c.ExpansionBps, c.ResetUpperRangeBps + n*c.ExpansionBps
}
