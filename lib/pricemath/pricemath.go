package pricemath

import (
	"fmt"

	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/dex"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/errs"
	sqrtmath "github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/sqrtprice_math"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/tickmath"

	ui "github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

const maxDecimals = 30

// curve maps ticks to raw prices (token B lamports per token A lamport) for
// one DEX family.
type curve interface {
	priceAt(tick int) (decimal.Decimal, error)
	// floorTick returns the largest tick whose price is <= raw.
	floorTick(raw decimal.Decimal) (int, error)
	sqrtPriceAt(tick int) (*ui.Int, error)
	tickAtSqrtPrice(sqrtPriceX64 *ui.Int) (int, error)
}

// Converter converts between human prices (token B per token A in UI
// units), Q64.64 sqrt prices and tick indexes for one pool.
type Converter struct {
	params    dex.Params
	decimalsA int
	decimalsB int
	curve     curve
}

func New(params dex.Params, decimalsA, decimalsB int) (*Converter, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if decimalsA < 0 || decimalsA > maxDecimals || decimalsB < 0 || decimalsB > maxDecimals {
		return nil, fmt.Errorf("token decimals (%d, %d) outside [0, %d]: %w", decimalsA, decimalsB, maxDecimals, errs.ErrInvalidConfig)
	}
	c := &Converter{params: params, decimalsA: decimalsA, decimalsB: decimalsB}
	if params.NativeSqrtPrice {
		c.curve = sqrtCurve{minTick: params.MinTick, maxTick: params.MaxTick}
	} else {
		c.curve = newBinCurve(params)
	}
	return c, nil
}

func (c *Converter) Params() dex.Params { return c.params }

func (c *Converter) Decimals() (int, int) { return c.decimalsA, c.decimalsB }

func (c *Converter) toRaw(price decimal.Decimal) decimal.Decimal {
	return price.Shift(int32(c.decimalsB - c.decimalsA))
}

func (c *Converter) toHuman(raw decimal.Decimal) decimal.Decimal {
	return raw.Shift(int32(c.decimalsA - c.decimalsB))
}

// TickToPrice returns the human price at tick.
func (c *Converter) TickToPrice(tick int) (decimal.Decimal, error) {
	if err := c.params.CheckTick(tick); err != nil {
		return decimal.Zero, err
	}
	raw, err := c.curve.priceAt(tick)
	if err != nil {
		return decimal.Zero, err
	}
	return c.toHuman(raw), nil
}

// PriceToTick returns the tick of a human price. Down gives the largest
// tick at or below the price, Up the smallest tick at or above it.
func (c *Converter) PriceToTick(price decimal.Decimal, dir tickmath.Direction) (int, error) {
	if !price.IsPositive() {
		return 0, fmt.Errorf("price %s: %w", price, errs.ErrPriceOutOfDomain)
	}
	raw := c.toRaw(price)
	floor, err := c.curve.floorTick(raw)
	if err != nil {
		return 0, err
	}
	if dir == tickmath.Down {
		return floor, nil
	}
	atFloor, err := c.curve.priceAt(floor)
	if err != nil {
		return 0, err
	}
	if atFloor.Equal(raw) {
		return floor, nil
	}
	if floor == c.params.MaxTick {
		if dir == tickmath.Up {
			return 0, fmt.Errorf("price %s above tick %d: %w", price, floor, errs.ErrPriceOutOfDomain)
		}
		return floor, nil
	}
	if dir == tickmath.Up {
		return floor + 1, nil
	}
	atNext, err := c.curve.priceAt(floor + 1)
	if err != nil {
		return 0, err
	}
	if raw.Sub(atFloor).LessThan(atNext.Sub(raw)) {
		return floor, nil
	}
	return floor + 1, nil
}

func (c *Converter) TickToSqrtPriceX64(tick int) (*ui.Int, error) {
	if err := c.params.CheckTick(tick); err != nil {
		return nil, err
	}
	return c.curve.sqrtPriceAt(tick)
}

// SqrtPriceX64ToTick returns the largest tick whose sqrt price is <= sqrtPriceX64.
func (c *Converter) SqrtPriceX64ToTick(sqrtPriceX64 *ui.Int) (int, error) {
	if sqrtPriceX64 == nil || sqrtPriceX64.IsZero() {
		return 0, fmt.Errorf("zero sqrt price: %w", errs.ErrPriceOutOfDomain)
	}
	return c.curve.tickAtSqrtPrice(sqrtPriceX64)
}

func (c *Converter) SqrtPriceX64ToPrice(sqrtPriceX64 *ui.Int) decimal.Decimal {
	return c.toHuman(sqrtmath.GetPrice(sqrtPriceX64))
}

func (c *Converter) PriceToSqrtPriceX64(price decimal.Decimal) (*ui.Int, error) {
	sqrtPriceX64, ok := sqrtmath.GetSqrtPrice(c.toRaw(price))
	if !ok {
		return nil, fmt.Errorf("price %s: %w", price, errs.ErrPriceOutOfDomain)
	}
	return sqrtPriceX64, nil
}

type sqrtCurve struct {
	minTick, maxTick int
}

func (s sqrtCurve) priceAt(tick int) (decimal.Decimal, error) {
	sqrtPriceX64, err := tickmath.SqrtPriceAtTick(tick)
	if err != nil {
		return decimal.Zero, err
	}
	return sqrtmath.GetPrice(sqrtPriceX64), nil
}

func (s sqrtCurve) floorTick(raw decimal.Decimal) (int, error) {
	sqrtPriceX64, ok := sqrtmath.GetSqrtPrice(raw)
	if !ok {
		return 0, fmt.Errorf("raw price %s: %w", raw, errs.ErrPriceOutOfDomain)
	}
	return s.tickAtSqrtPrice(sqrtPriceX64)
}

func (s sqrtCurve) sqrtPriceAt(tick int) (*ui.Int, error) {
	return tickmath.SqrtPriceAtTick(tick)
}

func (s sqrtCurve) tickAtSqrtPrice(sqrtPriceX64 *ui.Int) (int, error) {
	return tickmath.TickAtSqrtPrice(sqrtPriceX64, s.minTick, s.maxTick)
}
