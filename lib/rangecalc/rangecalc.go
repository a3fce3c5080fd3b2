package rangecalc

import (
	"errors"
	"fmt"

	cons "github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/constants"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/errs"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/pricemath"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/tickmath"

	"github.com/shopspring/decimal"
)

// PriceRange is a spacing aligned range. The prices are the prices of the
// aligned ticks, not the requested ones.
type PriceRange struct {
	PriceLower decimal.Decimal
	PriceUpper decimal.Decimal
	TickLower  int
	TickUpper  int
	// OutOfRange marks a range that must not be opened: empty after
	// rounding, or built from ticks that were not aligned.
	OutOfRange bool
}

// Contains reports whether tick lies in [TickLower, TickUpper).
func (r PriceRange) Contains(tick int) bool {
	return tick >= r.TickLower && tick < r.TickUpper
}

func (r PriceRange) String() string {
	return fmt.Sprintf("[%d, %d) (%s, %s) out=%t", r.TickLower, r.TickUpper, r.PriceLower, r.PriceUpper, r.OutOfRange)
}

type Calculator struct {
	conv        *pricemath.Converter
	tickSpacing int
}

func New(conv *pricemath.Converter, tickSpacing int) (*Calculator, error) {
	if !conv.Params().SupportsSpacing(tickSpacing) {
		return nil, fmt.Errorf("%s does not support tick spacing %d: %w", conv.Params().Dex, tickSpacing, errs.ErrInvalidConfig)
	}
	return &Calculator{conv: conv, tickSpacing: tickSpacing}, nil
}

func (c *Calculator) Converter() *pricemath.Converter { return c.conv }

func (c *Calculator) TickSpacing() int { return c.tickSpacing }

// FromBps returns the range [price * (1 - lowerBps/10000), price * (1 + upperBps/10000)]
// with the lower bound rounded down and the upper bound rounded up.
func (c *Calculator) FromBps(currentPrice decimal.Decimal, lowerBps, upperBps int) (PriceRange, error) {
	if lowerBps < 0 || upperBps < 0 {
		return PriceRange{}, fmt.Errorf("negative bps (%d, %d): %w", lowerBps, upperBps, errs.ErrInvalidConfig)
	}
	if _, err := c.conv.PriceToTick(currentPrice, tickmath.Down); err != nil {
		return PriceRange{}, err
	}
	priceLower := currentPrice.Mul(decimal.NewFromInt(int64(cons.BasisPointMax - lowerBps))).Shift(-cons.BasisPointDecimals)
	priceUpper := currentPrice.Mul(decimal.NewFromInt(int64(cons.BasisPointMax + upperBps))).Shift(-cons.BasisPointDecimals)

	params := c.conv.Params()
	tickLower := params.MinTick
	if priceLower.IsPositive() {
		t, err := c.clampedTick(priceLower, tickmath.Down)
		if err != nil {
			return PriceRange{}, err
		}
		tickLower = t
	}
	tickUpper, err := c.clampedTick(priceUpper, tickmath.Up)
	if err != nil {
		return PriceRange{}, err
	}
	return c.build(
		params.AlignTick(tickLower, c.tickSpacing, tickmath.Down),
		params.AlignTick(tickUpper, c.tickSpacing, tickmath.Up),
		false,
	)
}

// FromAbsoluteTicks re-aligns the ticks to the spacing. Misaligned input is
// flagged OutOfRange rather than silently accepted.
func (c *Calculator) FromAbsoluteTicks(tickLower, tickUpper int) (PriceRange, error) {
	params := c.conv.Params()
	if err := params.CheckTick(tickLower); err != nil {
		return PriceRange{}, err
	}
	if err := params.CheckTick(tickUpper); err != nil {
		return PriceRange{}, err
	}
	misaligned := !tickmath.IsAligned(tickLower, c.tickSpacing) || !tickmath.IsAligned(tickUpper, c.tickSpacing)
	return c.build(
		params.AlignTick(tickLower, c.tickSpacing, tickmath.Down),
		params.AlignTick(tickUpper, c.tickSpacing, tickmath.Up),
		misaligned,
	)
}

func (c *Calculator) FromAbsolutePrices(priceLower, priceUpper decimal.Decimal) (PriceRange, error) {
	tickLower, err := c.conv.PriceToTick(priceLower, tickmath.Down)
	if err != nil {
		return PriceRange{}, err
	}
	tickUpper, err := c.conv.PriceToTick(priceUpper, tickmath.Up)
	if err != nil {
		return PriceRange{}, err
	}
	params := c.conv.Params()
	return c.build(
		params.AlignTick(tickLower, c.tickSpacing, tickmath.Down),
		params.AlignTick(tickUpper, c.tickSpacing, tickmath.Up),
		false,
	)
}

// clampedTick converts a derived bound, clamping it to the DEX bounds when
// the band reaches past them.
func (c *Calculator) clampedTick(price decimal.Decimal, dir tickmath.Direction) (int, error) {
	tick, err := c.conv.PriceToTick(price, dir)
	if err == nil {
		return tick, nil
	}
	if !errors.Is(err, errs.ErrPriceOutOfDomain) {
		return 0, err
	}
	params := c.conv.Params()
	lowest, lerr := c.conv.TickToPrice(params.MinTick)
	if lerr != nil {
		return 0, lerr
	}
	if price.LessThan(lowest) {
		return params.MinTick, nil
	}
	return params.MaxTick, nil
}

func (c *Calculator) build(tickLower, tickUpper int, outOfRange bool) (PriceRange, error) {
	priceLower, err := c.conv.TickToPrice(tickLower)
	if err != nil {
		return PriceRange{}, err
	}
	priceUpper, err := c.conv.TickToPrice(tickUpper)
	if err != nil {
		return PriceRange{}, err
	}
	return PriceRange{
		PriceLower: priceLower,
		PriceUpper: priceUpper,
		TickLower:  tickLower,
		TickUpper:  tickUpper,
		OutOfRange: outOfRange || tickLower >= tickUpper,
	}, nil
}
