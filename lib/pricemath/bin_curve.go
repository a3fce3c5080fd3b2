package pricemath

import (
	"fmt"
	"math"
	"math/big"

	cons "github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/constants"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/dex"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/errs"
	sqrtmath "github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/sqrtprice_math"

	ui "github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

const (
	binPrecision = 256
	binDigits    = 60
)

// binCurve prices Meteora bins: price = (1 + binStep/10000)^binId.
type binCurve struct {
	base             *big.Float
	lnBase           float64
	minTick, maxTick int
}

func newBinCurve(params dex.Params) binCurve {
	base := new(big.Float).SetPrec(binPrecision).SetInt64(int64(cons.BasisPointMax + params.BaseBps))
	base.Quo(base, new(big.Float).SetPrec(binPrecision).SetInt64(cons.BasisPointMax))
	return binCurve{
		base:    base,
		lnBase:  math.Log1p(float64(params.BaseBps) / cons.BasisPointMax),
		minTick: params.MinTick,
		maxTick: params.MaxTick,
	}
}

func (b binCurve) pow(tick int) *big.Float {
	n := tick
	if n < 0 {
		n = -n
	}
	result := new(big.Float).SetPrec(binPrecision).SetInt64(1)
	sq := new(big.Float).SetPrec(binPrecision).Set(b.base)
	for ; n > 0; n >>= 1 {
		if n&1 == 1 {
			result.Mul(result, sq)
		}
		sq.Mul(sq, sq)
	}
	if tick < 0 {
		result.Quo(new(big.Float).SetPrec(binPrecision).SetInt64(1), result)
	}
	return result
}

func (b binCurve) priceAt(tick int) (decimal.Decimal, error) {
	if tick < b.minTick || tick > b.maxTick {
		return decimal.Zero, fmt.Errorf("bin %d: %w", tick, errs.ErrPriceOutOfDomain)
	}
	return decimal.NewFromString(b.pow(tick).Text('e', binDigits))
}

func (b binCurve) floorTick(raw decimal.Decimal) (int, error) {
	if !raw.IsPositive() {
		return 0, fmt.Errorf("raw price %s: %w", raw, errs.ErrPriceOutOfDomain)
	}
	lowest, err := b.priceAt(b.minTick)
	if err != nil {
		return 0, err
	}
	highest, err := b.priceAt(b.maxTick)
	if err != nil {
		return 0, err
	}
	if raw.LessThan(lowest) || raw.GreaterThan(highest) {
		return 0, fmt.Errorf("raw price %s outside bin range: %w", raw, errs.ErrPriceOutOfDomain)
	}

	tick := b.estimate(raw)
	for tick > b.minTick {
		p, err := b.priceAt(tick)
		if err != nil {
			return 0, err
		}
		if !p.GreaterThan(raw) {
			break
		}
		tick--
	}
	for tick < b.maxTick {
		p, err := b.priceAt(tick + 1)
		if err != nil {
			return 0, err
		}
		if p.GreaterThan(raw) {
			break
		}
		tick++
	}
	return tick, nil
}

// estimate is log(raw)/log(base), computed on the float mantissa so huge
// and tiny prices do not overflow float64.
func (b binCurve) estimate(raw decimal.Decimal) int {
	f, _ := new(big.Float).SetPrec(binPrecision).SetString(raw.String())
	mant := new(big.Float)
	exp := f.MantExp(mant)
	m, _ := mant.Float64()
	ln := math.Log(m) + float64(exp)*math.Ln2
	tick := int(math.Floor(ln / b.lnBase))
	if tick < b.minTick {
		return b.minTick
	}
	if tick > b.maxTick {
		return b.maxTick
	}
	return tick
}

func (b binCurve) sqrtPriceAt(tick int) (*ui.Int, error) {
	if tick < b.minTick || tick > b.maxTick {
		return nil, fmt.Errorf("bin %d: %w", tick, errs.ErrPriceOutOfDomain)
	}
	root := new(big.Float).SetPrec(binPrecision).Sqrt(b.pow(tick))
	root.SetMantExp(root, 64)
	rootInt, _ := root.Int(nil)
	sqrtPriceX64, overflow := ui.FromBig(rootInt)
	if overflow {
		return nil, fmt.Errorf("bin %d sqrt price overflows: %w", tick, errs.ErrPriceOutOfDomain)
	}
	return sqrtPriceX64, nil
}

// tickAtSqrtPrice works on the truncated sqrt prices produced by
// sqrtPriceAt, so the bin above the price estimate is checked as well.
func (b binCurve) tickAtSqrtPrice(sqrtPriceX64 *ui.Int) (int, error) {
	lowest, err := b.sqrtPriceAt(b.minTick)
	if err != nil {
		return 0, err
	}
	if sqrtPriceX64.Lt(lowest) {
		return 0, fmt.Errorf("sqrt price %s below bin range: %w", sqrtPriceX64.Dec(), errs.ErrPriceOutOfDomain)
	}
	raw := sqrtmath.GetPrice(sqrtPriceX64)
	tick := b.minTick
	if floorPrice, _ := b.priceAt(b.minTick); !raw.LessThan(floorPrice) {
		if tick, err = b.floorTick(raw); err != nil {
			return 0, err
		}
	}
	if tick == b.maxTick {
		return tick, nil
	}
	next, err := b.sqrtPriceAt(tick + 1)
	if err != nil {
		return 0, err
	}
	if !next.Gt(sqrtPriceX64) {
		return tick + 1, nil
	}
	return tick, nil
}
