package sqrtprice_math

import (
	"math/big"

	cons "github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/constants"
	fm "github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/fullmath"

	ui "github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

var fivePow128 = new(big.Int).Exp(big.NewInt(5), big.NewInt(128), nil)

// GetPrice returns sqrtPriceX64^2 / 2^128 as a raw (lamport) price.
// 1/2^128 == 5^128/10^128, so the result is exact.
func GetPrice(sqrtPriceX64 *ui.Int) decimal.Decimal {
	square := new(big.Int).Mul(sqrtPriceX64.ToBig(), sqrtPriceX64.ToBig())
	return decimal.NewFromBigInt(square.Mul(square, fivePow128), -128)
}

// GetSqrtPrice returns floor(sqrt(price) * 2^64). ok is false when the
// result does not fit in 256 bits or price is not positive.
func GetSqrtPrice(price decimal.Decimal) (sqrtPriceX64 *ui.Int, ok bool) {
	if !price.IsPositive() {
		return nil, false
	}
	scaled := price.Mul(cons.DecimalQ128).BigInt()
	root, overflow := ui.FromBig(scaled.Sqrt(scaled))
	if overflow {
		return nil, false
	}
	return root, true
}

// GetAmountADelta
//
// Δa = L * (√P_upper - √P_lower) / (√P_upper * √P_lower)
func GetAmountADelta(sqrtPriceAX64, sqrtPriceBX64, liquidity *ui.Int, rounding fm.Rounding) (*ui.Int, error) {
	if sqrtPriceAX64.Gt(sqrtPriceBX64) {
		sqrtPriceAX64, sqrtPriceBX64 = sqrtPriceBX64, sqrtPriceAX64
	}
	numerator1 := new(ui.Int).Lsh(liquidity, 64)
	numerator2 := new(ui.Int).Sub(sqrtPriceBX64, sqrtPriceAX64)

	intermediate, err := fm.MulDiv(numerator1, numerator2, sqrtPriceBX64, rounding)
	if err != nil {
		return nil, err
	}
	return fm.MulDiv(intermediate, cons.One, sqrtPriceAX64, rounding)
}

// GetAmountBDelta
//
// Δb = L * (√P_upper - √P_lower)
func GetAmountBDelta(sqrtPriceAX64, sqrtPriceBX64, liquidity *ui.Int, rounding fm.Rounding) (*ui.Int, error) {
	if sqrtPriceAX64.Gt(sqrtPriceBX64) {
		sqrtPriceAX64, sqrtPriceBX64 = sqrtPriceBX64, sqrtPriceAX64
	}
	diff := new(ui.Int).Sub(sqrtPriceBX64, sqrtPriceAX64)
	return fm.MulDiv(liquidity, diff, cons.Q64, rounding)
}
