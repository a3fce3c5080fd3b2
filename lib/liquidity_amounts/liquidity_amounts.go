package liquidity_amounts

import (
	cons "github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/constants"
	fm "github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/fullmath"
	sqrtmath "github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/sqrtprice_math"

	ui "github.com/holiman/uint256"
)

func GetLiquidityForAmountA(sqrtPriceAX64, sqrtPriceBX64, amountA *ui.Int) (*ui.Int, error) {
	if sqrtPriceAX64.Gt(sqrtPriceBX64) {
		sqrtPriceAX64, sqrtPriceBX64 = sqrtPriceBX64, sqrtPriceAX64
	}
	intermediate, err := fm.MulDiv(sqrtPriceAX64, sqrtPriceBX64, cons.Q64, fm.RoundingDown)
	if err != nil {
		return nil, err
	}
	return fm.MulDiv(amountA, intermediate, new(ui.Int).Sub(sqrtPriceBX64, sqrtPriceAX64), fm.RoundingDown)
}

func GetLiquidityForAmountB(sqrtPriceAX64, sqrtPriceBX64, amountB *ui.Int) (*ui.Int, error) {
	if sqrtPriceAX64.Gt(sqrtPriceBX64) {
		sqrtPriceAX64, sqrtPriceBX64 = sqrtPriceBX64, sqrtPriceAX64
	}
	return fm.MulDiv(amountB, cons.Q64, new(ui.Int).Sub(sqrtPriceBX64, sqrtPriceAX64), fm.RoundingDown)
}

// GetLiquidityForAmounts returns the most liquidity amountA and amountB can
// mint in [sqrtPriceAX64, sqrtPriceBX64] at sqrtPriceX64.
func GetLiquidityForAmounts(sqrtPriceX64, sqrtPriceAX64, sqrtPriceBX64, amountA, amountB *ui.Int) (*ui.Int, error) {
	if sqrtPriceAX64.Gt(sqrtPriceBX64) {
		sqrtPriceAX64, sqrtPriceBX64 = sqrtPriceBX64, sqrtPriceAX64
	}
	if !sqrtPriceX64.Gt(sqrtPriceAX64) {
		return GetLiquidityForAmountA(sqrtPriceAX64, sqrtPriceBX64, amountA)
	}
	if !sqrtPriceX64.Lt(sqrtPriceBX64) {
		return GetLiquidityForAmountB(sqrtPriceAX64, sqrtPriceBX64, amountB)
	}
	liquidityA, err := GetLiquidityForAmountA(sqrtPriceX64, sqrtPriceBX64, amountA)
	if err != nil {
		return nil, err
	}
	liquidityB, err := GetLiquidityForAmountB(sqrtPriceAX64, sqrtPriceX64, amountB)
	if err != nil {
		return nil, err
	}
	if liquidityA.Lt(liquidityB) {
		return liquidityA, nil
	}
	return liquidityB, nil
}

// GetAmountsForLiquidity returns the token amounts backing liquidity in
// [sqrtPriceAX64, sqrtPriceBX64] at sqrtPriceX64, rounded down.
func GetAmountsForLiquidity(sqrtPriceX64, sqrtPriceAX64, sqrtPriceBX64, liquidity *ui.Int) (amountA, amountB *ui.Int, err error) {
	if sqrtPriceAX64.Gt(sqrtPriceBX64) {
		sqrtPriceAX64, sqrtPriceBX64 = sqrtPriceBX64, sqrtPriceAX64
	}
	switch {
	case !sqrtPriceX64.Gt(sqrtPriceAX64):
		amountA, err = sqrtmath.GetAmountADelta(sqrtPriceAX64, sqrtPriceBX64, liquidity, fm.RoundingDown)
		amountB = new(ui.Int)
	case sqrtPriceX64.Lt(sqrtPriceBX64):
		amountA, err = sqrtmath.GetAmountADelta(sqrtPriceX64, sqrtPriceBX64, liquidity, fm.RoundingDown)
		if err == nil {
			amountB, err = sqrtmath.GetAmountBDelta(sqrtPriceAX64, sqrtPriceX64, liquidity, fm.RoundingDown)
		}
	default:
		amountA = new(ui.Int)
		amountB, err = sqrtmath.GetAmountBDelta(sqrtPriceAX64, sqrtPriceBX64, liquidity, fm.RoundingDown)
	}
	return
}

// Concentrated is the constant liquidity curve used by whirlpools and CLMM
// pools. It satisfies deposit.LiquidityMath.
type Concentrated struct{}

func (Concentrated) AmountsForLiquidity(sqrtPriceX64, sqrtPriceLowerX64, sqrtPriceUpperX64, liquidity *ui.Int) (*ui.Int, *ui.Int, error) {
	return GetAmountsForLiquidity(sqrtPriceX64, sqrtPriceLowerX64, sqrtPriceUpperX64, liquidity)
}
