package fullmath

import (
	"fmt"

	cons "github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/constants"

	ui "github.com/holiman/uint256"
)

type Rounding uint8

const (
	RoundingDown Rounding = iota
	RoundingUp
)

// MulDiv computes a*b/denominator with a 512 bit intermediate.
func MulDiv(a, b, denominator *ui.Int, rounding Rounding) (*ui.Int, error) {
	if denominator.IsZero() {
		return nil, fmt.Errorf("mulDiv: division by zero")
	}
	result, overflow := new(ui.Int).MulDivOverflow(a, b, denominator)
	if overflow {
		return nil, fmt.Errorf("mulDiv: overflow")
	}
	if rounding == RoundingUp && !new(ui.Int).MulMod(a, b, denominator).IsZero() {
		if result.Eq(cons.MaxUint256) {
			return nil, fmt.Errorf("mulDiv: overflow")
		}
		result.AddUint64(result, 1)
	}
	return result, nil
}

// MustMulDiv is MulDiv for operands whose bounds are known to fit.
func MustMulDiv(a, b, denominator *ui.Int, rounding Rounding) *ui.Int {
	result, err := MulDiv(a, b, denominator, rounding)
	if err != nil {
		panic(err)
	}
	return result
}
