package constants

import (
	ui "github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

var (
	Zero          = new(ui.Int)
	One           = new(ui.Int).SetOne()
	MaxUint256, _ = ui.FromHex("0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")
	// sqrt prices on Solana CLMMs are Q64.64
	Q64     = new(ui.Int).Lsh(ui.NewInt(1), 64)
	Q128, _ = ui.FromHex("0x100000000000000000000000000000000")
)

const (
	BasisPointMax = 10_000
	// BasisPointMax == 10^BasisPointDecimals
	BasisPointDecimals int32 = 4
	// decimal places kept when dividing fixed point values into decimals
	DecimalPrecision int32 = 60
)

var (
	DecimalBasisPointMax = decimal.NewFromInt(BasisPointMax)
	DecimalQ128          = decimal.NewFromBigInt(Q128.ToBig(), 0)
)

