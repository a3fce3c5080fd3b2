package deposit

import (
	"fmt"

	cons "github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/constants"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/errs"
	la "github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/liquidity_amounts"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/pricemath"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/rangecalc"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/strategy"

	ui "github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// LiquidityMath converts liquidity into token amounts for one DEX curve.
type LiquidityMath interface {
	AmountsForLiquidity(sqrtPriceX64, sqrtPriceLowerX64, sqrtPriceUpperX64, liquidity *ui.Int) (amountA, amountB *ui.Int, err error)
}

// probeLiquidity is only used to read the A:B ratio of a range, so any
// large value works.
var probeLiquidity = new(ui.Int).Lsh(cons.One, 128)

// Plan is a signed swap. The negative side is sold, the positive side is
// the minimum accepted in return. Both zero means no swap.
type Plan struct {
	TokenAToSwap decimal.Decimal
	TokenBToSwap decimal.Decimal
	// IdealA and IdealB are the holdings the range wants at the current
	// price, before slippage.
	IdealA decimal.Decimal
	IdealB decimal.Decimal
}

func (p Plan) IsEmpty() bool {
	return p.TokenAToSwap.IsZero() && p.TokenBToSwap.IsZero()
}

// SellsA reports whether the swap sells token A for token B.
func (p Plan) SellsA() bool {
	return p.TokenAToSwap.IsNegative()
}

// SellAmount is the exact amount of the sold token.
func (p Plan) SellAmount() decimal.Decimal {
	if p.SellsA() {
		return p.TokenAToSwap.Neg()
	}
	return p.TokenBToSwap.Neg()
}

// MinReceive is the least amount of the bought token the swap may return.
func (p Plan) MinReceive() decimal.Decimal {
	if p.SellsA() {
		return p.TokenBToSwap
	}
	return p.TokenAToSwap
}

type options struct {
	allowUneven  bool
	minSwapValue decimal.Decimal
}

type Option func(*options)

// AllowUneven skips swaps worth less than minSwapValue (in token B) and
// deposits the holdings as they are.
func AllowUneven(minSwapValue decimal.Decimal) Option {
	return func(o *options) {
		o.allowUneven = true
		o.minSwapValue = minSwapValue
	}
}

// Balancer sizes the swap that brings two token balances into the ratio a
// range needs. Amounts are in UI units of each token.
type Balancer struct {
	conv *pricemath.Converter
	math LiquidityMath
	log  logrus.FieldLogger
}

func New(conv *pricemath.Converter, math LiquidityMath, log logrus.FieldLogger) *Balancer {
	if math == nil {
		math = la.Concentrated{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Balancer{conv: conv, math: math, log: log}
}

func (b *Balancer) decimals() (int32, int32) {
	a, bb := b.conv.Decimals()
	return int32(a), int32(bb)
}

func checkInputs(heldA, heldB, currentPrice decimal.Decimal, slippageBps int) error {
	if heldA.IsNegative() || heldB.IsNegative() {
		return fmt.Errorf("negative holdings (%s, %s): %w", heldA, heldB, errs.ErrInsufficientBalance)
	}
	if !currentPrice.IsPositive() {
		return fmt.Errorf("price %s: %w", currentPrice, errs.ErrPriceOutOfDomain)
	}
	if slippageBps < 0 || slippageBps >= cons.BasisPointMax {
		return fmt.Errorf("slippage %d bps: %w", slippageBps, errs.ErrInvalidConfig)
	}
	return nil
}

// PlanDeposit returns the swap that turns (heldA, heldB) into the split
// target needs at currentPrice. Value is preserved before slippage:
// IdealA*price + IdealB == heldA*price + heldB.
func (b *Balancer) PlanDeposit(heldA, heldB decimal.Decimal, target rangecalc.PriceRange, currentPrice decimal.Decimal, slippageBps int, opts ...Option) (Plan, error) {
	if err := checkInputs(heldA, heldB, currentPrice, slippageBps); err != nil {
		return Plan{}, err
	}
	if target.OutOfRange {
		return Plan{}, fmt.Errorf("target %s: %w", target, errs.ErrInvalidConfig)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	decA, _ := b.decimals()
	value := heldA.Mul(currentPrice).Add(heldB)

	var idealA decimal.Decimal
	switch {
	case !currentPrice.GreaterThan(target.PriceLower):
		// single sided in A below the range
		idealA = value.DivRound(currentPrice, cons.DecimalPrecision).Truncate(decA)
	case !currentPrice.LessThan(target.PriceUpper):
		idealA = decimal.Zero
	default:
		shareA, err := b.shareA(target, currentPrice)
		if err != nil {
			return Plan{}, err
		}
		idealA = value.Mul(shareA).DivRound(currentPrice, cons.DecimalPrecision).Truncate(decA)
	}
	idealB := value.Sub(idealA.Mul(currentPrice))

	plan, err := b.swapTo(heldA, heldB, idealA, currentPrice, slippageBps)
	if err != nil {
		return Plan{}, err
	}
	plan.IdealA, plan.IdealB = idealA, idealB

	if o.allowUneven && !plan.IsEmpty() {
		swapValue := plan.SellAmount()
		if plan.SellsA() {
			swapValue = swapValue.Mul(currentPrice)
		}
		if swapValue.LessThan(o.minSwapValue) {
			b.log.WithFields(logrus.Fields{
				"swap_value":     swapValue.String(),
				"min_swap_value": o.minSwapValue.String(),
			}).Debug("swap below minimum, depositing uneven")
			return Plan{
				TokenAToSwap: decimal.Zero,
				TokenBToSwap: decimal.Zero,
				IdealA:       heldA,
				IdealB:       heldB,
			}, nil
		}
	}
	return plan, nil
}

// shareA is the fraction of the position value held in token A at price.
func (b *Balancer) shareA(target rangecalc.PriceRange, currentPrice decimal.Decimal) (decimal.Decimal, error) {
	sqrtPrice, err := b.conv.PriceToSqrtPriceX64(currentPrice)
	if err != nil {
		return decimal.Zero, err
	}
	sqrtLower, err := b.conv.TickToSqrtPriceX64(target.TickLower)
	if err != nil {
		return decimal.Zero, err
	}
	sqrtUpper, err := b.conv.TickToSqrtPriceX64(target.TickUpper)
	if err != nil {
		return decimal.Zero, err
	}
	rawA, rawB, err := b.math.AmountsForLiquidity(sqrtPrice, sqrtLower, sqrtUpper, probeLiquidity)
	if err != nil {
		return decimal.Zero, err
	}
	decA, decB := b.decimals()
	valueA := decimal.NewFromBigInt(rawA.ToBig(), -decA).Mul(currentPrice)
	valueB := decimal.NewFromBigInt(rawB.ToBig(), -decB)
	total := valueA.Add(valueB)
	if total.IsZero() {
		return decimal.Zero, fmt.Errorf("range %s holds no value at %s: %w", target, currentPrice, errs.ErrPriceOutOfDomain)
	}
	return valueA.DivRound(total, cons.DecimalPrecision), nil
}

// swapTo sizes the swap from heldA to idealA. The sold amount is exact;
// slippage only lowers the amount received.
func (b *Balancer) swapTo(heldA, heldB, idealA, currentPrice decimal.Decimal, slippageBps int) (Plan, error) {
	decA, decB := b.decimals()
	keep := decimal.NewFromInt(int64(cons.BasisPointMax - slippageBps)).Shift(-cons.BasisPointDecimals)
	deltaA := idealA.Sub(heldA)

	switch deltaA.Sign() {
	case 0:
		return Plan{TokenAToSwap: decimal.Zero, TokenBToSwap: decimal.Zero}, nil
	case -1:
		sellA := deltaA.Neg()
		return Plan{
			TokenAToSwap: sellA.Neg(),
			TokenBToSwap: sellA.Mul(currentPrice).Mul(keep).Truncate(decB),
		}, nil
	}

	sellB := deltaA.Mul(currentPrice).RoundUp(decB)
	if sellB.GreaterThan(heldB) {
		overdraft := sellB.Sub(heldB)
		if overdraft.GreaterThan(lamport(decB)) {
			return Plan{}, fmt.Errorf("selling %s B with %s held: %w", sellB, heldB, errs.ErrInsufficientBalance)
		}
		b.log.WithFields(logrus.Fields{
			"sell_b":    sellB.String(),
			"held_b":    heldB.String(),
			"overdraft": overdraft.String(),
		}).Warn("clamping swap to held balance")
		sellB = heldB
	}
	buyA := sellB.DivRound(currentPrice, cons.DecimalPrecision)
	return Plan{
		TokenAToSwap: buyA.Mul(keep).Truncate(decA),
		TokenBToSwap: sellB.Neg(),
	}, nil
}

// PlanExit sells everything into the destination token.
func (b *Balancer) PlanExit(heldA, heldB, currentPrice decimal.Decimal, destination strategy.TokenSide, slippageBps int) (Plan, error) {
	if err := checkInputs(heldA, heldB, currentPrice, slippageBps); err != nil {
		return Plan{}, err
	}
	decA, decB := b.decimals()
	keep := decimal.NewFromInt(int64(cons.BasisPointMax - slippageBps)).Shift(-cons.BasisPointDecimals)
	value := heldA.Mul(currentPrice).Add(heldB)

	if destination == strategy.SideA {
		idealA := value.DivRound(currentPrice, cons.DecimalPrecision)
		return Plan{
			TokenAToSwap: heldB.DivRound(currentPrice, cons.DecimalPrecision).Mul(keep).Truncate(decA),
			TokenBToSwap: heldB.Neg(),
			IdealA:       idealA,
			IdealB:       decimal.Zero,
		}, nil
	}
	return Plan{
		TokenAToSwap: heldA.Neg(),
		TokenBToSwap: heldA.Mul(currentPrice).Mul(keep).Truncate(decB),
		IdealA:       decimal.Zero,
		IdealB:       value,
	}, nil
}

// lamport is the smallest unit of a token with the given decimals.
func lamport(decimals int32) decimal.Decimal {
	return decimal.New(1, -decimals)
}
