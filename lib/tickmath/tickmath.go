package tickmath

import (
	"fmt"

	cons "github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/constants"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/errs"

	ui "github.com/holiman/uint256"
)

const (
	MinTick int = -443636 // The widest tick bound used by any supported pool.
	MaxTick int = -MinTick
)

var (
	MinSqrtPriceX64 = mustSqrtPriceAtTick(MinTick)
	MaxSqrtPriceX64 = mustSqrtPriceAtTick(MaxTick)
)

type Direction uint8

const (
	Down Direction = iota
	Up
	Nearest
)

func (d Direction) String() string {
	switch d {
	case Down:
		return "down"
	case Up:
		return "up"
	case Nearest:
		return "nearest"
	}
	return fmt.Sprintf("direction(%d)", uint8(d))
}

// RoundTick snaps tick to a multiple of tickSpacing. Negative ticks use floor
// semantics, so RoundTick(-1, 64, Down) == -64.
func RoundTick(tick, tickSpacing int, dir Direction) int {
	if tickSpacing <= 1 {
		return tick
	}
	floor := tick - floorMod(tick, tickSpacing)
	switch dir {
	case Up:
		if floor == tick {
			return tick
		}
		return floor + tickSpacing
	case Nearest:
		if 2*(tick-floor) >= tickSpacing {
			return floor + tickSpacing
		}
		return floor
	default:
		return floor
	}
}

func IsAligned(tick, tickSpacing int) bool {
	return tickSpacing <= 1 || floorMod(tick, tickSpacing) == 0
}

func floorMod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// SqrtPriceAtTick returns sqrt(1.0001)^tick as a Q64.64.
func SqrtPriceAtTick(tick int) (*ui.Int, error) {
	absTick := tick
	if tick < 0 {
		absTick = -tick
	}
	if absTick > MaxTick {
		return nil, fmt.Errorf("tick %d: %w", tick, errs.ErrPriceOutOfDomain)
	}
	var ratio *ui.Int
	if absTick&0x1 != 0 {
		ratio, _ = ui.FromHex("0xfffcb933bd6fad37aa2d162d1a594001")
	} else {
		ratio = cons.Q128.Clone()
	}
	for i, mulBy := range magicRatios {
		if absTick&(0x2<<i) != 0 {
			ratio = mulShift(ratio, mulBy)
		}
	}
	if tick > 0 {
		ratio = new(ui.Int).Div(cons.MaxUint256, ratio)
	}
	// Q128 -> Q64, truncating like the on-chain programs
	return ratio.Rsh(ratio, 64), nil
}

// TickAtSqrtPrice returns the largest tick in [minTick, maxTick] whose sqrt
// price is <= sqrtPriceX64.
func TickAtSqrtPrice(sqrtPriceX64 *ui.Int, minTick, maxTick int) (int, error) {
	lowest, err := SqrtPriceAtTick(minTick)
	if err != nil {
		return 0, err
	}
	highest, err := SqrtPriceAtTick(maxTick)
	if err != nil {
		return 0, err
	}
	if sqrtPriceX64.Lt(lowest) || sqrtPriceX64.Gt(highest) {
		return 0, fmt.Errorf("sqrt price %s outside [%s, %s]: %w", sqrtPriceX64.Dec(), lowest.Dec(), highest.Dec(), errs.ErrPriceOutOfDomain)
	}
	l, r := minTick, maxTick
	for l < r {
		// Ticks never overflow, so we can use the mid directly.
		mid := l + (r-l+1)/2
		if s := mustSqrtPriceAtTick(mid); s.Gt(sqrtPriceX64) {
			r = mid - 1
		} else {
			l = mid
		}
	}
	return l, nil
}

func mustSqrtPriceAtTick(tick int) *ui.Int {
	s, err := SqrtPriceAtTick(tick)
	if err != nil {
		panic(err)
	}
	return s
}

// magicRatios[i] is 1/sqrt(1.0001)^(2^(i+1)) as a Q128.
var magicRatios = mustFromHex(
	"0xfff97272373d413259a46990580e213a",
	"0xfff2e50f5f656932ef12357cf3c7fdcc",
	"0xffe5caca7e10e4e61c3624eaa0941cd0",
	"0xffcb9843d60f6159c9db58835c926644",
	"0xff973b41fa98c081472e6896dfb254c0",
	"0xff2ea16466c96a3843ec78b326b52861",
	"0xfe5dee046a99a2a811c461f1969c3053",
	"0xfcbe86c7900a88aedcffc83b479aa3a4",
	"0xf987a7253ac413176f2b074cf7815e54",
	"0xf3392b0822b70005940c7a398e4b70f3",
	"0xe7159475a2c29b7443b29c7fa6e889d9",
	"0xd097f3bdfd2022b8845ad8f792aa5825",
	"0xa9f746462d870fdf8a65dc1f90e061e5",
	"0x70d869a156d2a1b890bb3df62baf32f7",
	"0x31be135f97d08fd981231505542fcfa6",
	"0x9aa508b5b7a84e1c677de54f3e99bc9",
	"0x5d6af8dedb81196699c329225ee604",
	"0x2216e584f5fa1ea926041bedfe98",
)

func mustFromHex(hexes ...string) []*ui.Int {
	out := make([]*ui.Int, len(hexes))
	for i, h := range hexes {
		v, err := ui.FromHex(h)
		if err != nil {
			panic(err)
		}
		out[i] = v
	}
	return out
}

func mulShift(val, mulBy *ui.Int) *ui.Int {
	return new(ui.Int).Rsh(new(ui.Int).Mul(val, mulBy), 128)
}
