package dex

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/errs"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/tickmath"
)

type Dex uint8

const (
	Orca Dex = iota
	Raydium
	Meteora
)

func (d Dex) String() string {
	switch d {
	case Orca:
		return "ORCA"
	case Raydium:
		return "RAYDIUM"
	case Meteora:
		return "METEORA"
	default:
		return fmt.Sprintf("DEX(%d)", uint8(d))
	}
}

func Parse(s string) (Dex, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ORCA":
		return Orca, nil
	case "RAYDIUM":
		return Raydium, nil
	case "METEORA":
		return Meteora, nil
	}
	return 0, fmt.Errorf("unknown dex %q", s)
}

// Params describes the price conventions of one DEX (or one Meteora pool,
// whose base depends on the bin step).
type Params struct {
	Dex     Dex
	MinTick int
	MaxTick int
	// BaseBps is the per tick price step in basis points: price = (1 + BaseBps/10000)^tick.
	// Orca and Raydium use 1 bps, Meteora uses the pool bin step.
	BaseBps int
	// NativeSqrtPrice is set for DEXes that store a Q64.64 sqrt price on chain.
	NativeSqrtPrice bool
	// OrderedMints requires token A mint < token B mint bytewise.
	OrderedMints bool
	// TickSpacings lists the spacings the program accepts.
	TickSpacings []int
}

var table = map[Dex]Params{
	Orca: {
		Dex:             Orca,
		MinTick:         -443636,
		MaxTick:         443636,
		BaseBps:         1,
		NativeSqrtPrice: true,
		OrderedMints:    true,
		TickSpacings:    []int{1, 2, 4, 8, 16, 64, 96, 128, 256, 32896},
	},
	Raydium: {
		Dex:             Raydium,
		MinTick:         -443636,
		MaxTick:         443636,
		BaseBps:         1,
		NativeSqrtPrice: true,
		OrderedMints:    true,
		TickSpacings:    []int{1, 10, 60, 120},
	},
	Meteora: {
		Dex:          Meteora,
		MinTick:      -443636,
		MaxTick:      443636,
		TickSpacings: []int{1},
	},
}

// For returns the default parameters of a DEX. Meteora needs its bin step,
// which is ignored for the other DEXes. Meteora bins are bounded so the bin
// price stays inside [2^-64, 2^64].
func For(d Dex, binStep int) (Params, error) {
	p, ok := table[d]
	if !ok {
		return Params{}, fmt.Errorf("no params for %s: %w", d, errs.ErrUnsupported)
	}
	if d == Meteora {
		if binStep <= 0 {
			return Params{}, fmt.Errorf("meteora bin step must be positive, got %d: %w", binStep, errs.ErrInvalidConfig)
		}
		p.BaseBps = binStep
		p.MaxTick = min(p.MaxTick, maxBinID(binStep))
		p.MinTick = -p.MaxTick
	}
	p.TickSpacings = slices.Clone(p.TickSpacings)
	return p, nil
}

func (p Params) Validate() error {
	if p.MinTick >= p.MaxTick {
		return fmt.Errorf("%s: min tick %d >= max tick %d: %w", p.Dex, p.MinTick, p.MaxTick, errs.ErrInvalidConfig)
	}
	if p.BaseBps <= 0 {
		return fmt.Errorf("%s: base bps must be positive: %w", p.Dex, errs.ErrInvalidConfig)
	}
	if p.NativeSqrtPrice && p.BaseBps != 1 {
		return fmt.Errorf("%s: native sqrt price requires a 1 bps base: %w", p.Dex, errs.ErrInvalidConfig)
	}
	return nil
}

func (p Params) SupportsSpacing(tickSpacing int) bool {
	return slices.Contains(p.TickSpacings, tickSpacing)
}

func (p Params) CheckTick(tick int) error {
	if tick < p.MinTick || tick > p.MaxTick {
		return fmt.Errorf("%s: tick %d outside [%d, %d]: %w", p.Dex, tick, p.MinTick, p.MaxTick, errs.ErrPriceOutOfDomain)
	}
	return nil
}

// MinUsableTick is the smallest multiple of tickSpacing inside the bounds.
func (p Params) MinUsableTick(tickSpacing int) int {
	return tickmath.RoundTick(p.MinTick, tickSpacing, tickmath.Up)
}

// MaxUsableTick is the largest multiple of tickSpacing inside the bounds.
func (p Params) MaxUsableTick(tickSpacing int) int {
	return tickmath.RoundTick(p.MaxTick, tickSpacing, tickmath.Down)
}

// AlignTick rounds tick to tickSpacing in the given direction and clamps the
// result to the usable range.
func (p Params) AlignTick(tick, tickSpacing int, dir tickmath.Direction) int {
	aligned := tickmath.RoundTick(tick, tickSpacing, dir)
	if lo := p.MinUsableTick(tickSpacing); aligned < lo {
		return lo
	}
	if hi := p.MaxUsableTick(tickSpacing); aligned > hi {
		return hi
	}
	return aligned
}

// InOrder reports whether mints a and b follow the DEX ordering rule.
func (p Params) InOrder(a, b [32]byte) bool {
	if !p.OrderedMints {
		return true
	}
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func maxBinID(binStep int) int {
	return int(math.Floor(64 * math.Ln2 / math.Log1p(float64(binStep)/10_000)))
}
