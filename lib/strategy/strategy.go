package strategy

import (
	"fmt"
	"strings"
	"time"

	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/dex"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/errs"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/pricemath"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/tickmath"

	"github.com/gagliardetto/solana-go"
)

type ReferencePriceType uint8

const (
	ReferencePool ReferencePriceType = iota
	ReferenceTwap
)

func (r ReferencePriceType) String() string {
	switch r {
	case ReferencePool:
		return "POOL"
	case ReferenceTwap:
		return "TWAP"
	}
	return fmt.Sprintf("REFERENCE(%d)", uint8(r))
}

func ParseReferencePriceType(s string) (ReferencePriceType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "POOL":
		return ReferencePool, nil
	case "TWAP":
		return ReferenceTwap, nil
	}
	return 0, fmt.Errorf("unknown reference price %q: %w", s, errs.ErrInvalidConfig)
}

type Token struct {
	Mint     solana.PublicKey
	Decimals int
}

type Range struct {
	TickLower int
	TickUpper int
}

// Contains reports whether tick lies in [TickLower, TickUpper).
func (r Range) Contains(tick int) bool {
	return tick >= r.TickLower && tick < r.TickUpper
}

func (r Range) Validate(tickSpacing int) error {
	if r.TickLower >= r.TickUpper {
		return fmt.Errorf("range [%d, %d) is empty: %w", r.TickLower, r.TickUpper, errs.ErrInvalidConfig)
	}
	if !tickmath.IsAligned(r.TickLower, tickSpacing) || !tickmath.IsAligned(r.TickUpper, tickSpacing) {
		return fmt.Errorf("range [%d, %d) not aligned to %d: %w", r.TickLower, r.TickUpper, tickSpacing, errs.ErrInvalidConfig)
	}
	return nil
}

// State is the rebalance state the program stores next to the strategy.
type State struct {
	LastRebalance  time.Time
	ExpansionCount int
}

// Strategy is one managed position and its rebalance policy. Token
// decimals are fixed at construction.
type Strategy struct {
	Address        solana.PublicKey
	Dex            dex.Dex
	Pool           solana.PublicKey
	BinStep        int
	CurrentRange   Range
	Config         RebalanceConfig
	ReferencePrice ReferencePriceType
	LookupTable    *solana.PublicKey
	State          State

	tokenA Token
	tokenB Token
}

func New(address solana.PublicKey, d dex.Dex, pool solana.PublicKey, tokenA, tokenB Token) *Strategy {
	return &Strategy{
		Address: address,
		Dex:     d,
		Pool:    pool,
		Config:  Manual{},
		tokenA:  tokenA,
		tokenB:  tokenB,
	}
}

func (s *Strategy) TokenA() Token { return s.tokenA }

func (s *Strategy) TokenB() Token { return s.tokenB }

func (s *Strategy) Params() (dex.Params, error) {
	return dex.For(s.Dex, s.BinStep)
}

func (s *Strategy) Converter() (*pricemath.Converter, error) {
	params, err := s.Params()
	if err != nil {
		return nil, err
	}
	return pricemath.New(params, s.tokenA.Decimals, s.tokenB.Decimals)
}

// Validate checks everything that does not depend on pool state.
func (s *Strategy) Validate() error {
	params, err := s.Params()
	if err != nil {
		return err
	}
	if s.tokenA.Mint.Equals(s.tokenB.Mint) {
		return fmt.Errorf("strategy %s: token A and B share mint %s: %w", s.Address, s.tokenA.Mint, errs.ErrInvalidConfig)
	}
	if !params.InOrder(s.tokenA.Mint, s.tokenB.Mint) {
		return fmt.Errorf("strategy %s: %s requires mint %s before %s: %w", s.Address, s.Dex, s.tokenB.Mint, s.tokenA.Mint, errs.ErrInvalidConfig)
	}
	if _, err := pricemath.New(params, s.tokenA.Decimals, s.tokenB.Decimals); err != nil {
		return fmt.Errorf("strategy %s: %w", s.Address, err)
	}
	if s.Config == nil {
		return fmt.Errorf("strategy %s has no rebalance config: %w", s.Address, errs.ErrInvalidConfig)
	}
	return s.Config.Validate()
}

// ChangeRebalanceMethod replaces the config wholesale and resets the
// rebalance state that belonged to the previous method.
func (s *Strategy) ChangeRebalanceMethod(cfg RebalanceConfig) error {
	if cfg == nil {
		return fmt.Errorf("nil rebalance config: %w", errs.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.Config = cfg
	s.State.ExpansionCount = 0
	return nil
}

// UpdateConfigField patches one field of the current config in place.
func (s *Strategy) UpdateConfigField(field, value string) error {
	cfg, err := ApplyPatch(s.Config, field, value)
	if err != nil {
		return err
	}
	s.Config = cfg
	return nil
}

// ChangeRange sets the range manually. It resets the Expander counter.
func (s *Strategy) ChangeRange(r Range, tickSpacing int) error {
	if err := r.Validate(tickSpacing); err != nil {
		return err
	}
	s.CurrentRange = r
	s.State.ExpansionCount = 0
	return nil
}

// Commit records a decision once its plan has landed on chain.
func (s *Strategy) Commit(d Decision) {
	switch d.Action {
	case ActionRebalance:
		s.CurrentRange = Range{TickLower: d.Range.TickLower, TickUpper: d.Range.TickUpper}
	case ActionExit:
	default:
		return
	}
	if d.NextConfig != nil {
		s.Config = d.NextConfig
	}
	s.State = d.NextState
}
