package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/dex"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/errs"

	ag_binary "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	ui "github.com/holiman/uint256"
)

var ErrUnknownPool = errors.New("unknown pool")

// Twap is a time weighted average tick read from an oracle or observation
// account.
type Twap struct {
	Tick       int
	ObservedAt time.Time
}

// Snapshot is the pool state captured once per planning pass. Range
// calculation, balancing and planning all read the same snapshot.
type Snapshot struct {
	Address      solana.PublicKey
	Dex          dex.Dex
	CurrentTick  int
	TickSpacing  int
	SqrtPriceX64 *ui.Int
	// BinStep is only set for Meteora pools.
	BinStep   int
	Twap      *Twap
	FetchedAt time.Time
}

func (s *Snapshot) Clone() *Snapshot {
	c := *s
	if s.SqrtPriceX64 != nil {
		c.SqrtPriceX64 = s.SqrtPriceX64.Clone()
	}
	if s.Twap != nil {
		twap := *s.Twap
		c.Twap = &twap
	}
	return &c
}

func (s *Snapshot) Params() (dex.Params, error) {
	return dex.For(s.Dex, s.BinStep)
}

// Validate checks the snapshot against its DEX bounds.
func (s *Snapshot) Validate() error {
	params, err := s.Params()
	if err != nil {
		return err
	}
	if !params.SupportsSpacing(s.TickSpacing) {
		return fmt.Errorf("pool %s: tick spacing %d: %w", s.Address, s.TickSpacing, errs.ErrInvalidConfig)
	}
	if err := params.CheckTick(s.CurrentTick); err != nil {
		return fmt.Errorf("pool %s: %w", s.Address, err)
	}
	if s.Twap != nil {
		if err := params.CheckTick(s.Twap.Tick); err != nil {
			return fmt.Errorf("pool %s twap: %w", s.Address, err)
		}
	}
	return nil
}

// CheckAge fails with ErrStaleReference when the snapshot is older than
// maxAge. A zero maxAge disables the check.
func (s *Snapshot) CheckAge(now time.Time, maxAge time.Duration) error {
	if maxAge > 0 && now.Sub(s.FetchedAt) > maxAge {
		return fmt.Errorf("pool %s fetched %s ago: %w", s.Address, now.Sub(s.FetchedAt), errs.ErrStaleReference)
	}
	return nil
}

// TwapTick returns the TWAP tick, failing with ErrStaleReference when it
// is missing or older than maxAge.
func (s *Snapshot) TwapTick(now time.Time, maxAge time.Duration) (int, error) {
	if s.Twap == nil {
		return 0, fmt.Errorf("pool %s has no twap: %w", s.Address, errs.ErrStaleReference)
	}
	if maxAge > 0 && now.Sub(s.Twap.ObservedAt) > maxAge {
		return 0, fmt.Errorf("pool %s twap observed %s ago: %w", s.Address, now.Sub(s.Twap.ObservedAt), errs.ErrStaleReference)
	}
	return s.Twap.Tick, nil
}

// SqrtPriceFromUint128 converts a decoded on-chain u128 sqrt price.
func SqrtPriceFromUint128(v ag_binary.Uint128) *ui.Int {
	return &ui.Int{v.Lo, v.Hi, 0, 0}
}

func SqrtPriceToUint128(x *ui.Int) (ag_binary.Uint128, error) {
	if x.BitLen() > 128 {
		return ag_binary.Uint128{}, fmt.Errorf("sqrt price %s exceeds 128 bits", x.Dec())
	}
	return ag_binary.Uint128{Lo: x[0], Hi: x[1]}, nil
}

// DecodeSqrtPrice reads a little endian u128 sqrt price field.
func DecodeSqrtPrice(data []byte) (*ui.Int, error) {
	if len(data) < 16 {
		return nil, fmt.Errorf("sqrt price needs 16 bytes, got %d", len(data))
	}
	var v ag_binary.Uint128
	if err := v.UnmarshalWithDecoder(ag_binary.NewBinDecoder(data[:16])); err != nil {
		return nil, err
	}
	return SqrtPriceFromUint128(v), nil
}

// Source reads pool snapshots, usually by decoding pool accounts over RPC.
type Source interface {
	Snapshot(ctx context.Context, address solana.PublicKey) (*Snapshot, error)
}

// StaticSource serves fixed snapshots, e.g. loaded from JSON.
type StaticSource struct {
	mu        sync.RWMutex
	snapshots map[solana.PublicKey]*Snapshot
}

func NewStaticSource(snapshots ...*Snapshot) *StaticSource {
	s := &StaticSource{snapshots: make(map[solana.PublicKey]*Snapshot, len(snapshots))}
	for _, snap := range snapshots {
		s.Put(snap)
	}
	return s
}

func (s *StaticSource) Put(snap *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.Address] = snap.Clone()
}

func (s *StaticSource) Snapshot(_ context.Context, address solana.PublicKey) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[address]
	if !ok {
		return nil, fmt.Errorf("pool %s: %w", address, ErrUnknownPool)
	}
	return snap.Clone(), nil
}
