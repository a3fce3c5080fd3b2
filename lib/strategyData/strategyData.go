package strategyData

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/dex"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/errs"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/executor"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/pool"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/strategy"

	"github.com/gagliardetto/solana-go"
	ui "github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

type TokenInput struct {
	Mint     string `json:"mint"`
	Decimals int    `json:"decimals"`
}

type RangeInput struct {
	TickLower int `json:"tickLower"`
	TickUpper int `json:"tickUpper"`
}

type StrategyInput struct {
	Address         string            `json:"address"`
	Dex             string            `json:"dex"`
	Pool            string            `json:"pool"`
	BinStep         int               `json:"binStep,omitempty"`
	TokenA          TokenInput        `json:"tokenA"`
	TokenB          TokenInput        `json:"tokenB"`
	CurrentRange    RangeInput        `json:"currentRange"`
	RebalanceType   string            `json:"rebalanceType"`
	RebalanceParams map[string]string `json:"rebalanceParams,omitempty"`
	ReferencePrice  string            `json:"referencePrice,omitempty"`
	LookupTable     string            `json:"lookupTable,omitempty"`
	LastRebalance   int64             `json:"lastRebalance,omitempty"` // unix seconds
	ExpansionCount  int               `json:"expansionCount,omitempty"`
}

type TwapInput struct {
	Tick       int   `json:"tick"`
	ObservedAt int64 `json:"observedAt"`
}

type SnapshotInput struct {
	Address      string     `json:"address"`
	Dex          string     `json:"dex"`
	CurrentTick  int        `json:"currentTick"`
	TickSpacing  int        `json:"tickSpacing"`
	SqrtPriceX64 string     `json:"sqrtPriceX64,omitempty"`
	BinStep      int        `json:"binStep,omitempty"`
	Twap         *TwapInput `json:"twap,omitempty"`
	FetchedAt    int64      `json:"fetchedAt"`
}

// HoldingsInput amounts are in UI units.
type HoldingsInput struct {
	TokenA string `json:"tokenA"`
	TokenB string `json:"tokenB"`
}

// Input is the layout of a strategy data file.
type Input struct {
	Strategy StrategyInput  `json:"strategy"`
	Snapshot SnapshotInput  `json:"snapshot"`
	Holdings *HoldingsInput `json:"holdings,omitempty"`
}

func Load(path string) (*Input, error) {
	value, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var input Input
	if err := json.Unmarshal(value, &input); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &input, nil
}

func (in StrategyInput) Strategy() (*strategy.Strategy, error) {
	address, err := publicKey("strategy address", in.Address)
	if err != nil {
		return nil, err
	}
	d, err := dex.Parse(in.Dex)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %v: %w", in.Address, err, errs.ErrInvalidConfig)
	}
	poolKey, err := publicKey("pool", in.Pool)
	if err != nil {
		return nil, err
	}
	mintA, err := publicKey("token A mint", in.TokenA.Mint)
	if err != nil {
		return nil, err
	}
	mintB, err := publicKey("token B mint", in.TokenB.Mint)
	if err != nil {
		return nil, err
	}

	s := strategy.New(address, d, poolKey,
		strategy.Token{Mint: mintA, Decimals: in.TokenA.Decimals},
		strategy.Token{Mint: mintB, Decimals: in.TokenB.Decimals})
	s.BinStep = in.BinStep
	s.CurrentRange = strategy.Range{TickLower: in.CurrentRange.TickLower, TickUpper: in.CurrentRange.TickUpper}
	if s.ReferencePrice, err = strategy.ParseReferencePriceType(in.ReferencePrice); err != nil {
		return nil, err
	}
	if in.LookupTable != "" {
		table, err := publicKey("lookup table", in.LookupTable)
		if err != nil {
			return nil, err
		}
		s.LookupTable = &table
	}
	if in.LastRebalance != 0 {
		s.State.LastRebalance = time.Unix(in.LastRebalance, 0).UTC()
	}
	s.State.ExpansionCount = in.ExpansionCount

	kind, err := strategy.ParseKind(in.RebalanceType)
	if err != nil {
		return nil, err
	}
	if s.Config, err = strategy.BuildConfig(kind, in.RebalanceParams); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (in SnapshotInput) Snapshot() (*pool.Snapshot, error) {
	address, err := publicKey("pool", in.Address)
	if err != nil {
		return nil, err
	}
	d, err := dex.Parse(in.Dex)
	if err != nil {
		return nil, fmt.Errorf("pool %s: %v: %w", in.Address, err, errs.ErrInvalidConfig)
	}
	snap := &pool.Snapshot{
		Address:     address,
		Dex:         d,
		CurrentTick: in.CurrentTick,
		TickSpacing: in.TickSpacing,
		BinStep:     in.BinStep,
		FetchedAt:   time.Unix(in.FetchedAt, 0).UTC(),
	}
	if in.SqrtPriceX64 != "" {
		if snap.SqrtPriceX64, err = ui.FromDecimal(in.SqrtPriceX64); err != nil {
			return nil, fmt.Errorf("pool %s sqrt price %q: %v: %w", in.Address, in.SqrtPriceX64, err, errs.ErrPriceOutOfDomain)
		}
	}
	if in.Twap != nil {
		snap.Twap = &pool.Twap{Tick: in.Twap.Tick, ObservedAt: time.Unix(in.Twap.ObservedAt, 0).UTC()}
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return snap, nil
}

func (in HoldingsInput) Holdings() (executor.Holdings, error) {
	a, err := amount("token A", in.TokenA)
	if err != nil {
		return executor.Holdings{}, err
	}
	b, err := amount("token B", in.TokenB)
	if err != nil {
		return executor.Holdings{}, err
	}
	return executor.Holdings{A: a, B: b}, nil
}

func publicKey(name, s string) (solana.PublicKey, error) {
	key, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%s %q: %v: %w", name, s, err, errs.ErrInvalidConfig)
	}
	return key, nil
}

func amount(name, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s amount %q: %v: %w", name, s, err, errs.ErrInvalidConfig)
	}
	if v.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s amount %s: %w", name, v, errs.ErrInsufficientBalance)
	}
	return v, nil
}
