package strategy

import (
	"testing"
	"time"

	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/dex"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/errs"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/pool"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/rangecalc"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/tickmath"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	now      = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	poolKey  = solana.PublicKey{9, 9, 9}
	mintA    = solana.PublicKey{1}
	mintB    = solana.PublicKey{2}
	tickAt20 = 29958
)

func newTestStrategy(cfg RebalanceConfig, r Range) *Strategy {
	s := New(solana.PublicKey{7}, dex.Orca, poolKey, Token{Mint: mintA, Decimals: 6}, Token{Mint: mintB, Decimals: 6})
	s.Config = cfg
	s.CurrentRange = r
	return s
}

func snapshotAt(tick int) *pool.Snapshot {
	return &pool.Snapshot{
		Address:     poolKey,
		Dex:         dex.Orca,
		CurrentTick: tick,
		TickSpacing: 64,
		FetchedAt:   now,
	}
}

func testCalculator(t *testing.T, s *Strategy) *rangecalc.Calculator {
	t.Helper()
	conv, err := s.Converter()
	require.NoError(t, err)
	c, err := rangecalc.New(conv, 64)
	require.NoError(t, err)
	return c
}

func priceAt(t *testing.T, s *Strategy, tick int) decimal.Decimal {
	t.Helper()
	conv, err := s.Converter()
	require.NoError(t, err)
	p, err := conv.TickToPrice(tick)
	require.NoError(t, err)
	return p
}

func TestManualNeverTriggers(t *testing.T) {
	s := newTestStrategy(Manual{}, Range{TickLower: 0, TickUpper: 64})
	d, err := Evaluate(s, snapshotAt(tickAt20), now, Options{})
	require.NoError(t, err)
	assert.Equal(t, ActionNone, d.Action)
	assert.Equal(t, KindManual, d.Kind)
}

func TestPricePercentageNoFlapping(t *testing.T) {
	s := newTestStrategy(PricePercentage{LowerRangeBps: 500, UpperRangeBps: 500}, Range{TickLower: 29440, TickUpper: 30464})
	before := *s
	for i := 0; i < 3; i++ {
		d, err := Evaluate(s, snapshotAt(tickAt20), now, Options{})
		require.NoError(t, err)
		assert.Equal(t, ActionNone, d.Action)
	}
	assert.Equal(t, before, *s)
}

func TestPricePercentageTriggers(t *testing.T) {
	s := newTestStrategy(PricePercentage{LowerRangeBps: 500, UpperRangeBps: 500}, Range{TickLower: 0, TickUpper: 640})

	d, err := Evaluate(s, snapshotAt(tickAt20), now, Options{})
	require.NoError(t, err)
	require.Equal(t, ActionRebalance, d.Action)
	assert.Equal(t, 29440, d.Range.TickLower)
	assert.Equal(t, 30464, d.Range.TickUpper)
	assert.Equal(t, now, d.NextState.LastRebalance)
	assert.Equal(t, s.Config, d.NextConfig)
	assert.Equal(t, Range{TickLower: 0, TickUpper: 640}, s.CurrentRange, "evaluate must not mutate")

	s.Commit(d)
	d, err = Evaluate(s, snapshotAt(tickAt20), now.Add(time.Minute), Options{})
	require.NoError(t, err)
	assert.Equal(t, ActionNone, d.Action)
}

func TestUpperTickIsOutOfRange(t *testing.T) {
	s := newTestStrategy(PricePercentage{LowerRangeBps: 100, UpperRangeBps: 100}, Range{TickLower: 0, TickUpper: 640})
	d, err := Evaluate(s, snapshotAt(640), now, Options{})
	require.NoError(t, err)
	assert.Equal(t, ActionRebalance, d.Action)
	assert.True(t, d.Range.Contains(640))
}

func TestPricePercentageWithResetUsesResetBand(t *testing.T) {
	cfg := PricePercentageWithReset{LowerRangeBps: 100, UpperRangeBps: 100, ResetLowerRangeBps: 1000, ResetUpperRangeBps: 2000}
	s := newTestStrategy(cfg, Range{TickLower: 0, TickUpper: 640})

	d, err := Evaluate(s, snapshotAt(tickAt20), now, Options{})
	require.NoError(t, err)
	require.Equal(t, ActionRebalance, d.Action)

	want, err := testCalculator(t, s).FromBps(priceAt(t, s, tickAt20), 1000, 2000)
	require.NoError(t, err)
	assert.Equal(t, want, d.Range)
}

func TestDegenerateRangeIsNoAction(t *testing.T) {
	s := newTestStrategy(PricePercentage{}, Range{TickLower: 0, TickUpper: 64})
	d, err := Evaluate(s, snapshotAt(640), now, Options{})
	require.NoError(t, err)
	assert.Equal(t, ActionNone, d.Action)
	assert.True(t, d.Range.OutOfRange)
}

func TestInvalidConfig(t *testing.T) {
	configs := []RebalanceConfig{
		PricePercentage{LowerRangeBps: 5000, UpperRangeBps: 5000},
		PricePercentage{LowerRangeBps: -1, UpperRangeBps: 5},
		PricePercentageWithReset{LowerRangeBps: 100, UpperRangeBps: 100, ResetLowerRangeBps: 9000, ResetUpperRangeBps: 1000},
		Drift{TicksBelowMid: 10, TicksAboveMid: 10},
		Drift{SecondsPerTick: 1},
		Drift{SecondsPerTick: 1, TicksBelowMid: 1, Direction: 2},
		TakeProfit{LowerPrice: decimal.NewFromInt(2), UpperPrice: decimal.NewFromInt(1)},
		TakeProfit{LowerPrice: decimal.Zero, UpperPrice: decimal.NewFromInt(1)},
		PeriodicRebalance{LowerRangeBps: 100, UpperRangeBps: 100},
		Expander{ResetLowerRangeBps: 100, ResetUpperRangeBps: 100},
		Expander{ResetLowerRangeBps: 4000, ResetUpperRangeBps: 4000, ExpansionBps: 500, MaxExpansions: 2},
	}
	for _, cfg := range configs {
		s := newTestStrategy(cfg, Range{TickLower: 0, TickUpper: 64})
		_, err := Evaluate(s, snapshotAt(tickAt20), now, Options{})
		assert.ErrorIs(t, err, errs.ErrInvalidConfig, "%#v", cfg)
	}
}

func TestTakeProfitExitsToTokenA(t *testing.T) {
	cfg := TakeProfit{
		LowerPrice:       decimal.RequireFromString("0.96"),
		UpperPrice:       decimal.RequireFromString("1.03"),
		DestinationToken: SideA,
	}
	s := newTestStrategy(cfg, Range{TickLower: -448, TickUpper: 320})
	conv, err := s.Converter()
	require.NoError(t, err)
	tick, err := conv.PriceToTick(decimal.RequireFromString("0.95"), tickmath.Nearest)
	require.NoError(t, err)

	d, err := Evaluate(s, snapshotAt(tick), now, Options{})
	require.NoError(t, err)
	assert.Equal(t, ActionExit, d.Action)
	assert.Equal(t, SideA, d.DestinationToken)
	assert.Equal(t, Manual{}, d.NextConfig)

	s.Commit(d)
	d, err = Evaluate(s, snapshotAt(tick), now.Add(time.Hour), Options{})
	require.NoError(t, err)
	assert.Equal(t, ActionNone, d.Action, "take profit must not fire twice")
}

func TestTakeProfitInsideBand(t *testing.T) {
	cfg := TakeProfit{
		LowerPrice:       decimal.RequireFromString("0.96"),
		UpperPrice:       decimal.RequireFromString("1.03"),
		DestinationToken: SideB,
	}
	s := newTestStrategy(cfg, Range{TickLower: -448, TickUpper: 320})
	d, err := Evaluate(s, snapshotAt(0), now, Options{})
	require.NoError(t, err)
	assert.Equal(t, ActionNone, d.Action)

	d, err = Evaluate(s, snapshotAt(400), now, Options{})
	require.NoError(t, err)
	assert.Equal(t, ActionExit, d.Action)
	assert.Equal(t, SideB, d.DestinationToken)
}

func TestExpanderFallsBackAfterMaxExpansions(t *testing.T) {
	cfg := Expander{
		LowerRangeBps:      100,
		UpperRangeBps:      100,
		ResetLowerRangeBps: 500,
		ResetUpperRangeBps: 500,
		ExpansionBps:       100,
		MaxExpansions:      2,
		SwapUnevenAllowed:  true,
	}
	s := newTestStrategy(cfg, Range{TickLower: 0, TickUpper: 640})
	calc := testCalculator(t, s)

	steps := []struct {
		tick      int
		wantBps   int
		wantCount int
	}{
		{tickAt20, 600, 1},
		{40000, 700, 2},
		{50000, 500, 0},
		{60000, 600, 1},
	}
	for i, step := range steps {
		d, err := Evaluate(s, snapshotAt(step.tick), now.Add(time.Duration(i)*time.Hour), Options{})
		require.NoError(t, err)
		require.Equal(t, ActionRebalance, d.Action, "trigger %d", i+1)
		assert.True(t, d.SwapUnevenAllowed)
		assert.Equal(t, step.wantCount, d.NextState.ExpansionCount, "trigger %d", i+1)

		want, err := calc.FromBps(priceAt(t, s, step.tick), step.wantBps, step.wantBps)
		require.NoError(t, err)
		assert.Equal(t, want.TickLower, d.Range.TickLower, "trigger %d", i+1)
		assert.Equal(t, want.TickUpper, d.Range.TickUpper, "trigger %d", i+1)
		s.Commit(d)
	}
}

func TestExpanderCounterResetsOnManualRangeChange(t *testing.T) {
	cfg := Expander{ResetLowerRangeBps: 500, ResetUpperRangeBps: 500, ExpansionBps: 100, MaxExpansions: 3}
	s := newTestStrategy(cfg, Range{TickLower: 0, TickUpper: 640})
	s.State.ExpansionCount = 2

	require.NoError(t, s.ChangeRange(Range{TickLower: -640, TickUpper: 640}, 64))
	assert.Zero(t, s.State.ExpansionCount)
	assert.ErrorIs(t, s.ChangeRange(Range{TickLower: -10, TickUpper: 640}, 64), errs.ErrInvalidConfig)
	assert.ErrorIs(t, s.ChangeRange(Range{TickLower: 640, TickUpper: 640}, 64), errs.ErrInvalidConfig)
}

func TestDrift(t *testing.T) {
	cfg := Drift{StartMidTick: 1000, TicksBelowMid: 200, TicksAboveMid: 200, SecondsPerTick: 60, Direction: DriftUp}
	s := newTestStrategy(cfg, Range{TickLower: 768, TickUpper: 1216})
	s.State.LastRebalance = now

	d, err := Evaluate(s, snapshotAt(1000), now.Add(10*time.Minute), Options{})
	require.NoError(t, err)
	assert.Equal(t, ActionNone, d.Action)

	d, err = Evaluate(s, snapshotAt(1000), now.Add(32*time.Minute), Options{})
	require.NoError(t, err)
	require.Equal(t, ActionRebalance, d.Action)
	assert.Equal(t, 832, d.Range.TickLower)
	assert.Equal(t, 1280, d.Range.TickUpper)
	assert.Equal(t, 1032, d.NextConfig.(Drift).StartMidTick)
	assert.Equal(t, now.Add(32*time.Minute), d.NextState.LastRebalance)

	// the next evaluation continues from the new mid without a jump
	s.Commit(d)
	d, err = Evaluate(s, snapshotAt(1000), now.Add(33*time.Minute), Options{})
	require.NoError(t, err)
	assert.Equal(t, ActionNone, d.Action)
}

func TestDriftCarriesPartialPeriods(t *testing.T) {
	cfg := Drift{StartMidTick: 1000, TicksBelowMid: 200, TicksAboveMid: 200, SecondsPerTick: 100, Direction: DriftUp}
	s := newTestStrategy(cfg, Range{TickLower: 768, TickUpper: 1216})
	s.State.LastRebalance = now

	const step = 6450 * time.Second
	at := now
	for i := 1; i <= 40; i++ {
		at = at.Add(step)
		d, err := Evaluate(s, snapshotAt(1000), at, Options{})
		require.NoError(t, err)
		require.Equal(t, ActionRebalance, d.Action, "evaluation %d", i)
		s.Commit(d)
	}

	// 258000s at 100s per tick
	assert.Equal(t, 3580, s.Config.(Drift).StartMidTick)
	assert.Equal(t, now.Add(258000*time.Second), s.State.LastRebalance)

	// the 50s past the last whole period carry over
	cfg = Drift{StartMidTick: 1000, TicksBelowMid: 200, TicksAboveMid: 200, SecondsPerTick: 100, Direction: DriftUp}
	s = newTestStrategy(cfg, Range{TickLower: 768, TickUpper: 1216})
	s.State.LastRebalance = now
	d, err := Evaluate(s, snapshotAt(1000), now.Add(6450*time.Second), Options{})
	require.NoError(t, err)
	require.Equal(t, ActionRebalance, d.Action)
	assert.Equal(t, 1064, d.NextConfig.(Drift).StartMidTick)
	assert.Equal(t, now.Add(6400*time.Second), d.NextState.LastRebalance)
}

func TestDriftDown(t *testing.T) {
	cfg := Drift{StartMidTick: 1000, TicksBelowMid: 200, TicksAboveMid: 200, SecondsPerTick: 60, Direction: DriftDown}
	s := newTestStrategy(cfg, Range{TickLower: 768, TickUpper: 1216})
	s.State.LastRebalance = now

	r, err := NewRange(s, snapshotAt(1000), now.Add(32*time.Minute), Options{})
	require.NoError(t, err)
	// mid 968: [768, 1168] aligned
	assert.Equal(t, 768, r.TickLower)
	assert.Equal(t, 1216, r.TickUpper)

	r, err = NewRange(s, snapshotAt(1000), now.Add(200*time.Minute), Options{})
	require.NoError(t, err)
	// mid 800: [600, 1000] aligned
	assert.Equal(t, 576, r.TickLower)
	assert.Equal(t, 1024, r.TickUpper)
}

func TestPeriodicRebalance(t *testing.T) {
	cfg := PeriodicRebalance{PeriodSeconds: 3600, LowerRangeBps: 500, UpperRangeBps: 500}
	s := newTestStrategy(cfg, Range{TickLower: 29440, TickUpper: 30464})
	s.State.LastRebalance = now.Add(-30 * time.Minute)

	d, err := Evaluate(s, snapshotAt(tickAt20), now, Options{})
	require.NoError(t, err)
	assert.Equal(t, ActionNone, d.Action)

	s.State.LastRebalance = now.Add(-2 * time.Hour)
	d, err = Evaluate(s, snapshotAt(tickAt20), now, Options{})
	require.NoError(t, err)
	assert.Equal(t, ActionRebalance, d.Action)

	d, err = Evaluate(s, snapshotAt(tickAt20), now, Options{RequireOutOfRange: true})
	require.NoError(t, err)
	assert.Equal(t, ActionNone, d.Action)

	d, err = Evaluate(s, snapshotAt(40000), now, Options{RequireOutOfRange: true})
	require.NoError(t, err)
	assert.Equal(t, ActionRebalance, d.Action)
}

func TestTwapReference(t *testing.T) {
	s := newTestStrategy(PricePercentage{LowerRangeBps: 500, UpperRangeBps: 500}, Range{TickLower: 29440, TickUpper: 30464})
	s.ReferencePrice = ReferenceTwap
	snap := snapshotAt(tickAt20)

	_, err := Evaluate(s, snap, now, Options{})
	assert.ErrorIs(t, err, errs.ErrStaleReference)

	snap.Twap = &pool.Twap{Tick: 40000, ObservedAt: now.Add(-10 * time.Minute)}
	_, err = Evaluate(s, snap, now, Options{MaxTwapAge: time.Minute})
	assert.ErrorIs(t, err, errs.ErrStaleReference)

	d, err := Evaluate(s, snap, now, Options{MaxTwapAge: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, ActionRebalance, d.Action)
	assert.Equal(t, 40000, d.ReferenceTick)
	assert.True(t, d.Range.Contains(40000))
}

func TestStaleSnapshot(t *testing.T) {
	s := newTestStrategy(PricePercentage{LowerRangeBps: 500, UpperRangeBps: 500}, Range{TickLower: 29440, TickUpper: 30464})
	snap := snapshotAt(tickAt20)
	snap.FetchedAt = now.Add(-time.Hour)

	_, err := Evaluate(s, snap, now, Options{MaxSnapshotAge: time.Minute})
	assert.ErrorIs(t, err, errs.ErrStaleReference)
	_, err = Evaluate(s, snap, now, Options{})
	assert.NoError(t, err)
}

func TestSnapshotMustMatchStrategy(t *testing.T) {
	s := newTestStrategy(Manual{}, Range{TickLower: 0, TickUpper: 64})
	snap := snapshotAt(0)
	snap.Address = solana.PublicKey{1, 2, 3}
	_, err := Evaluate(s, snap, now, Options{})
	assert.ErrorIs(t, err, errs.ErrInvalidConfig)

	snap = snapshotAt(0)
	s.CurrentRange = Range{TickLower: 1, TickUpper: 64}
	_, err = Evaluate(s, snap, now, Options{})
	assert.ErrorIs(t, err, errs.ErrInvalidConfig)
}

func TestNewRangeIgnoresTrigger(t *testing.T) {
	s := newTestStrategy(PricePercentage{LowerRangeBps: 500, UpperRangeBps: 500}, Range{TickLower: 29440, TickUpper: 30464})
	r, err := NewRange(s, snapshotAt(tickAt20), now, Options{})
	require.NoError(t, err)
	assert.Equal(t, 29440, r.TickLower)
	assert.Equal(t, 30464, r.TickUpper)

	s.Config = Manual{}
	r, err = NewRange(s, snapshotAt(tickAt20), now, Options{})
	require.NoError(t, err)
	assert.Equal(t, 29440, r.TickLower)
	assert.False(t, r.OutOfRange)
}

func TestValidateMintOrder(t *testing.T) {
	s := New(solana.PublicKey{7}, dex.Orca, poolKey, Token{Mint: mintB, Decimals: 6}, Token{Mint: mintA, Decimals: 6})
	assert.ErrorIs(t, s.Validate(), errs.ErrInvalidConfig)

	s.Dex = dex.Raydium
	assert.NoError(t, s.Validate())

	s = New(solana.PublicKey{7}, dex.Raydium, poolKey, Token{Mint: mintA, Decimals: 6}, Token{Mint: mintA, Decimals: 6})
	assert.ErrorIs(t, s.Validate(), errs.ErrInvalidConfig)
}

func TestChangeRebalanceMethod(t *testing.T) {
	s := newTestStrategy(Manual{}, Range{TickLower: 0, TickUpper: 64})
	s.State.ExpansionCount = 3

	err := s.ChangeRebalanceMethod(PricePercentage{LowerRangeBps: 9000, UpperRangeBps: 1000})
	assert.ErrorIs(t, err, errs.ErrInvalidConfig)
	assert.Equal(t, Manual{}, s.Config)

	require.NoError(t, s.ChangeRebalanceMethod(PricePercentage{LowerRangeBps: 100, UpperRangeBps: 200}))
	assert.Equal(t, KindPricePercentage, s.Config.Kind())
	assert.Zero(t, s.State.ExpansionCount)
}

func TestApplyPatch(t *testing.T) {
	cfg := PricePercentage{LowerRangeBps: 100, UpperRangeBps: 200}

	patched, err := ApplyPatch(cfg, "lowerRangeBps", "300")
	require.NoError(t, err)
	assert.Equal(t, PricePercentage{LowerRangeBps: 300, UpperRangeBps: 200}, patched)
	assert.Equal(t, 100, cfg.LowerRangeBps, "original untouched")

	_, err = ApplyPatch(cfg, "expansionBps", "10")
	assert.ErrorIs(t, err, errs.ErrInvalidConfig)
	_, err = ApplyPatch(cfg, "lowerRangeBps", "ten")
	assert.ErrorIs(t, err, errs.ErrInvalidConfig)
	_, err = ApplyPatch(cfg, "lowerRangeBps", "9900")
	assert.ErrorIs(t, err, errs.ErrInvalidConfig)
	_, err = ApplyPatch(Manual{}, "lowerRangeBps", "1")
	assert.ErrorIs(t, err, errs.ErrInvalidConfig)

	tp, err := ApplyPatch(TakeProfit{LowerPrice: decimal.NewFromInt(1), UpperPrice: decimal.NewFromInt(2)}, "upperPrice", "2.5")
	require.NoError(t, err)
	assert.True(t, tp.(TakeProfit).UpperPrice.Equal(decimal.RequireFromString("2.5")))

	ex, err := ApplyPatch(Expander{ResetLowerRangeBps: 1, ResetUpperRangeBps: 1, ExpansionBps: 1}, "swapUnevenAllowed", "true")
	require.NoError(t, err)
	assert.True(t, ex.(Expander).SwapUnevenAllowed)

	dr, err := ApplyPatch(Drift{SecondsPerTick: 1, TicksBelowMid: 1}, "direction", "1")
	require.NoError(t, err)
	assert.Equal(t, DriftUp, dr.(Drift).Direction)

	s := newTestStrategy(PeriodicRebalance{PeriodSeconds: 60, LowerRangeBps: 1, UpperRangeBps: 1}, Range{})
	require.NoError(t, s.UpdateConfigField("periodSeconds", "120"))
	assert.Equal(t, int64(120), s.Config.(PeriodicRebalance).PeriodSeconds)
}

func TestParseKind(t *testing.T) {
	for k := KindManual; k <= KindExpander; k++ {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("Bollinger")
	assert.ErrorIs(t, err, errs.ErrInvalidConfig)
}

func TestBuildConfig(t *testing.T) {
	cfg, err := BuildConfig(KindExpander, map[string]string{
		"lowerRangeBps":      "100",
		"upperRangeBps":      "100",
		"resetLowerRangeBps": "500",
		"resetUpperRangeBps": "500",
		"expansionBps":       "100",
		"maxExpansions":      "2",
	})
	require.NoError(t, err)
	assert.Equal(t, Expander{
		LowerRangeBps: 100, UpperRangeBps: 100,
		ResetLowerRangeBps: 500, ResetUpperRangeBps: 500,
		ExpansionBps: 100, MaxExpansions: 2,
	}, cfg)

	again, err := BuildConfig(cfg.Kind(), ConfigParams(cfg))
	require.NoError(t, err)
	assert.Equal(t, cfg, again)

	// validation runs after every field is applied
	_, err = BuildConfig(KindDrift, map[string]string{"secondsPerTick": "60", "ticksBelowMid": "128"})
	require.NoError(t, err)
	_, err = BuildConfig(KindDrift, map[string]string{"ticksBelowMid": "128"})
	assert.ErrorIs(t, err, errs.ErrInvalidConfig)

	manual, err := BuildConfig(KindManual, nil)
	require.NoError(t, err)
	assert.Equal(t, Manual{}, manual)
	assert.Empty(t, ConfigParams(manual))
}
