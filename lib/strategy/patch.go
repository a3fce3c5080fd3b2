package strategy

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/errs"

	"github.com/shopspring/decimal"
)

// ApplyPatch returns cfg with one field replaced. The variant never
// changes; naming a field the variant does not carry is ErrInvalidConfig.
func ApplyPatch(cfg RebalanceConfig, field, value string) (RebalanceConfig, error) {
	patched, err := patch(cfg, field, value)
	if err != nil {
		return nil, err
	}
	if err := patched.Validate(); err != nil {
		return nil, err
	}
	return patched, nil
}

// BuildConfig builds a config of kind from wire field values. Fields left
// out keep their zero value; the result is validated once all are set.
func BuildConfig(kind Kind, params map[string]string) (RebalanceConfig, error) {
	var cfg RebalanceConfig
	switch kind {
	case KindManual:
		cfg = Manual{}
	case KindPricePercentage:
		cfg = PricePercentage{}
	case KindPricePercentageWithReset:
		cfg = PricePercentageWithReset{}
	case KindDrift:
		cfg = Drift{}
	case KindTakeProfit:
		cfg = TakeProfit{}
	case KindPeriodicRebalance:
		cfg = PeriodicRebalance{}
	case KindExpander:
		cfg = Expander{}
	default:
		return nil, fmt.Errorf("rebalance method %s: %w", kind, errs.ErrInvalidConfig)
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	var err error
	for _, name := range names {
		if cfg, err = patch(cfg, name, params[name]); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigParams returns the wire field values of cfg, the inverse of
// BuildConfig.
func ConfigParams(cfg RebalanceConfig) map[string]string {
	switch c := cfg.(type) {
	case Manual:
		return paramsOf(c)
	case PricePercentage:
		return paramsOf(c)
	case PricePercentageWithReset:
		return paramsOf(c)
	case Drift:
		return paramsOf(c)
	case TakeProfit:
		return paramsOf(c)
	case PeriodicRebalance:
		return paramsOf(c)
	case Expander:
		return paramsOf(c)
	}
	return nil
}

func patch(cfg RebalanceConfig, field, value string) (RebalanceConfig, error) {
	switch c := cfg.(type) {
	case nil:
		return nil, fmt.Errorf("nil rebalance config: %w", errs.ErrInvalidConfig)
	case Manual:
		return patchVariant(c, field, value)
	case PricePercentage:
		return patchVariant(c, field, value)
	case PricePercentageWithReset:
		return patchVariant(c, field, value)
	case Drift:
		return patchVariant(c, field, value)
	case TakeProfit:
		return patchVariant(c, field, value)
	case PeriodicRebalance:
		return patchVariant(c, field, value)
	case Expander:
		return patchVariant(c, field, value)
	}
	return nil, fmt.Errorf("rebalance config %T: %w", cfg, errs.ErrUnsupported)
}

func patchVariant[T RebalanceConfig](c T, field, value string) (RebalanceConfig, error) {
	if err := setField(c.Kind(), fieldPointers(&c), field, value); err != nil {
		return nil, err
	}
	return c, nil
}

func paramsOf[T RebalanceConfig](c T) map[string]string {
	fields := fieldPointers(&c)
	out := make(map[string]string, len(fields))
	for name, target := range fields {
		out[name] = formatField(target)
	}
	return out
}

// fieldPointers maps the wire names of a variant's fields to pointers into
// the variant c points at.
func fieldPointers(c any) map[string]any {
	switch c := c.(type) {
	case *PricePercentage:
		return map[string]any{
			"lowerRangeBps": &c.LowerRangeBps,
			"upperRangeBps": &c.UpperRangeBps,
		}
	case *PricePercentageWithReset:
		return map[string]any{
			"lowerRangeBps":      &c.LowerRangeBps,
			"upperRangeBps":      &c.UpperRangeBps,
			"resetLowerRangeBps": &c.ResetLowerRangeBps,
			"resetUpperRangeBps": &c.ResetUpperRangeBps,
		}
	case *Drift:
		return map[string]any{
			"startMidTick":   &c.StartMidTick,
			"ticksBelowMid":  &c.TicksBelowMid,
			"ticksAboveMid":  &c.TicksAboveMid,
			"secondsPerTick": &c.SecondsPerTick,
			"direction":      &c.Direction,
		}
	case *TakeProfit:
		return map[string]any{
			"lowerPrice":       &c.LowerPrice,
			"upperPrice":       &c.UpperPrice,
			"destinationToken": &c.DestinationToken,
		}
	case *PeriodicRebalance:
		return map[string]any{
			"periodSeconds": &c.PeriodSeconds,
			"lowerRangeBps": &c.LowerRangeBps,
			"upperRangeBps": &c.UpperRangeBps,
		}
	case *Expander:
		return map[string]any{
			"lowerRangeBps":      &c.LowerRangeBps,
			"upperRangeBps":      &c.UpperRangeBps,
			"resetLowerRangeBps": &c.ResetLowerRangeBps,
			"resetUpperRangeBps": &c.ResetUpperRangeBps,
			"expansionBps":       &c.ExpansionBps,
			"maxExpansions":      &c.MaxExpansions,
			"swapUnevenAllowed":  &c.SwapUnevenAllowed,
		}
	}
	return nil
}

func setField(kind Kind, fields map[string]any, field, value string) error {
	target, ok := fields[field]
	if !ok {
		return fmt.Errorf("%s has no field %q: %w", kind, field, errs.ErrInvalidConfig)
	}
	bad := func(err error) error {
		return fmt.Errorf("%s.%s = %q: %v: %w", kind, field, value, err, errs.ErrInvalidConfig)
	}
	switch p := target.(type) {
	case *int:
		v, err := strconv.Atoi(value)
		if err != nil {
			return bad(err)
		}
		*p = v
	case *int64:
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return bad(err)
		}
		*p = v
	case *bool:
		v, err := strconv.ParseBool(value)
		if err != nil {
			return bad(err)
		}
		*p = v
	case *decimal.Decimal:
		v, err := decimal.NewFromString(value)
		if err != nil {
			return bad(err)
		}
		*p = v
	case *TokenSide:
		v, err := strconv.ParseUint(value, 10, 8)
		if err != nil {
			return bad(err)
		}
		*p = TokenSide(v)
	case *DriftDirection:
		v, err := strconv.ParseUint(value, 10, 8)
		if err != nil {
			return bad(err)
		}
		*p = DriftDirection(v)
	default:
		return fmt.Errorf("%s.%s has type %T: %w", kind, field, target, errs.ErrUnsupported)
	}
	return nil
}

func formatField(target any) string {
	switch p := target.(type) {
	case *int:
		return strconv.Itoa(*p)
	case *int64:
		return strconv.FormatInt(*p, 10)
	case *bool:
		return strconv.FormatBool(*p)
	case *decimal.Decimal:
		return p.String()
	case *TokenSide:
		return strconv.FormatUint(uint64(*p), 10)
	case *DriftDirection:
		return strconv.FormatUint(uint64(*p), 10)
	}
	return ""
}
