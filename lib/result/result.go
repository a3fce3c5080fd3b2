package result

import (
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/executor"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/rangecalc"
	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/strategy"

	"github.com/gagliardetto/solana-go"
)

type Range struct {
	TickLower  int    `json:"tick_lower"`
	TickUpper  int    `json:"tick_upper"`
	PriceLower string `json:"price_lower"`
	PriceUpper string `json:"price_upper"`
	OutOfRange bool   `json:"out_of_range,omitempty"`
}

type Config struct {
	Kind   string            `json:"kind"`
	Params map[string]string `json:"params,omitempty"`
}

type Decision struct {
	Strategy         string  `json:"strategy"`
	Kind             string  `json:"kind"`
	Action           string  `json:"action"`
	Reason           string  `json:"reason"`
	ReferenceTick    int     `json:"reference_tick"`
	ReferencePrice   string  `json:"reference_price"`
	Range            *Range  `json:"range,omitempty"`
	DestinationToken string  `json:"destination_token,omitempty"`
	NextConfig       *Config `json:"next_config,omitempty"`
	LastRebalance    int64   `json:"last_rebalance,omitempty"`
	ExpansionCount   int     `json:"expansion_count"`
}

type Swap struct {
	TokenAToSwap string `json:"token_a_to_swap"`
	TokenBToSwap string `json:"token_b_to_swap"`
	IdealA       string `json:"ideal_a"`
	IdealB       string `json:"ideal_b"`
}

type Plan struct {
	ID       string   `json:"id"`
	Strategy string   `json:"strategy"`
	Action   string   `json:"action"`
	Range    *Range   `json:"range,omitempty"`
	Swap     *Swap    `json:"swap,omitempty"`
	Steps    []string `json:"steps"`
}

type Progress struct {
	PlanID        string   `json:"plan_id"`
	LastCompleted int      `json:"last_completed"`
	Steps         int      `json:"steps"`
	Signatures    []string `json:"signatures"`
}

// Outcome is one strategy of a run.
type Outcome struct {
	Decision *Decision `json:"decision,omitempty"`
	Plan     *Plan     `json:"plan,omitempty"`
	Progress *Progress `json:"progress,omitempty"`
	Error    string    `json:"error,omitempty"`
}

type Save struct {
	GeneratedAt int64     `json:"generated_at"`
	DryRun      bool      `json:"dry_run"`
	Outcomes    []Outcome `json:"outcomes"`
}

func NewRange(r rangecalc.PriceRange) *Range {
	if r.TickLower == 0 && r.TickUpper == 0 && r.PriceLower.IsZero() {
		return nil
	}
	return &Range{
		TickLower:  r.TickLower,
		TickUpper:  r.TickUpper,
		PriceLower: r.PriceLower.String(),
		PriceUpper: r.PriceUpper.String(),
		OutOfRange: r.OutOfRange,
	}
}

func NewDecision(address solana.PublicKey, d strategy.Decision) *Decision {
	out := &Decision{
		Strategy:       address.String(),
		Kind:           d.Kind.String(),
		Action:         d.Action.String(),
		Reason:         d.Reason,
		ReferenceTick:  d.ReferenceTick,
		ReferencePrice: d.ReferencePrice.String(),
		Range:          NewRange(d.Range),
		ExpansionCount: d.NextState.ExpansionCount,
	}
	if d.Action == strategy.ActionExit {
		out.DestinationToken = d.DestinationToken.String()
	}
	if d.Triggered() && d.NextConfig != nil {
		out.NextConfig = &Config{Kind: d.NextConfig.Kind().String(), Params: strategy.ConfigParams(d.NextConfig)}
	}
	if !d.NextState.LastRebalance.IsZero() {
		out.LastRebalance = d.NextState.LastRebalance.Unix()
	}
	return out
}

func NewPlan(p *executor.Plan) *Plan {
	out := &Plan{
		ID:       p.ID.String(),
		Strategy: p.Strategy.String(),
		Action:   p.Action.String(),
		Range:    NewRange(p.Range),
		Steps:    make([]string, len(p.Steps)),
	}
	if !p.Swap.IsEmpty() {
		out.Swap = &Swap{
			TokenAToSwap: p.Swap.TokenAToSwap.String(),
			TokenBToSwap: p.Swap.TokenBToSwap.String(),
			IdealA:       p.Swap.IdealA.String(),
			IdealB:       p.Swap.IdealB.String(),
		}
	}
	for i, kind := range p.Kinds() {
		out.Steps[i] = kind.String()
	}
	return out
}

func NewOutcome(o executor.Outcome) Outcome {
	var out Outcome
	if o.Err != nil {
		out.Error = o.Err.Error()
	}
	// strategies that failed before evaluation have no decision
	if o.Decision.Reason != "" {
		out.Decision = NewDecision(o.Strategy, o.Decision)
	}
	if o.Plan != nil {
		out.Plan = NewPlan(o.Plan)
	}
	if o.Progress != nil {
		out.Progress = &Progress{
			PlanID:        o.Progress.PlanID.String(),
			LastCompleted: o.Progress.LastCompleted,
			Steps:         o.Progress.Steps,
			Signatures:    make([]string, len(o.Progress.Signatures)),
		}
		for i, sig := range o.Progress.Signatures {
			out.Progress.Signatures[i] = sig.String()
		}
	}
	return out
}
