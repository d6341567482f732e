// Package agent adapts the utility views and the concession strategy to a host
// that drives one trading round at a time.
package agent

import (
	"errors"
	"fmt"
	"strings"

	"negotiator/internal/forecast"
	"negotiator/internal/logger"
	"negotiator/internal/strategy"
	"negotiator/internal/types"
	"negotiator/internal/ufun"
)

// DecisionInput 是一次 propose/respond 所需的全部回合信息。
type DecisionInput struct {
	Partner   string            `json:"partner"`
	Economics types.Economics   `json:"economics"`
	Exogenous types.Exogenous   `json:"exogenous"`
	Bounds    types.PriceBounds `json:"bounds"`
	// Step is the host's round index; it stamps the offers.
	Step int `json:"step"`
	// NegotiationStep is how many steps the focal negotiation has run.
	NegotiationStep int     `json:"negotiation_step"`
	T               float64 `json:"t"`
	// Accepted 是本回合已成交的合约。
	Accepted []types.Offer `json:"accepted"`
	// Pending 是其他仍在进行的谈判最近收到的报价。
	Pending               []types.Offer `json:"pending"`
	LastOpponentOffer     *types.Offer  `json:"last_opponent_offer,omitempty"`
	NCompetitors          int           `json:"n_competitors"`
	OwnRemaining          int           `json:"own_remaining"`
	RemainingNegotiations int           `json:"remaining_negotiations"`
	NPartners             int           `json:"n_partners"`
	// TargetQuantity caps the quantity proposed to Partner when set.
	TargetQuantity *int `json:"target_quantity,omitempty"`
}

func (in DecisionInput) context() ufun.Context {
	return ufun.Context{Economics: in.Economics, Exogenous: in.Exogenous, Bounds: in.Bounds, Step: in.Step}
}

func (in DecisionInput) open() ufun.OpenState {
	return ufun.OpenState{
		Pending:               in.Pending,
		Step:                  in.NegotiationStep,
		OwnRemaining:          in.OwnRemaining,
		RemainingNegotiations: in.RemainingNegotiations,
		NPartners:             in.NPartners,
	}
}

// Decision is the outcome of one propose or respond call.
type Decision struct {
	Variant  strategy.Variant `json:"variant"`
	Offer    types.Offer      `json:"offer"`
	Response types.Response   `json:"response,omitempty"`
	Utility  float64          `json:"utility"`
	Target   float64          `json:"target"`
	Plan     *strategy.Plan   `json:"plan,omitempty"`
}

// ErrTableKind marks a predictive variant paired with a table of the wrong kind.
var ErrTableKind = errors.New("agent: forecast table kind does not match variant")

// TableKindFor is the table kind a predictive variant reads. ok is false for
// variants that need no table.
func TableKindFor(v strategy.Variant) (forecast.Kind, bool) {
	switch v {
	case strategy.VariantPredictiveMean:
		return forecast.KindMean, true
	case strategy.VariantPredictiveMeanOrDisagreement:
		return forecast.KindMeanOrDisagreement, true
	default:
		return "", false
	}
}

type kindedForecaster interface {
	Kind() forecast.Kind
}

type DeciderParams struct {
	Strategy    strategy.Params
	Counterpart ufun.CounterpartConfig
	// Table is required by the predictive variants.
	Table ufun.Forecaster
}

// Decider builds the variant's utility views for every call and delegates to the
// concession strategy. It is safe for concurrent use.
type Decider struct {
	conc        *strategy.Concession
	counterpart ufun.CounterpartConfig
	table       ufun.Forecaster
}

func NewDecider(p DeciderParams) (*Decider, error) {
	conc, err := strategy.New(p.Strategy)
	if err != nil {
		return nil, fmt.Errorf("strategy params: %w", err)
	}
	if want, ok := TableKindFor(p.Strategy.Variant); ok {
		if isNilForecaster(p.Table) {
			return nil, fmt.Errorf("variant %s requires a forecast table", p.Strategy.Variant)
		}
		if k, ok := p.Table.(kindedForecaster); ok && k.Kind() != want {
			return nil, fmt.Errorf("%w: variant %s needs a %s table, loaded %s", ErrTableKind, p.Strategy.Variant, want, k.Kind())
		}
	}
	return &Decider{conc: conc, counterpart: p.Counterpart, table: p.Table}, nil
}

func isNilForecaster(f ufun.Forecaster) bool {
	if f == nil {
		return true
	}
	t, ok := f.(*forecast.Table)
	return ok && t == nil
}

// WithParams returns a decider sharing the table and counterpart assumptions but
// running different strategy parameters.
func (d *Decider) WithParams(p strategy.Params) (*Decider, error) {
	return NewDecider(DeciderParams{Strategy: p, Counterpart: d.counterpart, Table: d.table})
}

func (d *Decider) Params() strategy.Params { return d.conc.Params() }

// Concession exposes the underlying strategy (aspiration curve rendering).
func (d *Decider) Concession() *strategy.Concession { return d.conc }

// Views builds the agent's own view for the configured variant and the
// counterpart model seeded with the last offer received from the focal partner.
func (d *Decider) Views(in DecisionInput) (strategy.View, ufun.Function, error) {
	ctx := in.context()
	var (
		mine strategy.View
		err  error
	)
	switch d.conc.Params().Variant {
	case strategy.VariantPredictiveMean:
		mine, err = ufun.NewPredictiveMeanView(ctx, in.Accepted, in.open(), d.table)
	case strategy.VariantPredictiveMeanOrDisagreement:
		mine, err = ufun.NewMeanOrDisagreementView(ctx, in.Accepted, in.open(), d.table)
	default:
		mine, err = ufun.NewBilateralView(ctx, in.Accepted, nil)
	}
	if err != nil {
		return nil, nil, err
	}
	theirs := ufun.NewCounterpartModel(d.counterpart, in.Economics.Role, in.NCompetitors, in.LastOpponentOffer)
	return mine, theirs, nil
}

// targetView caps the quantity proposed to a partner at its share of the need.
type targetView struct {
	strategy.View
	limit int
}

func (v targetView) QuantityLimit() int { return v.limit }

func (v targetView) BestOffer() types.Offer {
	o := v.View.BestOffer()
	if o.Quantity > v.limit {
		o.Quantity = v.limit
	}
	return o
}

// Propose returns the offer to send to in.Partner together with the plan behind it.
func (d *Decider) Propose(in DecisionInput, traceID string) (Decision, error) {
	mine, theirs, err := d.Views(in)
	if err != nil {
		return Decision{}, err
	}
	if in.TargetQuantity != nil {
		mine = targetView{View: mine, limit: max(*in.TargetQuantity, 0)}
	}
	plan, err := d.conc.Plan(mine, theirs, in.T)
	if err != nil {
		return Decision{}, err
	}
	dec := Decision{
		Variant: d.conc.Params().Variant,
		Offer:   plan.Offer,
		Utility: plan.OfferUtility,
		Target:  plan.Target,
		Plan:    &plan,
	}
	logger.Debugf("propose %s to %s: t=%.3f target=%.4f frontier=%d fallback=%v",
		dec.Offer, in.Partner, in.T, plan.Target, len(plan.Frontier), plan.Fallback)
	if logger.TraceEnabled() {
		logger.LogDecisionTrace("propose", in.Partner, traceID, planSections(plan))
	}
	return dec, nil
}

// Respond decides whether to accept incoming from in.Partner.
func (d *Decider) Respond(in DecisionInput, incoming types.Offer, traceID string) (Decision, error) {
	mine, _, err := d.Views(in)
	if err != nil {
		return Decision{}, err
	}
	verdict, err := d.conc.Respond(mine, incoming, in.T)
	if err != nil {
		return Decision{}, err
	}
	resp := verdict.Response
	dec := Decision{
		Variant:  d.conc.Params().Variant,
		Offer:    incoming,
		Response: resp,
		Utility:  verdict.Utility,
		Target:   verdict.Aspiration,
	}
	logger.Debugf("respond %s from %s: utility=%.4f aspiration=%.4f -> %s",
		incoming, in.Partner, dec.Utility, dec.Target, resp)
	if logger.TraceEnabled() {
		logger.LogDecisionTrace("respond", in.Partner, traceID, []logger.TraceSection{
			{Title: "incoming", Body: incoming.String()},
			{Title: "utility", Body: fmt.Sprintf("%.6f (aspiration %.6f)", dec.Utility, dec.Target)},
			{Title: "response", Body: string(resp)},
		})
	}
	return dec, nil
}

func planSections(p strategy.Plan) []logger.TraceSection {
	var frontier strings.Builder
	for _, pt := range p.Frontier {
		fmt.Fprintf(&frontier, "%s mine=%.4f theirs=%.4f\n", pt.Offer, pt.Mine, pt.Theirs)
	}
	nash := "none"
	if p.HasNash {
		nash = fmt.Sprintf("%s mine=%.4f theirs=%.4f", p.Nash.Offer, p.Nash.Mine, p.Nash.Theirs)
	}
	return []logger.TraceSection{
		{Title: "aspiration", Body: fmt.Sprintf("t=%.4f aspiration=%.4f best=%s(%.4f) null=%.4f", p.T, p.Aspiration, p.BestOffer, p.BestUtility, p.NullUtility)},
		{Title: "frontier", Body: frontier.String()},
		{Title: "nash", Body: nash},
		{Title: "target", Body: fmt.Sprintf("%.6f", p.Target)},
		{Title: "offer", Body: fmt.Sprintf("%s utility=%.6f fallback=%v", p.Offer, p.OfferUtility, p.Fallback)},
	}
}
