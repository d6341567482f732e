package strategy

import (
	"errors"
	"fmt"
	"math"

	"negotiator/internal/types"
	"negotiator/internal/ufun"
)

// ErrTimeOutOfRange is returned when the negotiation time fraction is outside [0,1].
var ErrTimeOutOfRange = errors.New("strategy: time fraction outside [0,1]")

// View is the agent's own utility for the focal negotiation.
type View interface {
	ufun.Function
	BestOffer() types.Offer
	Bounds() types.PriceBounds
	Step() int
}

// QuantityLimiter is implemented by views that cap the quantity worth asking for.
type QuantityLimiter interface {
	QuantityLimit() int
}

// Concession proposes frontier offers along a time-decaying aspiration curve.
// It holds no per-negotiation state; every call recomputes from the views.
type Concession struct {
	params Params
}

func New(params Params) (*Concession, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Concession{params: params}, nil
}

func (c *Concession) Params() Params { return c.params }

// Aspiration is 1 - t^exp.
func (c *Concession) Aspiration(t float64) float64 {
	return 1 - math.Pow(t, c.params.AspirationExponent)
}

// Plan is the full breakdown behind one proposal.
type Plan struct {
	T          float64 `json:"t"`
	Aspiration float64 `json:"aspiration"`
	Target     float64 `json:"target"`
	// Floor is the utility the target decays to at t=1.
	Floor        float64     `json:"floor"`
	BestOffer    types.Offer `json:"best_offer"`
	BestUtility  float64     `json:"best_utility"`
	NullUtility  float64     `json:"null_utility"`
	Nash         Point       `json:"nash"`
	HasNash      bool        `json:"has_nash"`
	Grid         []Point     `json:"-"`
	Frontier     []Point     `json:"frontier"`
	Offer        types.Offer `json:"offer"`
	OfferUtility float64     `json:"offer_utility"`
	Fallback     bool        `json:"fallback"`
}

func checkTime(t float64) error {
	if math.IsNaN(t) || t < 0 || t > 1 {
		return fmt.Errorf("%w: %v", ErrTimeOutOfRange, t)
	}
	return nil
}

// Plan computes the frontier, Nash point, target and the offer to propose.
func (c *Concession) Plan(mine View, theirs ufun.Function, t float64) (Plan, error) {
	if err := checkTime(t); err != nil {
		return Plan{}, err
	}
	if mine == nil || theirs == nil {
		return Plan{}, fmt.Errorf("strategy: nil utility view")
	}
	step := mine.Step()
	null := types.NullOffer(step)
	plan := Plan{
		T:           t,
		Aspiration:  c.Aspiration(t),
		BestOffer:   mine.BestOffer(),
		NullUtility: mine.Utility(null),
	}
	plan.BestUtility = mine.Utility(plan.BestOffer)

	maxQuantity := c.params.GridMaxQuantity
	if l, ok := mine.(QuantityLimiter); ok {
		maxQuantity = min(maxQuantity, max(l.QuantityLimit(), 0))
	}
	plan.Grid = Score(Grid(mine.Bounds(), step, maxQuantity), mine, theirs)
	plan.Frontier = ParetoFrontier(plan.Grid)
	plan.Nash, plan.HasNash = NashPoint(plan.Frontier, plan.NullUtility, theirs.Utility(null))
	nashUtility := plan.NullUtility
	if plan.HasNash {
		nashUtility = plan.Nash.Mine
	}
	plan.Floor = c.params.NashBalance*nashUtility + (1-c.params.NashBalance)*plan.NullUtility
	plan.Target = plan.Aspiration*plan.BestUtility + (1-plan.Aspiration)*plan.Floor

	gap := math.Inf(1)
	found := false
	for _, p := range plan.Frontier {
		if p.Mine >= plan.Target && p.Mine-plan.Target < gap {
			gap = p.Mine - plan.Target
			plan.Offer = p.Offer
			plan.OfferUtility = p.Mine
			found = true
		}
	}
	if !found {
		plan.Offer = plan.BestOffer
		plan.OfferUtility = plan.BestUtility
		plan.Fallback = true
	}
	return plan, nil
}

// TargetUtility is the utility the proposal at time t aims for.
func (c *Concession) TargetUtility(mine View, theirs ufun.Function, t float64) (float64, error) {
	plan, err := c.Plan(mine, theirs, t)
	if err != nil {
		return 0, err
	}
	return plan.Target, nil
}

// Propose returns the frontier offer closest above the target, or the best offer
// when no frontier offer reaches it.
func (c *Concession) Propose(mine View, theirs ufun.Function, t float64) (types.Offer, error) {
	plan, err := c.Plan(mine, theirs, t)
	if err != nil {
		return types.Offer{}, err
	}
	return plan.Offer, nil
}

// Verdict is a response together with the utility it was judged on.
type Verdict struct {
	Response   types.Response `json:"response"`
	Utility    float64        `json:"utility"`
	Aspiration float64        `json:"aspiration"`
}

// Respond accepts iff the incoming offer's utility exceeds the current aspiration.
// The incoming offer is scored exactly once.
func (c *Concession) Respond(mine ufun.Function, incoming types.Offer, t float64) (Verdict, error) {
	v := Verdict{Response: types.ResponseReject}
	if err := checkTime(t); err != nil {
		return v, err
	}
	if err := incoming.Valid(); err != nil {
		return v, fmt.Errorf("%w: incoming: %v", ufun.ErrConfiguration, err)
	}
	v.Utility = mine.Utility(incoming)
	v.Aspiration = c.Aspiration(t)
	if v.Utility > v.Aspiration {
		v.Response = types.ResponseAccept
	}
	return v, nil
}
