package sim

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"negotiator/internal/agent"
	"negotiator/internal/logger"
	"negotiator/internal/types"
	"negotiator/internal/ufun"
)

type trader struct {
	name    string
	role    types.Role
	session *agent.Session
}

// negotiation 是一对卖方/买方之间的一次交替出价。
type negotiation struct {
	seller   *trader
	buyer    *trader
	proposer *trader
	open     bool
}

func (n *negotiation) other(t *trader) *trader {
	if t == n.seller {
		return n.buyer
	}
	return n.seller
}

type market struct {
	idx     int
	params  Params
	rng     *rand.Rand
	sellers []*trader
	buyers  []*trader
}

func newMarket(idx int, p Params, d *agent.Decider, sink agent.HistorySink) (*market, error) {
	seed := p.Seed + int64(idx)*7919
	m := &market{idx: idx, params: p, rng: rand.New(rand.NewSource(seed))}
	sellerNames := make([]string, p.Sellers)
	for i := range sellerNames {
		sellerNames[i] = fmt.Sprintf("m%d-s%d", idx, i)
	}
	buyerNames := make([]string, p.Buyers)
	for i := range buyerNames {
		buyerNames[i] = fmt.Sprintf("m%d-b%d", idx, i)
	}
	build := func(name string, role types.Role, partners []string, n int) (*trader, error) {
		sess, err := agent.NewSession(agent.SessionParams{
			Decider:  d,
			Partners: partners,
			Recorder: agent.NewRecorder(sink),
			Seed:     seed + int64(n) + 1,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return &trader{name: name, role: role, session: sess}, nil
	}
	for i, name := range sellerNames {
		t, err := build(name, types.RoleSeller, buyerNames, i)
		if err != nil {
			return nil, err
		}
		m.sellers = append(m.sellers, t)
	}
	for i, name := range buyerNames {
		t, err := build(name, types.RoleBuyer, sellerNames, len(sellerNames)+i)
		if err != nil {
			return nil, err
		}
		m.buyers = append(m.buyers, t)
	}
	return m, nil
}

func (m *market) run(ctx context.Context) (Stats, error) {
	var st Stats
	for step := 0; step < m.params.Rounds; step++ {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		res, err := m.playRound(ctx, step)
		if err != nil {
			return st, fmt.Errorf("round %d: %w", step, err)
		}
		st.merge(res)
	}
	return st, nil
}

func (m *market) playRound(ctx context.Context, step int) (Stats, error) {
	var st Stats
	bounds := types.PriceBounds{Min: m.params.MinPrice, Max: m.params.MaxPrice}
	for _, group := range [][]*trader{m.sellers, m.buyers} {
		for _, t := range group {
			r, err := m.drawRound(t.role, step, bounds, len(group)-1)
			if err != nil {
				return st, err
			}
			if err := t.session.BeginRound(r); err != nil {
				return st, fmt.Errorf("%s: %w", t.name, err)
			}
			snap := t.session.Snapshot()
			st.Need += snap.Remaining
			logger.Debugf("%s round %d need %d targets %v", t.name, step, snap.Remaining, snap.Targets)
		}
	}

	var negs []*negotiation
	for i, s := range m.sellers {
		for j, b := range m.buyers {
			n := &negotiation{seller: s, buyer: b, proposer: s, open: true}
			if (i+j+step)%2 == 1 {
				n.proposer = b
			}
			negs = append(negs, n)
		}
	}
	st.Negotiations = len(negs)

	for move := 0; move < 2*m.params.NSteps; move++ {
		open := 0
		for _, n := range negs {
			if !n.open {
				continue
			}
			open++
			if err := m.advance(ctx, n, &st); err != nil {
				return st, err
			}
		}
		if open == 0 {
			break
		}
	}
	for _, n := range negs {
		if n.open {
			if err := m.conclude(ctx, n, nil); err != nil {
				return st, err
			}
		}
	}
	for _, group := range [][]*trader{m.sellers, m.buyers} {
		for _, t := range group {
			st.Unmet += max(t.session.Remaining(), 0)
		}
	}
	return st, nil
}

// advance plays one move: the proposer's offer and the other side's response.
func (m *market) advance(ctx context.Context, n *negotiation, st *Stats) error {
	proposer := n.proposer
	responder := n.other(proposer)
	offer, err := proposer.session.Propose(responder.name)
	if err != nil {
		return fmt.Errorf("%s propose to %s: %w", proposer.name, responder.name, err)
	}
	if offer.IsNull() {
		return m.conclude(ctx, n, nil)
	}
	resp, err := responder.session.Respond(proposer.name, offer)
	if err != nil {
		return fmt.Errorf("%s respond to %s: %w", responder.name, proposer.name, err)
	}
	if resp == types.ResponseAccept {
		st.Agreements++
		st.Volume += offer.Quantity
		st.Turnover += offer.Quantity * offer.UnitPrice
		return m.conclude(ctx, n, &offer)
	}
	n.proposer = responder
	return nil
}

func (m *market) conclude(ctx context.Context, n *negotiation, agreed *types.Offer) error {
	n.open = false
	for _, t := range []*trader{n.seller, n.buyer} {
		partner := n.other(t).name
		var err error
		if agreed != nil {
			err = t.session.OnSuccess(ctx, partner, *agreed)
		} else {
			err = t.session.OnFailure(ctx, partner)
		}
		if err != nil {
			return fmt.Errorf("%s conclude with %s: %w", t.name, partner, err)
		}
	}
	return nil
}

// drawRound samples one agent's exogenous contract and production costs. Sellers
// buy raw material below the negotiated price range, buyers sell their output
// above it.
func (m *market) drawRound(role types.Role, step int, bounds types.PriceBounds, competitors int) (agent.Round, error) {
	p := m.params
	q := float64(1 + m.rng.Intn(p.MaxExogQty))
	econ := types.Economics{
		Role:             role,
		ProductionCost:   float64(1 + m.rng.Intn(3)),
		DisposalCost:     0.1,
		ShortfallPenalty: 0.6,
		NLines:           2 * p.MaxExogQty,
		CurrentBalance:   1000,
	}
	var exo types.Exogenous
	if role == types.RoleSeller {
		unit := float64(bounds.Min) * (0.5 + 0.4*m.rng.Float64())
		exo.Input = types.ExogenousPosition{Quantity: q, TotalPrice: math.Round(q * unit)}
	} else {
		unit := float64(bounds.Max) * (1.2 + 0.4*m.rng.Float64())
		exo.Output = types.ExogenousPosition{Quantity: q, TotalPrice: math.Round(q * unit)}
	}
	lo, hi, err := utilityRange(econ, exo, bounds, 2*int(q))
	if err != nil {
		return agent.Round{}, err
	}
	econ.Normalized = true
	econ.MinUtility = lo
	econ.MaxUtility = hi
	return agent.Round{
		Step:         step,
		Economics:    econ,
		Exogenous:    exo,
		Bounds:       bounds,
		NCompetitors: competitors,
		NSteps:       p.NSteps,
	}, nil
}

// utilityRange is the raw utility span over single contracts of up to maxQty
// units at either end of the price range, the null contract included.
func utilityRange(econ types.Economics, exo types.Exogenous, bounds types.PriceBounds, maxQty int) (float64, float64, error) {
	output := econ.Role.NegotiatesOutput()
	base, err := ufun.Evaluate(nil, nil, econ, exo)
	if err != nil {
		return 0, 0, err
	}
	lo, hi := base.Utility, base.Utility
	for q := 1; q <= maxQty; q++ {
		for _, price := range []int{bounds.Min, bounds.Max} {
			out, err := ufun.Evaluate([]types.Offer{{Quantity: q, UnitPrice: price}}, []bool{output}, econ, exo)
			if err != nil {
				return 0, 0, err
			}
			lo = math.Min(lo, out.Utility)
			hi = math.Max(hi, out.Utility)
		}
	}
	if hi-lo < 1 {
		hi = lo + 1
	}
	return lo, hi, nil
}
