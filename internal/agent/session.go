package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"

	"negotiator/internal/logger"
	"negotiator/internal/types"

	"github.com/google/uuid"
)

var (
	ErrUnknownPartner = errors.New("agent: unknown partner")
	ErrClosed         = errors.New("agent: negotiation already concluded")
	ErrNoRound        = errors.New("agent: round not started")
)

// Round is what the host publishes at the start of a trading round.
type Round struct {
	Step         int
	Economics    types.Economics
	Exogenous    types.Exogenous
	Bounds       types.PriceBounds
	NCompetitors int
	// NSteps is the number of negotiation steps allowed per negotiation.
	NSteps int
}

type SessionParams struct {
	Decider  *Decider
	Partners []string
	Recorder *Recorder
	Seed     int64
}

// slot 保存单个伙伴在本回合内的谈判状态。
type slot struct {
	proposals int
	responses int
	sent      *types.Offer
	received  *types.Offer
	accepted  *types.Offer
	closed    bool
}

// Session tracks one agent's negotiations with all its partners across rounds.
// Methods are safe for concurrent use; decisions for different partners are
// serialized.
type Session struct {
	decider  *Decider
	recorder *Recorder
	partners []string

	mu        sync.Mutex
	round     *Round
	slots     map[string]*slot
	targets   *TargetSplit
	remaining int
	openNegs  int
}

func NewSession(p SessionParams) (*Session, error) {
	if p.Decider == nil {
		return nil, fmt.Errorf("agent: nil decider")
	}
	if len(p.Partners) == 0 {
		return nil, fmt.Errorf("agent: no partners")
	}
	return &Session{
		decider:  p.Decider,
		recorder: p.Recorder,
		partners: slices.Clone(p.Partners),
		targets:  NewTargetSplit(p.Seed),
	}, nil
}

func (s *Session) Partners() []string { return slices.Clone(s.partners) }

// BeginRound resets every partner slot and counter for a new round.
func (s *Session) BeginRound(r Round) error {
	if err := r.Economics.Validate(); err != nil {
		return err
	}
	if err := r.Bounds.Valid(); err != nil {
		return err
	}
	if r.NSteps <= 0 {
		return fmt.Errorf("agent: n_steps must be > 0")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.round = &r
	s.slots = make(map[string]*slot, len(s.partners))
	for _, p := range s.partners {
		s.slots[p] = &slot{}
	}
	need := int(math.Round(r.Exogenous.NeedFor(r.Economics.Role)))
	s.remaining = need
	s.openNegs = len(s.partners)
	s.targets.Reset(need, s.partners)
	s.recorder.BeginRound(r.Economics.Role, r.Bounds, len(s.partners))
	return nil
}

func (s *Session) slot(partner string) (*slot, error) {
	if s.round == nil {
		return nil, ErrNoRound
	}
	sl, ok := s.slots[partner]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPartner, partner)
	}
	if sl.closed {
		return nil, fmt.Errorf("%w: %s", ErrClosed, partner)
	}
	return sl, nil
}

// timeFraction estimates how far partner's negotiation has progressed from the
// number of moves made so far.
func (s *Session) timeFraction(sl *slot) float64 {
	moves := float64(sl.proposals + sl.responses)
	f := (moves - 0.5) / (2 * float64(s.round.NSteps))
	return math.Min(1, math.Max(0, f))
}

// negotiationStep counts the steps partner's negotiation has run; each step is
// one proposal and one response.
func negotiationStep(sl *slot) int {
	return (sl.proposals + sl.responses) / 2
}

func (s *Session) input(partner string, sl *slot, last *types.Offer) DecisionInput {
	target := s.targets.Target(partner)
	in := DecisionInput{
		Partner:               partner,
		Economics:             s.round.Economics,
		Exogenous:             s.round.Exogenous,
		Bounds:                s.round.Bounds,
		Step:                  s.round.Step,
		NegotiationStep:       negotiationStep(sl),
		T:                     s.timeFraction(sl),
		LastOpponentOffer:     last,
		NCompetitors:          s.round.NCompetitors,
		OwnRemaining:          s.remaining,
		RemainingNegotiations: s.openNegs,
		NPartners:             len(s.partners),
		TargetQuantity:        &target,
	}
	for _, p := range s.partners {
		other := s.slots[p]
		if other.accepted != nil {
			in.Accepted = append(in.Accepted, *other.accepted)
		}
		if p != partner && !other.closed && other.received != nil {
			in.Pending = append(in.Pending, *other.received)
		}
	}
	return in
}

// Propose returns the offer for partner. The first call computes an opening
// offer; later calls return the counter-offer prepared by the last Respond.
func (s *Session) Propose(partner string) (types.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, err := s.slot(partner)
	if err != nil {
		return types.Offer{}, err
	}
	if sl.sent != nil {
		if sl.received != nil {
			s.recorder.Observe(partner, s.remaining, sl.received.Quantity, negotiationStep(sl), s.openNegs)
		}
		return *sl.sent, nil
	}
	in := s.input(partner, sl, nil)
	sl.proposals++
	dec, err := s.decider.Propose(in, uuid.NewString())
	if err != nil {
		return types.Offer{}, err
	}
	offer := dec.Offer
	sl.sent = &offer
	return offer, nil
}

// Respond answers incoming from partner. On rejection a counter-offer against
// incoming is prepared for the next Propose; on acceptance the null offer is.
func (s *Session) Respond(partner string, incoming types.Offer) (types.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, err := s.slot(partner)
	if err != nil {
		return types.ResponseReject, err
	}
	received := incoming
	sl.received = &received
	sl.sent = nil

	sl.responses++
	dec, err := s.decider.Respond(s.input(partner, sl, &received), incoming, uuid.NewString())
	if err != nil {
		return types.ResponseReject, err
	}
	if dec.Response == types.ResponseAccept {
		null := types.NullOffer(s.round.Step)
		sl.sent = &null
		return dec.Response, nil
	}

	in := s.input(partner, sl, &received)
	sl.proposals++
	counter, err := s.decider.Propose(in, uuid.NewString())
	if err != nil {
		return types.ResponseReject, err
	}
	offer := counter.Offer
	sl.sent = &offer
	return dec.Response, nil
}

// OnSuccess records the agreed contract with partner.
func (s *Session) OnSuccess(ctx context.Context, partner string, agreed types.Offer) error {
	s.mu.Lock()
	sl, err := s.slot(partner)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	a := agreed
	sl.accepted = &a
	sl.closed = true
	s.remaining -= agreed.Quantity
	s.openNegs--
	s.targets.OnSuccess(partner, agreed.Quantity)
	s.mu.Unlock()

	logger.Debugf("agreement with %s: %s, remaining need %d", partner, agreed, s.Remaining())
	return s.recorder.Conclude(ctx, partner, agreed.Quantity, agreed.UnitPrice)
}

// OnFailure records that the negotiation with partner ended without agreement.
func (s *Session) OnFailure(ctx context.Context, partner string) error {
	s.mu.Lock()
	sl, err := s.slot(partner)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	sl.closed = true
	s.openNegs--
	s.targets.OnFailure(partner)
	s.mu.Unlock()

	return s.recorder.Conclude(ctx, partner, 0, 0)
}

// Remaining is the exogenous need not yet covered by agreements.
func (s *Session) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining
}

func (s *Session) Accepted() []types.Offer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Offer
	for _, p := range s.partners {
		if sl := s.slots[p]; sl != nil && sl.accepted != nil {
			out = append(out, *sl.accepted)
		}
	}
	return out
}

// SessionSnapshot is a read-only view of the round for reporting.
type SessionSnapshot struct {
	Remaining             int                    `json:"remaining"`
	RemainingNegotiations int                    `json:"remaining_negotiations"`
	Targets               map[string]int         `json:"targets"`
	Accepted              map[string]types.Offer `json:"accepted"`
	TimeFractions         map[string]float64     `json:"time_fractions"`
	Steps                 map[string]int         `json:"steps"`
}

func (s *Session) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := SessionSnapshot{
		Remaining:             s.remaining,
		RemainingNegotiations: s.openNegs,
		Targets:               s.targets.Snapshot(),
		Accepted:              map[string]types.Offer{},
		TimeFractions:         map[string]float64{},
		Steps:                 map[string]int{},
	}
	if s.round == nil {
		return snap
	}
	for p, sl := range s.slots {
		if sl.accepted != nil {
			snap.Accepted[p] = *sl.accepted
		}
		snap.TimeFractions[p] = s.timeFraction(sl)
		snap.Steps[p] = negotiationStep(sl)
	}
	return snap
}
