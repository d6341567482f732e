package agent

import (
	"context"
	"sync"

	"negotiator/internal/forecast"
	"negotiator/internal/logger"
	"negotiator/internal/types"
)

// HistorySink persists completed history records.
type HistorySink interface {
	Append(ctx context.Context, records []forecast.Record) error
}

// Recorder collects pre-datapoints while a negotiation is open and completes
// them with its outcome once it concludes.
type Recorder struct {
	sink HistorySink

	mu        sync.Mutex
	role      types.Role
	bounds    types.PriceBounds
	nPartners int
	pending   map[string][]forecast.Record
}

func NewRecorder(sink HistorySink) *Recorder {
	return &Recorder{sink: sink, pending: map[string][]forecast.Record{}}
}

// BeginRound drops any datapoints left over from the previous round.
func (r *Recorder) BeginRound(role types.Role, bounds types.PriceBounds, nPartners int) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.role = role
	r.bounds = bounds
	r.nPartners = nPartners
	r.pending = map[string][]forecast.Record{}
}

// Observe notes the state at one re-proposal. remainingNegotiations is a count
// here and becomes a fraction of the partners on conclusion.
func (r *Recorder) Observe(partner string, ownRemaining, opponentQty, step, remainingNegotiations int) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[partner] = append(r.pending[partner], forecast.Record{
		OwnRemaining:      ownRemaining,
		OpponentLastQty:   opponentQty,
		Step:              step,
		RemainingFraction: float64(remainingNegotiations),
	})
}

// Conclude completes partner's datapoints with the agreed quantity and price
// (0, 0 on failure) and appends them to the sink.
func (r *Recorder) Conclude(ctx context.Context, partner string, quantity, unitPrice int) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	records := r.pending[partner]
	delete(r.pending, partner)
	for i := range records {
		records[i].Role = r.role
		records[i].Quantity = quantity
		records[i].UnitPrice = float64(unitPrice)
		records[i].MinPrice = float64(r.bounds.Min)
		records[i].MaxPrice = float64(r.bounds.Max)
		if r.nPartners > 0 {
			records[i].RemainingFraction /= float64(r.nPartners)
		}
	}
	r.mu.Unlock()
	if len(records) == 0 || r.sink == nil {
		return nil
	}
	if err := r.sink.Append(ctx, records); err != nil {
		logger.Warnf("record history for %s: %v", partner, err)
		return err
	}
	return nil
}
