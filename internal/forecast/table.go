package forecast

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"negotiator/internal/logger"
	"negotiator/internal/types"

	"github.com/shopspring/decimal"
)

// Kind selects how observations are aggregated.
type Kind string

const (
	// KindMean forecasts every open negotiation as the mean agreed outcome.
	KindMean Kind = "mean"
	// KindMeanOrDisagreement keeps agreement and disagreement as separate outcomes.
	KindMeanOrDisagreement Kind = "mean_or_disagreement"
)

func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindMean:
		return KindMean, nil
	case KindMeanOrDisagreement, "mod":
		return KindMeanOrDisagreement, nil
	default:
		return "", fmt.Errorf("unknown forecast kind %q", raw)
	}
}

// Stats are the finalized aggregates of one state key.
type Stats struct {
	MeanQuantity        float64 `json:"mean_quantity"`
	MeanNormalizedPrice float64 `json:"mean_normalized_price"`
	AgreeProb           float64 `json:"agree_prob"`
	DisagreeProb        float64 `json:"disagree_prob"`
	Observations        int     `json:"observations"`
}

// Prediction is a table lookup denormalized to the current round's price bounds.
type Prediction struct {
	Quantity     float64 `json:"quantity"`
	UnitPrice    float64 `json:"unit_price"`
	AgreeProb    float64 `json:"agree_prob"`
	DisagreeProb float64 `json:"disagree_prob"`
	Hit          bool    `json:"hit"`
}

// Table is the EmpiricalResponseTable. It is immutable after Build and safe for
// concurrent readers.
type Table struct {
	kind   Kind
	stats  map[string]Stats
	rows   int
	misses int
}

type accumulator struct {
	quantity    float64
	price       decimal.Decimal
	agreeCount  int
	disagree    int
	observation int
}

// Build aggregates records into a table. Every seeded key starts from one prior
// agreement with zero quantity; records whose key was not seeded are skipped.
func Build(kind Kind, records []Record) (*Table, error) {
	if kind != KindMean && kind != KindMeanOrDisagreement {
		return nil, fmt.Errorf("unknown forecast kind %q", kind)
	}
	acc := make(map[string]*accumulator)
	for _, key := range seedKeys() {
		acc[key] = &accumulator{agreeCount: 1}
	}
	t := &Table{kind: kind, rows: len(records)}
	for _, rec := range records {
		a, ok := acc[rec.Key().String()]
		if !ok {
			t.misses++
			continue
		}
		a.observation++
		weighted := decimal.NewFromFloat(rec.NormalizedPrice()).Mul(decimal.NewFromInt(int64(rec.Quantity)))
		switch kind {
		case KindMean:
			a.quantity += float64(rec.Quantity)
			a.price = a.price.Add(weighted)
			a.agreeCount++
		case KindMeanOrDisagreement:
			if rec.Quantity != 0 {
				a.quantity += float64(rec.Quantity)
				a.price = a.price.Add(weighted)
				a.agreeCount++
			} else {
				a.disagree++
			}
		}
	}
	t.stats = make(map[string]Stats, len(acc))
	for key, a := range acc {
		t.stats[key] = finalize(kind, a)
	}
	if t.misses > 0 {
		logger.Warnf("forecast table skipped %d/%d records with unknown state keys", t.misses, t.rows)
	}
	return t, nil
}

func finalize(kind Kind, a *accumulator) Stats {
	s := Stats{Observations: a.observation}
	price, _ := a.price.Float64()
	if a.quantity != 0 {
		s.MeanNormalizedPrice = price / a.quantity
	} else if kind == KindMeanOrDisagreement {
		s.MeanNormalizedPrice = 0.5
	}
	s.MeanQuantity = a.quantity / float64(a.agreeCount)
	switch kind {
	case KindMeanOrDisagreement:
		total := float64(a.agreeCount + a.disagree)
		s.AgreeProb = float64(a.agreeCount) / total
		s.DisagreeProb = float64(a.disagree) / total
	default:
		s.AgreeProb = 1
	}
	return s
}

// Load reads every record from src and builds a table.
func Load(ctx context.Context, kind Kind, src Source) (*Table, error) {
	if src == nil {
		return nil, fmt.Errorf("forecast: nil source")
	}
	records, err := src.Records(ctx)
	if err != nil {
		return nil, fmt.Errorf("forecast: read records: %w", err)
	}
	t, err := Build(kind, records)
	if err != nil {
		return nil, err
	}
	logger.Infof("forecast table (%s) built from %d records, %d keys", kind, t.rows, len(t.stats))
	return t, nil
}

func (t *Table) Kind() Kind { return t.kind }

// Rows is the number of records the table was built from, including misses.
func (t *Table) Rows() int   { return t.rows }
func (t *Table) Misses() int { return t.misses }
func (t *Table) Len() int    { return len(t.stats) }

func (t *Table) Stats(key StateKey) (Stats, bool) {
	if t == nil {
		return Stats{}, false
	}
	s, ok := t.stats[key.String()]
	return s, ok
}

// Lookup never fails: a missing key yields zero quantity at the midpoint price
// with certain disagreement.
func (t *Table) Lookup(key StateKey, bounds types.PriceBounds) Prediction {
	s, ok := t.Stats(key)
	if !ok {
		return Prediction{UnitPrice: bounds.Midpoint(), DisagreeProb: 1}
	}
	return Prediction{
		Quantity:     s.MeanQuantity,
		UnitPrice:    s.MeanNormalizedPrice*float64(bounds.Max-bounds.Min) + float64(bounds.Min),
		AgreeProb:    s.AgreeProb,
		DisagreeProb: s.DisagreeProb,
		Hit:          true,
	}
}

// KeyStats pairs a key with its statistics for reporting.
type KeyStats struct {
	Key string `json:"key"`
	Stats
}

// Top returns the n keys with the most observations.
func (t *Table) Top(n int) []KeyStats {
	out := make([]KeyStats, 0, len(t.stats))
	for k, s := range t.stats {
		if s.Observations == 0 {
			continue
		}
		out = append(out, KeyStats{Key: k, Stats: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Observations != out[j].Observations {
			return out[i].Observations > out[j].Observations
		}
		return out[i].Key < out[j].Key
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
