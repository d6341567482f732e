// Package forecast learns outcome statistics of past negotiations and predicts
// how still-open negotiations will conclude.
package forecast

import (
	"strconv"
	"strings"

	"negotiator/internal/types"
)

const (
	timeBuckets      = 4
	timeBucketWidth  = 5
	remainingBuckets = 4
	remainingWidth   = 0.25

	noBucket = -1
)

var remainingLabels = [remainingBuckets]string{"0.0", "0.25", "0.5", "0.75"}

// StateKey is the discretized negotiation state the response table is indexed by.
// The string form must match the one the table was built with.
type StateKey struct {
	Role            types.Role
	OwnNeed         int
	OpponentQty     int
	TimeBucket      int
	RemainingBucket int
}

// NewStateKey buckets the elapsed step and the fraction of negotiations still open.
// Values past the last bucket leave that component empty, so the key will miss.
func NewStateKey(role types.Role, ownNeed, opponentQty, step int, remainingFraction float64) StateKey {
	return StateKey{
		Role:            role,
		OwnNeed:         ownNeed,
		OpponentQty:     opponentQty,
		TimeBucket:      timeBucket(step),
		RemainingBucket: remainingBucket(remainingFraction),
	}
}

func timeBucket(step int) int {
	for b := 0; b < timeBuckets; b++ {
		if step <= (b+1)*timeBucketWidth {
			return b
		}
	}
	return noBucket
}

func remainingBucket(fraction float64) int {
	for b := 0; b < remainingBuckets; b++ {
		if fraction <= float64(b+1)*remainingWidth {
			return b
		}
	}
	return noBucket
}

func (k StateKey) String() string {
	var b strings.Builder
	b.WriteString(k.Role.Tag())
	b.WriteString("s")
	b.WriteString(strconv.Itoa(k.OwnNeed))
	b.WriteString("o")
	b.WriteString(strconv.Itoa(k.OpponentQty))
	if k.TimeBucket >= 0 && k.TimeBucket < timeBuckets {
		b.WriteString("t")
		b.WriteString(strconv.Itoa(k.TimeBucket * timeBucketWidth))
		b.WriteString("+")
	}
	if k.RemainingBucket >= 0 && k.RemainingBucket < remainingBuckets {
		b.WriteString("rem")
		b.WriteString(remainingLabels[k.RemainingBucket])
		b.WriteString("+")
	}
	return b.String()
}

// seedKeys enumerates every key the table accepts observations for.
func seedKeys() []string {
	roles := []types.Role{types.RoleSeller, types.RoleBuyer}
	keys := make([]string, 0, len(roles)*16*11*timeBuckets*remainingBuckets)
	for _, role := range roles {
		for need := -5; need <= 10; need++ {
			for opp := 0; opp <= 10; opp++ {
				for t := 0; t < timeBuckets; t++ {
					for r := 0; r < remainingBuckets; r++ {
						k := StateKey{Role: role, OwnNeed: need, OpponentQty: opp, TimeBucket: t, RemainingBucket: r}
						keys = append(keys, k.String())
					}
				}
			}
		}
	}
	return keys
}
