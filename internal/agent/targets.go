package agent

import (
	"math/rand"
	"slices"
)

// TargetSplit 把本回合的外生数量平均分给各个伙伴，
// 谈判结束后把剩余量轮转分配给仍在谈判的伙伴。
type TargetSplit struct {
	rng     *rand.Rand
	targets map[string]int
	active  []string
}

func NewTargetSplit(seed int64) *TargetSplit {
	return &TargetSplit{rng: rand.New(rand.NewSource(seed)), targets: map[string]int{}}
}

// Reset gives every partner ceil(q/len(partners)) and marks them all active.
func (s *TargetSplit) Reset(q int, partners []string) {
	s.targets = make(map[string]int, len(partners))
	s.active = append(s.active[:0], partners...)
	if len(partners) == 0 {
		return
	}
	share := 0
	if q > 0 {
		share = (q + len(partners) - 1) / len(partners)
	}
	for _, p := range partners {
		s.targets[p] = share
	}
}

func (s *TargetSplit) Target(partner string) int { return s.targets[partner] }

// Active lists partners whose negotiation is still open.
func (s *TargetSplit) Active() []string { return slices.Clone(s.active) }

func (s *TargetSplit) Snapshot() map[string]int {
	out := make(map[string]int, len(s.targets))
	for k, v := range s.targets {
		out[k] = v
	}
	return out
}

// OnFailure closes partner and hands its whole target to the others.
func (s *TargetSplit) OnFailure(partner string) {
	if !s.close(partner) {
		return
	}
	s.spread(s.targets[partner], 1)
	s.targets[partner] = 0
}

// OnSuccess closes partner. A shortfall against its target is added to the
// others; an overshoot is taken back from them, never below zero.
func (s *TargetSplit) OnSuccess(partner string, q int) {
	if !s.close(partner) {
		return
	}
	diff := s.targets[partner] - q
	switch {
	case diff > 0:
		s.spread(diff, 1)
	case diff < 0:
		s.spread(-diff, -1)
	}
	s.targets[partner] = 0
}

func (s *TargetSplit) close(partner string) bool {
	i := slices.Index(s.active, partner)
	if i < 0 {
		return false
	}
	s.active = slices.Delete(s.active, i, i+1)
	return true
}

// spread moves amount units one at a time round-robin over the active partners,
// starting at a random slot so no partner is always first.
func (s *TargetSplit) spread(amount, sign int) {
	n := len(s.active)
	if n == 0 || amount <= 0 {
		return
	}
	i := s.rng.Intn(n)
	for stalled := 0; amount > 0 && stalled < n; i = (i + 1) % n {
		p := s.active[i]
		if sign < 0 && s.targets[p] == 0 {
			stalled++
			continue
		}
		stalled = 0
		s.targets[p] += sign
		amount--
	}
}
