package types

import (
	"fmt"
	"strings"
)

// Role is the agent's position in the two-level supply chain.
type Role int

const (
	// RoleSeller buys its input exogenously and negotiates sales of its output.
	RoleSeller Role = 0
	// RoleBuyer sells its output exogenously and negotiates purchases of its input.
	RoleBuyer Role = 1
)

// Level returns the production level used by the counterpart cost assumptions.
func (r Role) Level() int { return int(r) }

// Opposite returns the counterpart's role.
func (r Role) Opposite() Role {
	if r == RoleSeller {
		return RoleBuyer
	}
	return RoleSeller
}

// NegotiatesOutput reports whether offers negotiated in this role sell the agent's output.
func (r Role) NegotiatesOutput() bool { return r == RoleSeller }

// Tag is the single-letter prefix used in forecast state keys.
func (r Role) Tag() string {
	if r == RoleBuyer {
		return "b"
	}
	return "s"
}

func (r Role) String() string {
	if r == RoleBuyer {
		return "buyer"
	}
	return "seller"
}

// ParseRole accepts seller/buyer, s/b or the numeric levels 0/1.
func ParseRole(raw string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "seller", "s", "0":
		return RoleSeller, nil
	case "buyer", "b", "1":
		return RoleBuyer, nil
	default:
		return RoleSeller, fmt.Errorf("unknown role %q", raw)
	}
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ExogenousPosition is a trade pre-committed before negotiations begin.
type ExogenousPosition struct {
	Quantity   float64 `json:"quantity"`
	TotalPrice float64 `json:"total_price"`
}

// UnitPrice averages the total price over the quantity (0 when empty).
func (p ExogenousPosition) UnitPrice() float64 {
	if p.Quantity == 0 {
		return 0
	}
	return p.TotalPrice / p.Quantity
}

// Exogenous holds the pre-committed input and output positions of a round.
type Exogenous struct {
	Input  ExogenousPosition `json:"input"`
	Output ExogenousPosition `json:"output"`
}

// NeedFor returns the exogenous quantity the role has to cover through negotiation.
func (e Exogenous) NeedFor(role Role) float64 {
	if role == RoleSeller {
		return e.Input.Quantity
	}
	return e.Output.Quantity
}

// Economics 描述一轮内的生产、惩罚与资金参数。
type Economics struct {
	Role               Role     `json:"role"`
	ProductionCost     float64  `json:"production_cost"`
	DisposalCost       float64  `json:"disposal_cost"`
	ShortfallPenalty   float64  `json:"shortfall_penalty"`
	NLines             int      `json:"n_lines"`
	CurrentBalance     float64  `json:"current_balance"`
	InputPenaltyScale  *float64 `json:"input_penalty_scale,omitempty"`
	OutputPenaltyScale *float64 `json:"output_penalty_scale,omitempty"`
	Normalized         bool     `json:"normalized"`
	MinUtility         float64  `json:"min_utility"`
	MaxUtility         float64  `json:"max_utility"`
}

func (e Economics) Validate() error {
	switch {
	case e.NLines < 0:
		return fmt.Errorf("n_lines must be >= 0")
	case e.ProductionCost < 0:
		return fmt.Errorf("production_cost must be >= 0")
	case e.DisposalCost < 0:
		return fmt.Errorf("disposal_cost must be >= 0")
	case e.ShortfallPenalty < 0:
		return fmt.Errorf("shortfall_penalty must be >= 0")
	}
	return nil
}
