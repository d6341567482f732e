package types

import "fmt"

// Offer is one (quantity, time, unit price) outcome of a bilateral negotiation.
type Offer struct {
	Quantity  int `json:"quantity"`
	Time      int `json:"time"`
	UnitPrice int `json:"unit_price"`
}

// NullOffer 表示不成交（数量与价格均为 0）。
func NullOffer(step int) Offer {
	return Offer{Time: step}
}

// IsNull reports whether the offer trades nothing.
func (o Offer) IsNull() bool {
	return o.Quantity == 0 && o.UnitPrice == 0
}

// Valid rejects negative quantities and prices.
func (o Offer) Valid() error {
	if o.Quantity < 0 {
		return fmt.Errorf("negative quantity %d", o.Quantity)
	}
	if o.UnitPrice < 0 {
		return fmt.Errorf("negative unit price %d", o.UnitPrice)
	}
	return nil
}

func (o Offer) String() string {
	return fmt.Sprintf("(q=%d t=%d p=%d)", o.Quantity, o.Time, o.UnitPrice)
}

// PriceBounds 为本轮发布的单价区间（闭区间）。
type PriceBounds struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

func (b PriceBounds) Valid() error {
	if b.Min < 0 || b.Max < b.Min {
		return fmt.Errorf("invalid price bounds [%d,%d]", b.Min, b.Max)
	}
	return nil
}

func (b PriceBounds) Contains(price int) bool {
	return price >= b.Min && price <= b.Max
}

// Midpoint returns the centre of the range.
func (b PriceBounds) Midpoint() float64 {
	return float64(b.Min+b.Max) / 2
}

// Response is the verdict on an incoming offer. Wait/End belong to the host protocol.
type Response string

const (
	ResponseAccept Response = "accept"
	ResponseReject Response = "reject"
)
