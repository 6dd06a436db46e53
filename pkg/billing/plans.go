package billing

import (
	"fmt"
	"strings"
)

// TierDescriptor describes the plan tier a Stripe price belongs to.
type TierDescriptor struct {
	PriceID      string   `json:"price_id" yaml:"price_id"`
	Plan         PlanName `json:"plan" yaml:"plan"`
	DisplayName  string   `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	SeatPriceCts int64    `json:"seat_price_cents,omitempty" yaml:"seat_price_cents,omitempty"`
}

// PriceTable is the single source of truth mapping Stripe price IDs to plan
// tiers. It is immutable after construction.
type PriceTable struct {
	byPrice          map[string]TierDescriptor
	defaultPlan      PlanName
	defaultSeatPrice int64
}

// PriceTableSource yields the price table currently in force. Implementations
// may swap tables at runtime.
type PriceTableSource interface {
	PriceTable() *PriceTable
}

// NewPriceTable validates tiers and builds a lookup table. defaultPlan is used
// for unknown price IDs and must be a paid tier.
func NewPriceTable(tiers []TierDescriptor, defaultPlan PlanName, defaultSeatPrice int64) (*PriceTable, error) {
	defaultPlan = NormalizePlanName(string(defaultPlan))
	if defaultPlan == "" {
		defaultPlan = PlanBasic
	}
	if !defaultPlan.IsPaid() {
		return nil, fmt.Errorf("default plan %q is not a paid tier", defaultPlan)
	}
	if defaultSeatPrice <= 0 {
		defaultSeatPrice = DefaultSeatPriceCents
	}

	t := &PriceTable{
		byPrice:          make(map[string]TierDescriptor, len(tiers)),
		defaultPlan:      defaultPlan,
		defaultSeatPrice: defaultSeatPrice,
	}
	for i, tier := range tiers {
		priceID := strings.TrimSpace(tier.PriceID)
		if priceID == "" {
			return nil, fmt.Errorf("tier %d: price_id is required", i)
		}
		tier.PriceID = priceID
		tier.Plan = NormalizePlanName(string(tier.Plan))
		if !tier.Plan.IsPaid() {
			return nil, fmt.Errorf("tier %q: plan %q is not a paid tier", priceID, tier.Plan)
		}
		if _, dup := t.byPrice[priceID]; dup {
			return nil, fmt.Errorf("tier %q: duplicate price_id", priceID)
		}
		if tier.SeatPriceCts <= 0 {
			tier.SeatPriceCts = defaultSeatPrice
		}
		t.byPrice[priceID] = tier
	}
	return t, nil
}

// DefaultPriceTable is an empty table that maps every price to BASIC at the
// default seat price.
func DefaultPriceTable() *PriceTable {
	t, _ := NewPriceTable(nil, PlanBasic, DefaultSeatPriceCents)
	return t
}

// PriceTable implements PriceTableSource for a static table.
func (t *PriceTable) PriceTable() *PriceTable { return t }

// Lookup returns the tier for a Stripe price ID.
func (t *PriceTable) Lookup(priceID string) (TierDescriptor, bool) {
	if t == nil {
		return TierDescriptor{}, false
	}
	tier, ok := t.byPrice[strings.TrimSpace(priceID)]
	return tier, ok
}

// ResolvePlan picks the paid tier for a subscription: the price table first,
// then a `plan` metadata hint, then the table default.
func (t *PriceTable) ResolvePlan(priceID string, metadata map[string]string) PlanName {
	if tier, ok := t.Lookup(priceID); ok {
		return tier.Plan
	}
	if metadata != nil {
		if hint := NormalizePlanName(metadata["plan"]); hint.IsPaid() {
			return hint
		}
	}
	if t == nil {
		return PlanBasic
	}
	return t.defaultPlan
}

// SeatPrice returns the per-seat monthly price for a Stripe price ID.
func (t *PriceTable) SeatPrice(priceID string) int64 {
	if tier, ok := t.Lookup(priceID); ok {
		return tier.SeatPriceCts
	}
	if t == nil {
		return DefaultSeatPriceCents
	}
	return t.defaultSeatPrice
}

// Len returns the number of configured tiers.
func (t *PriceTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.byPrice)
}
