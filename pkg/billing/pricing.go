package billing

import (
	"fmt"
	"math"
	"time"
)

// DefaultSeatPriceCents is the fixed per-seat monthly rate used when no price
// table entry carries its own rate.
const DefaultSeatPriceCents int64 = 1000

// DefaultCurrency is the ISO currency for all amounts.
const DefaultCurrency = "usd"

// Pricing is the monthly price breakdown for a billable-user count. All
// amounts are in cents.
type Pricing struct {
	BasePrice      int64            `json:"basePrice"`
	TotalAmount    int64            `json:"totalAmount"`
	FormattedPrice string           `json:"formattedPrice"`
	Breakdown      PricingBreakdown `json:"breakdown"`
}

// PricingBreakdown itemizes the billable roster.
type PricingBreakdown struct {
	Admins        int    `json:"admins"`
	Verifiers     int    `json:"verifiers"`
	BillableUsers int    `json:"billableUsers"`
	PricePerUser  int64  `json:"pricePerUser"`
	Currency      string `json:"currency"`
}

// ComputePricing prices a roster of admins and verifiers at pricePerSeat.
func ComputePricing(adminCount, verifierCount int, pricePerSeat int64) Pricing {
	if pricePerSeat < 0 {
		pricePerSeat = 0
	}
	billable := max(0, adminCount) + max(0, verifierCount)
	total := int64(billable) * pricePerSeat
	return Pricing{
		BasePrice:      pricePerSeat,
		TotalAmount:    total,
		FormattedPrice: FormatCents(total),
		Breakdown: PricingBreakdown{
			Admins:        max(0, adminCount),
			Verifiers:     max(0, verifierCount),
			BillableUsers: billable,
			PricePerUser:  pricePerSeat,
			Currency:      DefaultCurrency,
		},
	}
}

// FormatCents renders a cent amount as dollars, e.g. 2500 -> "$25.00".
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}

// UpgradePreview is the cost delta shown before a seat upgrade is confirmed.
type UpgradePreview struct {
	CurrentSeats        int    `json:"currentSeats"`
	NewSeats            int    `json:"newSeats"`
	PricePerSeat        int64  `json:"pricePerSeat"`
	CurrentMonthlyTotal int64  `json:"currentMonthlyTotal"`
	NewMonthlyTotal     int64  `json:"newMonthlyTotal"`
	AdditionalCost      int64  `json:"additionalCost"`
	FormattedAdditional string `json:"formattedAdditionalCost"`
}

// PreviewSeatUpgrade computes the cost of growing to ActiveUsers+1 seats.
// The current total is what is billed today (purchased seats), so an
// over-limit organization sees the full catch-up cost.
func PreviewSeatUpgrade(info SeatInfo, pricePerSeat int64) UpgradePreview {
	newSeats := info.ActiveUsers + 1
	current := int64(info.SubscribedSeats) * pricePerSeat
	next := int64(newSeats) * pricePerSeat
	return UpgradePreview{
		CurrentSeats:        info.SubscribedSeats,
		NewSeats:            newSeats,
		PricePerSeat:        pricePerSeat,
		CurrentMonthlyTotal: current,
		NewMonthlyTotal:     next,
		AdditionalCost:      next - current,
		FormattedAdditional: FormatCents(next - current),
	}
}

// ProrationEstimate describes the immediate charge for a mid-cycle quantity
// change. Stripe computes the authoritative amount; this is the preview.
type ProrationEstimate struct {
	Behavior          ProrationBehavior `json:"proration_behavior"`
	SeatDelta         int               `json:"seat_delta"`
	PricePerSeat      int64             `json:"price_per_seat"`
	RemainingFraction float64           `json:"remaining_fraction"`
	EstimatedAmount   int64             `json:"estimated_amount"`
	InvoicedNow       bool              `json:"invoiced_now"`
}

// EstimateProration estimates the prorated amount for moving from oldQty to
// newQty seats at now, within the billing period [start, end). When the period
// is unknown the full monthly delta is assumed.
func EstimateProration(behavior ProrationBehavior, pricePerSeat int64, oldQty, newQty int, start, end *time.Time, now time.Time) ProrationEstimate {
	est := ProrationEstimate{
		Behavior:          behavior,
		SeatDelta:         newQty - oldQty,
		PricePerSeat:      pricePerSeat,
		RemainingFraction: 1,
		InvoicedNow:       behavior == ProrationAlwaysInvoice,
	}
	if behavior == ProrationNone {
		est.RemainingFraction = 0
		return est
	}
	if start != nil && end != nil && end.After(*start) {
		total := end.Sub(*start)
		remaining := end.Sub(now)
		switch {
		case remaining <= 0:
			est.RemainingFraction = 0
		case remaining < total:
			est.RemainingFraction = float64(remaining) / float64(total)
		}
	}
	est.EstimatedAmount = int64(math.Round(float64(int64(est.SeatDelta)*pricePerSeat) * est.RemainingFraction))
	return est
}
