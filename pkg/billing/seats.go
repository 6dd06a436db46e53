package billing

import "fmt"

// DefaultSubscribedSeats is used when a subscription (or its user_count) is
// missing. It preserves the single implicit seat granted to every organization.
const DefaultSubscribedSeats = 1

// SeatInfo is derived on every read and never persisted.
type SeatInfo struct {
	SubscribedSeats int `json:"subscribedSeats"`
	ActiveUsers     int `json:"activeUsers"`
	AvailableSeats  int `json:"availableSeats"`
}

// SeatStatus classifies a SeatInfo.
type SeatStatus string

const (
	SeatStatusAvailable SeatStatus = "available"
	SeatStatusFull      SeatStatus = "full"
	SeatStatusOverLimit SeatStatus = "over-limit"
)

// SubscribedSeats returns the purchased seat count for sub, defaulting to one
// seat when the subscription or its user_count is missing.
func SubscribedSeats(sub *Subscription) int {
	if sub == nil || sub.UserCount == nil {
		return DefaultSubscribedSeats
	}
	if *sub.UserCount < 0 {
		return 0
	}
	return *sub.UserCount
}

// CalculateSeatInfo derives seat availability. AvailableSeats never goes
// negative; an over-provisioned roster shows up as AvailableSeats == 0 and is
// distinguished by GetSeatStatus.
func CalculateSeatInfo(sub *Subscription, activeUsers int) SeatInfo {
	if activeUsers < 0 {
		activeUsers = 0
	}
	subscribed := SubscribedSeats(sub)
	return SeatInfo{
		SubscribedSeats: subscribed,
		ActiveUsers:     activeUsers,
		AvailableSeats:  max(0, subscribed-activeUsers),
	}
}

// GetSeatStatus classifies seat usage.
func GetSeatStatus(info SeatInfo) SeatStatus {
	switch {
	case info.ActiveUsers > info.SubscribedSeats:
		return SeatStatusOverLimit
	case info.AvailableSeats > 0:
		return SeatStatusAvailable
	default:
		return SeatStatusFull
	}
}

// Status is shorthand for GetSeatStatus(info).
func (info SeatInfo) Status() SeatStatus {
	return GetSeatStatus(info)
}

// CanAdd reports whether n more billable users fit in the purchased seats.
func (info SeatInfo) CanAdd(n int) bool {
	if n <= 0 {
		return true
	}
	return info.ActiveUsers+n <= info.SubscribedSeats
}

// SeatLimitMessage is the user-facing text for a full seat allocation.
func SeatLimitMessage(info SeatInfo) string {
	return fmt.Sprintf("Seat limit reached (%d/%d). Adding a billable user requires an additional seat.",
		info.ActiveUsers, info.SubscribedSeats)
}
