package domain

// Member is a CRM member record resolved from a phone number.
type Member struct {
	ID        string
	Email     string
	FirstName string
}

// ClassOption is one bookable class offered to the user.
type ClassOption struct {
	ClassID   string `json:"class_id"`
	Name      string `json:"name"`
	StartsAt  string `json:"starts_at"`
	SpotsLeft int    `json:"spots_left,omitempty"`
}

// ClassFilter narrows the available-classes query. Empty fields mean no filter.
type ClassFilter struct {
	Type string
	Date string // YYYY-MM-DD
}

// ReserveErrorCode is the stable internal code for a CRM booking business error.
type ReserveErrorCode string

const (
	ReserveAlreadyBooked ReserveErrorCode = "already_booked"
	ReserveClassFull     ReserveErrorCode = "class_full"
	ReserveNotFound      ReserveErrorCode = "not_found"
	ReserveUnknown       ReserveErrorCode = "unknown"
)

// ReserveResult is the outcome of a reservation attempt. Business errors are
// reported here and not as Go errors.
type ReserveResult struct {
	OK            bool
	ReservationID string
	Error         ReserveErrorCode
}

// Balance is a member's remaining entry balance.
type Balance struct {
	Credits    int
	ValidUntil string
}

// Contract is one membership contract.
type Contract struct {
	Name   string
	Status string
	EndsAt string
}
