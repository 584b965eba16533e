package domain

import (
	"encoding/json"
	"fmt"
)

// BookingStatus is the lifecycle status of a booking. The numeric values
// match the ledger contract's encoding.
type BookingStatus int32

const (
	// BookingPending is a booking whose fee is escrowed and awaiting a session.
	BookingPending BookingStatus = iota

	// BookingCompleted is a booking whose report was uploaded.
	BookingCompleted

	// BookingCancelled is a booking that was cancelled before a report arrived.
	BookingCancelled
)

// String returns the string representation of the status.
func (s BookingStatus) String() string {
	switch s {
	case BookingPending:
		return "pending"
	case BookingCompleted:
		return "completed"
	case BookingCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", s)
	}
}

// Valid reports whether s is one of the known statuses.
func (s BookingStatus) Valid() bool {
	return s >= BookingPending && s <= BookingCancelled
}

// MarshalJSON implements json.Marshaler.
func (s BookingStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *BookingStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseBookingStatus(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseBookingStatus converts a string to BookingStatus.
func ParseBookingStatus(s string) (BookingStatus, error) {
	switch s {
	case "pending":
		return BookingPending, nil
	case "completed":
		return BookingCompleted, nil
	case "cancelled", "canceled":
		return BookingCancelled, nil
	default:
		return 0, fmt.Errorf("unknown booking status %q", s)
	}
}

// IsTerminal returns true if no further transition is possible.
func (s BookingStatus) IsTerminal() bool {
	return s == BookingCompleted || s == BookingCancelled
}

// CanTransition reports whether a booking may move from s to next. Staying
// in the same status is always allowed.
func (s BookingStatus) CanTransition(next BookingStatus) bool {
	if s == next {
		return true
	}
	return s == BookingPending && next.IsTerminal()
}
