package ledger

import (
	"fmt"
	"math/big"

	"github.com/R3E-Network/habit_ledger/internal/chain"
)

// EventKind is a contract notification name.
type EventKind string

const (
	EventTokensStaked         EventKind = "TokensStaked"
	EventTokensUnstaked       EventKind = "TokensUnstaked"
	EventTaskCompleted        EventKind = "TaskCompleted"
	EventTokensRedeemed       EventKind = "TokensRedeemed"
	EventTherapistRegistered  EventKind = "TherapistRegistered"
	EventTherapistDeactivated EventKind = "TherapistDeactivated"
	EventTherapistReactivated EventKind = "TherapistReactivated"
	EventSessionBooked        EventKind = "SessionBooked"
	EventBookingCancelled     EventKind = "BookingCancelled"
	EventReportUploaded       EventKind = "ReportUploaded"

	// EventOther subscribes to notifications whose name is not one of
	// EventKinds, such as a NEP-17 Transfer.
	EventOther EventKind = "*"
)

// EventKinds lists every notification the contract emits.
func EventKinds() []EventKind {
	return []EventKind{
		EventTokensStaked,
		EventTokensUnstaked,
		EventTaskCompleted,
		EventTokensRedeemed,
		EventTherapistRegistered,
		EventTherapistDeactivated,
		EventTherapistReactivated,
		EventSessionBooked,
		EventBookingCancelled,
		EventReportUploaded,
	}
}

// Known reports whether k is one of EventKinds.
func (k EventKind) Known() bool {
	for _, known := range EventKinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Event is a decoded contract notification. Consumers use it to decide what
// to re-read; the payload values are informational only.
type Event struct {
	Kind     EventKind
	Position chain.Position
	TxHash   string

	User      string
	Therapist string

	Amount       *big.Int
	BookingIndex uint64
	Name         string
	Reference    string
}

// Correlated reports whether the event names at least one address.
func (e Event) Correlated() bool {
	return e.User != "" || e.Therapist != ""
}

// ParseEvent decodes a raw notification. On a payload error the returned
// event still carries kind and position so callers can fall back to a broad
// reconciliation.
func ParseEvent(raw chain.ContractEvent) (Event, error) {
	ev := Event{
		Kind:     EventKind(raw.EventName),
		Position: raw.Position,
		TxHash:   raw.TxHash,
	}

	items, err := chain.ParseArray(raw.State)
	if err != nil {
		return ev, fmt.Errorf("parse %s: %w", raw.EventName, err)
	}

	var decoded Event
	switch ev.Kind {
	case EventTokensStaked, EventTokensUnstaked, EventTaskCompleted, EventTokensRedeemed:
		decoded, err = parseUserAmount(items)
	case EventTherapistRegistered:
		decoded, err = parseTherapistRegistered(items)
	case EventTherapistDeactivated, EventTherapistReactivated:
		decoded, err = parseTherapistOnly(items)
	case EventSessionBooked:
		decoded, err = parseSessionBooked(items)
	case EventBookingCancelled:
		decoded, err = parseBookingCancelled(items)
	case EventReportUploaded:
		decoded, err = parseReportUploaded(items)
	default:
		return ev, fmt.Errorf("unknown event %s", raw.EventName)
	}
	if err != nil {
		return ev, fmt.Errorf("parse %s: %w", raw.EventName, err)
	}

	decoded.Kind, decoded.Position, decoded.TxHash = ev.Kind, ev.Position, ev.TxHash
	return decoded, nil
}

func expectLen(items []chain.StackItem, n int) error {
	if len(items) < n {
		return fmt.Errorf("expected %d items, got %d", n, len(items))
	}
	return nil
}

func parseUserAmount(items []chain.StackItem) (Event, error) {
	if err := expectLen(items, 2); err != nil {
		return Event{}, err
	}
	user, err := chain.ParseAddress(items[0])
	if err != nil {
		return Event{}, fmt.Errorf("user: %w", err)
	}
	amount, err := chain.ParseInteger(items[1])
	if err != nil {
		return Event{}, fmt.Errorf("amount: %w", err)
	}
	return Event{User: user, Amount: amount}, nil
}

func parseTherapistRegistered(items []chain.StackItem) (Event, error) {
	if err := expectLen(items, 2); err != nil {
		return Event{}, err
	}
	therapist, err := chain.ParseAddress(items[0])
	if err != nil {
		return Event{}, fmt.Errorf("therapist: %w", err)
	}
	name, err := chain.ParseString(items[1])
	if err != nil {
		return Event{}, fmt.Errorf("name: %w", err)
	}
	return Event{Therapist: therapist, Name: name}, nil
}

func parseTherapistOnly(items []chain.StackItem) (Event, error) {
	if err := expectLen(items, 1); err != nil {
		return Event{}, err
	}
	therapist, err := chain.ParseAddress(items[0])
	if err != nil {
		return Event{}, fmt.Errorf("therapist: %w", err)
	}
	return Event{Therapist: therapist}, nil
}

func parseParties(items []chain.StackItem, userFirst bool) (user, therapist string, err error) {
	if err := expectLen(items, 3); err != nil {
		return "", "", err
	}
	ui, ti := 0, 1
	if !userFirst {
		ui, ti = 1, 0
	}
	if user, err = chain.ParseAddress(items[ui]); err != nil {
		return "", "", fmt.Errorf("user: %w", err)
	}
	if therapist, err = chain.ParseAddress(items[ti]); err != nil {
		return "", "", fmt.Errorf("therapist: %w", err)
	}
	return user, therapist, nil
}

func parseSessionBooked(items []chain.StackItem) (Event, error) {
	user, therapist, err := parseParties(items, true)
	if err != nil {
		return Event{}, err
	}
	fee, err := chain.ParseInteger(items[2])
	if err != nil {
		return Event{}, fmt.Errorf("fee: %w", err)
	}
	return Event{User: user, Therapist: therapist, Amount: fee}, nil
}

func parseBookingCancelled(items []chain.StackItem) (Event, error) {
	user, therapist, err := parseParties(items, true)
	if err != nil {
		return Event{}, err
	}
	index, err := chain.ParseInteger(items[2])
	if err != nil {
		return Event{}, fmt.Errorf("index: %w", err)
	}
	return Event{User: user, Therapist: therapist, BookingIndex: index.Uint64()}, nil
}

func parseReportUploaded(items []chain.StackItem) (Event, error) {
	user, therapist, err := parseParties(items, false)
	if err != nil {
		return Event{}, err
	}
	ref, err := chain.ParseString(items[2])
	if err != nil {
		return Event{}, fmt.Errorf("reference: %w", err)
	}
	return Event{User: user, Therapist: therapist, Reference: ref}, nil
}
