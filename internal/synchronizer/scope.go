package synchronizer

import (
	"strings"

	"github.com/R3E-Network/habit_ledger/internal/ledger"
)

// Scope selects which parts of an address are re-read.
type Scope uint8

const (
	// ScopeUser re-reads the user account.
	ScopeUser Scope = 1 << iota
	// ScopeTherapist re-reads the therapist profile.
	ScopeTherapist
	// ScopeBookings re-reads the bookings the address takes part in, as user
	// and as therapist.
	ScopeBookings

	ScopeAll = ScopeUser | ScopeTherapist | ScopeBookings
)

func (s Scope) String() string {
	if s == 0 {
		return "none"
	}
	if s == ScopeAll {
		return "all"
	}
	var parts []string
	if s&ScopeUser != 0 {
		parts = append(parts, "user")
	}
	if s&ScopeTherapist != 0 {
		parts = append(parts, "therapist")
	}
	if s&ScopeBookings != 0 {
		parts = append(parts, "bookings")
	}
	return strings.Join(parts, "+")
}

// Target is one address to reconcile.
type Target struct {
	Address string
	Scope   Scope
}

// Targets maps an event to the addresses it affects. Only correlation fields
// are used. It returns nil for events that name no address.
func Targets(ev ledger.Event) []Target {
	var out []Target
	add := func(addr string, scope Scope) {
		if addr == "" {
			return
		}
		for i := range out {
			if out[i].Address == addr {
				out[i].Scope |= scope
				return
			}
		}
		out = append(out, Target{Address: addr, Scope: scope})
	}

	switch ev.Kind {
	case ledger.EventTokensStaked, ledger.EventTokensUnstaked,
		ledger.EventTaskCompleted, ledger.EventTokensRedeemed:
		add(ev.User, ScopeUser)
	case ledger.EventTherapistRegistered, ledger.EventTherapistDeactivated,
		ledger.EventTherapistReactivated:
		add(ev.Therapist, ScopeTherapist)
	case ledger.EventSessionBooked, ledger.EventBookingCancelled:
		// fee moves between the user's balance and escrow
		add(ev.User, ScopeUser|ScopeBookings)
		add(ev.Therapist, ScopeBookings)
	case ledger.EventReportUploaded:
		add(ev.Therapist, ScopeTherapist|ScopeBookings)
		add(ev.User, ScopeBookings)
	default:
		add(ev.User, ScopeAll)
		add(ev.Therapist, ScopeAll)
	}
	return out
}
