package synchronizer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/R3E-Network/habit_ledger/internal/ledger"
)

func TestTargets(t *testing.T) {
	const u, th = "NUser", "NTherapist"
	tests := []struct {
		name string
		ev   ledger.Event
		want []Target
	}{
		{"staked", ledger.Event{Kind: ledger.EventTokensStaked, User: u}, []Target{{u, ScopeUser}}},
		{"redeemed", ledger.Event{Kind: ledger.EventTokensRedeemed, User: u}, []Target{{u, ScopeUser}}},
		{"registered", ledger.Event{Kind: ledger.EventTherapistRegistered, Therapist: th}, []Target{{th, ScopeTherapist}}},
		{"deactivated", ledger.Event{Kind: ledger.EventTherapistDeactivated, Therapist: th}, []Target{{th, ScopeTherapist}}},
		{"booked", ledger.Event{Kind: ledger.EventSessionBooked, User: u, Therapist: th},
			[]Target{{u, ScopeUser | ScopeBookings}, {th, ScopeBookings}}},
		{"cancelled", ledger.Event{Kind: ledger.EventBookingCancelled, User: u, Therapist: th},
			[]Target{{u, ScopeUser | ScopeBookings}, {th, ScopeBookings}}},
		{"report", ledger.Event{Kind: ledger.EventReportUploaded, User: u, Therapist: th},
			[]Target{{th, ScopeTherapist | ScopeBookings}, {u, ScopeBookings}}},
		{"unknown kind", ledger.Event{Kind: "Mystery", User: u}, []Target{{u, ScopeAll}}},
		{"uncorrelated", ledger.Event{Kind: ledger.EventTokensStaked}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Targets(tt.ev))
		})
	}
}

func TestScopeString(t *testing.T) {
	assert.Equal(t, "none", Scope(0).String())
	assert.Equal(t, "all", ScopeAll.String())
	assert.Equal(t, "user+bookings", (ScopeUser | ScopeBookings).String())
}
