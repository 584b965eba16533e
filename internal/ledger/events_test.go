package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/habit_ledger/internal/chain"
	"github.com/R3E-Network/habit_ledger/internal/ledger"
)

func TestParseEvent(t *testing.T) {
	user := newKey(t)
	therapist := newKey(t)
	u, th := user.GetScriptHash(), therapist.GetScriptHash()

	tests := []struct {
		kind      ledger.EventKind
		state     chain.StackItem
		user      bool
		therapist bool
	}{
		{ledger.EventTokensStaked, chain.ArrayItem(chain.Hash160Item(u), chain.Int64Item(5)), true, false},
		{ledger.EventTaskCompleted, chain.ArrayItem(chain.Hash160Item(u), chain.Int64Item(1)), true, false},
		{ledger.EventTherapistRegistered, chain.ArrayItem(chain.Hash160Item(th), chain.StringItem("Dr. Calm")), false, true},
		{ledger.EventTherapistDeactivated, chain.ArrayItem(chain.Hash160Item(th)), false, true},
		{ledger.EventSessionBooked, chain.ArrayItem(chain.Hash160Item(u), chain.Hash160Item(th), chain.Int64Item(10)), true, true},
		{ledger.EventBookingCancelled, chain.ArrayItem(chain.Hash160Item(u), chain.Hash160Item(th), chain.Int64Item(2)), true, true},
		{ledger.EventReportUploaded, chain.ArrayItem(chain.Hash160Item(th), chain.Hash160Item(u), chain.StringItem("ipfs://x")), true, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			ev, err := ledger.ParseEvent(chain.ContractEvent{
				Position:  chain.Position{Block: 9, Tx: 1},
				EventName: string(tt.kind),
				State:     tt.state,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.kind, ev.Kind)
			assert.Equal(t, uint32(9), ev.Position.Block)
			if tt.user {
				assert.Equal(t, addressOf(user), ev.User)
			} else {
				assert.Empty(t, ev.User)
			}
			if tt.therapist {
				assert.Equal(t, addressOf(therapist), ev.Therapist)
			}
		})
	}
}

func TestParseEvent_Undecodable(t *testing.T) {
	ev, err := ledger.ParseEvent(chain.ContractEvent{
		EventName: string(ledger.EventSessionBooked),
		State:     chain.ArrayItem(chain.StringItem("short")),
	})
	require.Error(t, err)
	assert.Equal(t, ledger.EventSessionBooked, ev.Kind)
	assert.False(t, ev.Correlated())
}
