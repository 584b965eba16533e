package ledgertest

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/habit_ledger/internal/chain"
	"github.com/R3E-Network/habit_ledger/internal/errors"
	"github.com/R3E-Network/habit_ledger/internal/ledger"
)

func TestLedger_BookingLifecycle(t *testing.T) {
	ctx := context.Background()
	l := New()
	user, therapist := NewAddress(t), NewAddress(t)
	l.Fund(user, 100)

	_, err := l.Client(therapist).Submit(ctx, ledger.OpRegisterTherapist, chain.NewStringParam("Dr. Calm"))
	require.NoError(t, err)

	tp, err := chain.NewHash160ParamFromAddress(therapist)
	require.NoError(t, err)
	var booked []ledger.Event
	sub, _ := l.Client(user).Subscribe(ledger.EventSessionBooked, func(ev ledger.Event) { booked = append(booked, ev) })
	defer l.Client(user).Unsubscribe(sub)

	_, err = l.Client(user).Submit(ctx, ledger.OpBookTherapist, tp, chain.NewIntegerParam(big.NewInt(30)))
	require.NoError(t, err)
	require.Len(t, booked, 1)
	assert.Equal(t, "70", l.Earned(user).String())

	_, err = l.Client(therapist).Submit(ctx, ledger.OpUploadReport, chain.NewIntegerParam(big.NewInt(0)), chain.NewStringParam("ipfs://r"))
	require.NoError(t, err)

	_, err = l.Client(user).Submit(ctx, ledger.OpCancelBooking, tp, chain.NewIntegerParam(big.NewInt(0)))
	assert.True(t, errors.IsRejected(err))
	assert.Equal(t, errors.ReasonBookingNotPending, errors.ReasonOf(err))

	item, err := l.Client(user).ReadField(ctx, ledger.FieldTherapistBookings, therapist)
	require.NoError(t, err)
	bookings, err := ledger.DecodeBookings(item)
	require.NoError(t, err)
	require.Len(t, bookings, 1)
	assert.Equal(t, "ipfs://r", bookings[0].ReportReference)
}

func TestLedger_FailAfterApply(t *testing.T) {
	ctx := context.Background()
	l := New()
	user := NewAddress(t)
	l.FailAfterApply(ledger.OpStake, errors.Transport("stake", context.DeadlineExceeded))

	_, err := l.Client(user).Submit(ctx, ledger.OpStake, chain.NewIntegerParam(big.NewInt(10)))
	assert.True(t, errors.IsTransport(err))
	assert.Equal(t, "10", l.Staked(user).String())
	assert.Equal(t, int64(1), l.Submits())
}
