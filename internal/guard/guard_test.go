package guard

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/habit_ledger/internal/domain"
	"github.com/R3E-Network/habit_ledger/internal/errors"
	"github.com/R3E-Network/habit_ledger/internal/projection"
)

const (
	alice = "NAlice"
	bob   = "NBob"
	carol = "NCarol"
)

func seed(t *testing.T) *projection.Store {
	t.Helper()
	s := projection.NewStore(projection.Options{})
	m := projection.Marker{Height: 1, Stamp: 1}

	u := domain.NewUserAccount(alice)
	u.Staked.SetInt64(100)
	u.Earned.SetInt64(40)
	require.NoError(t, s.ReplaceUser(u, m))

	require.NoError(t, s.ReplaceTherapist(domain.TherapistProfile{Address: bob, DisplayName: "Bob", Active: true, TotalEarnings: new(big.Int)}, m))
	require.NoError(t, s.ReplaceTherapist(domain.TherapistProfile{Address: carol, DisplayName: "Carol", Active: false, TotalEarnings: new(big.Int)}, m))

	require.NoError(t, s.ReplaceBooking(domain.Booking{Index: 0, User: alice, Therapist: bob, SessionFee: big.NewInt(10), Status: domain.BookingPending}, m))
	require.NoError(t, s.ReplaceBooking(domain.Booking{Index: 1, User: alice, Therapist: bob, SessionFee: big.NewInt(10), Status: domain.BookingCompleted, ReportReference: "ipfs://r"}, m))
	require.NoError(t, s.ReplaceBooking(domain.Booking{Index: 2, User: alice, Therapist: bob, SessionFee: big.NewInt(10), Status: domain.BookingPending, ReportReference: "ipfs://early"}, m))
	return s
}

func newGuard() *Guard {
	return New(Limits{MinSessionFee: big.NewInt(5), MaxSessionFee: big.NewInt(50)})
}

func assertReason(t *testing.T, err error, reason string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.IsPrecondition(err), "want precondition, got %v", err)
	assert.Equal(t, reason, errors.ReasonOf(err))
}

func TestGuard_TokenOperations(t *testing.T) {
	g, s := newGuard(), seed(t)
	view := s.View()

	assert.NoError(t, g.Stake(view, alice, big.NewInt(1)))
	assertReason(t, g.Stake(view, alice, big.NewInt(0)), errors.ReasonAmountNotPositive)
	assertReason(t, g.CompleteTask(view, alice, big.NewInt(-3)), errors.ReasonAmountNotPositive)

	assert.NoError(t, g.Redeem(view, alice, big.NewInt(40)))
	assertReason(t, g.Redeem(view, alice, big.NewInt(50)), errors.ReasonInsufficientEarned)
	assertReason(t, g.Redeem(view, "NStranger", big.NewInt(1)), errors.ReasonInsufficientEarned)

	assert.NoError(t, g.Unstake(view, alice, big.NewInt(100)))
	assertReason(t, g.Unstake(view, alice, big.NewInt(101)), errors.ReasonInsufficientStaked)
}

func TestGuard_BookTherapist(t *testing.T) {
	g, s := newGuard(), seed(t)
	view := s.View()

	assert.NoError(t, g.BookTherapist(view, alice, bob, big.NewInt(5)))
	assert.NoError(t, g.BookTherapist(view, alice, bob, big.NewInt(50)))
	assertReason(t, g.BookTherapist(view, alice, carol, big.NewInt(10)), errors.ReasonTherapistInactive)
	assertReason(t, g.BookTherapist(view, alice, "NUnknown", big.NewInt(10)), errors.ReasonTherapistNotFound)
	assertReason(t, g.BookTherapist(view, bob, bob, big.NewInt(10)), errors.ReasonSelfBooking)
	assertReason(t, g.BookTherapist(view, alice, bob, big.NewInt(4)), errors.ReasonFeeOutOfRange)
	assertReason(t, g.BookTherapist(view, alice, bob, big.NewInt(51)), errors.ReasonFeeOutOfRange)
}

func TestGuard_CancelBooking(t *testing.T) {
	g, s := newGuard(), seed(t)
	view := s.View()

	assert.NoError(t, g.CancelBooking(view, alice, domain.BookingKey{Therapist: bob, Index: 0}))
	assertReason(t, g.CancelBooking(view, alice, domain.BookingKey{Therapist: bob, Index: 1}), errors.ReasonBookingNotPending)
	assertReason(t, g.CancelBooking(view, alice, domain.BookingKey{Therapist: bob, Index: 2}), errors.ReasonReportPresent)
	assertReason(t, g.CancelBooking(view, alice, domain.BookingKey{Therapist: bob, Index: 9}), errors.ReasonBookingNotFound)
}

func TestGuard_UploadReport(t *testing.T) {
	g, s := newGuard(), seed(t)
	view := s.View()
	pending := domain.BookingKey{Therapist: bob, Index: 0}

	assert.NoError(t, g.UploadReport(view, bob, pending, "ipfs://r"))
	assertReason(t, g.UploadReport(view, alice, pending, "ipfs://r"), errors.ReasonNotBookingTherapist)
	assertReason(t, g.UploadReport(view, bob, pending, "  "), errors.ReasonEmptyReport)
	assertReason(t, g.UploadReport(view, bob, domain.BookingKey{Therapist: bob, Index: 1}, "x"), errors.ReasonBookingNotPending)
	assertReason(t, g.UploadReport(view, bob, domain.BookingKey{Therapist: bob, Index: 2}, "x"), errors.ReasonReportPresent)
}

func TestGuard_TherapistLifecycle(t *testing.T) {
	g, s := newGuard(), seed(t)
	view := s.View()

	assert.NoError(t, g.RegisterTherapist(view, alice, "Alice"))
	assertReason(t, g.RegisterTherapist(view, alice, ""), errors.ReasonEmptyName)
	assertReason(t, g.RegisterTherapist(view, bob, "Bob again"), errors.ReasonTherapistRegistered)

	assert.NoError(t, g.DeactivateTherapist(view, bob))
	assertReason(t, g.DeactivateTherapist(view, carol), errors.ReasonTherapistInactive)
	assertReason(t, g.DeactivateTherapist(view, alice), errors.ReasonTherapistNotFound)

	assert.NoError(t, g.ReactivateTherapist(view, carol))
	assertReason(t, g.ReactivateTherapist(view, bob), errors.ReasonTherapistActive)
}
