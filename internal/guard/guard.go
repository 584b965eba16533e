// Package guard checks mutating requests against the projected state before
// they are submitted. Checks are pure and never touch the network. A pass
// does not guarantee the ledger accepts the operation.
package guard

import (
	"math/big"
	"strings"

	"github.com/R3E-Network/habit_ledger/internal/domain"
	"github.com/R3E-Network/habit_ledger/internal/errors"
	"github.com/R3E-Network/habit_ledger/internal/ledger"
)

// Snapshot is the read view the guard checks against.
type Snapshot interface {
	User(address string) (domain.UserAccount, bool)
	Therapist(address string) (domain.TherapistProfile, bool)
	Booking(key domain.BookingKey) (domain.Booking, bool)
}

// Limits bounds session fees, in base units.
type Limits struct {
	MinSessionFee *big.Int
	MaxSessionFee *big.Int
}

// Guard evaluates preconditions.
type Guard struct {
	limits Limits
}

// New creates a guard with the given fee limits.
func New(limits Limits) *Guard {
	return &Guard{limits: limits}
}

func fail(op ledger.Operation, reason string) error {
	return errors.PreconditionFailed(string(op), reason)
}

func positive(op ledger.Operation, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fail(op, errors.ReasonAmountNotPositive)
	}
	return nil
}

// An address the projection has not seen holds zero balances.
func balances(snap Snapshot, address string) domain.UserAccount {
	if u, ok := snap.User(address); ok {
		return u
	}
	return domain.NewUserAccount(address)
}

// Stake requires a positive amount.
func (g *Guard) Stake(_ Snapshot, _ string, amount *big.Int) error {
	return positive(ledger.OpStake, amount)
}

// CompleteTask requires a positive reward.
func (g *Guard) CompleteTask(_ Snapshot, _ string, reward *big.Int) error {
	return positive(ledger.OpCompleteTask, reward)
}

// Unstake requires a positive amount not above the staked balance.
func (g *Guard) Unstake(snap Snapshot, user string, amount *big.Int) error {
	if err := positive(ledger.OpUnstake, amount); err != nil {
		return err
	}
	if balances(snap, user).Staked.Cmp(amount) < 0 {
		return fail(ledger.OpUnstake, errors.ReasonInsufficientStaked)
	}
	return nil
}

// Redeem requires a positive amount not above the earned balance.
func (g *Guard) Redeem(snap Snapshot, user string, amount *big.Int) error {
	if err := positive(ledger.OpRedeem, amount); err != nil {
		return err
	}
	if balances(snap, user).Earned.Cmp(amount) < 0 {
		return fail(ledger.OpRedeem, errors.ReasonInsufficientEarned)
	}
	return nil
}

// BookTherapist requires a known active therapist other than the user and a
// fee within limits.
func (g *Guard) BookTherapist(snap Snapshot, user, therapist string, fee *big.Int) error {
	const op = ledger.OpBookTherapist
	if user == therapist {
		return fail(op, errors.ReasonSelfBooking)
	}
	profile, ok := snap.Therapist(therapist)
	if !ok {
		return fail(op, errors.ReasonTherapistNotFound)
	}
	if !profile.Active {
		return fail(op, errors.ReasonTherapistInactive)
	}
	if fee == nil || fee.Sign() <= 0 {
		return fail(op, errors.ReasonFeeOutOfRange)
	}
	if g.limits.MinSessionFee != nil && fee.Cmp(g.limits.MinSessionFee) < 0 {
		return fail(op, errors.ReasonFeeOutOfRange)
	}
	if g.limits.MaxSessionFee != nil && fee.Cmp(g.limits.MaxSessionFee) > 0 {
		return fail(op, errors.ReasonFeeOutOfRange)
	}
	return nil
}

// CancelBooking requires a known pending booking without a report.
func (g *Guard) CancelBooking(snap Snapshot, _ string, key domain.BookingKey) error {
	const op = ledger.OpCancelBooking
	b, ok := snap.Booking(key)
	if !ok {
		return fail(op, errors.ReasonBookingNotFound)
	}
	if b.Status != domain.BookingPending {
		return fail(op, errors.ReasonBookingNotPending)
	}
	if b.HasReport() {
		return fail(op, errors.ReasonReportPresent)
	}
	return nil
}

// UploadReport requires a known pending booking without a report, owned by
// the calling therapist, and a non-empty reference.
func (g *Guard) UploadReport(snap Snapshot, caller string, key domain.BookingKey, reference string) error {
	const op = ledger.OpUploadReport
	b, ok := snap.Booking(key)
	if !ok {
		return fail(op, errors.ReasonBookingNotFound)
	}
	if b.Therapist != caller {
		return fail(op, errors.ReasonNotBookingTherapist)
	}
	if b.Status != domain.BookingPending {
		return fail(op, errors.ReasonBookingNotPending)
	}
	if b.HasReport() {
		return fail(op, errors.ReasonReportPresent)
	}
	if strings.TrimSpace(reference) == "" {
		return fail(op, errors.ReasonEmptyReport)
	}
	return nil
}

// RegisterTherapist requires a non-empty name and no active profile.
func (g *Guard) RegisterTherapist(snap Snapshot, caller, name string) error {
	const op = ledger.OpRegisterTherapist
	if strings.TrimSpace(name) == "" {
		return fail(op, errors.ReasonEmptyName)
	}
	if profile, ok := snap.Therapist(caller); ok && profile.Active {
		return fail(op, errors.ReasonTherapistRegistered)
	}
	return nil
}

// DeactivateTherapist requires an active profile.
func (g *Guard) DeactivateTherapist(snap Snapshot, caller string) error {
	const op = ledger.OpDeactivateTherapist
	profile, ok := snap.Therapist(caller)
	if !ok {
		return fail(op, errors.ReasonTherapistNotFound)
	}
	if !profile.Active {
		return fail(op, errors.ReasonTherapistInactive)
	}
	return nil
}

// ReactivateTherapist requires an inactive profile.
func (g *Guard) ReactivateTherapist(snap Snapshot, caller string) error {
	const op = ledger.OpReactivateTherapist
	profile, ok := snap.Therapist(caller)
	if !ok {
		return fail(op, errors.ReasonTherapistNotFound)
	}
	if profile.Active {
		return fail(op, errors.ReasonTherapistActive)
	}
	return nil
}
