package controller

import (
	"context"
	"fmt"
	"math/big"

	"github.com/R3E-Network/habit_ledger/internal/chain"
	"github.com/R3E-Network/habit_ledger/internal/domain"
	"github.com/R3E-Network/habit_ledger/internal/errors"
	"github.com/R3E-Network/habit_ledger/internal/guard"
	"github.com/R3E-Network/habit_ledger/internal/ledger"
	"github.com/R3E-Network/habit_ledger/internal/synchronizer"
)

// BookingResult is the outcome of a booking operation.
type BookingResult struct {
	Confirmation *ledger.Confirmation
	Booking      domain.Booking
}

// BookTherapist books a session with therapist for fee base units, escrowed
// from the identity's earned balance.
func (c *Controller) BookTherapist(ctx context.Context, therapist string, fee *big.Int) (*BookingResult, error) {
	user := c.Identity()
	param, err := chain.NewHash160ParamFromAddress(therapist)
	if err != nil {
		return nil, errors.Format(errors.ReasonInvalidAddress, err)
	}

	known := make(map[domain.BookingKey]struct{})
	for _, b := range c.store.View().TherapistBookings(therapist) {
		known[b.Key()] = struct{}{}
	}

	conf, err := c.execute(ctx, plan{
		op:    ledger.OpBookTherapist,
		check: func(s guard.Snapshot) error { return c.guard.BookTherapist(s, user, therapist, fee) },
		args:  []chain.ContractParam{param, chain.NewIntegerParam(fee)},
		targets: []synchronizer.Target{
			{Address: user, Scope: synchronizer.ScopeUser | synchronizer.ScopeBookings},
			{Address: therapist, Scope: synchronizer.ScopeBookings},
		},
	})
	if conf == nil {
		return nil, err
	}
	res := &BookingResult{Confirmation: conf}
	if err != nil {
		return res, err
	}

	// the ledger assigns the index; the new booking is the one we did not know
	var found bool
	for _, b := range c.store.View().TherapistBookings(therapist) {
		if _, ok := known[b.Key()]; ok || b.User != user {
			continue
		}
		if !found || b.Index > res.Booking.Index {
			res.Booking, found = b, true
		}
	}
	if !found {
		return res, &NotReconciledError{TxHash: conf.TxHash, Err: fmt.Errorf("booking with %s not visible after refresh", therapist)}
	}
	return res, nil
}

// CancelBooking cancels a pending booking and refunds its fee.
func (c *Controller) CancelBooking(ctx context.Context, key domain.BookingKey) (*BookingResult, error) {
	caller := c.Identity()
	param, err := chain.NewHash160ParamFromAddress(key.Therapist)
	if err != nil {
		return nil, errors.Format(errors.ReasonInvalidAddress, err)
	}
	user := caller
	if b, ok := c.store.View().Booking(key); ok {
		user = b.User
	}
	return c.bookingOp(ctx, key, plan{
		op:    ledger.OpCancelBooking,
		check: func(s guard.Snapshot) error { return c.guard.CancelBooking(s, caller, key) },
		args:  []chain.ContractParam{param, chain.NewIntegerParam(new(big.Int).SetUint64(key.Index))},
		targets: []synchronizer.Target{
			{Address: user, Scope: synchronizer.ScopeUser | synchronizer.ScopeBookings},
			{Address: key.Therapist, Scope: synchronizer.ScopeBookings},
		},
	})
}

// UploadReport attaches a report reference to a pending booking, which
// completes it. Only the booking's therapist may call it.
func (c *Controller) UploadReport(ctx context.Context, key domain.BookingKey, reference string) (*BookingResult, error) {
	caller := c.Identity()
	targets := []synchronizer.Target{{Address: key.Therapist, Scope: synchronizer.ScopeTherapist | synchronizer.ScopeBookings}}
	if b, ok := c.store.View().Booking(key); ok && b.User != key.Therapist {
		targets = append(targets, synchronizer.Target{Address: b.User, Scope: synchronizer.ScopeBookings})
	}
	return c.bookingOp(ctx, key, plan{
		op:    ledger.OpUploadReport,
		check: func(s guard.Snapshot) error { return c.guard.UploadReport(s, caller, key, reference) },
		args: []chain.ContractParam{
			chain.NewIntegerParam(new(big.Int).SetUint64(key.Index)),
			chain.NewStringParam(reference),
		},
		targets: targets,
	})
}

func (c *Controller) bookingOp(ctx context.Context, key domain.BookingKey, p plan) (*BookingResult, error) {
	conf, err := c.execute(ctx, p)
	if conf == nil {
		return nil, err
	}
	res := &BookingResult{Confirmation: conf}
	res.Booking, _ = c.store.View().Booking(key)
	return res, err
}
