package controller

import (
	"context"

	"github.com/R3E-Network/habit_ledger/internal/chain"
	"github.com/R3E-Network/habit_ledger/internal/domain"
	"github.com/R3E-Network/habit_ledger/internal/guard"
	"github.com/R3E-Network/habit_ledger/internal/ledger"
	"github.com/R3E-Network/habit_ledger/internal/synchronizer"
)

// TherapistResult is the outcome of a therapist operation. Profile is nil if
// the projection has no profile after reconciliation.
type TherapistResult struct {
	Confirmation *ledger.Confirmation
	Profile      *domain.TherapistProfile
}

// RegisterTherapist registers the identity as a therapist.
func (c *Controller) RegisterTherapist(ctx context.Context, name string) (*TherapistResult, error) {
	caller := c.Identity()
	return c.therapistOp(ctx, caller, plan{
		op:    ledger.OpRegisterTherapist,
		check: func(s guard.Snapshot) error { return c.guard.RegisterTherapist(s, caller, name) },
		args:  []chain.ContractParam{chain.NewStringParam(name)},
	})
}

// DeactivateTherapist stops the identity from accepting bookings.
func (c *Controller) DeactivateTherapist(ctx context.Context) (*TherapistResult, error) {
	caller := c.Identity()
	return c.therapistOp(ctx, caller, plan{
		op:    ledger.OpDeactivateTherapist,
		check: func(s guard.Snapshot) error { return c.guard.DeactivateTherapist(s, caller) },
	})
}

// ReactivateTherapist lets the identity accept bookings again.
func (c *Controller) ReactivateTherapist(ctx context.Context) (*TherapistResult, error) {
	caller := c.Identity()
	return c.therapistOp(ctx, caller, plan{
		op:    ledger.OpReactivateTherapist,
		check: func(s guard.Snapshot) error { return c.guard.ReactivateTherapist(s, caller) },
	})
}

func (c *Controller) therapistOp(ctx context.Context, caller string, p plan) (*TherapistResult, error) {
	p.targets = []synchronizer.Target{{Address: caller, Scope: synchronizer.ScopeTherapist}}
	conf, err := c.execute(ctx, p)
	if conf == nil {
		return nil, err
	}
	res := &TherapistResult{Confirmation: conf}
	if t, ok := c.store.View().Therapist(caller); ok {
		res.Profile = &t
	}
	return res, err
}
