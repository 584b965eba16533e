// Package controller drives state-changing operations: it checks the guard,
// submits to the ledger, waits for confirmation and reconciles the addresses
// the operation touched before returning their projected state.
package controller

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/R3E-Network/habit_ledger/internal/chain"
	"github.com/R3E-Network/habit_ledger/internal/errors"
	"github.com/R3E-Network/habit_ledger/internal/guard"
	"github.com/R3E-Network/habit_ledger/internal/ledger"
	"github.com/R3E-Network/habit_ledger/internal/projection"
	"github.com/R3E-Network/habit_ledger/internal/synchronizer"
	"github.com/R3E-Network/habit_ledger/pkg/logger"
)

// ErrNotReconciled marks an operation the ledger confirmed whose follow-up
// refresh failed. Callers must not resubmit it.
var ErrNotReconciled = stderrors.New("confirmed but not reconciled")

// NotReconciledError carries the confirmed transaction hash.
type NotReconciledError struct {
	TxHash string
	Err    error
}

func (e *NotReconciledError) Error() string {
	return fmt.Sprintf("transaction %s %s: %v", e.TxHash, ErrNotReconciled, e.Err)
}

func (e *NotReconciledError) Unwrap() []error {
	return []error{ErrNotReconciled, e.Err}
}

// Ledger is the submitting side of the ledger client.
type Ledger interface {
	Identity() string
	Submit(ctx context.Context, op ledger.Operation, args ...chain.ContractParam) (*ledger.Confirmation, error)
}

// Projection exposes the current snapshot.
type Projection interface {
	View() projection.View
}

// Syncer reconciles addresses.
type Syncer interface {
	Refresh(ctx context.Context, address string, scope synchronizer.Scope) error
	FullReload(ctx context.Context, address string) error
	Enqueue(address string, scope synchronizer.Scope)
	Track(address string)
}

// Metrics receives guard outcomes.
type Metrics interface {
	ObserveGuardRejection(op, reason string)
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// Controller is the single entry point for mutations.
type Controller struct {
	ledger  Ledger
	store   Projection
	guard   *guard.Guard
	sync    Syncer
	log     *logger.Logger
	metrics Metrics
}

// New creates a controller.
func New(l Ledger, store Projection, g *guard.Guard, s Syncer, opts ...Option) *Controller {
	c := &Controller{ledger: l, store: store, guard: g, sync: s}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.NewNop()
	}
	return c
}

// Identity returns the address operations are signed by.
func (c *Controller) Identity() string {
	return c.ledger.Identity()
}

type plan struct {
	op      ledger.Operation
	check   func(guard.Snapshot) error
	args    []chain.ContractParam
	targets []synchronizer.Target
}

func (c *Controller) execute(ctx context.Context, p plan) (*ledger.Confirmation, error) {
	if logger.OpID(ctx) == "" {
		ctx = logger.WithOpID(ctx, uuid.NewString())
	}
	log := c.log.WithContext(ctx).WithField("op", p.op)

	if err := p.check(c.store.View()); err != nil {
		if c.metrics != nil {
			c.metrics.ObserveGuardRejection(string(p.op), errors.ReasonOf(err))
		}
		log.WithField("reason", errors.ReasonOf(err)).Info("precondition failed")
		return nil, err
	}
	for _, t := range p.targets {
		c.sync.Track(t.Address)
	}

	conf, err := c.ledger.Submit(ctx, p.op, p.args...)
	if err != nil {
		kind, _ := errors.KindOf(err)
		log.WithError(err).WithField("kind", kind).Warn("submission failed")
		c.recover(ctx, p.targets, err)
		return nil, err
	}
	log.WithField("tx", conf.TxHash).Info("submission confirmed")

	if err := c.refresh(ctx, p.targets); err != nil {
		log.WithError(err).WithField("tx", conf.TxHash).Warn("refresh after confirmation failed")
		for _, t := range p.targets {
			c.sync.Enqueue(t.Address, t.Scope)
		}
		return conf, &NotReconciledError{TxHash: conf.TxHash, Err: err}
	}
	return conf, nil
}

func (c *Controller) refresh(ctx context.Context, targets []synchronizer.Target) error {
	var errs []error
	for _, t := range targets {
		errs = append(errs, c.sync.Refresh(ctx, t.Address, t.Scope))
	}
	return stderrors.Join(errs...)
}

// recover reconciles after a failed submission. The outcome of a transport
// failure is unknown, so every affected address is fully reloaded; a caller
// that has already gone away gets the reloads queued instead.
func (c *Controller) recover(ctx context.Context, targets []synchronizer.Target, cause error) {
	transport := errors.IsTransport(cause)
	if ctx.Err() != nil {
		for _, t := range targets {
			scope := t.Scope
			if transport {
				scope = synchronizer.ScopeAll
			}
			c.sync.Enqueue(t.Address, scope)
		}
		return
	}

	var errs []error
	for _, t := range targets {
		if transport {
			errs = append(errs, c.sync.FullReload(ctx, t.Address))
		} else {
			errs = append(errs, c.sync.Refresh(ctx, t.Address, t.Scope))
		}
	}
	if err := stderrors.Join(errs...); err != nil {
		c.log.WithContext(ctx).WithError(err).Warn("reconciliation after failed submission failed")
	}
}
