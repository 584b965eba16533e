package controller

import (
	"context"
	"math/big"

	"github.com/R3E-Network/habit_ledger/internal/chain"
	"github.com/R3E-Network/habit_ledger/internal/domain"
	"github.com/R3E-Network/habit_ledger/internal/guard"
	"github.com/R3E-Network/habit_ledger/internal/ledger"
	"github.com/R3E-Network/habit_ledger/internal/synchronizer"
)

// AccountResult is the outcome of a token operation.
type AccountResult struct {
	Confirmation *ledger.Confirmation
	Account      domain.UserAccount
}

// Stake locks amount base units of the identity's tokens.
func (c *Controller) Stake(ctx context.Context, amount *big.Int) (*AccountResult, error) {
	return c.tokenOp(ctx, ledger.OpStake, amount, c.guard.Stake)
}

// Unstake releases amount staked base units.
func (c *Controller) Unstake(ctx context.Context, amount *big.Int) (*AccountResult, error) {
	return c.tokenOp(ctx, ledger.OpUnstake, amount, c.guard.Unstake)
}

// CompleteTask records a completed task worth reward base units.
func (c *Controller) CompleteTask(ctx context.Context, reward *big.Int) (*AccountResult, error) {
	return c.tokenOp(ctx, ledger.OpCompleteTask, reward, c.guard.CompleteTask)
}

// Redeem spends amount earned base units.
func (c *Controller) Redeem(ctx context.Context, amount *big.Int) (*AccountResult, error) {
	return c.tokenOp(ctx, ledger.OpRedeem, amount, c.guard.Redeem)
}

type amountCheck func(snap guard.Snapshot, user string, amount *big.Int) error

func (c *Controller) tokenOp(ctx context.Context, op ledger.Operation, amount *big.Int, check amountCheck) (*AccountResult, error) {
	user := c.Identity()
	conf, err := c.execute(ctx, plan{
		op:      op,
		check:   func(s guard.Snapshot) error { return check(s, user, amount) },
		args:    []chain.ContractParam{chain.NewIntegerParam(amount)},
		targets: []synchronizer.Target{{Address: user, Scope: synchronizer.ScopeUser}},
	})
	if conf == nil {
		return nil, err
	}
	return &AccountResult{Confirmation: conf, Account: c.account(user)}, err
}

func (c *Controller) account(address string) domain.UserAccount {
	if u, ok := c.store.View().User(address); ok {
		return u
	}
	return domain.NewUserAccount(address)
}
