// Package reconcile keeps account balances consistent with the transactions
// that reference them.
//
// The reconciler is the only writer of Account balances after creation. It is
// invoked explicitly by the store inside the same database transaction that
// writes the Transaction row, with the before and after snapshots passed as
// values. Each lifecycle event produces one or two balance adjustments which
// are applied as server-side increments through a BalanceAdjuster.
package reconcile

import (
	"context"
	"fmt"

	"wallet/internal/core"
	applog "wallet/internal/log"
)

// BalanceAdjuster applies a relative change to an account's persisted balance.
// Implementations must evaluate the increment against the stored value
// (balance = balance + delta), never write back a value computed in memory.
// applied is false when the account does not exist.
type BalanceAdjuster interface {
	AdjustBalance(ctx context.Context, accountID int64, delta core.Money) (applied bool, err error)
}

// Adjustment is one planned balance change. Tolerant adjustments reverse a
// contribution to an account that may already be gone; a missing account
// makes them a no-op instead of an error.
type Adjustment struct {
	AccountID int64
	Delta     core.Money
	Tolerant  bool
}

// SignedDelta is the contribution of a transaction to its account balance:
// +amount for income, -amount for expense.
func SignedDelta(amount core.Money, typ core.TxType) core.Money {
	if typ == core.Income {
		return amount
	}
	return amount.Neg()
}

func contribution(s core.Snapshot) core.Money {
	return SignedDelta(s.Amount, s.Type)
}

// PlanCreate adds the new transaction's contribution to its account.
func PlanCreate(tx core.Snapshot) []Adjustment {
	return []Adjustment{{AccountID: tx.AccountID, Delta: contribution(tx)}}
}

// PlanDelete reverses the deleted transaction's contribution.
func PlanDelete(tx core.Snapshot) []Adjustment {
	return []Adjustment{{AccountID: tx.AccountID, Delta: contribution(tx).Neg(), Tolerant: true}}
}

// PlanUpdate moves a contribution from before to after. On the same account the
// reversal and the new contribution are folded into a single adjustment,
// emitted even when it is zero.
func PlanUpdate(before, after core.Snapshot) []Adjustment {
	if before.AccountID == after.AccountID {
		return []Adjustment{{
			AccountID: after.AccountID,
			Delta:     contribution(after).Sub(contribution(before)),
		}}
	}
	return []Adjustment{
		{AccountID: before.AccountID, Delta: contribution(before).Neg(), Tolerant: true},
		{AccountID: after.AccountID, Delta: contribution(after)},
	}
}

// Reconciler applies planned adjustments.
type Reconciler struct {
	logger *applog.Logger
}

func New(logger *applog.Logger) *Reconciler {
	if logger == nil {
		logger = applog.Discard()
	}
	return &Reconciler{logger: logger.WithComponent(applog.ComponentReconcile)}
}

func (r *Reconciler) OnCreate(ctx context.Context, adj BalanceAdjuster, tx core.Snapshot) error {
	return r.apply(ctx, adj, applog.OpCreate, PlanCreate(tx))
}

func (r *Reconciler) OnUpdate(ctx context.Context, adj BalanceAdjuster, before, after core.Snapshot) error {
	return r.apply(ctx, adj, applog.OpUpdate, PlanUpdate(before, after))
}

func (r *Reconciler) OnDelete(ctx context.Context, adj BalanceAdjuster, tx core.Snapshot) error {
	return r.apply(ctx, adj, applog.OpDelete, PlanDelete(tx))
}

func (r *Reconciler) apply(ctx context.Context, adj BalanceAdjuster, op string, plan []Adjustment) error {
	for _, a := range plan {
		applied, err := adj.AdjustBalance(ctx, a.AccountID, a.Delta)
		if err != nil {
			return fmt.Errorf("adjust balance of account %d: %w", a.AccountID, err)
		}
		if applied {
			r.logger.DebugContext(ctx, "Balance adjusted",
				applog.FieldOperation, op,
				applog.FieldAccountID, a.AccountID,
				applog.FieldDeltaCents, a.Delta.Cents)
			continue
		}
		if !a.Tolerant {
			return core.NotFound("account", a.AccountID)
		}
		r.logger.InfoContext(ctx, "Skipping reversal on deleted account",
			applog.FieldOperation, op,
			applog.FieldAccountID, a.AccountID,
			applog.FieldDeltaCents, a.Delta.Cents)
	}
	return nil
}
