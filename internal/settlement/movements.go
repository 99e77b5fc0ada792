package settlement

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/abooddev/accounting-saas/internal/ledger"
	"github.com/abooddev/accounting-saas/internal/shared"
)

// Transfer moves money between two accounts as a linked pair of movements.
// Accounts in different currencies need a rate from the caller.
func (e *Engine) Transfer(ctx context.Context, in TransferInput) (TransferResult, error) {
	if in.FromAccountID == in.ToAccountID {
		return TransferResult{}, shared.Invalid("source and destination account must differ")
	}
	if !in.Amount.IsPositive() {
		return TransferResult{}, shared.Invalid("transfer amount must be positive")
	}
	if in.Rate != nil {
		if err := in.Rate.Validate(); err != nil {
			return TransferResult{}, err
		}
	}
	return execute(ctx, e, command[TransferResult]{
		op:  opTransfer,
		key: in.IdempotencyKey,
		locks: []shared.LockTarget{
			{Kind: shared.LockAccount, ID: in.FromAccountID},
			{Kind: shared.LockAccount, ID: in.ToAccountID},
		},
		entity:   "transfer",
		entityID: func(r TransferResult) string { return r.Out.ID.String() },
		meta: func(r TransferResult) map[string]any {
			return map[string]any{
				"from":       r.Out.AccountID,
				"to":         r.In.AccountID,
				"amount_out": r.Out.Amount.String(),
				"amount_in":  r.In.Amount.String(),
			}
		},
		run: func(ctx context.Context, tx TxRepository) (TransferResult, error) {
			tenantID, _ := shared.TenantFromContext(ctx)
			ref := uuid.New()
			out, incoming, err := e.ledger.Transfer(ctx, tx, ledger.TransferInput{
				TenantID:      tenantID,
				FromAccountID: in.FromAccountID,
				ToAccountID:   in.ToAccountID,
				Amount:        in.Amount,
				Rate:          in.Rate,
				ReferenceID:   &ref,
				Notes:         strings.TrimSpace(in.Notes),
				Date:          in.Date,
			})
			if err != nil {
				return TransferResult{}, err
			}
			return TransferResult{Out: out, In: incoming}, nil
		},
	})
}

// Adjust corrects an account balance directly. The reason is mandatory.
func (e *Engine) Adjust(ctx context.Context, in AdjustInput) (ledger.Movement, error) {
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return ledger.Movement{}, shared.Invalid("adjustment reason required")
	}
	if !in.Amount.IsPositive() {
		return ledger.Movement{}, shared.Invalid("adjustment amount must be positive")
	}
	signed := in.Amount
	switch in.Direction {
	case Increase:
	case Decrease:
		signed = signed.Neg()
	default:
		return ledger.Movement{}, shared.Invalid("adjustment direction %q is not supported", in.Direction)
	}
	return execute(ctx, e, command[ledger.Movement]{
		op:       opAdjust,
		key:      in.IdempotencyKey,
		locks:    []shared.LockTarget{{Kind: shared.LockAccount, ID: in.AccountID}},
		entity:   "movement",
		entityID: func(m ledger.Movement) string { return m.ID.String() },
		meta: func(m ledger.Movement) map[string]any {
			return map[string]any{"account_id": m.AccountID, "amount": m.Amount.String(), "reason": reason}
		},
		run: func(ctx context.Context, tx TxRepository) (ledger.Movement, error) {
			tenantID, _ := shared.TenantFromContext(ctx)
			ref := uuid.New()
			return e.ledger.Append(ctx, tx, ledger.AppendInput{
				TenantID:      tenantID,
				AccountID:     in.AccountID,
				Kind:          ledger.KindAdjustment,
				Amount:        signed,
				ReferenceType: ledger.RefAdjustment,
				ReferenceID:   &ref,
				Description:   reason,
				Date:          in.Date,
			})
		},
	})
}
