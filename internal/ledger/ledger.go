// Package ledger is the only write path for account balances. Every change
// is an append-only movement carrying the balance it produced.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/abooddev/accounting-saas/internal/accounts"
	"github.com/abooddev/accounting-saas/internal/fx"
	"github.com/abooddev/accounting-saas/internal/money"
	"github.com/abooddev/accounting-saas/internal/shared"
)

// TxRepository exposes the rows a movement touches inside one unit of work.
type TxRepository interface {
	accounts.TxRepository
	InsertMovement(ctx context.Context, m Movement) error
	GetMovement(ctx context.Context, tenantID, id uuid.UUID) (Movement, error)
}

// Ledger posts movements within a caller-owned transaction.
type Ledger struct {
	policy     accounts.Policy
	precisions money.Precisions
	converter  fx.Converter
	now        func() time.Time
}

// Config groups Ledger settings.
type Config struct {
	Policy     accounts.Policy
	Precisions money.Precisions
}

// New builds a Ledger.
func New(cfg Config) *Ledger {
	if cfg.Precisions == nil {
		cfg.Precisions = money.DefaultPrecisions()
	}
	return &Ledger{
		policy:     cfg.Policy,
		precisions: cfg.Precisions,
		converter:  fx.NewConverter(cfg.Precisions),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Converter exposes the converter the ledger rounds with.
func (l *Ledger) Converter() fx.Converter {
	return l.converter
}

// Append locks the account, computes the new balance, enforces the
// negative-balance policy, writes the movement and then the balance. The
// caller's transaction makes the five steps atomic.
func (l *Ledger) Append(ctx context.Context, tx TxRepository, in AppendInput) (Movement, error) {
	if err := in.Kind.checkSign(in.Amount); err != nil {
		return Movement{}, err
	}
	account, err := tx.GetAccountForUpdate(ctx, in.TenantID, in.AccountID)
	if err != nil {
		return Movement{}, err
	}
	if !account.Usable() {
		return Movement{}, shared.NewRuleError(shared.ErrInvalidStatusTransition, "account does not accept movements", map[string]string{
			"account_id": account.ID.String(),
		})
	}
	if err := l.precisions.Validate(in.Amount, account.Currency); err != nil {
		return Movement{}, err
	}
	newBalance := account.CurrentBalance.Add(in.Amount)
	if in.Amount.IsNegative() && newBalance.IsNegative() && !l.policy.AllowsNegative(account.Kind) {
		return Movement{}, shared.NewRuleError(shared.ErrInsufficientFunds, "balance would go negative", map[string]string{
			"account_id": account.ID.String(),
			"balance":    l.precisions.Format(account.CurrentBalance, account.Currency),
			"requested":  l.precisions.Format(in.Amount.Neg(), account.Currency),
			"currency":   string(account.Currency),
		})
	}
	now := l.now()
	id := in.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	date := in.Date
	if date.IsZero() {
		date = now
	}
	movement := Movement{
		ID:            id,
		TenantID:      in.TenantID,
		AccountID:     account.ID,
		Kind:          in.Kind,
		Amount:        in.Amount,
		BalanceAfter:  newBalance,
		Currency:      account.Currency,
		ReferenceType: in.ReferenceType,
		ReferenceID:   in.ReferenceID,
		CounterpartID: in.CounterpartID,
		Rate:          in.Rate,
		ReversalOf:    in.ReversalOf,
		Description:   in.Description,
		Date:          date,
		CreatedAt:     now,
	}
	if err := tx.InsertMovement(ctx, movement); err != nil {
		return Movement{}, err
	}
	account.CurrentBalance = newBalance
	account.UpdatedAt = now
	if err := tx.UpdateAccount(ctx, account); err != nil {
		return Movement{}, err
	}
	return movement, nil
}

// Transfer writes a linked transfer_out/transfer_in pair. Accounts are
// locked in id order. Different currencies need a rate.
func (l *Ledger) Transfer(ctx context.Context, tx TxRepository, in TransferInput) (Movement, Movement, error) {
	if in.FromAccountID == in.ToAccountID {
		return Movement{}, Movement{}, shared.Invalid("source and destination account must differ")
	}
	if !in.Amount.IsPositive() {
		return Movement{}, Movement{}, shared.Invalid("transfer amount must be positive")
	}
	locked := make(map[uuid.UUID]accounts.Account, 2)
	for _, target := range shared.OrderLocks(
		shared.LockTarget{Kind: shared.LockAccount, ID: in.FromAccountID},
		shared.LockTarget{Kind: shared.LockAccount, ID: in.ToAccountID},
	) {
		account, err := tx.GetAccountForUpdate(ctx, in.TenantID, target.ID)
		if err != nil {
			return Movement{}, Movement{}, err
		}
		locked[target.ID] = account
	}
	src, dst := locked[in.FromAccountID], locked[in.ToAccountID]

	var rate *fx.Rate
	if src.Currency != dst.Currency {
		if in.Rate == nil {
			return Movement{}, Movement{}, shared.NewRuleError(shared.ErrCurrencyMismatch, "transfer between currencies needs a rate", map[string]string{
				"from_currency": string(src.Currency),
				"to_currency":   string(dst.Currency),
			})
		}
		rate = in.Rate
	}
	converted, err := l.converter.Convert(in.Amount, src.Currency, dst.Currency, rate)
	if err != nil {
		return Movement{}, Movement{}, err
	}
	if !converted.IsPositive() {
		return Movement{}, Movement{}, shared.Invalid("transfer amount rounds to zero in %s", dst.Currency)
	}

	outID, inID := uuid.New(), uuid.New()
	out, err := l.Append(ctx, tx, AppendInput{
		ID:            outID,
		TenantID:      in.TenantID,
		AccountID:     src.ID,
		Kind:          KindTransferOut,
		Amount:        in.Amount.Neg(),
		ReferenceType: RefTransfer,
		ReferenceID:   in.ReferenceID,
		CounterpartID: &inID,
		Rate:          rate,
		Description:   in.Notes,
		Date:          in.Date,
	})
	if err != nil {
		return Movement{}, Movement{}, err
	}
	incoming, err := l.Append(ctx, tx, AppendInput{
		ID:            inID,
		TenantID:      in.TenantID,
		AccountID:     dst.ID,
		Kind:          KindTransferIn,
		Amount:        converted,
		ReferenceType: RefTransfer,
		ReferenceID:   in.ReferenceID,
		CounterpartID: &outID,
		Rate:          rate,
		Description:   in.Notes,
		Date:          in.Date,
	})
	if err != nil {
		return Movement{}, Movement{}, err
	}
	return out, incoming, nil
}

// Reverse posts the compensating movement of an earlier payment or
// adjustment. The original stays untouched.
func (l *Ledger) Reverse(ctx context.Context, tx TxRepository, in ReverseInput) (Movement, error) {
	original, err := tx.GetMovement(ctx, in.TenantID, in.MovementID)
	if err != nil {
		return Movement{}, err
	}
	kind, ok := original.Kind.opposite()
	if !ok || original.ReversalOf != nil {
		return Movement{}, shared.NewRuleError(shared.ErrInvalidStatusTransition, "movement cannot be reversed", map[string]string{
			"movement_id": original.ID.String(),
			"kind":        string(original.Kind),
		})
	}
	return l.Append(ctx, tx, AppendInput{
		TenantID:      in.TenantID,
		AccountID:     original.AccountID,
		Kind:          kind,
		Amount:        original.Amount.Neg(),
		ReferenceType: in.ReferenceType,
		ReferenceID:   in.ReferenceID,
		Rate:          original.Rate,
		ReversalOf:    &original.ID,
		Description:   in.Description,
		Date:          in.Date,
	})
}

// opening posts the initial movement of a freshly inserted account.
func (l *Ledger) opening(ctx context.Context, tx TxRepository, account accounts.Account, amount decimal.Decimal, date time.Time) (Movement, error) {
	ref := account.ID
	return l.Append(ctx, tx, AppendInput{
		TenantID:      account.TenantID,
		AccountID:     account.ID,
		Kind:          KindInitial,
		Amount:        amount,
		ReferenceType: RefAccount,
		ReferenceID:   &ref,
		Description:   "opening balance",
		Date:          date,
	})
}
