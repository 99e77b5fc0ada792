package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abooddev/accounting-saas/internal/accounts"
	"github.com/abooddev/accounting-saas/internal/fx"
	"github.com/abooddev/accounting-saas/internal/ledger"
	"github.com/abooddev/accounting-saas/internal/money"
	"github.com/abooddev/accounting-saas/internal/platform/memstore"
	"github.com/abooddev/accounting-saas/internal/shared"
)

type fixture struct {
	t        *testing.T
	ctx      context.Context
	tenantID uuid.UUID
	store    *memstore.Store
	ledger   *ledger.Ledger
	service  *ledger.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	l := ledger.New(ledger.Config{Policy: accounts.DefaultPolicy(), Precisions: money.DefaultPrecisions()})
	tenantID := uuid.New()
	return &fixture{
		t:        t,
		ctx:      shared.ContextWithTenant(context.Background(), tenantID),
		tenantID: tenantID,
		store:    store,
		ledger:   l,
		service:  ledger.NewService(store.Ledger(), l, nil),
	}
}

func amount(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func (f *fixture) open(kind accounts.Kind, currency money.Currency, opening string) accounts.Account {
	f.t.Helper()
	acc, err := f.service.OpenAccount(f.ctx, accounts.Account{
		ID:       uuid.New(),
		TenantID: f.tenantID,
		Name:     string(kind) + " " + string(currency),
		Kind:     kind,
		Currency: currency,
		IsActive: true,
	}, amount(opening), time.Time{})
	require.NoError(f.t, err)
	return acc
}

func (f *fixture) tx(fn func(context.Context, ledger.TxRepository) error) error {
	return f.store.Ledger().WithTx(f.ctx, fn)
}

func (f *fixture) balance(id uuid.UUID) decimal.Decimal {
	f.t.Helper()
	acc, err := f.store.GetAccount(f.ctx, f.tenantID, id)
	require.NoError(f.t, err)
	return acc.CurrentBalance
}

func TestAppendEnforcesSignPerKind(t *testing.T) {
	f := newFixture(t)
	acc := f.open(accounts.KindBank, money.USD, "100")

	tests := []struct {
		kind   ledger.Kind
		amount string
		ok     bool
	}{
		{ledger.KindPaymentIn, "10", true},
		{ledger.KindPaymentIn, "-10", false},
		{ledger.KindPaymentOut, "-10", true},
		{ledger.KindPaymentOut, "10", false},
		{ledger.KindTransferIn, "0", false},
		{ledger.KindAdjustment, "-3", true},
		{ledger.KindAdjustment, "0", false},
		{"refund", "1", false},
	}
	for _, tc := range tests {
		t.Run(string(tc.kind)+" "+tc.amount, func(t *testing.T) {
			err := f.tx(func(ctx context.Context, tx ledger.TxRepository) error {
				_, err := f.ledger.Append(ctx, tx, ledger.AppendInput{
					TenantID:  f.tenantID,
					AccountID: acc.ID,
					Kind:      tc.kind,
					Amount:    amount(tc.amount),
				})
				return err
			})
			if tc.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}
	assert.True(t, f.balance(acc.ID).Equal(amount("97")))
}

func TestAppendRecordsBalanceAfter(t *testing.T) {
	f := newFixture(t)
	acc := f.open(accounts.KindCash, money.LBP, "1000000")

	var m ledger.Movement
	err := f.tx(func(ctx context.Context, tx ledger.TxRepository) error {
		var err error
		m, err = f.ledger.Append(ctx, tx, ledger.AppendInput{
			TenantID:    f.tenantID,
			AccountID:   acc.ID,
			Kind:        ledger.KindPaymentOut,
			Amount:      amount("-250000"),
			Description: "supplier cash",
		})
		return err
	})
	require.NoError(t, err)
	assert.True(t, m.BalanceAfter.Equal(amount("750000")))
	assert.Equal(t, money.LBP, m.Currency)
	assert.False(t, m.Date.IsZero())
	assert.True(t, f.balance(acc.ID).Equal(amount("750000")))
}

func TestTransferBetweenCurrenciesNeedsRate(t *testing.T) {
	f := newFixture(t)
	usd := f.open(accounts.KindBank, money.USD, "50")
	lbp := f.open(accounts.KindCash, money.LBP, "0")

	err := f.tx(func(ctx context.Context, tx ledger.TxRepository) error {
		_, _, err := f.ledger.Transfer(ctx, tx, ledger.TransferInput{
			TenantID:      f.tenantID,
			FromAccountID: usd.ID,
			ToAccountID:   lbp.ID,
			Amount:        amount("10"),
		})
		return err
	})
	require.ErrorIs(t, err, shared.ErrCurrencyMismatch)

	var out, in ledger.Movement
	err = f.tx(func(ctx context.Context, tx ledger.TxRepository) error {
		var err error
		out, in, err = f.ledger.Transfer(ctx, tx, ledger.TransferInput{
			TenantID:      f.tenantID,
			FromAccountID: lbp.ID,
			ToAccountID:   usd.ID,
			Amount:        amount("895000"),
			Rate:          &fx.Rate{Base: money.USD, Quote: money.LBP, Value: amount("89500")},
		})
		return err
	})
	require.ErrorIs(t, err, shared.ErrInsufficientFunds)
	assert.Equal(t, uuid.Nil, out.ID)
	assert.Equal(t, uuid.Nil, in.ID)
}

func TestTransferRoundsConvertedLeg(t *testing.T) {
	f := newFixture(t)
	lbp := f.open(accounts.KindBank, money.LBP, "1000000")
	usd := f.open(accounts.KindBank, money.USD, "0")

	var in ledger.Movement
	err := f.tx(func(ctx context.Context, tx ledger.TxRepository) error {
		var err error
		_, in, err = f.ledger.Transfer(ctx, tx, ledger.TransferInput{
			TenantID:      f.tenantID,
			FromAccountID: lbp.ID,
			ToAccountID:   usd.ID,
			Amount:        amount("1000000"),
			Rate:          &fx.Rate{Base: money.USD, Quote: money.LBP, Value: amount("89500")},
		})
		return err
	})
	require.NoError(t, err)
	// 1,000,000 / 89,500 = 11.1731...
	assert.True(t, in.Amount.Equal(amount("11.17")))
	assert.Equal(t, ledger.KindTransferIn, in.Kind)
	assert.True(t, f.balance(lbp.ID).IsZero())
}

func TestReverseOnlyOnce(t *testing.T) {
	f := newFixture(t)
	acc := f.open(accounts.KindCash, money.USD, "0")

	var original ledger.Movement
	err := f.tx(func(ctx context.Context, tx ledger.TxRepository) error {
		var err error
		original, err = f.ledger.Append(ctx, tx, ledger.AppendInput{
			TenantID:  f.tenantID,
			AccountID: acc.ID,
			Kind:      ledger.KindPaymentIn,
			Amount:    amount("20"),
		})
		return err
	})
	require.NoError(t, err)

	var reversal ledger.Movement
	err = f.tx(func(ctx context.Context, tx ledger.TxRepository) error {
		var err error
		reversal, err = f.ledger.Reverse(ctx, tx, ledger.ReverseInput{TenantID: f.tenantID, MovementID: original.ID})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.KindPaymentOut, reversal.Kind)
	assert.True(t, reversal.Amount.Equal(amount("-20")))
	assert.Equal(t, original.ID, *reversal.ReversalOf)
	assert.True(t, f.balance(acc.ID).IsZero())

	err = f.tx(func(ctx context.Context, tx ledger.TxRepository) error {
		_, err := f.ledger.Reverse(ctx, tx, ledger.ReverseInput{TenantID: f.tenantID, MovementID: reversal.ID})
		return err
	})
	require.ErrorIs(t, err, shared.ErrInvalidStatusTransition)

	movements, err := f.service.ListMovements(f.ctx, acc.ID, ledger.MovementFilter{})
	require.NoError(t, err)
	require.Len(t, movements, 3)
	initial := movements[0]

	err = f.tx(func(ctx context.Context, tx ledger.TxRepository) error {
		_, err := f.ledger.Reverse(ctx, tx, ledger.ReverseInput{TenantID: f.tenantID, MovementID: initial.ID})
		return err
	})
	require.ErrorIs(t, err, shared.ErrInvalidStatusTransition)
}

func TestListMovementsFilters(t *testing.T) {
	f := newFixture(t)
	acc := f.open(accounts.KindBank, money.USD, "10")
	for i := 0; i < 3; i++ {
		err := f.tx(func(ctx context.Context, tx ledger.TxRepository) error {
			_, err := f.ledger.Append(ctx, tx, ledger.AppendInput{
				TenantID:  f.tenantID,
				AccountID: acc.ID,
				Kind:      ledger.KindPaymentIn,
				Amount:    amount("1"),
			})
			return err
		})
		require.NoError(t, err)
	}

	payments, err := f.service.ListMovements(f.ctx, acc.ID, ledger.MovementFilter{Kind: ledger.KindPaymentIn})
	require.NoError(t, err)
	assert.Len(t, payments, 3)

	page, err := f.service.ListMovements(f.ctx, acc.ID, ledger.MovementFilter{Page: shared.Page{Limit: 2, Offset: 1}})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.True(t, page[1].BalanceAfter.Equal(amount("12")))

	_, err = f.service.ListMovements(f.ctx, uuid.New(), ledger.MovementFilter{})
	require.ErrorIs(t, err, shared.ErrNotFound)
}
