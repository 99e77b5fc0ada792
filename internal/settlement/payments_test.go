package settlement_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/abooddev/accounting-saas/internal/accounts"
	"github.com/abooddev/accounting-saas/internal/documents"
	"github.com/abooddev/accounting-saas/internal/fx"
	"github.com/abooddev/accounting-saas/internal/ledger"
	"github.com/abooddev/accounting-saas/internal/money"
	"github.com/abooddev/accounting-saas/internal/settlement"
	"github.com/abooddev/accounting-saas/internal/shared"
)

func TestRecordPaymentSettlesInvoiceInSteps(t *testing.T) {
	h := newHarness(t)
	cash := h.account("Main Cash", accounts.KindCash, money.USD, "0")
	inv := h.invoice(documents.TypeSale, money.USD, "300.00")

	first, err := h.engine.RecordPayment(h.ctx, settlement.PaymentInput{
		Kind:       settlement.PaymentCustomer,
		AccountID:  cash.ID,
		DocumentID: &inv.ID,
		Amount:     dec("120.00"),
		Currency:   money.USD,
	})
	require.NoError(t, err)
	require.Equal(t, settlement.MethodCash, first.Method)
	require.True(t, first.DocumentAmount.Equal(dec("120")))

	doc := h.document(inv.ID)
	require.Equal(t, documents.StatusPartial, doc.Status)
	require.True(t, doc.Balance.Equal(dec("180")))

	_, err = h.engine.RecordPayment(h.ctx, settlement.PaymentInput{
		Kind:       settlement.PaymentCustomer,
		AccountID:  cash.ID,
		DocumentID: &inv.ID,
		Amount:     dec("180.00"),
		Currency:   money.USD,
	})
	require.NoError(t, err)

	doc = h.document(inv.ID)
	require.Equal(t, documents.StatusPaid, doc.Status)
	require.True(t, doc.Balance.IsZero())
	require.True(t, h.balance(cash.ID).Equal(dec("300")))

	_, err = h.engine.RecordPayment(h.ctx, settlement.PaymentInput{
		Kind:       settlement.PaymentCustomer,
		AccountID:  cash.ID,
		DocumentID: &inv.ID,
		Amount:     dec("0.01"),
		Currency:   money.USD,
	})
	requireKind(t, err, shared.ErrInvalidStatusTransition)
	h.requireConsistent()
}

func TestRecordPaymentRejectsOverSettlement(t *testing.T) {
	h := newHarness(t)
	bank := h.account("Bank", accounts.KindBank, money.USD, "1000")
	inv := h.invoice(documents.TypePurchase, money.USD, "250.00")

	_, err := h.engine.RecordPayment(h.ctx, settlement.PaymentInput{
		Kind:       settlement.PaymentSupplier,
		AccountID:  bank.ID,
		DocumentID: &inv.ID,
		Amount:     dec("250.01"),
		Currency:   money.USD,
	})
	requireKind(t, err, shared.ErrOverSettlement)
	require.Equal(t, "250.00", shared.DetailsOf(err)["remaining"])

	require.True(t, h.balance(bank.ID).Equal(dec("1000")))
	require.Len(t, h.movements(bank.ID), 1)
	require.Equal(t, 1, h.metrics.count("settlement:record_payment", "OverSettlement"))
}

func TestRecordPaymentChecksKindAgainstInvoice(t *testing.T) {
	h := newHarness(t)
	cash := h.account("Cash", accounts.KindCash, money.USD, "100")
	sale := h.invoice(documents.TypeSale, money.USD, "50.00")

	_, err := h.engine.RecordPayment(h.ctx, settlement.PaymentInput{
		Kind:       settlement.PaymentSupplier,
		AccountID:  cash.ID,
		DocumentID: &sale.ID,
		Amount:     dec("10"),
		Currency:   money.USD,
	})
	requireKind(t, err, shared.ErrValidation)
	require.Equal(t, "supplier_payment", shared.DetailsOf(err)["payment_kind"])
}

func TestRecordPaymentAcrossCurrencies(t *testing.T) {
	h := newHarness(t)
	_, err := h.rates.SetRate(h.ctx, fx.SetRateInput{Base: money.USD, Quote: money.LBP, Rate: dec("89500")})
	require.NoError(t, err)
	drawer := h.account("LBP Drawer", accounts.KindCash, money.LBP, "0")
	inv := h.invoice(documents.TypeSale, money.USD, "100.00")

	payment, err := h.engine.RecordPayment(h.ctx, settlement.PaymentInput{
		Kind:       settlement.PaymentCustomer,
		AccountID:  drawer.ID,
		DocumentID: &inv.ID,
		Amount:     dec("8950000"),
		Currency:   money.LBP,
		Method:     settlement.MethodWhish,
	})
	require.NoError(t, err)
	require.True(t, payment.AccountAmount.Equal(dec("8950000")))
	require.True(t, payment.DocumentAmount.Equal(dec("100")))
	require.NotNil(t, payment.Rate)
	require.True(t, payment.Rate.Value.Equal(dec("89500")))

	doc := h.document(inv.ID)
	require.Equal(t, documents.StatusPaid, doc.Status)
	entries, err := h.docs.ListSettlements(h.ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].Rate)
	require.Equal(t, documents.SourcePayment, entries[0].SourceType)
}

func TestRecordPaymentWithoutRateFails(t *testing.T) {
	h := newHarness(t)
	drawer := h.account("LBP Drawer", accounts.KindCash, money.LBP, "0")
	inv := h.invoice(documents.TypeSale, money.USD, "100.00")

	_, err := h.engine.RecordPayment(h.ctx, settlement.PaymentInput{
		Kind:       settlement.PaymentCustomer,
		AccountID:  drawer.ID,
		DocumentID: &inv.ID,
		Amount:     dec("8950000"),
		Currency:   money.LBP,
	})
	requireKind(t, err, shared.ErrUnsupportedCurrencyPair)
}

func TestRecordPaymentIdempotentReplay(t *testing.T) {
	h := newHarness(t)
	cash := h.account("Cash", accounts.KindCash, money.USD, "0")
	inv := h.invoice(documents.TypeSale, money.USD, "300.00")
	in := settlement.PaymentInput{
		Kind:           settlement.PaymentCustomer,
		AccountID:      cash.ID,
		DocumentID:     &inv.ID,
		Amount:         dec("120.00"),
		Currency:       money.USD,
		IdempotencyKey: "receipt-42",
	}

	first, err := h.engine.RecordPayment(h.ctx, in)
	require.NoError(t, err)
	second, err := h.engine.RecordPayment(h.ctx, in)
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.Equal(t, first.MovementID, second.MovementID)
	require.Len(t, h.movements(cash.ID), 2)
	require.True(t, h.balance(cash.ID).Equal(dec("120")))
	entries, err := h.docs.ListSettlements(h.ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, 1, h.metrics.count("settlement:record_payment", "ok"))
	require.Equal(t, 1, h.metrics.count("settlement:record_payment", "replayed"))
}

func TestIdempotencyKeyBoundToOperation(t *testing.T) {
	h := newHarness(t)
	cash := h.account("Cash", accounts.KindCash, money.USD, "100")

	_, err := h.engine.Adjust(h.ctx, settlement.AdjustInput{
		AccountID:      cash.ID,
		Amount:         dec("5"),
		Direction:      settlement.Increase,
		Reason:         "count correction",
		IdempotencyKey: "k-1",
	})
	require.NoError(t, err)

	_, err = h.engine.RecordPayment(h.ctx, settlement.PaymentInput{
		Kind:           settlement.PaymentExpense,
		AccountID:      cash.ID,
		Amount:         dec("5"),
		Currency:       money.USD,
		IdempotencyKey: "k-1",
	})
	requireKind(t, err, shared.ErrValidation)
	require.True(t, h.balance(cash.ID).Equal(dec("105")))
}

func TestConcurrentPaymentsKeepBalanceExact(t *testing.T) {
	h := newHarness(t)
	bank := h.account("Bank", accounts.KindBank, money.USD, "1000.00")

	const n = 25
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			_, err := h.engine.RecordPayment(h.ctx, settlement.PaymentInput{
				Kind:      settlement.PaymentSupplier,
				AccountID: bank.ID,
				Amount:    dec("12.40"),
				Currency:  money.USD,
				Method:    settlement.MethodBank,
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	require.True(t, h.balance(bank.ID).Equal(dec("690")))
	movements := h.movements(bank.ID)
	require.Len(t, movements, n+1)
	for _, m := range movements[1:] {
		require.Equal(t, ledger.KindPaymentOut, m.Kind)
	}
	payments, err := h.engine.ListPayments(h.ctx, settlement.PaymentFilter{AccountID: &bank.ID})
	require.NoError(t, err)
	require.Len(t, payments, n)
	h.requireConsistent()
}

func TestRecordPaymentRetriesConflicts(t *testing.T) {
	h := newHarness(t)
	cash := h.account("Cash", accounts.KindCash, money.USD, "0")
	inv := h.invoice(documents.TypeSale, money.USD, "40.00")

	h.store.InjectConflicts(2)
	_, err := h.engine.RecordPayment(h.ctx, settlement.PaymentInput{
		Kind:       settlement.PaymentCustomer,
		AccountID:  cash.ID,
		DocumentID: &inv.ID,
		Amount:     dec("40.00"),
		Currency:   money.USD,
	})
	require.NoError(t, err)
	require.Equal(t, 2, h.metrics.retries)
	require.Len(t, h.movements(cash.ID), 2)
	require.Equal(t, documents.StatusPaid, h.document(inv.ID).Status)
}

func TestRecordPaymentSurfacesConflictAfterRetries(t *testing.T) {
	h := newHarness(t)
	cash := h.account("Cash", accounts.KindCash, money.USD, "0")

	h.store.InjectConflicts(10)
	_, err := h.engine.RecordPayment(h.ctx, settlement.PaymentInput{
		Kind:      settlement.PaymentCustomer,
		AccountID: cash.ID,
		Amount:    dec("15"),
		Currency:  money.USD,
	})
	requireKind(t, err, shared.ErrConcurrencyConflict)
	require.True(t, shared.Retryable(err))
	require.Equal(t, 3, h.metrics.retries)
	h.store.InjectConflicts(0)
	require.True(t, h.balance(cash.ID).IsZero())
}

func TestCommandsLockRowsInIDOrder(t *testing.T) {
	h := newHarness(t)
	cash := h.account("Cash", accounts.KindCash, money.USD, "0")
	inv := h.invoice(documents.TypeSale, money.USD, "10.00")

	_, err := h.engine.RecordPayment(h.ctx, settlement.PaymentInput{
		Kind:       settlement.PaymentCustomer,
		AccountID:  cash.ID,
		DocumentID: &inv.ID,
		Amount:     dec("10"),
		Currency:   money.USD,
	})
	require.NoError(t, err)

	log := h.store.LockLog()
	require.NotEmpty(t, log)
	last := log[len(log)-1]
	require.Len(t, last, 2)
	require.Less(t, last[0].ID.String(), last[1].ID.String())
	require.ElementsMatch(t, []shared.LockTarget{
		{Kind: shared.LockAccount, ID: cash.ID},
		{Kind: shared.LockDocument, ID: inv.ID},
	}, last)
}

func TestReversePaymentReopensInvoice(t *testing.T) {
	h := newHarness(t)
	cash := h.account("Cash", accounts.KindCash, money.USD, "0")
	inv := h.invoice(documents.TypeSale, money.USD, "75.00")
	_, err := h.docs.Transition(h.ctx, inv.ID, documents.StatusPending)
	require.NoError(t, err)

	payment, err := h.engine.RecordPayment(h.ctx, settlement.PaymentInput{
		Kind:       settlement.PaymentCustomer,
		AccountID:  cash.ID,
		DocumentID: &inv.ID,
		Amount:     dec("75"),
		Currency:   money.USD,
	})
	require.NoError(t, err)
	require.Equal(t, documents.StatusPaid, h.document(inv.ID).Status)

	reversed, err := h.engine.ReversePayment(h.ctx, settlement.ReversePaymentInput{
		PaymentID: payment.ID,
		Reason:    "cheque bounced",
	})
	require.NoError(t, err)
	require.Equal(t, settlement.PaymentReversed, reversed.Status)
	require.NotNil(t, reversed.ReversalMovementID)

	doc := h.document(inv.ID)
	require.Equal(t, documents.StatusPending, doc.Status)
	require.True(t, doc.Balance.Equal(dec("75")))
	require.True(t, h.balance(cash.ID).IsZero())

	movements := h.movements(cash.ID)
	require.Len(t, movements, 3)
	require.Equal(t, ledger.KindPaymentOut, movements[2].Kind)
	require.Equal(t, payment.MovementID, *movements[2].ReversalOf)

	_, err = h.engine.ReversePayment(h.ctx, settlement.ReversePaymentInput{PaymentID: payment.ID, Reason: "again"})
	requireKind(t, err, shared.ErrInvalidStatusTransition)
	h.requireConsistent()
}

func TestReversePaymentRespectsCashPolicy(t *testing.T) {
	h := newHarness(t)
	cash := h.account("Cash", accounts.KindCash, money.USD, "0")
	payment, err := h.engine.RecordPayment(h.ctx, settlement.PaymentInput{
		Kind:      settlement.PaymentCustomer,
		AccountID: cash.ID,
		Amount:    dec("30"),
		Currency:  money.USD,
	})
	require.NoError(t, err)
	_, err = h.engine.Adjust(h.ctx, settlement.AdjustInput{
		AccountID: cash.ID,
		Amount:    dec("20"),
		Direction: settlement.Decrease,
		Reason:    "till shortage",
	})
	require.NoError(t, err)

	_, err = h.engine.ReversePayment(h.ctx, settlement.ReversePaymentInput{PaymentID: payment.ID, Reason: "refund"})
	requireKind(t, err, shared.ErrInsufficientFunds)
	got, err := h.engine.GetPayment(h.ctx, payment.ID)
	require.NoError(t, err)
	require.Equal(t, settlement.PaymentCompleted, got.Status)
}

func TestPaymentsAreTenantScoped(t *testing.T) {
	h := newHarness(t)
	cash := h.account("Cash", accounts.KindCash, money.USD, "0")
	payment, err := h.engine.RecordPayment(h.ctx, settlement.PaymentInput{
		Kind:      settlement.PaymentCustomer,
		AccountID: cash.ID,
		Amount:    dec("1"),
		Currency:  money.USD,
	})
	require.NoError(t, err)

	other := shared.ContextWithTenant(h.ctx, uuid.New())
	_, err = h.engine.GetPayment(other, payment.ID)
	requireKind(t, err, shared.ErrNotFound)

	_, err = h.engine.GetPayment(t.Context(), payment.ID)
	requireKind(t, err, shared.ErrTenantRequired)
}
