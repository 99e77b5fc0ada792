package settlement_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/abooddev/accounting-saas/internal/accounts"
	"github.com/abooddev/accounting-saas/internal/fx"
	"github.com/abooddev/accounting-saas/internal/ledger"
	"github.com/abooddev/accounting-saas/internal/money"
	"github.com/abooddev/accounting-saas/internal/settlement"
	"github.com/abooddev/accounting-saas/internal/shared"
)

func TestOpeningBalancePostsInitialMovement(t *testing.T) {
	h := newHarness(t)
	acc := h.account("Main Cash", accounts.KindCash, money.USD, "500.00")

	require.True(t, acc.CurrentBalance.Equal(dec("500")))
	movements := h.movements(acc.ID)
	require.Len(t, movements, 1)
	require.Equal(t, ledger.KindInitial, movements[0].Kind)
	require.True(t, movements[0].Amount.Equal(dec("500")))
	require.True(t, movements[0].BalanceAfter.Equal(dec("500")))
}

func TestTransferAcrossCurrencies(t *testing.T) {
	h := newHarness(t)
	usd := h.account("USD Bank", accounts.KindBank, money.USD, "1000.00")
	lbp := h.account("LBP Drawer", accounts.KindCash, money.LBP, "0")

	res, err := h.engine.Transfer(h.ctx, settlement.TransferInput{
		FromAccountID: usd.ID,
		ToAccountID:   lbp.ID,
		Amount:        dec("100.00"),
		Rate:          &fx.Rate{Base: money.USD, Quote: money.LBP, Value: dec("89500")},
		Notes:         "float for the drawer",
	})
	require.NoError(t, err)

	require.True(t, res.Out.Amount.Equal(dec("-100")))
	require.True(t, res.In.Amount.Equal(dec("8950000")))
	require.Equal(t, res.In.ID, *res.Out.CounterpartID)
	require.Equal(t, res.Out.ID, *res.In.CounterpartID)
	require.Equal(t, *res.Out.ReferenceID, *res.In.ReferenceID)
	require.True(t, h.balance(usd.ID).Equal(dec("900")))
	require.True(t, h.balance(lbp.ID).Equal(dec("8950000")))
	h.requireConsistent()
}

func TestTransferStampedRateReproducesAmount(t *testing.T) {
	h := newHarness(t)
	lbp := h.account("LBP Drawer", accounts.KindCash, money.LBP, "8950000")
	usd := h.account("USD Bank", accounts.KindBank, money.USD, "0")

	_, err := h.engine.Transfer(h.ctx, settlement.TransferInput{
		FromAccountID: lbp.ID,
		ToAccountID:   usd.ID,
		Amount:        dec("8950000"),
		Rate:          &fx.Rate{Base: money.LBP, Quote: money.USD, Value: dec("0.0000111731843575")},
	})
	requireKind(t, err, shared.ErrValidation)
	require.True(t, h.balance(lbp.ID).Equal(dec("8950000")))

	res, err := h.engine.Transfer(h.ctx, settlement.TransferInput{
		FromAccountID: lbp.ID,
		ToAccountID:   usd.ID,
		Amount:        dec("8950000"),
		Rate:          &fx.Rate{Base: money.LBP, Quote: money.USD, Value: dec("0.00001117")},
	})
	require.NoError(t, err)
	require.NotNil(t, res.In.Rate)
	again, err := fx.NewConverter(money.DefaultPrecisions()).Convert(dec("8950000"), money.LBP, money.USD, res.In.Rate)
	require.NoError(t, err)
	require.True(t, res.In.Amount.Equal(again), "%s vs %s", res.In.Amount, again)
	require.True(t, res.In.Amount.Equal(dec("99.97")), res.In.Amount.String())
}

func TestTransferAcrossCurrenciesNeedsRate(t *testing.T) {
	h := newHarness(t)
	_, err := h.rates.SetRate(h.ctx, fx.SetRateInput{Base: money.USD, Quote: money.LBP, Rate: dec("89500")})
	require.NoError(t, err)
	usd := h.account("USD Bank", accounts.KindBank, money.USD, "1000.00")
	lbp := h.account("LBP Drawer", accounts.KindCash, money.LBP, "0")

	_, err = h.engine.Transfer(h.ctx, settlement.TransferInput{
		FromAccountID: usd.ID,
		ToAccountID:   lbp.ID,
		Amount:        dec("100.00"),
	})
	requireKind(t, err, shared.ErrCurrencyMismatch)
	require.True(t, h.balance(usd.ID).Equal(dec("1000")))
}

func TestTransferIsAtomic(t *testing.T) {
	h := newHarness(t)
	src := h.account("Source", accounts.KindBank, money.USD, "200")
	dst := h.account("Destination", accounts.KindBank, money.USD, "0")
	_, err := h.accounts.SetActive(h.ctx, dst.ID, false)
	require.NoError(t, err)

	_, err = h.engine.Transfer(h.ctx, settlement.TransferInput{
		FromAccountID: src.ID,
		ToAccountID:   dst.ID,
		Amount:        dec("50"),
	})
	requireKind(t, err, shared.ErrInvalidStatusTransition)

	require.True(t, h.balance(src.ID).Equal(dec("200")))
	require.Len(t, h.movements(src.ID), 1)
	require.Len(t, h.movements(dst.ID), 1)
}

func TestTransferRollsBackOnConflict(t *testing.T) {
	h := newHarnessWithRetries(t, 0)
	src := h.account("Source", accounts.KindBank, money.USD, "200")
	dst := h.account("Destination", accounts.KindCash, money.USD, "0")

	h.store.InjectConflicts(1)
	_, err := h.engine.Transfer(h.ctx, settlement.TransferInput{
		FromAccountID: src.ID,
		ToAccountID:   dst.ID,
		Amount:        dec("50"),
	})
	requireKind(t, err, shared.ErrConcurrencyConflict)
	require.Zero(t, h.metrics.retries)
	require.True(t, h.balance(src.ID).Equal(dec("200")))
	require.True(t, h.balance(dst.ID).IsZero())

	_, err = h.engine.Transfer(h.ctx, settlement.TransferInput{
		FromAccountID: src.ID,
		ToAccountID:   dst.ID,
		Amount:        dec("50"),
	})
	require.NoError(t, err)
	require.True(t, h.balance(src.ID).Equal(dec("150")))
	require.True(t, h.balance(dst.ID).Equal(dec("50")))
}

func TestTransferRespectsCashPolicy(t *testing.T) {
	h := newHarness(t)
	src := h.account("Till", accounts.KindCash, money.USD, "20")
	dst := h.account("Bank", accounts.KindBank, money.USD, "0")

	_, err := h.engine.Transfer(h.ctx, settlement.TransferInput{
		FromAccountID: src.ID,
		ToAccountID:   dst.ID,
		Amount:        dec("20.01"),
	})
	requireKind(t, err, shared.ErrInsufficientFunds)
	require.Equal(t, "20.00", shared.DetailsOf(err)["balance"])
}

func TestConcurrentAdjustmentsNeverOverdrawCash(t *testing.T) {
	h := newHarness(t)
	cash := h.account("Till", accounts.KindCash, money.USD, "40.00")

	amounts := []string{"50.00", "30.00"}
	errs := make([]error, len(amounts))
	var g errgroup.Group
	for i, amount := range amounts {
		g.Go(func() error {
			_, errs[i] = h.engine.Adjust(h.ctx, settlement.AdjustInput{
				AccountID: cash.ID,
				Amount:    dec(amount),
				Direction: settlement.Decrease,
				Reason:    "shrinkage",
			})
			return nil
		})
	}
	require.NoError(t, g.Wait())

	requireKind(t, errs[0], shared.ErrInsufficientFunds)
	require.NoError(t, errs[1])
	require.True(t, h.balance(cash.ID).Equal(dec("10")))
	h.requireConsistent()
}

func TestAdjustValidatesInput(t *testing.T) {
	h := newHarness(t)
	cash := h.account("Till", accounts.KindCash, money.USD, "10")

	_, err := h.engine.Adjust(h.ctx, settlement.AdjustInput{AccountID: cash.ID, Amount: dec("1"), Direction: settlement.Increase})
	requireKind(t, err, shared.ErrValidation)

	_, err = h.engine.Adjust(h.ctx, settlement.AdjustInput{AccountID: cash.ID, Amount: dec("1"), Direction: "sideways", Reason: "x"})
	requireKind(t, err, shared.ErrValidation)

	_, err = h.engine.Adjust(h.ctx, settlement.AdjustInput{AccountID: cash.ID, Amount: dec("0.001"), Direction: settlement.Increase, Reason: "x"})
	requireKind(t, err, shared.ErrValidation)
}

func TestAdjustAllowsBankOverdraft(t *testing.T) {
	h := newHarness(t)
	bank := h.account("Bank", accounts.KindBank, money.LBP, "0")

	m, err := h.engine.Adjust(h.ctx, settlement.AdjustInput{
		AccountID: bank.ID,
		Amount:    dec("150000"),
		Direction: settlement.Decrease,
		Reason:    "bank fee",
	})
	require.NoError(t, err)
	require.True(t, m.BalanceAfter.Equal(dec("-150000")))
	require.Equal(t, ledger.RefAdjustment, m.ReferenceType)
	require.Contains(t, h.audit.actions(), "settlement:adjust")
}

func TestReconcileFindsCorruptedBalance(t *testing.T) {
	h := newHarness(t)
	cash := h.account("Till", accounts.KindCash, money.USD, "40.00")
	_, err := h.engine.Adjust(h.ctx, settlement.AdjustInput{
		AccountID: cash.ID,
		Amount:    dec("5"),
		Direction: settlement.Increase,
		Reason:    "found in drawer",
	})
	require.NoError(t, err)
	h.requireConsistent()

	h.store.Corrupt(h.tenantID, cash.ID, dec("46"))
	drifts, err := h.ledger.Reconcile(h.ctx)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	require.Equal(t, cash.ID, drifts[0].AccountID)
	require.True(t, drifts[0].Computed.Equal(dec("45")))
	require.True(t, drifts[0].Difference.Equal(dec("1")))
}
