package settlement_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/abooddev/accounting-saas/internal/documents"
	"github.com/abooddev/accounting-saas/internal/fx"
	"github.com/abooddev/accounting-saas/internal/money"
	"github.com/abooddev/accounting-saas/internal/settlement"
	"github.com/abooddev/accounting-saas/internal/shared"
)

func TestCreditNoteAppliedAcrossInvoices(t *testing.T) {
	h := newHarness(t)
	note := h.note(documents.KindCreditNote, money.USD, "500.00")
	a := h.invoice(documents.TypeSale, money.USD, "300.00")
	b := h.invoice(documents.TypeSale, money.USD, "200.00")

	issued, err := h.engine.IssueNote(h.ctx, note.ID, "")
	require.NoError(t, err)
	require.Equal(t, documents.StatusIssued, issued.Status)

	first, err := h.engine.ApplyCreditNote(h.ctx, settlement.ApplyNoteInput{NoteID: note.ID, InvoiceID: a.ID, Amount: dec("300")})
	require.NoError(t, err)
	require.Equal(t, documents.StatusIssued, first.Note.Status)
	require.True(t, first.Note.Balance.Equal(dec("200")))
	require.Equal(t, documents.StatusPaid, first.Invoice.Status)

	second, err := h.engine.ApplyNote(h.ctx, settlement.ApplyNoteInput{NoteID: note.ID, InvoiceID: b.ID, Amount: dec("200")})
	require.NoError(t, err)
	require.Equal(t, documents.StatusApplied, second.Note.Status)
	require.True(t, second.Note.Balance.IsZero())

	_, err = h.engine.ApplyCreditNote(h.ctx, settlement.ApplyNoteInput{NoteID: note.ID, InvoiceID: b.ID, Amount: dec("0.01")})
	requireKind(t, err, shared.ErrOverApplication)

	apps, err := h.engine.ListNoteApplications(h.ctx, note.ID)
	require.NoError(t, err)
	require.Len(t, apps, 2)
	entries, err := h.docs.ListSettlements(h.ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, documents.SourceCreditNote, entries[0].SourceType)
	require.Equal(t, apps[0].ID, entries[0].SourceID)
	h.requireConsistent()
}

func TestApplyNoteRequiresIssuedNote(t *testing.T) {
	h := newHarness(t)
	note := h.note(documents.KindCreditNote, money.USD, "50.00")
	inv := h.invoice(documents.TypeSale, money.USD, "80.00")

	_, err := h.engine.ApplyCreditNote(h.ctx, settlement.ApplyNoteInput{NoteID: note.ID, InvoiceID: inv.ID, Amount: dec("10")})
	requireKind(t, err, shared.ErrInvalidStatusTransition)
	require.True(t, h.document(inv.ID).Settled.IsZero())
}

func TestNoteKindMustMatchInvoiceSide(t *testing.T) {
	h := newHarness(t)
	debit := h.note(documents.KindDebitNote, money.USD, "50.00")
	sale := h.invoice(documents.TypeSale, money.USD, "80.00")
	_, err := h.engine.IssueNote(h.ctx, debit.ID, "")
	require.NoError(t, err)

	_, err = h.engine.ApplyDebitNote(h.ctx, settlement.ApplyNoteInput{NoteID: debit.ID, InvoiceID: sale.ID, Amount: dec("10")})
	requireKind(t, err, shared.ErrValidation)

	_, err = h.engine.ApplyCreditNote(h.ctx, settlement.ApplyNoteInput{NoteID: debit.ID, InvoiceID: sale.ID, Amount: dec("10")})
	requireKind(t, err, shared.ErrValidation)

	_, err = h.engine.ApplyNote(h.ctx, settlement.ApplyNoteInput{NoteID: sale.ID, InvoiceID: sale.ID, Amount: dec("10")})
	requireKind(t, err, shared.ErrValidation)
}

func TestDebitNoteAcrossCurrencies(t *testing.T) {
	h := newHarness(t)
	debit := h.note(documents.KindDebitNote, money.LBP, "895000")
	purchase := h.invoice(documents.TypePurchase, money.USD, "25.00")
	_, err := h.engine.IssueNote(h.ctx, debit.ID, "")
	require.NoError(t, err)

	res, err := h.engine.ApplyDebitNote(h.ctx, settlement.ApplyNoteInput{
		NoteID:    debit.ID,
		InvoiceID: purchase.ID,
		Amount:    dec("895000"),
		Rate:      &fx.Rate{Base: money.USD, Quote: money.LBP, Value: dec("89500")},
	})
	require.NoError(t, err)
	require.True(t, res.Application.InvoiceAmount.Equal(dec("10")))
	require.NotNil(t, res.Application.Rate)
	require.Equal(t, documents.StatusApplied, res.Note.Status)
	require.Equal(t, documents.StatusPartial, res.Invoice.Status)
	require.True(t, res.Invoice.Balance.Equal(dec("15")))
}

func TestNoteApplicationFallsBackToActiveRate(t *testing.T) {
	h := newHarness(t)
	credit := h.note(documents.KindCreditNote, money.LBP, "1790000")
	sale := h.invoice(documents.TypeSale, money.USD, "50.00")
	_, err := h.engine.IssueNote(h.ctx, credit.ID, "")
	require.NoError(t, err)

	in := settlement.ApplyNoteInput{NoteID: credit.ID, InvoiceID: sale.ID, Amount: dec("1790000")}
	_, err = h.engine.ApplyCreditNote(h.ctx, in)
	requireKind(t, err, shared.ErrUnsupportedCurrencyPair)
	require.True(t, h.document(sale.ID).Balance.Equal(dec("50")))

	_, err = h.rates.SetRate(h.ctx, fx.SetRateInput{Base: money.USD, Quote: money.LBP, Rate: dec("89500")})
	require.NoError(t, err)
	res, err := h.engine.ApplyCreditNote(h.ctx, in)
	require.NoError(t, err)
	require.True(t, res.Application.InvoiceAmount.Equal(dec("20")))
	require.NotNil(t, res.Application.Rate)
	require.True(t, res.Application.Rate.Value.Equal(dec("89500")))
	require.True(t, res.Invoice.Balance.Equal(dec("30")))
}

func TestCancelNoteRestoresInvoices(t *testing.T) {
	h := newHarness(t)
	note := h.note(documents.KindCreditNote, money.USD, "500.00")
	a := h.invoice(documents.TypeSale, money.USD, "300.00")
	_, err := h.docs.Transition(h.ctx, a.ID, documents.StatusPending)
	require.NoError(t, err)
	_, err = h.engine.IssueNote(h.ctx, note.ID, "")
	require.NoError(t, err)
	_, err = h.engine.ApplyCreditNote(h.ctx, settlement.ApplyNoteInput{NoteID: note.ID, InvoiceID: a.ID, Amount: dec("300")})
	require.NoError(t, err)

	res, err := h.engine.CancelNote(h.ctx, note.ID, "issued in error", "")
	require.NoError(t, err)
	require.Equal(t, documents.StatusCancelled, res.Note.Status)
	require.True(t, res.Note.Settled.IsZero())
	require.Len(t, res.Invoices, 1)
	require.Equal(t, documents.StatusPending, res.Invoices[0].Status)
	require.True(t, res.Invoices[0].Balance.Equal(dec("300")))

	apps, err := h.engine.ListNoteApplications(h.ctx, note.ID)
	require.NoError(t, err)
	require.Len(t, apps, 2)
	require.NotNil(t, apps[1].ReversalOf)
	require.Equal(t, apps[0].ID, *apps[1].ReversalOf)
	require.True(t, apps[0].Amount.Add(apps[1].Amount).IsZero())

	_, err = h.engine.CancelNote(h.ctx, note.ID, "again", "")
	requireKind(t, err, shared.ErrInvalidStatusTransition)
	h.requireConsistent()
}

func TestCancelFullyAppliedNoteRejected(t *testing.T) {
	h := newHarness(t)
	note := h.note(documents.KindCreditNote, money.USD, "100.00")
	inv := h.invoice(documents.TypeSale, money.USD, "100.00")
	_, err := h.engine.IssueNote(h.ctx, note.ID, "")
	require.NoError(t, err)
	_, err = h.engine.ApplyCreditNote(h.ctx, settlement.ApplyNoteInput{NoteID: note.ID, InvoiceID: inv.ID, Amount: dec("100")})
	require.NoError(t, err)

	_, err = h.engine.CancelNote(h.ctx, note.ID, "late", "")
	requireKind(t, err, shared.ErrInvalidStatusTransition)
	require.Equal(t, documents.StatusPaid, h.document(inv.ID).Status)
}
