package documents

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abooddev/accounting-saas/internal/money"
	"github.com/abooddev/accounting-saas/internal/shared"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestBuildComputesTotals(t *testing.T) {
	tr := NewTracker(nil)
	tenantID := uuid.New()

	doc, err := tr.Build(tenantID, CreateInput{
		Kind:     KindSalesOrder,
		Currency: money.USD,
		Discount: d("5.00"),
		Tax:      d("1.10"),
		Lines: []LineInput{
			{Description: " Paint ", Quantity: d("3"), UnitPrice: d("3.333")},
			{Description: "Brush", Quantity: d("1"), UnitPrice: d("10")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, doc.Status)
	assert.Equal(t, TypeSale, doc.Type)
	assert.Equal(t, tenantID, doc.TenantID)
	assert.True(t, strings.HasPrefix(doc.Number, "SO-"))
	require.Len(t, doc.Lines, 2)
	assert.Equal(t, "Paint", doc.Lines[0].Description)
	assert.True(t, doc.Lines[0].Total.Equal(d("10")))
	assert.True(t, doc.Subtotal.Equal(d("20")))
	assert.True(t, doc.Total.Equal(d("16.10")))
	assert.True(t, doc.Balance.Equal(doc.Total))
	assert.True(t, doc.Settled.IsZero())
}

func TestBuildRejectsInvalidInput(t *testing.T) {
	tr := NewTracker(money.DefaultPrecisions())
	lines := []LineInput{{Quantity: d("1"), UnitPrice: d("1")}}

	tests := []struct {
		name string
		in   CreateInput
	}{
		{"unknown kind", CreateInput{Kind: "receipt", Currency: money.USD, Subtotal: d("1")}},
		{"invoice without type", CreateInput{Kind: KindInvoice, Currency: money.USD, Subtotal: d("1")}},
		{"purchase order typed as sale", CreateInput{Kind: KindPurchaseOrder, Type: TypeSale, Currency: money.USD, Lines: lines}},
		{"note without reason", CreateInput{Kind: KindCreditNote, Currency: money.USD, Subtotal: d("1")}},
		{"order without lines", CreateInput{Kind: KindPurchaseOrder, Currency: money.USD, Subtotal: d("1")}},
		{"zero total", CreateInput{Kind: KindInvoice, Type: TypeSale, Currency: money.USD}},
		{"discount above subtotal", CreateInput{Kind: KindInvoice, Type: TypeSale, Currency: money.USD, Subtotal: d("5"), Discount: d("6")}},
		{"negative tax", CreateInput{Kind: KindInvoice, Type: TypeSale, Currency: money.USD, Subtotal: d("5"), Tax: d("-1")}},
		{"lbp fraction", CreateInput{Kind: KindInvoice, Type: TypeSale, Currency: money.LBP, Subtotal: d("1000.5")}},
		{"zero quantity", CreateInput{Kind: KindQuote, Currency: money.USD, Lines: []LineInput{{Quantity: d("0"), UnitPrice: d("1")}}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tr.Build(uuid.New(), tc.in)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}
}

func TestStatusTables(t *testing.T) {
	tests := []struct {
		kind     Kind
		from, to Status
		want     bool
	}{
		{KindInvoice, StatusDraft, StatusPending, true},
		{KindInvoice, StatusPending, StatusPaid, true},
		{KindInvoice, StatusPaid, StatusPending, false},
		{KindInvoice, StatusCancelled, StatusPending, false},
		{KindInvoice, StatusPending, StatusCancelled, true},
		{KindInvoice, StatusPartial, StatusCancelled, false},
		{KindPurchaseOrder, StatusPartial, StatusCancelled, false},
		{KindSalesOrder, StatusPartial, StatusCancelled, false},
		{KindPurchaseOrder, StatusDraft, StatusReceived, false},
		{KindPurchaseOrder, StatusSent, StatusPartial, true},
		{KindSalesOrder, StatusConfirmed, StatusDelivered, true},
		{KindQuote, StatusAccepted, StatusConverted, true},
		{KindQuote, StatusRejected, StatusAccepted, false},
		{KindCreditNote, StatusIssued, StatusApplied, true},
		{KindCreditNote, StatusApplied, StatusCancelled, false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, CanTransition(tc.kind, tc.from, tc.to), "%s %s->%s", tc.kind, tc.from, tc.to)
	}

	assert.True(t, canReverse(KindInvoice, StatusPaid, StatusPartial))
	assert.True(t, canReverse(KindDebitNote, StatusApplied, StatusIssued))
	assert.False(t, canReverse(KindPurchaseOrder, StatusReceived, StatusPartial))
	assert.False(t, KindInvoice.HasStatus(StatusIssued))
	assert.True(t, KindQuote.HasStatus(StatusExpired))
}

func TestSettledStatus(t *testing.T) {
	inv := Document{Kind: KindInvoice, Status: StatusDraft, Total: d("100"), Settled: d("0"), Balance: d("100")}
	assert.Equal(t, StatusDraft, inv.settledStatus())

	inv.Settled, inv.Balance = d("40"), d("60")
	assert.Equal(t, StatusPartial, inv.settledStatus())

	inv.Settled, inv.Balance = d("100"), d("0")
	assert.Equal(t, StatusPaid, inv.settledStatus())

	inv.Status, inv.Settled, inv.Balance = StatusPaid, d("0"), d("100")
	assert.Equal(t, StatusPending, inv.settledStatus())

	note := Document{Kind: KindCreditNote, Status: StatusIssued, Total: d("10"), Settled: d("10"), Balance: d("0")}
	assert.Equal(t, StatusApplied, note.settledStatus())
}

func TestReceiptStatus(t *testing.T) {
	po := Document{Kind: KindPurchaseOrder, Status: StatusSent, Lines: []Line{
		{Quantity: d("10"), QuantityReceived: d("0")},
		{Quantity: d("2"), QuantityReceived: d("0")},
	}}
	assert.Equal(t, StatusSent, po.receiptStatus())

	po.Lines[0].QuantityReceived = d("10")
	assert.Equal(t, StatusPartial, po.receiptStatus())

	po.Lines[1].QuantityReceived = d("2")
	assert.Equal(t, StatusReceived, po.receiptStatus())

	so := po.Clone()
	so.Kind = KindSalesOrder
	assert.Equal(t, StatusDelivered, so.receiptStatus())
}

func TestProrate(t *testing.T) {
	tr := NewTracker(nil)
	assert.True(t, tr.prorate(d("11"), d("100"), d("200"), money.USD).Equal(d("5.5")))
	assert.True(t, tr.prorate(d("10"), d("1"), d("3"), money.USD).Equal(d("3.33")))
	assert.True(t, tr.prorate(d("7"), d("50"), d("50"), money.LBP).Equal(d("7")))
	assert.True(t, tr.prorate(d("0"), d("1"), d("3"), money.USD).IsZero())
	assert.True(t, tr.prorate(d("1000"), d("1"), d("3"), money.LBP).Equal(d("333")))
}
