package documents

import "github.com/abooddev/accounting-saas/internal/shared"

// statusSets lists every status a kind may take.
var statusSets = map[Kind][]Status{
	KindInvoice:       {StatusDraft, StatusPending, StatusPartial, StatusPaid, StatusCancelled},
	KindPurchaseOrder: {StatusDraft, StatusSent, StatusPartial, StatusReceived, StatusCancelled},
	KindSalesOrder:    {StatusDraft, StatusConfirmed, StatusPartial, StatusDelivered, StatusCancelled},
	KindQuote:         {StatusDraft, StatusSent, StatusAccepted, StatusRejected, StatusExpired, StatusConverted},
	KindCreditNote:    {StatusDraft, StatusIssued, StatusApplied, StatusCancelled},
	KindDebitNote:     {StatusDraft, StatusIssued, StatusApplied, StatusCancelled},
}

var noteForward = map[Status][]Status{
	StatusDraft:  {StatusIssued, StatusCancelled},
	StatusIssued: {StatusApplied, StatusCancelled},
}

// forward holds the normal lifecycle. Terminal statuses have no entry.
// Partially settled or received documents cannot be cancelled; their
// settlements are reversed first.
var forward = map[Kind]map[Status][]Status{
	KindInvoice: {
		StatusDraft:   {StatusPending, StatusPartial, StatusPaid, StatusCancelled},
		StatusPending: {StatusPartial, StatusPaid, StatusCancelled},
		StatusPartial: {StatusPaid},
	},
	KindPurchaseOrder: {
		StatusDraft:   {StatusSent, StatusCancelled},
		StatusSent:    {StatusPartial, StatusReceived, StatusCancelled},
		StatusPartial: {StatusReceived},
	},
	KindSalesOrder: {
		StatusDraft:     {StatusConfirmed, StatusCancelled},
		StatusConfirmed: {StatusPartial, StatusDelivered, StatusCancelled},
		StatusPartial:   {StatusDelivered},
	},
	KindQuote: {
		StatusDraft:    {StatusSent},
		StatusSent:     {StatusAccepted, StatusRejected, StatusExpired},
		StatusAccepted: {StatusConverted},
	},
	KindCreditNote: noteForward,
	KindDebitNote:  noteForward,
}

var noteBackward = map[Status][]Status{
	StatusApplied: {StatusIssued},
}

// backward holds moves only a settlement reversal may make.
var backward = map[Kind]map[Status][]Status{
	KindInvoice: {
		StatusPaid:    {StatusPartial, StatusPending},
		StatusPartial: {StatusPending},
	},
	KindCreditNote: noteBackward,
	KindDebitNote:  noteBackward,
}

// manual lists the targets a user may request directly. The rest are
// derived from settlements and receipts.
var manual = map[Kind][]Status{
	KindInvoice:       {StatusPending, StatusCancelled},
	KindPurchaseOrder: {StatusSent, StatusCancelled},
	KindSalesOrder:    {StatusConfirmed, StatusCancelled},
	KindQuote:         {StatusSent, StatusAccepted, StatusRejected, StatusExpired},
	KindCreditNote:    {StatusIssued, StatusCancelled},
	KindDebitNote:     {StatusIssued, StatusCancelled},
}

func contains(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// HasStatus reports whether s belongs to k's status set.
func (k Kind) HasStatus(s Status) bool {
	return contains(statusSets[k], s)
}

// CanTransition reports whether the lifecycle allows from -> to.
func CanTransition(kind Kind, from, to Status) bool {
	return contains(forward[kind][from], to)
}

func canReverse(kind Kind, from, to Status) bool {
	return contains(backward[kind][from], to)
}

func transitionError(d Document, to Status) error {
	return shared.NewRuleError(shared.ErrInvalidStatusTransition, "status change not allowed", map[string]string{
		"document_id": d.ID.String(),
		"kind":        string(d.Kind),
		"from":        string(d.Status),
		"to":          string(to),
	})
}

// settleable reports whether a settlement may be recorded against d.
func (d Document) settleable() bool {
	switch {
	case d.Kind == KindInvoice:
		return d.Status == StatusDraft || d.Status == StatusPending || d.Status == StatusPartial
	case d.Kind.IsNote():
		return d.Status == StatusIssued
	}
	return false
}

// settledStatus derives the status implied by Settled.
func (d Document) settledStatus() Status {
	if d.Kind.IsNote() {
		if d.Balance.IsZero() {
			return StatusApplied
		}
		return StatusIssued
	}
	switch {
	case d.Balance.IsZero():
		return StatusPaid
	case d.Settled.IsPositive():
		return StatusPartial
	case d.Status == StatusDraft || d.Status == StatusPending:
		return d.Status
	}
	return StatusPending
}

// receiptStatus derives the status implied by received quantities.
func (d Document) receiptStatus() Status {
	full, started := true, false
	for _, line := range d.Lines {
		if line.QuantityReceived.IsPositive() {
			started = true
		}
		if line.QuantityReceived.LessThan(line.Quantity) {
			full = false
		}
	}
	switch {
	case full && started:
		if d.Kind == KindSalesOrder {
			return StatusDelivered
		}
		return StatusReceived
	case started:
		return StatusPartial
	}
	return d.Status
}

// anyReceived reports whether some goods already moved on the order.
func (d Document) anyReceived() bool {
	for _, line := range d.Lines {
		if line.QuantityReceived.IsPositive() {
			return true
		}
	}
	return false
}
