package settlement

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/abooddev/accounting-saas/internal/documents"
	"github.com/abooddev/accounting-saas/internal/fx"
	"github.com/abooddev/accounting-saas/internal/ledger"
	"github.com/abooddev/accounting-saas/internal/shared"
)

// RecordPayment posts the account movement of a payment and, when an
// invoice is targeted, settles it by the converted amount.
func (e *Engine) RecordPayment(ctx context.Context, in PaymentInput) (Payment, error) {
	tenantID, err := shared.RequireTenant(ctx)
	if err != nil {
		return Payment{}, err
	}
	if !in.Kind.Valid() {
		return Payment{}, shared.Invalid("payment kind %q is not supported", in.Kind)
	}
	if in.Method == "" {
		in.Method = MethodCash
	}
	if !in.Method.Valid() {
		return Payment{}, shared.Invalid("payment method %q is not supported", in.Method)
	}
	if !in.Currency.Valid() {
		return Payment{}, shared.Invalid("currency %q is not supported", in.Currency)
	}
	if !in.Amount.IsPositive() {
		return Payment{}, shared.Invalid("payment amount must be positive")
	}
	if err := e.precisions.Validate(in.Amount, in.Currency); err != nil {
		return Payment{}, err
	}

	account, err := e.repo.GetAccount(ctx, tenantID, in.AccountID)
	if err != nil {
		return Payment{}, err
	}
	locks := []shared.LockTarget{{Kind: shared.LockAccount, ID: account.ID}}
	docCurrency := account.Currency
	if in.DocumentID != nil {
		doc, err := e.repo.GetDocument(ctx, tenantID, *in.DocumentID)
		if err != nil {
			return Payment{}, err
		}
		docCurrency = doc.Currency
		locks = append(locks, shared.LockTarget{Kind: shared.LockDocument, ID: doc.ID})
	}
	rate, err := e.resolveRate(ctx, in.Currency, in.Rate, account.Currency, docCurrency)
	if err != nil {
		return Payment{}, err
	}

	return execute(ctx, e, command[Payment]{
		op:       opRecordPayment,
		key:      in.IdempotencyKey,
		locks:    locks,
		entity:   "payment",
		entityID: func(p Payment) string { return p.ID.String() },
		meta: func(p Payment) map[string]any {
			return map[string]any{"kind": p.Kind, "amount": p.Amount.String(), "currency": p.Currency, "document_id": p.DocumentID}
		},
		run: func(ctx context.Context, tx TxRepository) (Payment, error) {
			return e.recordPayment(ctx, tx, tenantID, in, rate)
		},
	})
}

func (e *Engine) recordPayment(ctx context.Context, tx TxRepository, tenantID uuid.UUID, in PaymentInput, rate *fx.Rate) (Payment, error) {
	now := e.now()
	payment := Payment{
		ID:         uuid.New(),
		TenantID:   tenantID,
		Kind:       in.Kind,
		AccountID:  in.AccountID,
		DocumentID: in.DocumentID,
		ContactID:  in.ContactID,
		Amount:     in.Amount,
		Currency:   in.Currency,
		Method:     in.Method,
		Reference:  strings.TrimSpace(in.Reference),
		Notes:      strings.TrimSpace(in.Notes),
		Date:       in.Date,
		Status:     PaymentCompleted,
		CreatedAt:  now,
	}
	if payment.Date.IsZero() {
		payment.Date = now
	}

	var doc documents.Document
	if in.DocumentID != nil {
		var err error
		doc, err = tx.GetDocumentForUpdate(ctx, tenantID, *in.DocumentID)
		if err != nil {
			return Payment{}, err
		}
		if doc.Kind != documents.KindInvoice || doc.Type != in.Kind.invoiceType() {
			return Payment{}, shared.NewRuleError(shared.ErrValidation, "payment kind does not match the document", map[string]string{
				"payment_kind":  string(in.Kind),
				"document_kind": string(doc.Kind),
				"document_type": string(doc.Type),
			})
		}
		if payment.ContactID == nil {
			payment.ContactID = doc.ContactID
		} else if doc.ContactID != nil && *doc.ContactID != *payment.ContactID {
			return Payment{}, shared.Invalid("payment contact differs from the invoice contact")
		}
	}

	account, err := tx.GetAccountForUpdate(ctx, tenantID, in.AccountID)
	if err != nil {
		return Payment{}, err
	}
	payment.AccountAmount, err = e.converter.Convert(in.Amount, in.Currency, account.Currency, rate)
	if err != nil {
		return Payment{}, err
	}
	if !payment.AccountAmount.IsPositive() {
		return Payment{}, shared.Invalid("payment rounds to zero in %s", account.Currency)
	}
	if in.Currency != account.Currency || (in.DocumentID != nil && in.Currency != doc.Currency) {
		payment.Rate = rate
	}

	signed := payment.AccountAmount
	if in.Kind.movementKind() == ledger.KindPaymentOut {
		signed = signed.Neg()
	}
	movement, err := e.ledger.Append(ctx, tx, ledger.AppendInput{
		TenantID:      tenantID,
		AccountID:     account.ID,
		Kind:          in.Kind.movementKind(),
		Amount:        signed,
		ReferenceType: ledger.RefPayment,
		ReferenceID:   &payment.ID,
		Rate:          stamp(rate, in.Currency, account.Currency),
		Description:   paymentDescription(in, doc),
		Date:          payment.Date,
	})
	if err != nil {
		return Payment{}, err
	}
	payment.MovementID = movement.ID

	if in.DocumentID != nil {
		payment.DocumentAmount, err = e.converter.Convert(in.Amount, in.Currency, doc.Currency, rate)
		if err != nil {
			return Payment{}, err
		}
		if _, err := e.tracker.RecordSettlement(ctx, tx, documents.SettlementInput{
			TenantID:   tenantID,
			DocumentID: doc.ID,
			Amount:     payment.DocumentAmount,
			SourceType: documents.SourcePayment,
			SourceID:   payment.ID,
			Rate:       stamp(rate, in.Currency, doc.Currency),
		}); err != nil {
			return Payment{}, err
		}
	}
	if err := tx.InsertPayment(ctx, payment); err != nil {
		return Payment{}, err
	}
	return payment, nil
}

func paymentDescription(in PaymentInput, doc documents.Document) string {
	if doc.Number != "" {
		return string(in.Kind) + " " + doc.Number
	}
	if in.Reference != "" {
		return string(in.Kind) + " " + strings.TrimSpace(in.Reference)
	}
	return string(in.Kind)
}

// ReversePayment undoes a payment with a compensating movement and, when an
// invoice was settled, a settlement reversal. The payment is kept and
// marked reversed.
func (e *Engine) ReversePayment(ctx context.Context, in ReversePaymentInput) (Payment, error) {
	tenantID, err := shared.RequireTenant(ctx)
	if err != nil {
		return Payment{}, err
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return Payment{}, shared.Invalid("reversal reason required")
	}
	original, err := e.repo.GetPayment(ctx, tenantID, in.PaymentID)
	if err != nil {
		return Payment{}, err
	}
	locks := []shared.LockTarget{{Kind: shared.LockAccount, ID: original.AccountID}}
	if original.DocumentID != nil {
		locks = append(locks, shared.LockTarget{Kind: shared.LockDocument, ID: *original.DocumentID})
	}
	return execute(ctx, e, command[Payment]{
		op:       opReversePayment,
		key:      in.IdempotencyKey,
		locks:    locks,
		entity:   "payment",
		entityID: func(p Payment) string { return p.ID.String() },
		meta:     func(p Payment) map[string]any { return map[string]any{"reason": p.ReversalReason} },
		run: func(ctx context.Context, tx TxRepository) (Payment, error) {
			payment, err := tx.GetPaymentForUpdate(ctx, tenantID, in.PaymentID)
			if err != nil {
				return Payment{}, err
			}
			if payment.Status == PaymentReversed {
				return Payment{}, shared.NewRuleError(shared.ErrInvalidStatusTransition, "payment already reversed", map[string]string{
					"payment_id": payment.ID.String(),
				})
			}
			movement, err := e.ledger.Reverse(ctx, tx, ledger.ReverseInput{
				TenantID:      tenantID,
				MovementID:    payment.MovementID,
				ReferenceType: ledger.RefPayment,
				ReferenceID:   &payment.ID,
				Description:   "reversal: " + reason,
				Date:          in.Date,
			})
			if err != nil {
				return Payment{}, err
			}
			if payment.DocumentID != nil {
				if _, err := e.tracker.ReverseSettlement(ctx, tx, documents.SettlementInput{
					TenantID:   tenantID,
					DocumentID: *payment.DocumentID,
					Amount:     payment.DocumentAmount,
					SourceType: documents.SourceReversal,
					SourceID:   payment.ID,
					Rate:       payment.Rate,
				}); err != nil {
					return Payment{}, err
				}
			}
			now := e.now()
			payment.Status = PaymentReversed
			payment.ReversalMovementID = &movement.ID
			payment.ReversalReason = reason
			payment.ReversedAt = &now
			if err := tx.UpdatePayment(ctx, payment); err != nil {
				return Payment{}, err
			}
			return payment, nil
		},
	})
}
