package settlement

import (
	"context"

	"github.com/google/uuid"

	"github.com/abooddev/accounting-saas/internal/documents"
	"github.com/abooddev/accounting-saas/internal/shared"
)

// ReceiveGoods records received quantities on a purchase order.
func (e *Engine) ReceiveGoods(ctx context.Context, orderID uuid.UUID, deliveries []documents.LineDelivery, key string) (documents.Document, error) {
	return e.moveGoods(ctx, opReceiveGoods, documents.KindPurchaseOrder, orderID, deliveries, key)
}

// DeliverSalesOrder records delivered quantities on a sales order.
func (e *Engine) DeliverSalesOrder(ctx context.Context, orderID uuid.UUID, deliveries []documents.LineDelivery, key string) (documents.Document, error) {
	return e.moveGoods(ctx, opDeliverOrder, documents.KindSalesOrder, orderID, deliveries, key)
}

func (e *Engine) moveGoods(ctx context.Context, op string, kind documents.Kind, orderID uuid.UUID, deliveries []documents.LineDelivery, key string) (documents.Document, error) {
	return execute(ctx, e, command[documents.Document]{
		op:       op,
		key:      key,
		locks:    []shared.LockTarget{{Kind: shared.LockDocument, ID: orderID}},
		entity:   string(kind),
		entityID: func(d documents.Document) string { return d.ID.String() },
		meta: func(d documents.Document) map[string]any {
			return map[string]any{"status": d.Status, "lines": len(deliveries)}
		},
		run: func(ctx context.Context, tx TxRepository) (documents.Document, error) {
			tenantID, _ := shared.TenantFromContext(ctx)
			order, err := tx.GetDocumentForUpdate(ctx, tenantID, orderID)
			if err != nil {
				return documents.Document{}, err
			}
			if order.Kind != kind {
				return documents.Document{}, shared.Invalid("%s is not a %s", order.Number, kind)
			}
			return e.tracker.Receive(ctx, tx, tenantID, orderID, deliveries)
		},
	})
}

// ConfirmSalesOrder moves a draft sales order to confirmed.
func (e *Engine) ConfirmSalesOrder(ctx context.Context, orderID uuid.UUID, key string) (documents.Document, error) {
	return execute(ctx, e, command[documents.Document]{
		op:       opConfirmOrder,
		key:      key,
		locks:    []shared.LockTarget{{Kind: shared.LockDocument, ID: orderID}},
		entity:   string(documents.KindSalesOrder),
		entityID: func(d documents.Document) string { return d.ID.String() },
		run: func(ctx context.Context, tx TxRepository) (documents.Document, error) {
			tenantID, _ := shared.TenantFromContext(ctx)
			order, err := tx.GetDocumentForUpdate(ctx, tenantID, orderID)
			if err != nil {
				return documents.Document{}, err
			}
			if order.Kind != documents.KindSalesOrder {
				return documents.Document{}, shared.Invalid("%s is not a sales order", order.Number)
			}
			return e.tracker.Transition(ctx, tx, tenantID, orderID, documents.StatusConfirmed)
		},
	})
}

// ConvertToInvoice creates a pending invoice from a purchase order, sales
// order or quote. Each source converts once.
func (e *Engine) ConvertToInvoice(ctx context.Context, sourceID uuid.UUID, opts ConvertOptions) (ConvertResult, error) {
	return execute(ctx, e, command[ConvertResult]{
		op:       opConvert,
		key:      opts.IdempotencyKey,
		locks:    []shared.LockTarget{{Kind: shared.LockDocument, ID: sourceID}},
		entity:   string(documents.KindInvoice),
		entityID: func(r ConvertResult) string { return r.Invoice.ID.String() },
		meta: func(r ConvertResult) map[string]any {
			return map[string]any{"source_kind": r.Source.Kind, "source_id": r.Source.ID, "total": r.Invoice.Total.String()}
		},
		run: func(ctx context.Context, tx TxRepository) (ConvertResult, error) {
			tenantID, _ := shared.TenantFromContext(ctx)
			invoice, source, err := e.tracker.ConvertToInvoice(ctx, tx, tenantID, sourceID, documents.ConvertOptions{
				Number:  opts.Number,
				DueDate: opts.DueDate,
			})
			if err != nil {
				return ConvertResult{}, err
			}
			return ConvertResult{Invoice: invoice, Source: source}, nil
		},
	})
}
