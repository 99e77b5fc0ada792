package documents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/abooddev/accounting-saas/internal/fx"
	"github.com/abooddev/accounting-saas/internal/money"
	"github.com/abooddev/accounting-saas/internal/platform/db"
	"github.com/abooddev/accounting-saas/internal/shared"
)

// Repository persists documents in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Queries implements TxRepository over a pool or a transaction.
type Queries struct {
	db db.DBTX
}

// NewQueries binds document queries to q.
func NewQueries(q db.DBTX) *Queries {
	return &Queries{db: q}
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewQueries(tx))
	})
}

const documentColumns = `id, tenant_id, kind, type, number, contact_id, invoice_id, doc_date, due_date, status, currency,
	exchange_rate, subtotal, discount, tax, total, settled, balance, reason, notes, source_kind, source_id,
	converted_invoice_id, created_at, updated_at`

func scanDocument(row pgx.Row) (Document, error) {
	var d Document
	var kind, docType, status, currency, sourceKind string
	var rate decimal.NullDecimal
	err := row.Scan(&d.ID, &d.TenantID, &kind, &docType, &d.Number, &d.ContactID, &d.InvoiceID, &d.Date, &d.DueDate,
		&status, &currency, &rate, &d.Subtotal, &d.Discount, &d.Tax, &d.Total, &d.Settled, &d.Balance, &d.Reason,
		&d.Notes, &sourceKind, &d.SourceID, &d.ConvertedInvoiceID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, shared.ErrNotFound
		}
		return Document{}, err
	}
	d.Kind = Kind(kind)
	d.Type = Type(docType)
	d.Status = Status(status)
	d.Currency = money.Currency(strings.TrimSpace(currency))
	d.SourceKind = Kind(sourceKind)
	if rate.Valid {
		v := rate.Decimal
		d.ExchangeRate = &v
	}
	return d, nil
}

func nullRate(v *decimal.Decimal) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *v, Valid: true}
}

func (q *Queries) getDocument(ctx context.Context, tenantID, id uuid.UUID, lock bool) (Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE tenant_id=$1 AND id=$2 AND deleted_at IS NULL`
	if lock {
		query += ` FOR UPDATE`
	}
	doc, err := scanDocument(q.db.QueryRow(ctx, query, tenantID, id))
	if err != nil {
		return Document{}, err
	}
	doc.Lines, err = q.lines(ctx, doc.ID)
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (q *Queries) lines(ctx context.Context, documentID uuid.UUID) ([]Line, error) {
	rows, err := q.db.Query(ctx, `SELECT id, position, product_id, description, quantity, quantity_received, unit_price, total
		FROM document_lines WHERE document_id=$1 ORDER BY position`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.Position, &l.ProductID, &l.Description, &l.Quantity, &l.QuantityReceived, &l.UnitPrice, &l.Total); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// GetDocument loads one document without locking it.
func (r *Repository) GetDocument(ctx context.Context, tenantID, id uuid.UUID) (Document, error) {
	return NewQueries(r.pool).getDocument(ctx, tenantID, id, false)
}

// ListDocuments lists document headers, newest first.
func (r *Repository) ListDocuments(ctx context.Context, tenantID uuid.UUID, filter ListFilter) ([]Document, error) {
	conditions := []string{"tenant_id = $1", "deleted_at IS NULL"}
	args := []any{tenantID}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		conditions = append(conditions, fmt.Sprintf("kind = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.ContactID != nil {
		args = append(args, *filter.ContactID)
		conditions = append(conditions, fmt.Sprintf("contact_id = $%d", len(args)))
	}
	page := filter.Page.Normalize()
	args = append(args, page.Limit, page.Offset)
	query := fmt.Sprintf(`SELECT %s FROM documents WHERE %s ORDER BY doc_date DESC, created_at DESC LIMIT $%d OFFSET $%d`,
		documentColumns, strings.Join(conditions, " AND "), len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListSettlementEntries returns a document's entries oldest first.
func (r *Repository) ListSettlementEntries(ctx context.Context, tenantID, documentID uuid.UUID) ([]SettlementEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, tenant_id, document_id, source_type, source_id, amount, currency,
		rate_base, rate_quote, rate_value, created_at
		FROM settlement_entries WHERE tenant_id=$1 AND document_id=$2 ORDER BY created_at, id`, tenantID, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SettlementEntry
	for rows.Next() {
		var e SettlementEntry
		var sourceType, currency string
		var rateBase, rateQuote *string
		var rateValue decimal.NullDecimal
		if err := rows.Scan(&e.ID, &e.TenantID, &e.DocumentID, &sourceType, &e.SourceID, &e.Amount, &currency,
			&rateBase, &rateQuote, &rateValue, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.SourceType = SourceType(sourceType)
		e.Currency = money.Currency(strings.TrimSpace(currency))
		e.Rate = fx.RateFromColumns(rateBase, rateQuote, rateValue)
		out = append(out, e)
	}
	return out, rows.Err()
}

// DocumentSnapshots sums the settlement entries of every document.
func (r *Repository) DocumentSnapshots(ctx context.Context) ([]Snapshot, error) {
	rows, err := r.pool.Query(ctx, `SELECT d.tenant_id, d.id, d.kind, d.status, d.total, d.settled, d.balance,
		COALESCE(SUM(e.amount), 0)
		FROM documents d LEFT JOIN settlement_entries e ON e.document_id = d.id
		WHERE d.deleted_at IS NULL
		GROUP BY d.tenant_id, d.id, d.kind, d.status, d.total, d.settled, d.balance`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Snapshot
	for rows.Next() {
		var s Snapshot
		var kind, status string
		if err := rows.Scan(&s.TenantID, &s.DocumentID, &kind, &status, &s.Total, &s.Settled, &s.Balance, &s.EntrySum); err != nil {
			return nil, err
		}
		s.Kind = Kind(kind)
		s.Status = Status(status)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (q *Queries) InsertDocument(ctx context.Context, d Document) error {
	_, err := q.db.Exec(ctx, `INSERT INTO documents (`+documentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)`,
		d.ID, d.TenantID, string(d.Kind), string(d.Type), d.Number, d.ContactID, d.InvoiceID, d.Date, d.DueDate,
		string(d.Status), string(d.Currency), nullRate(d.ExchangeRate), d.Subtotal, d.Discount, d.Tax, d.Total,
		d.Settled, d.Balance, d.Reason, d.Notes, string(d.SourceKind), d.SourceID, d.ConvertedInvoiceID, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return err
	}
	for _, l := range d.Lines {
		_, err := q.db.Exec(ctx, `INSERT INTO document_lines (id, document_id, position, product_id, description, quantity,
			quantity_received, unit_price, total) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			l.ID, d.ID, l.Position, l.ProductID, l.Description, l.Quantity, l.QuantityReceived, l.UnitPrice, l.Total)
		if err != nil {
			return err
		}
	}
	return nil
}

func (q *Queries) GetDocumentForUpdate(ctx context.Context, tenantID, id uuid.UUID) (Document, error) {
	return q.getDocument(ctx, tenantID, id, true)
}

// UpdateDocument writes the mutable header fields and received quantities.
func (q *Queries) UpdateDocument(ctx context.Context, d Document) error {
	tag, err := q.db.Exec(ctx, `UPDATE documents SET status=$3, settled=$4, balance=$5, converted_invoice_id=$6, updated_at=$7
		WHERE tenant_id=$1 AND id=$2`, d.TenantID, d.ID, string(d.Status), d.Settled, d.Balance, d.ConvertedInvoiceID, d.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	for _, l := range d.Lines {
		if _, err := q.db.Exec(ctx, `UPDATE document_lines SET quantity_received=$2 WHERE id=$1`, l.ID, l.QuantityReceived); err != nil {
			return err
		}
	}
	return nil
}

func (q *Queries) InsertSettlementEntry(ctx context.Context, e SettlementEntry) error {
	rateBase, rateQuote, rateValue := fx.RateColumns(e.Rate)
	_, err := q.db.Exec(ctx, `INSERT INTO settlement_entries (id, tenant_id, document_id, source_type, source_id, amount,
		currency, rate_base, rate_quote, rate_value, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.TenantID, e.DocumentID, string(e.SourceType), e.SourceID, e.Amount, string(e.Currency),
		rateBase, rateQuote, rateValue, e.CreatedAt)
	return err
}

// LockDocument takes the row lock without reading the row back.
func (q *Queries) LockDocument(ctx context.Context, tenantID, id uuid.UUID) error {
	var locked uuid.UUID
	err := q.db.QueryRow(ctx, `SELECT id FROM documents WHERE tenant_id=$1 AND id=$2 AND deleted_at IS NULL FOR UPDATE`, tenantID, id).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.NewRuleError(shared.ErrNotFound, "document not found", map[string]string{"document_id": id.String()})
	}
	return err
}
