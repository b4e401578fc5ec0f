package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/invoice-reconciler/internal/application/port"
	"github.com/garyjia/invoice-reconciler/internal/domain/entity"
	"github.com/garyjia/invoice-reconciler/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// InvoiceRepository implements port.InvoiceRepository on SQLite. Lines are
// stored in invoice_lines ordered by position.
type InvoiceRepository struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewInvoiceRepository creates a new invoice repository
func NewInvoiceRepository(db *sql.DB, logger *zap.Logger) *InvoiceRepository {
	return &InvoiceRepository{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

const invoiceColumns = `
	id, supplier_name, document_number, document_date, delivery_date,
	net_total, tax_total, gross_total,
	pre_discount_line_sum, document_discount, net_after_discount, tax_rate,
	created_at, updated_at`

// Create inserts the invoice header and its lines
func (r *InvoiceRepository) Create(ctx context.Context, invoice *entity.Invoice) error {
	now := r.now()
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = now
	}
	invoice.UpdatedAt = now

	query := `INSERT INTO invoices (` + invoiceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	return r.inTx(ctx, func(ex sqlite.Executor) error {
		_, err := ex.ExecContext(ctx, query,
			invoice.ID,
			invoice.SupplierName,
			invoice.DocumentNumber,
			formatDate(invoice.DocumentDate),
			nullDate(invoice.DeliveryDate),
			invoice.NetTotal,
			invoice.TaxTotal,
			invoice.GrossTotal,
			nullFloat(invoice.Meta.PreDiscountLineSum),
			nullFloat(invoice.Meta.DocumentDiscount),
			nullFloat(invoice.Meta.NetAfterDiscount),
			nullFloat(invoice.Meta.TaxRate),
			invoice.CreatedAt,
			invoice.UpdatedAt,
		)
		if err != nil {
			r.logger.Error("Failed to create invoice", zap.String("id", invoice.ID), zap.Error(err))
			return fmt.Errorf("failed to create invoice: %w", err)
		}
		return r.insertLines(ctx, ex, invoice.ID, invoice.Lines)
	})
}

// GetByID retrieves an invoice with its lines, or nil when it does not exist
func (r *InvoiceRepository) GetByID(ctx context.Context, id string) (*entity.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = ?`

	ex := sqlite.GetExecutor(ctx, r.db)
	invoice, err := scanInvoice(ex.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get invoice by ID", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}

	lines, err := r.loadLines(ctx, ex, id)
	if err != nil {
		return nil, err
	}
	invoice.Lines = lines
	return invoice, nil
}

// List returns invoices newest first
func (r *InvoiceRepository) List(ctx context.Context, limit, offset int) ([]*entity.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?`

	ex := sqlite.GetExecutor(ctx, r.db)
	rows, err := ex.QueryContext(ctx, query, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list invoices", zap.Error(err))
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}

	var invoices []*entity.Invoice
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, invoice)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate invoices: %w", err)
	}
	rows.Close()

	for _, invoice := range invoices {
		lines, err := r.loadLines(ctx, ex, invoice.ID)
		if err != nil {
			return nil, err
		}
		invoice.Lines = lines
	}
	return invoices, nil
}

// Count returns the number of stored invoices
func (r *InvoiceRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := sqlite.GetExecutor(ctx, r.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM invoices`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count invoices: %w", err)
	}
	return count, nil
}

// Update overwrites the invoice header and replaces its lines
func (r *InvoiceRepository) Update(ctx context.Context, invoice *entity.Invoice) error {
	invoice.UpdatedAt = r.now()

	query := `
		UPDATE invoices SET
			supplier_name = ?, document_number = ?, document_date = ?, delivery_date = ?,
			net_total = ?, tax_total = ?, gross_total = ?,
			pre_discount_line_sum = ?, document_discount = ?, net_after_discount = ?, tax_rate = ?,
			updated_at = ?
		WHERE id = ?
	`

	return r.inTx(ctx, func(ex sqlite.Executor) error {
		result, err := ex.ExecContext(ctx, query,
			invoice.SupplierName,
			invoice.DocumentNumber,
			formatDate(invoice.DocumentDate),
			nullDate(invoice.DeliveryDate),
			invoice.NetTotal,
			invoice.TaxTotal,
			invoice.GrossTotal,
			nullFloat(invoice.Meta.PreDiscountLineSum),
			nullFloat(invoice.Meta.DocumentDiscount),
			nullFloat(invoice.Meta.NetAfterDiscount),
			nullFloat(invoice.Meta.TaxRate),
			invoice.UpdatedAt,
			invoice.ID,
		)
		if err != nil {
			r.logger.Error("Failed to update invoice", zap.String("id", invoice.ID), zap.Error(err))
			return fmt.Errorf("failed to update invoice: %w", err)
		}
		if n, err := result.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("invoice %s: %w", invoice.ID, sql.ErrNoRows)
		}

		if _, err := ex.ExecContext(ctx, `DELETE FROM invoice_lines WHERE invoice_id = ?`, invoice.ID); err != nil {
			return fmt.Errorf("failed to clear invoice lines: %w", err)
		}
		return r.insertLines(ctx, ex, invoice.ID, invoice.Lines)
	})
}

// Delete removes an invoice and its lines. Deleting a missing invoice is a
// no-op.
func (r *InvoiceRepository) Delete(ctx context.Context, id string) error {
	return r.inTx(ctx, func(ex sqlite.Executor) error {
		if _, err := ex.ExecContext(ctx, `DELETE FROM invoice_lines WHERE invoice_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete invoice lines: %w", err)
		}
		if _, err := ex.ExecContext(ctx, `DELETE FROM invoices WHERE id = ?`, id); err != nil {
			r.logger.Error("Failed to delete invoice", zap.String("id", id), zap.Error(err))
			return fmt.Errorf("failed to delete invoice: %w", err)
		}
		return nil
	})
}

// ListSuppliers returns the distinct non-empty supplier names, sorted
func (r *InvoiceRepository) ListSuppliers(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT supplier_name FROM invoices
		WHERE supplier_name <> ''
		ORDER BY supplier_name
	`

	rows, err := sqlite.GetExecutor(ctx, r.db).QueryContext(ctx, query)
	if err != nil {
		r.logger.Error("Failed to list suppliers", zap.Error(err))
		return nil, fmt.Errorf("failed to list suppliers: %w", err)
	}
	defer rows.Close()

	suppliers := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan supplier: %w", err)
		}
		suppliers = append(suppliers, name)
	}
	return suppliers, rows.Err()
}

// RenameSupplier rewrites from to to on every invoice and returns the count
func (r *InvoiceRepository) RenameSupplier(ctx context.Context, from, to string) (int64, error) {
	query := `UPDATE invoices SET supplier_name = ?, updated_at = ? WHERE supplier_name = ?`

	result, err := sqlite.GetExecutor(ctx, r.db).ExecContext(ctx, query, to, r.now(), from)
	if err != nil {
		r.logger.Error("Failed to rename supplier",
			zap.String("from", from),
			zap.String("to", to),
			zap.Error(err))
		return 0, fmt.Errorf("failed to rename supplier: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n, nil
}

// inTx runs fn on the context transaction, or on a new one when the caller
// did not start any, so multi-statement writes stay atomic
func (r *InvoiceRepository) inTx(ctx context.Context, fn func(ex sqlite.Executor) error) error {
	if tx := sqlite.TxFromContext(ctx); tx != nil {
		return fn(tx)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *InvoiceRepository) insertLines(ctx context.Context, ex sqlite.Executor, invoiceID string, lines []entity.LineItem) error {
	query := `
		INSERT INTO invoice_lines (
			invoice_id, position, description, supplier_ref, proof_code, logo, variant,
			quantity, unit_price, discount, net_amount
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	for i, line := range lines {
		_, err := ex.ExecContext(ctx, query,
			invoiceID,
			i,
			line.Description,
			line.SupplierRef,
			line.ProofCode,
			line.Logo,
			line.Variant,
			line.Quantity,
			line.UnitPrice,
			line.Discount,
			line.NetAmount,
		)
		if err != nil {
			r.logger.Error("Failed to insert invoice line",
				zap.String("invoice_id", invoiceID),
				zap.Int("position", i),
				zap.Error(err))
			return fmt.Errorf("failed to insert line %d: %w", i, err)
		}
	}
	return nil
}

func (r *InvoiceRepository) loadLines(ctx context.Context, ex sqlite.Executor, invoiceID string) ([]entity.LineItem, error) {
	query := `
		SELECT description, supplier_ref, proof_code, logo, variant,
			quantity, unit_price, discount, net_amount
		FROM invoice_lines
		WHERE invoice_id = ?
		ORDER BY position
	`

	rows, err := ex.QueryContext(ctx, query, invoiceID)
	if err != nil {
		r.logger.Error("Failed to load invoice lines", zap.String("invoice_id", invoiceID), zap.Error(err))
		return nil, fmt.Errorf("failed to load invoice lines: %w", err)
	}
	defer rows.Close()

	lines := []entity.LineItem{}
	for rows.Next() {
		var line entity.LineItem
		err := rows.Scan(
			&line.Description,
			&line.SupplierRef,
			&line.ProofCode,
			&line.Logo,
			&line.Variant,
			&line.Quantity,
			&line.UnitPrice,
			&line.Discount,
			&line.NetAmount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice line: %w", err)
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInvoice(row rowScanner) (*entity.Invoice, error) {
	var (
		invoice      entity.Invoice
		documentDate string
		deliveryDate sql.NullString
		preDiscount  sql.NullFloat64
		discount     sql.NullFloat64
		netAfter     sql.NullFloat64
		taxRate      sql.NullFloat64
	)

	err := row.Scan(
		&invoice.ID,
		&invoice.SupplierName,
		&invoice.DocumentNumber,
		&documentDate,
		&deliveryDate,
		&invoice.NetTotal,
		&invoice.TaxTotal,
		&invoice.GrossTotal,
		&preDiscount,
		&discount,
		&netAfter,
		&taxRate,
		&invoice.CreatedAt,
		&invoice.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if invoice.DocumentDate, err = parseDate(documentDate); err != nil {
		return nil, fmt.Errorf("invoice %s document_date: %w", invoice.ID, err)
	}
	if deliveryDate.Valid && deliveryDate.String != "" {
		d, err := parseDate(deliveryDate.String)
		if err != nil {
			return nil, fmt.Errorf("invoice %s delivery_date: %w", invoice.ID, err)
		}
		invoice.DeliveryDate = &d
	}

	invoice.Meta = entity.InvoiceMeta{
		PreDiscountLineSum: floatPtr(preDiscount),
		DocumentDiscount:   floatPtr(discount),
		NetAfterDiscount:   floatPtr(netAfter),
		TaxRate:            floatPtr(taxRate),
	}
	return &invoice, nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(entity.DateLayout)
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(entity.DateLayout, s)
}

func nullDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(entity.DateLayout), Valid: true}
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	return entity.Float(n.Float64)
}

var _ port.InvoiceRepository = (*InvoiceRepository)(nil)
