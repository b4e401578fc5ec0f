package port

import (
	"context"

	"github.com/garyjia/invoice-reconciler/internal/domain/entity"
)

// InvoiceRepository defines persistence operations for Invoice and its lines.
// GetByID returns (nil, nil) when the invoice does not exist.
type InvoiceRepository interface {
	Create(ctx context.Context, invoice *entity.Invoice) error
	GetByID(ctx context.Context, id string) (*entity.Invoice, error)
	List(ctx context.Context, limit, offset int) ([]*entity.Invoice, error)
	Count(ctx context.Context) (int, error)
	// Update overwrites the header, totals and meta, and replaces all lines
	Update(ctx context.Context, invoice *entity.Invoice) error
	Delete(ctx context.Context, id string) error
	ListSuppliers(ctx context.Context) ([]string, error)
	// RenameSupplier rewrites the supplier name on every matching invoice and
	// returns the number of invoices changed
	RenameSupplier(ctx context.Context, from, to string) (int64, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
