package port

import "github.com/garyjia/invoice-reconciler/internal/domain/entity"

// InvoiceExporter renders an invoice and its verification into a document
type InvoiceExporter interface {
	Export(invoice *entity.Invoice, verification entity.Verification) ([]byte, error)
	// Extension is the file extension of produced documents, including the dot
	Extension() string
}
