package event

// Type identifies the type of domain event
type Type string

const (
	TypeInvoiceIngested     Type = "invoice.ingested"
	TypeInvoiceRecomputed   Type = "invoice.recomputed"
	TypeDiscrepancyDetected Type = "invoice.discrepancy_detected"
	TypeInvoiceDeleted      Type = "invoice.deleted"
	TypeInvoiceExported     Type = "invoice.exported"
	TypeSupplierRenamed     Type = "supplier.renamed"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeInvoiceIngested,
		TypeInvoiceRecomputed,
		TypeDiscrepancyDetected,
		TypeInvoiceDeleted,
		TypeInvoiceExported,
		TypeSupplierRenamed:
		return true
	default:
		return false
	}
}
