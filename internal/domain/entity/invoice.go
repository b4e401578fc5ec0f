package entity

import "time"

// DateLayout is the calendar date format used for document and delivery dates
const DateLayout = "2006-01-02"

// Invoice represents one supplier document and its financial aggregates.
// NetTotal, TaxTotal and GrossTotal are derived values; they are only
// recomputed through the reconcile package.
type Invoice struct {
	ID             string      `json:"id"`
	SupplierName   string      `json:"supplier_name"`
	DocumentNumber string      `json:"document_number"`
	DocumentDate   time.Time   `json:"document_date"`
	DeliveryDate   *time.Time  `json:"delivery_date,omitempty"`
	Lines          []LineItem  `json:"lines"`
	NetTotal       float64     `json:"net_total"`
	TaxTotal       float64     `json:"tax_total"`
	GrossTotal     float64     `json:"gross_total"`
	Meta           InvoiceMeta `json:"meta"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// LineItem represents one purchased product or service line
type LineItem struct {
	Description string  `json:"description"`
	SupplierRef string  `json:"supplier_ref,omitempty"` // Supplier article reference
	ProofCode   string  `json:"proof_code,omitempty"`   // Proof / approval code
	Logo        string  `json:"logo,omitempty"`
	Variant     string  `json:"variant,omitempty"` // Variant or color
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"` // Before tax
	Discount    float64 `json:"discount"`   // Absolute amount, not a percentage
	NetAmount   float64 `json:"net_amount"` // Derived: max(0, Quantity*UnitPrice - Discount)
}

// InvoiceMeta carries the raw and derived parsing data that makes a document
// discount and a tax rate sticky across partial edits. A nil field means the
// value is unknown and the engine default applies.
type InvoiceMeta struct {
	PreDiscountLineSum *float64 `json:"pre_discount_line_sum,omitempty"`
	DocumentDiscount   *float64 `json:"document_discount,omitempty"`
	NetAfterDiscount   *float64 `json:"net_after_discount,omitempty"`
	TaxRate            *float64 `json:"tax_rate,omitempty"` // Fraction, 0.20 = 20%
}

// Clone returns a deep copy of the invoice so callers can hand out snapshots
// without sharing line slices or meta pointers.
func (i Invoice) Clone() Invoice {
	out := i
	if i.Lines != nil {
		out.Lines = make([]LineItem, len(i.Lines))
		copy(out.Lines, i.Lines)
	}
	if i.DeliveryDate != nil {
		d := *i.DeliveryDate
		out.DeliveryDate = &d
	}
	out.Meta = i.Meta.Clone()
	return out
}

// Clone returns a copy of the meta with its own pointers
func (m InvoiceMeta) Clone() InvoiceMeta {
	return InvoiceMeta{
		PreDiscountLineSum: copyFloat(m.PreDiscountLineSum),
		DocumentDiscount:   copyFloat(m.DocumentDiscount),
		NetAfterDiscount:   copyFloat(m.NetAfterDiscount),
		TaxRate:            copyFloat(m.TaxRate),
	}
}

// Float returns a pointer to v, for filling optional meta fields.
func Float(v float64) *float64 {
	return &v
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// FormatDate formats an optional date, returning "" for nil
func FormatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(DateLayout)
}
