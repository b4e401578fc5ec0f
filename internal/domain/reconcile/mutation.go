package reconcile

import (
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/invoice-reconciler/internal/domain/entity"
)

// LineField names an editable line item field
type LineField string

const (
	LineFieldDescription LineField = "description"
	LineFieldSupplierRef LineField = "supplier_ref"
	LineFieldProofCode   LineField = "proof_code"
	LineFieldLogo        LineField = "logo"
	LineFieldVariant     LineField = "variant"
	LineFieldQuantity    LineField = "quantity"
	LineFieldUnitPrice   LineField = "unit_price"
	LineFieldDiscount    LineField = "discount"
)

// IsNumeric reports whether editing the field changes the line amount
func (f LineField) IsNumeric() bool {
	switch f {
	case LineFieldQuantity, LineFieldUnitPrice, LineFieldDiscount:
		return true
	default:
		return false
	}
}

// HeaderField names an editable document field
type HeaderField string

const (
	HeaderFieldSupplierName   HeaderField = "supplier_name"
	HeaderFieldDocumentNumber HeaderField = "document_number"
	HeaderFieldDocumentDate   HeaderField = "document_date"
	HeaderFieldDeliveryDate   HeaderField = "delivery_date"
)

// Mutation is one edit to an invoice. Mutations are only applied through
// Apply, which always finishes with a full recompute.
type Mutation interface {
	apply(inv *entity.Invoice) error
}

type mutationFunc func(inv *entity.Invoice) error

func (f mutationFunc) apply(inv *entity.Invoice) error { return f(inv) }

// Apply runs the mutations in order on a copy of inv and returns the
// recomputed copy. If any mutation fails, inv is returned unchanged together
// with the error, so a partially edited invoice is never observable.
func Apply(inv entity.Invoice, mutations ...Mutation) (entity.Invoice, error) {
	work := inv.Clone()
	for i, m := range mutations {
		if err := m.apply(&work); err != nil {
			return inv, fmt.Errorf("mutation %d: %w", i, err)
		}
	}
	return Recompute(work), nil
}

// AddLine appends a line with its net amount computed from its inputs
func AddLine(line entity.LineItem) Mutation {
	return mutationFunc(func(inv *entity.Invoice) error {
		if strings.TrimSpace(line.Description) == "" {
			return ErrEmptyDescription
		}
		inv.Lines = append(inv.Lines, RefreshLine(line))
		return nil
	})
}

// RemoveLine removes the line at index
func RemoveLine(index int) Mutation {
	return mutationFunc(func(inv *entity.Invoice) error {
		if err := checkIndex(inv, index); err != nil {
			return err
		}
		lines := make([]entity.LineItem, 0, len(inv.Lines)-1)
		lines = append(lines, inv.Lines[:index]...)
		inv.Lines = append(lines, inv.Lines[index+1:]...)
		return nil
	})
}

// EditLineField sets one field of the line at index. Numeric fields are
// coerced with ParseAmount and the line amount is recomputed before the
// document aggregates are.
func EditLineField(index int, field LineField, value any) Mutation {
	return mutationFunc(func(inv *entity.Invoice) error {
		if err := checkIndex(inv, index); err != nil {
			return err
		}
		line := inv.Lines[index]
		switch field {
		case LineFieldDescription:
			line.Description = textValue(value)
			if line.Description == "" {
				return ErrEmptyDescription
			}
		case LineFieldSupplierRef:
			line.SupplierRef = textValue(value)
		case LineFieldProofCode:
			line.ProofCode = textValue(value)
		case LineFieldLogo:
			line.Logo = textValue(value)
		case LineFieldVariant:
			line.Variant = textValue(value)
		case LineFieldQuantity:
			line.Quantity = ParseAmount(value)
		case LineFieldUnitPrice:
			line.UnitPrice = ParseAmount(value)
		case LineFieldDiscount:
			line.Discount = ParseAmount(value)
		default:
			return fmt.Errorf("%w: %q", ErrUnknownField, field)
		}
		if field.IsNumeric() {
			line = RefreshLine(line)
		}
		inv.Lines[index] = line
		return nil
	})
}

// SetDocumentDiscount sets the discount applied after summing lines.
// Unparsable or negative input becomes DefaultNumericFallback.
func SetDocumentDiscount(value any) Mutation {
	return mutationFunc(func(inv *entity.Invoice) error {
		discount := ParseAmount(value)
		if discount < 0 {
			discount = DefaultNumericFallback
		}
		inv.Meta.DocumentDiscount = entity.Float(discount)
		return nil
	})
}

// SetTaxRate stores the document tax rate as a fraction. "20%", "20" and
// 0.2 all read as 0.20: a bare number above 1 is taken as a percentage.
// Unparsable or negative input keeps the rate currently in effect.
func SetTaxRate(value any) Mutation {
	return mutationFunc(func(inv *entity.Invoice) error {
		current := ResolveTaxRate(*inv)
		rate := ParseAmountOr(value, current)
		switch {
		case rate < 0:
			rate = current
		case rate > 1 && !isPercentText(value):
			rate /= 100
		}
		inv.Meta.TaxRate = entity.Float(rate)
		return nil
	})
}

// EditHeader sets a document-level field. Dates use entity.DateLayout; an
// empty delivery date clears it.
func EditHeader(field HeaderField, value string) Mutation {
	return mutationFunc(func(inv *entity.Invoice) error {
		value = strings.TrimSpace(value)
		switch field {
		case HeaderFieldSupplierName:
			inv.SupplierName = value
		case HeaderFieldDocumentNumber:
			inv.DocumentNumber = value
		case HeaderFieldDocumentDate:
			d, err := time.Parse(entity.DateLayout, value)
			if err != nil {
				return fmt.Errorf("%w: %q", ErrInvalidDate, value)
			}
			inv.DocumentDate = d
		case HeaderFieldDeliveryDate:
			if value == "" {
				inv.DeliveryDate = nil
				return nil
			}
			d, err := time.Parse(entity.DateLayout, value)
			if err != nil {
				return fmt.Errorf("%w: %q", ErrInvalidDate, value)
			}
			inv.DeliveryDate = &d
		default:
			return fmt.Errorf("%w: %q", ErrUnknownField, field)
		}
		return nil
	})
}

func checkIndex(inv *entity.Invoice, index int) error {
	if index < 0 || index >= len(inv.Lines) {
		return fmt.Errorf("%w: %d (invoice has %d lines)", ErrLineIndexOutOfRange, index, len(inv.Lines))
	}
	return nil
}

func textValue(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(s)
	default:
		return strings.TrimSpace(fmt.Sprint(s))
	}
}
