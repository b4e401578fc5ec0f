package reconcile

import (
	"github.com/garyjia/invoice-reconciler/internal/domain/entity"
	"github.com/shopspring/decimal"
)

// Verify compares the declared totals of inv with what its lines imply.
// It never mutates inv and never recomputes: declared totals may come from
// the paper document and must stay visible when they disagree.
//
// The net expectation is not clamped at zero, so a discount exceeding the
// line sum shows up as a negative expected net.
func Verify(inv entity.Invoice) entity.Verification {
	lineSum := sumLines(inv.Lines)
	discount := documentDiscount(inv.Meta)
	net := dec(inv.NetTotal)
	tax := dec(inv.TaxTotal)

	expectedNet := lineSum.Sub(discount)
	netGap := expectedNet.Sub(net)
	expectedGross := net.Add(tax)
	grossGap := expectedGross.Sub(dec(inv.GrossTotal))

	netSignificant := significant(netGap)
	grossSignificant := significant(grossGap)

	return entity.Verification{
		LineSum:             lineSum.InexactFloat64(),
		DocumentDiscount:    discount.InexactFloat64(),
		ExpectedNet:         expectedNet.InexactFloat64(),
		NetGap:              netGap.InexactFloat64(),
		ExpectedGross:       expectedGross.InexactFloat64(),
		GrossGap:            grossGap.InexactFloat64(),
		NetGapSignificant:   netSignificant,
		GrossGapSignificant: grossSignificant,
		IsConsistent:        !netSignificant && !grossSignificant,
	}
}

func significant(gap decimal.Decimal) bool {
	return gap.Abs().GreaterThan(tolerance)
}
