// Package reconcile keeps an invoice's derived amounts consistent with its
// line set and reports discrepancies against declared totals.
//
// Every function here is pure: it takes an invoice snapshot by value and
// returns a new snapshot. Callers editing the same invoice concurrently must
// sequence their calls so each recompute sees the previous result.
package reconcile

import (
	"github.com/garyjia/invoice-reconciler/internal/domain/entity"
	"github.com/shopspring/decimal"
)

const (
	// DefaultTaxRate applies when no rate is stored and none can be inferred
	DefaultTaxRate = 0.20

	// Tolerance is the largest absolute gap, in currency units, that still
	// counts as consistent. The comparison is strict: a gap of exactly
	// Tolerance passes.
	Tolerance = 0.05

	// taxPlaces is the number of decimal places the tax total is rounded to
	taxPlaces = 2
)

var (
	defaultTaxRate = decimal.NewFromFloat(DefaultTaxRate)
	tolerance      = decimal.NewFromFloat(Tolerance)
)

// Recompute derives NetTotal, TaxTotal and GrossTotal from the current lines,
// document discount and tax rate, and writes the inputs it used back into
// Meta so later partial edits recover the same discount and rate.
//
// Line amounts are summed as stored; mutations refresh them beforehand.
func Recompute(inv entity.Invoice) entity.Invoice {
	out := inv.Clone()

	lineSum := sumLines(out.Lines)
	discount := documentDiscount(out.Meta)
	net := decimal.Max(decimal.Zero, lineSum.Sub(discount))
	rate := resolveTaxRate(out)
	tax := net.Mul(rate).Round(taxPlaces)

	out.NetTotal = net.InexactFloat64()
	out.TaxTotal = tax.InexactFloat64()
	out.GrossTotal = net.Add(tax).InexactFloat64()

	out.Meta.PreDiscountLineSum = entity.Float(lineSum.InexactFloat64())
	out.Meta.DocumentDiscount = entity.Float(discount.InexactFloat64())
	out.Meta.NetAfterDiscount = entity.Float(out.NetTotal)
	out.Meta.TaxRate = entity.Float(rate.InexactFloat64())

	return out
}

// ResolveTaxRate returns the rate Recompute would apply to inv
func ResolveTaxRate(inv entity.Invoice) float64 {
	return resolveTaxRate(inv).InexactFloat64()
}

// resolveTaxRate prefers the stored rate, then infers one from the previously
// stored totals, then falls back to the default. A zero prior net total would
// make the inference undefined, so it falls through to the default.
func resolveTaxRate(inv entity.Invoice) decimal.Decimal {
	if rate, ok := optionalDec(inv.Meta.TaxRate); ok {
		return rate
	}
	priorNet := dec(inv.NetTotal)
	if priorNet.IsPositive() {
		return dec(inv.TaxTotal).Div(priorNet)
	}
	return defaultTaxRate
}

func sumLines(lines []entity.LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, line := range lines {
		sum = sum.Add(dec(line.NetAmount))
	}
	return sum
}

// documentDiscount is a deduction: a negative stored value counts as none
func documentDiscount(meta entity.InvoiceMeta) decimal.Decimal {
	if d, ok := optionalDec(meta.DocumentDiscount); ok {
		return decimal.Max(decimal.Zero, d)
	}
	return decimal.Zero
}
