package reconcile

import (
	"github.com/garyjia/invoice-reconciler/internal/domain/entity"
	"github.com/shopspring/decimal"
)

// ComputeLineAmount returns max(0, quantity*unitPrice - discount).
// A discount larger than the line value clamps to zero: a line never
// contributes negative value, the excess surfaces as a document discrepancy
// instead. No rounding happens here; only the tax step rounds.
func ComputeLineAmount(quantity, unitPrice, discount float64) float64 {
	return lineAmount(dec(quantity), dec(unitPrice), dec(discount)).InexactFloat64()
}

func lineAmount(quantity, unitPrice, discount decimal.Decimal) decimal.Decimal {
	return decimal.Max(decimal.Zero, quantity.Mul(unitPrice).Sub(discount))
}

// RefreshLine returns a copy of line with NetAmount recomputed
func RefreshLine(line entity.LineItem) entity.LineItem {
	line.NetAmount = ComputeLineAmount(line.Quantity, line.UnitPrice, line.Discount)
	return line
}
