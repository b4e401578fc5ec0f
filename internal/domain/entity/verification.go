package entity

// Verification is the discrepancy report comparing an invoice's declared
// totals with what its line set implies. Gaps are reported unclamped so a
// negative anomaly stays visible.
type Verification struct {
	LineSum             float64 `json:"line_sum"`
	DocumentDiscount    float64 `json:"document_discount"`
	ExpectedNet         float64 `json:"expected_net"`
	NetGap              float64 `json:"net_gap"`
	ExpectedGross       float64 `json:"expected_gross"`
	GrossGap            float64 `json:"gross_gap"`
	NetGapSignificant   bool    `json:"net_gap_significant"`
	GrossGapSignificant bool    `json:"gross_gap_significant"`
	IsConsistent        bool    `json:"is_consistent"`
}

// Status returns the indicator label shown next to an invoice
func (v Verification) Status() string {
	if v.IsConsistent {
		return "OK"
	}
	return "ANOMALY"
}
