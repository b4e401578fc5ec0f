package export

import (
	"fmt"

	"github.com/garyjia/invoice-reconciler/internal/application/port"
	"github.com/garyjia/invoice-reconciler/internal/domain/entity"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// SheetName is the name of the single sheet of exported workbooks
const SheetName = "Invoice"

// LineHeaders are the column titles of the line table
var LineHeaders = []string{
	"Description", "Supplier ref", "Proof code", "Logo", "Variant",
	"Quantity", "Unit price", "Discount", "Net amount",
}

// Built-in excelize number format "#,##0.00"
const amountNumFmt = 4

// WorkbookExporter renders an invoice and its discrepancy report as an xlsx
// workbook: header block, line table, totals, then the verification block.
type WorkbookExporter struct {
	logger *zap.Logger
}

// NewWorkbookExporter creates a new WorkbookExporter
func NewWorkbookExporter(logger *zap.Logger) *WorkbookExporter {
	return &WorkbookExporter{logger: logger}
}

// Extension returns the extension of produced files
func (e *WorkbookExporter) Extension() string {
	return ".xlsx"
}

// Export builds the workbook in memory and returns its bytes
func (e *WorkbookExporter) Export(invoice *entity.Invoice, verification entity.Verification) ([]byte, error) {
	if invoice == nil {
		return nil, fmt.Errorf("invoice is nil")
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}

	amountStyle, err := f.NewStyle(&excelize.Style{NumFmt: amountNumFmt})
	if err != nil {
		return nil, fmt.Errorf("failed to create amount style: %w", err)
	}
	boldStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	w := &sheetWriter{f: f, row: 1}

	w.pair("Supplier", invoice.SupplierName)
	w.pair("Document number", invoice.DocumentNumber)
	w.pair("Document date", formatDocumentDate(invoice))
	w.pair("Delivery date", entity.FormatDate(invoice.DeliveryDate))
	w.skip()

	headerRow := w.row
	w.values(toAny(LineHeaders)...)
	w.style(headerRow, 1, len(LineHeaders), boldStyle)

	firstLine := w.row
	for _, line := range invoice.Lines {
		w.values(line.Description, line.SupplierRef, line.ProofCode, line.Logo, line.Variant,
			line.Quantity, line.UnitPrice, line.Discount, line.NetAmount)
	}
	if len(invoice.Lines) > 0 {
		w.style(firstLine, 7, len(LineHeaders), amountStyle, w.row-1)
	}
	w.skip()

	totalsStart := w.row
	w.pair("Net total", invoice.NetTotal)
	w.pair("Tax total", invoice.TaxTotal)
	w.pair("Gross total", invoice.GrossTotal)
	w.pair("Document discount", verification.DocumentDiscount)
	if invoice.Meta.TaxRate != nil {
		w.pair("Tax rate", *invoice.Meta.TaxRate)
	}
	w.style(totalsStart, 2, 2, amountStyle, totalsStart+3)
	w.skip()

	statusRow := w.row
	w.pair("Status", verification.Status())
	w.style(statusRow, 1, 2, boldStyle)
	checksStart := w.row
	w.pair("Line sum", verification.LineSum)
	w.pair("Expected net", verification.ExpectedNet)
	w.pair("Net gap", verification.NetGap)
	w.pair("Expected gross", verification.ExpectedGross)
	w.pair("Gross gap", verification.GrossGap)
	w.style(checksStart, 2, 2, amountStyle, w.row-1)

	if w.err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", w.err)
	}

	if err := f.SetColWidth(SheetName, "A", "A", 28); err != nil {
		e.logger.Warn("Failed to set column width", zap.Error(err))
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize workbook: %w", err)
	}

	e.logger.Debug("Invoice workbook rendered",
		zap.String("invoice_id", invoice.ID),
		zap.Int("lines", len(invoice.Lines)),
		zap.Int("size", buf.Len()))

	return buf.Bytes(), nil
}

func formatDocumentDate(invoice *entity.Invoice) string {
	if invoice.DocumentDate.IsZero() {
		return ""
	}
	return invoice.DocumentDate.Format(entity.DateLayout)
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// sheetWriter appends rows to SheetName and keeps the first error
type sheetWriter struct {
	f   *excelize.File
	row int
	err error
}

func (w *sheetWriter) values(values ...any) {
	if w.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(1, w.row)
	if err != nil {
		w.err = err
		return
	}
	if err := w.f.SetSheetRow(SheetName, cell, &values); err != nil {
		w.err = err
		return
	}
	w.row++
}

func (w *sheetWriter) pair(label string, value any) {
	w.values(label, value)
}

func (w *sheetWriter) skip() {
	w.row++
}

// style applies styleID to columns fromCol..toCol of row, or of rows
// row..lastRow when lastRow is given
func (w *sheetWriter) style(row, fromCol, toCol, styleID int, lastRow ...int) {
	if w.err != nil {
		return
	}
	endRow := row
	if len(lastRow) > 0 {
		endRow = lastRow[0]
	}
	start, err := excelize.CoordinatesToCellName(fromCol, row)
	if err != nil {
		w.err = err
		return
	}
	end, err := excelize.CoordinatesToCellName(toCol, endRow)
	if err != nil {
		w.err = err
		return
	}
	w.err = w.f.SetCellStyle(SheetName, start, end, styleID)
}

var _ port.InvoiceExporter = (*WorkbookExporter)(nil)
