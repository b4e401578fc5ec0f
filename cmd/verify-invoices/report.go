package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/garyjia/invoice-reconciler/internal/application/service"
)

// Summary counts the invoices seen by a report run
type Summary struct {
	Checked      int
	Inconsistent int
}

// report walks every stored invoice page by page and writes one row per
// invoice. With onlyAnomalies, consistent invoices are counted but not listed.
func report(ctx context.Context, svc service.InvoiceService, w io.Writer, pageSize int, onlyAnomalies bool) (Summary, error) {
	var sum Summary

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "ID\tSupplier\tDocument\tNet\tExpected net\tNet gap\tGross\tExpected gross\tGross gap\tStatus\t")

	for offset := 0; ; {
		page, err := svc.ListInvoices(ctx, pageSize, offset)
		if err != nil {
			return sum, fmt.Errorf("failed to list invoices at offset %d: %w", offset, err)
		}

		for _, item := range page.Items {
			inv, v := item.Invoice, item.Verification
			sum.Checked++
			if !v.IsConsistent {
				sum.Inconsistent++
			} else if onlyAnomalies {
				continue
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%s\t\n",
				inv.ID, inv.SupplierName, inv.DocumentNumber,
				inv.NetTotal, v.ExpectedNet, v.NetGap,
				inv.GrossTotal, v.ExpectedGross, v.GrossGap,
				v.Status())
		}

		offset += len(page.Items)
		if len(page.Items) == 0 || offset >= page.Total {
			break
		}
	}

	if err := tw.Flush(); err != nil {
		return sum, fmt.Errorf("failed to write report: %w", err)
	}
	fmt.Fprintf(w, "\n%d invoices checked, %d inconsistent\n", sum.Checked, sum.Inconsistent)
	return sum, nil
}
