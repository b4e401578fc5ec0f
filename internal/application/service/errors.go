package service

import "errors"

var (
	ErrInvoiceNotFound     = errors.New("invoice not found")
	ErrInvoiceExists       = errors.New("invoice already exists")
	ErrInvalidInvoice      = errors.New("invalid invoice")
	ErrInvalidSupplierName = errors.New("invalid supplier name")
	ErrExportUnavailable   = errors.New("export is not configured")
)
