package service

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/garyjia/invoice-reconciler/internal/application/dispatcher"
	"github.com/garyjia/invoice-reconciler/internal/application/port"
	"github.com/garyjia/invoice-reconciler/internal/domain/entity"
	"github.com/garyjia/invoice-reconciler/internal/domain/event"
	"github.com/garyjia/invoice-reconciler/internal/domain/reconcile"
	"github.com/garyjia/invoice-reconciler/pkg/utils"
	"github.com/google/uuid"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// IngestRequest is a supplier document as extracted by the upstream parser.
// Totals are the declared ones and are stored as given.
type IngestRequest struct {
	ID             string             `json:"id"`
	SupplierName   string             `json:"supplier_name"`
	DocumentNumber string             `json:"document_number"`
	DocumentDate   string             `json:"document_date"`
	DeliveryDate   string             `json:"delivery_date"`
	Lines          []entity.LineItem  `json:"lines"`
	NetTotal       float64            `json:"net_total"`
	TaxTotal       float64            `json:"tax_total"`
	GrossTotal     float64            `json:"gross_total"`
	Meta           entity.InvoiceMeta `json:"meta"`
}

// InvoiceResult pairs an invoice snapshot with its discrepancy report
type InvoiceResult struct {
	Invoice      *entity.Invoice     `json:"invoice"`
	Verification entity.Verification `json:"verification"`
}

// InvoicePage is one page of stored invoices
type InvoicePage struct {
	Items  []InvoiceResult `json:"items"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// ExportResult is a rendered invoice document
type ExportResult struct {
	FileName   string
	StoredPath string
	Content    []byte
}

// InvoiceService manages stored invoices. Every edit goes through
// reconcile.Apply so stored totals always match the line set.
type InvoiceService interface {
	IngestInvoice(ctx context.Context, req IngestRequest) (*InvoiceResult, error)
	GetInvoice(ctx context.Context, id string) (*InvoiceResult, error)
	ListInvoices(ctx context.Context, limit, offset int) (*InvoicePage, error)
	DeleteInvoice(ctx context.Context, id string) error

	Recompute(ctx context.Context, id string) (*InvoiceResult, error)
	ApplyMutations(ctx context.Context, id string, mutations ...reconcile.Mutation) (*InvoiceResult, error)
	AddLine(ctx context.Context, id string, line entity.LineItem) (*InvoiceResult, error)
	RemoveLine(ctx context.Context, id string, index int) (*InvoiceResult, error)
	EditLine(ctx context.Context, id string, index int, fields map[string]interface{}) (*InvoiceResult, error)
	SetDocumentDiscount(ctx context.Context, id string, value interface{}) (*InvoiceResult, error)
	SetTaxRate(ctx context.Context, id string, value interface{}) (*InvoiceResult, error)
	UpdateHeader(ctx context.Context, id string, fields map[string]string) (*InvoiceResult, error)

	VerifyInvoice(ctx context.Context, id string) (entity.Verification, error)

	ListSuppliers(ctx context.Context) ([]string, error)
	RenameSupplier(ctx context.Context, from, to string) (int64, error)

	ExportInvoice(ctx context.Context, id string) (*ExportResult, error)
}

type invoiceServiceImpl struct {
	repo       port.InvoiceRepository
	txManager  port.TransactionManager
	exporter   port.InvoiceExporter
	storage    port.FileStorage
	dispatcher dispatcher.Dispatcher
	logger     Logger
}

// NewInvoiceService creates a new InvoiceService. exporter, storage and
// disp may be nil: export is then unavailable, exports are not kept, and no
// events are published.
func NewInvoiceService(
	repo port.InvoiceRepository,
	txManager port.TransactionManager,
	exporter port.InvoiceExporter,
	storage port.FileStorage,
	disp dispatcher.Dispatcher,
	logger Logger,
) InvoiceService {
	return &invoiceServiceImpl{
		repo:       repo,
		txManager:  txManager,
		exporter:   exporter,
		storage:    storage,
		dispatcher: disp,
		logger:     logger,
	}
}

// IngestInvoice stores a parsed document verbatim. Declared totals are kept
// for audit and compared against the lines, never recomputed here.
func (s *invoiceServiceImpl) IngestInvoice(ctx context.Context, req IngestRequest) (*InvoiceResult, error) {
	inv, err := req.toInvoice()
	if err != nil {
		s.logger.Warn("Rejected invoice", "supplier_name", req.SupplierName, "error", err)
		return nil, err
	}
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		existing, err := s.repo.GetByID(txCtx, inv.ID)
		if err != nil {
			return fmt.Errorf("failed to check invoice: %w", err)
		}
		if existing != nil {
			return fmt.Errorf("%w: %s", ErrInvoiceExists, inv.ID)
		}
		return s.repo.Create(txCtx, inv)
	})
	if err != nil {
		s.logger.Error("Failed to ingest invoice", "invoice_id", inv.ID, "error", err)
		return nil, err
	}

	verification := reconcile.Verify(*inv)
	s.logger.Info("Invoice ingested",
		"invoice_id", inv.ID,
		"supplier_name", inv.SupplierName,
		"line_count", len(inv.Lines),
		"status", verification.Status(),
	)

	evt := event.NewEvent(event.TypeInvoiceIngested, inv.ID, map[string]interface{}{
		"supplier_name":   inv.SupplierName,
		"document_number": inv.DocumentNumber,
		"line_count":      len(inv.Lines),
		"consistent":      verification.IsConsistent,
	})
	s.publish(ctx, evt)
	s.reportDiscrepancy(ctx, inv, verification, evt.CorrelationID)

	return &InvoiceResult{Invoice: inv, Verification: verification}, nil
}

func (s *invoiceServiceImpl) GetInvoice(ctx context.Context, id string) (*InvoiceResult, error) {
	inv, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return &InvoiceResult{Invoice: inv, Verification: reconcile.Verify(*inv)}, nil
}

// ListInvoices returns a page of invoices, newest first. limit is clamped to
// [1, MaxPageSize] with DefaultPageSize for non-positive values.
func (s *invoiceServiceImpl) ListInvoices(ctx context.Context, limit, offset int) (*InvoicePage, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	total, err := s.repo.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count invoices: %w", err)
	}
	invoices, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}

	page := &InvoicePage{
		Items:  make([]InvoiceResult, 0, len(invoices)),
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}
	for _, inv := range invoices {
		page.Items = append(page.Items, InvoiceResult{Invoice: inv, Verification: reconcile.Verify(*inv)})
	}
	return page, nil
}

func (s *invoiceServiceImpl) DeleteInvoice(ctx context.Context, id string) error {
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if _, err := s.load(txCtx, id); err != nil {
			return err
		}
		return s.repo.Delete(txCtx, id)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Invoice deleted", "invoice_id", id)
	s.publish(ctx, event.NewEvent(event.TypeInvoiceDeleted, id, nil))
	return nil
}

func (s *invoiceServiceImpl) Recompute(ctx context.Context, id string) (*InvoiceResult, error) {
	return s.ApplyMutations(ctx, id)
}

// ApplyMutations loads the invoice, applies the mutations and saves the
// recomputed snapshot in one transaction. Nothing is saved if any mutation
// fails.
func (s *invoiceServiceImpl) ApplyMutations(ctx context.Context, id string, mutations ...reconcile.Mutation) (*InvoiceResult, error) {
	var updated entity.Invoice

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		current, err := s.load(txCtx, id)
		if err != nil {
			return err
		}
		updated, err = reconcile.Apply(*current, mutations...)
		if err != nil {
			return err
		}
		if err := s.repo.Update(txCtx, &updated); err != nil {
			return fmt.Errorf("failed to save invoice: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("Invoice edit rejected", "invoice_id", id, "mutations", len(mutations), "error", err)
		return nil, err
	}

	verification := reconcile.Verify(updated)
	s.logger.Info("Invoice recomputed",
		"invoice_id", id,
		"mutations", len(mutations),
		"net_total", updated.NetTotal,
		"tax_total", updated.TaxTotal,
		"gross_total", updated.GrossTotal,
	)

	evt := event.NewEvent(event.TypeInvoiceRecomputed, id, map[string]interface{}{
		"net_total":   updated.NetTotal,
		"tax_total":   updated.TaxTotal,
		"gross_total": updated.GrossTotal,
	})
	s.publish(ctx, evt)
	s.reportDiscrepancy(ctx, &updated, verification, evt.CorrelationID)

	return &InvoiceResult{Invoice: &updated, Verification: verification}, nil
}

func (s *invoiceServiceImpl) AddLine(ctx context.Context, id string, line entity.LineItem) (*InvoiceResult, error) {
	line.Description = utils.SanitizeString(line.Description)
	return s.ApplyMutations(ctx, id, reconcile.AddLine(line))
}

func (s *invoiceServiceImpl) RemoveLine(ctx context.Context, id string, index int) (*InvoiceResult, error) {
	return s.ApplyMutations(ctx, id, reconcile.RemoveLine(index))
}

// EditLine sets several fields of one line at once. Fields are applied in
// name order; an unknown field rejects the whole edit.
func (s *invoiceServiceImpl) EditLine(ctx context.Context, id string, index int, fields map[string]interface{}) (*InvoiceResult, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no fields to update", ErrInvalidInvoice)
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	mutations := make([]reconcile.Mutation, 0, len(names))
	for _, name := range names {
		mutations = append(mutations, reconcile.EditLineField(index, reconcile.LineField(name), fields[name]))
	}
	return s.ApplyMutations(ctx, id, mutations...)
}

func (s *invoiceServiceImpl) SetDocumentDiscount(ctx context.Context, id string, value interface{}) (*InvoiceResult, error) {
	return s.ApplyMutations(ctx, id, reconcile.SetDocumentDiscount(value))
}

func (s *invoiceServiceImpl) SetTaxRate(ctx context.Context, id string, value interface{}) (*InvoiceResult, error) {
	return s.ApplyMutations(ctx, id, reconcile.SetTaxRate(value))
}

// UpdateHeader edits document-level fields. The supplier name is validated
// the same way as at ingestion.
func (s *invoiceServiceImpl) UpdateHeader(ctx context.Context, id string, fields map[string]string) (*InvoiceResult, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no fields to update", ErrInvalidInvoice)
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	mutations := make([]reconcile.Mutation, 0, len(names))
	for _, name := range names {
		value := utils.SanitizeString(fields[name])
		switch reconcile.HeaderField(name) {
		case reconcile.HeaderFieldSupplierName:
			if err := utils.ValidateSupplierName(value); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidSupplierName, err)
			}
		case reconcile.HeaderFieldDocumentNumber:
			if err := utils.ValidateDocumentNumber(value); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidInvoice, err)
			}
		}
		mutations = append(mutations, reconcile.EditHeader(reconcile.HeaderField(name), value))
	}
	return s.ApplyMutations(ctx, id, mutations...)
}

func (s *invoiceServiceImpl) VerifyInvoice(ctx context.Context, id string) (entity.Verification, error) {
	inv, err := s.load(ctx, id)
	if err != nil {
		return entity.Verification{}, err
	}
	return reconcile.Verify(*inv), nil
}

func (s *invoiceServiceImpl) ListSuppliers(ctx context.Context) ([]string, error) {
	suppliers, err := s.repo.ListSuppliers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list suppliers: %w", err)
	}
	return suppliers, nil
}

// RenameSupplier propagates a corrected supplier name to every stored
// invoice. Totals are untouched.
func (s *invoiceServiceImpl) RenameSupplier(ctx context.Context, from, to string) (int64, error) {
	from = utils.SanitizeString(from)
	to = utils.SanitizeString(to)
	if from == "" {
		return 0, fmt.Errorf("%w: current name is required", ErrInvalidSupplierName)
	}
	if err := utils.ValidateSupplierName(to); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidSupplierName, err)
	}
	if from == to {
		return 0, nil
	}

	var renamed int64
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		n, err := s.repo.RenameSupplier(txCtx, from, to)
		renamed = n
		return err
	})
	if err != nil {
		s.logger.Error("Failed to rename supplier", "from", from, "to", to, "error", err)
		return 0, err
	}

	s.logger.Info("Supplier renamed", "from", from, "to", to, "invoices", renamed)
	s.publish(ctx, event.NewEvent(event.TypeSupplierRenamed, "", map[string]interface{}{
		"from":     from,
		"to":       to,
		"invoices": renamed,
	}))
	return renamed, nil
}

// ExportInvoice renders the invoice with its verification block and keeps a
// copy in file storage under the invoice ID.
func (s *invoiceServiceImpl) ExportInvoice(ctx context.Context, id string) (*ExportResult, error) {
	if s.exporter == nil {
		return nil, ErrExportUnavailable
	}

	inv, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	verification := reconcile.Verify(*inv)

	content, err := s.exporter.Export(inv, verification)
	if err != nil {
		s.logger.Error("Failed to export invoice", "invoice_id", id, "error", err)
		return nil, fmt.Errorf("failed to export invoice: %w", err)
	}

	result := &ExportResult{
		FileName: exportFileName(inv) + s.exporter.Extension(),
		Content:  content,
	}

	if s.storage != nil {
		rel := path.Join(inv.ID, result.FileName)
		if err := s.storage.Save(ctx, rel, content); err != nil {
			s.logger.Error("Failed to store export", "invoice_id", id, "path", rel, "error", err)
			return nil, fmt.Errorf("failed to store export: %w", err)
		}
		result.StoredPath = s.storage.GetFullPath(rel)
	}

	s.logger.Info("Invoice exported", "invoice_id", id, "file", result.FileName, "bytes", len(content))
	s.publish(ctx, event.NewEvent(event.TypeInvoiceExported, id, map[string]interface{}{
		"file_name":   result.FileName,
		"stored_path": result.StoredPath,
		"status":      verification.Status(),
	}))
	return result, nil
}

func (s *invoiceServiceImpl) load(ctx context.Context, id string) (*entity.Invoice, error) {
	inv, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load invoice: %w", err)
	}
	if inv == nil {
		return nil, fmt.Errorf("%w: %s", ErrInvoiceNotFound, id)
	}
	return inv, nil
}

func (s *invoiceServiceImpl) reportDiscrepancy(ctx context.Context, inv *entity.Invoice, v entity.Verification, correlationID string) {
	if v.IsConsistent {
		return
	}

	s.logger.Warn("Invoice totals do not match its lines",
		"invoice_id", inv.ID,
		"supplier_name", inv.SupplierName,
		"net_gap", v.NetGap,
		"gross_gap", v.GrossGap,
	)
	s.publish(ctx, event.NewEventWithCorrelation(event.TypeDiscrepancyDetected, inv.ID, map[string]interface{}{
		"supplier_name":         inv.SupplierName,
		"document_number":       inv.DocumentNumber,
		"line_sum":              v.LineSum,
		"expected_net":          v.ExpectedNet,
		"declared_net":          inv.NetTotal,
		"net_gap":               v.NetGap,
		"expected_gross":        v.ExpectedGross,
		"declared_gross":        inv.GrossTotal,
		"gross_gap":             v.GrossGap,
		"net_gap_significant":   v.NetGapSignificant,
		"gross_gap_significant": v.GrossGapSignificant,
	}, correlationID))
}

// publish dispatches synchronously. The change is already committed, so a
// failing handler is logged and does not fail the operation.
func (s *invoiceServiceImpl) publish(ctx context.Context, evt *event.Event) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Dispatch(ctx, evt); err != nil {
		s.logger.Warn("Event handler failed",
			"event_type", evt.Type,
			"invoice_id", evt.InvoiceID,
			"error", err,
		)
	}
}

func (r IngestRequest) toInvoice() (*entity.Invoice, error) {
	supplier := utils.SanitizeString(r.SupplierName)
	if err := utils.ValidateSupplierName(supplier); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSupplierName, err)
	}
	number := utils.SanitizeString(r.DocumentNumber)
	if err := utils.ValidateDocumentNumber(number); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInvoice, err)
	}

	inv := &entity.Invoice{
		ID:             strings.TrimSpace(r.ID),
		SupplierName:   supplier,
		DocumentNumber: number,
		Lines:          make([]entity.LineItem, len(r.Lines)),
		NetTotal:       r.NetTotal,
		TaxTotal:       r.TaxTotal,
		GrossTotal:     r.GrossTotal,
		Meta:           r.Meta.Clone(),
	}

	if r.DocumentDate != "" {
		d, err := time.Parse(entity.DateLayout, strings.TrimSpace(r.DocumentDate))
		if err != nil {
			return nil, fmt.Errorf("%w: document_date %q: %v", ErrInvalidInvoice, r.DocumentDate, reconcile.ErrInvalidDate)
		}
		inv.DocumentDate = d
	}
	if r.DeliveryDate != "" {
		d, err := time.Parse(entity.DateLayout, strings.TrimSpace(r.DeliveryDate))
		if err != nil {
			return nil, fmt.Errorf("%w: delivery_date %q: %v", ErrInvalidInvoice, r.DeliveryDate, reconcile.ErrInvalidDate)
		}
		inv.DeliveryDate = &d
	}

	for i, line := range r.Lines {
		line.Description = utils.SanitizeString(line.Description)
		if line.Description == "" {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidInvoice, i, reconcile.ErrEmptyDescription)
		}
		inv.Lines[i] = line
	}
	return inv, nil
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// exportFileName derives a filesystem-safe base name from the document number
func exportFileName(inv *entity.Invoice) string {
	base := strings.Trim(unsafeFileChars.ReplaceAllString(inv.DocumentNumber, "_"), "._")
	if base == "" {
		base = inv.ID
	}
	return "invoice-" + base
}
