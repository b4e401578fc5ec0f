package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/invoice-reconciler/internal/application/service"
	"github.com/garyjia/invoice-reconciler/internal/domain/entity"
	"github.com/garyjia/invoice-reconciler/internal/domain/reconcile"
)

// xlsxContentType is the media type of exported workbooks
const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Handlers contains all HTTP request handlers
type Handlers struct {
	invoiceService service.InvoiceService
	version        string
	logger         Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(invoiceService service.InvoiceService, version string, logger Logger) *Handlers {
	return &Handlers{
		invoiceService: invoiceService,
		version:        version,
		logger:         logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// EngineResponse describes the reconciliation settings the editor displays
type EngineResponse struct {
	Tolerance      float64 `json:"tolerance"`
	DefaultTaxRate float64 `json:"default_tax_rate"`
}

// ListInvoicesRequest represents query parameters for listing invoices
type ListInvoicesRequest struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

// ValueRequest carries a single raw amount, e.g. "4,99", 4.99 or "20%"
type ValueRequest struct {
	Value interface{} `json:"value"`
}

// RenameSupplierRequest is the body of POST /api/suppliers/rename
type RenameSupplierRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// RenameSupplierResponse reports how many invoices were updated
type RenameSupplierResponse struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Renamed int64  `json:"renamed"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Version:   h.version,
		},
	})
}

// EngineSettings handles GET /api/engine
func (h *Handlers) EngineSettings(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: EngineResponse{
			Tolerance:      reconcile.Tolerance,
			DefaultTaxRate: reconcile.DefaultTaxRate,
		},
	})
}

// ListInvoices handles GET /api/invoices
func (h *Handlers) ListInvoices(c *gin.Context) {
	var req ListInvoicesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.badRequest(c, "invalid query parameters", err)
		return
	}

	page, err := h.invoiceService.ListInvoices(c.Request.Context(), req.Limit, req.Offset)
	if err != nil {
		h.fail(c, "Failed to list invoices", err)
		return
	}
	h.ok(c, page)
}

// IngestInvoice handles POST /api/invoices
func (h *Handlers) IngestInvoice(c *gin.Context) {
	var req service.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}

	result, err := h.invoiceService.IngestInvoice(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "Failed to ingest invoice", err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: result})
}

// GetInvoice handles GET /api/invoices/:id
func (h *Handlers) GetInvoice(c *gin.Context) {
	result, err := h.invoiceService.GetInvoice(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get invoice", err)
		return
	}
	h.ok(c, result)
}

// UpdateHeader handles PATCH /api/invoices/:id
func (h *Handlers) UpdateHeader(c *gin.Context) {
	var fields map[string]string
	if err := c.ShouldBindJSON(&fields); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}

	result, err := h.invoiceService.UpdateHeader(c.Request.Context(), c.Param("id"), fields)
	if err != nil {
		h.fail(c, "Failed to update invoice header", err)
		return
	}
	h.ok(c, result)
}

// DeleteInvoice handles DELETE /api/invoices/:id
func (h *Handlers) DeleteInvoice(c *gin.Context) {
	id := c.Param("id")
	if err := h.invoiceService.DeleteInvoice(c.Request.Context(), id); err != nil {
		h.fail(c, "Failed to delete invoice", err)
		return
	}
	h.ok(c, gin.H{"id": id})
}

// Recompute handles POST /api/invoices/:id/recompute
func (h *Handlers) Recompute(c *gin.Context) {
	result, err := h.invoiceService.Recompute(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to recompute invoice", err)
		return
	}
	h.ok(c, result)
}

// VerifyInvoice handles GET /api/invoices/:id/verification
func (h *Handlers) VerifyInvoice(c *gin.Context) {
	verification, err := h.invoiceService.VerifyInvoice(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to verify invoice", err)
		return
	}
	h.ok(c, verification)
}

// AddLine handles POST /api/invoices/:id/lines
func (h *Handlers) AddLine(c *gin.Context) {
	var line entity.LineItem
	if err := c.ShouldBindJSON(&line); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}

	result, err := h.invoiceService.AddLine(c.Request.Context(), c.Param("id"), line)
	if err != nil {
		h.fail(c, "Failed to add line", err)
		return
	}
	h.ok(c, result)
}

// EditLine handles PATCH /api/invoices/:id/lines/:index
func (h *Handlers) EditLine(c *gin.Context) {
	index, ok := h.lineIndex(c)
	if !ok {
		return
	}

	var fields map[string]interface{}
	if err := c.ShouldBindJSON(&fields); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}

	result, err := h.invoiceService.EditLine(c.Request.Context(), c.Param("id"), index, fields)
	if err != nil {
		h.fail(c, "Failed to edit line", err)
		return
	}
	h.ok(c, result)
}

// RemoveLine handles DELETE /api/invoices/:id/lines/:index
func (h *Handlers) RemoveLine(c *gin.Context) {
	index, ok := h.lineIndex(c)
	if !ok {
		return
	}

	result, err := h.invoiceService.RemoveLine(c.Request.Context(), c.Param("id"), index)
	if err != nil {
		h.fail(c, "Failed to remove line", err)
		return
	}
	h.ok(c, result)
}

// SetDocumentDiscount handles PUT /api/invoices/:id/discount
func (h *Handlers) SetDocumentDiscount(c *gin.Context) {
	value, ok := h.bindValue(c)
	if !ok {
		return
	}

	result, err := h.invoiceService.SetDocumentDiscount(c.Request.Context(), c.Param("id"), value)
	if err != nil {
		h.fail(c, "Failed to set document discount", err)
		return
	}
	h.ok(c, result)
}

// SetTaxRate handles PUT /api/invoices/:id/tax-rate
func (h *Handlers) SetTaxRate(c *gin.Context) {
	value, ok := h.bindValue(c)
	if !ok {
		return
	}

	result, err := h.invoiceService.SetTaxRate(c.Request.Context(), c.Param("id"), value)
	if err != nil {
		h.fail(c, "Failed to set tax rate", err)
		return
	}
	h.ok(c, result)
}

// ExportInvoice handles GET /api/invoices/:id/export
func (h *Handlers) ExportInvoice(c *gin.Context) {
	result, err := h.invoiceService.ExportInvoice(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to export invoice", err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.FileName))
	c.Data(http.StatusOK, xlsxContentType, result.Content)
}

// ListSuppliers handles GET /api/suppliers
func (h *Handlers) ListSuppliers(c *gin.Context) {
	suppliers, err := h.invoiceService.ListSuppliers(c.Request.Context())
	if err != nil {
		h.fail(c, "Failed to list suppliers", err)
		return
	}
	h.ok(c, suppliers)
}

// RenameSupplier handles POST /api/suppliers/rename
func (h *Handlers) RenameSupplier(c *gin.Context) {
	var req RenameSupplierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}

	n, err := h.invoiceService.RenameSupplier(c.Request.Context(), req.From, req.To)
	if err != nil {
		h.fail(c, "Failed to rename supplier", err)
		return
	}
	h.ok(c, RenameSupplierResponse{From: req.From, To: req.To, Renamed: n})
}

func (h *Handlers) lineIndex(c *gin.Context) (int, bool) {
	raw := c.Param("index")
	index, err := strconv.Atoi(raw)
	if err != nil {
		h.badRequest(c, "invalid line index", err)
		return 0, false
	}
	return index, true
}

func (h *Handlers) bindValue(c *gin.Context) (interface{}, bool) {
	var req ValueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return nil, false
	}
	if req.Value == nil {
		h.badRequest(c, "value is required", nil)
		return nil, false
	}
	return req.Value, true
}

func (h *Handlers) ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func (h *Handlers) badRequest(c *gin.Context, message string, err error) {
	if err != nil {
		h.logger.Error("Bad request", "path", c.FullPath(), "error", err)
	}
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: message})
}

// fail maps service errors to a status code. Client errors carry the error
// text; anything else is reported as an internal error.
func (h *Handlers) fail(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error(msg, "path", c.FullPath(), "id", c.Param("id"), "error", err)
		message = "internal server error"
	}
	c.JSON(status, Response{Success: false, Error: message})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvoiceNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvoiceExists):
		return http.StatusConflict
	case errors.Is(err, service.ErrExportUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, service.ErrInvalidInvoice),
		errors.Is(err, service.ErrInvalidSupplierName),
		errors.Is(err, reconcile.ErrLineIndexOutOfRange),
		errors.Is(err, reconcile.ErrUnknownField),
		errors.Is(err, reconcile.ErrInvalidDate),
		errors.Is(err, reconcile.ErrEmptyDescription):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
