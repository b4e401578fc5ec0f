package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/invoice-reconciler/internal/application/service"
	"github.com/garyjia/invoice-reconciler/internal/domain/entity"
	"github.com/garyjia/invoice-reconciler/internal/domain/reconcile"
)

type MockInvoiceService struct {
	mock.Mock
}

func (m *MockInvoiceService) result(args mock.Arguments) (*service.InvoiceResult, error) {
	if r := args.Get(0); r != nil {
		return r.(*service.InvoiceResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockInvoiceService) IngestInvoice(ctx context.Context, req service.IngestRequest) (*service.InvoiceResult, error) {
	return m.result(m.Called(ctx, req))
}

func (m *MockInvoiceService) GetInvoice(ctx context.Context, id string) (*service.InvoiceResult, error) {
	return m.result(m.Called(ctx, id))
}

func (m *MockInvoiceService) ListInvoices(ctx context.Context, limit, offset int) (*service.InvoicePage, error) {
	args := m.Called(ctx, limit, offset)
	if p := args.Get(0); p != nil {
		return p.(*service.InvoicePage), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockInvoiceService) DeleteInvoice(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockInvoiceService) Recompute(ctx context.Context, id string) (*service.InvoiceResult, error) {
	return m.result(m.Called(ctx, id))
}

func (m *MockInvoiceService) ApplyMutations(ctx context.Context, id string, mutations ...reconcile.Mutation) (*service.InvoiceResult, error) {
	return m.result(m.Called(ctx, id, mutations))
}

func (m *MockInvoiceService) AddLine(ctx context.Context, id string, line entity.LineItem) (*service.InvoiceResult, error) {
	return m.result(m.Called(ctx, id, line))
}

func (m *MockInvoiceService) RemoveLine(ctx context.Context, id string, index int) (*service.InvoiceResult, error) {
	return m.result(m.Called(ctx, id, index))
}

func (m *MockInvoiceService) EditLine(ctx context.Context, id string, index int, fields map[string]interface{}) (*service.InvoiceResult, error) {
	return m.result(m.Called(ctx, id, index, fields))
}

func (m *MockInvoiceService) SetDocumentDiscount(ctx context.Context, id string, value interface{}) (*service.InvoiceResult, error) {
	return m.result(m.Called(ctx, id, value))
}

func (m *MockInvoiceService) SetTaxRate(ctx context.Context, id string, value interface{}) (*service.InvoiceResult, error) {
	return m.result(m.Called(ctx, id, value))
}

func (m *MockInvoiceService) UpdateHeader(ctx context.Context, id string, fields map[string]string) (*service.InvoiceResult, error) {
	return m.result(m.Called(ctx, id, fields))
}

func (m *MockInvoiceService) VerifyInvoice(ctx context.Context, id string) (entity.Verification, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(entity.Verification), args.Error(1)
}

func (m *MockInvoiceService) ListSuppliers(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if s := args.Get(0); s != nil {
		return s.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockInvoiceService) RenameSupplier(ctx context.Context, from, to string) (int64, error) {
	args := m.Called(ctx, from, to)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockInvoiceService) ExportInvoice(ctx context.Context, id string) (*service.ExportResult, error) {
	args := m.Called(ctx, id)
	if r := args.Get(0); r != nil {
		return r.(*service.ExportResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

func newTestServer(svc service.InvoiceService) *Server {
	return NewServer(DefaultServerConfig(), svc, "test", nopLogger{})
}

func do(t *testing.T, s *Server, method, path string, body interface{}) (*httptest.ResponseRecorder, Response) {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	var resp Response
	if rec.Header().Get("Content-Type") != xlsxContentType {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	}
	return rec, resp
}

func sampleResult() *service.InvoiceResult {
	inv := &entity.Invoice{
		ID:         "inv-1",
		Lines:      []entity.LineItem{{Description: "Mug", Quantity: 1, UnitPrice: 10, NetAmount: 10}},
		NetTotal:   10,
		TaxTotal:   2,
		GrossTotal: 12,
	}
	return &service.InvoiceResult{Invoice: inv, Verification: reconcile.Verify(*inv)}
}

func TestHandlers_HealthAndEngine(t *testing.T) {
	s := newTestServer(new(MockInvoiceService))

	rec, resp := do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, "test", resp.Data.(map[string]interface{})["version"])

	rec, resp = do(t, s, http.MethodGet, "/api/engine", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, 0.05, data["tolerance"])
	assert.Equal(t, 0.2, data["default_tax_rate"])
}

func TestHandlers_ListInvoices(t *testing.T) {
	svc := new(MockInvoiceService)
	svc.On("ListInvoices", mock.Anything, 10, 20).
		Return(&service.InvoicePage{Items: []service.InvoiceResult{*sampleResult()}, Total: 21, Limit: 10, Offset: 20}, nil)
	s := newTestServer(svc)

	rec, resp := do(t, s, http.MethodGet, "/api/invoices?limit=10&offset=20", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(21), resp.Data.(map[string]interface{})["total"])

	rec, resp = do(t, s, http.MethodGet, "/api/invoices?limit=ten", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, resp.Success)

	svc.AssertExpectations(t)
}

func TestHandlers_IngestInvoice(t *testing.T) {
	svc := new(MockInvoiceService)
	svc.On("IngestInvoice", mock.Anything, mock.MatchedBy(func(req service.IngestRequest) bool {
		return req.SupplierName == "Acme" && len(req.Lines) == 1 && req.GrossTotal == 12
	})).Return(sampleResult(), nil).Once()
	svc.On("IngestInvoice", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("%w: inv-1", service.ErrInvoiceExists)).Once()
	s := newTestServer(svc)

	body := map[string]interface{}{
		"supplier_name": "Acme",
		"lines":         []map[string]interface{}{{"description": "Mug", "quantity": 1, "unit_price": 10, "net_amount": 10}},
		"net_total":     10,
		"tax_total":     2,
		"gross_total":   12,
	}

	rec, resp := do(t, s, http.MethodPost, "/api/invoices", body)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, resp.Success)

	rec, resp = do(t, s, http.MethodPost, "/api/invoices", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, resp.Error, "already exists")

	rec, _ = do(t, s, http.MethodPost, "/api/invoices", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.AssertExpectations(t)
}

func TestHandlers_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", fmt.Errorf("%w: x", service.ErrInvoiceNotFound), http.StatusNotFound},
		{"invalid invoice", fmt.Errorf("%w: bad date", service.ErrInvalidInvoice), http.StatusBadRequest},
		{"line index", fmt.Errorf("mutation 0: %w", reconcile.ErrLineIndexOutOfRange), http.StatusBadRequest},
		{"unknown field", fmt.Errorf("mutation 0: %w", reconcile.ErrUnknownField), http.StatusBadRequest},
		{"export unavailable", service.ErrExportUnavailable, http.StatusServiceUnavailable},
		{"storage failure", errors.New("database is locked"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := new(MockInvoiceService)
			svc.On("GetInvoice", mock.Anything, "x").Return(nil, tc.err)
			s := newTestServer(svc)

			rec, resp := do(t, s, http.MethodGet, "/api/invoices/x", nil)
			assert.Equal(t, tc.status, rec.Code)
			assert.False(t, resp.Success)
			if tc.status == http.StatusInternalServerError {
				assert.Equal(t, "internal server error", resp.Error)
			} else {
				assert.Equal(t, tc.err.Error(), resp.Error)
			}
		})
	}
}

func TestHandlers_LineEndpoints(t *testing.T) {
	svc := new(MockInvoiceService)
	svc.On("AddLine", mock.Anything, "inv-1", entity.LineItem{Description: "Pen", Quantity: 10, UnitPrice: 2.5}).
		Return(sampleResult(), nil)
	svc.On("EditLine", mock.Anything, "inv-1", 0, map[string]interface{}{"quantity": "3", "unit_price": 9.99}).
		Return(sampleResult(), nil)
	svc.On("RemoveLine", mock.Anything, "inv-1", 4).
		Return(nil, fmt.Errorf("mutation 0: %w", reconcile.ErrLineIndexOutOfRange))
	s := newTestServer(svc)

	rec, _ := do(t, s, http.MethodPost, "/api/invoices/inv-1/lines",
		map[string]interface{}{"description": "Pen", "quantity": 10, "unit_price": 2.5})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, s, http.MethodPatch, "/api/invoices/inv-1/lines/0",
		map[string]interface{}{"quantity": "3", "unit_price": 9.99})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, resp := do(t, s, http.MethodDelete, "/api/invoices/inv-1/lines/4", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, resp.Error, "line index out of range")

	rec, resp = do(t, s, http.MethodDelete, "/api/invoices/inv-1/lines/first", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid line index", resp.Error)

	svc.AssertExpectations(t)
}

func TestHandlers_DocumentAmounts(t *testing.T) {
	svc := new(MockInvoiceService)
	svc.On("SetDocumentDiscount", mock.Anything, "inv-1", "4,99").Return(sampleResult(), nil)
	svc.On("SetTaxRate", mock.Anything, "inv-1", 0.1).Return(sampleResult(), nil)
	s := newTestServer(svc)

	rec, _ := do(t, s, http.MethodPut, "/api/invoices/inv-1/discount", map[string]interface{}{"value": "4,99"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, s, http.MethodPut, "/api/invoices/inv-1/tax-rate", map[string]interface{}{"value": 0.1})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, resp := do(t, s, http.MethodPut, "/api/invoices/inv-1/tax-rate", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "value is required", resp.Error)

	svc.AssertExpectations(t)
}

func TestHandlers_HeaderRecomputeVerifyDelete(t *testing.T) {
	svc := new(MockInvoiceService)
	svc.On("UpdateHeader", mock.Anything, "inv-1", map[string]string{"supplier_name": "Globex"}).Return(sampleResult(), nil)
	svc.On("Recompute", mock.Anything, "inv-1").Return(sampleResult(), nil)
	svc.On("VerifyInvoice", mock.Anything, "inv-1").Return(entity.Verification{IsConsistent: false, NetGap: 10}, nil)
	svc.On("DeleteInvoice", mock.Anything, "inv-1").Return(nil)
	s := newTestServer(svc)

	rec, _ := do(t, s, http.MethodPatch, "/api/invoices/inv-1", map[string]string{"supplier_name": "Globex"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/api/invoices/inv-1/recompute", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, resp := do(t, s, http.MethodGet, "/api/invoices/inv-1/verification", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, false, data["is_consistent"])
	assert.Equal(t, float64(10), data["net_gap"])

	rec, _ = do(t, s, http.MethodDelete, "/api/invoices/inv-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	svc.AssertExpectations(t)
}

func TestHandlers_ExportInvoice(t *testing.T) {
	svc := new(MockInvoiceService)
	svc.On("ExportInvoice", mock.Anything, "inv-1").
		Return(&service.ExportResult{FileName: "invoice-F-001.xlsx", Content: []byte("PK")}, nil)
	s := newTestServer(svc)

	rec, _ := do(t, s, http.MethodGet, "/api/invoices/inv-1/export", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="invoice-F-001.xlsx"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "PK", rec.Body.String())
}

func TestHandlers_Suppliers(t *testing.T) {
	svc := new(MockInvoiceService)
	svc.On("ListSuppliers", mock.Anything).Return([]string{"Acme", "Globex"}, nil)
	svc.On("RenameSupplier", mock.Anything, "Acme", "Acme Corp").Return(int64(2), nil)
	svc.On("RenameSupplier", mock.Anything, "Acme", "").
		Return(int64(0), fmt.Errorf("%w: name is required", service.ErrInvalidSupplierName))
	s := newTestServer(svc)

	rec, resp := do(t, s, http.MethodGet, "/api/suppliers", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{"Acme", "Globex"}, resp.Data)

	rec, resp = do(t, s, http.MethodPost, "/api/suppliers/rename", RenameSupplierRequest{From: "Acme", To: "Acme Corp"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), resp.Data.(map[string]interface{})["renamed"])

	rec, _ = do(t, s, http.MethodPost, "/api/suppliers/rename", RenameSupplierRequest{From: "Acme"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.AssertExpectations(t)
}
