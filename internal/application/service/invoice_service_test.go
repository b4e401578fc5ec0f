package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/garyjia/invoice-reconciler/internal/application/dispatcher"
	"github.com/garyjia/invoice-reconciler/internal/domain/entity"
	"github.com/garyjia/invoice-reconciler/internal/domain/event"
	"github.com/garyjia/invoice-reconciler/internal/domain/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockInvoiceRepository mocks port.InvoiceRepository
type MockInvoiceRepository struct {
	mock.Mock
}

func (m *MockInvoiceRepository) Create(ctx context.Context, invoice *entity.Invoice) error {
	return m.Called(ctx, invoice).Error(0)
}

func (m *MockInvoiceRepository) GetByID(ctx context.Context, id string) (*entity.Invoice, error) {
	args := m.Called(ctx, id)
	inv, _ := args.Get(0).(*entity.Invoice)
	return inv, args.Error(1)
}

func (m *MockInvoiceRepository) List(ctx context.Context, limit, offset int) ([]*entity.Invoice, error) {
	args := m.Called(ctx, limit, offset)
	invoices, _ := args.Get(0).([]*entity.Invoice)
	return invoices, args.Error(1)
}

func (m *MockInvoiceRepository) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockInvoiceRepository) Update(ctx context.Context, invoice *entity.Invoice) error {
	return m.Called(ctx, invoice).Error(0)
}

func (m *MockInvoiceRepository) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockInvoiceRepository) ListSuppliers(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	suppliers, _ := args.Get(0).([]string)
	return suppliers, args.Error(1)
}

func (m *MockInvoiceRepository) RenameSupplier(ctx context.Context, from, to string) (int64, error) {
	args := m.Called(ctx, from, to)
	return args.Get(0).(int64), args.Error(1)
}

// MockExporter mocks port.InvoiceExporter
type MockExporter struct {
	mock.Mock
}

func (m *MockExporter) Export(invoice *entity.Invoice, verification entity.Verification) ([]byte, error) {
	args := m.Called(invoice, verification)
	content, _ := args.Get(0).([]byte)
	return content, args.Error(1)
}

func (m *MockExporter) Extension() string { return ".xlsx" }

// MockFileStorage mocks port.FileStorage
type MockFileStorage struct {
	mock.Mock
}

func (m *MockFileStorage) Save(ctx context.Context, path string, content []byte) error {
	return m.Called(ctx, path, content).Error(0)
}

func (m *MockFileStorage) Read(ctx context.Context, path string) ([]byte, error) {
	args := m.Called(ctx, path)
	content, _ := args.Get(0).([]byte)
	return content, args.Error(1)
}

func (m *MockFileStorage) Exists(ctx context.Context, path string) bool {
	return m.Called(ctx, path).Bool(0)
}

func (m *MockFileStorage) Delete(ctx context.Context, path string) error {
	return m.Called(ctx, path).Error(0)
}

func (m *MockFileStorage) GetFullPath(relativePath string) string {
	return "/exports/" + relativePath
}

// passthroughTx runs fn directly, counting transactions
type passthroughTx struct {
	calls int
}

func (p *passthroughTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	p.calls++
	return fn(ctx)
}

type nopLogger struct{}

func (nopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Warn(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Error(msg string, keysAndValues ...interface{}) {}

// eventRecorder collects dispatched event types
type eventRecorder struct {
	mu     sync.Mutex
	events []*event.Event
}

func (r *eventRecorder) subscribe(d dispatcher.Dispatcher, types ...event.Type) {
	for _, typ := range types {
		d.Subscribe(typ, func(ctx context.Context, evt *event.Event) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, evt)
			return nil
		})
	}
}

func (r *eventRecorder) types() []event.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

type serviceFixture struct {
	repo     *MockInvoiceRepository
	tx       *passthroughTx
	exporter *MockExporter
	storage  *MockFileStorage
	events   *eventRecorder
	svc      InvoiceService
}

func newFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		repo:     new(MockInvoiceRepository),
		tx:       &passthroughTx{},
		exporter: new(MockExporter),
		storage:  new(MockFileStorage),
		events:   &eventRecorder{},
	}
	disp := dispatcher.NewDispatcher()
	f.events.subscribe(disp,
		event.TypeInvoiceIngested,
		event.TypeInvoiceRecomputed,
		event.TypeDiscrepancyDetected,
		event.TypeInvoiceDeleted,
		event.TypeSupplierRenamed,
		event.TypeInvoiceExported,
	)
	f.svc = NewInvoiceService(f.repo, f.tx, f.exporter, f.storage, disp, nopLogger{})
	return f
}

func storedInvoice() *entity.Invoice {
	return &entity.Invoice{
		ID:             "inv-1",
		SupplierName:   "Acme",
		DocumentNumber: "F/2024 001",
		Lines: []entity.LineItem{
			{Description: "Mug", Quantity: 1, UnitPrice: 9.99, NetAmount: 9.99},
			{Description: "Cap", Quantity: 2, UnitPrice: 5, NetAmount: 10},
		},
		NetTotal:   19.99,
		TaxTotal:   4,
		GrossTotal: 23.99,
		Meta:       entity.InvoiceMeta{TaxRate: entity.Float(0.2)},
	}
}

func TestIngestInvoice_StoresDeclaredTotalsVerbatim(t *testing.T) {
	f := newFixture(t)
	f.repo.On("GetByID", mock.Anything, mock.AnythingOfType("string")).Return(nil, nil)
	f.repo.On("Create", mock.Anything, mock.AnythingOfType("*entity.Invoice")).Return(nil)

	result, err := f.svc.IngestInvoice(context.Background(), IngestRequest{
		SupplierName:   "  Acme ",
		DocumentNumber: "F-001",
		DocumentDate:   "2024-03-01",
		Lines: []entity.LineItem{
			{Description: "A", NetAmount: 60},
			{Description: "B", NetAmount: 40},
		},
		NetTotal:   95,
		TaxTotal:   19,
		GrossTotal: 114,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, result.Invoice.ID)
	assert.Equal(t, "Acme", result.Invoice.SupplierName)
	assert.Equal(t, 95.0, result.Invoice.NetTotal, "declared total must not be recomputed")
	assert.Equal(t, 5.0, result.Verification.NetGap)
	assert.False(t, result.Verification.IsConsistent)
	assert.Equal(t, []event.Type{event.TypeInvoiceIngested, event.TypeDiscrepancyDetected}, f.events.types())
	f.repo.AssertExpectations(t)
}

func TestIngestInvoice_Validation(t *testing.T) {
	tests := []struct {
		name    string
		req     IngestRequest
		wantErr error
	}{
		{
			name:    "missing supplier",
			req:     IngestRequest{SupplierName: " "},
			wantErr: ErrInvalidSupplierName,
		},
		{
			name:    "bad date",
			req:     IngestRequest{SupplierName: "Acme", DocumentDate: "01/03/2024"},
			wantErr: ErrInvalidInvoice,
		},
		{
			name:    "bad delivery date",
			req:     IngestRequest{SupplierName: "Acme", DeliveryDate: "soon"},
			wantErr: ErrInvalidInvoice,
		},
		{
			name: "line without description",
			req: IngestRequest{
				SupplierName: "Acme",
				Lines:        []entity.LineItem{{Description: "ok"}, {Description: "\t"}},
			},
			wantErr: ErrInvalidInvoice,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			_, err := f.svc.IngestInvoice(context.Background(), tt.req)

			assert.ErrorIs(t, err, tt.wantErr)
			f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		})
	}
}

func TestIngestInvoice_DuplicateID(t *testing.T) {
	f := newFixture(t)
	f.repo.On("GetByID", mock.Anything, "inv-1").Return(storedInvoice(), nil)

	_, err := f.svc.IngestInvoice(context.Background(), IngestRequest{ID: "inv-1", SupplierName: "Acme"})

	assert.ErrorIs(t, err, ErrInvoiceExists)
	f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestGetInvoice_NotFound(t *testing.T) {
	f := newFixture(t)
	f.repo.On("GetByID", mock.Anything, "missing").Return(nil, nil)

	_, err := f.svc.GetInvoice(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrInvoiceNotFound)
}

func TestEditLine_RecomputesAndSaves(t *testing.T) {
	f := newFixture(t)
	f.repo.On("GetByID", mock.Anything, "inv-1").Return(storedInvoice(), nil)
	f.repo.On("Update", mock.Anything, mock.MatchedBy(func(inv *entity.Invoice) bool {
		return inv.Lines[0].NetAmount == 29.97 && inv.NetTotal == 39.97
	})).Return(nil)

	result, err := f.svc.EditLine(context.Background(), "inv-1", 0, map[string]interface{}{
		"quantity":    "3",
		"description": "Big mug",
	})
	require.NoError(t, err)

	assert.Equal(t, "Big mug", result.Invoice.Lines[0].Description)
	assert.Equal(t, 39.97, result.Invoice.NetTotal)
	assert.Equal(t, 7.99, result.Invoice.TaxTotal)
	assert.Equal(t, 47.96, result.Invoice.GrossTotal)
	assert.True(t, result.Verification.IsConsistent)
	assert.Equal(t, 1, f.tx.calls)
	assert.Equal(t, []event.Type{event.TypeInvoiceRecomputed}, f.events.types())
	f.repo.AssertExpectations(t)
}

func TestEditLine_Errors(t *testing.T) {
	t.Run("unknown field saves nothing", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("GetByID", mock.Anything, "inv-1").Return(storedInvoice(), nil)

		_, err := f.svc.EditLine(context.Background(), "inv-1", 0, map[string]interface{}{
			"quantity": 3,
			"colour":   "red",
		})

		assert.ErrorIs(t, err, reconcile.ErrUnknownField)
		f.repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
		assert.Empty(t, f.events.types())
	})

	t.Run("index out of range", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("GetByID", mock.Anything, "inv-1").Return(storedInvoice(), nil)

		_, err := f.svc.EditLine(context.Background(), "inv-1", 7, map[string]interface{}{"quantity": 1})

		assert.ErrorIs(t, err, reconcile.ErrLineIndexOutOfRange)
	})

	t.Run("no fields", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.EditLine(context.Background(), "inv-1", 0, nil)

		assert.ErrorIs(t, err, ErrInvalidInvoice)
	})
}

func TestRemoveLine_LastLineZeroesTotals(t *testing.T) {
	f := newFixture(t)
	inv := storedInvoice()
	inv.Lines = inv.Lines[:1]
	inv.Meta.DocumentDiscount = entity.Float(3)
	f.repo.On("GetByID", mock.Anything, "inv-1").Return(inv, nil)
	f.repo.On("Update", mock.Anything, mock.Anything).Return(nil)

	result, err := f.svc.RemoveLine(context.Background(), "inv-1", 0)
	require.NoError(t, err)

	assert.Empty(t, result.Invoice.Lines)
	assert.Zero(t, result.Invoice.NetTotal)
	assert.Zero(t, result.Invoice.TaxTotal)
	assert.Zero(t, result.Invoice.GrossTotal)
}

func TestSetDocumentDiscount_ExceedingLinesRaisesDiscrepancy(t *testing.T) {
	f := newFixture(t)
	f.repo.On("GetByID", mock.Anything, "inv-1").Return(storedInvoice(), nil)
	f.repo.On("Update", mock.Anything, mock.Anything).Return(nil)

	result, err := f.svc.SetDocumentDiscount(context.Background(), "inv-1", "50")
	require.NoError(t, err)

	assert.Zero(t, result.Invoice.NetTotal)
	assert.Equal(t, -30.01, result.Verification.NetGap)
	assert.False(t, result.Verification.IsConsistent)
	assert.Equal(t, []event.Type{event.TypeInvoiceRecomputed, event.TypeDiscrepancyDetected}, f.events.types())
}

func TestSetTaxRate(t *testing.T) {
	f := newFixture(t)
	f.repo.On("GetByID", mock.Anything, "inv-1").Return(storedInvoice(), nil)
	f.repo.On("Update", mock.Anything, mock.Anything).Return(nil)

	result, err := f.svc.SetTaxRate(context.Background(), "inv-1", "5.5%")
	require.NoError(t, err)

	assert.Equal(t, 0.055, *result.Invoice.Meta.TaxRate)
	assert.Equal(t, 1.1, result.Invoice.TaxTotal)
}

func TestUpdateHeader(t *testing.T) {
	t.Run("updates fields", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("GetByID", mock.Anything, "inv-1").Return(storedInvoice(), nil)
		f.repo.On("Update", mock.Anything, mock.Anything).Return(nil)

		result, err := f.svc.UpdateHeader(context.Background(), "inv-1", map[string]string{
			"supplier_name": "Globex",
			"delivery_date": "2024-04-02",
		})
		require.NoError(t, err)

		assert.Equal(t, "Globex", result.Invoice.SupplierName)
		assert.Equal(t, "2024-04-02", entity.FormatDate(result.Invoice.DeliveryDate))
	})

	t.Run("rejects empty supplier", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.UpdateHeader(context.Background(), "inv-1", map[string]string{"supplier_name": ""})

		assert.ErrorIs(t, err, ErrInvalidSupplierName)
		f.repo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
	})

	t.Run("rejects bad date", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("GetByID", mock.Anything, "inv-1").Return(storedInvoice(), nil)

		_, err := f.svc.UpdateHeader(context.Background(), "inv-1", map[string]string{"document_date": "tomorrow"})

		assert.ErrorIs(t, err, reconcile.ErrInvalidDate)
	})
}

func TestRecompute_SaveFailure(t *testing.T) {
	f := newFixture(t)
	f.repo.On("GetByID", mock.Anything, "inv-1").Return(storedInvoice(), nil)
	f.repo.On("Update", mock.Anything, mock.Anything).Return(errors.New("database is locked"))

	_, err := f.svc.Recompute(context.Background(), "inv-1")

	assert.ErrorContains(t, err, "failed to save invoice")
	assert.Empty(t, f.events.types())
}

func TestVerifyInvoice(t *testing.T) {
	f := newFixture(t)
	inv := storedInvoice()
	inv.NetTotal = 15
	f.repo.On("GetByID", mock.Anything, "inv-1").Return(inv, nil)

	v, err := f.svc.VerifyInvoice(context.Background(), "inv-1")
	require.NoError(t, err)

	assert.Equal(t, 4.99, v.NetGap)
	assert.True(t, v.NetGapSignificant)
	f.repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestListInvoices_ClampsPaging(t *testing.T) {
	f := newFixture(t)
	f.repo.On("Count", mock.Anything).Return(1, nil)
	f.repo.On("List", mock.Anything, MaxPageSize, 0).Return([]*entity.Invoice{storedInvoice()}, nil)

	page, err := f.svc.ListInvoices(context.Background(), 10000, -5)
	require.NoError(t, err)

	assert.Equal(t, MaxPageSize, page.Limit)
	assert.Equal(t, 0, page.Offset)
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Items, 1)
	assert.True(t, page.Items[0].Verification.IsConsistent)
}

func TestDeleteInvoice(t *testing.T) {
	f := newFixture(t)
	f.repo.On("GetByID", mock.Anything, "inv-1").Return(storedInvoice(), nil)
	f.repo.On("Delete", mock.Anything, "inv-1").Return(nil)
	f.repo.On("GetByID", mock.Anything, "missing").Return(nil, nil)

	require.NoError(t, f.svc.DeleteInvoice(context.Background(), "inv-1"))
	assert.ErrorIs(t, f.svc.DeleteInvoice(context.Background(), "missing"), ErrInvoiceNotFound)
	assert.Equal(t, []event.Type{event.TypeInvoiceDeleted}, f.events.types())
}

func TestRenameSupplier(t *testing.T) {
	t.Run("renames", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("RenameSupplier", mock.Anything, "Acme", "Acme Corp").Return(int64(3), nil)

		n, err := f.svc.RenameSupplier(context.Background(), " Acme", "Acme Corp ")
		require.NoError(t, err)

		assert.Equal(t, int64(3), n)
		assert.Equal(t, []event.Type{event.TypeSupplierRenamed}, f.events.types())
	})

	t.Run("same name is a no-op", func(t *testing.T) {
		f := newFixture(t)

		n, err := f.svc.RenameSupplier(context.Background(), "Acme", "Acme")
		require.NoError(t, err)

		assert.Zero(t, n)
		f.repo.AssertNotCalled(t, "RenameSupplier", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("invalid names", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.RenameSupplier(context.Background(), "", "Acme")
		assert.ErrorIs(t, err, ErrInvalidSupplierName)

		_, err = f.svc.RenameSupplier(context.Background(), "Acme", "  ")
		assert.ErrorIs(t, err, ErrInvalidSupplierName)
	})
}

func TestExportInvoice(t *testing.T) {
	f := newFixture(t)
	f.repo.On("GetByID", mock.Anything, "inv-1").Return(storedInvoice(), nil)
	f.exporter.On("Export", mock.Anything, mock.AnythingOfType("entity.Verification")).Return([]byte("xlsx"), nil)
	f.storage.On("Save", mock.Anything, "inv-1/invoice-F_2024_001.xlsx", []byte("xlsx")).Return(nil)

	result, err := f.svc.ExportInvoice(context.Background(), "inv-1")
	require.NoError(t, err)

	assert.Equal(t, "invoice-F_2024_001.xlsx", result.FileName)
	assert.Equal(t, "/exports/inv-1/invoice-F_2024_001.xlsx", result.StoredPath)
	assert.Equal(t, []byte("xlsx"), result.Content)
	assert.Equal(t, []event.Type{event.TypeInvoiceExported}, f.events.types())
	f.storage.AssertExpectations(t)
}

func TestExportInvoice_NotConfigured(t *testing.T) {
	svc := NewInvoiceService(new(MockInvoiceRepository), &passthroughTx{}, nil, nil, nil, nopLogger{})

	_, err := svc.ExportInvoice(context.Background(), "inv-1")

	assert.ErrorIs(t, err, ErrExportUnavailable)
}

func TestExportFileName(t *testing.T) {
	assert.Equal(t, "invoice-F-001", exportFileName(&entity.Invoice{ID: "x", DocumentNumber: "F-001"}))
	assert.Equal(t, "invoice-x", exportFileName(&entity.Invoice{ID: "x", DocumentNumber: "///"}))
}
