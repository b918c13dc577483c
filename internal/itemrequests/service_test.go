package itemrequests

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/larder-scm/larder-scm/internal/mail"
	"github.com/larder-scm/larder-scm/internal/shared"
)

type memoryRepo struct {
	requests map[int64]*ItemRequest
	lines    map[int64][]Line
	stock    []StockRow
	pending  []PendingRow
	nextID   int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		requests: map[int64]*ItemRequest{},
		lines:    map[int64][]Line{},
	}
}

func (r *memoryRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r)
}

func (r *memoryRepo) RequestCodes(ctx context.Context, year int) ([]string, error) {
	prefix := fmt.Sprintf("REQ-%d", year)
	var out []string
	for _, req := range r.requests {
		if strings.HasPrefix(req.Code, prefix) {
			out = append(out, req.Code)
		}
	}
	return out, nil
}

func (r *memoryRepo) InsertRequest(ctx context.Context, req ItemRequest) (int64, error) {
	req.ID = r.id()
	req.CreatedAt = time.Now()
	req.UpdatedAt = req.CreatedAt
	r.requests[req.ID] = &req
	return req.ID, nil
}

func (r *memoryRepo) InsertLines(ctx context.Context, requestID int64, lines []CreateLine) error {
	for _, line := range lines {
		r.lines[requestID] = append(r.lines[requestID], Line{
			ID:          r.id(),
			RequestID:   requestID,
			ItemID:      line.ItemID,
			ItemCode:    fmt.Sprintf("ITM-%04d", line.ItemID),
			VariationID: line.VariationID,
			Qty:         line.Qty,
		})
	}
	return nil
}

func (r *memoryRepo) GetForUpdate(ctx context.Context, id int64) (ItemRequest, error) {
	req, ok := r.requests[id]
	if !ok {
		return ItemRequest{}, shared.ErrNotFound
	}
	return *req, nil
}

func (r *memoryRepo) Lines(ctx context.Context, requestID int64) ([]Line, error) {
	return r.lines[requestID], nil
}

func (r *memoryRepo) UpdateStatus(ctx context.Context, id int64, status Status) error {
	r.requests[id].Status = status
	r.requests[id].UpdatedAt = time.Now()
	return nil
}

func (r *memoryRepo) InsertSupplierStock(ctx context.Context, row StockRow) (int64, error) {
	row.ID = r.id()
	row.ConfirmedAt = time.Now()
	r.stock = append(r.stock, row)
	return row.ID, nil
}

func (r *memoryRepo) List(ctx context.Context, filter ListFilter) ([]ItemRequest, error) {
	var out []ItemRequest
	for _, req := range r.requests {
		out = append(out, *req)
	}
	return out, nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (ItemRequest, error) {
	req, ok := r.requests[id]
	if !ok {
		return ItemRequest{}, shared.ErrNotFound
	}
	copied := *req
	copied.Items = r.lines[id]
	return copied, nil
}

func (r *memoryRepo) SetNotified(ctx context.Context, id int64) error {
	req := r.requests[id]
	if req.Status != StatusPending {
		return nil
	}
	now := time.Now()
	req.Status = StatusNotified
	req.EmailSentAt = &now
	return nil
}

func (r *memoryRepo) ListStock(ctx context.Context, supplierID int64) ([]StockRow, error) {
	var out []StockRow
	for _, row := range r.stock {
		if supplierID == 0 || row.SupplierID == supplierID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *memoryRepo) PendingOnOrder(ctx context.Context, supplierID int64) ([]PendingRow, error) {
	return r.pending, nil
}

func (r *memoryRepo) SupplierEmail(ctx context.Context, supplierID int64) (string, string, error) {
	if supplierID != 1 {
		return "", "", shared.ErrNotFound
	}
	return "Packaging Co", "orders@packaging.example", nil
}

type recordingMailer struct {
	sent    []mail.Message
	failing bool
}

func (m *recordingMailer) Enqueue(ctx context.Context, msg mail.Message) error {
	if m.failing {
		return fmt.Errorf("queue unavailable")
	}
	m.sent = append(m.sent, msg)
	return nil
}

func procurementActor() shared.Actor {
	return shared.Actor{UserID: 3, Role: shared.RoleProcurement}
}

func warehouseActor() shared.Actor {
	return shared.Actor{UserID: 30, Role: shared.RoleWarehouse}
}

func createInput() CreateInput {
	return CreateInput{
		SupplierID:      1,
		DeliveryDaysMin: 50,
		DeliveryDaysMax: 70,
		Lines: []CreateLine{
			{ItemID: 1, Qty: decimal.NewFromInt(500)},
			{ItemID: 2, VariationID: 9, Qty: decimal.NewFromInt(200)},
		},
	}
}

func TestCreateNotifiesSupplier(t *testing.T) {
	repo := newMemoryRepo()
	mailer := &recordingMailer{}
	svc := NewService(repo, mailer, slog.Default())

	req, err := svc.Create(context.Background(), procurementActor(), createInput())
	require.NoError(t, err)
	require.Equal(t, fmt.Sprintf("REQ-%d000001", time.Now().Year()), req.Code)
	require.Equal(t, StatusNotified, req.Status)
	require.NotNil(t, req.EmailSentAt)
	require.Len(t, req.Items, 2)

	require.Len(t, mailer.sent, 1)
	require.Equal(t, "orders@packaging.example", mailer.sent[0].To)
	require.Contains(t, mailer.sent[0].Body, req.Code)
	require.Contains(t, mailer.sent[0].Body, "50 to 70 days")
}

func TestCreateStaysPendingWhenEnqueueFails(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, &recordingMailer{failing: true}, slog.Default())

	req, err := svc.Create(context.Background(), procurementActor(), createInput())
	require.NoError(t, err)
	require.Equal(t, StatusPending, req.Status)
	require.Nil(t, req.EmailSentAt)
}

func TestCreateValidatesDeliveryWindow(t *testing.T) {
	svc := NewService(newMemoryRepo(), &recordingMailer{}, slog.Default())

	input := createInput()
	input.DeliveryDaysMin = 0
	_, err := svc.Create(context.Background(), procurementActor(), input)
	require.ErrorIs(t, err, shared.ErrValidation)

	input = createInput()
	input.DeliveryDaysMax = 10
	_, err = svc.Create(context.Background(), procurementActor(), input)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateDeniesWarehouseStaff(t *testing.T) {
	svc := NewService(newMemoryRepo(), &recordingMailer{}, slog.Default())
	_, err := svc.Create(context.Background(), warehouseActor(), createInput())
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestConfirmStockCopiesLinesWithoutMerging(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, &recordingMailer{}, slog.Default())
	req, err := svc.Create(context.Background(), procurementActor(), createInput())
	require.NoError(t, err)

	confirmed, err := svc.ConfirmStock(context.Background(), procurementActor(), req.ID)
	require.NoError(t, err)
	require.Equal(t, StatusMovedToStock, confirmed.Status)

	require.Len(t, repo.stock, 2)
	require.Equal(t, int64(1), repo.stock[0].ItemID)
	require.True(t, repo.stock[0].Qty.Equal(decimal.NewFromInt(500)))
	require.Equal(t, req.ID, repo.stock[0].RequestID)
	require.Equal(t, "From request "+req.Code, repo.stock[0].Note)

	// a second request for the same item adds rows, never merges
	second, err := svc.Create(context.Background(), procurementActor(), createInput())
	require.NoError(t, err)
	_, err = svc.ConfirmStock(context.Background(), procurementActor(), second.ID)
	require.NoError(t, err)
	require.Len(t, repo.stock, 4)
}

func TestConfirmStockRefusesMovedRequests(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, &recordingMailer{}, slog.Default())
	req, err := svc.Create(context.Background(), procurementActor(), createInput())
	require.NoError(t, err)
	_, err = svc.ConfirmStock(context.Background(), procurementActor(), req.ID)
	require.NoError(t, err)

	_, err = svc.ConfirmStock(context.Background(), procurementActor(), req.ID)
	var stateErr *shared.StateError
	require.ErrorAs(t, err, &stateErr)
	require.Equal(t, string(StatusMovedToStock), stateErr.Current)
	require.Len(t, repo.stock, 2)
}

func TestSetStatusProgressions(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, &recordingMailer{}, slog.Default())
	req, err := svc.Create(context.Background(), procurementActor(), createInput())
	require.NoError(t, err)

	updated, err := svc.SetStatus(context.Background(), procurementActor(), req.ID, StatusInProduction)
	require.NoError(t, err)
	require.Equal(t, StatusInProduction, updated.Status)

	_, err = svc.SetStatus(context.Background(), procurementActor(), req.ID, StatusMovedToStock)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCancelClosesOpenRequest(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, &recordingMailer{}, slog.Default())
	req, err := svc.Create(context.Background(), procurementActor(), createInput())
	require.NoError(t, err)

	cancelled, err := svc.Cancel(context.Background(), procurementActor(), req.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	_, err = svc.ConfirmStock(context.Background(), procurementActor(), req.ID)
	require.NoError(t, err) // a cancelled request can still be confirmed late
}

func TestStockViewDeniedToWarehouse(t *testing.T) {
	svc := NewService(newMemoryRepo(), &recordingMailer{}, slog.Default())
	_, err := svc.Stock(context.Background(), warehouseActor(), 0)
	require.ErrorIs(t, err, shared.ErrForbidden)
}
