package requests

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/larder-scm/larder-scm/internal/shared"
	"github.com/larder-scm/larder-scm/internal/stock"
)

type memoryRepo struct {
	requests map[int64]*Request
	lines    map[int64][]Line
	history  []StatusChange
	balances map[string]decimal.Decimal
	ledger   []stock.Entry
	nextID   int64

	// debitFailures makes the next n guarded debits fail as if a
	// concurrent writer drained the balance after the pre-check.
	debitFailures int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		requests: map[int64]*Request{},
		lines:    map[int64][]Line{},
		balances: map[string]decimal.Decimal{},
	}
}

func (r *memoryRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func stockKey(itemID, variationID, locationID int64) string {
	return fmt.Sprintf("%d:%d:%d", itemID, variationID, locationID)
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r)
}

func (r *memoryRepo) RequestCodes(ctx context.Context, year int) ([]string, error) {
	prefix := fmt.Sprintf("REQ-%d", year)
	var out []string
	for _, req := range r.requests {
		if len(req.Code) > len(prefix) && req.Code[:len(prefix)] == prefix {
			out = append(out, req.Code)
		}
	}
	return out, nil
}

func (r *memoryRepo) InsertRequest(ctx context.Context, req Request) (int64, error) {
	req.ID = r.id()
	req.CreatedAt = time.Now()
	req.UpdatedAt = req.CreatedAt
	r.requests[req.ID] = &req
	return req.ID, nil
}

func (r *memoryRepo) InsertLines(ctx context.Context, requestID int64, lines []CreateLine) error {
	for _, line := range lines {
		r.lines[requestID] = append(r.lines[requestID], Line{
			ID:           r.id(),
			RequestID:    requestID,
			ItemID:       line.ItemID,
			ItemCode:     fmt.Sprintf("ITM-%04d", line.ItemID),
			VariationID:  line.VariationID,
			QtyRequested: line.QtyRequested,
		})
	}
	return nil
}

func (r *memoryRepo) GetForUpdate(ctx context.Context, id int64) (Request, error) {
	req, ok := r.requests[id]
	if !ok {
		return Request{}, shared.ErrNotFound
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

func (r *memoryRepo) SetLineApproved(ctx context.Context, lineID int64, qty decimal.Decimal) error {
	return r.setLine(lineID, func(l *Line) { l.QtyApproved = decimal.NewNullDecimal(qty) })
}

func (r *memoryRepo) SetLineFulfilled(ctx context.Context, lineID int64, qty decimal.Decimal) error {
	return r.setLine(lineID, func(l *Line) { l.QtyFulfilled = decimal.NewNullDecimal(qty) })
}

func (r *memoryRepo) setLine(lineID int64, mutate func(*Line)) error {
	for requestID, lines := range r.lines {
		for i := range lines {
			if lines[i].ID == lineID {
				mutate(&r.lines[requestID][i])
				return nil
			}
		}
	}
	return shared.ErrNotFound
}

func (r *memoryRepo) SetApproval(ctx context.Context, requestID, approvedBy int64) error {
	now := time.Now()
	r.requests[requestID].ApprovedBy = approvedBy
	r.requests[requestID].ApprovedAt = &now
	r.requests[requestID].RejectReason = ""
	return nil
}

func (r *memoryRepo) SetRejection(ctx context.Context, requestID int64, reason string) error {
	r.requests[requestID].RejectReason = reason
	r.requests[requestID].ApprovedBy = 0
	r.requests[requestID].ApprovedAt = nil
	return nil
}

func (r *memoryRepo) InsertStatusChange(ctx context.Context, change StatusChange) error {
	change.ID = r.id()
	change.ChangedAt = time.Now()
	r.history = append(r.history, change)
	return nil
}

func (r *memoryRepo) StockWarehouse(ctx context.Context) (stock.Location, error) {
	return stock.Location{ID: 1, Type: stock.LocationWarehouse}, nil
}

func (r *memoryRepo) StockBalance(ctx context.Context, itemID, variationID, locationID int64) (stock.Balance, error) {
	qty, ok := r.balances[stockKey(itemID, variationID, locationID)]
	if !ok {
		return stock.Balance{}, stock.ErrBalanceNotFound
	}
	return stock.Balance{ItemID: itemID, VariationID: variationID, LocationID: locationID, QtyOnHand: qty}, nil
}

func (r *memoryRepo) StockDebit(ctx context.Context, itemID, variationID, locationID int64, qty decimal.Decimal) error {
	if r.debitFailures > 0 {
		r.debitFailures--
		return stock.ErrInsufficient
	}
	key := stockKey(itemID, variationID, locationID)
	if r.balances[key].LessThan(qty) {
		return stock.ErrInsufficient
	}
	r.balances[key] = r.balances[key].Sub(qty)
	return nil
}

func (r *memoryRepo) StockInsertEntry(ctx context.Context, e stock.Entry) error {
	r.ledger = append(r.ledger, e)
	return nil
}

func (r *memoryRepo) List(ctx context.Context, filter ListFilter) ([]Request, error) {
	var out []Request
	for _, req := range r.requests {
		out = append(out, *req)
	}
	return out, nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Request, error) {
	req, err := r.GetForUpdate(ctx, id)
	if err != nil {
		return Request{}, err
	}
	req.Items = r.lines[id]
	return req, nil
}

func (r *memoryRepo) History(ctx context.Context, requestID int64) ([]StatusChange, error) {
	var out []StatusChange
	for _, c := range r.history {
		if c.RequestID == requestID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memoryRepo) DeliveredQuantities(ctx context.Context, branchID int64, until time.Time) (map[[2]int64]decimal.Decimal, error) {
	out := make(map[[2]int64]decimal.Decimal)
	for id, req := range r.requests {
		if req.BranchID != branchID || (req.Status != StatusDelivered && req.Status != StatusCompleted) {
			continue
		}
		for _, line := range r.lines[id] {
			if line.QtyFulfilled.Valid {
				key := [2]int64{line.ItemID, line.VariationID}
				out[key] = out[key].Add(line.QtyFulfilled.Decimal)
			}
		}
	}
	return out, nil
}

var (
	branchActor    = shared.Actor{UserID: 10, Role: shared.RoleBranch, BranchIDs: []int64{5}}
	approverActor  = shared.Actor{UserID: 20, Role: shared.RoleProcurement}
	warehouseActor = shared.Actor{UserID: 30, Role: shared.RoleWarehouse}
	logisticsActor = shared.Actor{UserID: 40, Role: shared.RoleLogistics}
)

func createPending(t *testing.T, svc *Service, qty int64) Request {
	t.Helper()
	req, err := svc.Create(context.Background(), branchActor, CreateInput{
		BranchID: 5,
		Lines:    []CreateLine{{ItemID: 1, QtyRequested: decimal.NewFromInt(qty)}},
	})
	require.NoError(t, err)
	return req
}

func TestCreateAllocatesYearScopedCodes(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	year := time.Now().Year()

	first := createPending(t, svc, 10)
	second := createPending(t, svc, 20)
	require.Equal(t, fmt.Sprintf("REQ-%d-000001", year), first.Code)
	require.Equal(t, fmt.Sprintf("REQ-%d-000002", year), second.Code)
	require.Equal(t, StatusPending, repo.requests[first.ID].Status)
}

func TestCreateCountsLegacyUndashedCodes(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	year := time.Now().Year()

	legacy := &Request{ID: repo.id(), Code: fmt.Sprintf("REQ-%d000007", year), Status: StatusPending}
	repo.requests[legacy.ID] = legacy

	req := createPending(t, svc, 10)
	require.Equal(t, fmt.Sprintf("REQ-%d-000008", year), req.Code)
}

func TestCreateRejectsForeignBranch(t *testing.T) {
	svc := NewService(newMemoryRepo())
	_, err := svc.Create(context.Background(), branchActor, CreateInput{
		BranchID: 99,
		Lines:    []CreateLine{{ItemID: 1, QtyRequested: decimal.NewFromInt(1)}},
	})
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestFulfillmentDeductsExactStock(t *testing.T) {
	repo := newMemoryRepo()
	repo.balances[stockKey(1, 0, 1)] = decimal.NewFromInt(100)
	svc := NewService(repo)
	ctx := context.Background()

	req := createPending(t, svc, 100)
	require.NoError(t, svc.Approve(ctx, approverActor, req.ID, nil, ""))
	require.NoError(t, svc.MarkReady(ctx, warehouseActor, req.ID))

	require.True(t, repo.balances[stockKey(1, 0, 1)].IsZero())
	require.Len(t, repo.ledger, 1)
	require.True(t, repo.ledger[0].QtyChange.Equal(decimal.NewFromInt(-100)))
	require.Equal(t, stock.ReasonRequestFulfillment, repo.ledger[0].Reason)
	require.Equal(t, req.Code, repo.ledger[0].Ref.ID)

	lines := repo.lines[req.ID]
	require.True(t, lines[0].QtyFulfilled.Valid)
	require.True(t, lines[0].QtyFulfilled.Decimal.Equal(decimal.NewFromInt(100)))
	require.Equal(t, StatusReadyForDelivery, repo.requests[req.ID].Status)
}

func TestFulfillmentRejectsInsufficientStock(t *testing.T) {
	repo := newMemoryRepo()
	repo.balances[stockKey(1, 0, 1)] = decimal.NewFromInt(80)
	svc := NewService(repo)
	ctx := context.Background()

	req := createPending(t, svc, 100)
	require.NoError(t, svc.Approve(ctx, approverActor, req.ID, nil, ""))

	err := svc.MarkReady(ctx, warehouseActor, req.ID)
	var insuff *shared.InsufficiencyError
	require.ErrorAs(t, err, &insuff)
	require.Len(t, insuff.Shortfalls, 1)
	require.True(t, insuff.Shortfalls[0].Required.Equal(decimal.NewFromInt(100)))
	require.True(t, insuff.Shortfalls[0].Available.Equal(decimal.NewFromInt(80)))

	// nothing moved
	require.True(t, repo.balances[stockKey(1, 0, 1)].Equal(decimal.NewFromInt(80)))
	require.Empty(t, repo.ledger)
	require.False(t, repo.lines[req.ID][0].QtyFulfilled.Valid)
	require.Equal(t, StatusWarehouseProcessing, repo.requests[req.ID].Status)
}

func TestFulfillmentLostDebitRaceReportsShortfall(t *testing.T) {
	repo := newMemoryRepo()
	repo.balances[stockKey(1, 0, 1)] = decimal.NewFromInt(100)
	svc := NewService(repo)
	ctx := context.Background()

	req := createPending(t, svc, 100)
	require.NoError(t, svc.Approve(ctx, approverActor, req.ID, nil, ""))

	// the pre-check sees 100 available, the debit itself still fails
	repo.debitFailures = 1
	err := svc.MarkReady(ctx, warehouseActor, req.ID)
	var insuff *shared.InsufficiencyError
	require.ErrorAs(t, err, &insuff)
	require.Len(t, insuff.Shortfalls, 1)
	require.True(t, insuff.Shortfalls[0].Required.Equal(decimal.NewFromInt(100)))
	require.Empty(t, repo.ledger)
}

func TestApproveDefaultsToRequestedQty(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	req := createPending(t, svc, 25)
	require.NoError(t, svc.Approve(ctx, approverActor, req.ID, nil, ""))

	line := repo.lines[req.ID][0]
	require.True(t, line.QtyApproved.Valid)
	require.True(t, line.QtyApproved.Decimal.Equal(decimal.NewFromInt(25)))
	require.Equal(t, approverActor.UserID, repo.requests[req.ID].ApprovedBy)
	require.NotNil(t, repo.requests[req.ID].ApprovedAt)
}

func TestApproveOverridesQty(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	req := createPending(t, svc, 25)
	lineID := repo.lines[req.ID][0].ID
	require.NoError(t, svc.Approve(ctx, approverActor, req.ID,
		[]Approval{{LineID: lineID, QtyApproved: decimal.NewFromInt(10)}}, "partial"))

	line := repo.lines[req.ID][0]
	require.True(t, line.QtyApproved.Decimal.Equal(decimal.NewFromInt(10)))
	require.True(t, line.EffectiveQty().Equal(decimal.NewFromInt(10)))
}

func TestRejectRequiresReason(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	req := createPending(t, svc, 5)

	err := svc.Reject(context.Background(), approverActor, req.ID, "")
	require.ErrorIs(t, err, shared.ErrValidation)

	require.NoError(t, svc.Reject(context.Background(), approverActor, req.ID, "duplicate request"))
	require.Equal(t, StatusRejected, repo.requests[req.ID].Status)
	require.Equal(t, "duplicate request", repo.requests[req.ID].RejectReason)
}

func TestInvalidTransitionReportsState(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	req := createPending(t, svc, 5)
	err := svc.MarkReady(ctx, warehouseActor, req.ID)
	var stateErr *shared.StateError
	require.ErrorAs(t, err, &stateErr)
	require.Equal(t, string(StatusPending), stateErr.Current)
}

func TestMarkDeliveredIsIdempotent(t *testing.T) {
	repo := newMemoryRepo()
	repo.balances[stockKey(1, 0, 1)] = decimal.NewFromInt(10)
	svc := NewService(repo)
	ctx := context.Background()

	req := createPending(t, svc, 10)
	require.NoError(t, svc.Approve(ctx, approverActor, req.ID, nil, ""))
	require.NoError(t, svc.MarkReady(ctx, warehouseActor, req.ID))
	require.NoError(t, svc.MarkOutForDelivery(ctx, logisticsActor, req.ID))
	require.ErrorIs(t, svc.MarkDelivered(ctx, logisticsActor, req.ID), shared.ErrForbidden)
	require.NoError(t, svc.MarkDelivered(ctx, branchActor, req.ID))

	historyBefore := len(repo.history)
	require.NoError(t, svc.MarkDelivered(ctx, branchActor, req.ID))
	require.Len(t, repo.history, historyBefore)
	require.Equal(t, StatusDelivered, repo.requests[req.ID].Status)
}

func TestMarkDeliveredAcceptsLegacyInProcess(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	req := createPending(t, svc, 10)
	repo.requests[req.ID].Status = StatusInProcess

	require.NoError(t, svc.MarkDelivered(ctx, branchActor, req.ID))
	require.Equal(t, StatusDelivered, repo.requests[req.ID].Status)
}

func TestCompleteRequiresDeliveredAndBranch(t *testing.T) {
	repo := newMemoryRepo()
	repo.balances[stockKey(1, 0, 1)] = decimal.NewFromInt(10)
	svc := NewService(repo)
	ctx := context.Background()

	req := createPending(t, svc, 10)
	require.NoError(t, svc.Approve(ctx, approverActor, req.ID, nil, ""))
	require.NoError(t, svc.MarkReady(ctx, warehouseActor, req.ID))
	require.NoError(t, svc.MarkOutForDelivery(ctx, logisticsActor, req.ID))

	var stateErr *shared.StateError
	require.ErrorAs(t, svc.Complete(ctx, branchActor, req.ID), &stateErr)

	require.NoError(t, svc.MarkDelivered(ctx, branchActor, req.ID))

	foreign := shared.Actor{UserID: 11, Role: shared.RoleBranch, BranchIDs: []int64{7}}
	require.ErrorIs(t, svc.Complete(ctx, foreign, req.ID), shared.ErrForbidden)

	require.NoError(t, svc.Complete(ctx, branchActor, req.ID))
	require.Equal(t, StatusCompleted, repo.requests[req.ID].Status)
}

func TestDeliveredQuantitiesSumAcrossRequests(t *testing.T) {
	repo := newMemoryRepo()
	repo.balances[stockKey(1, 0, 1)] = decimal.NewFromInt(50)
	svc := NewService(repo)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		req := createPending(t, svc, 10)
		require.NoError(t, svc.Approve(ctx, approverActor, req.ID, nil, ""))
		require.NoError(t, svc.MarkReady(ctx, warehouseActor, req.ID))
		require.NoError(t, svc.MarkOutForDelivery(ctx, logisticsActor, req.ID))
		require.NoError(t, svc.MarkDelivered(ctx, branchActor, req.ID))
	}

	totals, err := svc.DeliveredQuantities(ctx, 5, time.Time{})
	require.NoError(t, err)
	require.True(t, totals[[2]int64{1, 0}].Equal(decimal.NewFromInt(20)))
}
