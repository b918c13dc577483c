package requests

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/larder-scm/larder-scm/internal/codes"
	"github.com/larder-scm/larder-scm/internal/shared"
	"github.com/larder-scm/larder-scm/internal/stock"
)

const codeRetries = 5

// RepositoryPort abstracts repository usage for Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	List(ctx context.Context, filter ListFilter) ([]Request, error)
	Get(ctx context.Context, id int64) (Request, error)
	History(ctx context.Context, requestID int64) ([]StatusChange, error)
	DeliveredQuantities(ctx context.Context, branchID int64, until time.Time) (map[[2]int64]decimal.Decimal, error)
}

// Service drives the branch request lifecycle.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Create opens a new request in PENDING. The code is allocated inside the
// creating transaction; a collision with a concurrent creation retries with
// the next number.
func (s *Service) Create(ctx context.Context, actor shared.Actor, input CreateInput) (Request, error) {
	if !actor.ManagesBranch(input.BranchID) {
		return Request{}, shared.ErrForbidden
	}
	if len(input.Lines) == 0 {
		return Request{}, shared.Validationf("a request needs at least one item")
	}
	for _, line := range input.Lines {
		if line.ItemID == 0 {
			return Request{}, shared.Validationf("item is required on every line")
		}
		if line.QtyRequested.Sign() <= 0 {
			return Request{}, shared.Validationf("requested quantity must be positive")
		}
	}

	req := Request{
		BranchID:  input.BranchID,
		Status:    StatusPending,
		Note:      input.Note,
		CreatedBy: actor.UserID,
	}
	year := time.Now().Year()
	var lastErr error
	for attempt := 0; attempt < codeRetries; attempt++ {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			existing, err := tx.RequestCodes(ctx, year)
			if err != nil {
				return err
			}
			req.Code = codes.YearCode(codes.RequestPrefix, year, codes.MaxSuffix(existing)+1, true)
			req.ID, err = tx.InsertRequest(ctx, req)
			if err != nil {
				return err
			}
			if err := tx.InsertLines(ctx, req.ID, input.Lines); err != nil {
				return err
			}
			return tx.InsertStatusChange(ctx, StatusChange{
				RequestID: req.ID, To: StatusPending, ChangedBy: actor.UserID,
			})
		})
		if err == nil {
			return req, nil
		}
		if !codes.IsUniqueViolation(err) {
			return Request{}, err
		}
		lastErr = err
	}
	return Request{}, lastErr
}

// Approve moves a pending request to warehouse processing. Lines without an
// explicit override get their requested quantity approved as-is.
func (s *Service) Approve(ctx context.Context, actor shared.Actor, id int64, approvals []Approval, note string) error {
	if !actor.CanApproveRequests() {
		return shared.ErrForbidden
	}
	overrides := make(map[int64]decimal.Decimal, len(approvals))
	for _, a := range approvals {
		overrides[a.LineID] = a.QtyApproved
	}
	return s.transition(ctx, actor, id, []Status{StatusPending}, StatusWarehouseProcessing, note,
		func(ctx context.Context, tx TxRepository, req Request) error {
			lines, err := tx.Lines(ctx, req.ID)
			if err != nil {
				return err
			}
			for _, line := range lines {
				// a missing or non-positive override approves the
				// requested quantity as-is
				qty := line.QtyRequested
				if override, ok := overrides[line.ID]; ok && override.Sign() > 0 {
					qty = override
				}
				if err := tx.SetLineApproved(ctx, line.ID, qty); err != nil {
					return err
				}
			}
			return tx.SetApproval(ctx, req.ID, actor.UserID)
		})
}

// Reject closes a pending request. A reason is mandatory.
func (s *Service) Reject(ctx context.Context, actor shared.Actor, id int64, reason string) error {
	if !actor.CanApproveRequests() {
		return shared.ErrForbidden
	}
	if reason == "" {
		return shared.Validationf("a rejection reason is required")
	}
	return s.transition(ctx, actor, id, []Status{StatusPending}, StatusRejected, reason,
		func(ctx context.Context, tx TxRepository, req Request) error {
			return tx.SetRejection(ctx, req.ID, reason)
		})
}

// MarkReady fulfills the request from warehouse stock and moves it to ready
// for delivery. Every line is checked before anything is deducted; any
// shortfall aborts the whole fulfillment listing all insufficient lines.
func (s *Service) MarkReady(ctx context.Context, actor shared.Actor, id int64) error {
	if !actor.CanFulfill() {
		return shared.ErrForbidden
	}
	return s.transition(ctx, actor, id, []Status{StatusWarehouseProcessing}, StatusReadyForDelivery, "",
		func(ctx context.Context, tx TxRepository, req Request) error {
			lines, err := tx.Lines(ctx, req.ID)
			if err != nil {
				return err
			}
			warehouse, err := tx.StockWarehouse(ctx)
			if err != nil {
				return err
			}

			var shortfalls []shared.Shortfall
			for _, line := range lines {
				qty := line.EffectiveQty()
				if qty.Sign() == 0 {
					continue
				}
				available := decimal.Zero
				bal, err := tx.StockBalance(ctx, line.ItemID, line.VariationID, warehouse.ID)
				if err == nil {
					available = bal.QtyOnHand
				} else if !errors.Is(err, stock.ErrBalanceNotFound) {
					return err
				}
				if available.LessThan(qty) {
					shortfalls = append(shortfalls, shared.Shortfall{
						ItemID:      line.ItemID,
						ItemCode:    line.ItemCode,
						VariationID: line.VariationID,
						Required:    qty,
						Available:   available,
					})
				}
			}
			if len(shortfalls) > 0 {
				return &shared.InsufficiencyError{Shortfalls: shortfalls}
			}

			for _, line := range lines {
				qty := line.EffectiveQty()
				if qty.Sign() == 0 {
					if err := tx.SetLineFulfilled(ctx, line.ID, decimal.Zero); err != nil {
						return err
					}
					continue
				}
				if err := tx.StockDebit(ctx, line.ItemID, line.VariationID, warehouse.ID, qty); err != nil {
					// The pre-check passed but the conditional update lost to
					// a concurrent debit. Report the shortfall rather than
					// surfacing a bare storage error.
					if errors.Is(err, stock.ErrInsufficient) {
						available := decimal.Zero
						if bal, balErr := tx.StockBalance(ctx, line.ItemID, line.VariationID, warehouse.ID); balErr == nil {
							available = bal.QtyOnHand
						}
						return &shared.InsufficiencyError{Shortfalls: []shared.Shortfall{{
							ItemID:      line.ItemID,
							ItemCode:    line.ItemCode,
							VariationID: line.VariationID,
							Required:    qty,
							Available:   available,
						}}}
					}
					return err
				}
				if err := tx.SetLineFulfilled(ctx, line.ID, qty); err != nil {
					return err
				}
				entry := stock.Entry{
					ItemID:         line.ItemID,
					VariationID:    line.VariationID,
					FromLocationID: warehouse.ID,
					QtyChange:      qty.Neg(),
					Reason:         stock.ReasonRequestFulfillment,
					Ref:            stock.RequestRef(req.Code),
					CreatedBy:      actor.UserID,
				}
				if err := tx.StockInsertEntry(ctx, entry); err != nil {
					return err
				}
			}
			return nil
		})
}

// MarkOutForDelivery hands the picked request to logistics.
func (s *Service) MarkOutForDelivery(ctx context.Context, actor shared.Actor, id int64) error {
	if !actor.CanDispatch() {
		return shared.ErrForbidden
	}
	return s.transition(ctx, actor, id, []Status{StatusReadyForDelivery}, StatusOutForDelivery, "", nil)
}

// MarkDelivered records arrival at the branch, confirmed by a manager of
// the owning branch. Rows still in the legacy in-process state are accepted
// here. Marking an already delivered or completed request is a no-op so a
// double submission cannot fail or duplicate history.
func (s *Service) MarkDelivered(ctx context.Context, actor shared.Actor, id int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !actor.ManagesBranch(req.BranchID) {
			return shared.ErrForbidden
		}
		if req.Status == StatusDelivered || req.Status == StatusCompleted {
			return nil
		}
		if req.Status != StatusOutForDelivery && req.Status != StatusInProcess {
			return &shared.StateError{
				Entity:  "request " + req.Code,
				Current: string(req.Status),
				Allowed: []string{string(StatusOutForDelivery)},
			}
		}
		if err := tx.UpdateStatus(ctx, id, StatusDelivered); err != nil {
			return err
		}
		return tx.InsertStatusChange(ctx, StatusChange{
			RequestID: id, From: req.Status, To: StatusDelivered, ChangedBy: actor.UserID,
		})
	})
}

// Complete confirms receipt at the branch and closes the request.
func (s *Service) Complete(ctx context.Context, actor shared.Actor, id int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !actor.ManagesBranch(req.BranchID) {
			return shared.ErrForbidden
		}
		if req.Status != StatusDelivered {
			return &shared.StateError{
				Entity:  "request " + req.Code,
				Current: string(req.Status),
				Allowed: []string{string(StatusDelivered)},
			}
		}
		if err := tx.UpdateStatus(ctx, id, StatusCompleted); err != nil {
			return err
		}
		return tx.InsertStatusChange(ctx, StatusChange{
			RequestID: id, From: StatusDelivered, To: StatusCompleted, ChangedBy: actor.UserID,
		})
	})
}

// transition runs the shared lock-check-mutate-record sequence. extra runs
// after the state check and before the status update.
func (s *Service) transition(ctx context.Context, actor shared.Actor, id int64, from []Status, to Status, note string,
	extra func(context.Context, TxRepository, Request) error) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		allowed := false
		names := make([]string, 0, len(from))
		for _, st := range from {
			names = append(names, string(st))
			if req.Status == st {
				allowed = true
			}
		}
		if !allowed {
			return &shared.StateError{Entity: "request " + req.Code, Current: string(req.Status), Allowed: names}
		}
		if extra != nil {
			if err := extra(ctx, tx, req); err != nil {
				return err
			}
		}
		if err := tx.UpdateStatus(ctx, id, to); err != nil {
			return err
		}
		return tx.InsertStatusChange(ctx, StatusChange{
			RequestID: id, From: req.Status, To: to, Note: note, ChangedBy: actor.UserID,
		})
	})
}

// List returns requests visible to the actor. Branch users only see their
// own branches.
func (s *Service) List(ctx context.Context, actor shared.Actor, filter ListFilter) ([]Request, error) {
	if actor.IsBranchUser() {
		filter.BranchIDs = actor.BranchIDs
		if len(filter.BranchIDs) == 0 {
			return nil, nil
		}
	}
	return s.repo.List(ctx, filter)
}

// Get returns one request with lines and history.
func (s *Service) Get(ctx context.Context, actor shared.Actor, id int64) (Request, error) {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if !actor.ManagesBranch(req.BranchID) && !actor.CanFulfill() && !actor.CanDispatch() {
		return Request{}, shared.ErrForbidden
	}
	return req, nil
}

// DeliveredQuantities reports the fulfilled quantities a branch has received
// per (item, variation). The consumption engine subtracts recorded usage
// from these totals.
func (s *Service) DeliveredQuantities(ctx context.Context, branchID int64, until time.Time) (map[[2]int64]decimal.Decimal, error) {
	return s.repo.DeliveredQuantities(ctx, branchID, until)
}
