package itemrequests

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/larder-scm/larder-scm/internal/codes"
	"github.com/larder-scm/larder-scm/internal/mail"
	"github.com/larder-scm/larder-scm/internal/shared"
)

const codeRetries = 5

// RepositoryPort abstracts repository usage for Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	List(ctx context.Context, filter ListFilter) ([]ItemRequest, error)
	Get(ctx context.Context, id int64) (ItemRequest, error)
	SetNotified(ctx context.Context, id int64) error
	ListStock(ctx context.Context, supplierID int64) ([]StockRow, error)
	PendingOnOrder(ctx context.Context, supplierID int64) ([]PendingRow, error)
	SupplierEmail(ctx context.Context, supplierID int64) (name, email string, err error)
}

// Service drives the item request pipeline. Warehouse staff have no
// business here; procurement owns the supplier relationship end to end,
// including the stock confirmation step.
type Service struct {
	repo   RepositoryPort
	mailer mail.Enqueuer
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, mailer mail.Enqueuer, logger *slog.Logger) *Service {
	return &Service{repo: repo, mailer: mailer, logger: logger}
}

// Create opens a new request in PENDING and notifies the supplier. The
// notification goes out after commit; on enqueue success the request moves
// to NOTIFIED with the send time stamped.
func (s *Service) Create(ctx context.Context, actor shared.Actor, input CreateInput) (ItemRequest, error) {
	if !actor.CanPlaceOrders() {
		return ItemRequest{}, shared.ErrForbidden
	}
	if input.SupplierID == 0 {
		return ItemRequest{}, shared.Validationf("supplier is required")
	}
	if input.DeliveryDaysMin < 1 {
		return ItemRequest{}, shared.Validationf("minimum delivery days must be at least 1")
	}
	if input.DeliveryDaysMax < input.DeliveryDaysMin {
		return ItemRequest{}, shared.Validationf("maximum delivery days cannot be below the minimum")
	}
	if len(input.Lines) == 0 {
		return ItemRequest{}, shared.Validationf("a request needs at least one item")
	}
	for _, line := range input.Lines {
		if line.ItemID == 0 {
			return ItemRequest{}, shared.Validationf("item is required on every line")
		}
		if line.Qty.Sign() <= 0 {
			return ItemRequest{}, shared.Validationf("requested quantity must be positive")
		}
	}
	supplierName, supplierEmail, err := s.repo.SupplierEmail(ctx, input.SupplierID)
	if err != nil {
		return ItemRequest{}, err
	}

	req := ItemRequest{
		SupplierID:      input.SupplierID,
		SupplierName:    supplierName,
		Status:          StatusPending,
		DeliveryDaysMin: input.DeliveryDaysMin,
		DeliveryDaysMax: input.DeliveryDaysMax,
		Note:            input.Note,
		CreatedBy:       actor.UserID,
	}
	year := time.Now().Year()
	var lastErr error
	for attempt := 0; attempt < codeRetries; attempt++ {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			existing, err := tx.RequestCodes(ctx, year)
			if err != nil {
				return err
			}
			req.Code = codes.YearCode(codes.RequestPrefix, year, codes.MaxSuffix(existing)+1, false)
			req.ID, err = tx.InsertRequest(ctx, req)
			if err != nil {
				return err
			}
			return tx.InsertLines(ctx, req.ID, input.Lines)
		})
		if err == nil {
			s.notify(ctx, req, supplierEmail)
			return s.repo.Get(ctx, req.ID)
		}
		if !codes.IsUniqueViolation(err) {
			return ItemRequest{}, err
		}
		lastErr = err
	}
	return ItemRequest{}, fmt.Errorf("allocating request code: %w", lastErr)
}

func (s *Service) notify(ctx context.Context, req ItemRequest, supplierEmail string) {
	if supplierEmail == "" {
		return
	}
	full, err := s.repo.Get(ctx, req.ID)
	if err != nil {
		s.logger.Warn("loading request for notification failed", "request_code", req.Code, "error", err)
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Production request %s\n\n", full.Code)
	fmt.Fprintf(&b, "Expected delivery window: %d to %d days.\n\n", full.DeliveryDaysMin, full.DeliveryDaysMax)
	for _, line := range full.Items {
		fmt.Fprintf(&b, "  %s  %s  x %s\n", line.ItemCode, line.ItemName, line.Qty)
	}
	if full.Note != "" {
		fmt.Fprintf(&b, "\nNotes: %s\n", full.Note)
	}
	err = s.mailer.Enqueue(ctx, mail.Message{
		To:      supplierEmail,
		Subject: "Production request " + full.Code,
		Body:    b.String(),
	})
	if err != nil {
		s.logger.Warn("email enqueue failed", "request_code", full.Code, "error", err)
		return
	}
	if err := s.repo.SetNotified(ctx, full.ID); err != nil {
		s.logger.Warn("marking request notified failed", "request_code", full.Code, "error", err)
	}
}

// progressions holds the externally driven status updates.
var progressions = map[Status]bool{
	StatusInProduction: true,
	StatusReady:        true,
}

// SetStatus records supplier-reported progress, IN_PRODUCTION or READY.
func (s *Service) SetStatus(ctx context.Context, actor shared.Actor, id int64, to Status) (ItemRequest, error) {
	if !actor.CanPlaceOrders() {
		return ItemRequest{}, shared.ErrForbidden
	}
	if !progressions[to] {
		return ItemRequest{}, shared.Validationf("status %s cannot be set directly", to)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if req.Status == StatusMovedToStock || req.Status == StatusCancelled {
			return shared.NewStateError("item request "+req.Code, string(req.Status), "any open state")
		}
		return tx.UpdateStatus(ctx, id, to)
	})
	if err != nil {
		return ItemRequest{}, err
	}
	return s.repo.Get(ctx, id)
}

// Cancel closes a request that has not been moved to stock.
func (s *Service) Cancel(ctx context.Context, actor shared.Actor, id int64) (ItemRequest, error) {
	if !actor.CanPlaceOrders() {
		return ItemRequest{}, shared.ErrForbidden
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if req.Status == StatusMovedToStock || req.Status == StatusCancelled {
			return shared.NewStateError("item request "+req.Code, string(req.Status), "any open state")
		}
		return tx.UpdateStatus(ctx, id, StatusCancelled)
	})
	if err != nil {
		return ItemRequest{}, err
	}
	return s.repo.Get(ctx, id)
}

// ConfirmStock copies every line of the request into the supplier stock
// pool, one pool row per line with no merging, and closes the request with
// MOVED_TO_STOCK. Each confirmation batch stays independently traceable
// through its rows' request reference. Accepted from any state except
// MOVED_TO_STOCK.
func (s *Service) ConfirmStock(ctx context.Context, actor shared.Actor, id int64) (ItemRequest, error) {
	if !actor.CanPlaceOrders() {
		return ItemRequest{}, shared.ErrForbidden
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if req.Status == StatusMovedToStock {
			return shared.NewStateError("item request "+req.Code, string(req.Status),
				"any state except "+string(StatusMovedToStock))
		}
		lines, err := tx.Lines(ctx, id)
		if err != nil {
			return err
		}
		for _, line := range lines {
			if _, err := tx.InsertSupplierStock(ctx, StockRow{
				SupplierID:  req.SupplierID,
				ItemID:      line.ItemID,
				VariationID: line.VariationID,
				Qty:         line.Qty,
				RequestID:   req.ID,
				ConfirmedBy: actor.UserID,
				Note:        "From request " + req.Code,
			}); err != nil {
				return err
			}
		}
		return tx.UpdateStatus(ctx, id, StatusMovedToStock)
	})
	if err != nil {
		return ItemRequest{}, err
	}
	return s.repo.Get(ctx, id)
}

// List returns item requests matching the filter.
func (s *Service) List(ctx context.Context, actor shared.Actor, filter ListFilter) ([]ItemRequest, error) {
	if actor.IsBranchUser() || actor.Role == shared.RoleWarehouse {
		return nil, shared.ErrForbidden
	}
	return s.repo.List(ctx, filter)
}

// Get returns one item request with lines.
func (s *Service) Get(ctx context.Context, actor shared.Actor, id int64) (ItemRequest, error) {
	if actor.IsBranchUser() || actor.Role == shared.RoleWarehouse {
		return ItemRequest{}, shared.ErrForbidden
	}
	return s.repo.Get(ctx, id)
}

// Stock returns the supplier stock pool together with quantities still
// owed on open orders.
func (s *Service) Stock(ctx context.Context, actor shared.Actor, supplierID int64) (StockView, error) {
	if actor.IsBranchUser() || actor.Role == shared.RoleWarehouse {
		return StockView{}, shared.ErrForbidden
	}
	rows, err := s.repo.ListStock(ctx, supplierID)
	if err != nil {
		return StockView{}, err
	}
	pending, err := s.repo.PendingOnOrder(ctx, supplierID)
	if err != nil {
		return StockView{}, err
	}
	return StockView{Rows: rows, Pending: pending}, nil
}
