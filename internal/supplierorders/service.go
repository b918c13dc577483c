package supplierorders

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/larder-scm/larder-scm/internal/codes"
	"github.com/larder-scm/larder-scm/internal/mail"
	"github.com/larder-scm/larder-scm/internal/shared"
	"github.com/larder-scm/larder-scm/internal/stock"
)

const codeRetries = 5

// tokenTTL is recorded on new portal tokens. Expiry is stored for audit but
// not enforced on access.
const tokenTTL = 90 * 24 * time.Hour

// RepositoryPort abstracts repository usage for Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	List(ctx context.Context, filter ListFilter) ([]Order, error)
	Get(ctx context.Context, id int64) (Order, error)
	GetByToken(ctx context.Context, token string) (PortalView, error)
	SetEmailSent(ctx context.Context, orderID int64) error
	SupplierEmail(ctx context.Context, supplierID int64) (name, email string, err error)
}

// Service drives the supplier order lifecycle.
type Service struct {
	repo    RepositoryPort
	mailer  mail.Enqueuer
	logger  *slog.Logger
	baseURL string
}

// NewService builds Service. baseURL is the public origin used in portal
// links, e.g. https://scm.example.com.
func NewService(repo RepositoryPort, mailer mail.Enqueuer, logger *slog.Logger, baseURL string) *Service {
	return &Service{repo: repo, mailer: mailer, logger: logger, baseURL: strings.TrimRight(baseURL, "/")}
}

// Place creates a new order in SENT, consuming the supplier's confirmed
// stock pool oldest-first. A shortfall on any line blocks the whole order;
// nothing is consumed. The notification email goes out after commit and its
// failure never affects the order.
func (s *Service) Place(ctx context.Context, actor shared.Actor, input PlaceInput) (Order, error) {
	if !actor.CanPlaceOrders() {
		return Order{}, shared.ErrForbidden
	}
	if input.SupplierID == 0 {
		return Order{}, shared.Validationf("supplier is required")
	}
	if len(input.Lines) == 0 {
		return Order{}, shared.Validationf("an order needs at least one line")
	}
	for _, line := range input.Lines {
		if line.ItemID == 0 {
			return Order{}, shared.Validationf("item is required on every line")
		}
		if line.Qty.Sign() <= 0 {
			return Order{}, shared.Validationf("ordered quantity must be positive")
		}
		if line.UnitPrice.Sign() < 0 {
			return Order{}, shared.Validationf("unit price cannot be negative")
		}
	}
	supplierName, supplierEmail, err := s.repo.SupplierEmail(ctx, input.SupplierID)
	if err != nil {
		return Order{}, err
	}

	order := Order{
		SupplierID:     input.SupplierID,
		SupplierName:   supplierName,
		Status:         StatusSent,
		HoldAtSupplier: input.HoldAtSupplier,
		DeliveryDate:   input.DeliveryDate,
		CreatedBy:      actor.UserID,
	}
	token, err := newPortalToken()
	if err != nil {
		return Order{}, err
	}
	year := time.Now().Year()
	var lastErr error
	for attempt := 0; attempt < codeRetries; attempt++ {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if err := consumeSupplierStock(ctx, tx, input.SupplierID, input.Lines); err != nil {
				return err
			}
			existing, err := tx.OrderCodes(ctx, year)
			if err != nil {
				return err
			}
			order.Code = codes.YearCode(codes.SupplierOrderPrefix, year, codes.MaxSuffix(existing)+1, true)
			order.ID, err = tx.InsertOrder(ctx, order)
			if err != nil {
				return err
			}
			lines := make([]Line, 0, len(input.Lines))
			for _, in := range input.Lines {
				lines = append(lines, Line{
					ItemID:      in.ItemID,
					VariationID: in.VariationID,
					QtyOrdered:  in.Qty,
					UnitPrice:   in.UnitPrice,
				})
			}
			if err := tx.InsertLines(ctx, order.ID, lines); err != nil {
				return err
			}
			_, err = tx.InsertToken(ctx, PortalToken{
				Token:      token,
				SupplierID: input.SupplierID,
				OrderID:    order.ID,
				ExpiresAt:  time.Now().Add(tokenTTL),
			})
			return err
		})
		if err == nil {
			s.notifyPlaced(ctx, order, supplierEmail, token)
			return s.repo.Get(ctx, order.ID)
		}
		if !codes.IsUniqueViolation(err) {
			return Order{}, err
		}
		lastErr = err
	}
	return Order{}, fmt.Errorf("allocating order code: %w", lastErr)
}

// consumeSupplierStock validates sufficiency for the whole order and then
// eats the pool oldest confirmed_at first. Lines repeating an (item,
// variation) draw from the same pool, so required quantities are summed per
// key before checking. Shortfalls across all keys are collected before
// anything is touched.
func consumeSupplierStock(ctx context.Context, tx TxRepository, supplierID int64, lines []PlaceLine) error {
	type poolKey struct {
		itemID      int64
		variationID int64
	}
	required := make(map[poolKey]decimal.Decimal)
	keys := make([]poolKey, 0, len(lines))
	for _, line := range lines {
		k := poolKey{line.ItemID, line.VariationID}
		if _, seen := required[k]; !seen {
			keys = append(keys, k)
		}
		required[k] = required[k].Add(line.Qty)
	}

	pools := make(map[poolKey][]SupplierStockRow, len(keys))
	var shortfalls []shared.Shortfall
	for _, k := range keys {
		rows, err := tx.SupplierStockForUpdate(ctx, supplierID, k.itemID, k.variationID)
		if err != nil {
			return err
		}
		total := decimal.Zero
		for _, row := range rows {
			total = total.Add(row.Qty)
		}
		pools[k] = rows
		if total.LessThan(required[k]) {
			shortfalls = append(shortfalls, shared.Shortfall{
				ItemID:      k.itemID,
				VariationID: k.variationID,
				Required:    required[k],
				Available:   total,
			})
		}
	}
	if len(shortfalls) > 0 {
		return &shared.InsufficiencyError{Shortfalls: shortfalls}
	}
	for _, k := range keys {
		remaining := required[k]
		for _, row := range pools[k] {
			if remaining.Sign() <= 0 {
				break
			}
			if row.Qty.LessThanOrEqual(remaining) {
				if err := tx.DeleteSupplierStock(ctx, row.ID); err != nil {
					return err
				}
				remaining = remaining.Sub(row.Qty)
				continue
			}
			if err := tx.SetSupplierStockQty(ctx, row.ID, row.Qty.Sub(remaining)); err != nil {
				return err
			}
			remaining = decimal.Zero
		}
	}
	return nil
}

// MarkReceived credits the warehouse for every line and closes the order.
// Accepted from any state except RECEIVED. Orders held at the supplier are
// booked as a transfer out of the supplier-hold location.
func (s *Service) MarkReceived(ctx context.Context, actor shared.Actor, orderID int64, note string) (Order, error) {
	if !actor.CanFulfill() {
		return Order{}, shared.ErrForbidden
	}
	var order Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status == StatusReceived {
			return shared.NewStateError("supplier order "+order.Code, string(order.Status),
				"any state except "+string(StatusReceived))
		}
		lines, err := tx.OrderLines(ctx, orderID)
		if err != nil {
			return err
		}
		warehouse, err := tx.StockWarehouse(ctx)
		if err != nil {
			return err
		}
		reason := stock.ReasonDeliveryReceived
		var fromLocation int64
		if order.HoldAtSupplier {
			hold, err := tx.StockSupplierHold(ctx, order.SupplierID, order.SupplierName)
			if err != nil {
				return err
			}
			reason = stock.ReasonSupplierToWarehouse
			fromLocation = hold.ID
		}
		for _, line := range lines {
			if err := tx.StockCredit(ctx, line.ItemID, line.VariationID, warehouse.ID, line.QtyOrdered); err != nil {
				return err
			}
			if err := tx.StockInsertEntry(ctx, stock.Entry{
				ItemID:         line.ItemID,
				VariationID:    line.VariationID,
				FromLocationID: fromLocation,
				ToLocationID:   warehouse.ID,
				QtyChange:      line.QtyOrdered,
				Reason:         reason,
				Ref:            stock.SupplierOrderRef(order.ID),
				Note:           note,
				CreatedBy:      actor.UserID,
			}); err != nil {
				return err
			}
		}
		if err := tx.SetLinesReceived(ctx, orderID); err != nil {
			return err
		}
		return tx.UpdateStatus(ctx, orderID, StatusReceived)
	})
	if err != nil {
		return Order{}, err
	}
	if note != "" {
		s.notifyReceived(ctx, order, note)
	}
	return s.repo.Get(ctx, orderID)
}

// CancelAndRecreate cancels an order and opens a fresh one duplicating its
// lines, with a new code and portal token. The cancelled order keeps its
// history. One email references both invoices.
func (s *Service) CancelAndRecreate(ctx context.Context, actor shared.Actor, orderID int64) (Order, error) {
	if !actor.CanPlaceOrders() {
		return Order{}, shared.ErrForbidden
	}
	token, err := newPortalToken()
	if err != nil {
		return Order{}, err
	}
	var oldOrder, newOrder Order
	year := time.Now().Year()
	var lastErr error
	for attempt := 0; attempt < codeRetries; attempt++ {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			oldOrder, err = tx.GetOrderForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			if oldOrder.Status == StatusCancelled || oldOrder.Status == StatusReceived {
				return shared.NewStateError("supplier order "+oldOrder.Code, string(oldOrder.Status),
					"any state except "+string(StatusCancelled)+" and "+string(StatusReceived))
			}
			lines, err := tx.OrderLines(ctx, orderID)
			if err != nil {
				return err
			}
			if err := tx.UpdateStatus(ctx, orderID, StatusCancelled); err != nil {
				return err
			}
			existing, err := tx.OrderCodes(ctx, year)
			if err != nil {
				return err
			}
			newOrder = Order{
				SupplierID:     oldOrder.SupplierID,
				SupplierName:   oldOrder.SupplierName,
				Status:         StatusSent,
				HoldAtSupplier: oldOrder.HoldAtSupplier,
				DeliveryDate:   oldOrder.DeliveryDate,
				CreatedBy:      actor.UserID,
			}
			newOrder.Code = codes.YearCode(codes.SupplierOrderPrefix, year, codes.MaxSuffix(existing)+1, true)
			newOrder.ID, err = tx.InsertOrder(ctx, newOrder)
			if err != nil {
				return err
			}
			copies := make([]Line, 0, len(lines))
			for _, line := range lines {
				copies = append(copies, Line{
					ItemID:      line.ItemID,
					VariationID: line.VariationID,
					QtyOrdered:  line.QtyOrdered,
					UnitPrice:   line.UnitPrice,
				})
			}
			if err := tx.InsertLines(ctx, newOrder.ID, copies); err != nil {
				return err
			}
			_, err = tx.InsertToken(ctx, PortalToken{
				Token:      token,
				SupplierID: newOrder.SupplierID,
				OrderID:    newOrder.ID,
				ExpiresAt:  time.Now().Add(tokenTTL),
			})
			return err
		})
		if err == nil {
			s.notifyRecreated(ctx, oldOrder, newOrder, token)
			return s.repo.Get(ctx, newOrder.ID)
		}
		if !codes.IsUniqueViolation(err) {
			return Order{}, err
		}
		lastErr = err
	}
	return Order{}, fmt.Errorf("allocating order code: %w", lastErr)
}

// progressions holds the procurement-driven status updates that carry no
// stock effect.
var progressions = map[Status]bool{
	StatusConfirmed:    true,
	StatusInProduction: true,
	StatusReady:        true,
	StatusOnHold:       true,
}

// SetStatus applies a plain progression update such as CONFIRMED or
// IN_PRODUCTION. Terminal and stock-moving states go through their own
// operations.
func (s *Service) SetStatus(ctx context.Context, actor shared.Actor, orderID int64, to Status) (Order, error) {
	if !actor.CanPlaceOrders() {
		return Order{}, shared.ErrForbidden
	}
	if !progressions[to] {
		return Order{}, shared.Validationf("status %s cannot be set directly", to)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status == StatusCancelled || order.Status == StatusReceived {
			return shared.NewStateError("supplier order "+order.Code, string(order.Status),
				"any open state")
		}
		return tx.UpdateStatus(ctx, orderID, to)
	})
	if err != nil {
		return Order{}, err
	}
	return s.repo.Get(ctx, orderID)
}

// ViewByToken resolves a portal token for the unauthenticated supplier
// view. Unknown tokens come back as not found, indistinguishable from a
// missing order.
func (s *Service) ViewByToken(ctx context.Context, token string) (PortalView, error) {
	if token == "" {
		return PortalView{}, shared.ErrNotFound
	}
	return s.repo.GetByToken(ctx, token)
}

// SignInvoice records the supplier's signature through a portal token. An
// order takes at most one signature; a second attempt is rejected. The
// token is marked used and the order moves to SIGNED.
func (s *Service) SignInvoice(ctx context.Context, token, signerName, signatureData string) (Signature, error) {
	if token == "" {
		return Signature{}, shared.ErrNotFound
	}
	if strings.TrimSpace(signerName) == "" {
		return Signature{}, shared.Validationf("signer name is required")
	}
	var sig Signature
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pt, err := tx.GetTokenForUpdate(ctx, token)
		if err != nil {
			return err
		}
		if _, err := tx.GetSignature(ctx, pt.OrderID); err == nil {
			return shared.Validationf("invoice is already signed")
		} else if !errors.Is(err, shared.ErrNotFound) {
			return err
		}
		sig = Signature{
			OrderID:       pt.OrderID,
			SignerName:    strings.TrimSpace(signerName),
			SignatureData: signatureData,
			TokenID:       pt.ID,
		}
		sig.ID, err = tx.InsertSignature(ctx, sig)
		if err != nil {
			return err
		}
		if err := tx.MarkTokenUsed(ctx, pt.ID); err != nil {
			return err
		}
		return tx.UpdateStatus(ctx, pt.OrderID, StatusSigned)
	})
	if err != nil {
		return Signature{}, err
	}
	return sig, nil
}

// List returns orders matching the filter.
func (s *Service) List(ctx context.Context, actor shared.Actor, filter ListFilter) ([]Order, error) {
	if actor.IsBranchUser() {
		return nil, shared.ErrForbidden
	}
	return s.repo.List(ctx, filter)
}

// Get returns one order with lines.
func (s *Service) Get(ctx context.Context, actor shared.Actor, id int64) (Order, error) {
	if actor.IsBranchUser() {
		return Order{}, shared.ErrForbidden
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) portalURL(token string) string {
	return s.baseURL + "/portal/" + token
}

func (s *Service) notifyPlaced(ctx context.Context, order Order, supplierEmail, token string) {
	if supplierEmail == "" {
		return
	}
	body := fmt.Sprintf(
		"A new purchase order %s has been placed with %s.\n\nView and sign the invoice here: %s\n",
		order.Code, order.SupplierName, s.portalURL(token))
	s.send(ctx, mail.Message{
		To:      supplierEmail,
		Subject: "Purchase order " + order.Code,
		Body:    body,
	})
	if err := s.repo.SetEmailSent(ctx, order.ID); err != nil {
		s.logger.Warn("stamping email_sent_at failed", "order", order.Code, "error", err)
	}
}

func (s *Service) notifyReceived(ctx context.Context, order Order, note string) {
	_, supplierEmail, err := s.repo.SupplierEmail(ctx, order.SupplierID)
	if err != nil || supplierEmail == "" {
		return
	}
	s.send(ctx, mail.Message{
		To:      supplierEmail,
		Subject: "Delivery received for " + order.Code,
		Body:    fmt.Sprintf("Order %s was received at the warehouse.\n\nNote: %s\n", order.Code, note),
	})
}

func (s *Service) notifyRecreated(ctx context.Context, oldOrder, newOrder Order, token string) {
	_, supplierEmail, err := s.repo.SupplierEmail(ctx, newOrder.SupplierID)
	if err != nil || supplierEmail == "" {
		return
	}
	body := fmt.Sprintf(
		"Purchase order %s has been cancelled and reissued as %s with the same items.\n\nView and sign the new invoice here: %s\n",
		oldOrder.Code, newOrder.Code, s.portalURL(token))
	s.send(ctx, mail.Message{
		To:      supplierEmail,
		Subject: fmt.Sprintf("Order %s reissued as %s", oldOrder.Code, newOrder.Code),
		Body:    body,
	})
	if err := s.repo.SetEmailSent(ctx, newOrder.ID); err != nil {
		s.logger.Warn("stamping email_sent_at failed", "order", newOrder.Code, "error", err)
	}
}

func (s *Service) send(ctx context.Context, msg mail.Message) {
	if err := s.mailer.Enqueue(ctx, msg); err != nil {
		s.logger.Warn("email enqueue failed", "to", msg.To, "subject", msg.Subject, "error", err)
	}
}

func newPortalToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
