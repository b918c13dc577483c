package consumption

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/larder-scm/larder-scm/internal/shared"
)

// RepositoryPort abstracts repository usage for Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Rules(ctx context.Context, branchID int64) ([]Rule, error)
	RulesByProduct(ctx context.Context, branchID int64) (map[string]Rule, error)
	ConsumedQuantities(ctx context.Context, branchID int64) (map[[2]int64]decimal.Decimal, error)
	Daily(ctx context.Context, branchID int64, from, to time.Time) ([]DailyRow, error)
	ItemCodes(ctx context.Context, itemIDs []int64) (map[int64]string, error)
}

// DeliveredSource reports quantities fulfilled and delivered to a branch,
// keyed by (item id, variation id).
type DeliveredSource interface {
	DeliveredQuantities(ctx context.Context, branchID int64, until time.Time) (map[[2]int64]decimal.Decimal, error)
}

// Service drives rule management, draft staging and CSV deduction.
type Service struct {
	repo      RepositoryPort
	delivered DeliveredSource
	drafts    *DraftStore
	logger    *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, delivered DeliveredSource, drafts *DraftStore, logger *slog.Logger) *Service {
	return &Service{repo: repo, delivered: delivered, drafts: drafts, logger: logger}
}

// Availability derives what the branch can still consume per item and
// variation: delivered minus recorded consumption, computed on read. A
// negative row is returned as-is; it means the recorded facts disagree.
func (s *Service) Availability(ctx context.Context, actor shared.Actor, branchID int64) ([]AvailabilityRow, error) {
	if !actor.ManagesBranch(branchID) {
		return nil, shared.ErrForbidden
	}
	var (
		delivered map[[2]int64]decimal.Decimal
		consumed  map[[2]int64]decimal.Decimal
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		delivered, err = s.delivered.DeliveredQuantities(gctx, branchID, time.Now())
		return err
	})
	g.Go(func() error {
		var err error
		consumed, err = s.repo.ConsumedQuantities(gctx, branchID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	keys := map[[2]int64]bool{}
	for k := range delivered {
		keys[k] = true
	}
	for k := range consumed {
		keys[k] = true
	}
	var itemIDs []int64
	for k := range keys {
		itemIDs = append(itemIDs, k[0])
	}
	itemCodes, err := s.repo.ItemCodes(ctx, itemIDs)
	if err != nil {
		return nil, err
	}
	rows := make([]AvailabilityRow, 0, len(keys))
	for k := range keys {
		d := delivered[k]
		c := consumed[k]
		rows = append(rows, AvailabilityRow{
			ItemID:      k[0],
			ItemCode:    itemCodes[k[0]],
			VariationID: k[1],
			Delivered:   d,
			Consumed:    c,
			Available:   d.Sub(c),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ItemID != rows[j].ItemID {
			return rows[i].ItemID < rows[j].ItemID
		}
		return rows[i].VariationID < rows[j].VariationID
	})
	return rows, nil
}

// Rules returns a branch's packaging rules.
func (s *Service) Rules(ctx context.Context, actor shared.Actor, branchID int64) ([]Rule, error) {
	if !actor.ManagesBranch(branchID) {
		return nil, shared.ErrForbidden
	}
	return s.repo.Rules(ctx, branchID)
}

// SaveRules creates or updates rules for a branch. Each saved rule's item
// mappings are replaced wholesale, never merged. When the save concludes a
// staged upload, its draft is cleared.
func (s *Service) SaveRules(ctx context.Context, actor shared.Actor, branchID int64, inputs []RuleInput, uploadID string) error {
	if !actor.ManagesBranch(branchID) {
		return shared.ErrForbidden
	}
	if len(inputs) == 0 {
		return shared.Validationf("nothing to save")
	}
	for _, input := range inputs {
		if strings.TrimSpace(input.ProductName) == "" {
			return shared.Validationf("product name is required on every rule")
		}
		for _, item := range input.Items {
			if item.ItemID == 0 {
				return shared.Validationf("item is required on every rule mapping")
			}
		}
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, input := range inputs {
			product := norm.NFC.String(strings.TrimSpace(input.ProductName))
			ruleID, err := tx.RuleIDByProduct(ctx, branchID, product)
			if errors.Is(err, shared.ErrNotFound) {
				ruleID, err = tx.InsertRule(ctx, branchID, product)
			}
			if err != nil {
				return err
			}
			if err := tx.DeleteRuleItems(ctx, ruleID); err != nil {
				return err
			}
			for _, item := range input.Items {
				if err := tx.InsertRuleItem(ctx, RuleItem{
					RuleID:     ruleID,
					ItemID:     item.ItemID,
					Multiplier: item.Multiplier,
				}); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if uploadID != "" {
		if err := s.drafts.Delete(ctx, branchID, actor.UserID, uploadID); err != nil {
			s.logger.Warn("clearing draft failed", "branch_id", branchID, "upload_id", uploadID, "error", err)
		}
	}
	return nil
}

// StageUpload parses a sheet and stages it as a draft for the operator to
// map products before rules are saved.
func (s *Service) StageUpload(ctx context.Context, actor shared.Actor, branchID int64, sheet io.Reader) (Draft, error) {
	if !actor.ManagesBranch(branchID) {
		return Draft{}, shared.ErrForbidden
	}
	rows, err := ParseRows(sheet)
	if err != nil {
		return Draft{}, shared.Validationf("%s", err)
	}
	if len(rows) == 0 {
		return Draft{}, shared.Validationf("the sheet has no product rows")
	}
	return s.drafts.Put(ctx, branchID, actor.UserID, rows)
}

// Draft returns a staged upload.
func (s *Service) Draft(ctx context.Context, actor shared.Actor, branchID int64, uploadID string) (Draft, error) {
	if !actor.ManagesBranch(branchID) {
		return Draft{}, shared.ErrForbidden
	}
	return s.drafts.Get(ctx, branchID, actor.UserID, uploadID)
}

// CancelDraft discards a staged upload without side effects.
func (s *Service) CancelDraft(ctx context.Context, actor shared.Actor, branchID int64, uploadID string) error {
	if !actor.ManagesBranch(branchID) {
		return shared.ErrForbidden
	}
	return s.drafts.Delete(ctx, branchID, actor.UserID, uploadID)
}

// Apply deducts a parsed sheet from the branch's availability. Unmatched
// products become warnings; matched products accumulate their rule items'
// quantities, validated in full against availability before anything is
// written. A second run the same day adds to the day's records.
func (s *Service) Apply(ctx context.Context, actor shared.Actor, branchID int64, rows []ParsedRow) (ApplyResult, error) {
	if !actor.ManagesBranch(branchID) {
		return ApplyResult{}, shared.ErrForbidden
	}
	if len(rows) == 0 {
		return ApplyResult{}, shared.Validationf("no rows to apply")
	}
	rules, err := s.repo.RulesByProduct(ctx, branchID)
	if err != nil {
		return ApplyResult{}, err
	}

	required := map[int64]decimal.Decimal{}
	var order []int64
	var unmatched []string
	for _, row := range rows {
		rule, ok := rules[row.Product]
		if !ok {
			unmatched = append(unmatched, row.Product)
			continue
		}
		for _, item := range rule.Items {
			multiplier := item.Multiplier
			if multiplier.Sign() <= 0 {
				multiplier = decimal.NewFromInt(1)
			}
			if _, seen := required[item.ItemID]; !seen {
				order = append(order, item.ItemID)
			}
			required[item.ItemID] = required[item.ItemID].Add(row.Qty.Mul(multiplier))
		}
	}
	if len(required) == 0 {
		return ApplyResult{BranchID: branchID, Unmatched: unmatched}, nil
	}

	available, err := s.availableByItem(ctx, branchID)
	if err != nil {
		return ApplyResult{}, err
	}
	itemCodes, err := s.repo.ItemCodes(ctx, order)
	if err != nil {
		return ApplyResult{}, err
	}
	var shortfalls []shared.Shortfall
	for _, itemID := range order {
		if available[itemID].LessThan(required[itemID]) {
			shortfalls = append(shortfalls, shared.Shortfall{
				ItemID:    itemID,
				ItemCode:  itemCodes[itemID],
				Required:  required[itemID],
				Available: available[itemID],
			})
		}
	}
	if len(shortfalls) > 0 {
		return ApplyResult{}, &shared.InsufficiencyError{Shortfalls: shortfalls}
	}

	today := time.Now().Truncate(24 * time.Hour)
	result := ApplyResult{Date: today, BranchID: branchID, Unmatched: unmatched}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, itemID := range order {
			if err := tx.UpsertDaily(ctx, DailyRow{
				Date:        today,
				BranchID:    branchID,
				ItemID:      itemID,
				QtyConsumed: required[itemID],
				Source:      SourcePackagingCSV,
			}); err != nil {
				return err
			}
			result.Applied = append(result.Applied, AppliedItem{
				ItemID:      itemID,
				ItemCode:    itemCodes[itemID],
				QtyConsumed: required[itemID],
			})
		}
		return nil
	})
	if err != nil {
		return ApplyResult{}, err
	}
	return result, nil
}

// ApplyDraft deducts a staged upload and discards the draft.
func (s *Service) ApplyDraft(ctx context.Context, actor shared.Actor, branchID int64, uploadID string) (ApplyResult, error) {
	draft, err := s.Draft(ctx, actor, branchID, uploadID)
	if err != nil {
		return ApplyResult{}, err
	}
	result, err := s.Apply(ctx, actor, branchID, draft.Rows)
	if err != nil {
		return ApplyResult{}, err
	}
	if err := s.drafts.Delete(ctx, branchID, actor.UserID, uploadID); err != nil {
		s.logger.Warn("clearing draft failed", "branch_id", branchID, "upload_id", uploadID, "error", err)
	}
	return result, nil
}

// Daily lists recorded consumption for a branch.
func (s *Service) Daily(ctx context.Context, actor shared.Actor, branchID int64, from, to time.Time) ([]DailyRow, error) {
	if !actor.ManagesBranch(branchID) {
		return nil, shared.ErrForbidden
	}
	return s.repo.Daily(ctx, branchID, from, to)
}

// availableByItem aggregates availability per item across variations; the
// deduction rules reference items, not variations.
func (s *Service) availableByItem(ctx context.Context, branchID int64) (map[int64]decimal.Decimal, error) {
	delivered, err := s.delivered.DeliveredQuantities(ctx, branchID, time.Now())
	if err != nil {
		return nil, err
	}
	consumed, err := s.repo.ConsumedQuantities(ctx, branchID)
	if err != nil {
		return nil, err
	}
	out := map[int64]decimal.Decimal{}
	for k, qty := range delivered {
		out[k[0]] = out[k[0]].Add(qty)
	}
	for k, qty := range consumed {
		out[k[0]] = out[k[0]].Sub(qty)
	}
	return out, nil
}
