package consumption

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/larder-scm/larder-scm/internal/shared"
)

type memoryRepo struct {
	rules  map[int64]*Rule // by rule id
	daily  map[string]*DailyRow
	nextID int64
}

func newRepo() *memoryRepo {
	return &memoryRepo{rules: map[int64]*Rule{}, daily: map[string]*DailyRow{}}
}

func (r *memoryRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *memoryRepo) addRule(branchID int64, product string, items ...RuleItem) {
	rule := &Rule{ID: r.id(), BranchID: branchID, ProductName: product}
	for _, item := range items {
		item.ID = r.id()
		item.RuleID = rule.ID
		rule.Items = append(rule.Items, item)
	}
	r.rules[rule.ID] = rule
}

func dailyKey(row DailyRow) string {
	return fmt.Sprintf("%s:%d:%d:%d:%s",
		row.Date.Format("2006-01-02"), row.BranchID, row.ItemID, row.VariationID, row.Source)
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r)
}

func (r *memoryRepo) RuleIDByProduct(ctx context.Context, branchID int64, productName string) (int64, error) {
	for _, rule := range r.rules {
		if rule.BranchID == branchID && rule.ProductName == productName {
			return rule.ID, nil
		}
	}
	return 0, shared.ErrNotFound
}

func (r *memoryRepo) InsertRule(ctx context.Context, branchID int64, productName string) (int64, error) {
	rule := &Rule{ID: r.id(), BranchID: branchID, ProductName: productName}
	r.rules[rule.ID] = rule
	return rule.ID, nil
}

func (r *memoryRepo) DeleteRuleItems(ctx context.Context, ruleID int64) error {
	r.rules[ruleID].Items = nil
	return nil
}

func (r *memoryRepo) InsertRuleItem(ctx context.Context, item RuleItem) error {
	item.ID = r.id()
	r.rules[item.RuleID].Items = append(r.rules[item.RuleID].Items, item)
	return nil
}

func (r *memoryRepo) UpsertDaily(ctx context.Context, row DailyRow) error {
	key := dailyKey(row)
	if existing, ok := r.daily[key]; ok {
		existing.QtyConsumed = existing.QtyConsumed.Add(row.QtyConsumed)
		return nil
	}
	row.ID = r.id()
	r.daily[key] = &row
	return nil
}

func (r *memoryRepo) Rules(ctx context.Context, branchID int64) ([]Rule, error) {
	var out []Rule
	for _, rule := range r.rules {
		if rule.BranchID == branchID {
			out = append(out, *rule)
		}
	}
	return out, nil
}

func (r *memoryRepo) RulesByProduct(ctx context.Context, branchID int64) (map[string]Rule, error) {
	rules, _ := r.Rules(ctx, branchID)
	out := make(map[string]Rule, len(rules))
	for _, rule := range rules {
		out[rule.ProductName] = rule
	}
	return out, nil
}

func (r *memoryRepo) ConsumedQuantities(ctx context.Context, branchID int64) (map[[2]int64]decimal.Decimal, error) {
	out := map[[2]int64]decimal.Decimal{}
	for _, row := range r.daily {
		if row.BranchID == branchID {
			key := [2]int64{row.ItemID, row.VariationID}
			out[key] = out[key].Add(row.QtyConsumed)
		}
	}
	return out, nil
}

func (r *memoryRepo) Daily(ctx context.Context, branchID int64, from, to time.Time) ([]DailyRow, error) {
	var out []DailyRow
	for _, row := range r.daily {
		if row.BranchID == branchID {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (r *memoryRepo) ItemCodes(ctx context.Context, itemIDs []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(itemIDs))
	for _, id := range itemIDs {
		out[id] = fmt.Sprintf("ITM-%04d", id)
	}
	return out, nil
}

type fakeDelivered map[[2]int64]decimal.Decimal

func (f fakeDelivered) DeliveredQuantities(ctx context.Context, branchID int64, until time.Time) (map[[2]int64]decimal.Decimal, error) {
	return f, nil
}

func branchActor() shared.Actor {
	return shared.Actor{UserID: 10, Role: shared.RoleBranch, BranchIDs: []int64{5}}
}

func qty(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func newTestService(t *testing.T, repo *memoryRepo, delivered fakeDelivered) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	drafts := NewDraftStore(client, time.Hour)
	return NewService(repo, delivered, drafts, slog.Default()), mr
}

func TestAvailabilityIsDeliveredMinusConsumed(t *testing.T) {
	repo := newRepo()
	delivered := fakeDelivered{{1, 0}: qty(20), {2, 0}: qty(5)}
	svc, _ := newTestService(t, repo, delivered)

	require.NoError(t, repo.UpsertDaily(context.Background(), DailyRow{
		Date: time.Now(), BranchID: 5, ItemID: 1, QtyConsumed: qty(8), Source: SourceFoodics,
	}))

	rows, err := svc.Availability(context.Background(), branchActor(), 5)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.True(t, rows[0].Available.Equal(qty(12)))
	require.True(t, rows[1].Available.Equal(qty(5)))
}

func TestAvailabilitySurfacesNegativeValues(t *testing.T) {
	repo := newRepo()
	svc, _ := newTestService(t, repo, fakeDelivered{{1, 0}: qty(3)})
	require.NoError(t, repo.UpsertDaily(context.Background(), DailyRow{
		Date: time.Now(), BranchID: 5, ItemID: 1, QtyConsumed: qty(7), Source: SourcePackagingCSV,
	}))

	rows, err := svc.Availability(context.Background(), branchActor(), 5)
	require.NoError(t, err)
	require.True(t, rows[0].Available.Equal(qty(-4)))
}

func TestAvailabilityRequiresBranchAccess(t *testing.T) {
	svc, _ := newTestService(t, newRepo(), fakeDelivered{})
	_, err := svc.Availability(context.Background(), branchActor(), 7)
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestApplyAccumulatesAcrossProducts(t *testing.T) {
	repo := newRepo()
	repo.addRule(5, "Burger Box", RuleItem{ItemID: 1, Multiplier: qty(2)})
	repo.addRule(5, "Combo Meal", RuleItem{ItemID: 1, Multiplier: qty(1)}, RuleItem{ItemID: 2, Multiplier: qty(1)})
	svc, _ := newTestService(t, repo, fakeDelivered{{1, 0}: qty(12), {2, 0}: qty(10)})

	result, err := svc.Apply(context.Background(), branchActor(), 5, []ParsedRow{
		{Product: "Burger Box", Qty: qty(3)},
		{Product: "Combo Meal", Qty: qty(4)},
	})
	require.NoError(t, err)
	// item 1: 3*2 + 4*1 = 10, item 2: 4*1 = 4
	require.Len(t, result.Applied, 2)
	require.True(t, result.Applied[0].QtyConsumed.Equal(qty(10)))
	require.True(t, result.Applied[1].QtyConsumed.Equal(qty(4)))
	require.Empty(t, result.Unmatched)

	// a second run the same day accumulates instead of overwriting
	_, err = svc.Apply(context.Background(), branchActor(), 5, []ParsedRow{
		{Product: "Combo Meal", Qty: qty(1)},
	})
	require.NoError(t, err)
	consumed, _ := repo.ConsumedQuantities(context.Background(), 5)
	require.True(t, consumed[[2]int64{1, 0}].Equal(qty(11)))
}

func TestApplyRejectsShortfallEntirely(t *testing.T) {
	repo := newRepo()
	repo.addRule(5, "Burger Box", RuleItem{ItemID: 1, Multiplier: qty(2)})
	repo.addRule(5, "Cup Sleeve", RuleItem{ItemID: 2, Multiplier: qty(1)})
	svc, _ := newTestService(t, repo, fakeDelivered{{1, 0}: qty(5), {2, 0}: qty(1)})

	_, err := svc.Apply(context.Background(), branchActor(), 5, []ParsedRow{
		{Product: "Burger Box", Qty: qty(4)},
		{Product: "Cup Sleeve", Qty: qty(3)},
	})
	var insuff *shared.InsufficiencyError
	require.ErrorAs(t, err, &insuff)
	require.Len(t, insuff.Shortfalls, 2)
	require.True(t, insuff.Shortfalls[0].Required.Equal(qty(8)))
	require.True(t, insuff.Shortfalls[0].Available.Equal(qty(5)))

	// nothing was written
	require.Empty(t, repo.daily)
}

func TestApplyDefaultsNonPositiveMultiplier(t *testing.T) {
	repo := newRepo()
	repo.addRule(5, "Burger Box", RuleItem{ItemID: 1, Multiplier: qty(0)})
	svc, _ := newTestService(t, repo, fakeDelivered{{1, 0}: qty(10)})

	result, err := svc.Apply(context.Background(), branchActor(), 5, []ParsedRow{
		{Product: "Burger Box", Qty: qty(6)},
	})
	require.NoError(t, err)
	require.True(t, result.Applied[0].QtyConsumed.Equal(qty(6)))
}

func TestApplyReportsUnmatchedAsWarnings(t *testing.T) {
	repo := newRepo()
	repo.addRule(5, "Burger Box", RuleItem{ItemID: 1, Multiplier: qty(1)})
	svc, _ := newTestService(t, repo, fakeDelivered{{1, 0}: qty(10)})

	result, err := svc.Apply(context.Background(), branchActor(), 5, []ParsedRow{
		{Product: "Burger Box", Qty: qty(2)},
		{Product: "Mystery Wrap", Qty: qty(1)},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"Mystery Wrap"}, result.Unmatched)
	require.Len(t, result.Applied, 1)
}

func TestDraftLifecycle(t *testing.T) {
	repo := newRepo()
	svc, mr := newTestService(t, repo, fakeDelivered{})
	actor := branchActor()

	sheet := "Product,Quantity\nBurger Box,3\n"
	draft, err := svc.StageUpload(context.Background(), actor, 5, strings.NewReader(sheet))
	require.NoError(t, err)
	require.NotEmpty(t, draft.UploadID)
	require.Len(t, draft.Rows, 1)

	loaded, err := svc.Draft(context.Background(), actor, 5, draft.UploadID)
	require.NoError(t, err)
	require.Equal(t, "Burger Box", loaded.Rows[0].Product)

	// cancel discards without side effects
	require.NoError(t, svc.CancelDraft(context.Background(), actor, 5, draft.UploadID))
	_, err = svc.Draft(context.Background(), actor, 5, draft.UploadID)
	require.ErrorIs(t, err, shared.ErrNotFound)

	// drafts expire on their own
	draft, err = svc.StageUpload(context.Background(), actor, 5, strings.NewReader(sheet))
	require.NoError(t, err)
	mr.FastForward(2 * time.Hour)
	_, err = svc.Draft(context.Background(), actor, 5, draft.UploadID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestApplyDraftDeductsAndClears(t *testing.T) {
	repo := newRepo()
	repo.addRule(5, "Burger Box", RuleItem{ItemID: 1, Multiplier: qty(1)})
	svc, _ := newTestService(t, repo, fakeDelivered{{1, 0}: qty(10)})
	actor := branchActor()

	draft, err := svc.StageUpload(context.Background(), actor, 5, strings.NewReader("Product,Quantity\nBurger Box,3\n"))
	require.NoError(t, err)

	result, err := svc.ApplyDraft(context.Background(), actor, 5, draft.UploadID)
	require.NoError(t, err)
	require.True(t, result.Applied[0].QtyConsumed.Equal(qty(3)))

	_, err = svc.Draft(context.Background(), actor, 5, draft.UploadID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSaveRulesReplacesItemsAndClearsDraft(t *testing.T) {
	repo := newRepo()
	repo.addRule(5, "Burger Box", RuleItem{ItemID: 1, Multiplier: qty(1)}, RuleItem{ItemID: 2, Multiplier: qty(2)})
	svc, _ := newTestService(t, repo, fakeDelivered{})
	actor := branchActor()

	draft, err := svc.StageUpload(context.Background(), actor, 5, strings.NewReader("Product\nBurger Box\n"))
	require.NoError(t, err)

	err = svc.SaveRules(context.Background(), actor, 5, []RuleInput{
		{ProductName: "Burger Box", Items: []RuleItemInput{{ItemID: 3, Multiplier: qty(4)}}},
		{ProductName: "New Wrap", Items: []RuleItemInput{{ItemID: 1, Multiplier: qty(1)}}},
	}, draft.UploadID)
	require.NoError(t, err)

	byProduct, _ := repo.RulesByProduct(context.Background(), 5)
	require.Len(t, byProduct["Burger Box"].Items, 1)
	require.Equal(t, int64(3), byProduct["Burger Box"].Items[0].ItemID)
	require.Len(t, byProduct["New Wrap"].Items, 1)

	_, err = svc.Draft(context.Background(), actor, 5, draft.UploadID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
