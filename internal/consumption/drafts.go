package consumption

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/larder-scm/larder-scm/internal/shared"
)

// DefaultDraftTTL bounds how long a staged upload waits for the operator.
const DefaultDraftTTL = 2 * time.Hour

// DraftStore stages parsed uploads in redis, keyed by branch, user and
// upload id. Drafts expire on their own; cancel deletes eagerly.
type DraftStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDraftStore constructs a DraftStore. A non-positive ttl falls back to
// DefaultDraftTTL.
func NewDraftStore(client *redis.Client, ttl time.Duration) *DraftStore {
	if ttl <= 0 {
		ttl = DefaultDraftTTL
	}
	return &DraftStore{client: client, ttl: ttl}
}

func draftKey(branchID, userID int64, uploadID string) string {
	return fmt.Sprintf("consumption:draft:%d:%d:%s", branchID, userID, uploadID)
}

// Put stages rows as a new draft and returns it with a fresh upload id.
func (s *DraftStore) Put(ctx context.Context, branchID, userID int64, rows []ParsedRow) (Draft, error) {
	draft := Draft{
		UploadID:  uuid.NewString(),
		BranchID:  branchID,
		UserID:    userID,
		Rows:      rows,
		CreatedAt: time.Now(),
	}
	payload, err := json.Marshal(draft)
	if err != nil {
		return Draft{}, err
	}
	key := draftKey(branchID, userID, draft.UploadID)
	if err := s.client.Set(ctx, key, payload, s.ttl).Err(); err != nil {
		return Draft{}, err
	}
	return draft, nil
}

// Get loads a staged draft. An expired or unknown upload id is not found.
func (s *DraftStore) Get(ctx context.Context, branchID, userID int64, uploadID string) (Draft, error) {
	payload, err := s.client.Get(ctx, draftKey(branchID, userID, uploadID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Draft{}, shared.ErrNotFound
	}
	if err != nil {
		return Draft{}, err
	}
	var draft Draft
	if err := json.Unmarshal(payload, &draft); err != nil {
		return Draft{}, err
	}
	return draft, nil
}

// Delete discards a staged draft. Deleting a missing draft is a no-op.
func (s *DraftStore) Delete(ctx context.Context, branchID, userID int64, uploadID string) error {
	return s.client.Del(ctx, draftKey(branchID, userID, uploadID)).Err()
}
