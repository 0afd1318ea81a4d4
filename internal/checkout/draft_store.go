package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// DraftStore keeps drafts in redis between requests.
type DraftStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDraftStore constructs the store. Drafts expire ttl after their last save.
func NewDraftStore(client *redis.Client, ttl time.Duration) *DraftStore {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &DraftStore{client: client, ttl: ttl}
}

// Save writes d, refreshing its expiry.
func (s *DraftStore) Save(ctx context.Context, d *Draft) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, shared.DraftKey(d.ID), raw, s.ttl).Err(); err != nil {
		return shared.Persistence("save", "draft", err, d.ID)
	}
	return nil
}

// Load reads a draft by id.
func (s *DraftStore) Load(ctx context.Context, id string) (*Draft, error) {
	raw, err := s.client.Get(ctx, shared.DraftKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, shared.NotFound("draft", id)
	}
	if err != nil {
		return nil, shared.Persistence("load", "draft", err, id)
	}
	var d Draft
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, shared.Persistence("decode", "draft", err, id)
	}
	return &d, nil
}

// Delete removes a draft.
func (s *DraftStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, shared.DraftKey(id)).Err(); err != nil {
		return shared.Persistence("delete", "draft", err, id)
	}
	return nil
}
