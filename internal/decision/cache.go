package decision

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Cache keeps suggestion lists in Redis so repeated fetches during a review
// session skip the rejection lookup. A nil cache is a valid always-miss cache.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache constructs Cache.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

func suggestionKey(issueID uuid.UUID) string {
	return "decision:suggestions:" + issueID.String()
}

// Get returns the cached suggestion list, or miss on any error.
func (c *Cache) Get(ctx context.Context, issueID uuid.UUID) ([]SuggestedAction, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, suggestionKey(issueID)).Bytes()
	if err != nil {
		return nil, false
	}
	var suggestions []SuggestedAction
	if err := json.Unmarshal(raw, &suggestions); err != nil {
		return nil, false
	}
	return suggestions, true
}

// Set stores the suggestion list, best effort.
func (c *Cache) Set(ctx context.Context, issueID uuid.UUID, suggestions []SuggestedAction) {
	if c == nil || c.client == nil {
		return
	}
	raw, err := json.Marshal(suggestions)
	if err != nil {
		return
	}
	c.client.Set(ctx, suggestionKey(issueID), raw, c.ttl)
}

// Invalidate drops the cached list after a decision changes it.
func (c *Cache) Invalidate(ctx context.Context, issueID uuid.UUID) {
	if c == nil || c.client == nil {
		return
	}
	c.client.Del(ctx, suggestionKey(issueID))
}
