package postgres

import (
	"context"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/rebill/pkg/billing"
)

var _ billing.CardInvalidator = (*CachedCards)(nil)

// CachedCards wraps a CardDirectory with an expiring in-memory cache of cards by id.
// A run reads the same few cards repeatedly (one customer, many subscriptions);
// the TTL bounds how stale a deleted or replaced card can be.
type CachedCards struct {
	next   billing.CardDirectory
	cache  *lru.LRU[int64, *billing.Card]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachedCards creates a cache holding up to size cards for ttl
func NewCachedCards(next billing.CardDirectory, size int, ttl time.Duration) *CachedCards {
	if size < 10 {
		size = 10
	}
	return &CachedCards{
		next:  next,
		cache: lru.NewLRU[int64, *billing.Card](size, nil, ttl),
	}
}

// GetCard returns a cached card or loads it
func (c *CachedCards) GetCard(ctx context.Context, cardID int64) (*billing.Card, error) {
	if card, ok := c.cache.Get(cardID); ok {
		c.hits.Add(1)
		return card, nil
	}
	c.misses.Add(1)

	card, err := c.next.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	c.cache.Add(cardID, card)
	return card, nil
}

// FindReplacementCard always asks the underlying directory and caches the result
func (c *CachedCards) FindReplacementCard(ctx context.Context, customerID int64, asOf time.Time) (*billing.Card, error) {
	card, err := c.next.FindReplacementCard(ctx, customerID, asOf)
	if err != nil {
		return nil, err
	}
	if card == nil {
		return nil, nil
	}
	c.cache.Add(card.ID, card)
	return card, nil
}

// Invalidate drops a card from the cache. It satisfies billing.CardInvalidator.
func (c *CachedCards) Invalidate(cardID int64) {
	c.cache.Remove(cardID)
}

// CacheStats reports cache usage
type CacheStats struct {
	Hits    int64
	Misses  int64
	Entries int
}

// Stats returns cache hit and miss counts
func (c *CachedCards) Stats() CacheStats {
	return CacheStats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.cache.Len(),
	}
}
