package telemetry

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// OverflowRoute replaces route labels once the distinct-route limit is hit.
const OverflowRoute = "other"

// CardinalityLimiter bounds the number of distinct values a label may take.
//
// Normalization already folds numeric ids, but paths carrying opaque tokens
// (uuids, hashes) would still produce a new label per request. Values seen
// recently keep passing through; once limit distinct values are live, new
// ones collapse into OverflowRoute. Entries unused for ttl are forgotten.
type CardinalityLimiter struct {
	mu    sync.Mutex
	limit int
	seen  *expirable.LRU[string, struct{}]
}

// NewCardinalityLimiter creates a limiter. A limit <= 0 disables limiting.
func NewCardinalityLimiter(limit int, ttl time.Duration) *CardinalityLimiter {
	if limit <= 0 {
		return &CardinalityLimiter{}
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CardinalityLimiter{
		limit: limit,
		// Capacity is one above the limit so a full set never evicts a live
		// value to make room for an overflowing one.
		seen: expirable.NewLRU[string, struct{}](limit+1, nil, ttl),
	}
}

// CheckAndLimit returns value if it is already tracked or there is room for
// it, and OverflowRoute otherwise.
func (c *CardinalityLimiter) CheckAndLimit(value string) string {
	if c == nil || c.seen == nil {
		return value
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.seen.Contains(value) {
		c.seen.Add(value, struct{}{}) // refresh ttl
		return value
	}
	if c.seen.Len() >= c.limit {
		return OverflowRoute
	}
	c.seen.Add(value, struct{}{})
	return value
}

// CurrentCardinality returns the number of live tracked values
func (c *CardinalityLimiter) CurrentCardinality() int {
	if c == nil || c.seen == nil {
		return 0
	}
	return c.seen.Len()
}

// MaxCardinality returns the configured limit, 0 when unlimited
func (c *CardinalityLimiter) MaxCardinality() int {
	if c == nil {
		return 0
	}
	return c.limit
}
