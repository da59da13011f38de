package wallet

import "time"

// BalanceCache is the single cached balance plus an explicit validity flag.
// The state machine has two named states: Valid (value trustworthy, reads
// return immediately) and Invalidated (next read must hit the network).
// Writes transition Valid → Invalidated before the state-changing call starts
// and back to Valid only after the post-write balance fetch succeeds, so a
// concurrent reader can never trust a value that an in-flight write is about
// to change.
type BalanceCache struct {
	value     float64
	fetchedAt time.Time
	valid     bool
	populated bool
}

// Valid reports whether the cached value is trustworthy.
func (c *BalanceCache) Valid() bool {
	return c.valid
}

// Value returns the cached balance and whether it may be trusted.
func (c *BalanceCache) Value() (float64, bool) {
	return c.value, c.valid
}

// LastKnown returns the most recently fetched balance regardless of validity.
// Used only as a degraded fallback when a fresh fetch fails.
func (c *BalanceCache) LastKnown() (float64, bool) {
	return c.value, c.populated
}

// FetchedAt returns when the cached value was fetched.
func (c *BalanceCache) FetchedAt() time.Time {
	return c.fetchedAt
}

// Populate stores a freshly fetched balance and transitions to Valid.
func (c *BalanceCache) Populate(value float64) {
	c.value = value
	c.fetchedAt = time.Now()
	c.valid = true
	c.populated = true
}

// Invalidate transitions to Invalidated. The stale value is kept for the
// degraded read fallback but is no longer returned as authoritative.
func (c *BalanceCache) Invalidate() {
	c.valid = false
}
