package matcher

import (
	"sort"
	"sync"
)

// ClaimSet tracks which invoices and payment complements have been consumed
// by matches within a run. Claims are all-or-nothing so two movements can
// never be assigned overlapping invoice sets, even when matching runs on
// multiple workers.
type ClaimSet struct {
	mu      sync.Mutex
	claimed map[string]string // claimed id -> movement id that owns it
}

// NewClaimSet creates an empty claim set.
func NewClaimSet() *ClaimSet {
	return &ClaimSet{claimed: make(map[string]string)}
}

// Claim atomically marks every id as consumed by the given movement. If any
// id is already claimed, nothing is claimed and Claim returns false.
func (c *ClaimSet) Claim(movementID string, ids ...string) bool {
	if len(ids) == 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range ids {
		if _, taken := c.claimed[id]; taken {
			return false
		}
	}
	for _, id := range ids {
		c.claimed[id] = movementID
	}
	return true
}

// IsClaimed reports whether the id has been consumed.
func (c *ClaimSet) IsClaimed(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, taken := c.claimed[id]
	return taken
}

// AnyClaimed reports whether any of the ids has been consumed.
func (c *ClaimSet) AnyClaimed(ids []string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		if _, taken := c.claimed[id]; taken {
			return true
		}
	}
	return false
}

// Count returns the number of claimed ids.
func (c *ClaimSet) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.claimed)
}

// ClaimedIDs returns the claimed ids in sorted order.
func (c *ClaimSet) ClaimedIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.claimed))
	for id := range c.claimed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
