package security

import (
	"github.com/quickdraw-trading/quickdraw/internal/chain"
)

// ---------------------------------------------------------------------------
// Blacklist Check
// ---------------------------------------------------------------------------

// Blacklist is a fixed set of rejected addresses: tokens, deployers,
// owners. Lookup is checksum-insensitive.
type Blacklist struct {
	entries map[chain.Address]struct{}
}

// NewBlacklist builds the set from configured addresses.
func NewBlacklist(addrs []string) *Blacklist {
	entries := make(map[chain.Address]struct{}, len(addrs))
	for _, a := range addrs {
		entries[chain.NormalizeAddress(a)] = struct{}{}
	}
	return &Blacklist{entries: entries}
}

// Contains reports whether addr is blacklisted.
func (b *Blacklist) Contains(addr chain.Address) bool {
	if addr == "" {
		return false
	}
	_, ok := b.entries[chain.NormalizeAddress(string(addr))]
	return ok
}

// Size returns the number of entries.
func (b *Blacklist) Size() int {
	return len(b.entries)
}
