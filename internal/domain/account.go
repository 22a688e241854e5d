package domain

import (
	"sort"
	"time"
)

// LedgerAccount is the lock target and sequence source for one party in one
// denomination. It never stores a balance; balances are always derived from
// entries.
type LedgerAccount struct {
	Key          AccountKey
	Version      int64
	Frozen       bool
	FrozenReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NextVersion bumps the account version and returns it.
func (a *LedgerAccount) NextVersion(at time.Time) int64 {
	a.Version++
	a.UpdatedAt = at

	return a.Version
}

// ValidateDebit rejects debits from frozen user accounts. System parties are
// never frozen.
func (a *LedgerAccount) ValidateDebit() error {
	if a.Frozen {
		return ErrAccountFrozen
	}

	return nil
}

// Freeze blocks further spends pending manual audit.
func (a *LedgerAccount) Freeze(reason string, at time.Time) {
	a.Frozen = true
	a.FrozenReason = reason
	a.UpdatedAt = at
}

// Unfreeze lifts an audit freeze.
func (a *LedgerAccount) Unfreeze(at time.Time) {
	a.Frozen = false
	a.FrozenReason = ""
	a.UpdatedAt = at
}

// SortedKeys returns the distinct account keys touched by entries, ordered for
// deterministic lock acquisition.
func SortedKeys(entries []*LedgerEntry) []AccountKey {
	seen := make(map[AccountKey]struct{}, len(entries)*2)
	keys := make([]AccountKey, 0, len(entries)*2)

	for _, e := range entries {
		from, to := e.Keys()
		for _, k := range []AccountKey{from, to} {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	return keys
}

// Balance is a derived per-user, per-denomination balance together with the
// account version it reflects.
type Balance struct {
	Party        string
	Denomination Denomination
	Amount       int64
	Offset       int64
	Frozen       bool
}
