package domain

import (
	"sort"
	"time"
)

// EntryType classifies a ledger movement.
type EntryType string

const (
	EntryTypePurchase   EntryType = "purchase"
	EntryTypeCommission EntryType = "commission"
	EntryTypePayout     EntryType = "payout"
	EntryTypeRefund     EntryType = "refund"
	EntryTypeAdjustment EntryType = "adjustment"
)

// IsValid reports whether t is a known entry type.
func (t EntryType) IsValid() bool {
	switch t {
	case EntryTypePurchase, EntryTypeCommission, EntryTypePayout, EntryTypeRefund, EntryTypeAdjustment:
		return true
	}

	return false
}

// EntryStatus is fixed at commit time; entries are never updated.
type EntryStatus string

const (
	EntryStatusPosted  EntryStatus = "posted"
	EntryStatusPending EntryStatus = "pending"
)

// LedgerEntry is an immutable, directional movement of Amount from FromParty
// to ToParty. Versions are assigned by the ledger engine at commit.
type LedgerEntry struct {
	ID                string
	CommitID          string
	Seq               int64
	Type              EntryType
	Status            EntryStatus
	FromParty         string
	ToParty           string
	Amount            int64
	Denomination      Denomination
	Currency          string
	OrderID           *string
	DisputeID         *string
	BatchID           *string
	BatchLineID       *string
	ExternalReference *string
	ReversesEntryID   *string
	Memo              string
	FromVersion       int64
	ToVersion         int64
	CreatedAt         time.Time
}

// Validate checks a single entry before commit.
func (e *LedgerEntry) Validate() error {
	if !e.Type.IsValid() {
		return ErrInvalidEntry
	}

	if e.Status == "" {
		e.Status = EntryStatusPosted
	}

	if e.Status != EntryStatusPosted && e.Status != EntryStatusPending {
		return ErrInvalidEntry
	}

	if !e.Denomination.IsValid() {
		return ErrInvalidEntry
	}

	if e.Amount <= 0 {
		return ErrInvalidAmount
	}

	if e.FromParty == "" || e.ToParty == "" {
		return ErrInvalidParty
	}

	if e.FromParty == e.ToParty {
		return ErrSameParty
	}

	return nil
}

// ClearingSigned returns the entry's signed effect on the clearing party.
func (e *LedgerEntry) ClearingSigned() int64 {
	switch {
	case e.ToParty == PartyClearing:
		return e.Amount
	case e.FromParty == PartyClearing:
		return -e.Amount
	default:
		return 0
	}
}

// SignedFor returns the entry's effect on party's balance.
func (e *LedgerEntry) SignedFor(party string) int64 {
	switch party {
	case e.ToParty:
		return e.Amount
	case e.FromParty:
		return -e.Amount
	default:
		return 0
	}
}

// VersionFor returns the account version the entry produced for party.
func (e *LedgerEntry) VersionFor(party string) int64 {
	if party == e.ToParty {
		return e.ToVersion
	}

	return e.FromVersion
}

// Keys returns the two ledger accounts the entry touches.
func (e *LedgerEntry) Keys() (from, to AccountKey) {
	return AccountKey{Party: e.FromParty, Denomination: e.Denomination},
		AccountKey{Party: e.ToParty, Denomination: e.Denomination}
}

type conservationKey struct {
	orderID      string
	denomination Denomination
}

// CheckConservation verifies that, for every order referenced by entries, the
// clearing-signed sum per denomination is zero.
func CheckConservation(entries []*LedgerEntry) error {
	sums := make(map[conservationKey]int64)

	for _, e := range entries {
		if e.OrderID == nil {
			continue
		}

		k := conservationKey{orderID: *e.OrderID, denomination: e.Denomination}
		sums[k] += e.ClearingSigned()
	}

	keys := make([]conservationKey, 0, len(sums))
	for k := range sums {
		keys = append(keys, k)
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].orderID != keys[j].orderID {
			return keys[i].orderID < keys[j].orderID
		}
		return keys[i].denomination < keys[j].denomination
	})

	for _, k := range keys {
		if sums[k] != 0 {
			return &UnbalancedEntrySetError{OrderID: k.orderID, Denomination: k.denomination, Imbalance: sums[k]}
		}
	}

	return nil
}

// SumFor replays entries into party's balance in denomination d.
func SumFor(entries []*LedgerEntry, party string, d Denomination) int64 {
	var total int64

	for _, e := range entries {
		if e.Denomination != d {
			continue
		}

		total += e.SignedFor(party)
	}

	return total
}

// CommitResult describes one atomic ledger commit.
type CommitResult struct {
	CommitID    string
	Entries     []*LedgerEntry
	CommittedAt time.Time
}
