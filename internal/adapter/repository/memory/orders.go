package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/iho/settlement/internal/domain"
	"github.com/iho/settlement/internal/usecase"
)

// OrderRepository implements usecase.OrderRepository.
type OrderRepository struct {
	store *Store
}

func (r *OrderRepository) Create(_ context.Context, tx usecase.Transaction, order *domain.Order) error {
	st, err := r.store.working(tx)
	if err != nil {
		return err
	}

	if _, exists := st.orders[order.ID]; exists {
		return fmt.Errorf("%w: order %s already exists", domain.ErrConflict, order.ID)
	}

	return putOrder(st, order)
}

func (r *OrderRepository) GetByID(_ context.Context, id string) (*domain.Order, error) {
	var (
		o  domain.Order
		ok bool
	)

	r.store.view(func(st *state) { o, ok = st.orders[id] })

	if !ok {
		return nil, domain.ErrOrderNotFound
	}

	return &o, nil
}

func (r *OrderRepository) GetByIDForUpdate(_ context.Context, tx usecase.Transaction, id string) (*domain.Order, error) {
	st, err := r.store.working(tx)
	if err != nil {
		return nil, err
	}

	o, ok := st.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}

	return &o, nil
}

func (r *OrderRepository) GetByPaymentReferenceForUpdate(_ context.Context, tx usecase.Transaction, ref string) (*domain.Order, error) {
	st, err := r.store.working(tx)
	if err != nil {
		return nil, err
	}

	id, ok := st.orderByRef[ref]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}

	o := st.orders[id]

	return &o, nil
}

func (r *OrderRepository) Update(_ context.Context, tx usecase.Transaction, order *domain.Order) error {
	st, err := r.store.working(tx)
	if err != nil {
		return err
	}

	if _, exists := st.orders[order.ID]; !exists {
		return domain.ErrOrderNotFound
	}

	return putOrder(st, order)
}

func putOrder(st *state, order *domain.Order) error {
	if order.PaymentReference != nil {
		if owner, taken := st.orderByRef[*order.PaymentReference]; taken && owner != order.ID {
			return domain.ErrDuplicatePaymentRef
		}
		st.orderByRef[*order.PaymentReference] = order.ID
	}

	st.orders[order.ID] = *order

	return nil
}

func (r *OrderRepository) ListExpiredPending(_ context.Context, createdBefore time.Time, limit int) ([]*domain.Order, error) {
	var out []*domain.Order

	r.store.view(func(st *state) {
		for _, o := range st.orders {
			if o.Status == domain.OrderStatusPending && o.CreatedAt.Before(createdBefore) {
				o := o
				out = append(out, &o)
			}
		}
	})

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return page(out, limit, 0), nil
}

func (r *OrderRepository) ListHeldOrderIDs(_ context.Context, sellerID string, completedAfter time.Time) ([]string, error) {
	var ids []string

	r.store.view(func(st *state) {
		ids = heldOrderIDs(st, sellerID, completedAfter)
	})

	return ids, nil
}

func (r *OrderRepository) ListHeldOrderIDsTx(_ context.Context, tx usecase.Transaction, sellerID string, completedAfter time.Time) ([]string, error) {
	st, err := r.store.working(tx)
	if err != nil {
		return nil, err
	}

	return heldOrderIDs(st, sellerID, completedAfter), nil
}

func heldOrderIDs(st *state, sellerID string, completedAfter time.Time) []string {
	var ids []string

	for _, o := range st.orders {
		if o.SellerID != sellerID || o.Status != domain.OrderStatusCompleted {
			continue
		}

		held := o.CompletedAt != nil && o.CompletedAt.After(completedAfter)

		if disputeID, ok := st.disputeByOrder[o.ID]; ok && st.disputes[disputeID].Status.IsActive() {
			held = true
		}

		if held {
			ids = append(ids, o.ID)
		}
	}

	sort.Strings(ids)

	return ids
}

// ListingRepository implements usecase.ListingRepository.
type ListingRepository struct {
	store *Store
}

func (r *ListingRepository) Create(_ context.Context, tx usecase.Transaction, listing *domain.Listing) error {
	st, err := r.store.working(tx)
	if err != nil {
		return err
	}

	if _, exists := st.listings[listing.ID]; exists {
		return fmt.Errorf("%w: listing %s already exists", domain.ErrConflict, listing.ID)
	}

	st.listings[listing.ID] = *listing

	return nil
}

func (r *ListingRepository) GetByID(_ context.Context, id string) (*domain.Listing, error) {
	var (
		l  domain.Listing
		ok bool
	)

	r.store.view(func(st *state) { l, ok = st.listings[id] })

	if !ok {
		return nil, domain.ErrListingNotFound
	}

	return &l, nil
}

func (r *ListingRepository) GetByIDForUpdate(_ context.Context, tx usecase.Transaction, id string) (*domain.Listing, error) {
	st, err := r.store.working(tx)
	if err != nil {
		return nil, err
	}

	l, ok := st.listings[id]
	if !ok {
		return nil, domain.ErrListingNotFound
	}

	return &l, nil
}

func (r *ListingRepository) Update(_ context.Context, tx usecase.Transaction, listing *domain.Listing) error {
	st, err := r.store.working(tx)
	if err != nil {
		return err
	}

	if _, exists := st.listings[listing.ID]; !exists {
		return domain.ErrListingNotFound
	}

	st.listings[listing.ID] = *listing

	return nil
}

// LicenseRepository implements usecase.LicenseRepository.
type LicenseRepository struct {
	store *Store
}

func (r *LicenseRepository) Create(_ context.Context, tx usecase.Transaction, license *domain.DigitalLicense) error {
	st, err := r.store.working(tx)
	if err != nil {
		return err
	}

	if _, exists := st.licenseByOrder[license.OrderID]; exists {
		return fmt.Errorf("%w: order %s already has a license", domain.ErrConflict, license.OrderID)
	}

	if _, exists := st.licenseByKey[license.Key]; exists {
		return fmt.Errorf("%w: license key collision", domain.ErrConflict)
	}

	st.licenses[license.ID] = *license
	st.licenseByOrder[license.OrderID] = license.ID
	st.licenseByKey[license.Key] = license.ID

	return nil
}

func (r *LicenseRepository) GetByOrderID(_ context.Context, orderID string) (*domain.DigitalLicense, error) {
	return r.lookup(func(st *state) (string, bool) {
		id, ok := st.licenseByOrder[orderID]
		return id, ok
	})
}

func (r *LicenseRepository) GetByKey(_ context.Context, key string) (*domain.DigitalLicense, error) {
	return r.lookup(func(st *state) (string, bool) {
		id, ok := st.licenseByKey[key]
		return id, ok
	})
}

func (r *LicenseRepository) lookup(index func(st *state) (string, bool)) (*domain.DigitalLicense, error) {
	var (
		l  domain.DigitalLicense
		ok bool
	)

	r.store.view(func(st *state) {
		var id string
		if id, ok = index(st); ok {
			l = st.licenses[id]
		}
	})

	if !ok {
		return nil, domain.ErrLicenseNotFound
	}

	return &l, nil
}

func (r *LicenseRepository) Revoke(_ context.Context, tx usecase.Transaction, id string, at time.Time) error {
	st, err := r.store.working(tx)
	if err != nil {
		return err
	}

	l, ok := st.licenses[id]
	if !ok {
		return domain.ErrLicenseNotFound
	}

	l.Revoke(at)
	st.licenses[id] = l

	return nil
}

// DisputeRepository implements usecase.DisputeRepository.
type DisputeRepository struct {
	store *Store
}

func (r *DisputeRepository) Create(_ context.Context, tx usecase.Transaction, dispute *domain.Dispute) error {
	st, err := r.store.working(tx)
	if err != nil {
		return err
	}

	if _, exists := st.disputeByOrder[dispute.OrderID]; exists {
		return domain.ErrDisputeExists
	}

	st.disputes[dispute.ID] = *dispute
	st.disputeByOrder[dispute.OrderID] = dispute.ID

	return nil
}

func (r *DisputeRepository) GetByID(_ context.Context, id string) (*domain.Dispute, error) {
	var (
		d  domain.Dispute
		ok bool
	)

	r.store.view(func(st *state) { d, ok = st.disputes[id] })

	if !ok {
		return nil, domain.ErrDisputeNotFound
	}

	return &d, nil
}

func (r *DisputeRepository) GetByIDForUpdate(_ context.Context, tx usecase.Transaction, id string) (*domain.Dispute, error) {
	st, err := r.store.working(tx)
	if err != nil {
		return nil, err
	}

	d, ok := st.disputes[id]
	if !ok {
		return nil, domain.ErrDisputeNotFound
	}

	return &d, nil
}

func (r *DisputeRepository) GetByOrderID(_ context.Context, orderID string) (*domain.Dispute, error) {
	var (
		d  domain.Dispute
		ok bool
	)

	r.store.view(func(st *state) {
		var id string
		if id, ok = st.disputeByOrder[orderID]; ok {
			d = st.disputes[id]
		}
	})

	if !ok {
		return nil, domain.ErrDisputeNotFound
	}

	return &d, nil
}

func (r *DisputeRepository) Update(_ context.Context, tx usecase.Transaction, dispute *domain.Dispute) error {
	st, err := r.store.working(tx)
	if err != nil {
		return err
	}

	if _, exists := st.disputes[dispute.ID]; !exists {
		return domain.ErrDisputeNotFound
	}

	st.disputes[dispute.ID] = *dispute

	return nil
}

func (r *DisputeRepository) ListOverdue(_ context.Context, now time.Time, limit int) ([]*domain.Dispute, error) {
	var out []*domain.Dispute

	r.store.view(func(st *state) {
		for _, d := range st.disputes {
			if d.Status.IsActive() && d.Priority != domain.DisputePriorityEscalated && !now.Before(d.ResponseDeadline) {
				d := d
				out = append(out, &d)
			}
		}
	})

	sort.Slice(out, func(i, j int) bool { return out[i].ResponseDeadline.Before(out[j].ResponseDeadline) })

	return page(out, limit, 0), nil
}
