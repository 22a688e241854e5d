package dto

import (
	"time"

	"github.com/iho/settlement/internal/domain"
	"github.com/iho/settlement/internal/usecase"
)

// SplitResponse is a gross amount and its commission split.
type SplitResponse struct {
	Gross      int64 `json:"gross"`
	Commission int64 `json:"commission"`
	Net        int64 `json:"net"`
}

func splitFromDomain(s domain.Split) SplitResponse {
	return SplitResponse{Gross: s.Gross, Commission: s.Commission, Net: s.Net}
}

// OrderResponse represents an order in API responses.
type OrderResponse struct {
	ID               string        `json:"id"`
	BuyerID          string        `json:"buyer_id"`
	SellerID         string        `json:"seller_id"`
	ListingID        string        `json:"listing_id"`
	PaymentMethod    string        `json:"payment_method"`
	Currency         string        `json:"currency"`
	CommissionRate   string        `json:"commission_rate"`
	Amount           SplitResponse `json:"amount"`
	Status           string        `json:"status"`
	PaymentReference *string       `json:"payment_reference,omitempty"`
	FailureReason    string        `json:"failure_reason,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
	FailedAt         *time.Time    `json:"failed_at,omitempty"`
}

// OrderFromDomain converts a domain order to response. Amount is shown in the
// denomination the buyer paid with.
func OrderFromDomain(o *domain.Order) *OrderResponse {
	return &OrderResponse{
		ID:               o.ID,
		BuyerID:          o.BuyerID,
		SellerID:         o.SellerID,
		ListingID:        o.ListingID,
		PaymentMethod:    string(o.PaymentMethod),
		Currency:         o.Currency,
		CommissionRate:   o.CommissionRate.String(),
		Amount:           splitFromDomain(o.Charged()),
		Status:           string(o.Status),
		PaymentReference: o.PaymentReference,
		FailureReason:    o.FailureReason,
		CreatedAt:        o.CreatedAt,
		CompletedAt:      o.CompletedAt,
		FailedAt:         o.FailedAt,
	}
}

// ListingResponse represents a listing projection in API responses.
type ListingResponse struct {
	ID             string              `json:"id"`
	SellerID       string              `json:"seller_id"`
	Title          string              `json:"title"`
	Currency       string              `json:"currency"`
	PriceMinor     int64               `json:"price_minor"`
	PriceCredits   int64               `json:"price_credits"`
	CommissionRate *string             `json:"commission_rate,omitempty"`
	Status         string              `json:"status"`
	SingleSale     bool                `json:"single_sale"`
	Available      *int64              `json:"available,omitempty"`
	Terms          domain.LicenseTerms `json:"terms"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// ListingFromDomain converts a domain listing to response.
func ListingFromDomain(l *domain.Listing) *ListingResponse {
	resp := &ListingResponse{
		ID:           l.ID,
		SellerID:     l.SellerID,
		Title:        l.Title,
		Currency:     l.Currency,
		PriceMinor:   l.PriceMinor,
		PriceCredits: l.PriceCredits,
		Status:       string(l.Status),
		SingleSale:   l.SingleSale,
		Available:    l.Available,
		Terms:        l.Terms,
		UpdatedAt:    l.UpdatedAt,
	}

	if l.CommissionRate != nil {
		rate := l.CommissionRate.String()
		resp.CommissionRate = &rate
	}

	return resp
}

// LicenseResponse represents a digital license in API responses.
type LicenseResponse struct {
	Key       string              `json:"key"`
	OrderID   string              `json:"order_id"`
	ListingID string              `json:"listing_id"`
	BuyerID   string              `json:"buyer_id"`
	Terms     domain.LicenseTerms `json:"terms"`
	Valid     bool                `json:"valid"`
	IssuedAt  time.Time           `json:"issued_at"`
	RevokedAt *time.Time          `json:"revoked_at,omitempty"`
}

// LicenseFromDomain converts a domain license to response.
func LicenseFromDomain(l *domain.DigitalLicense) *LicenseResponse {
	return &LicenseResponse{
		Key:       l.Key,
		OrderID:   l.OrderID,
		ListingID: l.ListingID,
		BuyerID:   l.BuyerID,
		Terms:     l.Terms,
		Valid:     l.IsValid(),
		IssuedAt:  l.IssuedAt,
		RevokedAt: l.RevokedAt,
	}
}

// DisputeResponse represents a dispute in API responses.
type DisputeResponse struct {
	ID               string     `json:"id"`
	OrderID          string     `json:"order_id"`
	OpenedBy         string     `json:"opened_by"`
	Reason           string     `json:"reason"`
	Status           string     `json:"status"`
	Priority         string     `json:"priority"`
	RefundAmount     int64      `json:"refund_amount"`
	ResolutionReason string     `json:"resolution_reason,omitempty"`
	ResponseDeadline time.Time  `json:"response_deadline"`
	CreatedAt        time.Time  `json:"created_at"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
	ClosedAt         *time.Time `json:"closed_at,omitempty"`
	EscalatedAt      *time.Time `json:"escalated_at,omitempty"`
}

// DisputeFromDomain converts a domain dispute to response.
func DisputeFromDomain(d *domain.Dispute) *DisputeResponse {
	return &DisputeResponse{
		ID:               d.ID,
		OrderID:          d.OrderID,
		OpenedBy:         d.OpenedBy,
		Reason:           d.Reason,
		Status:           string(d.Status),
		Priority:         string(d.Priority),
		RefundAmount:     d.RefundAmount,
		ResolutionReason: d.ResolutionReason,
		ResponseDeadline: d.ResponseDeadline,
		CreatedAt:        d.CreatedAt,
		ResolvedAt:       d.ResolvedAt,
		ClosedAt:         d.ClosedAt,
		EscalatedAt:      d.EscalatedAt,
	}
}

// BalanceResponse represents a derived balance.
type BalanceResponse struct {
	UserID       string `json:"user_id"`
	Denomination string `json:"denomination"`
	Amount       int64  `json:"amount"`
	Offset       int64  `json:"offset"`
	Frozen       bool   `json:"frozen"`
}

// BalanceFromDomain converts a domain balance to response.
func BalanceFromDomain(b *domain.Balance) *BalanceResponse {
	return &BalanceResponse{
		UserID:       b.Party,
		Denomination: string(b.Denomination),
		Amount:       b.Amount,
		Offset:       b.Offset,
		Frozen:       b.Frozen,
	}
}

// EntryResponse represents a ledger entry in API responses.
type EntryResponse struct {
	ID                string    `json:"id"`
	CommitID          string    `json:"commit_id"`
	Type              string    `json:"type"`
	Status            string    `json:"status"`
	FromParty         string    `json:"from"`
	ToParty           string    `json:"to"`
	Amount            int64     `json:"amount"`
	Denomination      string    `json:"denomination"`
	Currency          string    `json:"currency,omitempty"`
	OrderID           *string   `json:"order_id,omitempty"`
	DisputeID         *string   `json:"dispute_id,omitempty"`
	BatchID           *string   `json:"batch_id,omitempty"`
	ExternalReference *string   `json:"external_reference,omitempty"`
	ReversesEntryID   *string   `json:"reverses_entry_id,omitempty"`
	Memo              string    `json:"memo,omitempty"`
	FromVersion       int64     `json:"from_version"`
	ToVersion         int64     `json:"to_version"`
	CreatedAt         time.Time `json:"created_at"`
}

// EntryFromDomain converts a domain entry to response.
func EntryFromDomain(e *domain.LedgerEntry) *EntryResponse {
	return &EntryResponse{
		ID:                e.ID,
		CommitID:          e.CommitID,
		Type:              string(e.Type),
		Status:            string(e.Status),
		FromParty:         e.FromParty,
		ToParty:           e.ToParty,
		Amount:            e.Amount,
		Denomination:      string(e.Denomination),
		Currency:          e.Currency,
		OrderID:           e.OrderID,
		DisputeID:         e.DisputeID,
		BatchID:           e.BatchID,
		ExternalReference: e.ExternalReference,
		ReversesEntryID:   e.ReversesEntryID,
		Memo:              e.Memo,
		FromVersion:       e.FromVersion,
		ToVersion:         e.ToVersion,
		CreatedAt:         e.CreatedAt,
	}
}

// EntriesFromDomain converts domain entries to responses.
func EntriesFromDomain(entries []*domain.LedgerEntry) []*EntryResponse {
	result := make([]*EntryResponse, len(entries))
	for i, e := range entries {
		result[i] = EntryFromDomain(e)
	}
	return result
}

// CommitResponse is the outcome of a ledger commit.
type CommitResponse struct {
	CommitID    string           `json:"commit_id"`
	Entries     []*EntryResponse `json:"entries"`
	CommittedAt time.Time        `json:"committed_at"`
}

// CommitFromDomain converts a commit result to response.
func CommitFromDomain(c *domain.CommitResult) *CommitResponse {
	return &CommitResponse{
		CommitID:    c.CommitID,
		Entries:     EntriesFromDomain(c.Entries),
		CommittedAt: c.CommittedAt,
	}
}

// PayoutLineResponse represents one seller transfer of a batch.
type PayoutLineResponse struct {
	ID          string     `json:"id"`
	SellerID    string     `json:"seller_id"`
	Amount      int64      `json:"amount"`
	Currency    string     `json:"currency"`
	Reference   string     `json:"reference"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	Failure     string     `json:"failure_reason,omitempty"`
	Unconfirmed bool       `json:"outcome_unknown,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// PayoutBatchResponse represents a payout batch in API responses.
type PayoutBatchResponse struct {
	ID          string                `json:"id"`
	Method      string                `json:"method"`
	Currency    string                `json:"currency"`
	Status      string                `json:"status"`
	TotalAmount int64                 `json:"total_amount"`
	LineCount   int                   `json:"line_count"`
	CreatedAt   time.Time             `json:"created_at"`
	StartedAt   *time.Time            `json:"started_at,omitempty"`
	FinishedAt  *time.Time            `json:"finished_at,omitempty"`
	Lines       []*PayoutLineResponse `json:"lines,omitempty"`
}

// PayoutBatchFromDomain converts a domain batch to response.
func PayoutBatchFromDomain(b *domain.PayoutBatch) *PayoutBatchResponse {
	resp := &PayoutBatchResponse{
		ID:          b.ID,
		Method:      b.Method,
		Currency:    b.Currency,
		Status:      string(b.Status),
		TotalAmount: b.TotalAmount,
		LineCount:   b.LineCount,
		CreatedAt:   b.CreatedAt,
		StartedAt:   b.StartedAt,
		FinishedAt:  b.FinishedAt,
	}

	for _, l := range b.Lines {
		resp.Lines = append(resp.Lines, &PayoutLineResponse{
			ID:          l.ID,
			SellerID:    l.SellerID,
			Amount:      l.Amount,
			Currency:    l.Currency,
			Reference:   l.TransferReference,
			Status:      string(l.Status),
			Attempts:    l.Attempts,
			Failure:     l.FailureReason,
			Unconfirmed: l.IsUnconfirmed(),
			CompletedAt: l.CompletedAt,
		})
	}

	return resp
}

// PayoutProfileResponse represents a seller payout profile.
type PayoutProfileResponse struct {
	SellerID    string    `json:"seller_id"`
	Method      string    `json:"method"`
	Destination string    `json:"destination"`
	Currency    string    `json:"currency"`
	Enabled     bool      `json:"enabled"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PayoutProfileFromDomain converts a domain profile to response.
func PayoutProfileFromDomain(p *domain.SellerPayoutProfile) *PayoutProfileResponse {
	return &PayoutProfileResponse{
		SellerID:    p.SellerID,
		Method:      p.Method,
		Destination: p.Destination,
		Currency:    p.Currency,
		Enabled:     p.Enabled,
		UpdatedAt:   p.UpdatedAt,
	}
}

// ImbalanceResponse is one order whose clearing sum is not zero.
type ImbalanceResponse struct {
	OrderID      string `json:"order_id"`
	Denomination string `json:"denomination"`
	Imbalance    int64  `json:"imbalance"`
}

// ConsistencyResponse is the ledger conservation check.
type ConsistencyResponse struct {
	Consistent bool                `json:"consistent"`
	Imbalances []ImbalanceResponse `json:"imbalances"`
	CheckedAt  time.Time           `json:"checked_at"`
}

// ConsistencyFromReport converts a consistency report to response.
func ConsistencyFromReport(r *usecase.ConsistencyReport) *ConsistencyResponse {
	resp := &ConsistencyResponse{
		Consistent: r.Consistent,
		Imbalances: make([]ImbalanceResponse, 0, len(r.Imbalances)),
		CheckedAt:  r.CheckedAt,
	}

	for _, i := range r.Imbalances {
		resp.Imbalances = append(resp.Imbalances, ImbalanceResponse{
			OrderID:      i.OrderID,
			Denomination: string(i.Denomination),
			Imbalance:    i.Imbalance,
		})
	}

	return resp
}

// ReconciliationResultResponse compares one cached balance with the replay.
type ReconciliationResultResponse struct {
	Denomination string `json:"denomination"`
	Cached       int64  `json:"cached"`
	Replayed     int64  `json:"replayed"`
	Offset       int64  `json:"offset"`
	Reconciled   bool   `json:"reconciled"`
}

// ReconciliationResponse is the outcome of reconciling a user.
type ReconciliationResponse struct {
	UserID    string                         `json:"user_id"`
	Results   []ReconciliationResultResponse `json:"results"`
	Frozen    bool                           `json:"frozen"`
	CheckedAt time.Time                      `json:"checked_at"`
}

// ReconciliationFromReport converts a reconciliation report to response.
func ReconciliationFromReport(r *usecase.ReconciliationReport) *ReconciliationResponse {
	resp := &ReconciliationResponse{
		UserID:    r.UserID,
		Results:   make([]ReconciliationResultResponse, 0, len(r.Results)),
		Frozen:    r.Frozen,
		CheckedAt: r.CheckedAt,
	}

	for _, res := range r.Results {
		resp.Results = append(resp.Results, ReconciliationResultResponse{
			Denomination: string(res.Denomination),
			Cached:       res.Cached,
			Replayed:     res.Replayed,
			Offset:       res.Offset,
			Reconciled:   res.IsReconciled,
		})
	}

	return resp
}

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
