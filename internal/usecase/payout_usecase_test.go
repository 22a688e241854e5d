package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/iho/settlement/internal/domain"
	"github.com/iho/settlement/internal/usecase"
)

// sellSettled gives each seller one settled 2000 sale (1700 net).
func sellSettled(h *harness, sellers ...string) {
	h.t.Helper()
	h.chargesSucceed()

	for i, seller := range sellers {
		listingID := fmt.Sprintf("listing-%d", i+1)
		h.listing(listingID, seller, 2000, 0, nil)
		h.profile(seller, "bank")
		h.buyWithMoney(fmt.Sprintf("buyer-%d", i+1), listingID)
	}

	h.settle()
}

func transferStatus(status func(req usecase.TransferRequest) string) func(context.Context, usecase.TransferRequest) (usecase.TransferResult, error) {
	return func(_ context.Context, req usecase.TransferRequest) (usecase.TransferResult, error) {
		s := status(req)
		res := usecase.TransferResult{Reference: req.Reference, Status: s}
		switch s {
		case usecase.TransferStatusCompleted:
			res.ExternalID = "tr_" + req.SellerRef
		case usecase.TransferStatusFailed:
			res.Reason = "account closed"
		}
		return res, nil
	}
}

func payoutEntries(t *testing.T, h *harness, batchID string) int {
	t.Helper()

	n := 0
	for _, seller := range []string{"seller-1", "seller-2", "seller-3", "seller-4", "seller-5"} {
		entries, err := h.repos.Entries.ListByParty(h.ctx, seller, domain.DenominationMoney, 0, 100)
		require.NoError(t, err)
		for _, e := range entries {
			if e.Type == domain.EntryTypePayout && e.BatchID != nil && *e.BatchID == batchID {
				n++
			}
		}
	}

	return n
}

func TestRunBatch_PartialFailureKeepsSellerEligible(t *testing.T) {
	h := newHarness(t)
	sellSettled(h, "seller-1", "seller-2", "seller-3", "seller-4", "seller-5")

	h.processor.EXPECT().
		Transfer(gomock.Any(), gomock.Any()).
		DoAndReturn(transferStatus(func(req usecase.TransferRequest) string {
			if req.SellerRef == "seller-3" {
				return usecase.TransferStatusFailed
			}
			return usecase.TransferStatusCompleted
		})).
		Times(5)

	batch, err := h.payouts.RunBatch(h.ctx, "bank")
	require.NoError(t, err)
	require.NotNil(t, batch)

	assert.Equal(t, domain.PayoutBatchPartial, batch.Status)
	assert.Equal(t, 5, batch.LineCount)
	assert.Equal(t, int64(5*1700), batch.TotalAmount)
	assert.Equal(t, 4, payoutEntries(t, h, batch.ID))

	for _, line := range batch.Lines {
		if line.SellerID == "seller-3" {
			assert.Equal(t, domain.PayoutLineFailed, line.Status)
			assert.Equal(t, "account closed", line.FailureReason)
			assert.Nil(t, line.EntryID)
			continue
		}
		assert.Equal(t, domain.PayoutLineCompleted, line.Status)
		assert.NotNil(t, line.EntryID)
		assert.Equal(t, int64(0), h.balance(line.SellerID, domain.DenominationMoney))
	}

	assert.Equal(t, int64(1700), h.balance("seller-3", domain.DenominationMoney))
	assert.Equal(t, int64(4*1700), h.balance(domain.PartyPayoutRail, domain.DenominationMoney))

	h.processor.EXPECT().
		Transfer(gomock.Any(), gomock.Any()).
		DoAndReturn(transferStatus(func(usecase.TransferRequest) string { return usecase.TransferStatusCompleted }))

	next, err := h.payouts.RunBatch(h.ctx, "bank")
	require.NoError(t, err)
	require.NotNil(t, next)
	require.Len(t, next.Lines, 1)
	assert.Equal(t, "seller-3", next.Lines[0].SellerID)
	assert.Equal(t, domain.PayoutBatchCompleted, next.Status)
	assert.Equal(t, int64(0), h.balance("seller-3", domain.DenominationMoney))
}

func TestRunBatch_NothingEligible(t *testing.T) {
	h := newHarness(t)
	h.chargesSucceed()
	h.listing("listing-1", "seller-1", 2000, 0, nil)
	h.profile("seller-1", "bank")
	h.buyWithMoney("buyer-1", "listing-1")

	// Still inside the settlement delay.
	batch, err := h.payouts.RunBatch(h.ctx, "bank")
	require.NoError(t, err)
	assert.Nil(t, batch)

	h.settle()

	eligible, err := h.balances.EligibleForPayout(h.ctx, "seller-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1700), eligible)
}

func TestRunBatch_SkipsBelowMinimumAndDisputed(t *testing.T) {
	h := newHarness(t)
	h.chargesSucceed()
	h.listing("listing-1", "seller-1", 500, 0, nil)
	h.listing("listing-2", "seller-2", 2000, 0, nil)
	h.profile("seller-1", "bank")
	h.profile("seller-2", "bank")

	h.buyWithMoney("buyer-1", "listing-1")
	disputed := h.buyWithMoney("buyer-2", "listing-2")
	h.settle()

	openDispute(t, h, disputed.ID, "buyer-2")

	batch, err := h.payouts.RunBatch(h.ctx, "bank")
	require.NoError(t, err)
	assert.Nil(t, batch)

	held, err := h.balances.HeldAmount(h.ctx, "seller-2")
	require.NoError(t, err)
	assert.Equal(t, int64(1700), held)
}

func TestEligibleForPayoutTx_CountsHoldsWrittenInSameTransaction(t *testing.T) {
	h := newHarness(t)
	h.chargesSucceed()
	h.listing("listing-1", "seller-1", 2000, 0, nil)
	order := h.buyWithMoney("buyer-1", "listing-1")
	h.settle()

	tx, err := h.repos.TxManager.Begin(h.ctx)
	require.NoError(t, err)
	defer tx.Rollback(h.ctx)

	accounts, err := h.repos.Accounts.LockForUpdate(h.ctx, tx, []domain.AccountKey{{Party: "seller-1", Denomination: domain.DenominationMoney}})
	require.NoError(t, err)

	eligible, err := h.balances.EligibleForPayoutTx(h.ctx, tx, accounts[0])
	require.NoError(t, err)
	assert.Equal(t, int64(1700), eligible)

	require.NoError(t, h.repos.Disputes.Create(h.ctx, tx, &domain.Dispute{ID: "dsp-tx", OrderID: order.ID, Status: domain.DisputeStatusOpen}))

	eligible, err = h.balances.EligibleForPayoutTx(h.ctx, tx, accounts[0])
	require.NoError(t, err)
	assert.Zero(t, eligible)
}

func TestRunBatch_RetriesTransientErrors(t *testing.T) {
	h := newHarness(t)
	sellSettled(h, "seller-1")

	var calls atomic.Int32
	h.processor.EXPECT().
		Transfer(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req usecase.TransferRequest) (usecase.TransferResult, error) {
			if calls.Add(1) == 1 {
				return usecase.TransferResult{}, &domain.ExternalProcessorError{Op: "transfer", Retryable: true, Err: errors.New("503")}
			}
			return usecase.TransferResult{Reference: req.Reference, Status: usecase.TransferStatusCompleted, ExternalID: "tr_1"}, nil
		}).
		Times(2)

	batch, err := h.payouts.RunBatch(h.ctx, "bank")
	require.NoError(t, err)

	require.Len(t, batch.Lines, 1)
	assert.Equal(t, domain.PayoutLineCompleted, batch.Lines[0].Status)
	assert.Equal(t, 2, batch.Lines[0].Attempts)
	assert.Equal(t, domain.PayoutBatchCompleted, batch.Status)
}

func TestRunBatch_GivesUpAfterMaxAttempts(t *testing.T) {
	h := newHarness(t)
	sellSettled(h, "seller-1")

	h.processor.EXPECT().
		Transfer(gomock.Any(), gomock.Any()).
		Return(usecase.TransferResult{}, &domain.ExternalProcessorError{Op: "transfer", Retryable: true, Err: errors.New("timeout")}).
		Times(h.settings.LineMaxAttempts)

	batch, err := h.payouts.RunBatch(h.ctx, "bank")
	require.NoError(t, err)

	assert.Equal(t, domain.PayoutBatchFailed, batch.Status)
	assert.Equal(t, h.settings.LineMaxAttempts, batch.Lines[0].Attempts)
	assert.Equal(t, int64(1700), h.balance("seller-1", domain.DenominationMoney))
}

func sellerPayouts(t *testing.T, h *harness, seller string) int {
	t.Helper()

	entries, err := h.repos.Entries.ListByParty(h.ctx, seller, domain.DenominationMoney, 0, 100)
	require.NoError(t, err)

	n := 0
	for _, e := range entries {
		if e.Type == domain.EntryTypePayout {
			n++
		}
	}

	return n
}

func TestRunBatch_TimedOutLineIsResubmittedUnderSameReference(t *testing.T) {
	h := newHarness(t)
	sellSettled(h, "seller-1")

	timeout := &domain.ExternalProcessorError{Op: "transfer", Retryable: true, Err: context.DeadlineExceeded}

	var refs []string
	h.processor.EXPECT().
		Transfer(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req usecase.TransferRequest) (usecase.TransferResult, error) {
			refs = append(refs, req.Reference)
			return usecase.TransferResult{}, timeout
		}).
		Times(h.settings.LineMaxAttempts)

	first, err := h.payouts.RunBatch(h.ctx, "bank")
	require.NoError(t, err)
	require.Len(t, first.Lines, 1)
	assert.Equal(t, domain.PayoutBatchFailed, first.Status)
	assert.True(t, first.Lines[0].IsUnconfirmed())

	ref := first.Lines[0].TransferReference

	// The rail did pay during the timeout; resubmitting under the same
	// reference reports that instead of paying again.
	h.processor.EXPECT().
		Transfer(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req usecase.TransferRequest) (usecase.TransferResult, error) {
			refs = append(refs, req.Reference)
			assert.Equal(t, int64(1700), req.Amount)
			return usecase.TransferResult{Reference: req.Reference, Status: usecase.TransferStatusCompleted, ExternalID: "tr_1"}, nil
		})

	second, err := h.payouts.RunBatch(h.ctx, "bank")
	require.NoError(t, err)
	assert.Nil(t, second, "nothing is left to pay once the resubmitted line completes")

	for _, r := range refs {
		assert.Equal(t, ref, r)
	}

	// A late success for the original reference changes nothing.
	_, err = h.payouts.ApplyTransferOutcome(h.ctx, domain.TransferOutcome{Reference: ref, Succeeded: true, ExternalID: "tr_1"})
	require.NoError(t, err)

	assert.Equal(t, 1, sellerPayouts(t, h, "seller-1"))
	assert.Equal(t, int64(0), h.balance("seller-1", domain.DenominationMoney))
	assert.Equal(t, int64(1700), h.balance(domain.PartyPayoutRail, domain.DenominationMoney))

	done, err := h.payouts.GetBatchStatus(h.ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutBatchCompleted, done.Status)
	assert.Equal(t, h.settings.LineMaxAttempts+1, done.Lines[0].Attempts)
}

func TestRunBatch_UnconfirmedSellerWaitsForDefinitiveOutcome(t *testing.T) {
	h := newHarness(t)
	sellSettled(h, "seller-1")

	timeout := &domain.ExternalProcessorError{Op: "transfer", Retryable: true, Err: context.DeadlineExceeded}

	h.processor.EXPECT().
		Transfer(gomock.Any(), gomock.Any()).
		Return(usecase.TransferResult{}, timeout).
		Times(2 * h.settings.LineMaxAttempts)

	first, err := h.payouts.RunBatch(h.ctx, "bank")
	require.NoError(t, err)
	ref := first.Lines[0].TransferReference

	// Still no answer: the line is retried but no second line is created.
	second, err := h.payouts.RunBatch(h.ctx, "bank")
	require.NoError(t, err)
	assert.Nil(t, second)

	line, err := h.payouts.ApplyTransferOutcome(h.ctx, domain.TransferOutcome{Reference: ref, Rejected: true, Reason: "account closed"})
	require.NoError(t, err)
	assert.False(t, line.IsUnconfirmed())
	assert.Equal(t, "account closed", line.FailureReason)

	h.processor.EXPECT().
		Transfer(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req usecase.TransferRequest) (usecase.TransferResult, error) {
			assert.NotEqual(t, ref, req.Reference)
			return usecase.TransferResult{Reference: req.Reference, Status: usecase.TransferStatusCompleted}, nil
		})

	third, err := h.payouts.RunBatch(h.ctx, "bank")
	require.NoError(t, err)
	require.NotNil(t, third)
	assert.Equal(t, domain.PayoutBatchCompleted, third.Status)
	assert.Equal(t, 1, sellerPayouts(t, h, "seller-1"))
	assert.Equal(t, int64(0), h.balance("seller-1", domain.DenominationMoney))
}

func TestRunBatch_PermanentErrorIsNotRetried(t *testing.T) {
	h := newHarness(t)
	sellSettled(h, "seller-1")

	h.processor.EXPECT().
		Transfer(gomock.Any(), gomock.Any()).
		Return(usecase.TransferResult{}, &domain.ExternalProcessorError{Op: "transfer", Err: errors.New("invalid destination")}).
		Times(1)

	batch, err := h.payouts.RunBatch(h.ctx, "bank")
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutBatchFailed, batch.Status)
	assert.False(t, batch.Lines[0].IsUnconfirmed(), "a refusal is a definitive outcome")
}

func TestRunBatch_LockedMethod(t *testing.T) {
	h := newHarness(t)
	sellSettled(h, "seller-1")

	h.processor.EXPECT().
		Transfer(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, req usecase.TransferRequest) (usecase.TransferResult, error) {
			_, err := h.payouts.RunBatch(ctx, "bank")
			assert.ErrorIs(t, err, domain.ErrBatchInProgress)
			return usecase.TransferResult{Reference: req.Reference, Status: usecase.TransferStatusCompleted}, nil
		})

	batch, err := h.payouts.RunBatch(h.ctx, "bank")
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutBatchCompleted, batch.Status)
}

func TestPendingTransfer_CompletedByNotification(t *testing.T) {
	h := newHarness(t)
	sellSettled(h, "seller-1")

	h.processor.EXPECT().
		Transfer(gomock.Any(), gomock.Any()).
		DoAndReturn(transferStatus(func(usecase.TransferRequest) string { return usecase.TransferStatusPending }))

	batch, err := h.payouts.RunBatch(h.ctx, "bank")
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutBatchProcessing, batch.Status)

	line := batch.Lines[0]
	assert.Equal(t, domain.PayoutLineProcessing, line.Status)
	assert.Equal(t, 1, line.Attempts)

	for range 2 {
		err = h.webhooks.HandleNotification(h.ctx, &domain.ProcessorNotification{
			ID:         "evt_" + line.TransferReference,
			Type:       domain.NotificationTransferCompleted,
			Reference:  line.TransferReference,
			ExternalID: "tr_42",
		})
		require.NoError(t, err)
	}

	done, err := h.payouts.GetBatchStatus(h.ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutBatchCompleted, done.Status)
	assert.Equal(t, "tr_42", done.Lines[0].ExternalID)
	assert.Equal(t, 1, payoutEntries(t, h, batch.ID))

	// Replaying the outcome directly is idempotent too.
	_, err = h.payouts.ApplyTransferOutcome(h.ctx, domain.TransferOutcome{Reference: line.TransferReference, Succeeded: true})
	require.NoError(t, err)
	assert.Equal(t, 1, payoutEntries(t, h, batch.ID))
}

func TestRecoverStaleLines_LateSuccessStillApplied(t *testing.T) {
	h := newHarness(t)
	sellSettled(h, "seller-1")

	h.processor.EXPECT().
		Transfer(gomock.Any(), gomock.Any()).
		DoAndReturn(transferStatus(func(usecase.TransferRequest) string { return usecase.TransferStatusPending }))

	batch, err := h.payouts.RunBatch(h.ctx, "bank")
	require.NoError(t, err)
	ref := batch.Lines[0].TransferReference

	recovered, err := h.payouts.RecoverStaleLines(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, recovered)

	h.clock.Advance(time.Hour)

	recovered, err = h.payouts.RecoverStaleLines(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	failed, err := h.payouts.GetBatchStatus(h.ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutBatchFailed, failed.Status)
	assert.Equal(t, domain.PayoutLineFailed, failed.Lines[0].Status)

	line, err := h.payouts.ApplyTransferOutcome(h.ctx, domain.TransferOutcome{Reference: ref, Succeeded: true, ExternalID: "tr_late"})
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutLineCompleted, line.Status)

	done, err := h.payouts.GetBatchStatus(h.ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutBatchCompleted, done.Status)
	assert.Equal(t, int64(0), h.balance("seller-1", domain.DenominationMoney))
	assert.Contains(t, h.events(domain.AggregateTypePayoutBatch, batch.ID), domain.EventTypePayoutLateComplete)
}

func TestApplyTransferOutcome_UnknownReference(t *testing.T) {
	h := newHarness(t)

	_, err := h.payouts.ApplyTransferOutcome(h.ctx, domain.TransferOutcome{Reference: "po_missing", Succeeded: true})
	assert.ErrorIs(t, err, domain.ErrLineNotFound)
}

func TestRunAll(t *testing.T) {
	h := newHarness(t)
	sellSettled(h, "seller-1")

	h.chargesSucceed()
	h.listing("listing-9", "seller-9", 3000, 0, nil)
	require.NoError(t, h.payouts.UpsertProfile(h.ctx, &domain.SellerPayoutProfile{
		SellerID: "seller-9", Method: "paypal", Destination: "s9@example.com", Currency: "USD", Enabled: true,
	}))
	h.buyWithMoney("buyer-9", "listing-9")
	h.settle()

	h.processor.EXPECT().
		Transfer(gomock.Any(), gomock.Any()).
		DoAndReturn(transferStatus(func(usecase.TransferRequest) string { return usecase.TransferStatusCompleted })).
		Times(2)

	batches, err := h.payouts.RunAll(h.ctx)
	require.NoError(t, err)
	require.Len(t, batches, 2)

	methods := []string{batches[0].Method, batches[1].Method}
	assert.ElementsMatch(t, []string{"bank", "paypal"}, methods)
}

func TestUpsertProfile_Validation(t *testing.T) {
	h := newHarness(t)

	err := h.payouts.UpsertProfile(h.ctx, &domain.SellerPayoutProfile{SellerID: "seller-1", Method: "bank", Currency: "USD"})
	assert.ErrorIs(t, err, domain.ErrInvalidPayoutInfo)

	_, err = h.payouts.GetProfile(h.ctx, "seller-1")
	assert.ErrorIs(t, err, domain.ErrProfileNotFound)
}
