package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/iho/settlement/internal/domain"
)

var errNothingToPay = errors.New("no eligible sellers")

// PayoutUseCase aggregates seller earnings into payout batches, submits one
// transfer per seller and applies the outcomes.
type PayoutUseCase struct {
	tx          txRunner
	payoutRepo  PayoutRepository
	profileRepo PayoutProfileRepository
	accountRepo LedgerAccountRepository
	ledger      *LedgerUseCase
	balances    *BalanceUseCase
	processor   PaymentProcessor
	locker      Locker
	outbox      outboxWriter
	audit       auditWriter
	idGen       IDGenerator
	clock       Clock
	settings    Settings
	metrics     Metrics
	logger      zerolog.Logger
}

// PayoutUseCaseParams configure the payout use case.
type PayoutUseCaseParams struct {
	TxManager   TransactionManager
	PayoutRepo  PayoutRepository
	ProfileRepo PayoutProfileRepository
	AccountRepo LedgerAccountRepository
	OutboxRepo  OutboxRepository
	AuditRepo   AuditRepository
	Ledger      *LedgerUseCase
	Balances    *BalanceUseCase
	Processor   PaymentProcessor
	Locker      Locker
	IDGen       IDGenerator
	Clock       Clock
	Settings    Settings
	Metrics     Metrics
	Logger      zerolog.Logger
}

// NewPayoutUseCase creates a new PayoutUseCase.
func NewPayoutUseCase(p PayoutUseCaseParams) *PayoutUseCase {
	return &PayoutUseCase{
		tx:          newTxRunner(p.TxManager),
		payoutRepo:  p.PayoutRepo,
		profileRepo: p.ProfileRepo,
		accountRepo: p.AccountRepo,
		ledger:      p.Ledger,
		balances:    p.Balances,
		processor:   p.Processor,
		locker:      p.Locker,
		outbox:      outboxWriter{repo: p.OutboxRepo, idGen: p.IDGen, clock: p.Clock},
		audit:       auditWriter{repo: p.AuditRepo, idGen: p.IDGen, clock: p.Clock},
		idGen:       p.IDGen,
		clock:       p.Clock,
		settings:    p.Settings,
		metrics:     p.Metrics,
		logger:      p.Logger.With().Str("component", "payouts").Logger(),
	}
}

// WithRetrier sets the retrier used for payout transactions.
func (uc *PayoutUseCase) WithRetrier(r Retrier) *PayoutUseCase {
	uc.tx.retrier = r
	return uc
}

// RunBatch runs one payout batch for a payout method. It returns nil when no
// seller is eligible. Only one run per method is active at a time.
func (uc *PayoutUseCase) RunBatch(ctx context.Context, method string) (*domain.PayoutBatch, error) {
	method = strings.TrimSpace(method)
	if method == "" {
		return nil, fmt.Errorf("%w: payout method is required", domain.ErrValidation)
	}

	lock, ok, err := uc.locker.Acquire(ctx, payoutLockPrefix+method, uc.settings.PayoutLockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire payout lock: %w", err)
	}
	if !ok {
		return nil, domain.ErrBatchInProgress
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			uc.logger.Warn().Err(err).Str("method", method).Msg("failed to release payout lock")
		}
	}()

	uc.resubmitUnconfirmed(ctx, method)

	batch, lines, err := uc.createBatch(ctx, method)
	if errors.Is(err, errNothingToPay) {
		uc.logger.Debug().Str("method", method).Msg("no sellers eligible for payout")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	uc.logger.Info().
		Str("batch_id", batch.ID).
		Str("method", method).
		Int("lines", len(lines)).
		Int64("total", batch.TotalAmount).
		Msg("payout batch created")

	var g errgroup.Group
	g.SetLimit(max(uc.settings.PayoutWorkers, 1))

	for _, line := range lines {
		g.Go(func() error {
			uc.processLine(ctx, method, line)
			return nil
		})
	}

	_ = g.Wait()

	return uc.GetBatchStatus(ctx, batch.ID)
}

// createBatch snapshots every eligible seller's payable amount under the
// seller's money account lock and persists the batch with one line each.
func (uc *PayoutUseCase) createBatch(ctx context.Context, method string) (*domain.PayoutBatch, []*domain.PayoutLine, error) {
	profiles, err := uc.profileRepo.ListEnabledByMethod(ctx, method)
	if err != nil {
		return nil, nil, fmt.Errorf("list payout profiles: %w", err)
	}

	bySeller := make(map[string]*domain.SellerPayoutProfile, len(profiles))
	keys := make([]domain.AccountKey, 0, len(profiles))

	for _, p := range profiles {
		if p.Currency != uc.settings.Currency {
			uc.logger.Warn().
				Str("seller_id", p.SellerID).
				Str("currency", p.Currency).
				Msg("payout profile currency differs from ledger currency, skipping")
			continue
		}
		bySeller[p.SellerID] = p
		keys = append(keys, domain.AccountKey{Party: p.SellerID, Denomination: domain.DenominationMoney})
	}

	if len(keys) == 0 {
		return nil, nil, errNothingToPay
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	var (
		batch *domain.PayoutBatch
		lines []*domain.PayoutLine
	)

	err = uc.tx.run(ctx, func(ctx context.Context, tx Transaction) error {
		lines = nil
		now := uc.clock.Now()

		batch = &domain.PayoutBatch{
			ID:        uc.idGen.Generate(),
			Method:    method,
			Currency:  uc.settings.Currency,
			Status:    domain.PayoutBatchPending,
			CreatedAt: now,
			UpdatedAt: now,
		}

		if err := uc.payoutRepo.CreateBatch(ctx, tx, batch); err != nil {
			return err
		}

		accounts, err := uc.accountRepo.LockForUpdate(ctx, tx, keys)
		if err != nil {
			return fmt.Errorf("lock seller accounts: %w", err)
		}

		for _, account := range accounts {
			sellerID := account.Key.Party

			inFlight, err := uc.payoutRepo.HasInFlightLine(ctx, tx, sellerID)
			if err != nil {
				return err
			}
			if inFlight {
				continue
			}

			amount, err := uc.balances.EligibleForPayoutTx(ctx, tx, account)
			if err != nil {
				return fmt.Errorf("eligible amount for %s: %w", sellerID, err)
			}

			if amount <= 0 || amount < uc.settings.PayoutMinimum {
				continue
			}

			profile := bySeller[sellerID]
			line := &domain.PayoutLine{
				ID:                uc.idGen.Generate(),
				BatchID:           batch.ID,
				SellerID:          sellerID,
				Amount:            amount,
				Currency:          profile.Currency,
				Destination:       profile.Destination,
				TransferReference: domain.TransferReference(batch.ID, sellerID),
				Status:            domain.PayoutLinePending,
				CreatedAt:         now,
				UpdatedAt:         now,
			}

			if err := uc.payoutRepo.CreateLine(ctx, tx, line); err != nil {
				return err
			}

			lines = append(lines, line)
			batch.TotalAmount += amount
		}

		if len(lines) == 0 {
			return errNothingToPay
		}

		batch.LineCount = len(lines)

		if err := batch.Start(now); err != nil {
			return err
		}

		if err := uc.payoutRepo.UpdateBatch(ctx, tx, batch); err != nil {
			return err
		}

		return uc.audit.write(ctx, tx, domain.ActorSystem, domain.AuditActionBatchCreate, domain.AggregateTypePayoutBatch, batch.ID, nil, batch)
	})
	if err != nil {
		return nil, nil, err
	}

	return batch, lines, nil
}

// resubmitUnconfirmed sends lines whose earlier outcome is unknown to the rail
// again under their original reference and amount. The rail deduplicates by
// reference, so a transfer that already went through is reported back instead
// of being paid a second time. Sellers with such a line get no new line until
// the outcome is known.
func (uc *PayoutUseCase) resubmitUnconfirmed(ctx context.Context, method string) {
	lines, err := uc.payoutRepo.ListUnconfirmedLines(ctx, method, uc.settings.JobBatchSize)
	if err != nil {
		uc.logger.Error().Err(err).Str("method", method).Msg("failed to list unconfirmed payout lines")
		return
	}

	var g errgroup.Group
	g.SetLimit(max(uc.settings.PayoutWorkers, 1))

	for _, line := range lines {
		g.Go(func() error {
			reopened, err := uc.reopen(ctx, line.TransferReference)
			if err != nil {
				uc.logger.Error().Err(err).Str("reference", line.TransferReference).Msg("failed to reopen payout line")
				return nil
			}

			uc.logger.Info().
				Str("batch_id", reopened.BatchID).
				Str("seller_id", reopened.SellerID).
				Str("reference", reopened.TransferReference).
				Msg("resubmitting payout line with unknown outcome")

			uc.processLine(ctx, method, reopened)
			return nil
		})
	}

	_ = g.Wait()
}

func (uc *PayoutUseCase) reopen(ctx context.Context, ref string) (*domain.PayoutLine, error) {
	var line *domain.PayoutLine

	err := uc.tx.run(ctx, func(ctx context.Context, tx Transaction) error {
		var err error
		line, err = uc.payoutRepo.GetLineByReferenceForUpdate(ctx, tx, ref)
		if err != nil {
			return err
		}

		before := *line
		if err := line.Reopen(uc.clock.Now()); err != nil {
			return err
		}

		if err := uc.payoutRepo.UpdateLine(ctx, tx, line); err != nil {
			return err
		}

		return uc.audit.write(ctx, tx, domain.ActorSystem, domain.AuditActionLineReopen, "payout_line", line.ID, before, line)
	})
	if err != nil {
		return nil, err
	}

	return line, nil
}

// processLine submits one line to the rail and applies whatever came back.
// The rail call never runs inside a database transaction.
func (uc *PayoutUseCase) processLine(ctx context.Context, method string, line *domain.PayoutLine) {
	logger := uc.logger.With().
		Str("batch_id", line.BatchID).
		Str("seller_id", line.SellerID).
		Str("reference", line.TransferReference).
		Logger()

	if err := uc.markProcessing(ctx, line.TransferReference); err != nil {
		logger.Error().Err(err).Msg("failed to mark payout line processing")
		return
	}

	outcome, attempts, pending := uc.submit(ctx, method, line)
	if pending {
		logger.Info().Int("attempts", attempts).Msg("transfer accepted, awaiting notification")
		if _, _, err := uc.applyOutcome(ctx, domain.TransferOutcome{Reference: line.TransferReference}, attempts, true); err != nil {
			logger.Error().Err(err).Msg("failed to record transfer attempts")
		}
		return
	}

	if !outcome.Succeeded {
		logger.Warn().Int("attempts", attempts).Str("reason", outcome.Reason).Msg("transfer failed")
	}

	if _, _, err := uc.applyOutcome(ctx, outcome, attempts, false); err != nil {
		logger.Error().Err(err).Msg("failed to apply transfer outcome")
	}
}

func (uc *PayoutUseCase) markProcessing(ctx context.Context, ref string) error {
	return uc.tx.run(ctx, func(ctx context.Context, tx Transaction) error {
		line, err := uc.payoutRepo.GetLineByReferenceForUpdate(ctx, tx, ref)
		if err != nil {
			return err
		}

		if err := line.MarkProcessing(uc.clock.Now()); err != nil {
			return err
		}

		return uc.payoutRepo.UpdateLine(ctx, tx, line)
	})
}

// submit calls the rail with exponential backoff. Every attempt reuses the
// transfer reference so the rail pays at most once.
func (uc *PayoutUseCase) submit(ctx context.Context, method string, line *domain.PayoutLine) (domain.TransferOutcome, int, bool) {
	req := TransferRequest{
		Reference:   line.TransferReference,
		SellerRef:   line.SellerID,
		Destination: line.Destination,
		Method:      method,
		Amount:      line.Amount,
		Currency:    line.Currency,
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = uc.settings.LineRetryInterval
	b.MaxElapsedTime = 0

	retries := uint64(max(uc.settings.LineMaxAttempts-1, 0))

	var (
		result   TransferResult
		attempts int
	)

	err := backoff.Retry(func() error {
		attempts++

		callCtx, cancel := context.WithTimeout(ctx, uc.settings.LineTimeout)
		defer cancel()

		res, err := uc.processor.Transfer(callCtx, req)
		if err != nil {
			var procErr *domain.ExternalProcessorError
			if errors.As(err, &procErr) && !procErr.Retryable {
				return backoff.Permanent(err)
			}
			return err
		}

		result = res
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx))

	outcome := domain.TransferOutcome{Reference: line.TransferReference}

	switch {
	case err != nil:
		// Only a non-retryable answer from the rail is a definitive refusal;
		// exhausted retries and timeouts leave the outcome unknown.
		var procErr *domain.ExternalProcessorError
		outcome.Rejected = errors.As(err, &procErr) && !procErr.Retryable
		outcome.Reason = err.Error()
	case result.Status == TransferStatusPending:
		return outcome, attempts, true
	case result.Status == TransferStatusCompleted:
		outcome.Succeeded = true
		outcome.ExternalID = result.ExternalID
	default:
		outcome.Rejected = true
		outcome.Reason = result.Reason
		if outcome.Reason == "" {
			outcome.Reason = "transfer rejected"
		}
	}

	return outcome, attempts, false
}

// ApplyTransferOutcome applies a transfer result reported by the rail. It is
// idempotent per transfer reference: a repeated outcome changes nothing, and a
// success arriving after the line was failed by timeout is still recorded
// because the money did leave.
func (uc *PayoutUseCase) ApplyTransferOutcome(ctx context.Context, outcome domain.TransferOutcome) (*domain.PayoutLine, error) {
	if strings.TrimSpace(outcome.Reference) == "" {
		return nil, fmt.Errorf("%w: transfer reference is required", domain.ErrValidation)
	}

	line, _, err := uc.applyOutcome(ctx, outcome, 0, false)

	return line, err
}

// applyOutcome records the line outcome, its payout entry and, once every
// line is final, the batch status in one transaction. With attemptsOnly set
// it only adds to the attempt counter.
func (uc *PayoutUseCase) applyOutcome(ctx context.Context, outcome domain.TransferOutcome, attempts int, attemptsOnly bool) (*domain.PayoutLine, bool, error) {
	var (
		line      *domain.PayoutLine
		batch     *domain.PayoutBatch
		changed   bool
		finished  bool
		lateSaved bool
	)

	err := uc.tx.run(ctx, func(ctx context.Context, tx Transaction) error {
		changed, finished, lateSaved = false, false, false

		var err error
		line, err = uc.payoutRepo.GetLineByReferenceForUpdate(ctx, tx, outcome.Reference)
		if err != nil {
			return err
		}

		before := *line
		now := uc.clock.Now()
		line.Attempts += attempts

		switch {
		case attemptsOnly:
			if attempts == 0 {
				return nil
			}
			line.UpdatedAt = now
			return uc.payoutRepo.UpdateLine(ctx, tx, line)

		case outcome.Succeeded:
			if line.Status == domain.PayoutLineCompleted {
				return nil
			}

			lateSaved = line.Status == domain.PayoutLineFailed

			if err := line.Complete(outcome.ExternalID, now); err != nil {
				return err
			}

			result, err := uc.ledger.RecordTx(ctx, tx, RecordInput{
				Entries: []*domain.LedgerEntry{domain.PayoutEntry(line)},
				Settled: true,
			})
			if err != nil {
				return err
			}

			entryID := result.Entries[0].ID
			line.EntryID = &entryID

			if err := uc.payoutRepo.UpdateLine(ctx, tx, line); err != nil {
				return err
			}

			if err := uc.audit.write(ctx, tx, domain.ActorSystem, domain.AuditActionLineComplete, "payout_line", line.ID, before, line); err != nil {
				return err
			}

			if lateSaved {
				if err := uc.outbox.write(ctx, tx, domain.AggregateTypePayoutBatch, line.BatchID, domain.EventTypePayoutLateComplete, map[string]any{
					"line_id":   line.ID,
					"seller_id": line.SellerID,
					"reference": line.TransferReference,
					"amount":    line.Amount,
				}); err != nil {
					return err
				}
			}

		default:
			if !line.Status.IsInFlight() {
				if outcome.Rejected && line.ConfirmRejected(outcome.Reason, now) {
					if err := uc.payoutRepo.UpdateLine(ctx, tx, line); err != nil {
						return err
					}
					return uc.audit.write(ctx, tx, domain.ActorSystem, domain.AuditActionLineFail, "payout_line", line.ID, before, line)
				}
				if attempts > 0 {
					line.UpdatedAt = now
					return uc.payoutRepo.UpdateLine(ctx, tx, line)
				}
				return nil
			}

			if err := line.Fail(outcome.Reason, outcome.Rejected, now); err != nil {
				return err
			}

			if err := uc.payoutRepo.UpdateLine(ctx, tx, line); err != nil {
				return err
			}

			if err := uc.audit.write(ctx, tx, domain.ActorSystem, domain.AuditActionLineFail, "payout_line", line.ID, before, line); err != nil {
				return err
			}
		}

		changed = true

		batch, finished, err = uc.finishBatchTx(ctx, tx, line.BatchID)

		return err
	})
	if err != nil {
		return nil, false, err
	}

	if !changed {
		return line, false, nil
	}

	uc.metrics.PayoutLineFinished(line.Status)

	if line.Status == domain.PayoutLineCompleted {
		uc.balances.Refresh(ctx, domain.DenominationMoney, line.SellerID)
	}

	if lateSaved {
		uc.logger.Warn().
			Str("line_id", line.ID).
			Str("seller_id", line.SellerID).
			Str("reference", line.TransferReference).
			Msg("late transfer success applied to failed payout line")
	}

	if finished {
		uc.metrics.PayoutBatchFinished(batch.Status)
		uc.logger.Info().
			Str("batch_id", batch.ID).
			Str("status", string(batch.Status)).
			Msg("payout batch finished")
	}

	return line, true, nil
}

// finishBatchTx re-derives the batch status from its lines. It reports whether
// the status changed to a new terminal value.
func (uc *PayoutUseCase) finishBatchTx(ctx context.Context, tx Transaction, batchID string) (*domain.PayoutBatch, bool, error) {
	batch, err := uc.payoutRepo.GetBatchForUpdate(ctx, tx, batchID)
	if err != nil {
		return nil, false, err
	}

	lines, err := uc.payoutRepo.ListLinesTx(ctx, tx, batchID)
	if err != nil {
		return nil, false, err
	}

	status, done := domain.DeriveBatchStatus(lines)
	if !done || status == batch.Status {
		return batch, false, nil
	}

	before := *batch
	batch.Finish(lines, uc.clock.Now())

	if err := uc.payoutRepo.UpdateBatch(ctx, tx, batch); err != nil {
		return nil, false, err
	}

	if err := uc.outbox.write(ctx, tx, domain.AggregateTypePayoutBatch, batch.ID, domain.EventTypePayoutBatchFinish, domain.PayoutBatchFinishedEvent{
		BatchID:     batch.ID,
		Method:      batch.Method,
		Status:      string(batch.Status),
		TotalAmount: batch.TotalAmount,
		Lines:       len(lines),
	}); err != nil {
		return nil, false, err
	}

	if err := uc.audit.write(ctx, tx, domain.ActorSystem, domain.AuditActionBatchFinish, domain.AggregateTypePayoutBatch, batch.ID, before, batch); err != nil {
		return nil, false, err
	}

	return batch, true, nil
}

// RunAll runs a batch for every payout method that has enabled profiles.
// Methods already running elsewhere are skipped.
func (uc *PayoutUseCase) RunAll(ctx context.Context) ([]*domain.PayoutBatch, error) {
	methods, err := uc.profileRepo.ListMethods(ctx)
	if err != nil {
		return nil, err
	}

	var (
		batches []*domain.PayoutBatch
		errs    []error
	)

	for _, method := range methods {
		batch, err := uc.RunBatch(ctx, method)
		switch {
		case errors.Is(err, domain.ErrBatchInProgress):
			uc.logger.Info().Str("method", method).Msg("payout batch already running, skipping")
		case err != nil:
			errs = append(errs, fmt.Errorf("method %s: %w", method, err))
		case batch != nil:
			batches = append(batches, batch)
		}
	}

	return batches, errors.Join(errs...)
}

// GetBatchStatus returns a batch together with its lines.
func (uc *PayoutUseCase) GetBatchStatus(ctx context.Context, batchID string) (*domain.PayoutBatch, error) {
	batch, err := uc.payoutRepo.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	lines, err := uc.payoutRepo.ListLines(ctx, batchID)
	if err != nil {
		return nil, err
	}

	batch.Lines = lines

	return batch, nil
}

// RecoverStaleLines fails lines that stayed in flight longer than all of their
// attempts could take, typically because the process died mid-batch. The
// outcome of such a line is unknown: the next run for its method resubmits it
// under the same reference, and a later success notification is still applied.
func (uc *PayoutUseCase) RecoverStaleLines(ctx context.Context) (int, error) {
	staleAfter := uc.settings.LineTimeout * time.Duration(max(uc.settings.LineMaxAttempts, 1))
	cutoff := uc.clock.Now().Add(-staleAfter)

	stale, err := uc.payoutRepo.ListStaleLines(ctx, cutoff, uc.settings.JobBatchSize)
	if err != nil {
		return 0, err
	}

	recovered := 0

	for _, line := range stale {
		_, changed, err := uc.applyOutcome(ctx, domain.TransferOutcome{
			Reference: line.TransferReference,
			Reason:    "transfer timed out",
		}, 0, false)
		if err != nil {
			uc.logger.Error().Err(err).Str("reference", line.TransferReference).Msg("failed to recover stale payout line")
			continue
		}

		if changed {
			recovered++
		}
	}

	return recovered, nil
}

// UpsertProfile stores how and where a seller is paid.
func (uc *PayoutUseCase) UpsertProfile(ctx context.Context, profile *domain.SellerPayoutProfile) error {
	if err := profile.Validate(); err != nil {
		return err
	}

	now := uc.clock.Now()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now

	return uc.profileRepo.Upsert(ctx, profile)
}

// GetProfile returns a seller's payout profile.
func (uc *PayoutUseCase) GetProfile(ctx context.Context, sellerID string) (*domain.SellerPayoutProfile, error) {
	return uc.profileRepo.GetBySeller(ctx, sellerID)
}
