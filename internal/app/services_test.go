package app_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/settlement/internal/adapter/repository/memory"
	"github.com/iho/settlement/internal/app"
	"github.com/iho/settlement/internal/domain"
	"github.com/iho/settlement/internal/usecase"
	"github.com/iho/settlement/internal/usecase/mocks"
)

type countingRetrier struct {
	calls atomic.Int32
}

func (r *countingRetrier) Retry(_ context.Context, operation func() error) error {
	r.calls.Add(1)
	return operation()
}

func newDeps() app.Deps {
	clock := mocks.NewMockClock(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))

	return app.Deps{
		Repos:    memory.New().Repositories(),
		Cache:    memory.NewBalanceCache(),
		Guard:    memory.NewNotificationGuard(),
		Locker:   memory.NewLocker(clock),
		IDGen:    mocks.NewMockIDGenerator(),
		Clock:    clock,
		Settings: usecase.DefaultSettings(),
		Logger:   zerolog.Nop(),
	}
}

func TestNewServices_BuildsEveryUseCase(t *testing.T) {
	s := app.NewServices(newDeps())

	assert.NotNil(t, s.Ledger)
	assert.NotNil(t, s.Balances)
	assert.NotNil(t, s.Orders)
	assert.NotNil(t, s.Disputes)
	assert.NotNil(t, s.Payouts)
	assert.NotNil(t, s.Webhooks)
	assert.NotNil(t, s.Credits)
	assert.NotNil(t, s.Catalog)
	assert.NotNil(t, s.Reconciliation)
}

func TestNewServices_SharesOneLedger(t *testing.T) {
	ctx := context.Background()
	s := app.NewServices(newDeps())

	_, err := s.Credits.Grant(ctx, usecase.GrantCreditsInput{UserID: "buyer-1", Amount: 300, Actor: "admin-1"})
	require.NoError(t, err)

	balance, err := s.Balances.GetBalance(ctx, "buyer-1", domain.DenominationCredits)
	require.NoError(t, err)
	assert.Equal(t, int64(300), balance.Amount)

	report, err := s.Ledger.CheckConsistency(ctx)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
}

func TestNewServices_AppliesRetrier(t *testing.T) {
	deps := newDeps()
	retrier := &countingRetrier{}
	deps.Retrier = retrier

	s := app.NewServices(deps)

	_, err := s.Credits.Grant(context.Background(), usecase.GrantCreditsInput{UserID: "buyer-1", Amount: 10, Actor: "admin-1"})
	require.NoError(t, err)

	assert.Positive(t, retrier.calls.Load())
}
