package usecase_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/settlement/internal/domain"
	"github.com/iho/settlement/internal/usecase"
)

func TestGrant(t *testing.T) {
	h := newHarness(t)

	result, err := h.credits.Grant(h.ctx, usecase.GrantCreditsInput{UserID: "user-1", Amount: 250, Memo: "welcome bonus", Actor: "admin-1"})
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)

	e := result.Entries[0]
	assert.Equal(t, domain.PartyIssuance, e.FromParty)
	assert.Equal(t, "user-1", e.ToParty)
	assert.Equal(t, domain.EntryTypeAdjustment, e.Type)
	assert.Equal(t, int64(1), e.ToVersion)

	assert.Equal(t, int64(250), h.balance("user-1", domain.DenominationCredits))
	assert.Equal(t, int64(-250), h.balance(domain.PartyIssuance, domain.DenominationCredits))
	assert.Equal(t, []string{domain.EventTypeCreditsGranted}, h.events(domain.AggregateTypeUser, "user-1"))

	logs, err := h.repos.Audit.List(h.ctx, domain.AuditFilter{Actor: "admin-1"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.AuditActionCreditGrant, logs[0].Action)
}

func TestGrant_Validation(t *testing.T) {
	h := newHarness(t)

	_, err := h.credits.Grant(h.ctx, usecase.GrantCreditsInput{UserID: "user-1", Amount: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = h.credits.Grant(h.ctx, usecase.GrantCreditsInput{UserID: domain.PartyRevenue, Amount: 10})
	assert.ErrorIs(t, err, domain.ErrInvalidParty)
}
