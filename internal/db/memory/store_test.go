package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/susu3304/warikanbot/internal/ledger"
	"github.com/susu3304/warikanbot/internal/ledger/ledgertest"
)

func TestStore(t *testing.T) {
	ledgertest.RunStoreSuite(t, func(t *testing.T) ledger.Store { return New() })
}

func TestAddExpenseDuplicateParticipant(t *testing.T) {
	ctx := context.Background()
	s := New()
	ledgertest.Seed(t, s)

	_, err := s.AddExpense(ctx, ledger.NewExpense{
		GroupID: "g1", Name: "Taxi", Amount: decimal.NewFromInt(30),
		PayerID: "a", CreatedAt: time.Now(), Participants: []string{"a", "b", "a"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInvalidExpense)

	var ve *ledger.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "participants", ve.Field)

	list, err := s.ListExpenses(ctx, "g1", 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}
