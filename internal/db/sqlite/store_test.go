package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/susu3304/warikanbot/internal/ledger"
	"github.com/susu3304/warikanbot/internal/ledger/ledgertest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestStore(t *testing.T) {
	ledgertest.RunStoreSuite(t, func(t *testing.T) ledger.Store { return openTestStore(t) })
}

func TestMigrateTwice(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}

// Participant rows must go when their expense is deleted.
func TestDeleteCascades(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	ledgertest.Seed(t, s)

	id, err := s.AddExpense(ctx, ledger.NewExpense{
		GroupID: "g1", Name: "Snacks", Amount: mustDecimal(t, "12"),
		PayerID: "a", Participants: []string{"a", "b"},
	})
	require.NoError(t, err)
	require.NoError(t, s.DeleteExpense(ctx, "g1", id))

	var n int
	require.NoError(t, s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM expense_participants WHERE expense_id = ?`, id).Scan(&n))
	assert.Zero(t, n)
}

// A full history is read with a fixed number of bound variables, so it
// stays readable past SQLite's per-statement variable limit.
func TestListExpensesLongHistory(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	ledgertest.Seed(t, s)

	const n = 33000
	_, err := s.db.ExecContext(ctx, `
		WITH RECURSIVE seq(x) AS (SELECT 1 UNION ALL SELECT x + 1 FROM seq WHERE x < ?)
		INSERT INTO expenses (group_id, name, amount, payer_id, created_at)
		SELECT 'g1', 'e' || x, '3', 'a', x FROM seq`, n)
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO expense_participants (expense_id, group_id, user_id, seq)
		SELECT id, 'g1', 'b', 0 FROM expenses
		UNION ALL
		SELECT id, 'g1', 'c', 1 FROM expenses`)
	require.NoError(t, err)

	list, err := s.ListExpenses(ctx, "g1", 0)
	require.NoError(t, err)
	require.Len(t, list, n)
	assert.Equal(t, "e33000", list[0].Name)
	for _, e := range []ledger.Expense{list[0], list[n/2], list[n-1]} {
		assert.Equal(t, []string{"b", "c"}, e.Participants, "expense %d", e.ID)
	}

	balances, err := ledger.ComputeBalances([]ledger.Member{{GroupID: "g1", UserID: "a"}}, list)
	require.NoError(t, err)
	assert.True(t, balances["a"].Equal(mustDecimal(t, "99000")))

	page, err := s.ListExpenses(ctx, "g1", 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, []string{"b", "c"}, page[1].Participants)
}
