// Package ledgertest holds the behaviour every ledger.Store adapter must share.
package ledgertest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/susu3304/warikanbot/internal/ledger"
)

// RunStoreSuite runs the conformance tests against stores built by newStore.
// Each subtest gets a fresh store.
func RunStoreSuite(t *testing.T, newStore func(t *testing.T) ledger.Store) {
	t.Helper()

	t.Run("groups", func(t *testing.T) { testGroups(t, newStore(t)) })
	t.Run("members", func(t *testing.T) { testMembers(t, newStore(t)) })
	t.Run("expenses", func(t *testing.T) { testExpenses(t, newStore(t)) })
	t.Run("delete", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("atomic add", func(t *testing.T) { testAtomicAdd(t, newStore(t)) })
}

// Seed creates group g1 with members a, b and c.
func Seed(t *testing.T, s ledger.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.AddGroup(ctx, ledger.Group{ID: "g1", Title: "Trip"}))
	for _, m := range []ledger.Member{
		{GroupID: "g1", UserID: "a", Name: "Alice"},
		{GroupID: "g1", UserID: "b", Name: "Bob"},
		{GroupID: "g1", UserID: "c", Name: "Carol"},
	} {
		require.NoError(t, s.AddMember(ctx, m))
	}
}

func testGroups(t *testing.T, s ledger.Store) {
	ctx := context.Background()

	require.NoError(t, s.AddGroup(ctx, ledger.Group{ID: "g1", Title: "Trip"}))
	require.NoError(t, s.AddGroup(ctx, ledger.Group{ID: "g2"}))
	require.NoError(t, s.AddGroup(ctx, ledger.Group{ID: "g1"}))
	require.NoError(t, s.AddGroup(ctx, ledger.Group{ID: "g2", Title: "Flat"}))

	groups, err := s.ListGroups(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []ledger.Group{{ID: "g1", Title: "Trip"}, {ID: "g2", Title: "Flat"}}, groups)
}

func testMembers(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	Seed(t, s)

	require.NoError(t, s.AddMember(ctx, ledger.Member{GroupID: "g1", UserID: "a", Name: "Alicia"}))
	require.NoError(t, s.AddMember(ctx, ledger.Member{GroupID: "g1", UserID: "b"}))

	members, err := s.ListMembers(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, []string{"a", "b", "c"}, userIDs(members))
	assert.Equal(t, "Alicia", members[0].Name)
	assert.Equal(t, "Bob", members[1].Name)

	m, err := s.LookupMember(ctx, "g1", "c")
	require.NoError(t, err)
	assert.Equal(t, "Carol", m.Name)

	_, err = s.LookupMember(ctx, "g1", "zed")
	assert.ErrorIs(t, err, ledger.ErrUnknownMember)
	_, err = s.LookupMember(ctx, "g2", "a")
	assert.ErrorIs(t, err, ledger.ErrUnknownMember)

	other, err := s.ListMembers(ctx, "g2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func testExpenses(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	Seed(t, s)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	dinner, err := s.AddExpense(ctx, ledger.NewExpense{
		GroupID: "g1", Name: "Dinner", Amount: decimal.RequireFromString("100"),
		PayerID: "a", CreatedAt: base, Participants: []string{"c", "a", "b"},
	})
	require.NoError(t, err)
	taxi, err := s.AddExpense(ctx, ledger.NewExpense{
		GroupID: "g1", Name: "Taxi", Amount: decimal.RequireFromString("24.50"),
		PayerID: "b", CreatedAt: base.Add(time.Hour), Participants: []string{"b"},
	})
	require.NoError(t, err)
	assert.Greater(t, taxi, dinner)

	list, err := s.ListExpenses(ctx, "g1", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Taxi", list[0].Name)
	assert.Equal(t, "Dinner", list[1].Name)
	assert.True(t, list[1].Amount.Equal(decimal.NewFromInt(100)))
	assert.True(t, list[0].Amount.Equal(decimal.RequireFromString("24.5")))
	assert.Equal(t, []string{"c", "a", "b"}, list[1].Participants)
	assert.Equal(t, "a", list[1].PayerID)
	assert.WithinDuration(t, base, list[1].CreatedAt, time.Second)

	limited, err := s.ListExpenses(ctx, "g1", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, taxi, limited[0].ID)

	got, err := s.GetExpense(ctx, "g1", dinner)
	require.NoError(t, err)
	assert.Equal(t, "Dinner", got.Name)

	_, err = s.GetExpense(ctx, "g2", dinner)
	assert.ErrorIs(t, err, ledger.ErrExpenseNotFound)

	none, err := s.ListExpenses(ctx, "g2", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testDelete(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	Seed(t, s)

	id, err := s.AddExpense(ctx, ledger.NewExpense{
		GroupID: "g1", Name: "Lunch", Amount: decimal.NewFromInt(30),
		PayerID: "a", CreatedAt: time.Now(), Participants: []string{"a", "b", "c"},
	})
	require.NoError(t, err)

	assert.ErrorIs(t, s.DeleteExpense(ctx, "g2", id), ledger.ErrExpenseNotFound)
	require.NoError(t, s.DeleteExpense(ctx, "g1", id))
	assert.ErrorIs(t, s.DeleteExpense(ctx, "g1", id), ledger.ErrExpenseNotFound)

	list, err := s.ListExpenses(ctx, "g1", 0)
	require.NoError(t, err)
	assert.Empty(t, list)
	_, err = s.GetExpense(ctx, "g1", id)
	assert.ErrorIs(t, err, ledger.ErrExpenseNotFound)
}

// testAtomicAdd inserts an expense whose second participant link cannot be
// written. No trace of the expense may remain.
func testAtomicAdd(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	Seed(t, s)

	_, err := s.AddExpense(ctx, ledger.NewExpense{
		GroupID: "g1", Name: "Ghost", Amount: decimal.NewFromInt(10),
		PayerID: "a", CreatedAt: time.Now(), Participants: []string{"a", "nobody"},
	})
	require.Error(t, err)

	list, err := s.ListExpenses(ctx, "g1", 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	id, err := s.AddExpense(ctx, ledger.NewExpense{
		GroupID: "g1", Name: "Real", Amount: decimal.NewFromInt(10),
		PayerID: "a", CreatedAt: time.Now(), Participants: []string{"a"},
	})
	require.NoError(t, err)
	got, err := s.GetExpense(ctx, "g1", id)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got.Participants)
}

func userIDs(ms []ledger.Member) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.UserID
	}
	return out
}
