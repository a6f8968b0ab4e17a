package entry_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/susu3304/warikanbot/internal/db/memory"
	"github.com/susu3304/warikanbot/internal/entry"
	"github.com/susu3304/warikanbot/internal/ledger"
	"github.com/susu3304/warikanbot/internal/ledger/ledgertest"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	m        *entry.Machine
	store    ledger.Store
	sessions *entry.MemoryStore
	clock    *clock
}

func newFixture(t *testing.T, l func(ledger.Store) entry.Ledger) *fixture {
	t.Helper()
	store := memory.New()
	ledgertest.Seed(t, store)

	var ldg entry.Ledger = ledger.NewService(store, nil)
	if l != nil {
		ldg = l(store)
	}
	f := &fixture{
		store:    store,
		sessions: entry.NewMemoryStore(),
		clock:    &clock{now: time.Date(2024, 6, 1, 19, 0, 0, 0, time.UTC)},
	}
	f.m = entry.NewMachine(ldg, f.sessions, entry.WithClock(f.clock.Now), entry.WithTTL(15*time.Minute))
	return f
}

// toPayer starts a draft for user a and fills in the details.
func (f *fixture) toPayer(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := f.m.Start(ctx, "a", "g1", "ch1")
	require.NoError(t, err)
	d, err := f.m.SubmitDetails(ctx, "a", "Dinner, 100")
	require.NoError(t, err)
	require.Equal(t, entry.AwaitingPayer, d.State)
}

func (f *fixture) toMembers(t *testing.T) {
	t.Helper()
	f.toPayer(t)
	d, err := f.m.SelectPayer(context.Background(), "a", "a")
	require.NoError(t, err)
	require.Equal(t, entry.AwaitingMembers, d.State)
}

func (f *fixture) expenses(t *testing.T) []ledger.Expense {
	t.Helper()
	list, err := f.store.ListExpenses(context.Background(), "g1", 0)
	require.NoError(t, err)
	return list
}

func TestMachine_FullFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	d, err := f.m.Start(ctx, "a", "g1", "ch1")
	require.NoError(t, err)
	assert.Equal(t, entry.AwaitingDetails, d.State)
	assert.Equal(t, "ch1", d.ChannelID)

	r, err := f.m.Handle(ctx, "a", entry.SubmitDetails{Text: "Dinner, 100"})
	require.NoError(t, err)
	assert.Equal(t, entry.AwaitingPayer, r.State)
	assert.Equal(t, "Dinner", r.Draft.Name)

	r, err = f.m.Handle(ctx, "a", entry.SelectPayer{MemberID: "a"})
	require.NoError(t, err)
	assert.Equal(t, entry.AwaitingMembers, r.State)
	assert.Empty(t, r.Draft.Participants)

	for _, uid := range []string{"a", "b", "c"} {
		r, err = f.m.Handle(ctx, "a", entry.ToggleMember{MemberID: uid})
		require.NoError(t, err)
		assert.Equal(t, entry.Added, r.Toggle)
	}
	assert.Equal(t, []string{"a", "b", "c"}, r.Draft.Participants)

	r, err = f.m.Handle(ctx, "a", entry.Finalize{})
	require.NoError(t, err)
	assert.Equal(t, entry.Committed, r.State)
	require.NotNil(t, r.Expense)
	assert.Equal(t, "Dinner", r.Expense.Name)
	assert.Nil(t, r.Draft)

	list := f.expenses(t)
	require.Len(t, list, 1)
	assert.Equal(t, []string{"a", "b", "c"}, list[0].Participants)
	assert.Equal(t, "a", list[0].PayerID)
	assert.True(t, list[0].CreatedAt.Equal(f.clock.Now()))

	_, err = f.m.Current(ctx, "a")
	assert.ErrorIs(t, err, entry.ErrNoSession)
	assert.Zero(t, f.sessions.Len())
}

func TestMachine_WrongFieldCount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	_, err := f.m.Start(ctx, "a", "g1", "ch1")
	require.NoError(t, err)

	d, err := f.m.SubmitDetails(ctx, "a", "Lunch")
	var pe *entry.ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, entry.WrongFieldCount, pe.Kind)
	assert.Equal(t, entry.AwaitingDetails, d.State)

	cur, err := f.m.Current(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, entry.AwaitingDetails, cur.State)

	// The draft still accepts a correct retry.
	d, err = f.m.SubmitDetails(ctx, "a", "Lunch, 12")
	require.NoError(t, err)
	assert.Equal(t, entry.AwaitingPayer, d.State)
}

func TestMachine_ToggleTwiceRestores(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.toMembers(t)

	_, _, err := f.m.ToggleParticipant(ctx, "a", "b")
	require.NoError(t, err)
	before, err := f.m.Current(ctx, "a")
	require.NoError(t, err)

	for _, uid := range []string{"a", "c", "b"} {
		tg, _, err := f.m.ToggleParticipant(ctx, "a", uid)
		require.NoError(t, err)
		want := entry.Added
		if uid == "b" {
			want = entry.Removed
		}
		assert.Equal(t, want, tg, uid)

		tg, _, err = f.m.ToggleParticipant(ctx, "a", uid)
		require.NoError(t, err)
		assert.NotEqual(t, want, tg, uid)

		after, err := f.m.Current(ctx, "a")
		require.NoError(t, err)
		assert.ElementsMatch(t, before.Participants, after.Participants, uid)
	}
}

func TestMachine_FinalizeEmptyAbandons(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.toMembers(t)

	r, err := f.m.Handle(ctx, "a", entry.Finalize{})
	assert.ErrorIs(t, err, ledger.ErrEmptyParticipants)
	assert.Equal(t, entry.Abandoned, r.State)
	assert.Empty(t, f.expenses(t))

	_, err = f.m.Current(ctx, "a")
	assert.ErrorIs(t, err, entry.ErrNoSession)
}

func TestMachine_UnknownMember(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.toPayer(t)

	d, err := f.m.SelectPayer(ctx, "a", "mallory")
	assert.ErrorIs(t, err, ledger.ErrUnknownMember)
	assert.Equal(t, entry.AwaitingPayer, d.State)

	_, err = f.m.SelectPayer(ctx, "a", "b")
	require.NoError(t, err)
	_, _, err = f.m.ToggleParticipant(ctx, "a", "mallory")
	assert.ErrorIs(t, err, ledger.ErrUnknownMember)

	cur, err := f.m.Current(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, cur.Participants)
	assert.Equal(t, "b", cur.PayerID)
}

func TestMachine_StaleEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	events := []entry.Event{
		entry.SubmitDetails{Text: "x, 1"},
		entry.SelectPayer{MemberID: "a"},
		entry.ToggleMember{MemberID: "a"},
		entry.Finalize{},
		entry.Cancel{},
	}
	for _, ev := range events {
		t.Run(fmt.Sprintf("%T", ev), func(t *testing.T) {
			r, err := f.m.Handle(ctx, "nobody", ev)
			assert.ErrorIs(t, err, entry.ErrNoSession)
			assert.Equal(t, entry.Idle, r.State)
		})
	}

	_, err := f.m.Start(ctx, "a", "g1", "ch1")
	require.NoError(t, err)
	r, err := f.m.Handle(ctx, "a", entry.SelectPayer{MemberID: "a"})
	assert.ErrorIs(t, err, entry.ErrUnexpectedEvent)
	assert.Equal(t, entry.AwaitingDetails, r.State)

	r, err = f.m.Handle(ctx, "a", entry.Finalize{})
	assert.ErrorIs(t, err, entry.ErrUnexpectedEvent)
	assert.Equal(t, entry.AwaitingDetails, r.State)
}

func TestMachine_RestartReplacesDraft(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.toMembers(t)

	d, err := f.m.Start(ctx, "a", "g1", "ch2")
	require.NoError(t, err)
	assert.Equal(t, entry.AwaitingDetails, d.State)
	assert.Empty(t, d.Name)

	cur, err := f.m.Current(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "ch2", cur.ChannelID)
}

func TestMachine_Cancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.toMembers(t)

	d, err := f.m.Cancel(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, entry.Abandoned, d.State)
	assert.Equal(t, "Dinner", d.Name)

	_, err = f.m.Current(ctx, "a")
	assert.ErrorIs(t, err, entry.ErrNoSession)
	assert.Empty(t, f.expenses(t))
}

type flakyLedger struct {
	*ledger.Service
	fail bool
}

func (l *flakyLedger) CommitExpense(ctx context.Context, e ledger.NewExpense) (*ledger.Expense, error) {
	if l.fail {
		return nil, &ledger.StorageError{Op: "add expense", Err: errors.New("connection refused")}
	}
	return l.Service.CommitExpense(ctx, e)
}

func TestMachine_StorageFailureKeepsDraft(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyLedger{fail: true}
	f := newFixture(t, func(s ledger.Store) entry.Ledger {
		flaky.Service = ledger.NewService(s, nil)
		return flaky
	})
	f.toMembers(t)
	_, _, err := f.m.ToggleParticipant(ctx, "a", "b")
	require.NoError(t, err)

	r, err := f.m.Handle(ctx, "a", entry.Finalize{})
	require.Error(t, err)
	assert.True(t, ledger.IsStorage(err))
	assert.Equal(t, entry.AwaitingMembers, r.State)
	assert.Empty(t, f.expenses(t))

	flaky.fail = false
	e, err := f.m.Finalize(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, e.Participants)
	assert.Len(t, f.expenses(t), 1)
}

func TestMachine_IdleDraftsExpire(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.toPayer(t)
	_, err := f.m.Start(ctx, "b", "g1", "ch9")
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)
	_, err = f.m.SelectPayer(ctx, "a", "a")
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)
	expired, err := f.m.Expire(ctx)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "b", expired[0].UserID)
	assert.Equal(t, "ch9", expired[0].ChannelID)
	assert.Equal(t, entry.Abandoned, expired[0].State)

	cur, err := f.m.Current(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, entry.AwaitingMembers, cur.State)

	f.clock.Advance(16 * time.Minute)
	_, err = f.m.Current(ctx, "a")
	assert.ErrorIs(t, err, entry.ErrNoSession)
	assert.Zero(t, f.sessions.Len())
}

func TestMachine_ConcurrentToggles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	for i := 0; i < 20; i++ {
		require.NoError(t, f.store.AddMember(ctx, ledger.Member{GroupID: "g1", UserID: fmt.Sprintf("m%02d", i)}))
	}
	f.toMembers(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(uid string) {
			defer wg.Done()
			_, _, err := f.m.ToggleParticipant(ctx, "a", uid)
			assert.NoError(t, err)
		}(fmt.Sprintf("m%02d", i))
	}
	wg.Wait()

	d, err := f.m.Current(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, d.Participants, 20)
}
