// Package memory is an in-process ledger store, used for tests and for
// running the bot without a database.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/susu3304/warikanbot/internal/ledger"
)

var _ ledger.Store = (*Store)(nil)

type memberKey struct {
	groupID string
	userID  string
}

type Store struct {
	mu sync.RWMutex

	groups     map[string]ledger.Group
	groupOrder []string
	members    map[memberKey]ledger.Member
	joined     map[string][]string // group id -> user ids in join order
	expenses   map[int64]ledger.Expense
	nextID     int64
}

func New() *Store {
	return &Store{
		groups:   make(map[string]ledger.Group),
		members:  make(map[memberKey]ledger.Member),
		joined:   make(map[string][]string),
		expenses: make(map[int64]ledger.Expense),
		nextID:   1,
	}
}

func (s *Store) AddGroup(_ context.Context, g ledger.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.groups[g.ID]; ok {
		if g.Title != "" {
			cur.Title = g.Title
			s.groups[g.ID] = cur
		}
		return nil
	}
	s.groups[g.ID] = g
	s.groupOrder = append(s.groupOrder, g.ID)
	return nil
}

func (s *Store) ListGroups(_ context.Context) ([]ledger.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ledger.Group, 0, len(s.groupOrder))
	for _, id := range s.groupOrder {
		out = append(out, s.groups[id])
	}
	return out, nil
}

func (s *Store) AddMember(_ context.Context, m ledger.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := memberKey{m.GroupID, m.UserID}
	if cur, ok := s.members[k]; ok {
		if m.Name != "" {
			cur.Name = m.Name
			s.members[k] = cur
		}
		return nil
	}
	s.members[k] = m
	s.joined[m.GroupID] = append(s.joined[m.GroupID], m.UserID)
	return nil
}

func (s *Store) ListMembers(_ context.Context, groupID string) ([]ledger.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.joined[groupID]
	out := make([]ledger.Member, 0, len(ids))
	for _, uid := range ids {
		out = append(out, s.members[memberKey{groupID, uid}])
	}
	return out, nil
}

func (s *Store) LookupMember(_ context.Context, groupID, userID string) (*ledger.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.members[memberKey{groupID, userID}]
	if !ok {
		return nil, ledger.ErrUnknownMember
	}
	return &m, nil
}

// AddExpense validates every reference before touching state, so a failure
// leaves nothing behind.
func (s *Store) AddExpense(_ context.Context, e ledger.NewExpense) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(e.Participants) == 0 {
		return 0, ledger.ErrEmptyParticipants
	}
	if _, ok := s.members[memberKey{e.GroupID, e.PayerID}]; !ok {
		return 0, fmt.Errorf("payer %s: %w", e.PayerID, ledger.ErrUnknownMember)
	}
	seen := make(map[string]struct{}, len(e.Participants))
	for _, uid := range e.Participants {
		if _, ok := s.members[memberKey{e.GroupID, uid}]; !ok {
			return 0, fmt.Errorf("participant %s: %w", uid, ledger.ErrUnknownMember)
		}
		if _, dup := seen[uid]; dup {
			return 0, &ledger.ValidationError{Field: "participants", Message: "duplicate member " + uid}
		}
		seen[uid] = struct{}{}
	}

	id := s.nextID
	s.nextID++
	s.expenses[id] = ledger.Expense{
		ID:           id,
		GroupID:      e.GroupID,
		Name:         e.Name,
		Amount:       e.Amount,
		PayerID:      e.PayerID,
		CreatedAt:    e.CreatedAt,
		Participants: append([]string(nil), e.Participants...),
	}
	return id, nil
}

func (s *Store) ListExpenses(_ context.Context, groupID string, limit int) ([]ledger.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ledger.Expense
	for _, e := range s.expenses {
		if e.GroupID == groupID {
			out = append(out, cloneExpense(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetExpense(_ context.Context, groupID string, id int64) (*ledger.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.expenses[id]
	if !ok || e.GroupID != groupID {
		return nil, ledger.ErrExpenseNotFound
	}
	e = cloneExpense(e)
	return &e, nil
}

func (s *Store) DeleteExpense(_ context.Context, groupID string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.expenses[id]
	if !ok || e.GroupID != groupID {
		return ledger.ErrExpenseNotFound
	}
	delete(s.expenses, id)
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func cloneExpense(e ledger.Expense) ledger.Expense {
	e.Participants = append([]string(nil), e.Participants...)
	return e
}
