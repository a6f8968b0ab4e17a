package ledger

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Service validates writes against the ledger invariants and serves the
// balance and settlement queries of a group.
type Service struct {
	store Store
	log   *zap.Logger
	now   func() time.Time
}

func NewService(store Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, log: log, now: time.Now}
}

// Ping checks that the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return wrapStorage("ping", s.store.Ping(ctx))
}

// EnsureGroup records the group, refreshing its title when one is given.
func (s *Service) EnsureGroup(ctx context.Context, groupID, title string) error {
	return wrapStorage("add group", s.store.AddGroup(ctx, Group{ID: groupID, Title: title}))
}

// RegisterGroup records the group and reports whether it was new.
func (s *Service) RegisterGroup(ctx context.Context, groupID, title string) (bool, error) {
	groups, err := s.Groups(ctx)
	if err != nil {
		return false, err
	}
	known := false
	for _, g := range groups {
		if g.ID == groupID {
			known = true
			break
		}
	}
	if err := s.EnsureGroup(ctx, groupID, title); err != nil {
		return false, err
	}
	return !known, nil
}

func (s *Service) Groups(ctx context.Context) ([]Group, error) {
	groups, err := s.store.ListGroups(ctx)
	return groups, wrapStorage("list groups", err)
}

// EnsureMember enrols a user in the group. Membership is never removed.
func (s *Service) EnsureMember(ctx context.Context, groupID, userID, name string) error {
	if err := s.EnsureGroup(ctx, groupID, ""); err != nil {
		return err
	}
	return wrapStorage("add member", s.store.AddMember(ctx, Member{GroupID: groupID, UserID: userID, Name: name}))
}

func (s *Service) Members(ctx context.Context, groupID string) ([]Member, error) {
	members, err := s.store.ListMembers(ctx, groupID)
	return members, wrapStorage("list members", err)
}

func (s *Service) Member(ctx context.Context, groupID, userID string) (*Member, error) {
	m, err := s.store.LookupMember(ctx, groupID, userID)
	return m, wrapStorage("lookup member", err)
}

// Username returns the display name of a member, or "Unknown".
func (s *Service) Username(ctx context.Context, groupID, userID string) string {
	m, err := s.store.LookupMember(ctx, groupID, userID)
	if err != nil || m.Name == "" {
		return "Unknown"
	}
	return m.Name
}

// CommitExpense validates e and persists it together with its participants.
func (s *Service) CommitExpense(ctx context.Context, e NewExpense) (*Expense, error) {
	e.Name = strings.TrimSpace(e.Name)
	if e.Name == "" {
		return nil, &ValidationError{Field: "name", Message: "must not be empty"}
	}
	if !e.Amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Message: "must be positive"}
	}
	if len(e.Participants) == 0 {
		return nil, ErrEmptyParticipants
	}
	if _, err := s.Member(ctx, e.GroupID, e.PayerID); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(e.Participants))
	for _, uid := range e.Participants {
		if _, dup := seen[uid]; dup {
			return nil, &ValidationError{Field: "participants", Message: "duplicate member " + uid}
		}
		seen[uid] = struct{}{}
		if _, err := s.Member(ctx, e.GroupID, uid); err != nil {
			return nil, err
		}
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}

	id, err := s.store.AddExpense(ctx, e)
	if err != nil {
		return nil, wrapStorage("add expense", err)
	}
	s.log.Info("expense committed",
		zap.Int64("expense_id", id),
		zap.String("group_id", e.GroupID),
		zap.String("payer_id", e.PayerID),
		zap.String("amount", e.Amount.String()),
		zap.Int("participants", len(e.Participants)),
	)
	return &Expense{
		ID:           id,
		GroupID:      e.GroupID,
		Name:         e.Name,
		Amount:       e.Amount,
		PayerID:      e.PayerID,
		CreatedAt:    e.CreatedAt,
		Participants: append([]string(nil), e.Participants...),
	}, nil
}

// History returns up to limit expenses, newest first.
func (s *Service) History(ctx context.Context, groupID string, limit int) ([]Expense, error) {
	expenses, err := s.store.ListExpenses(ctx, groupID, limit)
	return expenses, wrapStorage("list expenses", err)
}

// DeleteExpense removes an expense and its participant links.
// A missing expense yields ErrExpenseNotFound.
func (s *Service) DeleteExpense(ctx context.Context, groupID string, id int64) error {
	if err := s.store.DeleteExpense(ctx, groupID, id); err != nil {
		return wrapStorage("delete expense", err)
	}
	s.log.Info("expense deleted", zap.Int64("expense_id", id), zap.String("group_id", groupID))
	return nil
}

// Balances computes every member's balance from the group's full history.
func (s *Service) Balances(ctx context.Context, groupID string) (Balances, error) {
	members, err := s.Members(ctx, groupID)
	if err != nil {
		return nil, err
	}
	expenses, err := s.History(ctx, groupID, 0)
	if err != nil {
		return nil, err
	}
	balances, err := ComputeBalances(members, expenses)
	if err != nil {
		s.log.Error("balance computation failed", zap.String("group_id", groupID), zap.Error(err))
		return nil, err
	}
	return balances, nil
}

// PlanSettlement returns the transfers that settle the group.
func (s *Service) PlanSettlement(ctx context.Context, groupID string) ([]Transfer, error) {
	balances, err := s.Balances(ctx, groupID)
	if err != nil {
		return nil, err
	}
	transfers, err := PlanTransactions(balances)
	if err != nil {
		s.log.Error("settlement plan inconsistent",
			zap.String("group_id", groupID),
			zap.String("sum", balances.Sum().String()),
			zap.Error(err),
		)
		return nil, err
	}
	return transfers, nil
}
