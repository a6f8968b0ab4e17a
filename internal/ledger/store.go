package ledger

import "context"

// Store is the persistence contract of the ledger.
//
// AddExpense and DeleteExpense are atomic: the expense row and all of its
// participant links are written or removed together, never partially.
type Store interface {
	AddGroup(ctx context.Context, g Group) error
	ListGroups(ctx context.Context) ([]Group, error)

	AddMember(ctx context.Context, m Member) error
	ListMembers(ctx context.Context, groupID string) ([]Member, error)
	LookupMember(ctx context.Context, groupID, userID string) (*Member, error)

	AddExpense(ctx context.Context, e NewExpense) (int64, error)
	// ListExpenses returns the newest expenses first. limit <= 0 returns all.
	ListExpenses(ctx context.Context, groupID string, limit int) ([]Expense, error)
	GetExpense(ctx context.Context, groupID string, id int64) (*Expense, error)
	DeleteExpense(ctx context.Context, groupID string, id int64) error

	Ping(ctx context.Context) error
	Close() error
}
