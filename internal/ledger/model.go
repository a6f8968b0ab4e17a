package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Group is a guild sharing one expense ledger.
type Group struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Member is a user enrolled in a group's ledger.
type Member struct {
	GroupID string `json:"group_id"`
	UserID  string `json:"user_id"`
	Name    string `json:"name"`
}

// Expense is one recorded outlay, split equally among its participants.
type Expense struct {
	ID           int64           `json:"id"`
	GroupID      string          `json:"group_id"`
	Name         string          `json:"name"`
	Amount       decimal.Decimal `json:"amount"`
	PayerID      string          `json:"payer_id"`
	CreatedAt    time.Time       `json:"created_at"`
	Participants []string        `json:"participants"`
}

// Share returns the amount each participant owes.
func (e *Expense) Share() (decimal.Decimal, error) {
	if len(e.Participants) == 0 {
		return decimal.Zero, &MalformedExpenseError{ExpenseID: e.ID}
	}
	return e.Amount.Div(decimal.NewFromInt(int64(len(e.Participants)))), nil
}

// NewExpense is the insert payload for Store.AddExpense.
type NewExpense struct {
	GroupID      string
	Name         string
	Amount       decimal.Decimal
	PayerID      string
	CreatedAt    time.Time
	Participants []string
}

// Transfer is a single settlement recommendation: From pays To.
type Transfer struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}
