package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Balances maps a user id to its net position in a group.
// Positive means the group owes the user, negative means the user owes.
type Balances map[string]decimal.Decimal

// Sum returns the total of all balances. It is zero for a consistent ledger.
func (b Balances) Sum() decimal.Decimal {
	sum := decimal.Zero
	for _, v := range b {
		sum = sum.Add(v)
	}
	return sum
}

// UserIDs returns the keys in ascending order.
func (b Balances) UserIDs() []string {
	ids := make([]string, 0, len(b))
	for id := range b {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ComputeBalances derives every member's balance from the expense history.
//
// Each participant is debited amount/len(participants) and the payer is
// credited the full amount; a payer who also participates gets both.
func ComputeBalances(members []Member, expenses []Expense) (Balances, error) {
	balances := make(Balances, len(members))
	for _, m := range members {
		balances[m.UserID] = decimal.Zero
	}

	for i := range expenses {
		e := &expenses[i]
		share, err := e.Share()
		if err != nil {
			return nil, err
		}
		for _, uid := range e.Participants {
			balances[uid] = balances[uid].Sub(share)
		}
		balances[e.PayerID] = balances[e.PayerID].Add(e.Amount)
	}
	return balances, nil
}
