package ledger

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Tolerance is the magnitude below which an amount counts as settled.
// Equal splits leave residues around 1e-16 after decimal division.
var Tolerance = decimal.New(1, -6)

type position struct {
	userID string
	amount decimal.Decimal
}

// PlanTransactions returns transfers that bring every balance to zero by
// repeatedly matching the largest debtor with the largest creditor.
//
// Ties on magnitude are broken by user id so the plan is reproducible.
// The result has at most len(debtors)+len(creditors)-1 transfers.
func PlanTransactions(balances Balances) ([]Transfer, error) {
	var debtors, creditors []position
	for _, uid := range balances.UserIDs() {
		b := balances[uid]
		switch {
		case b.Abs().LessThanOrEqual(Tolerance):
		case b.IsNegative():
			debtors = append(debtors, position{userID: uid, amount: b.Neg()})
		default:
			creditors = append(creditors, position{userID: uid, amount: b})
		}
	}
	sortPositions(debtors)
	sortPositions(creditors)

	var transfers []Transfer
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		d := &debtors[i]
		c := &creditors[j]

		amt := decimal.Min(d.amount, c.amount)
		transfers = append(transfers, Transfer{From: d.userID, To: c.userID, Amount: amt})
		d.amount = d.amount.Sub(amt)
		c.amount = c.amount.Sub(amt)

		if d.amount.LessThanOrEqual(Tolerance) {
			i++
		}
		if c.amount.LessThanOrEqual(Tolerance) {
			j++
		}
	}

	if left := leftover(debtors[i:]).Add(leftover(creditors[j:])); left.GreaterThan(Tolerance) {
		return transfers, fmt.Errorf("%w: %s left unmatched", ErrUnbalanced, left.String())
	}
	return transfers, nil
}

func sortPositions(ps []position) {
	sort.SliceStable(ps, func(a, b int) bool {
		if c := ps[a].amount.Cmp(ps[b].amount); c != 0 {
			return c > 0
		}
		return ps[a].userID < ps[b].userID
	})
}

func leftover(ps []position) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range ps {
		sum = sum.Add(p.amount)
	}
	return sum
}
