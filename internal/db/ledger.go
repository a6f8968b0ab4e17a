package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/susu3304/warikanbot/internal/ledger"
)

// AddGroup inserts the group or refreshes its title when one is given.
func (db *DB) AddGroup(ctx context.Context, g ledger.Group) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO ledger_groups (id, title) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE
		 SET title = CASE WHEN EXCLUDED.title <> '' THEN EXCLUDED.title ELSE ledger_groups.title END`,
		g.ID, g.Title,
	)
	return err
}

func (db *DB) ListGroups(ctx context.Context) ([]ledger.Group, error) {
	rows, err := db.pool.Query(ctx, `SELECT id, title FROM ledger_groups ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.Group
	for rows.Next() {
		var g ledger.Group
		if err := rows.Scan(&g.ID, &g.Title); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// AddMember enrols a user, refreshing the display name when one is given.
func (db *DB) AddMember(ctx context.Context, m ledger.Member) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO members (group_id, user_id, name) VALUES ($1, $2, $3)
		 ON CONFLICT (group_id, user_id) DO UPDATE
		 SET name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE members.name END`,
		m.GroupID, m.UserID, m.Name,
	)
	return err
}

func (db *DB) ListMembers(ctx context.Context, groupID string) ([]ledger.Member, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT group_id, user_id, name FROM members WHERE group_id = $1 ORDER BY joined_seq`,
		groupID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.Member
	for rows.Next() {
		var m ledger.Member
		if err := rows.Scan(&m.GroupID, &m.UserID, &m.Name); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (db *DB) LookupMember(ctx context.Context, groupID, userID string) (*ledger.Member, error) {
	var m ledger.Member
	err := db.pool.QueryRow(ctx,
		`SELECT group_id, user_id, name FROM members WHERE group_id = $1 AND user_id = $2`,
		groupID, userID,
	).Scan(&m.GroupID, &m.UserID, &m.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrUnknownMember
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// AddExpense inserts the expense and its participant links in one transaction.
func (db *DB) AddExpense(ctx context.Context, e ledger.NewExpense) (int64, error) {
	if len(e.Participants) == 0 {
		return 0, ledger.ErrEmptyParticipants
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id int64
	if err := tx.QueryRow(ctx,
		`INSERT INTO expenses (group_id, name, amount, payer_id, created_at)
		 VALUES ($1, $2, $3::numeric, $4, $5)
		 RETURNING id`,
		e.GroupID, e.Name, e.Amount.String(), e.PayerID, e.CreatedAt.UTC(),
	).Scan(&id); err != nil {
		return 0, err
	}

	for i, uid := range e.Participants {
		if _, err := tx.Exec(ctx,
			`INSERT INTO expense_participants (expense_id, group_id, user_id, seq) VALUES ($1, $2, $3, $4)`,
			id, e.GroupID, uid, i,
		); err != nil {
			return 0, fmt.Errorf("participant %s: %w", uid, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return id, nil
}

func (db *DB) ListExpenses(ctx context.Context, groupID string, limit int) ([]ledger.Expense, error) {
	query := `SELECT id, group_id, name, amount::text, payer_id, created_at
		 FROM expenses WHERE group_id = $1
		 ORDER BY created_at DESC, id DESC`
	args := []any{groupID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var out []ledger.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, *e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	ids := make([]int64, len(out))
	byID := make(map[int64]*ledger.Expense, len(out))
	for i := range out {
		ids[i] = out[i].ID
		byID[out[i].ID] = &out[i]
	}
	prows, err := db.pool.Query(ctx,
		`SELECT expense_id, user_id FROM expense_participants
		 WHERE expense_id = ANY($1) ORDER BY expense_id, seq`,
		ids,
	)
	if err != nil {
		return nil, err
	}
	defer prows.Close()
	for prows.Next() {
		var (
			id  int64
			uid string
		)
		if err := prows.Scan(&id, &uid); err != nil {
			return nil, err
		}
		byID[id].Participants = append(byID[id].Participants, uid)
	}
	return out, prows.Err()
}

func (db *DB) GetExpense(ctx context.Context, groupID string, id int64) (*ledger.Expense, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT id, group_id, name, amount::text, payer_id, created_at
		 FROM expenses WHERE group_id = $1 AND id = $2`,
		groupID, id,
	)
	e, err := scanExpense(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrExpenseNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := db.pool.Query(ctx,
		`SELECT user_id FROM expense_participants WHERE expense_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		e.Participants = append(e.Participants, uid)
	}
	return e, rows.Err()
}

// DeleteExpense removes the expense; participant links go with it by cascade.
func (db *DB) DeleteExpense(ctx context.Context, groupID string, id int64) error {
	ct, err := db.pool.Exec(ctx, `DELETE FROM expenses WHERE group_id = $1 AND id = $2`, groupID, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ledger.ErrExpenseNotFound
	}
	return nil
}

func scanExpense(row pgx.Row) (*ledger.Expense, error) {
	var (
		e      ledger.Expense
		amount string
		at     time.Time
	)
	if err := row.Scan(&e.ID, &e.GroupID, &e.Name, &amount, &e.PayerID, &at); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("expense %d: bad amount %q: %w", e.ID, amount, err)
	}
	e.Amount = d
	e.CreatedAt = at
	return &e, nil
}
