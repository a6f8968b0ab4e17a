// Package sqlite is the embedded ledger store, backed by modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/susu3304/warikanbot/internal/db/migrations"
	"github.com/susu3304/warikanbot/internal/ledger"
)

// compile-time interface check
var _ ledger.Store = (*Store)(nil)

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database file at path with foreign
// keys enforced. ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger/sqlite: open %s: %w", path, err)
	}
	// SQLite serialises writers anyway and every :memory: connection is a
	// separate database.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger/sqlite: ping: %w", err)
	}
	return &Store{db: db}, nil
}

// Migrate creates the required tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if err := migrations.Up(ctx, s.db, "sqlite"); err != nil {
		return fmt.Errorf("ledger/sqlite: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) AddGroup(ctx context.Context, g ledger.Group) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ledger_groups (id, title) VALUES (?, ?)
		 ON CONFLICT (id) DO UPDATE
		 SET title = CASE WHEN excluded.title <> '' THEN excluded.title ELSE ledger_groups.title END`,
		g.ID, g.Title,
	)
	return err
}

func (s *Store) ListGroups(ctx context.Context) ([]ledger.Group, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title FROM ledger_groups ORDER BY rowid`)
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

func (s *Store) AddMember(ctx context.Context, m ledger.Member) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO members (group_id, user_id, name) VALUES (?, ?, ?)
		 ON CONFLICT (group_id, user_id) DO UPDATE
		 SET name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE members.name END`,
		m.GroupID, m.UserID, m.Name,
	)
	return err
}

func (s *Store) ListMembers(ctx context.Context, groupID string) ([]ledger.Member, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT group_id, user_id, name FROM members WHERE group_id = ? ORDER BY rowid`, groupID)
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

func (s *Store) LookupMember(ctx context.Context, groupID, userID string) (*ledger.Member, error) {
	var m ledger.Member
	err := s.db.QueryRowContext(ctx,
		`SELECT group_id, user_id, name FROM members WHERE group_id = ? AND user_id = ?`,
		groupID, userID,
	).Scan(&m.GroupID, &m.UserID, &m.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrUnknownMember
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) AddExpense(ctx context.Context, e ledger.NewExpense) (int64, error) {
	if len(e.Participants) == 0 {
		return 0, ledger.ErrEmptyParticipants
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO expenses (group_id, name, amount, payer_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.GroupID, e.Name, e.Amount.String(), e.PayerID, e.CreatedAt.UnixNano(),
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for i, uid := range e.Participants {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO expense_participants (expense_id, group_id, user_id, seq) VALUES (?, ?, ?, ?)`,
			id, e.GroupID, uid, i,
		); err != nil {
			return 0, fmt.Errorf("participant %s: %w", uid, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) ListExpenses(ctx context.Context, groupID string, limit int) ([]ledger.Expense, error) {
	// LIMIT -1 is unbounded in SQLite.
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, group_id, name, amount, payer_id, created_at
		 FROM expenses WHERE group_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		groupID, limit,
	)
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

	byID := make(map[int64]*ledger.Expense, len(out))
	for i := range out {
		byID[out[i].ID] = &out[i]
	}
	// The page is selected again in a subquery so the bound variable count
	// stays fixed however long the history is.
	prows, err := s.db.QueryContext(ctx,
		`SELECT p.expense_id, p.user_id FROM expense_participants p
		 WHERE p.expense_id IN (
			SELECT id FROM expenses WHERE group_id = ?
			ORDER BY created_at DESC, id DESC LIMIT ?
		 ) ORDER BY p.expense_id, p.seq`,
		groupID, limit,
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
		// An expense inserted between the two queries may shift the page.
		if e, ok := byID[id]; ok {
			e.Participants = append(e.Participants, uid)
		}
	}
	return out, prows.Err()
}

func (s *Store) GetExpense(ctx context.Context, groupID string, id int64) (*ledger.Expense, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, group_id, name, amount, payer_id, created_at
		 FROM expenses WHERE group_id = ? AND id = ?`,
		groupID, id,
	)
	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrExpenseNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM expense_participants WHERE expense_id = ? ORDER BY seq`, id)
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

func (s *Store) DeleteExpense(ctx context.Context, groupID string, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM expenses WHERE group_id = ? AND id = ?`, groupID, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrExpenseNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExpense(row scanner) (*ledger.Expense, error) {
	var (
		e      ledger.Expense
		amount string
		nanos  int64
	)
	if err := row.Scan(&e.ID, &e.GroupID, &e.Name, &amount, &e.PayerID, &nanos); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("expense %d: bad amount %q: %w", e.ID, amount, err)
	}
	e.Amount = d
	e.CreatedAt = time.Unix(0, nanos).UTC()
	return &e, nil
}
