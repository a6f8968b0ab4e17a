package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("ledger: not found")
	ErrExpenseNotFound   = errors.New("ledger: expense not found")
	ErrUnknownMember     = errors.New("ledger: not a member of the group")
	ErrEmptyParticipants = errors.New("ledger: expense has no participants")
	ErrInvalidExpense    = errors.New("ledger: invalid expense")

	// Internal consistency errors. Seeing one of these means a broken
	// invariant upstream, not a user mistake.
	ErrMalformedExpense = errors.New("ledger: malformed expense")
	ErrUnbalanced       = errors.New("ledger: balances do not sum to zero")
)

// ValidationError reports which field of an expense was rejected.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ledger: validation failed for %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidExpense }

// MalformedExpenseError is returned when a stored expense has no participants.
type MalformedExpenseError struct {
	ExpenseID int64
}

func (e *MalformedExpenseError) Error() string {
	return fmt.Sprintf("ledger: malformed expense %d: empty participant set", e.ExpenseID)
}

func (e *MalformedExpenseError) Unwrap() error { return ErrMalformedExpense }

// StorageError wraps a failure of the underlying store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("ledger: storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// wrapStorage leaves ledger errors untouched and wraps everything else.
func wrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsNotFound(err) || errors.Is(err, ErrUnknownMember) || errors.Is(err, ErrInvalidExpense) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsNotFound reports whether err is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrExpenseNotFound)
}

// IsInternal reports whether err signals a broken ledger invariant.
func IsInternal(err error) bool {
	return errors.Is(err, ErrMalformedExpense) || errors.Is(err, ErrUnbalanced)
}

// IsStorage reports whether err came from the store.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
