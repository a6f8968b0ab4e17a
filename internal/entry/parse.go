package entry

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type ParseErrorKind int

const (
	WrongFieldCount ParseErrorKind = iota + 1
	EmptyName
	NonNumericAmount
	NonPositiveAmount
)

func (k ParseErrorKind) String() string {
	switch k {
	case WrongFieldCount:
		return "wrong field count"
	case EmptyName:
		return "empty name"
	case NonNumericAmount:
		return "non-numeric amount"
	case NonPositiveAmount:
		return "non-positive amount"
	}
	return "unknown"
}

// ParseError explains why expense details could not be read.
type ParseError struct {
	Kind  ParseErrorKind
	Input string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("entry: parse %q: %s", e.Input, e.Kind)
}

// ParseDetails reads "name, amount". Exactly two comma separated fields are
// accepted; a full-width comma counts as a separator too.
func ParseDetails(text string) (string, decimal.Decimal, error) {
	fields := strings.Split(strings.ReplaceAll(text, "，", ","), ",")
	if len(fields) != 2 {
		return "", decimal.Zero, &ParseError{Kind: WrongFieldCount, Input: text}
	}

	name := strings.TrimSpace(fields[0])
	if name == "" {
		return "", decimal.Zero, &ParseError{Kind: EmptyName, Input: text}
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(fields[1]))
	if err != nil {
		return "", decimal.Zero, &ParseError{Kind: NonNumericAmount, Input: text}
	}
	if !amount.IsPositive() {
		return "", decimal.Zero, &ParseError{Kind: NonPositiveAmount, Input: text}
	}
	return name, amount, nil
}
