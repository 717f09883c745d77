package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

// FailureClass buckets query failures for the self-healing loop.
type FailureClass string

const (
	FailureUnknownColumn FailureClass = "unknown-column"
	FailureUnknownTable  FailureClass = "unknown-table"
	FailureSyntax        FailureClass = "syntax-error"
	FailureTypeMismatch  FailureClass = "type-mismatch"
	FailureTimeout       FailureClass = "timeout"
	FailureOther         FailureClass = "other"
)

// Stable error codes carried on QueryError. The numbering follows the SQL
// standard class codes so downstream consumers see familiar values.
const (
	codeUnknownTable  = "42P01"
	codeUnknownColumn = "42703"
	codeSyntax        = "42601"
	codeTypeMismatch  = "42804"
	codeTimeout       = "57014"
	codeOther         = "XX000"
)

// QueryError is the structured failure returned by Execute. The raw driver
// message is preserved for logging but callers surface only the translated
// form.
type QueryError struct {
	Class      FailureClass
	Code       string
	Message    string // user-presentable translation
	Identifier string // offending table/column name when extractable
	Raw        string // driver error text, for audit only
}

func (e *QueryError) Error() string {
	if e.Identifier != "" {
		return e.Message + ": '" + e.Identifier + "'"
	}
	return e.Message
}

// Suggestion returns guidance for the regeneration step, per failure class.
func (e *QueryError) Suggestion() string {
	switch e.Class {
	case FailureUnknownColumn:
		return "Check the schema slice for correct column names; column names are case-sensitive."
	case FailureUnknownTable:
		return "Verify the table name against the schema slice; only listed tables exist."
	case FailureSyntax:
		return "Review SQL syntax: missing commas, unmatched parentheses, or misplaced keywords."
	case FailureTypeMismatch:
		return "Cast date and numeric columns explicitly; many date columns are stored as TEXT."
	case FailureTimeout:
		return "Narrow the query with WHERE clauses or a smaller LIMIT."
	default:
		return "Simplify the query and retry with only columns named in the schema slice."
	}
}

var (
	noSuchTableRe  = regexp.MustCompile(`no such table:?\s*([A-Za-z0-9_."]+)`)
	noSuchColumnRe = regexp.MustCompile(`no such column:?\s*([A-Za-z0-9_."]+)`)
	nearTokenRe    = regexp.MustCompile(`near "([^"]+)": syntax error`)
)

// Classify translates a driver or context error into a QueryError. It never
// returns nil for a non-nil input.
func Classify(err error) *QueryError {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &QueryError{
			Class:   FailureTimeout,
			Code:    codeTimeout,
			Message: "Query timeout exceeded",
			Raw:     err.Error(),
		}
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "no such table"):
		return &QueryError{
			Class:      FailureUnknownTable,
			Code:       codeUnknownTable,
			Message:    "Table does not exist",
			Identifier: firstGroup(noSuchTableRe, msg),
			Raw:        msg,
		}
	case strings.Contains(lower, "no such column"):
		return &QueryError{
			Class:      FailureUnknownColumn,
			Code:       codeUnknownColumn,
			Message:    "Column does not exist",
			Identifier: firstGroup(noSuchColumnRe, msg),
			Raw:        msg,
		}
	case strings.Contains(lower, "syntax error"):
		return &QueryError{
			Class:      FailureSyntax,
			Code:       codeSyntax,
			Message:    "Syntax error in SQL query",
			Identifier: firstGroup(nearTokenRe, msg),
			Raw:        msg,
		}
	case strings.Contains(lower, "datatype mismatch") || strings.Contains(lower, "type mismatch"):
		return &QueryError{
			Class:   FailureTypeMismatch,
			Code:    codeTypeMismatch,
			Message: "Data type mismatch",
			Raw:     msg,
		}
	case strings.Contains(lower, "interrupted") || strings.Contains(lower, "timeout"):
		return &QueryError{
			Class:   FailureTimeout,
			Code:    codeTimeout,
			Message: "Query timeout exceeded",
			Raw:     msg,
		}
	default:
		return &QueryError{
			Class:   FailureOther,
			Code:    codeOther,
			Message: "Database error occurred",
			Raw:     msg,
		}
	}
}

func firstGroup(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return strings.Trim(m[1], `"`)
}
