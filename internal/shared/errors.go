package shared

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrTenantRequired occurs when no tenant is bound to the request context.
	ErrTenantRequired = errors.New("tenant required")

	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrOverSettlement          = errors.New("over settlement")
	ErrOverApplication         = errors.New("over application")
	ErrOverReceipt             = errors.New("over receipt")
	ErrCurrencyMismatch        = errors.New("currency mismatch")
	ErrUnsupportedCurrencyPair = errors.New("unsupported currency pair")
	ErrAccountHasActivity      = errors.New("account has activity")

	// ErrConcurrencyConflict is the only kind callers may retry as-is.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

var kindNames = map[error]string{
	ErrNotFound:                "NotFound",
	ErrValidation:              "Validation",
	ErrTenantRequired:          "TenantRequired",
	ErrInsufficientFunds:       "InsufficientFunds",
	ErrInvalidStatusTransition: "InvalidStatusTransition",
	ErrOverSettlement:          "OverSettlement",
	ErrOverApplication:         "OverApplication",
	ErrOverReceipt:             "OverReceipt",
	ErrCurrencyMismatch:        "CurrencyMismatch",
	ErrUnsupportedCurrencyPair: "UnsupportedCurrencyPair",
	ErrAccountHasActivity:      "AccountHasActivity",
	ErrConcurrencyConflict:     "ConcurrencyConflict",
}

// RuleError carries a business-rule failure kind plus the context a caller
// needs to react to it (remaining balance, requested amount, ...).
type RuleError struct {
	Kind    error
	Message string
	Details map[string]string
}

// NewRuleError builds a RuleError of the given kind.
func NewRuleError(kind error, message string, details map[string]string) *RuleError {
	return &RuleError{Kind: kind, Message: message, Details: details}
}

// Invalid returns a validation RuleError.
func Invalid(format string, args ...any) error {
	return &RuleError{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

func (e *RuleError) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	}
	if e.Message != "" {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString(e.Message)
	}
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(k)
			b.WriteString("=")
			b.WriteString(e.Details[k])
		}
		b.WriteString(")")
	}
	return b.String()
}

func (e *RuleError) Unwrap() error {
	return e.Kind
}

// KindName returns the taxonomy name of err, or "Internal" for unclassified errors.
func KindName(err error) string {
	if err == nil {
		return ""
	}
	for kind, name := range kindNames {
		if errors.Is(err, kind) {
			return name
		}
	}
	return "Internal"
}

// DetailsOf extracts structured context from err when present.
func DetailsOf(err error) map[string]string {
	var rule *RuleError
	if errors.As(err, &rule) {
		return rule.Details
	}
	return nil
}

// Retryable reports whether the operation may be retried unchanged.
func Retryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}
