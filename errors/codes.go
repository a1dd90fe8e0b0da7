package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryResource indicates throttling or exhausted spend.
	CategoryResource ErrorCategory = "resource"

	// CategoryInternal indicates unexpected errors, bugs, or corrupted state.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	switch c {
	case CategoryTransient, CategoryResource:
		return true
	default:
		return false
	}
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

const (
	// Transient errors
	ErrCodeTimeout     ErrorCode = "TIMEOUT"     // Call timed out
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE" // 502/503/504 from the remote
	ErrCodeNetworkErr  ErrorCode = "NETWORK_ERR" // Connection refused/reset

	// Permanent errors
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT" // 400/422 or malformed request
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"  // 401
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"     // 403
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"     // 404, unknown model
	ErrCodeCanceled     ErrorCode = "CANCELED"      // Stop signal before admission
	ErrCodeBilling      ErrorCode = "BILLING"       // 402, credits exhausted upstream
	ErrCodeRejected     ErrorCode = "REJECTED"      // Any other 4xx

	// Resource errors
	ErrCodeRateLimit       ErrorCode = "RATE_LIMITED"     // 429 or throttling text
	ErrCodeBudgetExhausted ErrorCode = "BUDGET_EXHAUSTED" // Admission denied by budget

	// Internal errors
	ErrCodeInternal   ErrorCode = "INTERNAL"   // Unexpected internal error
	ErrCodeCorruption ErrorCode = "CORRUPTION" // Unreadable cache or ledger file
	ErrCodePanic      ErrorCode = "PANIC"      // Recovered from panic in a run body
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeTimeout, ErrCodeUnavailable, ErrCodeNetworkErr:
		return CategoryTransient

	case ErrCodeInvalidInput, ErrCodeUnauthorized, ErrCodeForbidden, ErrCodeNotFound,
		ErrCodeCanceled, ErrCodeBilling, ErrCodeRejected:
		return CategoryPermanent

	case ErrCodeRateLimit, ErrCodeBudgetExhausted:
		return CategoryResource

	default:
		return CategoryInternal
	}
}

// DefaultRetryable returns whether this error code is typically retryable.
// Budget exhaustion is a resource error but retrying cannot help within the
// same batch, so it is excluded.
func (c ErrorCode) DefaultRetryable() bool {
	if c == ErrCodeBudgetExhausted {
		return false
	}
	return c.DefaultCategory().IsRetryable()
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeTimeout:         "call timed out",
	ErrCodeUnavailable:     "remote temporarily unavailable",
	ErrCodeNetworkErr:      "network connectivity error",
	ErrCodeInvalidInput:    "invalid input provided",
	ErrCodeUnauthorized:    "authentication required",
	ErrCodeForbidden:       "access denied",
	ErrCodeNotFound:        "resource not found",
	ErrCodeCanceled:        "run canceled before admission",
	ErrCodeBilling:         "billing or credit error",
	ErrCodeRejected:        "request rejected",
	ErrCodeRateLimit:       "rate limit exceeded",
	ErrCodeBudgetExhausted: "budget exhausted",
	ErrCodeInternal:        "internal error",
	ErrCodeCorruption:      "data corruption detected",
	ErrCodePanic:           "recovered from panic",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
