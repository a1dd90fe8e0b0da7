package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context while preserving the error chain.
// If err is nil, Wrap returns nil.
// If err is already an *Error, the wrapper inherits its code, status and
// retry delay. Otherwise the code is inferred from context errors or, failing
// that, from Classify.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var runErr *Error
	if errors.As(err, &runErr) {
		wrapped := &Error{
			code:       runErr.code,
			category:   runErr.category,
			message:    message,
			cause:      err,
			metadata:   runErr.Metadata(),
			retryable:  runErr.retryable,
			statusCode: runErr.statusCode,
			retryAfter: runErr.retryAfter,
			timestamp:  runErr.timestamp,
			runID:      runErr.runID,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(ErrCodeTimeout, message, append(opts, WithCause(err))...)
	}
	if errors.Is(err, context.Canceled) {
		return New(ErrCodeCanceled, message, append(opts, WithCause(err))...)
	}

	opts = append(opts, WithCause(err))
	if status := statusOf(err); status > 0 {
		opts = append([]Option{WithStatusCode(status)}, opts...)
	}
	switch Classify(err) {
	case KindThrottle:
		return New(ErrCodeRateLimit, message, opts...)
	case KindTransient:
		return New(ErrCodeUnavailable, message, opts...)
	}
	if status := statusOf(err); status > 0 {
		return New(CodeForStatus(status), message, opts...)
	}
	return New(ErrCodeInternal, message, opts...)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps an error with a specific error code.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	opts = append(opts, WithCause(err))
	return New(code, message, opts...)
}

// AsRunError extracts a RunError from an error chain.
// Returns nil if no *Error is found.
func AsRunError(err error) RunError {
	var runErr *Error
	if errors.As(err, &runErr) {
		return runErr
	}
	return nil
}

// Is checks if any error in the chain has the given error code.
func Is(err error, code ErrorCode) bool {
	var runErr *Error
	if errors.As(err, &runErr) {
		return runErr.code == code
	}
	return false
}

// IsCategory checks if any error in the chain has the given category.
func IsCategory(err error, category ErrorCategory) bool {
	var runErr *Error
	if errors.As(err, &runErr) {
		return runErr.category == category
	}
	return false
}

// IsRetryable checks if the error is retryable.
// Errors outside the taxonomy are retryable when Classify recognises them as
// throttling or transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var runErr *Error
	if errors.As(err, &runErr) {
		return runErr.Retryable()
	}
	k := Classify(err)
	return k == KindThrottle || k == KindTransient
}

// Code extracts the error code from an error, if available.
func Code(err error) ErrorCode {
	var runErr *Error
	if errors.As(err, &runErr) {
		return runErr.code
	}
	return ""
}

// Cause returns the root cause of the error chain.
func Cause(err error) error {
	for {
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return err
		}
		inner := unwrapper.Unwrap()
		if inner == nil {
			return err
		}
		err = inner
	}
}

// Join combines multiple errors into a single error.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// RecoverPanic converts a recovered panic value into an Error.
func RecoverPanic(recovered interface{}) *Error {
	if recovered == nil {
		return nil
	}
	var message string
	switch v := recovered.(type) {
	case error:
		message = v.Error()
	case string:
		message = v
	default:
		message = fmt.Sprintf("%v", v)
	}
	return New(ErrCodePanic, message, WithMetadata("panic_value", fmt.Sprintf("%T", recovered)))
}
