package llm

import (
	stderrors "errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"google.golang.org/api/googleapi"

	"github.com/vinayprograms/trialkit/errors"
)

// statusError builds the structured error for a non-2xx reply.
func statusError(provider string, status int, header http.Header, message string, cause error) *errors.Error {
	opts := []errors.Option{
		errors.WithMetadata("provider", provider),
		errors.WithRetryAfter(retryAfterFromHeader(header, time.Now())),
	}
	if cause != nil {
		opts = append(opts, errors.WithCause(cause))
	}
	message = provider + ": " + strings.TrimSpace(message)

	// Billing failures are permanent even when reported as 429, so the
	// status stays out of the classification path.
	if isBillingMessage(message) && status < 500 {
		opts = append(opts, errors.WithMetadata("http_status", strconv.Itoa(status)))
		return errors.New(errors.ErrCodeBilling, message, opts...)
	}
	return errors.FromStatus(status, message, opts...)
}

// callError converts an SDK or transport failure into a structured error.
func callError(provider string, err error) error {
	if err == nil {
		return nil
	}

	var anthErr *anthropic.Error
	if stderrors.As(err, &anthErr) {
		return statusError(provider, anthErr.StatusCode, responseHeader(anthErr.Response), anthErr.Error(), err)
	}

	var oaiErr *openai.Error
	if stderrors.As(err, &oaiErr) {
		return statusError(provider, oaiErr.StatusCode, responseHeader(oaiErr.Response), oaiErr.Error(), err)
	}

	var gErr *googleapi.Error
	if stderrors.As(err, &gErr) {
		msg := gErr.Message
		if msg == "" {
			msg = gErr.Error()
		}
		return statusError(provider, gErr.Code, gErr.Header, msg, err)
	}

	return errors.Wrap(err, provider+" request failed", errors.WithMetadata("provider", provider))
}

func responseHeader(resp *http.Response) http.Header {
	if resp == nil {
		return nil
	}
	return resp.Header
}

// retryAfterFromHeader reads retry-after-ms, then Retry-After.
func retryAfterFromHeader(h http.Header, now time.Time) time.Duration {
	if h == nil {
		return 0
	}
	if ms := h.Get("retry-after-ms"); ms != "" {
		if v, err := strconv.ParseFloat(ms, 64); err == nil && v > 0 {
			return time.Duration(v * float64(time.Millisecond))
		}
	}
	return errors.ParseRetryAfter(h.Get("Retry-After"), now)
}

var billingPatterns = []string{
	"billing",
	"payment",
	"credit balance",
	"insufficient_quota",
	"quota exceeded",
	"exceeded your current quota",
}

func isBillingMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, p := range billingPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
