package harvest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Sentinel errors shared across providers and configuration.
var (
	ErrQuota                 = errors.New("provider quota exhausted")
	ErrAuth                  = errors.New("provider rejected credentials")
	ErrProviderUnavailable   = errors.New("provider unavailable")
	ErrMalformedResponse     = errors.New("malformed provider response")
	ErrConfirmationRequired  = errors.New("execute mode requires explicit confirmation")
	ErrUnsupportedURL        = errors.New("unsupported url")
	ErrUnsupportedContent    = errors.New("unsupported content type")
	ErrVerificationTimedOut  = errors.New("verification still pending after poll timeout")
	ErrEnrichmentUnavailable = errors.New("enrichment provider not configured")
	ErrQueueClosed           = errors.New("queue closed")
)

// StatusError reports a non-success HTTP status from a fetch.
type StatusError struct {
	Code int
}

func (e StatusError) Error() string {
	return fmt.Sprintf("http status %d", e.Code)
}

// Retryable reports whether the status is worth another attempt.
func (e StatusError) Retryable() bool {
	switch e.Code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// ProviderError wraps a search or enrichment API failure with its class.
type ProviderError struct {
	Provider string
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ClassifyStatus maps an API status code to a sentinel class.
func ClassifyStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests || status == http.StatusPaymentRequired:
		return ErrQuota
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuth
	default:
		return ErrProviderUnavailable
	}
}

// ErrorLabel turns an error into a short metric/log label.
func ErrorLabel(err error) string {
	if err == nil {
		return "ok"
	}
	switch {
	case errors.Is(err, ErrQuota):
		return "quota"
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, ErrUnsupportedURL):
		return "unsupported"
	case errors.Is(err, ErrUnsupportedContent):
		return "content_type"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrVerificationTimedOut):
		return "pending"
	case errors.Is(err, ErrProviderUnavailable):
		return "unavailable"
	}
	var status StatusError
	if errors.As(err, &status) {
		return fmt.Sprintf("status_%d", status.Code)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "timeout"
		}
		return "connection"
	}
	return "other"
}
