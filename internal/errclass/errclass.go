// Package errclass maps raw upstream errors onto a normalized
// (category, severity, code) triple.
//
// Classification is a pure function of the error text and, when available,
// an HTTP status code. Keyword rules are checked in a fixed precedence order
// and the first match wins.
package errclass

import (
	"errors"
	"strings"
)

// Category is the normalized error category.
type Category string

// Error categories in precedence order.
const (
	CategoryAuthentication Category = "authentication"
	CategoryAuthorization  Category = "authorization"
	CategoryConnectivity   Category = "connectivity"
	CategoryRateLimit      Category = "rate_limit"
	CategoryTimeout        Category = "timeout"
	CategoryValidation     Category = "validation"
	CategoryModelError     Category = "model_error"
	CategoryServerError    Category = "server_error"
	CategoryClientError    Category = "client_error"
	CategoryUnknown        Category = "unknown"
)

// Severity is the log/alert severity derived for an error.
type Severity string

// Severity levels, least to most severe.
const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Well-known error codes.
const (
	CodeAuthUnauthorized        = "AUTH_UNAUTHORIZED"
	CodeAuthInvalidCredentials  = "AUTH_INVALID_CREDENTIALS"
	CodeAuthzForbidden          = "AUTHZ_FORBIDDEN"
	CodeConnTimeout             = "CONN_TIMEOUT"
	CodeConnRefused             = "CONN_REFUSED"
	CodeConnReset               = "CONN_RESET"
	CodeConnNetwork             = "CONN_NETWORK"
	CodeRateTooManyRequests     = "RATE_TOO_MANY_REQUESTS"
	CodeRateQuotaExceeded       = "RATE_QUOTA_EXCEEDED"
	CodeTimeoutDeadlineExceeded = "TIMEOUT_DEADLINE_EXCEEDED"
	CodeValidationContextLength = "VALIDATION_CONTEXT_LENGTH"
	CodeValidationInvalidInput  = "VALIDATION_INVALID_INPUT"
	CodeModelContentFiltered    = "MODEL_CONTENT_FILTERED"
	CodeModelOverloaded         = "MODEL_OVERLOADED"
	CodeModelError              = "MODEL_ERROR"
	CodeServerUnavailable       = "SERVER_UNAVAILABLE"
	CodeServerInternal          = "SERVER_INTERNAL"
	CodeClientNotFound          = "CLIENT_NOT_FOUND"
	CodeClientBadRequest        = "CLIENT_BAD_REQUEST"
	CodeUnknown                 = "UNKNOWN_ERROR"
)

// Record is the classification result for a single error.
type Record struct {
	Category   Category `json:"category"`
	Severity   Severity `json:"severity"`
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	StatusCode int      `json:"statusCode,omitempty"`
	Stack      string   `json:"stack,omitempty"`
}

// Options carries context that is not part of the error text.
type Options struct {
	// StatusCode is the HTTP status returned by the upstream, if any.
	StatusCode int

	// Recurring marks an error that has already been seen for the same service.
	Recurring bool

	// Stack is an optional stack trace to attach to the record.
	Stack string
}

// HTTPStatuser is implemented by errors that carry an HTTP status code.
type HTTPStatuser interface {
	HTTPStatus() int
}

type rule struct {
	category Category
	keywords []string
}

// rules are evaluated top to bottom; the first category with a matching keyword wins.
var rules = []rule{
	{CategoryAuthentication, []string{"unauthorized", "unauthenticated", "authentication", "invalid api key", "incorrect api key", "401"}},
	{CategoryAuthorization, []string{"forbidden", "permission", "access denied", "not allowed", "403"}},
	// Rate-limit messages often name the key or the connection pool, so they
	// rank above the bare "api key" and connectivity keywords.
	{CategoryRateLimit, []string{"rate limit", "rate_limit", "ratelimit", "too many requests", "429", "quota"}},
	{CategoryAuthentication, []string{"api key"}},
	{CategoryConnectivity, []string{"connection", "network", "econnrefused", "econnreset", "dial tcp", "no such host", "unreachable", "dns"}},
	{CategoryTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{CategoryValidation, []string{"validation", "invalid", "malformed", "context length", "maximum context", "too many tokens", "too long"}},
	{CategoryModelError, []string{"model", "content filter", "content_filter", "content policy", "safety", "overloaded"}},
	{CategoryServerError, []string{"500", "502", "503", "504", "internal server error", "server error", "service unavailable", "bad gateway"}},
	{CategoryClientError, []string{"400", "404", "bad request", "not found", "client error"}},
}

// Classify classifies err without extra context.
func Classify(err error) Record {
	return ClassifyWith(err, Options{})
}

// ClassifyWith classifies err using opts. A status code found on the error
// chain is used when opts does not carry one.
func ClassifyWith(err error, opts Options) Record {
	if err == nil {
		return Record{Category: CategoryUnknown, Severity: SeverityInfo, Code: CodeUnknown}
	}
	if opts.StatusCode == 0 {
		opts.StatusCode = StatusCode(err)
	}
	return ClassifyMessage(err.Error(), opts)
}

// ClassifyMessage classifies a raw error message.
func ClassifyMessage(message string, opts Options) Record {
	lower := strings.ToLower(message)

	category := categorize(lower)
	if category == CategoryUnknown && opts.StatusCode != 0 {
		category = categoryForStatus(opts.StatusCode)
	}

	return Record{
		Category:   category,
		Severity:   severityFor(category, opts.StatusCode, opts.Recurring),
		Code:       codeFor(category, lower, opts.StatusCode),
		Message:    message,
		StatusCode: opts.StatusCode,
		Stack:      opts.Stack,
	}
}

// StatusCode returns the HTTP status carried anywhere on err's chain, or 0.
func StatusCode(err error) int {
	var s HTTPStatuser
	if errors.As(err, &s) {
		return s.HTTPStatus()
	}
	return 0
}

// IsTransient reports whether err looks like a transient infrastructure
// failure worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "connection") ||
		strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "temporarily unavailable")
}

func categorize(lower string) Category {
	for _, r := range rules {
		if containsAny(lower, r.keywords...) {
			return r.category
		}
	}
	return CategoryUnknown
}

func categoryForStatus(status int) Category {
	switch {
	case status == 401:
		return CategoryAuthentication
	case status == 403:
		return CategoryAuthorization
	case status == 429:
		return CategoryRateLimit
	case status == 408 || status == 504:
		return CategoryTimeout
	case status >= 500:
		return CategoryServerError
	case status >= 400:
		return CategoryClientError
	default:
		return CategoryUnknown
	}
}

func severityFor(category Category, status int, recurring bool) Severity {
	switch {
	case category == CategoryServerError || status >= 500:
		return SeverityCritical
	case recurring && (category == CategoryConnectivity || category == CategoryAuthentication):
		return SeverityCritical
	case category == CategoryAuthentication || category == CategoryAuthorization || category == CategoryConnectivity:
		return SeverityError
	case status >= 400 && status < 500:
		return SeverityError
	case category == CategoryRateLimit || category == CategoryTimeout || category == CategoryValidation:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

func codeFor(category Category, lower string, status int) string {
	switch category {
	case CategoryAuthentication:
		if containsAny(lower, "api key", "credential") {
			return CodeAuthInvalidCredentials
		}
		return CodeAuthUnauthorized
	case CategoryAuthorization:
		return CodeAuthzForbidden
	case CategoryConnectivity:
		switch {
		case containsAny(lower, "timeout", "timed out"):
			return CodeConnTimeout
		case containsAny(lower, "refused", "econnrefused"):
			return CodeConnRefused
		case containsAny(lower, "reset", "econnreset"):
			return CodeConnReset
		default:
			return CodeConnNetwork
		}
	case CategoryRateLimit:
		if strings.Contains(lower, "quota") {
			return CodeRateQuotaExceeded
		}
		return CodeRateTooManyRequests
	case CategoryTimeout:
		return CodeTimeoutDeadlineExceeded
	case CategoryValidation:
		if containsAny(lower, "context length", "maximum context", "too many tokens") {
			return CodeValidationContextLength
		}
		return CodeValidationInvalidInput
	case CategoryModelError:
		switch {
		case containsAny(lower, "content filter", "content_filter", "content policy", "safety"):
			return CodeModelContentFiltered
		case strings.Contains(lower, "overloaded"):
			return CodeModelOverloaded
		default:
			return CodeModelError
		}
	case CategoryServerError:
		if status == 503 || containsAny(lower, "503", "service unavailable", "502", "bad gateway") {
			return CodeServerUnavailable
		}
		return CodeServerInternal
	case CategoryClientError:
		if status == 404 || containsAny(lower, "404", "not found") {
			return CodeClientNotFound
		}
		return CodeClientBadRequest
	default:
		return CodeUnknown
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
