// Package trigger maps failures onto a fallback trigger, derives a severity
// from how often the trigger repeats, and keeps the incident log.
package trigger

import (
	"strings"

	"github.com/tutorstack/tutorguard/internal/errclass"
)

// Trigger is the reason a request fell back.
type Trigger string

// Fallback triggers.
const (
	RateLimited           Trigger = "rate_limited"
	Timeout               Trigger = "timeout"
	ContextExceeded       Trigger = "context_exceeded"
	ContentFiltered       Trigger = "content_filtered"
	AuthenticationFailure Trigger = "authentication_failure"
	APIUnavailable        Trigger = "api_unavailable"
	ModelOverloaded       Trigger = "model_overloaded"
	NetworkError          Trigger = "network_error"
	InvalidResponse       Trigger = "invalid_response"
	Unknown               Trigger = "unknown"
)

// All lists every trigger.
var All = []Trigger{
	RateLimited, Timeout, ContextExceeded, ContentFiltered, AuthenticationFailure,
	APIUnavailable, ModelOverloaded, NetworkError, InvalidResponse, Unknown,
}

// Parse returns the trigger named s.
func Parse(s string) (Trigger, bool) {
	for _, t := range All {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// Severity is the severity of an incident.
type Severity string

// Incident severities.
const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

// AtLeastMajor reports whether s is major or critical.
func (s Severity) AtLeastMajor() bool {
	return s == SeverityMajor || s == SeverityCritical
}

var codeTriggers = map[string]Trigger{
	errclass.CodeRateTooManyRequests:     RateLimited,
	errclass.CodeRateQuotaExceeded:       RateLimited,
	errclass.CodeConnTimeout:             Timeout,
	errclass.CodeTimeoutDeadlineExceeded: Timeout,
	errclass.CodeValidationContextLength: ContextExceeded,
	errclass.CodeModelContentFiltered:    ContentFiltered,
	errclass.CodeAuthUnauthorized:        AuthenticationFailure,
	errclass.CodeAuthInvalidCredentials:  AuthenticationFailure,
	errclass.CodeAuthzForbidden:          AuthenticationFailure,
	errclass.CodeServerUnavailable:       APIUnavailable,
	errclass.CodeServerInternal:          APIUnavailable,
	errclass.CodeModelOverloaded:         ModelOverloaded,
	errclass.CodeConnRefused:             NetworkError,
	errclass.CodeConnReset:               NetworkError,
	errclass.CodeConnNetwork:             NetworkError,
	errclass.CodeValidationInvalidInput:  InvalidResponse,
}

type keywordRule struct {
	trigger  Trigger
	keywords []string
}

// rateLimitKeywords override the error code: a message that mentions a rate
// limit is always rate_limited.
var rateLimitKeywords = []string{"rate limit", "too many requests"}

var keywordTriggers = []keywordRule{
	{RateLimited, append([]string{"429"}, rateLimitKeywords...)},
	{Timeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{ContextExceeded, []string{"context length", "maximum context", "token limit", "too many tokens"}},
	{ContentFiltered, []string{"content filter", "content_filter", "content policy", "moderation"}},
	{AuthenticationFailure, []string{"authentication", "unauthorized", "api key", "401"}},
	{APIUnavailable, []string{"service unavailable", "503", "502", "bad gateway", "unavailable"}},
	{ModelOverloaded, []string{"overloaded", "capacity"}},
	{NetworkError, []string{"network", "connection", "econnrefused", "econnreset", "dns"}},
	{InvalidResponse, []string{"invalid response", "unexpected response", "parse", "unmarshal", "malformed"}},
}

var categoryTriggers = map[errclass.Category]Trigger{
	errclass.CategoryRateLimit:      RateLimited,
	errclass.CategoryTimeout:        Timeout,
	errclass.CategoryAuthentication: AuthenticationFailure,
	errclass.CategoryAuthorization:  AuthenticationFailure,
	errclass.CategoryConnectivity:   NetworkError,
	errclass.CategoryServerError:    APIUnavailable,
	errclass.CategoryModelError:     ModelOverloaded,
	errclass.CategoryValidation:     InvalidResponse,
}

// Analyze maps a failure onto a trigger. A rate-limit mention in the message
// wins; otherwise the error code is checked first, then the error message,
// then the category.
func Analyze(err error, code string, category errclass.Category) Trigger {
	var lower string
	if err != nil {
		lower = strings.ToLower(err.Error())
		for _, kw := range rateLimitKeywords {
			if strings.Contains(lower, kw) {
				return RateLimited
			}
		}
	}

	if t, ok := codeTriggers[code]; ok {
		return t
	}

	if err != nil {
		for _, rule := range keywordTriggers {
			for _, kw := range rule.keywords {
				if strings.Contains(lower, kw) {
					return rule.trigger
				}
			}
		}
	}

	if t, ok := categoryTriggers[category]; ok {
		return t
	}
	return Unknown
}

// DetermineSeverity derives the severity of an incident from its trigger and
// how many times it has occurred consecutively.
func DetermineSeverity(t Trigger, count int) Severity {
	switch t {
	case AuthenticationFailure, APIUnavailable:
		if count > 1 {
			return SeverityCritical
		}
		return SeverityMajor
	case RateLimited, Timeout:
		switch {
		case count > 5:
			return SeverityMajor
		case count > 2:
			return SeverityModerate
		default:
			return SeverityMinor
		}
	case ContextExceeded, ContentFiltered:
		switch {
		case count > 3:
			return SeverityMajor
		case count > 1:
			return SeverityModerate
		default:
			return SeverityMinor
		}
	default:
		switch {
		case count > 10:
			return SeverityCritical
		case count > 5:
			return SeverityMajor
		case count > 2:
			return SeverityModerate
		default:
			return SeverityMinor
		}
	}
}
