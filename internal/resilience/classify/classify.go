// Package classify maps raw failures into a retry taxonomy. Every
// asynchronous workflow routes its errors through Classify before
// deciding to redeliver, drop or alert.
package classify

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Domain tags which failure domain produced the error. Each domain has
// its own backoff and alerting behavior.
type Domain string

const (
	DomainAuth        Domain = "auth"
	DomainDatabase    Domain = "database"
	DomainExternalAPI Domain = "external-api"
)

// Category is the classified failure kind driving retry policy.
type Category string

const (
	CategoryTransient     Category = "transient"
	CategoryPermanent     Category = "permanent"
	CategoryAuthExpired   Category = "auth_expired"
	CategoryAuthInvalid   Category = "auth_invalid"
	CategoryRateLimited   Category = "rate_limited"
	CategoryConfiguration Category = "configuration"
	CategoryValidation    Category = "validation"
)

// IssuePriority ranks operator-facing issues raised for a failure.
type IssuePriority string

const (
	PriorityHigh   IssuePriority = "high"
	PriorityMedium IssuePriority = "medium"
	PriorityLow    IssuePriority = "low"
)

// Classification is the derived retry policy for one failure. Never
// persisted; recomputed from the error and domain on every failure.
type Classification struct {
	Category      Category
	Retryable     bool
	RetryDelay    time.Duration
	MaxRetries    int
	Reason        string
	CreateIssue   bool
	IssuePriority IssuePriority
}

// Options carries per-call classification inputs.
type Options struct {
	// Service names the upstream dependency; required for
	// DomainExternalAPI so reasons and issues identify the provider.
	Service string

	// Attempts is how many delivery attempts have already been made.
	// A retryable category that has exhausted its budget flips
	// CreateIssue on.
	Attempts int
}

// StatusCoder is implemented by errors carrying an HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// HTTPError is a failure from an HTTP dependency with its status and
// optional provider error code preserved for classification.
type HTTPError struct {
	Status  int
	Code    string
	Message string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

func (e *HTTPError) StatusCode() int { return e.Status }

// Fixed per-category retry budgets. Retryable is implied by
// MaxRetries > 0.
var categoryPolicy = map[Category]struct {
	maxRetries int
	delay      time.Duration
}{
	CategoryTransient:     {maxRetries: 5, delay: 1 * time.Second},
	CategoryRateLimited:   {maxRetries: 3, delay: 30 * time.Second},
	CategoryPermanent:     {},
	CategoryAuthExpired:   {},
	CategoryAuthInvalid:   {},
	CategoryConfiguration: {},
	CategoryValidation:    {},
}

var throttlePatterns = []string{
	"rate limit",
	"too many requests",
	"quota exceeded",
	"request count exceeded",
	"throttl",
}

var networkPatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"timeout",
	"timed out",
	"no such host",
	"eof",
	"temporarily unavailable",
	"service unavailable",
}

// Classify maps err in the given domain to a Classification. Total and
// deterministic: identical error shape and domain always classify the
// same way, and no input makes it fail.
func Classify(err error, domain Domain, opts Options) Classification {
	if err == nil {
		return build(CategoryValidation, "no error provided", opts)
	}

	category, reason := categorize(err, domain, opts)
	return build(category, reason, opts)
}

func categorize(err error, domain Domain, opts Options) (Category, string) {
	status := statusOf(err)
	msg := strings.ToLower(err.Error())

	switch domain {
	case DomainAuth:
		return categorizeAuth(status, msg)
	case DomainDatabase:
		return categorizeDatabase(status, msg)
	case DomainExternalAPI:
		return categorizeExternal(status, msg, opts.Service)
	default:
		// Unknown domain still classifies; retry is the safe default
		// for a failure we cannot attribute.
		return CategoryTransient, fmt.Sprintf("unknown domain %q: %s", domain, msg)
	}
}

func categorizeAuth(status int, msg string) (Category, string) {
	switch {
	case containsAny(msg, "token expired", "session expired", "refresh required", "jwt expired"):
		return CategoryAuthExpired, "credential expired, re-authentication required"
	case status == 401 || containsAny(msg, "invalid credentials", "invalid token", "signature"):
		return CategoryAuthInvalid, "credentials rejected"
	case status == 403:
		return CategoryAuthInvalid, "access forbidden"
	case status == 429 || containsAny(msg, throttlePatterns...):
		return CategoryRateLimited, "auth provider throttling"
	case containsAny(msg, "not configured", "missing client", "missing secret", "no signing key"):
		return CategoryConfiguration, "auth provider not configured"
	case status >= 500 || containsAny(msg, networkPatterns...):
		return CategoryTransient, "auth provider unreachable"
	case status == 400:
		return CategoryValidation, "malformed auth request"
	default:
		return CategoryPermanent, "auth request rejected"
	}
}

func categorizeDatabase(status int, msg string) (Category, string) {
	switch {
	case containsAny(msg, "relation", "column", "does not exist", "undefined table", "no such table"):
		return CategoryConfiguration, "schema missing or out of date"
	case containsAny(msg, "password authentication failed", "role", "permission denied"):
		return CategoryConfiguration, "database credentials or grants misconfigured"
	case containsAny(msg, "duplicate key", "unique constraint", "violates", "constraint"):
		return CategoryPermanent, "write rejected by constraint"
	case containsAny(msg, "syntax error", "invalid input syntax"):
		return CategoryValidation, "malformed statement or value"
	case containsAny(msg, "too many connections", "deadlock", "serialization"):
		return CategoryTransient, "contention, safe to retry"
	case status >= 500 || containsAny(msg, networkPatterns...):
		return CategoryTransient, "database unreachable"
	default:
		return CategoryTransient, "unrecognized database failure, bounded retry"
	}
}

func categorizeExternal(status int, msg, service string) (Category, string) {
	if service == "" {
		service = "external service"
	}
	switch {
	case status == 429 || containsAny(msg, throttlePatterns...):
		return CategoryRateLimited, service + " throttling requests"
	case containsAny(msg, "no proxies available", "not configured", "missing api key", "missing endpoint"):
		return CategoryConfiguration, service + " dependency not configured"
	case status == 400 || containsAny(msg, "unsupported url", "invalid uri"):
		return CategoryValidation, "request rejected as invalid by " + service
	case status == 401 || status == 403:
		return CategoryPermanent, service + " denied access"
	case status == 404 || containsAny(msg, "video unavailable", "private video", "removed", "copyright"):
		return CategoryPermanent, "resource not available at " + service
	case status >= 500 || containsAny(msg, networkPatterns...):
		return CategoryTransient, service + " unavailable"
	default:
		return CategoryTransient, "unrecognized failure from " + service + ", bounded retry"
	}
}

func build(category Category, reason string, opts Options) Classification {
	policy := categoryPolicy[category]
	c := Classification{
		Category:   category,
		Retryable:  policy.maxRetries > 0,
		RetryDelay: policy.delay,
		MaxRetries: policy.maxRetries,
		Reason:     reason,
	}

	switch {
	case category == CategoryConfiguration:
		c.CreateIssue = true
		c.IssuePriority = PriorityHigh
	case category == CategoryPermanent:
		c.CreateIssue = true
		c.IssuePriority = PriorityMedium
	case c.Retryable && opts.Attempts >= c.MaxRetries:
		// Retry budget exhausted: this delivery will be parked, so
		// surface it to operators.
		c.CreateIssue = true
		c.IssuePriority = PriorityMedium
	}

	return c
}

func statusOf(err error) int {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	return 0
}

func containsAny(msg string, patterns ...string) bool {
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
