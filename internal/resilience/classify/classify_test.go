package classify

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyAuth(t *testing.T) {
	tests := []struct {
		err    error
		expect Category
	}{
		{errors.New("jwt expired"), CategoryAuthExpired},
		{errors.New("session expired, refresh required"), CategoryAuthExpired},
		{&HTTPError{Status: 401, Message: "unauthorized"}, CategoryAuthInvalid},
		{errors.New("invalid credentials"), CategoryAuthInvalid},
		{&HTTPError{Status: 403, Message: "forbidden"}, CategoryAuthInvalid},
		{&HTTPError{Status: 429, Message: "slow down"}, CategoryRateLimited},
		{errors.New("auth provider not configured: missing client id"), CategoryConfiguration},
		{&HTTPError{Status: 502, Message: "bad gateway"}, CategoryTransient},
		{errors.New("connection refused"), CategoryTransient},
		{&HTTPError{Status: 400, Message: "bad request"}, CategoryValidation},
		{errors.New("account disabled"), CategoryPermanent},
	}

	for _, tt := range tests {
		got := Classify(tt.err, DomainAuth, Options{})
		if got.Category != tt.expect {
			t.Errorf("Classify(%q, auth) = %s, want %s", tt.err, got.Category, tt.expect)
		}
	}
}

func TestClassifyDatabase(t *testing.T) {
	tests := []struct {
		err    error
		expect Category
	}{
		{errors.New(`relation "download_jobs" does not exist`), CategoryConfiguration},
		{errors.New("password authentication failed for user"), CategoryConfiguration},
		{errors.New(`duplicate key value violates unique constraint "jobs_pkey"`), CategoryPermanent},
		{errors.New("syntax error at or near SELECT"), CategoryValidation},
		{errors.New("deadlock detected"), CategoryTransient},
		{errors.New("sorry, too many connections"), CategoryTransient},
		{errors.New("dial tcp: connection refused"), CategoryTransient},
		{errors.New("something unexpected"), CategoryTransient},
	}

	for _, tt := range tests {
		got := Classify(tt.err, DomainDatabase, Options{})
		if got.Category != tt.expect {
			t.Errorf("Classify(%q, database) = %s, want %s", tt.err, got.Category, tt.expect)
		}
	}
}

func TestClassifyExternalAPI(t *testing.T) {
	opts := Options{Service: "video-info"}
	tests := []struct {
		err    error
		expect Category
	}{
		{&HTTPError{Status: 429, Message: "too many requests"}, CategoryRateLimited},
		{errors.New("daily request count exceeded"), CategoryRateLimited},
		{errors.New("no proxies available"), CategoryConfiguration},
		{&HTTPError{Status: 400, Message: "unsupported url"}, CategoryValidation},
		{&HTTPError{Status: 403, Message: "forbidden"}, CategoryPermanent},
		{&HTTPError{Status: 404, Message: "not found"}, CategoryPermanent},
		{errors.New("video unavailable"), CategoryPermanent},
		{&HTTPError{Status: 503, Message: "unavailable"}, CategoryTransient},
		{errors.New("read tcp: connection reset by peer"), CategoryTransient},
	}

	for _, tt := range tests {
		got := Classify(tt.err, DomainExternalAPI, opts)
		if got.Category != tt.expect {
			t.Errorf("Classify(%q, external-api) = %s, want %s", tt.err, got.Category, tt.expect)
		}
	}
}

func TestClassifyIsTotal(t *testing.T) {
	domains := []Domain{DomainAuth, DomainDatabase, DomainExternalAPI, Domain("bogus")}
	errs := []error{nil, errors.New(""), errors.New("???"), &HTTPError{Status: 418}}

	for _, d := range domains {
		for _, e := range errs {
			got := Classify(e, d, Options{})
			if got.Category == "" {
				t.Errorf("Classify(%v, %s) returned empty category", e, d)
			}
			if got.Retryable != (got.MaxRetries > 0) {
				t.Errorf("Classify(%v, %s): Retryable=%v inconsistent with MaxRetries=%d",
					e, d, got.Retryable, got.MaxRetries)
			}
		}
	}
}

func TestClassifyDeterministic(t *testing.T) {
	err := &HTTPError{Status: 503, Message: "service unavailable"}
	first := Classify(err, DomainExternalAPI, Options{Service: "video-info"})
	for i := 0; i < 10; i++ {
		if got := Classify(err, DomainExternalAPI, Options{Service: "video-info"}); got != first {
			t.Fatalf("classification changed between calls: %+v vs %+v", got, first)
		}
	}
}

func TestCreateIssuePolicy(t *testing.T) {
	// Configuration always raises an issue.
	got := Classify(errors.New("missing api key"), DomainExternalAPI, Options{Service: "video-info"})
	if !got.CreateIssue || got.IssuePriority != PriorityHigh {
		t.Errorf("configuration should raise a high-priority issue, got %+v", got)
	}

	// Permanent raises an issue.
	got = Classify(&HTTPError{Status: 404}, DomainExternalAPI, Options{Service: "video-info"})
	if !got.CreateIssue {
		t.Errorf("permanent should raise an issue, got %+v", got)
	}

	// Transient does not, until its retry budget is exhausted.
	transientErr := errors.New("connection refused")
	got = Classify(transientErr, DomainExternalAPI, Options{Service: "video-info"})
	if got.CreateIssue {
		t.Errorf("fresh transient should not raise an issue, got %+v", got)
	}
	got = Classify(transientErr, DomainExternalAPI, Options{Service: "video-info", Attempts: got.MaxRetries})
	if !got.CreateIssue {
		t.Errorf("exhausted transient should raise an issue, got %+v", got)
	}

	// Validation is never an operator problem.
	got = Classify(&HTTPError{Status: 400, Message: "unsupported url"}, DomainExternalAPI, Options{Service: "video-info"})
	if got.CreateIssue {
		t.Errorf("validation should not raise an issue, got %+v", got)
	}
}

func TestHTTPErrorUnwrapsThroughWrapping(t *testing.T) {
	inner := &HTTPError{Status: 429, Message: "too many requests"}
	wrapped := fmt.Errorf("lookup failed: %w", inner)

	got := Classify(wrapped, DomainExternalAPI, Options{Service: "video-info"})
	if got.Category != CategoryRateLimited {
		t.Errorf("wrapped 429 classified as %s, want rate_limited", got.Category)
	}
}
