package metrics

import (
	"time"

	"github.com/keyrelay/keyrelay/internal/observability"
)

// Credential, rate limit and proxy metric names
const (
	CredentialsIssuedTotal   = "credentials_issued_total"
	RateLimitDecisionsTotal  = "rate_limit_decisions_total"
	RateLimitLastSwept       = "rate_limit_last_sweep_removed"
	ProxyForwardsTotal       = "proxy_forwards_total"
	ProxyForwardDuration     = "proxy_forward_duration_ms"
	UsageDroppedTotal        = "usage_dropped_total"
	UsageWriteFailuresTotal  = "usage_write_failures_total"
	UpstreamIssueFailedTotal = "upstream_issue_failures_total"
)

// Proxy outcomes used as the outcome label.
const (
	OutcomeForwarded     = "forwarded"
	OutcomeUnauthorized  = "unauthorized"
	OutcomeBadRequest    = "bad_request"
	OutcomeBusy          = "busy"
	OutcomeUpstreamError = "upstream_error"
	OutcomeInternalError = "internal_error"
)

// RecordCredentialIssued counts an issued credential by source (upstream or fallback).
func RecordCredentialIssued(source string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			CredentialsIssuedTotal,
			1,
			map[string]string{"source": source},
		)
	}
}

// RecordUpstreamIssueFailure counts credential requests the upstream did not confirm.
func RecordUpstreamIssueFailure() {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(UpstreamIssueFailedTotal, 1, nil)
	}
}

// RecordRateLimitDecision counts allow/deny decisions.
func RecordRateLimitDecision(allowed bool) {
	decision := "allow"
	if !allowed {
		decision = "deny"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			RateLimitDecisionsTotal,
			1,
			map[string]string{"decision": decision},
		)
	}
}

// RecordRateLimitSweep reports how many windows the last janitor pass evicted.
func RecordRateLimitSweep(removed int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(RateLimitLastSwept, float64(removed), nil)
	}
}

// RecordProxyForward counts a proxied call by outcome and times forwarded ones.
func RecordProxyForward(outcome string, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}

	_ = observability.TelemetrySystem.Counter(
		ProxyForwardsTotal,
		1,
		map[string]string{"outcome": outcome},
	)
	if outcome == OutcomeForwarded || outcome == OutcomeUpstreamError {
		_ = observability.TelemetrySystem.Histogram(
			ProxyForwardDuration,
			duration,
			map[string]string{"outcome": outcome},
		)
	}
}

// RecordUsageDropped counts usage entries dropped because the queue was full.
func RecordUsageDropped() {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(UsageDroppedTotal, 1, nil)
	}
}

// RecordUsageWriteFailure counts usage entries the store rejected.
func RecordUsageWriteFailure() {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(UsageWriteFailuresTotal, 1, nil)
	}
}
