package internaldefs

import (
	"github.com/MrEthical07/authcore"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef names one latency histogram for export.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Successful logins."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Failed logins."},
	{ID: authcore.MetricLoginRateLimited, Name: "authcore_login_rate_limited_total", Help: "Logins rejected by rate limiting."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Failed refresh rotations."},
	{ID: authcore.MetricRefreshRateLimited, Name: "authcore_refresh_rate_limited_total", Help: "Refreshes rejected by rate limiting."},
	{ID: authcore.MetricReplayDetected, Name: "authcore_refresh_replay_detected_total", Help: "Refresh token replays that revoked a family."},
	{ID: authcore.MetricRateLimitHit, Name: "authcore_rate_limit_hit_total", Help: "Limiter checks that denied a request."},
	{ID: authcore.MetricIPThrottled, Name: "authcore_ip_throttled_total", Help: "Requests rejected by the per-IP throttle."},
	{ID: authcore.MetricStoreUnavailable, Name: "authcore_store_unavailable_total", Help: "Requests failed closed on a store error or timeout."},
	{ID: authcore.MetricFamilyCreated, Name: "authcore_refresh_family_created_total", Help: "Refresh families opened by login."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Single-family logouts."},
	{ID: authcore.MetricLogoutAll, Name: "authcore_logout_all_total", Help: "Logout-all operations."},
	{ID: authcore.MetricRegisterSuccess, Name: "authcore_register_success_total", Help: "Accounts registered."},
	{ID: authcore.MetricRegisterDuplicate, Name: "authcore_register_duplicate_total", Help: "Registrations rejected as duplicate."},
	{ID: authcore.MetricRegisterRateLimited, Name: "authcore_register_rate_limited_total", Help: "Registrations rejected by rate limiting."},
	{ID: authcore.MetricVerificationIssued, Name: "authcore_verification_issued_total", Help: "Verify-email tokens issued."},
	{ID: authcore.MetricEmailVerified, Name: "authcore_email_verified_total", Help: "Email addresses verified."},
	{ID: authcore.MetricOnboardingTokenRejected, Name: "authcore_onboarding_token_rejected_total", Help: "Onboarding tokens rejected."},
	{ID: authcore.MetricPasswordSet, Name: "authcore_password_set_total", Help: "Accounts activated with a first password."},
	{ID: authcore.MetricPasswordChangeSuccess, Name: "authcore_password_change_success_total", Help: "Successful password changes."},
	{ID: authcore.MetricPasswordChangeInvalidOld, Name: "authcore_password_change_invalid_old_total", Help: "Password changes with a wrong current password."},
	{ID: authcore.MetricValidateSuccess, Name: "authcore_validate_success_total", Help: "Access tokens accepted."},
	{ID: authcore.MetricValidateFailure, Name: "authcore_validate_failure_total", Help: "Access tokens rejected."},
}

var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricValidateLatency, Name: "authcore_validate_latency_seconds", Help: "Access token validation latency."},
	{ID: authcore.MetricLoginLatency, Name: "authcore_login_latency_seconds", Help: "Login latency."},
	{ID: authcore.MetricRefreshLatency, Name: "authcore_refresh_latency_seconds", Help: "Refresh latency."},
}

// HistogramBounds are the upper bounds of the engine's latency buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into cumulative counts.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
