package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// credential lifecycle
	Logins = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "lldap_bridge", Name: "logins_total", Help: "Primary authentications against the directory by outcome."},
		[]string{"outcome"},
	)
	TokenRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "lldap_bridge", Name: "token_refreshes_total", Help: "Access-token refreshes by outcome."},
		[]string{"outcome"},
	)

	// directory API client
	DirectoryRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "lldap_bridge", Name: "directory_requests_total", Help: "GraphQL operations issued against the directory by operation and outcome."},
		[]string{"operation", "outcome"},
	)

	// reconciler
	SyncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "lldap_bridge", Name: "sync_runs_total", Help: "Completed sync passes by trigger (scheduled, manual)."},
		[]string{"trigger"},
	)
	SyncRemoved = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "lldap_bridge", Name: "sync_removed_total", Help: "Group memberships revoked during sync, by role."},
		[]string{"role"},
	)
	SyncAdded = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "lldap_bridge", Name: "sync_added_total", Help: "Group memberships granted during sync, by role."},
		[]string{"role"},
	)
	SyncFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "lldap_bridge", Name: "sync_failures_total", Help: "Per-user group mutations that failed during sync, by role."},
		[]string{"role"},
	)

	// provisioning
	AccountsProvisioned = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "lldap_bridge", Name: "accounts_provisioned_total", Help: "Account provisioning attempts by outcome."},
		[]string{"outcome"},
	)

	// admin API rate limiting
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "lldap_bridge", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "lldap_bridge", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(Logins)
	reg.MustRegister(TokenRefreshes)
	reg.MustRegister(DirectoryRequests)
	reg.MustRegister(SyncRuns)
	reg.MustRegister(SyncRemoved)
	reg.MustRegister(SyncAdded)
	reg.MustRegister(SyncFailures)
	reg.MustRegister(AccountsProvisioned)
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
}
