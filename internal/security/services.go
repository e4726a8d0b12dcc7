package security

// Core service names under which the process publishes the shared
// security components to modules.
const (
	AuditServiceName       = "security.audit"
	RateLimiterServiceName = "security.ratelimiter"
	URLFilterServiceName   = "security.urlfilter"
)
