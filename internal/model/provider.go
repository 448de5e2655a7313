package model

import "time"

// AuthStatus is a provider's authentication state.
type AuthStatus string

const (
	AuthNotAuthenticated    AuthStatus = "not_authenticated"
	AuthAuthenticated       AuthStatus = "authenticated"
	AuthTokenExpired        AuthStatus = "token_expired"
	AuthAuthenticationError AuthStatus = "authentication_error"
)

// ProviderAuth is the authentication snapshot for one provider.
// Tokens themselves live in the credential store, never here.
type ProviderAuth struct {
	ProviderID string     `json:"provider_id"`
	Status     AuthStatus `json:"status"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Scopes     []string   `json:"scopes,omitempty"`
}

// Valid reports whether the auth state permits live queries.
func (a ProviderAuth) Valid() bool {
	if a.Status != AuthAuthenticated {
		return false
	}
	if a.ExpiresAt != nil && time.Now().After(*a.ExpiresAt) {
		return false
	}
	return true
}

// ProviderStats holds rolling counters for one provider, updated after
// every call and used for health reporting and federation admission.
type ProviderStats struct {
	ProviderID        string     `json:"provider_id"`
	TotalQueries      uint64     `json:"total_queries"`
	SuccessfulQueries uint64     `json:"successful_queries"`
	FailedQueries     uint64     `json:"failed_queries"`
	TimeoutCount      uint64     `json:"timeout_count"`
	AvgLatencyMS      float64    `json:"avg_latency_ms"`
	ErrorRate         float64    `json:"error_rate"`
	DocumentsIndexed  uint64     `json:"documents_indexed"`
	LastSuccess       *time.Time `json:"last_success,omitempty"`
}

// HealthStatus is the coarse health classification of a provider.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthUnknown   HealthStatus = "unknown"
)

// IssueSeverity grades a health issue.
type IssueSeverity string

const (
	IssueInfo    IssueSeverity = "info"
	IssueWarning IssueSeverity = "warning"
	IssueError   IssueSeverity = "error"
)

// HealthIssue is one timestamped problem found during a health check.
type HealthIssue struct {
	Severity IssueSeverity `json:"severity"`
	Message  string        `json:"message"`
	Time     time.Time     `json:"time"`
}

// ProviderHealth is the health snapshot for one provider.
type ProviderHealth struct {
	ProviderID     string        `json:"provider_id"`
	Status         HealthStatus  `json:"status"`
	CheckedAt      time.Time     `json:"checked_at"`
	ResponseTimeMS int64         `json:"response_time_ms"`
	Issues         []HealthIssue `json:"issues,omitempty"`
}

// Capabilities declares what a provider supports, used by the federation
// layer to decide whether to query live or rely on the local index copy.
type Capabilities struct {
	RealTimeSearch      bool `json:"real_time_search"`
	IncrementalIndexing bool `json:"incremental_indexing"`
	Faceting            bool `json:"faceting"`
	Pagination          bool `json:"pagination"`

	// RateLimitRPM is the declared request budget per minute; 0 = unlimited.
	RateLimitRPM int `json:"rate_limit_rpm"`
}

// ProviderInfo identifies a provider instance and its static capabilities.
type ProviderInfo struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	ProviderType string       `json:"provider_type"`
	Capabilities Capabilities `json:"capabilities"`
}

// Credentials is the opaque secret material handed to a provider by the
// credential store. Keys are provider-specific (e.g. "token").
type Credentials map[string]string
