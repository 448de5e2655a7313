package model

import (
	"fmt"
	"time"

	"github.com/omnidex/omnidex/internal/errors"
)

// FilterOperator is the comparison applied by a structured filter.
type FilterOperator string

const (
	OpEquals   FilterOperator = "equals"
	OpContains FilterOperator = "contains"
	OpRange    FilterOperator = "range"
	OpIn       FilterOperator = "in"
)

// Filter is a hard constraint applied before relevance scoring.
type Filter struct {
	Field string         `json:"field"`
	Op    FilterOperator `json:"op"`

	// Value is used by equals and contains.
	Value string `json:"value,omitempty"`

	// Values is used by in.
	Values []string `json:"values,omitempty"`

	// From/To bound a range filter; zero values leave the side open.
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`
}

// FacetRequest asks for value counts over a field.
type FacetRequest struct {
	Field string `json:"field"`

	// MaxValues caps the distinct values returned; 0 uses the engine default.
	MaxValues int `json:"max_values,omitempty"`
}

// Sort orders results by a stored field instead of relevance.
type Sort struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc"`
}

// SearchQuery is the single query surface of the engine.
// An empty Query with filters is valid filter-only browsing.
type SearchQuery struct {
	Query   string         `json:"query"`
	Filters []Filter       `json:"filters,omitempty"`
	Facets  []FacetRequest `json:"facets,omitempty"`
	Sort    *Sort          `json:"sort,omitempty"`

	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`

	// Timeout overrides the engine's shared federation budget for this query.
	Timeout time.Duration `json:"timeout,omitempty"`

	// Debug requests a performance breakdown in the response.
	Debug bool `json:"debug,omitempty"`
}

// EffectiveLimit returns the result limit, applying the default.
func (q *SearchQuery) EffectiveLimit() int {
	if q.Limit <= 0 {
		return 50
	}
	return q.Limit
}

// HighlightSpan is a matched fragment of a stored field.
type HighlightSpan struct {
	Field     string   `json:"field"`
	Fragments []string `json:"fragments"`
}

// SearchResult is one ranked hit.
type SearchResult struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Summary      string            `json:"summary,omitempty"`
	URL          string            `json:"url,omitempty"`
	ContentType  ContentType       `json:"content_type"`
	ProviderID   string            `json:"provider_id"`
	ProviderType string            `json:"provider_type"`
	Score        float64           `json:"score"`
	Highlights   []HighlightSpan   `json:"highlights,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	LastModified time.Time         `json:"last_modified"`
}

// Key returns the dedupe identity for a result.
func (r *SearchResult) Key() string {
	return DocumentKey(r.ProviderID, r.ID)
}

// FacetValue is one value→count pair in a facet.
type FacetValue struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Facet aggregates document counts per distinct value of a field.
type Facet struct {
	Field  string       `json:"field"`
	Values []FacetValue `json:"values"`
}

// QueryPerformanceBreakdown reports where query time went.
type QueryPerformanceBreakdown struct {
	ParseMS int64 `json:"parse_ms"`
	ExecMS  int64 `json:"exec_ms"`
	TotalMS int64 `json:"total_ms"`
}

// ProviderTiming records one provider's contribution to a federated query.
type ProviderTiming struct {
	ProviderID      string `json:"provider_id"`
	ExecutionTimeMS int64  `json:"execution_time_ms"`
	ResultCount     int    `json:"result_count"`
	TimedOut        bool   `json:"timed_out"`
}

// DebugInfo carries optional per-query observability data.
type DebugInfo struct {
	Breakdown QueryPerformanceBreakdown `json:"breakdown"`
	MergeMS   int64                     `json:"merge_ms"`
	Providers []ProviderTiming          `json:"providers,omitempty"`
}

// ProviderResponse is one provider's contribution to a federated query.
type ProviderResponse struct {
	ProviderID      string         `json:"provider_id"`
	Results         []SearchResult `json:"results"`
	ExecutionTimeMS int64          `json:"execution_time_ms"`
	Errors          []string       `json:"errors,omitempty"`
	Warnings        []string       `json:"warnings,omitempty"`
}

// SearchResponse is what the engine returns for a query.
type SearchResponse struct {
	Results    []SearchResult `json:"results"`
	TotalCount int            `json:"total_count"`
	Facets     []Facet        `json:"facets,omitempty"`
	TookMS     int64          `json:"took_ms"`

	// Debug is populated when the query requested it.
	Debug *DebugInfo `json:"debug,omitempty"`

	// ProviderResponses preserves per-provider results for inspection.
	ProviderResponses []ProviderResponse `json:"provider_responses,omitempty"`
}

func errMissingField(field string) error {
	return errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("missing required field: %s", field), nil)
}
