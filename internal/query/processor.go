// Package query turns a SearchQuery into a Bleve execution plan and runs
// it against the index: parse and validate, filter-then-rank, project
// hits with highlights and facets, and keep ordering deterministic.
package query

import (
	"context"
	"log/slog"
	"time"

	"github.com/omnidex/omnidex/internal/index"
	"github.com/omnidex/omnidex/internal/model"
)

const (
	// defaultFacetValues caps facet values when the request leaves
	// MaxValues at zero.
	defaultFacetValues = 10

	// maxLimit bounds a single page of results.
	maxLimit = 500
)

// Plan is a validated, executable form of a SearchQuery.
type Plan struct {
	// Text is the free-text portion with quoted phrases removed.
	Text string

	// Phrases are quoted fragments matched as ordered phrases.
	Phrases []string

	Filters []model.Filter
	Facets  []model.FacetRequest
	Sort    *model.Sort

	Limit  int
	Offset int
	Debug  bool

	parseTime time.Duration
}

// MatchAll reports whether the plan has neither text nor filters and
// browses the whole index.
func (p *Plan) MatchAll() bool {
	return p.Text == "" && len(p.Phrases) == 0 && len(p.Filters) == 0
}

// Processor plans and executes local index queries.
type Processor struct {
	index  *index.Manager
	logger *slog.Logger
}

// NewProcessor wires a processor to the index manager.
func NewProcessor(idx *index.Manager, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{index: idx, logger: logger}
}

// Search parses and executes in one step. This is the path the engine
// uses for the local index leg of a federated query.
func (p *Processor) Search(ctx context.Context, q *model.SearchQuery) (*model.SearchResponse, error) {
	plan, err := p.Parse(q)
	if err != nil {
		return nil, err
	}
	return p.Execute(ctx, plan)
}
