package query

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	bquery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/omnidex/omnidex/internal/index"
	"github.com/omnidex/omnidex/internal/model"
)

// Execute runs a plan against the index manager. Results are ordered
// deterministically: score desc, then last-modified desc, then provider
// ID asc, so identical corpus and query always produce identical pages.
func (p *Processor) Execute(ctx context.Context, plan *Plan) (*model.SearchResponse, error) {
	start := time.Now()

	req := p.buildRequest(plan)
	res, err := p.index.Search(ctx, req)
	if err != nil {
		return nil, err
	}

	results := make([]model.SearchResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		results = append(results, projectHit(hit.ID, hit.Score, hit.Fields, hit.Fragments))
	}
	if plan.Sort == nil {
		sortResults(results)
	}

	// The request fetched offset+limit hits so ties crossing the page
	// boundary sort before slicing.
	if plan.Offset > 0 {
		if plan.Offset >= len(results) {
			results = nil
		} else {
			results = results[plan.Offset:]
		}
	}
	if len(results) > plan.Limit {
		results = results[:plan.Limit]
	}

	execTime := time.Since(start)
	resp := &model.SearchResponse{
		Results:    results,
		TotalCount: int(res.Total),
		Facets:     projectFacets(plan, res),
		TookMS:     (plan.parseTime + execTime).Milliseconds(),
	}
	if plan.Debug {
		resp.Debug = &model.DebugInfo{
			Breakdown: model.QueryPerformanceBreakdown{
				ParseMS: plan.parseTime.Milliseconds(),
				ExecMS:  execTime.Milliseconds(),
				TotalMS: (plan.parseTime + execTime).Milliseconds(),
			},
		}
	}

	p.logger.Debug("query_executed",
		slog.String("text", plan.Text),
		slog.Int("hits", len(results)),
		slog.Int64("took_ms", resp.TookMS))
	return resp, nil
}

func (p *Processor) buildRequest(plan *Plan) *bleve.SearchRequest {
	req := bleve.NewSearchRequest(p.buildQuery(plan))
	req.Size = plan.Offset + plan.Limit
	req.From = 0
	req.Fields = index.StoredFields
	req.IncludeLocations = true
	req.Highlight = bleve.NewHighlight()
	req.Highlight.AddField(index.FieldTitle)
	req.Highlight.AddField(index.FieldContent)

	for _, f := range plan.Facets {
		size := f.MaxValues
		if size <= 0 {
			size = defaultFacetValues
		}
		req.AddFacet(f.Field, bleve.NewFacetRequest(f.Field, size))
	}

	if plan.Sort != nil {
		field := plan.Sort.Field
		if plan.Sort.Desc {
			field = "-" + field
		}
		req.SortBy([]string{field, "-_score", "_id"})
	} else {
		// The default ranking contract must also govern which hits make
		// it into the fetched window, otherwise score ties straddling
		// the window edge are selected in index-internal order.
		req.SortBy([]string{"-_score", "-" + index.FieldLastModified, index.FieldProviderID, "_id"})
	}
	return req
}

// buildQuery assembles filter-then-rank: a conjunction of exact filter
// clauses wrapped around a disjunction of relevance clauses (title
// boosted over content).
func (p *Processor) buildQuery(plan *Plan) bquery.Query {
	var relevance []bquery.Query
	if plan.Text != "" {
		title := bleve.NewMatchQuery(plan.Text)
		title.SetField(index.FieldTitle)
		title.SetBoost(2.0)
		content := bleve.NewMatchQuery(plan.Text)
		content.SetField(index.FieldContent)
		summary := bleve.NewMatchQuery(plan.Text)
		summary.SetField(index.FieldSummary)
		relevance = append(relevance, title, content, summary)
	}
	for _, phrase := range plan.Phrases {
		title := bleve.NewMatchPhraseQuery(phrase)
		title.SetField(index.FieldTitle)
		title.SetBoost(2.0)
		content := bleve.NewMatchPhraseQuery(phrase)
		content.SetField(index.FieldContent)
		relevance = append(relevance, title, content)
	}

	var filters []bquery.Query
	for _, f := range plan.Filters {
		filters = append(filters, filterQuery(f))
	}

	switch {
	case len(relevance) == 0 && len(filters) == 0:
		return bleve.NewMatchAllQuery()
	case len(relevance) == 0:
		root := bleve.NewBooleanQuery()
		for _, f := range filters {
			root.AddMust(f)
		}
		return root
	default:
		root := bleve.NewBooleanQuery()
		root.AddShould(relevance...)
		root.SetMinShould(1)
		for _, f := range filters {
			root.AddMust(f)
		}
		return root
	}
}

func filterQuery(f model.Filter) bquery.Query {
	switch f.Op {
	case model.OpEquals:
		q := bleve.NewTermQuery(f.Value)
		q.SetField(f.Field)
		return q
	case model.OpContains:
		q := bleve.NewWildcardQuery("*" + f.Value + "*")
		q.SetField(f.Field)
		return q
	case model.OpIn:
		dis := bleve.NewDisjunctionQuery()
		for _, v := range f.Values {
			tq := bleve.NewTermQuery(v)
			tq.SetField(f.Field)
			dis.AddQuery(tq)
		}
		return dis
	case model.OpRange:
		from, to := f.From, f.To
		if from.IsZero() {
			from = time.Unix(0, 0).UTC()
		}
		if to.IsZero() {
			to = farFuture()
		}
		q := bleve.NewDateRangeQuery(from, to)
		q.SetField(f.Field)
		return q
	}
	// Unreachable after Parse validation.
	return bleve.NewMatchNoneQuery()
}

func projectHit(key string, score float64, fields map[string]interface{}, fragments map[string][]string) model.SearchResult {
	providerID := fieldString(fields, index.FieldProviderID)
	id := key
	if providerID != "" && strings.HasPrefix(key, providerID+"/") {
		id = key[len(providerID)+1:]
	}

	r := model.SearchResult{
		ID:           id,
		Title:        fieldString(fields, index.FieldTitle),
		Summary:      fieldString(fields, index.FieldSummary),
		URL:          fieldString(fields, index.FieldURL),
		ContentType:  model.ContentType(fieldString(fields, index.FieldContentType)),
		ProviderID:   providerID,
		ProviderType: fieldString(fields, index.FieldProviderType),
		Score:        score,
		CreatedAt:    fieldTime(fields, index.FieldCreatedAt),
		LastModified: fieldTime(fields, index.FieldLastModified),
	}
	for _, field := range []string{index.FieldTitle, index.FieldContent} {
		if frags := fragments[field]; len(frags) > 0 {
			r.Highlights = append(r.Highlights, model.HighlightSpan{Field: field, Fragments: frags})
		}
	}
	return r
}

func projectFacets(plan *Plan, res *bleve.SearchResult) []model.Facet {
	if len(plan.Facets) == 0 || res.Facets == nil {
		return nil
	}
	facets := make([]model.Facet, 0, len(plan.Facets))
	for _, f := range plan.Facets {
		fr, ok := res.Facets[f.Field]
		if !ok || fr.Terms == nil {
			continue
		}
		facet := model.Facet{Field: f.Field}
		for _, term := range fr.Terms.Terms() {
			facet.Values = append(facet.Values, model.FacetValue{
				Value: term.Term,
				Count: term.Count,
			})
		}
		facets = append(facets, facet)
	}
	return facets
}

// sortResults applies the deterministic ranking contract.
func sortResults(results []model.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].LastModified.Equal(results[j].LastModified) {
			return results[i].LastModified.After(results[j].LastModified)
		}
		if results[i].ProviderID != results[j].ProviderID {
			return results[i].ProviderID < results[j].ProviderID
		}
		return results[i].ID < results[j].ID
	})
}

// fieldString reads a stored field that Bleve may return as a scalar or
// a single-element slice.
func fieldString(fields map[string]interface{}, name string) string {
	switch v := fields[name].(type) {
	case string:
		return v
	case []interface{}:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return s
			}
		}
	}
	return ""
}

func fieldTime(fields map[string]interface{}, name string) time.Time {
	s := fieldString(fields, name)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
