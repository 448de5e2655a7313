package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidex/omnidex/internal/errors"
	"github.com/omnidex/omnidex/internal/index"
	"github.com/omnidex/omnidex/internal/model"
)

func seededProcessor(t *testing.T, docs []*model.SearchDocument) *Processor {
	t.Helper()
	m, err := index.Open(t.TempDir(), index.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	for _, doc := range docs {
		require.NoError(t, m.Upsert(doc))
	}
	require.NoError(t, m.Commit())
	return NewProcessor(m, nil)
}

func doc(id, provider, title, content string, ct model.ContentType, modified time.Time) *model.SearchDocument {
	return &model.SearchDocument{
		ID:           id,
		ProviderID:   provider,
		ProviderType: "test",
		ContentType:  ct,
		Title:        title,
		Content:      content,
		Tags:         []string{"work"},
		CreatedAt:    modified.Add(-24 * time.Hour),
		LastModified: modified,
	}
}

func TestParse_QuotedPhrases(t *testing.T) {
	p := NewProcessor(nil, nil)

	plan, err := p.Parse(&model.SearchQuery{Query: `alpha "beta gamma" delta`})
	require.NoError(t, err)
	assert.Equal(t, "alpha delta", plan.Text)
	assert.Equal(t, []string{"beta gamma"}, plan.Phrases)
}

func TestParse_UnterminatedQuote(t *testing.T) {
	p := NewProcessor(nil, nil)

	_, err := p.Parse(&model.SearchQuery{Query: `alpha "beta`})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeQuerySyntax, errors.GetCode(err))
}

func TestParse_FilterValidation(t *testing.T) {
	p := NewProcessor(nil, nil)

	tests := []struct {
		name   string
		filter model.Filter
		wantOK bool
	}{
		{"equals on keyword field", model.Filter{Field: "content_type", Op: model.OpEquals, Value: "document"}, true},
		{"metadata key", model.Filter{Field: "metadata.repo", Op: model.OpEquals, Value: "omnidex"}, true},
		{"unknown field", model.Filter{Field: "nope", Op: model.OpEquals, Value: "x"}, false},
		{"equals without value", model.Filter{Field: "tags", Op: model.OpEquals}, false},
		{"in without values", model.Filter{Field: "tags", Op: model.OpIn}, false},
		{"range on non-date", model.Filter{Field: "tags", Op: model.OpRange, From: time.Now()}, false},
		{"range without bounds", model.Filter{Field: "created_at", Op: model.OpRange}, false},
		{"inverted range", model.Filter{Field: "created_at", Op: model.OpRange, From: time.Now(), To: time.Now().Add(-time.Hour)}, false},
		{"range on date", model.Filter{Field: "last_modified", Op: model.OpRange, From: time.Now().Add(-time.Hour)}, true},
		{"unknown operator", model.Filter{Field: "tags", Op: "fuzzy", Value: "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Parse(&model.SearchQuery{Query: "x", Filters: []model.Filter{tt.filter}})
			if tt.wantOK {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, errors.ErrCodeQuerySyntax, errors.GetCode(err))
			}
		})
	}
}

func TestParse_EmptyQueryMatchesAll(t *testing.T) {
	p := NewProcessor(nil, nil)

	plan, err := p.Parse(&model.SearchQuery{})
	require.NoError(t, err)
	assert.True(t, plan.MatchAll())

	plan, err = p.Parse(&model.SearchQuery{
		Filters: []model.Filter{{Field: "provider_id", Op: model.OpEquals, Value: "fs"}},
	})
	require.NoError(t, err)
	assert.False(t, plan.MatchAll())
}

func TestExecute_TitleBoostOverContent(t *testing.T) {
	now := time.Now().UTC()
	p := seededProcessor(t, []*model.SearchDocument{
		doc("in-content", "fs", "weekly notes", "the roadmap discussion went long", model.ContentTypeDocument, now),
		doc("in-title", "fs", "roadmap planning", "nothing else of note", model.ContentTypeDocument, now),
	})

	resp, err := p.Search(context.Background(), &model.SearchQuery{Query: "roadmap"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "in-title", resp.Results[0].ID)
	assert.Equal(t, "in-content", resp.Results[1].ID)
	assert.Greater(t, resp.Results[0].Score, resp.Results[1].Score)
}

func TestExecute_DeterministicTieBreaks(t *testing.T) {
	// Given three identical-scoring documents differing only in
	// recency and provider
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	p := seededProcessor(t, []*model.SearchDocument{
		doc("1", "zz", "report", "same body", model.ContentTypeDocument, base),
		doc("1", "aa", "report", "same body", model.ContentTypeDocument, base),
		doc("2", "aa", "report", "same body", model.ContentTypeDocument, base.Add(time.Hour)),
	})

	q := &model.SearchQuery{Query: "report"}
	resp, err := p.Search(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)

	// Most recent first, then provider ID ascending among equals
	assert.Equal(t, "aa/2", resp.Results[0].Key())
	assert.Equal(t, "aa/1", resp.Results[1].Key())
	assert.Equal(t, "zz/1", resp.Results[2].Key())

	// Same query, same corpus, same ordering
	again, err := p.Search(context.Background(), q)
	require.NoError(t, err)
	for i := range resp.Results {
		assert.Equal(t, resp.Results[i].Key(), again.Results[i].Key())
	}
}

func TestExecute_FiltersNarrowResults(t *testing.T) {
	now := time.Now().UTC()
	p := seededProcessor(t, []*model.SearchDocument{
		doc("1", "fs", "status update", "weekly status", model.ContentTypeDocument, now),
		doc("2", "gh", "status update", "issue status", model.ContentTypeIssue, now),
	})

	resp, err := p.Search(context.Background(), &model.SearchQuery{
		Query:   "status",
		Filters: []model.Filter{{Field: "content_type", Op: model.OpEquals, Value: "issue"}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "2", resp.Results[0].ID)
	assert.Equal(t, model.ContentTypeIssue, resp.Results[0].ContentType)
}

func TestExecute_DateRangeFilter(t *testing.T) {
	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	p := seededProcessor(t, []*model.SearchDocument{
		doc("old", "fs", "archive entry", "body", model.ContentTypeDocument, old),
		doc("new", "fs", "fresh entry", "body", model.ContentTypeDocument, recent),
	})

	resp, err := p.Search(context.Background(), &model.SearchQuery{
		Filters: []model.Filter{{
			Field: "last_modified",
			Op:    model.OpRange,
			From:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "new", resp.Results[0].ID)
}

func TestExecute_InFilter(t *testing.T) {
	now := time.Now().UTC()
	p := seededProcessor(t, []*model.SearchDocument{
		doc("1", "fs", "a", "body", model.ContentTypeDocument, now),
		doc("2", "gh", "b", "body", model.ContentTypeIssue, now),
		doc("3", "sl", "c", "body", model.ContentTypeMessage, now),
	})

	resp, err := p.Search(context.Background(), &model.SearchQuery{
		Filters: []model.Filter{{Field: "provider_id", Op: model.OpIn, Values: []string{"fs", "sl"}}},
	})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 2)
}

func TestExecute_PhraseQuery(t *testing.T) {
	now := time.Now().UTC()
	p := seededProcessor(t, []*model.SearchDocument{
		doc("ordered", "fs", "notes", "the launch plan is ready", model.ContentTypeDocument, now),
		doc("scattered", "fs", "notes", "plan the ready launch backwards", model.ContentTypeDocument, now),
	})

	resp, err := p.Search(context.Background(), &model.SearchQuery{Query: `"launch plan"`})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "ordered", resp.Results[0].ID)
}

func TestExecute_MatchAllBrowse(t *testing.T) {
	now := time.Now().UTC()
	p := seededProcessor(t, []*model.SearchDocument{
		doc("1", "fs", "a", "x", model.ContentTypeDocument, now),
		doc("2", "fs", "b", "y", model.ContentTypeDocument, now.Add(time.Minute)),
	})

	resp, err := p.Search(context.Background(), &model.SearchQuery{})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 2)
	assert.Equal(t, 2, resp.TotalCount)
}

func TestExecute_Facets(t *testing.T) {
	now := time.Now().UTC()
	p := seededProcessor(t, []*model.SearchDocument{
		doc("1", "fs", "a", "body", model.ContentTypeDocument, now),
		doc("2", "fs", "b", "body", model.ContentTypeDocument, now),
		doc("3", "gh", "c", "body", model.ContentTypeIssue, now),
	})

	resp, err := p.Search(context.Background(), &model.SearchQuery{
		Facets: []model.FacetRequest{{Field: "content_type", MaxValues: 5}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Facets, 1)
	assert.Equal(t, "content_type", resp.Facets[0].Field)

	counts := map[string]int{}
	for _, v := range resp.Facets[0].Values {
		counts[v.Value] = v.Count
	}
	assert.Equal(t, 2, counts["document"])
	assert.Equal(t, 1, counts["issue"])
}

func TestExecute_FacetMaxValuesCap(t *testing.T) {
	now := time.Now().UTC()
	docs := []*model.SearchDocument{
		doc("1", "p1", "a", "body", model.ContentTypeDocument, now),
		doc("2", "p2", "b", "body", model.ContentTypeIssue, now),
		doc("3", "p3", "c", "body", model.ContentTypeMessage, now),
	}
	p := seededProcessor(t, docs)

	resp, err := p.Search(context.Background(), &model.SearchQuery{
		Facets: []model.FacetRequest{{Field: "provider_id", MaxValues: 2}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Facets, 1)
	assert.LessOrEqual(t, len(resp.Facets[0].Values), 2)
}

func TestExecute_OffsetPagination(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	p := seededProcessor(t, []*model.SearchDocument{
		doc("1", "fs", "entry", "body", model.ContentTypeDocument, base.Add(3*time.Hour)),
		doc("2", "fs", "entry", "body", model.ContentTypeDocument, base.Add(2*time.Hour)),
		doc("3", "fs", "entry", "body", model.ContentTypeDocument, base.Add(time.Hour)),
	})

	page1, err := p.Search(context.Background(), &model.SearchQuery{Query: "entry", Limit: 2})
	require.NoError(t, err)
	page2, err := p.Search(context.Background(), &model.SearchQuery{Query: "entry", Limit: 2, Offset: 2})
	require.NoError(t, err)

	require.Len(t, page1.Results, 2)
	require.Len(t, page2.Results, 1)
	assert.Equal(t, "1", page1.Results[0].ID)
	assert.Equal(t, "2", page1.Results[1].ID)
	assert.Equal(t, "3", page2.Results[0].ID)

	// Offset past the end is empty, not an error
	empty, err := p.Search(context.Background(), &model.SearchQuery{Query: "entry", Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty.Results)
}

func TestExecute_PaginationWithTiedScores(t *testing.T) {
	// Given six documents indistinguishable by score and recency, so
	// every page boundary cuts through a tie group
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	var docs []*model.SearchDocument
	for _, id := range []string{"1", "2", "3", "4", "5", "6"} {
		docs = append(docs, doc(id, "fs", "entry", "same body", model.ContentTypeDocument, base))
	}
	p := seededProcessor(t, docs)

	collect := func() []string {
		var keys []string
		for offset := 0; offset < 6; offset += 2 {
			page, err := p.Search(context.Background(), &model.SearchQuery{Query: "entry", Limit: 2, Offset: offset})
			require.NoError(t, err)
			require.Len(t, page.Results, 2)
			for _, r := range page.Results {
				keys = append(keys, r.Key())
			}
		}
		return keys
	}

	// Pages partition the corpus: no document repeats across pages and
	// none is dropped
	keys := collect()
	seen := map[string]bool{}
	for _, k := range keys {
		assert.False(t, seen[k], "document %s appeared on two pages", k)
		seen[k] = true
	}
	assert.Len(t, seen, 6)

	// Ties break on document ID ascending, and repeated walks agree
	assert.Equal(t, []string{"fs/1", "fs/2", "fs/3", "fs/4", "fs/5", "fs/6"}, keys)
	assert.Equal(t, keys, collect())
}

func TestExecute_Highlights(t *testing.T) {
	now := time.Now().UTC()
	p := seededProcessor(t, []*model.SearchDocument{
		doc("1", "fs", "quarterly roadmap", "the roadmap covers next quarter", model.ContentTypeDocument, now),
	})

	resp, err := p.Search(context.Background(), &model.SearchQuery{Query: "roadmap"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	require.NotEmpty(t, resp.Results[0].Highlights)

	fields := map[string]bool{}
	for _, h := range resp.Results[0].Highlights {
		fields[h.Field] = true
		assert.NotEmpty(t, h.Fragments)
	}
	assert.True(t, fields["title"] || fields["content"])
}

func TestExecute_DebugBreakdown(t *testing.T) {
	now := time.Now().UTC()
	p := seededProcessor(t, []*model.SearchDocument{
		doc("1", "fs", "a", "body", model.ContentTypeDocument, now),
	})

	resp, err := p.Search(context.Background(), &model.SearchQuery{Query: "body", Debug: true})
	require.NoError(t, err)
	require.NotNil(t, resp.Debug)
	assert.GreaterOrEqual(t, resp.Debug.Breakdown.TotalMS, resp.Debug.Breakdown.ExecMS)

	noDebug, err := p.Search(context.Background(), &model.SearchQuery{Query: "body"})
	require.NoError(t, err)
	assert.Nil(t, noDebug.Debug)
}

func TestExecute_SortByField(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	p := seededProcessor(t, []*model.SearchDocument{
		doc("old", "fs", "entry", "body", model.ContentTypeDocument, base),
		doc("new", "fs", "entry", "body", model.ContentTypeDocument, base.Add(time.Hour)),
	})

	resp, err := p.Search(context.Background(), &model.SearchQuery{
		Query: "entry",
		Sort:  &model.Sort{Field: "last_modified", Desc: false},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "old", resp.Results[0].ID)
	assert.Equal(t, "new", resp.Results[1].ID)
}
