package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/omnidex/omnidex/internal/errors"
	"github.com/omnidex/omnidex/internal/index"
	"github.com/omnidex/omnidex/internal/model"
)

// metadataPrefix allows filtering on provider-supplied metadata keys.
const metadataPrefix = "metadata."

var filterFields = map[string]bool{
	index.FieldProviderID:   true,
	index.FieldProviderType: true,
	index.FieldContentType:  true,
	index.FieldAuthor:       true,
	index.FieldTags:         true,
	index.FieldCategories:   true,
	index.FieldURL:          true,
	index.FieldFilePath:     true,
	index.FieldCreatedAt:    true,
	index.FieldLastModified: true,
}

var dateFields = map[string]bool{
	index.FieldCreatedAt:    true,
	index.FieldLastModified: true,
}

var facetFields = map[string]bool{
	index.FieldProviderID:   true,
	index.FieldProviderType: true,
	index.FieldContentType:  true,
	index.FieldAuthor:       true,
	index.FieldTags:         true,
	index.FieldCategories:   true,
}

var sortFields = map[string]bool{
	index.FieldCreatedAt:    true,
	index.FieldLastModified: true,
	index.FieldTitle:        true,
}

// Parse validates a SearchQuery and produces an executable plan.
// An empty query with filters is a valid filter-only browse; an empty
// query with no filters matches everything. Malformed input is rejected
// with a syntax error naming the offending fragment.
func (p *Processor) Parse(q *model.SearchQuery) (*Plan, error) {
	start := time.Now()

	text, phrases, err := splitPhrases(q.Query)
	if err != nil {
		return nil, err
	}

	for i := range q.Filters {
		if err := validateFilter(&q.Filters[i]); err != nil {
			return nil, err
		}
	}
	for _, f := range q.Facets {
		if !facetFields[f.Field] {
			return nil, errors.SyntaxError(f.Field, "field is not facetable")
		}
		if f.MaxValues < 0 {
			return nil, errors.SyntaxError(f.Field, "facet max_values must not be negative")
		}
	}
	if q.Sort != nil && !sortFields[q.Sort.Field] {
		return nil, errors.SyntaxError(q.Sort.Field, "field is not sortable")
	}
	if q.Offset < 0 {
		return nil, errors.SyntaxError(fmt.Sprintf("offset=%d", q.Offset), "offset must not be negative")
	}

	limit := q.EffectiveLimit()
	if limit > maxLimit {
		limit = maxLimit
	}

	return &Plan{
		Text:      text,
		Phrases:   phrases,
		Filters:   q.Filters,
		Facets:    q.Facets,
		Sort:      q.Sort,
		Limit:     limit,
		Offset:    q.Offset,
		Debug:     q.Debug,
		parseTime: time.Since(start),
	}, nil
}

// splitPhrases pulls quoted phrases out of the free-text query.
// `alpha "beta gamma" delta` → text `alpha delta`, phrases [`beta gamma`].
func splitPhrases(raw string) (string, []string, error) {
	var (
		phrases []string
		terms   []string
	)
	rest := raw
	for {
		open := strings.IndexByte(rest, '"')
		if open < 0 {
			terms = append(terms, rest)
			break
		}
		terms = append(terms, rest[:open])

		closing := strings.IndexByte(rest[open+1:], '"')
		if closing < 0 {
			return "", nil, errors.SyntaxError(rest[open:], "unterminated quoted phrase")
		}
		phrase := rest[open+1 : open+1+closing]
		if strings.TrimSpace(phrase) != "" {
			phrases = append(phrases, strings.TrimSpace(phrase))
		}
		rest = rest[open+1+closing+1:]
	}
	text := strings.Join(strings.Fields(strings.Join(terms, " ")), " ")
	return text, phrases, nil
}

func validateFilter(f *model.Filter) error {
	field := f.Field
	if !filterFields[field] && !strings.HasPrefix(field, metadataPrefix) {
		return errors.SyntaxError(field, "unknown filter field")
	}

	switch f.Op {
	case model.OpEquals, model.OpContains:
		if f.Value == "" {
			return errors.SyntaxError(field, fmt.Sprintf("%s filter requires a value", f.Op))
		}
		if dateFields[field] {
			return errors.SyntaxError(field, "date fields only support range filters")
		}
	case model.OpIn:
		if len(f.Values) == 0 {
			return errors.SyntaxError(field, "in filter requires at least one value")
		}
		if dateFields[field] {
			return errors.SyntaxError(field, "date fields only support range filters")
		}
	case model.OpRange:
		if !dateFields[field] {
			return errors.SyntaxError(field, "range filters require a date field")
		}
		if f.From.IsZero() && f.To.IsZero() {
			return errors.SyntaxError(field, "range filter requires at least one bound")
		}
		if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
			return errors.SyntaxError(field, "range upper bound precedes lower bound")
		}
	default:
		return errors.SyntaxError(string(f.Op), "unknown filter operator")
	}
	return nil
}

// farFuture bounds open-ended date ranges.
func farFuture() time.Time {
	return time.Now().UTC().AddDate(100, 0, 0)
}
