package index

import (
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/omnidex/omnidex/internal/model"
)

// Indexed field names, shared with the query processor so plans and
// projections stay in sync with the mapping below.
const (
	FieldProviderID   = "provider_id"
	FieldProviderType = "provider_type"
	FieldContentType  = "content_type"
	FieldTitle        = "title"
	FieldContent      = "content"
	FieldSummary      = "summary"
	FieldAuthor       = "author"
	FieldTags         = "tags"
	FieldCategories   = "categories"
	FieldURL          = "url"
	FieldFilePath     = "file_path"
	FieldCreatedAt    = "created_at"
	FieldLastModified = "last_modified"
)

// StoredFields lists every field the query processor may project back
// into a SearchResult.
var StoredFields = []string{
	FieldProviderID, FieldProviderType, FieldContentType,
	FieldTitle, FieldContent, FieldSummary, FieldAuthor,
	FieldTags, FieldCategories, FieldURL, FieldFilePath,
	FieldCreatedAt, FieldLastModified,
}

// indexDoc is the flattened shape handed to Bleve. Field names follow
// the JSON tags, which must match the Field* constants.
type indexDoc struct {
	ProviderID   string            `json:"provider_id"`
	ProviderType string            `json:"provider_type"`
	ContentType  string            `json:"content_type"`
	Title        string            `json:"title"`
	Content      string            `json:"content"`
	Summary      string            `json:"summary"`
	Author       string            `json:"author"`
	Tags         []string          `json:"tags"`
	Categories   []string          `json:"categories"`
	URL          string            `json:"url"`
	FilePath     string            `json:"file_path"`
	CreatedAt    time.Time         `json:"created_at"`
	LastModified time.Time         `json:"last_modified"`
	Metadata     map[string]string `json:"metadata"`
}

func newIndexDoc(doc *model.SearchDocument) indexDoc {
	return indexDoc{
		ProviderID:   doc.ProviderID,
		ProviderType: doc.ProviderType,
		ContentType:  string(doc.ContentType),
		Title:        doc.Title,
		Content:      doc.Content,
		Summary:      doc.Summary,
		Author:       doc.Author,
		Tags:         doc.Tags,
		Categories:   doc.Categories,
		URL:          doc.URL,
		FilePath:     doc.FilePath,
		CreatedAt:    doc.CreatedAt,
		LastModified: doc.LastModified,
		Metadata:     doc.Metadata,
	}
}

func textField() *mapping.FieldMapping {
	fm := bleve.NewTextFieldMapping()
	fm.Analyzer = en.AnalyzerName
	fm.Store = true
	fm.IncludeTermVectors = true
	return fm
}

func keywordField() *mapping.FieldMapping {
	fm := bleve.NewTextFieldMapping()
	fm.Analyzer = keyword.Name
	fm.Store = true
	return fm
}

func dateField() *mapping.FieldMapping {
	fm := bleve.NewDateTimeFieldMapping()
	fm.Store = true
	return fm
}

// createIndexMapping builds the Bleve mapping for search documents:
// analyzed text for title/content/summary, exact keyword terms for
// provider and classification fields, datetimes for range filters.
func createIndexMapping() (*mapping.IndexMappingImpl, error) {
	docMapping := bleve.NewDocumentMapping()

	docMapping.AddFieldMappingsAt(FieldTitle, textField())
	docMapping.AddFieldMappingsAt(FieldContent, textField())
	docMapping.AddFieldMappingsAt(FieldSummary, textField())

	docMapping.AddFieldMappingsAt(FieldProviderID, keywordField())
	docMapping.AddFieldMappingsAt(FieldProviderType, keywordField())
	docMapping.AddFieldMappingsAt(FieldContentType, keywordField())
	docMapping.AddFieldMappingsAt(FieldAuthor, keywordField())
	docMapping.AddFieldMappingsAt(FieldTags, keywordField())
	docMapping.AddFieldMappingsAt(FieldCategories, keywordField())
	docMapping.AddFieldMappingsAt(FieldURL, keywordField())
	docMapping.AddFieldMappingsAt(FieldFilePath, keywordField())

	docMapping.AddFieldMappingsAt(FieldCreatedAt, dateField())
	docMapping.AddFieldMappingsAt(FieldLastModified, dateField())

	// Provider metadata keys are open-ended; index them as exact terms.
	metaMapping := bleve.NewDocumentMapping()
	metaMapping.DefaultAnalyzer = keyword.Name
	docMapping.AddSubDocumentMapping("metadata", metaMapping)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = en.AnalyzerName
	return indexMapping, nil
}
