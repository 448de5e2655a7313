// Package model defines the document, query, and job types shared across
// the Omnidex engine, index, providers, and pipeline.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ContentType classifies an indexed unit.
type ContentType string

const (
	ContentTypeDocument    ContentType = "document"
	ContentTypeMessage     ContentType = "message"
	ContentTypeEmail       ContentType = "email"
	ContentTypeEvent       ContentType = "event"
	ContentTypeContact     ContentType = "contact"
	ContentTypeFile        ContentType = "file"
	ContentTypeNote        ContentType = "note"
	ContentTypeTask        ContentType = "task"
	ContentTypeIssue       ContentType = "issue"
	ContentTypePullRequest ContentType = "pull_request"
	ContentTypeCommit      ContentType = "commit"
	ContentTypeChannel     ContentType = "channel"
	ContentTypeThread      ContentType = "thread"
	ContentTypeMeeting     ContentType = "meeting"
	ContentTypeBookmark    ContentType = "bookmark"
)

// IndexType distinguishes full from incremental indexing passes.
type IndexType string

const (
	IndexTypeFull        IndexType = "full"
	IndexTypeIncremental IndexType = "incremental"
)

// IndexingInfo tracks per-document indexing state.
type IndexingInfo struct {
	// IndexedAt is when the document was last written to the index.
	IndexedAt time.Time `json:"indexed_at"`

	// Version increases monotonically on every upsert of the same key.
	Version uint64 `json:"version"`

	// Checksum is a content hash used for change detection.
	Checksum string `json:"checksum"`

	// IndexType records whether the write came from a full or incremental pass.
	IndexType IndexType `json:"index_type"`
}

// SearchDocument is one indexed unit from any provider.
type SearchDocument struct {
	// ID is unique within its provider; (ProviderID, ID) is the index identity.
	ID string `json:"id"`

	Title   string `json:"title"`
	Content string `json:"content"`

	// Summary is an optional precomputed excerpt.
	Summary string `json:"summary,omitempty"`

	ContentType  ContentType `json:"content_type"`
	ProviderID   string      `json:"provider_id"`
	ProviderType string      `json:"provider_type"`

	AccountID string `json:"account_id,omitempty"`
	FilePath  string `json:"file_path,omitempty"`
	URL       string `json:"url,omitempty"`

	// Metadata holds provider-specific facets as an open key-value map.
	Metadata map[string]string `json:"metadata,omitempty"`

	Tags       []string `json:"tags,omitempty"`
	Categories []string `json:"categories,omitempty"`

	Author       string    `json:"author,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastModified time.Time `json:"last_modified"`

	IndexingInfo IndexingInfo `json:"indexing_info"`
}

// Key returns the index identity for this document.
// Upserts are keyed on this value, never on ID alone.
func (d *SearchDocument) Key() string {
	return DocumentKey(d.ProviderID, d.ID)
}

// DocumentKey builds the index identity from a provider id and document id.
func DocumentKey(providerID, docID string) string {
	return providerID + "/" + docID
}

// ComputeChecksum returns the content hash used for change detection.
func (d *SearchDocument) ComputeChecksum() string {
	h := sha256.New()
	h.Write([]byte(d.Title))
	h.Write([]byte{0})
	h.Write([]byte(d.Content))
	return hex.EncodeToString(h.Sum(nil))
}

// Validate checks the fields required for indexing.
func (d *SearchDocument) Validate() error {
	switch {
	case d.ID == "":
		return errMissingField("id")
	case d.ProviderID == "":
		return errMissingField("provider_id")
	case d.ContentType == "":
		return errMissingField("content_type")
	}
	return nil
}
