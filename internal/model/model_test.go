package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchDocument_KeyCombinesProviderAndID(t *testing.T) {
	doc := SearchDocument{ID: "42", ProviderID: "gmail-work"}
	assert.Equal(t, "gmail-work/42", doc.Key())
	assert.Equal(t, doc.Key(), DocumentKey("gmail-work", "42"))
}

func TestSearchDocument_ChecksumChangesWithContent(t *testing.T) {
	a := SearchDocument{Title: "t", Content: "one"}
	b := SearchDocument{Title: "t", Content: "two"}

	assert.NotEqual(t, a.ComputeChecksum(), b.ComputeChecksum())
	assert.Equal(t, a.ComputeChecksum(), a.ComputeChecksum())
}

func TestSearchDocument_ChecksumSeparatesTitleAndContent(t *testing.T) {
	// "ab"+"c" must not collide with "a"+"bc".
	a := SearchDocument{Title: "ab", Content: "c"}
	b := SearchDocument{Title: "a", Content: "bc"}
	assert.NotEqual(t, a.ComputeChecksum(), b.ComputeChecksum())
}

func TestSearchDocument_ValidateRequiredFields(t *testing.T) {
	tests := []struct {
		name string
		doc  SearchDocument
		ok   bool
	}{
		{"valid", SearchDocument{ID: "1", ProviderID: "p", ContentType: ContentTypeNote}, true},
		{"missing id", SearchDocument{ProviderID: "p", ContentType: ContentTypeNote}, false},
		{"missing provider", SearchDocument{ID: "1", ContentType: ContentTypeNote}, false},
		{"missing content type", SearchDocument{ID: "1", ProviderID: "p"}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.doc.Validate()
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestSearchQuery_EffectiveLimitDefault(t *testing.T) {
	q := SearchQuery{}
	assert.Equal(t, 50, q.EffectiveLimit())

	q.Limit = 10
	assert.Equal(t, 10, q.EffectiveLimit())
}

func TestJobStatus_Terminal(t *testing.T) {
	assert.False(t, JobStatusQueued.Terminal())
	assert.False(t, JobStatusRunning.Terminal())
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
	assert.True(t, JobStatusCancelled.Terminal())
}

func TestProviderAuth_Valid(t *testing.T) {
	assert.False(t, ProviderAuth{Status: AuthNotAuthenticated}.Valid())
	assert.True(t, ProviderAuth{Status: AuthAuthenticated}.Valid())

	past := time.Now().Add(-time.Hour)
	assert.False(t, ProviderAuth{Status: AuthAuthenticated, ExpiresAt: &past}.Valid())

	future := time.Now().Add(time.Hour)
	assert.True(t, ProviderAuth{Status: AuthAuthenticated, ExpiresAt: &future}.Valid())
}
