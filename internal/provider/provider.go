// Package provider defines the uniform provider surface, the factory
// that builds providers from configuration, and the registry that owns
// provider instances together with their auth, stats, and health state.
package provider

import (
	"context"
	"time"

	"github.com/omnidex/omnidex/internal/model"
)

// Provider is the uniform capability surface every search source
// implements. Auth snapshots, rolling stats, and health state live in
// the Registry as plain data, not inside implementations.
type Provider interface {
	// Info identifies the instance and declares static capabilities.
	Info() model.ProviderInfo

	// Initialize prepares the provider from its opaque settings blob.
	Initialize(ctx context.Context, settings map[string]string) error

	// Ready reports whether the provider can serve requests.
	Ready() bool

	// Search answers a live federated query. Only called for providers
	// whose capabilities declare RealTimeSearch.
	Search(ctx context.Context, q *model.SearchQuery) (*model.ProviderResponse, error)

	// Documents pulls documents for indexing: everything when since is
	// zero and cursor empty, otherwise changes after the given position.
	// Returns the next cursor to persist.
	Documents(ctx context.Context, since time.Time, cursor string) ([]*model.SearchDocument, string, error)

	// HealthCheck probes the backing source.
	HealthCheck(ctx context.Context) model.ProviderHealth

	// Authenticate validates credentials against the source. Providers
	// that need no auth return an Authenticated snapshot unconditionally.
	Authenticate(ctx context.Context, creds model.Credentials) (model.ProviderAuth, error)

	// RefreshAuth revalidates previously supplied credentials.
	RefreshAuth(ctx context.Context) (model.ProviderAuth, error)

	// Shutdown releases provider resources.
	Shutdown(ctx context.Context) error
}

// DocumentSink receives realtime document events from providers that
// watch their source (the indexing pipeline implements it).
type DocumentSink interface {
	SubmitDocument(doc *model.SearchDocument) error
	RemoveDocument(providerID, docID string) error
}

// Watcher is implemented by providers that can push change events into
// a sink while watching their source.
type Watcher interface {
	Watch(ctx context.Context, sink DocumentSink) error
}
