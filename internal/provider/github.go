package provider

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	gh "github.com/google/go-github/v80/github"

	"github.com/omnidex/omnidex/internal/errors"
	"github.com/omnidex/omnidex/internal/model"
)

// TypeGitHub is the factory key for the GitHub provider.
const TypeGitHub = "github"

// githubRateLimitRPM is the declared request budget for live search.
// GitHub's search API allows 30 requests per minute for authenticated
// users.
const githubRateLimitRPM = 30

type ownerRepo struct {
	owner string
	name  string
}

func (r ownerRepo) String() string { return r.owner + "/" + r.name }

// GitHubProvider federates issues and pull requests from configured
// repositories: live search through the GitHub search API, document
// pulls through the issues API with an updated-since cursor.
type GitHubProvider struct {
	id     string
	logger *slog.Logger

	mu     sync.Mutex
	repos  []ownerRepo
	client *gh.Client
	auth   model.ProviderAuth
}

// NewGitHubProvider returns an uninitialized GitHub provider.
func NewGitHubProvider(id string) *GitHubProvider {
	return &GitHubProvider{
		id:     id,
		logger: slog.Default(),
		auth:   model.ProviderAuth{ProviderID: id},
	}
}

func (p *GitHubProvider) Info() model.ProviderInfo {
	return model.ProviderInfo{
		ID:           p.id,
		Name:         "GitHub",
		ProviderType: TypeGitHub,
		Capabilities: model.Capabilities{
			RealTimeSearch:      true,
			IncrementalIndexing: true,
			Faceting:            false,
			Pagination:          true,
			RateLimitRPM:        githubRateLimitRPM,
		},
	}
}

// Initialize reads the "repos" setting: comma-separated owner/name pairs.
func (p *GitHubProvider) Initialize(_ context.Context, settings map[string]string) error {
	raw := strings.TrimSpace(settings["repos"])
	if raw == "" {
		return errors.ConfigError("github provider "+p.id+" requires a repos setting", nil)
	}

	var repos []ownerRepo
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		owner, name, ok := strings.Cut(entry, "/")
		if !ok || owner == "" || name == "" {
			return errors.ConfigError("github repo "+entry+" must be owner/name", nil)
		}
		repos = append(repos, ownerRepo{owner: owner, name: name})
	}
	if len(repos) == 0 {
		return errors.ConfigError("github provider "+p.id+" has no usable repos", nil)
	}

	p.mu.Lock()
	p.repos = repos
	p.mu.Unlock()
	return nil
}

// Ready requires successful authentication: every GitHub call needs a
// token.
func (p *GitHubProvider) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client != nil && p.auth.Valid()
}

// Authenticate builds a token client and verifies it against the user
// endpoint.
func (p *GitHubProvider) Authenticate(ctx context.Context, creds model.Credentials) (model.ProviderAuth, error) {
	token := creds["token"]
	if token == "" {
		return model.ProviderAuth{}, errors.AuthError(p.id, "credentials missing token", nil)
	}

	client := gh.NewClient(nil).WithAuthToken(token)
	_, resp, err := client.Users.Get(ctx, "")
	if err != nil {
		auth := model.ProviderAuth{ProviderID: p.id, Status: model.AuthAuthenticationError}
		p.setAuth(nil, auth)
		return model.ProviderAuth{}, wrapGitHubError(p.id, "verify token", err)
	}

	auth := model.ProviderAuth{ProviderID: p.id, Status: model.AuthAuthenticated}
	if scopes := resp.Header.Get("X-OAuth-Scopes"); scopes != "" {
		for _, s := range strings.Split(scopes, ",") {
			auth.Scopes = append(auth.Scopes, strings.TrimSpace(s))
		}
	}
	p.setAuth(client, auth)
	return auth, nil
}

// RefreshAuth revalidates the current client.
func (p *GitHubProvider) RefreshAuth(ctx context.Context) (model.ProviderAuth, error) {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return model.ProviderAuth{}, errors.AuthError(p.id, "not authenticated", nil)
	}

	if _, _, err := client.Users.Get(ctx, ""); err != nil {
		auth := model.ProviderAuth{ProviderID: p.id, Status: model.AuthTokenExpired}
		p.setAuth(client, auth)
		return model.ProviderAuth{}, wrapGitHubError(p.id, "refresh auth", err)
	}
	auth := model.ProviderAuth{ProviderID: p.id, Status: model.AuthAuthenticated}
	p.setAuth(client, auth)
	return auth, nil
}

func (p *GitHubProvider) setAuth(client *gh.Client, auth model.ProviderAuth) {
	p.mu.Lock()
	if client != nil {
		p.client = client
	}
	p.auth = auth
	p.mu.Unlock()
}

// Search runs the query against the GitHub search API, scoped to the
// configured repositories.
func (p *GitHubProvider) Search(ctx context.Context, q *model.SearchQuery) (*model.ProviderResponse, error) {
	p.mu.Lock()
	client := p.client
	repos := append([]ownerRepo(nil), p.repos...)
	p.mu.Unlock()
	if client == nil {
		return nil, errors.New(errors.ErrCodeProviderNotReady, "github provider not authenticated", nil)
	}

	var sb strings.Builder
	sb.WriteString(q.Query)
	for _, repo := range repos {
		sb.WriteString(" repo:")
		sb.WriteString(repo.String())
	}

	start := time.Now()
	opts := &gh.SearchOptions{
		Sort:        "updated",
		ListOptions: gh.ListOptions{PerPage: min(q.EffectiveLimit(), 100)},
	}
	result, _, err := client.Search.Issues(ctx, sb.String(), opts)
	if err != nil {
		return nil, wrapGitHubError(p.id, "search issues", err)
	}

	resp := &model.ProviderResponse{
		ProviderID:      p.id,
		ExecutionTimeMS: time.Since(start).Milliseconds(),
	}
	for i, issue := range result.Issues {
		resp.Results = append(resp.Results, p.issueResult(issue, i))
	}
	return resp, nil
}

// Documents pulls issues and pull requests updated since the cursor.
// The cursor is the latest update time seen, RFC3339.
func (p *GitHubProvider) Documents(ctx context.Context, since time.Time, cursor string) ([]*model.SearchDocument, string, error) {
	p.mu.Lock()
	client := p.client
	repos := append([]ownerRepo(nil), p.repos...)
	p.mu.Unlock()
	if client == nil {
		return nil, "", errors.New(errors.ErrCodeProviderNotReady, "github provider not authenticated", nil)
	}

	if cursor != "" {
		if t, err := time.Parse(time.RFC3339Nano, cursor); err == nil && t.After(since) {
			since = t
		}
	}

	var docs []*model.SearchDocument
	latest := since
	for _, repo := range repos {
		opts := &gh.IssueListByRepoOptions{
			State:       "all",
			Sort:        "updated",
			Direction:   "asc",
			ListOptions: gh.ListOptions{PerPage: 100},
		}
		if !since.IsZero() {
			opts.Since = since
		}
		for {
			issues, resp, err := client.Issues.ListByRepo(ctx, repo.owner, repo.name, opts)
			if err != nil {
				return nil, "", wrapGitHubError(p.id, "list issues for "+repo.String(), err)
			}
			for _, issue := range issues {
				docs = append(docs, p.issueDocument(repo, issue))
				if updated := issue.GetUpdatedAt().Time; updated.After(latest) {
					latest = updated
				}
			}
			if resp.NextPage == 0 {
				break
			}
			opts.ListOptions.Page = resp.NextPage
		}
	}

	next := cursor
	if latest.After(since) || next == "" {
		next = latest.UTC().Format(time.RFC3339Nano)
	}
	return docs, next, nil
}

func issueContentType(issue *gh.Issue) model.ContentType {
	if issue.IsPullRequest() {
		return model.ContentTypePullRequest
	}
	return model.ContentTypeIssue
}

func (p *GitHubProvider) issueDocument(repo ownerRepo, issue *gh.Issue) *model.SearchDocument {
	var tags []string
	for _, label := range issue.Labels {
		tags = append(tags, label.GetName())
	}
	return &model.SearchDocument{
		ID:           fmt.Sprintf("%s#%d", repo, issue.GetNumber()),
		ProviderID:   p.id,
		ProviderType: TypeGitHub,
		ContentType:  issueContentType(issue),
		Title:        issue.GetTitle(),
		Content:      issue.GetBody(),
		URL:          issue.GetHTMLURL(),
		Author:       issue.GetUser().GetLogin(),
		Tags:         tags,
		Metadata: map[string]string{
			"repo":  repo.String(),
			"state": issue.GetState(),
		},
		CreatedAt:    issue.GetCreatedAt().Time,
		LastModified: issue.GetUpdatedAt().Time,
		IndexingInfo: model.IndexingInfo{IndexType: model.IndexTypeIncremental},
	}
}

// issueResult projects a search hit. The API returns hits in relevance
// order but exposes no score, so one is derived from the reciprocal of
// the rank.
func (p *GitHubProvider) issueResult(issue *gh.Issue, rank int) model.SearchResult {
	repo := repoFromURL(issue.GetRepositoryURL())
	return model.SearchResult{
		ID:           fmt.Sprintf("%s#%d", repo, issue.GetNumber()),
		Title:        issue.GetTitle(),
		Summary:      truncate(issue.GetBody(), 280),
		URL:          issue.GetHTMLURL(),
		ContentType:  issueContentType(issue),
		ProviderID:   p.id,
		ProviderType: TypeGitHub,
		Score:        1.0 / float64(rank+1),
		CreatedAt:    issue.GetCreatedAt().Time,
		LastModified: issue.GetUpdatedAt().Time,
		Metadata:     map[string]string{"repo": repo, "state": issue.GetState()},
	}
}

// repoFromURL extracts owner/name from an API repository URL.
func repoFromURL(url string) string {
	const marker = "/repos/"
	if i := strings.Index(url, marker); i >= 0 {
		return url[i+len(marker):]
	}
	return url
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// HealthCheck probes the rate-limit endpoint; running low on core API
// budget degrades the provider before it starts failing.
func (p *GitHubProvider) HealthCheck(ctx context.Context) model.ProviderHealth {
	start := time.Now()
	h := model.ProviderHealth{
		ProviderID: p.id,
		CheckedAt:  start.UTC(),
	}

	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		h.Status = model.HealthUnknown
		return h
	}

	limits, _, err := client.RateLimit.Get(ctx)
	h.ResponseTimeMS = time.Since(start).Milliseconds()
	if err != nil {
		h.Status = model.HealthUnhealthy
		h.Issues = append(h.Issues, model.HealthIssue{
			Severity: model.IssueError,
			Message:  "rate limit probe failed: " + err.Error(),
			Time:     time.Now().UTC(),
		})
		return h
	}

	h.Status = model.HealthHealthy
	if core := limits.GetCore(); core != nil && core.Remaining < 100 {
		h.Status = model.HealthDegraded
		h.Issues = append(h.Issues, model.HealthIssue{
			Severity: model.IssueWarning,
			Message:  fmt.Sprintf("api budget low: %d requests remaining", core.Remaining),
			Time:     time.Now().UTC(),
		})
	}
	return h
}

// Shutdown drops the client; there are no persistent connections.
func (p *GitHubProvider) Shutdown(_ context.Context) error {
	p.mu.Lock()
	p.client = nil
	p.auth = model.ProviderAuth{ProviderID: p.id, Status: model.AuthNotAuthenticated}
	p.mu.Unlock()
	return nil
}

// wrapGitHubError maps go-github failures onto the error taxonomy.
func wrapGitHubError(providerID, op string, err error) error {
	var rateErr *gh.RateLimitError
	if stderrors.As(err, &rateErr) {
		retryAfter := time.Until(rateErr.Rate.Reset.Time)
		if retryAfter < 0 {
			retryAfter = time.Minute
		}
		return errors.RateLimitError(providerID, retryAfter)
	}
	var ghErr *gh.ErrorResponse
	if stderrors.As(err, &ghErr) && ghErr.Response != nil {
		switch ghErr.Response.StatusCode {
		case 401:
			return errors.AuthError(providerID, op, err)
		case 403:
			return errors.New(errors.ErrCodeAccessDenied, op, err)
		}
	}
	return errors.ProviderError(providerID, op, err)
}
