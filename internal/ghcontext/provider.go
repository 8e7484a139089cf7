// Package ghcontext supplies template variables for zone actions from GitHub
// issues and pull requests, with a TTL cache in front of the fetcher.
package ghcontext

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"orchestra/internal/cache"
	"orchestra/internal/constants"
	"orchestra/internal/errors"
	"orchestra/internal/github"
	"orchestra/internal/logger"
	"orchestra/internal/metrics"
)

// Variable names exposed under the github namespace
const (
	VarTitle       = "github.title"
	VarDescription = "github.description"
	VarLabels      = "github.labels"
	VarAuthor      = "github.author"
	VarBranch      = "github.branch"
	VarURL         = "github.url"
)

// IssueFetcher is the capability the provider needs from a code-hosting client
type IssueFetcher interface {
	FetchIssueOrPR(ctx context.Context, url string) (*github.Issue, error)
}

// Options configures a Provider
type Options struct {
	TTL       time.Duration
	CacheSize int
	// Now overrides the cache clock
	Now func() time.Time
}

// Provider resolves issue URLs into github.* variables
type Provider struct {
	fetcher IssueFetcher
	cache   *cache.Cache[string, map[string]string]
	group   singleflight.Group
}

// NewProvider creates a provider backed by fetcher
func NewProvider(fetcher IssueFetcher, opts Options) *Provider {
	if opts.TTL <= 0 {
		opts.TTL = constants.DefaultContextCacheTTL
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = constants.DefaultContextCacheSize
	}

	var cacheOpts []cache.Option
	if opts.Now != nil {
		cacheOpts = append(cacheOpts, cache.WithClock(opts.Now), cache.WithoutCleanup())
	}

	return &Provider{
		fetcher: fetcher,
		cache:   cache.NewCache[string, map[string]string](opts.TTL, opts.CacheSize, cacheOpts...),
	}
}

// GetContext returns the github.* variables for issueURL, fetching at most once per TTL
func (p *Provider) GetContext(ctx context.Context, issueURL string) (map[string]string, error) {
	key := strings.TrimSpace(issueURL)
	if key == "" {
		return nil, errors.InvalidInput("issue_url", "cannot be empty")
	}

	if vars, ok := p.cache.Get(key); ok {
		metrics.RecordContextLookup(ctx, true)
		return copyVars(vars), nil
	}
	metrics.RecordContextLookup(ctx, false)

	v, err, _ := p.group.Do(key, func() (interface{}, error) {
		// shared by every waiter on key, so one caller's cancellation must not fail the rest
		issue, err := p.fetcher.FetchIssueOrPR(context.WithoutCancel(ctx), key)
		if err != nil {
			if errors.HasCode(err, errors.ErrContextUnavailable) {
				return nil, err
			}
			return nil, errors.ContextUnavailable(key, err)
		}
		if issue == nil {
			return nil, errors.ContextUnavailable(key, errors.New(errors.ErrInternal, "fetcher returned no data"))
		}

		vars := issueVars(key, issue)
		p.cache.Set(key, vars)
		logger.WithFields(logger.Fields{
			"url":    key,
			"number": issue.Number,
		}).Debug("Fetched issue context")
		return vars, nil
	})
	if err != nil {
		return nil, err
	}
	return copyVars(v.(map[string]string)), nil
}

// ClearCache drops the entry for url, or everything when url is empty
func (p *Provider) ClearCache(url string) {
	url = strings.TrimSpace(url)
	if url == "" {
		p.cache.Clear()
		return
	}
	p.cache.Delete(url)
}

// GetCacheStats reports cache hits, misses and size
func (p *Provider) GetCacheStats() cache.Stats {
	return p.cache.Stats()
}

// Close stops the cache's background cleanup
func (p *Provider) Close() {
	p.cache.Close()
}

func issueVars(url string, issue *github.Issue) map[string]string {
	link := issue.URL
	if link == "" {
		link = url
	}
	return map[string]string{
		VarTitle:       issue.Title,
		VarDescription: issue.Body,
		VarLabels:      strings.Join(issue.Labels, ","),
		VarAuthor:      issue.Author,
		VarBranch:      issue.Branch,
		VarURL:         link,
	}
}

func copyVars(vars map[string]string) map[string]string {
	out := make(map[string]string, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	return out
}
