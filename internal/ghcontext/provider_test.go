package ghcontext

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"orchestra/internal/cache"
	"orchestra/internal/errors"
	"orchestra/internal/github"
	"orchestra/internal/testutil"
)

const issueURL = "https://github.com/acme/api/issues/12"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func sampleIssue() *github.Issue {
	return &github.Issue{
		Number: 12,
		Title:  "Fix bug",
		Body:   "It breaks",
		Author: "ana",
		Labels: []string{"bug", "p1"},
		URL:    issueURL,
	}
}

func TestGetContextCachesWithinTTL(t *testing.T) {
	fetcher := &testutil.MockIssueFetcher{}
	fetcher.On("FetchIssueOrPR", mock.Anything, issueURL).Return(sampleIssue(), nil)

	clk := &clock{now: time.Unix(1000, 0)}
	p := NewProvider(fetcher, Options{TTL: 5 * time.Minute, Now: clk.Now})
	defer p.Close()
	ctx := context.Background()

	vars, err := p.GetContext(ctx, issueURL)
	require.NoError(t, err)
	assert.Equal(t, "Fix bug", vars[VarTitle])
	assert.Equal(t, "It breaks", vars[VarDescription])
	assert.Equal(t, "bug,p1", vars[VarLabels])
	assert.Equal(t, "ana", vars[VarAuthor])
	assert.Equal(t, issueURL, vars[VarURL])

	clk.Advance(4 * time.Minute)
	_, err = p.GetContext(ctx, issueURL)
	require.NoError(t, err)
	fetcher.AssertNumberOfCalls(t, "FetchIssueOrPR", 1)

	clk.Advance(2 * time.Minute)
	_, err = p.GetContext(ctx, issueURL)
	require.NoError(t, err)
	fetcher.AssertNumberOfCalls(t, "FetchIssueOrPR", 2)

	assert.Equal(t, cache.Stats{Hits: 1, Misses: 2, Size: 1}, p.GetCacheStats())
}

func TestGetContextReturnsCopies(t *testing.T) {
	fetcher := &testutil.MockIssueFetcher{}
	fetcher.On("FetchIssueOrPR", mock.Anything, issueURL).Return(sampleIssue(), nil)
	p := NewProvider(fetcher, Options{})
	defer p.Close()

	vars, err := p.GetContext(context.Background(), issueURL)
	require.NoError(t, err)
	vars[VarTitle] = "mutated"

	again, err := p.GetContext(context.Background(), issueURL)
	require.NoError(t, err)
	assert.Equal(t, "Fix bug", again[VarTitle])
}

func TestClearCache(t *testing.T) {
	other := "https://github.com/acme/api/pull/3"
	fetcher := &testutil.MockIssueFetcher{}
	fetcher.On("FetchIssueOrPR", mock.Anything, mock.Anything).Return(sampleIssue(), nil)
	p := NewProvider(fetcher, Options{})
	defer p.Close()
	ctx := context.Background()

	_, _ = p.GetContext(ctx, issueURL)
	_, _ = p.GetContext(ctx, other)
	assert.Equal(t, 2, p.GetCacheStats().Size)

	p.ClearCache(issueURL)
	assert.Equal(t, 1, p.GetCacheStats().Size)
	_, _ = p.GetContext(ctx, issueURL)
	fetcher.AssertNumberOfCalls(t, "FetchIssueOrPR", 3)

	p.ClearCache("")
	assert.Equal(t, 0, p.GetCacheStats().Size)
}

func TestGetContextFailures(t *testing.T) {
	fetcher := &testutil.MockIssueFetcher{}
	fetcher.On("FetchIssueOrPR", mock.Anything, "https://github.com/acme/api/issues/1").
		Return(nil, fmt.Errorf("connection refused"))
	fetcher.On("FetchIssueOrPR", mock.Anything, "https://github.com/acme/api/issues/2").
		Return(nil, nil)
	p := NewProvider(fetcher, Options{})
	defer p.Close()
	ctx := context.Background()

	_, err := p.GetContext(ctx, "https://github.com/acme/api/issues/1")
	assert.True(t, errors.HasCode(err, errors.ErrContextUnavailable))

	_, err = p.GetContext(ctx, "https://github.com/acme/api/issues/2")
	assert.True(t, errors.HasCode(err, errors.ErrContextUnavailable))

	_, err = p.GetContext(ctx, "  ")
	assert.True(t, errors.HasCode(err, errors.ErrInvalidInput))

	assert.Equal(t, 0, p.GetCacheStats().Size, "failures are not cached")
}

type blockingFetcher struct {
	started chan struct{}
	release chan struct{}
}

func (f *blockingFetcher) FetchIssueOrPR(ctx context.Context, url string) (*github.Issue, error) {
	close(f.started)
	<-f.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return sampleIssue(), nil
}

func TestGetContextSurvivesCallerCancellation(t *testing.T) {
	fetcher := &blockingFetcher{started: make(chan struct{}), release: make(chan struct{})}
	p := NewProvider(fetcher, Options{TTL: time.Minute})
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		vars map[string]string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		vars, err := p.GetContext(ctx, issueURL)
		done <- result{vars, err}
	}()

	<-fetcher.started
	cancel()
	close(fetcher.release)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, "Fix bug", res.vars[VarTitle])

	// the fetched value was cached for later callers
	vars, err := p.GetContext(context.Background(), issueURL)
	require.NoError(t, err)
	assert.Equal(t, "Fix bug", vars[VarTitle])
	assert.Equal(t, 1, p.GetCacheStats().Size)
}
