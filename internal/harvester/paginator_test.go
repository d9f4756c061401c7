package harvester

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Ziruax/shiny-octo-garbanzo/internal/extractor"
	"github.com/Ziruax/shiny-octo-garbanzo/internal/site"
	"github.com/Ziruax/shiny-octo-garbanzo/pkg/plugin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPaginator(f plugin.Fetcher, maxPages, retries int) *Paginator {
	logger, _ := test.NewNullLogger()
	rules := site.DirectoryA()
	return NewPaginator(PaginatorConfig{
		Fetcher:    f,
		Extractor:  extractor.New(rules),
		Site:       rules,
		MaxPages:   maxPages,
		MaxRetries: retries,
		Logger:     logger,
	})
}

func TestPaginatorSequence(t *testing.T) {
	f := &fakeFetcher{respond: pagesOf(2, 1)}
	p := newTestPaginator(f, 0, 1)
	ctx := context.Background()

	b, err := p.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, b.Index)
	assert.Equal(t, plugin.OutcomeFragment, b.Outcome)
	assert.Len(t, b.Records, 2)
	assert.Equal(t, 1, p.Cursor())

	b, err = p.Next(ctx)
	require.NoError(t, err)
	assert.Len(t, b.Records, 1)
	assert.False(t, p.Done())

	b, err = p.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, plugin.OutcomeEnd, b.Outcome)
	assert.NoError(t, b.Err)
	assert.True(t, p.Done())

	_, err = p.Next(ctx)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, []int{0, 1, 2}, f.Requests())
	assert.Equal(t, 3, p.Requested())
}

func TestPaginatorResume(t *testing.T) {
	f := &fakeFetcher{respond: pagesOf(1, 1, 1, 1)}
	p := newTestPaginator(f, 2, 1)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := p.Next(ctx)
		require.NoError(t, err)
	}
	_, err := p.Next(ctx)
	require.ErrorIs(t, err, ErrExhausted)

	saved := p.Cursor()
	assert.Equal(t, 2, saved)

	p.Resume(saved)
	b, err := p.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, b.Index)

	p.Resume(-5)
	assert.Equal(t, 0, p.Cursor())
}

func TestPaginatorFailureAfterRetries(t *testing.T) {
	f := &fakeFetcher{respond: func(int, plugin.PageRequest) (*plugin.PageData, error) {
		return nil, errors.New("reset by peer")
	}}
	p := newTestPaginator(f, 0, 2)

	b, err := p.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, plugin.OutcomeFailed, b.Outcome)
	assert.Error(t, b.Err)
	assert.True(t, p.Done())
	assert.Equal(t, []int{0, 0}, f.Requests())
}

func TestPaginatorPassesContextErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := &fakeFetcher{respond: func(int, plugin.PageRequest) (*plugin.PageData, error) {
		cancel()
		return nil, context.Canceled
	}}
	p := newTestPaginator(f, 0, 3)

	_, err := p.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int{0}, f.Requests())
}

func TestPaginatorRetryWaitsBetweenAttempts(t *testing.T) {
	var waits []time.Duration
	calls := 0
	f := &fakeFetcher{respond: func(call int, req plugin.PageRequest) (*plugin.PageData, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("timeout")
		}
		return fragmentPage(req.Index, 1), nil
	}}

	logger, _ := test.NewNullLogger()
	rules := site.DirectoryA()
	p := NewPaginator(PaginatorConfig{
		Fetcher:    f,
		Extractor:  extractor.New(rules),
		Site:       rules,
		MaxRetries: 3,
		RetryDelay: 7 * time.Second,
		Wait: func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		},
		Logger: logger,
	})

	b, err := p.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, b.Page.Attempts)
	assert.Equal(t, []time.Duration{7 * time.Second, 7 * time.Second}, waits)
}
