package confluence

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wikiguard/pii-scan-backend/internal/domain/content"
	"github.com/wikiguard/pii-scan-backend/internal/infrastructure/cache"
	"github.com/wikiguard/pii-scan-backend/internal/infrastructure/config"
)

type fakeAccessor struct {
	spaces     []content.Space
	pages      map[string][]content.Page
	listCalls  atomic.Int64
	pagesCalls atomic.Int64
}

func (f *fakeAccessor) ListSpaces(ctx context.Context) ([]content.Space, error) {
	f.listCalls.Add(1)
	return f.spaces, nil
}

func (f *fakeAccessor) GetSpace(ctx context.Context, key string) (*content.Space, error) {
	for i := range f.spaces {
		if f.spaces[i].Key == key {
			return &f.spaces[i], nil
		}
	}
	return nil, nil
}

func (f *fakeAccessor) ListPages(ctx context.Context, spaceKey string) ([]content.Page, error) {
	f.pagesCalls.Add(1)
	return f.pages[spaceKey], nil
}

func (f *fakeAccessor) GetPage(ctx context.Context, id string) (*content.Page, error) {
	for _, pages := range f.pages {
		for i := range pages {
			if pages[i].ID == id {
				return &pages[i], nil
			}
		}
	}
	return nil, nil
}

func (f *fakeAccessor) ListAttachments(ctx context.Context, pageID string) ([]content.Attachment, error) {
	return nil, nil
}

func (f *fakeAccessor) DownloadAttachment(ctx context.Context, id string) ([]byte, error) {
	return []byte("raw"), nil
}

func newCachedAccessor(t *testing.T, live content.Accessor, cfg *config.CacheConfig) *CachedAccessor {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := cache.NewRedisClient(&config.RedisConfig{
		URL:          mr.Addr(),
		DialTimeout:  time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	logger := zaptest.NewLogger(t)
	kv, err := cache.NewRedisCache(client, logger)
	require.NoError(t, err)

	contentCache := cache.NewContentCache(kv, time.Minute, logger)
	return NewCachedAccessor(live, contentCache, cfg, logger)
}

func TestCachedAccessor_ReadThrough(t *testing.T) {
	live := &fakeAccessor{
		spaces: []content.Space{{Key: "ENG", Name: "Engineering"}},
		pages: map[string][]content.Page{
			"ENG": {{ID: "p1", SpaceKey: "ENG", Title: "Runbook", Body: "text"}},
		},
	}
	a := newCachedAccessor(t, live, &config.CacheConfig{})
	ctx := context.Background()

	// First read goes live and warms the cache.
	spaces, err := a.ListSpaces(ctx)
	require.NoError(t, err)
	require.Len(t, spaces, 1)
	assert.Equal(t, int64(1), live.listCalls.Load())

	// Second read is served from cache.
	_, err = a.ListSpaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), live.listCalls.Load())

	pages, err := a.ListPages(ctx, "ENG")
	require.NoError(t, err)
	require.Len(t, pages, 1)

	_, err = a.ListPages(ctx, "ENG")
	require.NoError(t, err)
	assert.Equal(t, int64(1), live.pagesCalls.Load())
}

func TestCachedAccessor_GetSpaceFromWarmListing(t *testing.T) {
	live := &fakeAccessor{spaces: []content.Space{{Key: "HR", Name: "People"}}}
	a := newCachedAccessor(t, live, &config.CacheConfig{})
	ctx := context.Background()

	_, err := a.ListSpaces(ctx)
	require.NoError(t, err)

	space, err := a.GetSpace(ctx, "HR")
	require.NoError(t, err)
	assert.Equal(t, "People", space.Name)
	assert.Equal(t, int64(1), live.listCalls.Load())
}

func TestCachedAccessor_BackgroundRefresh(t *testing.T) {
	live := &fakeAccessor{
		spaces: []content.Space{{Key: "ENG"}},
		pages:  map[string][]content.Page{"ENG": {{ID: "p1", SpaceKey: "ENG"}}},
	}
	a := newCachedAccessor(t, live, &config.CacheConfig{
		InitialDelay:    10 * time.Millisecond,
		RefreshInterval: 20 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.Start(ctx)
	defer a.Stop()

	require.Eventually(t, func() bool {
		return live.listCalls.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond, "refresher should tick repeatedly")

	// Cache is warm, so a reader never hits the live client.
	before := live.pagesCalls.Load()
	pages, err := a.ListPages(ctx, "ENG")
	require.NoError(t, err)
	assert.Len(t, pages, 1)
	assert.Equal(t, before, live.pagesCalls.Load())
}

func TestCachedAccessor_StartStopIdempotent(t *testing.T) {
	a := newCachedAccessor(t, &fakeAccessor{}, &config.CacheConfig{
		InitialDelay:    time.Hour,
		RefreshInterval: time.Hour,
	})

	ctx := context.Background()
	a.Start(ctx)
	a.Start(ctx)
	a.Stop()
	a.Stop()
}
