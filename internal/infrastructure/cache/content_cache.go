package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wikiguard/pii-scan-backend/internal/domain/content"
)

// ContentCache stores content platform snapshots in Redis so repeated scans
// and the background refresher do not hammer the wiki API. Misses are
// signalled with ErrCacheKeyNotFound; callers fall through to the live
// client.
type ContentCache struct {
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewContentCache creates a content cache with the given snapshot TTL. A
// non-positive TTL falls back to SpaceCacheTTL.
func NewContentCache(cache Cache, ttl time.Duration, logger *zap.Logger) *ContentCache {
	if ttl <= 0 {
		ttl = SpaceCacheTTL
	}
	return &ContentCache{cache: cache, ttl: ttl, logger: logger}
}

// GetSpaces returns the cached space list.
func (c *ContentCache) GetSpaces(ctx context.Context) ([]content.Space, error) {
	var spaces []content.Space
	if err := c.cache.GetJSON(ctx, SpacesPrefix, &spaces); err != nil {
		return nil, err
	}
	return spaces, nil
}

// SetSpaces stores the space list snapshot.
func (c *ContentCache) SetSpaces(ctx context.Context, spaces []content.Space) error {
	return c.cache.SetJSON(ctx, SpacesPrefix, spaces, c.ttl)
}

// GetPages returns the cached page list of one space.
func (c *ContentCache) GetPages(ctx context.Context, spaceKey string) ([]content.Page, error) {
	var pages []content.Page
	if err := c.cache.GetJSON(ctx, PagesPrefix+spaceKey, &pages); err != nil {
		return nil, err
	}
	return pages, nil
}

// SetPages stores the page list snapshot of one space.
func (c *ContentCache) SetPages(ctx context.Context, spaceKey string, pages []content.Page) error {
	return c.cache.SetJSON(ctx, PagesPrefix+spaceKey, pages, c.ttl)
}

// GetPage returns one cached page body.
func (c *ContentCache) GetPage(ctx context.Context, pageID string) (*content.Page, error) {
	var page content.Page
	if err := c.cache.GetJSON(ctx, PageBodyPrefix+pageID, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// SetPage stores one page body. Bodies churn more than listings, so they get
// the shorter TTL.
func (c *ContentCache) SetPage(ctx context.Context, page *content.Page) error {
	return c.cache.SetJSON(ctx, PageBodyPrefix+page.ID, page, PageBodyTTL)
}

// GetAttachments returns the cached attachment list of one page.
func (c *ContentCache) GetAttachments(ctx context.Context, pageID string) ([]content.Attachment, error) {
	var atts []content.Attachment
	if err := c.cache.GetJSON(ctx, AttachPrefix+pageID, &atts); err != nil {
		return nil, err
	}
	return atts, nil
}

// SetAttachments stores the attachment list snapshot of one page.
func (c *ContentCache) SetAttachments(ctx context.Context, pageID string, atts []content.Attachment) error {
	return c.cache.SetJSON(ctx, AttachPrefix+pageID, atts, c.ttl)
}

// InvalidateSpace drops the cached page list of one space. Page bodies age
// out on their own TTL.
func (c *ContentCache) InvalidateSpace(ctx context.Context, spaceKey string) {
	if err := c.cache.Delete(ctx, PagesPrefix+spaceKey); err != nil {
		c.logger.Warn("failed to invalidate space cache",
			zap.String("space_key", spaceKey), zap.Error(err))
	}
}

// IsMiss reports whether err is a cache miss rather than a transport error.
func IsMiss(err error) bool {
	_, ok := err.(ErrCacheKeyNotFound)
	return ok
}
