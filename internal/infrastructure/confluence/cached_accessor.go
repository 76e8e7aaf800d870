package confluence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wikiguard/pii-scan-backend/internal/domain/content"
	"github.com/wikiguard/pii-scan-backend/internal/infrastructure/cache"
	"github.com/wikiguard/pii-scan-backend/internal/infrastructure/config"
)

// CachedAccessor is a read-through cache in front of the live API client.
// A background refresher re-warms the space and page listings on a ticker so
// scan startup does not pay the full enumeration cost. Cache failures never
// fail a read; they fall through to the live client.
type CachedAccessor struct {
	live    content.Accessor
	cache   *cache.ContentCache
	logger  *zap.Logger
	initial time.Duration
	every   time.Duration

	mu      sync.Mutex
	stop    chan struct{}
	stopped chan struct{}
}

// NewCachedAccessor wraps the live accessor with the content cache.
func NewCachedAccessor(live content.Accessor, contentCache *cache.ContentCache, cfg *config.CacheConfig, logger *zap.Logger) *CachedAccessor {
	initial := cfg.InitialDelay
	if initial < 0 {
		initial = 0
	}
	every := cfg.RefreshInterval
	if every <= 0 {
		every = 15 * time.Minute
	}
	return &CachedAccessor{
		live:    live,
		cache:   contentCache,
		logger:  logger,
		initial: initial,
		every:   every,
	}
}

// ListSpaces serves from cache, falling back to the live client and warming
// the cache on a miss.
func (a *CachedAccessor) ListSpaces(ctx context.Context) ([]content.Space, error) {
	if spaces, err := a.cache.GetSpaces(ctx); err == nil {
		return spaces, nil
	} else if !cache.IsMiss(err) {
		a.logger.Warn("space cache read failed", zap.Error(err))
	}

	spaces, err := a.live.ListSpaces(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.cache.SetSpaces(ctx, spaces); err != nil {
		a.logger.Warn("space cache write failed", zap.Error(err))
	}
	return spaces, nil
}

// GetSpace resolves one space, via the cached listing when warm.
func (a *CachedAccessor) GetSpace(ctx context.Context, key string) (*content.Space, error) {
	if spaces, err := a.cache.GetSpaces(ctx); err == nil {
		for i := range spaces {
			if spaces[i].Key == key {
				return &spaces[i], nil
			}
		}
	}
	return a.live.GetSpace(ctx, key)
}

// ListPages serves the page list of a space from cache when warm.
func (a *CachedAccessor) ListPages(ctx context.Context, spaceKey string) ([]content.Page, error) {
	if pages, err := a.cache.GetPages(ctx, spaceKey); err == nil {
		return pages, nil
	} else if !cache.IsMiss(err) {
		a.logger.Warn("page cache read failed",
			zap.String("space_key", spaceKey), zap.Error(err))
	}

	pages, err := a.live.ListPages(ctx, spaceKey)
	if err != nil {
		return nil, err
	}
	if err := a.cache.SetPages(ctx, spaceKey, pages); err != nil {
		a.logger.Warn("page cache write failed",
			zap.String("space_key", spaceKey), zap.Error(err))
	}
	return pages, nil
}

// GetPage serves one page body from cache when warm.
func (a *CachedAccessor) GetPage(ctx context.Context, id string) (*content.Page, error) {
	if page, err := a.cache.GetPage(ctx, id); err == nil {
		return page, nil
	}

	page, err := a.live.GetPage(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := a.cache.SetPage(ctx, page); err != nil {
		a.logger.Warn("page body cache write failed",
			zap.String("page_id", id), zap.Error(err))
	}
	return page, nil
}

// ListAttachments serves attachment metadata from cache when warm.
func (a *CachedAccessor) ListAttachments(ctx context.Context, pageID string) ([]content.Attachment, error) {
	if atts, err := a.cache.GetAttachments(ctx, pageID); err == nil {
		return atts, nil
	}

	atts, err := a.live.ListAttachments(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if err := a.cache.SetAttachments(ctx, pageID, atts); err != nil {
		a.logger.Warn("attachment cache write failed",
			zap.String("page_id", pageID), zap.Error(err))
	}
	return atts, nil
}

// DownloadAttachment always hits the live client; binaries are not cached.
func (a *CachedAccessor) DownloadAttachment(ctx context.Context, id string) ([]byte, error) {
	return a.live.DownloadAttachment(ctx, id)
}

// Start launches the background refresher. The first refresh runs after the
// initial delay, then on every interval tick. Idempotent.
func (a *CachedAccessor) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stop != nil {
		return
	}
	a.stop = make(chan struct{})
	a.stopped = make(chan struct{})
	go a.refreshLoop(ctx, a.stop, a.stopped)
}

// Stop halts the background refresher and waits for it to exit.
func (a *CachedAccessor) Stop() {
	a.mu.Lock()
	stop, stopped := a.stop, a.stopped
	a.stop, a.stopped = nil, nil
	a.mu.Unlock()

	if stop != nil {
		close(stop)
		<-stopped
	}
}

func (a *CachedAccessor) refreshLoop(ctx context.Context, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	delay := time.NewTimer(a.initial)
	defer delay.Stop()
	select {
	case <-delay.C:
	case <-stop:
		return
	case <-ctx.Done():
		return
	}

	a.refresh(ctx)

	ticker := time.NewTicker(a.every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.refresh(ctx)
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// refresh re-warms the space listing and every space's page list. Failures
// are logged and retried on the next tick.
func (a *CachedAccessor) refresh(ctx context.Context) {
	spaces, err := a.live.ListSpaces(ctx)
	if err != nil {
		a.logger.Warn("content cache refresh failed", zap.Error(err))
		return
	}
	if err := a.cache.SetSpaces(ctx, spaces); err != nil {
		a.logger.Warn("space cache write failed during refresh", zap.Error(err))
	}

	for _, space := range spaces {
		pages, err := a.live.ListPages(ctx, space.Key)
		if err != nil {
			a.logger.Warn("page refresh failed",
				zap.String("space_key", space.Key), zap.Error(err))
			continue
		}
		if err := a.cache.SetPages(ctx, space.Key, pages); err != nil {
			a.logger.Warn("page cache write failed during refresh",
				zap.String("space_key", space.Key), zap.Error(err))
		}
	}

	a.logger.Debug("content cache refreshed", zap.Int("spaces", len(spaces)))
}

var _ content.Accessor = (*CachedAccessor)(nil)
