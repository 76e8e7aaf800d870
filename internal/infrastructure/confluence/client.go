// Package confluence reaches the content platform over its REST API and
// layers a redis-backed read-through cache with background refresh on top.
package confluence

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wikiguard/pii-scan-backend/internal/domain/content"
	"github.com/wikiguard/pii-scan-backend/internal/domain/errors"
	"github.com/wikiguard/pii-scan-backend/internal/infrastructure/config"
)

const defaultPageLimit = 100

// Client talks to the wiki REST API. All requests pass through a shared
// rate limiter so scans cannot starve interactive users of the wiki.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient builds the API client from config.
func NewClient(cfg *config.ConfluenceConfig, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.NewConfigError("confluence base URL is required")
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger,
	}, nil
}

type spaceResult struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

type pageResult struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Space struct {
		Key string `json:"key"`
	} `json:"space"`
	Body struct {
		Storage struct {
			Value string `json:"value"`
		} `json:"storage"`
	} `json:"body"`
	Version struct {
		When time.Time `json:"when"`
	} `json:"version"`
}

type attachmentResult struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Metadata struct {
		MediaType string `json:"mediaType"`
	} `json:"metadata"`
	Extensions struct {
		FileSize int64 `json:"fileSize"`
	} `json:"extensions"`
	Links struct {
		Download string `json:"download"`
	} `json:"_links"`
}

type pagedResponse[T any] struct {
	Results []T `json:"results"`
	Size    int `json:"size"`
	Limit   int `json:"limit"`
	Start   int `json:"start"`
}

// ListSpaces enumerates all spaces.
func (c *Client) ListSpaces(ctx context.Context) ([]content.Space, error) {
	var spaces []content.Space
	err := c.paginate(ctx, "/rest/api/space", nil, func(body []byte) (int, error) {
		var page pagedResponse[spaceResult]
		if err := json.Unmarshal(body, &page); err != nil {
			return 0, errors.NewExternalError("confluence", "malformed space listing").WithCause(err)
		}
		for _, s := range page.Results {
			spaces = append(spaces, content.Space{Key: s.Key, Name: s.Name})
		}
		return len(page.Results), nil
	})
	if err != nil {
		return nil, err
	}
	return spaces, nil
}

// GetSpace fetches one space by key.
func (c *Client) GetSpace(ctx context.Context, key string) (*content.Space, error) {
	body, err := c.get(ctx, "/rest/api/space/"+url.PathEscape(key), nil)
	if err != nil {
		return nil, err
	}
	var s spaceResult
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, errors.NewExternalError("confluence", "malformed space").WithCause(err)
	}
	return &content.Space{Key: s.Key, Name: s.Name}, nil
}

// ListPages fetches every page of a space with its storage-format body.
func (c *Client) ListPages(ctx context.Context, spaceKey string) ([]content.Page, error) {
	params := url.Values{
		"spaceKey": {spaceKey},
		"type":     {"page"},
		"expand":   {"body.storage,version,space"},
	}
	var pages []content.Page
	err := c.paginate(ctx, "/rest/api/content", params, func(body []byte) (int, error) {
		var page pagedResponse[pageResult]
		if err := json.Unmarshal(body, &page); err != nil {
			return 0, errors.NewExternalError("confluence", "malformed page listing").WithCause(err)
		}
		for _, p := range page.Results {
			pages = append(pages, toPage(p, spaceKey))
		}
		return len(page.Results), nil
	})
	if err != nil {
		return nil, err
	}
	return pages, nil
}

// GetPage fetches one page by ID.
func (c *Client) GetPage(ctx context.Context, id string) (*content.Page, error) {
	params := url.Values{"expand": {"body.storage,version,space"}}
	body, err := c.get(ctx, "/rest/api/content/"+url.PathEscape(id), params)
	if err != nil {
		return nil, err
	}
	var p pageResult
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, errors.NewExternalError("confluence", "malformed page").WithCause(err)
	}
	page := toPage(p, p.Space.Key)
	return &page, nil
}

// ListAttachments fetches the attachment metadata of a page.
func (c *Client) ListAttachments(ctx context.Context, pageID string) ([]content.Attachment, error) {
	var atts []content.Attachment
	path := "/rest/api/content/" + url.PathEscape(pageID) + "/child/attachment"
	err := c.paginate(ctx, path, nil, func(body []byte) (int, error) {
		var page pagedResponse[attachmentResult]
		if err := json.Unmarshal(body, &page); err != nil {
			return 0, errors.NewExternalError("confluence", "malformed attachment listing").WithCause(err)
		}
		for _, a := range page.Results {
			atts = append(atts, content.Attachment{
				ID:        a.ID,
				PageID:    pageID,
				Name:      a.Title,
				MediaType: a.Metadata.MediaType,
				SizeBytes: a.Extensions.FileSize,
			})
		}
		return len(page.Results), nil
	})
	if err != nil {
		return nil, err
	}
	return atts, nil
}

// DownloadAttachment returns the raw bytes of an attachment.
func (c *Client) DownloadAttachment(ctx context.Context, id string) ([]byte, error) {
	return c.get(ctx, "/rest/api/content/"+url.PathEscape(id)+"/download", nil)
}

func toPage(p pageResult, spaceKey string) content.Page {
	if p.Space.Key != "" {
		spaceKey = p.Space.Key
	}
	return content.Page{
		ID:        p.ID,
		SpaceKey:  spaceKey,
		Title:     p.Title,
		Body:      p.Body.Storage.Value,
		UpdatedAt: p.Version.When,
	}
}

func (c *Client) paginate(ctx context.Context, path string, params url.Values, consume func([]byte) (int, error)) error {
	start := 0
	for {
		q := url.Values{}
		for k, v := range params {
			q[k] = v
		}
		q.Set("limit", strconv.Itoa(defaultPageLimit))
		q.Set("start", strconv.Itoa(start))

		body, err := c.get(ctx, path, q)
		if err != nil {
			return err
		}
		n, err := consume(body)
		if err != nil {
			return err
		}
		if n < defaultPageLimit {
			return nil
		}
		start += n
	}
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.NewCancelledError("confluence request")
	}

	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.NewInternalError("failed to build confluence request").WithCause(err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() == context.Canceled {
			return nil, errors.NewCancelledError("confluence request")
		}
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.NewTimeoutError("confluence request")
		}
		return nil, errors.NewTransientError("confluence", "request failed").WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewTransientError("confluence", "failed to read response").WithCause(err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.NewNotFoundError("wiki resource " + path)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errors.NewExternalError("confluence",
			fmt.Sprintf("access denied (status %d)", resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, errors.NewTransientError("confluence",
			fmt.Sprintf("upstream returned status %d", resp.StatusCode))
	default:
		return nil, errors.NewExternalError("confluence",
			fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}
}

var _ content.Accessor = (*Client)(nil)
