// Package notion reads and writes the question catalog kept in a Notion
// database: one page per question, sub-questions pointing at their parent.
package notion

import (
	"context"
	"net/http"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// DefaultRequestsPerSecond is the average rate Notion allows an integration.
const DefaultRequestsPerSecond = 3

// Client is what the catalog loader and publisher need from Notion: paging
// through question rows and creating one page per question.
type Client interface {
	QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
	CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error)
}

// ClientOption configures the catalog client.
type ClientOption func(*catalogClient)

// WithRateLimit replaces the default throttle. A non-positive rate disables
// throttling.
func WithRateLimit(rps float64) ClientOption {
	return func(c *catalogClient) {
		c.throttle = nil
		if rps > 0 {
			c.throttle = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// WithHTTPClient sends requests through hc.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *catalogClient) {
		c.api = append(c.api, notionapi.WithHTTPClient(hc))
	}
}

type catalogClient struct {
	api      []notionapi.ClientOption
	inner    *notionapi.Client
	throttle *rate.Limiter
}

// NewClient creates a catalog client for an integration token, throttled to
// DefaultRequestsPerSecond unless overridden.
func NewClient(token string, opts ...ClientOption) Client {
	c := &catalogClient{throttle: rate.NewLimiter(DefaultRequestsPerSecond, 1)}
	for _, opt := range opts {
		opt(c)
	}
	c.inner = notionapi.NewClient(notionapi.Token(token), c.api...)
	return c
}

func (c *catalogClient) wait(ctx context.Context, op string) error {
	if c.throttle == nil {
		return nil
	}
	return eris.Wrapf(c.throttle.Wait(ctx), "notion: %s throttled", op)
}

func (c *catalogClient) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	if err := c.wait(ctx, "query"); err != nil {
		return nil, err
	}
	resp, err := c.inner.Database.Query(ctx, notionapi.DatabaseID(dbID), req)
	if err != nil {
		return nil, eris.Wrapf(err, "notion: query question database %s", dbID)
	}
	return resp, nil
}

func (c *catalogClient) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	if err := c.wait(ctx, "create page"); err != nil {
		return nil, err
	}
	page, err := c.inner.Page.Create(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "notion: create question page")
	}
	return page, nil
}
