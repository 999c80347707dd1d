// Package nibo implements the NIBO accounting API client. NIBO exposes an
// OData-style surface: pages are addressed with $top/$skip and must be
// ordered explicitly for the skip cursor to be stable.
package nibo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zykor/barsync/internal/domain"
	"github.com/zykor/barsync/internal/pkg/httpretry"
)

// Data types served by NIBO.
const (
	TypeSchedules = "schedules" // payable/receivable schedule entries
)

// Config holds NIBO API settings.
type Config struct {
	BaseURL        string
	OrganizationID string
	PageSize       int
	TimeoutSeconds int
}

// TokenProvider supplies the API token per call. Implementations must be
// safe for concurrent use.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenProvider returning a fixed value.
type StaticToken string

// Token implements TokenProvider.
func (s StaticToken) Token(context.Context) (string, error) { return string(s), nil }

// Client pages through NIBO collections.
type Client struct {
	baseURL    string
	orgID      string
	pageSize   int
	tokens     TokenProvider
	httpClient httpretry.HTTPDoer
}

// NewClient creates a NIBO client. minInterval spaces out vendor calls.
func NewClient(cfg Config, tokens TokenProvider, minInterval time.Duration) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		orgID:    cfg.OrganizationID,
		pageSize: pageSize,
		tokens:   tokens,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: timeout,
		}, 3).WithMinInterval(minInterval),
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing).
func (c *Client) SetHTTPClient(client httpretry.HTTPDoer) {
	c.httpClient = client
}

// FetchPage fetches one page of the given data type, filtered to the
// business date. The cursor is the $skip offset; a full page means there
// may be more.
func (c *Client) FetchPage(ctx context.Context, q domain.PageQuery) (domain.Page, error) {
	collection, ok := collections[q.DataType]
	if !ok {
		return domain.Page{}, fmt.Errorf("nibo: unsupported data type %q", q.DataType)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return domain.Page{}, fmt.Errorf("nibo token: %w", err)
	}

	params := url.Values{}
	params.Set("$top", strconv.Itoa(c.pageSize))
	params.Set("$skip", strconv.Itoa(q.Cursor))
	// Skip-based paging is only deterministic under a stable order.
	params.Set("$orderby", "id")
	params.Set("$filter", fmt.Sprintf("accrualDate eq %s", q.Date))

	u := fmt.Sprintf("%s/organizations/%s/%s?%s", c.baseURL, c.orgID, collection, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.Page{}, fmt.Errorf("nibo: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apitoken", token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Page{}, fmt.Errorf("%w: nibo %s: %v", domain.ErrVendorUnavailable, q.DataType, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Page{}, fmt.Errorf("%w: nibo %s: %v", domain.ErrVendorUnavailable, q.DataType, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.Page{}, fmt.Errorf("%w: nibo %s status %d", domain.ErrVendorUnavailable, q.DataType, resp.StatusCode)
	}

	var payload struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.Page{}, fmt.Errorf("%w: nibo %s response: %v", domain.ErrVendorUnavailable, q.DataType, err)
	}

	return domain.Page{
		Records:    payload.Items,
		NextCursor: q.Cursor + len(payload.Items),
		HasMore:    len(payload.Items) == c.pageSize,
	}, nil
}

// collections maps our data types onto NIBO collection paths.
var collections = map[string]string{
	TypeSchedules: "schedules",
}
