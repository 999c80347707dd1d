package contahub

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/zykor/barsync/internal/domain"
	"github.com/zykor/barsync/internal/pkg/httpretry"
	"github.com/zykor/barsync/internal/pkg/logger"
)

// Client is the ContaHub POS analytics client. ContaHub authenticates with
// a session cookie obtained from a login call; the client logs in lazily
// and re-logs-in once when the session is rejected.
type Client struct {
	baseURL    string
	creds      CredentialsProvider
	httpClient httpretry.HTTPDoer

	mu      sync.Mutex
	session string // session cookies from the last login
	company string // vendor company ID from credentials
}

// NewClient creates a ContaHub client. minInterval spaces out vendor calls;
// ContaHub throttles aggressively on report queries.
func NewClient(cfg Config, creds CredentialsProvider, minInterval time.Duration) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		creds:   creds,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: timeout,
		}, 3).WithMinInterval(minInterval),
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing).
func (c *Client) SetHTTPClient(client httpretry.HTTPDoer) {
	c.httpClient = client
}

// FetchPage fetches one business date of the given data type. ContaHub
// report queries return the whole day in one response, so there is never a
// next page.
func (c *Client) FetchPage(ctx context.Context, q domain.PageQuery) (domain.Page, error) {
	qry, ok := queryIDs[q.DataType]
	if !ok {
		return domain.Page{}, fmt.Errorf("contahub: unsupported data type %q", q.DataType)
	}

	body, err := c.query(ctx, qry, q.DataType, q.Date)
	if err != nil {
		return domain.Page{}, err
	}

	var payload struct {
		List []json.RawMessage `json:"list"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.Page{}, fmt.Errorf("%w: contahub %s response: %v", domain.ErrVendorUnavailable, q.DataType, err)
	}

	return domain.Page{Records: payload.List, HasMore: false}, nil
}

// query runs one report query, logging in first when there is no session
// and retrying once on a rejected session.
func (c *Client) query(ctx context.Context, qry, dataType, date string) ([]byte, error) {
	for attempt := 0; attempt < 2; attempt++ {
		session, company, err := c.ensureSession(ctx, attempt > 0)
		if err != nil {
			return nil, err
		}

		u := fmt.Sprintf("%s/rest/contahub.cmds.QueryCmd/execQuery/%s?%s",
			c.baseURL, dynamicTimestamp(), c.queryParams(qry, dataType, date, company))

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, fmt.Errorf("contahub: build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Cookie", session)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: contahub %s: %v", domain.ErrVendorUnavailable, dataType, err)
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("%w: contahub %s: %v", domain.ErrVendorUnavailable, dataType, readErr)
		}

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			logger.Warn("contahub session rejected, re-authenticating", "data_type", dataType)
			c.dropSession()
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("%w: contahub %s status %d", domain.ErrVendorUnavailable, dataType, resp.StatusCode)
		}
		return body, nil
	}
	return nil, fmt.Errorf("%w: contahub session could not be established", domain.ErrVendorUnavailable)
}

func (c *Client) queryParams(qry, dataType, date, company string) string {
	params := url.Values{}
	params.Set("qry", qry)
	params.Set("d0", date)
	params.Set("d1", date)
	for _, p := range extraParams[dataType] {
		params.Set(p, "")
	}
	params.Set("emp", company)
	params.Set("nfe", "1")
	return params.Encode()
}

// ensureSession returns the current session cookie, logging in when there
// is none or when force is set.
func (c *Client) ensureSession(ctx context.Context, force bool) (session, company string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != "" && !force {
		return c.session, c.company, nil
	}

	creds, err := c.creds.Credentials(ctx)
	if err != nil {
		return "", "", fmt.Errorf("contahub credentials: %w", err)
	}

	// ContaHub takes the SHA-1 of the password, not the password itself.
	sum := sha1.Sum([]byte(creds.Password))
	form := url.Values{}
	form.Set("usr_email", creds.Email)
	form.Set("usr_password_sha1", hex.EncodeToString(sum[:]))

	loginURL := fmt.Sprintf("%s/rest/contahub.cmds.UsuarioCmd/login/%s?emp=0", c.baseURL, dynamicTimestamp())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", "", fmt.Errorf("contahub: build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("%w: contahub login: %v", domain.ErrVendorUnavailable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", "", fmt.Errorf("%w: contahub login status %d", domain.ErrVendorUnavailable, resp.StatusCode)
	}

	cookies := resp.Header.Values("Set-Cookie")
	if len(cookies) == 0 {
		return "", "", fmt.Errorf("%w: contahub login returned no session cookie", domain.ErrVendorUnavailable)
	}

	var parts []string
	for _, ck := range cookies {
		if i := strings.IndexByte(ck, ';'); i >= 0 {
			ck = ck[:i]
		}
		parts = append(parts, ck)
	}
	c.session = strings.Join(parts, "; ")
	c.company = creds.CompanyID
	logger.Info("contahub session established", "company", c.company)
	return c.session, c.company, nil
}

func (c *Client) dropSession() {
	c.mu.Lock()
	c.session = ""
	c.mu.Unlock()
}

// dynamicTimestamp builds the per-request timestamp path segment ContaHub
// expects on command URLs.
func dynamicTimestamp() string {
	now := time.Now()
	return now.Format("20060102150405") + fmt.Sprintf("%03d", now.Nanosecond()/1e6)
}
