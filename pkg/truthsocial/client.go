package truthsocial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"tsscraper/pkg/config"
	errs "tsscraper/pkg/errors"
	"tsscraper/pkg/logger"
	"tsscraper/pkg/models"
)

// Client is a thin HTTP adapter for the account timeline API
type Client struct {
	httpClient     *http.Client
	headers        map[string]string
	baseURL        string
	requestTimeout time.Duration
	pageLimit      int
	logger         logger.Logger
}

// NewClient creates a new API client
func NewClient(cfg config.APIConfig, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = config.DefaultUserAgent
	}

	return &Client{
		// deadlines are set per request from requestTimeout
		httpClient: &http.Client{},
		headers: map[string]string{
			"Accept":     "application/json, text/plain, */*",
			"User-Agent": userAgent,
		},
		baseURL:        baseURL,
		requestTimeout: cfg.RequestTimeout,
		pageLimit:      cfg.PageLimit,
		logger:         log,
	}
}

// SetHTTPClient replaces the underlying HTTP client
func (c *Client) SetHTTPClient(httpClient *http.Client) {
	c.httpClient = httpClient
}

// get performs a GET with a per-request deadline and returns the body of
// a 2xx response. A missed deadline becomes a timeout error; cancellation
// of ctx itself is returned unchanged.
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	reqCtx := ctx
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrorTypeUnknown, 0, "failed to create request")
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	c.logger.DebugWithFields("sending HTTP request", map[string]interface{}{
		"method": req.Method,
		"url":    url,
	})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, reqCtx, url, err, time.Since(start))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transportError(ctx, reqCtx, url, err, time.Since(start))
	}

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"method":   req.Method,
		"url":      url,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	})

	if err := c.checkResponseStatus(url, resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) transportError(ctx, reqCtx context.Context, url string, err error, duration time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	fields := map[string]interface{}{
		"url":      url,
		"duration": duration,
	}
	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		c.logger.WithError(err).WarnWithFields("HTTP request timed out", fields)
		return errs.Wrap(err, errs.ErrorTypeTimeout, 0, fmt.Sprintf("request timed out after %s", c.requestTimeout))
	}

	c.logger.WithError(err).WarnWithFields("HTTP request failed", fields)
	return errs.Wrap(err, errs.ErrorTypeNetwork, 0, "network error")
}

// checkResponseStatus maps non-2xx responses to typed errors
func (c *Client) checkResponseStatus(url string, status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}

	apiErr := errs.FromStatus(status)
	if msg := gjson.GetBytes(body, "error").String(); msg != "" {
		apiErr.Message = fmt.Sprintf("%s: %s", apiErr.Message, msg)
	}

	c.logger.WarnWithFields("unexpected API status", map[string]interface{}{
		"status": status,
		"type":   string(apiErr.Type),
		"url":    url,
	})
	return apiErr
}

// LookupAccount resolves a handle to its account record. Any failure
// wraps errors.ErrLookupFailed.
func (c *Client) LookupAccount(ctx context.Context, handle string) (*Account, error) {
	url := GetLookupURL(c.baseURL, handle)

	body, err := c.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w for %q: %w", errs.ErrLookupFailed, handle, err)
	}

	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w for %q: invalid JSON response", errs.ErrLookupFailed, handle)
	}
	account := parseAccount(body)
	if account.ID == "" {
		return nil, fmt.Errorf("%w for %q: response carries no account id", errs.ErrLookupFailed, handle)
	}

	c.logger.InfoWithFields("Resolved account", map[string]interface{}{
		"handle":         handle,
		"account_id":     account.ID,
		"statuses_count": account.StatusesCount,
	})
	return &account, nil
}

// ResolveAccountID returns the configured account id, looking the handle
// up only when none is set.
func (c *Client) ResolveAccountID(ctx context.Context, target config.TargetConfig) (string, error) {
	if target.AccountID != "" {
		return target.AccountID, nil
	}
	account, err := c.LookupAccount(ctx, target.Handle)
	if err != nil {
		return "", err
	}
	return account.ID, nil
}

// FetchStatuses fetches one timeline page older than cursor
func (c *Client) FetchStatuses(ctx context.Context, accountID string, cursor models.Cursor) ([]models.Item, error) {
	url := GetStatusesURL(c.baseURL, accountID, cursor, c.pageLimit)

	body, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}

	items, err := ParsePage(body)
	if err != nil {
		preview := string(body)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		c.logger.WithError(err).ErrorWithFields("failed to parse timeline page", map[string]interface{}{
			"url":          url,
			"body_preview": preview,
		})
		return nil, err
	}
	return items, nil
}

// ParsePage decodes a timeline response: a JSON array of records that
// each carry an id. Anything else is errors.ErrMalformedPage.
func ParsePage(body []byte) ([]models.Item, error) {
	if !gjson.ValidBytes(body) {
		return nil, errs.Wrap(errs.ErrMalformedPage, errs.ErrorTypeParsing, 0, "response is not valid JSON")
	}

	result := gjson.ParseBytes(body)
	if !result.IsArray() {
		return nil, errs.Wrap(errs.ErrMalformedPage, errs.ErrorTypeParsing, 0, "response is not a JSON array")
	}

	items := make([]models.Item, 0, len(result.Array()))
	var parseErr error
	result.ForEach(func(_, value gjson.Result) bool {
		item, err := models.NewItem([]byte(value.Raw))
		if err != nil {
			parseErr = errs.Wrap(errs.ErrMalformedPage, errs.ErrorTypeParsing, 0,
				fmt.Sprintf("record %d: %v", len(items), err))
			return false
		}
		items = append(items, item)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return items, nil
}

// Timeline fetches pages of one account's statuses
type Timeline struct {
	client    *Client
	accountID string
}

// NewTimeline binds a client to an account id
func NewTimeline(client *Client, accountID string) *Timeline {
	return &Timeline{client: client, accountID: accountID}
}

// AccountID returns the bound account id
func (t *Timeline) AccountID() string {
	return t.accountID
}

// FetchPage fetches the page of statuses older than cursor
func (t *Timeline) FetchPage(ctx context.Context, cursor models.Cursor) ([]models.Item, error) {
	return t.client.FetchStatuses(ctx, t.accountID, cursor)
}
