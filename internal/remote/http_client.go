package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const defaultHTTPTimeout = 30 * time.Second

type HTTPOptions struct {
	// BaseURL is the object-store root; object paths are appended to it.
	BaseURL string
	// Token, when set, is sent as a bearer credential on every request.
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	UserAgent  string
}

// HTTPClient stores the document as a plain object behind GET and PUT.
// Works against S3-style stores and Supabase storage endpoints alike.
type HTTPClient struct {
	baseURL   string
	token     string
	userAgent string
	client    *http.Client
}

func NewHTTPClient(opts HTTPOptions) *HTTPClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "olx-scraper-sync/1.0"
	}
	return &HTTPClient{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		token:     opts.Token,
		userAgent: userAgent,
		client:    client,
	}
}

func (c *HTTPClient) Download(ctx context.Context, path string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, &Error{Kind: KindTransient, Path: path, Err: err}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransient, Path: path, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(path, resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindTransient, Path: path, Err: err}
	}
	return data, nil
}

func (c *HTTPClient) Upload(ctx context.Context, path string, data []byte, tag string) error {
	req, err := c.newRequest(ctx, http.MethodPut, path, bytes.NewReader(data))
	if err != nil {
		return &Error{Kind: KindTransient, Path: path, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if tag != "" {
		req.Header.Set("X-Upload-Tag", tag)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return &Error{Kind: KindTransient, Path: path, Err: err}
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return nil
	default:
		return statusError(path, resp)
	}
}

func (c *HTTPClient) Close() error { return nil }

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	url := c.baseURL + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// statusError maps an HTTP status onto the uniform error kinds. The body is
// drained before this is called; only the status drives classification.
func statusError(path string, resp *http.Response) error {
	err := fmt.Errorf("unexpected status %s", resp.Status)
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &Error{Kind: KindNotFound, Path: path, Err: ErrNotFound}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &Error{Kind: KindAuth, Path: path, Err: err}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimited, Path: path, RetryAfter: parseRetryAfter(resp), Err: err}
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusPreconditionFailed:
		return &Error{Kind: KindConflict, Path: path, Err: err}
	default:
		return &Error{Kind: KindTransient, Path: path, Err: err}
	}
}

func parseRetryAfter(resp *http.Response) time.Duration {
	value := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
