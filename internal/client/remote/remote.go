// Package remote is the HTTP transport shared by the client packages. It calls
// the platform server's table, storage and identity endpoints with a bearer
// token and maps error responses back onto apperror sentinels.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/melotech/melotech/internal/apperror"
)

// TokenFunc returns the caller's current access token. It should return an
// apperror.ErrUnauthenticated error when nobody is signed in.
type TokenFunc func(ctx context.Context) (string, error)

// ErrorBody is the server's error response shape.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field"`
}

// Client wraps a resty client bound to one server.
type Client struct {
	http    *resty.Client
	baseURL string
	token   TokenFunc
}

type options struct {
	httpClient *http.Client
	timeout    time.Duration
}

type Option func(*options)

// WithHTTPClient replaces the underlying *http.Client, e.g. httptest's.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// New creates a client for baseURL. token may be nil for anonymous calls.
func New(baseURL string, token TokenFunc, opts ...Option) *Client {
	o := options{timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	rc := resty.New()
	if o.httpClient != nil {
		rc = resty.NewWithClient(o.httpClient)
	}
	base := strings.TrimRight(baseURL, "/")
	rc.SetBaseURL(base).SetTimeout(o.timeout)

	return &Client{http: rc, baseURL: base, token: token}
}

// BaseURL is the server root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Absolute prefixes server-relative URLs with the base URL.
func (c *Client) Absolute(u string) string {
	if strings.HasPrefix(u, "/") {
		return c.baseURL + u
	}
	return u
}

func (c *Client) request(ctx context.Context) (*resty.Request, error) {
	req := c.http.R().SetContext(ctx).SetError(&ErrorBody{})
	if c.token != nil {
		tok, err := c.token(ctx)
		if err != nil {
			return nil, err
		}
		req.SetAuthToken(tok)
	}
	return req, nil
}

// Get decodes the JSON response of GET path?query into out, which may be nil.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	req, err := c.request(ctx)
	if err != nil {
		return err
	}
	req.SetQueryParamsFromValues(query)
	if out != nil {
		req.SetResult(out)
	}
	return c.do(req, http.MethodGet, path)
}

// Post sends body as JSON. out may be nil.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	req, err := c.request(ctx)
	if err != nil {
		return err
	}
	req.SetBody(body)
	if out != nil {
		req.SetResult(out)
	}
	return c.do(req, http.MethodPost, path)
}

// Patch sends body as JSON to path?query. out may be nil.
func (c *Client) Patch(ctx context.Context, path string, query url.Values, body, out any) error {
	req, err := c.request(ctx)
	if err != nil {
		return err
	}
	req.SetQueryParamsFromValues(query).SetBody(body)
	if out != nil {
		req.SetResult(out)
	}
	return c.do(req, http.MethodPatch, path)
}

// Put streams body to path with the given content type.
func (c *Client) Put(ctx context.Context, path string, body io.Reader, contentType string) error {
	req, err := c.request(ctx)
	if err != nil {
		return err
	}
	req.SetHeader("Content-Type", contentType).SetBody(body)
	return c.do(req, http.MethodPut, path)
}

func (c *Client) do(req *resty.Request, method, path string) error {
	resp, err := req.Execute(method, path)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return apperror.Remote(fmt.Sprintf("%s %s", method, path), err)
	}
	if resp.IsError() {
		return responseError(resp)
	}
	return nil
}

// responseError maps a status code to the matching sentinel.
func responseError(resp *resty.Response) error {
	msg := resp.Status()
	field := ""
	if body, ok := resp.Error().(*ErrorBody); ok && body.Message != "" {
		msg = body.Message
		field = body.Field
	}

	switch resp.StatusCode() {
	case http.StatusBadRequest:
		return apperror.ValidationFailed(field, msg)
	case http.StatusUnauthorized:
		return apperror.Unauthenticated(msg)
	case http.StatusForbidden:
		return apperror.Forbidden(msg)
	case http.StatusNotFound:
		return &apperror.AppError{Err: apperror.ErrNotFound, Message: msg}
	case http.StatusConflict:
		return &apperror.AppError{Err: apperror.ErrConflict, Message: msg}
	default:
		return apperror.Remote(msg, fmt.Errorf("status %d", resp.StatusCode()))
	}
}
