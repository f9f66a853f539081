// Package gateway talks to the Okapi management API. The client keeps no
// state between calls; tenant and token travel with every request.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"autoconfig.org/internal/obs"
)

const (
	HeaderTenant = "X-Okapi-Tenant"
	HeaderToken  = "X-Okapi-Token"

	headerContentType = "Content-Type"
	headerAccept      = "Accept"

	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4 << 10
)

type doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client issues calls against one gateway base URL.
type Client struct {
	base    *url.URL
	doer    doer
	headers http.Header
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New creates a client for the gateway at addr, e.g. http://localhost:9130.
func New(addr string, opts ...ClientOptFn) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(addr), "/"))
	if err != nil {
		return nil, fmt.Errorf("gateway: parse address: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("gateway: unsupported scheme %q in %q", u.Scheme, addr)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("gateway: missing host in %q", addr)
	}

	opt := clientOpt{timeout: defaultTimeout}
	for _, o := range opts {
		if err := o(&opt); err != nil {
			return nil, err
		}
	}
	if opt.doer == nil {
		opt.doer = defaultHTTPClient(opt.timeout)
	}
	if opt.logger == nil {
		opt.logger = obs.Logger()
	}
	return &Client{
		base:    u,
		doer:    opt.doer,
		headers: opt.headers,
		limiter: opt.limiter,
		logger:  opt.logger,
	}, nil
}

// BaseURL returns the gateway address the client was created with.
func (c *Client) BaseURL() string { return c.base.String() }

// Headers builds the per-call headers for a tenant context. Either value may be empty.
func Headers(tenant, token string) http.Header {
	h := make(http.Header)
	if tenant != "" {
		h.Set(HeaderTenant, tenant)
	}
	if token != "" {
		h.Set(HeaderToken, token)
	}
	return h
}

// Response is a successful gateway reply.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	// JSON reports whether the gateway labelled the body as JSON.
	JSON bool
}

// Decode unmarshals a JSON body into v.
func (r *Response) Decode(v any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return fmt.Errorf("gateway: empty response body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("gateway: decode response: %w", err)
	}
	return nil
}

// Call performs one request. body is JSON-encoded unless it is already
// []byte or json.RawMessage. Any non-2xx status or transport failure is
// returned as *Error.
func (c *Client) Call(ctx context.Context, method, path string, body any, headers http.Header) (*Response, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	var payload io.Reader
	if body != nil {
		raw, err := encodeBody(body)
		if err != nil {
			return nil, &Error{Method: method, Path: path, Message: err.Error(), Err: err}
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, payload)
	if err != nil {
		return nil, &Error{Method: method, Path: path, Message: err.Error(), Err: err}
	}
	for k, vals := range c.headers {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	for k, vals := range headers {
		req.Header.Del(k)
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set(headerContentType, "application/json")
	}
	req.Header.Set(headerAccept, "application/json, text/plain")

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &Error{Method: method, Path: path, Message: err.Error(), Err: err}
		}
	}

	start := time.Now()
	resp, err := c.doer.Do(req)
	if err != nil {
		c.logger.Debug("gateway call failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return nil, &Error{Method: method, Path: path, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Method: method, Path: path, Status: resp.StatusCode, Message: "read body: " + err.Error(), Err: err}
	}
	c.logger.Debug("gateway call",
		zap.String("method", method),
		zap.String("path", path),
		zap.String("tenant", req.Header.Get(HeaderTenant)),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Method: method, Path: path, Status: resp.StatusCode, Message: errorMessage(data)}
	}
	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   data,
		JSON:   strings.Contains(strings.ToLower(resp.Header.Get(headerContentType)), "json"),
	}, nil
}

// Get is Call with GET and no body.
func (c *Client) Get(ctx context.Context, path string, headers http.Header) (*Response, error) {
	return c.Call(ctx, http.MethodGet, path, nil, headers)
}

// Post is Call with POST.
func (c *Client) Post(ctx context.Context, path string, body any, headers http.Header) (*Response, error) {
	return c.Call(ctx, http.MethodPost, path, body, headers)
}

// Put is Call with PUT.
func (c *Client) Put(ctx context.Context, path string, body any, headers http.Header) (*Response, error) {
	return c.Call(ctx, http.MethodPut, path, body, headers)
}

// Delete is Call with DELETE and no body.
func (c *Client) Delete(ctx context.Context, path string, headers http.Header) (*Response, error) {
	return c.Call(ctx, http.MethodDelete, path, nil, headers)
}

// PathEscape escapes a single path segment.
func PathEscape(seg string) string { return url.PathEscape(seg) }

// Query builds "path?k=v" with the values encoded.
func Query(path string, values url.Values) string {
	if len(values) == 0 {
		return path
	}
	return path + "?" + values.Encode()
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case json.RawMessage:
		return b, nil
	case []byte:
		return b, nil
	default:
		return json.Marshal(body)
	}
}

func errorMessage(body []byte) string {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return strings.TrimSpace(string(body))
}
