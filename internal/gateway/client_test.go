package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDoer struct {
	doFn func(*http.Request) (*http.Response, error)
	args []*http.Request
}

func (f *fakeDoer) Do(r *http.Request) (*http.Response, error) {
	f.args = append(f.args, r)
	return f.doFn(r)
}

func stubResp(status int, contentType, body string) *http.Response {
	h := make(http.Header)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	return &http.Response{
		StatusCode: status,
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestClientCallSendsHeadersAndJSONBody(t *testing.T) {
	var gotBody map[string]any
	fd := &fakeDoer{doFn: func(r *http.Request) (*http.Response, error) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		return stubResp(http.StatusCreated, "application/json; charset=utf-8", `{"id":"diku"}`), nil
	}}
	c, err := New("http://okapi:9130/", withDoer(fd))
	require.NoError(t, err)

	resp, err := c.Post(context.Background(), "/_/proxy/tenants", map[string]string{"id": "diku"}, Headers("diku", "tok"))
	require.NoError(t, err)

	require.Len(t, fd.args, 1)
	req := fd.args[0]
	assert.Equal(t, "http://okapi:9130/_/proxy/tenants", req.URL.String())
	assert.Equal(t, "diku", req.Header.Get(HeaderTenant))
	assert.Equal(t, "tok", req.Header.Get(HeaderToken))
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, "diku", gotBody["id"])

	assert.True(t, resp.JSON)
	var out struct {
		ID string `json:"id"`
	}
	require.NoError(t, resp.Decode(&out))
	assert.Equal(t, "diku", out.ID)
}

func TestClientDefaultHeadersYieldToCallHeaders(t *testing.T) {
	fd := &fakeDoer{doFn: func(r *http.Request) (*http.Response, error) {
		return stubResp(http.StatusOK, "application/json", `{}`), nil
	}}
	c, err := New("http://okapi:9130", withDoer(fd),
		WithHeader("User-Agent", "autoconfig/test"),
		WithHeader(HeaderTenant, "supertenant"),
	)
	require.NoError(t, err)

	_, err = c.Get(context.Background(), "/_/proxy/modules", nil)
	require.NoError(t, err)
	_, err = c.Get(context.Background(), "/users", Headers("diku", ""))
	require.NoError(t, err)

	require.Len(t, fd.args, 2)
	assert.Equal(t, "autoconfig/test", fd.args[0].Header.Get("User-Agent"))
	assert.Equal(t, "supertenant", fd.args[0].Header.Get(HeaderTenant))
	assert.Equal(t, "autoconfig/test", fd.args[1].Header.Get("User-Agent"))
	assert.Equal(t, []string{"diku"}, fd.args[1].Header.Values(HeaderTenant))
}

func TestClientCallRawBodyIsSentVerbatim(t *testing.T) {
	raw := json.RawMessage(`{"id":"mod-users-1.0","provides":[]}`)
	fd := &fakeDoer{doFn: func(r *http.Request) (*http.Response, error) {
		b, _ := io.ReadAll(r.Body)
		assert.Equal(t, string(raw), string(b))
		return stubResp(http.StatusCreated, "text/plain", "created"), nil
	}}
	c, err := New("http://okapi:9130", withDoer(fd))
	require.NoError(t, err)

	resp, err := c.Post(context.Background(), "/_/proxy/modules", raw, nil)
	require.NoError(t, err)
	assert.False(t, resp.JSON)
	assert.Equal(t, "created", string(resp.Body))
}

func TestClientCallNoBodyOmitsContentType(t *testing.T) {
	fd := &fakeDoer{doFn: func(r *http.Request) (*http.Response, error) {
		return stubResp(http.StatusNoContent, "", ""), nil
	}}
	c, err := New("http://okapi:9130", withDoer(fd))
	require.NoError(t, err)

	_, err = c.Delete(context.Background(), "users/abc", nil)
	require.NoError(t, err)
	require.Len(t, fd.args, 1)
	assert.Equal(t, "/users/abc", fd.args[0].URL.Path)
	assert.Empty(t, fd.args[0].Header.Get("Content-Type"))
	assert.Empty(t, fd.args[0].Header.Get(HeaderTenant))
}

func TestClientCallNon2xxIsTypedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte("  invalid campus  \n"))
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	_, err = c.Post(context.Background(), "/location-units/campuses", map[string]string{}, Headers("diku", ""))
	require.Error(t, err)

	var gerr *Error
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, http.StatusUnprocessableEntity, gerr.Status)
	assert.Equal(t, "invalid campus", gerr.Message)
	assert.Equal(t, http.MethodPost, gerr.Method)
	assert.Equal(t, http.StatusUnprocessableEntity, StatusOf(err))
	assert.False(t, IsNotFound(err))
	assert.False(t, IsTransport(err))
}

func TestClientCallTransportFailure(t *testing.T) {
	boom := errors.New("connection refused")
	fd := &fakeDoer{doFn: func(r *http.Request) (*http.Response, error) { return nil, boom }}
	c, err := New("http://okapi:9130", withDoer(fd))
	require.NoError(t, err)

	_, err = c.Get(context.Background(), "/_/proxy/modules", nil)
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, StatusOf(err))
}

func TestNewRejectsBadAddress(t *testing.T) {
	for _, addr := range []string{"", "okapi:9130", "ftp://okapi", "http://"} {
		_, err := New(addr)
		assert.Error(t, err, addr)
	}
}

func TestQueryEncodesValues(t *testing.T) {
	got := Query("/authn/credentials", url.Values{"query": {"userId==abc"}})
	assert.Equal(t, "/authn/credentials?query=userId%3D%3Dabc", got)
	assert.Equal(t, "/users", Query("/users", nil))
}

func TestWithRateLimitThrottles(t *testing.T) {
	fd := &fakeDoer{doFn: func(r *http.Request) (*http.Response, error) {
		return stubResp(http.StatusOK, "application/json", `[]`), nil
	}}
	c, err := New("http://okapi:9130", withDoer(fd), WithRateLimit(1000, 1))
	require.NoError(t, err)
	require.NotNil(t, c.limiter)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Get(ctx, "/_/proxy/modules", nil)
	require.Error(t, err)
	assert.Empty(t, fd.args)
}
