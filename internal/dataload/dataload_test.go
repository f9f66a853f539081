package dataload

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"autoconfig.org/internal/gateway"
	"autoconfig.org/internal/gateway/gatewaytest"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for rel, body := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
	return dir
}

func rels(tasks []Task) []string {
	out := make([]string, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, task.Rel)
	}
	return out
}

func TestParseSortPatterns(t *testing.T) {
	got := ParseSortPatterns(" location-units/institutions, location-units/campuses/ ,,location-units/institutions")
	assert.Equal(t, []string{"location-units/institutions", "location-units/campuses"}, got)
	assert.Nil(t, ParseSortPatterns(""))
}

func TestParseMethodOverrides(t *testing.T) {
	got, err := ParseMethodOverrides("loan-rules-storage=put, locations=PUT")
	require.NoError(t, err)
	assert.Equal(t, []MethodOverride{
		{Pattern: "loan-rules-storage", Method: http.MethodPut},
		{Pattern: "locations", Method: http.MethodPut},
	}, got)

	for _, bad := range []string{"locations", "=PUT", "locations=DELETE", "[a=PUT"} {
		_, err := ParseMethodOverrides(bad)
		assert.ErrorIs(t, err, ErrInvalidPattern, bad)
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		pattern, rel string
		want         bool
	}{
		{"a", "a/1.json", true},
		{"a", "ab/1.json", false},
		{"location-units", "location-units/campuses/1.json", true},
		{"location-units/campuses", "location-units/campuses/1.json", true},
		{"loan-rules-storage", "loan-rules-storage.json", true},
		{"*/campuses", "location-units/campuses/1.json", true},
		{"a/*.json", "a/1.json", true},
		{"b*", "a/1.json", false},
	}
	for _, tt := range tests {
		if got := matches(tt.pattern, tt.rel); got != tt.want {
			t.Fatalf("matches(%q, %q) = %v, want %v", tt.pattern, tt.rel, got, tt.want)
		}
	}
}

func TestPlanOrdersBySortPatternRank(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"a/1.json": `{}`,
		"a/2.json": `{}`,
		"b/1.json": `{}`,
		"c/1.json": `{}`,
		"README":   `not data`,
	})
	tasks, skipped, err := Plan(dir, Options{Sort: []string{"b", "a"}})
	require.NoError(t, err)
	assert.Empty(t, skipped)
	assert.Equal(t, []string{"b/1.json", "a/1.json", "a/2.json", "c/1.json"}, rels(tasks))
	assert.Equal(t, "/b", tasks[0].Endpoint)
	assert.Equal(t, http.MethodPost, tasks[0].Method)
}

func TestPlanOnlyAndOverrides(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"location-units/institutions/1.json": `{}`,
		"location-units/campuses/1.json":     `{}`,
		"loan-rules-storage.json":            `{}`,
		"users/1.json":                       `{}`,
	})
	opts := Options{
		Sort:      []string{"location-units/institutions", "location-units/campuses"},
		Overrides: []MethodOverride{{Pattern: "loan-rules-storage", Method: http.MethodPut}},
		Only:      true,
	}
	tasks, skipped, err := Plan(dir, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"location-units/institutions/1.json",
		"location-units/campuses/1.json",
		"loan-rules-storage.json",
	}, rels(tasks))
	assert.Equal(t, []string{"users/1.json"}, skipped)
	assert.Equal(t, "/location-units/campuses", tasks[1].Endpoint)
	assert.Equal(t, "/loan-rules-storage", tasks[2].Endpoint)
	assert.Equal(t, http.MethodPut, tasks[2].Method)
}

func TestPlanMissingDir(t *testing.T) {
	_, _, err := Plan(filepath.Join(t.TempDir(), "nope"), Options{})
	require.Error(t, err)
}

func newLoader(t *testing.T, fake *gatewaytest.Fake) *Loader {
	t.Helper()
	c, err := gateway.New(fake.Start(t))
	require.NoError(t, err)
	return NewLoader(c, nil)
}

func TestLoadContinuesPastFailures(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"a/1.json": `{"id":"one"}`,
		"a/2.json": `{"id":"two"}`,
		"b/1.json": `{"id":"three"}`,
	})
	fake := gatewaytest.New()
	fake.Tenants["diku"] = []byte(`{"id":"diku"}`)
	fake.Reject = func(path string, body []byte) int {
		if strings.Contains(string(body), `"one"`) {
			return http.StatusUnprocessableEntity
		}
		return 0
	}
	l := newLoader(t, fake)

	rep, err := l.Load(context.Background(), "diku", "", dir, Options{Sort: []string{"b", "a"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"b/1.json", "a/2.json"}, rep.Loaded)
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, "a/1.json", rep.Failures[0].Task.Rel)
	assert.Equal(t, http.StatusUnprocessableEntity, rep.Failures[0].Status)
	assert.Len(t, multierr.Errors(rep.Err()), 1)

	var order []string
	for _, r := range fake.Requests() {
		order = append(order, r.Path)
	}
	assert.Equal(t, []string{"/b", "/a", "/a"}, order)
	assert.Len(t, fake.Documents["/a"], 1)
}

func TestLoadPutAppendsDocumentID(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"loan-rules-storage.json": `{"id":"rules-1","loanRulesAsTextFile":""}`,
		"locations/1.json":        `{"name":"no id"}`,
	})
	fake := gatewaytest.New()
	fake.Tenants["diku"] = []byte(`{"id":"diku"}`)
	l := newLoader(t, fake)

	opts := Options{Overrides: []MethodOverride{
		{Pattern: "loan-rules-storage", Method: http.MethodPut},
		{Pattern: "locations", Method: http.MethodPut},
	}}
	rep, err := l.Load(context.Background(), "diku", "tok", dir, opts)
	require.NoError(t, err)
	assert.NoError(t, rep.Err())
	assert.Equal(t, 1, fake.Count(http.MethodPut, "/loan-rules-storage/rules-1"))
	assert.Equal(t, 1, fake.Count(http.MethodPut, "/locations"))
}

func TestLoadRecordsUnreadableDocument(t *testing.T) {
	dir := writeTree(t, map[string]string{"a/bad.json": `{`})
	fake := gatewaytest.New()
	fake.Tenants["diku"] = []byte(`{"id":"diku"}`)
	l := newLoader(t, fake)

	rep, err := l.Load(context.Background(), "diku", "", dir, Options{})
	require.NoError(t, err)
	require.Len(t, rep.Failures, 1)
	assert.Zero(t, rep.Failures[0].Status)
	assert.Empty(t, fake.Requests())

	var f Failure
	assert.True(t, errors.As(rep.Err(), &f))
}

func TestLoadStopsOnCancel(t *testing.T) {
	dir := writeTree(t, map[string]string{"a/1.json": `{}`})
	fake := gatewaytest.New()
	l := newLoader(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Load(ctx, "diku", "", dir, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}
