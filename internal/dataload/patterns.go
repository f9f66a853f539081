package dataload

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
)

var ErrInvalidPattern = errors.New("dataload: invalid pattern")

// MethodOverride forces Method for files matching Pattern.
type MethodOverride struct {
	Pattern string
	Method  string
}

// ParseSortPatterns splits a comma separated list, dropping blanks and
// duplicates while keeping the first occurrence.
func ParseSortPatterns(s string) []string {
	var out []string
	seen := map[string]bool{}
	for _, p := range strings.Split(s, ",") {
		p = normalizePattern(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// ParseMethodOverrides parses "pattern=METHOD" pairs, e.g.
// "loan-rules-storage=PUT,locations=PUT".
func ParseMethodOverrides(s string) ([]MethodOverride, error) {
	var out []MethodOverride
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		pattern, method, ok := strings.Cut(pair, "=")
		pattern = normalizePattern(pattern)
		method = strings.ToUpper(strings.TrimSpace(method))
		if !ok || pattern == "" {
			return nil, fmt.Errorf("%w: %q, want pattern=METHOD", ErrInvalidPattern, pair)
		}
		switch method {
		case http.MethodPost, http.MethodPut:
		default:
			return nil, fmt.Errorf("%w: %q: method must be POST or PUT", ErrInvalidPattern, pair)
		}
		if _, err := path.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPattern, pair, err)
		}
		out = append(out, MethodOverride{Pattern: pattern, Method: method})
	}
	return out, nil
}

func normalizePattern(p string) string {
	p = strings.TrimSpace(p)
	p = strings.Trim(strings.ReplaceAll(p, "\\", "/"), "/")
	return p
}

// matches reports whether rel (slash separated, relative to the data dir)
// is selected by pattern. Glob patterns are matched against the whole path
// and each of its directory prefixes; plain patterns match a leading run of
// path segments or the path without its extension.
func matches(pattern, rel string) bool {
	if strings.ContainsAny(pattern, "*?[") {
		if ok, _ := path.Match(pattern, rel); ok {
			return true
		}
		for dir := path.Dir(rel); dir != "." && dir != "/"; dir = path.Dir(dir) {
			if ok, _ := path.Match(pattern, dir); ok {
				return true
			}
		}
		return false
	}
	if rel == pattern || strings.TrimSuffix(rel, path.Ext(rel)) == pattern {
		return true
	}
	return strings.HasPrefix(rel, pattern+"/")
}

// rank returns the index of the first pattern matching rel, or -1.
func rank(patterns []string, rel string) int {
	for i, p := range patterns {
		if matches(p, rel) {
			return i
		}
	}
	return -1
}
