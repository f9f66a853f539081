package dataload

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Options selects order and method of the files to load.
type Options struct {
	Sort      []string
	Overrides []MethodOverride
	// Only skips files matching neither a sort pattern nor an override.
	Only bool
}

// Task is one document to send.
type Task struct {
	File     string // absolute path
	Rel      string // slash separated path relative to the data dir
	Method   string
	Endpoint string
}

// Plan walks dir and returns the load order. Files matching an earlier sort
// pattern come first; files matching none follow in lexical order.
func Plan(dir string, opts Options) ([]Task, []string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(p), ".json") {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("scan data dir %s: %w", dir, err)
	}
	sort.Strings(files)

	type ranked struct {
		rel  string
		rank int
	}
	var (
		selected []ranked
		skipped  []string
	)
	for _, rel := range files {
		r := rank(opts.Sort, rel)
		if r < 0 && opts.Only && methodFor(opts.Overrides, rel) == "" {
			skipped = append(skipped, rel)
			continue
		}
		if r < 0 {
			r = len(opts.Sort)
		}
		selected = append(selected, ranked{rel: rel, rank: r})
	}
	sort.SliceStable(selected, func(i, j int) bool { return selected[i].rank < selected[j].rank })

	tasks := make([]Task, 0, len(selected))
	for _, s := range selected {
		method := methodFor(opts.Overrides, s.rel)
		if method == "" {
			method = http.MethodPost
		}
		tasks = append(tasks, Task{
			File:     filepath.Join(dir, filepath.FromSlash(s.rel)),
			Rel:      s.rel,
			Method:   method,
			Endpoint: endpointFor(s.rel),
		})
	}
	return tasks, skipped, nil
}

func methodFor(overrides []MethodOverride, rel string) string {
	for _, o := range overrides {
		if matches(o.Pattern, rel) {
			return o.Method
		}
	}
	return ""
}

// endpointFor maps "location-units/institutions/main.json" to
// "/location-units/institutions". A file at the top level names its own
// collection.
func endpointFor(rel string) string {
	dir := path.Dir(rel)
	if dir == "." {
		return "/" + strings.TrimSuffix(rel, path.Ext(rel))
	}
	return "/" + dir
}

// documentID returns the top-level "id" of a JSON object, if any.
func documentID(doc []byte) string {
	var head struct {
		ID any `json:"id"`
	}
	if err := json.Unmarshal(doc, &head); err != nil {
		return ""
	}
	switch v := head.ID.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func readDocument(file string) ([]byte, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%s: not valid JSON", file)
	}
	return data, nil
}
