// Package dataload bulk-loads JSON documents from a directory tree into a
// tenant. Files load one at a time in a pattern driven order; a failing
// document is recorded and the load moves on.
package dataload

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"autoconfig.org/internal/gateway"
	"autoconfig.org/internal/obs"
)

// Failure is one document the gateway refused or that could not be read.
type Failure struct {
	Task   Task
	Status int
	Err    error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s %s (%s): %v", f.Task.Method, f.Task.Endpoint, f.Task.Rel, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Report summarizes a load.
type Report struct {
	Loaded   []string
	Skipped  []string
	Failures []Failure
}

// Err combines every failure, or returns nil.
func (r Report) Err() error {
	var err error
	for _, f := range r.Failures {
		err = multierr.Append(err, f)
	}
	return err
}

// Loader sends documents to the gateway.
type Loader struct {
	client *gateway.Client
	logger *zap.Logger
}

// NewLoader constructs a Loader. A nil logger discards output.
func NewLoader(client *gateway.Client, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{client: client, logger: logger}
}

// Load sends every planned file of dir. Only a planning failure or a
// cancelled context returns an error; document failures land in the report.
func (l *Loader) Load(ctx context.Context, tenant, token, dir string, opts Options) (Report, error) {
	tasks, skipped, err := Plan(dir, opts)
	if err != nil {
		return Report{}, err
	}
	rep := Report{Skipped: skipped}
	for _, rel := range skipped {
		obs.ObserveDocument("skipped")
		l.logger.Debug("document skipped", zap.String("file", rel))
	}
	headers := gateway.Headers(tenant, token)
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if err := l.send(ctx, task, headers); err != nil {
			f := Failure{Task: task, Status: gateway.StatusOf(err), Err: err}
			rep.Failures = append(rep.Failures, f)
			obs.ObserveDocument("failed")
			l.logger.Warn("document not loaded",
				zap.String("file", task.Rel),
				zap.String("method", task.Method),
				zap.String("endpoint", task.Endpoint),
				zap.Int("status", f.Status),
				zap.Error(err),
			)
			continue
		}
		rep.Loaded = append(rep.Loaded, task.Rel)
		obs.ObserveDocument("loaded")
	}
	l.logger.Info("data loaded",
		zap.String("dir", dir),
		zap.Int("loaded", len(rep.Loaded)),
		zap.Int("failed", len(rep.Failures)),
		zap.Int("skipped", len(rep.Skipped)),
	)
	return rep, nil
}

func (l *Loader) send(ctx context.Context, task Task, headers http.Header) error {
	doc, err := readDocument(task.File)
	if err != nil {
		return err
	}
	endpoint := task.Endpoint
	if task.Method == http.MethodPut {
		if id := documentID(doc); id != "" {
			endpoint += "/" + gateway.PathEscape(id)
		}
	}
	_, err = l.client.Call(ctx, task.Method, endpoint, json.RawMessage(doc), headers)
	return err
}
