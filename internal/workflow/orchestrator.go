// Package workflow sequences the gateway lifecycles into operator
// workflows. Every step re-reads state from the gateway; the first fatal
// failure stops the run.
package workflow

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"autoconfig.org/internal/audit"
	"autoconfig.org/internal/dataload"
	"autoconfig.org/internal/gateway"
	"autoconfig.org/internal/ids"
	"autoconfig.org/internal/modules"
	"autoconfig.org/internal/retry"
	"autoconfig.org/internal/tenants"
	"autoconfig.org/internal/users"
)

// Orchestrator runs workflows against one gateway.
type Orchestrator struct {
	modules *modules.Service
	tenants *tenants.Service
	users   *users.Service
	loader  *dataload.Loader
	logger  *zap.Logger
}

// Policies bundles the retry policies of the lifecycle services.
type Policies struct {
	Modules modules.Policies
	Users   users.Policies
}

// DefaultPolicies uses three attempts one second apart everywhere.
func DefaultPolicies() Policies {
	return Policies{Modules: modules.DefaultPolicies(), Users: users.DefaultPolicies()}
}

// Option configures Orchestrator.
type Option func(*orchestratorOptions)

type orchestratorOptions struct {
	logger       *zap.Logger
	moduleOpts   []modules.Option
	policies     Policies
	havePolicies bool
}

// WithLogger sets the logger for the orchestrator and its services.
func WithLogger(l *zap.Logger) Option {
	return func(o *orchestratorOptions) { o.logger = l }
}

// WithPolicies overrides the retry policies.
func WithPolicies(p Policies) Option {
	return func(o *orchestratorOptions) {
		o.policies = p
		o.havePolicies = true
	}
}

// WithModuleOptions passes options to the module service.
func WithModuleOptions(opts ...modules.Option) Option {
	return func(o *orchestratorOptions) { o.moduleOpts = append(o.moduleOpts, opts...) }
}

// New wires the lifecycle services around client.
func New(client *gateway.Client, opts ...Option) *Orchestrator {
	o := orchestratorOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if !o.havePolicies {
		o.policies = DefaultPolicies()
	}
	mopts := append([]modules.Option{modules.WithLogger(o.logger)}, o.moduleOpts...)
	return &Orchestrator{
		modules: modules.NewService(client, o.policies.Modules, mopts...),
		tenants: tenants.NewService(client, o.logger),
		users:   users.NewService(client, o.policies.Users, o.logger),
		loader:  dataload.NewLoader(client, o.logger),
		logger:  o.logger,
	}
}

// Run is the bookkeeping shared by all workflows.
type Run struct {
	ID        string
	Completed []string
}

func (o *Orchestrator) begin(ctx context.Context, workflow, tenant string) (context.Context, *Run) {
	run := &Run{ID: ids.NewRunID()}
	ctx = audit.WithRunID(ctx, run.ID)
	ctx = audit.WithTenant(ctx, tenant)
	o.logger.Info("workflow started", zap.String("workflow", workflow), zap.String("run_id", run.ID), zap.String("tenant", tenant))
	return ctx, run
}

// step runs fn as a named step. A failure is wrapped in *StepError.
func (o *Orchestrator) step(ctx context.Context, run *Run, name string, fn func(context.Context) error) error {
	_ = audit.LogEvent(ctx, "workflow.step.started", stepFields(ctx, name))
	start := time.Now()
	if err := fn(ctx); err != nil {
		fields := stepFields(ctx, name)
		fields["error"] = err.Error()
		fields["duration"] = time.Since(start).String()
		fields["fatal"] = modules.IsFatal(err)
		_ = audit.LogEvent(ctx, "workflow.step.failed", fields)
		o.logger.Error("workflow step failed",
			zap.String("step", name),
			zap.String("run_id", run.ID),
			zap.Bool("fatal", modules.IsFatal(err)),
			zap.Bool("retries_exhausted", errors.Is(err, retry.ErrExhausted)),
			zap.Error(err),
		)
		return &StepError{Step: name, Err: err}
	}
	run.Completed = append(run.Completed, name)
	fields := stepFields(ctx, name)
	fields["duration"] = time.Since(start).String()
	_ = audit.LogEvent(ctx, "workflow.step.finished", fields)
	return nil
}

// stepFields names the step and, once logged in, the acting user.
func stepFields(ctx context.Context, name string) map[string]any {
	fields := map[string]any{"step": name}
	if sess, ok := users.SessionFromContext(ctx); ok {
		fields["user"] = sess.User.Username
	}
	return fields
}
