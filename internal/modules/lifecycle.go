// Package modules drives the module lifecycle on the gateway:
//
//	Unregistered -> Introduce -> Registered -> Enable(tenant) -> Enabled(tenant)
//	Enabled(tenant) -> Disable(tenant) -> Registered
//
// Re-introducing an enabled module deletes and recreates its descriptor;
// re-enabling it for a tenant afterwards is the caller's job.
package modules

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"autoconfig.org/internal/gateway"
	"autoconfig.org/internal/retry"
)

const (
	modulesPath = "/_/proxy/modules"
	tenantsPath = "/_/proxy/tenants"
)

// Action is a tenant install action.
type Action string

const (
	ActionEnable  Action = "enable"
	ActionDisable Action = "disable"
)

// InstallAction is one entry of a tenant install batch.
type InstallAction struct {
	ID     string `json:"id"`
	Action Action `json:"action"`
}

// Module is a registered module as listed by the gateway.
type Module struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Policies holds the retry policy of each retried operation.
type Policies struct {
	Gateway    retry.Policy
	Introduce  retry.Policy
	WaitModule retry.Policy
	Enable     retry.Policy
	Disable    retry.Policy
}

// DefaultPolicies uses three attempts one second apart everywhere.
func DefaultPolicies() Policies {
	return Policies{
		Gateway:    retry.DefaultPolicy("wait-gateway"),
		Introduce:  retry.DefaultPolicy("introduce-module"),
		WaitModule: retry.DefaultPolicy("wait-module"),
		Enable:     retry.DefaultPolicy("enable-modules"),
		Disable:    retry.DefaultPolicy("disable-modules"),
	}
}

// Service performs module operations against the gateway.
type Service struct {
	client   *gateway.Client
	policies Policies
	logger   *zap.Logger
	stdin    io.Reader
}

// Option configures Service.
type Option func(*Service)

// WithStdin overrides the reader used for descriptor path "-".
func WithStdin(r io.Reader) Option {
	return func(s *Service) { s.stdin = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService constructs a Service.
func NewService(client *gateway.Client, policies Policies, opts ...Option) *Service {
	s := &Service{
		client:   client,
		policies: policies,
		logger:   zap.NewNop(),
		stdin:    os.Stdin,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WaitForGateway polls the module registry until it answers.
func (s *Service) WaitForGateway(ctx context.Context) error {
	err := retry.Run(ctx, s.policies.Gateway, func(ctx context.Context) error {
		_, err := s.client.Get(ctx, modulesPath, nil)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w at %s: %w", ErrGatewayUnreachable, s.client.BaseURL(), err)
	}
	return nil
}

// List returns every registered module.
func (s *Service) List(ctx context.Context) ([]Module, error) {
	resp, err := s.client.Get(ctx, modulesPath, nil)
	if err != nil {
		return nil, err
	}
	var mods []Module
	if err := resp.Decode(&mods); err != nil {
		return nil, err
	}
	return mods, nil
}

// Exists reports whether id is registered. Any failure reads as absent.
func (s *Service) Exists(ctx context.Context, id string) bool {
	_, err := s.client.Get(ctx, modulePath(id), nil)
	if err != nil {
		s.logger.Debug("module existence check negative", zap.String("module", id), zap.Error(err))
		return false
	}
	return true
}

// Introduce registers d, deleting any descriptor with the same id first.
// Descriptors are replaced, never merged.
func (s *Service) Introduce(ctx context.Context, d Descriptor) error {
	if s.Exists(ctx, d.ID) {
		s.logger.Info("replacing registered module", zap.String("module", d.ID))
		if _, err := s.client.Delete(ctx, modulePath(d.ID), nil); err != nil {
			return fmt.Errorf("remove module %s: %w", d.ID, err)
		}
	}
	err := retry.Run(ctx, s.policies.Introduce, func(ctx context.Context) error {
		_, err := s.client.Post(ctx, modulesPath, d.Raw, nil)
		return err
	})
	if err != nil {
		return fmt.Errorf("introduce module %s: %w", d.ID, err)
	}
	s.logger.Info("module introduced", zap.String("module", d.ID))
	return nil
}

// IntroduceFile reads a descriptor from path ("-" for stdin) and introduces it.
func (s *Service) IntroduceFile(ctx context.Context, path string) (string, error) {
	d, err := ReadDescriptor(path, s.stdin)
	if err != nil {
		return "", err
	}
	return d.ID, s.Introduce(ctx, d)
}

// IntroduceDir introduces every descriptor file directly inside dir. An
// unreadable directory fails before anything is introduced.
func (s *Service) IntroduceDir(ctx context.Context, dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list descriptors in %s: %w", dir, err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, err := s.IntroduceFile(ctx, filepath.Join(dir, e.Name()))
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// WaitForBackendModules waits for every module concurrently. One module that
// never shows up fails the whole call.
func (s *Service) WaitForBackendModules(ctx context.Context, ids []string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			s.logger.Info("waiting for backend module", zap.String("module", id))
			err := retry.Run(gctx, s.policies.WaitModule, func(ctx context.Context) error {
				_, err := s.client.Get(ctx, modulePath(id), nil)
				return err
			})
			if err != nil {
				return fmt.Errorf("wait for module %s: %w", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Enable enables ids for tenant in a single batch. The result includes
// modules the gateway pulled in as dependencies.
func (s *Service) Enable(ctx context.Context, tenant string, ids []string) ([]InstallAction, error) {
	return s.install(ctx, s.policies.Enable, tenant, ids, ActionEnable)
}

// Disable disables ids for tenant in a single batch.
func (s *Service) Disable(ctx context.Context, tenant string, ids []string) ([]InstallAction, error) {
	return s.install(ctx, s.policies.Disable, tenant, ids, ActionDisable)
}

func (s *Service) install(ctx context.Context, p retry.Policy, tenant string, ids []string, action Action) ([]InstallAction, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	batch := make([]InstallAction, 0, len(ids))
	for _, id := range ids {
		batch = append(batch, InstallAction{ID: id, Action: action})
	}
	path := tenantsPath + "/" + gateway.PathEscape(tenant) + "/install"
	res, err := retry.Do(ctx, p, func(ctx context.Context) ([]InstallAction, error) {
		resp, err := s.client.Post(ctx, path, batch, nil)
		if err != nil {
			return nil, err
		}
		var out []InstallAction
		if err := resp.Decode(&out); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s modules for tenant %s: %w", action, tenant, err)
	}
	s.logger.Info("tenant modules updated", zap.String("tenant", tenant), zap.String("action", string(action)), zap.Any("modules", res))
	return res, nil
}

// FindByInterface resolves the single enabled module that provides iface
// for tenant. Zero or several providers are fatal.
func (s *Service) FindByInterface(ctx context.Context, tenant, iface string) (string, error) {
	path := tenantsPath + "/" + gateway.PathEscape(tenant) + "/interfaces/" + gateway.PathEscape(iface)
	resp, err := s.client.Call(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return "", fmt.Errorf("resolve interface %s: %w", iface, err)
	}
	var mods []Module
	if err := resp.Decode(&mods); err != nil {
		return "", fmt.Errorf("resolve interface %s: %w", iface, err)
	}
	switch len(mods) {
	case 0:
		return "", fmt.Errorf("%w: %s (tenant %s)", ErrNoModuleForInterface, iface, tenant)
	case 1:
		return mods[0].ID, nil
	default:
		ids := make([]string, 0, len(mods))
		for _, m := range mods {
			ids = append(ids, m.ID)
		}
		sort.Strings(ids)
		return "", fmt.Errorf("%w: %s (tenant %s): %v", ErrAmbiguousInterface, iface, tenant, ids)
	}
}

// IsFatal reports whether err must abort a workflow without retrying.
func IsFatal(err error) bool {
	return errors.Is(err, ErrNoModuleForInterface) ||
		errors.Is(err, ErrAmbiguousInterface) ||
		errors.Is(err, ErrInvalidDescriptor)
}

func modulePath(id string) string {
	return modulesPath + "/" + gateway.PathEscape(id)
}
